package config

import (
	"sort"
	"strings"
)

const extensionScheme = "chrome-extension://"

type Cors struct {
	origins         AllowedOrigins
	allowExtensions bool
}

var _ CorsConfig = Cors{}

type AllowedOrigins map[string]struct{}
type nullValue = struct{}

func NewAllowedOrigins(origins ...string) AllowedOrigins {
	allowed := make(AllowedOrigins, len(origins))
	for _, o := range origins {
		if o = strings.TrimSpace(o); o != "" {
			allowed[o] = nullValue{}
		}
	}
	return allowed
}

func (a AllowedOrigins) IsAllowedOrigin(origin string) bool {
	_, ok := a[origin]
	return ok
}

func (a AllowedOrigins) String() string {
	var origins []string
	for k := range a {
		origins = append(origins, k)
	}
	sort.Strings(origins)
	return strings.Join(origins, ", ")
}

func newCors(origins []string, allowExtensions bool) Cors {
	return Cors{origins: NewAllowedOrigins(origins...), allowExtensions: allowExtensions}
}

// NewCors builds a CorsConfig directly, mostly for tests.
func NewCors(allowExtensions bool, origins ...string) Cors {
	return newCors(origins, allowExtensions)
}

func (c Cors) GetAllowedOrigins() AllowedOrigins {
	return c.origins
}

func (Cors) GetAllowedMethods() string {
	return "GET, POST, OPTIONS"
}

func (Cors) GetAllowedHeaders() string {
	return "Content-Type, Authorization"
}

func (c Cors) GetAllowExtensionOrigins() bool {
	return c.allowExtensions
}

// IsExtensionOrigin reports whether origin belongs to a browser extension.
func IsExtensionOrigin(origin string) bool {
	return strings.HasPrefix(origin, extensionScheme) && len(origin) > len(extensionScheme)
}
