package config

import (
	"fmt"
	"strings"
	"time"
)

// EnvVars holds every setting read from the environment.
type EnvVars struct {
	Port     string `env:"PORT" envDefault:"8080"`
	AppName  string `env:"APP_NAME" envDefault:"Sider Auth"`
	Env      string `env:"ENV" envDefault:"DEV"`
	LogLevel string `env:"LOG_LEVEL" envDefault:"info"`

	APIBaseURL  string        `env:"SIDER_API_URL" envDefault:"http://localhost:8080"`
	HTTPTimeout time.Duration `env:"SIDER_HTTP_TIMEOUT" envDefault:"15s"`
	ExpirySkew  time.Duration `env:"SIDER_EXPIRY_SKEW" envDefault:"30s"`

	PrimaryStore string        `env:"SIDER_PRIMARY_STORE" envDefault:"keyring:sider"`
	MirrorStore  string        `env:"SIDER_MIRROR_STORE" envDefault:"file:./data/local_storage.json"`
	PollInterval time.Duration `env:"SIDER_POLL_INTERVAL" envDefault:"2s"`

	TokenSecret        string        `env:"SIDER_TOKEN_SECRET" envDefault:"change-me"`
	AccessTokenExpiry  time.Duration `env:"SIDER_ACCESS_TTL" envDefault:"1h"`
	RefreshTokenExpiry time.Duration `env:"SIDER_REFRESH_TTL" envDefault:"168h"`
	RefreshTokenLength int           `env:"SIDER_REFRESH_LENGTH" envDefault:"32"`

	AllowedOrigins  []string `env:"SIDER_ALLOWED_ORIGINS" envSeparator:"," envDefault:"http://localhost:3000"`
	AllowExtensions bool     `env:"SIDER_ALLOW_EXTENSIONS" envDefault:"true"`
}

var _ EnvConfig = EnvVars{}
var _ APIConfig = EnvVars{}
var _ SyncConfig = EnvVars{}
var _ TokenConfig = EnvVars{}

func (e EnvVars) GetPort() string {
	port := strings.TrimSpace(e.Port)
	if port == "" {
		port = "8080"
	}
	if port[0] != ':' {
		port = fmt.Sprintf(":%s", port)
	}
	return port
}

func (e EnvVars) GetAppName() string {
	return e.AppName
}

func (e EnvVars) GetEnv() string {
	if e.Env == "" {
		return "DEV"
	}
	return strings.ToUpper(e.Env)
}

func (e EnvVars) IsDev() bool {
	return e.GetEnv() == "DEV"
}

func (e EnvVars) GetLogLevel() string {
	return e.LogLevel
}

// GetAPIBaseURL returns the backend root without a trailing slash (e.g. "https://api.example.com")
func (e EnvVars) GetAPIBaseURL() string {
	return strings.TrimRight(e.APIBaseURL, "/")
}

func (e EnvVars) GetHTTPTimeout() time.Duration {
	return e.HTTPTimeout
}

func (e EnvVars) GetExpirySkew() time.Duration {
	return e.ExpirySkew
}

func (e EnvVars) GetPrimaryStore() string {
	return e.PrimaryStore
}

func (e EnvVars) GetMirrorStore() string {
	return e.MirrorStore
}

func (e EnvVars) GetPollInterval() time.Duration {
	if e.PollInterval <= 0 {
		return 2 * time.Second
	}
	return e.PollInterval
}

func (e EnvVars) GetTokenSecret() string {
	return e.TokenSecret
}

func (e EnvVars) GetAccessTokenExpiry() time.Duration {
	return e.AccessTokenExpiry
}

func (e EnvVars) GetRefreshTokenExpiry() time.Duration {
	return e.RefreshTokenExpiry
}

func (e EnvVars) GetRefreshTokenLength() int {
	if e.RefreshTokenLength <= 0 {
		return 32 // 32 bytes = 256 bits
	}
	return e.RefreshTokenLength
}
