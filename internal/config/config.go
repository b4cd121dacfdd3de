package config

import (
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

type Config interface {
	EnvConfig
	APIConfig
	SyncConfig
	CorsConfig
	TokenConfig
}

type EnvConfig interface {
	GetPort() string
	GetAppName() string
	GetEnv() string
	GetLogLevel() string
	IsDev() bool
}

// APIConfig is used by the auth client.
type APIConfig interface {
	GetAPIBaseURL() string
	GetHTTPTimeout() time.Duration
	GetExpirySkew() time.Duration
}

// SyncConfig selects the two storage domains the bridge replicates between.
type SyncConfig interface {
	GetPrimaryStore() string
	GetMirrorStore() string
	GetPollInterval() time.Duration
}

type CorsConfig interface {
	GetAllowedOrigins() AllowedOrigins
	GetAllowedMethods() string
	GetAllowedHeaders() string
	GetAllowExtensionOrigins() bool
}

// TokenConfig is used by the companion backend when issuing tokens.
type TokenConfig interface {
	GetTokenSecret() string
	GetAccessTokenExpiry() time.Duration
	GetRefreshTokenExpiry() time.Duration
	GetRefreshTokenLength() int
}

type mainConfig struct {
	EnvVars
	Cors
}

// New loads an optional .env file and parses the environment into a Config.
func New() (Config, error) {
	_ = godotenv.Load()
	return FromEnv()
}

// FromEnv parses the current environment without touching .env files.
func FromEnv() (Config, error) {
	var vars EnvVars
	if err := env.Parse(&vars); err != nil {
		return nil, fmt.Errorf("parse env: %w", err)
	}
	return mainConfig{
		EnvVars: vars,
		Cors:    newCors(vars.AllowedOrigins, vars.AllowExtensions),
	}, nil
}
