package config

import (
	"time"

	"github.com/caarlos0/env/v11"
)

type envConfig struct {
	EndpointAddrHTTP      string         `env:"ADDRESS"`
	DatabaseDSN           string         `env:"DATABASE_DSN"`
	SecretKey             string         `env:"SECRET_KEY"`
	TokenValidityDuration *time.Duration `env:"TOKEN_VALIDITY_DURATION"`
	LogLevel              string         `env:"LOG_LEVEL"`
	RebuildReadModel      *bool          `env:"REBUILD_READMODEL"`
}

// parseEnv overlays values from environment variables. Only variables that
// are actually set override the current configuration.
func parseEnv(config *Config) {
	c := envConfig{}
	if err := env.Parse(&c); err != nil {
		panic(err)
	}

	if c.EndpointAddrHTTP != "" {
		config.EndpointAddrHTTP = c.EndpointAddrHTTP
	}
	if c.DatabaseDSN != "" {
		config.DatabaseDSN = c.DatabaseDSN
	}
	if c.SecretKey != "" {
		config.SecretKey = c.SecretKey
	}
	if c.TokenValidityDuration != nil {
		config.TokenValidityDuration = *c.TokenValidityDuration
	}
	if c.LogLevel != "" {
		config.LogLevel = c.LogLevel
	}
	if c.RebuildReadModel != nil {
		config.RebuildReadModel = *c.RebuildReadModel
	}
}
