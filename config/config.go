package config

import (
	"os"
	"strings"
)

// AppConfig is the main configuration struct for the mmk-auth CLI and for hosts that
// build the SDK from the environment. It composes the domain-specific configuration
// from separate files.
//
// Configuration is loaded from environment variables using the
// github.com/caarlos0/env library. See individual domain config files for details:
//   - auth.go: identity API and token refresh configuration
//   - storage.go: session storage and idle timeout configuration
//   - database.go: Postgres and Redis configuration for custom storage
//   - observability.go: logging and metrics configuration
type AppConfig struct {
	// IsDev switches logging to human-readable text at debug level.
	// Set DEV=true or NODE_ENV=development for development mode.
	IsDev bool `env:"DEV" envDefault:"false"`

	// Identity API configuration
	API APIConfig `envPrefix:"AUTH_API_"`

	// Token refresh configuration
	Refresh RefreshConfig

	// Session storage configuration
	Storage StorageConfig

	// Custom storage drivers
	Postgres DBConfig    `envPrefix:"DB_"`
	Redis    RedisConfig `envPrefix:"REDIS_"`

	// Observability configuration
	Observability ObservabilityConfig
}

// Sanitize applies guardrails to configuration values loaded from env.
// This should be called after loading configuration from environment variables.
func (c *AppConfig) Sanitize() {
	c.API.Sanitize()
	c.Refresh.Sanitize()
	c.Storage.Sanitize()
	c.Observability.Sanitize()

	// Check NODE_ENV for dev mode
	c.detectDevMode()
}

// detectDevMode checks both DEV and NODE_ENV environment variables.
// NODE_ENV is checked as a fallback (common in frontend tooling).
func (c *AppConfig) detectDevMode() {
	if !c.IsDev {
		nodeEnv := strings.ToLower(os.Getenv("NODE_ENV"))
		c.IsDev = nodeEnv == "development" || nodeEnv == "dev"
	}
}
