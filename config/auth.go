package config

import (
	"strings"
	"time"
)

// MinRefreshInterval is the hard floor between two automatic refreshes. Configuration
// can raise it, never lower it.
const MinRefreshInterval = 60 * time.Second

// APIConfig configures the identity API client.
type APIConfig struct {
	BaseURL   string        `env:"BASE_URL"   envDefault:"http://localhost:8787/auth"`
	Timeout   time.Duration `env:"TIMEOUT"    envDefault:"10s"`
	UserAgent string        `env:"USER_AGENT" envDefault:"mmk-auth"`
}

// Sanitize trims the base URL and restores a usable timeout.
func (c *APIConfig) Sanitize() {
	c.BaseURL = strings.TrimRight(strings.TrimSpace(c.BaseURL), "/")
	if c.Timeout <= 0 {
		c.Timeout = 10 * time.Second
	}
	if c.UserAgent = strings.TrimSpace(c.UserAgent); c.UserAgent == "" {
		c.UserAgent = "mmk-auth"
	}
}

// RefreshConfig controls the token refresh scheduler and response normalization.
type RefreshConfig struct {
	// Before is how long before expiry a refresh is scheduled.
	Before time.Duration `env:"AUTH_REFRESH_BEFORE"       envDefault:"5m"`
	// MinInterval is clamped to at least MinRefreshInterval.
	MinInterval time.Duration `env:"AUTH_REFRESH_MIN_INTERVAL" envDefault:"60s"`
	// MaxRetries bounds retries of transient failures; negative disables retries.
	MaxRetries int `env:"AUTH_REFRESH_MAX_RETRIES" envDefault:"3"`
	// DefaultTokenLifetime applies when a response carries neither expires_in nor a JWT exp.
	DefaultTokenLifetime time.Duration `env:"AUTH_DEFAULT_TOKEN_LIFETIME" envDefault:"1h"`
	// PassthroughPaths adds passthrough tokens the default extraction does not find, or
	// reshapes ones it does, by JMESPath,
	// e.g. AUTH_PASSTHROUGH_PATHS="workos=provider.workos_token;github=github_token".
	PassthroughPaths map[string]string `env:"AUTH_PASSTHROUGH_PATHS" envSeparator:";" envKeyValSeparator:"="`
}

// Sanitize enforces the refresh floor and safe defaults.
func (c *RefreshConfig) Sanitize() {
	if c.Before <= 0 {
		c.Before = 5 * time.Minute
	}
	if c.MinInterval < MinRefreshInterval {
		c.MinInterval = MinRefreshInterval
	}
	if c.MaxRetries < 0 {
		c.MaxRetries = -1
	}
	if c.DefaultTokenLifetime <= 0 {
		c.DefaultTokenLifetime = time.Hour
	}
	cleaned := make(map[string]string, len(c.PassthroughPaths))
	for name, expr := range c.PassthroughPaths {
		name, expr = strings.TrimSpace(name), strings.TrimSpace(expr)
		if name != "" && expr != "" {
			cleaned[name] = expr
		}
	}
	c.PassthroughPaths = cleaned
}
