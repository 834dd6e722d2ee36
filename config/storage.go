package config

import (
	"fmt"
	"strings"
	"time"

	domainauth "github.com/target/mmk-auth/internal/domain/auth"
)

// CustomDriver selects the backend used for the custom storage type.
type CustomDriver string

const (
	// CustomDriverNone means the host injects its own backend.
	CustomDriverNone     CustomDriver = ""
	CustomDriverRedis    CustomDriver = "redis"
	CustomDriverPostgres CustomDriver = "postgres"
)

// UnmarshalText implements encoding.TextUnmarshaler for CustomDriver.
func (d *CustomDriver) UnmarshalText(text []byte) error {
	v := strings.ToLower(strings.TrimSpace(string(text)))
	switch v {
	case "", "redis", "postgres":
		*d = CustomDriver(v)
		return nil
	default:
		return fmt.Errorf("invalid CustomDriver: %q (valid options: redis, postgres)", v)
	}
}

// StorageConfig selects where sessions are kept and how long they may sit idle.
type StorageConfig struct {
	Type         string       `env:"AUTH_STORAGE_TYPE"          envDefault:"session"`
	Role         string       `env:"AUTH_STORAGE_ROLE"          envDefault:"guest"`
	KeyPrefix    string       `env:"AUTH_STORAGE_KEY_PREFIX"    envDefault:"mmk_auth"`
	FilePath     string       `env:"AUTH_STORAGE_FILE_PATH"     envDefault:".mmk-auth/session.json"`
	CustomDriver CustomDriver `env:"AUTH_STORAGE_CUSTOM_DRIVER"`
	// SessionTimeout overrides the role timeout when positive.
	SessionTimeout time.Duration `env:"AUTH_SESSION_TIMEOUT" envDefault:"0s"`

	Timeouts TimeoutConfig
}

// TimeoutConfig is the idle timeout per role.
type TimeoutConfig struct {
	Guest    time.Duration `env:"AUTH_TIMEOUT_GUEST"    envDefault:"30m"`
	Employee time.Duration `env:"AUTH_TIMEOUT_EMPLOYEE" envDefault:"8h"`
	Admin    time.Duration `env:"AUTH_TIMEOUT_ADMIN"    envDefault:"1h"`
}

// Sanitize trims values and restores defaults for unusable ones.
func (c *StorageConfig) Sanitize() {
	c.Type = strings.TrimSpace(c.Type)
	if c.Type == "" {
		c.Type = "session"
	}
	c.Role = strings.ToLower(strings.TrimSpace(c.Role))
	if c.Role == "" {
		c.Role = string(domainauth.RoleGuest)
	}
	if c.KeyPrefix = strings.TrimSpace(c.KeyPrefix); c.KeyPrefix == "" {
		c.KeyPrefix = "mmk_auth"
	}
	c.FilePath = strings.TrimSpace(c.FilePath)
	if c.SessionTimeout < 0 {
		c.SessionTimeout = 0
	}
	if c.Timeouts.Guest <= 0 {
		c.Timeouts.Guest = 30 * time.Minute
	}
	if c.Timeouts.Employee <= 0 {
		c.Timeouts.Employee = 8 * time.Hour
	}
	if c.Timeouts.Admin <= 0 {
		c.Timeouts.Admin = time.Hour
	}
}

// StorageConfiguration parses the configured type and role. Whether a custom backend
// exists is decided by the caller, which may inject its own.
func (c *StorageConfig) StorageConfiguration() (domainauth.StorageConfiguration, error) {
	kind, err := domainauth.ParseStorageType(c.Type)
	if err != nil {
		return domainauth.StorageConfiguration{}, err
	}
	role, err := domainauth.ParseRole(c.Role)
	if err != nil {
		return domainauth.StorageConfiguration{}, err
	}
	return domainauth.StorageConfiguration{
		Type:           kind,
		UserRole:       role,
		SessionTimeout: c.SessionTimeout,
	}, nil
}
