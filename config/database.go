package config

import "time"

// DBConfig contains PostgreSQL configuration for the postgres custom storage driver.
type DBConfig struct {
	Host     string `env:"HOST"                    envDefault:"localhost"`
	Port     int    `env:"PORT"                    envDefault:"5432"`
	User     string `env:"USER"                    envDefault:"mmk_auth"`
	Password string `env:"PASSWORD"                envDefault:"mmk_auth"`
	Name     string `env:"NAME"                    envDefault:"mmk_auth"`
	SSLMode  string `env:"SSL_MODE"                envDefault:"disable"` // Use 'disable' for local dev, 'require' for production
	// Namespace separates the sessions of several applications sharing one table.
	Namespace string `env:"NAMESPACE" envDefault:"default"`
	// RunMigrationsOnStart controls whether the auth_storage schema is applied on connect.
	RunMigrationsOnStart bool `env:"RUN_MIGRATIONS_ON_START" envDefault:"true"`
}

// RedisConfig contains Redis configuration for the redis custom storage driver.
type RedisConfig struct {
	URI                string        `env:"URI"                  envDefault:"localhost:6379"`
	Password           string        `env:"PASSWORD"             envDefault:""`
	SentinelNodes      []string      `env:"SENTINEL_NODES"       envDefault:"localhost:26379"`
	SentinelMasterName string        `env:"SENTINEL_MASTER_NAME" envDefault:"mymaster"`
	SentinelPassword   string        `env:"SENTINEL_PASSWORD"    envDefault:""`
	UseSentinel        bool          `env:"USE_SENTINEL"         envDefault:"false"`
	ClusterNodes       []string      `env:"CLUSTER_NODES"        envDefault:""`
	UseCluster         bool          `env:"USE_CLUSTER"          envDefault:"false"`
	KeyPrefix          string        `env:"KEY_PREFIX"           envDefault:"mmk-auth:"`
	DialTimeout        time.Duration `env:"DIAL_TIMEOUT"         envDefault:"5s"`
}
