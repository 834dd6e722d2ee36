package bootstrap

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/redis/go-redis/v9"

	"github.com/target/mmk-auth/config"
	"github.com/target/mmk-auth/internal/adapters/identityapi"
	"github.com/target/mmk-auth/internal/adapters/postgres"
	redisadapter "github.com/target/mmk-auth/internal/adapters/redis"
	"github.com/target/mmk-auth/internal/adapters/reaper"
	"github.com/target/mmk-auth/internal/clock"
	domainauth "github.com/target/mmk-auth/internal/domain/auth"
	"github.com/target/mmk-auth/internal/normalize"
	"github.com/target/mmk-auth/internal/observability/statsd"
	"github.com/target/mmk-auth/internal/ports"
	"github.com/target/mmk-auth/internal/service"
	"github.com/target/mmk-auth/internal/storage"
)

// ClientOptions groups the inputs of BuildClient.
type ClientOptions struct {
	Config config.AppConfig
	Logger *slog.Logger
	// Metrics receives every emission. A StatsD client is added alongside it when
	// Config.Observability enables one, and used alone when Metrics is nil.
	Metrics statsd.Sink
	// Authenticator enables passkey sign-in; nil leaves it unavailable.
	Authenticator ports.Authenticator
	// CustomBackend overrides the configured custom driver.
	CustomBackend ports.StorageBackend
	HTTPClient    *http.Client
	Clock         clock.Clock
}

// Client bundles a wired AuthClient with the connections it owns.
type Client struct {
	Auth *service.AuthClient
	// Reaper sweeps expired rows when the postgres driver is configured; nil otherwise.
	Reaper *reaper.Runner

	logger  *slog.Logger
	closers []func() error
}

// Close stops the AuthClient and releases every connection opened by BuildClient.
func (c *Client) Close() error {
	if c.Auth != nil {
		c.Auth.Close()
	}
	var errs []error
	for i := len(c.closers) - 1; i >= 0; i-- {
		if err := c.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// NewMetrics builds the StatsD sink. A disabled configuration yields a client that
// drops everything.
func NewMetrics(cfg config.ObservabilityMetricsConfig, logger *slog.Logger) (*statsd.Client, error) {
	return statsd.NewClient(statsd.Config{
		Enabled: cfg.IsEnabled(),
		Address: cfg.StatsdAddress,
		Prefix:  cfg.Prefix,
		Tags:    metricTags(cfg.Tags),
		Logger:  logger,
	})
}

func metricTags(configured map[string]string) map[string]string {
	tags := map[string]string{"service": "mmk-auth"}
	for k, v := range configured {
		tags[k] = v
	}
	return tags
}

// BuildClient wires the identity API client, storage factory, normalizer and
// AuthClient from configuration, then restores any stored session.
func BuildClient(ctx context.Context, opts ClientOptions) (*Client, error) {
	cfg := opts.Config
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	if opts.Clock == nil {
		opts.Clock = clock.Real{}
	}
	out := &Client{logger: logger}

	storageCfg, err := cfg.Storage.StorageConfiguration()
	if err != nil {
		return nil, fmt.Errorf("storage configuration: %w", err)
	}
	if storageCfg.Type == domainauth.StorageCustom && opts.CustomBackend == nil && cfg.Storage.CustomDriver == config.CustomDriverNone {
		return nil, errors.New("storage type custom requires AUTH_STORAGE_CUSTOM_DRIVER (redis or postgres)")
	}

	// A caller-supplied sink receives everything; StatsD is added when enabled.
	var statsdSink statsd.Sink
	if opts.Metrics == nil || cfg.Observability.Metrics.IsEnabled() {
		sc, mErr := NewMetrics(cfg.Observability.Metrics, logger)
		if mErr != nil {
			return nil, fmt.Errorf("metrics: %w", mErr)
		}
		out.closers = append(out.closers, sc.Close)
		statsdSink = sc
	}
	metricsSink := statsd.Tee(opts.Metrics, statsdSink)

	custom := opts.CustomBackend
	if custom == nil {
		custom, err = out.customBackend(ctx, cfg, metricsSink)
		if err != nil {
			_ = out.Close()
			return nil, err
		}
	}

	api, err := identityapi.NewClient(identityapi.Config{
		BaseURL:   cfg.API.BaseURL,
		Timeout:   cfg.API.Timeout,
		UserAgent: cfg.API.UserAgent,
		Client:    opts.HTTPClient,
		Logger:    logger,
	})
	if err != nil {
		_ = out.Close()
		return nil, fmt.Errorf("identity api: %w", err)
	}

	normalizer, err := normalize.New(normalize.Options{
		Clock:            opts.Clock,
		DefaultLifetime:  cfg.Refresh.DefaultTokenLifetime,
		PassthroughPaths: cfg.Refresh.PassthroughPaths,
		Logger:           logger,
	})
	if err != nil {
		_ = out.Close()
		return nil, err
	}

	factory := storage.NewFactory(storage.FactoryOptions{
		Prefix:   cfg.Storage.KeyPrefix,
		FilePath: cfg.Storage.FilePath,
		Custom:   custom,
		Policy: storage.TimeoutPolicy{
			Guest:    cfg.Storage.Timeouts.Guest,
			Employee: cfg.Storage.Timeouts.Employee,
			Admin:    cfg.Storage.Timeouts.Admin,
		},
		Clock:  opts.Clock,
		Logger: logger,
	})

	auth, err := service.NewAuthClient(ctx, service.AuthClientOptions{
		API:           api,
		Authenticator: opts.Authenticator,
		Normalizer:    normalizer,
		Factory:       factory,
		Storage:       storageCfg,
		Clock:         opts.Clock,
		Metrics:       metricsSink,
		Logger:        logger,
		RefreshBefore: cfg.Refresh.Before,
		MinInterval:   cfg.Refresh.MinInterval,
		MaxRetries:    cfg.Refresh.MaxRetries,
	})
	if err != nil {
		_ = out.Close()
		return nil, err
	}
	out.Auth = auth
	return out, nil
}

// customBackend connects the configured custom driver. Nothing is dialed when no
// driver is configured.
func (c *Client) customBackend(ctx context.Context, cfg config.AppConfig, sink statsd.Sink) (ports.StorageBackend, error) {
	dbCfg := DatabaseConfig{DBConfig: cfg.Postgres, RedisConfig: cfg.Redis, Logger: c.logger}

	switch cfg.Storage.CustomDriver {
	case config.CustomDriverRedis:
		client, err := ConnectRedis(dbCfg)
		if err != nil {
			return nil, fmt.Errorf("connect redis: %w", err)
		}
		c.closers = append(c.closers, client.Close)
		return newRedisBackend(client, cfg.Redis.KeyPrefix), nil

	case config.CustomDriverPostgres:
		db, err := ConnectDB(dbCfg)
		if err != nil {
			return nil, fmt.Errorf("connect postgres: %w", err)
		}
		c.closers = append(c.closers, db.Close)
		return c.newPostgresBackend(ctx, db, cfg.Postgres, sink)

	default:
		return nil, nil
	}
}

func newRedisBackend(client redis.UniversalClient, prefix string) *redisadapter.Backend {
	if prefix == "" {
		return redisadapter.NewBackend(client, 0)
	}
	return redisadapter.NewBackendWithPrefix(client, prefix, 0)
}

func (c *Client) newPostgresBackend(ctx context.Context, db *sql.DB, cfg config.DBConfig, sink statsd.Sink) (*postgres.Backend, error) {
	if cfg.RunMigrationsOnStart {
		if err := RunMigrations(ctx, db, c.logger); err != nil {
			return nil, err
		}
	}
	backend, err := postgres.NewBackend(postgres.Options{DB: db, Namespace: cfg.Namespace})
	if err != nil {
		return nil, err
	}
	c.Reaper, err = reaper.NewRunner(reaper.RunnerOptions{
		Purger:  backend,
		Logger:  c.logger,
		Metrics: sink,
	})
	if err != nil {
		return nil, err
	}
	return backend, nil
}
