package storage

import (
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/target/mmk-auth/internal/adapters/filestore"
	"github.com/target/mmk-auth/internal/adapters/memory"
	"github.com/target/mmk-auth/internal/clock"
	domainauth "github.com/target/mmk-auth/internal/domain/auth"
	"github.com/target/mmk-auth/internal/ports"
)

// FactoryOptions groups dependencies for Factory.
type FactoryOptions struct {
	Prefix   string
	FilePath string
	// Custom is the backend used for StorageCustom, typically a redis or postgres backend.
	Custom ports.StorageBackend
	Policy TimeoutPolicy
	Clock  clock.Clock
	Logger *slog.Logger
}

// Factory builds adapters per storage type. Backends are created once per type and
// reused, so two adapters of the same type observe the same data.
type Factory struct {
	opts FactoryOptions

	mu       sync.Mutex
	backends map[domainauth.StorageType]ports.StorageBackend
}

// NewFactory constructs a Factory. A zero Policy is replaced by DefaultTimeoutPolicy.
func NewFactory(opts FactoryOptions) *Factory {
	if opts.Policy == (TimeoutPolicy{}) {
		opts.Policy = DefaultTimeoutPolicy()
	}
	if opts.Prefix == "" {
		opts.Prefix = DefaultPrefix
	}
	if opts.Logger != nil {
		opts.Logger = opts.Logger.With("component", "storage")
	}
	return &Factory{
		opts:     opts,
		backends: make(map[domainauth.StorageType]ports.StorageBackend),
	}
}

// Policy returns the configured timeout policy.
func (f *Factory) Policy() TimeoutPolicy { return f.opts.Policy }

// TimeoutFor returns cfg.SessionTimeout when set and the role's policy timeout otherwise.
func (f *Factory) TimeoutFor(cfg domainauth.StorageConfiguration) time.Duration {
	if cfg.SessionTimeout > 0 {
		return cfg.SessionTimeout
	}
	return f.opts.Policy.For(cfg.UserRole)
}

// Backend returns the shared backend for the storage type.
func (f *Factory) Backend(kind domainauth.StorageType) (ports.StorageBackend, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if b, ok := f.backends[kind]; ok {
		return b, nil
	}

	var (
		b   ports.StorageBackend
		err error
	)
	switch kind {
	case domainauth.StorageSession:
		b = memory.New()
	case domainauth.StorageLocal:
		b, err = filestore.New(f.opts.FilePath)
	case domainauth.StorageCustom:
		if f.opts.Custom == nil {
			return nil, fmt.Errorf("storage type %q requires a custom backend", kind)
		}
		b = f.opts.Custom
	default:
		return nil, fmt.Errorf("unsupported storage type %q", kind)
	}
	if err != nil {
		return nil, fmt.Errorf("create %s backend: %w", kind, err)
	}
	f.backends[kind] = b
	return b, nil
}

// Adapter builds an adapter for cfg.
func (f *Factory) Adapter(cfg domainauth.StorageConfiguration) (*Adapter, error) {
	backend, err := f.Backend(cfg.Type)
	if err != nil {
		return nil, err
	}
	return NewAdapter(AdapterOptions{
		Backend: backend,
		Type:    cfg.Type,
		Prefix:  f.opts.Prefix,
		Role:    cfg.UserRole,
		Timeout: f.TimeoutFor(cfg),
		Policy:  f.opts.Policy,
		Clock:   f.opts.Clock,
		Logger:  f.opts.Logger,
	})
}
