package service

import (
	"context"

	domainauth "github.com/target/mmk-auth/internal/domain/auth"
	apperrors "github.com/target/mmk-auth/internal/errors"
	"github.com/target/mmk-auth/internal/events"
	"github.com/target/mmk-auth/internal/observability/metrics"
	"github.com/target/mmk-auth/internal/storage"
)

// StorageConfiguration returns the active storage configuration.
func (c *AuthClient) StorageConfiguration() domainauth.StorageConfiguration {
	c.cfgMu.Lock()
	defer c.cfgMu.Unlock()
	return c.cfg
}

// UpdateStorageConfiguration moves the session to the backend and policy described by
// update. On failure the session stays where it was and the configuration is unchanged.
func (c *AuthClient) UpdateStorageConfiguration(ctx context.Context, update domainauth.StorageUpdate) (storage.MigrationResult, error) {
	c.cfgMu.Lock()
	defer c.cfgMu.Unlock()

	prev := c.cfg
	next := prev
	sessionRole := c.store.SessionRole()
	if update.Type != nil {
		next.Type = *update.Type
	}
	if update.UserRole != nil {
		next.UserRole = *update.UserRole
	} else if sessionRole.Rank() > next.UserRole.Rank() {
		next.UserRole = sessionRole
	}
	if update.SessionTimeout != nil {
		next.SessionTimeout = *update.SessionTimeout
	}
	next, err := normalizeStorageConfig(next)
	if err != nil {
		return storage.MigrationResult{DataPreserved: true, Err: err}, err
	}

	to, err := c.factory.Adapter(next)
	if err != nil {
		err = apperrors.Wrap(err, apperrors.ErrCodeMigration, "The requested storage is not available.")
		metrics.EmitStorageMigration(c.metrics, string(prev.Type), string(next.Type), err)
		return storage.MigrationResult{DataPreserved: true, Err: err}, err
	}

	// The session's stored role bounds the move, not the configured one.
	req := storage.MigrationRequest{
		AuthenticatedRole: sessionRole,
		TargetRole:        next.UserRole,
		TargetTimeout:     c.factory.TimeoutFor(next),
	}

	res := c.store.MigrateStorage(ctx, to, req)
	metrics.EmitStorageMigration(c.metrics, string(prev.Type), string(next.Type), res.Err)
	if !res.Success {
		c.logger.WarnContext(ctx, "storage migration failed",
			"from", prev.Type,
			"to", next.Type,
			"role", next.UserRole,
			"error", res.Err)
		return res, res.Err
	}

	c.cfg = next
	c.logger.InfoContext(ctx, "storage migrated",
		"from", prev.Type,
		"to", next.Type,
		"role", next.UserRole,
		"tokens_preserved", res.TokensPreserved)
	c.emit(events.Event{
		Name: events.StorageMigrated,
		Data: map[string]any{
			"from":             string(prev.Type),
			"to":               string(next.Type),
			"role":             string(next.UserRole),
			"tokens_preserved": res.TokensPreserved,
		},
	})
	return res, nil
}
