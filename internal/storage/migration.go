package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	domainauth "github.com/target/mmk-auth/internal/domain/auth"
	apperrors "github.com/target/mmk-auth/internal/errors"
)

// MigrationRequest describes a move of the current session to another adapter.
type MigrationRequest struct {
	// AuthenticatedRole is the role the current session was established under.
	AuthenticatedRole domainauth.Role
	TargetRole        domainauth.Role
	// TargetTimeout is the idle timeout applied to the destination.
	TargetTimeout time.Duration
}

// MigrationResult reports the outcome of Migrate.
type MigrationResult struct {
	Success bool
	// DataPreserved is true when the session exists intact in at least one backend.
	DataPreserved bool
	// TokensPreserved is true when the destination holds the migrated tokens.
	TokensPreserved bool
	Err             error
}

// Migrate moves the session stored by from into to. The destination is written and read
// back before anything is removed from the source; a failed write restores the
// destination to its previous contents and leaves the source untouched.
func Migrate(ctx context.Context, from, to *Adapter, req MigrationRequest) MigrationResult {
	if from == nil || to == nil {
		return failed(apperrors.Migration("storage migration requires both adapters"))
	}
	if req.AuthenticatedRole.Valid() && req.TargetRole.Rank() < req.AuthenticatedRole.Rank() {
		return failed(apperrors.Migrationf(
			"cannot lower storage trust from %s to %s", req.AuthenticatedRole, req.TargetRole))
	}

	snapshot, err := from.Snapshot(ctx)
	if err != nil {
		return failed(apperrors.Wrap(err, apperrors.ErrCodeMigration, "could not read the current session"))
	}

	if err := checkNotExpired(snapshot, from.clock.Now()); err != nil {
		return failed(err)
	}

	prevRole, prevTimeout := to.Role(), to.Timeout()

	if sameLocation(from, to) {
		to.SetPolicy(req.TargetRole, req.TargetTimeout)
		if from != to {
			from.SetPolicy(req.TargetRole, req.TargetTimeout)
		}
		if _, ok := snapshot[KeyAccessToken]; ok {
			if err := to.Set(ctx, KeyRole, string(req.TargetRole)); err != nil {
				to.SetPolicy(prevRole, prevTimeout)
				return failed(apperrors.Wrap(err, apperrors.ErrCodeMigration, "could not update session role"))
			}
		}
		return MigrationResult{Success: true, DataPreserved: true, TokensPreserved: snapshot[KeyAccessToken] != ""}
	}

	previous, err := to.Snapshot(ctx)
	if err != nil {
		return failed(apperrors.Wrap(err, apperrors.ErrCodeMigration, "could not read the destination storage"))
	}

	to.SetPolicy(req.TargetRole, req.TargetTimeout)

	if len(snapshot) > 0 {
		snapshot[KeyRole] = string(req.TargetRole)
		snapshot[KeyLastActivity] = formatMillis(to.clock.Now())
	}

	if err := copyInto(ctx, to, snapshot); err != nil {
		rbErr := rollback(ctx, to, previous)
		to.SetPolicy(prevRole, prevTimeout)
		return failed(apperrors.Wrap(errors.Join(err, rbErr), apperrors.ErrCodeMigration,
			"could not copy the session to the new storage"))
	}

	if err := from.Clear(ctx); err != nil && from.logger != nil {
		from.logger.WarnContext(ctx, "source storage not fully cleared after migration",
			"from", from.kind,
			"to", to.kind,
			"error", err)
	}

	return MigrationResult{
		Success:         true,
		DataPreserved:   true,
		TokensPreserved: snapshot[KeyAccessToken] != "",
	}
}

func failed(err error) MigrationResult {
	return MigrationResult{DataPreserved: true, Err: err}
}

func sameLocation(a, b *Adapter) bool {
	return a == b || (a.backend == b.backend && a.prefix == b.prefix)
}

func checkNotExpired(snapshot map[string]string, now time.Time) error {
	if snapshot[KeyAccessToken] == "" {
		return nil
	}
	raw, ok := snapshot[KeyExpiresAt]
	if !ok {
		return nil
	}
	expiresAt, err := parseMillis(raw)
	if err != nil {
		return apperrors.Migration("the stored session has an unreadable expiry")
	}
	if !expiresAt.IsZero() && !now.Before(expiresAt) {
		return apperrors.Migration("the current session has expired; sign in again before changing storage")
	}
	return nil
}

// copyInto writes every key, then reads each back and compares.
func copyInto(ctx context.Context, to *Adapter, snapshot map[string]string) error {
	for _, name := range sessionKeys {
		v, ok := snapshot[name]
		if !ok {
			if err := to.Remove(ctx, name); err != nil {
				return fmt.Errorf("remove %s: %w", name, err)
			}
			continue
		}
		if err := to.Set(ctx, name, v); err != nil {
			return fmt.Errorf("write %s: %w", name, err)
		}
	}
	for name, want := range snapshot {
		got, ok, err := to.Get(ctx, name)
		if err != nil {
			return fmt.Errorf("verify %s: %w", name, err)
		}
		if !ok || got != want {
			return fmt.Errorf("verify %s: value mismatch after write", name)
		}
	}
	return nil
}

func rollback(ctx context.Context, to *Adapter, previous map[string]string) error {
	var errs []error
	for _, name := range sessionKeys {
		if v, ok := previous[name]; ok {
			if err := to.Set(ctx, name, v); err != nil {
				errs = append(errs, fmt.Errorf("restore %s: %w", name, err))
			}
			continue
		}
		if err := to.Remove(ctx, name); err != nil {
			errs = append(errs, fmt.Errorf("rollback %s: %w", name, err))
		}
	}
	return errors.Join(errs...)
}
