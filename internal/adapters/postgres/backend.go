// Package postgres provides a storage backend on a Postgres table, for hosts that keep
// client sessions in their own database. The schema lives in internal/migrate.
package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"
	"time"

	apperrors "github.com/target/mmk-auth/internal/errors"
)

// Backend stores keys in the auth_storage table under a namespace.
type Backend struct {
	db        *sql.DB
	namespace string
	now       func() time.Time

	mu  sync.RWMutex
	ttl time.Duration
}

// Options configures a Backend.
type Options struct {
	DB        *sql.DB
	Namespace string
	TTL       time.Duration
	// Now overrides the time source used for expiry; defaults to time.Now.
	Now func() time.Time
}

// NewBackend creates a Postgres backend.
func NewBackend(opts Options) (*Backend, error) {
	if opts.DB == nil {
		return nil, errors.New("DB is required")
	}
	ns := opts.Namespace
	if ns == "" {
		ns = "default"
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	return &Backend{db: opts.DB, namespace: ns, ttl: opts.TTL, now: now}, nil
}

// SetTTL changes the expiry applied to subsequent writes. Zero disables expiry.
func (b *Backend) SetTTL(ttl time.Duration) {
	b.mu.Lock()
	b.ttl = ttl
	b.mu.Unlock()
}

func (b *Backend) expiry() sql.NullTime {
	b.mu.RLock()
	ttl := b.ttl
	b.mu.RUnlock()
	if ttl <= 0 {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: b.now().Add(ttl), Valid: true}
}

func (b *Backend) Get(ctx context.Context, key string) (string, bool, error) {
	const q = `
		SELECT value FROM auth_storage
		WHERE namespace = $1 AND key = $2
		  AND (expires_at IS NULL OR expires_at > $3)`

	var value string
	err := b.db.QueryRowContext(ctx, q, b.namespace, key, b.now()).Scan(&value)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return "", false, nil
		}
		return "", false, fmt.Errorf("get %s: %w", key, apperrors.MapDBError(err))
	}
	return value, true, nil
}

func (b *Backend) Set(ctx context.Context, key, value string) error {
	const q = `
		INSERT INTO auth_storage (namespace, key, value, expires_at, updated_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (namespace, key)
		DO UPDATE SET value = EXCLUDED.value, expires_at = EXCLUDED.expires_at, updated_at = EXCLUDED.updated_at`

	if _, err := b.db.ExecContext(ctx, q, b.namespace, key, value, b.expiry(), b.now()); err != nil {
		return fmt.Errorf("set %s: %w", key, apperrors.MapDBError(err))
	}
	return nil
}

func (b *Backend) Remove(ctx context.Context, key string) error {
	const q = `DELETE FROM auth_storage WHERE namespace = $1 AND key = $2`
	if _, err := b.db.ExecContext(ctx, q, b.namespace, key); err != nil {
		return fmt.Errorf("remove %s: %w", key, apperrors.MapDBError(err))
	}
	return nil
}

func (b *Backend) Clear(ctx context.Context) error {
	const q = `DELETE FROM auth_storage WHERE namespace = $1`
	if _, err := b.db.ExecContext(ctx, q, b.namespace); err != nil {
		return fmt.Errorf("clear namespace: %w", apperrors.MapDBError(err))
	}
	return nil
}

// PurgeExpired deletes expired rows in every namespace and returns how many were removed.
func (b *Backend) PurgeExpired(ctx context.Context) (int64, error) {
	res, err := b.db.ExecContext(ctx,
		`DELETE FROM auth_storage WHERE expires_at IS NOT NULL AND expires_at <= $1`, b.now())
	if err != nil {
		return 0, fmt.Errorf("purge expired: %w", apperrors.MapDBError(err))
	}
	return res.RowsAffected()
}
