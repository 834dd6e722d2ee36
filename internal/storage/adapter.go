package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"sync"
	"time"

	"github.com/target/mmk-auth/internal/clock"
	domainauth "github.com/target/mmk-auth/internal/domain/auth"
	apperrors "github.com/target/mmk-auth/internal/errors"
	"github.com/target/mmk-auth/internal/ports"
)

// ErrNoSession is returned by LoadSession when no usable session is stored.
var ErrNoSession = errors.New("no stored session")

// For returns the timeout for role, falling back to the guest timeout for unknown roles.
func (p TimeoutPolicy) For(role domainauth.Role) time.Duration {
	switch role {
	case domainauth.RoleAdmin:
		return p.Admin
	case domainauth.RoleEmployee:
		return p.Employee
	default:
		return p.Guest
	}
}

// AdapterOptions groups dependencies for Adapter.
type AdapterOptions struct {
	Backend ports.StorageBackend
	Type    domainauth.StorageType
	Prefix  string
	Role    domainauth.Role
	// Timeout is the idle timeout. Zero disables idle expiry.
	Timeout time.Duration
	// Policy supplies the idle timeout of a stored session whose role outranks Role.
	// A zero Policy means DefaultTimeoutPolicy.
	Policy TimeoutPolicy
	Clock  clock.Clock
	Logger *slog.Logger
}

// Adapter gives uniform namespaced access to a backend and encodes sessions into keys.
type Adapter struct {
	backend ports.StorageBackend
	kind    domainauth.StorageType
	prefix  string
	policy  TimeoutPolicy
	clock   clock.Clock
	logger  *slog.Logger

	mu      sync.RWMutex
	role    domainauth.Role
	timeout time.Duration
}

// NewAdapter constructs an Adapter.
func NewAdapter(opts AdapterOptions) (*Adapter, error) {
	if opts.Backend == nil {
		return nil, errors.New("Backend is required")
	}
	prefix := opts.Prefix
	if prefix == "" {
		prefix = DefaultPrefix
	}
	clk := opts.Clock
	if clk == nil {
		clk = clock.Real{}
	}
	role := opts.Role
	if !role.Valid() {
		role = domainauth.RoleGuest
	}
	policy := opts.Policy
	if policy == (TimeoutPolicy{}) {
		policy = DefaultTimeoutPolicy()
	}

	a := &Adapter{
		backend: opts.Backend,
		kind:    opts.Type,
		prefix:  prefix,
		policy:  policy,
		clock:   clk,
		logger:  opts.Logger,
		role:    role,
		timeout: opts.Timeout,
	}
	a.applyTTL(opts.Timeout)
	return a, nil
}

// Key returns the namespaced form of name.
func (a *Adapter) Key(name string) string { return a.prefix + "_" + name }

// Backend returns the underlying backend.
func (a *Adapter) Backend() ports.StorageBackend { return a.backend }

// Type returns the backend family.
func (a *Adapter) Type() domainauth.StorageType { return a.kind }

// Prefix returns the key namespace.
func (a *Adapter) Prefix() string { return a.prefix }

// Role returns the role whose policy is active.
func (a *Adapter) Role() domainauth.Role {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.role
}

// Timeout returns the active idle timeout.
func (a *Adapter) Timeout() time.Duration {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.timeout
}

// SetPolicy switches the active role and idle timeout.
func (a *Adapter) SetPolicy(role domainauth.Role, timeout time.Duration) {
	a.mu.Lock()
	a.role = role
	a.timeout = timeout
	a.mu.Unlock()
	a.applyTTL(timeout)
}

func (a *Adapter) applyTTL(timeout time.Duration) {
	if eb, ok := a.backend.(ports.ExpiringBackend); ok {
		eb.SetTTL(timeout)
	}
}

// Get reads a namespaced key.
func (a *Adapter) Get(ctx context.Context, name string) (string, bool, error) {
	return a.backend.Get(ctx, a.Key(name))
}

// Set writes a namespaced key.
func (a *Adapter) Set(ctx context.Context, name, value string) error {
	return a.backend.Set(ctx, a.Key(name), value)
}

// Remove deletes a namespaced key.
func (a *Adapter) Remove(ctx context.Context, name string) error {
	return a.backend.Remove(ctx, a.Key(name))
}

// Clear removes every namespaced session key. Keys outside the namespace are untouched,
// so several adapters may share one backend.
func (a *Adapter) Clear(ctx context.Context) error {
	var errs []error
	for _, name := range sessionKeys {
		if err := a.Remove(ctx, name); err != nil {
			errs = append(errs, fmt.Errorf("remove %s: %w", name, err))
		}
	}
	return errors.Join(errs...)
}

// ClearSession removes namespaced keys and any legacy unnamespaced keys.
func (a *Adapter) ClearSession(ctx context.Context) error {
	errs := []error{a.Clear(ctx)}
	for _, key := range LegacyKeys {
		if err := a.backend.Remove(ctx, key); err != nil {
			errs = append(errs, fmt.Errorf("remove legacy %s: %w", key, err))
		}
	}
	return errors.Join(errs...)
}

// SaveSession persists a complete session. Token saves are not user activity, so the
// activity timestamp is left as it is; a session that never recorded activity loads as
// idle once an idle timeout applies.
func (a *Adapter) SaveSession(ctx context.Context, sess domainauth.Session) error {
	return a.save(ctx, sess, false)
}

// SaveSignIn persists a freshly established session and starts its idle window in the
// same write.
func (a *Adapter) SaveSignIn(ctx context.Context, sess domainauth.Session) error {
	return a.save(ctx, sess, true)
}

func (a *Adapter) save(ctx context.Context, sess domainauth.Session, activity bool) error {
	if !sess.Complete() {
		return apperrors.Internal("refusing to persist an incomplete session")
	}

	userJSON, err := json.Marshal(sess.User)
	if err != nil {
		return fmt.Errorf("marshal user: %w", err)
	}

	values := map[string]string{
		KeyAccessToken: sess.Tokens.AccessToken,
		KeyUser:        string(userJSON),
		KeyExpiresAt:   formatMillis(sess.Tokens.ExpiresAt),
		KeyRefreshedAt: formatMillis(sess.Tokens.RefreshedAt),
		KeyAuthMethod:  string(sess.Method),
		KeyRole:        string(a.roleFor(sess)),
	}
	if activity {
		values[KeyLastActivity] = formatMillis(a.clock.Now())
	}
	var removals []string
	if sess.Tokens.RefreshToken != "" {
		values[KeyRefreshToken] = sess.Tokens.RefreshToken
	} else {
		removals = append(removals, KeyRefreshToken)
	}
	if len(sess.Tokens.Passthrough) > 0 {
		raw, mErr := json.Marshal(sess.Tokens.Passthrough)
		if mErr != nil {
			return fmt.Errorf("marshal passthrough: %w", mErr)
		}
		values[KeyPassthrough] = string(raw)
	} else {
		removals = append(removals, KeyPassthrough)
	}

	// Access token last: a reader that sees it also sees the rest of the session.
	for _, name := range sessionKeys {
		v, ok := values[name]
		if !ok || name == KeyAccessToken {
			continue
		}
		if setErr := a.Set(ctx, name, v); setErr != nil {
			return fmt.Errorf("save %s: %w", name, setErr)
		}
	}
	if setErr := a.Set(ctx, KeyAccessToken, values[KeyAccessToken]); setErr != nil {
		return fmt.Errorf("save %s: %w", KeyAccessToken, setErr)
	}
	for _, name := range removals {
		if rmErr := a.Remove(ctx, name); rmErr != nil {
			return fmt.Errorf("remove %s: %w", name, rmErr)
		}
	}
	return nil
}

// Touch records activity so the idle timeout restarts.
func (a *Adapter) Touch(ctx context.Context) error {
	return a.Set(ctx, KeyLastActivity, formatMillis(a.clock.Now()))
}

// LoadSession restores the stored session. Missing, malformed, and idle-expired data all
// yield ErrNoSession; malformed and idle data are cleared on the way out.
func (a *Adapter) LoadSession(ctx context.Context) (domainauth.Session, error) {
	access, ok, err := a.Get(ctx, KeyAccessToken)
	if err != nil {
		return domainauth.Session{}, fmt.Errorf("load access token: %w", err)
	}
	if !ok || access == "" {
		return domainauth.Session{}, ErrNoSession
	}

	raw, err := a.readAll(ctx)
	if err != nil {
		return domainauth.Session{}, err
	}

	sess, decodeErr := decodeSession(raw)
	if decodeErr != nil {
		a.discard(ctx, "malformed stored session", decodeErr)
		return domainauth.Session{}, ErrNoSession
	}

	sess.Role = a.Role()
	if stored, roleErr := domainauth.ParseRole(raw[KeyRole]); roleErr == nil && stored.Rank() > sess.Role.Rank() {
		sess.Role = stored
	}

	if a.idleExpired(raw[KeyLastActivity], a.TimeoutFor(sess.Role)) {
		a.discard(ctx, "stored session exceeded idle timeout", nil)
		return domainauth.Session{}, ErrNoSession
	}
	return sess, nil
}

// TimeoutFor returns the idle timeout that applies to a session held under role. A role
// above the adapter's own gets the stricter of the adapter timeout and the role's policy.
func (a *Adapter) TimeoutFor(role domainauth.Role) time.Duration {
	a.mu.RLock()
	own, timeout := a.role, a.timeout
	a.mu.RUnlock()
	if role.Rank() <= own.Rank() {
		return timeout
	}
	t := a.policy.For(role)
	if timeout > 0 && (t <= 0 || timeout < t) {
		return timeout
	}
	return t
}

// roleFor never records a role below the one the session already holds.
func (a *Adapter) roleFor(sess domainauth.Session) domainauth.Role {
	role := a.Role()
	if sess.Role.Rank() > role.Rank() {
		return sess.Role
	}
	return role
}

// Snapshot returns the raw values of every namespaced key that is present.
func (a *Adapter) Snapshot(ctx context.Context) (map[string]string, error) {
	return a.readAll(ctx)
}

func (a *Adapter) readAll(ctx context.Context) (map[string]string, error) {
	out := make(map[string]string, len(sessionKeys))
	for _, name := range sessionKeys {
		v, ok, err := a.Get(ctx, name)
		if err != nil {
			return nil, fmt.Errorf("read %s: %w", name, err)
		}
		if ok {
			out[name] = v
		}
	}
	return out, nil
}

// idleExpired treats a missing or unreadable activity stamp as idle.
func (a *Adapter) idleExpired(lastActivity string, timeout time.Duration) bool {
	if timeout <= 0 {
		return false
	}
	last, err := parseMillis(lastActivity)
	if err != nil || last.IsZero() {
		return true
	}
	return a.clock.Now().Sub(last) > timeout
}

func (a *Adapter) discard(ctx context.Context, reason string, cause error) {
	if a.logger != nil {
		a.logger.WarnContext(ctx, "discarding stored session",
			"reason", reason,
			"storage_type", a.kind,
			"error", cause)
	}
	if err := a.Clear(ctx); err != nil && a.logger != nil {
		a.logger.WarnContext(ctx, "failed to clear discarded session", "error", err)
	}
}

func decodeSession(raw map[string]string) (domainauth.Session, error) {
	var sess domainauth.Session

	if err := json.Unmarshal([]byte(raw[KeyUser]), &sess.User); err != nil {
		return sess, fmt.Errorf("decode user: %w", err)
	}
	if !sess.User.Valid() {
		return sess, errors.New("stored user is missing id or email")
	}

	sess.Tokens.AccessToken = raw[KeyAccessToken]
	sess.Tokens.RefreshToken = raw[KeyRefreshToken]

	expiresAt, err := parseMillis(raw[KeyExpiresAt])
	if err != nil {
		return sess, fmt.Errorf("decode expires_at: %w", err)
	}
	sess.Tokens.ExpiresAt = expiresAt

	if v := raw[KeyRefreshedAt]; v != "" {
		refreshedAt, rErr := parseMillis(v)
		if rErr != nil {
			return sess, fmt.Errorf("decode refreshed_at: %w", rErr)
		}
		sess.Tokens.RefreshedAt = refreshedAt
	}

	if v := raw[KeyPassthrough]; v != "" {
		if pErr := json.Unmarshal([]byte(v), &sess.Tokens.Passthrough); pErr != nil {
			return sess, fmt.Errorf("decode passthrough: %w", pErr)
		}
	}

	sess.Method = domainauth.AuthMethod(raw[KeyAuthMethod])
	return sess, nil
}

func formatMillis(t time.Time) string {
	if t.IsZero() {
		return "0"
	}
	return strconv.FormatInt(t.UnixMilli(), 10)
}

func parseMillis(s string) (time.Time, error) {
	if s == "" {
		return time.Time{}, errors.New("empty timestamp")
	}
	ms, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return time.Time{}, err
	}
	if ms == 0 {
		return time.Time{}, nil
	}
	return time.UnixMilli(ms).UTC(), nil
}
