package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/target/mmk-auth/internal/adapters/memory"
	"github.com/target/mmk-auth/internal/clock"
	domainauth "github.com/target/mmk-auth/internal/domain/auth"
)

var testNow = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func testSession(now time.Time) domainauth.Session {
	return domainauth.Session{
		User: domainauth.User{ID: "u-1", Email: "ada@example.com", Name: "Ada", EmailVerified: true},
		Tokens: domainauth.Tokens{
			AccessToken:  "access-1",
			RefreshToken: "refresh-1",
			ExpiresAt:    now.Add(time.Hour),
			RefreshedAt:  now,
			Passthrough:  map[string]json.RawMessage{"provider": json.RawMessage(`{"token":"p"}`)},
		},
		Method: domainauth.MethodPasskey,
	}
}

func newTestAdapter(t *testing.T, b *memory.Backend, clk clock.Clock, timeout time.Duration) *Adapter {
	t.Helper()
	a, err := NewAdapter(AdapterOptions{
		Backend: b,
		Type:    domainauth.StorageSession,
		Prefix:  "test",
		Role:    domainauth.RoleEmployee,
		Timeout: timeout,
		Clock:   clk,
	})
	require.NoError(t, err)
	return a
}

func TestAdapter_SaveLoadRoundTrip(t *testing.T) {
	ctx := context.Background()
	clk := clock.NewFake(testNow)
	a := newTestAdapter(t, memory.New(), clk, time.Hour)

	want := testSession(testNow)
	require.NoError(t, a.SaveSignIn(ctx, want))

	got, err := a.LoadSession(ctx)
	require.NoError(t, err)
	assert.Equal(t, want.User, got.User)
	assert.Equal(t, want.Method, got.Method)
	assert.Equal(t, "access-1", got.Tokens.AccessToken)
	assert.Equal(t, "refresh-1", got.Tokens.RefreshToken)
	assert.True(t, want.Tokens.ExpiresAt.Equal(got.Tokens.ExpiresAt))
	assert.True(t, want.Tokens.RefreshedAt.Equal(got.Tokens.RefreshedAt))
	assert.JSONEq(t, `{"token":"p"}`, string(got.Tokens.Passthrough["provider"]))
}

func TestAdapter_KeysAreNamespaced(t *testing.T) {
	ctx := context.Background()
	b := memory.New()
	a := newTestAdapter(t, b, clock.NewFake(testNow), 0)
	require.NoError(t, a.SaveSession(ctx, testSession(testNow)))

	v, ok, err := b.Get(ctx, "test_access_token")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "access-1", v)

	_, ok, _ = b.Get(ctx, "access_token")
	assert.False(t, ok)
}

func TestAdapter_SaveSessionRefusesIncomplete(t *testing.T) {
	ctx := context.Background()
	b := memory.New()
	a := newTestAdapter(t, b, clock.NewFake(testNow), 0)

	sess := testSession(testNow)
	sess.User.Email = ""
	require.Error(t, a.SaveSession(ctx, sess))
	assert.Equal(t, 0, b.Len())
}

func TestAdapter_SaveWithoutRefreshTokenRemovesStaleValue(t *testing.T) {
	ctx := context.Background()
	a := newTestAdapter(t, memory.New(), clock.NewFake(testNow), 0)
	require.NoError(t, a.SaveSession(ctx, testSession(testNow)))

	sess := testSession(testNow)
	sess.Tokens.RefreshToken = ""
	sess.Tokens.Passthrough = nil
	require.NoError(t, a.SaveSession(ctx, sess))

	_, ok, _ := a.Get(ctx, KeyRefreshToken)
	assert.False(t, ok)
	_, ok, _ = a.Get(ctx, KeyPassthrough)
	assert.False(t, ok)
}

func TestAdapter_RepeatedSaveIsIdempotent(t *testing.T) {
	ctx := context.Background()
	b := memory.New()
	a := newTestAdapter(t, b, clock.NewFake(testNow), 0)
	sess := testSession(testNow)

	require.NoError(t, a.SaveSession(ctx, sess))
	first, err := a.Snapshot(ctx)
	require.NoError(t, err)
	require.NoError(t, a.SaveSession(ctx, sess))
	second, err := a.Snapshot(ctx)
	require.NoError(t, err)
	assert.Equal(t, first, second)
}

func TestAdapter_LoadSessionMissing(t *testing.T) {
	a := newTestAdapter(t, memory.New(), clock.NewFake(testNow), 0)
	_, err := a.LoadSession(context.Background())
	assert.ErrorIs(t, err, ErrNoSession)
}

func TestAdapter_LoadSessionMalformedIsCleared(t *testing.T) {
	ctx := context.Background()
	b := memory.New()
	a := newTestAdapter(t, b, clock.NewFake(testNow), 0)

	require.NoError(t, a.Set(ctx, KeyAccessToken, "access-1"))
	require.NoError(t, a.Set(ctx, KeyUser, "{not json"))
	require.NoError(t, a.Set(ctx, KeyExpiresAt, "123"))
	require.NoError(t, b.Set(ctx, "unrelated", "keep"))

	_, err := a.LoadSession(ctx)
	assert.ErrorIs(t, err, ErrNoSession)
	assert.Equal(t, 1, b.Len())
}

func TestAdapter_LoadSessionRejectsUserWithoutEmail(t *testing.T) {
	ctx := context.Background()
	a := newTestAdapter(t, memory.New(), clock.NewFake(testNow), 0)
	require.NoError(t, a.Set(ctx, KeyAccessToken, "access-1"))
	require.NoError(t, a.Set(ctx, KeyUser, `{"id":"u-1"}`))
	require.NoError(t, a.Set(ctx, KeyExpiresAt, "123"))

	_, err := a.LoadSession(ctx)
	assert.ErrorIs(t, err, ErrNoSession)
}

func TestAdapter_IdleTimeout(t *testing.T) {
	ctx := context.Background()
	clk := clock.NewFake(testNow)
	a := newTestAdapter(t, memory.New(), clk, 30*time.Minute)
	require.NoError(t, a.SaveSignIn(ctx, testSession(testNow)))

	clk.Set(testNow.Add(20 * time.Minute))
	_, err := a.LoadSession(ctx)
	require.NoError(t, err)
	require.NoError(t, a.Touch(ctx))

	clk.Set(testNow.Add(45 * time.Minute))
	_, err = a.LoadSession(ctx)
	require.NoError(t, err, "touch should have restarted the idle window")

	clk.Set(testNow.Add(2 * time.Hour))
	_, err = a.LoadSession(ctx)
	assert.ErrorIs(t, err, ErrNoSession)
}

func TestAdapter_TokenSavesAreNotActivity(t *testing.T) {
	ctx := context.Background()
	clk := clock.NewFake(testNow)
	a := newTestAdapter(t, memory.New(), clk, 30*time.Minute)
	require.NoError(t, a.SaveSignIn(ctx, testSession(testNow)))

	clk.Set(testNow.Add(25 * time.Minute))
	require.NoError(t, a.SaveSession(ctx, testSession(clk.Now())))
	clk.Set(testNow.Add(40 * time.Minute))
	_, err := a.LoadSession(ctx)
	assert.ErrorIs(t, err, ErrNoSession)
}

func TestAdapter_MissingActivityIsIdle(t *testing.T) {
	ctx := context.Background()
	clk := clock.NewFake(testNow)
	a := newTestAdapter(t, memory.New(), clk, 30*time.Minute)
	require.NoError(t, a.SaveSession(ctx, testSession(testNow)))

	_, err := a.LoadSession(ctx)
	assert.ErrorIs(t, err, ErrNoSession)

	// Without an idle timeout the stamp is irrelevant.
	b := newTestAdapter(t, memory.New(), clk, 0)
	require.NoError(t, b.SaveSession(ctx, testSession(testNow)))
	_, err = b.LoadSession(ctx)
	require.NoError(t, err)
}

// expiringBackend drops each key ttl after its last write, like Redis SET EX.
type expiringBackend struct {
	*memory.Backend
	clk      *clock.Fake
	ttl      time.Duration
	deadline map[string]time.Time
}

func newExpiringBackend(clk *clock.Fake) *expiringBackend {
	return &expiringBackend{Backend: memory.New(), clk: clk, deadline: map[string]time.Time{}}
}

func (b *expiringBackend) SetTTL(ttl time.Duration) { b.ttl = ttl }

func (b *expiringBackend) Set(ctx context.Context, key, value string) error {
	if b.ttl > 0 {
		b.deadline[key] = b.clk.Now().Add(b.ttl)
	}
	return b.Backend.Set(ctx, key, value)
}

func (b *expiringBackend) Get(ctx context.Context, key string) (string, bool, error) {
	if d, ok := b.deadline[key]; ok && !b.clk.Now().Before(d) {
		delete(b.deadline, key)
		_ = b.Backend.Remove(ctx, key)
		return "", false, nil
	}
	return b.Backend.Get(ctx, key)
}

func TestAdapter_IdleTimeoutOnExpiringBackend(t *testing.T) {
	ctx := context.Background()
	clk := clock.NewFake(testNow)
	a, err := NewAdapter(AdapterOptions{
		Backend: newExpiringBackend(clk),
		Type:    domainauth.StorageCustom,
		Role:    domainauth.RoleGuest,
		Timeout: 30 * time.Minute,
		Clock:   clk,
	})
	require.NoError(t, err)
	require.NoError(t, a.SaveSignIn(ctx, testSession(testNow)))

	// Scheduled refreshes rewrite the tokens every 20 minutes with no user activity.
	for i := 1; i <= 9; i++ {
		clk.Set(testNow.Add(time.Duration(i) * 20 * time.Minute))
		sess := testSession(clk.Now())
		sess.Tokens.AccessToken = fmt.Sprintf("access-%d", i+1)
		require.NoError(t, a.SaveSession(ctx, sess))
	}

	_, err = a.LoadSession(ctx)
	assert.ErrorIs(t, err, ErrNoSession)
}

func TestAdapter_LoadKeepsHigherStoredRole(t *testing.T) {
	ctx := context.Background()
	clk := clock.NewFake(testNow)
	b := memory.New()
	admin, err := NewAdapter(AdapterOptions{Backend: b, Prefix: "test", Role: domainauth.RoleAdmin, Timeout: time.Hour, Clock: clk})
	require.NoError(t, err)
	require.NoError(t, admin.SaveSignIn(ctx, testSession(testNow)))

	employee := newTestAdapter(t, b, clk, 8*time.Hour)
	assert.Equal(t, time.Hour, employee.TimeoutFor(domainauth.RoleAdmin))

	clk.Set(testNow.Add(30 * time.Minute))
	got, err := employee.LoadSession(ctx)
	require.NoError(t, err)
	assert.Equal(t, domainauth.RoleAdmin, got.Role)

	require.NoError(t, employee.SaveSession(ctx, got))
	role, _, _ := employee.Get(ctx, KeyRole)
	assert.Equal(t, string(domainauth.RoleAdmin), role, "a save must not lower the stored role")

	clk.Set(testNow.Add(2 * time.Hour))
	_, err = employee.LoadSession(ctx)
	assert.ErrorIs(t, err, ErrNoSession, "the admin idle timeout applies")
}

func TestAdapter_LoadUsesOwnRoleWhenHigher(t *testing.T) {
	ctx := context.Background()
	clk := clock.NewFake(testNow)
	b := memory.New()
	guest, err := NewAdapter(AdapterOptions{Backend: b, Prefix: "test", Role: domainauth.RoleGuest, Clock: clk})
	require.NoError(t, err)
	require.NoError(t, guest.SaveSignIn(ctx, testSession(testNow)))

	got, err := newTestAdapter(t, b, clk, 0).LoadSession(ctx)
	require.NoError(t, err)
	assert.Equal(t, domainauth.RoleEmployee, got.Role)
}

func TestAdapter_ClearSessionPurgesLegacyKeys(t *testing.T) {
	ctx := context.Background()
	b := memory.New()
	a := newTestAdapter(t, b, clock.NewFake(testNow), 0)
	require.NoError(t, a.SaveSession(ctx, testSession(testNow)))
	for _, k := range LegacyKeys {
		require.NoError(t, b.Set(ctx, k, "legacy"))
	}
	require.NoError(t, b.Set(ctx, "other_app_key", "keep"))

	require.NoError(t, a.ClearSession(ctx))

	for _, name := range SessionKeys() {
		_, ok, _ := a.Get(ctx, name)
		assert.False(t, ok, name)
	}
	for _, k := range LegacyKeys {
		_, ok, _ := b.Get(ctx, k)
		assert.False(t, ok, k)
	}
	v, ok, _ := b.Get(ctx, "other_app_key")
	assert.True(t, ok)
	assert.Equal(t, "keep", v)
}

func TestTimeoutPolicy_For(t *testing.T) {
	p := DefaultTimeoutPolicy()
	assert.Equal(t, 30*time.Minute, p.For(domainauth.RoleGuest))
	assert.Equal(t, 8*time.Hour, p.For(domainauth.RoleEmployee))
	assert.Equal(t, time.Hour, p.For(domainauth.RoleAdmin))
	assert.Equal(t, p.Guest, p.For(domainauth.Role("unknown")))
}

type ttlBackend struct {
	*memory.Backend
	ttl time.Duration
}

func (b *ttlBackend) SetTTL(ttl time.Duration) { b.ttl = ttl }

func TestAdapter_SetPolicyPropagatesTTL(t *testing.T) {
	b := &ttlBackend{Backend: memory.New()}
	a, err := NewAdapter(AdapterOptions{Backend: b, Timeout: time.Hour})
	require.NoError(t, err)
	assert.Equal(t, time.Hour, b.ttl)
	assert.Equal(t, domainauth.RoleGuest, a.Role())

	a.SetPolicy(domainauth.RoleAdmin, 15*time.Minute)
	assert.Equal(t, 15*time.Minute, b.ttl)
	assert.Equal(t, domainauth.RoleAdmin, a.Role())
	assert.Equal(t, 15*time.Minute, a.Timeout())
}

func TestNewAdapter_RequiresBackend(t *testing.T) {
	_, err := NewAdapter(AdapterOptions{})
	require.Error(t, err)
}
