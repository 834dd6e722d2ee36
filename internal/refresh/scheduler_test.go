package refresh

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"math/rand"
	"testing"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/target/mmk-auth/internal/clock"
	domainauth "github.com/target/mmk-auth/internal/domain/auth"
	apperrors "github.com/target/mmk-auth/internal/errors"
)

var testNow = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// recorder is a RefreshFunc that issues tokens with a fixed lifetime.
type recorder struct {
	clk      *clock.Fake
	lifetime time.Duration
	rotate   bool
	errs     []error
	fired    []time.Time
	used     []string
}

func (r *recorder) refresh(_ context.Context, refreshToken string) (domainauth.Tokens, error) {
	n := len(r.fired)
	r.fired = append(r.fired, r.clk.Now())
	r.used = append(r.used, refreshToken)
	if n < len(r.errs) && r.errs[n] != nil {
		return domainauth.Tokens{}, r.errs[n]
	}
	now := r.clk.Now()
	tok := domainauth.Tokens{
		AccessToken: fmt.Sprintf("A%d", n+1),
		ExpiresAt:   now.Add(r.lifetime),
		RefreshedAt: now,
	}
	if r.rotate {
		tok.RefreshToken = fmt.Sprintf("R%d", n+1)
	}
	return tok, nil
}

func newScheduler(clk *clock.Fake, r *recorder, opts Options) *Scheduler {
	opts.Clock = clk
	opts.Refresh = r.refresh
	opts.Logger = quietLogger()
	return New(opts)
}

func TestNextFireAt(t *testing.T) {
	tests := []struct {
		name        string
		plan        Plan
		lastFiredAt time.Time
		now         time.Time
		before      time.Duration
		floor       time.Duration
		want        time.Time
	}{
		{
			name:   "long lived token refreshes before expiry",
			plan:   Plan{ExpiresAt: testNow.Add(time.Hour), RefreshedAt: testNow},
			now:    testNow,
			before: 5 * time.Minute,
			floor:  time.Minute,
			want:   testNow.Add(55 * time.Minute),
		},
		{
			name:   "refresh before longer than lifetime is held to the floor",
			plan:   Plan{ExpiresAt: testNow.Add(6 * time.Minute), RefreshedAt: testNow},
			now:    testNow,
			before: 50 * time.Minute,
			floor:  time.Minute,
			want:   testNow.Add(time.Minute),
		},
		{
			name:        "last firing pushes the next one out",
			plan:        Plan{ExpiresAt: testNow.Add(time.Minute)},
			lastFiredAt: testNow.Add(-10 * time.Second),
			now:         testNow,
			before:      5 * time.Minute,
			floor:       time.Minute,
			want:        testNow.Add(50 * time.Second),
		},
		{
			name:   "configured floor below sixty seconds is raised",
			plan:   Plan{ExpiresAt: testNow.Add(time.Second), RefreshedAt: testNow},
			now:    testNow,
			before: time.Hour,
			floor:  time.Second,
			want:   testNow.Add(MinIntervalFloor),
		},
		{
			name:   "already expired token fires now",
			plan:   Plan{ExpiresAt: testNow.Add(-time.Hour)},
			now:    testNow,
			before: time.Minute,
			floor:  time.Minute,
			want:   testNow,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := NextFireAt(tt.plan, tt.lastFiredAt, tt.now, tt.before, tt.floor)
			assert.Equal(t, tt.want, got)
		})
	}
}

func assertFloor(t *testing.T, start time.Time, fired []time.Time) {
	t.Helper()
	prev := start
	for i, at := range fired {
		assert.GreaterOrEqual(t, at.Sub(prev), MinIntervalFloor, "firing %d too close to previous", i)
		prev = at
	}
}

func TestScheduler_FloorHoldsAcrossLifetimes(t *testing.T) {
	rng := rand.New(rand.NewSource(42))
	lifetimes := []time.Duration{time.Second, 59 * time.Second, time.Minute, 6 * time.Minute, 24 * time.Hour}
	befores := []time.Duration{time.Second, time.Minute, 50 * time.Minute}
	for i := 0; i < 150; i++ {
		lifetimes = append(lifetimes, time.Second+time.Duration(rng.Int63n(int64(24*time.Hour))))
		befores = append(befores, time.Second+time.Duration(rng.Int63n(int64(50*time.Minute))))
	}

	for i, lifetime := range lifetimes {
		before := befores[i%len(befores)]
		clk := clock.NewFake(testNow)
		r := &recorder{clk: clk, lifetime: lifetime, rotate: true}
		s := newScheduler(clk, r, Options{RefreshBefore: before, MinInterval: time.Second})

		s.Schedule(Plan{RefreshToken: "R0", ExpiresAt: testNow.Add(lifetime), RefreshedAt: testNow})
		clk.Advance(10 * time.Minute)
		s.Stop()

		require.LessOrEqual(t, len(r.fired), 10, "lifetime=%s before=%s", lifetime, before)
		assertFloor(t, testNow, r.fired)
	}
}

func TestScheduler_SixMinuteTokenWithLongRefreshBefore(t *testing.T) {
	clk := clock.NewFake(testNow)
	r := &recorder{clk: clk, lifetime: 6 * time.Minute, rotate: true}
	s := newScheduler(clk, r, Options{RefreshBefore: 50 * time.Minute})

	s.Schedule(Plan{RefreshToken: "R0", ExpiresAt: testNow.Add(6 * time.Minute), RefreshedAt: testNow})
	clk.Advance(10 * time.Minute)

	assert.NotEmpty(t, r.fired)
	assert.LessOrEqual(t, len(r.fired), 10)
	assertFloor(t, testNow, r.fired)
	assert.Equal(t, StateScheduled, s.State())
}

func TestScheduler_RotationChain(t *testing.T) {
	clk := clock.NewFake(testNow)
	r := &recorder{clk: clk, lifetime: 10 * time.Minute, rotate: true}
	s := newScheduler(clk, r, Options{RefreshBefore: 5 * time.Minute})

	s.Schedule(Plan{RefreshToken: "R0", ExpiresAt: testNow.Add(10 * time.Minute), RefreshedAt: testNow})
	clk.Advance(16 * time.Minute)

	assert.Equal(t, []string{"R0", "R1", "R2"}, r.used)
}

func TestScheduler_KeepsRefreshTokenWhenNotRotated(t *testing.T) {
	clk := clock.NewFake(testNow)
	r := &recorder{clk: clk, lifetime: 10 * time.Minute}
	var refreshed []domainauth.Tokens
	s := newScheduler(clk, r, Options{
		RefreshBefore: 5 * time.Minute,
		OnRefreshed:   func(tok domainauth.Tokens) { refreshed = append(refreshed, tok) },
	})

	s.Schedule(Plan{RefreshToken: "R0", ExpiresAt: testNow.Add(10 * time.Minute), RefreshedAt: testNow})
	clk.Advance(11 * time.Minute)

	assert.Equal(t, []string{"R0", "R0"}, r.used)
	require.Len(t, refreshed, 2)
	assert.Equal(t, "R0", refreshed[1].RefreshToken)
}

func TestScheduler_RejectedRefreshIsFatal(t *testing.T) {
	clk := clock.NewFake(testNow)
	r := &recorder{clk: clk, lifetime: time.Hour, errs: []error{apperrors.AuthRejected("invalid_grant")}}
	var (
		gotErr   error
		gotFatal bool
	)
	s := newScheduler(clk, r, Options{
		RefreshBefore: 5 * time.Minute,
		OnFailure:     func(err error, fatal bool) { gotErr, gotFatal = err, fatal },
	})

	s.Schedule(Plan{RefreshToken: "R0", ExpiresAt: testNow.Add(10 * time.Minute), RefreshedAt: testNow})
	clk.Advance(time.Hour)

	assert.Len(t, r.fired, 1, "rejected refresh must not be retried")
	require.Error(t, gotErr)
	assert.True(t, gotFatal)
	assert.Equal(t, StateFailed, s.State())
	assert.Equal(t, 0, clk.Pending())
}

func TestScheduler_TransientErrorsRetryAboveFloor(t *testing.T) {
	clk := clock.NewFake(testNow)
	transient := apperrors.Transient("server unavailable")
	r := &recorder{clk: clk, lifetime: time.Hour, rotate: true, errs: []error{transient, transient}}
	s := newScheduler(clk, r, Options{
		RefreshBefore: 5 * time.Minute,
		NewBackOff:    func() backoff.BackOff { return backoff.NewConstantBackOff(time.Second) },
	})

	s.Schedule(Plan{RefreshToken: "R0", ExpiresAt: testNow.Add(10 * time.Minute), RefreshedAt: testNow})
	clk.Advance(9 * time.Minute)

	require.Len(t, r.fired, 3)
	assertFloor(t, testNow, r.fired)
	assert.Equal(t, []string{"R0", "R0", "R0"}, r.used, "retries reuse the captured token")
	assert.Equal(t, StateScheduled, s.State())
}

func TestScheduler_RetryExhaustion(t *testing.T) {
	clk := clock.NewFake(testNow)
	transient := apperrors.Transient("timeout")
	r := &recorder{clk: clk, lifetime: time.Hour, errs: []error{transient, transient, transient, transient}}
	var (
		failures int
		fatal    bool
	)
	s := newScheduler(clk, r, Options{
		RefreshBefore: 5 * time.Minute,
		MaxRetries:    2,
		OnFailure: func(_ error, f bool) {
			failures++
			fatal = f
		},
	})

	s.Schedule(Plan{RefreshToken: "R0", ExpiresAt: testNow.Add(10 * time.Minute), RefreshedAt: testNow})
	clk.Advance(2 * time.Hour)

	assert.Len(t, r.fired, 3)
	assert.Equal(t, 1, failures)
	assert.False(t, fatal)
	assert.Equal(t, StateFailed, s.State())
}

func TestScheduler_NonTransientErrorFailsWithoutRetry(t *testing.T) {
	clk := clock.NewFake(testNow)
	r := &recorder{clk: clk, lifetime: time.Hour, errs: []error{apperrors.Normalization("bad payload")}}
	s := newScheduler(clk, r, Options{RefreshBefore: 5 * time.Minute})

	s.Schedule(Plan{RefreshToken: "R0", ExpiresAt: testNow.Add(10 * time.Minute), RefreshedAt: testNow})
	clk.Advance(time.Hour)

	assert.Len(t, r.fired, 1)
	assert.Equal(t, StateFailed, s.State())
}

func TestScheduler_ExpiryWithoutRefreshToken(t *testing.T) {
	clk := clock.NewFake(testNow)
	r := &recorder{clk: clk}
	expired := 0
	s := newScheduler(clk, r, Options{OnExpired: func() { expired++ }})

	s.Schedule(Plan{ExpiresAt: testNow.Add(30 * time.Minute), RefreshedAt: testNow})
	assert.Equal(t, testNow.Add(30*time.Minute), s.NextFireAt())

	clk.Advance(29 * time.Minute)
	assert.Equal(t, 0, expired)
	clk.Advance(time.Minute)
	assert.Equal(t, 1, expired)
	assert.Empty(t, r.fired)
	assert.Equal(t, StateIdle, s.State())
}

func TestScheduler_Cancel(t *testing.T) {
	clk := clock.NewFake(testNow)
	r := &recorder{clk: clk, lifetime: time.Hour}
	s := newScheduler(clk, r, Options{})

	s.Schedule(Plan{RefreshToken: "R0", ExpiresAt: testNow.Add(10 * time.Minute), RefreshedAt: testNow})
	require.Equal(t, StateScheduled, s.State())
	s.Cancel()

	assert.Equal(t, StateIdle, s.State())
	assert.True(t, s.NextFireAt().IsZero())
	assert.Equal(t, 0, clk.Pending())
	clk.Advance(time.Hour)
	assert.Empty(t, r.fired)
}

func TestScheduler_CancelDuringRefreshDiscardsResult(t *testing.T) {
	clk := clock.NewFake(testNow)
	var s *Scheduler
	var ctxErr error
	refreshed := false
	s = New(Options{
		Clock:         clk,
		Logger:        quietLogger(),
		RefreshBefore: 5 * time.Minute,
		Refresh: func(ctx context.Context, _ string) (domainauth.Tokens, error) {
			s.Cancel()
			ctxErr = ctx.Err()
			return domainauth.Tokens{AccessToken: "A1", ExpiresAt: clk.Now().Add(time.Hour)}, nil
		},
		OnRefreshed: func(domainauth.Tokens) { refreshed = true },
	})

	s.Schedule(Plan{RefreshToken: "R0", ExpiresAt: testNow.Add(10 * time.Minute), RefreshedAt: testNow})
	clk.Advance(6 * time.Minute)

	assert.ErrorIs(t, ctxErr, context.Canceled)
	assert.False(t, refreshed)
	assert.Equal(t, StateIdle, s.State())
	assert.Equal(t, 0, clk.Pending())
}

func TestScheduler_StopPreventsRescheduling(t *testing.T) {
	clk := clock.NewFake(testNow)
	r := &recorder{clk: clk, lifetime: time.Hour}
	s := newScheduler(clk, r, Options{})

	s.Stop()
	s.Schedule(Plan{RefreshToken: "R0", ExpiresAt: testNow.Add(10 * time.Minute)})
	assert.Equal(t, StateIdle, s.State())
	assert.Equal(t, 0, clk.Pending())
}

func TestScheduler_MinIntervalClamped(t *testing.T) {
	s := New(Options{MinInterval: 5 * time.Second, Logger: quietLogger()})
	assert.Equal(t, MinIntervalFloor, s.MinInterval())

	s = New(Options{MinInterval: 2 * time.Minute, Logger: quietLogger()})
	assert.Equal(t, 2*time.Minute, s.MinInterval())
}
