package refresh

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v5"

	"github.com/target/mmk-auth/internal/clock"
	domainauth "github.com/target/mmk-auth/internal/domain/auth"
	apperrors "github.com/target/mmk-auth/internal/errors"
)

// State is the scheduler state.
type State string

const (
	StateIdle       State = "idle"
	StateScheduled  State = "scheduled"
	StateRefreshing State = "refreshing"
	StateFailed     State = "failed"
)

// DefaultMaxRetries bounds transient retries of one refresh.
const DefaultMaxRetries = 3

// RefreshFunc exchanges refreshToken for a new token set. The returned tokens must carry
// the refresh token to use next; an empty one keeps refreshToken.
type RefreshFunc func(ctx context.Context, refreshToken string) (domainauth.Tokens, error)

// Options configures a Scheduler.
type Options struct {
	Clock         clock.Clock
	RefreshBefore time.Duration
	// MinInterval is raised to MinIntervalFloor when smaller.
	MinInterval time.Duration
	// MaxRetries bounds transient retries. Zero uses DefaultMaxRetries; negative disables retries.
	MaxRetries int
	Refresh    RefreshFunc
	// OnRefreshed is called after a successful automatic refresh.
	OnRefreshed func(tokens domainauth.Tokens)
	// OnFailure is called when a refresh fails for good. fatal is true when the refresh
	// token was rejected; otherwise retries were exhausted.
	OnFailure func(err error, fatal bool)
	// OnExpired is called when a token without a refresh path reaches its expiry.
	OnExpired func()
	// NewBackOff builds the retry policy for one refresh. Delays below MinInterval are raised.
	NewBackOff func() backoff.BackOff
	Logger     *slog.Logger
}

// Scheduler arms one timer at a time. Every Schedule, Cancel and Stop bumps a
// generation counter so callbacks from earlier arms are dropped.
type Scheduler struct {
	clock         clock.Clock
	refreshBefore time.Duration
	minInterval   time.Duration
	maxRetries    int
	refresh       RefreshFunc
	onRefreshed   func(domainauth.Tokens)
	onFailure     func(error, bool)
	onExpired     func()
	newBackOff    func() backoff.BackOff
	logger        *slog.Logger

	mu          sync.Mutex
	state       State
	gen         uint64
	timer       clock.Timer
	cancelArm   context.CancelFunc
	plan        Plan
	nextFireAt  time.Time
	lastFiredAt time.Time
	attempt     int
	bo          backoff.BackOff
	stopped     bool
}

// New constructs a Scheduler in the idle state.
func New(opts Options) *Scheduler {
	s := &Scheduler{
		clock:         opts.Clock,
		refreshBefore: opts.RefreshBefore,
		minInterval:   clampFloor(opts.MinInterval),
		maxRetries:    opts.MaxRetries,
		refresh:       opts.Refresh,
		onRefreshed:   opts.OnRefreshed,
		onFailure:     opts.OnFailure,
		onExpired:     opts.OnExpired,
		newBackOff:    opts.NewBackOff,
		logger:        opts.Logger,
		state:         StateIdle,
	}
	if s.clock == nil {
		s.clock = clock.Real{}
	}
	if s.refreshBefore <= 0 {
		s.refreshBefore = DefaultRefreshBefore
	}
	if s.maxRetries < 0 {
		s.maxRetries = 0
	} else if opts.MaxRetries == 0 {
		s.maxRetries = DefaultMaxRetries
	}
	if s.newBackOff == nil {
		s.newBackOff = s.defaultBackOff
	}
	if s.logger == nil {
		s.logger = slog.Default()
	}
	s.logger = s.logger.With("component", "refresh")
	return s
}

func (s *Scheduler) defaultBackOff() backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = s.minInterval
	b.MaxInterval = 10 * s.minInterval
	return b
}

// MinInterval returns the effective floor between firings.
func (s *Scheduler) MinInterval() time.Duration { return s.minInterval }

// State returns the current state.
func (s *Scheduler) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// NextFireAt returns when the armed timer fires, or zero when nothing is armed.
func (s *Scheduler) NextFireAt() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.nextFireAt
}

// LastFiredAt returns when a refresh last fired.
func (s *Scheduler) LastFiredAt() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastFiredAt
}

// Schedule replaces any armed timer with one computed from p. With no refresh token an
// expiry timer is armed instead.
func (s *Scheduler) Schedule(p Plan) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopped {
		return
	}
	s.disarmLocked()
	s.plan = p
	s.attempt = 0
	s.bo = nil
	if p.ExpiresAt.IsZero() {
		s.state = StateIdle
		return
	}
	s.armLocked(s.gen, 0)
}

// Cancel disarms the scheduler. An in-flight refresh has its context canceled and its
// result discarded.
func (s *Scheduler) Cancel() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.disarmLocked()
	s.state = StateIdle
}

// Stop cancels and prevents any further scheduling.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.disarmLocked()
	s.state = StateIdle
	s.stopped = true
}

// disarmLocked stops the timer and bumps the generation. Caller holds mu.
func (s *Scheduler) disarmLocked() {
	s.gen++
	if s.timer != nil {
		s.timer.Stop()
		s.timer = nil
	}
	if s.cancelArm != nil {
		s.cancelArm()
		s.cancelArm = nil
	}
	s.nextFireAt = time.Time{}
}

// armLocked arms the timer for the current plan. A positive retryDelay pushes the
// firing out by at least that much. Caller holds mu.
func (s *Scheduler) armLocked(gen uint64, retryDelay time.Duration) {
	now := s.clock.Now()
	p := s.plan

	if p.RefreshToken == "" {
		at := later(p.ExpiresAt, now)
		s.setTimerLocked(at, func(context.Context) { s.expire(gen) })
		return
	}

	at := NextFireAt(p, s.lastFiredAt, now, s.refreshBefore, s.minInterval)
	if retryDelay > 0 {
		at = later(at, now.Add(retryDelay))
	}
	if at.After(p.ExpiresAt) {
		s.logger.Warn("refresh floor lands after token expiry, serving the expiring token until then",
			"next_fire_at", at,
			"expires_at", p.ExpiresAt)
	}
	refreshToken := p.RefreshToken
	s.setTimerLocked(at, func(ctx context.Context) { s.fire(ctx, gen, refreshToken) })
}

func (s *Scheduler) setTimerLocked(at time.Time, fn func(context.Context)) {
	if s.cancelArm != nil {
		s.cancelArm()
	}
	ctx, cancel := context.WithCancel(context.Background())
	s.cancelArm = cancel
	s.state = StateScheduled
	s.nextFireAt = at
	s.timer = s.clock.AfterFunc(at.Sub(s.clock.Now()), func() { fn(ctx) })
}

func (s *Scheduler) expire(gen uint64) {
	s.mu.Lock()
	if gen != s.gen {
		s.mu.Unlock()
		return
	}
	s.timer = nil
	s.nextFireAt = time.Time{}
	s.state = StateIdle
	s.mu.Unlock()

	s.logger.Info("session expired without a refresh token")
	if s.onExpired != nil {
		s.onExpired()
	}
}

// fire runs one refresh with the token captured when the timer was armed.
func (s *Scheduler) fire(ctx context.Context, gen uint64, refreshToken string) {
	s.mu.Lock()
	if gen != s.gen {
		s.mu.Unlock()
		return
	}
	s.timer = nil
	s.nextFireAt = time.Time{}
	s.state = StateRefreshing
	s.lastFiredAt = s.clock.Now()
	attempt := s.attempt
	s.mu.Unlock()

	s.logger.Debug("refresh fired", "attempt", attempt+1)
	tokens, err := s.refresh(ctx, refreshToken)

	s.mu.Lock()
	if gen != s.gen {
		s.mu.Unlock()
		s.logger.Debug("discarding refresh result from a canceled schedule")
		return
	}

	if err == nil {
		if tokens.RefreshToken == "" {
			tokens.RefreshToken = refreshToken
		}
		s.plan = Plan{
			RefreshToken: tokens.RefreshToken,
			ExpiresAt:    tokens.ExpiresAt,
			RefreshedAt:  tokens.RefreshedAt,
		}
		s.attempt = 0
		s.bo = nil
		s.armLocked(gen, 0)
		s.mu.Unlock()
		if s.onRefreshed != nil {
			s.onRefreshed(tokens)
		}
		return
	}

	if apperrors.IsAuthRejected(err) {
		s.failLocked()
		s.mu.Unlock()
		s.logger.Warn("refresh token rejected", "error", err)
		if s.onFailure != nil {
			s.onFailure(err, true)
		}
		return
	}

	if apperrors.IsTransient(err) && s.attempt < s.maxRetries {
		if s.bo == nil {
			s.bo = s.newBackOff()
		}
		delay := s.bo.NextBackOff()
		if delay != backoff.Stop {
			s.attempt++
			if delay < s.minInterval {
				delay = s.minInterval
			}
			s.armLocked(gen, delay)
			next := s.nextFireAt
			s.mu.Unlock()
			s.logger.Warn("refresh failed, retrying",
				"attempt", attempt+1,
				"next_fire_at", next,
				"error", err)
			return
		}
	}

	s.failLocked()
	s.mu.Unlock()
	s.logger.Error("refresh failed", "attempts", attempt+1, "error", err)
	if s.onFailure != nil {
		s.onFailure(err, false)
	}
}

func (s *Scheduler) failLocked() {
	s.state = StateFailed
	s.attempt = 0
	s.bo = nil
	if s.cancelArm != nil {
		s.cancelArm()
		s.cancelArm = nil
	}
}
