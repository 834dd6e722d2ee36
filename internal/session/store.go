// Package session owns the authentication state: it restores the session from storage,
// persists sign-ins and token updates through one save path, drives the refresh
// scheduler, and tolerates other holders of the same storage rotating or clearing it.
package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/target/mmk-auth/internal/clock"
	domainauth "github.com/target/mmk-auth/internal/domain/auth"
	apperrors "github.com/target/mmk-auth/internal/errors"
	"github.com/target/mmk-auth/internal/events"
	"github.com/target/mmk-auth/internal/ports"
	"github.com/target/mmk-auth/internal/refresh"
	"github.com/target/mmk-auth/internal/storage"
)

// Listener observes state changes. It receives a copy of the new state.
type Listener func(domainauth.AuthState)

// ExchangeFunc trades a refresh token for a new token set. An empty RefreshToken in the
// result means the server did not rotate it.
type ExchangeFunc func(ctx context.Context, refreshToken string) (domainauth.Tokens, error)

// Options configures a Store.
type Options struct {
	Adapter  *storage.Adapter
	Exchange ExchangeFunc
	Clock    clock.Clock
	Events   *events.Bus
	Logger   *slog.Logger

	RefreshBefore time.Duration
	MinInterval   time.Duration
	MaxRetries    int
}

// Store is safe for concurrent use. Storage writes and state transitions are serialized
// by opMu; listeners and event handlers run after it is released.
type Store struct {
	exchange ExchangeFunc
	clock    clock.Clock
	bus      *events.Bus
	logger   *slog.Logger
	sched    *refresh.Scheduler
	group    singleflight.Group

	opMu      sync.Mutex
	adapter   *storage.Adapter
	session   *domainauth.Session
	state     domainauth.AuthState
	destroyed bool
	stopWatch func()

	lmu       sync.Mutex
	listeners []listenerEntry
	nextID    int
}

type listenerEntry struct {
	id int
	fn Listener
}

// New constructs a Store and restores any session found in storage.
func New(ctx context.Context, opts Options) (*Store, error) {
	if opts.Adapter == nil {
		return nil, errors.New("Adapter is required")
	}
	if opts.Exchange == nil {
		return nil, errors.New("Exchange is required")
	}

	s := &Store{
		exchange: opts.Exchange,
		clock:    opts.Clock,
		bus:      opts.Events,
		logger:   opts.Logger,
		adapter:  opts.Adapter,
		state:    domainauth.AuthState{State: domainauth.StateUnauthenticated},
	}
	if s.clock == nil {
		s.clock = clock.Real{}
	}
	if s.logger == nil {
		s.logger = slog.Default()
	}
	s.logger = s.logger.With("component", "session")

	s.sched = refresh.New(refresh.Options{
		Clock:         s.clock,
		RefreshBefore: opts.RefreshBefore,
		MinInterval:   opts.MinInterval,
		MaxRetries:    opts.MaxRetries,
		Refresh:       s.autoRefresh,
		OnRefreshed:   s.onAutoRefreshed,
		OnFailure:     s.onRefreshFailure,
		OnExpired:     s.onExpired,
		Logger:        s.logger,
	})

	s.restore(ctx)
	s.watch(opts.Adapter)
	return s, nil
}

// restore loads the stored session. Failures are logged and leave the store unauthenticated.
func (s *Store) restore(ctx context.Context) {
	s.opMu.Lock()
	defer s.opMu.Unlock()

	sess, err := s.adapter.LoadSession(ctx)
	switch {
	case errors.Is(err, storage.ErrNoSession):
		return
	case err != nil:
		s.logger.WarnContext(ctx, "could not restore session", "error", err)
		return
	}

	if sess.Tokens.Expired(s.clock.Now()) {
		s.logger.InfoContext(ctx, "stored session expired, clearing")
		if clearErr := s.adapter.Clear(ctx); clearErr != nil {
			s.logger.WarnContext(ctx, "could not clear expired session", "error", clearErr)
		}
		return
	}

	s.setSessionLocked(sess)
	s.scheduleLocked()
	s.logger.InfoContext(ctx, "session restored",
		"method", sess.Method,
		"expires_at", sess.Tokens.ExpiresAt)
}

// State returns a copy of the current state.
func (s *Store) State() domainauth.AuthState {
	s.opMu.Lock()
	defer s.opMu.Unlock()
	return copyState(s.state)
}

// Session returns a copy of the current session.
func (s *Store) Session() (domainauth.Session, bool) {
	s.opMu.Lock()
	defer s.opMu.Unlock()
	if s.session == nil {
		return domainauth.Session{}, false
	}
	out := *s.session
	out.Tokens = s.session.Tokens.Clone()
	return out, true
}

// SessionRole returns the role the current session is held under, or "" when signed out.
func (s *Store) SessionRole() domainauth.Role {
	s.opMu.Lock()
	defer s.opMu.Unlock()
	if s.session == nil {
		return ""
	}
	return s.session.Role
}

// Adapter returns the storage adapter in use.
func (s *Store) Adapter() *storage.Adapter {
	s.opMu.Lock()
	defer s.opMu.Unlock()
	return s.adapter
}

// Scheduler exposes the refresh scheduler for inspection.
func (s *Store) Scheduler() *refresh.Scheduler { return s.sched }

// Subscribe registers l and returns a function that removes it.
func (s *Store) Subscribe(l Listener) func() {
	if l == nil {
		return func() {}
	}
	s.lmu.Lock()
	s.nextID++
	id := s.nextID
	s.listeners = append(s.listeners, listenerEntry{id: id, fn: l})
	s.lmu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			s.lmu.Lock()
			defer s.lmu.Unlock()
			for i, e := range s.listeners {
				if e.id == id {
					s.listeners = append(s.listeners[:i:i], s.listeners[i+1:]...)
					return
				}
			}
		})
	}
}

// CompleteSignIn persists a normalized sign-in and arms the scheduler. Incomplete data
// is rejected without touching storage.
func (s *Store) CompleteSignIn(ctx context.Context, data domainauth.SignInData) error {
	sess := domainauth.Session{User: data.User, Tokens: data.Tokens.Clone(), Method: data.Method}
	if !sess.Complete() {
		return apperrors.Normalization("The sign-in response was incomplete.")
	}
	if sess.Tokens.RefreshedAt.IsZero() {
		sess.Tokens.RefreshedAt = s.clock.Now()
	}

	s.opMu.Lock()
	if s.destroyed {
		s.opMu.Unlock()
		return apperrors.Internal("session store is closed")
	}
	sess.Role = s.adapter.Role()
	if err := s.commitWith(ctx, sess, true, s.adapter.SaveSignIn); err != nil {
		s.opMu.Unlock()
		return err
	}
	st := copyState(s.state)
	s.opMu.Unlock()

	s.notify(st)
	return nil
}

// FailSignIn records a sign-in failure. An existing session is left untouched.
func (s *Store) FailSignIn(message string) {
	s.opMu.Lock()
	if s.session != nil {
		s.opMu.Unlock()
		return
	}
	s.state = domainauth.AuthState{State: domainauth.StateError, Error: message}
	st := copyState(s.state)
	s.opMu.Unlock()

	s.notify(st)
}

// UpdateUser replaces the stored user.
func (s *Store) UpdateUser(ctx context.Context, user domainauth.User) error {
	if !user.Valid() {
		return apperrors.ValidationField("user", "A user needs an id and an email.")
	}

	s.opMu.Lock()
	if s.session == nil {
		s.opMu.Unlock()
		return errNoSession()
	}
	sess := *s.session
	sess.Tokens = s.session.Tokens.Clone()
	sess.User = user
	if err := s.commitLocked(ctx, sess, false); err != nil {
		s.opMu.Unlock()
		return err
	}
	st := copyState(s.state)
	s.opMu.Unlock()

	s.notify(st)
	return nil
}

// UpdateTokens merges upd into the current tokens. An empty refresh token keeps the
// stored one; passthrough entries are merged key by key.
func (s *Store) UpdateTokens(ctx context.Context, upd domainauth.TokenUpdate) error {
	if upd.AccessToken == "" {
		return apperrors.ValidationField("access_token", "An access token is required.")
	}

	s.opMu.Lock()
	if s.session == nil {
		s.opMu.Unlock()
		return errNoSession()
	}
	sess := *s.session
	sess.Tokens = mergeTokens(s.session.Tokens, upd, s.clock.Now())
	if err := s.commitLocked(ctx, sess, true); err != nil {
		s.opMu.Unlock()
		return err
	}
	st := copyState(s.state)
	s.opMu.Unlock()

	s.notify(st)
	return nil
}

func mergeTokens(cur domainauth.Tokens, upd domainauth.TokenUpdate, now time.Time) domainauth.Tokens {
	out := cur.Clone()
	out.AccessToken = upd.AccessToken
	if upd.RefreshToken != "" {
		out.RefreshToken = upd.RefreshToken
	}
	if !upd.ExpiresAt.IsZero() {
		out.ExpiresAt = upd.ExpiresAt
	}
	out.RefreshedAt = now
	if len(upd.Passthrough) > 0 {
		if out.Passthrough == nil {
			out.Passthrough = make(map[string]json.RawMessage, len(upd.Passthrough))
		}
		for k, v := range upd.Passthrough {
			out.Passthrough[k] = append(json.RawMessage(nil), v...)
		}
	}
	return out
}

// SignOut clears storage, including legacy keys, and cancels the refresh timer. Local
// state is reset even when clearing storage fails.
func (s *Store) SignOut(ctx context.Context) error {
	s.sched.Cancel()

	s.opMu.Lock()
	err := s.adapter.ClearSession(ctx)
	s.session = nil
	s.state = domainauth.AuthState{State: domainauth.StateUnauthenticated}
	st := copyState(s.state)
	s.opMu.Unlock()

	if err != nil {
		s.logger.WarnContext(ctx, "sign-out could not clear all stored keys", "error", err)
	}
	s.notify(st)
	s.emit(events.Event{Name: events.SignedOut})
	return err
}

// RecordActivity restarts the idle timeout of the stored session.
func (s *Store) RecordActivity(ctx context.Context) error {
	s.opMu.Lock()
	defer s.opMu.Unlock()
	if s.session == nil {
		return nil
	}
	return s.adapter.Touch(ctx)
}

// MigrateStorage moves the stored session to a and, on success, makes a the active
// adapter. Storage writes from this store are held off until the move completes.
func (s *Store) MigrateStorage(ctx context.Context, a *storage.Adapter, req storage.MigrationRequest) storage.MigrationResult {
	if a == nil {
		return storage.MigrationResult{DataPreserved: true, Err: apperrors.Migration("no destination storage")}
	}

	s.opMu.Lock()
	if s.destroyed {
		s.opMu.Unlock()
		return storage.MigrationResult{DataPreserved: true, Err: apperrors.Internal("session store is closed")}
	}
	if s.session != nil && s.session.Role.Rank() > req.AuthenticatedRole.Rank() {
		req.AuthenticatedRole = s.session.Role
	}
	res := storage.Migrate(ctx, s.adapter, a, req)
	if !res.Success {
		s.opMu.Unlock()
		return res
	}
	if s.session != nil {
		s.session.Role = req.TargetRole
	}
	stop := s.stopWatch
	s.stopWatch = nil
	s.adapter = a
	s.opMu.Unlock()

	if stop != nil {
		stop()
	}
	s.watch(a)
	return res
}

// Destroy stops the scheduler synchronously and detaches from storage. Results of
// refreshes still in flight are discarded.
func (s *Store) Destroy() {
	s.sched.Stop()

	s.opMu.Lock()
	s.destroyed = true
	stop := s.stopWatch
	s.stopWatch = nil
	s.opMu.Unlock()

	if stop != nil {
		stop()
	}
	s.lmu.Lock()
	s.listeners = nil
	s.lmu.Unlock()
}

// commitLocked is the single save path. State changes only after a successful save.
// Caller holds opMu.
func (s *Store) commitLocked(ctx context.Context, sess domainauth.Session, rearm bool) error {
	return s.commitWith(ctx, sess, rearm, s.adapter.SaveSession)
}

func (s *Store) commitWith(ctx context.Context, sess domainauth.Session, rearm bool,
	save func(context.Context, domainauth.Session) error,
) error {
	if err := save(ctx, sess); err != nil {
		return fmt.Errorf("persist session: %w", err)
	}
	s.setSessionLocked(sess)
	if rearm {
		s.scheduleLocked()
	}
	return nil
}

func (s *Store) setSessionLocked(sess domainauth.Session) {
	stored := sess
	stored.Tokens = sess.Tokens.Clone()
	s.session = &stored
	s.state = authenticatedState(stored)
}

func (s *Store) scheduleLocked() {
	if s.session == nil || s.destroyed {
		return
	}
	s.sched.Schedule(refresh.Plan{
		RefreshToken: s.session.Tokens.RefreshToken,
		ExpiresAt:    s.session.Tokens.ExpiresAt,
		RefreshedAt:  s.session.Tokens.RefreshedAt,
	})
}

func authenticatedState(sess domainauth.Session) domainauth.AuthState {
	user := sess.User
	return domainauth.AuthState{
		State:        domainauth.StateAuthenticated,
		User:         &user,
		AccessToken:  sess.Tokens.AccessToken,
		RefreshToken: sess.Tokens.RefreshToken,
		ExpiresAt:    sess.Tokens.ExpiresAt,
		RefreshedAt:  sess.Tokens.RefreshedAt,
		Method:       sess.Method,
	}
}

func copyState(st domainauth.AuthState) domainauth.AuthState {
	if st.User != nil {
		u := *st.User
		st.User = &u
	}
	return st
}

func (s *Store) notify(st domainauth.AuthState) {
	s.lmu.Lock()
	ls := append([]listenerEntry(nil), s.listeners...)
	s.lmu.Unlock()

	for _, l := range ls {
		s.callListener(l.fn, copyState(st))
	}
}

func (s *Store) callListener(fn Listener, st domainauth.AuthState) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("state listener panicked", "panic", r)
		}
	}()
	fn(st)
}

func (s *Store) emit(ev events.Event) {
	if s.bus != nil {
		s.bus.Emit(ev)
	}
}

func errNoSession() error {
	return apperrors.Validation("There is no active session.")
}

// watch subscribes to backend change notifications when the backend supports them.
// Notifications are handled on their own goroutine since they may be raised by this
// store's own writes.
func (s *Store) watch(a *storage.Adapter) {
	n, ok := a.Backend().(ports.ChangeNotifier)
	if !ok {
		return
	}
	accessKey := a.Key(storage.KeyAccessToken)
	stop := n.Watch(func(key string) {
		if key != accessKey {
			return
		}
		go func() {
			if err := s.Sync(context.Background()); err != nil {
				s.logger.Warn("sync after storage change failed", "error", err)
			}
		}()
	})

	s.opMu.Lock()
	if s.destroyed || s.adapter != a {
		s.opMu.Unlock()
		stop()
		return
	}
	s.stopWatch = stop
	s.opMu.Unlock()
}
