package session

import (
	"context"
	"errors"
	"time"

	domainauth "github.com/target/mmk-auth/internal/domain/auth"
	apperrors "github.com/target/mmk-auth/internal/errors"
	"github.com/target/mmk-auth/internal/events"
	"github.com/target/mmk-auth/internal/storage"
)

// Refresh exchanges the refresh token immediately. Storage is re-read first so a token
// already rotated by another holder is not exchanged again.
func (s *Store) Refresh(ctx context.Context) (domainauth.AuthState, error) {
	if err := s.Sync(ctx); err != nil {
		s.logger.WarnContext(ctx, "sync before refresh failed", "error", err)
	}

	s.opMu.Lock()
	if s.session == nil {
		s.opMu.Unlock()
		return s.State(), errNoSession()
	}
	rt := s.session.Tokens.RefreshToken
	s.opMu.Unlock()

	if rt == "" {
		return s.State(), apperrors.Validation("No refresh token is available. Please sign in again.")
	}

	tokens, err := s.exchangeShared(ctx, rt)
	if err != nil {
		if apperrors.IsAuthRejected(err) {
			s.sched.Cancel()
			s.failFatal(ctx, err)
		}
		s.emit(events.Event{
			Name:  events.RefreshError,
			Error: apperrors.UserMessage(err),
			Data:  map[string]any{"trigger": "manual", "fatal": apperrors.IsAuthRejected(err)},
		})
		return s.State(), err
	}

	_, applied, err := s.applyRefresh(ctx, rt, tokens, true)
	if err != nil {
		return s.State(), err
	}
	if applied {
		s.emit(events.Event{Name: events.TokenRefreshed, Data: map[string]any{"trigger": "manual"}})
	}
	return s.State(), nil
}

// exchangeShared collapses concurrent exchanges of the same refresh token into one call.
func (s *Store) exchangeShared(ctx context.Context, rt string) (domainauth.Tokens, error) {
	v, err, shared := s.group.Do(rt, func() (any, error) {
		return s.exchange(ctx, rt)
	})
	if shared {
		s.logger.DebugContext(ctx, "joined an in-flight refresh")
	}
	if err != nil {
		return domainauth.Tokens{}, err
	}
	return v.(domainauth.Tokens), nil
}

// applyRefresh merges exchanged tokens into the session that was refreshed. If the
// session ended or moved on to another refresh token meanwhile, nothing is applied.
func (s *Store) applyRefresh(ctx context.Context, rt string, tokens domainauth.Tokens, rearm bool) (domainauth.Tokens, bool, error) {
	s.opMu.Lock()
	if s.destroyed || s.session == nil {
		s.opMu.Unlock()
		return domainauth.Tokens{}, false, errNoSession()
	}
	if s.session.Tokens.RefreshToken != rt {
		cur := s.session.Tokens.Clone()
		s.opMu.Unlock()
		return cur, false, nil
	}

	sess := *s.session
	sess.Tokens = mergeTokens(s.session.Tokens, domainauth.TokenUpdate{
		AccessToken:  tokens.AccessToken,
		RefreshToken: tokens.RefreshToken,
		ExpiresAt:    tokens.ExpiresAt,
		Passthrough:  tokens.Passthrough,
	}, s.clock.Now())

	if err := s.commitLocked(ctx, sess, rearm); err != nil {
		// The old refresh token may already be spent, so keep the new one in memory.
		s.logger.ErrorContext(ctx, "refreshed tokens could not be persisted", "error", err)
		s.setSessionLocked(sess)
		if rearm {
			s.scheduleLocked()
		}
	}
	merged := s.session.Tokens.Clone()
	st := copyState(s.state)
	s.opMu.Unlock()

	s.notify(st)
	return merged, true, nil
}

// autoRefresh is the scheduler's refresh function.
func (s *Store) autoRefresh(ctx context.Context, captured string) (domainauth.Tokens, error) {
	if err := s.Sync(ctx); err != nil {
		s.logger.WarnContext(ctx, "sync before scheduled refresh failed", "error", err)
	}

	s.opMu.Lock()
	if s.destroyed || s.session == nil {
		s.opMu.Unlock()
		return domainauth.Tokens{}, errNoSession()
	}
	if s.session.Tokens.RefreshToken != captured {
		cur := s.session.Tokens.Clone()
		s.opMu.Unlock()
		return cur, nil
	}
	s.opMu.Unlock()

	tokens, err := s.exchangeShared(ctx, captured)
	if err != nil {
		return domainauth.Tokens{}, err
	}
	merged, _, err := s.applyRefresh(ctx, captured, tokens, false)
	return merged, err
}

func (s *Store) onAutoRefreshed(domainauth.Tokens) {
	s.emit(events.Event{Name: events.TokenRefreshed, Data: map[string]any{"trigger": "scheduled"}})
}

// onRefreshFailure handles a scheduled refresh that failed for good. A rejected token
// ends the session; exhausted retries keep it so a manual refresh can recover.
func (s *Store) onRefreshFailure(err error, fatal bool) {
	ctx := context.Background()
	if fatal {
		s.failFatal(ctx, err)
	} else {
		s.opMu.Lock()
		if s.session == nil {
			s.opMu.Unlock()
			return
		}
		st := authenticatedState(*s.session)
		st.State = domainauth.StateError
		st.Error = apperrors.UserMessage(err)
		s.state = st
		out := copyState(st)
		s.opMu.Unlock()
		s.notify(out)
	}
	s.emit(events.Event{
		Name:  events.RefreshError,
		Error: apperrors.UserMessage(err),
		Data:  map[string]any{"trigger": "scheduled", "fatal": fatal},
	})
}

// failFatal clears the session after the refresh token was rejected.
func (s *Store) failFatal(ctx context.Context, err error) {
	s.opMu.Lock()
	if clearErr := s.adapter.ClearSession(ctx); clearErr != nil {
		s.logger.WarnContext(ctx, "could not clear rejected session", "error", clearErr)
	}
	var user *domainauth.User
	if s.session != nil {
		u := s.session.User
		user = &u
	}
	s.session = nil
	msg := apperrors.UserMessage(err)
	if !apperrors.IsAuthRejected(err) || msg == "" {
		msg = "Your session has expired. Please sign in again."
	}
	s.state = domainauth.AuthState{State: domainauth.StateError, Error: msg}
	st := copyState(s.state)
	s.opMu.Unlock()

	s.notify(st)
	s.emit(events.Event{Name: events.SessionExpired, User: user, Error: msg})
}

func (s *Store) onExpired() {
	ctx := context.Background()
	s.opMu.Lock()
	if s.session == nil {
		s.opMu.Unlock()
		return
	}
	if err := s.adapter.Clear(ctx); err != nil {
		s.logger.WarnContext(ctx, "could not clear expired session", "error", err)
	}
	u := s.session.User
	s.session = nil
	s.state = domainauth.AuthState{State: domainauth.StateUnauthenticated}
	st := copyState(s.state)
	s.opMu.Unlock()

	s.notify(st)
	s.emit(events.Event{Name: events.SessionExpired, User: &u})
}

// Sync re-reads storage and reconciles with it. A session cleared by another holder
// signs this store out; a newer token set written by another holder is adopted.
func (s *Store) Sync(ctx context.Context) error {
	s.opMu.Lock()
	if s.destroyed {
		s.opMu.Unlock()
		return nil
	}

	stored, err := s.adapter.LoadSession(ctx)
	var (
		changed bool
		ev      *events.Event
	)
	switch {
	case errors.Is(err, storage.ErrNoSession):
		if s.session != nil {
			s.sched.Cancel()
			s.session = nil
			s.state = domainauth.AuthState{State: domainauth.StateUnauthenticated}
			changed = true
			ev = &events.Event{Name: events.SignedOut, Data: map[string]any{"external": true}}
		}
	case err != nil:
		s.opMu.Unlock()
		return err
	default:
		if s.shouldAdoptLocked(stored) {
			s.setSessionLocked(stored)
			s.scheduleLocked()
			changed = true
		}
	}
	st := copyState(s.state)
	s.opMu.Unlock()

	if changed {
		s.logger.InfoContext(ctx, "session changed in storage", "state", st.State)
		s.notify(st)
	}
	if ev != nil {
		s.emit(*ev)
	}
	return nil
}

func (s *Store) shouldAdoptLocked(stored domainauth.Session) bool {
	now := s.clock.Now()
	if stored.Tokens.Expired(now) && stored.Tokens.RefreshToken == "" {
		return false
	}
	cur := s.session
	if cur == nil {
		return true
	}
	if stored.Tokens.AccessToken == cur.Tokens.AccessToken &&
		stored.Tokens.RefreshToken == cur.Tokens.RefreshToken &&
		stored.User.ID == cur.User.ID {
		return false
	}
	return !stored.Tokens.RefreshedAt.Before(cur.Tokens.RefreshedAt.Truncate(time.Millisecond))
}
