package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/oauth2"

	"github.com/target/mmk-auth/internal/clock"
	domainauth "github.com/target/mmk-auth/internal/domain/auth"
	apperrors "github.com/target/mmk-auth/internal/errors"
	"github.com/target/mmk-auth/internal/events"
	"github.com/target/mmk-auth/internal/normalize"
	"github.com/target/mmk-auth/internal/observability/metrics"
	"github.com/target/mmk-auth/internal/observability/statsd"
	"github.com/target/mmk-auth/internal/ports"
	"github.com/target/mmk-auth/internal/session"
	"github.com/target/mmk-auth/internal/storage"
)

// AuthClientOptions groups dependencies for AuthClient.
type AuthClientOptions struct {
	API           ports.IdentityAPI
	Authenticator ports.Authenticator
	// Normalizer defaults to one with no passthrough paths.
	Normalizer *normalize.Normalizer
	// Factory defaults to in-memory session storage and ./mmk-auth-session.json local storage.
	Factory *storage.Factory
	Storage domainauth.StorageConfiguration

	Clock   clock.Clock
	Events  *events.Bus
	Metrics statsd.Sink
	Logger  *slog.Logger

	RefreshBefore time.Duration
	MinInterval   time.Duration
	MaxRetries    int
}

// AuthClient is the public face of the SDK: passwordless sign-in flows on top of the
// session store, refresh scheduler and storage layer.
type AuthClient struct {
	api        ports.IdentityAPI
	authn      ports.Authenticator
	normalizer *normalize.Normalizer
	factory    *storage.Factory
	store      *session.Store
	bus        *events.Bus
	metrics    statsd.Sink
	clock      clock.Clock
	logger     *slog.Logger

	cfgMu sync.Mutex
	cfg   domainauth.StorageConfiguration

	// pending holds the attempt opened by a send step until its verify step succeeds.
	attemptMu sync.Mutex
	pending   map[domainauth.AuthMethod]string

	unsubscribe []func()
	closeOnce   sync.Once
}

// NewAuthClient wires the SDK and restores any stored session.
func NewAuthClient(ctx context.Context, opts AuthClientOptions) (*AuthClient, error) {
	if opts.API == nil {
		return nil, errors.New("API is required")
	}

	c := &AuthClient{
		api:        opts.API,
		authn:      opts.Authenticator,
		normalizer: opts.Normalizer,
		factory:    opts.Factory,
		bus:        opts.Events,
		metrics:    opts.Metrics,
		clock:      opts.Clock,
		logger:     opts.Logger,
		pending:    make(map[domainauth.AuthMethod]string),
	}
	if c.clock == nil {
		c.clock = clock.Real{}
	}
	if c.logger == nil {
		c.logger = slog.Default()
	}
	c.logger = c.logger.With("component", "auth_client")
	if c.bus == nil {
		c.bus = events.NewBus(events.BusOptions{Logger: opts.Logger, Now: c.clock.Now})
	}
	if c.normalizer == nil {
		n, err := normalize.New(normalize.Options{Clock: c.clock, Logger: opts.Logger})
		if err != nil {
			return nil, fmt.Errorf("create normalizer: %w", err)
		}
		c.normalizer = n
	}
	if c.factory == nil {
		c.factory = storage.NewFactory(storage.FactoryOptions{
			FilePath: "mmk-auth-session.json",
			Clock:    c.clock,
			Logger:   opts.Logger,
		})
	}

	cfg, err := normalizeStorageConfig(opts.Storage)
	if err != nil {
		return nil, err
	}
	adapter, err := c.factory.Adapter(cfg)
	if err != nil {
		return nil, fmt.Errorf("create storage adapter: %w", err)
	}
	c.cfg = cfg

	store, err := session.New(ctx, session.Options{
		Adapter:       adapter,
		Exchange:      c.exchange,
		Clock:         c.clock,
		Events:        c.bus,
		Logger:        opts.Logger,
		RefreshBefore: opts.RefreshBefore,
		MinInterval:   opts.MinInterval,
		MaxRetries:    opts.MaxRetries,
	})
	if err != nil {
		return nil, fmt.Errorf("create session store: %w", err)
	}
	c.store = store

	c.unsubscribe = append(c.unsubscribe,
		c.bus.On(events.TokenRefreshed, c.recordRefresh),
		c.bus.On(events.RefreshError, c.recordRefresh),
	)
	return c, nil
}

func normalizeStorageConfig(cfg domainauth.StorageConfiguration) (domainauth.StorageConfiguration, error) {
	if cfg.Type == "" {
		cfg.Type = domainauth.StorageSession
	}
	if cfg.UserRole == "" {
		cfg.UserRole = domainauth.RoleGuest
	}
	kind, err := domainauth.ParseStorageType(string(cfg.Type))
	if err != nil {
		return cfg, apperrors.Wrap(err, apperrors.ErrCodeValidation, "Unknown storage type.")
	}
	cfg.Type = kind
	if !cfg.UserRole.Valid() {
		return cfg, apperrors.ValidationField("userRole", "Unknown user role.")
	}
	if cfg.SessionTimeout < 0 {
		return cfg, apperrors.ValidationField("sessionTimeout", "Session timeout cannot be negative.")
	}
	return cfg, nil
}

// exchange is the refresh call used by both scheduled and manual refreshes.
func (c *AuthClient) exchange(ctx context.Context, refreshToken string) (domainauth.Tokens, error) {
	start := c.clock.Now()
	raw, err := c.api.Refresh(ctx, refreshToken)
	metrics.EmitRefreshLatency(c.metrics, c.clock.Now().Sub(start), err)
	if err != nil {
		return domainauth.Tokens{}, err
	}
	return c.normalizer.NormalizeRefresh(raw)
}

func (c *AuthClient) recordRefresh(ev events.Event) {
	trigger, _ := ev.Data["trigger"].(string)
	result := metrics.ResultSuccess
	var err error
	if ev.Name == events.RefreshError {
		result = metrics.ResultError
		err = apperrors.Transient(ev.Error)
		if fatal, _ := ev.Data["fatal"].(bool); fatal {
			err = apperrors.AuthRejected(ev.Error)
		}
	}
	metrics.EmitRefresh(c.metrics, metrics.RefreshMetric{Trigger: trigger, Result: result, Err: err})
}

// CheckUser reports whether an account exists and has a passkey.
func (c *AuthClient) CheckUser(ctx context.Context, email string) (domainauth.CheckUserResult, error) {
	email = strings.TrimSpace(email)
	if err := validate(emailRequest{Email: email}); err != nil {
		return domainauth.CheckUserResult{}, err
	}
	return c.api.CheckUser(ctx, email)
}

// SignInWithPasskey runs check-user, challenge, assertion and verification, then
// persists the resulting session.
func (c *AuthClient) SignInWithPasskey(ctx context.Context, email string) (domainauth.AuthState, error) {
	email = strings.TrimSpace(email)
	if err := validate(emailRequest{Email: email}); err != nil {
		return c.State(), err
	}
	if c.authn == nil || !c.authn.Available(ctx) {
		return c.State(), apperrors.Validation("Passkeys are not supported on this device.")
	}

	attempt := c.startAttempt(ctx, domainauth.MethodPasskey)
	return c.signIn(ctx, domainauth.MethodPasskey, attempt, func(ctx context.Context) ([]byte, error) {
		check, err := c.api.CheckUser(ctx, email)
		if err != nil {
			return nil, err
		}
		if !check.Exists {
			return nil, apperrors.ValidationField("email", "No account exists for this email.")
		}
		if !check.HasPasskey {
			return nil, apperrors.ValidationField("email", "No passkey is registered for this account.")
		}

		challenge, err := c.api.PasskeyChallenge(ctx, email)
		if err != nil {
			return nil, err
		}
		credential, err := c.authn.GetAssertion(ctx, challenge.Assertion)
		if err != nil {
			return nil, apperrors.Wrap(err, apperrors.ErrCodeAuthRejected, "The passkey prompt was dismissed or failed.")
		}

		userID := challenge.UserID
		if userID == "" {
			userID = check.UserID
		}
		return c.api.VerifyPasskey(ctx, ports.VerifyPasskeyInput{
			Email:       email,
			UserID:      userID,
			ChallengeID: challenge.ChallengeID,
			Credential:  credential,
		})
	})
}

// SignInWithMagicLink asks the identity API to email a sign-in link. The session is
// created later by CompleteMagicLink.
func (c *AuthClient) SignInWithMagicLink(ctx context.Context, email string) (domainauth.MagicLinkResult, error) {
	email = strings.TrimSpace(email)
	if err := validate(emailRequest{Email: email}); err != nil {
		return domainauth.MagicLinkResult{}, err
	}
	c.rememberAttempt(domainauth.MethodMagicLink, c.startAttempt(ctx, domainauth.MethodMagicLink))

	res, err := c.api.SendMagicLink(ctx, email)
	if err != nil {
		c.failSignIn(domainauth.MethodMagicLink, err, 0)
		return domainauth.MagicLinkResult{}, err
	}
	if !res.Sent {
		err = apperrors.Normalization("The sign-in link could not be sent.")
		c.failSignIn(domainauth.MethodMagicLink, err, 0)
		return res, err
	}
	return res, nil
}

// CompleteMagicLink exchanges the token from a magic link for a session.
func (c *AuthClient) CompleteMagicLink(ctx context.Context, token string) (domainauth.AuthState, error) {
	token = strings.TrimSpace(token)
	if err := validate(magicLinkRequest{Token: token}); err != nil {
		return c.State(), err
	}
	attempt := c.resumeAttempt(ctx, domainauth.MethodMagicLink)
	return c.signIn(ctx, domainauth.MethodMagicLink, attempt, func(ctx context.Context) ([]byte, error) {
		return c.api.VerifyMagicLink(ctx, token)
	})
}

// SendEmailCode asks the identity API to email a one-time code.
func (c *AuthClient) SendEmailCode(ctx context.Context, email string) error {
	email = strings.TrimSpace(email)
	if err := validate(emailRequest{Email: email}); err != nil {
		return err
	}
	c.rememberAttempt(domainauth.MethodEmailCode, c.startAttempt(ctx, domainauth.MethodEmailCode))
	if err := c.api.SendEmailCode(ctx, email); err != nil {
		c.failSignIn(domainauth.MethodEmailCode, err, 0)
		return err
	}
	return nil
}

// SignInWithEmailCode verifies a one-time code and persists the resulting session.
func (c *AuthClient) SignInWithEmailCode(ctx context.Context, email, code string) (domainauth.AuthState, error) {
	email = strings.TrimSpace(email)
	code = strings.TrimSpace(code)
	if err := validate(emailCodeRequest{Email: email, Code: code}); err != nil {
		return c.State(), err
	}
	attempt := c.resumeAttempt(ctx, domainauth.MethodEmailCode)
	return c.signIn(ctx, domainauth.MethodEmailCode, attempt, func(ctx context.Context) ([]byte, error) {
		return c.api.VerifyEmailCode(ctx, email, code)
	})
}

// startAttempt opens a sign-in attempt and announces it.
func (c *AuthClient) startAttempt(ctx context.Context, method domainauth.AuthMethod) string {
	attempt := uuid.NewString()
	c.logger.DebugContext(ctx, "sign-in started", "method", method, "attempt_id", attempt)
	c.emit(events.Event{Name: events.SignInStarted, Method: method, Data: map[string]any{"attempt_id": attempt}})
	return attempt
}

func (c *AuthClient) rememberAttempt(method domainauth.AuthMethod, attempt string) {
	c.attemptMu.Lock()
	c.pending[method] = attempt
	c.attemptMu.Unlock()
}

// resumeAttempt continues the attempt a send step opened. A verify step with no send
// step in this process (a link opened elsewhere) starts its own attempt.
func (c *AuthClient) resumeAttempt(ctx context.Context, method domainauth.AuthMethod) string {
	c.attemptMu.Lock()
	attempt, ok := c.pending[method]
	c.attemptMu.Unlock()
	if ok {
		return attempt
	}
	return c.startAttempt(ctx, method)
}

func (c *AuthClient) finishAttempt(method domainauth.AuthMethod, attempt string) {
	c.attemptMu.Lock()
	if c.pending[method] == attempt {
		delete(c.pending, method)
	}
	c.attemptMu.Unlock()
}

// signIn runs the verifying step of an attempt: call, normalize, persist. Nothing is
// saved unless normalization succeeds. A failed step keeps the attempt open so a
// corrected code continues it.
func (c *AuthClient) signIn(ctx context.Context, method domainauth.AuthMethod, attempt string, call func(context.Context) ([]byte, error)) (domainauth.AuthState, error) {
	start := c.clock.Now()

	raw, err := call(ctx)
	if err != nil {
		c.failSignIn(method, err, c.clock.Now().Sub(start))
		return c.State(), err
	}

	data, err := c.normalizer.Normalize(raw, normalize.Context{Method: method})
	if err != nil {
		c.failSignIn(method, err, c.clock.Now().Sub(start))
		return c.State(), err
	}

	if err := c.store.CompleteSignIn(ctx, data); err != nil {
		c.failSignIn(method, err, c.clock.Now().Sub(start))
		return c.State(), err
	}

	c.finishAttempt(method, attempt)
	user := data.User
	c.emit(events.Event{Name: events.SignInSuccess, Method: method, User: &user, Data: map[string]any{"attempt_id": attempt}})
	metrics.EmitSignIn(c.metrics, metrics.SignInMetric{
		Method:   string(method),
		Result:   metrics.ResultSuccess,
		Duration: c.clock.Now().Sub(start),
	})
	c.logger.InfoContext(ctx, "signed in", "method", method, "user_id", user.ID, "attempt_id", attempt)
	return c.State(), nil
}

func (c *AuthClient) failSignIn(method domainauth.AuthMethod, err error, d time.Duration) {
	msg := apperrors.UserMessage(err)
	c.store.FailSignIn(msg)
	c.emit(events.Event{Name: events.SignInError, Method: method, Error: msg})
	metrics.EmitSignIn(c.metrics, metrics.SignInMetric{
		Method:   string(method),
		Result:   metrics.ResultError,
		Duration: d,
		Err:      err,
	})
	c.logger.Warn("sign-in failed", "method", method, "error_code", apperrors.GetCode(err), "error", err)
}

// SignOut revokes the session remotely on a best-effort basis and always clears it
// locally.
func (c *AuthClient) SignOut(ctx context.Context) error {
	remote := false
	if sess, ok := c.store.Session(); ok {
		if err := c.api.SignOut(ctx, sess.Tokens.AccessToken, sess.Tokens.RefreshToken); err != nil {
			c.logger.WarnContext(ctx, "remote sign-out failed", "error_code", apperrors.GetCode(err), "error", err)
		} else {
			remote = true
		}
	}
	err := c.store.SignOut(ctx)
	metrics.EmitSignOut(c.metrics, remote)
	return err
}

// State returns a copy of the current authentication state.
func (c *AuthClient) State() domainauth.AuthState { return c.store.State() }

// Subscribe registers l for state changes and returns a function that removes it.
func (c *AuthClient) Subscribe(l session.Listener) func() { return c.store.Subscribe(l) }

// On registers h for lifecycle events named name.
func (c *AuthClient) On(name events.Name, h events.Handler) func() { return c.bus.On(name, h) }

// UpdateTokens merges tokens obtained outside the SDK into the session.
func (c *AuthClient) UpdateTokens(ctx context.Context, upd domainauth.TokenUpdate) error {
	return c.store.UpdateTokens(ctx, upd)
}

// UpdateUser replaces the stored user record.
func (c *AuthClient) UpdateUser(ctx context.Context, user domainauth.User) error {
	return c.store.UpdateUser(ctx, user)
}

// RefreshTokens exchanges the refresh token now.
func (c *AuthClient) RefreshTokens(ctx context.Context) (domainauth.AuthState, error) {
	return c.store.Refresh(ctx)
}

// TokenSource returns an oauth2.TokenSource over the current session, refreshing an
// expired access token on demand. Use it with oauth2.NewClient to call APIs that
// accept the SDK's bearer tokens.
func (c *AuthClient) TokenSource(ctx context.Context) oauth2.TokenSource {
	return c.store.TokenSource(ctx)
}

// RecordActivity restarts the idle timeout.
func (c *AuthClient) RecordActivity(ctx context.Context) error {
	return c.store.RecordActivity(ctx)
}

// Events exposes the bus for integrations that need Emit.
func (c *AuthClient) Events() *events.Bus { return c.bus }

// Store exposes the session store.
func (c *AuthClient) Store() *session.Store { return c.store }

// Close stops the refresh scheduler and detaches from storage. The stored session is kept.
func (c *AuthClient) Close() {
	c.closeOnce.Do(func() {
		for _, off := range c.unsubscribe {
			off()
		}
		c.store.Destroy()
	})
}

func (c *AuthClient) emit(ev events.Event) {
	c.bus.Emit(ev)
}
