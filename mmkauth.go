// Package mmkauth is the importable entry point of the passwordless auth SDK.
//
// A host builds a Client from configuration, signs the user in with a passkey, a magic
// link or an emailed code, and then reads the session state or subscribes to it. Tokens
// are refreshed in the background until the client is closed.
//
//	c, err := mmkauth.FromEnv(ctx, mmkauth.Options{})
//	if err != nil { ... }
//	defer c.Close()
//	st, err := c.Auth.SignInWithEmailCode(ctx, email, code)
package mmkauth

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/target/mmk-auth/config"
	"github.com/target/mmk-auth/internal/bootstrap"
	domainauth "github.com/target/mmk-auth/internal/domain/auth"
	apperrors "github.com/target/mmk-auth/internal/errors"
	"github.com/target/mmk-auth/internal/events"
	"github.com/target/mmk-auth/internal/observability/statsd"
	"github.com/target/mmk-auth/internal/ports"
	"github.com/target/mmk-auth/internal/service"
)

type (
	// Client owns a wired AuthClient and the connections it depends on.
	Client = bootstrap.Client
	// AuthClient exposes the sign-in flows and session operations.
	AuthClient = service.AuthClient
	Config     = config.AppConfig

	AuthState            = domainauth.AuthState
	StateKind            = domainauth.StateKind
	User                 = domainauth.User
	Role                 = domainauth.Role
	StorageType          = domainauth.StorageType
	StorageConfiguration = domainauth.StorageConfiguration
	StorageUpdate        = domainauth.StorageUpdate
	TokenUpdate          = domainauth.TokenUpdate

	Event     = events.Event
	EventName = events.Name

	// StorageBackend is implemented by hosts that keep sessions in their own store.
	StorageBackend = ports.StorageBackend
	// Authenticator performs the platform passkey ceremony.
	Authenticator = ports.Authenticator
	// MetricsSink receives counters and timings.
	MetricsSink = statsd.Sink

	Error     = apperrors.AppError
	ErrorCode = apperrors.ErrorCode
)

const (
	StateUnauthenticated = domainauth.StateUnauthenticated
	StateAuthenticated   = domainauth.StateAuthenticated
	StateError           = domainauth.StateError

	RoleGuest    = domainauth.RoleGuest
	RoleEmployee = domainauth.RoleEmployee
	RoleAdmin    = domainauth.RoleAdmin

	StorageSession = domainauth.StorageSession
	StorageLocal   = domainauth.StorageLocal
	StorageCustom  = domainauth.StorageCustom

	SignInStarted   = events.SignInStarted
	SignInSuccess   = events.SignInSuccess
	SignInError     = events.SignInError
	TokenRefreshed  = events.TokenRefreshed
	RefreshError    = events.RefreshError
	SessionExpired  = events.SessionExpired
	SignedOut       = events.SignedOut
	StorageMigrated = events.StorageMigrated
)

// Options are the host-provided parts of a Client.
type Options struct {
	Logger        *slog.Logger
	Metrics       MetricsSink
	Authenticator Authenticator
	// CustomBackend is used for the custom storage type instead of a configured driver.
	CustomBackend StorageBackend
	HTTPClient    *http.Client
}

// New builds a Client from an explicit configuration. Call Sanitize on cfg first when
// it was not produced by FromEnv.
func New(ctx context.Context, cfg Config, opts Options) (*Client, error) {
	return bootstrap.BuildClient(ctx, bootstrap.ClientOptions{
		Config:        cfg,
		Logger:        opts.Logger,
		Metrics:       opts.Metrics,
		Authenticator: opts.Authenticator,
		CustomBackend: opts.CustomBackend,
		HTTPClient:    opts.HTTPClient,
	})
}

// FromEnv loads configuration from the environment (and a .env file when present)
// and builds a Client.
func FromEnv(ctx context.Context, opts Options) (*Client, error) {
	cfg, err := bootstrap.LoadConfig()
	if err != nil {
		return nil, err
	}
	return New(ctx, cfg, opts)
}

// IsAuthRejected reports whether err means the user must sign in again.
func IsAuthRejected(err error) bool { return apperrors.IsAuthRejected(err) }

// IsTransient reports whether err may succeed on retry.
func IsTransient(err error) bool { return apperrors.IsTransient(err) }

// IsValidation reports whether err was caused by invalid input.
func IsValidation(err error) bool { return apperrors.IsValidation(err) }

// IsMigration reports whether a storage migration failed.
func IsMigration(err error) bool { return apperrors.IsMigration(err) }

// UserMessage returns a message that is safe to show to the user.
func UserMessage(err error) string { return apperrors.UserMessage(err) }
