package ports

// Package ports defines interfaces (hexagonal ports) for the SDK's external collaborators.
// Implementations live in internal/adapters; orchestration in internal/service.

import (
	"context"
	"encoding/json"
	"time"

	"github.com/go-webauthn/webauthn/protocol"
	domainauth "github.com/target/mmk-auth/internal/domain/auth"
)

// StorageBackend is a string key/value persistence backend.
// Get reports ok=false for a missing key; a missing key is not an error.
type StorageBackend interface {
	Get(ctx context.Context, key string) (value string, ok bool, err error)
	Set(ctx context.Context, key, value string) error
	Remove(ctx context.Context, key string) error
	// Clear removes every key the backend owns.
	Clear(ctx context.Context) error
}

// ExpiringBackend is implemented by backends that can expire keys on their own (e.g. Redis TTL).
type ExpiringBackend interface {
	SetTTL(ttl time.Duration)
}

// ChangeNotifier is implemented by backends shared between several holders that can
// report writes made by other holders.
type ChangeNotifier interface {
	// Watch calls fn with the changed key after every write. The returned func stops watching.
	Watch(fn func(key string)) (stop func())
}

// PasskeyChallenge is the result of requesting a WebAuthn challenge.
type PasskeyChallenge struct {
	ChallengeID string
	UserID      string
	Assertion   protocol.CredentialAssertion
}

// VerifyPasskeyInput groups parameters for verifying a WebAuthn assertion.
type VerifyPasskeyInput struct {
	Email       string
	UserID      string
	ChallengeID string
	Credential  json.RawMessage
}

// IdentityAPI is the remote identity service. Sign-in and refresh calls return the raw
// response body; normalization happens in the normalize package.
type IdentityAPI interface {
	CheckUser(ctx context.Context, email string) (domainauth.CheckUserResult, error)
	PasskeyChallenge(ctx context.Context, email string) (PasskeyChallenge, error)
	VerifyPasskey(ctx context.Context, in VerifyPasskeyInput) ([]byte, error)
	SendMagicLink(ctx context.Context, email string) (domainauth.MagicLinkResult, error)
	VerifyMagicLink(ctx context.Context, token string) ([]byte, error)
	SendEmailCode(ctx context.Context, email string) error
	VerifyEmailCode(ctx context.Context, email, code string) ([]byte, error)
	Refresh(ctx context.Context, refreshToken string) ([]byte, error)
	SignOut(ctx context.Context, accessToken, refreshToken string) error
}

// Authenticator is the platform WebAuthn capability: it turns request options into a
// signed assertion. Treated as a black box.
type Authenticator interface {
	// Available reports whether the platform supports passkeys.
	Available(ctx context.Context) bool
	GetAssertion(ctx context.Context, assertion protocol.CredentialAssertion) (json.RawMessage, error)
}
