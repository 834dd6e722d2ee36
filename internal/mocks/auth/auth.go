package auth

// Package auth contains simple hand-written test doubles for the identity service and
// the platform authenticator. They are stateful enough to drive full sign-in, rotation,
// and sign-out flows without codegen.

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"

	"github.com/go-webauthn/webauthn/protocol"

	domainauth "github.com/target/mmk-auth/internal/domain/auth"
	apperrors "github.com/target/mmk-auth/internal/errors"
	"github.com/target/mmk-auth/internal/ports"
)

// Ensure compile-time conformance to ports.
var (
	_ ports.IdentityAPI   = (*FakeIdentityAPI)(nil)
	_ ports.Authenticator = (*StaticAuthenticator)(nil)
)

// DefaultEmailCode is the code FakeIdentityAPI accepts unless Codes overrides it.
const DefaultEmailCode = "123456"

// FakeIdentityAPI simulates the identity service. Tokens are issued sequentially
// (A1/R1, A2/R2, ...) and refresh tokens rotate on every exchange.
type FakeIdentityAPI struct {
	// Users are the known accounts keyed by email.
	Users map[string]domainauth.User
	// Passkeys marks emails with a registered passkey.
	Passkeys map[string]bool
	// ExpiresIn is the lifetime in seconds put in token responses. Defaults to 3600.
	ExpiresIn int
	// LegacyResponses switches sign-in responses to the step-based dialect.
	LegacyResponses bool

	// Optional overrides
	RefreshFunc func(ctx context.Context, refreshToken string) ([]byte, error)
	SignOutFunc func(ctx context.Context, accessToken, refreshToken string) error

	mu         sync.Mutex
	issued     int
	challenges map[string]string
	links      map[string]string
	codes      map[string]string
	refresh    map[string]string
	signedOut  []string
	calls      []string
}

// NewFakeIdentityAPI creates a fake knowing the given users.
func NewFakeIdentityAPI(users ...domainauth.User) *FakeIdentityAPI {
	f := &FakeIdentityAPI{Users: map[string]domainauth.User{}, Passkeys: map[string]bool{}}
	for _, u := range users {
		f.Users[strings.ToLower(u.Email)] = u
	}
	return f
}

func (f *FakeIdentityAPI) record(call string) {
	f.calls = append(f.calls, call)
}

// Calls returns the operations invoked so far, in order.
func (f *FakeIdentityAPI) Calls() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.calls...)
}

// SignedOut returns the access tokens passed to SignOut.
func (f *FakeIdentityAPI) SignedOut() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.signedOut...)
}

// MagicLinkToken returns the last link token sent to email.
func (f *FakeIdentityAPI) MagicLinkToken(email string) string {
	f.mu.Lock()
	defer f.mu.Unlock()
	for tok, e := range f.links {
		if e == strings.ToLower(email) {
			return tok
		}
	}
	return ""
}

// IssueRefreshToken registers a refresh token for email, as if issued by an earlier sign-in.
func (f *FakeIdentityAPI) IssueRefreshToken(email, refreshToken string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.refresh == nil {
		f.refresh = map[string]string{}
	}
	f.refresh[refreshToken] = strings.ToLower(email)
}

func (f *FakeIdentityAPI) lookup(email string) (domainauth.User, bool) {
	u, ok := f.Users[strings.ToLower(strings.TrimSpace(email))]
	return u, ok
}

func (f *FakeIdentityAPI) CheckUser(_ context.Context, email string) (domainauth.CheckUserResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record("check-user")
	u, ok := f.lookup(email)
	if !ok {
		return domainauth.CheckUserResult{}, nil
	}
	return domainauth.CheckUserResult{
		Exists:     true,
		HasPasskey: f.Passkeys[strings.ToLower(email)],
		UserID:     u.ID,
	}, nil
}

func (f *FakeIdentityAPI) PasskeyChallenge(_ context.Context, email string) (ports.PasskeyChallenge, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record("webauthn-challenge")
	u, ok := f.lookup(email)
	if !ok || !f.Passkeys[strings.ToLower(email)] {
		return ports.PasskeyChallenge{}, apperrors.Validation("No passkey is registered for this account.")
	}
	f.issued++
	id := fmt.Sprintf("challenge-%d", f.issued)
	if f.challenges == nil {
		f.challenges = map[string]string{}
	}
	f.challenges[id] = strings.ToLower(email)

	var assertion protocol.CredentialAssertion
	assertion.Response.Challenge = protocol.URLEncodedBase64(id)
	assertion.Response.RelyingPartyID = "example.com"
	return ports.PasskeyChallenge{ChallengeID: id, UserID: u.ID, Assertion: assertion}, nil
}

func (f *FakeIdentityAPI) VerifyPasskey(_ context.Context, in ports.VerifyPasskeyInput) ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record("webauthn-verify")
	email, ok := f.challenges[in.ChallengeID]
	if !ok || len(in.Credential) == 0 {
		return nil, apperrors.AuthRejected("The passkey could not be verified.")
	}
	delete(f.challenges, in.ChallengeID)
	return f.signInResponseLocked(email)
}

func (f *FakeIdentityAPI) SendMagicLink(_ context.Context, email string) (domainauth.MagicLinkResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record("magic-link")
	if _, ok := f.lookup(email); !ok {
		return domainauth.MagicLinkResult{}, apperrors.Validation("No account exists for this email.")
	}
	f.issued++
	if f.links == nil {
		f.links = map[string]string{}
	}
	f.links[fmt.Sprintf("link-%d", f.issued)] = strings.ToLower(email)
	return domainauth.MagicLinkResult{Sent: true, Message: "Check your email for a sign-in link."}, nil
}

func (f *FakeIdentityAPI) VerifyMagicLink(_ context.Context, token string) ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record("magic-link-verify")
	email, ok := f.links[token]
	if !ok {
		return nil, apperrors.AuthRejected("This sign-in link was already exchanged or has expired.")
	}
	delete(f.links, token)
	return f.signInResponseLocked(email)
}

func (f *FakeIdentityAPI) SendEmailCode(_ context.Context, email string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record("email-code")
	if _, ok := f.lookup(email); !ok {
		return apperrors.Validation("No account exists for this email.")
	}
	if f.codes == nil {
		f.codes = map[string]string{}
	}
	f.codes[strings.ToLower(email)] = DefaultEmailCode
	return nil
}

func (f *FakeIdentityAPI) VerifyEmailCode(_ context.Context, email, code string) ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record("email-code-verify")
	key := strings.ToLower(email)
	want, ok := f.codes[key]
	if !ok || want != code {
		return nil, apperrors.Validation("The code is not valid.")
	}
	delete(f.codes, key)
	return f.signInResponseLocked(key)
}

func (f *FakeIdentityAPI) Refresh(ctx context.Context, refreshToken string) ([]byte, error) {
	if f.RefreshFunc != nil {
		f.mu.Lock()
		f.record("refresh")
		f.mu.Unlock()
		return f.RefreshFunc(ctx, refreshToken)
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record("refresh")
	email, ok := f.refresh[refreshToken]
	if !ok {
		return nil, apperrors.AuthRejected("Your session has ended. Please sign in again.")
	}
	delete(f.refresh, refreshToken)
	access, rotated := f.issueLocked(email)
	return json.Marshal(map[string]any{
		"success": true,
		"tokens": map[string]any{
			"access_token":  access,
			"refresh_token": rotated,
			"expires_in":    f.expiresIn(),
		},
	})
}

func (f *FakeIdentityAPI) SignOut(ctx context.Context, accessToken, refreshToken string) error {
	f.mu.Lock()
	f.record("signout")
	f.signedOut = append(f.signedOut, accessToken)
	delete(f.refresh, refreshToken)
	override := f.SignOutFunc
	f.mu.Unlock()
	if override != nil {
		return override(ctx, accessToken, refreshToken)
	}
	return nil
}

func (f *FakeIdentityAPI) expiresIn() int {
	if f.ExpiresIn > 0 {
		return f.ExpiresIn
	}
	return 3600
}

func (f *FakeIdentityAPI) issueLocked(email string) (access, refresh string) {
	f.issued++
	access = fmt.Sprintf("A%d", f.issued)
	refresh = fmt.Sprintf("R%d", f.issued)
	if f.refresh == nil {
		f.refresh = map[string]string{}
	}
	f.refresh[refresh] = email
	return access, refresh
}

func (f *FakeIdentityAPI) signInResponseLocked(email string) ([]byte, error) {
	u, ok := f.lookup(email)
	if !ok {
		return nil, apperrors.Validation("No account exists for this email.")
	}
	access, refresh := f.issueLocked(strings.ToLower(email))
	user := map[string]any{"id": u.ID, "email": u.Email, "name": u.Name, "emailVerified": u.EmailVerified}
	if f.LegacyResponses {
		return json.Marshal(map[string]any{
			"step":          "success",
			"user":          user,
			"access_token":  access,
			"refresh_token": refresh,
			"expires_in":    f.expiresIn(),
		})
	}
	return json.Marshal(map[string]any{
		"success": true,
		"user":    user,
		"tokens": map[string]any{
			"access_token":  access,
			"refresh_token": refresh,
			"expires_in":    f.expiresIn(),
		},
	})
}

// StaticAuthenticator returns a fixed credential for any challenge.
type StaticAuthenticator struct {
	Unavailable bool
	Err         error
	Credential  json.RawMessage

	mu   sync.Mutex
	seen []protocol.CredentialAssertion
}

func (a *StaticAuthenticator) Available(context.Context) bool { return !a.Unavailable }

func (a *StaticAuthenticator) GetAssertion(_ context.Context, assertion protocol.CredentialAssertion) (json.RawMessage, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.seen = append(a.seen, assertion)
	if a.Err != nil {
		return nil, a.Err
	}
	if len(a.Credential) > 0 {
		return a.Credential, nil
	}
	return json.RawMessage(fmt.Sprintf(`{"id":"cred-1","type":"public-key","challenge":%q}`, assertion.Response.Challenge.String())), nil
}

// Assertions returns the request options the authenticator was asked to sign.
func (a *StaticAuthenticator) Assertions() []protocol.CredentialAssertion {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]protocol.CredentialAssertion(nil), a.seen...)
}
