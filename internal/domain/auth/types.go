package auth

// Package auth contains domain-level types for passwordless sign-in and client sessions.
// It is pure and free of framework/adapter concerns.

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// Role represents the trust tier of the signed-in user for storage purposes.
// Roles are totally ordered: guest < employee < admin.
type Role string

const (
	RoleGuest    Role = "guest"
	RoleEmployee Role = "employee"
	RoleAdmin    Role = "admin"
)

// Rank returns the trust rank of the role. Unknown roles rank below guest.
func (r Role) Rank() int {
	switch r {
	case RoleGuest:
		return 1
	case RoleEmployee:
		return 2
	case RoleAdmin:
		return 3
	default:
		return 0
	}
}

// Valid reports whether r is a known role.
func (r Role) Valid() bool { return r.Rank() > 0 }

// ParseRole parses a role name case-insensitively.
func ParseRole(s string) (Role, error) {
	r := Role(strings.ToLower(strings.TrimSpace(s)))
	if !r.Valid() {
		return "", fmt.Errorf("invalid role: %q (valid options: guest, employee, admin)", s)
	}
	return r, nil
}

// StorageType selects the persistence backend family.
type StorageType string

const (
	// StorageSession is process-scoped storage that disappears with the process.
	StorageSession StorageType = "sessionStorage"
	// StorageLocal is durable storage on the local machine.
	StorageLocal StorageType = "localStorage"
	// StorageCustom is an injected or configured persistence backend.
	StorageCustom StorageType = "custom"
)

// ParseStorageType accepts both the canonical names and short aliases (session, local).
func ParseStorageType(s string) (StorageType, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "session", "sessionstorage":
		return StorageSession, nil
	case "local", "localstorage":
		return StorageLocal, nil
	case "custom":
		return StorageCustom, nil
	default:
		return "", fmt.Errorf("invalid storage type: %q (valid options: session, local, custom)", s)
	}
}

// StorageConfiguration governs the active backend and the idle-timeout policy.
type StorageConfiguration struct {
	Type           StorageType
	UserRole       Role
	SessionTimeout time.Duration
}

// StorageUpdate is a partial StorageConfiguration; nil fields are left unchanged.
type StorageUpdate struct {
	Type           *StorageType
	UserRole       *Role
	SessionTimeout *time.Duration
}

// AuthMethod identifies how a session was established.
type AuthMethod string

const (
	MethodPasskey   AuthMethod = "passkey"
	MethodEmailCode AuthMethod = "email-code"
	MethodMagicLink AuthMethod = "magic-link"
	MethodPassword  AuthMethod = "password"
)

// User is the identity record returned by the identity API.
type User struct {
	ID            string         `json:"id"`
	Email         string         `json:"email"`
	Name          string         `json:"name,omitempty"`
	EmailVerified bool           `json:"emailVerified"`
	CreatedAt     string         `json:"createdAt,omitempty"`
	Initials      string         `json:"initials,omitempty"`
	Metadata      map[string]any `json:"metadata,omitempty"`
}

// Valid reports whether the user carries the fields a session requires.
func (u *User) Valid() bool {
	return u != nil && strings.TrimSpace(u.ID) != "" && strings.TrimSpace(u.Email) != ""
}

// Tokens is the canonical token bag.
// An empty RefreshToken means the server did not send one.
type Tokens struct {
	AccessToken  string
	RefreshToken string
	ExpiresAt    time.Time
	RefreshedAt  time.Time
	// Passthrough holds third-party tokens verbatim; they are never interpreted.
	Passthrough map[string]json.RawMessage
}

// Expired reports whether the access token is expired at now.
func (t Tokens) Expired(now time.Time) bool {
	return !t.ExpiresAt.IsZero() && !now.Before(t.ExpiresAt)
}

// Clone returns a copy that shares no maps with t.
func (t Tokens) Clone() Tokens {
	out := t
	if t.Passthrough != nil {
		out.Passthrough = make(map[string]json.RawMessage, len(t.Passthrough))
		for k, v := range t.Passthrough {
			out.Passthrough[k] = append(json.RawMessage(nil), v...)
		}
	}
	return out
}

// SignInData is the single canonical result of normalizing a sign-in response.
type SignInData struct {
	User   User
	Tokens Tokens
	Method AuthMethod
}

// Session is the unit of persisted authentication state.
type Session struct {
	User   User
	Tokens Tokens
	Method AuthMethod
	// Role is the trust tier the session was established or migrated under.
	// Empty means the role of the storage that saves it.
	Role Role
}

// Complete reports whether the session may be persisted.
func (s *Session) Complete() bool {
	return s != nil && s.User.Valid() && strings.TrimSpace(s.Tokens.AccessToken) != ""
}

// TokenUpdate carries the fields of an updateTokens call.
// Empty RefreshToken keeps the stored refresh token.
type TokenUpdate struct {
	AccessToken  string
	RefreshToken string
	ExpiresAt    time.Time
	Passthrough  map[string]json.RawMessage
}

// StateKind is the observable state machine value.
type StateKind string

const (
	StateUnauthenticated StateKind = "unauthenticated"
	StateAuthenticated   StateKind = "authenticated"
	StateError           StateKind = "error"
)

// AuthState is the exposed, observable authentication state.
type AuthState struct {
	State        StateKind
	User         *User
	AccessToken  string
	RefreshToken string
	ExpiresAt    time.Time
	RefreshedAt  time.Time
	Method       AuthMethod
	Error        string
}

// IsAuthenticated returns true if the state is authenticated.
func (s AuthState) IsAuthenticated() bool { return s.State == StateAuthenticated }

// CheckUserResult is the response of the check-user call.
type CheckUserResult struct {
	Exists     bool
	HasPasskey bool
	UserID     string
}

// MagicLinkResult is the response of a magic link request.
type MagicLinkResult struct {
	Sent    bool
	Message string
}
