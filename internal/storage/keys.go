// Package storage implements the Storage Adapter over pluggable backends, the role-based
// idle-timeout policy, and migration of a session between backends.
package storage

import "time"

// Unqualified key names. The adapter prefixes each with "<prefix>_".
const (
	KeyAccessToken  = "access_token"
	KeyRefreshToken = "refresh_token"
	KeyExpiresAt    = "expires_at"
	KeyUser         = "user"
	KeyRefreshedAt  = "refreshed_at"
	KeyAuthMethod   = "auth_method"
	KeyPassthrough  = "passthrough"
	KeyLastActivity = "last_activity"
	KeyRole         = "role"
)

// DefaultPrefix namespaces keys when no prefix is configured.
const DefaultPrefix = "mmk_auth"

// sessionKeys lists every namespaced key a session may occupy.
var sessionKeys = []string{
	KeyAccessToken,
	KeyRefreshToken,
	KeyExpiresAt,
	KeyUser,
	KeyRefreshedAt,
	KeyAuthMethod,
	KeyPassthrough,
	KeyLastActivity,
	KeyRole,
}

// LegacyKeys are unnamespaced keys written by earlier SDK generations.
// They are only ever removed, never read.
var LegacyKeys = []string{
	"access_token",
	"refresh_token",
	"expires_at",
	"refreshed_at",
	"user",
	"auth_token",
	"auth_user",
	"token_expiry",
}

// SessionKeys returns a copy of the namespaced key names.
func SessionKeys() []string {
	return append([]string(nil), sessionKeys...)
}

// TimeoutPolicy is the idle timeout per role.
type TimeoutPolicy struct {
	Guest    time.Duration
	Employee time.Duration
	Admin    time.Duration
}

// DefaultTimeoutPolicy keeps higher-trust sessions idle for less time than employee sessions.
func DefaultTimeoutPolicy() TimeoutPolicy {
	return TimeoutPolicy{
		Guest:    30 * time.Minute,
		Employee: 8 * time.Hour,
		Admin:    time.Hour,
	}
}
