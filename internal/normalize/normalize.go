// Package normalize converts the identity API's sign-in and refresh payloads into the
// canonical SignInData and Tokens shapes. Two server dialects are accepted:
//
//	legacy: {"step":"success","access_token":...,"refresh_token":...,"expires_in":...,"user":{...}}
//	current: {"success":true,"tokens":{"access_token":...,"refresh_token":...,"expires_in":...},"user":{...}}
//
// Refresh responses additionally accept the bare token subset. Anything else is rejected.
//
// Token entries the normalizer does not interpret, such as a secondary provider's token
// and its expiry, are kept verbatim as passthrough: every unknown entry of the current
// dialect's "tokens" object, and every unknown top-level entry of the legacy and bare
// shapes whose name mentions a token or an expiry. PassthroughPaths add or override
// entries by JMESPath.
package normalize

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"math"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	jmespath "github.com/jmespath-community/go-jmespath"

	"github.com/target/mmk-auth/internal/clock"
	domainauth "github.com/target/mmk-auth/internal/domain/auth"
	apperrors "github.com/target/mmk-auth/internal/errors"
)

// DefaultTokenLifetime applies when neither expires_in nor a JWT exp claim is available.
const DefaultTokenLifetime = time.Hour

// coreTokenKeys are token entries the normalizer reads or deliberately drops.
var coreTokenKeys = map[string]bool{
	"access_token":  true,
	"accessToken":   true,
	"refresh_token": true,
	"refreshToken":  true,
	"expires_in":    true,
	"expiresIn":     true,
	"expires_at":    true,
	"expiresAt":     true,
	"token_type":    true,
	"tokenType":     true,
}

// Dialect names the payload shape that was recognized.
type Dialect string

const (
	DialectLegacy  Dialect = "legacy"
	DialectCurrent Dialect = "current"
	DialectBare    Dialect = "bare"
)

// Context carries request-side facts the payload does not contain.
type Context struct {
	Method domainauth.AuthMethod
}

// Options configures a Normalizer.
type Options struct {
	Clock           clock.Clock
	DefaultLifetime time.Duration
	// PassthroughPaths maps a passthrough token name to a JMESPath expression evaluated
	// against the whole response body.
	PassthroughPaths map[string]string
	Logger           *slog.Logger
}

type passthroughPath struct {
	name string
	expr string
}

// Normalizer is safe for concurrent use.
type Normalizer struct {
	clock           clock.Clock
	defaultLifetime time.Duration
	passthrough     []passthroughPath
	logger          *slog.Logger
}

// New constructs a Normalizer. Passthrough expressions are compiled up front so a bad
// expression fails at startup.
func New(opts Options) (*Normalizer, error) {
	n := &Normalizer{
		clock:           opts.Clock,
		defaultLifetime: opts.DefaultLifetime,
		logger:          opts.Logger,
	}
	if n.clock == nil {
		n.clock = clock.Real{}
	}
	if n.defaultLifetime <= 0 {
		n.defaultLifetime = DefaultTokenLifetime
	}
	if n.logger != nil {
		n.logger = n.logger.With("component", "normalize")
	}

	for name, expr := range opts.PassthroughPaths {
		name, expr = strings.TrimSpace(name), strings.TrimSpace(expr)
		if name == "" || expr == "" {
			continue
		}
		if _, err := jmespath.Compile(expr); err != nil {
			return nil, fmt.Errorf("invalid passthrough path %q for %s: %w", expr, name, err)
		}
		n.passthrough = append(n.passthrough, passthroughPath{name: name, expr: expr})
	}
	sort.Slice(n.passthrough, func(i, j int) bool { return n.passthrough[i].name < n.passthrough[j].name })
	return n, nil
}

// Normalize converts a sign-in response into SignInData. The result is either complete
// or an error; partial data is never returned.
func (n *Normalizer) Normalize(raw []byte, c Context) (domainauth.SignInData, error) {
	body, err := decode(raw)
	if err != nil {
		return domainauth.SignInData{}, err
	}

	tokenSrc, dialect, err := signInTokenSource(body)
	if err != nil {
		return domainauth.SignInData{}, err
	}

	userRaw, ok := body["user"].(map[string]any)
	if !ok {
		return domainauth.SignInData{}, apperrors.Normalization("The sign-in response did not include a user.")
	}
	user, err := parseUser(userRaw)
	if err != nil {
		return domainauth.SignInData{}, err
	}

	tokens, err := n.tokens(body, tokenSrc, dialect)
	if err != nil {
		return domainauth.SignInData{}, err
	}

	if n.logger != nil {
		n.logger.Debug("normalized sign-in response",
			"dialect", dialect,
			"method", c.Method,
			"has_refresh_token", tokens.RefreshToken != "",
			"passthrough_count", len(tokens.Passthrough))
	}

	return domainauth.SignInData{User: user, Tokens: tokens, Method: c.Method}, nil
}

// NormalizeRefresh converts a refresh response into Tokens. An omitted refresh token is
// returned empty; callers keep their stored one.
func (n *Normalizer) NormalizeRefresh(raw []byte) (domainauth.Tokens, error) {
	body, err := decode(raw)
	if err != nil {
		return domainauth.Tokens{}, err
	}

	var (
		tokenSrc map[string]any
		dialect  Dialect
	)
	switch {
	case hasKey(body, "success") || hasKey(body, "step"):
		tokenSrc, dialect, err = signInTokenSource(body)
		if err != nil {
			return domainauth.Tokens{}, refreshFailure(body, err)
		}
	case hasKey(body, "access_token"):
		tokenSrc, dialect = body, DialectBare
	case hasKey(body, "error"):
		return domainauth.Tokens{}, refreshFailure(body, failure(body))
	default:
		return domainauth.Tokens{}, apperrors.Normalization("The refresh response was not recognized.")
	}

	tokens, err := n.tokens(body, tokenSrc, dialect)
	if err != nil {
		return domainauth.Tokens{}, err
	}
	if n.logger != nil {
		n.logger.Debug("normalized refresh response",
			"dialect", dialect,
			"rotated", tokens.RefreshToken != "")
	}
	return tokens, nil
}

func decode(raw []byte) (map[string]any, error) {
	var body map[string]any
	if err := json.Unmarshal(raw, &body); err != nil {
		return nil, apperrors.Wrap(err, apperrors.ErrCodeNormalization, "The server response could not be read.")
	}
	if body == nil {
		return nil, apperrors.Normalization("The server response was empty.")
	}
	return body, nil
}

// signInTokenSource picks the object holding the tokens for the recognized dialect.
func signInTokenSource(body map[string]any) (map[string]any, Dialect, error) {
	if v, ok := body["success"]; ok {
		success, isBool := v.(bool)
		if !isBool {
			return nil, "", apperrors.Normalization("The server response had an invalid success flag.")
		}
		if !success {
			return nil, "", failure(body)
		}
		tokens, ok := body["tokens"].(map[string]any)
		if !ok {
			return nil, "", apperrors.Normalization("The server response did not include tokens.")
		}
		return tokens, DialectCurrent, nil
	}

	if v, ok := body["step"]; ok {
		step, _ := v.(string)
		switch strings.ToLower(step) {
		case "success":
			return body, DialectLegacy, nil
		case "failed", "failure", "error":
			return nil, "", failure(body)
		default:
			return nil, "", apperrors.Normalizationf("The server returned an unexpected sign-in step %q.", step)
		}
	}

	return nil, "", apperrors.Normalization("The sign-in response was not recognized.")
}

// failure builds a human-readable error for an explicit server-side failure.
func failure(body map[string]any) error {
	for _, key := range []string{"message", "error_description", "error"} {
		if s, ok := body[key].(string); ok && strings.TrimSpace(s) != "" {
			return apperrors.AuthRejected(strings.TrimSpace(s))
		}
	}
	return apperrors.AuthRejected("Sign-in was not successful. Please try again.")
}

// refreshFailure keeps AuthRejected for explicit failures and passes everything else through.
func refreshFailure(body map[string]any, err error) error {
	if code, _ := body["error"].(string); code == "invalid_grant" {
		return &apperrors.AppError{
			Code:    apperrors.ErrCodeAuthRejected,
			Message: "Your session has ended. Please sign in again.",
			Cause:   err,
		}
	}
	return err
}

func (n *Normalizer) tokens(body, src map[string]any, dialect Dialect) (domainauth.Tokens, error) {
	now := n.clock.Now()

	access := stringField(src, "access_token", "accessToken")
	if strings.TrimSpace(access) == "" {
		return domainauth.Tokens{}, apperrors.Normalization("The server response did not include an access token.")
	}

	tokens := domainauth.Tokens{
		AccessToken:  access,
		RefreshToken: stringField(src, "refresh_token", "refreshToken"),
		RefreshedAt:  now,
	}

	secs, ok, err := expiresIn(src)
	if err != nil {
		return domainauth.Tokens{}, err
	}
	switch {
	case ok:
		tokens.ExpiresAt = now.Add(secs)
	default:
		if exp, found := jwtExpiry(access); found {
			tokens.ExpiresAt = exp
		} else {
			tokens.ExpiresAt = now.Add(n.defaultLifetime)
		}
	}

	pt, err := n.extractPassthrough(body, src, dialect)
	if err != nil {
		return domainauth.Tokens{}, err
	}
	tokens.Passthrough = pt
	return tokens, nil
}

func expiresIn(src map[string]any) (time.Duration, bool, error) {
	var v any
	for _, key := range []string{"expires_in", "expiresIn"} {
		if x, ok := src[key]; ok && x != nil {
			v = x
			break
		}
	}
	if v == nil {
		return 0, false, nil
	}

	var secs float64
	switch x := v.(type) {
	case float64:
		secs = x
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(x), 64)
		if err != nil {
			return 0, false, apperrors.Normalizationf("The server returned an invalid token lifetime %q.", x)
		}
		secs = f
	default:
		return 0, false, apperrors.Normalization("The server returned an invalid token lifetime.")
	}
	if !(secs > 0) {
		return 0, false, apperrors.Normalization("The server returned a non-positive token lifetime.")
	}
	// float64(math.MaxInt64) is 2^63; anything below it converts without overflow.
	nanos := secs * float64(time.Second)
	if nanos >= float64(math.MaxInt64) {
		return 0, false, apperrors.Normalizationf("The server returned a token lifetime of %g seconds, which is too long.", secs)
	}
	return time.Duration(nanos), true, nil
}

// jwtExpiry reads the exp claim without verifying the signature. The token is only
// inspected for scheduling; it is never trusted for identity.
func jwtExpiry(access string) (time.Time, bool) {
	if strings.Count(access, ".") != 2 {
		return time.Time{}, false
	}
	tok, _, err := jwt.NewParser().ParseUnverified(access, jwt.MapClaims{})
	if err != nil {
		return time.Time{}, false
	}
	exp, err := tok.Claims.GetExpirationTime()
	if err != nil || exp == nil {
		return time.Time{}, false
	}
	return exp.Time, true
}

func (n *Normalizer) extractPassthrough(body, src map[string]any, dialect Dialect) (map[string]json.RawMessage, error) {
	out := make(map[string]json.RawMessage)
	for key, v := range src {
		if !passthroughCandidate(key, dialect) {
			continue
		}
		raw, err := json.Marshal(v)
		if err != nil {
			return nil, apperrors.Wrapf(err, apperrors.ErrCodeNormalization, "Passthrough token %s could not be stored.", key)
		}
		out[key] = raw
	}

	for _, p := range n.passthrough {
		v, err := jmespath.Search(p.expr, body)
		if err != nil {
			return nil, apperrors.Wrapf(err, apperrors.ErrCodeNormalization, "Passthrough token %s could not be read.", p.name)
		}
		if v == nil {
			continue
		}
		raw, err := json.Marshal(v)
		if err != nil {
			return nil, apperrors.Wrapf(err, apperrors.ErrCodeNormalization, "Passthrough token %s could not be stored.", p.name)
		}
		out[p.name] = raw
	}
	if len(out) == 0 {
		return nil, nil
	}
	return out, nil
}

// passthroughCandidate reports whether key of the token source is kept verbatim. The
// current dialect's tokens object holds only tokens; the legacy and bare shapes mix
// tokens with the response envelope, so only token-like names qualify there.
func passthroughCandidate(key string, dialect Dialect) bool {
	if coreTokenKeys[key] {
		return false
	}
	if dialect == DialectCurrent {
		return true
	}
	lower := strings.ToLower(key)
	return strings.Contains(lower, "token") || strings.Contains(lower, "expires")
}

func parseUser(m map[string]any) (domainauth.User, error) {
	u := domainauth.User{
		ID:        idField(m["id"]),
		Email:     stringField(m, "email"),
		Name:      stringField(m, "name"),
		CreatedAt: stringField(m, "createdAt", "created_at"),
		Initials:  stringField(m, "initials"),
	}
	if u.ID == "" {
		return domainauth.User{}, apperrors.Normalization("The server response included a user without an id.")
	}
	if strings.TrimSpace(u.Email) == "" {
		return domainauth.User{}, apperrors.Normalization("The server response included a user without an email.")
	}
	for _, key := range []string{"emailVerified", "email_verified"} {
		if b, ok := m[key].(bool); ok {
			u.EmailVerified = b
			break
		}
	}
	if meta, ok := m["metadata"].(map[string]any); ok && len(meta) > 0 {
		u.Metadata = meta
	}
	return u, nil
}

func idField(v any) string {
	switch x := v.(type) {
	case string:
		return strings.TrimSpace(x)
	case float64:
		return strconv.FormatFloat(x, 'f', -1, 64)
	default:
		return ""
	}
}

func stringField(m map[string]any, keys ...string) string {
	for _, k := range keys {
		if s, ok := m[k].(string); ok && s != "" {
			return s
		}
	}
	return ""
}

func hasKey(m map[string]any, key string) bool {
	_, ok := m[key]
	return ok
}
