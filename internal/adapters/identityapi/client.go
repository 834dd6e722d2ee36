// Package identityapi is the HTTP client for the remote passwordless identity service.
package identityapi

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"strings"
	"time"

	"github.com/go-webauthn/webauthn/protocol"
	"github.com/google/uuid"
	"golang.org/x/net/publicsuffix"
	"golang.org/x/oauth2"

	domainauth "github.com/target/mmk-auth/internal/domain/auth"
	apperrors "github.com/target/mmk-auth/internal/errors"
	"github.com/target/mmk-auth/internal/ports"
)

const (
	defaultTimeout  = 10 * time.Second
	maxResponseSize = 1 << 20
	requestIDHeader = "X-Request-ID"
)

// Config configures the identity API client.
type Config struct {
	BaseURL   string
	Timeout   time.Duration
	UserAgent string
	// Client overrides the HTTP client. When nil a client with a cookie jar is built.
	Client *http.Client
	Logger *slog.Logger
}

// Client implements ports.IdentityAPI over JSON/HTTP.
type Client struct {
	baseURL   *url.URL
	timeout   time.Duration
	userAgent string
	client    *http.Client
	logger    *slog.Logger
}

var _ ports.IdentityAPI = (*Client)(nil)

// NewClient builds a Client. BaseURL must be an absolute http(s) URL.
func NewClient(cfg Config) (*Client, error) {
	raw := strings.TrimSpace(cfg.BaseURL)
	if raw == "" {
		return nil, errors.New("identity api base url is required")
	}
	base, err := url.Parse(strings.TrimRight(raw, "/"))
	if err != nil || (base.Scheme != "http" && base.Scheme != "https") || base.Host == "" {
		return nil, fmt.Errorf("invalid identity api base url %q", raw)
	}

	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}

	hc := cfg.Client
	if hc == nil {
		jar, jarErr := cookiejar.New(&cookiejar.Options{PublicSuffixList: publicsuffix.List})
		if jarErr != nil {
			return nil, fmt.Errorf("create cookie jar: %w", jarErr)
		}
		hc = &http.Client{Jar: jar}
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &Client{
		baseURL:   base,
		timeout:   timeout,
		userAgent: fallbackString(strings.TrimSpace(cfg.UserAgent), "mmk-auth"),
		client:    hc,
		logger:    logger.With("component", "identityapi"),
	}, nil
}

type checkUserResponse struct {
	Exists      bool   `json:"exists"`
	HasPasskey  *bool  `json:"hasPasskey"`
	HasWebAuthn *bool  `json:"hasWebAuthn"`
	UserID      string `json:"userId"`
}

// CheckUser calls POST /check-user.
func (c *Client) CheckUser(ctx context.Context, email string) (domainauth.CheckUserResult, error) {
	body, err := c.post(ctx, "/check-user", map[string]string{"email": email}, "")
	if err != nil {
		return domainauth.CheckUserResult{}, err
	}
	var resp checkUserResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return domainauth.CheckUserResult{}, malformed("/check-user", err)
	}
	out := domainauth.CheckUserResult{Exists: resp.Exists, UserID: resp.UserID}
	switch {
	case resp.HasPasskey != nil:
		out.HasPasskey = *resp.HasPasskey
	case resp.HasWebAuthn != nil:
		out.HasPasskey = *resp.HasWebAuthn
	}
	return out, nil
}

type challengeResponse struct {
	ChallengeID string          `json:"challengeId"`
	UserID      string          `json:"userId"`
	Challenge   string          `json:"challenge"`
	PublicKey   json.RawMessage `json:"publicKey"`
}

// PasskeyChallenge calls POST /webauthn/challenge. Both the flat option shape and the
// standard {"publicKey": {...}} wrapper are accepted.
func (c *Client) PasskeyChallenge(ctx context.Context, email string) (ports.PasskeyChallenge, error) {
	body, err := c.post(ctx, "/webauthn/challenge", map[string]string{"email": email}, "")
	if err != nil {
		return ports.PasskeyChallenge{}, err
	}

	var resp challengeResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return ports.PasskeyChallenge{}, malformed("/webauthn/challenge", err)
	}

	var assertion protocol.CredentialAssertion
	options := body
	if len(resp.PublicKey) > 0 {
		options = resp.PublicKey
	}
	if err := json.Unmarshal(options, &assertion.Response); err != nil {
		return ports.PasskeyChallenge{}, malformed("/webauthn/challenge", err)
	}
	if len(assertion.Response.Challenge) == 0 {
		return ports.PasskeyChallenge{}, apperrors.Normalization("The passkey challenge was missing.")
	}

	challengeID := resp.ChallengeID
	if challengeID == "" {
		challengeID = assertion.Response.Challenge.String()
	}
	return ports.PasskeyChallenge{
		ChallengeID: challengeID,
		UserID:      resp.UserID,
		Assertion:   assertion,
	}, nil
}

type verifyPasskeyRequest struct {
	Email       string          `json:"email,omitempty"`
	UserID      string          `json:"userId,omitempty"`
	ChallengeID string          `json:"challengeId"`
	Credential  json.RawMessage `json:"credential"`
}

// VerifyPasskey calls POST /webauthn/verify and returns the raw sign-in response.
func (c *Client) VerifyPasskey(ctx context.Context, in ports.VerifyPasskeyInput) ([]byte, error) {
	return c.post(ctx, "/webauthn/verify", verifyPasskeyRequest(in), "")
}

type magicLinkResponse struct {
	Step          string `json:"step"`
	MagicLinkSent bool   `json:"magicLinkSent"`
	Message       string `json:"message"`
}

// SendMagicLink calls POST /signin/magic-link.
func (c *Client) SendMagicLink(ctx context.Context, email string) (domainauth.MagicLinkResult, error) {
	body, err := c.post(ctx, "/signin/magic-link", map[string]string{"email": email}, "")
	if err != nil {
		return domainauth.MagicLinkResult{}, err
	}
	var resp magicLinkResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return domainauth.MagicLinkResult{}, malformed("/signin/magic-link", err)
	}
	return domainauth.MagicLinkResult{
		Sent:    resp.MagicLinkSent || resp.Step == "magic_link_sent",
		Message: resp.Message,
	}, nil
}

// VerifyMagicLink calls POST /signin/magic-link/verify and returns the raw sign-in response.
func (c *Client) VerifyMagicLink(ctx context.Context, token string) ([]byte, error) {
	return c.post(ctx, "/signin/magic-link/verify", map[string]string{"token": token}, "")
}

// SendEmailCode calls POST /signin/email-code.
func (c *Client) SendEmailCode(ctx context.Context, email string) error {
	_, err := c.post(ctx, "/signin/email-code", map[string]string{"email": email}, "")
	return err
}

// VerifyEmailCode calls POST /signin/email-code/verify and returns the raw sign-in response.
func (c *Client) VerifyEmailCode(ctx context.Context, email, code string) ([]byte, error) {
	return c.post(ctx, "/signin/email-code/verify", map[string]string{"email": email, "code": code}, "")
}

// Refresh calls POST /refresh and returns the raw response.
func (c *Client) Refresh(ctx context.Context, refreshToken string) ([]byte, error) {
	return c.post(ctx, "/refresh", map[string]string{"refresh_token": refreshToken}, "")
}

// SignOut calls POST /signout with the access token as bearer credential.
func (c *Client) SignOut(ctx context.Context, accessToken, refreshToken string) error {
	payload := map[string]string{"access_token": accessToken, "refresh_token": refreshToken}
	_, err := c.post(ctx, "/signout", payload, accessToken)
	return err
}

func (c *Client) post(ctx context.Context, path string, payload any, bearer string) ([]byte, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("encode %s request: %w", path, err)
	}

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	endpoint := c.baseURL.JoinPath(path).String()
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(raw))
	if err != nil {
		return nil, fmt.Errorf("create %s request: %w", path, err)
	}
	requestID := uuid.NewString()
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", c.userAgent)
	req.Header.Set(requestIDHeader, requestID)
	if bearer != "" {
		(&oauth2.Token{AccessToken: bearer, TokenType: "Bearer"}).SetAuthHeader(req)
	}

	start := time.Now()
	resp, err := c.client.Do(req)
	if err != nil {
		c.logger.WarnContext(ctx, "identity api request failed",
			"path", path,
			"request_id", requestID,
			"error", err)
		return nil, transportError(path, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSize))
	if err != nil {
		return nil, transportError(path, err)
	}

	c.logger.DebugContext(ctx, "identity api request",
		"path", path,
		"status", resp.StatusCode,
		"request_id", requestID,
		"duration_ms", time.Since(start).Milliseconds())

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, statusError(path, resp.StatusCode, body)
	}
	return body, nil
}

func transportError(path string, err error) error {
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return apperrors.Wrap(err, apperrors.ErrCodeTimeout, "The identity service did not respond in time. Please try again.")
	case errors.Is(err, context.Canceled):
		return apperrors.Wrap(err, apperrors.ErrCodeCanceled, "The request was canceled.")
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return apperrors.Wrap(err, apperrors.ErrCodeTimeout, "The identity service did not respond in time. Please try again.")
	}
	return apperrors.Wrapf(err, apperrors.ErrCodeTransient, "Could not reach the identity service (%s). Please check your connection.", path)
}

type errorBody struct {
	Error            string `json:"error"`
	ErrorDescription string `json:"error_description"`
	Message          string `json:"message"`
}

func (e errorBody) text() string {
	for _, s := range []string{e.Message, e.ErrorDescription} {
		if strings.TrimSpace(s) != "" {
			return strings.TrimSpace(s)
		}
	}
	return ""
}

// statusError maps a non-2xx response onto the error taxonomy. The raw body is kept
// only in the cause.
func statusError(path string, status int, body []byte) error {
	var eb errorBody
	_ = json.Unmarshal(body, &eb)
	cause := fmt.Errorf("identity api %s: status %d: %s", path, status, truncate(string(body), 256))
	msg := eb.text()

	rejected := status == http.StatusUnauthorized ||
		status == http.StatusForbidden ||
		eb.Error == "invalid_grant" ||
		strings.Contains(strings.ToLower(msg), "already exchanged")

	switch {
	case rejected:
		return &apperrors.AppError{
			Code:    apperrors.ErrCodeAuthRejected,
			Message: fallbackString(msg, "Your session has ended. Please sign in again."),
			Cause:   cause,
		}
	case status == http.StatusTooManyRequests:
		return &apperrors.AppError{
			Code:    apperrors.ErrCodeTransient,
			Message: "Too many requests. Please wait a moment and try again.",
			Cause:   cause,
		}
	case status >= 500:
		return &apperrors.AppError{
			Code:    apperrors.ErrCodeTransient,
			Message: "The identity service is temporarily unavailable. Please try again.",
			Cause:   cause,
		}
	default:
		return &apperrors.AppError{
			Code:    apperrors.ErrCodeValidation,
			Message: fallbackString(msg, "The request was not accepted. Please check your details."),
			Cause:   cause,
		}
	}
}

func malformed(path string, err error) error {
	return apperrors.Wrapf(err, apperrors.ErrCodeNormalization, "The identity service sent an unreadable response (%s).", path)
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}

func fallbackString(value, fallback string) string {
	if value == "" {
		return fallback
	}
	return value
}
