package identityapi

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "github.com/target/mmk-auth/internal/errors"
	"github.com/target/mmk-auth/internal/ports"
)

type recorded struct {
	path    string
	body    map[string]any
	headers http.Header
}

type recorder struct {
	mu    sync.Mutex
	calls []recorded
}

func (r *recorder) all() []recorded {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]recorded(nil), r.calls...)
}

func newTestClient(t *testing.T, handler func(w http.ResponseWriter, r *http.Request)) (*Client, *recorder) {
	t.Helper()
	rec := &recorder{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		raw, _ := io.ReadAll(r.Body)
		var body map[string]any
		_ = json.Unmarshal(raw, &body)
		rec.mu.Lock()
		rec.calls = append(rec.calls, recorded{path: r.URL.Path, body: body, headers: r.Header.Clone()})
		rec.mu.Unlock()
		handler(w, r)
	}))
	t.Cleanup(srv.Close)

	c, err := NewClient(Config{BaseURL: srv.URL + "/auth/", Timeout: 2 * time.Second})
	require.NoError(t, err)
	return c, rec
}

func writeJSON(w http.ResponseWriter, status int, body string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = io.WriteString(w, body)
}

func TestNewClient_RejectsBadURL(t *testing.T) {
	for _, raw := range []string{"", "   ", "ftp://x", "not a url", "http://"} {
		_, err := NewClient(Config{BaseURL: raw})
		assert.Error(t, err, raw)
	}
}

func TestCheckUser(t *testing.T) {
	c, calls := newTestClient(t, func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, `{"exists":true,"hasWebAuthn":true,"userId":"u1"}`)
	})

	res, err := c.CheckUser(context.Background(), "e@x.com")
	require.NoError(t, err)
	assert.True(t, res.Exists)
	assert.True(t, res.HasPasskey)
	assert.Equal(t, "u1", res.UserID)

	all := calls.all()
	require.Len(t, all, 1)
	call := all[0]
	assert.Equal(t, "/auth/check-user", call.path)
	assert.Equal(t, "e@x.com", call.body["email"])
	assert.NotEmpty(t, call.headers.Get(requestIDHeader))
	assert.Equal(t, "application/json", call.headers.Get("Content-Type"))
	assert.Empty(t, call.headers.Get("Authorization"))
}

func TestPasskeyChallenge_FlatAndWrapped(t *testing.T) {
	tests := []struct {
		name   string
		body   string
		wantID string
	}{
		{
			name:   "flat",
			body:   `{"challenge":"Y2hhbGxlbmdl","rpId":"example.com","challengeId":"c-1","userId":"u1"}`,
			wantID: "c-1",
		},
		{
			name:   "wrapped",
			body:   `{"publicKey":{"challenge":"Y2hhbGxlbmdl","rpId":"example.com"},"challengeId":"c-2","userId":"u1"}`,
			wantID: "c-2",
		},
		{
			name:   "no challenge id",
			body:   `{"challenge":"Y2hhbGxlbmdl","rpId":"example.com"}`,
			wantID: "Y2hhbGxlbmdl",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c, calls := newTestClient(t, func(w http.ResponseWriter, _ *http.Request) {
				writeJSON(w, http.StatusOK, tt.body)
			})
			ch, err := c.PasskeyChallenge(context.Background(), "e@x.com")
			require.NoError(t, err)
			assert.Equal(t, tt.wantID, ch.ChallengeID)
			assert.Equal(t, "example.com", ch.Assertion.Response.RelyingPartyID)
			assert.Equal(t, "challenge", string(ch.Assertion.Response.Challenge))
			assert.Equal(t, "/auth/webauthn/challenge", calls.all()[0].path)
		})
	}
}

func TestPasskeyChallenge_MissingChallenge(t *testing.T) {
	c, _ := newTestClient(t, func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, `{"rpId":"example.com"}`)
	})
	_, err := c.PasskeyChallenge(context.Background(), "e@x.com")
	require.Error(t, err)
	assert.True(t, apperrors.IsNormalization(err))
}

func TestVerifyPasskey_SendsCredential(t *testing.T) {
	c, calls := newTestClient(t, func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, `{"success":true}`)
	})
	raw, err := c.VerifyPasskey(context.Background(), ports.VerifyPasskeyInput{
		Email:       "e@x.com",
		ChallengeID: "c-1",
		Credential:  json.RawMessage(`{"id":"cred"}`),
	})
	require.NoError(t, err)
	assert.JSONEq(t, `{"success":true}`, string(raw))

	call := calls.all()[0]
	assert.Equal(t, "/auth/webauthn/verify", call.path)
	assert.Equal(t, "c-1", call.body["challengeId"])
	assert.Equal(t, map[string]any{"id": "cred"}, call.body["credential"])
	_, hasUserID := call.body["userId"]
	assert.False(t, hasUserID)
}

func TestSendMagicLink(t *testing.T) {
	c, _ := newTestClient(t, func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, `{"step":"magic_link_sent","message":"Check your inbox"}`)
	})
	res, err := c.SendMagicLink(context.Background(), "e@x.com")
	require.NoError(t, err)
	assert.True(t, res.Sent)
	assert.Equal(t, "Check your inbox", res.Message)
}

func TestEndpointsAndPayloads(t *testing.T) {
	c, calls := newTestClient(t, func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, `{}`)
	})
	ctx := context.Background()

	_, err := c.VerifyMagicLink(ctx, "tok")
	require.NoError(t, err)
	require.NoError(t, c.SendEmailCode(ctx, "e@x.com"))
	_, err = c.VerifyEmailCode(ctx, "e@x.com", "123456")
	require.NoError(t, err)
	_, err = c.Refresh(ctx, "R1")
	require.NoError(t, err)
	require.NoError(t, c.SignOut(ctx, "A1", "R1"))

	got := calls.all()
	require.Len(t, got, 5)
	assert.Equal(t, "/auth/signin/magic-link/verify", got[0].path)
	assert.Equal(t, "tok", got[0].body["token"])
	assert.Equal(t, "/auth/signin/email-code", got[1].path)
	assert.Equal(t, "/auth/signin/email-code/verify", got[2].path)
	assert.Equal(t, "123456", got[2].body["code"])
	assert.Equal(t, "/auth/refresh", got[3].path)
	assert.Equal(t, "R1", got[3].body["refresh_token"])
	assert.Equal(t, "/auth/signout", got[4].path)
	assert.Equal(t, "Bearer A1", got[4].headers.Get("Authorization"))
	assert.NotEqual(t, got[0].headers.Get(requestIDHeader), got[1].headers.Get(requestIDHeader))
}

func TestStatusErrorMapping(t *testing.T) {
	tests := []struct {
		name    string
		status  int
		body    string
		code    apperrors.ErrorCode
		message string
	}{
		{"unauthorized", http.StatusUnauthorized, `{"message":"Token revoked"}`, apperrors.ErrCodeAuthRejected, "Token revoked"},
		{"forbidden without body", http.StatusForbidden, ``, apperrors.ErrCodeAuthRejected, "Your session has ended. Please sign in again."},
		{"invalid grant", http.StatusBadRequest, `{"error":"invalid_grant","error_description":"Refresh token expired"}`, apperrors.ErrCodeAuthRejected, "Refresh token expired"},
		{"already exchanged", http.StatusBadRequest, `{"message":"Token already exchanged"}`, apperrors.ErrCodeAuthRejected, "Token already exchanged"},
		{"rate limited", http.StatusTooManyRequests, `{}`, apperrors.ErrCodeTransient, "Too many requests. Please wait a moment and try again."},
		{"server error", http.StatusBadGateway, `<html>bad gateway</html>`, apperrors.ErrCodeTransient, "The identity service is temporarily unavailable. Please try again."},
		{"bad request", http.StatusBadRequest, `{"message":"Invalid code"}`, apperrors.ErrCodeValidation, "Invalid code"},
		{"not found", http.StatusNotFound, `not json`, apperrors.ErrCodeValidation, "The request was not accepted. Please check your details."},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c, _ := newTestClient(t, func(w http.ResponseWriter, _ *http.Request) {
				writeJSON(w, tt.status, tt.body)
			})
			_, err := c.Refresh(context.Background(), "R1")
			require.Error(t, err)
			assert.Equal(t, tt.code, apperrors.GetCode(err))
			assert.Equal(t, tt.message, apperrors.UserMessage(err))
		})
	}
}

func TestTimeoutIsTransient(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	defer srv.Close()
	defer close(release)

	c, err := NewClient(Config{BaseURL: srv.URL, Timeout: 50 * time.Millisecond})
	require.NoError(t, err)

	_, err = c.Refresh(context.Background(), "R1")
	require.Error(t, err)
	assert.True(t, apperrors.IsTimeout(err))
	assert.True(t, apperrors.IsTransient(err))
}

func TestUnreachableIsTransient(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	c, err := NewClient(Config{BaseURL: url, Timeout: time.Second})
	require.NoError(t, err)

	_, err = c.CheckUser(context.Background(), "e@x.com")
	require.Error(t, err)
	assert.True(t, apperrors.IsTransient(err))
}

func TestCanceledContext(t *testing.T) {
	c, _ := newTestClient(t, func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, `{}`)
	})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := c.Refresh(ctx, "R1")
	require.Error(t, err)
	assert.True(t, apperrors.IsCanceled(err))
}
