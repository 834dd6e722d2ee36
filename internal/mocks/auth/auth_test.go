package auth

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	domainauth "github.com/target/mmk-auth/internal/domain/auth"
	apperrors "github.com/target/mmk-auth/internal/errors"
	"github.com/target/mmk-auth/internal/ports"
)

var alice = domainauth.User{ID: "u1", Email: "alice@example.com", Name: "Alice"}

func TestFakeIdentityAPI_CheckUser(t *testing.T) {
	api := NewFakeIdentityAPI(alice)
	api.Passkeys["alice@example.com"] = true
	ctx := context.Background()

	res, err := api.CheckUser(ctx, "Alice@Example.com")
	require.NoError(t, err)
	assert.Equal(t, domainauth.CheckUserResult{Exists: true, HasPasskey: true, UserID: "u1"}, res)

	res, err = api.CheckUser(ctx, "bob@example.com")
	require.NoError(t, err)
	assert.False(t, res.Exists)
}

func TestFakeIdentityAPI_MagicLinkIsSingleUse(t *testing.T) {
	api := NewFakeIdentityAPI(alice)
	ctx := context.Background()

	sent, err := api.SendMagicLink(ctx, alice.Email)
	require.NoError(t, err)
	assert.True(t, sent.Sent)

	token := api.MagicLinkToken(alice.Email)
	require.NotEmpty(t, token)

	raw, err := api.VerifyMagicLink(ctx, token)
	require.NoError(t, err)
	var body map[string]any
	require.NoError(t, json.Unmarshal(raw, &body))
	assert.Equal(t, true, body["success"])

	_, err = api.VerifyMagicLink(ctx, token)
	assert.True(t, apperrors.IsAuthRejected(err))
}

func TestFakeIdentityAPI_RefreshRotates(t *testing.T) {
	api := NewFakeIdentityAPI(alice)
	api.IssueRefreshToken(alice.Email, "R0")
	ctx := context.Background()

	raw, err := api.Refresh(ctx, "R0")
	require.NoError(t, err)
	var body struct {
		Tokens map[string]any `json:"tokens"`
	}
	require.NoError(t, json.Unmarshal(raw, &body))
	assert.Equal(t, "R1", body.Tokens["refresh_token"])

	_, err = api.Refresh(ctx, "R0")
	assert.True(t, apperrors.IsAuthRejected(err), "old refresh token must be invalid after rotation")
	assert.Equal(t, []string{"refresh", "refresh"}, api.Calls())
}

func TestFakeIdentityAPI_EmailCode(t *testing.T) {
	api := NewFakeIdentityAPI(alice)
	ctx := context.Background()

	require.NoError(t, api.SendEmailCode(ctx, alice.Email))
	_, err := api.VerifyEmailCode(ctx, alice.Email, "000000")
	assert.True(t, apperrors.IsValidation(err))

	raw, err := api.VerifyEmailCode(ctx, alice.Email, DefaultEmailCode)
	require.NoError(t, err)
	assert.Contains(t, string(raw), `"access_token":"A1"`)
}

func TestFakeIdentityAPI_PasskeyRoundTrip(t *testing.T) {
	api := NewFakeIdentityAPI(alice)
	api.Passkeys[alice.Email] = true
	authn := &StaticAuthenticator{}
	ctx := context.Background()

	ch, err := api.PasskeyChallenge(ctx, alice.Email)
	require.NoError(t, err)
	cred, err := authn.GetAssertion(ctx, ch.Assertion)
	require.NoError(t, err)

	_, err = api.VerifyPasskey(ctx, ports.VerifyPasskeyInput{Email: alice.Email, ChallengeID: ch.ChallengeID, Credential: cred})
	require.NoError(t, err)
	require.Len(t, authn.Assertions(), 1)

	_, err = api.VerifyPasskey(ctx, ports.VerifyPasskeyInput{ChallengeID: ch.ChallengeID, Credential: cred})
	assert.True(t, apperrors.IsAuthRejected(err), "challenge must not be reusable")
}

func TestStaticAuthenticator_Error(t *testing.T) {
	authn := &StaticAuthenticator{Unavailable: true, Err: errors.New("user canceled")}
	assert.False(t, authn.Available(context.Background()))
	_, err := authn.GetAssertion(context.Background(), ports.PasskeyChallenge{}.Assertion)
	assert.EqualError(t, err, "user canceled")
}
