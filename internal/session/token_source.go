package session

import (
	"context"

	"golang.org/x/oauth2"

	apperrors "github.com/target/mmk-auth/internal/errors"
)

// TokenSource returns an oauth2.TokenSource backed by the store. The token is read from
// the store on every call, and an expired access token triggers a refresh first.
func (s *Store) TokenSource(ctx context.Context) oauth2.TokenSource {
	return &storeTokenSource{ctx: ctx, store: s}
}

type storeTokenSource struct {
	ctx   context.Context
	store *Store
}

func (ts *storeTokenSource) Token() (*oauth2.Token, error) {
	sess, ok := ts.store.Session()
	if !ok {
		return nil, apperrors.AuthRejected("You are not signed in.")
	}
	if sess.Tokens.Expired(ts.store.clock.Now()) {
		if _, err := ts.store.Refresh(ts.ctx); err != nil {
			return nil, err
		}
		if sess, ok = ts.store.Session(); !ok {
			return nil, apperrors.AuthRejected("You are not signed in.")
		}
	}
	return &oauth2.Token{
		AccessToken:  sess.Tokens.AccessToken,
		TokenType:    "Bearer",
		RefreshToken: sess.Tokens.RefreshToken,
		Expiry:       sess.Tokens.ExpiresAt,
	}, nil
}
