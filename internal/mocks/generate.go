// Package mocks provides gomock mocks for the SDK's ports.
//
// The mocks are generated using go:generate directives. To regenerate them after an
// interface change, run:
//
//	go generate ./internal/mocks
//
// Usage in tests:
//
//	ctrl := gomock.NewController(t)
//	api := mocks.NewMockIdentityAPI(ctrl)
//	api.EXPECT().Refresh(gomock.Any(), "R1").Return(body, nil)
//
// Stateful hand-written doubles live in internal/mocks/auth.
package mocks

// MockIdentityAPI: CheckUser, PasskeyChallenge, VerifyPasskey, SendMagicLink, VerifyMagicLink,
// SendEmailCode, VerifyEmailCode, Refresh, SignOut
//go:generate go run go.uber.org/mock/mockgen@v0.6.0 -package=mocks -destination=identity_api_mock.go github.com/target/mmk-auth/internal/ports IdentityAPI

// MockStorageBackend: Get, Set, Remove, Clear
//go:generate go run go.uber.org/mock/mockgen@v0.6.0 -package=mocks -destination=storage_backend_mock.go github.com/target/mmk-auth/internal/ports StorageBackend

// MockAuthenticator: Available, GetAssertion
//go:generate go run go.uber.org/mock/mockgen@v0.6.0 -package=mocks -destination=authenticator_mock.go github.com/target/mmk-auth/internal/ports Authenticator
