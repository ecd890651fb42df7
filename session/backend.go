package session

import "context"

// Backend is the authentication capability set the Manager consumes.
// Implementations exchange credentials or refresh tokens for a TokenPair
// and resolve an access token to the identity behind it.
//
// A server-side refusal (bad credentials, revoked refresh token) should be
// reported as a *Rejection so the caller sees the server's message;
// transport errors can be returned as-is. The Manager collapses both to the
// same state outcome.
type Backend interface {
	Login(ctx context.Context, email, password string) (*TokenPair, error)
	Refresh(ctx context.Context, refreshToken string) (*TokenPair, error)
	CurrentUser(ctx context.Context, accessToken string) (*UserIdentity, error)
}

// Credentials carries the inputs to Manager.Login.
type Credentials struct {
	Email    string
	Password string
}
