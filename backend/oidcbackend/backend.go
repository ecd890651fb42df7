// Package oidcbackend implements session.Backend against a standards
// compliant OpenID Connect provider: login via the resource-owner password
// grant, refresh via the token endpoint, identity via UserInfo.
package oidcbackend

import (
	"context"

	"github.com/coreos/go-oidc/v3/oidc"
	"github.com/pkg/errors"
	"golang.org/x/oauth2"

	"github.com/jrsteele09/go-session-manager/session"
)

var _ session.Backend = (*Backend)(nil)

// Backend adapts an OIDC provider to the session.Backend contract.
type Backend struct {
	provider *oidc.Provider
	config   oauth2.Config
}

// New discovers the provider's endpoints from its issuer URL.
func New(ctx context.Context, issuerURL, clientID, clientSecret string, scopes []string) (*Backend, error) {
	provider, err := oidc.NewProvider(ctx, issuerURL)
	if err != nil {
		return nil, errors.Wrap(err, "[New] discovering OIDC provider")
	}

	return &Backend{
		provider: provider,
		config: oauth2.Config{
			ClientID:     clientID,
			ClientSecret: clientSecret,
			Endpoint:     provider.Endpoint(),
			Scopes:       scopes,
		},
	}, nil
}

// Login performs the resource-owner password grant.
func (b *Backend) Login(ctx context.Context, email, password string) (*session.TokenPair, error) {
	token, err := b.config.PasswordCredentialsToken(ctx, email, password)
	if err != nil {
		return nil, rejectionFromOAuth(err, "[Login]")
	}
	return tokenPair(token), nil
}

// Refresh exchanges a refresh token at the provider's token endpoint.
func (b *Backend) Refresh(ctx context.Context, refreshToken string) (*session.TokenPair, error) {
	source := b.config.TokenSource(ctx, &oauth2.Token{RefreshToken: refreshToken})
	token, err := source.Token()
	if err != nil {
		return nil, rejectionFromOAuth(err, "[Refresh]")
	}
	return tokenPair(token), nil
}

// CurrentUser resolves identity claims from the UserInfo endpoint.
func (b *Backend) CurrentUser(ctx context.Context, accessToken string) (*session.UserIdentity, error) {
	source := oauth2.StaticTokenSource(&oauth2.Token{AccessToken: accessToken, TokenType: "Bearer"})
	userInfo, err := b.provider.UserInfo(ctx, source)
	if err != nil {
		return nil, errors.Wrap(err, "[CurrentUser] userinfo endpoint")
	}

	var claims struct {
		Name string `json:"name"`
	}
	if err := userInfo.Claims(&claims); err != nil {
		return nil, errors.Wrap(err, "[CurrentUser] extracting claims")
	}

	displayName := claims.Name
	if displayName == "" {
		displayName = userInfo.Email
	}

	return &session.UserIdentity{
		UserID:      userInfo.Subject,
		DisplayName: displayName,
		Email:       userInfo.Email,
	}, nil
}

// tokenPair maps an oauth2 token to the session model. Providers do not
// disclose refresh-token expiry, so it is left zero.
func tokenPair(token *oauth2.Token) *session.TokenPair {
	return &session.TokenPair{
		AccessToken:     token.AccessToken,
		AccessExpiresAt: token.Expiry,
		RefreshToken:    token.RefreshToken,
	}
}

// rejectionFromOAuth surfaces a provider's error description as a
// session.Rejection so the server message reaches the caller.
func rejectionFromOAuth(err error, wrapMsg string) error {
	var retrieveErr *oauth2.RetrieveError
	if errors.As(err, &retrieveErr) {
		message := retrieveErr.ErrorDescription
		if message == "" {
			message = retrieveErr.ErrorCode
		}
		if message == "" {
			message = retrieveErr.Error()
		}
		return &session.Rejection{Message: message}
	}
	return errors.Wrap(err, wrapMsg)
}
