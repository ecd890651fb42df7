// Package httpbackend implements session.Backend against a first-party
// JSON auth API: POST /auth/login, POST /auth/refresh, GET /users/me.
package httpbackend

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/jrsteele09/go-session-manager/session"
)

const requestTimeout = 30 * time.Second

var _ session.Backend = (*Backend)(nil)

// Backend calls the auth API over HTTP. Non-2xx responses become
// *session.Rejection carrying the server's message; transport failures are
// returned wrapped.
type Backend struct {
	baseURL string
	client  *http.Client
	log     zerolog.Logger
}

// Option defines a function type to modify the Backend instance.
type Option func(*Backend)

// WithHTTPClient overrides the HTTP client (e.g. for request signing or
// custom transports).
func WithHTTPClient(client *http.Client) Option {
	return func(b *Backend) {
		b.client = client
	}
}

// WithLogger sets the logger used for wire-level diagnostics.
func WithLogger(logger zerolog.Logger) Option {
	return func(b *Backend) {
		b.log = logger
	}
}

// New creates a Backend rooted at baseURL (no trailing slash).
func New(baseURL string, options ...Option) *Backend {
	b := &Backend{
		baseURL: baseURL,
		client:  &http.Client{Timeout: requestTimeout},
		log:     log.Logger,
	}
	for _, opt := range options {
		opt(b)
	}
	return b
}

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type refreshRequest struct {
	RefreshToken string `json:"refresh_token"`
}

type tokenResponse struct {
	AccessToken      string `json:"access_token"`
	AccessExpiresAt  string `json:"access_expires_at"`
	RefreshToken     string `json:"refresh_token"`
	RefreshExpiresAt string `json:"refresh_expires_at"`
}

type userResponse struct {
	UserID      string `json:"user_id"`
	DisplayName string `json:"display_name"`
	Email       string `json:"email"`
}

type errorResponse struct {
	Message string `json:"message"`
}

// Login exchanges credentials for a token pair.
func (b *Backend) Login(ctx context.Context, email, password string) (*session.TokenPair, error) {
	var resp tokenResponse
	if err := b.postJSON(ctx, "/auth/login", loginRequest{Email: email, Password: password}, &resp); err != nil {
		return nil, errors.Wrap(err, "[Login]")
	}
	return b.tokenPair(resp), nil
}

// Refresh exchanges a refresh token for a new token pair.
func (b *Backend) Refresh(ctx context.Context, refreshToken string) (*session.TokenPair, error) {
	var resp tokenResponse
	if err := b.postJSON(ctx, "/auth/refresh", refreshRequest{RefreshToken: refreshToken}, &resp); err != nil {
		return nil, errors.Wrap(err, "[Refresh]")
	}
	return b.tokenPair(resp), nil
}

// CurrentUser resolves the identity behind an access token.
func (b *Backend) CurrentUser(ctx context.Context, accessToken string) (*session.UserIdentity, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, b.baseURL+"/users/me", nil)
	if err != nil {
		return nil, errors.Wrap(err, "[CurrentUser] building request")
	}
	req.Header.Set("Authorization", "Bearer "+accessToken)

	var resp userResponse
	if err := b.do(req, &resp); err != nil {
		return nil, errors.Wrap(err, "[CurrentUser]")
	}

	return &session.UserIdentity{
		UserID:      resp.UserID,
		DisplayName: resp.DisplayName,
		Email:       resp.Email,
	}, nil
}

func (b *Backend) postJSON(ctx context.Context, path string, body, out any) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return errors.Wrap(err, "encoding request body")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, b.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		return errors.Wrap(err, "building request")
	}
	req.Header.Set("Content-Type", "application/json")

	return b.do(req, out)
}

func (b *Backend) do(req *http.Request, out any) error {
	resp, err := b.client.Do(req)
	if err != nil {
		return errors.Wrap(err, "sending request")
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return errors.Wrap(err, "reading response body")
	}

	if resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices {
		var errResp errorResponse
		if err := json.Unmarshal(data, &errResp); err != nil || errResp.Message == "" {
			errResp.Message = http.StatusText(resp.StatusCode)
		}
		return &session.Rejection{Message: errResp.Message}
	}

	if err := json.Unmarshal(data, out); err != nil {
		return errors.Wrap(err, "decoding response body")
	}
	return nil
}

// tokenPair maps a wire token response to a session.TokenPair. Unparseable
// expiry timestamps are left zero, which scheduling treats as "no
// deadline".
func (b *Backend) tokenPair(resp tokenResponse) *session.TokenPair {
	pair := &session.TokenPair{
		AccessToken:  resp.AccessToken,
		RefreshToken: resp.RefreshToken,
	}
	pair.AccessExpiresAt = b.parseExpiry("access_expires_at", resp.AccessExpiresAt)
	pair.RefreshExpiresAt = b.parseExpiry("refresh_expires_at", resp.RefreshExpiresAt)
	return pair
}

func (b *Backend) parseExpiry(field, value string) time.Time {
	if value == "" {
		return time.Time{}
	}
	t, err := time.Parse(time.RFC3339, value)
	if err != nil {
		b.log.Debug().Str("field", field).Str("value", value).Msg("unparseable expiry timestamp, treating as no deadline")
		return time.Time{}
	}
	return t
}
