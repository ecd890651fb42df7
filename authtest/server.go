// Package authtest runs an in-process auth API speaking the httpbackend
// wire format, for integration tests and the demo binary. Passwords are
// bcrypt-checked, access tokens are signed JWTs with a real exp claim, and
// refresh tokens are opaque and rotate on every refresh.
package authtest

import (
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"time"

	jwtlib "github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"
)

// NowTimeFunc returns the current time. It can be overridden in tests.
var NowTimeFunc = time.Now

const signingKeyLength = 32

type user struct {
	ID           string
	Email        string
	Name         string
	PasswordHash []byte
}

type refreshGrant struct {
	UserEmail string
	ExpiresAt time.Time
}

// Server is the in-process auth API.
type Server struct {
	mu            sync.Mutex
	users         map[string]user         // keyed by email
	refreshGrants map[string]refreshGrant // keyed by refresh token
	accessTTL     time.Duration
	refreshTTL    time.Duration
	signingKey    []byte
	refreshFails  bool
	userInfoFails bool

	httpServer *httptest.Server
}

// Option defines a function type to modify the Server instance.
type Option func(*Server)

// WithAccessTokenTTL sets the lifetime of issued access tokens.
func WithAccessTokenTTL(ttl time.Duration) Option {
	return func(s *Server) {
		s.accessTTL = ttl
	}
}

// WithRefreshTokenTTL sets the lifetime of issued refresh tokens.
func WithRefreshTokenTTL(ttl time.Duration) Option {
	return func(s *Server) {
		s.refreshTTL = ttl
	}
}

// NewServer starts the server on a loopback listener. Callers own Close.
func NewServer(options ...Option) *Server {
	key := make([]byte, signingKeyLength)
	if _, err := rand.Read(key); err != nil {
		panic("authtest: generating signing key: " + err.Error())
	}

	s := &Server{
		users:         make(map[string]user),
		refreshGrants: make(map[string]refreshGrant),
		accessTTL:     1 * time.Hour,
		refreshTTL:    7 * 24 * time.Hour,
		signingKey:    key,
	}

	for _, opt := range options {
		opt(s)
	}

	mux := http.NewServeMux()
	mux.HandleFunc("POST /auth/login", s.loginHandler)
	mux.HandleFunc("POST /auth/refresh", s.refreshHandler)
	mux.HandleFunc("GET /users/me", s.currentUserHandler)
	s.httpServer = httptest.NewServer(mux)

	return s
}

// URL returns the server's base URL.
func (s *Server) URL() string {
	return s.httpServer.URL
}

// Close shuts the listener down.
func (s *Server) Close() {
	s.httpServer.Close()
}

// AddUser registers a user and returns its generated ID.
func (s *Server) AddUser(email, password, name string) string {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.MinCost)
	if err != nil {
		panic("authtest: hashing password: " + err.Error())
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	id := uuid.New().String()
	s.users[email] = user{ID: id, Email: email, Name: name, PasswordHash: hash}
	return id
}

// FailRefresh makes /auth/refresh reject every request until reset.
func (s *Server) FailRefresh(fail bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.refreshFails = fail
}

// FailUserInfo makes /users/me reject every request until reset.
func (s *Server) FailUserInfo(fail bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.userInfoFails = fail
}

// RefreshGrantCount reports how many refresh tokens are currently live.
func (s *Server) RefreshGrantCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.refreshGrants)
}

type tokenResponse struct {
	AccessToken      string `json:"access_token"`
	AccessExpiresAt  string `json:"access_expires_at"`
	RefreshToken     string `json:"refresh_token"`
	RefreshExpiresAt string `json:"refresh_expires_at"`
}

func (s *Server) loginHandler(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Email    string `json:"email"`
		Password string `json:"password"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeMessage(w, http.StatusBadRequest, "malformed request body")
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	u, ok := s.users[req.Email]
	if !ok || bcrypt.CompareHashAndPassword(u.PasswordHash, []byte(req.Password)) != nil {
		writeMessage(w, http.StatusUnauthorized, "invalid email or password")
		return
	}

	writeJSON(w, http.StatusOK, s.issueTokensLocked(u))
}

func (s *Server) refreshHandler(w http.ResponseWriter, r *http.Request) {
	var req struct {
		RefreshToken string `json:"refresh_token"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeMessage(w, http.StatusBadRequest, "malformed request body")
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.refreshFails {
		writeMessage(w, http.StatusUnauthorized, "refresh token revoked")
		return
	}

	grant, ok := s.refreshGrants[req.RefreshToken]
	if !ok || NowTimeFunc().After(grant.ExpiresAt) {
		writeMessage(w, http.StatusUnauthorized, "refresh token expired")
		return
	}
	delete(s.refreshGrants, req.RefreshToken) // single use, rotated below

	u, ok := s.users[grant.UserEmail]
	if !ok {
		writeMessage(w, http.StatusUnauthorized, "unknown user")
		return
	}

	writeJSON(w, http.StatusOK, s.issueTokensLocked(u))
}

func (s *Server) currentUserHandler(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.userInfoFails {
		writeMessage(w, http.StatusUnauthorized, "token not accepted")
		return
	}

	rawToken, ok := bearerToken(r)
	if !ok {
		writeMessage(w, http.StatusUnauthorized, "missing bearer token")
		return
	}

	claims := jwtlib.MapClaims{}
	parser := jwtlib.NewParser(jwtlib.WithValidMethods([]string{"HS256"}), jwtlib.WithExpirationRequired())
	if _, err := parser.ParseWithClaims(rawToken, claims, func(*jwtlib.Token) (any, error) {
		return s.signingKey, nil
	}); err != nil {
		writeMessage(w, http.StatusUnauthorized, "invalid access token")
		return
	}

	sub, _ := claims["sub"].(string)
	for _, u := range s.users {
		if u.ID == sub {
			writeJSON(w, http.StatusOK, map[string]string{
				"user_id":      u.ID,
				"display_name": u.Name,
				"email":        u.Email,
			})
			return
		}
	}
	writeMessage(w, http.StatusUnauthorized, "unknown user")
}

// issueTokensLocked mints an access/refresh pair for u. Caller holds s.mu.
func (s *Server) issueTokensLocked(u user) tokenResponse {
	now := NowTimeFunc()
	accessExpiry := now.Add(s.accessTTL)
	refreshExpiry := now.Add(s.refreshTTL)

	token := jwtlib.NewWithClaims(jwtlib.SigningMethodHS256, jwtlib.MapClaims{
		"sub":   u.ID,
		"email": u.Email,
		"name":  u.Name,
		"iat":   now.Unix(),
		"exp":   accessExpiry.Unix(),
		"jti":   uuid.New().String(),
	})
	accessToken, err := token.SignedString(s.signingKey)
	if err != nil {
		panic("authtest: signing access token: " + err.Error())
	}

	refreshBytes := make([]byte, 32)
	if _, err := rand.Read(refreshBytes); err != nil {
		panic("authtest: generating refresh token: " + err.Error())
	}
	refreshToken := hex.EncodeToString(refreshBytes)
	s.refreshGrants[refreshToken] = refreshGrant{UserEmail: u.Email, ExpiresAt: refreshExpiry}

	return tokenResponse{
		AccessToken:      accessToken,
		AccessExpiresAt:  accessExpiry.Format(time.RFC3339),
		RefreshToken:     refreshToken,
		RefreshExpiresAt: refreshExpiry.Format(time.RFC3339),
	}
}

func bearerToken(r *http.Request) (string, bool) {
	const prefix = "Bearer "
	header := r.Header.Get("Authorization")
	if len(header) <= len(prefix) || header[:len(prefix)] != prefix {
		return "", false
	}
	return header[len(prefix):], true
}

func writeMessage(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"message": message})
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}
