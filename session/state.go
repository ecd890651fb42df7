package session

import "time"

// Status describes which shape the session state currently has.
type Status int

const (
	// StatusUnresolved is the construction-time default, before the initial
	// token load has settled. It is never re-entered once left.
	StatusUnresolved Status = iota
	// StatusAuthenticated means a user identity and a matching token pair
	// are both present.
	StatusAuthenticated
	// StatusUnauthenticated means identity and tokens are both explicitly
	// absent, as opposed to not yet known.
	StatusUnauthenticated
)

func (s Status) String() string {
	switch s {
	case StatusUnresolved:
		return "unresolved"
	case StatusAuthenticated:
		return "authenticated"
	case StatusUnauthenticated:
		return "unauthenticated"
	}
	return "unknown"
}

// TokenPair holds an access/refresh token set with absolute expiry times.
// A zero AccessExpiresAt means the expiry is unknown; scheduling treats it
// as "no deadline".
type TokenPair struct {
	AccessToken      string
	AccessExpiresAt  time.Time
	RefreshToken     string
	RefreshExpiresAt time.Time
}

// UserIdentity is the resolved identity behind a valid access token.
type UserIdentity struct {
	UserID      string
	DisplayName string
	Email       string
}

// State is the session state exposed to consumers. Exactly one of three
// shapes is reachable: Unresolved (User and Tokens both nil, Status
// StatusUnresolved), Authenticated (both set), Unauthenticated (both nil).
// A user is never exposed without its tokens, nor tokens without a user.
type State struct {
	Status Status
	User   *UserIdentity
	Tokens *TokenPair
}

// Unresolved returns the construction-time state.
func Unresolved() State {
	return State{Status: StatusUnresolved}
}

// Authenticated returns a state holding the user/token pair together.
func Authenticated(user UserIdentity, tokens TokenPair) State {
	return State{Status: StatusAuthenticated, User: &user, Tokens: &tokens}
}

// Unauthenticated returns the explicitly logged-out state.
func Unauthenticated() State {
	return State{Status: StatusUnauthenticated}
}

// clone deep-copies the state so snapshots cannot be mutated through
// shared pointers.
func (s State) clone() State {
	out := State{Status: s.Status}
	if s.User != nil {
		user := *s.User
		out.User = &user
	}
	if s.Tokens != nil {
		tokens := *s.Tokens
		out.Tokens = &tokens
	}
	return out
}
