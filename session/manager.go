package session

import (
	"context"
	"sync"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/jrsteele09/go-session-manager/internal/utils"
	"github.com/jrsteele09/go-session-manager/tokenjwt"
)

// DefaultRefreshThreshold is the lead time before access-token expiry at
// which a refresh is executed.
const DefaultRefreshThreshold = 5 * time.Minute

// Manager owns the session state machine: initial token resolution, login,
// logout, proactive token refresh, and change notification. It is the sole
// writer to its Store; consumers read through State and Subscribe.
//
// All transitions are serialized by an internal mutex, so logically
// concurrent operations resolve deterministically: the later-completing
// operation wins and its terminal state is what observers see.
type Manager struct {
	backend          Backend
	store            *Store
	log              zerolog.Logger
	nowTime          func() time.Time // nowTime function (injectable for testing)
	onChange         func(*TokenPair)
	threshold        time.Duration
	refreshEnabled   bool
	initialTokens    *TokenPair
	tokenInitializer func(context.Context) (*TokenPair, error)

	ctx    context.Context
	cancel context.CancelFunc

	mu       sync.Mutex
	gen      uint64 // bumped on every transition; stale async completions are dropped
	disposed bool
	timer    *time.Timer
}

// ManagerOption defines a function type to modify the Manager instance.
type ManagerOption func(*Manager)

// WithInitialTokens supplies a token pair to resolve the initial state from.
func WithInitialTokens(tokens TokenPair) ManagerOption {
	return func(m *Manager) {
		m.initialTokens = &tokens
	}
}

// WithTokenInitializer supplies a deferred token source for hosts that load
// tokens asynchronously. A nil pair with a nil error settles the session as
// unauthenticated. Takes precedence over WithInitialTokens.
func WithTokenInitializer(fn func(context.Context) (*TokenPair, error)) ManagerOption {
	return func(m *Manager) {
		m.tokenInitializer = fn
	}
}

// WithOnSessionChange registers a callback invoked exactly once per
// completed transition: with the new pair on login or refresh success, with
// nil on logout, refresh failure, or identity-fetch failure. It is not
// invoked while the initial resolution settles. The callback runs on the
// mutating goroutine and must not call state-mutating Manager methods.
func WithOnSessionChange(fn func(*TokenPair)) ManagerOption {
	return func(m *Manager) {
		m.onChange = fn
	}
}

// WithRefreshThreshold overrides the lead time before access-token expiry
// at which the refresh runs.
func WithRefreshThreshold(threshold time.Duration) ManagerOption {
	return func(m *Manager) {
		m.threshold = threshold
	}
}

// WithRefreshDisabled turns off proactive token refresh. Tokens then live
// until the backend rejects them.
func WithRefreshDisabled() ManagerOption {
	return func(m *Manager) {
		m.refreshEnabled = false
	}
}

// WithNowTime sets the now time function (primarily for testing)
func WithNowTime(nowFunc func() time.Time) ManagerOption {
	return func(m *Manager) {
		m.nowTime = nowFunc
	}
}

// WithLogger sets the logger used for transition and refresh diagnostics.
func WithLogger(logger zerolog.Logger) ManagerOption {
	return func(m *Manager) {
		m.log = logger
	}
}

// NewManager initializes a Manager and starts resolving the initial state in
// the background. Synchronous callers observe StatusUnresolved until the
// resolution settles. The initial resolution never surfaces an error; any
// failure settles the session as unauthenticated.
func NewManager(backend Backend, options ...ManagerOption) (*Manager, error) {
	if backend == nil {
		return nil, errors.New("[NewManager] backend is required")
	}

	ctx, cancel := context.WithCancel(context.Background())
	m := &Manager{
		backend:        backend,
		store:          NewStore(),
		log:            log.Logger,
		nowTime:        time.Now,
		threshold:      DefaultRefreshThreshold,
		refreshEnabled: true,
		ctx:            ctx,
		cancel:         cancel,
	}

	for _, opt := range options {
		opt(m)
	}

	go m.resolveInitial(0)

	return m, nil
}

// State returns an immutable snapshot of the current session state.
func (m *Manager) State() State {
	return m.store.Get()
}

// Subscribe registers fn to run on every state change, including the
// initial resolution settling. The returned function cancels the
// subscription. Subscribers run synchronously on the mutating goroutine and
// must not call state-mutating Manager methods.
func (m *Manager) Subscribe(fn func(State)) func() {
	return m.store.Subscribe(fn)
}

// Login exchanges credentials for tokens and resolves the identity behind
// them, then exposes both atomically. Fails with AlreadyAuthenticatedErr if
// a session is already established. Any failure past the precondition
// forces the session to unauthenticated before the error is returned; no
// partial state is retained.
func (m *Manager) Login(ctx context.Context, credentials Credentials) error {
	m.mu.Lock()
	if m.disposed {
		m.mu.Unlock()
		return errors.Wrap(NotAuthenticatedErr, "[Login] manager disposed")
	}
	if m.store.Get().Status == StatusAuthenticated {
		m.mu.Unlock()
		return errors.Wrap(AlreadyAuthenticatedErr, "[Login]")
	}
	m.mu.Unlock()

	tokens, err := m.backend.Login(ctx, credentials.Email, credentials.Password)
	if err != nil {
		m.forceUnauthenticated(false)
		return errors.Wrapf(LoginRejectedErr, "[Login] %s", rejectionMessage(err))
	}

	user, err := m.backend.CurrentUser(ctx, tokens.AccessToken)
	if err != nil {
		m.log.Warn().Err(err).Msg("identity fetch failed after login, ending session")
		m.forceUnauthenticated(true)
		return errors.Wrapf(IdentityFetchErr, "[Login] %s", err.Error())
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.disposed {
		return errors.Wrap(NotAuthenticatedErr, "[Login] manager disposed")
	}
	m.commitLocked(Authenticated(utils.Value(user), utils.Value(tokens)), tokens, true)
	return nil
}

// Logout clears the session. Fails with NotAuthenticatedErr when no session
// is established; a second consecutive call therefore fails without
// altering state.
func (m *Manager) Logout(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.disposed {
		return errors.Wrap(NotAuthenticatedErr, "[Logout] manager disposed")
	}
	if m.store.Get().Status != StatusAuthenticated {
		return errors.Wrap(NotAuthenticatedErr, "[Logout]")
	}
	m.commitLocked(Unauthenticated(), nil, true)
	return nil
}

// Dispose tears the manager down: the pending refresh timer is cancelled
// and results of in-flight backend calls are dropped instead of being
// applied to the store. Safe to call more than once.
func (m *Manager) Dispose() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.disposed {
		return
	}
	m.disposed = true
	m.stopTimerLocked()
	m.cancel()
}

// resolveInitial settles the construction-time state: no tokens means
// unauthenticated, tokens mean an identity fetch whose failure also means
// unauthenticated. Runs once, in its own goroutine.
func (m *Manager) resolveInitial(gen uint64) {
	tokens := m.initialTokens
	if m.tokenInitializer != nil {
		resolved, err := m.tokenInitializer(m.ctx)
		if err != nil {
			m.log.Debug().Err(err).Msg("token initializer failed, starting unauthenticated")
			resolved = nil
		}
		tokens = resolved
	}

	if tokens == nil || tokens.AccessToken == "" {
		m.settle(gen, Unauthenticated())
		return
	}

	user, err := m.backend.CurrentUser(m.ctx, tokens.AccessToken)
	if err != nil {
		m.log.Debug().Err(err).Msg("stored tokens did not resolve to a user, starting unauthenticated")
		m.settle(gen, Unauthenticated())
		return
	}

	m.settle(gen, Authenticated(utils.Value(user), utils.Value(tokens)))
}

// settle applies an initial-resolution result unless a login has already
// transitioned the state in the meantime. Never notifies the token
// callback.
func (m *Manager) settle(gen uint64, next State) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.disposed || gen != m.gen {
		return
	}
	m.commitLocked(next, nil, false)
}

// forceUnauthenticated clears the session after a failed transition,
// regardless of which generation the failure belongs to.
func (m *Manager) forceUnauthenticated(notify bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.disposed {
		return
	}
	m.commitLocked(Unauthenticated(), nil, notify)
}

// commitLocked is the single mutation path. It bumps the generation so
// stale async completions are dropped, replaces any pending refresh timer,
// writes the store, and fires the token callback. Caller holds m.mu.
func (m *Manager) commitLocked(next State, tokens *TokenPair, notify bool) {
	m.gen++
	m.stopTimerLocked()
	if next.Status == StatusAuthenticated {
		m.armRefreshLocked(next.Tokens)
	}
	m.store.Set(next)
	if notify && m.onChange != nil {
		m.onChange(tokens)
	}
}

// accessExpiry returns the scheduling deadline for a token pair. A missing
// expiry falls back to the exp claim of a JWT access token; a zero result
// means "no deadline".
func (m *Manager) accessExpiry(tokens *TokenPair) time.Time {
	if !tokens.AccessExpiresAt.IsZero() {
		return tokens.AccessExpiresAt
	}
	expiry, err := tokenjwt.Expiry(tokens.AccessToken)
	if err != nil {
		return time.Time{}
	}
	return expiry
}
