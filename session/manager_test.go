package session_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/jrsteele09/go-session-manager/internal/utils"
	"github.com/jrsteele09/go-session-manager/session"
	"github.com/jrsteele09/go-session-manager/session/backendfakes"
)

const (
	testUserID       = "user-1"
	testUserName     = "John Doe"
	testUserEmail    = "john.doe@example.com"
	testUserPassword = "password123"

	waitFor = 2 * time.Second
	tick    = 5 * time.Millisecond
)

// testFixture holds the manager under test plus everything needed to
// script the backend and observe token hand-offs.
type testFixture struct {
	backend *backendfakes.FakeBackend
	manager *session.Manager

	changeLock sync.Mutex
	changes    []*session.TokenPair
}

func setupTestFixture(t *testing.T, options ...session.ManagerOption) *testFixture {
	t.Helper()

	f := &testFixture{backend: backendfakes.NewFakeBackend()}

	options = append(options,
		session.WithLogger(zerolog.Nop()),
		session.WithOnSessionChange(f.recordChange),
	)

	manager, err := session.NewManager(f.backend, options...)
	require.NoError(t, err)
	t.Cleanup(manager.Dispose)

	f.manager = manager
	return f
}

func (f *testFixture) recordChange(tokens *session.TokenPair) {
	f.changeLock.Lock()
	defer f.changeLock.Unlock()
	f.changes = append(f.changes, tokens)
}

func (f *testFixture) changeCount() int {
	f.changeLock.Lock()
	defer f.changeLock.Unlock()
	return len(f.changes)
}

func (f *testFixture) lastChange() *session.TokenPair {
	f.changeLock.Lock()
	defer f.changeLock.Unlock()
	if len(f.changes) == 0 {
		return nil
	}
	return f.changes[len(f.changes)-1]
}

// scriptHappyPath makes the backend accept the test user's credentials and
// resolve any issued access token to the test identity.
func (f *testFixture) scriptHappyPath(tokens session.TokenPair) {
	f.backend.LoginFunc = func(_ context.Context, email, password string) (*session.TokenPair, error) {
		if email != testUserEmail || password != testUserPassword {
			return nil, &session.Rejection{Message: "invalid email or password"}
		}
		return utils.Ptr(tokens), nil
	}
	f.backend.CurrentUserFunc = func(_ context.Context, accessToken string) (*session.UserIdentity, error) {
		if accessToken != tokens.AccessToken {
			return nil, &session.Rejection{Message: "invalid access token"}
		}
		return &session.UserIdentity{UserID: testUserID, DisplayName: testUserName, Email: testUserEmail}, nil
	}
}

func testTokens(accessExpiry time.Time) session.TokenPair {
	return session.TokenPair{
		AccessToken:      "access-1",
		AccessExpiresAt:  accessExpiry,
		RefreshToken:     "refresh-1",
		RefreshExpiresAt: accessExpiry.Add(24 * time.Hour),
	}
}

func requireEventuallyStatus(t *testing.T, manager *session.Manager, status session.Status) {
	t.Helper()
	require.Eventually(t, func() bool {
		return manager.State().Status == status
	}, waitFor, tick)
}

func TestColdStartWithoutTokens(t *testing.T) {
	f := setupTestFixture(t)

	requireEventuallyStatus(t, f.manager, session.StatusUnauthenticated)
	require.Zero(t, f.changeCount())
	require.Zero(t, f.backend.CurrentUserCalls())
}

func TestColdStartWithValidTokens(t *testing.T) {
	tokens := testTokens(time.Now().Add(time.Hour))
	f := setupTestFixture(t, session.WithInitialTokens(tokens))
	f.scriptHappyPath(tokens)

	requireEventuallyStatus(t, f.manager, session.StatusAuthenticated)

	state := f.manager.State()
	require.Equal(t, testUserID, state.User.UserID)
	require.Equal(t, tokens.AccessToken, state.Tokens.AccessToken)
	require.Zero(t, f.changeCount(), "initial resolution must not invoke the token callback")
}

func TestColdStartWithRejectedTokens(t *testing.T) {
	tokens := testTokens(time.Now().Add(time.Hour))
	f := setupTestFixture(t, session.WithInitialTokens(tokens))
	f.backend.CurrentUserFunc = func(context.Context, string) (*session.UserIdentity, error) {
		return nil, &session.Rejection{Message: "invalid access token"}
	}

	requireEventuallyStatus(t, f.manager, session.StatusUnauthenticated)
	require.Zero(t, f.changeCount())
}

func TestColdStartWithTokenInitializer(t *testing.T) {
	tokens := testTokens(time.Now().Add(time.Hour))
	f := setupTestFixture(t, session.WithTokenInitializer(func(context.Context) (*session.TokenPair, error) {
		return utils.Ptr(tokens), nil
	}))
	f.scriptHappyPath(tokens)

	requireEventuallyStatus(t, f.manager, session.StatusAuthenticated)
	require.Equal(t, testUserEmail, f.manager.State().User.Email)
}

func TestColdStartWithNilTokenInitializer(t *testing.T) {
	f := setupTestFixture(t, session.WithTokenInitializer(func(context.Context) (*session.TokenPair, error) {
		return nil, nil
	}))

	requireEventuallyStatus(t, f.manager, session.StatusUnauthenticated)
	require.Zero(t, f.changeCount())
}

func TestColdStartWithFailingTokenInitializer(t *testing.T) {
	f := setupTestFixture(t, session.WithTokenInitializer(func(context.Context) (*session.TokenPair, error) {
		return nil, context.DeadlineExceeded
	}))

	requireEventuallyStatus(t, f.manager, session.StatusUnauthenticated)
	require.Zero(t, f.backend.CurrentUserCalls())
}

func TestLoginSuccess(t *testing.T) {
	tokens := testTokens(time.Now().Add(time.Hour))
	f := setupTestFixture(t)
	f.scriptHappyPath(tokens)

	requireEventuallyStatus(t, f.manager, session.StatusUnauthenticated)

	err := f.manager.Login(context.Background(), session.Credentials{Email: testUserEmail, Password: testUserPassword})
	require.NoError(t, err)

	state := f.manager.State()
	require.Equal(t, session.StatusAuthenticated, state.Status)
	require.Equal(t, testUserID, state.User.UserID)
	require.Equal(t, tokens.AccessToken, state.Tokens.AccessToken)

	require.Equal(t, 1, f.changeCount())
	require.NotNil(t, f.lastChange())
	require.Equal(t, tokens.AccessToken, f.lastChange().AccessToken)
}

func TestLoginWhileAuthenticated(t *testing.T) {
	tokens := testTokens(time.Now().Add(time.Hour))
	f := setupTestFixture(t)
	f.scriptHappyPath(tokens)

	requireEventuallyStatus(t, f.manager, session.StatusUnauthenticated)
	require.NoError(t, f.manager.Login(context.Background(), session.Credentials{Email: testUserEmail, Password: testUserPassword}))

	err := f.manager.Login(context.Background(), session.Credentials{Email: testUserEmail, Password: testUserPassword})
	require.ErrorIs(t, err, session.AlreadyAuthenticatedErr)
	require.Equal(t, session.StatusAuthenticated, f.manager.State().Status)
	require.Equal(t, 1, f.backend.LoginCalls())
}

func TestLoginRejected(t *testing.T) {
	f := setupTestFixture(t)
	f.scriptHappyPath(testTokens(time.Now().Add(time.Hour)))

	requireEventuallyStatus(t, f.manager, session.StatusUnauthenticated)

	err := f.manager.Login(context.Background(), session.Credentials{Email: testUserEmail, Password: "wrong"})
	require.ErrorIs(t, err, session.LoginRejectedErr)
	require.Contains(t, err.Error(), "invalid email or password")

	require.Equal(t, session.StatusUnauthenticated, f.manager.State().Status)
	require.Zero(t, f.changeCount(), "a rejected login hands no tokens over")
}

func TestLoginIdentityFetchFailure(t *testing.T) {
	tokens := testTokens(time.Now().Add(time.Hour))
	f := setupTestFixture(t)
	f.backend.LoginFunc = func(context.Context, string, string) (*session.TokenPair, error) {
		return utils.Ptr(tokens), nil
	}
	f.backend.CurrentUserFunc = func(context.Context, string) (*session.UserIdentity, error) {
		return nil, &session.Rejection{Message: "token not accepted"}
	}

	requireEventuallyStatus(t, f.manager, session.StatusUnauthenticated)

	err := f.manager.Login(context.Background(), session.Credentials{Email: testUserEmail, Password: testUserPassword})
	require.ErrorIs(t, err, session.IdentityFetchErr)

	state := f.manager.State()
	require.Equal(t, session.StatusUnauthenticated, state.Status, "no partial state may survive a failed identity fetch")
	require.Nil(t, state.Tokens)

	require.Equal(t, 1, f.changeCount())
	require.Nil(t, f.lastChange())
}

func TestLogout(t *testing.T) {
	tokens := testTokens(time.Now().Add(time.Hour))
	f := setupTestFixture(t)
	f.scriptHappyPath(tokens)

	requireEventuallyStatus(t, f.manager, session.StatusUnauthenticated)
	require.NoError(t, f.manager.Login(context.Background(), session.Credentials{Email: testUserEmail, Password: testUserPassword}))

	require.NoError(t, f.manager.Logout(context.Background()))

	state := f.manager.State()
	require.Equal(t, session.StatusUnauthenticated, state.Status)
	require.Nil(t, state.User)
	require.Nil(t, state.Tokens)

	require.Equal(t, 2, f.changeCount())
	require.Nil(t, f.lastChange())
}

func TestLogoutTwiceFailsSecondCall(t *testing.T) {
	tokens := testTokens(time.Now().Add(time.Hour))
	f := setupTestFixture(t)
	f.scriptHappyPath(tokens)

	requireEventuallyStatus(t, f.manager, session.StatusUnauthenticated)
	require.NoError(t, f.manager.Login(context.Background(), session.Credentials{Email: testUserEmail, Password: testUserPassword}))
	require.NoError(t, f.manager.Logout(context.Background()))

	err := f.manager.Logout(context.Background())
	require.ErrorIs(t, err, session.NotAuthenticatedErr)
	require.Equal(t, session.StatusUnauthenticated, f.manager.State().Status)
	require.Equal(t, 2, f.changeCount(), "a failed logout must not notify again")
}

func TestLogoutWhileUnauthenticated(t *testing.T) {
	f := setupTestFixture(t)

	requireEventuallyStatus(t, f.manager, session.StatusUnauthenticated)
	require.ErrorIs(t, f.manager.Logout(context.Background()), session.NotAuthenticatedErr)
}

func TestSubscribersSeeEveryTransition(t *testing.T) {
	tokens := testTokens(time.Now().Add(time.Hour))

	// Hold the initial resolution back until the subscriber is registered,
	// so the settling transition is observed too.
	subscribed := make(chan struct{})
	f := setupTestFixture(t, session.WithTokenInitializer(func(context.Context) (*session.TokenPair, error) {
		<-subscribed
		return nil, nil
	}))
	f.scriptHappyPath(tokens)

	var statusLock sync.Mutex
	var statuses []session.Status
	unsubscribe := f.manager.Subscribe(func(state session.State) {
		statusLock.Lock()
		defer statusLock.Unlock()
		statuses = append(statuses, state.Status)
	})
	defer unsubscribe()
	close(subscribed)

	requireEventuallyStatus(t, f.manager, session.StatusUnauthenticated)
	require.NoError(t, f.manager.Login(context.Background(), session.Credentials{Email: testUserEmail, Password: testUserPassword}))
	require.NoError(t, f.manager.Logout(context.Background()))

	statusLock.Lock()
	defer statusLock.Unlock()
	require.Equal(t, []session.Status{
		session.StatusUnauthenticated,
		session.StatusAuthenticated,
		session.StatusUnauthenticated,
	}, statuses)
}

func TestDisposeDropsInFlightLogin(t *testing.T) {
	tokens := testTokens(time.Now().Add(time.Hour))
	f := setupTestFixture(t)

	identityFetchStarted := make(chan struct{})
	release := make(chan struct{})
	f.backend.LoginFunc = func(context.Context, string, string) (*session.TokenPair, error) {
		return utils.Ptr(tokens), nil
	}
	f.backend.CurrentUserFunc = func(context.Context, string) (*session.UserIdentity, error) {
		close(identityFetchStarted)
		<-release
		return &session.UserIdentity{UserID: testUserID, Email: testUserEmail}, nil
	}

	requireEventuallyStatus(t, f.manager, session.StatusUnauthenticated)

	loginErr := make(chan error, 1)
	go func() {
		loginErr <- f.manager.Login(context.Background(), session.Credentials{Email: testUserEmail, Password: testUserPassword})
	}()

	<-identityFetchStarted
	f.manager.Dispose()
	close(release)

	require.Error(t, <-loginErr)
	require.Equal(t, session.StatusUnauthenticated, f.manager.State().Status, "a disposed manager must not apply in-flight results")
	require.Zero(t, f.changeCount())
}

func TestNewManagerRequiresBackend(t *testing.T) {
	_, err := session.NewManager(nil)
	require.Error(t, err)
}
