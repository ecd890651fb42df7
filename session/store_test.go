package session_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/jrsteele09/go-session-manager/session"
)

func TestStoreStartsUnresolved(t *testing.T) {
	store := session.NewStore()

	state := store.Get()
	require.Equal(t, session.StatusUnresolved, state.Status)
	require.Nil(t, state.User)
	require.Nil(t, state.Tokens)
}

func TestStoreSetOverwritesAtomically(t *testing.T) {
	store := session.NewStore()
	user := session.UserIdentity{UserID: "user-1", DisplayName: "John Doe", Email: "john.doe@example.com"}
	tokens := session.TokenPair{AccessToken: "access-1", AccessExpiresAt: time.Now().Add(time.Hour), RefreshToken: "refresh-1"}

	store.Set(session.Authenticated(user, tokens))

	state := store.Get()
	require.Equal(t, session.StatusAuthenticated, state.Status)
	require.Equal(t, user, *state.User)
	require.Equal(t, tokens, *state.Tokens)

	store.Set(session.Unauthenticated())

	state = store.Get()
	require.Equal(t, session.StatusUnauthenticated, state.Status)
	require.Nil(t, state.User)
	require.Nil(t, state.Tokens)
}

func TestStoreSnapshotsAreIsolated(t *testing.T) {
	store := session.NewStore()
	user := session.UserIdentity{UserID: "user-1", Email: "john.doe@example.com"}
	tokens := session.TokenPair{AccessToken: "access-1"}

	store.Set(session.Authenticated(user, tokens))

	snapshot := store.Get()
	snapshot.User.UserID = "tampered"
	snapshot.Tokens.AccessToken = "tampered"

	state := store.Get()
	require.Equal(t, "user-1", state.User.UserID)
	require.Equal(t, "access-1", state.Tokens.AccessToken)
}

func TestStoreSubscribeAndUnsubscribe(t *testing.T) {
	store := session.NewStore()

	var observed []session.State
	unsubscribe := store.Subscribe(func(state session.State) {
		observed = append(observed, state)
	})

	store.Set(session.Unauthenticated())
	require.Len(t, observed, 1)
	require.Equal(t, session.StatusUnauthenticated, observed[0].Status)

	unsubscribe()

	store.Set(session.Authenticated(session.UserIdentity{UserID: "user-1"}, session.TokenPair{AccessToken: "access-1"}))
	require.Len(t, observed, 1)
}
