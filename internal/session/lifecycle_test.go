package session

import (
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/chatsync/internal/directory"
	"github.com/noah-isme/chatsync/internal/models"
	"github.com/noah-isme/chatsync/internal/store"
)

func newLifecycleFixture(t *testing.T) (*Lifecycle, *store.Gateway, *directory.Cache, *StaticProvider) {
	t.Helper()
	gateway := store.NewGateway(store.NewMemory(), zerolog.Nop())
	cache := directory.NewCache(gateway, time.Millisecond, zerolog.Nop())
	users := directory.NewUsers(gateway, cache, nil, "")
	auth := NewStaticProvider()

	require.NoError(t, gateway.SetDocument(context.Background(), "users/u1", models.User{
		UID: "u1", Username: "alice", Email: "alice@example.com",
		Status: models.StatusOffline, Channels: []string{}, Role: models.RoleUser,
	}))

	return NewLifecycle(auth, gateway, cache, users, zerolog.Nop()), gateway, cache, auth
}

func userStatus(t *testing.T, g *store.Gateway, uid string) string {
	t.Helper()
	doc, err := g.GetDocument(context.Background(), store.DocPath(models.CollectionUsers, uid))
	require.NoError(t, err)
	return models.NewUser(doc.Data).Status
}

func TestSignInInitializesSessionState(t *testing.T) {
	lc, gateway, cache, auth := newLifecycleFixture(t)
	lc.Start(context.Background())
	defer lc.Stop()

	auth.SignIn(Identity{UID: "u1", Username: "alice"})

	require.Equal(t, models.StatusOnline, userStatus(t, gateway, "u1"))
	// Four directory subscriptions plus the current-user document mirror.
	require.Equal(t, 5, gateway.ListenerCount())
	require.Equal(t, "alice", cache.CurrentUser().Username)
	require.Len(t, cache.Users(), 1)
}

func TestSignOutTearsEverythingDown(t *testing.T) {
	lc, gateway, _, auth := newLifecycleFixture(t)
	lc.Start(context.Background())
	defer lc.Stop()

	auth.SignIn(Identity{UID: "u1", Username: "alice"})
	auth.SignOut()

	require.Equal(t, models.StatusOffline, userStatus(t, gateway, "u1"))
	require.Equal(t, 0, gateway.ListenerCount())
}

func TestSignOutWithoutSignInIsNoop(t *testing.T) {
	lc, gateway, _, auth := newLifecycleFixture(t)
	lc.Start(context.Background())
	defer lc.Stop()

	auth.SignOut()
	require.Equal(t, models.StatusOffline, userStatus(t, gateway, "u1"))
	require.Equal(t, 0, gateway.ListenerCount())
}

func TestSignInAfterSignOutStartsFresh(t *testing.T) {
	lc, gateway, _, auth := newLifecycleFixture(t)
	lc.Start(context.Background())
	defer lc.Stop()

	auth.SignIn(Identity{UID: "u1", Username: "alice"})
	auth.SignOut()
	auth.SignIn(Identity{UID: "u1", Username: "alice"})

	require.Equal(t, models.StatusOnline, userStatus(t, gateway, "u1"))
	require.Equal(t, 5, gateway.ListenerCount(), "the channels guard resets so all subscriptions restart")
}

func TestStopDeregistersCallback(t *testing.T) {
	lc, gateway, _, auth := newLifecycleFixture(t)
	lc.Start(context.Background())
	lc.Stop()

	auth.SignIn(Identity{UID: "u1", Username: "alice"})
	require.Equal(t, 0, gateway.ListenerCount(), "after Stop the lifecycle no longer reacts")
}

func TestStaticProviderFiresImmediately(t *testing.T) {
	auth := NewStaticProvider()
	auth.SignIn(Identity{UID: "u1"})

	var got *Identity
	cancel := auth.OnAuthStateChanged(func(id *Identity) { got = id })
	defer cancel()

	require.NotNil(t, got, "registration fires once with the current state")
	require.Equal(t, "u1", got.UID)
}
