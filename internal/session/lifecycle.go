package session

import (
	"context"
	"sync"

	"github.com/rs/zerolog"

	"github.com/noah-isme/chatsync/internal/directory"
	"github.com/noah-isme/chatsync/internal/models"
	"github.com/noah-isme/chatsync/internal/store"
)

// Lifecycle reacts to authentication state transitions: sign-in populates
// the directory cache and flips the user online; sign-out flips the user
// offline and tears down every live subscription.
type Lifecycle struct {
	auth    AuthProvider
	gateway *store.Gateway
	cache   *directory.Cache
	users   *directory.Users
	logger  zerolog.Logger

	mu      sync.Mutex
	lastUID string
	cancel  func()
}

// NewLifecycle wires the lifecycle to its collaborators.
func NewLifecycle(auth AuthProvider, gateway *store.Gateway, cache *directory.Cache, users *directory.Users, logger zerolog.Logger) *Lifecycle {
	return &Lifecycle{
		auth:    auth,
		gateway: gateway,
		cache:   cache,
		users:   users,
		logger:  logger.With().Str("component", "session_lifecycle").Logger(),
	}
}

// Start registers for auth state changes. The registration fires once
// immediately with the current state.
func (l *Lifecycle) Start(ctx context.Context) {
	l.mu.Lock()
	l.cancel = l.auth.OnAuthStateChanged(func(identity *Identity) {
		if identity != nil {
			l.handleSignIn(ctx, *identity)
		} else {
			l.handleSignOut(ctx)
		}
	})
	l.mu.Unlock()
}

// Stop deregisters the auth callback. Live subscriptions are left to the
// next sign-out or an explicit UnsubscribeAll.
func (l *Lifecycle) Stop() {
	l.mu.Lock()
	cancel := l.cancel
	l.cancel = nil
	l.mu.Unlock()
	if cancel != nil {
		cancel()
	}
}

func (l *Lifecycle) handleSignIn(ctx context.Context, identity Identity) {
	l.mu.Lock()
	l.lastUID = identity.UID
	l.mu.Unlock()

	l.logger.Info().Str("uid", identity.UID).Msg("signed in")

	if err := l.users.SetUserStatus(ctx, identity.UID, models.StatusOnline); err != nil {
		l.logger.Warn().Err(err).Msg("online status write failed")
	}
	if err := l.users.SubscribeUserByID(ctx, identity.UID); err != nil {
		l.logger.Warn().Err(err).Msg("current-user subscription failed")
	}
	l.cache.InitializeData(ctx, identity.UID)
}

func (l *Lifecycle) handleSignOut(ctx context.Context) {
	l.mu.Lock()
	uid := l.lastUID
	l.lastUID = ""
	l.mu.Unlock()

	if uid == "" {
		return
	}
	l.logger.Info().Str("uid", uid).Msg("signed out")

	if err := l.users.SetUserStatus(ctx, uid, models.StatusOffline); err != nil {
		l.logger.Warn().Err(err).Msg("offline status write failed")
	}
	l.gateway.UnsubscribeAll()
}
