package directory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/noah-isme/chatsync/internal/models"
	"github.com/noah-isme/chatsync/internal/store"
)

// userChannelsFlag guards against starting the user-channels subscription
// twice; the gateway resets it on UnsubscribeAll.
const userChannelsFlag = "user_channels"

// Cache mirrors the users, channels, threads and conversations collections
// in memory. Every snapshot replaces the mirrored array wholesale; there is
// no partial merge. Each array has a single writer (its subscription
// callback); readers go through the accessor methods, which copy.
type Cache struct {
	gateway     *store.Gateway
	logger      zerolog.Logger
	settleDelay time.Duration

	mu            sync.RWMutex
	users         []models.User
	userIDs       []string
	channels      []models.Channel
	threads       []models.Thread
	conversations []models.Conversation
	currentUser   models.User
	loading       bool
}

// NewCache constructs a directory cache on top of the gateway. settleDelay
// is how long the loading flag stays up after the initial subscriptions are
// in place, smoothing over out-of-order initial snapshots.
func NewCache(gateway *store.Gateway, settleDelay time.Duration, logger zerolog.Logger) *Cache {
	return &Cache{
		gateway:     gateway,
		logger:      logger.With().Str("component", "directory_cache").Logger(),
		settleDelay: settleDelay,
		loading:     true,
	}
}

// InitializeData starts the four directory subscriptions. They run
// independently: a failure of one is logged and does not block the others.
// The loading flag clears only after the settle delay.
func (c *Cache) InitializeData(ctx context.Context, currentUID string) {
	c.mu.Lock()
	c.loading = true
	c.mu.Unlock()

	if err := c.GetAllUsers(ctx, currentUID); err != nil {
		c.logger.Error().Err(err).Msg("users subscription failed")
	}
	if err := c.GetAllConversations(ctx); err != nil {
		c.logger.Error().Err(err).Msg("conversations subscription failed")
	}
	if err := c.LoadUserChannels(ctx, currentUID); err != nil {
		c.logger.Error().Err(err).Msg("channels subscription failed")
	}
	if err := c.LoadAllThreads(ctx); err != nil {
		c.logger.Error().Err(err).Msg("threads subscription failed")
	}

	time.AfterFunc(c.settleDelay, func() {
		c.mu.Lock()
		c.loading = false
		c.mu.Unlock()
	})
}

// Loading reports whether the initial load is still settling.
func (c *Cache) Loading() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.loading
}

// GetAllUsers subscribes to the users collection. On every snapshot the
// users array and the parallel id list are replaced, then sorted so online
// users come first (stable otherwise), then the current user is moved to
// index 0. The front-pin must run after the status sort or the sort would
// displace the current user again.
func (c *Cache) GetAllUsers(ctx context.Context, currentUID string) error {
	return c.gateway.SubscribeCollection(ctx, models.CollectionUsers, nil, func(snap store.Snapshot) {
		users := make([]models.User, 0, len(snap.Docs))
		ids := make([]string, 0, len(snap.Docs))
		for _, doc := range snap.Docs {
			users = append(users, models.NewUser(doc.Data))
			ids = append(ids, doc.ID)
		}
		sortByStatus(users)
		moveUserToFront(users, currentUID)

		c.mu.Lock()
		c.users = users
		c.userIDs = ids
		c.mu.Unlock()
	})
}

func sortByStatus(users []models.User) {
	sort.SliceStable(users, func(i, j int) bool {
		return users[i].Status == models.StatusOnline && users[j].Status != models.StatusOnline
	})
}

func moveUserToFront(users []models.User, currentUID string) {
	for i, u := range users {
		if u.UID != currentUID {
			continue
		}
		if i > 0 {
			current := users[i]
			copy(users[1:i+1], users[:i])
			users[0] = current
		}
		return
	}
}

// LoadUserChannels subscribes to the channels the user belongs to. A
// named flag prevents a second subscription while one is active.
func (c *Cache) LoadUserChannels(ctx context.Context, userUID string) error {
	if userUID == "" {
		return nil
	}
	if !c.gateway.MarkActive(userChannelsFlag) {
		return nil
	}

	err := c.gateway.SubscribeCollection(ctx, models.CollectionChannels, store.ArrayContains("users", userUID), func(snap store.Snapshot) {
		channels := make([]models.Channel, 0, len(snap.Docs))
		for _, doc := range snap.Docs {
			channels = append(channels, models.NewChannel(doc.ID, doc.Data))
		}

		c.mu.Lock()
		c.channels = channels
		c.mu.Unlock()
	})
	if err != nil {
		// Without a live subscription the flag must not stay up, or every
		// retry would short-circuit until the next UnsubscribeAll.
		c.gateway.ClearFlag(userChannelsFlag)
	}
	return err
}

// LoadAllThreads subscribes to the threads collection.
func (c *Cache) LoadAllThreads(ctx context.Context) error {
	return c.gateway.SubscribeCollection(ctx, models.CollectionThreads, nil, func(snap store.Snapshot) {
		threads := make([]models.Thread, 0, len(snap.Docs))
		for _, doc := range snap.Docs {
			threads = append(threads, models.NewThread(doc.ID, doc.Data))
		}

		c.mu.Lock()
		c.threads = threads
		c.mu.Unlock()
	})
}

// GetAllConversations subscribes to the conversations collection. Every
// cached conversation goes through the normalizing constructor so no field
// is ever nil.
func (c *Cache) GetAllConversations(ctx context.Context) error {
	return c.gateway.SubscribeCollection(ctx, models.CollectionConversations, nil, func(snap store.Snapshot) {
		conversations := make([]models.Conversation, 0, len(snap.Docs))
		for _, doc := range snap.Docs {
			conversations = append(conversations, models.NewConversation(doc.Data))
		}

		c.mu.Lock()
		c.conversations = conversations
		c.mu.Unlock()
	})
}

// Users returns a copy of the mirrored users array.
func (c *Cache) Users() []models.User {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]models.User, len(c.users))
	copy(out, c.users)
	return out
}

// UserIDs returns a copy of the mirrored user document id list.
func (c *Cache) UserIDs() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]string, len(c.userIDs))
	copy(out, c.userIDs)
	return out
}

// Channels returns a copy of the mirrored channels array.
func (c *Cache) Channels() []models.Channel {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]models.Channel, len(c.channels))
	copy(out, c.channels)
	return out
}

// Threads returns a copy of the mirrored threads array.
func (c *Cache) Threads() []models.Thread {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]models.Thread, len(c.threads))
	copy(out, c.threads)
	return out
}

// Conversations returns a copy of the mirrored conversations array.
func (c *Cache) Conversations() []models.Conversation {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]models.Conversation, len(c.conversations))
	copy(out, c.conversations)
	return out
}

// UserByID finds a cached user by uid. The zero value and false mean "not
// cached yet".
func (c *Cache) UserByID(uid string) (models.User, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	for _, u := range c.users {
		if u.UID == uid {
			return u, true
		}
	}
	return models.User{}, false
}

// ChannelByID finds a cached channel by id.
func (c *Cache) ChannelByID(chaID string) (models.Channel, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	for _, ch := range c.channels {
		if ch.ChaID == chaID {
			return ch, true
		}
	}
	return models.Channel{}, false
}

// ThreadByID finds a cached thread by id.
func (c *Cache) ThreadByID(id string) (models.Thread, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	for _, th := range c.threads {
		if th.ID == id {
			return th, true
		}
	}
	return models.Thread{}, false
}
