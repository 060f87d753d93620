package directory

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/noah-isme/chatsync/internal/models"
	"github.com/noah-isme/chatsync/internal/store"
)

// AvatarUploader stores an avatar image and returns its public URL.
type AvatarUploader interface {
	UploadAvatar(ctx context.Context, name string, reader io.Reader) (string, error)
}

// Users wraps the user-document write paths: registration, profile edits
// and the presence status flips driven by the session lifecycle.
type Users struct {
	gateway          *store.Gateway
	cache            *Cache
	uploader         AvatarUploader
	welcomeChannelID string
}

// NewUsers constructs the user writer. welcomeChannelID names the channel
// every new registration is added to; empty disables the step. A nil
// uploader disables avatar changes.
func NewUsers(gateway *store.Gateway, cache *Cache, uploader AvatarUploader, welcomeChannelID string) *Users {
	return &Users{gateway: gateway, cache: cache, uploader: uploader, welcomeChannelID: welcomeChannelID}
}

// AddUser stores a freshly registered user document under its uid and adds
// the user to the welcome channel. A welcome-channel failure is logged by
// the gateway metrics but does not fail the registration.
func (u *Users) AddUser(ctx context.Context, user models.User) error {
	if user.UID == "" {
		return fmt.Errorf("user has no uid")
	}
	if user.Channels == nil {
		user.Channels = []string{}
	}
	if err := u.gateway.SetDocument(ctx, store.DocPath(models.CollectionUsers, user.UID), user); err != nil {
		return fmt.Errorf("add user: %w", err)
	}
	u.addToWelcomeChannel(ctx, user.UID)
	return nil
}

func (u *Users) addToWelcomeChannel(ctx context.Context, uid string) {
	if u.welcomeChannelID == "" {
		return
	}
	path := store.DocPath(models.CollectionChannels, u.welcomeChannelID)
	_ = u.gateway.AppendToArrayField(ctx, path, "users", uid)
	_ = u.gateway.UpdateDocument(ctx, path, map[string]any{"chaId": u.welcomeChannelID})
}

// SetUserStatus flips a user's presence between online and offline.
func (u *Users) SetUserStatus(ctx context.Context, uid, status string) error {
	if uid == "" {
		return nil
	}
	return u.gateway.UpdateDocument(ctx, store.DocPath(models.CollectionUsers, uid), map[string]any{"status": status})
}

// UpdateUser persists an edited profile. All stored fields are written so a
// partial in-memory object cannot silently drop document fields.
func (u *Users) UpdateUser(ctx context.Context, user models.User) error {
	if user.UID == "" {
		return nil
	}
	fields := map[string]any{
		"uid":      user.UID,
		"username": user.Username,
		"email":    user.Email,
		"status":   user.Status,
		"avatar":   user.Avatar,
		"channels": user.Channels,
		"role":     user.Role,
	}
	return u.gateway.UpdateDocument(ctx, store.DocPath(models.CollectionUsers, user.UID), fields)
}

// UpdateAvatar uploads a new avatar image and writes the resulting URL to
// the user document.
func (u *Users) UpdateAvatar(ctx context.Context, uid, filename string, reader io.Reader) (string, error) {
	if u.uploader == nil {
		return "", errors.New("avatar uploads are not configured")
	}
	url, err := u.uploader.UploadAvatar(ctx, filename, reader)
	if err != nil {
		return "", fmt.Errorf("upload avatar: %w", err)
	}
	if err := u.gateway.UpdateDocument(ctx, store.DocPath(models.CollectionUsers, uid), map[string]any{"avatar": url}); err != nil {
		return "", fmt.Errorf("persist avatar: %w", err)
	}
	return url, nil
}

// GetCurrentUser reads one user document by uid. store.ErrNotFound means
// the registration write has not landed yet.
func (u *Users) GetCurrentUser(ctx context.Context, uid string) (models.User, error) {
	doc, err := u.gateway.GetDocument(ctx, store.DocPath(models.CollectionUsers, uid))
	if err != nil {
		return models.User{}, err
	}
	return models.NewUser(doc.Data), nil
}

// SubscribeUserByID keeps the cache's current-user mirror fresh for the
// signed-in identity.
func (u *Users) SubscribeUserByID(ctx context.Context, uid string) error {
	return u.gateway.SubscribeDocument(ctx, store.DocPath(models.CollectionUsers, uid), func(doc store.Document, ok bool) {
		if !ok {
			return
		}
		user := models.NewUser(doc.Data)
		user.UID = doc.ID

		u.cache.mu.Lock()
		u.cache.currentUser = user
		u.cache.mu.Unlock()
	})
}

// CurrentUser returns the mirrored current-user document.
func (c *Cache) CurrentUser() models.User {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.currentUser
}
