// Package channel manages channel documents: creation with client-side
// title uniqueness, membership updates and the current-channel live mirror.
package channel

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/go-playground/validator/v10"
	"github.com/microcosm-cc/bluemonday"
	"github.com/rs/zerolog"

	"github.com/noah-isme/chatsync/internal/directory"
	"github.com/noah-isme/chatsync/internal/models"
	"github.com/noah-isme/chatsync/internal/session"
	"github.com/noah-isme/chatsync/internal/store"
	"github.com/noah-isme/chatsync/internal/ui"
)

// ErrChannelTitleTaken indicates another channel already carries the
// requested title. The check is client-side only: the store enforces
// nothing, so two concurrent creations can still produce duplicates. Known
// gap, not a feature.
var ErrChannelTitleTaken = errors.New("channel title already in use")

// CreateInput is the payload for creating a channel. Nil MemberUIDs means
// every known user joins.
type CreateInput struct {
	Title       string `validate:"required,min=1,max=120"`
	Description string `validate:"max=500"`
	MemberUIDs  []string
}

// Service owns channel document writes and the current-channel mirror.
type Service struct {
	gateway   *store.Gateway
	cache     *directory.Cache
	auth      session.AuthProvider
	surface   *ui.State
	validator *validator.Validate
	sanitizer *bluemonday.Policy
	logger    zerolog.Logger

	mu      sync.RWMutex
	current models.Channel
}

// NewService wires the channel service.
func NewService(gateway *store.Gateway, cache *directory.Cache, auth session.AuthProvider, surface *ui.State, validate *validator.Validate, logger zerolog.Logger) *Service {
	return &Service{
		gateway:   gateway,
		cache:     cache,
		auth:      auth,
		surface:   surface,
		validator: validate,
		sanitizer: bluemonday.StrictPolicy(),
		logger:    logger.With().Str("component", "channel_service").Logger(),
	}
}

// CreateChannel creates a channel owned by the current user, adds the
// selected (or all) users, persists the assigned id back into the document
// and switches the UI to the new channel.
func (s *Service) CreateChannel(ctx context.Context, in CreateInput) (models.Channel, error) {
	identity, ok := s.auth.CurrentUser()
	if !ok {
		return models.Channel{}, session.ErrNotAuthenticated
	}
	if err := s.validator.Struct(in); err != nil {
		return models.Channel{}, err
	}

	title := strings.TrimSpace(s.sanitizer.Sanitize(in.Title))
	if title == "" {
		return models.Channel{}, errors.New("channel title empty after sanitization")
	}
	if s.titleTaken(title, "") {
		return models.Channel{}, ErrChannelTitleTaken
	}

	members := in.MemberUIDs
	if members == nil {
		members = s.cache.UserIDs()
	}
	members = ensureMember(members, identity.UID)

	ch := models.Channel{
		Title:       title,
		CreatorID:   identity.Username,
		Description: strings.TrimSpace(s.sanitizer.Sanitize(in.Description)),
		Users:       members,
		Messages:    []models.Message{},
		Comments:    []string{},
		Reactions:   []string{},
	}

	id, err := s.gateway.CreateDocument(ctx, models.CollectionChannels, ch)
	if err != nil {
		return models.Channel{}, fmt.Errorf("create channel: %w", err)
	}
	ch.ChaID = id
	if err := s.assignChatID(ctx, id); err != nil {
		s.logger.Warn().Err(err).Str("cha_id", id).Msg("chat id assignment failed")
	}

	s.ShowChannelChat(ctx, ch)
	return ch, nil
}

// titleTaken compares trimmed titles case-sensitively against the cached
// channels, skipping excludeID on rename.
func (s *Service) titleTaken(title, excludeID string) bool {
	for _, ch := range s.cache.Channels() {
		if ch.ChaID == excludeID {
			continue
		}
		if strings.TrimSpace(ch.Title) == title {
			return true
		}
	}
	return false
}

func ensureMember(members []string, uid string) []string {
	for _, m := range members {
		if m == uid {
			return members
		}
	}
	return append(members, uid)
}

func (s *Service) assignChatID(ctx context.Context, chaID string) error {
	return s.gateway.UpdateDocument(ctx, store.DocPath(models.CollectionChannels, chaID), map[string]any{"chaId": chaID})
}

// UpdateChannel renames a channel and replaces its description. The title
// uniqueness check runs again against the cache.
func (s *Service) UpdateChannel(ctx context.Context, channelID, title, description string) error {
	if channelID == "" {
		return errors.New("no channel id given")
	}

	title = strings.TrimSpace(s.sanitizer.Sanitize(title))
	if title == "" {
		return errors.New("channel title empty after sanitization")
	}
	if s.titleTaken(title, channelID) {
		return ErrChannelTitleTaken
	}

	return s.gateway.UpdateDocument(ctx, store.DocPath(models.CollectionChannels, channelID), map[string]any{
		"title":       title,
		"description": strings.TrimSpace(s.sanitizer.Sanitize(description)),
	})
}

// UpdateUserList replaces a channel's membership list.
func (s *Service) UpdateUserList(ctx context.Context, channelID string, users []string) error {
	if channelID == "" {
		return errors.New("no channel id given")
	}
	return s.gateway.UpdateDocument(ctx, store.DocPath(models.CollectionChannels, channelID), map[string]any{"users": users})
}

// AddUsersToChannel appends users to a channel's membership list one by
// one through the array-append primitive.
func (s *Service) AddUsersToChannel(ctx context.Context, channelID string, uids []string) error {
	path := store.DocPath(models.CollectionChannels, channelID)
	for _, uid := range uids {
		if err := s.gateway.AppendToArrayField(ctx, path, "users", uid); err != nil {
			return fmt.Errorf("add user %s: %w", uid, err)
		}
	}
	return nil
}

// AssignUsersToChannel puts every known user into the channel.
func (s *Service) AssignUsersToChannel(ctx context.Context, channelID string) error {
	return s.gateway.UpdateDocument(ctx, store.DocPath(models.CollectionChannels, channelID), map[string]any{
		"users": s.cache.UserIDs(),
		"chaId": channelID,
	})
}

// ListenToChannel mirrors one channel document into the current-channel
// slot on every change.
func (s *Service) ListenToChannel(ctx context.Context, chaID string) error {
	if chaID == "" {
		return nil
	}
	path := store.DocPath(models.CollectionChannels, chaID)
	return s.gateway.SubscribeDocument(ctx, path, func(doc store.Document, ok bool) {
		if !ok {
			return
		}
		s.setCurrent(models.NewChannel(doc.ID, doc.Data))
	})
}

// ShowChannelChat adopts the channel as current, switches the main pane to
// the channel view and starts the live mirror.
func (s *Service) ShowChannelChat(ctx context.Context, ch models.Channel) {
	s.setCurrent(ch)
	s.surface.ChangeContent(ui.ContentChannelChat)
	s.surface.CloseThread()
	if err := s.ListenToChannel(ctx, ch.ChaID); err != nil {
		s.logger.Warn().Err(err).Str("cha_id", ch.ChaID).Msg("channel subscription failed")
	}
}

func (s *Service) setCurrent(ch models.Channel) {
	s.mu.Lock()
	s.current = ch.Normalized()
	s.mu.Unlock()
}

// Current returns the channel currently shown.
func (s *Service) Current() models.Channel {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.current
}
