// Package conversation guarantees, on the client's best effort, a 1:1
// mapping between an unordered pair of users and a direct-conversation
// document.
package conversation

import (
	"context"
	"fmt"
	"sync"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/noah-isme/chatsync/internal/directory"
	"github.com/noah-isme/chatsync/internal/models"
	"github.com/noah-isme/chatsync/internal/session"
	"github.com/noah-isme/chatsync/internal/store"
	"github.com/noah-isme/chatsync/internal/ui"
)

// OpenMode controls whether StartConversation switches the visible pane.
type OpenMode string

// OpenSilent resolves the conversation without touching the UI; the
// broadcast path uses it to pre-warm conversations before sending.
const OpenSilent OpenMode = "silent"

// Resolver finds or creates the single conversation document between two
// users. The find-or-create is a client-side check-then-act: two
// near-simultaneous calls for the same never-before-seen pair can each miss
// the other's in-flight write and produce two documents. The store offers
// no transaction or unique constraint, so this race is documented rather
// than patched.
type Resolver struct {
	gateway *store.Gateway
	cache   *directory.Cache
	auth    session.AuthProvider
	surface *ui.State
	logger  zerolog.Logger
	tracer  trace.Tracer

	mu      sync.RWMutex
	current models.Conversation
}

// NewResolver wires the resolver to its collaborators.
func NewResolver(gateway *store.Gateway, cache *directory.Cache, auth session.AuthProvider, surface *ui.State, logger zerolog.Logger) *Resolver {
	return &Resolver{
		gateway: gateway,
		cache:   cache,
		auth:    auth,
		surface: surface,
		logger:  logger.With().Str("component", "conversation_resolver").Logger(),
		tracer:  otel.Tracer("github.com/noah-isme/chatsync/internal/conversation"),
	}
}

// SearchConversation scans the cached conversations for the unordered pair
// {creatorID, partnerID}. A conversation created with either user as
// creator matches. Nil ok means no conversation exists yet.
func (r *Resolver) SearchConversation(creatorID, partnerID string) (models.Conversation, bool) {
	for _, conv := range r.cache.Conversations() {
		if (conv.CreatorID == creatorID && conv.PartnerID == partnerID) ||
			(conv.CreatorID == partnerID && conv.PartnerID == creatorID) {
			return conv, true
		}
	}
	return models.Conversation{}, false
}

// SearchForConversation finds a conversation by membership: both the
// current user and the given user appear in its user list.
func (r *Resolver) SearchForConversation(user models.User) (models.Conversation, bool) {
	identity, ok := r.auth.CurrentUser()
	if !ok {
		return models.Conversation{}, false
	}
	for _, conv := range r.cache.Conversations() {
		if containsAll(conv.User, user.UID, identity.UID) {
			return conv, true
		}
	}
	return models.Conversation{}, false
}

func containsAll(haystack []string, needles ...string) bool {
	for _, needle := range needles {
		found := false
		for _, v := range haystack {
			if v == needle {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	return true
}

// StartConversation resolves or creates the conversation with user, adopts
// it as the current conversation and subscribes to its live updates. With
// no mode given the direct-message pane is shown; OpenSilent leaves the UI
// alone.
func (r *Resolver) StartConversation(ctx context.Context, user models.User, mode ...OpenMode) (models.Conversation, error) {
	identity, ok := r.auth.CurrentUser()
	if !ok {
		return models.Conversation{}, session.ErrNotAuthenticated
	}

	spanCtx, span := r.tracer.Start(ctx, "conversation.start", trace.WithAttributes(
		attribute.String("conversation.partner_id", user.UID),
	))
	defer span.End()

	conv, found := r.SearchConversation(identity.UID, user.UID)
	if !found {
		created, err := r.createNewConversation(spanCtx, identity.UID, user.UID)
		if err != nil {
			return models.Conversation{}, err
		}
		conv = created
	}

	r.setCurrent(conv)
	if len(mode) == 0 {
		r.surface.ShowDirectMessage(user)
	}
	if err := r.ListenToCurrentConversationChanges(spanCtx, conv.ConID); err != nil {
		r.logger.Warn().Err(err).Str("con_id", conv.ConID).Msg("conversation subscription failed")
	}
	return conv, nil
}

// createNewConversation writes the conversation document, learns the id
// the store assigned and persists it back into the document.
func (r *Resolver) createNewConversation(ctx context.Context, creatorID, partnerID string) (models.Conversation, error) {
	conv := models.Conversation{
		CreatorID: creatorID,
		PartnerID: partnerID,
		User:      []string{creatorID, partnerID},
		Messages:  []models.Message{},
	}

	id, err := r.gateway.CreateDocument(ctx, models.CollectionConversations, conv)
	if err != nil {
		return models.Conversation{}, fmt.Errorf("create conversation: %w", err)
	}
	conv.ConID = id
	if err := r.gateway.SetDocument(ctx, store.DocPath(models.CollectionConversations, id), conv); err != nil {
		return models.Conversation{}, fmt.Errorf("assign conversation id: %w", err)
	}
	return conv, nil
}

// ListenToCurrentConversationChanges subscribes to one conversation
// document and mirrors each update into the current conversation.
func (r *Resolver) ListenToCurrentConversationChanges(ctx context.Context, conversationID string) error {
	if conversationID == "" {
		return nil
	}
	path := store.DocPath(models.CollectionConversations, conversationID)
	return r.gateway.SubscribeDocument(ctx, path, func(doc store.Document, ok bool) {
		if !ok {
			return
		}
		r.setCurrent(models.NewConversation(doc.Data))
	})
}

func (r *Resolver) setCurrent(conv models.Conversation) {
	r.mu.Lock()
	r.current = conv.Normalized()
	r.mu.Unlock()
}

// Current returns the conversation currently adopted as open.
func (r *Resolver) Current() models.Conversation {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.current
}

// GetCurrentConversation resolves the conversation between the current
// user and the given partner without adopting or creating anything.
func (r *Resolver) GetCurrentConversation(user models.User) (models.Conversation, bool) {
	identity, ok := r.auth.CurrentUser()
	if !ok {
		return models.Conversation{}, false
	}
	return r.SearchConversation(identity.UID, user.UID)
}
