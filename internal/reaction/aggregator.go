// Package reaction toggles emoji reactions on messages with
// replace-per-user semantics, locating the owning document across the
// three message-bearing collections.
package reaction

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/noah-isme/chatsync/internal/directory"
	"github.com/noah-isme/chatsync/internal/models"
	"github.com/noah-isme/chatsync/internal/observability"
	"github.com/noah-isme/chatsync/internal/session"
	"github.com/noah-isme/chatsync/internal/store"
)

// ErrMessageNotFound is returned when no cached conversation, channel or
// thread owns a message with the given id.
var ErrMessageNotFound = errors.New("message not found in any collection")

// Aggregator applies emoji toggles. A user holds at most one reaction per
// message: applying a new emoji first removes any prior reaction by that
// user. The whole messages array is written back, so two users reacting to
// the same message at once can race and lose one change; that limitation
// comes with the array-of-objects storage shape and is accepted.
type Aggregator struct {
	gateway *store.Gateway
	cache   *directory.Cache
	auth    session.AuthProvider
	logger  zerolog.Logger
	tracer  trace.Tracer
}

// NewAggregator wires the reaction aggregator.
func NewAggregator(gateway *store.Gateway, cache *directory.Cache, auth session.AuthProvider, logger zerolog.Logger) *Aggregator {
	return &Aggregator{
		gateway: gateway,
		cache:   cache,
		auth:    auth,
		logger:  logger.With().Str("component", "reaction_aggregator").Logger(),
		tracer:  otel.Tracer("github.com/noah-isme/chatsync/internal/reaction"),
	}
}

// SearchMessageByID scans the cached conversations, then channels, then
// threads for the first owner of the message and returns its
// "<collection>/<ownerID>" path. The scan stops at the first hit, so if a
// message id ever appeared in two collections the conversation owner wins.
func (a *Aggregator) SearchMessageByID(msgID string) (string, bool) {
	for _, conv := range a.cache.Conversations() {
		if containsMessage(conv.Messages, msgID) {
			return store.DocPath(models.CollectionConversations, conv.ConID), true
		}
	}
	for _, ch := range a.cache.Channels() {
		if containsMessage(ch.Messages, msgID) {
			return store.DocPath(models.CollectionChannels, ch.ChaID), true
		}
	}
	for _, th := range a.cache.Threads() {
		if containsMessage(th.Messages, msgID) {
			return store.DocPath(models.CollectionThreads, th.ID), true
		}
	}
	return "", false
}

func containsMessage(messages []models.Message, msgID string) bool {
	for _, m := range messages {
		if m.MsgID == msgID {
			return true
		}
	}
	return false
}

// ToggleReaction applies emojiID to the message for the current user. Any
// prior reaction by the user is removed first; an existing entry for the
// same emoji gains the user, otherwise a new entry is appended. The
// counter is recomputed from the reacted-user map on every mutation.
func (a *Aggregator) ToggleReaction(ctx context.Context, emojiID string, message models.Message) error {
	identity, ok := a.auth.CurrentUser()
	if !ok {
		return session.ErrNotAuthenticated
	}

	spanCtx, span := a.tracer.Start(ctx, "reaction.toggle", trace.WithAttributes(
		attribute.String("reaction.emoji", emojiID),
		attribute.String("reaction.msg_id", message.MsgID),
	))
	defer span.End()

	err := a.mutateMessage(spanCtx, message.MsgID, func(msg *models.Message) {
		removeUserReaction(msg, identity.Username)
		if idx := findReactionIndex(msg.Reactions, emojiID); idx != -1 {
			addUserToReaction(&msg.Reactions[idx], identity.Username)
		} else {
			msg.Reactions = append(msg.Reactions, models.Reaction{
				ID:          emojiID,
				Counter:     1,
				ReactedUser: map[string]bool{identity.Username: true},
			})
		}
	})

	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	observability.ReactionToggles().WithLabelValues(outcome).Inc()
	return err
}

// RemoveReaction removes the current user's reaction from the message,
// whichever emoji it is.
func (a *Aggregator) RemoveReaction(ctx context.Context, message models.Message) error {
	identity, ok := a.auth.CurrentUser()
	if !ok {
		return session.ErrNotAuthenticated
	}

	return a.mutateMessage(ctx, message.MsgID, func(msg *models.Message) {
		removeUserReaction(msg, identity.Username)
	})
}

// mutateMessage fetches the owning document, applies mutate to the matching
// message and writes the whole messages array back. The fetch-mutate-write
// spans an await point, so concurrent toggles can interleave; last writer
// wins at this granularity.
func (a *Aggregator) mutateMessage(ctx context.Context, msgID string, mutate func(*models.Message)) error {
	path, ok := a.SearchMessageByID(msgID)
	if !ok {
		a.logger.Error().Str("msg_id", msgID).Msg("reference path not found for message")
		return ErrMessageNotFound
	}

	doc, err := a.gateway.GetDocument(ctx, path)
	if err != nil {
		return fmt.Errorf("fetch %s: %w", path, err)
	}

	var owner struct {
		Messages []models.Message `json:"messages"`
	}
	if err := json.Unmarshal(doc.Data, &owner); err != nil {
		return fmt.Errorf("decode %s: %w", path, err)
	}

	idx := findMessageIndex(owner.Messages, msgID)
	if idx == -1 {
		a.logger.Error().Str("msg_id", msgID).Str("path", path).Msg("message missing from fetched document")
		return ErrMessageNotFound
	}

	mutate(&owner.Messages[idx])

	if err := a.gateway.UpdateDocument(ctx, path, map[string]any{"messages": owner.Messages}); err != nil {
		return fmt.Errorf("persist reactions: %w", err)
	}
	return nil
}

// removeUserReaction deletes the user's existing reaction, dropping the
// entry entirely when its counter reaches zero. No empty reacted-user map
// is ever persisted.
func removeUserReaction(msg *models.Message, username string) {
	idx := findUserReactionIndex(msg.Reactions, username)
	if idx == -1 {
		return
	}
	delete(msg.Reactions[idx].ReactedUser, username)
	msg.Reactions[idx].Counter = len(msg.Reactions[idx].ReactedUser)
	if msg.Reactions[idx].Counter == 0 {
		msg.Reactions = append(msg.Reactions[:idx], msg.Reactions[idx+1:]...)
	}
}

func addUserToReaction(r *models.Reaction, username string) {
	if r.ReactedUser == nil {
		r.ReactedUser = make(map[string]bool)
	}
	r.ReactedUser[username] = true
	r.Counter = len(r.ReactedUser)
}

func findMessageIndex(messages []models.Message, msgID string) int {
	for i, m := range messages {
		if m.MsgID == msgID {
			return i
		}
	}
	return -1
}

func findReactionIndex(reactions []models.Reaction, emojiID string) int {
	for i, r := range reactions {
		if r.ID == emojiID {
			return i
		}
	}
	return -1
}

func findUserReactionIndex(reactions []models.Reaction, username string) int {
	for i, r := range reactions {
		if r.HasReacted(username) {
			return i
		}
	}
	return -1
}
