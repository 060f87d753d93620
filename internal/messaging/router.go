// Package messaging routes composed messages to the correct owning
// document and manages the thread documents attached to them.
package messaging

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/microcosm-cc/bluemonday"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/noah-isme/chatsync/internal/channel"
	"github.com/noah-isme/chatsync/internal/conversation"
	"github.com/noah-isme/chatsync/internal/models"
	"github.com/noah-isme/chatsync/internal/session"
	"github.com/noah-isme/chatsync/internal/store"
	"github.com/noah-isme/chatsync/internal/ui"
)

// ComposeContext names the four places a message can be composed from.
type ComposeContext string

const (
	ContextChat       ComposeContext = "chat"
	ContextChannel    ComposeContext = "channel"
	ContextThread     ComposeContext = "thread"
	ContextNewMessage ComposeContext = "newMsg"
)

// ErrEmptyMessage is returned when the composed text is empty after
// trimming and sanitization.
var ErrEmptyMessage = errors.New("message text is empty")

// ErrNoTarget is returned when the compose context has no resolvable
// owning document (no open conversation, channel or thread).
var ErrNoTarget = errors.New("no target document for message")

// Input is one composed message.
type Input struct {
	Context ComposeContext `json:"context" validate:"required,oneof=chat channel thread newMsg"`
	Text    string         `json:"text" validate:"required"`
}

// Router decides which collection and document receives a composed
// message. Top-level messages in a channel or chat eagerly get their own
// fresh thread document; thread replies carry a denormalized copy of the
// root message instead.
type Router struct {
	gateway   *store.Gateway
	resolver  *conversation.Resolver
	channels  *channel.Service
	auth      session.AuthProvider
	surface   *ui.State
	validator *validator.Validate
	sanitizer *bluemonday.Policy
	logger    zerolog.Logger
	tracer    trace.Tracer

	now   func() time.Time
	newID func() string
}

// NewRouter wires the message router.
func NewRouter(gateway *store.Gateway, resolver *conversation.Resolver, channels *channel.Service, auth session.AuthProvider, surface *ui.State, validate *validator.Validate, logger zerolog.Logger) *Router {
	policy := bluemonday.UGCPolicy()
	policy.AllowElements("br")

	return &Router{
		gateway:   gateway,
		resolver:  resolver,
		channels:  channels,
		auth:      auth,
		surface:   surface,
		validator: validate,
		sanitizer: policy,
		logger:    logger.With().Str("component", "message_router").Logger(),
		tracer:    otel.Tracer("github.com/noah-isme/chatsync/internal/messaging"),
		now:       time.Now,
		newID:     uuid.NewString,
	}
}

// Send routes one composed message. The compose state is cleared whether
// or not the write succeeds; the returned error is the caller's only
// failure signal.
func (r *Router) Send(ctx context.Context, in Input) error {
	if err := r.validator.Struct(in); err != nil {
		return err
	}
	identity, ok := r.auth.CurrentUser()
	if !ok {
		return session.ErrNotAuthenticated
	}

	text := strings.TrimSpace(r.sanitizer.Sanitize(in.Text))
	if text == "" {
		return ErrEmptyMessage
	}

	spanCtx, span := r.tracer.Start(ctx, "message.send", trace.WithAttributes(
		attribute.String("message.context", string(in.Context)),
	))
	defer span.End()

	var err error
	switch in.Context {
	case ContextChat, ContextChannel:
		err = r.sendTopLevel(spanCtx, in.Context, identity, text)
	case ContextThread:
		err = r.sendThreadReply(spanCtx, identity, text)
	case ContextNewMessage:
		err = r.broadcast(spanCtx, identity, text)
	}

	r.surface.ClearCompose()
	return err
}

// sendTopLevel handles the chat and channel contexts: a fresh thread
// document is created for the target first, then the message is appended
// to the owning conversation or channel.
func (r *Router) sendTopLevel(ctx context.Context, cc ComposeContext, identity session.Identity, text string) error {
	var (
		collection string
		targetID   string
		threadType string
	)
	if cc == ContextChat {
		collection = models.CollectionConversations
		targetID = r.resolver.Current().ConID
		threadType = models.ThreadTypeConversation
	} else {
		collection = models.CollectionChannels
		targetID = r.channels.Current().ChaID
		threadType = models.ThreadTypeChannel
	}
	if targetID == "" {
		return ErrNoTarget
	}

	threadID, err := r.AddThread(ctx, targetID, threadType)
	if err != nil {
		return err
	}

	msg := r.buildMessage(identity, text)
	msg.Thread = threadID
	return r.appendMessage(ctx, collection, targetID, msg)
}

// sendThreadReply appends a reply into the open thread's own messages
// array. The reply carries a full denormalized copy of the root message;
// the copy can drift from the live parent after edits, which is accepted.
func (r *Router) sendThreadReply(ctx context.Context, identity session.Identity, text string) error {
	parent := r.surface.CurrentMessage()
	if parent.Thread == "" {
		return ErrNoTarget
	}

	msg := r.buildMessage(identity, text)
	parentCopy := parent
	msg.Parent = &parentCopy
	return r.appendMessage(ctx, models.CollectionThreads, parent.Thread, msg)
}

// broadcast sends the text to every selected recipient. Each recipient
// gets its own message id and its own thread document; conversations with
// user recipients are resolved or pre-warmed silently first. One failing
// recipient does not stop the rest.
func (r *Router) broadcast(ctx context.Context, identity session.Identity, text string) error {
	recipients := r.surface.SelectedRecipients()
	var firstErr error

	for _, recipient := range recipients {
		collection, targetID, err := r.resolveRecipient(ctx, recipient)
		if err != nil {
			r.logger.Error().Err(err).Str("recipient", recipient.DisplayName()).Msg("recipient resolution failed")
			if firstErr == nil {
				firstErr = err
			}
			continue
		}

		threadID, err := r.AddThread(ctx, targetID, models.ThreadTypeNewMessage)
		if err != nil {
			r.logger.Error().Err(err).Str("target", targetID).Msg("thread creation failed")
			if firstErr == nil {
				firstErr = err
			}
			continue
		}

		msg := r.buildMessage(identity, text)
		msg.Thread = threadID
		if err := r.appendMessage(ctx, collection, targetID, msg); err != nil {
			if firstErr == nil {
				firstErr = err
			}
		}
	}

	r.surface.ConfirmSent()
	return firstErr
}

func (r *Router) resolveRecipient(ctx context.Context, recipient models.Recipient) (collection, targetID string, err error) {
	switch recipient.Kind {
	case models.RecipientChannel:
		return models.CollectionChannels, recipient.Channel.ChaID, nil
	case models.RecipientUser:
		conv, found := r.resolver.SearchForConversation(recipient.User)
		if !found {
			conv, err = r.resolver.StartConversation(ctx, recipient.User, conversation.OpenSilent)
			if err != nil {
				return "", "", err
			}
		}
		return models.CollectionConversations, conv.ConID, nil
	default:
		return "", "", fmt.Errorf("unknown recipient kind %q", recipient.Kind)
	}
}

// AddThread always creates a new, initially empty thread document for the
// target and returns its assigned id. Every top-level message gets one
// eagerly rather than lazily on first reply.
func (r *Router) AddThread(ctx context.Context, targetID, threadType string) (string, error) {
	thread := models.Thread{
		ConvID:   targetID,
		Type:     threadType,
		Messages: []models.Message{},
	}
	id, err := r.gateway.CreateDocument(ctx, models.CollectionThreads, thread)
	if err != nil {
		return "", fmt.Errorf("create thread: %w", err)
	}
	return id, nil
}

func (r *Router) buildMessage(identity session.Identity, text string) models.Message {
	return models.Message{
		MsgID:     r.newID(),
		TimeStamp: r.now().UnixMilli(),
		SenderID:  identity.UID,
		Text:      text,
		Reactions: []models.Reaction{},
	}
}

// appendMessage appends through the store's array-append primitive rather
// than overwriting the whole document; the owning array as a whole is
// still last-writer-wins at the document level.
func (r *Router) appendMessage(ctx context.Context, collection, targetID string, msg models.Message) error {
	path := store.DocPath(collection, targetID)
	if err := r.gateway.AppendToArrayField(ctx, path, "messages", msg); err != nil {
		r.logger.Error().Err(err).Str("path", path).Msg("message append failed")
		return fmt.Errorf("append message: %w", err)
	}
	r.surface.ScrollTo(msg.MsgID)
	return nil
}
