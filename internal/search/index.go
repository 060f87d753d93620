// Package search builds the combined lookup index behind the searchbar and
// the broadcast recipient picker.
package search

import (
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/noah-isme/chatsync/internal/directory"
	"github.com/noah-isme/chatsync/internal/models"
	"github.com/noah-isme/chatsync/internal/session"
)

// EntryKind tags one index entry.
type EntryKind string

const (
	EntryUser         EntryKind = "user"
	EntryChannel      EntryKind = "channel"
	EntryChannelChat  EntryKind = "channel-chat"
	EntryConversation EntryKind = "conversation"
	EntryThread       EntryKind = "thread"
)

// Entry is one searchable object. Kind is the discriminant; only the
// matching payload field is set.
type Entry struct {
	Kind         EntryKind
	User         models.User
	Channel      models.Channel
	Conversation models.Conversation
	Thread       models.Thread
}

// Index combines the directory mirrors into one typed list. Conversations
// only appear when the current user participates in them.
type Index struct {
	cache     *directory.Cache
	auth      session.AuthProvider
	warmDelay time.Duration
	logger    zerolog.Logger

	mu      sync.RWMutex
	entries []Entry
}

// NewIndex wires the search index. warmDelay defers the first rebuild so
// the directory mirrors can fill before indexing starts.
func NewIndex(cache *directory.Cache, auth session.AuthProvider, warmDelay time.Duration, logger zerolog.Logger) *Index {
	return &Index{
		cache:     cache,
		auth:      auth,
		warmDelay: warmDelay,
		logger:    logger.With().Str("component", "search_index").Logger(),
	}
}

// Warm schedules the first rebuild after the warm delay.
func (i *Index) Warm() {
	time.AfterFunc(i.warmDelay, i.Rebuild)
}

// Rebuild recomputes the combined index from the current mirrors.
func (i *Index) Rebuild() {
	var currentUID string
	if identity, ok := i.auth.CurrentUser(); ok {
		currentUID = identity.UID
	}

	var entries []Entry
	for _, u := range i.cache.Users() {
		entries = append(entries, Entry{Kind: EntryUser, User: u})
	}
	for _, ch := range i.cache.Channels() {
		entries = append(entries, Entry{Kind: EntryChannel, Channel: ch})
		entries = append(entries, Entry{Kind: EntryChannelChat, Channel: ch})
	}
	for _, conv := range i.cache.Conversations() {
		if conv.CreatorID == currentUID || conv.PartnerID == currentUID {
			entries = append(entries, Entry{Kind: EntryConversation, Conversation: conv})
		}
	}
	for _, th := range i.cache.Threads() {
		entries = append(entries, Entry{Kind: EntryThread, Thread: th})
	}

	i.mu.Lock()
	i.entries = entries
	i.mu.Unlock()
	i.logger.Debug().Int("entries", len(entries)).Msg("search index rebuilt")
}

// Filter returns the entries matching the query, case-insensitively. Users
// match on username, channels on title or description, and conversation,
// channel-chat and thread entries on the text of their messages. An empty
// query matches nothing.
func (i *Index) Filter(query string) []Entry {
	query = strings.ToLower(strings.TrimSpace(query))
	if query == "" {
		return nil
	}

	i.mu.RLock()
	defer i.mu.RUnlock()

	var out []Entry
	for _, e := range i.entries {
		if matches(e, query) {
			out = append(out, e)
		}
	}
	return out
}

func matches(e Entry, query string) bool {
	switch e.Kind {
	case EntryUser:
		return strings.Contains(strings.ToLower(e.User.Username), query)
	case EntryChannel:
		return strings.Contains(strings.ToLower(e.Channel.Title), query) ||
			strings.Contains(strings.ToLower(e.Channel.Description), query)
	case EntryChannelChat:
		return anyMessageContains(e.Channel.Messages, query)
	case EntryConversation:
		return anyMessageContains(e.Conversation.Messages, query)
	case EntryThread:
		return anyMessageContains(e.Thread.Messages, query)
	}
	return false
}

func anyMessageContains(messages []models.Message, query string) bool {
	for _, m := range messages {
		if strings.Contains(strings.ToLower(m.Text), query) {
			return true
		}
	}
	return false
}

// FilterRecipients narrows users and channels for the broadcast compose
// picker. The leading character picks the mode: "@" searches usernames,
// "#" searches channel titles, and bare input searches user emails.
func (i *Index) FilterRecipients(query string) []models.Recipient {
	query = strings.ToLower(strings.TrimSpace(query))
	if query == "" {
		return nil
	}

	i.mu.RLock()
	defer i.mu.RUnlock()

	var out []models.Recipient
	switch {
	case strings.HasPrefix(query, "@"):
		term := query[1:]
		for _, e := range i.entries {
			if e.Kind == EntryUser && strings.Contains(strings.ToLower(e.User.Username), term) {
				out = append(out, models.UserRecipient(e.User))
			}
		}
	case strings.HasPrefix(query, "#"):
		term := query[1:]
		for _, e := range i.entries {
			if e.Kind == EntryChannel && strings.Contains(strings.ToLower(e.Channel.Title), term) {
				out = append(out, models.ChannelRecipient(e.Channel))
			}
		}
	default:
		for _, e := range i.entries {
			if e.Kind == EntryUser && strings.Contains(strings.ToLower(e.User.Email), query) {
				out = append(out, models.UserRecipient(e.User))
			}
		}
	}
	return out
}
