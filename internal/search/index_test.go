package search

import (
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/chatsync/internal/directory"
	"github.com/noah-isme/chatsync/internal/models"
	"github.com/noah-isme/chatsync/internal/session"
	"github.com/noah-isme/chatsync/internal/store"
)

func msg(id, text string) models.Message {
	return models.Message{MsgID: id, SenderID: "u1", Text: text, Reactions: []models.Reaction{}}
}

func newTestIndex(t *testing.T) (*Index, *store.Gateway) {
	t.Helper()
	ctx := context.Background()
	gateway := store.NewGateway(store.NewMemory(), zerolog.Nop())
	cache := directory.NewCache(gateway, time.Millisecond, zerolog.Nop())

	require.NoError(t, gateway.SetDocument(ctx, "users/u1", models.User{
		UID: "u1", Username: "alice", Email: "alice@example.com",
		Status: models.StatusOnline, Channels: []string{}, Role: models.RoleUser,
	}))
	require.NoError(t, gateway.SetDocument(ctx, "users/u2", models.User{
		UID: "u2", Username: "bob", Email: "bob@example.com",
		Status: models.StatusOffline, Channels: []string{}, Role: models.RoleUser,
	}))
	require.NoError(t, gateway.SetDocument(ctx, "channels/c1", models.Channel{
		Title: "general", CreatorID: "alice", Description: "company wide announcements",
		Users:    []string{"u1", "u2"},
		Messages: []models.Message{msg("m1", "deploy finished")},
		Comments: []string{}, Reactions: []string{},
	}))
	require.NoError(t, gateway.SetDocument(ctx, "conversations/v1", models.Conversation{
		ConID: "v1", CreatorID: "u1", PartnerID: "u2",
		User: []string{"u1", "u2"}, Messages: []models.Message{msg("m2", "quarterly report is ready")},
	}))
	require.NoError(t, gateway.SetDocument(ctx, "conversations/v2", models.Conversation{
		ConID: "v2", CreatorID: "u2", PartnerID: "u3",
		User: []string{"u2", "u3"}, Messages: []models.Message{msg("m3", "quarterly numbers too")},
	}))
	require.NoError(t, gateway.SetDocument(ctx, "threads/t1", models.Thread{
		ConvID: "c1", Type: models.ThreadTypeChannel,
		Messages: []models.Message{msg("m4", "side note about rollback")},
	}))

	require.NoError(t, cache.GetAllUsers(ctx, "u1"))
	require.NoError(t, cache.LoadUserChannels(ctx, "u1"))
	require.NoError(t, cache.GetAllConversations(ctx))
	require.NoError(t, cache.LoadAllThreads(ctx))

	auth := session.NewStaticProvider()
	auth.SignIn(session.Identity{UID: "u1", Username: "alice"})

	idx := NewIndex(cache, auth, time.Millisecond, zerolog.Nop())
	idx.Rebuild()
	return idx, gateway
}

func TestRebuildIncludesOnlyOwnConversations(t *testing.T) {
	idx, _ := newTestIndex(t)

	var conversations []Entry
	for _, e := range idx.entries {
		if e.Kind == EntryConversation {
			conversations = append(conversations, e)
		}
	}
	require.Len(t, conversations, 1)
	require.Equal(t, "v1", conversations[0].Conversation.ConID)
}

func TestChannelIndexedAsProfileAndChat(t *testing.T) {
	idx, _ := newTestIndex(t)

	var kinds []EntryKind
	for _, e := range idx.entries {
		if e.Kind == EntryChannel || e.Kind == EntryChannelChat {
			kinds = append(kinds, e.Kind)
		}
	}
	require.ElementsMatch(t, []EntryKind{EntryChannel, EntryChannelChat}, kinds)
}

func TestFilterMatchesUsernames(t *testing.T) {
	idx, _ := newTestIndex(t)

	results := idx.Filter("ALICE")
	require.Len(t, results, 1, "matching is case-insensitive")
	require.Equal(t, EntryUser, results[0].Kind)

	require.Empty(t, idx.Filter("bob@example.com"), "emails belong to the recipient picker, not the searchbar")
	require.Empty(t, idx.Filter(""), "an empty query matches nothing")
	require.Empty(t, idx.Filter("zzz"))
}

func TestFilterMatchesChannelTitleAndDescription(t *testing.T) {
	idx, _ := newTestIndex(t)

	results := idx.Filter("general")
	require.Len(t, results, 1, "the title matches the channel profile entry only")
	require.Equal(t, EntryChannel, results[0].Kind)

	results = idx.Filter("announcements")
	require.Len(t, results, 1)
	require.Equal(t, EntryChannel, results[0].Kind)
}

func TestFilterMatchesMessageText(t *testing.T) {
	idx, _ := newTestIndex(t)

	results := idx.Filter("quarterly")
	require.Len(t, results, 1, "only the current user's conversations are indexed")
	require.Equal(t, EntryConversation, results[0].Kind)
	require.Equal(t, "v1", results[0].Conversation.ConID)

	results = idx.Filter("deploy")
	require.Len(t, results, 1, "channel message text matches the chat entry")
	require.Equal(t, EntryChannelChat, results[0].Kind)

	results = idx.Filter("rollback")
	require.Len(t, results, 1)
	require.Equal(t, EntryThread, results[0].Kind)
}

func TestFilterRecipientsPrefixModes(t *testing.T) {
	idx, _ := newTestIndex(t)

	recipients := idx.FilterRecipients("@bob")
	require.Len(t, recipients, 1)
	require.Equal(t, models.RecipientUser, recipients[0].Kind)
	require.Equal(t, "u2", recipients[0].User.UID)

	recipients = idx.FilterRecipients("#general")
	require.Len(t, recipients, 1)
	require.Equal(t, models.RecipientChannel, recipients[0].Kind)

	recipients = idx.FilterRecipients("bob@example")
	require.Len(t, recipients, 1, "bare input searches emails")
	require.Equal(t, models.RecipientUser, recipients[0].Kind)

	require.Empty(t, idx.FilterRecipients("general"), "bare input never matches channels")
	require.Empty(t, idx.FilterRecipients("@carol"))
	require.Empty(t, idx.FilterRecipients(""))
}

func TestWarmRebuildsAfterDelay(t *testing.T) {
	idx, gateway := newTestIndex(t)
	ctx := context.Background()

	require.NoError(t, gateway.SetDocument(ctx, "users/u3", models.User{
		UID: "u3", Username: "carol", Email: "carol@example.com",
		Status: models.StatusOffline, Channels: []string{}, Role: models.RoleUser,
	}))
	require.Empty(t, idx.Filter("carol"), "new users appear only after a rebuild")

	idx.Warm()
	require.Eventually(t, func() bool {
		return len(idx.Filter("carol")) == 1
	}, time.Second, 5*time.Millisecond)
}
