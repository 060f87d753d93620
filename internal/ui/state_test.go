package ui

import (
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/chatsync/internal/models"
)

func TestContentSwitching(t *testing.T) {
	s := NewState(time.Millisecond, time.Millisecond, zerolog.Nop())
	require.Equal(t, ContentNewMessage, s.Content())

	s.ChangeContent(ContentChannelChat)
	require.Equal(t, ContentChannelChat, s.Content())
}

func TestShowDirectMessageClosesThread(t *testing.T) {
	s := NewState(time.Millisecond, time.Millisecond, zerolog.Nop())
	s.OpenThread()
	require.True(t, s.ThreadOpen())

	s.ShowDirectMessage(models.User{UID: "u2", Username: "bob"})
	require.Equal(t, ContentDirectMessage, s.Content())
	require.Equal(t, "bob", s.ChatPartner().Username)
	require.False(t, s.ThreadOpen())
}

func TestSetCurrentMessageOpensThread(t *testing.T) {
	s := NewState(time.Millisecond, time.Millisecond, zerolog.Nop())

	s.SetCurrentMessage(models.Message{MsgID: "m1", Thread: "t1"})
	require.True(t, s.ThreadOpen())
	require.Equal(t, "m1", s.CurrentMessage().MsgID)

	s.CloseThread()
	require.False(t, s.ThreadOpen())
	require.Equal(t, "m1", s.CurrentMessage().MsgID, "closing the panel keeps the message")
}

func TestRecipientSelection(t *testing.T) {
	s := NewState(time.Millisecond, time.Millisecond, zerolog.Nop())
	s.SelectRecipient(models.UserRecipient(models.User{UID: "u2"}))
	s.SelectRecipient(models.ChannelRecipient(models.Channel{ChaID: "c1"}))
	require.Len(t, s.SelectedRecipients(), 2)

	s.ClearCompose()
	require.Empty(t, s.SelectedRecipients())
}

func TestConfirmSentExpires(t *testing.T) {
	s := NewState(20*time.Millisecond, time.Millisecond, zerolog.Nop())

	s.ConfirmSent()
	require.True(t, s.MsgConfirmed())

	require.Eventually(t, func() bool { return !s.MsgConfirmed() }, time.Second, 5*time.Millisecond)
}

func TestScrollSignalDeliveredAfterDelay(t *testing.T) {
	s := NewState(time.Millisecond, 5*time.Millisecond, zerolog.Nop())

	s.ScrollTo("m1")
	select {
	case got := <-s.ScrollSignals():
		require.Equal(t, "m1", got)
	case <-time.After(time.Second):
		t.Fatal("scroll signal never arrived")
	}
}

func TestScrollBufferDropsOldest(t *testing.T) {
	s := NewState(time.Millisecond, 0, zerolog.Nop())

	for i := 0; i < 20; i++ {
		s.ScrollTo("m")
	}
	require.Eventually(t, func() bool { return len(s.ScrollSignals()) > 0 }, time.Second, time.Millisecond)
}
