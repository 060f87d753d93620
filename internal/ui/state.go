// Package ui holds the local-only interface state shared by the sync
// components: which pane is visible, the open thread, the broadcast
// recipient selection and the transient send-confirmation flag. Nothing in
// here ever reaches the document store.
package ui

import (
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/noah-isme/chatsync/internal/models"
)

// Content enumerates the main pane variants.
type Content string

const (
	ContentChannelChat   Content = "channelChat"
	ContentDirectMessage Content = "directMessage"
	ContentNewMessage    Content = "newMessage"
)

// State is the reactive interface-state holder. All mutation goes through
// methods so consuming code never depends on mutation timing.
type State struct {
	logger          zerolog.Logger
	confirmDuration time.Duration
	scrollDelay     time.Duration

	mu             sync.Mutex
	content        Content
	showThread     bool
	currentMessage models.Message
	currentUser    models.User
	selected       []models.Recipient
	msgConfirmed   bool

	scrollCh chan string
}

// NewState constructs the interface state. confirmDuration is how long the
// send-confirmation indicator stays visible; scrollDelay defers the
// scroll-to-message signal so the render can settle first.
func NewState(confirmDuration, scrollDelay time.Duration, logger zerolog.Logger) *State {
	return &State{
		logger:          logger.With().Str("component", "ui_state").Logger(),
		confirmDuration: confirmDuration,
		scrollDelay:     scrollDelay,
		content:         ContentNewMessage,
		scrollCh:        make(chan string, 16),
	}
}

// Content returns the currently visible pane.
func (s *State) Content() Content {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.content
}

// ChangeContent switches the visible pane.
func (s *State) ChangeContent(content Content) {
	s.mu.Lock()
	s.content = content
	s.mu.Unlock()
}

// OpenThread shows the thread panel.
func (s *State) OpenThread() {
	s.mu.Lock()
	s.showThread = true
	s.mu.Unlock()
}

// CloseThread hides the thread panel.
func (s *State) CloseThread() {
	s.mu.Lock()
	s.showThread = false
	s.mu.Unlock()
}

// ThreadOpen reports whether the thread panel is visible.
func (s *State) ThreadOpen() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.showThread
}

// SetCurrentMessage records the message whose thread is open and shows the
// thread panel.
func (s *State) SetCurrentMessage(msg models.Message) {
	s.mu.Lock()
	s.currentMessage = msg
	s.showThread = true
	s.mu.Unlock()
}

// CurrentMessage returns the root message of the open thread.
func (s *State) CurrentMessage() models.Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.currentMessage
}

// ShowDirectMessage switches the main pane to the direct-message view with
// the given partner and closes any open thread.
func (s *State) ShowDirectMessage(user models.User) {
	s.mu.Lock()
	s.currentUser = user
	s.content = ContentDirectMessage
	s.showThread = false
	s.mu.Unlock()
}

// ChatPartner returns the user shown in the direct-message view.
func (s *State) ChatPartner() models.User {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.currentUser
}

// SelectRecipient adds a broadcast target to the compose selection.
func (s *State) SelectRecipient(r models.Recipient) {
	s.mu.Lock()
	s.selected = append(s.selected, r)
	s.mu.Unlock()
}

// SelectedRecipients returns a copy of the compose selection.
func (s *State) SelectedRecipients() []models.Recipient {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]models.Recipient, len(s.selected))
	copy(out, s.selected)
	return out
}

// ClearCompose resets the broadcast selection after a send.
func (s *State) ClearCompose() {
	s.mu.Lock()
	s.selected = nil
	s.mu.Unlock()
}

// ConfirmSent raises the send-confirmation indicator and clears it again
// after the configured duration.
func (s *State) ConfirmSent() {
	s.mu.Lock()
	s.msgConfirmed = true
	s.mu.Unlock()

	time.AfterFunc(s.confirmDuration, func() {
		s.mu.Lock()
		s.msgConfirmed = false
		s.mu.Unlock()
	})
}

// MsgConfirmed reports whether the confirmation indicator is visible.
func (s *State) MsgConfirmed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.msgConfirmed
}

// ScrollTo queues a scroll-to-message signal after the scroll delay. A full
// signal buffer drops the oldest pending target.
func (s *State) ScrollTo(msgID string) {
	time.AfterFunc(s.scrollDelay, func() {
		select {
		case s.scrollCh <- msgID:
		default:
			select {
			case <-s.scrollCh:
			default:
			}
			select {
			case s.scrollCh <- msgID:
			default:
			}
		}
	})
}

// ScrollSignals exposes the stream of scroll targets for the rendering
// layer.
func (s *State) ScrollSignals() <-chan string {
	return s.scrollCh
}
