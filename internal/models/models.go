package models

import "encoding/json"

// Collection names used in the backing document store.
const (
	CollectionUsers         = "users"
	CollectionChannels      = "channels"
	CollectionConversations = "conversations"
	CollectionThreads       = "threads"
)

// User status values.
const (
	StatusOnline  = "online"
	StatusOffline = "offline"
)

// User roles.
const (
	RoleUser  = "user"
	RoleGuest = "guest"
)

// Thread types. A thread is rooted in a channel message, a direct conversation
// message, or a broadcast compose target.
const (
	ThreadTypeChannel      = "channel"
	ThreadTypeConversation = "conversation"
	ThreadTypeNewMessage   = "newMsg"
)

// User mirrors one document in the users collection. One document exists per
// authenticated identity; status flips between online and offline on sign-in
// and sign-out.
type User struct {
	UID      string   `json:"uid"`
	Email    string   `json:"email"`
	Username string   `json:"username"`
	Avatar   string   `json:"avatar"`
	Status   string   `json:"status"`
	Channels []string `json:"channels"`
	Role     string   `json:"role"`
}

// Channel is a persistent named group conversation with a membership list.
// Comments and Reactions are legacy top-level fields kept for compatibility
// with documents written by earlier releases.
type Channel struct {
	ChaID       string    `json:"chaId"`
	Title       string    `json:"title"`
	CreatorID   string    `json:"creatorId"`
	Description string    `json:"description"`
	Users       []string  `json:"users"`
	Messages    []Message `json:"messages"`
	Comments    []string  `json:"comments"`
	Reactions   []string  `json:"reactions"`
}

// Conversation is the single direct-message document between two users.
// User always holds exactly {CreatorID, PartnerID}.
type Conversation struct {
	ConID     string    `json:"conId"`
	CreatorID string    `json:"creatorId"`
	PartnerID string    `json:"partnerId"`
	Messages  []Message `json:"messages"`
	User      []string  `json:"user"`
}

// Message is embedded in the messages array of exactly one owning document:
// a channel, a conversation, or a thread. Parent carries a denormalized full
// copy of the root message for thread replies and is nil for root messages.
type Message struct {
	MsgID     string     `json:"msgId"`
	TimeStamp int64      `json:"timeStamp"`
	SenderID  string     `json:"senderId"`
	Text      string     `json:"text"`
	Thread    string     `json:"thread,omitempty"`
	Reactions []Reaction `json:"reactions"`
	Parent    *Message   `json:"parent"`
}

// Reaction is an emoji annotation on a message. Counter is derived and must
// always equal the number of keys in ReactedUser.
type Reaction struct {
	ID          string          `json:"id"`
	Counter     int             `json:"counter"`
	ReactedUser map[string]bool `json:"reactedUser"`
}

// Thread is a reply chain rooted at one message in a channel or conversation.
// ConvID points at the owning channel or conversation document. RootMessage
// is an unused placeholder carried for document compatibility.
type Thread struct {
	ID          string    `json:"id"`
	ConvID      string    `json:"convId"`
	RootMessage string    `json:"rootMessage"`
	Messages    []Message `json:"messages"`
	Type        string    `json:"type"`
}

// NewConversation decodes a raw conversation document and defaults every
// field so no cached entity ever carries a nil slice. Malformed payloads
// yield an empty conversation rather than an error; "not decodable yet" is
// routine during cache warm-up.
func NewConversation(raw json.RawMessage) Conversation {
	var conv Conversation
	if len(raw) > 0 {
		_ = json.Unmarshal(raw, &conv)
	}
	return conv.Normalized()
}

// Normalized returns the conversation with nil collections replaced by empty
// ones.
func (c Conversation) Normalized() Conversation {
	if c.Messages == nil {
		c.Messages = []Message{}
	}
	if c.User == nil {
		c.User = []string{}
	}
	return c
}

// NewChannel decodes a raw channel document, assigns the document id and
// defaults every collection field.
func NewChannel(id string, raw json.RawMessage) Channel {
	var ch Channel
	if len(raw) > 0 {
		_ = json.Unmarshal(raw, &ch)
	}
	ch.ChaID = id
	return ch.Normalized()
}

// Normalized returns the channel with nil collections replaced by empty ones.
func (c Channel) Normalized() Channel {
	if c.Users == nil {
		c.Users = []string{}
	}
	if c.Messages == nil {
		c.Messages = []Message{}
	}
	if c.Comments == nil {
		c.Comments = []string{}
	}
	if c.Reactions == nil {
		c.Reactions = []string{}
	}
	return c
}

// NewThread decodes a raw thread document and assigns the document id.
func NewThread(id string, raw json.RawMessage) Thread {
	var th Thread
	if len(raw) > 0 {
		_ = json.Unmarshal(raw, &th)
	}
	th.ID = id
	if th.Messages == nil {
		th.Messages = []Message{}
	}
	return th
}

// NewUser decodes a raw user document.
func NewUser(raw json.RawMessage) User {
	var u User
	if len(raw) > 0 {
		_ = json.Unmarshal(raw, &u)
	}
	if u.Channels == nil {
		u.Channels = []string{}
	}
	if u.Status == "" {
		u.Status = StatusOffline
	}
	if u.Role == "" {
		u.Role = RoleUser
	}
	return u
}

// HasReacted reports whether username currently holds this reaction.
func (r Reaction) HasReacted(username string) bool {
	return r.ReactedUser[username]
}
