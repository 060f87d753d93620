package models

// RecipientKind discriminates the two possible targets of a broadcast
// message. The discriminant is set at construction; callers never inspect
// struct shape to decide what a recipient is.
type RecipientKind string

const (
	RecipientUser    RecipientKind = "user"
	RecipientChannel RecipientKind = "channel"
)

// Recipient is the tagged union of a user or a channel selected in the
// broadcast compose picker.
type Recipient struct {
	Kind    RecipientKind
	User    User
	Channel Channel
}

// UserRecipient wraps a user as a broadcast target.
func UserRecipient(u User) Recipient {
	return Recipient{Kind: RecipientUser, User: u}
}

// ChannelRecipient wraps a channel as a broadcast target.
func ChannelRecipient(c Channel) Recipient {
	return Recipient{Kind: RecipientChannel, Channel: c}
}

// DisplayName returns the username or channel title, used by the compose
// picker and the search index.
func (r Recipient) DisplayName() string {
	if r.Kind == RecipientUser {
		return r.User.Username
	}
	return r.Channel.Title
}
