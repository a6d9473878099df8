package discord

import "context"

type MessageEvent struct {
	GuildID     string
	ChannelID   string
	MessageID   string
	AuthorID    string
	AuthorIsBot bool
	Content     string
	// MentionIDs lists the user ids mentioned in the message, in order.
	MentionIDs []string
}

type Client interface {
	Connect(ctx context.Context) error
	Close() error
	SendChannelMessage(channelID, content string) error
	AddReaction(channelID, messageID, emoji string) error
	RegisterMessageHandler(handler func(MessageEvent))
	GetBotUserID() (string, error)
	// Run blocks until ctx is done.
	Run(ctx context.Context) error
}
