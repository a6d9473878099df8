package discord

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/bwmarrin/discordgo"

	discordpkg "github.com/foxseedlab/trivia/internal/discord"
)

type Client struct {
	session   *discordgo.Session
	token     string
	botUserID string
	logger    *slog.Logger
}

func NewClient(token string, logger *slog.Logger) discordpkg.Client {
	return &Client{
		token:  token,
		logger: logger,
	}
}

func (c *Client) Connect(ctx context.Context) error {
	s, err := discordgo.New("Bot " + c.token)
	if err != nil {
		return err
	}
	c.session = s
	s.Identify.Intents = discordgo.MakeIntent(discordgo.IntentsGuildMessages | discordgo.IntentsDirectMessages | discordgo.IntentMessageContent)
	if err := openWithContext(ctx, s.Open, s.Close); err != nil {
		return err
	}
	userID, err := c.GetBotUserID()
	if err != nil {
		return err
	}
	c.botUserID = userID
	return nil
}

func (c *Client) Close() error {
	if c.session != nil {
		return c.session.Close()
	}
	return nil
}

// openWithContext runs open and gives up when ctx is done. A late open is
// closed in the background so the gateway connection does not leak.
func openWithContext(ctx context.Context, open, closeFn func() error) error {
	done := make(chan error, 1)
	go func() { done <- open() }()

	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		go func() {
			if err := <-done; err == nil {
				_ = closeFn()
			}
		}()
		return fmt.Errorf("discord connect: %w", ctx.Err())
	}
}

func (c *Client) SendChannelMessage(channelID, content string) error {
	_, err := c.session.ChannelMessageSend(channelID, content)
	return err
}

// AddReaction ignores messages that were deleted before the reaction landed.
func (c *Client) AddReaction(channelID, messageID, emoji string) error {
	err := c.session.MessageReactionAdd(channelID, messageID, emoji)
	if err != nil && isRESTNotFound(err) {
		c.logger.Debug("message gone before reaction",
			slog.String("channel_id", channelID),
			slog.String("message_id", messageID))
		return nil
	}
	return err
}

func (c *Client) RegisterMessageHandler(handler func(discordpkg.MessageEvent)) {
	c.session.AddHandler(func(s *discordgo.Session, m *discordgo.MessageCreate) {
		ev, ok := toMessageEvent(m)
		if !ok {
			return
		}
		handler(ev)
	})
}

func toMessageEvent(m *discordgo.MessageCreate) (discordpkg.MessageEvent, bool) {
	if m == nil || m.Message == nil || m.Author == nil || m.ChannelID == "" {
		return discordpkg.MessageEvent{}, false
	}
	mentions := make([]string, 0, len(m.Mentions))
	for _, u := range m.Mentions {
		if u != nil && u.ID != "" {
			mentions = append(mentions, u.ID)
		}
	}
	return discordpkg.MessageEvent{
		GuildID:     m.GuildID,
		ChannelID:   m.ChannelID,
		MessageID:   m.ID,
		AuthorID:    m.Author.ID,
		AuthorIsBot: m.Author.Bot,
		Content:     m.Content,
		MentionIDs:  mentions,
	}, true
}

func isRESTNotFound(err error) bool {
	var restErr *discordgo.RESTError
	if !errors.As(err, &restErr) {
		return false
	}
	if restErr.Response == nil {
		return false
	}
	return restErr.Response.StatusCode == http.StatusNotFound
}

func (c *Client) GetBotUserID() (string, error) {
	if c.botUserID != "" {
		return c.botUserID, nil
	}
	if c.session == nil {
		return "", fmt.Errorf("discord session is not initialized")
	}
	if c.session.State != nil && c.session.State.User != nil && c.session.State.User.ID != "" {
		c.botUserID = c.session.State.User.ID
		return c.botUserID, nil
	}
	u, err := c.session.User("@me")
	if err != nil {
		return "", err
	}
	c.botUserID = u.ID
	return c.botUserID, nil
}

func (c *Client) Run(ctx context.Context) error {
	<-ctx.Done()
	return nil
}
