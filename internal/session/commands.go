package session

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/foxseedlab/trivia/internal/discord"
	apperrors "github.com/foxseedlab/trivia/internal/errors"
)

const commandTimeout = 30 * time.Second

type Chat interface {
	SendChannelMessage(channelID, content string) error
	AddReaction(channelID, messageID, emoji string) error
}

type commandFunc func(ctx context.Context, ev discord.MessageEvent, args []string) error

type command struct {
	verbs       []string
	usage       string
	description string
	run         commandFunc
}

// Handler turns chat messages into engine calls. Prefixed messages are
// commands; everything else in a channel with a game is a guess.
type Handler struct {
	engine    *Engine
	chat      Chat
	prefix    string
	logger    *slog.Logger
	botUserID string

	commands []*command
	byVerb   map[string]*command
}

func NewHandler(engine *Engine, chat Chat, prefix string, logger *slog.Logger) *Handler {
	h := &Handler{
		engine: engine,
		chat:   chat,
		prefix: prefix,
		logger: logger,
		byVerb: make(map[string]*command),
	}
	h.commands = []*command{
		{verbs: []string{"trivia", "start"}, usage: "trivia [number of questions]", description: "Start a new trivia game.", run: h.start},
		{verbs: []string{"strivia", "stop"}, usage: "strivia", description: "Stop the current trivia game.", run: h.stop},
		{verbs: []string{"stats", "stat", "scores", "score"}, usage: "stats [me|@user]", description: "Show all-time high scores, or one player's total.", run: h.stats},
		{verbs: []string{"timeout", "roundlen"}, usage: "timeout <seconds>", description: "Set the seconds allowed per question in this channel (10-60).", run: h.timeout},
		{verbs: []string{"count", "total"}, usage: "count <number>", description: "Set the default number of questions per game in this channel (1-20).", run: h.count},
		{verbs: []string{"help", "h"}, usage: "help [command]", description: "Show this help, or the usage of one command.", run: h.help},
	}
	for _, c := range h.commands {
		for _, v := range c.verbs {
			h.byVerb[v] = c
		}
	}
	return h
}

// SetBotUserID makes the handler ignore the bot's own messages.
func (h *Handler) SetBotUserID(id string) {
	h.botUserID = id
}

// HandleMessage is registered with the chat client. Each message gets its own bounded context.
func (h *Handler) HandleMessage(ev discord.MessageEvent) {
	ctx, cancel := context.WithTimeout(context.Background(), commandTimeout)
	defer cancel()
	h.Handle(ctx, ev)
}

func (h *Handler) Handle(ctx context.Context, ev discord.MessageEvent) {
	if ev.AuthorIsBot || (h.botUserID != "" && ev.AuthorID == h.botUserID) {
		return
	}
	content := strings.TrimSpace(ev.Content)
	if content == "" {
		return
	}

	if rest, ok := strings.CutPrefix(content, h.prefix); ok {
		fields := strings.Fields(rest)
		if len(fields) > 0 {
			cmd, found := h.byVerb[strings.ToLower(fields[0])]
			if !found {
				return
			}
			h.logger.Debug("command received",
				slog.String("channel_id", ev.ChannelID),
				slog.String("user_id", ev.AuthorID),
				slog.String("verb", fields[0]))
			if err := cmd.run(ctx, ev, fields[1:]); err != nil {
				h.replyError(ev.ChannelID, err)
			}
			return
		}
	}

	if err := h.engine.Guess(ctx, ev.ChannelID, ev.AuthorID, content); err != nil {
		h.logger.Warn("failed to evaluate guess",
			slog.String("channel_id", ev.ChannelID),
			slog.String("user_id", ev.AuthorID),
			slog.Any("error", err))
	}
}

func (h *Handler) start(ctx context.Context, ev discord.MessageEvent, args []string) error {
	amount := 0
	if len(args) > 0 {
		n, err := strconv.Atoi(args[0])
		if err != nil {
			return apperrors.InvalidArgument(messageInvalidAmount)
		}
		amount = n
		if amount == 0 {
			return apperrors.InvalidArgument(messageInvalidAmount)
		}
	}
	return h.engine.Start(ctx, ev.ChannelID, amount)
}

func (h *Handler) stop(ctx context.Context, ev discord.MessageEvent, _ []string) error {
	return h.engine.Stop(ctx, ev.ChannelID)
}

func (h *Handler) stats(ctx context.Context, ev discord.MessageEvent, args []string) error {
	userID := ""
	switch {
	case len(ev.MentionIDs) > 0:
		userID = ev.MentionIDs[0]
	case len(args) > 0 && (strings.EqualFold(args[0], "me") || strings.EqualFold(args[0], "self")):
		userID = ev.AuthorID
	case len(args) > 0:
		userID = parseMention(args[0])
	}

	if userID == "" {
		scores, err := h.engine.HighScores(ctx)
		if err != nil {
			return err
		}
		h.send(ev.ChannelID, allTimeMessage(scores))
		return nil
	}

	sc, err := h.engine.UserScore(ctx, userID)
	if err != nil {
		return err
	}
	if sc == nil {
		h.send(ev.ChannelID, noPointsMessage(userID))
		return nil
	}
	h.send(ev.ChannelID, userTotalMessage(*sc))
	return nil
}

func (h *Handler) timeout(ctx context.Context, ev discord.MessageEvent, args []string) error {
	if len(args) == 0 {
		h.send(ev.ChannelID, h.usage(h.byVerb["timeout"]))
		return nil
	}
	seconds, err := strconv.Atoi(args[0])
	if err != nil {
		return apperrors.InvalidArgument(messageTimeoutNotNumber)
	}
	if err := h.engine.SetRoundTimeout(ctx, ev.ChannelID, seconds); err != nil {
		return err
	}
	h.react(ev)
	return nil
}

func (h *Handler) count(ctx context.Context, ev discord.MessageEvent, args []string) error {
	if len(args) == 0 {
		h.send(ev.ChannelID, h.usage(h.byVerb["count"]))
		return nil
	}
	n, err := strconv.Atoi(args[0])
	if err != nil {
		return apperrors.InvalidArgument(messageAmountNotNumber)
	}
	if err := h.engine.SetQuestionCount(ctx, ev.ChannelID, n); err != nil {
		return err
	}
	h.react(ev)
	return nil
}

func (h *Handler) help(_ context.Context, ev discord.MessageEvent, args []string) error {
	if len(args) > 0 {
		verb := strings.ToLower(strings.TrimPrefix(args[0], h.prefix))
		cmd, ok := h.byVerb[verb]
		if !ok {
			h.send(ev.ChannelID, fmt.Sprintf(messageUnknownHelpFormat, args[0]))
			return nil
		}
		h.send(ev.ChannelID, h.usage(cmd))
		return nil
	}

	var b strings.Builder
	b.WriteString("```\n")
	b.WriteString(messageHelpHeader)
	b.WriteString("\n")
	for _, c := range h.commands {
		fmt.Fprintf(&b, "\n%s%s - %s", h.prefix, c.usage, c.description)
	}
	b.WriteString("\n```")
	h.send(ev.ChannelID, b.String())
	return nil
}

func (h *Handler) usage(c *command) string {
	aliases := make([]string, 0, len(c.verbs)-1)
	for _, v := range c.verbs[1:] {
		aliases = append(aliases, h.prefix+v)
	}
	s := fmt.Sprintf("```\n%s%s\n%s", h.prefix, c.usage, c.description)
	if len(aliases) > 0 {
		s += "\nAliases: " + strings.Join(aliases, ", ")
	}
	return s + "\n```"
}

// replyError shows player-facing failures. Stale operations stay silent.
func (h *Handler) replyError(channelID string, err error) {
	e := apperrors.Convert(err)
	switch e.Code {
	case apperrors.CodeStale:
		return
	case apperrors.CodeInvalidArgument, apperrors.CodeAlreadyExists, apperrors.CodeUnavailable:
		h.send(channelID, e.Message)
	default:
		h.logger.Error("command failed", slog.String("channel_id", channelID), slog.Any("error", err))
		h.send(channelID, messageTryAgain)
	}
}

func (h *Handler) send(channelID, content string) {
	if err := h.chat.SendChannelMessage(channelID, content); err != nil {
		h.logger.Error("failed to send channel message",
			slog.String("channel_id", channelID),
			slog.Any("error", err))
	}
}

func (h *Handler) react(ev discord.MessageEvent) {
	if err := h.chat.AddReaction(ev.ChannelID, ev.MessageID, reactionOK); err != nil {
		h.logger.Warn("failed to add reaction",
			slog.String("channel_id", ev.ChannelID),
			slog.String("message_id", ev.MessageID),
			slog.Any("error", err))
	}
}

// parseMention extracts the user id from <@id> or <@!id>.
func parseMention(s string) string {
	id, ok := strings.CutPrefix(s, "<@")
	if !ok {
		return ""
	}
	id, ok = strings.CutSuffix(id, ">")
	if !ok {
		return ""
	}
	id = strings.TrimPrefix(id, "!")
	if id == "" {
		return ""
	}
	for _, r := range id {
		if r < '0' || r > '9' {
			return ""
		}
	}
	return id
}
