// Package bot implements the Telegram surface: user commands, outbound
// delivery, and membership-driven cleanup.
package bot

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"feedbot/internal/config"
	"feedbot/internal/fetcher"
	"feedbot/internal/storage"
)

// ErrChatGone reports a send that failed because the chat can no longer
// receive messages at all: the bot was blocked or kicked, or the chat was
// deleted. Transient send failures (rate limits, message too long, network)
// are returned as plain errors.
var ErrChatGone = errors.New("chat gone")

type telegramAPI interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
	GetUpdatesChan(config tgbotapi.UpdateConfig) tgbotapi.UpdatesChannel
	StopReceivingUpdates()
}

// Bot handles user commands and delivers feed notifications.
type Bot struct {
	api     telegramAPI
	store   storage.Storage
	cfg     *config.Config
	fetcher *fetcher.Fetcher
	log     *slog.Logger
}

// New creates a Bot with the given Telegram token, storage, and config.
func New(token string, store storage.Storage, cfg *config.Config, log *slog.Logger) (*Bot, error) {
	api, err := tgbotapi.NewBotAPI(token)
	if err != nil {
		return nil, fmt.Errorf("create bot api: %w", err)
	}

	return &Bot{
		api:     api,
		store:   store,
		cfg:     cfg,
		fetcher: fetcher.NewDefault(),
		log:     log,
	}, nil
}

// Run starts the bot's long-polling loop, blocking until ctx is cancelled.
func (b *Bot) Run(ctx context.Context) {
	u := tgbotapi.NewUpdate(0)
	u.Timeout = 60

	updates := b.api.GetUpdatesChan(u)

	for {
		select {
		case <-ctx.Done():
			b.api.StopReceivingUpdates()
			return
		case update := <-updates:
			if update.MyChatMember != nil {
				b.handleMembershipChange(ctx, update.MyChatMember)
				continue
			}
			if update.Message == nil || !update.Message.IsCommand() {
				continue
			}
			b.handleCommand(ctx, update.Message)
		}
	}
}

// SendMessage delivers a notification body to the given chat. A chat that
// is gone for good surfaces as ErrChatGone so the scheduler can drop its
// subscriptions; any other failure is worth retrying on a later cycle.
func (b *Bot) SendMessage(chatID int64, text string) error {
	msg := tgbotapi.NewMessage(chatID, text)
	msg.ParseMode = tgbotapi.ModeHTML
	msg.DisableWebPagePreview = true
	if _, err := b.api.Send(msg); err != nil {
		if chatGone(err) {
			return fmt.Errorf("%w: %v", ErrChatGone, err)
		}
		return fmt.Errorf("send message: %w", err)
	}
	return nil
}

// chatGone reports whether a Telegram API error means the chat itself is
// unreachable, as opposed to this particular message being rejected.
func chatGone(err error) bool {
	var apiErr *tgbotapi.Error
	if !errors.As(err, &apiErr) {
		return false
	}
	if apiErr.Code == 403 {
		// Blocked by the user, kicked from the group, account deactivated.
		return true
	}
	return apiErr.Code == 400 && strings.Contains(apiErr.Message, "chat not found")
}

func (b *Bot) reply(chatID int64, text string) {
	if err := b.SendMessage(chatID, text); err != nil {
		b.log.Error("send reply", "chat_id", chatID, "error", err)
	}
}

func (b *Bot) handleCommand(ctx context.Context, msg *tgbotapi.Message) {
	cmd := msg.Command()
	args := msg.CommandArguments()
	chatID := msg.Chat.ID

	b.log.Debug("command", "cmd", cmd, "args", args, "chat_id", chatID)

	prefix := b.cfg.CommandPrefix
	switch cmd {
	case prefix + "sub":
		b.handleSub(ctx, chatID, args)
	case prefix + "unsub":
		b.handleUnsub(ctx, chatID, args)
	case prefix + "list":
		b.handleList(ctx, chatID)
	case prefix + "help":
		b.handleHelp(chatID)
	default:
		b.handleHelp(chatID)
	}
}

// handleMembershipChange drops all of a chat's subscriptions when the bot
// is removed from it, then prunes feeds left without subscribers.
func (b *Bot) handleMembershipChange(ctx context.Context, change *tgbotapi.ChatMemberUpdated) {
	status := change.NewChatMember.Status
	if status != "left" && status != "kicked" {
		return
	}
	chatID := change.Chat.ID

	feeds, err := b.store.GetFeedsForChat(ctx, chatID)
	if err != nil {
		b.log.Error("list chat feeds", "chat_id", chatID, "error", err)
		return
	}
	if len(feeds) == 0 {
		return
	}

	if err := b.store.RemoveChatSubscriptions(ctx, chatID); err != nil {
		b.log.Error("remove chat subscriptions", "chat_id", chatID, "error", err)
		return
	}
	for _, feed := range feeds {
		subs, err := b.store.GetSubscribers(ctx, feed.URL)
		if err != nil {
			b.log.Error("get subscribers", "feed_url", feed.URL, "error", err)
			continue
		}
		if len(subs) == 0 {
			if err := b.store.RemoveFeed(ctx, feed.URL); err != nil {
				b.log.Error("prune feed", "feed_url", feed.URL, "error", err)
			}
		}
	}
	b.log.Info("chat subscriptions removed", "chat_id", chatID, "feeds", len(feeds))
}
