package bot

import (
	"context"
	"fmt"
	"strings"
	"time"

	"feedbot/internal/entry"
	"feedbot/internal/fetcher"
	"feedbot/internal/model"
)

// subFetchTimeout bounds the live fetch performed while handling a
// subscribe command, so a hanging feed cannot stall command processing.
const subFetchTimeout = 20 * time.Second

// previewWindow caps how many already-seen entries the subscribe reply echoes.
const previewWindow = 15

func (b *Bot) handleHelp(chatID int64) {
	c := func(name string) string { return "/" + b.cfg.CommandPrefix + name }
	b.reply(chatID, fmt.Sprintf(`Hello, I'm a bot 🤖, with me you can subscribe chats to RSS/Atom feeds.

%s &lt;url&gt; [keyword] — subscribe this chat to the given feed, optionally keeping only entries containing the keyword.
Examples:
%s https://delta.chat/feed.xml
%s https://delta.chat/feed.xml kubernetes

%s &lt;url&gt; — unsubscribe this chat from the given feed.

%s — list this chat's feed subscriptions.

%s — show this message.`,
		c("sub"), c("sub"), c("sub"), c("unsub"), c("list"), c("help")))
}

func (b *Bot) handleSub(ctx context.Context, chatID int64, args string) {
	url, filter := splitSubArgs(args)
	if url == "" {
		b.reply(chatID, fmt.Sprintf("Usage: /%ssub <url> [keyword]", b.cfg.CommandPrefix))
		return
	}
	url = model.NormalizeURL(url)

	fctx, cancel := context.WithTimeout(ctx, subFetchTimeout)
	defer cancel()

	feed, err := b.store.GetFeed(ctx, url)
	if err != nil {
		b.replyError(chatID, "read feed", url, err)
		return
	}

	var res *fetcher.Result
	if feed != nil {
		// Known feed: a live fetch only feeds the info reply, the
		// polling watermark is untouched.
		res, err = b.fetcher.Fetch(fctx, feed.URL, "", "")
		if err != nil {
			b.log.Warn("invalid feed", "feed_url", url, "error", err)
			b.reply(chatID, "❌ Invalid feed url.")
			return
		}
	} else {
		if b.cfg.MaxFeedCount >= 0 {
			n, err := b.store.CountFeeds(ctx)
			if err != nil {
				b.replyError(chatID, "count feeds", url, err)
				return
			}
			if n >= b.cfg.MaxFeedCount {
				b.reply(chatID, "❌ Sorry, maximum number of feeds reached")
				return
			}
		}

		res, err = b.fetcher.Fetch(fctx, url, "", "")
		if err != nil {
			b.log.Warn("invalid feed", "feed_url", url, "error", err)
			b.reply(chatID, "❌ Invalid feed url.")
			return
		}
		feed = &model.Feed{
			URL:      url,
			ETag:     res.ETag,
			Modified: res.Modified,
			Latest:   entry.LatestWatermark(res.Feed.Items),
		}
		if err := b.store.AddFeed(ctx, feed); err != nil {
			b.replyError(chatID, "save feed", url, err)
			return
		}
	}

	subscribed, err := b.store.IsSubscribed(ctx, chatID, feed.URL)
	if err != nil {
		b.replyError(chatID, "check subscription", url, err)
		return
	}
	if subscribed {
		b.reply(chatID, "❌ Chat already subscribed to that feed.")
		return
	}
	if err := b.store.AddSubscription(ctx, chatID, feed.URL, filter); err != nil {
		b.replyError(chatID, "save subscription", url, err)
		return
	}

	reply := FormatFeedInfo(res.Feed, feed.URL, filter)
	if feed.Latest != nil {
		_, older := entry.Partition(res.Feed.Items, feed.Latest)
		if len(older) > previewWindow {
			older = older[:previewWindow]
		}
		// The preview shares one message with the feed info, so only as
		// many blocks as fit under the Telegram limit go out.
		blocks := entry.Blocks(older, filter)
		if chunks := entry.Chunk(blocks, entry.MaxMessageLen-len(reply)-2); len(chunks) > 0 {
			reply += "\n\n" + chunks[0]
		}
	}
	b.reply(chatID, reply)
}

func (b *Bot) handleUnsub(ctx context.Context, chatID int64, args string) {
	url := strings.TrimSpace(args)
	if url == "" {
		b.handleList(ctx, chatID)
		return
	}
	url = model.NormalizeURL(url)

	feed, err := b.store.GetFeed(ctx, url)
	if err != nil {
		b.replyError(chatID, "read feed", url, err)
		return
	}
	subscribed := false
	if feed != nil {
		subscribed, err = b.store.IsSubscribed(ctx, chatID, feed.URL)
		if err != nil {
			b.replyError(chatID, "check subscription", url, err)
			return
		}
	}
	if !subscribed {
		b.reply(chatID, "❌ This chat is not subscribed to that feed")
		return
	}

	if err := b.store.RemoveSubscription(ctx, chatID, feed.URL); err != nil {
		b.replyError(chatID, "remove subscription", url, err)
		return
	}
	subs, err := b.store.GetSubscribers(ctx, feed.URL)
	if err != nil {
		b.replyError(chatID, "get subscribers", url, err)
		return
	}
	if len(subs) == 0 {
		if err := b.store.RemoveFeed(ctx, feed.URL); err != nil {
			b.replyError(chatID, "remove feed", url, err)
			return
		}
	}
	b.reply(chatID, fmt.Sprintf("Chat unsubscribed from: %s", feed.URL))
}

func (b *Bot) handleList(ctx context.Context, chatID int64) {
	feeds, err := b.store.GetFeedsForChat(ctx, chatID)
	if err != nil {
		b.replyError(chatID, "list feeds", "", err)
		return
	}
	if len(feeds) == 0 {
		b.reply(chatID, "❌ No feed subscriptions in this chat")
		return
	}
	urls := make([]string, 0, len(feeds))
	for _, feed := range feeds {
		urls = append(urls, feed.URL)
	}
	b.reply(chatID, strings.Join(urls, "\n\n"))
}

func (b *Bot) replyError(chatID int64, op, url string, err error) {
	b.log.Error(op, "feed_url", url, "chat_id", chatID, "error", err)
	b.reply(chatID, "❌ Something went wrong, try again later.")
}

// splitSubArgs separates the feed URL from the optional keyword filter,
// which may itself contain spaces.
func splitSubArgs(args string) (url, filter string) {
	parts := strings.SplitN(strings.TrimSpace(args), " ", 2)
	url = parts[0]
	if len(parts) == 2 {
		filter = strings.TrimSpace(parts[1])
	}
	return url, filter
}
