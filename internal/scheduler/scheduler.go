// Package scheduler runs the background poll loop: it walks all known
// feeds on an interval, detects newly published entries, and fans the
// notifications out to subscribed chats.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/mmcdole/gofeed"
	"golang.org/x/sync/errgroup"

	"feedbot/internal/bot"
	"feedbot/internal/entry"
	"feedbot/internal/fetcher"
	"feedbot/internal/model"
	"feedbot/internal/storage"
)

// maxFeedErrors is the consecutive-failure ceiling; a feed reaching it is
// dropped and its subscribers are told why.
const maxFeedErrors = 50

// pollWindow caps how many new entries a single cycle formats per feed.
const pollWindow = 100

// sendPause spaces consecutive sends out under Telegram's ~20 msg/s limit.
const sendPause = 50 * time.Millisecond

// Sender delivers a notification body to a chat. An error wrapping
// bot.ErrChatGone means the chat can never be reached again and its
// subscription will be removed; any other error is treated as transient.
type Sender interface {
	SendMessage(chatID int64, text string) error
}

// Scheduler periodically checks all feeds and sends notifications.
type Scheduler struct {
	store    storage.Storage
	fetcher  *fetcher.Fetcher
	sender   Sender
	log      *slog.Logger
	interval time.Duration
	parallel int
}

// New creates a Scheduler polling every interval with up to parallel
// concurrent feed workers.
func New(store storage.Storage, f *fetcher.Fetcher, sender Sender, log *slog.Logger, interval time.Duration, parallel int) *Scheduler {
	if parallel < 1 {
		parallel = 1
	}
	return &Scheduler{
		store:    store,
		fetcher:  f,
		sender:   sender,
		log:      log,
		interval: interval,
		parallel: parallel,
	}
}

// Run starts the poll loop, blocking until ctx is cancelled. Each cycle
// sleeps for whatever is left of the interval after processing, so slow
// cycles do not drift the schedule further than their own duration.
func (s *Scheduler) Run(ctx context.Context) {
	for {
		started := time.Now()
		s.checkAll(ctx)
		if ctx.Err() != nil {
			return
		}

		delay := s.interval - time.Since(started)
		if delay < 0 {
			delay = 0
		}
		select {
		case <-ctx.Done():
			return
		case <-time.After(delay):
		}
	}
}

// checkAll processes every known feed with bounded parallelism. Feed
// failures are contained per worker and never stop the cycle.
func (s *Scheduler) checkAll(ctx context.Context) {
	feeds, err := s.store.GetAllFeeds(ctx)
	if err != nil {
		s.log.Error("list feeds", "error", err)
		return
	}
	s.log.Debug("checking feeds", "count", len(feeds))

	var g errgroup.Group
	g.SetLimit(s.parallel)
	for _, feed := range feeds {
		if ctx.Err() != nil {
			break
		}
		feed := feed
		g.Go(func() error {
			s.checkFeed(ctx, feed)
			return nil
		})
	}
	_ = g.Wait()
}

func (s *Scheduler) checkFeed(ctx context.Context, feed model.Feed) {
	subs, err := s.store.GetSubscribers(ctx, feed.URL)
	if err != nil {
		s.log.Error("get subscribers", "feed_url", feed.URL, "error", err)
		return
	}
	if len(subs) == 0 {
		// Nobody left listening; the feed is garbage.
		if err := s.store.RemoveFeed(ctx, feed.URL); err != nil {
			s.log.Error("prune feed", "feed_url", feed.URL, "error", err)
		}
		return
	}

	res, err := s.fetcher.Fetch(ctx, feed.URL, feed.ETag, feed.Modified)
	if errors.Is(err, fetcher.ErrNotModified) {
		s.resetErrors(ctx, feed)
		return
	}
	if err != nil {
		s.log.Warn("fetch feed", "feed_url", feed.URL, "errors", feed.Errors+1, "error", err)
		s.recordFailure(ctx, feed, subs)
		return
	}
	s.resetErrors(ctx, feed)

	newer, _ := entry.Partition(res.Feed.Items, feed.Latest)

	latest := entry.LatestWatermark(newer)
	if latest == nil {
		latest = feed.Latest
	}
	if feed.Latest == nil {
		// First fetch baseline: adopt the newest timestamp without
		// notifying, otherwise the watermark could never move.
		latest = entry.LatestWatermark(res.Feed.Items)
	}

	if len(newer) > 0 && feed.Latest != nil {
		s.deliver(ctx, feed, res, newer, subs)
	}

	// Validators are refreshed on every successful fetch, new entries or
	// not, to keep conditional requests effective.
	if err := s.store.UpdateFeed(ctx, feed.URL, res.ETag, res.Modified, latest); err != nil {
		s.log.Error("update feed", "feed_url", feed.URL, "error", err)
	}
}

// deliver fans one feed's new entries out to its subscribers, applying
// per-chat filters. A failing chat never aborts delivery to the rest.
func (s *Scheduler) deliver(ctx context.Context, feed model.Feed, res *fetcher.Result, newer []*gofeed.Item, subs []model.Subscription) {
	if len(newer) > pollWindow {
		newer = newer[:pollWindow]
	}
	full := entry.Blocks(newer, "")

	sent := 0
	for _, sub := range subs {
		blocks := full
		if sub.Filter != "" {
			blocks = entry.Blocks(newer, sub.Filter)
		}
		if len(blocks) == 0 {
			continue
		}
		if s.send(ctx, sub, feed.URL, entry.Chunk(blocks, entry.MaxMessageLen)) {
			sent++
		}
	}
	if sent > 0 {
		s.log.Info("sent notifications", "feed_url", feed.URL, "title", res.Feed.Title, "entries", len(newer), "chats", sent)
	}
}

// send delivers one subscriber's message bodies in order, pacing each send.
// A gone chat loses its subscription; a transient send error keeps the
// subscription and leaves the rest of the bodies for no one, since the
// watermark advances regardless. Reports whether anything was delivered.
func (s *Scheduler) send(ctx context.Context, sub model.Subscription, feedURL string, bodies []string) bool {
	delivered := false
	for _, body := range bodies {
		if err := s.sender.SendMessage(sub.ChatID, body); err != nil {
			if errors.Is(err, bot.ErrChatGone) {
				s.log.Warn("chat gone", "chat_id", sub.ChatID, "feed_url", feedURL, "error", err)
				if err := s.store.RemoveSubscription(ctx, sub.ChatID, feedURL); err != nil {
					s.log.Error("remove gone subscription", "chat_id", sub.ChatID, "feed_url", feedURL, "error", err)
				}
			} else {
				s.log.Warn("deliver to chat", "chat_id", sub.ChatID, "feed_url", feedURL, "error", err)
			}
			return delivered
		}
		delivered = true
		time.Sleep(sendPause)
	}
	return delivered
}

// recordFailure bumps the error counter and evicts the feed once the
// counter reaches the ceiling, telling every subscriber exactly once.
func (s *Scheduler) recordFailure(ctx context.Context, feed model.Feed, subs []model.Subscription) {
	n := feed.Errors + 1
	if n < maxFeedErrors {
		if err := s.store.SetFeedErrors(ctx, feed.URL, n); err != nil {
			s.log.Error("set feed errors", "feed_url", feed.URL, "error", err)
		}
		return
	}

	text := fmt.Sprintf("❌ Due to errors, this chat was unsubscribed from feed: %s", feed.URL)
	for _, sub := range subs {
		if err := s.sender.SendMessage(sub.ChatID, text); err != nil {
			s.log.Warn("notify eviction", "chat_id", sub.ChatID, "feed_url", feed.URL, "error", err)
		}
		time.Sleep(sendPause)
	}
	if err := s.store.RemoveFeed(ctx, feed.URL); err != nil {
		s.log.Error("remove failing feed", "feed_url", feed.URL, "error", err)
		return
	}
	s.log.Info("feed dropped after persistent errors", "feed_url", feed.URL, "errors", n)
}

func (s *Scheduler) resetErrors(ctx context.Context, feed model.Feed) {
	if feed.Errors == 0 {
		return
	}
	if err := s.store.SetFeedErrors(ctx, feed.URL, 0); err != nil {
		s.log.Error("reset feed errors", "feed_url", feed.URL, "error", err)
	}
}
