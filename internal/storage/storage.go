// Package storage defines the persistence interface and its implementations.
package storage

import (
	"context"
	"time"

	"feedbot/internal/model"
)

// Storage is the interface for all persistence operations. URLs passed to
// any method are normalized before use, so callers never store the same
// logical feed twice under different spellings.
type Storage interface {
	GetFeed(ctx context.Context, url string) (*model.Feed, error)
	AddFeed(ctx context.Context, feed *model.Feed) error
	UpdateFeed(ctx context.Context, url, etag, modified string, latest *time.Time) error
	SetFeedErrors(ctx context.Context, url string, n int) error
	RemoveFeed(ctx context.Context, url string) error
	CountFeeds(ctx context.Context) (int, error)
	GetAllFeeds(ctx context.Context) ([]model.Feed, error)
	GetFeedsForChat(ctx context.Context, chatID int64) ([]model.Feed, error)

	AddSubscription(ctx context.Context, chatID int64, url, filter string) error
	RemoveSubscription(ctx context.Context, chatID int64, url string) error
	RemoveChatSubscriptions(ctx context.Context, chatID int64) error
	GetSubscribers(ctx context.Context, url string) ([]model.Subscription, error)
	IsSubscribed(ctx context.Context, chatID int64, url string) (bool, error)

	Close() error
}
