package storage

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "modernc.org/sqlite" // SQLite driver registration.

	"feedbot/internal/model"
	"feedbot/migrations"
)

const timeLayout = "2006-01-02T15:04:05Z"

// SQLite implements Storage backed by a SQLite database.
type SQLite struct {
	db *sql.DB
}

// NewSQLite opens a SQLite database at dsn and runs pending migrations.
// Foreign keys stay on so removing a feed cascades to its subscriptions.
func NewSQLite(dsn string) (*SQLite, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("set WAL mode: %w", err)
	}
	if _, err := db.Exec("PRAGMA foreign_keys=ON"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("enable foreign keys: %w", err)
	}

	if err := migrations.Apply(db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}

	return &SQLite{db: db}, nil
}

// Close closes the underlying database connection.
func (s *SQLite) Close() error {
	return s.db.Close()
}

// GetFeed returns the feed stored under url, or nil when unknown.
func (s *SQLite) GetFeed(ctx context.Context, url string) (*model.Feed, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT url, etag, modified, latest, errors FROM feeds WHERE url = ?`,
		model.NormalizeURL(url),
	)
	feed, err := scanFeed(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("scan feed: %w", err)
	}
	return feed, nil
}

// AddFeed inserts a new feed row with a zero error counter.
func (s *SQLite) AddFeed(ctx context.Context, feed *model.Feed) error {
	feed.URL = model.NormalizeURL(feed.URL)
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO feeds (url, etag, modified, latest, errors) VALUES (?, ?, ?, ?, 0)`,
		feed.URL, feed.ETag, feed.Modified, formatLatest(feed.Latest),
	)
	if err != nil {
		return fmt.Errorf("insert feed: %w", err)
	}
	return nil
}

// UpdateFeed persists fresh validators and the delivery watermark.
func (s *SQLite) UpdateFeed(ctx context.Context, url, etag, modified string, latest *time.Time) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE feeds SET etag = ?, modified = ?, latest = ? WHERE url = ?`,
		etag, modified, formatLatest(latest), model.NormalizeURL(url),
	)
	if err != nil {
		return fmt.Errorf("update feed: %w", err)
	}
	return nil
}

// SetFeedErrors sets the consecutive fetch-failure counter.
func (s *SQLite) SetFeedErrors(ctx context.Context, url string, n int) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE feeds SET errors = ? WHERE url = ?`,
		n, model.NormalizeURL(url),
	)
	if err != nil {
		return fmt.Errorf("set feed errors: %w", err)
	}
	return nil
}

// RemoveFeed deletes a feed; its subscriptions go with it via the cascade.
func (s *SQLite) RemoveFeed(ctx context.Context, url string) error {
	_, err := s.db.ExecContext(ctx,
		`DELETE FROM feeds WHERE url = ?`, model.NormalizeURL(url),
	)
	if err != nil {
		return fmt.Errorf("delete feed: %w", err)
	}
	return nil
}

// CountFeeds returns the number of tracked feeds.
func (s *SQLite) CountFeeds(ctx context.Context) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM feeds`).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count feeds: %w", err)
	}
	return n, nil
}

// GetAllFeeds returns every tracked feed.
func (s *SQLite) GetAllFeeds(ctx context.Context) ([]model.Feed, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT url, etag, modified, latest, errors FROM feeds ORDER BY url`,
	)
	if err != nil {
		return nil, fmt.Errorf("query feeds: %w", err)
	}
	defer func() { _ = rows.Close() }()
	return scanFeeds(rows)
}

// GetFeedsForChat returns the feeds the given chat is subscribed to.
func (s *SQLite) GetFeedsForChat(ctx context.Context, chatID int64) ([]model.Feed, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT f.url, f.etag, f.modified, f.latest, f.errors
		 FROM feeds f
		 JOIN subscriptions s ON s.feed_url = f.url
		 WHERE s.chat_id = ?
		 ORDER BY f.url`, chatID,
	)
	if err != nil {
		return nil, fmt.Errorf("query chat feeds: %w", err)
	}
	defer func() { _ = rows.Close() }()
	return scanFeeds(rows)
}

// AddSubscription binds a chat to a feed with an optional keyword filter.
func (s *SQLite) AddSubscription(ctx context.Context, chatID int64, url, filter string) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO subscriptions (chat_id, feed_url, filter) VALUES (?, ?, ?)`,
		chatID, model.NormalizeURL(url), filter,
	)
	if err != nil {
		return fmt.Errorf("insert subscription: %w", err)
	}
	return nil
}

// RemoveSubscription deletes one chat's subscription to one feed.
func (s *SQLite) RemoveSubscription(ctx context.Context, chatID int64, url string) error {
	_, err := s.db.ExecContext(ctx,
		`DELETE FROM subscriptions WHERE chat_id = ? AND feed_url = ?`,
		chatID, model.NormalizeURL(url),
	)
	if err != nil {
		return fmt.Errorf("delete subscription: %w", err)
	}
	return nil
}

// RemoveChatSubscriptions deletes all subscriptions of a chat.
func (s *SQLite) RemoveChatSubscriptions(ctx context.Context, chatID int64) error {
	_, err := s.db.ExecContext(ctx,
		`DELETE FROM subscriptions WHERE chat_id = ?`, chatID,
	)
	if err != nil {
		return fmt.Errorf("delete chat subscriptions: %w", err)
	}
	return nil
}

// GetSubscribers returns the subscriptions of a feed, filters included.
func (s *SQLite) GetSubscribers(ctx context.Context, url string) ([]model.Subscription, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT chat_id, feed_url, filter FROM subscriptions WHERE feed_url = ? ORDER BY chat_id`,
		model.NormalizeURL(url),
	)
	if err != nil {
		return nil, fmt.Errorf("query subscribers: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var subs []model.Subscription
	for rows.Next() {
		var sub model.Subscription
		if err := rows.Scan(&sub.ChatID, &sub.FeedURL, &sub.Filter); err != nil {
			return nil, fmt.Errorf("scan subscription: %w", err)
		}
		subs = append(subs, sub)
	}
	return subs, rows.Err()
}

// IsSubscribed checks whether a chat already subscribes to a feed.
func (s *SQLite) IsSubscribed(ctx context.Context, chatID int64, url string) (bool, error) {
	var count int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM subscriptions WHERE chat_id = ? AND feed_url = ?`,
		chatID, model.NormalizeURL(url),
	).Scan(&count)
	if err != nil {
		return false, fmt.Errorf("check subscription: %w", err)
	}
	return count > 0, nil
}

func formatLatest(latest *time.Time) *string {
	if latest == nil {
		return nil
	}
	v := latest.UTC().Format(timeLayout)
	return &v
}

type scannable interface {
	Scan(dest ...any) error
}

func scanFeed(row scannable) (*model.Feed, error) {
	var f model.Feed
	var latest sql.NullString
	err := row.Scan(&f.URL, &f.ETag, &f.Modified, &latest, &f.Errors)
	if err != nil {
		return nil, err
	}
	if latest.Valid {
		t, err := time.Parse(timeLayout, latest.String)
		if err != nil {
			return nil, fmt.Errorf("parse latest: %w", err)
		}
		f.Latest = &t
	}
	return &f, nil
}

func scanFeeds(rows *sql.Rows) ([]model.Feed, error) {
	var feeds []model.Feed
	for rows.Next() {
		f, err := scanFeed(rows)
		if err != nil {
			return nil, fmt.Errorf("scan feed: %w", err)
		}
		feeds = append(feeds, *f)
	}
	return feeds, rows.Err()
}
