// Package model defines the domain types used across the application.
package model

import "time"

// Feed represents a remote RSS/Atom document polled periodically.
// The normalized URL is its identity; ETag and Modified are the caching
// validators from the last fetch; Latest is the publication-time watermark
// below which entries are considered already delivered; Errors counts
// consecutive fetch failures.
type Feed struct {
	URL      string
	ETag     string
	Modified string
	Latest   *time.Time
	Errors   int
}

// Subscription binds one chat to one feed with an optional keyword filter.
// An empty Filter matches every entry.
type Subscription struct {
	ChatID  int64
	FeedURL string
	Filter  string
}
