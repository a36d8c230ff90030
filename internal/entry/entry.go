// Package entry implements the new-vs-old partitioning of feed entries
// against a delivery watermark and the formatting of entries into
// notification bodies.
package entry

import (
	"time"

	"github.com/mmcdole/gofeed"
)

// Timestamp returns the comparison timestamp of an item: its published
// time, falling back to its updated time. Items with neither have no
// timestamp and take part in no partition.
func Timestamp(item *gofeed.Item) *time.Time {
	if item.PublishedParsed != nil {
		return item.PublishedParsed
	}
	return item.UpdatedParsed
}

// Partition splits items into those published strictly after the watermark
// and those at or before it, preserving the delivered order. Items without
// a usable timestamp appear in neither slice. A nil watermark means no
// entry has been delivered yet, so every timestamped item counts as old
// (the baseline of a first fetch).
func Partition(items []*gofeed.Item, watermark *time.Time) (newer, older []*gofeed.Item) {
	for _, item := range items {
		ts := Timestamp(item)
		if ts == nil {
			continue
		}
		if watermark != nil && ts.After(*watermark) {
			newer = append(newer, item)
		} else {
			older = append(older, item)
		}
	}
	return newer, older
}

// LatestWatermark returns the maximum comparison timestamp across the
// items, or nil when none of them carries one. Re-partitioning the same
// items against the result yields an empty new set.
func LatestWatermark(items []*gofeed.Item) *time.Time {
	var latest *time.Time
	for _, item := range items {
		ts := Timestamp(item)
		if ts == nil {
			continue
		}
		if latest == nil || ts.After(*latest) {
			latest = ts
		}
	}
	return latest
}
