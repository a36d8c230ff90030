package bot

import (
	"fmt"
	"html"

	"github.com/mmcdole/gofeed"
)

// FormatFeedInfo formats the metadata reply of a subscribe command.
func FormatFeedInfo(feed *gofeed.Feed, url, filter string) string {
	if filter != "" {
		url = fmt.Sprintf("%s (%s)", url, filter)
	}
	title := feed.Title
	if title == "" {
		title = "-"
	}
	desc := feed.Description
	if desc == "" {
		desc = "-"
	}
	return fmt.Sprintf("Title: %s\n\nURL: %s\n\nDescription: %s",
		html.EscapeString(title), html.EscapeString(url), html.EscapeString(desc))
}
