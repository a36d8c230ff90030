package entry

import (
	"fmt"
	"html"
	"strings"
	"unicode/utf8"

	"github.com/microcosm-cc/bluemonday"
	"github.com/mmcdole/gofeed"
)

// blockSeparator joins entry blocks in a notification body.
const blockSeparator = "\n\n➖➖➖➖➖\n\n"

// maxDescriptionLen bounds the description text carried into a block.
const maxDescriptionLen = 300

// MaxMessageLen is the Telegram hard cap on message text length; bodies
// assembled here must stay under it or the API rejects the send.
const MaxMessageLen = 4096

const ellipsis = "…"

var stripPolicy = bluemonday.StrictPolicy()

// Format builds a single notification body from items in delivered order.
// It is Blocks joined by the block separator with no length cap; callers
// sending to Telegram should chunk the blocks instead.
func Format(items []*gofeed.Item, filter string) string {
	return strings.Join(Blocks(items, filter), blockSeparator)
}

// Blocks renders each item into its own message block, in delivered order.
// Items are skipped when filter is non-empty and not a substring
// (case-insensitive) of either title or description. Each kept item
// becomes a block of linked title (falling back to linked publish date,
// then linked description), the publish date, and the description body;
// the description is dropped when it starts with the same word sequence
// as the title. An empty result means nothing matched and the caller
// must suppress delivery.
func Blocks(items []*gofeed.Item, filter string) []string {
	var blocks []string
	for _, item := range items {
		title := plainText(item.Title)
		desc := plainText(description(item))
		if filter != "" && !containsFold(title, filter) && !containsFold(desc, filter) {
			continue
		}
		if block := formatItem(item, title, desc); block != "" {
			blocks = append(blocks, block)
		}
	}
	return blocks
}

// Chunk packs blocks into bodies of at most limit bytes, preserving order.
// A single block longer than the limit is truncated rather than split.
func Chunk(blocks []string, limit int) []string {
	var bodies []string
	var cur strings.Builder
	for _, block := range blocks {
		if len(block) > limit {
			block = truncate(block, limit)
		}
		switch {
		case cur.Len() == 0:
		case cur.Len()+len(blockSeparator)+len(block) > limit:
			bodies = append(bodies, cur.String())
			cur.Reset()
		default:
			cur.WriteString(blockSeparator)
		}
		cur.WriteString(block)
	}
	if cur.Len() > 0 {
		bodies = append(bodies, cur.String())
	}
	return bodies
}

func formatItem(item *gofeed.Item, title, desc string) string {
	pubDate := strings.TrimSpace(item.Published)
	if startsWithTitle(desc, title) {
		desc = ""
	}
	desc = truncate(desc, maxDescriptionLen)

	var b strings.Builder
	switch {
	case title != "":
		b.WriteString(link(item.Link, title))
	case pubDate != "":
		b.WriteString(link(item.Link, pubDate))
		pubDate = ""
	case desc != "":
		b.WriteString(link(item.Link, desc))
		desc = ""
	default:
		return ""
	}
	if pubDate != "" {
		fmt.Fprintf(&b, "\n📆 <i>%s</i>", html.EscapeString(pubDate))
	}
	if desc != "" {
		b.WriteString("\n\n")
		b.WriteString(html.EscapeString(desc))
	}
	return b.String()
}

// description returns the item's description, falling back to its full
// content block the way Atom feeds often deliver it.
func description(item *gofeed.Item) string {
	if item.Description != "" {
		return item.Description
	}
	return item.Content
}

func link(href, text string) string {
	if href == "" {
		return html.EscapeString(text)
	}
	return fmt.Sprintf(`<a href="%s">%s</a>`, html.EscapeString(href), html.EscapeString(text))
}

// truncate cuts s to at most n bytes on a rune boundary, marking the cut
// with an ellipsis, so a Telegram body never carries broken UTF-8.
func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	cut := n - len(ellipsis)
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return s[:cut] + ellipsis
}

// plainText strips markup and collapses whitespace so titles and
// descriptions compare and filter as plain words.
func plainText(s string) string {
	s = html.UnescapeString(stripPolicy.Sanitize(s))
	return strings.Join(strings.Fields(s), " ")
}

// startsWithTitle reports whether the description opens with the title's
// word sequence, which would make the block read as a duplicated title.
func startsWithTitle(desc, title string) bool {
	title = strings.TrimRight(title, ".")
	if title == "" || desc == "" {
		return false
	}
	return strings.HasPrefix(desc, title)
}

func containsFold(s, substr string) bool {
	return strings.Contains(strings.ToLower(s), strings.ToLower(substr))
}
