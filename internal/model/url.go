package model

import "strings"

// NormalizeURL canonicalizes a feed URL so the same logical feed is never
// stored twice under cosmetically different spellings: the scheme defaults
// to http:// when missing and one trailing slash is stripped. The function
// is idempotent.
func NormalizeURL(u string) string {
	u = strings.TrimSpace(u)
	if u == "" {
		return ""
	}
	if !strings.HasPrefix(u, "http://") && !strings.HasPrefix(u, "https://") {
		u = "http://" + u
	}
	return strings.TrimSuffix(u, "/")
}
