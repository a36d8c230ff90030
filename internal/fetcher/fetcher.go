// Package fetcher performs conditional feed downloads and parsing.
package fetcher

import (
	"bytes"
	"compress/flate"
	"compress/gzip"
	"compress/zlib"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/mmcdole/gofeed"
)

// fetchTimeout bounds a single feed download; a fetch exceeding it is a
// transport failure.
const fetchTimeout = 15 * time.Second

// maxBodySize caps how much of a feed document is read.
const maxBodySize = 5 * 1024 * 1024

const userAgent = "FeedBot/1.0 RSS Reader"

var (
	// ErrNotModified reports a 304 response to a conditional fetch: the
	// document is unchanged since the stored validators.
	ErrNotModified = errors.New("feed not modified")

	// ErrInvalidFeed reports a response body the parser could not make
	// sense of.
	ErrInvalidFeed = errors.New("invalid feed")
)

// HTTPClient is the interface for performing HTTP requests.
type HTTPClient interface {
	Do(req *http.Request) (*http.Response, error)
}

// Result holds a parsed feed document together with the fresh caching
// validators to persist for the next conditional fetch.
type Result struct {
	Feed     *gofeed.Feed
	ETag     string
	Modified string
}

// Fetcher downloads and parses RSS/Atom feeds.
type Fetcher struct {
	client HTTPClient
}

// New creates a Fetcher with the given HTTP client.
func New(client HTTPClient) *Fetcher {
	return &Fetcher{client: client}
}

// NewDefault creates a Fetcher with a timeout-bounded HTTP client.
func NewDefault() *Fetcher {
	return New(&http.Client{Timeout: fetchTimeout})
}

// Fetch downloads the feed at url, sending If-None-Match / If-Modified-Since
// when validators from a previous fetch are known. It returns ErrNotModified
// on a 304, ErrInvalidFeed when the body does not parse, and plain transport
// errors for everything else on the wire.
func (f *Fetcher) Fetch(ctx context.Context, url, etag, modified string) (*Result, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("A-IM", "feed")
	req.Header.Set("Accept-Encoding", "gzip, deflate")
	if etag != "" {
		req.Header.Set("If-None-Match", etag)
	}
	if modified != "" {
		req.Header.Set("If-Modified-Since", ifModifiedSince(modified))
	}

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("http get: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode == http.StatusNotModified {
		return nil, ErrNotModified
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("unexpected status %d", resp.StatusCode)
	}

	body, err := decode(resp)
	if err != nil {
		return nil, fmt.Errorf("decode body: %w", err)
	}

	feed, err := gofeed.NewParser().ParseString(string(body))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidFeed, err)
	}

	res := &Result{
		Feed:     feed,
		ETag:     resp.Header.Get("ETag"),
		Modified: resp.Header.Get("Last-Modified"),
	}
	if res.Modified == "" {
		res.Modified = feed.Updated
	}
	return res, nil
}

// decode reads the body, unwrapping an explicitly negotiated content
// encoding. Setting Accept-Encoding by hand turns off the transport's
// automatic gzip handling, so it has to happen here.
func decode(resp *http.Response) ([]byte, error) {
	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxBodySize))
	if err != nil {
		return nil, fmt.Errorf("read body: %w", err)
	}

	switch resp.Header.Get("Content-Encoding") {
	case "gzip":
		r, err := gzip.NewReader(bytes.NewReader(raw))
		if err != nil {
			return nil, err
		}
		return io.ReadAll(io.LimitReader(r, maxBodySize))
	case "deflate":
		// RFC 9110 deflate is the zlib format, but some servers send
		// raw DEFLATE streams under the same token.
		if r, err := zlib.NewReader(bytes.NewReader(raw)); err == nil {
			if body, err := io.ReadAll(io.LimitReader(r, maxBodySize)); err == nil {
				return body, nil
			}
		}
		return io.ReadAll(io.LimitReader(flate.NewReader(bytes.NewReader(raw)), maxBodySize))
	default:
		return raw, nil
	}
}

// ifModifiedSince renders a stored modified validator as an RFC 1123 GMT
// timestamp when it parses as a time, and echoes it verbatim otherwise.
func ifModifiedSince(modified string) string {
	if t, err := http.ParseTime(modified); err == nil {
		return t.UTC().Format(http.TimeFormat)
	}
	if t, err := time.Parse(time.RFC3339, modified); err == nil {
		return t.UTC().Format(http.TimeFormat)
	}
	return modified
}
