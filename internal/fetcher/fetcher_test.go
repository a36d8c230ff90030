package fetcher

import (
	"bytes"
	"compress/flate"
	"compress/gzip"
	"compress/zlib"
	"context"
	"errors"
	"io"
	"net/http"
	"os"
	"testing"

	"github.com/google/go-cmp/cmp"
)

type mockTransport struct {
	body       string
	statusCode int
	header     http.Header
	err        error

	gotReq *http.Request
}

func (m *mockTransport) Do(req *http.Request) (*http.Response, error) {
	m.gotReq = req
	if m.err != nil {
		return nil, m.err
	}
	header := m.header
	if header == nil {
		header = http.Header{}
	}
	return &http.Response{
		StatusCode: m.statusCode,
		Header:     header,
		Body:       io.NopCloser(bytes.NewBufferString(m.body)),
	}, nil
}

func loadFixture(t *testing.T) string {
	t.Helper()
	data, err := os.ReadFile("../../testdata/sample.xml")
	if err != nil {
		t.Fatalf("read fixture: %v", err)
	}
	return string(data)
}

func TestFetch(t *testing.T) {
	xml := loadFixture(t)

	tests := []struct {
		name      string
		transport *mockTransport
		wantTitle string
		wantItems int
		wantErr   error
		anyErr    bool
	}{
		{
			name:      "successful fetch",
			transport: &mockTransport{body: xml, statusCode: 200},
			wantTitle: "DevOps Weekly",
			wantItems: 5,
		},
		{
			name:      "not modified",
			transport: &mockTransport{statusCode: 304},
			wantErr:   ErrNotModified,
		},
		{
			name:      "http error status",
			transport: &mockTransport{body: "not found", statusCode: 404},
			anyErr:    true,
		},
		{
			name:      "network error",
			transport: &mockTransport{err: io.ErrUnexpectedEOF},
			anyErr:    true,
		},
		{
			name:      "invalid xml",
			transport: &mockTransport{body: "not xml at all", statusCode: 200},
			wantErr:   ErrInvalidFeed,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := New(tt.transport)
			res, err := f.Fetch(context.Background(), "https://example.com/rss", "", "")

			if tt.wantErr != nil {
				if !errors.Is(err, tt.wantErr) {
					t.Fatalf("want %v, got %v", tt.wantErr, err)
				}
				return
			}
			if tt.anyErr {
				if err == nil {
					t.Fatal("expected error, got nil")
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}

			if diff := cmp.Diff(tt.wantTitle, res.Feed.Title); diff != "" {
				t.Errorf("title mismatch (-want +got):\n%s", diff)
			}
			if diff := cmp.Diff(tt.wantItems, len(res.Feed.Items)); diff != "" {
				t.Errorf("item count mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestFetchRequestHeaders(t *testing.T) {
	xml := loadFixture(t)

	tests := []struct {
		name         string
		etag         string
		modified     string
		wantETag     string
		wantModified string
	}{
		{
			name: "no validators, no conditional headers",
		},
		{
			name:     "etag echoed",
			etag:     `"abc123"`,
			wantETag: `"abc123"`,
		},
		{
			name:         "rfc1123 modified echoed as-is",
			modified:     "Sun, 05 May 2024 10:00:00 GMT",
			wantModified: "Sun, 05 May 2024 10:00:00 GMT",
		},
		{
			name:         "rfc3339 modified reformatted",
			modified:     "2024-05-05T10:00:00Z",
			wantModified: "Sun, 05 May 2024 10:00:00 GMT",
		},
		{
			name:         "unparseable modified sent verbatim",
			modified:     "last tuesday",
			wantModified: "last tuesday",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			transport := &mockTransport{body: xml, statusCode: 200}
			f := New(transport)
			if _, err := f.Fetch(context.Background(), "https://example.com/rss", tt.etag, tt.modified); err != nil {
				t.Fatalf("unexpected error: %v", err)
			}

			req := transport.gotReq
			if diff := cmp.Diff(tt.wantETag, req.Header.Get("If-None-Match")); diff != "" {
				t.Errorf("If-None-Match mismatch (-want +got):\n%s", diff)
			}
			if diff := cmp.Diff(tt.wantModified, req.Header.Get("If-Modified-Since")); diff != "" {
				t.Errorf("If-Modified-Since mismatch (-want +got):\n%s", diff)
			}
			if diff := cmp.Diff("feed", req.Header.Get("A-IM")); diff != "" {
				t.Errorf("A-IM mismatch (-want +got):\n%s", diff)
			}
			if diff := cmp.Diff("gzip, deflate", req.Header.Get("Accept-Encoding")); diff != "" {
				t.Errorf("Accept-Encoding mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestFetchDecodesCompressedBodies(t *testing.T) {
	xml := loadFixture(t)

	tests := []struct {
		name     string
		encoding string
		compress func(t *testing.T, data string) []byte
	}{
		{
			name:     "gzip",
			encoding: "gzip",
			compress: func(t *testing.T, data string) []byte {
				var buf bytes.Buffer
				w := gzip.NewWriter(&buf)
				if _, err := w.Write([]byte(data)); err != nil {
					t.Fatalf("compress: %v", err)
				}
				if err := w.Close(); err != nil {
					t.Fatalf("close writer: %v", err)
				}
				return buf.Bytes()
			},
		},
		{
			// The deflate token means the zlib format per RFC 9110.
			name:     "zlib deflate",
			encoding: "deflate",
			compress: func(t *testing.T, data string) []byte {
				var buf bytes.Buffer
				w := zlib.NewWriter(&buf)
				if _, err := w.Write([]byte(data)); err != nil {
					t.Fatalf("compress: %v", err)
				}
				if err := w.Close(); err != nil {
					t.Fatalf("close writer: %v", err)
				}
				return buf.Bytes()
			},
		},
		{
			// Some servers ship raw DEFLATE under the same token.
			name:     "raw deflate",
			encoding: "deflate",
			compress: func(t *testing.T, data string) []byte {
				var buf bytes.Buffer
				w, err := flate.NewWriter(&buf, flate.DefaultCompression)
				if err != nil {
					t.Fatalf("new writer: %v", err)
				}
				if _, err := w.Write([]byte(data)); err != nil {
					t.Fatalf("compress: %v", err)
				}
				if err := w.Close(); err != nil {
					t.Fatalf("close writer: %v", err)
				}
				return buf.Bytes()
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			header := http.Header{}
			header.Set("Content-Encoding", tt.encoding)
			f := New(&mockTransport{
				body:       string(tt.compress(t, xml)),
				statusCode: 200,
				header:     header,
			})

			res, err := f.Fetch(context.Background(), "https://example.com/rss", "", "")
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if diff := cmp.Diff("DevOps Weekly", res.Feed.Title); diff != "" {
				t.Errorf("title mismatch (-want +got):\n%s", diff)
			}
			if diff := cmp.Diff(5, len(res.Feed.Items)); diff != "" {
				t.Errorf("item count mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestFetchReturnsValidators(t *testing.T) {
	xml := loadFixture(t)
	header := http.Header{}
	header.Set("ETag", `"fresh-etag"`)
	header.Set("Last-Modified", "Sun, 05 May 2024 10:00:00 GMT")

	f := New(&mockTransport{body: xml, statusCode: 200, header: header})
	res, err := f.Fetch(context.Background(), "https://example.com/rss", "", "")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if diff := cmp.Diff(`"fresh-etag"`, res.ETag); diff != "" {
		t.Errorf("etag mismatch (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff("Sun, 05 May 2024 10:00:00 GMT", res.Modified); diff != "" {
		t.Errorf("modified mismatch (-want +got):\n%s", diff)
	}
}
