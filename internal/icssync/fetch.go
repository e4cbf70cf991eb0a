package icssync

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"
)

const (
	DefaultTimeout = 15 * time.Second
	maxBodyBytes   = 10 << 20
)

// FetchResult is the outcome of one conditional GET. When NotModified is set
// Body is empty and the validators are the ones sent.
type FetchResult struct {
	Body         []byte
	ETag         string
	LastModified string
	NotModified  bool
}

// Fetcher retrieves remote ICS documents, honoring ETag and Last-Modified.
type Fetcher struct {
	client *http.Client
}

func NewFetcher(timeout time.Duration) *Fetcher {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Fetcher{client: &http.Client{Timeout: timeout}}
}

func (f *Fetcher) Fetch(ctx context.Context, url, etag, lastModified string) (*FetchResult, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Accept", "text/calendar, */*;q=0.5")
	if etag != "" {
		req.Header.Set("If-None-Match", etag)
	}
	if lastModified != "" {
		req.Header.Set("If-Modified-Since", lastModified)
	}

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch feed: %w", err)
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK:
		body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes+1))
		if err != nil {
			return nil, fmt.Errorf("read feed: %w", err)
		}
		if len(body) > maxBodyBytes {
			return nil, fmt.Errorf("feed exceeds %d bytes", maxBodyBytes)
		}
		return &FetchResult{
			Body:         body,
			ETag:         resp.Header.Get("ETag"),
			LastModified: resp.Header.Get("Last-Modified"),
		}, nil
	case http.StatusNotModified:
		return &FetchResult{ETag: etag, LastModified: lastModified, NotModified: true}, nil
	default:
		return nil, fmt.Errorf("fetch feed: unexpected status %s", resp.Status)
	}
}

// redactURL keeps the scheme and host of a feed URL; private feed URLs carry
// secrets in the path or query.
func redactURL(raw string) string {
	u, err := parseFeedURL(raw)
	if err != nil {
		return "(invalid url)"
	}
	return u.Scheme + "://" + u.Host + "/..."
}
