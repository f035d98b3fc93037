package capture

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sync"
	"time"

	appLog "gridcal/internal/log"
	"gridcal/internal/model"
)

const (
	defaultHTTPTimeout = 15 * time.Second
	maxBodyBytes       = 16 << 20
)

// ErrBodyTooLarge is returned when a feed response exceeds the body limit.
var ErrBodyTooLarge = errors.New("response body too large")

// validator holds HTTP cache metadata for a single feed URL.
type validator struct {
	ETag         string
	LastModified string
	Body         string
}

// HTTPFetcher captures a feed with plain HTTP GETs, honoring ETag and
// Last-Modified so an unchanged feed is not downloaded twice.
type HTTPFetcher struct {
	client  *http.Client
	header  http.Header
	maxBody int64

	mu    sync.Mutex
	cache map[string]validator
}

// NewHTTPFetcher creates a fetcher. A zero timeout uses 15s. header is sent
// with every request (cookies, user agent) and may be nil.
func NewHTTPFetcher(timeout time.Duration, header http.Header) *HTTPFetcher {
	if timeout <= 0 {
		timeout = defaultHTTPTimeout
	}
	return &HTTPFetcher{
		client:  &http.Client{Timeout: timeout},
		header:  header.Clone(),
		maxBody: maxBodyBytes,
		cache:   make(map[string]validator),
	}
}

// Fetch performs one GET and returns it as a Capture. Non-2xx responses are
// still returned as captures (with their status); only transport failures
// are errors. A 304 yields the previously seen body as a 200 capture, since
// the content is unchanged. A body larger than 16 MiB is an error rather
// than a silently truncated capture.
func (f *HTTPFetcher) Fetch(ctx context.Context, feedURL string) (model.Capture, error) {
	if feedURL == "" {
		return model.Capture{}, errors.New("capture: feed URL is empty")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, feedURL, nil)
	if err != nil {
		return model.Capture{}, err
	}
	for k, vs := range f.header {
		for _, v := range vs {
			req.Header.Add(k, v)
		}
	}

	f.mu.Lock()
	meta, cached := f.cache[feedURL]
	f.mu.Unlock()

	// Conditional headers from cache metadata.
	if cached {
		if meta.ETag != "" {
			req.Header.Set("If-None-Match", meta.ETag)
		}
		if meta.LastModified != "" {
			req.Header.Set("If-Modified-Since", meta.LastModified)
		}
	}

	appLog.Info("capture fetch start", "url", RedactURL(feedURL))

	resp, err := f.client.Do(req)
	if err != nil {
		return model.Capture{}, fmt.Errorf("capture: fetch %s: %w", RedactURL(feedURL), err)
	}
	defer resp.Body.Close()

	c := model.Capture{
		URL:        feedURL,
		Method:     http.MethodGet,
		Timestamp:  time.Now().UTC(),
		Status:     resp.StatusCode,
		StatusText: http.StatusText(resp.StatusCode),
	}

	if resp.StatusCode == http.StatusNotModified && cached {
		appLog.Info("capture fetch not modified; reusing last body", "url", RedactURL(feedURL))
		c.Body = meta.Body
		c.Status = http.StatusOK
		c.StatusText = "OK (not modified)"
		return c, nil
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, f.maxBody+1))
	if err != nil {
		return model.Capture{}, fmt.Errorf("capture: read body: %w", err)
	}
	if int64(len(body)) > f.maxBody {
		return model.Capture{}, fmt.Errorf("capture: %s: %w (limit %d bytes)", RedactURL(feedURL), ErrBodyTooLarge, f.maxBody)
	}
	c.Body = string(body)

	if resp.StatusCode == http.StatusOK {
		f.mu.Lock()
		f.cache[feedURL] = validator{
			ETag:         resp.Header.Get("ETag"),
			LastModified: resp.Header.Get("Last-Modified"),
			Body:         c.Body,
		}
		f.mu.Unlock()
	} else {
		appLog.Warn("capture fetch non-OK status", "url", RedactURL(feedURL), "status", resp.StatusCode)
	}

	appLog.Info("capture fetch done", "url", RedactURL(feedURL), "status", resp.StatusCode, "bytes", len(body))
	return c, nil
}

// RedactURL keeps scheme and host only, so tokens in paths or query strings
// never reach the logs.
func RedactURL(u string) string {
	parsed, err := url.Parse(u)
	if err != nil || parsed.Host == "" {
		return "url://...(redacted)"
	}
	return parsed.Scheme + "://" + parsed.Host + "/...(redacted)"
}
