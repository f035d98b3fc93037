package capture

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/chromedp"

	appLog "gridcal/internal/log"
	"gridcal/internal/model"
)

const (
	// DefaultMatch selects the timetable's event feed among page requests.
	DefaultMatch = "sas_events.jsp"

	DefaultBrowserTimeout = 60 * time.Second
	DefaultSettle         = 3 * time.Second
)

// BrowserOptions defines one headless page load.
type BrowserOptions struct {
	// PageURL is the timetable page that issues the feed request.
	PageURL string

	// Match is a substring of the feed request URL. Empty uses DefaultMatch.
	Match string

	// Timeout bounds the whole browser session. Zero uses DefaultBrowserTimeout.
	Timeout time.Duration

	// Settle is how long to keep listening after the page is ready, for
	// feeds loaded by script after DOMContentLoaded. Zero uses DefaultSettle.
	Settle time.Duration
}

// Matches reports whether a request URL is the feed we are after.
func Matches(requestURL, match string) bool {
	if match == "" {
		match = DefaultMatch
	}
	return strings.Contains(requestURL, match)
}

// pendingCapture tracks one matching request until its body is available.
type pendingCapture struct {
	id       network.RequestID
	capture  model.Capture
	finished bool
}

// Intercept loads opts.PageURL in headless Chromium and returns a Capture for
// every network response whose URL matches opts.Match, in completion order.
// The page's own session (cookies, scripts) produces the requests, so feeds
// behind a browser login can be captured the same way a user sees them.
func Intercept(parentCtx context.Context, opts BrowserOptions) ([]model.Capture, error) {
	if opts.PageURL == "" {
		return nil, fmt.Errorf("capture: PageURL is required")
	}
	if opts.Timeout <= 0 {
		opts.Timeout = DefaultBrowserTimeout
	}
	if opts.Settle <= 0 {
		opts.Settle = DefaultSettle
	}

	ctx, cancel := chromedp.NewContext(parentCtx)
	defer cancel()

	ctx, timeoutCancel := context.WithTimeout(ctx, opts.Timeout)
	defer timeoutCancel()

	var (
		mu      sync.Mutex
		byID    = make(map[network.RequestID]*pendingCapture)
		ordered []*pendingCapture
	)

	chromedp.ListenTarget(ctx, func(ev any) {
		mu.Lock()
		defer mu.Unlock()

		switch e := ev.(type) {
		case *network.EventRequestWillBeSent:
			if !Matches(e.Request.URL, opts.Match) {
				return
			}
			byID[e.RequestID] = &pendingCapture{
				id: e.RequestID,
				capture: model.Capture{
					URL:    e.Request.URL,
					Method: e.Request.Method,
				},
			}
		case *network.EventResponseReceived:
			if p, ok := byID[e.RequestID]; ok {
				p.capture.Status = int(e.Response.Status)
				p.capture.StatusText = e.Response.StatusText
			}
		case *network.EventLoadingFinished:
			if p, ok := byID[e.RequestID]; ok && !p.finished {
				p.finished = true
				p.capture.Timestamp = time.Now().UTC()
				ordered = append(ordered, p)
			}
		}
	})

	appLog.Info("browser capture start", "url", RedactURL(opts.PageURL), "match", opts.Match)

	tasks := chromedp.Tasks{
		network.Enable(),
		chromedp.Navigate(opts.PageURL),
		chromedp.WaitReady("body", chromedp.ByQuery),
		// Feed requests are often issued by page scripts after load.
		chromedp.Sleep(opts.Settle),
	}
	if err := chromedp.Run(ctx, tasks); err != nil {
		return nil, fmt.Errorf("capture: chromedp run failed: %w", err)
	}

	mu.Lock()
	finished := append([]*pendingCapture(nil), ordered...)
	mu.Unlock()

	out := make([]model.Capture, 0, len(finished))
	for _, p := range finished {
		var body []byte
		err := chromedp.Run(ctx, chromedp.ActionFunc(func(ctx context.Context) error {
			var err error
			body, err = network.GetResponseBody(p.id).Do(ctx)
			return err
		}))
		if err != nil {
			appLog.Error("browser capture: response body unavailable", err, "url", RedactURL(p.capture.URL))
			continue
		}
		c := p.capture
		c.Body = string(body)
		out = append(out, c)
	}

	appLog.Info("browser capture done", "url", RedactURL(opts.PageURL), "captures", len(out))
	return out, nil
}
