// Package capture obtains raw feed responses, either by fetching the feed URL
// directly or by loading the timetable page in a headless browser and
// recording the feed request it makes.
package capture

import (
	"context"
	"fmt"

	"gridcal/internal/model"
)

// Source produces captures on demand.
type Source interface {
	Capture(ctx context.Context) ([]model.Capture, error)
}

// HTTPSource captures a single feed URL.
type HTTPSource struct {
	Fetcher *HTTPFetcher
	URL     string
}

func (s HTTPSource) Capture(ctx context.Context) ([]model.Capture, error) {
	c, err := s.Fetcher.Fetch(ctx, s.URL)
	if err != nil {
		return nil, err
	}
	return []model.Capture{c}, nil
}

// BrowserSource captures feed requests made by a page.
type BrowserSource struct {
	Options BrowserOptions
}

func (s BrowserSource) Capture(ctx context.Context) ([]model.Capture, error) {
	cs, err := Intercept(ctx, s.Options)
	if err != nil {
		return nil, err
	}
	if len(cs) == 0 {
		return nil, fmt.Errorf("capture: no request matching %q seen on page", s.Options.Match)
	}
	return cs, nil
}
