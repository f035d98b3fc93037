// Package pipeline wires captures, the store, change detection and export.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"gridcal/internal/capture"
	"gridcal/internal/diff"
	"gridcal/internal/expand"
	"gridcal/internal/export"
	"gridcal/internal/feed"
	"gridcal/internal/ics"
	appLog "gridcal/internal/log"
	"gridcal/internal/model"
	"gridcal/internal/notify"
	"gridcal/internal/store"
)

// Format selects the export document type.
type Format string

const (
	FormatCSV Format = "csv"
	FormatICS Format = "ics"
)

var (
	// ErrNoData means the store holds no usable capture.
	ErrNoData = errors.New("no data to export")
	// ErrNoEvents means the latest capture expanded to nothing exportable.
	ErrNoEvents = errors.New("no calendar events found")
	// ErrUnknownFormat is returned for formats other than csv and ics.
	ErrUnknownFormat = errors.New("unknown export format")
)

// ParseFormat maps "csv"/"ics" to a Format.
func ParseFormat(s string) (Format, error) {
	switch Format(s) {
	case FormatCSV, FormatICS:
		return Format(s), nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnknownFormat, s)
	}
}

// Config holds export settings.
type Config struct {
	// ExportPrefix names export files, e.g. "timetable" -> timetable-2026-03-05.csv.
	ExportPrefix string
	// CalendarName is written into iCalendar output.
	CalendarName string
	// Location is the wall-clock zone of the feed. Nil means time.Local.
	Location *time.Location
	// MaxOccurrencesPerRecord caps recurrence expansion; zero uses the expander default.
	MaxOccurrencesPerRecord int
	// Now overrides the clock in tests.
	Now func() time.Time
}

// Pipeline is safe for concurrent use as long as its Store is.
type Pipeline struct {
	store    store.Store
	notifier notify.Notifier
	cfg      Config
}

// New creates a Pipeline. A nil notifier logs changes.
func New(st store.Store, n notify.Notifier, cfg Config) *Pipeline {
	if n == nil {
		n = notify.Log{}
	}
	if cfg.ExportPrefix == "" {
		cfg.ExportPrefix = "calendar-events"
	}
	if cfg.Location == nil {
		cfg.Location = time.Local
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &Pipeline{store: st, notifier: n, cfg: cfg}
}

// Ingest stores c and compares it with the capture before it. Changes are
// forwarded to the notifier; notifier failures are logged, not returned.
func (p *Pipeline) Ingest(ctx context.Context, c model.Capture) (model.DiffResult, error) {
	if c.Timestamp.IsZero() {
		c.Timestamp = p.cfg.Now().UTC()
	}
	if err := p.store.Append(ctx, c); err != nil {
		return model.DiffResult{}, fmt.Errorf("pipeline: store capture: %w", err)
	}
	appLog.Info("capture stored", "url", capture.RedactURL(c.URL), "status", c.Status, "bytes", len(c.Body))

	d, err := p.LatestDiff(ctx)
	if err != nil {
		return model.DiffResult{}, err
	}
	if d.HasChanges {
		if err := p.notifier.Notify(ctx, d); err != nil {
			appLog.Error("change notification failed", err)
		}
	}
	return d, nil
}

// Refresh pulls captures from src and ingests each of them in order. It
// returns the diff of the last ingested capture.
func (p *Pipeline) Refresh(ctx context.Context, src capture.Source) (model.DiffResult, error) {
	cs, err := src.Capture(ctx)
	if err != nil {
		return model.DiffResult{}, fmt.Errorf("pipeline: capture: %w", err)
	}
	var last model.DiffResult
	for _, c := range cs {
		if last, err = p.Ingest(ctx, c); err != nil {
			return last, err
		}
	}
	return last, nil
}

// LatestDiff compares the two most recent captures. With fewer than two, or
// when either is an error response, it reports no changes.
func (p *Pipeline) LatestDiff(ctx context.Context) (model.DiffResult, error) {
	latest, err := p.store.Latest(ctx, 2)
	if err != nil {
		return model.DiffResult{}, fmt.Errorf("pipeline: read captures: %w", err)
	}
	if len(latest) < 2 {
		return model.DiffResult{}, nil
	}
	prev, cur := latest[0], latest[1]
	if !prev.OK() || !cur.OK() {
		appLog.Warn("diff skipped: capture has an error status", "previous", prev.Status, "current", cur.Status)
		return model.DiffResult{}, nil
	}
	return diff.Diff([]byte(prev.Body), []byte(cur.Body)), nil
}

// Export is a rendered document ready to hand to a user.
type Export struct {
	FileName    string
	ContentType string
	Body        string

	Written   int
	Skipped   int
	Truncated int
	Stats     expand.Stats
}

// Today returns the current date in the feed's zone as YYYY-MM-DD. Export
// file names and dateless events both depend on it.
func (p *Pipeline) Today() string {
	return p.cfg.Now().In(p.cfg.Location).Format("2006-01-02")
}

// Export renders the latest successful capture in format f.
func (p *Pipeline) Export(ctx context.Context, f Format) (Export, error) {
	if _, err := ParseFormat(string(f)); err != nil {
		return Export{}, err
	}

	c, err := p.latestOK(ctx)
	if err != nil {
		return Export{}, err
	}

	parsed := feed.Parse([]byte(c.Body))
	if len(parsed.Records) == 0 {
		return Export{}, ErrNoEvents
	}

	expanded := expand.Expand(parsed.Records, expand.Options{
		Location:                p.cfg.Location,
		Now:                     p.cfg.Now,
		MaxOccurrencesPerRecord: p.cfg.MaxOccurrencesPerRecord,
	})
	if len(expanded.Occurrences) == 0 {
		return Export{}, ErrNoEvents
	}

	now := p.cfg.Now().In(p.cfg.Location)
	out := Export{Stats: expanded.Stats, Truncated: len(expanded.Truncated)}

	switch f {
	case FormatICS:
		res := ics.Serialize(expanded.Occurrences, ics.Options{Now: p.cfg.Now, Name: p.cfg.CalendarName})
		out.FileName = ics.FileName(p.cfg.ExportPrefix, now)
		out.ContentType = ics.ContentType
		out.Body, out.Written, out.Skipped = res.Text, res.Written, len(res.Skipped)
	default:
		res := export.SerializeCSV(expanded.Occurrences, export.Options{Now: p.cfg.Now})
		out.FileName = export.FileName(p.cfg.ExportPrefix, now)
		out.ContentType = export.ContentType
		out.Body, out.Written, out.Skipped = res.Text, res.Written, len(res.Skipped)
	}
	if out.Written == 0 {
		return Export{}, ErrNoEvents
	}

	appLog.Info("export rendered",
		"format", string(f),
		"file", out.FileName,
		"records", expanded.Stats.RecordsProcessed,
		"occurrences", expanded.Stats.OccurrencesGenerated,
		"written", out.Written,
		"skipped", out.Skipped,
	)
	return out, nil
}

// Latest returns the most recent capture, if any.
func (p *Pipeline) Latest(ctx context.Context) (model.Capture, bool, error) {
	cs, err := p.store.Latest(ctx, 1)
	if err != nil {
		return model.Capture{}, false, fmt.Errorf("pipeline: read captures: %w", err)
	}
	if len(cs) == 0 {
		return model.Capture{}, false, nil
	}
	return cs[0], true, nil
}

// latestOK finds the newest capture with a successful status anywhere in
// the retained history.
func (p *Pipeline) latestOK(ctx context.Context) (model.Capture, error) {
	cs, err := p.store.Latest(ctx, math.MaxInt32)
	if err != nil {
		return model.Capture{}, fmt.Errorf("pipeline: read captures: %w", err)
	}
	for i := len(cs) - 1; i >= 0; i-- {
		if cs[i].OK() {
			return cs[i], nil
		}
	}
	return model.Capture{}, ErrNoData
}
