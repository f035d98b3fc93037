// Package notify delivers change signals produced by the diff engine.
package notify

import (
	"context"
	"fmt"

	appLog "gridcal/internal/log"
	"gridcal/internal/model"
)

// Notifier receives change signals. Delivery is best effort: callers log
// errors and carry on.
type Notifier interface {
	Notify(ctx context.Context, d model.DiffResult) error
}

// Log writes each change signal to the application log.
type Log struct{}

func (Log) Notify(_ context.Context, d model.DiffResult) error {
	appLog.Info(Message(d),
		"added", len(d.Added),
		"removed", len(d.Removed),
		"total_previous", d.TotalPrevious,
		"total_current", d.TotalCurrent,
	)
	return nil
}

// Func adapts a function to Notifier.
type Func func(ctx context.Context, d model.DiffResult) error

func (f Func) Notify(ctx context.Context, d model.DiffResult) error {
	return f(ctx, d)
}

// Message renders a one-line summary of d.
func Message(d model.DiffResult) string {
	const head = "calendar updated"
	added, removed := len(d.Added), len(d.Removed)

	switch {
	case d.Error != "":
		return head + " (raw payload changed)"
	case added > 0 && removed > 0:
		return fmt.Sprintf("%s: +%d added, -%d removed", head, added, removed)
	case added > 0:
		return withTitle(fmt.Sprintf("%s: +%d new event(s)", head, added), d.Added[0])
	case removed > 0:
		return withTitle(fmt.Sprintf("%s: -%d event(s) removed", head, removed), d.Removed[0])
	default:
		return "calendar unchanged"
	}
}

func withTitle(msg string, elem any) string {
	r, _ := elem.(map[string]any)
	if title, ok := r["eventTitle"].(string); ok && title != "" {
		return msg + ": " + title
	}
	return msg
}
