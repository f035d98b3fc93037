package model

import "time"

// RawRecord is one untyped event record as emitted by the timetable feed.
// Numbers are kept as json.Number so that re-serialization is lossless.
type RawRecord map[string]any

// Shape tells the expander how to interpret a RawRecord. It is decided once,
// at parse time, by feed.DetectShape.
type Shape int

const (
	// ShapeGeneric is a single non-recurring event with defaulted times.
	ShapeGeneric Shape = iota
	// ShapeGrid is a weekly recurring descriptor: per-weekday "Y"/"N" flags
	// plus an inclusive date range and a start/end wall-clock time.
	ShapeGrid
)

func (s Shape) String() string {
	switch s {
	case ShapeGrid:
		return "grid"
	default:
		return "generic"
	}
}

// Record pairs a raw record with its detected shape.
type Record struct {
	Shape  Shape
	Fields RawRecord
}

// Occurrence is one concrete calendar entry produced by expansion.
// A zero Start or End means the source data did not form a valid date.
type Occurrence struct {
	Subject     string
	Description string
	Location    string

	AllDay  bool
	Private bool

	// Start / End are local wall-clock times.
	Start time.Time
	End   time.Time
}

// Capture is one snapshot of a feed response with its request metadata.
type Capture struct {
	URL        string    `json:"url"`
	Method     string    `json:"method"`
	Timestamp  time.Time `json:"timestamp"`
	Body       string    `json:"responseData"`
	Status     int       `json:"status"`
	StatusText string    `json:"statusText,omitempty"`
}

// OK reports whether the capture carries a 2xx response. A zero status is
// treated as OK since some collaborators cannot observe it.
func (c Capture) OK() bool {
	return c.Status == 0 || (c.Status >= 200 && c.Status < 300)
}

// DiffResult describes the record-level changes between two captures.
// When either payload cannot be decoded, Error is set and HasChanges falls
// back to raw body inequality. Added and Removed hold the decoded list
// elements as they appeared, usually objects but possibly scalars or null.
type DiffResult struct {
	HasChanges    bool   `json:"hasChanges"`
	Added         []any  `json:"added,omitempty"`
	Removed       []any  `json:"removed,omitempty"`
	TotalPrevious int    `json:"totalPrevious"`
	TotalCurrent  int    `json:"totalCurrent"`
	Error         string `json:"error,omitempty"`
}
