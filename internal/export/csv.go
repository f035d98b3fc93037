// Package export renders expanded occurrences as the comma-separated layout
// accepted by common calendar import tools.
package export

import (
	"errors"
	"strings"
	"time"

	appLog "gridcal/internal/log"
	"gridcal/internal/model"
)

const (
	// ContentType is the MIME type of SerializeCSV output.
	ContentType = "text/csv; charset=utf-8"

	// DefaultSubject replaces an empty subject.
	DefaultSubject = "Event"

	DefaultStartTime = "9:00 AM"
	DefaultEndTime   = "10:00 AM"

	dateLayout = "01/02/2006"
	timeLayout = "3:04 PM"
)

// Header is the fixed first row.
var Header = []string{
	"Subject",
	"Start Date",
	"Start Time",
	"End Date",
	"End Time",
	"All Day Event",
	"Description",
	"Location",
}

var (
	ErrInvalidStart   = errors.New("start is not a valid date")
	ErrInvalidEnd     = errors.New("end is not a valid date")
	ErrEndBeforeStart = errors.New("start is after end")
)

// Options controls CSV rendering.
type Options struct {
	// Now supplies the fallback date for missing dates. If nil, time.Now is used.
	Now func() time.Time
}

// SkippedRow records an occurrence that was left out of the output.
type SkippedRow struct {
	Index   int
	Subject string
	Reason  error
}

// Result is the rendered document plus per-row bookkeeping.
type Result struct {
	Text    string
	Written int
	Skipped []SkippedRow
}

// SerializeCSV renders occs with a header row. Occurrences with a not-a-date
// start or end, or whose start is after their end, are skipped and reported;
// the rest of the batch is still written.
func SerializeCSV(occs []model.Occurrence, opts Options) Result {
	if opts.Now == nil {
		opts.Now = time.Now
	}
	now := opts.Now()

	var b strings.Builder
	writeRow(&b, Header)

	var res Result
	for i, occ := range occs {
		row, err := csvRow(occ, now)
		if err != nil {
			appLog.Warn("export: skipping occurrence", "index", i, "subject", occ.Subject, "reason", err.Error())
			res.Skipped = append(res.Skipped, SkippedRow{Index: i, Subject: occ.Subject, Reason: err})
			continue
		}
		writeRow(&b, row)
		res.Written++
	}

	res.Text = b.String()
	appLog.Debug("export: csv rendered", "written", res.Written, "skipped", len(res.Skipped))
	return res
}

// Validate reports why occ cannot be exported, if at all.
func Validate(occ model.Occurrence) error {
	switch {
	case occ.Start.IsZero():
		return ErrInvalidStart
	case occ.End.IsZero():
		return ErrInvalidEnd
	case occ.Start.After(occ.End):
		return ErrEndBeforeStart
	}
	return nil
}

func csvRow(occ model.Occurrence, now time.Time) ([]string, error) {
	if err := Validate(occ); err != nil {
		return nil, err
	}

	subject := occ.Subject
	if subject == "" {
		subject = DefaultSubject
	}
	allDay := "FALSE"
	if occ.AllDay {
		allDay = "TRUE"
	}

	return []string{
		EscapeField(subject),
		FormatDate(occ.Start, now),
		FormatTime(occ.Start, DefaultStartTime),
		FormatDate(occ.End, now),
		FormatTime(occ.End, DefaultEndTime),
		allDay,
		EscapeField(occ.Description),
		EscapeField(occ.Location),
	}, nil
}

func writeRow(b *strings.Builder, fields []string) {
	b.WriteString(strings.Join(fields, ","))
	b.WriteByte('\n')
}

// FormatDate renders t as MM/DD/YYYY, using now's date for a zero t.
func FormatDate(t, now time.Time) string {
	if t.IsZero() {
		t = now
	}
	return t.Format(dateLayout)
}

// FormatTime renders t on a 12-hour clock ("9:05 AM"), or fallback for a zero t.
func FormatTime(t time.Time, fallback string) string {
	if t.IsZero() {
		return fallback
	}
	return t.Format(timeLayout)
}

// EscapeField quotes s when it contains a comma, a double quote or a line
// break, doubling any inner quotes. Other values pass through unchanged.
// Unlike encoding/csv, a leading space alone does not trigger quoting.
func EscapeField(s string) string {
	if !strings.ContainsAny(s, ",\"\r\n") {
		return s
	}
	return `"` + strings.ReplaceAll(s, `"`, `""`) + `"`
}

// FileName returns "<prefix>-YYYY-MM-DD.csv" for the export date.
func FileName(prefix string, now time.Time) string {
	return prefix + "-" + now.Format("2006-01-02") + ".csv"
}
