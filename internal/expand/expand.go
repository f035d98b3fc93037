package expand

import (
	"errors"
	"fmt"
	"time"

	"github.com/teambition/rrule-go"

	appLog "gridcal/internal/log"
	"gridcal/internal/model"
)

const (
	defaultMaxOccurrencesPerRecord = 5000

	// UntitledSubject is used for generic records without any title field.
	UntitledSubject = "Untitled Event"
)

// weekdays lists the grid flag names in expansion order with their rrule
// counterparts.
var weekdays = []struct {
	flag string
	day  rrule.Weekday
}{
	{"Mon", rrule.MO},
	{"Tue", rrule.TU},
	{"Wed", rrule.WE},
	{"Thu", rrule.TH},
	{"Fri", rrule.FR},
	{"Sat", rrule.SA},
	{"Sun", rrule.SU},
}

// Options controls how records are expanded.
type Options struct {
	// Location is the wall-clock zone occurrences are built in. If nil,
	// time.Local is used.
	Location *time.Location

	// Now supplies "today" for generic records. If nil, time.Now is used.
	Now func() time.Time

	// MaxOccurrencesPerRecord is a safety cap against absurd date ranges.
	// If zero, defaultMaxOccurrencesPerRecord is used.
	MaxOccurrencesPerRecord int
}

// Stats summarizes one Expand call.
type Stats struct {
	RecordsProcessed     int
	GridRecords          int
	GenericRecords       int
	ActiveDays           int // sum of active weekdays over grid records
	MultiDayRecords      int // grid records active on more than one weekday
	OccurrencesGenerated int
}

// Result wraps the expanded occurrences with a summary.
type Result struct {
	Occurrences []model.Occurrence
	Stats       Stats
	// Truncated holds the input indexes of records that hit the cap.
	Truncated []int
}

// Expand turns parsed records into concrete occurrences. Output keeps input
// order; within a grid record occurrences are grouped by weekday (Mon..Sun)
// and sorted chronologically inside each weekday.
//
// Expand never fails: bad date parts yield no occurrences, bad time parts
// yield occurrences with a zero Start or End that the formatter drops.
func Expand(records []model.Record, opts Options) Result {
	if opts.Location == nil {
		opts.Location = time.Local
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.MaxOccurrencesPerRecord <= 0 {
		opts.MaxOccurrencesPerRecord = defaultMaxOccurrencesPerRecord
	}

	res := Result{Occurrences: make([]model.Occurrence, 0, len(records))}

	for i, rec := range records {
		res.Stats.RecordsProcessed++

		if rec.Shape != model.ShapeGrid {
			res.Stats.GenericRecords++
			res.Occurrences = append(res.Occurrences, expandGeneric(rec.Fields, opts))
			continue
		}

		res.Stats.GridRecords++
		occ, active, truncated := expandGrid(rec.Fields, opts)
		res.Stats.ActiveDays += active
		if active > 1 {
			res.Stats.MultiDayRecords++
		}
		if truncated {
			res.Truncated = append(res.Truncated, i)
			appLog.Error("expand: truncated occurrences for record due to cap",
				errors.New("max occurrences reached"),
				"index", i,
				"title", stringField(rec.Fields, "eventTitle"),
				"cap", opts.MaxOccurrencesPerRecord,
			)
		}
		res.Occurrences = append(res.Occurrences, occ...)
	}

	res.Stats.OccurrencesGenerated = len(res.Occurrences)
	appLog.Debug("expand completed",
		"records", res.Stats.RecordsProcessed,
		"grid", res.Stats.GridRecords,
		"generic", res.Stats.GenericRecords,
		"occurrences", res.Stats.OccurrencesGenerated,
	)
	return res
}

// expandGrid expands one grid record, returning its occurrences, the number
// of active weekdays and whether the cap was hit.
func expandGrid(r model.RawRecord, opts Options) ([]model.Occurrence, int, bool) {
	var days []int
	for i, wd := range weekdays {
		if flag, ok := r[wd.flag].(string); ok && flag == "Y" {
			days = append(days, i)
		}
	}
	if len(days) == 0 {
		return nil, 0, false
	}

	rangeStart, okStart := dateField(r, "startDate", opts.Location)
	rangeEnd, okEnd := dateField(r, "endDate", opts.Location)
	if !okStart || !okEnd {
		appLog.Warn("expand: grid record has an invalid date range; no occurrences",
			"title", stringField(r, "eventTitle"))
		return nil, len(days), false
	}
	if !supportedYear(rangeStart) || !supportedYear(rangeEnd) {
		appLog.Warn("expand: grid record date range is outside years 1-9999; no occurrences",
			"title", stringField(r, "eventTitle"),
			"start", rangeStart.Format("2006-01-02"),
			"end", rangeEnd.Format("2006-01-02"),
		)
		return nil, len(days), false
	}
	// Inclusive by date: anything on rangeEnd's day qualifies.
	until := time.Date(rangeEnd.Year(), rangeEnd.Month(), rangeEnd.Day(), 23, 59, 59, 0, opts.Location)

	startHour, okSH := intField(r["startDate_hour"])
	startMin, okSM := intField(r["startDate_min"])
	endHour, okEH := intField(r["endDate_hour"])
	endMin, okEM := intField(r["endDate_min"])

	base := model.Occurrence{
		Subject:     stringField(r, "eventTitle"),
		Description: stringField(r, "eventDesc"),
		Location:    stringField(r, "venue"),
		AllDay:      false,
		Private:     true,
	}

	remaining := opts.MaxOccurrencesPerRecord
	truncated := false
	out := make([]model.Occurrence, 0)

	for _, idx := range days {
		wd := weekdays[idx]
		// One extra so hitting the cap is observable. With the cap already
		// used up this asks for a single date: any result means truncation.
		dates, err := weeklyDates(rangeStart, until, wd.day, remaining+1)
		if err != nil {
			appLog.Error("expand: failed to build weekly rule", err, "title", base.Subject, "day", wd.flag)
			continue
		}
		if len(dates) > remaining {
			dates = dates[:remaining]
			truncated = true
		}
		remaining -= len(dates)

		for _, d := range dates {
			occ := base
			if okSH && okSM {
				occ.Start = atClock(d, startHour, startMin)
			}
			if okEH && okEM {
				// Same calendar day as the start: sessions never span days.
				occ.End = atClock(d, endHour, endMin)
			}
			out = append(out, occ)
		}
		if truncated {
			break
		}
	}

	return out, len(days), truncated
}

// weeklyDates lists up to count dates on day from dtstart through until.
// rrule-go indexes its year tables without bounds checks, so a panic there
// is reported as an error instead of taking the caller down.
func weeklyDates(dtstart, until time.Time, day rrule.Weekday, count int) (dates []time.Time, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			dates, err = nil, fmt.Errorf("rrule: %v", rec)
		}
	}()

	rule, err := rrule.NewRRule(rrule.ROption{
		Freq:      rrule.WEEKLY,
		Dtstart:   dtstart,
		Until:     until,
		Byweekday: []rrule.Weekday{day},
		Count:     count,
	})
	if err != nil {
		return nil, err
	}
	return rule.All(), nil
}

// supportedYear reports whether t falls in the years the recurrence engine
// handles; year 0 and earlier break its calendar tables.
func supportedYear(t time.Time) bool {
	return t.Year() >= 1 && t.Year() <= 9999
}

func expandGeneric(r model.RawRecord, opts Options) model.Occurrence {
	now := opts.Now().In(opts.Location)
	today := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, opts.Location)

	subject := firstString(r, "title", "eventTitle", "name")
	if subject == "" {
		subject = UntitledSubject
	}

	return model.Occurrence{
		Subject:     subject,
		Description: firstString(r, "description", "eventDesc"),
		Location:    firstString(r, "location", "venue"),
		AllDay:      false,
		Private:     true,
		Start:       atClock(today, 9, 0),
		End:         atClock(today, 10, 0),
	}
}

// atClock returns d's calendar date at hour:minute. Out-of-range values roll
// over like regular calendar arithmetic.
func atClock(d time.Time, hour, minute int) time.Time {
	return time.Date(d.Year(), d.Month(), d.Day(), hour, minute, 0, 0, d.Location())
}

// dateField builds midnight of <prefix>_yr/_mth/_day. The source month is
// 1-based, which matches time.Month.
func dateField(r model.RawRecord, prefix string, loc *time.Location) (time.Time, bool) {
	y, okY := intField(r[prefix+"_yr"])
	m, okM := intField(r[prefix+"_mth"])
	d, okD := intField(r[prefix+"_day"])
	if !okY || !okM || !okD {
		return time.Time{}, false
	}
	return time.Date(y, time.Month(m), d, 0, 0, 0, 0, loc), true
}
