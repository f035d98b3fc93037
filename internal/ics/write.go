package ics

import (
	"strings"
	"time"

	ical "github.com/arran4/golang-ical"
	"github.com/google/uuid"

	"gridcal/internal/export"
	appLog "gridcal/internal/log"
	"gridcal/internal/model"
)

const (
	ContentType = "text/calendar; charset=utf-8"

	productID = "-//gridcal//Timetable Export//EN"
	uidDomain = "@gridcal"

	// Floating local time: no TZID, no trailing Z.
	localLayout = "20060102T150405"
	dateLayout  = "20060102"
)

// uidSpace namespaces UIDs so the same occurrence always maps to the same UID.
var uidSpace = uuid.NewSHA1(uuid.NameSpaceURL, []byte("https://gridcal/occurrence"))

// Options controls iCalendar rendering.
type Options struct {
	// Now stamps DTSTAMP. If nil, time.Now is used.
	Now func() time.Time
	// Name, if set, becomes the calendar display name.
	Name string
}

// Result is the rendered calendar plus per-event bookkeeping.
type Result struct {
	Text    string
	Written int
	Skipped []export.SkippedRow
}

// Serialize renders occs as a VCALENDAR with one VEVENT per valid
// occurrence. Occurrences rejected by export.Validate are skipped, matching
// the CSV output.
func Serialize(occs []model.Occurrence, opts Options) Result {
	if opts.Now == nil {
		opts.Now = time.Now
	}
	stamp := opts.Now().UTC()

	cal := ical.NewCalendar()
	cal.SetProductId(productID)
	cal.SetMethod(ical.MethodPublish)
	if opts.Name != "" {
		cal.SetName(opts.Name)
		cal.SetXWRCalName(opts.Name)
	}

	var res Result
	for i, occ := range occs {
		if err := export.Validate(occ); err != nil {
			appLog.Warn("ics: skipping occurrence", "index", i, "subject", occ.Subject, "reason", err.Error())
			res.Skipped = append(res.Skipped, export.SkippedRow{Index: i, Subject: occ.Subject, Reason: err})
			continue
		}

		ev := cal.AddEvent(UID(occ))
		ev.SetDtStampTime(stamp)
		subject := occ.Subject
		if subject == "" {
			subject = export.DefaultSubject
		}
		ev.SetSummary(subject)
		if occ.Description != "" {
			ev.SetDescription(occ.Description)
		}
		if occ.Location != "" {
			ev.SetLocation(occ.Location)
		}
		if occ.Private {
			ev.SetProperty(ical.ComponentPropertyClass, "PRIVATE")
		}

		if occ.AllDay {
			dateOnly := &ical.KeyValues{Key: string(ical.ParameterValue), Value: []string{"DATE"}}
			ev.SetProperty(ical.ComponentPropertyDtStart, occ.Start.Format(dateLayout), dateOnly)
			ev.SetProperty(ical.ComponentPropertyDtEnd, occ.End.AddDate(0, 0, 1).Format(dateLayout), dateOnly)
		} else {
			ev.SetProperty(ical.ComponentPropertyDtStart, occ.Start.Format(localLayout))
			ev.SetProperty(ical.ComponentPropertyDtEnd, occ.End.Format(localLayout))
		}
		res.Written++
	}

	res.Text = cal.Serialize()
	appLog.Debug("ics: calendar rendered", "written", res.Written, "skipped", len(res.Skipped))
	return res
}

// UID derives a stable identifier from the occurrence's subject, start,
// location and description. Fields are joined with NUL so no field value
// can shift into its neighbour.
func UID(occ model.Occurrence) string {
	name := strings.Join([]string{occ.Subject, occ.Start.Format(localLayout), occ.Location, occ.Description}, "\x00")
	return uuid.NewSHA1(uidSpace, []byte(name)).String() + uidDomain
}

// FileName returns "<prefix>-YYYY-MM-DD.ics" for the export date.
func FileName(prefix string, now time.Time) string {
	return prefix + "-" + now.Format("2006-01-02") + ".ics"
}
