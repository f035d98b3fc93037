package pipeline

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"
	_ "time/tzdata"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"gridcal/internal/model"
	"gridcal/internal/notify"
	"gridcal/internal/store"
)

var fixedNow = time.Date(2026, 3, 5, 15, 42, 0, 0, time.UTC)

const feedV1 = `{"events":[{
	"eventTitle":"Algorithms","venue":"Room 5",
	"startDate_yr":2024,"startDate_mth":9,"startDate_day":2,
	"endDate_yr":2024,"endDate_mth":9,"endDate_day":16,
	"startDate_hour":9,"startDate_min":0,"endDate_hour":10,"endDate_min":30,
	"Mon":"Y","Wed":"Y"}]}`

const feedV1Reordered = `[{
	"Wed":"Y","Mon":"Y","venue":"Room 5","eventTitle":"Algorithms",
	"endDate_hour":10,"endDate_min":30,"startDate_hour":9,"startDate_min":0,
	"endDate_yr":2024,"endDate_mth":9,"endDate_day":16,
	"startDate_yr":2024,"startDate_mth":9,"startDate_day":2}]`

const feedV2 = `{"events":[{
	"venue":"Room 5","eventTitle":"Algorithms",
	"startDate_yr":2024,"startDate_mth":9,"startDate_day":2,
	"endDate_yr":2024,"endDate_mth":9,"endDate_day":16,
	"startDate_hour":9,"startDate_min":0,"endDate_hour":10,"endDate_min":30,
	"Mon":"Y","Wed":"Y"},
	{"eventTitle":"Databases","startDate_yr":2024,"startDate_mth":9,"startDate_day":3,
	"endDate_yr":2024,"endDate_mth":9,"endDate_day":3,
	"startDate_hour":14,"startDate_min":0,"endDate_hour":15,"endDate_min":0,"Tue":"Y"}]}`

type recorder struct {
	got []model.DiffResult
	err error
}

func (r *recorder) Notify(_ context.Context, d model.DiffResult) error {
	r.got = append(r.got, d)
	return r.err
}

func newPipeline(n notify.Notifier) *Pipeline {
	return New(store.NewMemory(2), n, Config{
		ExportPrefix: "timetable",
		CalendarName: "Timetable",
		Location:     time.UTC,
		Now:          func() time.Time { return fixedNow },
	})
}

func ok(body string) model.Capture {
	return model.Capture{URL: "https://schedule.example.edu/sas_events.jsp", Method: "GET", Body: body, Status: 200}
}

func TestIngestDetectsChanges(t *testing.T) {
	ctx := context.Background()
	rec := &recorder{}
	p := newPipeline(rec)

	d, err := p.Ingest(ctx, ok(feedV1))
	require.NoError(t, err)
	assert.False(t, d.HasChanges)

	// Same record with a different field order is not a change.
	d, err = p.Ingest(ctx, ok(feedV1Reordered))
	require.NoError(t, err)
	assert.False(t, d.HasChanges)
	assert.Empty(t, rec.got)

	d, err = p.Ingest(ctx, ok(feedV2))
	require.NoError(t, err)
	assert.True(t, d.HasChanges)
	require.Len(t, d.Added, 1)
	require.IsType(t, map[string]any{}, d.Added[0])
	assert.Equal(t, "Databases", d.Added[0].(map[string]any)["eventTitle"])
	require.Len(t, rec.got, 1)
}

func TestIngestNotifierFailureIsNotFatal(t *testing.T) {
	ctx := context.Background()
	p := newPipeline(&recorder{err: errors.New("surface closed")})

	_, err := p.Ingest(ctx, ok(`[{"id":1}]`))
	require.NoError(t, err)
	d, err := p.Ingest(ctx, ok(`[{"id":1},{"id":2}]`))
	require.NoError(t, err)
	assert.True(t, d.HasChanges)
}

func TestIngestSkipsDiffForErrorCaptures(t *testing.T) {
	ctx := context.Background()
	rec := &recorder{}
	p := newPipeline(rec)

	_, err := p.Ingest(ctx, ok(`[{"id":1}]`))
	require.NoError(t, err)
	d, err := p.Ingest(ctx, model.Capture{Body: "<html>login</html>", Status: 302})
	require.NoError(t, err)
	assert.False(t, d.HasChanges)
	assert.Empty(t, rec.got)
}

func TestExportCSV(t *testing.T) {
	ctx := context.Background()
	p := newPipeline(nil)

	_, err := p.Export(ctx, FormatCSV)
	assert.ErrorIs(t, err, ErrNoData)

	_, err = p.Ingest(ctx, ok(feedV1))
	require.NoError(t, err)

	out, err := p.Export(ctx, FormatCSV)
	require.NoError(t, err)
	assert.Equal(t, "timetable-2026-03-05.csv", out.FileName)
	assert.Equal(t, "text/csv; charset=utf-8", out.ContentType)
	assert.Equal(t, 5, out.Written)
	assert.Equal(t, 0, out.Skipped)
	assert.Equal(t, 1, out.Stats.GridRecords)

	lines := strings.Split(strings.TrimSuffix(out.Body, "\n"), "\n")
	require.Len(t, lines, 6)
	assert.Equal(t, "Algorithms,09/02/2024,9:00 AM,09/02/2024,10:30 AM,FALSE,,Room 5", lines[1])
}

func TestExportICS(t *testing.T) {
	ctx := context.Background()
	p := newPipeline(nil)
	_, err := p.Ingest(ctx, ok(feedV2))
	require.NoError(t, err)

	out, err := p.Export(ctx, FormatICS)
	require.NoError(t, err)
	assert.Equal(t, "timetable-2026-03-05.ics", out.FileName)
	assert.Equal(t, 6, out.Written)
	assert.Equal(t, 6, strings.Count(out.Body, "BEGIN:VEVENT"))
}

func TestExportUsesLatestSuccessfulCapture(t *testing.T) {
	ctx := context.Background()
	p := newPipeline(nil)
	_, err := p.Ingest(ctx, ok(`["Only line"]`))
	require.NoError(t, err)
	_, err = p.Ingest(ctx, model.Capture{Body: "Service Unavailable", Status: 503})
	require.NoError(t, err)

	out, err := p.Export(ctx, FormatCSV)
	require.NoError(t, err)
	assert.Equal(t, 1, out.Written)
}

func TestExportNoEvents(t *testing.T) {
	ctx := context.Background()
	p := newPipeline(nil)
	_, err := p.Ingest(ctx, ok(`{"events":[{"eventTitle":"x","startDate_yr":2024,"Mon":"N"}]}`))
	require.NoError(t, err)

	_, err = p.Export(ctx, FormatCSV)
	assert.ErrorIs(t, err, ErrNoEvents)

	_, err = p.Ingest(ctx, ok(`[]`))
	require.NoError(t, err)
	_, err = p.Export(ctx, FormatICS)
	assert.ErrorIs(t, err, ErrNoEvents)
}

func TestExportUnknownFormat(t *testing.T) {
	_, err := newPipeline(nil).Export(context.Background(), Format("pdf"))
	assert.ErrorIs(t, err, ErrUnknownFormat)
}

type fakeSource struct {
	captures []model.Capture
	err      error
}

func (f fakeSource) Capture(context.Context) ([]model.Capture, error) {
	return f.captures, f.err
}

func TestRefresh(t *testing.T) {
	ctx := context.Background()
	p := newPipeline(nil)

	d, err := p.Refresh(ctx, fakeSource{captures: []model.Capture{ok(`[{"id":1}]`), ok(`[{"id":2}]`)}})
	require.NoError(t, err)
	assert.True(t, d.HasChanges)
	assert.Len(t, d.Added, 1)
	assert.Len(t, d.Removed, 1)

	latest, found, err := p.Latest(ctx)
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, `[{"id":2}]`, latest.Body)
	assert.Equal(t, fixedNow, latest.Timestamp)

	_, err = p.Refresh(ctx, fakeSource{err: errors.New("browser crashed")})
	assert.Error(t, err)
}

func TestParseFormat(t *testing.T) {
	f, err := ParseFormat("ics")
	require.NoError(t, err)
	assert.Equal(t, FormatICS, f)
	_, err = ParseFormat("xlsx")
	assert.ErrorIs(t, err, ErrUnknownFormat)
}

func TestTodayUsesFeedZone(t *testing.T) {
	hk, err := time.LoadLocation("Asia/Hong_Kong")
	require.NoError(t, err)

	evening := time.Date(2026, 3, 5, 17, 0, 0, 0, time.UTC)
	p := New(store.NewMemory(2), nil, Config{Location: hk, Now: func() time.Time { return evening }})
	assert.Equal(t, "2026-03-06", p.Today())

	p = New(store.NewMemory(2), nil, Config{Location: time.UTC, Now: func() time.Time { return evening }})
	assert.Equal(t, "2026-03-05", p.Today())
}
