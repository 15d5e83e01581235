package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"nlcal/internal/extract"
	"nlcal/internal/ics"
	"nlcal/internal/metrics"
	"nlcal/internal/model"
	"nlcal/internal/opener"
	"nlcal/internal/sink"
)

var refTime = time.Date(2024, 10, 30, 9, 0, 0, 0, time.UTC)

type stubExtractor struct {
	answers map[string]extract.Result
	errs    map[string]error
	seen    []string
	refs    []time.Time
}

func (s *stubExtractor) Extract(_ context.Context, d string, ref time.Time) (extract.Result, error) {
	s.seen = append(s.seen, d)
	s.refs = append(s.refs, ref)
	if err := s.errs[d]; err != nil {
		return extract.Result{}, err
	}
	return s.answers[d], nil
}

type failingSink struct{ err error }

func (f failingSink) Write(ics.Payload) (string, error) { return "", f.err }

func event(name, date string) model.Event {
	return model.Event{Name: name, StartDate: date}
}

func newBuilder() *ics.Builder {
	return ics.NewBuilder(
		ics.WithClock(func() time.Time { return refTime }),
		ics.WithUIDFunc(func() string { return "uid@test" }),
	)
}

func TestBatchIsolatesFailedDescription(t *testing.T) {
	x := &stubExtractor{
		answers: map[string]extract.Result{
			"first":  {Events: []model.Event{event("First", "2024-10-31")}},
			"third":  {Events: []model.Event{event("Third", "2024-11-02")}},
			"second": {},
		},
		errs: map[string]error{"second": extract.ErrExtractionFormat},
	}
	dir := t.TempDir()
	rec := &opener.Recorder{}
	p := New(x, newBuilder(), sink.New(dir), WithOpener(rec))

	rep := p.RunAt(context.Background(), []string{"first", "", "  ", "second", "third"}, refTime)

	assert.Equal(t, []string{"first", "second", "third"}, x.seen)
	require.Len(t, rep.Items, 3)
	assert.True(t, rep.Items[0].OK())
	assert.ErrorIs(t, rep.Items[1].Err, extract.ErrExtractionFormat)
	assert.True(t, rep.Items[2].OK())

	files, err := filepath.Glob(filepath.Join(dir, "*.ics"))
	require.NoError(t, err)
	assert.Len(t, files, 2)
	assert.Len(t, rec.Paths(), 2)
	assert.False(t, rep.Failed())

	ok, failed := rep.Counts()
	assert.Equal(t, 2, ok)
	assert.Equal(t, 1, failed)
}

func TestBuildErrorSkipsOnlyThatEvent(t *testing.T) {
	x := &stubExtractor{answers: map[string]extract.Result{
		"d": {Events: []model.Event{
			event("Bad", "31/10/2024"),
			event("Good", "2024-10-31"),
		}},
	}}
	dir := t.TempDir()
	p := New(x, newBuilder(), sink.New(dir))

	rep := p.RunAt(context.Background(), []string{"d"}, refTime)
	require.Len(t, rep.Items, 1)
	require.Len(t, rep.Items[0].Events, 2)

	bad, good := rep.Items[0].Events[0], rep.Items[0].Events[1]
	assert.ErrorIs(t, bad.Err, ics.ErrDateFormat)
	assert.Empty(t, bad.Path)
	assert.NoError(t, good.Err)
	assert.FileExists(t, good.Path)

	assert.Equal(t, []model.Event{event("Good", "2024-10-31")}, rep.Events())
}

func TestHandoffFailureIsWarning(t *testing.T) {
	x := &stubExtractor{answers: map[string]extract.Result{
		"d": {Events: []model.Event{event("Trip", "2024-11-01")}},
	}}
	m := metrics.New()
	rec := &opener.Recorder{Err: errors.New("no desktop")}
	p := New(x, newBuilder(), sink.New(t.TempDir()), WithOpener(rec), WithMetrics(m))

	rep := p.RunAt(context.Background(), []string{"d"}, refTime)
	out := rep.Items[0].Events[0]
	assert.NoError(t, out.Err)
	assert.True(t, IsHandoff(out.Warning))
	assert.FileExists(t, out.Path)
	assert.True(t, rep.Items[0].OK())

	body, err := os.ReadFile(out.Path)
	require.NoError(t, err)
	assert.Contains(t, string(body), "SUMMARY:Trip")
	assert.Equal(t, body, out.Payload.Data)
}

func TestSinkFailureIsEventError(t *testing.T) {
	x := &stubExtractor{answers: map[string]extract.Result{
		"d": {Events: []model.Event{event("A", "2024-11-01")}},
	}}
	rec := &opener.Recorder{}
	p := New(x, newBuilder(), failingSink{err: sink.ErrFileSink}, WithOpener(rec))

	rep := p.RunAt(context.Background(), []string{"d"}, refTime)
	assert.ErrorIs(t, rep.Items[0].Events[0].Err, sink.ErrFileSink)
	assert.Empty(t, rec.Paths())
	assert.True(t, rep.Failed())
}

func TestNilSinkOnlyBuilds(t *testing.T) {
	x := &stubExtractor{answers: map[string]extract.Result{
		"d": {Events: []model.Event{event("A", "2024-11-01")}},
	}}
	rec := &opener.Recorder{}
	p := New(x, newBuilder(), nil, WithOpener(rec))

	rep := p.RunAt(context.Background(), []string{"d"}, refTime)
	out := rep.Items[0].Events[0]
	assert.NoError(t, out.Err)
	assert.Empty(t, out.Path)
	assert.Equal(t, "A_2024-11-01.ics", out.Payload.Filename)
	assert.Empty(t, rec.Paths())
}

func TestRunUsesClockInLocation(t *testing.T) {
	shanghai, err := time.LoadLocation("Asia/Shanghai")
	require.NoError(t, err)

	x := &stubExtractor{}
	p := New(x, newBuilder(), nil,
		WithClock(func() time.Time { return time.Date(2024, 10, 30, 20, 0, 0, 0, time.UTC) }),
		WithLocation(shanghai),
	)
	p.Run(context.Background(), []string{"x"})

	require.Len(t, x.refs, 1)
	assert.Equal(t, "2024-10-31 04:00", x.refs[0].Format("2006-01-02 15:04"))
}

func TestCancelledContextFailsRemainingDescriptions(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	x := &stubExtractor{}
	rep := New(x, newBuilder(), nil).RunAt(ctx, []string{"a", "b"}, refTime)
	require.Len(t, rep.Items, 2)
	for _, it := range rep.Items {
		assert.ErrorIs(t, it.Err, context.Canceled)
	}
	assert.Empty(t, x.seen)
}

func TestMetricsFollowOutcomes(t *testing.T) {
	x := &stubExtractor{
		answers: map[string]extract.Result{
			"d": {
				Events:   []model.Event{event("A", "2024-11-01"), event("B", "bad")},
				Rejected: []extract.Rejected{{Index: 2}},
			},
		},
		errs: map[string]error{"e": errors.New("down")},
	}
	m := metrics.New()
	p := New(x, newBuilder(), nil, WithMetrics(m))
	p.RunAt(context.Background(), []string{"d", "e"}, refTime)

	expected := `
# HELP nlcal_descriptions_total Descriptions processed, by result (ok or failed).
# TYPE nlcal_descriptions_total counter
nlcal_descriptions_total{result="failed"} 1
nlcal_descriptions_total{result="ok"} 1
# HELP nlcal_events_total Extracted events, by outcome.
# TYPE nlcal_events_total counter
nlcal_events_total{outcome="build_error"} 1
nlcal_events_total{outcome="built"} 1
# HELP nlcal_records_rejected_total Extracted candidates that failed record validation.
# TYPE nlcal_records_rejected_total counter
nlcal_records_rejected_total 1
`
	assert.NoError(t, testutil.GatherAndCompare(m.Registry(), strings.NewReader(expected),
		"nlcal_descriptions_total", "nlcal_events_total", "nlcal_records_rejected_total"))
}

func TestReportJSONIsLossless(t *testing.T) {
	ev := model.Event{
		Name:         "团队会议",
		StartDate:    "2024-10-31",
		StartTime:    model.Str("15:00"),
		Timezone:     model.Str("Asia/Shanghai"),
		Participants: []string{"a@example.com"},
		Content:      model.Str("<agenda> & notes"),
	}
	rep := Report{Items: []Item{
		{Description: "x", Events: []Outcome{{Event: ev}, {Event: event("dropped", "x"), Err: ics.ErrDateFormat}}},
		{Description: "y", Err: errors.New("boom")},
	}}

	out, err := rep.JSON()
	require.NoError(t, err)
	assert.Contains(t, string(out), "团队会议")
	assert.Contains(t, string(out), "<agenda> & notes")
	assert.NotContains(t, string(out), "dropped")

	var back []model.Event
	require.NoError(t, json.Unmarshal(out, &back))
	assert.Equal(t, []model.Event{ev}, back)
}

func TestEmptyReport(t *testing.T) {
	var rep Report
	assert.False(t, rep.Failed())
	out, err := rep.JSON()
	require.NoError(t, err)
	assert.Equal(t, "[]\n", string(out))
}
