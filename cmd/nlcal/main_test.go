package main

import (
	"bytes"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"nlcal/internal/config"
	"nlcal/internal/ics"
	"nlcal/internal/model"
	"nlcal/internal/pipeline"
)

func TestApplyFlagsOverridesConfig(t *testing.T) {
	conf := config.DefaultConfig()
	applyFlags(conf, flagConfig{listen: ":9999", outDir: "/tmp/out", noOpen: true})
	assert.Equal(t, ":9999", conf.Listen)
	assert.Equal(t, "/tmp/out", conf.OutputDir)
	assert.False(t, conf.OpenFiles)

	conf = config.DefaultConfig()
	applyFlags(conf, flagConfig{})
	assert.Equal(t, config.DefaultListen, conf.Listen)
	assert.True(t, conf.OpenFiles)
}

func TestReadLinesSkipsBlank(t *testing.T) {
	lines, err := readLines(strings.NewReader("a\n\n  b  \n\t\nc"))
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b", "c"}, lines)
}

func TestPrintReport(t *testing.T) {
	rep := pipeline.Report{Items: []pipeline.Item{
		{
			Description: "lunch and dinner",
			Rejected:    1,
			Events: []pipeline.Outcome{
				{Event: model.Event{Name: "Lunch", StartDate: "2024-10-31"}, Path: "/tmp/Lunch_2024-10-31.ics"},
				{Event: model.Event{Name: "Dinner", StartDate: "bad"}, Err: ics.ErrDateFormat},
			},
		},
		{Description: "nothing", Err: errors.New("boom")},
	}}

	var buf bytes.Buffer
	printReport(&buf, rep)
	out := buf.String()
	assert.Contains(t, out, "» lunch and dinner")
	assert.Contains(t, out, "✓ Lunch (2024-10-31) → /tmp/Lunch_2024-10-31.ics")
	assert.Contains(t, out, "✗ Dinner (bad)")
	assert.Contains(t, out, "1 malformed candidate(s) skipped")
	assert.Contains(t, out, "error: boom")
}

func TestInspectPrintsBuiltFile(t *testing.T) {
	b := ics.NewBuilder(ics.WithClock(func() time.Time { return time.Date(2024, 10, 1, 0, 0, 0, 0, time.UTC) }))
	p, err := b.Build(model.Event{
		Name:       "Standup",
		StartDate:  "2024-10-29",
		StartTime:  model.Str("09:30"),
		Timezone:   model.Str("UTC"),
		Location:   model.Str("Room 4"),
		Recurrence: model.Str("FREQ=WEEKLY;BYDAY=TU;COUNT=3"),
	})
	require.NoError(t, err)

	path := filepath.Join(t.TempDir(), p.Filename)
	require.NoError(t, os.WriteFile(path, p.Data, 0o600))

	var buf bytes.Buffer
	require.NoError(t, inspect(&buf, path))
	out := buf.String()
	assert.Contains(t, out, "Standup")
	assert.Contains(t, out, "where: Room 4")
	assert.Contains(t, out, "rule:  FREQ=WEEKLY;BYDAY=TU;COUNT=3")
	assert.Contains(t, out, "Tue 2024-10-29 09:30")
	assert.Contains(t, out, "Tue 2024-11-12 09:30")
}

func TestInspectMissingFile(t *testing.T) {
	assert.Error(t, inspect(&bytes.Buffer{}, filepath.Join(t.TempDir(), "nope.ics")))
}
