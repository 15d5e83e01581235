package extract

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"nlcal/internal/model"
)

var refDate = time.Date(2024, 10, 30, 1, 30, 0, 0, time.UTC)

func TestNormalizeShapes(t *testing.T) {
	cases := map[string]struct {
		raw  string
		want int
	}{
		"top-level list":      {`[{"name":"a"},{"name":"b"}]`, 2},
		"single object":       {`{"name":"a","start_date":"2024-10-31"}`, 1},
		"events list":         {`{"events":[{"name":"a"},{"name":"b"},{"name":"c"}]}`, 3},
		"events object":       {`{"events":{"name":"a"}}`, 1},
		"events null":         {`{"events":null}`, 0},
		"empty list":          {`[]`, 0},
		"fenced json":         {"```json\n{\"events\":[{\"name\":\"a\"}]}\n```", 1},
		"fence without label": {"```\n[{\"name\":\"a\"}]\n```", 1},
	}
	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			got, err := Normalize(tc.raw)
			require.NoError(t, err)
			assert.Len(t, got, tc.want)
		})
	}
}

func TestNormalizeRejectsUnstructuredAnswers(t *testing.T) {
	for _, raw := range []string{
		"",
		"Sure! Here is your event.",
		`"just a string"`,
		`42`,
		`{"events": "tomorrow"}`,
		`{"name": "a"} trailing`,
		`{"name": `,
	} {
		_, err := Normalize(raw)
		assert.ErrorIs(t, err, ErrExtractionFormat, "raw %q", raw)
	}
}

func TestValidateDefaultsNameAndStartDate(t *testing.T) {
	candidates := []json.RawMessage{
		json.RawMessage(`{"start_date":"2024-11-01"}`),
		json.RawMessage(`{"name":"","start_date":null}`),
		json.RawMessage(`{"name":"   ","start_date":"  "}`),
	}

	res := Validate(candidates, refDate)
	require.Len(t, res.Events, 3)
	assert.Empty(t, res.Rejected)

	assert.Equal(t, model.DefaultEventName, res.Events[0].Name)
	assert.Equal(t, "2024-11-01", res.Events[0].StartDate)
	for _, ev := range res.Events[1:] {
		assert.Equal(t, model.DefaultEventName, ev.Name)
		assert.Equal(t, "2024-10-30", ev.StartDate)
	}
}

func TestValidateSkipsMalformedCandidates(t *testing.T) {
	candidates := []json.RawMessage{
		json.RawMessage(`{"name":"good","start_date":"2024-10-31"}`),
		json.RawMessage(`{"name":"bad participants","participants":"a@example.com"}`),
		json.RawMessage(`"not an object"`),
		json.RawMessage(`{"name":42}`),
		json.RawMessage(`null`),
		json.RawMessage(`{"name":"also good","start_time":"09:00","location":"Room 5"}`),
	}

	res := Validate(candidates, refDate)
	require.Len(t, res.Events, 2)
	assert.Equal(t, "good", res.Events[0].Name)
	assert.Equal(t, "also good", res.Events[1].Name)

	require.Len(t, res.Rejected, 4)
	idx := make([]int, 0, len(res.Rejected))
	for _, r := range res.Rejected {
		assert.ErrorIs(t, r.Err, ErrRecordValidation)
		idx = append(idx, r.Index)
	}
	assert.Equal(t, []int{1, 2, 3, 4}, idx)
}

func TestValidateNormalizesOptionalFields(t *testing.T) {
	res := Validate([]json.RawMessage{json.RawMessage(`{
		"name": " Dinner ",
		"start_date": "2024-10-31",
		"end_date": "",
		"start_time": " 19:00 ",
		"end_time": null,
		"timezone": "Asia/Shanghai",
		"participants": ["a@example.com", " ", "b@example.com"],
		"location": "",
		"content": "dinner with a and b",
		"confidence": 0.9
	}`)}, refDate)

	require.Len(t, res.Events, 1)
	ev := res.Events[0]
	assert.Equal(t, "Dinner", ev.Name)
	assert.Nil(t, ev.EndDate)
	assert.Equal(t, "19:00", model.Deref(ev.StartTime))
	assert.Nil(t, ev.EndTime)
	assert.Equal(t, "Asia/Shanghai", model.Deref(ev.Timezone))
	assert.Equal(t, []string{"a@example.com", "b@example.com"}, ev.Participants)
	assert.Nil(t, ev.Location)
	assert.Equal(t, "dinner with a and b", model.Deref(ev.Content))
}
