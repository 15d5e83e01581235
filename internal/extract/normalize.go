package extract

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	appLog "nlcal/internal/log"
	"nlcal/internal/model"
)

var (
	// ErrExtractionFormat means the generator answer is not usable JSON.
	// The whole description fails.
	ErrExtractionFormat = errors.New("extraction format error")
	// ErrRecordValidation marks one candidate that could not be coerced
	// into an event. The candidate is skipped.
	ErrRecordValidation = errors.New("record validation error")
)

// Rejected is a candidate that failed coercion.
type Rejected struct {
	Index int             `json:"index"`
	Raw   json.RawMessage `json:"raw"`
	Err   error           `json:"-"`
}

// Result is the outcome of validating one generator answer.
type Result struct {
	Events   []model.Event
	Rejected []Rejected
}

// Normalize turns the generator answer into a list of candidate objects.
// Accepted shapes: a JSON array, a single object, or an object whose
// "events" member holds the array (or one object). Markdown code fences
// around the JSON are ignored.
func Normalize(raw string) ([]json.RawMessage, error) {
	body := stripFences(raw)
	if body == "" {
		return nil, fmt.Errorf("%w: empty response", ErrExtractionFormat)
	}

	var top json.RawMessage
	dec := json.NewDecoder(strings.NewReader(body))
	if err := dec.Decode(&top); err != nil {
		return nil, fmt.Errorf("%w: %v: %s", ErrExtractionFormat, err, preview(body))
	}
	if dec.More() {
		return nil, fmt.Errorf("%w: trailing data after JSON value: %s", ErrExtractionFormat, preview(body))
	}

	switch firstByte(top) {
	case '[':
		return splitArray(top)
	case '{':
		var obj map[string]json.RawMessage
		if err := json.Unmarshal(top, &obj); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrExtractionFormat, err)
		}
		events, ok := obj["events"]
		if !ok {
			return []json.RawMessage{top}, nil
		}
		switch firstByte(events) {
		case '[':
			return splitArray(events)
		case '{':
			return []json.RawMessage{events}, nil
		case 'n':
			return []json.RawMessage{}, nil
		}
		return nil, fmt.Errorf("%w: \"events\" is neither a list nor an object: %s", ErrExtractionFormat, preview(string(events)))
	default:
		return nil, fmt.Errorf("%w: unexpected data format: %s", ErrExtractionFormat, preview(body))
	}
}

// Validate applies defaults to each candidate and coerces it into a
// model.Event. A missing or empty name becomes model.DefaultEventName and
// a missing or empty start_date becomes ref's date. Candidates that still
// do not fit are returned in Result.Rejected; they never abort the batch.
func Validate(candidates []json.RawMessage, ref time.Time) Result {
	res := Result{Events: make([]model.Event, 0, len(candidates))}
	for i, c := range candidates {
		ev, err := coerce(c, ref)
		if err != nil {
			err = fmt.Errorf("%w: candidate %d: %v", ErrRecordValidation, i, err)
			appLog.Warn("skipping invalid event candidate", err, "index", i, "raw", preview(string(c)))
			res.Rejected = append(res.Rejected, Rejected{Index: i, Raw: c, Err: err})
			continue
		}
		res.Events = append(res.Events, ev)
	}
	return res
}

// wireEvent mirrors the JSON the generator is asked to produce. Field
// types are enforced by encoding/json; unknown members are ignored.
type wireEvent struct {
	Name         string   `json:"name"`
	StartDate    string   `json:"start_date"`
	EndDate      *string  `json:"end_date"`
	StartTime    *string  `json:"start_time"`
	EndTime      *string  `json:"end_time"`
	Timezone     *string  `json:"timezone"`
	Participants []string `json:"participants"`
	Location     *string  `json:"location"`
	Content      *string  `json:"content"`
	Recurrence   *string  `json:"recurrence"`
}

func coerce(raw json.RawMessage, ref time.Time) (model.Event, error) {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(raw, &fields); err != nil || fields == nil {
		return model.Event{}, errors.New("candidate is not a JSON object")
	}

	if blank(fields["name"]) {
		fields["name"] = mustMarshal(model.DefaultEventName)
	}
	if blank(fields["start_date"]) {
		fields["start_date"] = mustMarshal(ref.Format("2006-01-02"))
	}

	patched, err := json.Marshal(fields)
	if err != nil {
		return model.Event{}, err
	}

	var w wireEvent
	if err := json.Unmarshal(patched, &w); err != nil {
		return model.Event{}, err
	}

	ev := model.Event{
		Name:       strings.TrimSpace(w.Name),
		StartDate:  strings.TrimSpace(w.StartDate),
		EndDate:    trimmed(w.EndDate),
		StartTime:  trimmed(w.StartTime),
		EndTime:    trimmed(w.EndTime),
		Timezone:   trimmed(w.Timezone),
		Location:   trimmed(w.Location),
		Content:    trimmed(w.Content),
		Recurrence: trimmed(w.Recurrence),
	}
	for _, p := range w.Participants {
		if p = strings.TrimSpace(p); p != "" {
			ev.Participants = append(ev.Participants, p)
		}
	}
	return ev, nil
}

// blank reports a missing member, JSON null, or a whitespace-only string.
func blank(v json.RawMessage) bool {
	if len(v) == 0 || firstByte(v) == 'n' {
		return true
	}
	var s string
	if err := json.Unmarshal(v, &s); err != nil {
		return false
	}
	return strings.TrimSpace(s) == ""
}

func trimmed(p *string) *string {
	if p == nil {
		return nil
	}
	return model.Str(strings.TrimSpace(*p))
}

func splitArray(v json.RawMessage) ([]json.RawMessage, error) {
	var items []json.RawMessage
	if err := json.Unmarshal(v, &items); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrExtractionFormat, err)
	}
	if items == nil {
		items = []json.RawMessage{}
	}
	return items, nil
}

func firstByte(v json.RawMessage) byte {
	v = bytes.TrimSpace(v)
	if len(v) == 0 {
		return 0
	}
	return v[0]
}

func mustMarshal(s string) json.RawMessage {
	b, _ := json.Marshal(s)
	return b
}

// stripFences removes a surrounding ```json ... ``` block if present.
func stripFences(s string) string {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```")
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		s = s[i+1:]
	} else {
		s = ""
	}
	s = strings.TrimSpace(s)
	s = strings.TrimSuffix(s, "```")
	return strings.TrimSpace(s)
}

func preview(s string) string {
	const limit = 200
	r := []rune(s)
	if len(r) <= limit {
		return s
	}
	return string(r[:limit]) + "..."
}
