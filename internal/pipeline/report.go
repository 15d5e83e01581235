package pipeline

import (
	"bytes"
	"encoding/json"

	"nlcal/internal/ics"
	"nlcal/internal/model"
)

// Report is the result of one batch.
type Report struct {
	Items []Item
}

// Item is the result of one description.
type Item struct {
	Description string
	Events      []Outcome
	// Rejected counts extracted candidates that failed validation.
	Rejected int
	// Err is set when extraction failed for the whole description.
	Err error
}

// Outcome is the result of one extracted event.
type Outcome struct {
	Event   model.Event
	Payload ics.Payload
	// Path is set once the payload is written.
	Path string
	// Err is set when the event was not built or not written.
	Err error
	// Warning is set when the file exists but could not be opened.
	Warning error
}

// OK reports whether the event produced a payload that was kept.
func (o Outcome) OK() bool {
	return o.Err == nil
}

// OK reports whether the description yielded at least one event.
func (i Item) OK() bool {
	if i.Err != nil {
		return false
	}
	for _, o := range i.Events {
		if o.OK() {
			return true
		}
	}
	return false
}

// Events flattens the events that were successfully built, in order.
func (r Report) Events() []model.Event {
	var out []model.Event
	for _, it := range r.Items {
		for _, o := range it.Events {
			if o.OK() {
				out = append(out, o.Event)
			}
		}
	}
	return out
}

// Failed reports whether no description succeeded. An empty report is not
// a failure.
func (r Report) Failed() bool {
	if len(r.Items) == 0 {
		return false
	}
	for _, it := range r.Items {
		if it.OK() {
			return false
		}
	}
	return true
}

// Counts returns the number of written events and of failures (failed
// descriptions plus failed events).
func (r Report) Counts() (ok, failed int) {
	for _, it := range r.Items {
		if it.Err != nil {
			failed++
			continue
		}
		for _, o := range it.Events {
			if o.OK() {
				ok++
			} else {
				failed++
			}
		}
	}
	return ok, failed
}

// JSON renders the successful events as indented JSON with non-ASCII text
// kept verbatim. The projection is lossless: decoding it yields the same
// records.
func (r Report) JSON() ([]byte, error) {
	events := r.Events()
	if events == nil {
		events = []model.Event{}
	}
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	enc.SetIndent("", "  ")
	if err := enc.Encode(events); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
