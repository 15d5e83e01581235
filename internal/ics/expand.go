package ics

import (
	"errors"
	"fmt"
	"time"

	"github.com/teambition/rrule-go"
)

// defaultMaxOccurrences caps Occurrences for rules without COUNT/UNTIL.
const defaultMaxOccurrences = 50

// Occurrences returns up to n start times of ev. A non-recurring event
// yields its own start. All-day occurrences are normalized to midnight in
// the event's location.
func Occurrences(ev ParsedEvent, n int) ([]time.Time, error) {
	if n <= 0 {
		return nil, errors.New("expand: n must be positive")
	}
	if n > defaultMaxOccurrences {
		n = defaultMaxOccurrences
	}
	if ev.Start.IsZero() {
		return nil, errors.New("expand: event has no start")
	}
	if ev.RawRRule == "" {
		return []time.Time{ev.Start}, nil
	}

	opt, err := rrule.StrToROption(ev.RawRRule)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrRecurrence, err)
	}
	opt.Dtstart = ev.Start
	r, err := rrule.NewRRule(*opt)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrRecurrence, err)
	}

	out := make([]time.Time, 0, n)
	next := r.Iterator()
	for len(out) < n {
		t, ok := next()
		if !ok {
			break
		}
		if ev.AllDay {
			t = time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, t.Location())
		}
		out = append(out, t)
	}
	return out, nil
}
