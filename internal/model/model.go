package model

// DefaultEventName is used when the extractor returns an event without a name.
const DefaultEventName = "Untitled Event"

// Event is one calendar-worthy event extracted from free text.
//
// Dates are kept as the strings the extractor produced ("YYYY-MM-DD",
// "HH:MM"); strict parsing happens when the event is turned into an
// iCalendar payload, so a malformed value fails that record only.
//
// Optional fields are pointers so that JSON null and "absent" stay
// distinguishable from an empty string in the displayed output.
type Event struct {
	Name      string  `json:"name"`
	StartDate string  `json:"start_date"`
	EndDate   *string `json:"end_date"`
	StartTime *string `json:"start_time"`
	EndTime   *string `json:"end_time"`
	Timezone  *string `json:"timezone"`

	Participants []string `json:"participants"`

	Location *string `json:"location"`
	Content  *string `json:"content"`

	// Recurrence is an RFC 5545 RRULE value without the "RRULE:" prefix,
	// e.g. "FREQ=WEEKLY;BYDAY=TU".
	Recurrence *string `json:"recurrence,omitempty"`
}

// AllDay reports whether the event has no time-of-day component.
func (e Event) AllDay() bool {
	return e.StartTime == nil || *e.StartTime == ""
}

// Str returns a pointer to s, or nil for the empty string.
func Str(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

// Deref returns the pointed-to string or "".
func Deref(p *string) string {
	if p == nil {
		return ""
	}
	return *p
}
