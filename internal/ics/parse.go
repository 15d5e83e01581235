package ics

import (
	"bytes"
	"errors"
	"fmt"
	"strings"
	"time"

	ical "github.com/arran4/golang-ical"

	appLog "nlcal/internal/log"
)

// ParsedEvent is a VEVENT read back from an .ics payload. It is what the
// -inspect mode prints and what tests assert against.
type ParsedEvent struct {
	UID string

	Summary     string
	Description string
	Location    string
	Attendees   []string

	Start  time.Time
	End    time.Time
	AllDay bool
	// TZID of DTSTART, empty for floating or UTC times.
	TZID string

	RawRRule string
}

// ParseICS parses a single ICS payload into a list of ParsedEvent.
//
//   - All-day events are detected by VALUE=DATE or a value without 'T'.
//   - TZID parameters are resolved with time.LoadLocation; floating
//     times are returned in time.Local.
//   - A VEVENT with an unreadable DTSTART is logged and skipped.
func ParseICS(body []byte) ([]ParsedEvent, error) {
	if len(bytes.TrimSpace(body)) == 0 {
		return nil, errors.New("empty ICS body")
	}

	cal, err := ical.ParseCalendar(bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("ics parse: %w", err)
	}

	events := make([]ParsedEvent, 0)
	for _, comp := range cal.Events() {
		ev, perr := parseVEvent(comp)
		if perr != nil {
			// Log and skip this event, but keep parsing others.
			appLog.Warn("ics vevent parse failed", perr)
			continue
		}
		events = append(events, ev)
	}

	return events, nil
}

func parseVEvent(ve *ical.VEvent) (ParsedEvent, error) {
	var out ParsedEvent

	if p := ve.GetProperty(ical.ComponentPropertyUniqueId); p != nil {
		out.UID = p.Value
	}
	// TEXT values come back from the parser already unescaped.
	if p := ve.GetProperty(ical.ComponentPropertySummary); p != nil {
		out.Summary = p.Value
	}
	if p := ve.GetProperty(ical.ComponentPropertyDescription); p != nil {
		out.Description = p.Value
	}
	if p := ve.GetProperty(ical.ComponentPropertyLocation); p != nil {
		out.Location = p.Value
	}
	for _, p := range ve.GetProperties(ical.ComponentPropertyAttendee) {
		v := p.Value
		if strings.HasPrefix(strings.ToLower(v), "mailto:") {
			v = v[len("mailto:"):]
		}
		out.Attendees = append(out.Attendees, v)
	}
	if p := ve.GetProperty(ical.ComponentPropertyRrule); p != nil {
		out.RawRRule = p.Value
	}

	dtStart := ve.GetProperty(ical.ComponentPropertyDtStart)
	if dtStart == nil {
		return out, errors.New("missing DTSTART")
	}
	out.AllDay = isDateValue(dtStart.ICalParameters, dtStart.Value)
	out.TZID = firstParam(dtStart.ICalParameters, string(ical.ParameterTzid))

	start, err := parseICSTime(dtStart.Value, resolveLocation(out.TZID))
	if err != nil {
		return out, fmt.Errorf("DTSTART: %w", err)
	}
	out.Start = start

	if dtEnd := ve.GetProperty(ical.ComponentPropertyDtEnd); dtEnd != nil {
		tz := firstParam(dtEnd.ICalParameters, string(ical.ParameterTzid))
		end, err := parseICSTime(dtEnd.Value, resolveLocation(tz))
		if err != nil {
			return out, fmt.Errorf("DTEND: %w", err)
		}
		out.End = end
	}

	return out, nil
}

func isDateValue(params map[string][]string, v string) bool {
	if strings.EqualFold(firstParam(params, string(ical.ParameterValue)), "DATE") {
		return true
	}
	return !strings.Contains(v, "T")
}

func firstParam(params map[string][]string, key string) string {
	if params == nil {
		return ""
	}
	if vs, ok := params[key]; ok && len(vs) > 0 {
		return vs[0]
	}
	return ""
}

func resolveLocation(tzid string) *time.Location {
	if tzid == "" {
		return time.Local
	}
	loc, err := time.LoadLocation(tzid)
	if err != nil {
		appLog.Warn("unknown TZID; using local time", err, "tzid", tzid)
		return time.Local
	}
	return loc
}

// parseICSTime parses a basic ICS date/date-time string into time.Time.
func parseICSTime(v string, loc *time.Location) (time.Time, error) {
	v = strings.TrimSpace(v)
	if v == "" {
		return time.Time{}, errors.New("empty time value")
	}

	// UTC form, e.g., 20250101T090000Z
	if strings.HasSuffix(v, "Z") {
		return time.Parse("20060102T150405Z", v)
	}

	// Local date-time, e.g., 20250101T090000
	if strings.Contains(v, "T") {
		return time.ParseInLocation(icsFloatingTime, v, loc)
	}

	// Date-only (all-day), e.g., 20250101
	return time.ParseInLocation(icsDateLayout, v, loc)
}
