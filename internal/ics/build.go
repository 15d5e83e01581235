package ics

import (
	"errors"
	"fmt"
	"strings"
	"time"

	ical "github.com/arran4/golang-ical"
	"github.com/google/uuid"
	"github.com/teambition/rrule-go"

	appLog "nlcal/internal/log"
	"nlcal/internal/model"
)

const (
	// DefaultProductID is written as the calendar PRODID.
	DefaultProductID = "-//nlcal//Calendar Event Generator//EN"

	dateLayout      = "2006-01-02"
	clockLayout     = "15:04"
	icsDateLayout   = "20060102"
	icsFloatingTime = "20060102T150405"
	icsUTCTime      = "20060102T150405Z"

	defaultDuration = time.Hour
)

var (
	// ErrDateFormat marks a date or time value that cannot be parsed
	// strictly, or an end that is not after the start.
	ErrDateFormat = errors.New("date format error")
	// ErrRecurrence marks an RRULE value rejected by the recurrence parser.
	ErrRecurrence = errors.New("invalid recurrence rule")
)

// Payload is one serialized calendar file.
type Payload struct {
	// Filename is a filesystem-safe suggestion such as "Team_sync_2024-10-31.ics".
	Filename string
	Data     []byte
}

// Builder turns a model.Event into a single-VEVENT iCalendar payload.
// It performs no I/O.
type Builder struct {
	productID string
	now       func() time.Time
	newUID    func() string
}

// Option configures a Builder.
type Option func(*Builder)

// WithProductID overrides the PRODID constant.
func WithProductID(id string) Option {
	return func(b *Builder) {
		if id != "" {
			b.productID = id
		}
	}
}

// WithClock sets the source of DTSTAMP.
func WithClock(now func() time.Time) Option {
	return func(b *Builder) {
		if now != nil {
			b.now = now
		}
	}
}

// WithUIDFunc sets the UID generator.
func WithUIDFunc(f func() string) Option {
	return func(b *Builder) {
		if f != nil {
			b.newUID = f
		}
	}
}

// NewBuilder returns a Builder with random UIDs and wall-clock DTSTAMP.
func NewBuilder(opts ...Option) *Builder {
	b := &Builder{
		productID: DefaultProductID,
		now:       time.Now,
		newUID:    func() string { return uuid.NewString() + "@nlcal" },
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Build produces the calendar payload for ev.
//
//   - Timed events: DTSTART/DTEND are date-times. Without end_time the
//     event lasts one hour. With a timezone they carry TZID and the
//     calendar gets a matching VTIMEZONE ("UTC" is written in Z form);
//     otherwise they are floating local times. An unknown timezone is
//     logged and the times stay floating.
//   - An RRULE that does not parse is logged and left out.
//   - All-day events: DTSTART/DTEND are VALUE=DATE and DTEND is the day
//     after the last included day (exclusive end).
func (b *Builder) Build(ev model.Event) (Payload, error) {
	startDate, err := parseDate("start_date", ev.StartDate)
	if err != nil {
		return Payload{}, err
	}

	var endDate *time.Time
	if ev.EndDate != nil && *ev.EndDate != "" {
		d, err := parseDate("end_date", *ev.EndDate)
		if err != nil {
			return Payload{}, err
		}
		if d.Before(startDate) {
			return Payload{}, fmt.Errorf("%w: end_date %s is before start_date %s", ErrDateFormat, *ev.EndDate, ev.StartDate)
		}
		endDate = &d
	}

	cal := ical.NewCalendar()
	cal.SetProductId(b.productID)
	cal.SetVersion("2.0")

	type stamp struct {
		value  string
		params []ical.PropertyParameter
	}
	var dtStart, dtEnd stamp

	if ev.AllDay() {
		last := startDate
		if endDate != nil {
			last = *endDate
		}
		dateParam := &ical.KeyValues{Key: string(ical.ParameterValue), Value: []string{string(ical.ValueDataTypeDate)}}
		dtStart = stamp{startDate.Format(icsDateLayout), []ical.PropertyParameter{dateParam}}
		dtEnd = stamp{last.AddDate(0, 0, 1).Format(icsDateLayout), []ical.PropertyParameter{dateParam}}
	} else {
		start, end, loc, err := timedRange(ev, startDate, endDate)
		if err != nil {
			return Payload{}, err
		}
		switch {
		case loc == nil:
			dtStart = stamp{value: start.Format(icsFloatingTime)}
			dtEnd = stamp{value: end.Format(icsFloatingTime)}
		case loc == time.UTC:
			dtStart = stamp{value: start.UTC().Format(icsUTCTime)}
			dtEnd = stamp{value: end.UTC().Format(icsUTCTime)}
		default:
			// Every TZID in use needs its VTIMEZONE.
			addTimezone(cal, loc, start.Year())
			tzid := []ical.PropertyParameter{&ical.KeyValues{Key: string(ical.ParameterTzid), Value: []string{loc.String()}}}
			dtStart = stamp{start.Format(icsFloatingTime), tzid}
			dtEnd = stamp{end.Format(icsFloatingTime), tzid}
		}
	}

	vev := cal.AddEvent(b.newUID())
	vev.SetDtStampTime(b.now())
	vev.SetSummary(ev.Name)
	vev.SetProperty(ical.ComponentPropertyDtStart, dtStart.value, dtStart.params...)
	vev.SetProperty(ical.ComponentPropertyDtEnd, dtEnd.value, dtEnd.params...)

	if loc := model.Deref(ev.Location); loc != "" {
		vev.SetLocation(loc)
	}
	if content := model.Deref(ev.Content); content != "" {
		vev.SetDescription(content)
	}
	for _, p := range ev.Participants {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		vev.AddProperty(ical.ComponentPropertyAttendee, mailto(p))
	}

	if rule := model.Deref(ev.Recurrence); rule != "" {
		if rule, err := ValidateRecurrence(rule); err != nil {
			appLog.Warn("dropping recurrence, event stays single", err, "name", ev.Name)
		} else {
			vev.AddProperty(ical.ComponentPropertyRrule, rule)
		}
	}

	out := Payload{
		Filename: Filename(ev),
		Data:     []byte(cal.Serialize()),
	}
	appLog.Debug("ics payload built", "name", ev.Name, "start_date", ev.StartDate, "all_day", ev.AllDay(), "bytes", len(out.Data))
	return out, nil
}

// timedRange combines dates and clock times. Naive timestamps are
// interpreted in the event's timezone when one is given; loc is nil for
// floating times.
func timedRange(ev model.Event, startDate time.Time, endDate *time.Time) (start, end time.Time, loc *time.Location, err error) {
	zone := time.UTC
	if tz := model.Deref(ev.Timezone); tz != "" {
		if l, lerr := time.LoadLocation(tz); lerr != nil {
			appLog.Warn("unknown timezone, using floating time", lerr, "name", ev.Name, "timezone", tz)
		} else {
			loc, zone = l, l
		}
	}

	startClock, err := parseClock("start_time", model.Deref(ev.StartTime))
	if err != nil {
		return start, end, nil, err
	}
	start = combine(startDate, startClock, zone)

	endTime := model.Deref(ev.EndTime)
	if endTime == "" {
		return start, start.Add(defaultDuration), loc, nil
	}

	endClock, err := parseClock("end_time", endTime)
	if err != nil {
		return start, end, nil, err
	}
	day := startDate
	if endDate != nil {
		day = *endDate
	}
	end = combine(day, endClock, zone)

	// "23:00-01:00" on a single date runs past midnight.
	if endDate == nil && !end.After(start) {
		end = end.AddDate(0, 0, 1)
	}
	if !end.After(start) {
		return start, end, nil, fmt.Errorf("%w: end %s is not after start %s", ErrDateFormat, end.Format(time.DateTime), start.Format(time.DateTime))
	}
	return start, end, loc, nil
}

func parseDate(field, v string) (time.Time, error) {
	d, err := time.Parse(dateLayout, strings.TrimSpace(v))
	if err != nil {
		return time.Time{}, fmt.Errorf("%w: %s %q is not YYYY-MM-DD", ErrDateFormat, field, v)
	}
	return d, nil
}

func parseClock(field, v string) (time.Time, error) {
	c, err := time.Parse(clockLayout, strings.TrimSpace(v))
	if err != nil {
		return time.Time{}, fmt.Errorf("%w: %s %q is not HH:MM", ErrDateFormat, field, v)
	}
	return c, nil
}

func combine(day, clock time.Time, loc *time.Location) time.Time {
	return time.Date(day.Year(), day.Month(), day.Day(), clock.Hour(), clock.Minute(), 0, 0, loc)
}

func mailto(p string) string {
	if strings.HasPrefix(strings.ToLower(p), "mailto:") {
		return "mailto:" + p[len("mailto:"):]
	}
	return "mailto:" + p
}

// ValidateRecurrence checks an RRULE value and returns it without any
// "RRULE:" prefix.
func ValidateRecurrence(rule string) (string, error) {
	rule = strings.TrimSpace(rule)
	if len(rule) >= len("RRULE:") && strings.EqualFold(rule[:len("RRULE:")], "RRULE:") {
		rule = rule[len("RRULE:"):]
	}
	if _, err := rrule.StrToROption(rule); err != nil {
		return "", fmt.Errorf("%w: %q: %v", ErrRecurrence, rule, err)
	}
	return rule, nil
}
