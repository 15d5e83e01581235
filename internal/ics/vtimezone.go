package ics

import (
	"fmt"
	"time"

	ical "github.com/arran4/golang-ical"
)

// transition is one change of UTC offset in a zone.
type transition struct {
	at       time.Time // instant of the change
	from, to int       // offsets in seconds east of UTC
	name     string    // abbreviation in effect after the change
	dst      bool
}

// zoneTransitions returns the offset changes of loc during year, in order.
func zoneTransitions(loc *time.Location, year int) []transition {
	var out []transition
	cur := time.Date(year, time.January, 1, 0, 0, 0, 0, time.UTC)
	end := cur.AddDate(1, 0, 0)
	_, off := cur.In(loc).Zone()

	for cur.Before(end) {
		next := cur.Add(24 * time.Hour)
		_, nextOff := next.In(loc).Zone()
		if nextOff != off {
			// Narrow the change down to the second.
			lo, hi := cur, next
			for hi.Sub(lo) > time.Second {
				mid := lo.Add(hi.Sub(lo) / 2)
				if _, o := mid.In(loc).Zone(); o == off {
					lo = mid
				} else {
					hi = mid
				}
			}
			after := hi.In(loc)
			name, _ := after.Zone()
			out = append(out, transition{at: hi, from: off, to: nextOff, name: name, dst: after.IsDST()})
			off = nextOff
		}
		cur = next
	}
	return out
}

// addTimezone appends a VTIMEZONE describing loc around the given year.
// Zones with a yearly pair of changes get one STANDARD and one DAYLIGHT
// observance with a yearly rule; zones without changes get a single fixed
// STANDARD observance.
func addTimezone(cal *ical.Calendar, loc *time.Location, year int) {
	vtz := cal.AddTimezone(loc.String())

	ts := zoneTransitions(loc, year)
	if len(ts) == 0 {
		name, off := time.Date(year, time.January, 1, 0, 0, 0, 0, loc).Zone()
		std := vtz.AddStandard()
		setObservance(&std.ComponentBase, "19700101T000000", off, off, name, "")
		return
	}

	yearly := len(ts) == 2
	for _, t := range ts {
		rule := ""
		if yearly {
			rule = yearlyRule(t.at.Add(time.Duration(t.from) * time.Second))
		}
		onset := t.at.Add(time.Duration(t.from) * time.Second).UTC().Format(icsFloatingTime)
		if t.dst {
			d := &ical.Daylight{}
			setObservance(&d.ComponentBase, onset, t.from, t.to, t.name, rule)
			vtz.Components = append(vtz.Components, d)
		} else {
			std := vtz.AddStandard()
			setObservance(&std.ComponentBase, onset, t.from, t.to, t.name, rule)
		}
	}
}

func setObservance(cb *ical.ComponentBase, onset string, from, to int, name, rule string) {
	cb.SetProperty(ical.ComponentPropertyDtStart, onset)
	cb.SetProperty(ical.ComponentProperty(ical.PropertyTzoffsetfrom), utcOffset(from))
	cb.SetProperty(ical.ComponentProperty(ical.PropertyTzoffsetto), utcOffset(to))
	if name != "" {
		cb.SetProperty(ical.ComponentProperty(ical.PropertyTzname), name)
	}
	if rule != "" {
		cb.SetProperty(ical.ComponentPropertyRrule, rule)
	}
}

// yearlyRule expresses the local onset as "n-th weekday of month", using
// -1 for the last one.
func yearlyRule(local time.Time) string {
	n := (local.Day()-1)/7 + 1
	if local.AddDate(0, 0, 7).Month() != local.Month() {
		n = -1
	}
	day := [...]string{"SU", "MO", "TU", "WE", "TH", "FR", "SA"}[local.Weekday()]
	return fmt.Sprintf("FREQ=YEARLY;BYMONTH=%d;BYDAY=%d%s", int(local.Month()), n, day)
}

// utcOffset formats seconds east of UTC as "+hhmm" or "+hhmmss".
func utcOffset(sec int) string {
	sign := '+'
	if sec < 0 {
		sign = '-'
		sec = -sec
	}
	h, m, s := sec/3600, sec/60%60, sec%60
	if s != 0 {
		return fmt.Sprintf("%c%02d%02d%02d", sign, h, m, s)
	}
	return fmt.Sprintf("%c%02d%02d", sign, h, m)
}
