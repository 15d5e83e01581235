package ics

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleICS = "BEGIN:VCALENDAR\r\n" +
	"VERSION:2.0\r\n" +
	"PRODID:-//test//EN\r\n" +
	"BEGIN:VEVENT\r\n" +
	"UID:one@test\r\n" +
	"DTSTAMP:20241001T000000Z\r\n" +
	"SUMMARY:Lunch\\, with team\r\n" +
	"DTSTART:20241031T120000Z\r\n" +
	"DTEND:20241031T130000Z\r\n" +
	"ATTENDEE:MAILTO:a@example.com\r\n" +
	"END:VEVENT\r\n" +
	"BEGIN:VEVENT\r\n" +
	"UID:broken@test\r\n" +
	"SUMMARY:No start\r\n" +
	"END:VEVENT\r\n" +
	"END:VCALENDAR\r\n"

func TestParseICSSkipsBrokenEvents(t *testing.T) {
	events, err := ParseICS([]byte(sampleICS))
	require.NoError(t, err)
	require.Len(t, events, 1)

	ev := events[0]
	assert.Equal(t, "one@test", ev.UID)
	assert.Equal(t, "Lunch, with team", ev.Summary)
	assert.Equal(t, []string{"a@example.com"}, ev.Attendees)
	assert.False(t, ev.AllDay)
	assert.Equal(t, 12, ev.Start.Hour())
}

func TestParseICSRejectsEmptyBody(t *testing.T) {
	_, err := ParseICS([]byte("  \n"))
	assert.Error(t, err)
}
