package extract

import (
	"fmt"
	"time"
)

// BuildPrompt returns the system instruction for one extraction call.
// ref supplies both the reference date and the local clock time; the
// clock matters for the "tomorrow said after midnight" rule.
func BuildPrompt(ref time.Time) string {
	return fmt.Sprintf(promptTemplate,
		ref.Format("2006-01-02"),
		ref.Weekday(),
		ref.Format("15:04"),
	)
}

const promptTemplate = `You extract calendar events from a short free-text description and answer with JSON only.

Reference: today is %s (%s) and the current local time is %s. Resolve relative expressions such as "tomorrow", "next Tuesday" or "in two weeks" against this date.

The speaker often goes to bed late. When they say "tomorrow" (or "明天") before the morning, e.g. at 2 a.m. or up to about 6 a.m., they mean the same calendar day as the reference date, not the next one.

The description may be in any language or mix languages (for example Chinese and English). Interpret dates and times correctly in that language, e.g. "31/10" is 31 October, "下周二下午三点" is next Tuesday at 15:00.

Answer with a JSON object of exactly this shape:
{"events": [{"name": string, "start_date": "YYYY-MM-DD", "end_date": "YYYY-MM-DD"|null, "start_time": "HH:MM"|null, "end_time": "HH:MM"|null, "timezone": IANA zone name|null, "participants": [string]|null, "location": string|null, "content": string, "recurrence": RRULE string|null}]}

Rules:
- Use 24-hour "HH:MM" for times and "YYYY-MM-DD" for dates.
- If only a start time is given, leave end_time null; the event lasts one hour.
- If no time of day is given, leave start_time and end_time null; it is an all-day event. For a range of days set end_date to the last day.
- If the description mentions several distinct dates (e.g. "31/10, 8/11" or "Oct 31 and Nov 8"), return one separate event object per date. Each copy keeps the same name and the full original text in "content".
- Put the original wording, as completely as possible, in "content".
- Extract the location when one is mentioned. Participants are e-mail addresses or names exactly as written.
- Only set "recurrence" for explicitly repeating events ("every Tuesday"), as an RFC 5545 RRULE value without the "RRULE:" prefix, e.g. "FREQ=WEEKLY;BYDAY=TU".
- Set every field that is not explicitly stated to null. Do not guess end times, timezones, locations or participants.
- If the text describes no event at all, answer {"events": []}.`
