package ics

import (
	"strings"
	"unicode"
	"unicode/utf8"

	"nlcal/internal/model"
)

// maxNameBytes bounds each sanitized part in UTF-8 bytes, leaving room
// under the usual 255-byte NAME_MAX for the date, a "-N" suffix and ".ics".
const maxNameBytes = 180

// Filename suggests "<sanitized name>_<start date>.ics" for ev.
func Filename(ev model.Event) string {
	name := sanitize(ev.Name)
	if strings.TrimSpace(ev.StartDate) == "" {
		return name + ".ics"
	}
	return name + "_" + sanitize(ev.StartDate) + ".ics"
}

// sanitize replaces characters that are unsafe on common filesystems and
// whitespace with '_', collapses runs and trims the result.
func sanitize(s string) string {
	var b strings.Builder
	lastUnderscore := false
	for _, r := range s {
		if unsafeRune(r) {
			if lastUnderscore || b.Len() == 0 {
				continue
			}
			r = '_'
		}
		if b.Len()+utf8.RuneLen(r) > maxNameBytes {
			break
		}
		b.WriteRune(r)
		lastUnderscore = r == '_'
	}
	out := strings.Trim(b.String(), "_.")
	if out == "" {
		return "event"
	}
	return out
}

func unsafeRune(r rune) bool {
	if unicode.IsSpace(r) || unicode.IsControl(r) {
		return true
	}
	switch r {
	case '/', '\\', ':', '*', '?', '"', '<', '>', '|', '\'', '`', '$', '%', '&', '#', '!', '{', '}', '[', ']', ';', ',', '=', '+', '@', '~', '^':
		return true
	}
	return false
}
