//go:build darwin

package opener

// macOS: "open" routes .ics files to Calendar.app.
func systemCommand() Command {
	return Command{Name: "open"}
}
