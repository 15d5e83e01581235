//go:build !darwin && !windows

package opener

// Linux and other Unix desktops.
func systemCommand() Command {
	return Command{Name: "xdg-open"}
}
