//go:build windows

package opener

// Windows: the shell file-protocol handler behaves like double-clicking
// the file, without the quoting pitfalls of "cmd /c start".
func systemCommand() Command {
	return Command{Name: "rundll32", Args: []string{"url.dll,FileProtocolHandler"}}
}
