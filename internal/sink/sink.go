// Package sink writes calendar payloads to a directory.
package sink

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"nlcal/internal/ics"
	appLog "nlcal/internal/log"
)

// ErrFileSink wraps every failure to persist a payload.
var ErrFileSink = errors.New("file sink error")

// maxSuffix bounds the "-N" collision search.
const maxSuffix = 1000

// Dir writes each payload to its own file under Path. Existing files are
// never overwritten: "name.ics" becomes "name-2.ics", "name-3.ics", ...
type Dir struct {
	path string
}

// New returns a sink rooted at path. The directory is created on first write.
func New(path string) *Dir {
	return &Dir{path: path}
}

// Path returns the output directory.
func (d *Dir) Path() string {
	return d.path
}

// Write stores p and returns the absolute path of the created file.
func (d *Dir) Write(p ics.Payload) (string, error) {
	if d.path == "" {
		return "", fmt.Errorf("%w: output directory is not set", ErrFileSink)
	}
	if err := os.MkdirAll(d.path, 0o700); err != nil {
		return "", fmt.Errorf("%w: %v", ErrFileSink, err)
	}

	base := filepath.Base(p.Filename)
	if base == "" || base == "." || base == string(filepath.Separator) {
		base = "event.ics"
	}
	stem := strings.TrimSuffix(base, filepath.Ext(base))
	ext := filepath.Ext(base)
	if ext == "" {
		ext = ".ics"
	}

	for i := 1; i <= maxSuffix; i++ {
		name := stem + ext
		if i > 1 {
			name = stem + "-" + strconv.Itoa(i) + ext
		}
		full := filepath.Join(d.path, name)

		f, err := os.OpenFile(full, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o600)
		if errors.Is(err, fs.ErrExist) {
			continue
		}
		if err != nil {
			return "", fmt.Errorf("%w: %v", ErrFileSink, err)
		}

		if _, err := f.Write(p.Data); err != nil {
			f.Close()
			os.Remove(full)
			return "", fmt.Errorf("%w: write %s: %v", ErrFileSink, full, err)
		}
		if err := f.Close(); err != nil {
			os.Remove(full)
			return "", fmt.Errorf("%w: close %s: %v", ErrFileSink, full, err)
		}

		if abs, err := filepath.Abs(full); err == nil {
			full = abs
		}
		appLog.Info("ics file written", "path", full, "bytes", len(p.Data))
		return full, nil
	}

	return "", fmt.Errorf("%w: no free file name for %s after %d attempts", ErrFileSink, base, maxSuffix)
}
