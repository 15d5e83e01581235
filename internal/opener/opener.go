// Package opener hands a written calendar file to the host's default
// handler so the user's calendar application can import it.
package opener

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"
	"sync"

	appLog "nlcal/internal/log"
)

// ErrHandoff wraps failures of the OS-level open action. Callers treat it
// as a warning: the file exists and can be imported manually.
var ErrHandoff = errors.New("calendar handoff failed")

// Opener opens a file with the system default handler.
type Opener interface {
	Open(ctx context.Context, path string) error
}

// Command runs Name with Args followed by the file path.
type Command struct {
	Name string
	Args []string
}

// Open implements Opener.
func (c Command) Open(ctx context.Context, path string) error {
	args := append(append([]string{}, c.Args...), path)
	cmd := exec.CommandContext(ctx, c.Name, args...)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		msg := strings.TrimSpace(stderr.String())
		if msg != "" {
			return fmt.Errorf("%w: %s %s: %v: %s", ErrHandoff, c.Name, path, err, msg)
		}
		return fmt.Errorf("%w: %s %s: %v", ErrHandoff, c.Name, path, err)
	}
	appLog.Debug("calendar handoff", "cmd", c.Name, "path", path)
	return nil
}

// System returns the opener for the host platform.
func System() Opener {
	return systemCommand()
}

// Noop never opens anything.
type Noop struct{}

// Open does nothing and returns nil.
func (Noop) Open(context.Context, string) error { return nil }

// Recorder remembers every path it is asked to open and optionally fails.
type Recorder struct {
	// Err, if set, is returned (wrapped in ErrHandoff) from every Open.
	Err error

	mu    sync.Mutex
	paths []string
}

// Open records path and returns r.Err wrapped in ErrHandoff, if set.
func (r *Recorder) Open(_ context.Context, path string) error {
	r.mu.Lock()
	r.paths = append(r.paths, path)
	r.mu.Unlock()
	if r.Err != nil {
		return fmt.Errorf("%w: %v", ErrHandoff, r.Err)
	}
	return nil
}

// Paths returns a copy of the recorded paths.
func (r *Recorder) Paths() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.paths...)
}
