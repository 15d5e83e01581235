// Package inbox converts text files dropped into a directory. Every line
// of a "*.txt" file is one description; the file is renamed to ".done" or
// ".failed" once its batch has run.
package inbox

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/robfig/cron/v3"

	appLog "nlcal/internal/log"
	"nlcal/internal/pipeline"
)

const (
	pendingExt = ".txt"
	doneExt    = ".done"
	failedExt  = ".failed"
)

// Runner runs one batch of descriptions.
type Runner interface {
	Run(ctx context.Context, descriptions []string) pipeline.Report
}

// Watcher scans Dir on a cron schedule.
type Watcher struct {
	dir      string
	schedule cron.Schedule
	spec     string
	runner   Runner

	mu sync.Mutex
}

// New validates the cron expression and returns a Watcher.
func New(dir, spec string, runner Runner) (*Watcher, error) {
	if dir == "" {
		return nil, errors.New("inbox: directory is required")
	}
	sched, err := cron.ParseStandard(spec)
	if err != nil {
		return nil, fmt.Errorf("inbox: schedule %q: %w", spec, err)
	}
	return &Watcher{dir: dir, schedule: sched, spec: spec, runner: runner}, nil
}

// Scan processes every pending file once, in name order, and returns
// the number of files handled.
func (w *Watcher) Scan(ctx context.Context) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	matches, err := filepath.Glob(filepath.Join(w.dir, "*"+pendingExt))
	if err != nil {
		return 0, err
	}
	sort.Strings(matches)

	n := 0
	for _, path := range matches {
		if ctx.Err() != nil {
			return n, ctx.Err()
		}
		if err := w.process(ctx, path); err != nil {
			if ctx.Err() != nil {
				appLog.Info("inbox scan interrupted, file left for the next scan", "path", path)
				return n, ctx.Err()
			}
			appLog.Error("inbox file", err, "path", path)
			continue
		}
		n++
	}
	return n, nil
}

func (w *Watcher) process(ctx context.Context, path string) error {
	lines, err := readLines(path)
	if err != nil {
		return err
	}

	rep := w.runner.Run(ctx, lines)
	if err := ctx.Err(); err != nil {
		// Lines after the cancellation were never extracted.
		return err
	}
	ok, failed := rep.Counts()

	ext := doneExt
	if rep.Failed() {
		ext = failedExt
	}
	target := strings.TrimSuffix(path, pendingExt) + ext
	if err := os.Rename(path, target); err != nil {
		return fmt.Errorf("rename: %w", err)
	}
	appLog.Info("inbox file processed", "path", path, "events", ok, "failures", failed, "moved_to", filepath.Base(target))
	return nil
}

func readLines(path string) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var out []string
	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 64*1024), 1024*1024)
	for sc.Scan() {
		if line := strings.TrimSpace(sc.Text()); line != "" {
			out = append(out, line)
		}
	}
	return out, sc.Err()
}

// Start scans on the schedule until ctx is cancelled. A scan that is still
// running when the next tick fires causes that tick to be skipped.
func (w *Watcher) Start(ctx context.Context) error {
	if err := os.MkdirAll(w.dir, 0o700); err != nil {
		return fmt.Errorf("inbox: %w", err)
	}

	c := cron.New(cron.WithChain(cron.SkipIfStillRunning(cron.DefaultLogger)))
	c.Schedule(w.schedule, cron.FuncJob(func() {
		if _, err := w.Scan(ctx); err != nil && !errors.Is(err, context.Canceled) {
			appLog.Error("inbox scan", err, "dir", w.dir)
		}
	}))
	c.Start()
	appLog.Info("inbox watcher started", "dir", w.dir, "schedule", w.spec)

	<-ctx.Done()
	<-c.Stop().Done()
	appLog.Info("inbox watcher stopped", "dir", w.dir)
	return nil
}
