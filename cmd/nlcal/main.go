package main

import (
	"bufio"
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"sync"
	"syscall"

	"nlcal/internal/config"
	"nlcal/internal/extract"
	"nlcal/internal/ics"
	"nlcal/internal/inbox"
	appLog "nlcal/internal/log"
	"nlcal/internal/metrics"
	"nlcal/internal/opener"
	"nlcal/internal/pipeline"
	"nlcal/internal/sink"
	"nlcal/internal/web"
)

const version = "0.1.0"

// flagConfig holds CLI flag values; non-empty values override the config file.
type flagConfig struct {
	configPath string
	listen     string
	outDir     string
	noOpen     bool
	jsonOut    bool
	inspect    string
	watch      bool
	serve      bool
}

func main() {
	flags := parseFlags()

	conf, err := config.Load(flags.configPath)
	if err != nil {
		appLog.Error("failed to load config", err, "config_path", flags.configPath)
		os.Exit(1)
	}
	applyFlags(conf, flags)

	if lvl, err := appLog.ParseLevel(conf.LogLevel); err == nil {
		appLog.SetLevel(lvl)
	} else {
		appLog.Warn("unknown log level, keeping default", err, "log_level", conf.LogLevel)
	}

	appLog.Debug("effective config",
		"listen", conf.Listen,
		"timezone", conf.Timezone,
		"output_dir", conf.OutputDir,
		"open_files", conf.OpenFiles,
		"model", conf.LLM.Model,
		"inbox_dir", conf.Inbox.Dir,
		"serve", flags.serve,
		"watch", flags.watch,
	)

	if flags.inspect != "" {
		if err := inspect(os.Stdout, flags.inspect); err != nil {
			appLog.Error("inspect failed", err, "file", flags.inspect)
			os.Exit(1)
		}
		return
	}

	// Root context with cancellation on SIGINT/SIGTERM.
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx, conf, flags); err != nil {
		appLog.Error("nlcal failed", err)
		os.Exit(1)
	}
}

func parseFlags() flagConfig {
	var cfg flagConfig

	flag.StringVar(&cfg.configPath, "config", defaultConfigPath(), "Path to config file")
	flag.StringVar(&cfg.listen, "listen", "", "HTTP listen address (overrides config if set)")
	flag.StringVar(&cfg.outDir, "out", "", "Directory for generated .ics files (overrides config if set)")
	flag.BoolVar(&cfg.noOpen, "no-open", false, "Write files but do not hand them to the calendar application")
	flag.BoolVar(&cfg.jsonOut, "json", false, "Print the extracted events as JSON")
	flag.StringVar(&cfg.inspect, "inspect", "", "Print the events of an existing .ics file and exit")
	flag.BoolVar(&cfg.watch, "watch", false, "Convert *.txt files dropped into inbox.dir on its schedule")
	flag.BoolVar(&cfg.serve, "serve", false, "Serve the HTTP API")

	flag.Parse()

	return cfg
}

func defaultConfigPath() string {
	dir, err := os.UserConfigDir()
	if err != nil {
		return "nlcal.yaml"
	}
	return filepath.Join(dir, "nlcal", "config.yaml")
}

func applyFlags(conf *config.Config, f flagConfig) {
	if f.listen != "" {
		conf.Listen = f.listen
	}
	if f.outDir != "" {
		conf.OutputDir = f.outDir
	}
	if f.noOpen {
		conf.OpenFiles = false
	}
}

func newExtractor(conf *config.Config) (*extract.Extractor, error) {
	gen, err := extract.NewOpenAIGenerator(extract.OpenAIConfig{
		APIKey:      conf.LLM.APIKey,
		BaseURL:     conf.LLM.BaseURL,
		Model:       conf.LLM.Model,
		Temperature: conf.LLM.Temperature,
		Timeout:     conf.LLM.Timeout(),
	})
	if err != nil {
		if errors.Is(err, extract.ErrMissingAPIKey) {
			return nil, fmt.Errorf("%w: set NLCAL_API_KEY or llm.api_key", err)
		}
		return nil, err
	}
	return extract.New(gen), nil
}

func run(ctx context.Context, conf *config.Config, flags flagConfig) error {
	x, err := newExtractor(conf)
	if err != nil {
		return err
	}
	b := ics.NewBuilder(ics.WithProductID(conf.ProductID))
	out := sink.New(conf.OutputDir)
	appLog.Info("writing calendars", "dir", out.Path())
	m := metrics.New()

	var op opener.Opener = opener.Noop{}
	if conf.OpenFiles {
		op = opener.System()
	}
	common := []pipeline.Option{pipeline.WithMetrics(m), pipeline.WithLocation(conf.Location())}

	if !flags.serve && !flags.watch {
		p := pipeline.New(x, b, out, append(common, pipeline.WithOpener(op))...)
		return convert(ctx, p, flags, os.Stdout)
	}

	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		errs []error
	)
	spawn := func(name string, fn func() error) {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := fn(); err != nil {
				mu.Lock()
				errs = append(errs, fmt.Errorf("%s: %w", name, err))
				mu.Unlock()
			}
		}()
	}

	if flags.serve {
		// Files requested over HTTP are returned to the caller, not opened
		// on the server's desktop.
		p := pipeline.New(x, b, out, common...)
		srv := web.NewServer(conf, p, b, m)
		spawn("http", func() error { return web.StartServer(ctx, conf, srv) })
	}
	if flags.watch {
		if conf.Inbox.Dir == "" {
			return errors.New("-watch needs inbox.dir in the config file")
		}
		p := pipeline.New(x, b, out, append(common, pipeline.WithOpener(op))...)
		w, err := inbox.New(conf.Inbox.Dir, conf.Inbox.Schedule, p)
		if err != nil {
			return err
		}
		spawn("inbox", func() error { return w.Start(ctx) })
	}

	wg.Wait()
	appLog.Info("nlcal exiting")
	return errors.Join(errs...)
}

// convert handles the one-shot mode: descriptions come from the arguments
// or, when there are none, from stdin one per line.
func convert(ctx context.Context, p *pipeline.Pipeline, flags flagConfig, w io.Writer) error {
	descriptions := flag.Args()
	if len(descriptions) == 0 {
		lines, err := readLines(os.Stdin)
		if err != nil {
			return fmt.Errorf("read stdin: %w", err)
		}
		descriptions = lines
	}
	if len(descriptions) == 0 {
		return errors.New("no descriptions given")
	}

	rep := p.Run(ctx, descriptions)
	printReport(w, rep)

	if flags.jsonOut {
		data, err := rep.JSON()
		if err != nil {
			return err
		}
		_, _ = w.Write(data)
	}
	if rep.Failed() {
		return errors.New("no description could be converted")
	}
	return nil
}

func readLines(r io.Reader) ([]string, error) {
	var out []string
	sc := bufio.NewScanner(r)
	for sc.Scan() {
		if line := strings.TrimSpace(sc.Text()); line != "" {
			out = append(out, line)
		}
	}
	return out, sc.Err()
}

func printReport(w io.Writer, rep pipeline.Report) {
	for _, it := range rep.Items {
		fmt.Fprintf(w, "» %s\n", it.Description)
		if it.Err != nil {
			fmt.Fprintf(w, "  error: %v\n", it.Err)
			continue
		}
		if len(it.Events) == 0 {
			fmt.Fprintln(w, "  no events found")
		}
		for _, o := range it.Events {
			switch {
			case o.Err != nil:
				fmt.Fprintf(w, "  ✗ %s (%s): %v\n", o.Event.Name, o.Event.StartDate, o.Err)
			case o.Warning != nil:
				fmt.Fprintf(w, "  ✓ %s (%s) → %s (open it manually: %v)\n", o.Event.Name, o.Event.StartDate, o.Path, o.Warning)
			default:
				fmt.Fprintf(w, "  ✓ %s (%s) → %s\n", o.Event.Name, o.Event.StartDate, o.Path)
			}
		}
		if it.Rejected > 0 {
			fmt.Fprintf(w, "  %d malformed candidate(s) skipped\n", it.Rejected)
		}
	}
}

// inspect prints the events of an existing calendar file together with
// the first occurrences of recurring ones.
func inspect(w io.Writer, path string) error {
	body, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	events, err := ics.ParseICS(body)
	if err != nil {
		return err
	}

	const previewOccurrences = 5
	for _, ev := range events {
		fmt.Fprintf(w, "%s\n", ev.Summary)
		fmt.Fprintf(w, "  uid:   %s\n", ev.UID)
		if ev.AllDay {
			fmt.Fprintf(w, "  when:  %s - %s (all day, end exclusive)\n", ev.Start.Format("2006-01-02"), ev.End.Format("2006-01-02"))
		} else {
			fmt.Fprintf(w, "  when:  %s - %s\n", ev.Start.Format("2006-01-02 15:04 MST"), ev.End.Format("2006-01-02 15:04 MST"))
		}
		if ev.Location != "" {
			fmt.Fprintf(w, "  where: %s\n", ev.Location)
		}
		for _, a := range ev.Attendees {
			fmt.Fprintf(w, "  with:  %s\n", a)
		}
		if ev.Description != "" {
			fmt.Fprintf(w, "  notes: %s\n", ev.Description)
		}
		if ev.RawRRule != "" {
			fmt.Fprintf(w, "  rule:  %s\n", ev.RawRRule)
			occ, err := ics.Occurrences(ev, previewOccurrences)
			if err != nil {
				fmt.Fprintf(w, "  rule error: %v\n", err)
				continue
			}
			for _, t := range occ {
				fmt.Fprintf(w, "    - %s\n", t.Format("Mon 2006-01-02 15:04"))
			}
		}
	}
	return nil
}
