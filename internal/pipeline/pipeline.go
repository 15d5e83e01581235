// Package pipeline runs descriptions through extraction, calendar building,
// file output and the system handoff, isolating failures per description and
// per event.
package pipeline

import (
	"context"
	"errors"
	"strings"
	"time"

	"nlcal/internal/extract"
	"nlcal/internal/ics"
	appLog "nlcal/internal/log"
	"nlcal/internal/metrics"
	"nlcal/internal/model"
	"nlcal/internal/opener"
)

// Extractor interprets one description relative to a reference time.
type Extractor interface {
	Extract(ctx context.Context, description string, ref time.Time) (extract.Result, error)
}

// Builder serializes one event.
type Builder interface {
	Build(ev model.Event) (ics.Payload, error)
}

// Sink persists a payload and returns where it went.
type Sink interface {
	Write(p ics.Payload) (string, error)
}

// Pipeline wires the stages together. Sink may be nil, in which case
// payloads are built and reported but not written or opened.
type Pipeline struct {
	extractor Extractor
	builder   Builder
	sink      Sink
	opener    opener.Opener
	metrics   *metrics.Metrics
	now       func() time.Time
	loc       *time.Location
}

// Option configures a Pipeline.
type Option func(*Pipeline)

// WithOpener sets the handoff target. The default is opener.Noop.
func WithOpener(o opener.Opener) Option {
	return func(p *Pipeline) {
		if o != nil {
			p.opener = o
		}
	}
}

// WithMetrics records counters and latencies on m.
func WithMetrics(m *metrics.Metrics) Option {
	return func(p *Pipeline) { p.metrics = m }
}

// WithClock sets the source of the reference time used by Run.
func WithClock(now func() time.Time) Option {
	return func(p *Pipeline) {
		if now != nil {
			p.now = now
		}
	}
}

// WithLocation sets the zone the reference time is expressed in.
func WithLocation(loc *time.Location) Option {
	return func(p *Pipeline) {
		if loc != nil {
			p.loc = loc
		}
	}
}

// New returns a Pipeline.
func New(x Extractor, b Builder, s Sink, opts ...Option) *Pipeline {
	p := &Pipeline{
		extractor: x,
		builder:   b,
		sink:      s,
		opener:    opener.Noop{},
		now:       time.Now,
		loc:       time.Local,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Run processes descriptions with the current time as reference.
func (p *Pipeline) Run(ctx context.Context, descriptions []string) Report {
	return p.RunAt(ctx, descriptions, p.now().In(p.loc))
}

// RunAt processes descriptions strictly in order. Blank entries are
// skipped. A failed description is recorded and the batch continues.
func (p *Pipeline) RunAt(ctx context.Context, descriptions []string, ref time.Time) Report {
	var rep Report
	for _, d := range descriptions {
		d = strings.TrimSpace(d)
		if d == "" {
			continue
		}
		if err := ctx.Err(); err != nil {
			rep.Items = append(rep.Items, Item{Description: d, Err: err})
			p.metrics.DescriptionProcessed(false)
			continue
		}
		item := p.runOne(ctx, d, ref)
		p.metrics.DescriptionProcessed(item.Err == nil)
		rep.Items = append(rep.Items, item)
	}
	return rep
}

func (p *Pipeline) runOne(ctx context.Context, description string, ref time.Time) Item {
	item := Item{Description: description}

	start := time.Now()
	res, err := p.extractor.Extract(ctx, description, ref)
	p.metrics.ObserveExtract(time.Since(start))
	if err != nil {
		appLog.Error("extraction failed", err, "description", description)
		item.Err = err
		return item
	}

	item.Rejected = len(res.Rejected)
	p.metrics.Rejected(item.Rejected)

	for _, ev := range res.Events {
		item.Events = append(item.Events, p.emit(ctx, ev))
	}
	return item
}

func (p *Pipeline) emit(ctx context.Context, ev model.Event) Outcome {
	out := Outcome{Event: ev}

	payload, err := p.builder.Build(ev)
	if err != nil {
		appLog.Error("skip event", err, "name", ev.Name, "start_date", ev.StartDate)
		p.metrics.EventOutcome(metrics.OutcomeBuildError)
		out.Err = err
		return out
	}
	out.Payload = payload

	if p.sink == nil {
		p.metrics.EventOutcome(metrics.OutcomeBuilt)
		return out
	}

	path, err := p.sink.Write(payload)
	if err != nil {
		appLog.Error("write event", err, "name", ev.Name)
		p.metrics.EventOutcome(metrics.OutcomeSinkError)
		out.Err = err
		return out
	}
	out.Path = path
	p.metrics.EventOutcome(metrics.OutcomeWritten)

	if err := p.opener.Open(ctx, path); err != nil {
		appLog.Warn("calendar handoff failed, import the file manually", err, "path", path)
		p.metrics.HandoffFailed()
		out.Warning = err
	}
	return out
}

// IsHandoff reports whether err came from the system opener.
func IsHandoff(err error) bool {
	return errors.Is(err, opener.ErrHandoff)
}
