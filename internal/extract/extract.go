// Package extract turns a free-text event description into structured
// events with the help of a text-generation service.
package extract

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	appLog "nlcal/internal/log"
)

// ErrEmptyDescription is returned for blank input; no service call is made.
var ErrEmptyDescription = errors.New("empty description")

// Generator is the text-generation service boundary: one call per
// description, returning text that is expected to parse as JSON.
type Generator interface {
	Generate(ctx context.Context, system, user string) (string, error)
}

// GeneratorFunc adapts a function to Generator.
type GeneratorFunc func(ctx context.Context, system, user string) (string, error)

func (f GeneratorFunc) Generate(ctx context.Context, system, user string) (string, error) {
	return f(ctx, system, user)
}

// Extractor builds the prompt, calls the generator and validates the answer.
type Extractor struct {
	gen    Generator
	prompt func(ref time.Time) string
}

// Option configures an Extractor.
type Option func(*Extractor)

// WithPrompt replaces the default instruction builder.
func WithPrompt(f func(ref time.Time) string) Option {
	return func(x *Extractor) {
		if f != nil {
			x.prompt = f
		}
	}
}

// New returns an Extractor backed by gen.
func New(gen Generator, opts ...Option) *Extractor {
	x := &Extractor{gen: gen, prompt: BuildPrompt}
	for _, opt := range opts {
		opt(x)
	}
	return x
}

// Extract interprets description relative to ref.
//
// It fails as a whole only when the generator call fails or the answer is
// not structured data (ErrExtractionFormat). Individual candidates that do
// not fit the event model are reported in Result.Rejected. No retry is
// attempted.
func (x *Extractor) Extract(ctx context.Context, description string, ref time.Time) (Result, error) {
	description = strings.TrimSpace(description)
	if description == "" {
		return Result{}, ErrEmptyDescription
	}

	start := time.Now()
	raw, err := x.gen.Generate(ctx, x.prompt(ref), description)
	if err != nil {
		return Result{}, fmt.Errorf("extract: generate: %w", err)
	}
	appLog.Debug("generator answered", "elapsed", time.Since(start).Round(time.Millisecond), "bytes", len(raw))

	candidates, err := Normalize(raw)
	if err != nil {
		return Result{}, err
	}

	res := Validate(candidates, ref)
	appLog.Info("extraction completed",
		"candidates", len(candidates),
		"events", len(res.Events),
		"rejected", len(res.Rejected),
	)
	return res, nil
}
