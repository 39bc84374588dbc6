// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

// Package ingest runs every source adapter over every topic and stages the
// results. Adapter failures are logged and absorbed.
package ingest

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/pdiddy/consequence-pipeline/internal/sources"
	"github.com/pdiddy/consequence-pipeline/pkg/types"
)

// Coordinator iterates topics in order and, for each, calls the adapters
// in the order given.
type Coordinator struct {
	Adapters   []sources.Adapter
	Topics     []string
	WindowDays int

	// Now returns the reference time for the window; nil uses time.Now.
	Now    func() time.Time
	Logger *slog.Logger
}

// Summary holds ingestion counts.
type Summary struct {
	Total     int            `json:"total" yaml:"total"`
	PerSource map[string]int `json:"per_source" yaml:"per_source"`
	Errors    []string       `json:"errors,omitempty" yaml:"errors,omitempty"`
}

// Run stages articles from every adapter for every topic into sink.
func (c *Coordinator) Run(ctx context.Context, sink sources.Sink) Summary {
	logger := c.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "ingest")

	now := time.Now
	if c.Now != nil {
		now = c.Now
	}
	window := types.TrailingWindow(now(), c.WindowDays)

	sum := Summary{PerSource: make(map[string]int, len(c.Adapters))}
	for _, a := range c.Adapters {
		sum.PerSource[a.Name()] = 0
	}

	for _, topic := range c.Topics {
		logger.Info("processing topic", "topic", topic)
		for _, a := range c.Adapters {
			if err := ctx.Err(); err != nil {
				sum.Errors = append(sum.Errors, fmt.Sprintf("ingestion interrupted: %v", err))
				return sum
			}

			n, err := a.Fetch(ctx, sink, sources.Request{Topic: topic, Window: window})
			sum.Total += n
			sum.PerSource[a.Name()] += n
			if err != nil {
				msg := fmt.Sprintf("%s %q: %v", a.Name(), topic, err)
				sum.Errors = append(sum.Errors, msg)
				logger.Warn("adapter reported errors", "source", a.Name(), "topic", topic, "added", n, "error", err)
			}
		}
	}

	logger.Info("ingestion complete", "total", sum.Total, "per_source", sum.PerSource, "errors", len(sum.Errors))
	return sum
}
