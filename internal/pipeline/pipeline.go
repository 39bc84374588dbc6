// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

// Package pipeline runs one end-to-end pass: open a fresh staging store,
// ingest, advance records through every stage, publish the survivors and
// destroy the staging store on every exit path.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/pdiddy/consequence-pipeline/internal/ingest"
	"github.com/pdiddy/consequence-pipeline/internal/publish"
	"github.com/pdiddy/consequence-pipeline/internal/sources"
	"github.com/pdiddy/consequence-pipeline/internal/stage"
	"github.com/pdiddy/consequence-pipeline/internal/staging"
	"github.com/pdiddy/consequence-pipeline/pkg/types"
)

// ErrRunInProgress is returned when Run is called while another run on the
// same Runner has not finished.
var ErrRunInProgress = errors.New("pipeline run already in progress")

// Staging is the run-scoped store. *staging.Store implements it.
type Staging interface {
	sources.Sink
	stage.Store
	FinalRecords(ctx context.Context) ([]types.ArticleRecord, error)
	Count(ctx context.Context) (map[types.Stage]int, error)
	Destroy() error
}

var _ Staging = (*staging.Store)(nil)

// OpenStaging returns an opener for a fresh SQLite staging store.
func OpenStaging(cfg types.StagingConfig, logger *slog.Logger) func(context.Context) (Staging, error) {
	return func(ctx context.Context) (Staging, error) {
		s, err := staging.Open(ctx, cfg, logger)
		if err != nil {
			return nil, err
		}
		return s, nil
	}
}

// Runner holds everything one run needs. A Runner may be reused; runs on
// the same Runner never overlap.
type Runner struct {
	OpenStaging func(ctx context.Context) (Staging, error)
	Ingest      *ingest.Coordinator
	Processors  []stage.Processor
	Publisher   *publish.Syncer

	// MaxAttempts and Backoff configure the stage driver.
	MaxAttempts int
	Backoff     time.Duration

	Logger *slog.Logger

	mu sync.Mutex
}

// Report describes one finished run.
type Report struct {
	RunID     string              `json:"run_id" yaml:"run_id"`
	StartedAt time.Time           `json:"started_at" yaml:"started_at"`
	Duration  time.Duration       `json:"duration" yaml:"duration"`
	Ingest    ingest.Summary      `json:"ingest" yaml:"ingest"`
	Stages    []stage.Summary     `json:"stages" yaml:"stages"`
	Final     int                 `json:"final" yaml:"final"`
	Publish   publish.Result      `json:"publish" yaml:"publish"`
	Counts    map[types.Stage]int `json:"counts,omitempty" yaml:"counts,omitempty"`
}

// Message is the one-line summary returned by the HTTP trigger.
func (r Report) Message() string {
	return fmt.Sprintf("Pipeline run %s completed: ingested %d, classified %d, uploaded %d, skipped %d, failed %d",
		r.RunID, r.Ingest.Total, r.Final, r.Publish.Uploaded, r.Publish.Skipped, r.Publish.Failed)
}

// Run executes one pass. Errors opening staging, loading a stage batch or
// reading the final records end the run; per-item failures only show up
// in the report.
func (r *Runner) Run(ctx context.Context) (rep Report, err error) {
	if !r.mu.TryLock() {
		return Report{}, ErrRunInProgress
	}
	defer r.mu.Unlock()

	rep = Report{RunID: uuid.NewString(), StartedAt: time.Now()}
	logger := r.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("run_id", rep.RunID)
	defer func() { rep.Duration = time.Since(rep.StartedAt) }()

	if r.OpenStaging == nil {
		return rep, errors.New("no staging store configured")
	}
	st, err := r.OpenStaging(ctx)
	if err != nil {
		return rep, fmt.Errorf("opening staging store: %w", err)
	}
	defer func() {
		if derr := st.Destroy(); derr != nil {
			logger.Warn("destroying staging store", "error", derr)
		}
	}()
	logger.Info("run started")

	if r.Ingest != nil {
		rep.Ingest = r.Ingest.Run(ctx, st)
	}

	driver := &stage.Driver{Store: st, MaxAttempts: r.MaxAttempts, Backoff: r.Backoff, Logger: logger}
	for _, p := range r.Processors {
		sum, err := driver.Run(ctx, p)
		rep.Stages = append(rep.Stages, sum)
		if err != nil {
			return rep, fmt.Errorf("stage %s: %w", p.Name(), err)
		}
	}

	final, err := st.FinalRecords(ctx)
	if err != nil {
		return rep, fmt.Errorf("reading final records: %w", err)
	}
	rep.Final = len(final)

	if r.Publisher != nil {
		rep.Publish = r.Publisher.Sync(ctx, final)
	}

	if counts, err := st.Count(ctx); err == nil {
		rep.Counts = counts
	} else {
		logger.Warn("counting staged records", "error", err)
	}

	if err := ctx.Err(); err != nil {
		return rep, err
	}
	logger.Info("run finished",
		"ingested", rep.Ingest.Total, "final", rep.Final,
		"uploaded", rep.Publish.Uploaded, "skipped", rep.Publish.Skipped, "failed", rep.Publish.Failed)
	return rep, nil
}
