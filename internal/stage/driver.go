// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package stage

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/pdiddy/consequence-pipeline/pkg/types"
)

const defaultMaxAttempts = 2

// Driver runs processors against the staging store.
type Driver struct {
	Store Store

	// MaxAttempts is the number of tries per record for Failed results.
	// Zero uses the default (2).
	MaxAttempts int

	// Backoff is the pause between attempts on the same record.
	Backoff time.Duration

	Logger *slog.Logger
}

// Run loads every record at p.Input() in insertion order and applies p to
// it. Only a failure to load the batch, or cancellation, is returned as an
// error; per-record failures are counted and the batch continues.
func (d *Driver) Run(ctx context.Context, p Processor) (Summary, error) {
	logger := d.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "stage", "processor", p.Name())

	input := p.Input()
	next, ok := input.Next()
	if !ok {
		return Summary{}, fmt.Errorf("%s: stage %s has no successor", p.Name(), input)
	}

	sum := Summary{Name: p.Name(), Input: input}

	records, err := d.Store.RecordsAtStage(ctx, input, 0)
	if err != nil {
		return sum, fmt.Errorf("%s: loading %s records: %w", p.Name(), input, err)
	}
	sum.Loaded = len(records)
	logger.Info("processing", "stage", input, "records", len(records))

	for _, rec := range records {
		if err := ctx.Err(); err != nil {
			return sum, err
		}
		if !p.Eligible(rec) {
			sum.Ineligible++
			continue
		}

		res := d.attempt(ctx, p, rec, logger)

		switch res.Outcome {
		case Advanced:
			u := res.Updates
			u.Stage = next
			if err := d.Store.Update(ctx, rec.ID, input, u); err != nil {
				logger.Warn("advancing record failed", "id", rec.ID, "url", rec.URL, "error", err)
				sum.Failed++
				continue
			}
			sum.Advanced++
		case Dropped:
			u := res.Updates
			u.Stage = types.StageUnknown
			if !u.Empty() {
				if err := d.Store.Update(ctx, rec.ID, input, u); err != nil {
					logger.Warn("recording dropped outputs failed", "id", rec.ID, "error", err)
				}
			}
			logger.Debug("dropped", "id", rec.ID, "url", rec.URL, "reason", res.Reason)
			sum.Dropped++
		default:
			logger.Warn("record failed", "id", rec.ID, "url", rec.URL, "error", res.Err)
			sum.Failed++
		}
	}

	logger.Info("stage complete",
		"advanced", sum.Advanced, "dropped", sum.Dropped,
		"failed", sum.Failed, "ineligible", sum.Ineligible)
	return sum, nil
}

// attempt calls p.Process until it returns something other than Failed or
// the attempts run out.
func (d *Driver) attempt(ctx context.Context, p Processor, rec types.ArticleRecord, logger *slog.Logger) Result {
	maxAttempts := d.MaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = defaultMaxAttempts
	}

	var res Result
	for i := 0; i < maxAttempts; i++ {
		if i > 0 {
			logger.Debug("retrying record", "id", rec.ID, "attempt", i+1, "error", res.Err)
			select {
			case <-ctx.Done():
				return Fail(ctx.Err())
			case <-time.After(d.Backoff):
			}
		}
		res = safeProcess(ctx, p, rec)
		if res.Outcome != Failed {
			return res
		}
	}
	return res
}

// safeProcess turns a panic inside a processor into a Failed result.
func safeProcess(ctx context.Context, p Processor, rec types.ArticleRecord) (res Result) {
	defer func() {
		if r := recover(); r != nil {
			res = Fail(fmt.Errorf("%s panicked: %v", p.Name(), r))
		}
	}()
	res = p.Process(ctx, rec)
	if res.Outcome == 0 {
		res = Fail(fmt.Errorf("%s returned no outcome", p.Name()))
	}
	if res.Outcome == Failed && res.Err == nil {
		res.Err = fmt.Errorf("%s failed: %s", p.Name(), res.Reason)
	}
	return res
}
