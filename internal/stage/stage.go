// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

// Package stage advances staged articles through the language-model
// stages. A Processor decides what happens to one record; the Driver
// loads the records at the processor's input stage, retries failures and
// writes the outcome back to the store.
package stage

import (
	"context"
	"errors"
	"fmt"

	"github.com/pdiddy/consequence-pipeline/internal/oracle"
	"github.com/pdiddy/consequence-pipeline/internal/staging"
	"github.com/pdiddy/consequence-pipeline/pkg/types"
)

// Outcome is what a processor decided for one record.
type Outcome int

const (
	// Advanced moves the record to the next stage with its outputs.
	Advanced Outcome = iota + 1
	// Dropped leaves the record where it is; it will not be published.
	Dropped
	// Failed means the attempt errored and may be retried.
	Failed
)

func (o Outcome) String() string {
	switch o {
	case Advanced:
		return "advanced"
	case Dropped:
		return "dropped"
	case Failed:
		return "failed"
	}
	return fmt.Sprintf("outcome(%d)", int(o))
}

// Result is a processor's verdict on one record.
type Result struct {
	Outcome Outcome
	Updates staging.Updates
	Reason  string
	Err     error
}

// Advance returns an Advanced result carrying u. The driver sets the stage.
func Advance(u staging.Updates) Result {
	return Result{Outcome: Advanced, Updates: u}
}

// Drop returns a Dropped result that writes nothing.
func Drop(reason string) Result {
	return Result{Outcome: Dropped, Reason: reason}
}

// Fail returns a Failed result. A nil err is replaced by a generic one.
func Fail(err error) Result {
	if err == nil {
		err = errors.New("unspecified failure")
	}
	return Result{Outcome: Failed, Err: err, Reason: err.Error()}
}

// Processor is one language-model stage.
type Processor interface {
	Name() string
	// Input is the stage the processor reads. Its output is Input().Next().
	Input() types.Stage
	// Eligible reports whether a record at the input stage should be
	// processed at all. Ineligible records stay where they are.
	Eligible(rec types.ArticleRecord) bool
	Process(ctx context.Context, rec types.ArticleRecord) Result
}

// Store is the part of the staging store the driver needs.
type Store interface {
	RecordsAtStage(ctx context.Context, stage types.Stage, limit int) ([]types.ArticleRecord, error)
	Update(ctx context.Context, id int64, expect types.Stage, u staging.Updates) error
}

// Summary holds counts from one processor run.
type Summary struct {
	Name       string      `json:"name" yaml:"name"`
	Input      types.Stage `json:"input" yaml:"input"`
	Loaded     int         `json:"loaded" yaml:"loaded"`
	Ineligible int         `json:"ineligible" yaml:"ineligible"`
	Advanced   int         `json:"advanced" yaml:"advanced"`
	Dropped    int         `json:"dropped" yaml:"dropped"`
	Failed     int         `json:"failed" yaml:"failed"`
}

// HasFailures reports whether any record failed.
func (s Summary) HasFailures() bool {
	return s.Failed > 0
}

// Processors returns the four stages in pipeline order.
func Processors(o oracle.Oracle, cfg types.StagesConfig, domains []string) []Processor {
	return []Processor{
		&TitleClassifier{Oracle: o, Domains: domains},
		&ContentFilter{Oracle: o, MaxChars: cfg.MaxContentChars},
		&Summarizer{Oracle: o, MaxChars: cfg.MaxContentChars},
		&AspectClassifier{Oracle: o, MaxChars: cfg.MaxAspectChars},
	}
}
