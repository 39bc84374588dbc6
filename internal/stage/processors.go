// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package stage

import (
	"context"
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/pdiddy/consequence-pipeline/internal/oracle"
	"github.com/pdiddy/consequence-pipeline/internal/staging"
	"github.com/pdiddy/consequence-pipeline/pkg/types"
)

var titleSchema = oracle.MustCompileSchema("title_classification", titleSchemaSource)

// overCeiling reports whether text is longer than limit characters. A
// non-positive limit disables the check.
func overCeiling(text string, limit int) bool {
	return limit > 0 && utf8.RuneCountInString(text) > limit
}

// TitleClassifier labels every scraped title as relevant or irrelevant.
type TitleClassifier struct {
	Oracle  oracle.Oracle
	Domains []string
}

// Name implements Processor.
func (c *TitleClassifier) Name() string { return "title_classifier" }
func (c *TitleClassifier) Input() types.Stage { return types.StageScraped }
// Eligible accepts every scraped record.
func (c *TitleClassifier) Eligible(_ types.ArticleRecord) bool { return true }

// Process asks the oracle for a schema-checked label and score.
func (c *TitleClassifier) Process(ctx context.Context, rec types.ArticleRecord) Result {
	user, err := render(titlePromptTmpl, promptData{Title: rec.Title, Domains: strings.Join(c.Domains, ", ")})
	if err != nil {
		return Fail(err)
	}

	obj, err := c.Oracle.Structured(ctx, oracle.Prompt{System: titleSystemPrompt, User: user}, titleSchema)
	if err != nil {
		return Fail(err)
	}

	raw, _ := obj["label"].(string)
	label, err := types.ParseTitleLabel(raw)
	if err != nil {
		return Fail(err)
	}
	score, ok := obj["score"].(float64)
	if !ok {
		return Fail(fmt.Errorf("score is %T, want number", obj["score"]))
	}
	return Advance(staging.Updates{RelevanceLabel: &label, RelevanceScore: &score})
}

// ContentFilter asks whether the body discusses undesirable consequences
// of the record's topic. Only titles labelled relevant are considered.
type ContentFilter struct {
	Oracle   oracle.Oracle
	MaxChars int
}

func (f *ContentFilter) Name() string { return "content_filter" }
func (f *ContentFilter) Input() types.Stage { return types.StageTitleFiltered }

// Eligible accepts records whose title was labelled relevant.
func (f *ContentFilter) Eligible(rec types.ArticleRecord) bool {
	return rec.RelevanceLabel != nil && *rec.RelevanceLabel == types.LabelRelevant
}

// Process drops oversized bodies and stores the oracle's raw answer.
func (f *ContentFilter) Process(ctx context.Context, rec types.ArticleRecord) Result {
	if overCeiling(rec.Text, f.MaxChars) {
		return Drop(fmt.Sprintf("body longer than %d characters", f.MaxChars))
	}
	user, err := render(contentFilterPromptTmpl, promptData{Topic: rec.Sector, Text: rec.Text})
	if err != nil {
		return Fail(err)
	}
	answer, err := f.Oracle.Complete(ctx, oracle.Prompt{User: user})
	if err != nil {
		return Fail(err)
	}
	return Advance(staging.Updates{ContentFilterAnswer: &answer})
}

// Summarizer extracts the undesirable consequence from articles the
// content filter answered yes for.
type Summarizer struct {
	Oracle   oracle.Oracle
	MaxChars int
}

func (s *Summarizer) Name() string { return "summarizer" }
func (s *Summarizer) Input() types.Stage { return types.StageContentFiltered }

// Eligible accepts records the content filter answered yes for.
func (s *Summarizer) Eligible(rec types.ArticleRecord) bool {
	return rec.ContentFilterAnswer != nil && ParseFilterAnswer(*rec.ContentFilterAnswer) == VerdictYes
}

// Process drops oversized bodies and sentinel answers, and stores the
// summary otherwise.
func (s *Summarizer) Process(ctx context.Context, rec types.ArticleRecord) Result {
	if overCeiling(rec.Text, s.MaxChars) {
		return Drop(fmt.Sprintf("body longer than %d characters", s.MaxChars))
	}
	user, err := render(summaryPromptTmpl, promptData{Topic: rec.Sector, Text: rec.Text, Sentinel: types.NoConsequence})
	if err != nil {
		return Fail(err)
	}
	summary, err := s.Oracle.Complete(ctx, oracle.Prompt{User: user})
	if err != nil {
		return Fail(err)
	}
	if types.IsNoConsequence(summary) {
		return Drop("no consequence found")
	}
	return Advance(staging.Updates{ConsequenceSummary: &summary})
}

// AspectClassifier assigns the aspect of life the summarized consequence
// affects. The ceiling applies to the article body.
type AspectClassifier struct {
	Oracle   oracle.Oracle
	MaxChars int
}

func (a *AspectClassifier) Name() string { return "aspect_classifier" }
func (a *AspectClassifier) Input() types.Stage { return types.StageSummarized }

// Eligible accepts records with a non-empty summary.
func (a *AspectClassifier) Eligible(rec types.ArticleRecord) bool {
	return rec.ConsequenceSummary != nil && *rec.ConsequenceSummary != ""
}

// Process drops records whose body is oversized, then classifies the
// summary. An answer naming no known aspect fails the record.
func (a *AspectClassifier) Process(ctx context.Context, rec types.ArticleRecord) Result {
	if overCeiling(rec.Text, a.MaxChars) {
		return Drop(fmt.Sprintf("body longer than %d characters", a.MaxChars))
	}
	user, err := render(aspectPromptTmpl, promptData{Aspects: types.AspectList(), Text: *rec.ConsequenceSummary})
	if err != nil {
		return Fail(err)
	}
	answer, err := a.Oracle.Complete(ctx, oracle.Prompt{User: user})
	if err != nil {
		return Fail(err)
	}
	aspect, ok := ParseAspect(answer)
	if !ok {
		return Fail(fmt.Errorf("unrecognized aspect %q", answer))
	}
	return Advance(staging.Updates{AspectLabel: &aspect})
}
