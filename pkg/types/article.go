// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package types

import (
	"fmt"
	"strings"
	"time"
)

// Stage is an article's position in the processing sequence. The zero value
// is not a valid stage.
type Stage uint8

const (
	StageUnknown Stage = iota
	StageScraped
	StageTitleFiltered
	StageContentFiltered
	StageSummarized
	StageClassified
)

var stageNames = [...]string{
	StageUnknown:         "",
	StageScraped:         "scraped",
	StageTitleFiltered:   "title_filtered",
	StageContentFiltered: "content_filtered",
	StageSummarized:      "summarized",
	StageClassified:      "classified",
}

// successors is the complete transition table. Every stage has at most one
// successor and StageClassified is terminal.
var successors = [...]Stage{
	StageUnknown:         StageUnknown,
	StageScraped:         StageTitleFiltered,
	StageTitleFiltered:   StageContentFiltered,
	StageContentFiltered: StageSummarized,
	StageSummarized:      StageClassified,
	StageClassified:      StageUnknown,
}

// Stages lists all valid stages in processing order.
func Stages() []Stage {
	return []Stage{StageScraped, StageTitleFiltered, StageContentFiltered, StageSummarized, StageClassified}
}

// String returns the stored name of the stage.
func (s Stage) String() string {
	if int(s) >= len(stageNames) {
		return fmt.Sprintf("stage(%d)", uint8(s))
	}
	return stageNames[s]
}

// Valid reports whether s is one of the five pipeline stages.
func (s Stage) Valid() bool {
	return s > StageUnknown && int(s) < len(stageNames)
}

// Next returns the successor of s. ok is false for the terminal stage and
// for invalid stages.
func (s Stage) Next() (next Stage, ok bool) {
	if !s.Valid() {
		return StageUnknown, false
	}
	next = successors[s]
	return next, next != StageUnknown
}

// CanTransition reports whether a record at from may move to to. Only a
// single step forward is allowed.
func CanTransition(from, to Stage) bool {
	next, ok := from.Next()
	return ok && next == to
}

// ParseStage converts a stored stage name back into a Stage.
func ParseStage(name string) (Stage, error) {
	for i, n := range stageNames {
		if n != "" && n == name {
			return Stage(i), nil
		}
	}
	return StageUnknown, fmt.Errorf("unknown processing stage %q", name)
}

// MarshalText implements encoding.TextMarshaler.
func (s Stage) MarshalText() ([]byte, error) {
	if !s.Valid() {
		return nil, fmt.Errorf("invalid stage %d", uint8(s))
	}
	return []byte(s.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (s *Stage) UnmarshalText(b []byte) error {
	parsed, err := ParseStage(string(b))
	if err != nil {
		return err
	}
	*s = parsed
	return nil
}

// TitleLabel is the verdict of the title relevance classifier.
type TitleLabel string

const (
	LabelIrrelevant TitleLabel = "LABEL_0_irrelevant"
	LabelRelevant   TitleLabel = "LABEL_1_relevant"
)

// ParseTitleLabel accepts only the two known labels.
func ParseTitleLabel(s string) (TitleLabel, error) {
	switch TitleLabel(strings.TrimSpace(s)) {
	case LabelIrrelevant:
		return LabelIrrelevant, nil
	case LabelRelevant:
		return LabelRelevant, nil
	}
	return "", fmt.Errorf("unknown title label %q", s)
}

// NoConsequence is the sentinel the summarizer returns when an article
// describes no undesirable consequence.
const NoConsequence = "NO_CONSEQUENCE"

// IsNoConsequence reports whether s carries the sentinel anywhere, ignoring case.
func IsNoConsequence(s string) bool {
	return strings.Contains(strings.ToUpper(s), NoConsequence)
}

// ArticleRecord is one staged article. URL is unique within a run. The
// pointer fields stay nil until the processor that owns them has run.
type ArticleRecord struct {
	ID          int64  `json:"id" yaml:"id"`
	URL         string `json:"url" yaml:"url"`
	Title       string `json:"title" yaml:"title"`
	Text        string `json:"text" yaml:"text"`
	Source      string `json:"source" yaml:"source"`
	Sector      string `json:"sector" yaml:"sector"`
	PublishedAt string `json:"published_at,omitempty" yaml:"published_at,omitempty"`

	RelevanceLabel      *TitleLabel `json:"relevance_label,omitempty" yaml:"relevance_label,omitempty"`
	RelevanceScore      *float64    `json:"relevance_score,omitempty" yaml:"relevance_score,omitempty"`
	ContentFilterAnswer *string     `json:"content_filter_answer,omitempty" yaml:"content_filter_answer,omitempty"`
	ConsequenceSummary  *string     `json:"consequence_summary,omitempty" yaml:"consequence_summary,omitempty"`
	AspectLabel         *Aspect     `json:"aspect_label,omitempty" yaml:"aspect_label,omitempty"`

	Stage     Stage     `json:"processing_stage" yaml:"processing_stage"`
	CreatedAt time.Time `json:"created_at" yaml:"created_at"`
}

// Ready checks that r carries every output required to sit at stage to.
func (r ArticleRecord) Ready(to Stage) error {
	switch to {
	case StageScraped:
		return nil
	case StageTitleFiltered:
		if r.RelevanceLabel == nil || r.RelevanceScore == nil {
			return fmt.Errorf("%s requires a relevance label and score", to)
		}
	case StageContentFiltered:
		if r.ContentFilterAnswer == nil {
			return fmt.Errorf("%s requires a content filter answer", to)
		}
	case StageSummarized:
		if r.ConsequenceSummary == nil || strings.TrimSpace(*r.ConsequenceSummary) == "" {
			return fmt.Errorf("%s requires a consequence summary", to)
		}
		if IsNoConsequence(*r.ConsequenceSummary) {
			return fmt.Errorf("%s cannot hold a %s summary", to, NoConsequence)
		}
	case StageClassified:
		if err := r.Ready(StageSummarized); err != nil {
			return err
		}
		if r.AspectLabel == nil {
			return fmt.Errorf("%s requires an aspect label", to)
		}
	default:
		return fmt.Errorf("invalid stage %d", uint8(to))
	}
	return nil
}

// Window is an inclusive publication date range.
type Window struct {
	From time.Time
	To   time.Time
}

// TrailingWindow returns the window covering the days before now.
func TrailingWindow(now time.Time, days int) Window {
	if days <= 0 {
		days = 7
	}
	return Window{From: now.AddDate(0, 0, -days), To: now}
}

// Contains reports whether t falls inside the window.
func (w Window) Contains(t time.Time) bool {
	return !t.Before(w.From) && !t.After(w.To)
}
