// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

// Package publish copies classified articles from the staging store into
// the production store. The production store is keyed by URL: an article
// already present is skipped, never updated.
package publish

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"regexp"

	"github.com/pdiddy/consequence-pipeline/pkg/types"
)

// ErrDuplicate is returned by Insert when the URL is already stored. The
// syncer counts it as a skip.
var ErrDuplicate = errors.New("url already published")

// PublishedRecord is the production row. Field names follow the existing
// production table: magazine is the source name, label the topic query
// and sector the aspect of life.
type PublishedRecord struct {
	Title      string `json:"title" yaml:"title"`
	Text       string `json:"text" yaml:"text"`
	Magazine   string `json:"magazine" yaml:"magazine"`
	URL        string `json:"url" yaml:"url"`
	Label      string `json:"label" yaml:"label"`
	GPTSummary string `json:"gpt_summary" yaml:"gpt_summary"`
	Sector     string `json:"sector" yaml:"sector"`
	Date       string `json:"date,omitempty" yaml:"date,omitempty"`
}

// FromArticle maps a classified staging record to its production row.
func FromArticle(rec types.ArticleRecord) (PublishedRecord, error) {
	if err := rec.Ready(types.StageClassified); err != nil {
		return PublishedRecord{}, fmt.Errorf("record %d: %w", rec.ID, err)
	}
	return PublishedRecord{
		Title:      rec.Title,
		Text:       rec.Text,
		Magazine:   rec.Source,
		URL:        rec.URL,
		Label:      rec.Sector,
		GPTSummary: *rec.ConsequenceSummary,
		Sector:     string(*rec.AspectLabel),
		Date:       rec.PublishedAt,
	}, nil
}

// ProductionStore is the durable, URL-keyed article store.
type ProductionStore interface {
	Exists(ctx context.Context, url string) (bool, error)
	Insert(ctx context.Context, rec PublishedRecord) error
}

// Backend is a ProductionStore that holds resources.
type Backend interface {
	ProductionStore
	Close() error
}

// Result counts what a sync did.
type Result struct {
	Uploaded int `json:"uploaded" yaml:"uploaded"`
	Skipped  int `json:"skipped" yaml:"skipped"`
	Failed   int `json:"failed" yaml:"failed"`
}

// Syncer uploads records not yet present in Store.
type Syncer struct {
	Store  ProductionStore
	Logger *slog.Logger
}

// Sync checks each record against the production store and inserts the
// ones that are missing. Errors are counted per record; the batch always
// runs to the end unless ctx is cancelled.
func (s *Syncer) Sync(ctx context.Context, records []types.ArticleRecord) Result {
	logger := s.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "publish")

	var res Result
	for _, rec := range records {
		if ctx.Err() != nil {
			res.Failed += len(records) - res.Uploaded - res.Skipped - res.Failed
			break
		}

		row, err := FromArticle(rec)
		if err != nil {
			logger.Warn("record not publishable", "url", rec.URL, "error", err)
			res.Failed++
			continue
		}

		exists, err := s.Store.Exists(ctx, row.URL)
		if err != nil {
			logger.Warn("existence check failed", "url", row.URL, "error", err)
			res.Failed++
			continue
		}
		if exists {
			logger.Debug("already published", "url", row.URL)
			res.Skipped++
			continue
		}

		if err := s.Store.Insert(ctx, row); err != nil {
			if errors.Is(err, ErrDuplicate) {
				logger.Debug("already published", "url", row.URL)
				res.Skipped++
				continue
			}
			logger.Warn("insert failed", "url", row.URL, "error", err)
			res.Failed++
			continue
		}
		res.Uploaded++
	}

	logger.Info("publish complete", "uploaded", res.Uploaded, "skipped", res.Skipped, "failed", res.Failed)
	return res
}

var tableName = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*(\.[A-Za-z_][A-Za-z0-9_]*)?$`)

func checkTable(table string) (string, error) {
	if table == "" {
		table = "data"
	}
	if !tableName.MatchString(table) {
		return "", fmt.Errorf("invalid table name %q", table)
	}
	return table, nil
}

// Open builds the backend selected by cfg.Kind.
func Open(cfg types.PublishConfig, logger *slog.Logger) (Backend, error) {
	switch cfg.Kind {
	case types.StorePostgres:
		s, err := OpenPostgres(cfg.DSN, cfg.Table)
		if err != nil {
			return nil, err
		}
		return s, nil
	case types.StoreREST, "":
		s, err := NewRESTStore(cfg)
		if err != nil {
			return nil, err
		}
		return s, nil
	case types.StoreDryRun:
		return &DryRunStore{Logger: logger}, nil
	}
	return nil, fmt.Errorf("unknown production store kind %q", cfg.Kind)
}
