// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

// Package staging holds the run-scoped SQLite database that articles pass
// through between ingestion and publication. A Store lives for exactly one
// run and is removed by Destroy.
package staging

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	sq "github.com/Masterminds/squirrel"
	_ "github.com/mattn/go-sqlite3"

	"github.com/pdiddy/consequence-pipeline/pkg/types"
)

const (
	dbFile    = "staging.db"
	tableName = "articles"
)

var (
	// ErrInvalidTransition is returned when an update names a stage that is
	// not the single successor of the expected stage.
	ErrInvalidTransition = errors.New("invalid stage transition")

	// ErrStageConflict is returned when the record is no longer at the
	// stage the caller expected.
	ErrStageConflict = errors.New("record is not at the expected stage")

	// ErrMissingOutput is returned when advancing would leave the record
	// without an output its new stage requires.
	ErrMissingOutput = errors.New("record is missing a required output")

	// ErrNotFound is returned by Get and Update for an unknown id.
	ErrNotFound = errors.New("record not found")
)

var columns = []string{
	"id", "url", "title", "text", "source", "sector", "published_at",
	"relevance_label", "relevance_score", "content_filter_answer",
	"consequence_summary", "aspect_label", "processing_stage", "created_at",
}

// Updates is a partial mutation of one record. Nil fields are left alone.
// A zero Stage leaves the processing stage unchanged.
type Updates struct {
	RelevanceLabel      *types.TitleLabel
	RelevanceScore      *float64
	ContentFilterAnswer *string
	ConsequenceSummary  *string
	AspectLabel         *types.Aspect
	Stage               types.Stage
}

// Empty reports whether u changes nothing.
func (u Updates) Empty() bool {
	return u.RelevanceLabel == nil && u.RelevanceScore == nil && u.ContentFilterAnswer == nil &&
		u.ConsequenceSummary == nil && u.AspectLabel == nil && u.Stage == types.StageUnknown
}

func (u Updates) applyTo(rec *types.ArticleRecord) {
	if u.RelevanceLabel != nil {
		rec.RelevanceLabel = u.RelevanceLabel
	}
	if u.RelevanceScore != nil {
		rec.RelevanceScore = u.RelevanceScore
	}
	if u.ContentFilterAnswer != nil {
		rec.ContentFilterAnswer = u.ContentFilterAnswer
	}
	if u.ConsequenceSummary != nil {
		rec.ConsequenceSummary = u.ConsequenceSummary
	}
	if u.AspectLabel != nil {
		rec.AspectLabel = u.AspectLabel
	}
	if u.Stage != types.StageUnknown {
		rec.Stage = u.Stage
	}
}

func (u Updates) setMap() map[string]any {
	m := make(map[string]any)
	if u.RelevanceLabel != nil {
		m["relevance_label"] = string(*u.RelevanceLabel)
	}
	if u.RelevanceScore != nil {
		m["relevance_score"] = *u.RelevanceScore
	}
	if u.ContentFilterAnswer != nil {
		m["content_filter_answer"] = *u.ContentFilterAnswer
	}
	if u.ConsequenceSummary != nil {
		m["consequence_summary"] = *u.ConsequenceSummary
	}
	if u.AspectLabel != nil {
		m["aspect_label"] = string(*u.AspectLabel)
	}
	if u.Stage != types.StageUnknown {
		m["processing_stage"] = u.Stage.String()
	}
	return m
}

// Store is the staging database for one run.
type Store struct {
	db     *sql.DB
	dir    string
	qb     sq.StatementBuilderType
	logger *slog.Logger
	now    func() time.Time

	once       sync.Once
	destroyErr error
}

// Open creates a fresh staging database in a new directory under cfg.Dir
// (os.TempDir when empty) and creates the schema.
func Open(ctx context.Context, cfg types.StagingConfig, logger *slog.Logger) (*Store, error) {
	if logger == nil {
		logger = slog.Default()
	}

	dir, err := os.MkdirTemp(cfg.Dir, "consequence-staging-*")
	if err != nil {
		return nil, fmt.Errorf("creating staging directory: %w", err)
	}

	dbPath := filepath.Join(dir, dbFile)
	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		os.RemoveAll(dir)
		return nil, fmt.Errorf("opening staging database: %w", err)
	}
	// SQLite allows a single writer; one connection keeps updates serialized.
	db.SetMaxOpenConns(1)

	s := &Store{
		db:     db,
		dir:    dir,
		qb:     sq.StatementBuilder.PlaceholderFormat(sq.Question),
		logger: logger.With("component", "staging"),
		now:    time.Now,
	}

	if err := s.createSchema(ctx); err != nil {
		s.Destroy()
		return nil, fmt.Errorf("creating schema: %w", err)
	}

	s.logger.Debug("staging store opened", "path", dbPath)
	return s, nil
}

// Dir returns the directory holding the database file.
func (s *Store) Dir() string { return s.dir }

func (s *Store) createSchema(ctx context.Context) error {
	statements := []string{
		`CREATE TABLE IF NOT EXISTS articles (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			url TEXT NOT NULL UNIQUE,
			title TEXT NOT NULL DEFAULT '',
			text TEXT NOT NULL DEFAULT '',
			source TEXT NOT NULL DEFAULT '',
			sector TEXT NOT NULL DEFAULT '',
			published_at TEXT NOT NULL DEFAULT '',
			relevance_label TEXT,
			relevance_score REAL,
			content_filter_answer TEXT,
			consequence_summary TEXT,
			aspect_label TEXT,
			processing_stage TEXT NOT NULL DEFAULT 'scraped',
			created_at TEXT NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_articles_stage ON articles(processing_stage)`,
	}

	for _, stmt := range statements {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("executing schema statement: %w", err)
		}
	}
	return nil
}

// Exists reports whether a record with url is already staged.
func (s *Store) Exists(ctx context.Context, url string) (bool, error) {
	query, args, err := s.qb.Select("1").From(tableName).Where(sq.Eq{"url": url}).Limit(1).ToSql()
	if err != nil {
		return false, err
	}
	var one int
	err = s.db.QueryRowContext(ctx, query, args...).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("checking %s: %w", url, err)
	}
	return true, nil
}

// Insert stages rec at StageScraped whatever its Stage field says. It
// returns false without error when the URL is already present.
func (s *Store) Insert(ctx context.Context, rec types.ArticleRecord) (bool, error) {
	if strings.TrimSpace(rec.URL) == "" {
		return false, errors.New("inserting article: empty url")
	}

	query, args, err := s.qb.Insert(tableName).
		Columns("url", "title", "text", "source", "sector", "published_at", "processing_stage", "created_at").
		Values(rec.URL, rec.Title, rec.Text, rec.Source, rec.Sector, rec.PublishedAt,
			types.StageScraped.String(), s.now().UTC().Format(time.RFC3339Nano)).
		Suffix("ON CONFLICT(url) DO NOTHING").
		ToSql()
	if err != nil {
		return false, err
	}

	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return false, fmt.Errorf("inserting %s: %w", rec.URL, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("inserting %s: %w", rec.URL, err)
	}
	if n == 0 {
		s.logger.Debug("duplicate url skipped", "url", rec.URL)
		return false, nil
	}
	return true, nil
}

// RecordsAtStage returns records sitting at stage in insertion order. A
// limit of zero or less returns all of them.
func (s *Store) RecordsAtStage(ctx context.Context, stage types.Stage, limit int) ([]types.ArticleRecord, error) {
	b := s.qb.Select(columns...).From(tableName).
		Where(sq.Eq{"processing_stage": stage.String()}).
		OrderBy("id")
	if limit > 0 {
		b = b.Limit(uint64(limit))
	}
	return s.queryRecords(ctx, b)
}

// Get returns the record with id.
func (s *Store) Get(ctx context.Context, id int64) (types.ArticleRecord, error) {
	return s.get(ctx, s.db, id)
}

type queryRower interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func (s *Store) get(ctx context.Context, q queryRower, id int64) (types.ArticleRecord, error) {
	query, args, err := s.qb.Select(columns...).From(tableName).Where(sq.Eq{"id": id}).ToSql()
	if err != nil {
		return types.ArticleRecord{}, err
	}
	rec, err := scanRecord(q.QueryRowContext(ctx, query, args...))
	if errors.Is(err, sql.ErrNoRows) {
		return types.ArticleRecord{}, fmt.Errorf("record %d: %w", id, ErrNotFound)
	}
	if err != nil {
		return types.ArticleRecord{}, fmt.Errorf("reading record %d: %w", id, err)
	}
	return rec, nil
}

// Update applies u to the record with id provided it still sits at expect.
// When u.Stage is set it must be the successor of expect, and the merged
// record must carry every output the new stage requires.
func (s *Store) Update(ctx context.Context, id int64, expect types.Stage, u Updates) error {
	if u.Stage != types.StageUnknown && !types.CanTransition(expect, u.Stage) {
		return fmt.Errorf("record %d: %s -> %s: %w", id, expect, u.Stage, ErrInvalidTransition)
	}
	if u.Empty() {
		return nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning update: %w", err)
	}
	defer tx.Rollback()

	current, err := s.get(ctx, tx, id)
	if err != nil {
		return err
	}
	if current.Stage != expect {
		return fmt.Errorf("record %d at %s, expected %s: %w", id, current.Stage, expect, ErrStageConflict)
	}

	if u.Stage != types.StageUnknown {
		merged := current
		u.applyTo(&merged)
		if err := merged.Ready(u.Stage); err != nil {
			return fmt.Errorf("record %d: %v: %w", id, err, ErrMissingOutput)
		}
	}

	query, args, err := s.qb.Update(tableName).
		SetMap(u.setMap()).
		Where(sq.Eq{"id": id, "processing_stage": expect.String()}).
		ToSql()
	if err != nil {
		return err
	}
	res, err := tx.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("updating record %d: %w", id, err)
	}
	if n, err := res.RowsAffected(); err != nil {
		return fmt.Errorf("updating record %d: %w", id, err)
	} else if n == 0 {
		return fmt.Errorf("record %d: %w", id, ErrStageConflict)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing record %d: %w", id, err)
	}
	return nil
}

// FinalRecords returns classified records whose summary is present and
// does not carry the no-consequence sentinel.
func (s *Store) FinalRecords(ctx context.Context) ([]types.ArticleRecord, error) {
	b := s.qb.Select(columns...).From(tableName).
		Where(sq.Eq{"processing_stage": types.StageClassified.String()}).
		Where(sq.NotEq{"consequence_summary": nil}).
		Where("trim(consequence_summary) != ''").
		Where("instr(upper(consequence_summary), ?) = 0", types.NoConsequence).
		OrderBy("id")
	return s.queryRecords(ctx, b)
}

// Count returns the number of records at each stage.
func (s *Store) Count(ctx context.Context) (map[types.Stage]int, error) {
	query, args, err := s.qb.Select("processing_stage", "count(*)").From(tableName).
		GroupBy("processing_stage").ToSql()
	if err != nil {
		return nil, err
	}
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("counting records: %w", err)
	}
	defer rows.Close()

	counts := make(map[types.Stage]int)
	for rows.Next() {
		var name string
		var n int
		if err := rows.Scan(&name, &n); err != nil {
			return nil, fmt.Errorf("scanning count: %w", err)
		}
		stage, err := types.ParseStage(name)
		if err != nil {
			return nil, err
		}
		counts[stage] = n
	}
	return counts, rows.Err()
}

// Destroy closes the database and removes its directory. It is safe to
// call more than once and on a nil Store.
func (s *Store) Destroy() error {
	if s == nil {
		return nil
	}
	s.once.Do(func() {
		var errs []error
		if s.db != nil {
			if err := s.db.Close(); err != nil {
				errs = append(errs, fmt.Errorf("closing staging database: %w", err))
			}
		}
		if s.dir != "" {
			if err := os.RemoveAll(s.dir); err != nil {
				errs = append(errs, fmt.Errorf("removing staging directory: %w", err))
			}
		}
		s.destroyErr = errors.Join(errs...)
		s.logger.Debug("staging store destroyed", "dir", s.dir)
	})
	return s.destroyErr
}

func (s *Store) queryRecords(ctx context.Context, b sq.SelectBuilder) ([]types.ArticleRecord, error) {
	query, args, err := b.ToSql()
	if err != nil {
		return nil, err
	}
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying records: %w", err)
	}
	defer rows.Close()

	var out []types.ArticleRecord
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning record: %w", err)
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanRecord(row scanner) (types.ArticleRecord, error) {
	var (
		rec       types.ArticleRecord
		label     sql.NullString
		score     sql.NullFloat64
		answer    sql.NullString
		summary   sql.NullString
		aspect    sql.NullString
		stage     string
		createdAt string
	)
	err := row.Scan(&rec.ID, &rec.URL, &rec.Title, &rec.Text, &rec.Source, &rec.Sector, &rec.PublishedAt,
		&label, &score, &answer, &summary, &aspect, &stage, &createdAt)
	if err != nil {
		return rec, err
	}

	if label.Valid {
		l := types.TitleLabel(label.String)
		rec.RelevanceLabel = &l
	}
	if score.Valid {
		rec.RelevanceScore = &score.Float64
	}
	if answer.Valid {
		rec.ContentFilterAnswer = &answer.String
	}
	if summary.Valid {
		rec.ConsequenceSummary = &summary.String
	}
	if aspect.Valid {
		a := types.Aspect(aspect.String)
		rec.AspectLabel = &a
	}

	if rec.Stage, err = types.ParseStage(stage); err != nil {
		return rec, err
	}
	if t, perr := time.Parse(time.RFC3339Nano, createdAt); perr == nil {
		rec.CreatedAt = t
	}
	return rec, nil
}
