// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package publish

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	sq "github.com/Masterminds/squirrel"
	"github.com/lib/pq"
)

const uniqueViolation = "23505"

// PostgresStore writes directly to the production Postgres table.
type PostgresStore struct {
	db    *sql.DB
	table string
	qb    sq.StatementBuilderType
}

var _ Backend = (*PostgresStore)(nil)

// OpenPostgres connects with lib/pq and pings the server.
func OpenPostgres(dsn, table string) (*PostgresStore, error) {
	if dsn == "" {
		return nil, errors.New("postgres store: empty DSN")
	}
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("opening postgres: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("connecting to postgres: %w", err)
	}
	s, err := NewPostgresStore(db, table)
	if err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

// NewPostgresStore wraps an open database handle.
func NewPostgresStore(db *sql.DB, table string) (*PostgresStore, error) {
	t, err := checkTable(table)
	if err != nil {
		return nil, err
	}
	return &PostgresStore{
		db:    db,
		table: t,
		qb:    sq.StatementBuilder.PlaceholderFormat(sq.Dollar),
	}, nil
}

func (s *PostgresStore) Exists(ctx context.Context, url string) (bool, error) {
	query, args, err := s.qb.Select("1").From(s.table).Where(sq.Eq{"url": url}).Limit(1).ToSql()
	if err != nil {
		return false, err
	}
	var one int
	err = s.db.QueryRowContext(ctx, query, args...).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("looking up %s: %w", url, err)
	}
	return true, nil
}

func (s *PostgresStore) Insert(ctx context.Context, rec PublishedRecord) error {
	var date any
	if rec.Date != "" {
		date = rec.Date
	}
	query, args, err := s.qb.Insert(s.table).
		Columns("title", "text", "magazine", "url", "label", "gpt_summary", "sector", "date").
		Values(rec.Title, rec.Text, rec.Magazine, rec.URL, rec.Label, rec.GPTSummary, rec.Sector, date).
		ToSql()
	if err != nil {
		return err
	}
	if _, err := s.db.ExecContext(ctx, query, args...); err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == uniqueViolation {
			return fmt.Errorf("%s: %w", rec.URL, ErrDuplicate)
		}
		return fmt.Errorf("inserting %s: %w", rec.URL, err)
	}
	return nil
}

// Close releases the connection pool.
func (s *PostgresStore) Close() error {
	return s.db.Close()
}
