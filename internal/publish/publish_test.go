// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package publish

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"regexp"
	"sync/atomic"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pdiddy/consequence-pipeline/internal/httputil"
	"github.com/pdiddy/consequence-pipeline/pkg/types"
)

func classified(url string) types.ArticleRecord {
	summary := "Delivery robots block wheelchair users on sidewalks."
	aspect := types.AspectEquality
	label := types.LabelRelevant
	score := 0.93
	answer := "Yes"
	return types.ArticleRecord{
		ID:                  1,
		URL:                 url,
		Title:               "Sidewalk robots",
		Text:                "Body text",
		Source:              "The Guardian",
		Sector:              "robotics",
		PublishedAt:         "2026-10-12",
		RelevanceLabel:      &label,
		RelevanceScore:      &score,
		ContentFilterAnswer: &answer,
		ConsequenceSummary:  &summary,
		AspectLabel:         &aspect,
		Stage:               types.StageClassified,
	}
}

// memStore is an in-memory ProductionStore.
type memStore struct {
	rows      map[string]PublishedRecord
	existsErr map[string]error
	insertErr map[string]error
}

func newMemStore() *memStore {
	return &memStore{
		rows:      map[string]PublishedRecord{},
		existsErr: map[string]error{},
		insertErr: map[string]error{},
	}
}

func (m *memStore) Exists(_ context.Context, url string) (bool, error) {
	if err := m.existsErr[url]; err != nil {
		return false, err
	}
	_, ok := m.rows[url]
	return ok, nil
}

func (m *memStore) Insert(_ context.Context, rec PublishedRecord) error {
	if err := m.insertErr[rec.URL]; err != nil {
		return err
	}
	m.rows[rec.URL] = rec
	return nil
}

func TestFromArticle(t *testing.T) {
	row, err := FromArticle(classified("https://example.com/a"))
	require.NoError(t, err)
	assert.Equal(t, PublishedRecord{
		Title:      "Sidewalk robots",
		Text:       "Body text",
		Magazine:   "The Guardian",
		URL:        "https://example.com/a",
		Label:      "robotics",
		GPTSummary: "Delivery robots block wheelchair users on sidewalks.",
		Sector:     "Equality & Justice",
		Date:       "2026-10-12",
	}, row)

	incomplete := classified("https://example.com/b")
	incomplete.AspectLabel = nil
	_, err = FromArticle(incomplete)
	assert.Error(t, err)
}

func TestSyncer_Sync(t *testing.T) {
	store := newMemStore()
	store.rows["https://example.com/old"] = PublishedRecord{URL: "https://example.com/old"}
	store.existsErr["https://example.com/flaky"] = errors.New("connection reset")
	store.insertErr["https://example.com/race"] = ErrDuplicate

	broken := classified("https://example.com/broken")
	broken.ConsequenceSummary = nil

	records := []types.ArticleRecord{
		classified("https://example.com/new1"),
		classified("https://example.com/old"),
		classified("https://example.com/flaky"),
		classified("https://example.com/race"),
		broken,
		classified("https://example.com/new2"),
	}

	res := (&Syncer{Store: store}).Sync(context.Background(), records)
	assert.Equal(t, Result{Uploaded: 2, Skipped: 2, Failed: 2}, res)
	assert.Contains(t, store.rows, "https://example.com/new1")
	assert.Contains(t, store.rows, "https://example.com/new2")

	// Re-running uploads nothing.
	res = (&Syncer{Store: store}).Sync(context.Background(), records[:1])
	assert.Equal(t, Result{Skipped: 1}, res)
}

func TestSyncer_Cancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	res := (&Syncer{Store: newMemStore()}).Sync(ctx, []types.ArticleRecord{
		classified("https://example.com/a"), classified("https://example.com/b"),
	})
	assert.Equal(t, Result{Failed: 2}, res)
}

// --- Postgres ---

func TestPostgresStore(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	s, err := NewPostgresStore(db, "")
	require.NoError(t, err)
	ctx := context.Background()

	lookup := regexp.QuoteMeta("SELECT 1 FROM data WHERE url = $1")
	mock.ExpectQuery(lookup).WithArgs("https://example.com/a").
		WillReturnRows(sqlmock.NewRows([]string{"?column?"}).AddRow(1))
	mock.ExpectQuery(lookup).WithArgs("https://example.com/b").
		WillReturnRows(sqlmock.NewRows([]string{"?column?"}))

	ok, err := s.Exists(ctx, "https://example.com/a")
	require.NoError(t, err)
	assert.True(t, ok)
	ok, err = s.Exists(ctx, "https://example.com/b")
	require.NoError(t, err)
	assert.False(t, ok)

	row, err := FromArticle(classified("https://example.com/b"))
	require.NoError(t, err)
	insert := regexp.QuoteMeta("INSERT INTO data")
	mock.ExpectExec(insert).
		WithArgs(row.Title, row.Text, row.Magazine, row.URL, row.Label, row.GPTSummary, row.Sector, row.Date).
		WillReturnResult(sqlmock.NewResult(0, 1))
	require.NoError(t, s.Insert(ctx, row))

	mock.ExpectExec(insert).WillReturnError(&pq.Error{Code: "23505", Message: "duplicate key"})
	assert.ErrorIs(t, s.Insert(ctx, row), ErrDuplicate)

	mock.ExpectExec(insert).WillReturnError(errors.New("connection refused"))
	err = s.Insert(ctx, row)
	assert.Error(t, err)
	assert.NotErrorIs(t, err, ErrDuplicate)

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_LookupError(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	s, err := NewPostgresStore(db, "articles")
	require.NoError(t, err)
	mock.ExpectQuery(regexp.QuoteMeta("FROM articles")).WillReturnError(errors.New("timeout"))

	_, err = s.Exists(context.Background(), "https://example.com/a")
	assert.ErrorContains(t, err, "timeout")
}

func TestCheckTable(t *testing.T) {
	for _, ok := range []string{"data", "public.data", "_t1"} {
		_, err := checkTable(ok)
		assert.NoError(t, err, ok)
	}
	for _, bad := range []string{"data; drop table x", "1data", "a.b.c", "da-ta"} {
		_, err := checkTable(bad)
		assert.Error(t, err, bad)
	}
}

// --- REST ---

func restConfig(url string) types.PublishConfig {
	return types.PublishConfig{Kind: types.StoreREST, URL: url, Key: "service-key", Table: "data"}
}

func TestRESTStore(t *testing.T) {
	var inserted []PublishedRecord
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/rest/v1/data", r.URL.Path)
		assert.Equal(t, "service-key", r.Header.Get("apikey"))
		assert.Equal(t, "Bearer service-key", r.Header.Get("Authorization"))

		switch r.Method {
		case http.MethodGet:
			assert.Equal(t, "url", r.URL.Query().Get("select"))
			if r.URL.Query().Get("url") == "eq.https://example.com/old" {
				w.Write([]byte(`[{"url":"https://example.com/old"}]`))
				return
			}
			w.Write([]byte(`[]`))
		case http.MethodPost:
			assert.Equal(t, "return=minimal", r.Header.Get("Prefer"))
			assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
			var rec PublishedRecord
			assert.NoError(t, json.NewDecoder(r.Body).Decode(&rec))
			if rec.URL == "https://example.com/dup" {
				w.WriteHeader(http.StatusConflict)
				return
			}
			inserted = append(inserted, rec)
			w.WriteHeader(http.StatusCreated)
		}
	}))
	defer srv.Close()

	s, err := NewRESTStore(restConfig(srv.URL + "/"))
	require.NoError(t, err)
	ctx := context.Background()

	ok, err := s.Exists(ctx, "https://example.com/old")
	require.NoError(t, err)
	assert.True(t, ok)
	ok, err = s.Exists(ctx, "https://example.com/new")
	require.NoError(t, err)
	assert.False(t, ok)

	row, err := FromArticle(classified("https://example.com/new"))
	require.NoError(t, err)
	require.NoError(t, s.Insert(ctx, row))
	require.Len(t, inserted, 1)
	assert.Equal(t, row, inserted[0])

	row.URL = "https://example.com/dup"
	assert.ErrorIs(t, s.Insert(ctx, row), ErrDuplicate)
	assert.NoError(t, s.Close())
}

func TestRESTStore_RetriesBusyUpstream(t *testing.T) {
	orig := httputil.RetryBaseDelay
	httputil.RetryBaseDelay = time.Millisecond
	defer func() { httputil.RetryBaseDelay = orig }()

	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		w.WriteHeader(http.StatusCreated)
	}))
	defer srv.Close()

	s, err := NewRESTStore(restConfig(srv.URL))
	require.NoError(t, err)
	row, err := FromArticle(classified("https://example.com/a"))
	require.NoError(t, err)
	require.NoError(t, s.Insert(context.Background(), row))
	assert.Equal(t, int32(2), calls.Load())
}

func TestRESTStore_InsertNotRepeatedOn503(t *testing.T) {
	orig := httputil.RetryBaseDelay
	httputil.RetryBaseDelay = time.Millisecond
	defer func() { httputil.RetryBaseDelay = orig }()

	var gets, posts atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodGet {
			if gets.Add(1) == 1 {
				w.WriteHeader(http.StatusServiceUnavailable)
				return
			}
			w.Write([]byte(`[]`))
			return
		}
		posts.Add(1)
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	s, err := NewRESTStore(restConfig(srv.URL))
	require.NoError(t, err)
	ctx := context.Background()

	ok, err := s.Exists(ctx, "https://example.com/a")
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Equal(t, int32(2), gets.Load(), "lookups are retried")

	row, err := FromArticle(classified("https://example.com/a"))
	require.NoError(t, err)
	err = s.Insert(ctx, row)
	var se *httputil.StatusError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, http.StatusServiceUnavailable, se.Code)
	assert.Equal(t, int32(1), posts.Load(), "inserts are sent once")
}

func TestRESTStore_ServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "permission denied for table data", http.StatusForbidden)
	}))
	defer srv.Close()

	s, err := NewRESTStore(restConfig(srv.URL))
	require.NoError(t, err)
	_, err = s.Exists(context.Background(), "https://example.com/a")
	var se *httputil.StatusError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, http.StatusForbidden, se.Code)
}

func TestNewRESTStore_Validation(t *testing.T) {
	_, err := NewRESTStore(types.PublishConfig{Key: "k"})
	assert.Error(t, err)
	_, err = NewRESTStore(types.PublishConfig{URL: "http://x"})
	assert.Error(t, err)
}

// --- dry run and factory ---

func TestDryRunStore(t *testing.T) {
	s := &DryRunStore{}
	ctx := context.Background()
	row, err := FromArticle(classified("https://example.com/a"))
	require.NoError(t, err)

	ok, err := s.Exists(ctx, row.URL)
	require.NoError(t, err)
	assert.False(t, ok)
	require.NoError(t, s.Insert(ctx, row))
	ok, err = s.Exists(ctx, row.URL)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Len(t, s.Records(), 1)

	lookup := newMemStore()
	lookup.rows["https://example.com/b"] = PublishedRecord{}
	s = &DryRunStore{Lookup: lookup}
	ok, err = s.Exists(ctx, "https://example.com/b")
	require.NoError(t, err)
	assert.True(t, ok)
	require.NoError(t, s.Insert(ctx, row))
	assert.Empty(t, lookup.rows[row.URL].URL, "dry run never writes through")
}

func TestOpen(t *testing.T) {
	b, err := Open(types.PublishConfig{Kind: types.StoreDryRun}, nil)
	require.NoError(t, err)
	assert.IsType(t, &DryRunStore{}, b)

	b, err = Open(restConfig("http://localhost:54321"), nil)
	require.NoError(t, err)
	assert.IsType(t, &RESTStore{}, b)

	_, err = Open(types.PublishConfig{Kind: types.StorePostgres}, nil)
	assert.Error(t, err)

	_, err = Open(types.PublishConfig{Kind: "kafka"}, nil)
	assert.Error(t, err)
}
