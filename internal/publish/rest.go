// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package publish

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/pdiddy/consequence-pipeline/internal/httputil"
	"github.com/pdiddy/consequence-pipeline/pkg/types"
)

// RESTStore talks to a PostgREST endpoint such as Supabase.
type RESTStore struct {
	client    *http.Client
	base      string
	table     string
	key       string
	userAgent string
}

var _ Backend = (*RESTStore)(nil)

// NewRESTStore builds a store for cfg.URL and cfg.Table.
func NewRESTStore(cfg types.PublishConfig) (*RESTStore, error) {
	if cfg.URL == "" {
		return nil, errors.New("rest store: empty URL")
	}
	if cfg.Key == "" {
		return nil, errors.New("rest store: empty API key")
	}
	t, err := checkTable(cfg.Table)
	if err != nil {
		return nil, err
	}
	return &RESTStore{
		client:    httputil.NewClient(cfg.HTTPConfig),
		base:      strings.TrimRight(cfg.URL, "/"),
		table:     t,
		key:       cfg.Key,
		userAgent: cfg.UserAgent,
	}, nil
}

func (s *RESTStore) endpoint() string {
	return s.base + "/rest/v1/" + s.table
}

func (s *RESTStore) request(ctx context.Context, method, endpoint string, body []byte) (*http.Request, error) {
	var rd io.Reader
	if body != nil {
		rd = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, endpoint, rd)
	if err != nil {
		return nil, err
	}
	req.Header.Set("apikey", s.key)
	req.Header.Set("Authorization", "Bearer "+s.key)
	req.Header.Set("Accept", "application/json")
	if s.userAgent != "" {
		req.Header.Set("User-Agent", s.userAgent)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("Prefer", "return=minimal")
	}
	return req, nil
}

func (s *RESTStore) Exists(ctx context.Context, articleURL string) (bool, error) {
	q := url.Values{}
	q.Set("select", "url")
	q.Set("url", "eq."+articleURL)
	req, err := s.request(ctx, http.MethodGet, s.endpoint()+"?"+q.Encode(), nil)
	if err != nil {
		return false, err
	}

	resp, err := httputil.DoWithRetry(ctx, s.client, req, 0)
	if err != nil {
		return false, fmt.Errorf("looking up %s: %w", articleURL, err)
	}
	defer resp.Body.Close()
	if err := httputil.CheckStatus(resp); err != nil {
		return false, fmt.Errorf("looking up %s: %w", articleURL, err)
	}

	var rows []struct {
		URL string `json:"url"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&rows); err != nil {
		return false, fmt.Errorf("decoding lookup for %s: %w", articleURL, err)
	}
	return len(rows) > 0, nil
}

func (s *RESTStore) Insert(ctx context.Context, rec PublishedRecord) error {
	body, err := json.Marshal(rec)
	if err != nil {
		return err
	}
	req, err := s.request(ctx, http.MethodPost, s.endpoint(), body)
	if err != nil {
		return err
	}

	resp, err := httputil.DoWithRetry(ctx, s.client, req, 0)
	if err != nil {
		return fmt.Errorf("inserting %s: %w", rec.URL, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode == http.StatusConflict {
		return fmt.Errorf("%s: %w", rec.URL, ErrDuplicate)
	}
	if err := httputil.CheckStatus(resp); err != nil {
		return fmt.Errorf("inserting %s: %w", rec.URL, err)
	}
	return nil
}

func (s *RESTStore) Close() error {
	s.client.CloseIdleConnections()
	return nil
}
