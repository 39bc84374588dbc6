// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

// Package sources normalizes articles from upstream search APIs into
// staged records. Each upstream is an Adapter; adapters never abort a run,
// they return the number of records actually inserted and describe any
// partial failure in the returned error.
package sources

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"regexp"
	"strings"

	"github.com/pdiddy/consequence-pipeline/internal/httputil"
	"github.com/pdiddy/consequence-pipeline/pkg/types"
)

// MinTextLength is the shortest body accepted from news sources.
const MinTextLength = 100

const maxResponseBytes = 16 << 20

// Sink receives normalized records. The staging store implements it.
type Sink interface {
	Exists(ctx context.Context, url string) (bool, error)
	Insert(ctx context.Context, rec types.ArticleRecord) (bool, error)
}

// Request is one topic query bounded by a publication window.
type Request struct {
	Topic  string
	Window types.Window
}

// Adapter fetches articles for a topic from one upstream and stages them.
type Adapter interface {
	Name() string
	Fetch(ctx context.Context, sink Sink, req Request) (int, error)
}

// stage inserts rec unless its URL is already staged or, when minLen is
// positive, its text is too short. It reports whether a row was added.
func stage(ctx context.Context, sink Sink, rec types.ArticleRecord, minLen int) (bool, error) {
	if minLen > 0 && len(rec.Text) < minLen {
		return false, nil
	}
	exists, err := sink.Exists(ctx, rec.URL)
	if err != nil {
		return false, err
	}
	if exists {
		return false, nil
	}
	return sink.Insert(ctx, rec)
}

// requester performs paced GET requests against one upstream.
type requester struct {
	client    *http.Client
	userAgent string
	pacer     *httputil.Pacer
}

// get waits for the pacer, issues the request and returns the body. On a
// rate limit it sleeps for the pacer's backoff and returns an error
// wrapping httputil.ErrRateLimited.
func (r requester) get(ctx context.Context, endpoint string, params url.Values) ([]byte, error) {
	if err := r.pacer.Wait(ctx); err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint+"?"+params.Encode(), nil)
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	if r.userAgent != "" {
		req.Header.Set("User-Agent", r.userAgent)
	}

	resp, err := r.client.Do(req)
	if err != nil {
		// url.Error repeats the query string, which carries API keys.
		var ue *url.Error
		if errors.As(err, &ue) {
			err = ue.Err
		}
		return nil, fmt.Errorf("GET %s: %w", redact(endpoint), err)
	}
	defer resp.Body.Close()

	if err := httputil.CheckStatus(resp); err != nil {
		if errors.Is(err, httputil.ErrRateLimited) {
			if berr := r.pacer.Backoff(ctx); berr != nil {
				return nil, berr
			}
		}
		return nil, fmt.Errorf("GET %s: %w", redact(endpoint), err)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, fmt.Errorf("reading response: %w", err)
	}
	return body, nil
}

func redact(endpoint string) string {
	if i := strings.IndexByte(endpoint, '?'); i >= 0 {
		return endpoint[:i]
	}
	return endpoint
}

var arxivVersion = regexp.MustCompile(`v\d+$`)

// CanonicalArxivURL maps any arXiv abstract or PDF link to
// https://arxiv.org/abs/<id> without the version suffix. It returns ""
// when raw is not an arXiv article link.
func CanonicalArxivURL(raw string) string {
	raw = strings.TrimSpace(raw)
	var id string
	for _, marker := range []string{"/abs/", "/pdf/"} {
		if i := strings.Index(raw, marker); i >= 0 {
			id = raw[i+len(marker):]
			break
		}
	}
	if id == "" {
		return ""
	}
	if i := strings.IndexAny(id, "?#"); i >= 0 {
		id = id[:i]
	}
	id = strings.TrimSuffix(strings.TrimSuffix(id, "/"), ".pdf")
	id = arxivVersion.ReplaceAllString(id, "")
	if id == "" {
		return ""
	}
	return "https://arxiv.org/abs/" + id
}

// CanonicalURL drops the fragment and tracking parameters from a news link.
func CanonicalURL(raw string) string {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil || u.Host == "" {
		return strings.TrimSpace(raw)
	}
	u.Fragment = ""
	u.Host = strings.ToLower(u.Host)
	q := u.Query()
	for k := range q {
		if strings.HasPrefix(strings.ToLower(k), "utm_") {
			q.Del(k)
		}
	}
	u.RawQuery = q.Encode()
	return u.String()
}

func adapterLogger(logger *slog.Logger, name string) *slog.Logger {
	if logger == nil {
		logger = slog.Default()
	}
	return logger.With("component", "sources", "source", name)
}
