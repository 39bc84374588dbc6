// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package sources

import (
	"context"
	"encoding/xml"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/pdiddy/consequence-pipeline/internal/httputil"
	"github.com/pdiddy/consequence-pipeline/pkg/types"
)

// arxivAPIBase is the arXiv search endpoint. Declared as a var so tests
// can substitute an httptest server.
var arxivAPIBase = "https://export.arxiv.org/api/query"

// ArxivAdapter searches arXiv paper titles for the topic. The abstract
// becomes the article text.
type ArxivAdapter struct {
	cfg    types.ArxivConfig
	api    requester
	logger *slog.Logger
}

// NewArxivAdapter returns an adapter paced by cfg.Pacing.
func NewArxivAdapter(client *http.Client, httpCfg types.HTTPConfig, cfg types.ArxivConfig, logger *slog.Logger) *ArxivAdapter {
	return &ArxivAdapter{
		cfg:    cfg,
		api:    requester{client: client, userAgent: httpCfg.UserAgent, pacer: httputil.NewPacer(cfg.Pacing)},
		logger: adapterLogger(logger, "arxiv"),
	}
}

// Name returns the adapter identifier.
func (a *ArxivAdapter) Name() string { return "arxiv" }

// Fetch queries the newest submissions whose title matches the topic and
// stages those inside the window.
func (a *ArxivAdapter) Fetch(ctx context.Context, sink Sink, req Request) (int, error) {
	maxResults := a.cfg.MaxResults
	if maxResults <= 0 {
		maxResults = 50
	}

	params := url.Values{}
	params.Set("search_query", fmt.Sprintf("ti:%q", req.Topic))
	params.Set("start", "0")
	params.Set("max_results", strconv.Itoa(maxResults))
	params.Set("sortBy", "submittedDate")
	params.Set("sortOrder", "descending")

	body, err := a.api.get(ctx, arxivAPIBase, params)
	if err != nil {
		return 0, fmt.Errorf("arXiv query %q: %w", req.Topic, err)
	}

	var feed arxivFeed
	if err := xml.Unmarshal(body, &feed); err != nil {
		return 0, fmt.Errorf("parsing arXiv response: %w", err)
	}

	added := 0
	var errs []error
	for _, entry := range feed.Entries {
		published, err := time.Parse(time.RFC3339, strings.TrimSpace(entry.Published))
		if err != nil {
			a.logger.Debug("skipping entry without a publication date", "id", entry.ID)
			continue
		}
		if !req.Window.Contains(published) {
			continue
		}

		link := CanonicalArxivURL(entry.ID)
		if link == "" {
			a.logger.Debug("skipping entry without an arXiv id", "id", entry.ID)
			continue
		}

		rec := types.ArticleRecord{
			URL:         link,
			Title:       collapseSpace(entry.Title),
			Text:        collapseSpace(entry.Summary),
			Source:      "arXiv",
			Sector:      req.Topic,
			PublishedAt: published.Format("2006-01-02"),
		}

		ok, err := stage(ctx, sink, rec, 0)
		if err != nil {
			a.logger.Warn("staging entry failed", "url", link, "error", err)
			errs = append(errs, err)
			continue
		}
		if ok {
			added++
		}
	}

	a.logger.Info("fetched", "topic", req.Topic, "entries", len(feed.Entries), "added", added)
	return added, errors.Join(errs...)
}

// arXiv Atom feed XML structures.
type arxivFeed struct {
	Entries []arxivEntry `xml:"entry"`
}

type arxivEntry struct {
	ID        string `xml:"id"`
	Title     string `xml:"title"`
	Summary   string `xml:"summary"`
	Published string `xml:"published"`
}
