// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package sources

import (
	"context"
	"encoding/json"
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

// nytAPIBase is the New York Times article search endpoint.
var nytAPIBase = "https://api.nytimes.com/svc/search/v2/articlesearch.json"

// nytDateLayouts are the pub_date formats the search API has used.
var nytDateLayouts = []string{"2006-01-02T15:04:05-0700", time.RFC3339}

// NYTAdapter searches the New York Times technology desk. The API returns
// ten documents per page and allows five requests a minute.
type NYTAdapter struct {
	cfg       types.NYTConfig
	api       requester
	extractor Extractor
	logger    *slog.Logger
}

// NewNYTAdapter returns an adapter paced by cfg.Pacing. extractor may be
// nil, in which case the search snippet is used as the body.
func NewNYTAdapter(client *http.Client, httpCfg types.HTTPConfig, cfg types.NYTConfig, extractor Extractor, logger *slog.Logger) *NYTAdapter {
	return &NYTAdapter{
		cfg:       cfg,
		api:       requester{client: client, userAgent: httpCfg.UserAgent, pacer: httputil.NewPacer(cfg.Pacing)},
		extractor: extractor,
		logger:    adapterLogger(logger, "nyt"),
	}
}

// Name returns the adapter identifier.
func (a *NYTAdapter) Name() string { return "nyt" }

// Fetch pages through search results until an empty page, the page limit,
// or an upstream error. A rate limit ends the topic after the backoff.
func (a *NYTAdapter) Fetch(ctx context.Context, sink Sink, req Request) (int, error) {
	if a.cfg.APIKey == "" {
		return 0, fmt.Errorf("nyt: %w", ErrMissingAPIKey)
	}

	pageLimit := a.cfg.PageLimit
	if pageLimit <= 0 {
		pageLimit = 5
	}
	desk := a.cfg.NewsDesk
	if desk == "" {
		desk = "Technology"
	}

	added := 0
	var errs []error
	for page := 0; page < pageLimit; page++ {
		params := url.Values{}
		params.Set("q", req.Topic)
		params.Set("begin_date", req.Window.From.Format("20060102"))
		params.Set("end_date", req.Window.To.Format("20060102"))
		params.Set("fq", fmt.Sprintf("news_desk:(%q)", desk))
		params.Set("sort", "relevance")
		params.Set("page", strconv.Itoa(page))
		params.Set("api-key", a.cfg.APIKey)

		body, err := a.api.get(ctx, nytAPIBase, params)
		if err != nil {
			if errors.Is(err, httputil.ErrRateLimited) {
				a.logger.Warn("rate limited, abandoning topic", "topic", req.Topic, "page", page)
			}
			errs = append(errs, fmt.Errorf("nyt page %d: %w", page, err))
			break
		}

		var data nytResponse
		if err := json.Unmarshal(body, &data); err != nil {
			errs = append(errs, fmt.Errorf("parsing nyt page %d: %w", page, err))
			break
		}
		if data.Status != "OK" {
			errs = append(errs, fmt.Errorf("nyt page %d: status %q", page, data.Status))
			break
		}
		if len(data.Response.Docs) == 0 {
			break
		}

		for _, doc := range data.Response.Docs {
			inserted, err := a.stageDoc(ctx, sink, doc, req)
			if err != nil {
				a.logger.Warn("staging article failed", "url", doc.WebURL, "error", err)
				errs = append(errs, err)
				continue
			}
			if inserted {
				added++
			}
		}
	}

	a.logger.Info("fetched", "topic", req.Topic, "added", added)
	return added, errors.Join(errs...)
}

func (a *NYTAdapter) stageDoc(ctx context.Context, sink Sink, doc nytDoc, req Request) (bool, error) {
	if doc.WebURL == "" {
		return false, nil
	}
	published, ok := parseNYTDate(doc.PubDate)
	if !ok {
		a.logger.Debug("skipping article with unparseable date", "url", doc.WebURL, "date", doc.PubDate)
		return false, nil
	}
	if !req.Window.Contains(published) {
		return false, nil
	}

	link := CanonicalURL(doc.WebURL)
	// Check before downloading the page.
	exists, err := sink.Exists(ctx, link)
	if err != nil || exists {
		return false, err
	}

	rec := types.ArticleRecord{
		URL:         link,
		Title:       doc.Headline.Main,
		Text:        a.body(ctx, link, doc),
		Source:      "New York Times",
		Sector:      req.Topic,
		PublishedAt: published.Format("2006-01-02"),
	}
	return stage(ctx, sink, rec, MinTextLength)
}

// body prefers the extracted page text, then snippet plus lead paragraph,
// then the abstract.
func (a *NYTAdapter) body(ctx context.Context, link string, doc nytDoc) string {
	if a.cfg.FetchFullText && a.extractor != nil {
		text, err := a.extractor.Extract(ctx, link)
		if err == nil && len(text) >= MinTextLength {
			return text
		}
		if err != nil {
			a.logger.Debug("full text extraction failed", "url", link, "error", err)
		}
	}

	text := doc.LeadParagraph
	if doc.Snippet != "" {
		text = doc.Snippet + "\n\n" + text
	}
	text = strings.TrimSpace(text)
	if text == "" {
		text = strings.TrimSpace(doc.Abstract)
	}
	return text
}

func parseNYTDate(s string) (time.Time, bool) {
	for _, layout := range nytDateLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}

type nytResponse struct {
	Status   string `json:"status"`
	Response struct {
		Docs []nytDoc `json:"docs"`
	} `json:"response"`
}

type nytDoc struct {
	WebURL        string `json:"web_url"`
	Snippet       string `json:"snippet"`
	LeadParagraph string `json:"lead_paragraph"`
	Abstract      string `json:"abstract"`
	PubDate       string `json:"pub_date"`
	Headline      struct {
		Main string `json:"main"`
	} `json:"headline"`
}
