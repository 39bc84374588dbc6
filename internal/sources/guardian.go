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
	"time"

	"github.com/pdiddy/consequence-pipeline/internal/httputil"
	"github.com/pdiddy/consequence-pipeline/pkg/types"
)

// guardianAPIBase is the Guardian content search endpoint.
var guardianAPIBase = "https://content.guardianapis.com/search"

// ErrMissingAPIKey is returned by adapters that need a key and have none.
var ErrMissingAPIKey = errors.New("api key not configured")

// GuardianAdapter searches the Guardian technology section.
type GuardianAdapter struct {
	cfg    types.GuardianConfig
	api    requester
	logger *slog.Logger
}

// NewGuardianAdapter returns an adapter paced by cfg.Pacing.
func NewGuardianAdapter(client *http.Client, httpCfg types.HTTPConfig, cfg types.GuardianConfig, logger *slog.Logger) *GuardianAdapter {
	return &GuardianAdapter{
		cfg:    cfg,
		api:    requester{client: client, userAgent: httpCfg.UserAgent, pacer: httputil.NewPacer(cfg.Pacing)},
		logger: adapterLogger(logger, "guardian"),
	}
}

// Name returns the adapter identifier.
func (a *GuardianAdapter) Name() string { return "guardian" }

// Fetch pages through search results for the topic within the window.
func (a *GuardianAdapter) Fetch(ctx context.Context, sink Sink, req Request) (int, error) {
	if a.cfg.APIKey == "" {
		return 0, fmt.Errorf("guardian: %w", ErrMissingAPIKey)
	}

	pageSize := a.cfg.PageSize
	if pageSize <= 0 {
		pageSize = 50
	}
	pages := a.cfg.Pages
	if pages <= 0 {
		pages = 1
	}
	section := a.cfg.Section
	if section == "" {
		section = "technology"
	}

	added := 0
	var errs []error
	for page := 1; page <= pages; page++ {
		params := url.Values{}
		params.Set("q", req.Topic)
		params.Set("from-date", req.Window.From.Format("2006-01-02"))
		params.Set("to-date", req.Window.To.Format("2006-01-02"))
		params.Set("page-size", strconv.Itoa(pageSize))
		params.Set("page", strconv.Itoa(page))
		params.Set("show-fields", "bodyText,trailText")
		params.Set("order-by", "relevance")
		params.Set("section", section)
		params.Set("api-key", a.cfg.APIKey)

		body, err := a.api.get(ctx, guardianAPIBase, params)
		if err != nil {
			errs = append(errs, fmt.Errorf("guardian page %d: %w", page, err))
			break
		}

		var data guardianResponse
		if err := json.Unmarshal(body, &data); err != nil {
			errs = append(errs, fmt.Errorf("parsing guardian page %d: %w", page, err))
			break
		}
		if data.Response.Status != "ok" {
			errs = append(errs, fmt.Errorf("guardian page %d: status %q", page, data.Response.Status))
			break
		}

		for _, item := range data.Response.Results {
			rec, ok := a.normalize(item, req)
			if !ok {
				continue
			}
			inserted, err := stage(ctx, sink, rec, MinTextLength)
			if err != nil {
				a.logger.Warn("staging article failed", "url", rec.URL, "error", err)
				errs = append(errs, err)
				continue
			}
			if inserted {
				added++
			}
		}

		if len(data.Response.Results) == 0 || page >= data.Response.Pages {
			break
		}
	}

	a.logger.Info("fetched", "topic", req.Topic, "added", added)
	return added, errors.Join(errs...)
}

func (a *GuardianAdapter) normalize(item guardianItem, req Request) (types.ArticleRecord, bool) {
	if item.WebURL == "" || item.WebTitle == "" {
		return types.ArticleRecord{}, false
	}
	published, err := time.Parse(time.RFC3339, item.WebPublicationDate)
	if err != nil {
		a.logger.Debug("skipping article with unparseable date", "url", item.WebURL, "date", item.WebPublicationDate)
		return types.ArticleRecord{}, false
	}
	if !req.Window.Contains(published) {
		return types.ArticleRecord{}, false
	}

	text := item.Fields.BodyText
	if text == "" {
		text = htmlText(item.Fields.TrailText)
	}

	return types.ArticleRecord{
		URL:         CanonicalURL(item.WebURL),
		Title:       item.WebTitle,
		Text:        text,
		Source:      "The Guardian",
		Sector:      req.Topic,
		PublishedAt: item.WebPublicationDate[:10],
	}, true
}

type guardianResponse struct {
	Response struct {
		Status  string         `json:"status"`
		Pages   int            `json:"pages"`
		Results []guardianItem `json:"results"`
	} `json:"response"`
}

type guardianItem struct {
	WebURL             string `json:"webUrl"`
	WebTitle           string `json:"webTitle"`
	WebPublicationDate string `json:"webPublicationDate"`
	Fields             struct {
		BodyText  string `json:"bodyText"`
		TrailText string `json:"trailText"`
	} `json:"fields"`
}
