// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package sources

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pdiddy/consequence-pipeline/internal/httputil"
	"github.com/pdiddy/consequence-pipeline/pkg/types"
)

// --- test doubles ---

type memSink struct {
	mu      sync.Mutex
	records []types.ArticleRecord
	seen    map[string]bool
}

func newMemSink(existing ...string) *memSink {
	s := &memSink{seen: make(map[string]bool)}
	for _, u := range existing {
		s.seen[u] = true
	}
	return s
}

func (s *memSink) Exists(_ context.Context, url string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.seen[url], nil
}

func (s *memSink) Insert(_ context.Context, rec types.ArticleRecord) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.seen[rec.URL] {
		return false, nil
	}
	s.seen[rec.URL] = true
	s.records = append(s.records, rec)
	return true, nil
}

func (s *memSink) urls() []string {
	var out []string
	for _, r := range s.records {
		out = append(out, r.URL)
	}
	return out
}

type stubExtractor map[string]string

func (e stubExtractor) Extract(_ context.Context, pageURL string) (string, error) {
	if text, ok := e[pageURL]; ok {
		return text, nil
	}
	return "", errors.New("page unavailable")
}

var testNow = time.Date(2026, 3, 15, 12, 0, 0, 0, time.UTC)

func testRequest(topic string) Request {
	return Request{Topic: topic, Window: types.TrailingWindow(testNow, 7)}
}

func longText(prefix string) string {
	return prefix + " " + strings.Repeat("consequences of technology on society ", 5)
}

// --- canonical URLs ---

func TestCanonicalArxivURL(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"http://arxiv.org/abs/2301.07041v1", "https://arxiv.org/abs/2301.07041"},
		{"https://arxiv.org/abs/2301.07041v12", "https://arxiv.org/abs/2301.07041"},
		{"https://arxiv.org/abs/2301.07041", "https://arxiv.org/abs/2301.07041"},
		{"https://arxiv.org/pdf/2301.07041v2.pdf", "https://arxiv.org/abs/2301.07041"},
		{"https://arxiv.org/pdf/2301.07041", "https://arxiv.org/abs/2301.07041"},
		{"http://arxiv.org/abs/cs/0112017v1", "https://arxiv.org/abs/cs/0112017"},
		{"https://example.com/paper", ""},
		{"", ""},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			assert.Equal(t, tt.want, CanonicalArxivURL(tt.in))
		})
	}
}

func TestCanonicalURL(t *testing.T) {
	assert.Equal(t,
		"https://www.theguardian.com/technology/2026/mar/14/robots",
		CanonicalURL(" https://WWW.theguardian.com/technology/2026/mar/14/robots#comments "))
	assert.Equal(t,
		"https://www.nytimes.com/2026/03/14/tech/ai.html?smid=x",
		CanonicalURL("https://www.nytimes.com/2026/03/14/tech/ai.html?utm_source=feed&smid=x"))
	assert.Equal(t, "not a url", CanonicalURL("not a url"))
}

func TestHTMLText(t *testing.T) {
	assert.Equal(t, "Robots are taking over warehouses.", htmlText("<p>Robots are <strong>taking over</strong>\n warehouses.</p>"))
	assert.Equal(t, "plain text", htmlText("  plain\ttext "))
	assert.Equal(t, "Q&A", htmlText("Q&amp;A"))
}

// --- arXiv ---

const arxivFeedXML = `<?xml version="1.0" encoding="UTF-8"?>
<feed xmlns="http://www.w3.org/2005/Atom">
  <entry>
    <id>http://arxiv.org/abs/2603.01234v2</id>
    <title>Robotics and
      Labour Markets</title>
    <summary>We study how warehouse
robots displace workers.</summary>
    <published>2026-03-13T09:00:00Z</published>
  </entry>
  <entry>
    <id>http://arxiv.org/abs/2603.05555v1</id>
    <title>Already Staged</title>
    <summary>Duplicate.</summary>
    <published>2026-03-12T09:00:00Z</published>
  </entry>
  <entry>
    <id>http://arxiv.org/abs/2601.00001v1</id>
    <title>Too Old</title>
    <summary>Outside the window.</summary>
    <published>2026-01-02T09:00:00Z</published>
  </entry>
  <entry>
    <id>http://arxiv.org/abs/2603.07777v1</id>
    <title>No Date</title>
    <summary>Malformed.</summary>
    <published>yesterday</published>
  </entry>
</feed>`

func TestArxivAdapter_Fetch(t *testing.T) {
	var gotQuery string
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotQuery = r.URL.Query().Get("search_query")
		assert.Equal(t, "submittedDate", r.URL.Query().Get("sortBy"))
		assert.Equal(t, "descending", r.URL.Query().Get("sortOrder"))
		assert.Equal(t, "50", r.URL.Query().Get("max_results"))
		w.Header().Set("Content-Type", "application/atom+xml")
		fmt.Fprint(w, arxivFeedXML)
	}))
	defer ts.Close()

	old := arxivAPIBase
	arxivAPIBase = ts.URL
	defer func() { arxivAPIBase = old }()

	sink := newMemSink("https://arxiv.org/abs/2603.05555")
	a := NewArxivAdapter(ts.Client(), types.HTTPConfig{UserAgent: "test/0.1"}, types.ArxivConfig{}, nil)

	n, err := a.Fetch(context.Background(), sink, testRequest("robotics"))
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Equal(t, `ti:"robotics"`, gotQuery)

	require.Len(t, sink.records, 1)
	rec := sink.records[0]
	assert.Equal(t, "https://arxiv.org/abs/2603.01234", rec.URL)
	assert.Equal(t, "Robotics and Labour Markets", rec.Title)
	assert.Equal(t, "We study how warehouse robots displace workers.", rec.Text)
	assert.Equal(t, "arXiv", rec.Source)
	assert.Equal(t, "robotics", rec.Sector)
	assert.Equal(t, "2026-03-13", rec.PublishedAt)
}

func TestArxivAdapter_HTTPError(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer ts.Close()

	old := arxivAPIBase
	arxivAPIBase = ts.URL
	defer func() { arxivAPIBase = old }()

	a := NewArxivAdapter(ts.Client(), types.HTTPConfig{}, types.ArxivConfig{}, nil)
	n, err := a.Fetch(context.Background(), newMemSink(), testRequest("robotics"))
	assert.Zero(t, n)
	var se *httputil.StatusError
	assert.True(t, errors.As(err, &se))
}

// --- Guardian ---

func guardianJSON(status string, pages int, items ...string) string {
	return fmt.Sprintf(`{"response":{"status":%q,"pages":%d,"results":[%s]}}`, status, pages, strings.Join(items, ","))
}

func guardianItemJSON(url, title, date, body, trail string) string {
	return fmt.Sprintf(`{"webUrl":%q,"webTitle":%q,"webPublicationDate":%q,"fields":{"bodyText":%q,"trailText":%q}}`,
		url, title, date, body, trail)
}

func TestGuardianAdapter_Fetch(t *testing.T) {
	var apiKey, section string
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		apiKey = r.URL.Query().Get("api-key")
		section = r.URL.Query().Get("section")
		assert.Equal(t, "2026-03-08", r.URL.Query().Get("from-date"))
		assert.Equal(t, "2026-03-15", r.URL.Query().Get("to-date"))
		assert.Equal(t, "bodyText,trailText", r.URL.Query().Get("show-fields"))
		fmt.Fprint(w, guardianJSON("ok", 1,
			guardianItemJSON("https://www.theguardian.com/a", "Body article", "2026-03-14T08:00:00Z", longText("body"), ""),
			guardianItemJSON("https://www.theguardian.com/b", "Trail article", "2026-03-13T08:00:00Z", "", "<p>"+longText("trail")+"</p>"),
			guardianItemJSON("https://www.theguardian.com/c", "Short article", "2026-03-13T08:00:00Z", "too short", ""),
			guardianItemJSON("https://www.theguardian.com/d", "Old article", "2026-02-01T08:00:00Z", longText("old"), ""),
			guardianItemJSON("https://www.theguardian.com/e", "Dup article", "2026-03-14T08:00:00Z", longText("dup"), ""),
			guardianItemJSON("https://www.theguardian.com/f", "Bad date", "soon", longText("bad"), ""),
		))
	}))
	defer ts.Close()

	old := guardianAPIBase
	guardianAPIBase = ts.URL
	defer func() { guardianAPIBase = old }()

	sink := newMemSink("https://www.theguardian.com/e")
	a := NewGuardianAdapter(ts.Client(), types.HTTPConfig{}, types.GuardianConfig{APIKey: "secret"}, nil)

	n, err := a.Fetch(context.Background(), sink, testRequest("robotics"))
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	assert.Equal(t, "secret", apiKey)
	assert.Equal(t, "technology", section)
	assert.Equal(t, []string{"https://www.theguardian.com/a", "https://www.theguardian.com/b"}, sink.urls())

	assert.Equal(t, "The Guardian", sink.records[0].Source)
	assert.Equal(t, "2026-03-14", sink.records[0].PublishedAt)
	assert.NotContains(t, sink.records[1].Text, "<p>")
}

func TestGuardianAdapter_StatusNotOK(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		fmt.Fprint(w, guardianJSON("error", 0))
	}))
	defer ts.Close()

	old := guardianAPIBase
	guardianAPIBase = ts.URL
	defer func() { guardianAPIBase = old }()

	a := NewGuardianAdapter(ts.Client(), types.HTTPConfig{}, types.GuardianConfig{APIKey: "k"}, nil)
	n, err := a.Fetch(context.Background(), newMemSink(), testRequest("robotics"))
	assert.Zero(t, n)
	assert.ErrorContains(t, err, `status "error"`)
}

func TestGuardianAdapter_MissingKey(t *testing.T) {
	a := NewGuardianAdapter(http.DefaultClient, types.HTTPConfig{}, types.GuardianConfig{}, nil)
	_, err := a.Fetch(context.Background(), newMemSink(), testRequest("robotics"))
	assert.ErrorIs(t, err, ErrMissingAPIKey)
}

// --- NYT ---

func nytDocJSON(url, headline, date, snippet, lead string) string {
	return fmt.Sprintf(`{"web_url":%q,"headline":{"main":%q},"pub_date":%q,"snippet":%q,"lead_paragraph":%q}`,
		url, headline, date, snippet, lead)
}

func TestNYTAdapter_Fetch(t *testing.T) {
	var calls int32
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		assert.Equal(t, `news_desk:("Technology")`, r.URL.Query().Get("fq"))
		assert.Equal(t, "20260308", r.URL.Query().Get("begin_date"))
		assert.Equal(t, "20260315", r.URL.Query().Get("end_date"))
		if r.URL.Query().Get("page") != "0" {
			fmt.Fprint(w, `{"status":"OK","response":{"docs":[]}}`)
			return
		}
		fmt.Fprintf(w, `{"status":"OK","response":{"docs":[%s]}}`, strings.Join([]string{
			nytDocJSON("https://www.nytimes.com/full.html", "Full text", "2026-03-14T10:00:00+0000", "s", "l"),
			nytDocJSON("https://www.nytimes.com/fallback.html", "Fallback", "2026-03-13T10:00:00Z", "A snippet.", longText("lead")),
			nytDocJSON("https://www.nytimes.com/short.html", "Short", "2026-03-13T10:00:00+0000", "tiny", "tiny"),
			nytDocJSON("https://www.nytimes.com/baddate.html", "Bad date", "March 13", "x", longText("x")),
		}, ","))
	}))
	defer ts.Close()

	old := nytAPIBase
	nytAPIBase = ts.URL
	defer func() { nytAPIBase = old }()

	extractor := stubExtractor{"https://www.nytimes.com/full.html": longText("extracted")}
	a := NewNYTAdapter(ts.Client(), types.HTTPConfig{},
		types.NYTConfig{APIKey: "k", FetchFullText: true}, extractor, nil)

	sink := newMemSink()
	n, err := a.Fetch(context.Background(), sink, testRequest("ai decision-making"))
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	assert.Equal(t, int32(2), atomic.LoadInt32(&calls), "empty second page ends the loop")

	require.Len(t, sink.records, 2)
	assert.True(t, strings.HasPrefix(sink.records[0].Text, "extracted"))
	assert.True(t, strings.HasPrefix(sink.records[1].Text, "A snippet.\n\nlead"))
	assert.Equal(t, "New York Times", sink.records[1].Source)
	assert.Equal(t, "2026-03-13", sink.records[1].PublishedAt)
	assert.Equal(t, "ai decision-making", sink.records[1].Sector)
}

func TestNYTAdapter_RateLimitAbortsTopic(t *testing.T) {
	var calls int32
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer ts.Close()

	old := nytAPIBase
	nytAPIBase = ts.URL
	defer func() { nytAPIBase = old }()

	a := NewNYTAdapter(ts.Client(), types.HTTPConfig{},
		types.NYTConfig{APIKey: "k", Pacing: types.PacingConfig{RateLimitBackoff: time.Millisecond}}, nil, nil)

	n, err := a.Fetch(context.Background(), newMemSink(), testRequest("robotics"))
	assert.Zero(t, n)
	assert.ErrorIs(t, err, httputil.ErrRateLimited)
	assert.Equal(t, int32(1), atomic.LoadInt32(&calls))
	assert.NotContains(t, err.Error(), "api-key")
}

func TestNYTAdapter_StopsAtPageLimit(t *testing.T) {
	var calls int32
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		page := r.URL.Query().Get("page")
		fmt.Fprintf(w, `{"status":"OK","response":{"docs":[%s]}}`,
			nytDocJSON("https://www.nytimes.com/p"+page+".html", "Page "+page, "2026-03-14T10:00:00+0000", "s", longText("p")))
	}))
	defer ts.Close()

	old := nytAPIBase
	nytAPIBase = ts.URL
	defer func() { nytAPIBase = old }()

	a := NewNYTAdapter(ts.Client(), types.HTTPConfig{}, types.NYTConfig{APIKey: "k", PageLimit: 3}, nil, nil)
	n, err := a.Fetch(context.Background(), newMemSink(), testRequest("robotics"))
	require.NoError(t, err)
	assert.Equal(t, 3, n)
	assert.Equal(t, int32(3), atomic.LoadInt32(&calls))
}

// --- extraction ---

func TestReadabilityExtractor(t *testing.T) {
	page := `<html><head><title>Warehouse robots</title></head><body>
<nav>Home | Tech | Science</nav>
<article>
<h1>Warehouse robots reshape work</h1>
<p>Automated warehouses are changing how logistics workers spend their shifts, with robots handling most of the lifting.</p>
<p>Workers report faster quotas and more monitoring, and unions say injury rates have not fallen as promised by vendors.</p>
<p>Economists warn that the savings flow mostly to operators while wages in the sector stay flat across regions.</p>
</article>
<footer>Copyright</footer>
</body></html>`
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		fmt.Fprint(w, page)
	}))
	defer ts.Close()

	e := &ReadabilityExtractor{Client: ts.Client(), UserAgent: "test/0.1"}
	text, err := e.Extract(context.Background(), ts.URL+"/article")
	require.NoError(t, err)
	assert.Contains(t, text, "Automated warehouses are changing")
}

func TestReadabilityExtractor_NotFound(t *testing.T) {
	ts := httptest.NewServer(http.NotFoundHandler())
	defer ts.Close()

	e := &ReadabilityExtractor{Client: ts.Client()}
	_, err := e.Extract(context.Background(), ts.URL)
	assert.Error(t, err)
}
