// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package httputil

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pdiddy/consequence-pipeline/pkg/types"
)

func init() {
	RetryBaseDelay = 1 * time.Millisecond
}

// statusSequence serves the given codes in order, then repeats the last one.
func statusSequence(calls *int32, codes ...int) http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		n := int(atomic.AddInt32(calls, 1))
		if n > len(codes) {
			n = len(codes)
		}
		w.WriteHeader(codes[n-1])
	}
}

func TestDoWithRetry(t *testing.T) {
	tests := []struct {
		name       string
		codes      []int
		maxRetries int
		wantStatus int
		wantCalls  int32
	}{
		{"immediate success", []int{200}, 5, 200, 1},
		{"429 then 200", []int{429, 429, 200}, 5, 200, 3},
		{"503 then 200", []int{503, 200}, 5, 200, 2},
		{"exhausts retries", []int{429}, 2, 429, 3},
		{"default retries", []int{429}, 0, 429, 4},
		{"500 passes through", []int{500}, 5, 500, 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var calls int32
			ts := httptest.NewServer(statusSequence(&calls, tt.codes...))
			defer ts.Close()

			req, err := http.NewRequest(http.MethodGet, ts.URL, nil)
			require.NoError(t, err)

			resp, err := DoWithRetry(context.Background(), ts.Client(), req, tt.maxRetries)
			require.NoError(t, err)
			defer resp.Body.Close()

			assert.Equal(t, tt.wantStatus, resp.StatusCode)
			assert.Equal(t, tt.wantCalls, atomic.LoadInt32(&calls))
		})
	}
}

func TestDoWithRetry_ContextCancelled(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer ts.Close()

	old := RetryBaseDelay
	RetryBaseDelay = 500 * time.Millisecond
	defer func() { RetryBaseDelay = old }()

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()

	req, err := http.NewRequest(http.MethodGet, ts.URL, nil)
	require.NoError(t, err)

	_, err = DoWithRetry(ctx, ts.Client(), req, 5)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestDoWithRetry_ReplaysBody(t *testing.T) {
	var calls int32
	var bodies []string
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		b, _ := io.ReadAll(r.Body)
		bodies = append(bodies, string(b))
		if atomic.AddInt32(&calls, 1) == 1 {
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		w.WriteHeader(http.StatusCreated)
	}))
	defer ts.Close()

	req, err := http.NewRequest(http.MethodPost, ts.URL, strings.NewReader(`{"url":"x"}`))
	require.NoError(t, err)

	resp, err := DoWithRetry(context.Background(), ts.Client(), req, 2)
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusCreated, resp.StatusCode)
	assert.Equal(t, []string{`{"url":"x"}`, `{"url":"x"}`}, bodies)
}

func TestDoWithRetry_WriteNotRetriedOn503(t *testing.T) {
	var calls int32
	ts := httptest.NewServer(statusSequence(&calls, 503, 201))
	defer ts.Close()

	req, err := http.NewRequest(http.MethodPost, ts.URL, strings.NewReader(`{"url":"x"}`))
	require.NoError(t, err)

	resp, err := DoWithRetry(context.Background(), ts.Client(), req, 3)
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
	assert.Equal(t, int32(1), atomic.LoadInt32(&calls))
}

func TestRetryable(t *testing.T) {
	assert.True(t, retryable(http.MethodGet, 429))
	assert.True(t, retryable(http.MethodPost, 429))
	assert.True(t, retryable(http.MethodGet, 503))
	assert.True(t, retryable(http.MethodHead, 503))
	assert.False(t, retryable(http.MethodPost, 503))
	assert.False(t, retryable(http.MethodGet, 500))
}

func TestRetryAfter(t *testing.T) {
	assert.Equal(t, 3*time.Second, retryAfter("3"))
	assert.Equal(t, maxRetryAfter, retryAfter("3600"))
	assert.Zero(t, retryAfter(""))
	assert.Zero(t, retryAfter("Wed, 21 Oct 2015 07:28:00 GMT"))
}

func TestCheckStatus(t *testing.T) {
	mk := func(code int, body string) *http.Response {
		return &http.Response{StatusCode: code, Body: io.NopCloser(strings.NewReader(body))}
	}

	assert.NoError(t, CheckStatus(mk(200, "")))
	assert.NoError(t, CheckStatus(mk(201, "")))

	err := CheckStatus(mk(429, ""))
	assert.ErrorIs(t, err, ErrRateLimited)

	err = CheckStatus(mk(502, "  bad gateway \n"))
	var se *StatusError
	require.True(t, errors.As(err, &se))
	assert.Equal(t, 502, se.Code)
	assert.Equal(t, "HTTP 502: bad gateway", se.Error())
	assert.False(t, errors.Is(err, ErrRateLimited))
}

func TestPacer(t *testing.T) {
	ctx := context.Background()

	t.Run("zero interval does not block", func(t *testing.T) {
		p := NewPacer(types.PacingConfig{})
		start := time.Now()
		for i := 0; i < 5; i++ {
			require.NoError(t, p.Wait(ctx))
		}
		assert.Less(t, time.Since(start), 50*time.Millisecond)
		assert.NoError(t, p.Backoff(ctx))
	})

	t.Run("interval spaces requests", func(t *testing.T) {
		p := NewPacer(types.PacingConfig{Interval: 30 * time.Millisecond})
		start := time.Now()
		for i := 0; i < 3; i++ {
			require.NoError(t, p.Wait(ctx))
		}
		assert.GreaterOrEqual(t, time.Since(start), 50*time.Millisecond)
	})

	t.Run("backoff honours cancellation", func(t *testing.T) {
		p := NewPacer(types.PacingConfig{RateLimitBackoff: time.Minute})
		cctx, cancel := context.WithTimeout(ctx, 20*time.Millisecond)
		defer cancel()
		assert.ErrorIs(t, p.Backoff(cctx), context.DeadlineExceeded)
	})
}
