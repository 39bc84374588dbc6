// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package httputil

import (
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
)

// ErrRateLimited marks an HTTP 429 from an upstream API.
var ErrRateLimited = errors.New("rate limited")

// StatusError is a non-2xx response that is not a rate limit.
type StatusError struct {
	Code int
	Body string
}

func (e *StatusError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("HTTP %d", e.Code)
	}
	return fmt.Sprintf("HTTP %d: %s", e.Code, e.Body)
}

const maxErrorBody = 512

// CheckStatus returns nil for 2xx responses. A 429 yields an error wrapping
// ErrRateLimited; any other status yields a *StatusError carrying the start
// of the body. The body is left open for the caller to close.
func CheckStatus(resp *http.Response) error {
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return nil
	}
	if resp.StatusCode == http.StatusTooManyRequests {
		return fmt.Errorf("HTTP %d: %w", resp.StatusCode, ErrRateLimited)
	}
	b, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
	return &StatusError{Code: resp.StatusCode, Body: strings.TrimSpace(string(b))}
}
