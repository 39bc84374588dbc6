// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package publish

import (
	"context"
	"log/slog"
	"sync"
)

// DryRunStore never writes. When Lookup is set, existence checks go to it
// so the counts match what a real run would do.
type DryRunStore struct {
	Lookup ProductionStore
	Logger *slog.Logger

	mu      sync.Mutex
	written []PublishedRecord
}

var _ Backend = (*DryRunStore)(nil)

func (s *DryRunStore) Exists(ctx context.Context, url string) (bool, error) {
	if s.Lookup != nil {
		return s.Lookup.Exists(ctx, url)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, r := range s.written {
		if r.URL == url {
			return true, nil
		}
	}
	return false, nil
}

func (s *DryRunStore) Insert(_ context.Context, rec PublishedRecord) error {
	logger := s.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger.Info("dry run: would publish", "url", rec.URL, "magazine", rec.Magazine, "sector", rec.Sector)

	s.mu.Lock()
	s.written = append(s.written, rec)
	s.mu.Unlock()
	return nil
}

// Records returns what would have been published.
func (s *DryRunStore) Records() []PublishedRecord {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]PublishedRecord(nil), s.written...)
}

func (s *DryRunStore) Close() error { return nil }
