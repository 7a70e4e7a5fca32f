package encodings

import (
	"context"
	"log/slog"
	"time"
)

// RunRefresher reloads the store from its source every interval until ctx is done.
// Enrollments made through other instances become visible after the next reload.
func (s *Store) RunRefresher(ctx context.Context, interval time.Duration) error {
	if interval <= 0 {
		return nil
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if err := s.Load(ctx); err != nil {
				slog.Warn("encoding store refresh failed", "error", err)
				continue
			}
			slog.Debug("encoding store refreshed", "count", s.Len())
		}
	}
}
