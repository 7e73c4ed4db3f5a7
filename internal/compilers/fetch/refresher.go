package fetch

import (
	"context"
	"log/slog"
	"time"
)

// Refreshable is a source whose version set can be reloaded.
type Refreshable interface {
	Refresh(ctx context.Context) (bool, error)
}

// Refresher periodically reloads a source's version set.
type Refresher struct {
	source   Refreshable
	language string
	interval time.Duration
	logger   *slog.Logger
}

// NewRefresher creates a refresher. Run does nothing if interval is not positive.
func NewRefresher(source Refreshable, language string, interval time.Duration, logger *slog.Logger) *Refresher {
	return &Refresher{
		source:   source,
		language: language,
		interval: interval,
		logger:   logger,
	}
}

// Run refreshes on every tick until ctx is cancelled. Failures are logged and
// the previous version set stays in use.
func (r *Refresher) Run(ctx context.Context) {
	if r.interval <= 0 {
		return
	}

	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			changed, err := r.source.Refresh(ctx)
			if err != nil {
				r.logger.Warn("compiler list refresh failed", "language", r.language, "error", err)
				continue
			}
			if changed {
				r.logger.Info("compiler list updated", "language", r.language)
			}
		}
	}
}
