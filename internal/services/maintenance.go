package services

import (
	"context"
	"log/slog"
	"time"
)

// Purger drops expired cache entries
type Purger interface {
	Purge()
}

// DefaultPurgeInterval is how often expired enrichment entries are dropped
const DefaultPurgeInterval = 10 * time.Minute

// CachePurger periodically purges an enrichment cache
type CachePurger struct {
	purger   Purger
	interval time.Duration
	logger   *slog.Logger
}

// NewCachePurger creates a purger. A non-positive interval selects the default.
func NewCachePurger(p Purger, interval time.Duration, logger *slog.Logger) *CachePurger {
	if interval <= 0 {
		interval = DefaultPurgeInterval
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &CachePurger{purger: p, interval: interval, logger: logger}
}

// Start runs the purge loop until ctx is cancelled
func (c *CachePurger) Start(ctx context.Context) {
	c.logger.Info("cache purger started", slog.Duration("interval", c.interval))

	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			c.logger.Info("cache purger stopped")
			return
		case <-ticker.C:
			c.purger.Purge()
		}
	}
}
