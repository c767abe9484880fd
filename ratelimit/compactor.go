package ratelimit

import (
	"context"
	"fmt"

	"github.com/meghashyamc/linefinder/logger"
	"github.com/robfig/cron/v3"
)

// Compactor periodically runs Compact so that keys of clients that stopped
// sending requests do not accumulate.
type Compactor struct {
	cron    *cron.Cron
	limiter *Limiter
	logger  logger.Logger
}

// NewCompactor registers the limiter's compaction on schedule, which accepts
// cron expressions with seconds as well as descriptors like "@every 1m".
func NewCompactor(limiter *Limiter, schedule string, logger logger.Logger) (*Compactor, error) {
	c := &Compactor{
		cron:    cron.New(cron.WithSeconds()),
		limiter: limiter,
		logger:  logger,
	}

	if _, err := c.cron.AddFunc(schedule, c.compact); err != nil {
		return nil, fmt.Errorf("invalid compaction schedule %q: %w", schedule, err)
	}

	return c, nil
}

func (c *Compactor) Start() {
	c.cron.Start()
	c.logger.Info("rate limit compactor started")
}

// Stop waits for a running compaction to finish or ctx to expire.
func (c *Compactor) Stop(ctx context.Context) error {
	stopCtx := c.cron.Stop()

	select {
	case <-stopCtx.Done():
		c.logger.Info("rate limit compactor stopped")
		return nil
	case <-ctx.Done():
		c.logger.Warn("rate limit compactor stop timeout")
		return ctx.Err()
	}
}

func (c *Compactor) compact() {
	removed := c.limiter.Compact()
	c.logger.Debug("compacted rate limit windows", "removed_keys", removed, "tracked_keys", c.limiter.Len())
}
