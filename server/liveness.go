package server

import (
	"context"
	"time"

	"github.com/benbjohnson/clock"
	"go.uber.org/zap"

	"mediator/metric"
)

// livenessChecker ends the module process when its parent is gone, so a
// crashed host never leaves orphaned modules behind. It runs on its own
// goroutine and never touches pump state.
type livenessChecker struct {
	pid      int
	interval time.Duration
	clock    clock.Clock
	probe    func(pid int) bool
	exit     func(code int)
	logger   *zap.Logger
	metrics  *metric.Metrics
}

func (c *livenessChecker) run(ctx context.Context) {
	ticker := c.clock.Ticker(c.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			alive := c.probe(c.pid)
			c.metrics.ParentCheck(alive)
			if !alive {
				c.logger.Warn("Parent process is gone, terminating module", zap.Int("parent_pid", c.pid))
				_ = c.logger.Sync()
				c.exit(0)
				return
			}
		}
	}
}
