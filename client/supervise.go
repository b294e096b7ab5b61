package client

import (
	"context"
	"time"

	"go.uber.org/zap"
)

// Supervise starts the module and runs it until ctx is done. If
// Restart.Enabled is set, a module that fails to start or dies is started
// again after an exponential backoff between Restart.MinBackoff and
// Restart.MaxBackoff; otherwise the first failure is returned. It returns nil
// once ctx is done.
func (m *ExternalModule) Supervise(ctx context.Context) error {
	backoff := m.cfg.Restart.MinBackoff

	for {
		started := time.Now()
		err := m.Start(ctx)
		if err == nil {
			err = m.Run(ctx)
		}
		if ctx.Err() != nil {
			return nil
		}
		if !m.cfg.Restart.Enabled {
			return err
		}

		// A session that stayed up longer than the maximum backoff resets it.
		if time.Since(started) > m.cfg.Restart.MaxBackoff {
			backoff = m.cfg.Restart.MinBackoff
		}
		m.opts.logger.Warn("Restarting module", zap.Duration("backoff", backoff), zap.Error(err))

		timer := time.NewTimer(backoff)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil
		case <-timer.C:
		}

		backoff *= 2
		if backoff > m.cfg.Restart.MaxBackoff {
			backoff = m.cfg.Restart.MaxBackoff
		}
	}
}
