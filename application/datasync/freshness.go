package datasync

import (
	"context"
	"time"

	"go.uber.org/zap"
)

// freshnessLoop periodically sweeps every watched entity and refreshes
// the stale ones in the background. The sweep never blocks consumers and
// never clears a displayed value; a failing refresh only lands in the
// error slot.
func (c *Client) freshnessLoop(ctx context.Context) {
	defer c.wg.Done()

	interval := c.currentRefreshInterval()
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	c.logger.Debug("freshness monitor started", zap.Duration("interval", interval))

	for {
		select {
		case <-ctx.Done():
			return
		case <-c.stopCh:
			return
		case <-ticker.C:
			c.sweep()

			// Pick up dynamic interval changes between sweeps.
			if next := c.currentRefreshInterval(); next != interval && next > 0 {
				interval = next
				ticker.Reset(interval)
				c.logger.Debug("freshness interval updated", zap.Duration("interval", interval))
			}
		}
	}
}

// sweep refreshes every watched entity whose entry has outlived its
// staleness threshold.
func (c *Client) sweep() {
	now := c.clock()
	for _, in := range c.watchedInterests() {
		_, fetchedAt, ok := c.store.Get(in.kind, in.id)
		if ok && now.Sub(fetchedAt) < c.ttlFor(in.kind) {
			continue
		}
		c.refreshAsync(in.kind, in.id)
	}
}
