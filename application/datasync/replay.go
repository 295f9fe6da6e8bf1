package datasync

import (
	"context"
	"encoding/json"
	"time"

	"go.uber.org/zap"

	"pulsedesk-sync/application/ports"
	"pulsedesk-sync/domain/entities"
	pkgerrors "pulsedesk-sync/pkg/errors"
)

const replayBatchSize = 25

// replayLoop drains the durable offline queue whenever the client
// believes it is online. Each queued mutation gets a bounded number of
// delivery attempts before it is dropped with a log line.
func (c *Client) replayLoop(ctx context.Context) {
	defer c.wg.Done()

	ticker := time.NewTicker(c.replayInterval)
	defer ticker.Stop()

	c.logger.Debug("replay processor started", zap.Duration("interval", c.replayInterval))

	for {
		select {
		case <-ctx.Done():
			return
		case <-c.stopCh:
			return
		case <-ticker.C:
			if !c.online() {
				continue
			}
			if err := c.drainReplayQueue(ctx); err != nil {
				c.logger.Warn("replay batch failed", zap.Error(err))
			}
		}
	}
}

func (c *Client) drainReplayQueue(ctx context.Context) error {
	pending, err := c.queue.Pending(ctx, replayBatchSize)
	if err != nil {
		return pkgerrors.Wrap(err, "reading replay queue")
	}

	for _, m := range pending {
		if err := c.replayOne(ctx, m); err != nil {
			// Connectivity dropped mid-drain; leave the rest queued.
			if pkgerrors.IsConnectivity(err) {
				return nil
			}
		}
	}
	return nil
}

func (c *Client) replayOne(ctx context.Context, m ports.QueuedMutation) error {
	if m.Attempts >= c.replayMaxAttempts {
		c.logger.Error("dropping queued mutation after max attempts",
			zap.String("mutationID", m.ID),
			zap.String("kind", string(m.Kind)),
			zap.Int("attempts", m.Attempts),
		)
		return c.queue.MarkDone(ctx, m.ID)
	}

	var payload interface{}
	if err := json.Unmarshal(m.Payload, &payload); err != nil {
		c.logger.Error("dropping undecodable queued mutation",
			zap.String("mutationID", m.ID),
			zap.Error(err),
		)
		return c.queue.MarkDone(ctx, m.ID)
	}

	_, err := c.gateway.Mutate(ctx, m.Kind, m.EntityID, payload)
	if err != nil {
		if markErr := c.queue.MarkFailed(ctx, m.ID); markErr != nil {
			c.logger.Warn("marking queued mutation failed", zap.Error(markErr))
		}
		return err
	}

	if err := c.queue.MarkDone(ctx, m.ID); err != nil {
		return pkgerrors.Wrap(err, "acknowledging replayed mutation")
	}
	c.metrics.ReplaysDrained.Inc()

	// A replayed interaction invalidates its customer's cached history.
	if m.Kind == entities.KindInteraction {
		var in entities.Interaction
		if err := json.Unmarshal(m.Payload, &in); err == nil && in.CustomerID != "" {
			c.cache.Remove(Key(entities.KindInteractionList, in.CustomerID))
		}
	}

	c.logger.Info("queued mutation replayed",
		zap.String("mutationID", m.ID),
		zap.String("kind", string(m.Kind)),
	)
	return nil
}
