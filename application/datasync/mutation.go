package datasync

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"pulsedesk-sync/application/ports"
	"pulsedesk-sync/domain/entities"
	pkgerrors "pulsedesk-sync/pkg/errors"
)

// keyedMutex serializes optimistic mutations per entity id. Overlapping
// mutations on one id queue behind each other, so a later mutation always
// snapshots the settled value of the earlier one and a rollback can never
// revert past an intermediate accepted state.
type keyedMutex struct {
	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

func (k *keyedMutex) lock(key string) *sync.Mutex {
	k.mu.Lock()
	defer k.mu.Unlock()
	if k.locks == nil {
		k.locks = make(map[string]*sync.Mutex)
	}
	m, ok := k.locks[key]
	if !ok {
		m = &sync.Mutex{}
		k.locks[key] = m
	}
	return m
}

// mutateEntity runs one optimistic mutation cycle: snapshot, apply the
// proposed value locally as if it had already succeeded, issue the remote
// call under the write retry schedule, then commit the server's
// authoritative value or restore the snapshot verbatim.
func mutateEntity[T entities.Entity](ctx context.Context, c *Client, kind entities.Kind, id string, optimistic T, payload interface{}) (T, error) {
	var zero T
	key := Key(kind, id)

	mu := c.muts.lock(key)
	mu.Lock()
	defer mu.Unlock()

	storeSnap := c.store.Snapshot(kind, id)
	cacheSnap, cacheHad := c.cache.Read(key)

	// Applying: the optimistic value becomes visible immediately.
	appliedAt := c.clock()
	c.store.Set(kind, id, optimistic, appliedAt)
	if raw, err := json.Marshal(optimistic); err == nil {
		c.cache.Write(key, ports.CacheEntry{Data: raw, FetchedAt: appliedAt})
	}

	var raw json.RawMessage
	err := retryWithBackoff(ctx, c.mutationRetry, c.sleep, nil, func() error {
		r, merr := c.gateway.Mutate(ctx, kind, id, payload)
		if merr != nil {
			return merr
		}
		raw = r
		return nil
	})

	if err == nil {
		var value T
		value, err = decodeEntity[T](raw)
		if err == nil {
			// Committed: server-computed fields win over the optimistic value.
			committedAt := c.clock()
			c.store.Set(kind, id, value, committedAt)
			c.cache.Write(key, ports.CacheEntry{Data: raw, FetchedAt: committedAt})
			c.metrics.Commits.Inc()
			return value, nil
		}
	}

	// RolledBack: restore the pre-mutation state verbatim and surface the
	// error so the UI can present the failure.
	c.rollback(kind, id, key, storeSnap, cacheSnap, cacheHad)
	c.metrics.Rollbacks.Inc()
	c.logger.Warn("optimistic mutation rolled back",
		zap.String("kind", string(kind)),
		zap.String("id", id),
		zap.Error(err),
	)
	return zero, err
}

func (c *Client) rollback(kind entities.Kind, id, key string, storeSnap Snapshot, cacheSnap ports.CacheEntry, cacheHad bool) {
	c.store.Restore(kind, id, storeSnap)
	if cacheHad {
		c.cache.Write(key, cacheSnap)
	} else {
		c.cache.Remove(key)
	}
}

// UpdateHealthScore optimistically sets a customer's health score and
// reconciles with the server's authoritative value.
func (c *Client) UpdateHealthScore(ctx context.Context, customerID string, score int) (entities.HealthScore, error) {
	if score < 0 || score > 100 {
		return entities.HealthScore{}, pkgerrors.NewValidationError("health score must be between 0 and 100")
	}

	current, err := c.HealthScore(ctx, customerID)
	if err != nil {
		return entities.HealthScore{}, pkgerrors.Wrap(err, "loading current health score")
	}

	optimistic := current
	optimistic.Score = score
	optimistic.RecordedAt = c.clock()

	payload := map[string]interface{}{"score": score}
	return mutateEntity[entities.HealthScore](ctx, c, entities.KindHealthScore, customerID, optimistic, payload)
}

// UpdateRiskScore optimistically sets a risk assessment's score. The risk
// level is bucketed locally for immediate display; the server's derived
// level replaces it on commit.
func (c *Client) UpdateRiskScore(ctx context.Context, assessmentID string, score int) (entities.RiskAssessment, error) {
	if score < 0 || score > 100 {
		return entities.RiskAssessment{}, pkgerrors.NewValidationError("risk score must be between 0 and 100")
	}

	current, err := c.RiskAssessment(ctx, assessmentID)
	if err != nil {
		return entities.RiskAssessment{}, pkgerrors.Wrap(err, "loading current risk assessment")
	}

	optimistic := current
	optimistic.Score = score
	optimistic.Level = levelForScore(score)
	optimistic.AssessedAt = c.clock()

	payload := map[string]interface{}{"score": score}
	return mutateEntity[entities.RiskAssessment](ctx, c, entities.KindRiskAssessment, assessmentID, optimistic, payload)
}

func levelForScore(score int) entities.RiskLevel {
	switch {
	case score < 25:
		return entities.RiskLow
	case score < 50:
		return entities.RiskMedium
	case score < 75:
		return entities.RiskHigh
	default:
		return entities.RiskCritical
	}
}

// RecordInteraction appends a touchpoint to a customer's history. The
// write is optimistic; when the client is offline (or the call fails with
// a connectivity error) the interaction is queued for durable replay
// instead of rolling back, and queued=true is returned.
func (c *Client) RecordInteraction(ctx context.Context, in entities.Interaction) (out entities.Interaction, queued bool, err error) {
	if in.ID == "" {
		in.ID = uuid.New().String()
	}
	if in.OccurredAt.IsZero() {
		in.OccurredAt = c.clock()
	}
	if err := in.Validate(); err != nil {
		return in, false, err
	}

	listKind := entities.KindInteractionList
	listKey := Key(listKind, in.CustomerID)

	mu := c.muts.lock(listKey)
	mu.Lock()
	defer mu.Unlock()

	storeSnap := c.store.Snapshot(listKind, in.CustomerID)
	cacheSnap, cacheHad := c.cache.Read(listKey)

	// Optimistic append when the history is already loaded.
	if list, ok := storeSnap.Value.(entities.InteractionList); storeSnap.Exists && ok {
		updated := entities.InteractionList{
			CustomerID: list.CustomerID,
			Items:      append(append([]entities.Interaction{}, list.Items...), in),
		}
		appliedAt := c.clock()
		c.store.Set(listKind, in.CustomerID, updated, appliedAt)
		if raw, merr := json.Marshal(updated); merr == nil {
			c.cache.Write(listKey, ports.CacheEntry{Data: raw, FetchedAt: appliedAt})
		}
	}

	if !c.online() {
		if qerr := c.enqueueInteraction(ctx, in); qerr != nil {
			c.rollback(listKind, in.CustomerID, listKey, storeSnap, cacheSnap, cacheHad)
			return in, false, qerr
		}
		return in, true, nil
	}

	var raw json.RawMessage
	err = retryWithBackoff(ctx, c.mutationRetry, c.sleep, nil, func() error {
		r, merr := c.gateway.Mutate(ctx, entities.KindInteraction, in.ID, in)
		if merr != nil {
			return merr
		}
		raw = r
		return nil
	})
	if err != nil {
		if pkgerrors.IsConnectivity(err) && c.queue != nil {
			if qerr := c.enqueueInteraction(ctx, in); qerr == nil {
				return in, true, nil
			}
		}
		c.rollback(listKind, in.CustomerID, listKey, storeSnap, cacheSnap, cacheHad)
		c.metrics.Rollbacks.Inc()
		return in, false, err
	}

	server, derr := decodeEntity[entities.Interaction](raw)
	if derr != nil {
		c.rollback(listKind, in.CustomerID, listKey, storeSnap, cacheSnap, cacheHad)
		c.metrics.Rollbacks.Inc()
		return in, false, derr
	}
	c.metrics.Commits.Inc()

	// Evict the cached history so the next read refetches the
	// authoritative list including server-assigned fields.
	c.cache.Remove(listKey)
	c.refreshAsync(listKind, in.CustomerID)
	return server, false, nil
}

func (c *Client) enqueueInteraction(ctx context.Context, in entities.Interaction) error {
	if c.queue == nil {
		return pkgerrors.NewConnectivityError("offline and no replay queue configured", nil)
	}
	payload, err := json.Marshal(in)
	if err != nil {
		return pkgerrors.NewInternalError("encoding interaction for replay").WithCause(err)
	}
	qm := ports.QueuedMutation{
		ID:         in.ID,
		Kind:       entities.KindInteraction,
		EntityID:   in.ID,
		Payload:    payload,
		EnqueuedAt: c.clock(),
	}
	if err := c.queue.Enqueue(ctx, qm); err != nil {
		return pkgerrors.Wrap(err, "queueing interaction for replay")
	}
	c.logger.Info("interaction queued for offline replay",
		zap.String("interactionID", in.ID),
		zap.String("customerID", in.CustomerID),
	)
	return nil
}
