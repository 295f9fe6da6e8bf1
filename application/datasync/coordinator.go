package datasync

import (
	"context"
	"encoding/json"
	"net/url"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"pulsedesk-sync/application/ports"
	"pulsedesk-sync/domain/entities"
	pkgerrors "pulsedesk-sync/pkg/errors"
)

// flightGroup deduplicates concurrent fetches per request key. Registry
// entries are removed unconditionally when the underlying call settles,
// so a failed flight can never block future requests for the same key.
type flightGroup = singleflight.Group

// fetchEntity is the read path. Order of preference:
//
//  1. fresh value already in the store — returned synchronously;
//  2. fresh value in the durable cache — seeded into the store, returned;
//  3. stale value anywhere — returned synchronously while a background
//     refresh runs (stale-while-revalidate);
//  4. nothing known — block on a coordinated fetch.
func fetchEntity[T entities.Entity](ctx context.Context, c *Client, kind entities.Kind, id string, params url.Values) (T, error) {
	var zero T
	key := Key(kind, id)
	ttl := c.ttlFor(kind)
	now := c.clock()

	if v, fetchedAt, ok := c.store.Get(kind, id); ok {
		value, castOK := v.(T)
		if !castOK {
			return zero, pkgerrors.NewInternalError("store holds mismatched type for " + key)
		}
		if now.Sub(fetchedAt) < ttl {
			c.metrics.CacheHits.Inc()
			return value, nil
		}
		c.refreshAsync(kind, id)
		c.metrics.CacheHits.Inc()
		return value, nil
	}

	if entry, ok := c.cache.Read(key); ok {
		value, err := decodeEntity[T](entry.Data)
		if err != nil {
			// Corrupt or schema-drifted entry: discard and fall through
			// to a network fetch.
			c.logger.Warn("discarding unreadable cache entry", zap.String("key", key), zap.Error(err))
			c.cache.Remove(key)
		} else {
			c.store.Set(kind, id, value, entry.FetchedAt)
			if entry.IsFresh(now, ttl) {
				c.metrics.CacheHits.Inc()
				return value, nil
			}
			c.refreshAsync(kind, id)
			c.metrics.CacheHits.Inc()
			return value, nil
		}
	}

	c.metrics.CacheMisses.Inc()
	return doFetch[T](ctx, c, kind, id, params)
}

// refreshAsync kicks a non-blocking coordinated refresh. Errors land in
// the store's error slot; the displayed value is never cleared.
func (c *Client) refreshAsync(kind entities.Kind, id string) {
	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
		defer cancel()
		if err := c.Refresh(ctx, kind, id); err != nil {
			c.logger.Debug("background refresh failed",
				zap.String("kind", string(kind)),
				zap.String("id", id),
				zap.Error(err),
			)
		}
	}()
}

// doFetch always goes to the network, joining an in-flight request for
// the same key when one exists. The shared request runs to completion on
// a detached context: a caller abandoning its wait does not cancel other
// callers' result.
func doFetch[T entities.Entity](ctx context.Context, c *Client, kind entities.Kind, id string, params url.Values) (T, error) {
	var zero T
	key := Key(kind, id)

	resCh := c.flights.DoChan(key, func() (interface{}, error) {
		fctx := context.WithoutCancel(ctx)

		c.store.SetLoading(kind, id, true)
		defer c.store.SetLoading(kind, id, false)

		var raw json.RawMessage
		err := retryWithBackoff(fctx, c.retry, c.sleep, c.metrics.FetchRetries.Inc, func() error {
			r, ferr := c.gateway.Fetch(fctx, kind, id, params)
			if ferr != nil {
				return ferr
			}
			raw = r
			return nil
		})
		if err != nil {
			c.metrics.FetchFailures.Inc()
			c.store.SetError(kind, id, err)
			return nil, err
		}

		value, err := decodeEntity[T](raw)
		if err != nil {
			c.metrics.FetchFailures.Inc()
			c.store.SetError(kind, id, err)
			return nil, err
		}

		fetchedAt := c.clock()
		c.store.Set(kind, id, value, fetchedAt)
		c.cache.Write(key, ports.CacheEntry{Data: raw, FetchedAt: fetchedAt})
		return value, nil
	})

	select {
	case <-ctx.Done():
		// Abandon the wait only; the shared flight keeps running for any
		// remaining callers and still lands in store and cache.
		return zero, ctx.Err()
	case res := <-resCh:
		if res.Err != nil {
			return zero, res.Err
		}
		if res.Shared {
			c.metrics.DedupJoins.Inc()
		}
		return res.Val.(T), nil
	}
}

// decodeEntity unmarshals and validates a server payload at the fetch
// boundary, so malformed data is rejected before it can enter any cache.
func decodeEntity[T entities.Entity](raw json.RawMessage) (T, error) {
	var v T
	if err := json.Unmarshal(raw, &v); err != nil {
		return v, pkgerrors.NewValidationError("malformed entity payload").WithCause(err)
	}
	if err := v.Validate(); err != nil {
		return v, err
	}
	return v, nil
}
