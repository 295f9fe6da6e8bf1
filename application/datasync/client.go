package datasync

import (
	"context"
	"net/url"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"pulsedesk-sync/application/ports"
	"pulsedesk-sync/domain/entities"
	pkgerrors "pulsedesk-sync/pkg/errors"
)

// Client is the synchronization layer facade: typed reads flow through
// the cache / store / coordinator path, writes through the optimistic
// mutation engine, and push notifications force coordinated refreshes.
// One Client holds all per-instance state, so tests build isolated
// instances with their own configuration.
type Client struct {
	logger  *zap.Logger
	gateway ports.Gateway
	cache   ports.Cache
	queue   ports.ReplayQueue
	store   *Store
	metrics *Metrics

	flights flightGroup
	muts    keyedMutex

	retry         RetryConfig
	mutationRetry RetryConfig
	clock         func() time.Time
	sleep         SleepFunc
	online        func() bool

	ttlMu sync.RWMutex
	ttl   map[entities.Kind]time.Duration

	refreshInterval   atomic.Int64 // nanoseconds
	replayInterval    time.Duration
	replayMaxAttempts int

	interestMu sync.Mutex
	interests  map[string]*interest

	pushMu sync.Mutex
	push   ports.PushChannel

	stopOnce sync.Once
	stopCh   chan struct{}
	wg       sync.WaitGroup
}

type interest struct {
	kind  entities.Kind
	id    string
	count int
}

// New wires a sync client. cache and queue may be nil; the client then
// runs memory-only and rejects offline queuing.
func New(gateway ports.Gateway, cache ports.Cache, queue ports.ReplayQueue, opts Options) *Client {
	opts = opts.withDefaults()
	if cache == nil {
		cache = noopCache{}
	}

	c := &Client{
		logger:            opts.Logger,
		gateway:           gateway,
		cache:             cache,
		queue:             queue,
		store:             NewStore(opts.Logger),
		metrics:           opts.Metrics,
		retry:             opts.Retry,
		mutationRetry:     opts.MutationRetry,
		clock:             opts.Clock,
		sleep:             opts.Sleep,
		online:            opts.Online,
		ttl:               opts.TTL,
		replayInterval:    opts.ReplayInterval,
		replayMaxAttempts: opts.ReplayMaxAttempts,
		interests:         make(map[string]*interest),
		stopCh:            make(chan struct{}),
	}
	c.refreshInterval.Store(int64(opts.RefreshInterval))
	return c
}

// Start launches the freshness monitor and the offline replay processor.
func (c *Client) Start(ctx context.Context) {
	c.wg.Add(1)
	go c.freshnessLoop(ctx)

	if c.queue != nil {
		c.wg.Add(1)
		go c.replayLoop(ctx)
	}

	c.logger.Info("sync client started",
		zap.Duration("refreshInterval", c.currentRefreshInterval()),
		zap.Duration("replayInterval", c.replayInterval),
	)
}

// Close stops background loops and the push channel, if attached.
func (c *Client) Close() {
	c.stopOnce.Do(func() { close(c.stopCh) })
	c.wg.Wait()

	c.pushMu.Lock()
	push := c.push
	c.push = nil
	c.pushMu.Unlock()
	if push != nil {
		if err := push.Close(); err != nil {
			c.logger.Warn("closing push channel", zap.Error(err))
		}
	}
	c.logger.Info("sync client stopped")
}

// AttachPush connects a push channel so Watch can register per-entity
// subscriptions. The channel must already dispatch notifications into
// Invalidate.
func (c *Client) AttachPush(push ports.PushChannel) {
	c.pushMu.Lock()
	defer c.pushMu.Unlock()
	c.push = push
}

// Store exposes the entity store for consumers that only need
// synchronous reads and status flags.
func (c *Client) Store() *Store { return c.store }

// --- typed read operations ---

// Customer returns the customer record, serving fresh cached data
// synchronously and refreshing stale data in the background.
func (c *Client) Customer(ctx context.Context, id string) (entities.Customer, error) {
	return fetchEntity[entities.Customer](ctx, c, entities.KindCustomer, id, nil)
}

// Customers returns a query-scoped page of customers. The query is
// canonicalized so equivalent queries share one cache slot.
func (c *Client) Customers(ctx context.Context, query url.Values) (entities.CustomerList, error) {
	return fetchEntity[entities.CustomerList](ctx, c, entities.KindCustomerList, canonicalQuery(query), query)
}

// RiskAssessment returns the churn risk assessment by its id.
func (c *Client) RiskAssessment(ctx context.Context, id string) (entities.RiskAssessment, error) {
	return fetchEntity[entities.RiskAssessment](ctx, c, entities.KindRiskAssessment, id, nil)
}

// HealthScore returns the composite health metric, keyed by customer.
func (c *Client) HealthScore(ctx context.Context, customerID string) (entities.HealthScore, error) {
	return fetchEntity[entities.HealthScore](ctx, c, entities.KindHealthScore, customerID, nil)
}

// Interactions returns the touchpoint history for a customer.
func (c *Client) Interactions(ctx context.Context, customerID string) (entities.InteractionList, error) {
	return fetchEntity[entities.InteractionList](ctx, c, entities.KindInteractionList, customerID, nil)
}

// Refresh forces a coordinated re-fetch regardless of freshness and
// blocks until it settles.
func (c *Client) Refresh(ctx context.Context, kind entities.Kind, id string) error {
	switch kind {
	case entities.KindCustomer:
		_, err := doFetch[entities.Customer](ctx, c, kind, id, nil)
		return err
	case entities.KindCustomerList:
		params, _ := url.ParseQuery(id)
		_, err := doFetch[entities.CustomerList](ctx, c, kind, id, params)
		return err
	case entities.KindRiskAssessment:
		_, err := doFetch[entities.RiskAssessment](ctx, c, kind, id, nil)
		return err
	case entities.KindHealthScore:
		_, err := doFetch[entities.HealthScore](ctx, c, kind, id, nil)
		return err
	case entities.KindInteractionList:
		_, err := doFetch[entities.InteractionList](ctx, c, kind, id, nil)
		return err
	default:
		return pkgerrors.NewValidationError("unknown entity kind: " + string(kind))
	}
}

// Invalidate drops the durable cache entry for an entity and forces a
// background re-fetch through the coordinator. This is the single entry
// point for push notifications: pushed payloads are never applied
// directly, so pull and push share one code path for authoritative data.
func (c *Client) Invalidate(kind entities.Kind, id string) {
	c.cache.Remove(Key(kind, id))
	c.metrics.PushInvalidations.Inc()
	c.logger.Debug("entity invalidated", zap.String("kind", string(kind)), zap.String("id", id))

	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
		defer cancel()
		if err := c.Refresh(ctx, kind, id); err != nil {
			c.logger.Warn("push-triggered refresh failed",
				zap.String("kind", string(kind)),
				zap.String("id", id),
				zap.Error(err),
			)
		}
	}()
}

// Watch registers interest in an entity: store updates flow on the
// returned channel, the freshness monitor keeps the entity from going
// arbitrarily stale, and a push subscription is opened when a channel is
// attached. Close the watch when the consumer's interest ends.
type Watch struct {
	Updates <-chan Update
	once    sync.Once
	closeFn func()
}

// Close ends the watch. Closing does not cancel a still-shared in-flight
// request; that runs to completion for the remaining callers.
func (w *Watch) Close() {
	w.once.Do(w.closeFn)
}

// Watch subscribes to an entity's updates.
func (c *Client) Watch(kind entities.Kind, id string) *Watch {
	watcherID, ch := c.store.Watch(kind, id)
	c.addInterest(kind, id)

	var sub ports.PushSubscription
	c.pushMu.Lock()
	if c.push != nil {
		var err error
		sub, err = c.push.Subscribe(kind, id)
		if err != nil {
			// Connectivity-class failure: polling still covers the entity.
			c.logger.Warn("push subscribe failed, falling back to polling",
				zap.String("kind", string(kind)),
				zap.String("id", id),
				zap.Error(err),
			)
		}
	}
	c.pushMu.Unlock()

	return &Watch{
		Updates: ch,
		closeFn: func() {
			c.store.Unwatch(kind, id, watcherID)
			c.removeInterest(kind, id)
			if sub != nil {
				sub.Unsubscribe()
			}
		},
	}
}

// ApplyLimits adjusts runtime-tunable knobs from dynamic configuration.
func (c *Client) ApplyLimits(refreshInterval time.Duration, ttl map[entities.Kind]time.Duration) {
	if refreshInterval > 0 {
		c.refreshInterval.Store(int64(refreshInterval))
	}
	if len(ttl) > 0 {
		c.ttlMu.Lock()
		for kind, d := range ttl {
			if d > 0 {
				c.ttl[kind] = d
			}
		}
		c.ttlMu.Unlock()
	}
	c.logger.Info("sync limits updated", zap.Duration("refreshInterval", refreshInterval))
}

func (c *Client) ttlFor(kind entities.Kind) time.Duration {
	c.ttlMu.RLock()
	defer c.ttlMu.RUnlock()
	if d, ok := c.ttl[kind]; ok && d > 0 {
		return d
	}
	return defaultTTL(kind)
}

func (c *Client) currentRefreshInterval() time.Duration {
	return time.Duration(c.refreshInterval.Load())
}

func (c *Client) addInterest(kind entities.Kind, id string) {
	c.interestMu.Lock()
	defer c.interestMu.Unlock()
	key := Key(kind, id)
	if in, ok := c.interests[key]; ok {
		in.count++
		return
	}
	c.interests[key] = &interest{kind: kind, id: id, count: 1}
}

func (c *Client) removeInterest(kind entities.Kind, id string) {
	c.interestMu.Lock()
	defer c.interestMu.Unlock()
	key := Key(kind, id)
	if in, ok := c.interests[key]; ok {
		in.count--
		if in.count <= 0 {
			delete(c.interests, key)
		}
	}
}

func (c *Client) watchedInterests() []interest {
	c.interestMu.Lock()
	defer c.interestMu.Unlock()
	out := make([]interest, 0, len(c.interests))
	for _, in := range c.interests {
		out = append(out, *in)
	}
	return out
}

// canonicalQuery fingerprints a query so parameter order cannot split the
// cache.
func canonicalQuery(query url.Values) string {
	if len(query) == 0 {
		return ""
	}
	return query.Encode() // Encode sorts keys
}
