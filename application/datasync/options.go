package datasync

import (
	"time"

	"go.uber.org/zap"

	"pulsedesk-sync/application/ports"
	"pulsedesk-sync/domain/entities"
)

// Options configures one sync layer instance. Everything has a usable
// default so tests can construct isolated instances with only the knobs
// they exercise.
type Options struct {
	Logger *zap.Logger

	// Staleness thresholds per entity class; missing kinds fall back to
	// the entity defaults.
	TTL map[entities.Kind]time.Duration

	Retry         RetryConfig
	MutationRetry RetryConfig

	// RefreshInterval is the freshness monitor's sweep period.
	RefreshInterval time.Duration

	// ReplayInterval is how often the offline queue is drained;
	// ReplayMaxAttempts bounds delivery attempts per queued mutation.
	ReplayInterval    time.Duration
	ReplayMaxAttempts int

	// Online reports whether the client believes it has connectivity.
	// Offline interaction writes divert to the replay queue.
	Online func() bool

	// Clock and Sleep are injected for tests; nil means wall clock and
	// real timers.
	Clock func() time.Time
	Sleep SleepFunc

	Metrics *Metrics
}

func (o Options) withDefaults() Options {
	if o.Logger == nil {
		o.Logger = zap.NewNop()
	}
	if o.TTL == nil {
		o.TTL = map[entities.Kind]time.Duration{}
	}
	if o.Retry.MaxAttempts == 0 {
		o.Retry = DefaultRetryConfig()
	}
	if o.MutationRetry.MaxAttempts == 0 {
		o.MutationRetry = DefaultMutationRetryConfig()
	}
	if o.RefreshInterval == 0 {
		o.RefreshInterval = 30 * time.Second
	}
	if o.ReplayInterval == 0 {
		o.ReplayInterval = 15 * time.Second
	}
	if o.ReplayMaxAttempts == 0 {
		o.ReplayMaxAttempts = 5
	}
	if o.Online == nil {
		o.Online = func() bool { return true }
	}
	if o.Clock == nil {
		o.Clock = time.Now
	}
	if o.Sleep == nil {
		o.Sleep = sleepWithContext
	}
	if o.Metrics == nil {
		o.Metrics = NewMetrics(nil)
	}
	return o
}

func defaultTTL(kind entities.Kind) time.Duration {
	switch kind {
	case entities.KindCustomer:
		return entities.DefaultCustomerTTL
	case entities.KindRiskAssessment:
		return entities.DefaultRiskTTL
	case entities.KindHealthScore:
		return entities.DefaultHealthScoreTTL
	case entities.KindCustomerList, entities.KindInteractionList:
		return entities.DefaultListTTL
	default:
		return 5 * time.Minute
	}
}

// noopCache stands in when no durable cache is configured; every code
// path must work, just more slowly, with the cache absent.
type noopCache struct{}

func (noopCache) Read(string) (ports.CacheEntry, bool) { return ports.CacheEntry{}, false }
func (noopCache) Write(string, ports.CacheEntry)       {}
func (noopCache) Remove(string)                        {}

var _ ports.Cache = noopCache{}
