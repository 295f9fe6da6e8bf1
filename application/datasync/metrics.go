package datasync

import "github.com/prometheus/client_golang/prometheus"

// Metrics counts sync-layer activity. Counters work unregistered, so a
// nil registry yields a usable no-op-cost instance.
type Metrics struct {
	CacheHits         prometheus.Counter
	CacheMisses       prometheus.Counter
	DedupJoins        prometheus.Counter
	FetchRetries      prometheus.Counter
	FetchFailures     prometheus.Counter
	Commits           prometheus.Counter
	Rollbacks         prometheus.Counter
	ReplaysDrained    prometheus.Counter
	PushInvalidations prometheus.Counter
}

// NewMetrics builds the counter set, registering it when reg is non-nil.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	counter := func(name, help string) prometheus.Counter {
		return prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "pulsedesk",
			Subsystem: "sync",
			Name:      name,
			Help:      help,
		})
	}

	m := &Metrics{
		CacheHits:         counter("cache_hits_total", "Reads served from a fresh store or cache entry."),
		CacheMisses:       counter("cache_misses_total", "Reads that required a network fetch."),
		DedupJoins:        counter("dedup_joins_total", "Callers that joined an already in-flight fetch."),
		FetchRetries:      counter("fetch_retries_total", "Retry attempts on the read path."),
		FetchFailures:     counter("fetch_failures_total", "Read operations that failed after retry exhaustion."),
		Commits:           counter("mutation_commits_total", "Optimistic mutations confirmed by the server."),
		Rollbacks:         counter("mutation_rollbacks_total", "Optimistic mutations reverted to their snapshot."),
		ReplaysDrained:    counter("replays_drained_total", "Queued offline mutations delivered on replay."),
		PushInvalidations: counter("push_invalidations_total", "Cache invalidations triggered by push notifications."),
	}

	if reg != nil {
		reg.MustRegister(
			m.CacheHits, m.CacheMisses, m.DedupJoins,
			m.FetchRetries, m.FetchFailures,
			m.Commits, m.Rollbacks, m.ReplaysDrained, m.PushInvalidations,
		)
	}
	return m
}
