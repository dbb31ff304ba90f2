// Package metrics wires patchflow's cache and session counters into
// Prometheus. It is purely ambient: every method is nil-safe so a
// caller that never supplies a prometheus.Registerer pays nothing.
package metrics

import "github.com/prometheus/client_golang/prometheus"

// Collector holds the instruments patchgraph and session update. A nil
// *Collector is valid and every method becomes a no-op, so components
// can hold one unconditionally.
type Collector struct {
	cacheHits     *prometheus.CounterVec
	cacheMisses   *prometheus.CounterVec
	cacheEvicts   *prometheus.CounterVec
	replaySize    prometheus.Histogram
	commits       prometheus.Counter
	remoteApplies prometheus.Counter
	fileWrites    prometheus.Counter
	fileErrors    prometheus.Counter
}

// New builds a Collector and registers it against reg. Pass nil to get
// a Collector that tracks nothing (all methods remain safe to call).
func New(reg prometheus.Registerer, namespace string) *Collector {
	if reg == nil {
		return nil
	}
	c := &Collector{
		cacheHits: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "cache", Name: "hits_total",
			Help: "Cache hits by cache name (value, reachability, merge).",
		}, []string{"cache"}),
		cacheMisses: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "cache", Name: "misses_total",
			Help: "Cache misses by cache name.",
		}, []string{"cache"}),
		cacheEvicts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "cache", Name: "evictions_total",
			Help: "Cache evictions by cache name.",
		}, []string{"cache"}),
		replaySize: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace, Name: "replay_patch_count",
			Help:    "Number of patch bodies applied per Value() computation.",
			Buckets: prometheus.ExponentialBuckets(1, 2, 12),
		}),
		commits: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "commits_total",
			Help: "Local commits accepted by Session.Commit.",
		}),
		remoteApplies: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "remote_applies_total",
			Help: "Remote envelopes ingested via Session.ApplyRemote.",
		}),
		fileWrites: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "file_writes_total",
			Help: "Successful file adapter writes.",
		}),
		fileErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "file_write_errors_total",
			Help: "Failed file adapter writes.",
		}),
	}
	for _, coll := range []prometheus.Collector{
		c.cacheHits, c.cacheMisses, c.cacheEvicts, c.replaySize,
		c.commits, c.remoteApplies, c.fileWrites, c.fileErrors,
	} {
		_ = reg.Register(coll)
	}
	return c
}

func (c *Collector) CacheHit(cache string) {
	if c == nil {
		return
	}
	c.cacheHits.WithLabelValues(cache).Inc()
}

func (c *Collector) CacheMiss(cache string) {
	if c == nil {
		return
	}
	c.cacheMisses.WithLabelValues(cache).Inc()
}

func (c *Collector) CacheEvict(cache string) {
	if c == nil {
		return
	}
	c.cacheEvicts.WithLabelValues(cache).Inc()
}

func (c *Collector) ReplaySize(n int) {
	if c == nil {
		return
	}
	c.replaySize.Observe(float64(n))
}

func (c *Collector) Commit() {
	if c == nil {
		return
	}
	c.commits.Inc()
}

func (c *Collector) RemoteApply() {
	if c == nil {
		return
	}
	c.remoteApplies.Inc()
}

func (c *Collector) FileWrite(ok bool) {
	if c == nil {
		return
	}
	if ok {
		c.fileWrites.Inc()
	} else {
		c.fileErrors.Inc()
	}
}
