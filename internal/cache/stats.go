package cache

import (
	"sync/atomic"

	respcache "github.com/eugener/respcache/internal"
	"github.com/eugener/respcache/internal/telemetry"
)

type categoryCounters struct {
	hits   atomic.Uint64
	misses atomic.Uint64
	sets   atomic.Uint64
}

// Stats aggregates cache counters. All methods are safe for concurrent use
// and never block. If Metrics is non-nil every record is mirrored to it.
type Stats struct {
	categories [4]categoryCounters // indexed by respcache.Category

	tierHits   [2]atomic.Uint64 // indexed by respcache.Tier
	tierErrors [2]atomic.Uint64

	evictions     atomic.Uint64
	computes      atomic.Uint64
	computeErrors atomic.Uint64
	coalesced     atomic.Uint64
	corrupt       atomic.Uint64

	metrics *telemetry.Metrics
}

// NewStats creates a Stats that mirrors into m. m may be nil.
func NewStats(m *telemetry.Metrics) *Stats {
	return &Stats{metrics: m}
}

func (s *Stats) counters(c respcache.Category) *categoryCounters {
	if !c.Valid() {
		c = respcache.CategoryOther
	}
	return &s.categories[c]
}

// RecordHit counts a lookup that found a live value.
func (s *Stats) RecordHit(c respcache.Category) {
	s.counters(c).hits.Add(1)
	if s.metrics != nil {
		s.metrics.CacheHits.WithLabelValues(c.String()).Inc()
	}
}

// RecordMiss counts a lookup that found nothing.
func (s *Stats) RecordMiss(c respcache.Category) {
	s.counters(c).misses.Add(1)
	if s.metrics != nil {
		s.metrics.CacheMisses.WithLabelValues(c.String()).Inc()
	}
}

// RecordSet counts a value written to the cache.
func (s *Stats) RecordSet(c respcache.Category) {
	s.counters(c).sets.Add(1)
	if s.metrics != nil {
		s.metrics.CacheSets.WithLabelValues(c.String()).Inc()
	}
}

// RecordTierHit counts which tier served a hit.
func (s *Stats) RecordTierHit(t respcache.Tier) {
	s.tierHits[t&1].Add(1)
	if s.metrics != nil {
		s.metrics.TierHits.WithLabelValues(t.String()).Inc()
	}
}

// RecordError counts a backend failure on the given tier.
func (s *Stats) RecordError(t respcache.Tier) {
	s.tierErrors[t&1].Add(1)
	if s.metrics != nil {
		s.metrics.TierErrors.WithLabelValues(t.String()).Inc()
	}
}

// RecordEviction counts a capacity eviction from the local tier.
func (s *Stats) RecordEviction() {
	s.evictions.Add(1)
	if s.metrics != nil {
		s.metrics.LocalEvictions.Inc()
	}
}

// RecordCompute counts a compute invocation and whether it failed.
func (s *Stats) RecordCompute(c respcache.Category, err error) {
	s.computes.Add(1)
	status := "ok"
	if err != nil {
		s.computeErrors.Add(1)
		status = "error"
	}
	if s.metrics != nil {
		s.metrics.Computes.WithLabelValues(c.String(), status).Inc()
	}
}

// RecordCoalesced counts a caller that shared another caller's computation.
func (s *Stats) RecordCoalesced(c respcache.Category) {
	s.coalesced.Add(1)
	if s.metrics != nil {
		s.metrics.Coalesced.WithLabelValues(c.String()).Inc()
	}
}

// RecordCorrupt counts a cached payload that failed to decode.
func (s *Stats) RecordCorrupt() {
	s.corrupt.Add(1)
	if s.metrics != nil {
		s.metrics.CorruptPayloads.Inc()
	}
}

// CategoryStats is the per-category slice of a Snapshot.
type CategoryStats struct {
	Hits    uint64  `json:"hits"`
	Misses  uint64  `json:"misses"`
	Sets    uint64  `json:"sets"`
	HitRate float64 `json:"hit_rate"`
}

// Snapshot is a point-in-time copy of the counters. Counters are read
// individually, so a snapshot taken under load may be off by in-flight
// increments.
type Snapshot struct {
	Hits           uint64                   `json:"hits"`
	Misses         uint64                   `json:"misses"`
	Sets           uint64                   `json:"sets"`
	HitRate        float64                  `json:"hit_rate"`
	LocalHits      uint64                   `json:"local_hits"`
	RemoteHits     uint64                   `json:"remote_hits"`
	LocalErrors    uint64                   `json:"local_errors"`
	RemoteErrors   uint64                   `json:"remote_errors"`
	LocalEvictions uint64                   `json:"local_evictions"`
	Computes       uint64                   `json:"computes"`
	ComputeErrors  uint64                   `json:"compute_errors"`
	Coalesced      uint64                   `json:"coalesced"`
	Corrupt        uint64                   `json:"corrupt"`
	Categories     map[string]CategoryStats `json:"categories"`
}

// Snapshot returns the current counter values.
func (s *Stats) Snapshot() Snapshot {
	snap := Snapshot{
		LocalHits:      s.tierHits[respcache.TierLocal].Load(),
		RemoteHits:     s.tierHits[respcache.TierRemote].Load(),
		LocalErrors:    s.tierErrors[respcache.TierLocal].Load(),
		RemoteErrors:   s.tierErrors[respcache.TierRemote].Load(),
		LocalEvictions: s.evictions.Load(),
		Computes:       s.computes.Load(),
		ComputeErrors:  s.computeErrors.Load(),
		Coalesced:      s.coalesced.Load(),
		Corrupt:        s.corrupt.Load(),
		Categories:     make(map[string]CategoryStats, len(s.categories)),
	}
	for _, c := range respcache.Categories() {
		cc := &s.categories[c]
		cs := CategoryStats{
			Hits:   cc.hits.Load(),
			Misses: cc.misses.Load(),
			Sets:   cc.sets.Load(),
		}
		cs.HitRate = hitRate(cs.Hits, cs.Misses)
		snap.Categories[c.String()] = cs
		snap.Hits += cs.Hits
		snap.Misses += cs.Misses
		snap.Sets += cs.Sets
	}
	snap.HitRate = hitRate(snap.Hits, snap.Misses)
	return snap
}

func hitRate(hits, misses uint64) float64 {
	if hits+misses == 0 {
		return 0
	}
	return float64(hits) / float64(hits+misses)
}

// HealthSnapshot describes the reachability of each tier.
type HealthSnapshot struct {
	RemoteConfigured bool     `json:"remote_configured"`
	RemoteAvailable  bool     `json:"remote_available"`
	RemoteState      string   `json:"remote_state"`
	RemoteLatencyMs  *float64 `json:"remote_latency_ms"`
	LocalSize        int      `json:"local_size"`
	LocalCapacity    int      `json:"local_capacity"`
}
