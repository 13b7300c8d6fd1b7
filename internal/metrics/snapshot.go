package metrics

import (
	"math"
	"time"
)

// Snapshot is a coherent point-in-time view of every statistic the
// collector holds. All figures come from one pass under the lock, so
// totals and breakdowns agree with each other.
type Snapshot struct {
	GeneratedAt   time.Time `json:"generated_at"`
	UptimeSeconds float64   `json:"uptime_seconds"`

	TotalRequests  uint64  `json:"total_requests"`
	TotalSuccesses uint64  `json:"total_successes"`
	TotalFailures  uint64  `json:"total_failures"`
	SuccessRate    float64 `json:"success_rate"`

	// HealthScore is 0–100, higher is better.
	HealthScore float64 `json:"health_score"`

	Latency   LatencySnapshot             `json:"latency"`
	Engines   map[string]EngineSnapshot   `json:"engines"`
	Languages map[string]LanguageSnapshot `json:"languages"`
	Cache     CacheSnapshot               `json:"cache"`

	// System is nil until the first SampleSystem call.
	System *SystemSnapshot `json:"system,omitempty"`
}

// LatencySnapshot summarizes the bounded request-latency window.
type LatencySnapshot struct {
	Samples int     `json:"samples"`
	AvgMS   float64 `json:"avg_ms"`
	P50MS   float64 `json:"p50_ms"`
	P95MS   float64 `json:"p95_ms"`
	P99MS   float64 `json:"p99_ms"`
}

// EngineSnapshot summarizes one driver's history.
type EngineSnapshot struct {
	Requests    uint64            `json:"requests"`
	Successes   uint64            `json:"successes"`
	Failures    uint64            `json:"failures"`
	SuccessRate float64           `json:"success_rate"`
	MinMS       float64           `json:"min_ms"`
	MaxMS       float64           `json:"max_ms"`
	AvgMS       float64           `json:"avg_ms"`
	LastUsed    time.Time         `json:"last_used"`
	ErrorKinds  map[string]uint64 `json:"error_kinds,omitempty"`
}

// LanguageSnapshot summarizes requests per language and which engines
// served them.
type LanguageSnapshot struct {
	Requests uint64            `json:"requests"`
	Engines  map[string]uint64 `json:"engines"`
}

// CacheSnapshot summarizes cache events observed by the orchestrator.
type CacheSnapshot struct {
	Hits        uint64  `json:"hits"`
	Misses      uint64  `json:"misses"`
	Evictions   uint64  `json:"evictions"`
	HitRate     float64 `json:"hit_rate"`
	BytesServed uint64  `json:"bytes_served"`
}

// SystemSnapshot is the most recent runtime sample.
type SystemSnapshot struct {
	SampledAt  time.Time `json:"sampled_at"`
	Goroutines int       `json:"goroutines"`
	HeapAlloc  uint64    `json:"heap_alloc_bytes"`
	HeapSys    uint64    `json:"heap_sys_bytes"`
	NumGC      uint32    `json:"num_gc"`
}

// Health score weighting. Missing components renormalize over the rest.
const (
	weightSuccess   = 0.4
	weightLatency   = 0.3
	weightResources = 0.3

	// Latency term: p95 at or under the floor scores 100, at or over the
	// ceiling scores 0, linear in between.
	latencyFloor   = 500 * time.Millisecond
	latencyCeiling = 5 * time.Second

	// Resource term caps. Goroutine counts and heap usage approaching
	// these push the score toward 0.
	goroutineCap = 10_000
)

// Snapshot builds a coherent view of all statistics.
func (c *Collector) Snapshot() Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	snap := Snapshot{
		GeneratedAt:   now,
		UptimeSeconds: now.Sub(c.startedAt).Seconds(),
		Engines:       make(map[string]EngineSnapshot, len(c.engines)),
		Languages:     make(map[string]LanguageSnapshot, len(c.languages)),
	}

	for id, es := range c.engines {
		snap.TotalRequests += es.requests
		snap.TotalSuccesses += es.successes
		snap.TotalFailures += es.failures

		e := EngineSnapshot{
			Requests:  es.requests,
			Successes: es.successes,
			Failures:  es.failures,
			MinMS:     durationMS(es.minLat),
			MaxMS:     durationMS(es.maxLat),
			LastUsed:  es.lastUsed,
		}
		if es.requests > 0 {
			e.SuccessRate = float64(es.successes) / float64(es.requests)
			e.AvgMS = durationMS(es.totalLat / time.Duration(es.requests))
		}
		if len(es.errKinds) > 0 {
			e.ErrorKinds = make(map[string]uint64, len(es.errKinds))
			for k, v := range es.errKinds {
				e.ErrorKinds[k] = v
			}
		}
		snap.Engines[id] = e
	}

	for lang, ls := range c.languages {
		l := LanguageSnapshot{
			Requests: ls.requests,
			Engines:  make(map[string]uint64, len(ls.engines)),
		}
		for id, n := range ls.engines {
			l.Engines[id] = n
		}
		snap.Languages[lang] = l
	}

	if snap.TotalRequests > 0 {
		snap.SuccessRate = float64(snap.TotalSuccesses) / float64(snap.TotalRequests)
	}

	sorted := c.latencies.sorted()
	if len(sorted) > 0 {
		var total time.Duration
		for _, d := range sorted {
			total += d
		}
		snap.Latency = LatencySnapshot{
			Samples: len(sorted),
			AvgMS:   durationMS(total / time.Duration(len(sorted))),
			P50MS:   durationMS(percentile(sorted, 0.50)),
			P95MS:   durationMS(percentile(sorted, 0.95)),
			P99MS:   durationMS(percentile(sorted, 0.99)),
		}
	}

	snap.Cache = CacheSnapshot{
		Hits:        c.cacheHits,
		Misses:      c.cacheMisses,
		Evictions:   c.cacheEvictions,
		BytesServed: c.cacheBytesServed,
	}
	if lookups := c.cacheHits + c.cacheMisses; lookups > 0 {
		snap.Cache.HitRate = float64(c.cacheHits) / float64(lookups)
	}

	if c.sampleTaken {
		snap.System = &SystemSnapshot{
			SampledAt:  c.sample.at,
			Goroutines: c.sample.goroutines,
			HeapAlloc:  c.sample.heapAlloc,
			HeapSys:    c.sample.heapSys,
			NumGC:      c.sample.numGC,
		}
	}

	snap.HealthScore = healthScore(snap)
	return snap
}

// HealthScore computes the current composite score without building the
// full export maps. Readiness checks poll this.
func (c *Collector) HealthScore() float64 {
	return c.Snapshot().HealthScore
}

// healthScore combines success rate (0.4), a p95 latency proxy (0.3) and
// system resources (0.3). Components without data drop out and the
// remaining weights renormalize, so an idle fresh process scores 100, not
// an artificial failing grade.
func healthScore(s Snapshot) float64 {
	var score, weights float64

	if s.TotalRequests > 0 {
		score += weightSuccess * (s.SuccessRate * 100)
		weights += weightSuccess
	}
	if s.Latency.Samples > 0 {
		score += weightLatency * latencyTerm(time.Duration(s.Latency.P95MS*float64(time.Millisecond)))
		weights += weightLatency
	}
	if s.System != nil {
		score += weightResources * resourceTerm(s.System)
		weights += weightResources
	}

	if weights == 0 {
		return 100
	}
	return math.Round(score/weights*10) / 10
}

func latencyTerm(p95 time.Duration) float64 {
	switch {
	case p95 <= latencyFloor:
		return 100
	case p95 >= latencyCeiling:
		return 0
	default:
		span := float64(latencyCeiling - latencyFloor)
		return 100 * (1 - float64(p95-latencyFloor)/span)
	}
}

func resourceTerm(sys *SystemSnapshot) float64 {
	goroutineLoad := float64(sys.Goroutines) / goroutineCap
	heapLoad := 0.0
	if sys.HeapSys > 0 {
		heapLoad = float64(sys.HeapAlloc) / float64(sys.HeapSys)
	}
	load := math.Max(goroutineLoad, heapLoad)
	if load > 1 {
		load = 1
	}
	return 100 * (1 - load)
}

func durationMS(d time.Duration) float64 {
	return float64(d) / float64(time.Millisecond)
}
