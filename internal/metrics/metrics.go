// Package metrics collects synthesis statistics for the stats surfaces: the
// bot's admin commands, the REST /stats endpoint and the health score.
//
// The collector keeps everything behind one mutex: per-engine and
// per-language counters, cache event counters, a bounded ring of recent
// request latencies for percentile derivation, and periodic runtime
// samples. It is deliberately independent of the OTel instruments in
// internal/observe — those feed Prometheus, this feeds humans.
package metrics

import (
	"encoding/json"
	"math"
	"runtime"
	"sort"
	"sync"
	"time"

	"github.com/ttskit/ttskit/pkg/types"
)

const defaultWindowSize = 1000

// Collector accumulates request, cache and system statistics.
// Thread-safe for concurrent use.
type Collector struct {
	mu sync.Mutex

	startedAt time.Time
	engines   map[string]*engineStats
	languages map[string]*languageStats

	cacheHits        uint64
	cacheMisses      uint64
	cacheEvictions   uint64
	cacheBytesServed uint64

	latencies latencyBuffer

	sample      systemSample
	sampleTaken bool

	now func() time.Time // stubbed in tests
}

type engineStats struct {
	requests  uint64
	successes uint64
	failures  uint64
	minLat    time.Duration
	maxLat    time.Duration
	totalLat  time.Duration
	lastUsed  time.Time
	errKinds  map[string]uint64
}

type languageStats struct {
	requests uint64
	engines  map[string]uint64
}

type systemSample struct {
	at         time.Time
	goroutines int
	heapAlloc  uint64
	heapSys    uint64
	numGC      uint32
}

// New creates a Collector retaining windowSize latency samples for
// percentile derivation.
func New(windowSize int) *Collector {
	if windowSize <= 0 {
		windowSize = defaultWindowSize
	}
	return &Collector{
		startedAt: time.Now(),
		engines:   make(map[string]*engineStats),
		languages: make(map[string]*languageStats),
		latencies: newLatencyBuffer(windowSize),
		now:       time.Now,
	}
}

// RecordRequest records one synthesis outcome. An empty errKind marks
// success; otherwise the kind lands in the engine's error histogram.
func (c *Collector) RecordRequest(engine, language string, latency time.Duration, errKind types.Kind) {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()

	es, ok := c.engines[engine]
	if !ok {
		es = &engineStats{errKinds: make(map[string]uint64)}
		c.engines[engine] = es
	}
	es.requests++
	es.totalLat += latency
	es.lastUsed = now
	if es.minLat == 0 || latency < es.minLat {
		es.minLat = latency
	}
	if latency > es.maxLat {
		es.maxLat = latency
	}
	if errKind == "" {
		es.successes++
	} else {
		es.failures++
		es.errKinds[string(errKind)]++
	}

	if language != "" {
		ls, ok := c.languages[language]
		if !ok {
			ls = &languageStats{engines: make(map[string]uint64)}
			c.languages[language] = ls
		}
		ls.requests++
		ls.engines[engine]++
	}

	c.latencies.add(latency)
}

// RecordCacheHit records a cache hit serving sizeBytes.
func (c *Collector) RecordCacheHit(sizeBytes int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.cacheHits++
	c.cacheBytesServed += uint64(sizeBytes)
}

// RecordCacheMiss records a cache miss.
func (c *Collector) RecordCacheMiss() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.cacheMisses++
}

// RecordEvictions records n cache evictions.
func (c *Collector) RecordEvictions(n int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.cacheEvictions += uint64(n)
}

// SampleSystem captures goroutine and heap figures. The app loop calls it
// periodically; the latest sample feeds the health score's resource term.
func (c *Collector) SampleSystem() {
	var ms runtime.MemStats
	runtime.ReadMemStats(&ms)

	c.mu.Lock()
	defer c.mu.Unlock()
	c.sample = systemSample{
		at:         c.now(),
		goroutines: runtime.NumGoroutine(),
		heapAlloc:  ms.HeapAlloc,
		heapSys:    ms.HeapSys,
		numGC:      ms.NumGC,
	}
	c.sampleTaken = true
}

// Reset zeroes every counter, histogram and sample, and restarts the
// uptime clock. Used by the admin reset_stats command.
func (c *Collector) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.startedAt = c.now()
	c.engines = make(map[string]*engineStats)
	c.languages = make(map[string]*languageStats)
	c.cacheHits, c.cacheMisses, c.cacheEvictions, c.cacheBytesServed = 0, 0, 0, 0
	c.latencies = newLatencyBuffer(c.latencies.size)
	c.sample = systemSample{}
	c.sampleTaken = false
}

// latencyBuffer is a bounded ring of duration samples.
type latencyBuffer struct {
	data []time.Duration
	size int
	pos  int
	full bool
}

func newLatencyBuffer(size int) latencyBuffer {
	return latencyBuffer{
		data: make([]time.Duration, size),
		size: size,
	}
}

func (lb *latencyBuffer) add(d time.Duration) {
	lb.data[lb.pos] = d
	lb.pos++
	if lb.pos >= lb.size {
		lb.pos = 0
		lb.full = true
	}
}

func (lb *latencyBuffer) sorted() []time.Duration {
	n := lb.pos
	if lb.full {
		n = lb.size
	}
	if n == 0 {
		return nil
	}
	out := make([]time.Duration, n)
	copy(out, lb.data[:n])
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// percentile returns the nearest-rank percentile (p in 0.0–1.0) from a
// sorted sample slice.
func percentile(sorted []time.Duration, p float64) time.Duration {
	if len(sorted) == 0 {
		return 0
	}
	idx := int(math.Ceil(p*float64(len(sorted)))) - 1
	if idx < 0 {
		idx = 0
	}
	if idx >= len(sorted) {
		idx = len(sorted) - 1
	}
	return sorted[idx]
}

// ExportJSON renders a snapshot as indented JSON for the export_metrics
// command and the REST stats endpoint.
func (c *Collector) ExportJSON() ([]byte, error) {
	return json.MarshalIndent(c.Snapshot(), "", "  ")
}
