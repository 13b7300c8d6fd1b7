package metrics

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/ttskit/ttskit/pkg/types"
)

func TestRecordRequestAccumulates(t *testing.T) {
	c := New(100)

	c.RecordRequest("gtts", "en", 100*time.Millisecond, "")
	c.RecordRequest("gtts", "en", 300*time.Millisecond, "")
	c.RecordRequest("gtts", "fa", 200*time.Millisecond, types.KindEngineTransient)
	c.RecordRequest("edge", "fa", 50*time.Millisecond, "")

	snap := c.Snapshot()

	if snap.TotalRequests != 4 {
		t.Errorf("TotalRequests = %d, want 4", snap.TotalRequests)
	}
	if snap.TotalSuccesses != 3 || snap.TotalFailures != 1 {
		t.Errorf("successes/failures = %d/%d, want 3/1", snap.TotalSuccesses, snap.TotalFailures)
	}
	if snap.SuccessRate != 0.75 {
		t.Errorf("SuccessRate = %v, want 0.75", snap.SuccessRate)
	}

	gtts, ok := snap.Engines["gtts"]
	if !ok {
		t.Fatal("gtts missing from engine map")
	}
	if gtts.Requests != 3 || gtts.Successes != 2 || gtts.Failures != 1 {
		t.Errorf("gtts = %d/%d/%d, want 3/2/1", gtts.Requests, gtts.Successes, gtts.Failures)
	}
	if gtts.MinMS != 100 || gtts.MaxMS != 300 {
		t.Errorf("gtts min/max = %v/%v ms, want 100/300", gtts.MinMS, gtts.MaxMS)
	}
	if gtts.AvgMS != 200 {
		t.Errorf("gtts avg = %v ms, want 200", gtts.AvgMS)
	}
	if gtts.ErrorKinds[string(types.KindEngineTransient)] != 1 {
		t.Errorf("gtts error kinds = %v, want ENGINE_TRANSIENT:1", gtts.ErrorKinds)
	}
	if gtts.LastUsed.IsZero() {
		t.Error("gtts LastUsed is zero")
	}

	fa, ok := snap.Languages["fa"]
	if !ok {
		t.Fatal("fa missing from language map")
	}
	if fa.Requests != 2 {
		t.Errorf("fa requests = %d, want 2", fa.Requests)
	}
	if fa.Engines["gtts"] != 1 || fa.Engines["edge"] != 1 {
		t.Errorf("fa engine histogram = %v, want gtts:1 edge:1", fa.Engines)
	}
}

func TestLatencyPercentiles(t *testing.T) {
	c := New(100)
	for i := 1; i <= 100; i++ {
		c.RecordRequest("e", "en", time.Duration(i)*time.Millisecond, "")
	}

	snap := c.Snapshot()
	if snap.Latency.Samples != 100 {
		t.Fatalf("Samples = %d, want 100", snap.Latency.Samples)
	}
	if snap.Latency.P50MS != 50 {
		t.Errorf("P50 = %v ms, want 50", snap.Latency.P50MS)
	}
	if snap.Latency.P95MS != 95 {
		t.Errorf("P95 = %v ms, want 95", snap.Latency.P95MS)
	}
	if snap.Latency.P99MS != 99 {
		t.Errorf("P99 = %v ms, want 99", snap.Latency.P99MS)
	}
	if snap.Latency.AvgMS != 50.5 {
		t.Errorf("Avg = %v ms, want 50.5", snap.Latency.AvgMS)
	}
}

func TestLatencyWindowBounded(t *testing.T) {
	c := New(10)
	// 50 slow samples that should age out of the window entirely.
	for range 50 {
		c.RecordRequest("e", "en", time.Second, "")
	}
	for range 10 {
		c.RecordRequest("e", "en", time.Millisecond, "")
	}

	snap := c.Snapshot()
	if snap.Latency.Samples != 10 {
		t.Errorf("Samples = %d, want window size 10", snap.Latency.Samples)
	}
	if snap.Latency.P99MS != 1 {
		t.Errorf("P99 = %v ms, want 1 (old samples evicted)", snap.Latency.P99MS)
	}
	// Engine counters are unaffected by the window.
	if snap.TotalRequests != 60 {
		t.Errorf("TotalRequests = %d, want 60", snap.TotalRequests)
	}
}

func TestCacheCounters(t *testing.T) {
	c := New(0)
	c.RecordCacheHit(1000)
	c.RecordCacheHit(500)
	c.RecordCacheMiss()
	c.RecordEvictions(3)

	snap := c.Snapshot()
	if snap.Cache.Hits != 2 || snap.Cache.Misses != 1 {
		t.Errorf("cache hits/misses = %d/%d, want 2/1", snap.Cache.Hits, snap.Cache.Misses)
	}
	if snap.Cache.Evictions != 3 {
		t.Errorf("evictions = %d, want 3", snap.Cache.Evictions)
	}
	if snap.Cache.BytesServed != 1500 {
		t.Errorf("bytes served = %d, want 1500", snap.Cache.BytesServed)
	}
	want := 2.0 / 3.0
	if diff := snap.Cache.HitRate - want; diff > 1e-9 || diff < -1e-9 {
		t.Errorf("hit rate = %v, want %v", snap.Cache.HitRate, want)
	}
}

func TestHealthScoreIdleProcess(t *testing.T) {
	c := New(0)
	if got := c.HealthScore(); got != 100 {
		t.Errorf("HealthScore() on idle collector = %v, want 100", got)
	}
}

func TestHealthScoreAllHealthy(t *testing.T) {
	c := New(0)
	for range 10 {
		c.RecordRequest("e", "en", 100*time.Millisecond, "")
	}

	// success 100, latency under floor → 100; no system sample →
	// renormalized over 0.7.
	if got := c.HealthScore(); got != 100 {
		t.Errorf("HealthScore() = %v, want 100", got)
	}
}

func TestHealthScoreDegradesWithFailures(t *testing.T) {
	c := New(0)
	for range 5 {
		c.RecordRequest("e", "en", 100*time.Millisecond, "")
	}
	for range 5 {
		c.RecordRequest("e", "en", 100*time.Millisecond, types.KindEngineTransient)
	}

	// success term 50, latency term 100, weights 0.4/0.3 →
	// (0.4*50 + 0.3*100) / 0.7 ≈ 71.4
	got := c.HealthScore()
	if got < 71 || got > 72 {
		t.Errorf("HealthScore() = %v, want ~71.4", got)
	}
}

func TestHealthScoreDegradesWithLatency(t *testing.T) {
	c := New(0)
	for range 10 {
		c.RecordRequest("e", "en", latencyCeiling, "")
	}

	// success term 100, latency term 0 → (0.4*100) / 0.7 ≈ 57.1
	got := c.HealthScore()
	if got < 57 || got > 58 {
		t.Errorf("HealthScore() = %v, want ~57.1", got)
	}
}

func TestLatencyTermBands(t *testing.T) {
	if got := latencyTerm(latencyFloor); got != 100 {
		t.Errorf("latencyTerm(floor) = %v, want 100", got)
	}
	if got := latencyTerm(latencyCeiling); got != 0 {
		t.Errorf("latencyTerm(ceiling) = %v, want 0", got)
	}
	mid := latencyFloor + (latencyCeiling-latencyFloor)/2
	if got := latencyTerm(mid); got < 49.9 || got > 50.1 {
		t.Errorf("latencyTerm(midpoint) = %v, want ~50", got)
	}
}

func TestSampleSystemPopulatesSnapshot(t *testing.T) {
	c := New(0)
	if snap := c.Snapshot(); snap.System != nil {
		t.Fatal("System sample present before SampleSystem")
	}

	c.SampleSystem()
	snap := c.Snapshot()
	if snap.System == nil {
		t.Fatal("System sample missing after SampleSystem")
	}
	if snap.System.Goroutines <= 0 {
		t.Errorf("Goroutines = %d, want > 0", snap.System.Goroutines)
	}
	if snap.System.HeapAlloc == 0 {
		t.Error("HeapAlloc = 0, want > 0")
	}
}

func TestExportJSON(t *testing.T) {
	c := New(0)
	c.RecordRequest("gtts", "en", 120*time.Millisecond, "")
	c.RecordCacheHit(2048)

	data, err := c.ExportJSON()
	if err != nil {
		t.Fatalf("ExportJSON() error = %v", err)
	}

	var decoded map[string]any
	if err := json.Unmarshal(data, &decoded); err != nil {
		t.Fatalf("export is not valid JSON: %v", err)
	}
	if decoded["total_requests"].(float64) != 1 {
		t.Errorf("total_requests = %v, want 1", decoded["total_requests"])
	}
	engines, ok := decoded["engines"].(map[string]any)
	if !ok || engines["gtts"] == nil {
		t.Errorf("engines map missing gtts: %v", decoded["engines"])
	}
}

func TestReset(t *testing.T) {
	c := New(0)
	c.RecordRequest("gtts", "en", time.Millisecond, "")
	c.RecordCacheHit(10)
	c.SampleSystem()

	c.Reset()
	snap := c.Snapshot()
	if snap.TotalRequests != 0 {
		t.Errorf("TotalRequests after Reset = %d, want 0", snap.TotalRequests)
	}
	if len(snap.Engines) != 0 || len(snap.Languages) != 0 {
		t.Errorf("maps not cleared: %d engines, %d languages", len(snap.Engines), len(snap.Languages))
	}
	if snap.Cache.Hits != 0 {
		t.Errorf("cache hits after Reset = %d, want 0", snap.Cache.Hits)
	}
	if snap.System != nil {
		t.Error("system sample survived Reset")
	}
	if snap.Latency.Samples != 0 {
		t.Errorf("latency samples after Reset = %d, want 0", snap.Latency.Samples)
	}
}
