package cache

import (
	"container/list"
	"context"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/ttskit/ttskit/pkg/types"
)

const (
	defaultMaxBytes   = 100 << 20 // 100 MiB
	defaultMaxEntries = 1000
	defaultTTL        = 24 * time.Hour
)

// MemoryOption is a functional option for the memory cache.
type MemoryOption func(*Memory)

// WithTTL sets the entry lifetime. Zero disables expiry.
func WithTTL(ttl time.Duration) MemoryOption {
	return func(m *Memory) {
		m.ttl = ttl
	}
}

// WithMaxBytes caps the summed artifact size before LRU eviction kicks in.
func WithMaxBytes(n int64) MemoryOption {
	return func(m *Memory) {
		if n > 0 {
			m.maxBytes = n
		}
	}
}

// WithMaxEntries caps the entry count before LRU eviction kicks in.
func WithMaxEntries(n int) MemoryOption {
	return func(m *Memory) {
		if n > 0 {
			m.maxEntries = n
		}
	}
}

// WithEvictionFunc registers a callback invoked (outside the lock) with the
// number of entries and bytes each eviction pass removed.
func WithEvictionFunc(fn func(entries int, bytes int64)) MemoryOption {
	return func(m *Memory) {
		m.onEvict = fn
	}
}

// Memory is the in-process cache backend: a map over an LRU list with TTL
// checked on read. Safe for concurrent use.
type Memory struct {
	mu         sync.Mutex
	items      map[string]*list.Element
	lru        *list.List // front = most recently used
	size       int64
	ttl        time.Duration
	maxBytes   int64
	maxEntries int

	hits      uint64
	misses    uint64
	evictions uint64

	onEvict func(entries int, bytes int64)
	flight  singleflight.Group

	now func() time.Time // stubbed in tests
}

type memoryEntry struct {
	fp        string
	art       types.AudioArtifact
	expiresAt time.Time // zero when TTL disabled
}

// NewMemory constructs the in-process backend.
func NewMemory(opts ...MemoryOption) *Memory {
	m := &Memory{
		items:      make(map[string]*list.Element),
		lru:        list.New(),
		ttl:        defaultTTL,
		maxBytes:   defaultMaxBytes,
		maxEntries: defaultMaxEntries,
		now:        time.Now,
	}
	for _, o := range opts {
		o(m)
	}
	return m
}

// Get implements Cache.
func (m *Memory) Get(_ context.Context, fp string) (types.AudioArtifact, bool) {
	return m.lookup(fp, true)
}

// lookup fetches fp, optionally recording hit/miss counters. The stats-free
// variant backs the double-check inside GetOrCompute so a single logical
// request is not counted twice.
func (m *Memory) lookup(fp string, record bool) (types.AudioArtifact, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	el, ok := m.items[fp]
	if ok {
		entry := el.Value.(*memoryEntry)
		if entry.expiresAt.IsZero() || m.now().Before(entry.expiresAt) {
			m.lru.MoveToFront(el)
			if record {
				m.hits++
			}
			return entry.art, true
		}
		// Expired: drop in place.
		m.removeLocked(el)
	}
	if record {
		m.misses++
	}
	return types.AudioArtifact{}, false
}

// Put implements Cache.
func (m *Memory) Put(_ context.Context, fp string, art types.AudioArtifact) {
	m.mu.Lock()

	var expires time.Time
	if m.ttl > 0 {
		expires = m.now().Add(m.ttl)
	}

	if el, ok := m.items[fp]; ok {
		entry := el.Value.(*memoryEntry)
		m.size += int64(len(art.Bytes)) - int64(len(entry.art.Bytes))
		entry.art = art
		entry.expiresAt = expires
		m.lru.MoveToFront(el)
	} else {
		el := m.lru.PushFront(&memoryEntry{fp: fp, art: art, expiresAt: expires})
		m.items[fp] = el
		m.size += int64(len(art.Bytes))
	}

	evictedEntries, evictedBytes := m.evictLocked()
	m.mu.Unlock()

	if evictedEntries > 0 && m.onEvict != nil {
		m.onEvict(evictedEntries, evictedBytes)
	}
}

// evictLocked removes LRU entries until the cache is under budget. Never
// evicts the most recent entry, so a single oversized artifact still
// caches.
func (m *Memory) evictLocked() (entries int, bytes int64) {
	for m.lru.Len() > 1 && (m.size > m.maxBytes || m.lru.Len() > m.maxEntries) {
		oldest := m.lru.Back()
		if oldest == nil {
			break
		}
		entry := oldest.Value.(*memoryEntry)
		bytes += int64(len(entry.art.Bytes))
		entries++
		m.removeLocked(oldest)
		m.evictions++
	}
	return entries, bytes
}

func (m *Memory) removeLocked(el *list.Element) {
	entry := el.Value.(*memoryEntry)
	m.lru.Remove(el)
	delete(m.items, entry.fp)
	m.size -= int64(len(entry.art.Bytes))
}

// GetOrCompute implements Cache.
func (m *Memory) GetOrCompute(ctx context.Context, fp string, compute func(ctx context.Context) (types.AudioArtifact, error)) (types.AudioArtifact, error) {
	// Pre-check without touching hit/miss counters: the orchestrator has
	// already recorded this lookup through Get.
	if art, ok := m.lookup(fp, false); ok {
		return art, nil
	}
	v, err, _ := m.flight.Do(fp, func() (any, error) {
		if art, ok := m.lookup(fp, false); ok {
			return art, nil
		}
		art, err := compute(ctx)
		if err != nil {
			return nil, err
		}
		m.Put(ctx, fp, art)
		return art, nil
	})
	if err != nil {
		return types.AudioArtifact{}, err
	}
	return v.(types.AudioArtifact), nil
}

// Clear implements Cache.
func (m *Memory) Clear(context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.items = make(map[string]*list.Element)
	m.lru.Init()
	m.size = 0
	return nil
}

// Stats implements Cache.
func (m *Memory) Stats() Stats {
	m.mu.Lock()
	defer m.mu.Unlock()
	return Stats{
		Hits:      m.hits,
		Misses:    m.misses,
		Entries:   m.lru.Len(),
		SizeBytes: m.size,
		Evictions: m.evictions,
		HitRate:   hitRate(m.hits, m.misses),
	}
}

// CleanupExpired walks the cache and drops entries past their TTL. Expiry
// is otherwise lazy (checked on read); the admin cache_cleanup command
// calls this to reclaim memory eagerly. Returns the number removed.
func (m *Memory) CleanupExpired(context.Context) int {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.ttl <= 0 {
		return 0
	}
	now := m.now()
	removed := 0
	for el := m.lru.Back(); el != nil; {
		prev := el.Prev()
		entry := el.Value.(*memoryEntry)
		if !entry.expiresAt.IsZero() && !now.Before(entry.expiresAt) {
			m.removeLocked(el)
			removed++
		}
		el = prev
	}
	return removed
}

var _ Cache = (*Memory)(nil)
