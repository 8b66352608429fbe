// Package metrics collects in-process counters for the cache engine.
package metrics

import (
	"sync"
	"time"
)

// Metrics records engine activity. It is safe for concurrent use.
type Metrics struct {
	mu sync.RWMutex

	hits   int64
	misses int64

	fetches       int64
	fetchFailures int64

	admissions int64
	skips      int64
	evictions  int64
	expired    int64
	errors     int64

	bytesServed     int64
	bytesDownloaded int64
	bytesEvicted    int64

	startTime     time.Time
	lastHitTime   time.Time
	lastMissTime  time.Time
	lastErrorTime time.Time
	lastCleanup   time.Time
}

// New returns a Metrics with its start time set to now.
func New() *Metrics {
	return &Metrics{startTime: time.Now()}
}

// RecordHit records a content table hit that served n bytes.
func (m *Metrics) RecordHit(n int64) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.hits++
	m.bytesServed += n
	m.lastHitTime = time.Now()
}

// RecordMiss records a content table miss.
func (m *Metrics) RecordMiss() {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.misses++
	m.lastMissTime = time.Now()
}

// RecordFetch records a completed network fetch of n bytes.
func (m *Metrics) RecordFetch(n int64) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.fetches++
	m.bytesDownloaded += n
}

// RecordFetchFailure records a fetch sequence that produced no bytes.
func (m *Metrics) RecordFetchFailure() {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.fetchFailures++
}

// RecordAdmission records a new entry written to the store.
func (m *Metrics) RecordAdmission() {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.admissions++
}

// RecordSkip records an admission that was skipped.
func (m *Metrics) RecordSkip() {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.skips++
}

// RecordEviction records a capacity eviction of n bytes.
func (m *Metrics) RecordEviction(n int64) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.evictions++
	m.bytesEvicted += n
}

// RecordCleanup records a sweep that removed removed entries.
func (m *Metrics) RecordCleanup(removed int) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.expired += int64(removed)
	m.lastCleanup = time.Now()
}

// RecordError records an operation error.
func (m *Metrics) RecordError() {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.errors++
	m.lastErrorTime = time.Now()
}

// Snapshot is a point-in-time copy of the counters.
type Snapshot struct {
	Hits            int64         `json:"hits"`
	Misses          int64         `json:"misses"`
	HitRate         float64       `json:"hit_rate"`
	Fetches         int64         `json:"fetches"`
	FetchFailures   int64         `json:"fetch_failures"`
	Admissions      int64         `json:"admissions"`
	Skips           int64         `json:"skips"`
	Evictions       int64         `json:"evictions"`
	Expired         int64         `json:"expired"`
	Errors          int64         `json:"errors"`
	BytesServed     int64         `json:"bytes_served"`
	BytesDownloaded int64         `json:"bytes_downloaded"`
	BytesEvicted    int64         `json:"bytes_evicted"`
	Uptime          time.Duration `json:"uptime"`
	LastHit         time.Time     `json:"last_hit,omitzero"`
	LastMiss        time.Time     `json:"last_miss,omitzero"`
	LastError       time.Time     `json:"last_error,omitzero"`
	LastCleanup     time.Time     `json:"last_cleanup,omitzero"`
}

// Snapshot returns the current counters.
func (m *Metrics) Snapshot() Snapshot {
	m.mu.RLock()
	defer m.mu.RUnlock()

	return Snapshot{
		Hits:            m.hits,
		Misses:          m.misses,
		HitRate:         m.hitRate(),
		Fetches:         m.fetches,
		FetchFailures:   m.fetchFailures,
		Admissions:      m.admissions,
		Skips:           m.skips,
		Evictions:       m.evictions,
		Expired:         m.expired,
		Errors:          m.errors,
		BytesServed:     m.bytesServed,
		BytesDownloaded: m.bytesDownloaded,
		BytesEvicted:    m.bytesEvicted,
		Uptime:          time.Since(m.startTime),
		LastHit:         m.lastHitTime,
		LastMiss:        m.lastMissTime,
		LastError:       m.lastErrorTime,
		LastCleanup:     m.lastCleanup,
	}
}

// hitRate must be called with mu held.
func (m *Metrics) hitRate() float64 {
	total := m.hits + m.misses
	if total == 0 {
		return 0
	}
	return float64(m.hits) / float64(total)
}

// Reset zeroes every counter and restarts the uptime clock.
func (m *Metrics) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.hits, m.misses = 0, 0
	m.fetches, m.fetchFailures = 0, 0
	m.admissions, m.skips, m.evictions, m.expired, m.errors = 0, 0, 0, 0, 0
	m.bytesServed, m.bytesDownloaded, m.bytesEvicted = 0, 0, 0
	m.lastHitTime, m.lastMissTime, m.lastErrorTime, m.lastCleanup = time.Time{}, time.Time{}, time.Time{}, time.Time{}
	m.startTime = time.Now()
}
