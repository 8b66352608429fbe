package metrics

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestMetrics_Counters(t *testing.T) {
	m := New()

	m.RecordHit(100)
	m.RecordHit(50)
	m.RecordMiss()
	m.RecordFetch(200)
	m.RecordFetchFailure()
	m.RecordAdmission()
	m.RecordSkip()
	m.RecordEviction(60)
	m.RecordCleanup(3)
	m.RecordError()

	s := m.Snapshot()
	assert.Equal(t, int64(2), s.Hits)
	assert.Equal(t, int64(1), s.Misses)
	assert.InDelta(t, 2.0/3.0, s.HitRate, 1e-9)
	assert.Equal(t, int64(1), s.Fetches)
	assert.Equal(t, int64(1), s.FetchFailures)
	assert.Equal(t, int64(1), s.Admissions)
	assert.Equal(t, int64(1), s.Skips)
	assert.Equal(t, int64(1), s.Evictions)
	assert.Equal(t, int64(3), s.Expired)
	assert.Equal(t, int64(1), s.Errors)
	assert.Equal(t, int64(150), s.BytesServed)
	assert.Equal(t, int64(200), s.BytesDownloaded)
	assert.Equal(t, int64(60), s.BytesEvicted)
	assert.False(t, s.LastHit.IsZero())
	assert.False(t, s.LastCleanup.IsZero())
}

func TestMetrics_EmptyHitRate(t *testing.T) {
	assert.Zero(t, New().Snapshot().HitRate)
}

func TestMetrics_Reset(t *testing.T) {
	m := New()
	m.RecordHit(1)
	m.RecordError()
	m.Reset()

	s := m.Snapshot()
	assert.Zero(t, s.Hits)
	assert.Zero(t, s.Errors)
	assert.True(t, s.LastHit.IsZero())
}

func TestMetrics_Concurrent(t *testing.T) {
	m := New()
	var wg sync.WaitGroup
	for range 50 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			m.RecordHit(1)
			m.RecordMiss()
			_ = m.Snapshot()
		}()
	}
	wg.Wait()

	s := m.Snapshot()
	assert.Equal(t, int64(50), s.Hits)
	assert.Equal(t, int64(50), s.Misses)
}
