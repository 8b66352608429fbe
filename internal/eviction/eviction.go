// Package eviction chooses which stored entries to drop when the cache needs
// space. Entries are ranked by a value that grows with access frequency and
// decays with time since last access; the least valuable go first.
package eviction

import (
	"container/heap"
	"context"
	"time"
)

// Candidate is a stored entry that may be evicted.
type Candidate struct {
	Key          string
	AccessCount  uint64
	LastAccessed time.Time
	Size         int64
}

// Value returns AccessCount / (days since LastAccessed + 1). Days are
// fractional; a LastAccessed in the future counts as zero days.
func Value(accessCount uint64, lastAccessed, now time.Time) float64 {
	age := now.Sub(lastAccessed)
	if age < 0 {
		age = 0
	}
	days := age.Hours() / 24
	return float64(accessCount) / (days + 1)
}

type rankedCandidate struct {
	Candidate
	value float64
}

// candidateHeap is a min-heap by value. Ties go to the older access, then
// the lower count, then the smaller key, so ordering is deterministic.
type candidateHeap []rankedCandidate

func (h candidateHeap) Len() int { return len(h) }

func (h candidateHeap) Less(i, j int) bool {
	a, b := h[i], h[j]
	if a.value != b.value {
		return a.value < b.value
	}
	if !a.LastAccessed.Equal(b.LastAccessed) {
		return a.LastAccessed.Before(b.LastAccessed)
	}
	if a.AccessCount != b.AccessCount {
		return a.AccessCount < b.AccessCount
	}
	return a.Key < b.Key
}

func (h candidateHeap) Swap(i, j int) { h[i], h[j] = h[j], h[i] }

func (h *candidateHeap) Push(x any) { *h = append(*h, x.(rankedCandidate)) }

func (h *candidateHeap) Pop() any {
	old := *h
	n := len(old)
	item := old[n-1]
	*h = old[:n-1]
	return item
}

// Select returns candidate keys, least valuable first, whose sizes add up to
// at least bytesToFree. If the candidates cannot cover bytesToFree, all of
// them are returned. Select does not modify candidates.
func Select(candidates []Candidate, bytesToFree int64, now time.Time) []string {
	if bytesToFree <= 0 || len(candidates) == 0 {
		return nil
	}

	h := make(candidateHeap, 0, len(candidates))
	for _, c := range candidates {
		h = append(h, rankedCandidate{
			Candidate: c,
			value:     Value(c.AccessCount, c.LastAccessed, now),
		})
	}
	heap.Init(&h)

	var selected []string
	var freed int64
	for h.Len() > 0 && freed < bytesToFree {
		c := heap.Pop(&h).(rankedCandidate)
		selected = append(selected, c.Key)
		freed += c.Size
	}
	return selected
}

// Source lists the entries eligible for eviction. Entries without a readable
// access record must not be returned; cleanup handles those.
type Source interface {
	Candidates(ctx context.Context) ([]Candidate, error)
}

// Planner plans evictions against a Source.
type Planner struct {
	source Source
	now    func() time.Time
}

// NewPlanner returns a Planner reading from source. A nil now uses time.Now.
func NewPlanner(source Source, now func() time.Time) *Planner {
	if now == nil {
		now = time.Now
	}
	return &Planner{source: source, now: now}
}

// Plan returns the keys to remove to free at least bytesToFree bytes, least
// valuable first. It never deletes anything itself.
func (p *Planner) Plan(ctx context.Context, bytesToFree int64) ([]string, error) {
	if bytesToFree <= 0 {
		return nil, nil
	}
	candidates, err := p.source.Candidates(ctx)
	if err != nil {
		return nil, err
	}
	return Select(candidates, bytesToFree, p.now()), nil
}
