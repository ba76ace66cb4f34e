package mpool

import "sync/atomic"

// Stats tracks the buffer-pool counters spec.md §3.3/§4.2 implies and the
// teacher's buffer_pool/stats.go exposes (hit/miss/read/write ratios).
type Stats struct {
	hits   uint64
	misses uint64
	writes uint64
}

func (s *Stats) recordHit()  { atomic.AddUint64(&s.hits, 1) }
func (s *Stats) recordMiss() { atomic.AddUint64(&s.misses, 1) }
func (s *Stats) recordWrite() { atomic.AddUint64(&s.writes, 1) }

// HitRatio returns hits / (hits + misses), or 0 if there have been none.
func (s *Stats) HitRatio() float64 {
	h := atomic.LoadUint64(&s.hits)
	m := atomic.LoadUint64(&s.misses)
	if h+m == 0 {
		return 0
	}
	return float64(h) / float64(h+m)
}

// Snapshot is a point-in-time copy of the pool's counters, summed across
// every cache partition.
type Snapshot struct {
	Hits, Misses, Writes uint64
	HitRatio             float64
}

// Stats returns a snapshot summed across every cache partition.
func (p *Pool) Stats() Snapshot {
	var snap Snapshot
	for _, mp := range p.caches {
		snap.Hits += atomic.LoadUint64(&mp.stats.hits)
		snap.Misses += atomic.LoadUint64(&mp.stats.misses)
		snap.Writes += atomic.LoadUint64(&mp.stats.writes)
	}
	if snap.Hits+snap.Misses > 0 {
		snap.HitRatio = float64(snap.Hits) / float64(snap.Hits+snap.Misses)
	}
	return snap
}
