package mpool

import (
	"sync/atomic"
	"time"

	"github.com/dbforge/bdbcore/errs"
)

// mempAlloc implements spec.md §4.2.3: return a fresh BH for mfp, first by
// best-fit over already-freed allocations (trivial here — each BH's Data
// is a correctly-sized slice already, so "best fit" degenerates to "any
// freed BH of the same page size", handled inline by the caller reusing
// victim.Data), then by walking buckets for an eviction victim.
func (p *Pool) mempAlloc(mp *MPool, mfp *MPOOLFile) (*BH, error) {
	if mp.maxPages <= 0 || atomic.LoadInt32(&mp.pages) < mp.maxPages {
		atomic.AddInt32(&mp.pages, 1)
		return &BH{Data: make([]byte, mfp.PageSize)}, nil
	}

	aggressive := 0
	for {
		victimBH, victimBucket := p.findVictim(mp)
		if victimBH == nil {
			aggressive++
			if aggressive == 1 {
				// One full sweep found nothing: force a bounded sync and
				// retry once before giving up, per spec.md §4.2.3.
				var wrote int
				_ = p.SyncInt(SyncOpts{Op: SyncCache, Max: 64}, &wrote)
				time.Sleep(time.Second)
				continue
			}
			return nil, errs.Wrap(errs.ErrNoSpace, "mpool: no evictable buffer after escalation")
		}

		if victimBH.IsDirty() {
			if err := p.mempBHWrite(mp, victimBucket, victimBH, true); err != nil {
				// Demote: least desirable so the allocator doesn't spin
				// on this victim, per spec.md §4.2.3.
				victimBucket.mu.Lock()
				victimBucket.moveToTail(victimBH)
				victimBucket.mu.Unlock()
				continue
			}
		}

		victimBucket.mu.Lock()
		victimBucket.remove(victimBH)
		victimBucket.mu.Unlock()

		if uint32(len(victimBH.Data)) == mfp.PageSize {
			// Reuse the memory in place rather than free-then-allocate.
			victimBH.flags = 0
			victimBH.ref = 0
			victimBH.refSync = 0
			victimBH.elem = nil
			clearSlice(victimBH.Data)
			return victimBH, nil
		}
		return &BH{Data: make([]byte, mfp.PageSize)}, nil
	}
}

// mempFree releases a BH that was allocated but never installed (the "lost
// the race to install this page" path in Fget).
func (p *Pool) mempFree(mp *MPool, bh *BH) {
	atomic.AddInt32(&mp.pages, -1)
}

// skipThreshold returns the "top 10% of the LRU window" priority skip spec.md
// §4.2.3 describes: buckets whose first BH is this recent are left alone
// so eviction doesn't immediately reclaim pages that were just pinned.
func (mp *MPool) skipThreshold() uint64 {
	cur := mp.lruCounter
	return cur - cur/10
}

// findVictim scans buckets two at a time starting from lastChecked,
// picking the lower-priority of the pair, per spec.md §4.2.3.
func (p *Pool) findVictim(mp *MPool) (*BH, *bucket) {
	n := uint32(len(mp.buckets))
	start := mp.lastChecked
	skip := mp.skipThreshold()

	for i := uint32(0); i < n; i += 2 {
		idx1 := (start + i) % n
		idx2 := (start + i + 1) % n
		b1, b2 := mp.buckets[idx1], mp.buckets[idx2]

		b1.mu.Lock()
		p1 := b1.priority()
		b1.mu.Unlock()
		b2.mu.Lock()
		p2 := b2.priority()
		b2.mu.Unlock()

		chosen := b1
		if b2.items.Len() > 0 && (b1.items.Len() == 0 || p2 < p1) {
			chosen = b2
		}

		chosen.mu.Lock()
		if chosen.items.Len() == 0 {
			chosen.mu.Unlock()
			continue
		}
		bh := chosen.items.Front().Value.(*BH)
		if bh.priority >= skip {
			chosen.mu.Unlock()
			continue
		}
		bh.mu.Lock()
		skippable := bh.ref > 0 || bh.hasFlag(bhLocked)
		bh.mu.Unlock()
		chosen.mu.Unlock()
		if skippable {
			continue
		}

		mp.lastChecked = (idx1 + 2) % n
		return bh, chosen
	}
	mp.lastChecked = start
	return nil, nil
}
