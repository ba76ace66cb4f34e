// Package mpool implements the buffer pool (spec.md §4.2): a page-indexed
// cache over a set of registered files, with pinned-page access, dirty
// tracking, LRU-priority eviction, pgin/pgout conversion, and
// sync/trickle/checkpoint flushing.
//
// Grounded on the teacher's server/innodb/buffer_pool package (BufferPool,
// BufferPage, BufferBlock, the young/old LRU split in buffer_lru.go) and
// server/innodb/manager/buffer_pool_manager.go, generalized from InnoDB's
// fixed record shapes to the region-style BH/MPOOLFILE/DB_MPOOLFILE/bucket
// entities spec.md §3.3 names.
package mpool

import (
	"container/list"
	"sync"
)

// Flags on a single buffer header, spec.md §3.3.
type bhFlag uint32

const (
	bhDirty bhFlag = 1 << iota
	bhDirtyCreate
	bhTrash
	bhLocked
	bhCallPgin
)

// BH is the cached form of one page plus its metadata (spec.md §3.3's
// "buffer header"). Exported fields the caller needs to read/write page
// bytes; mutation of bookkeeping fields goes through the pool.
type BH struct {
	mu sync.Mutex

	mfID uint64
	pgno uint32

	ref      int32 // pin count; >0 means "cannot be evicted or moved"
	refSync  int32 // set by a flusher waiting for in-flight pins to drain
	priority uint64
	flags    bhFlag

	elem *list.Element // this BH's node within its owning bucket's list

	// Data holds the page's raw bytes, length always mfp.PageSize.
	Data []byte
}

// SpaceID and PageNo identify the page this buffer caches.
func (b *BH) SpaceID() uint64 { return b.mfID }
func (b *BH) PageNo() uint32  { return b.pgno }

// IsDirty reports the BH_DIRTY flag.
func (b *BH) IsDirty() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.flags&bhDirty != 0
}

func (b *BH) hasFlag(f bhFlag) bool {
	return b.flags&f != 0
}

func (b *BH) setFlag(f bhFlag) {
	b.flags |= f
}

func (b *BH) clearFlag(f bhFlag) {
	b.flags &^= f
}

// bucket is one hash-table slot: an intrusive list of BHs kept in strictly
// increasing priority order (spec.md §3.3: "priority-sorted bucket"), plus
// a dirty counter and the bucket's own mutex (spec.md §5, lock level 2).
type bucket struct {
	mu         sync.Mutex
	items      *list.List // of *BH, ascending priority
	dirtyCount int
}

func newBucket() *bucket {
	return &bucket{items: list.New()}
}

// priority returns the priority of the cheapest-to-evict BH in this
// bucket, i.e. its first element, or 0 if empty (spec.md §3.3 invariant
// "hash_priority == first_BH.priority unless the bucket is empty").
func (bk *bucket) priority() uint64 {
	if bk.items.Len() == 0 {
		return 0
	}
	return bk.items.Front().Value.(*BH).priority
}

// find returns the BH for (mfID, pgno) if cached in this bucket.
func (bk *bucket) find(mfID uint64, pgno uint32) *BH {
	for e := bk.items.Front(); e != nil; e = e.Next() {
		bh := e.Value.(*BH)
		if bh.mfID == mfID && bh.pgno == pgno {
			return bh
		}
	}
	return nil
}

// insertSorted inserts bh keeping the list in ascending-priority order and
// records the resulting list element on the BH so later removal is O(1).
func (bk *bucket) insertSorted(bh *BH) {
	for e := bk.items.Front(); e != nil; e = e.Next() {
		if e.Value.(*BH).priority > bh.priority {
			bh.elem = bk.items.InsertBefore(bh, e)
			return
		}
	}
	bh.elem = bk.items.PushBack(bh)
}

// reinsert removes bh from its current position and re-inserts it at its
// (possibly changed) priority, used by fput's re-ranking (spec.md §4.2.2)
// and by the failed-write demotion in the allocator (spec.md §4.2.3).
func (bk *bucket) reinsert(bh *BH) {
	if bh.elem != nil {
		bk.items.Remove(bh.elem)
		bh.elem = nil
	}
	bk.insertSorted(bh)
}

// moveToTail forces bh to the least-desirable (tail) position regardless
// of priority ordering, per spec.md §4.2.3's "reinsert at the tail" rule
// for a victim whose write failed.
func (bk *bucket) moveToTail(bh *BH) {
	if bh.elem != nil {
		bk.items.Remove(bh.elem)
	}
	bh.elem = bk.items.PushBack(bh)
}

func (bk *bucket) remove(bh *BH) {
	if bh.elem != nil {
		bk.items.Remove(bh.elem)
		bh.elem = nil
	}
}
