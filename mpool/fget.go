package mpool

import (
	"math"
	"time"

	"github.com/dbforge/bdbcore/errs"
)

// FgetFlag mirrors the fget flags table in spec.md §4.2.1.
type FgetFlag uint32

const (
	// FgetCreate extends the file and zero-fills when pgno is past EOF.
	FgetCreate FgetFlag = 1 << iota
	// FgetLast treats last_pgno as the requested page number.
	FgetLast
	// FgetNew allocates a fresh page number, zero-filled: last_pgno+1, or
	// page 0 for a file that has no page yet.
	FgetNew
	// FgetFree drops a page the caller already uniquely holds, discarding
	// it from the cache without writing it back even if dirty
	// (__memp_fget's DB_MPOOL_FREE, storage/bdb/mp/mp_fget.c): a no-op if
	// the page is not resident, a hard error if anyone else still holds
	// it.
	FgetFree
)

const maxSpinRounds = 3

// Fget returns a pinned buffer for (dbmf, pgno), implementing the
// algorithm of spec.md §4.2.1. The returned BH always has ref >= 1 and
// !BH_TRASH, per the testable property in spec.md §8.
func (p *Pool) Fget(d *DBMpoolFile, pgno uint32, flags FgetFlag) (*BH, error) {
	mfp := d.mfp

	if flags&FgetLast != 0 {
		mfp.mu.Lock()
		pgno = mfp.LastPgno
		mfp.mu.Unlock()
	}
	if flags&FgetNew != 0 {
		// A file with no page yet (nothing on disk and page 0 not cached)
		// gets page 0; otherwise the new page is last_pgno+1.
		zbk := p.bucketFor(p.cacheFor(mfp.ID, 0), mfp.ID, 0)
		zbk.mu.Lock()
		fresh := zbk.find(mfp.ID, 0) == nil
		zbk.mu.Unlock()
		if fresh && d.file != nil {
			if fi, err := d.file.Stat(); err != nil || fi.Size() > 0 {
				fresh = false
			}
		}
		mfp.mu.Lock()
		if !fresh || mfp.LastPgno != 0 {
			mfp.LastPgno++
		}
		pgno = mfp.LastPgno
		mfp.mu.Unlock()
	}

	mp := p.cacheFor(mfp.ID, pgno)

	for spin := 0; ; spin++ {
		bk := p.bucketFor(mp, mfp.ID, pgno)
		bk.mu.Lock()
		bh := bk.find(mfp.ID, pgno)
		if bh != nil {
			bh.mu.Lock()
			if bh.ref == math.MaxInt32 {
				bh.mu.Unlock()
				bk.mu.Unlock()
				return nil, errs.Wrap(errs.ErrPanic, "mpool: pin refcount overflow on page %d", pgno)
			}
			bh.ref++
			locked := bh.hasFlag(bhLocked)
			bh.mu.Unlock()
			bk.mu.Unlock()

			if locked {
				if spin < maxSpinRounds {
					time.Sleep(time.Millisecond)
					bh.mu.Lock()
					bh.ref--
					bh.mu.Unlock()
					continue
				}
				// After three rounds a checkpoint may still be holding
				// the page (ref_sync > 0); yield and restart the whole
				// search, per spec.md §4.2.1 step 3.
				bh.mu.Lock()
				waiting := bh.refSync > 0
				bh.mu.Unlock()
				if waiting {
					time.Sleep(time.Millisecond)
					bh.mu.Lock()
					bh.ref--
					bh.mu.Unlock()
					spin = 0
					continue
				}
			}

			if flags&FgetFree != 0 {
				// Our own find() above already added one pin on top of
				// whatever the caller already held; ref==2 means the
				// caller's was the only other one, i.e. the page really
				// is uniquely held.
				bh.mu.Lock()
				if bh.ref != 2 {
					bh.ref--
					bh.mu.Unlock()
					return nil, errs.Wrap(errs.ErrPanic, "mpool: freeing pinned buffer for page %d", pgno)
				}
				wasDirty := bh.hasFlag(bhDirty)
				bh.mu.Unlock()

				bk.mu.Lock()
				bk.remove(bh)
				if wasDirty && bk.dirtyCount > 0 {
					bk.dirtyCount--
				}
				bk.mu.Unlock()
				p.mempFree(mp, bh)
				mp.stats.recordHit()
				return nil, nil
			}

			bh.mu.Lock()
			bh.clearFlag(bhTrash)
			bh.priority = mp.nextPriority()
			bh.mu.Unlock()
			bk.mu.Lock()
			bk.reinsert(bh)
			bk.mu.Unlock()

			if mfp.converter != nil {
				_ = mfp.converter.PgIn(pgno, bh.Data)
			}
			mp.stats.recordHit()
			return bh, nil
		}
		bk.mu.Unlock()

		if flags&FgetFree != 0 {
			// Not resident: nothing to free (mp_fget.c's FIRST_MISS case).
			return nil, nil
		}

		// Not found: decide whether this page is even reachable, extend
		// the file if requested, allocate a BH, then re-check for a race.
		mfp.mu.Lock()
		past := pgno > mfp.LastPgno
		if past {
			if flags&(FgetCreate|FgetNew) == 0 {
				mfp.mu.Unlock()
				return nil, errs.Wrap(errs.ErrNotFound, "mpool: page %d past EOF (last=%d)", pgno, mfp.LastPgno)
			}
			mfp.LastPgno = pgno
		}
		mfp.mu.Unlock()

		newBH, err := p.mempAlloc(mp, mfp)
		if err != nil {
			return nil, err
		}
		newBH.mfID = mfp.ID
		newBH.pgno = pgno
		newBH.ref = 1
		newBH.refSync = 0
		newBH.priority = mp.nextPriority()

		bk.mu.Lock()
		if raced := bk.find(mfp.ID, pgno); raced != nil {
			// Someone installed the page while we were allocating; give
			// up our allocation and retry as the found case.
			bk.mu.Unlock()
			p.mempFree(mp, newBH)
			continue
		}
		newBH.setFlag(bhLocked)
		bk.insertSorted(newBH)
		bk.mu.Unlock()

		if flags&(FgetNew|FgetCreate) != 0 && past {
			clearSlice(newBH.Data)
		} else {
			if err := p.readPage(d, newBH); err != nil {
				newBH.setFlag(bhTrash)
				bk.mu.Lock()
				bk.remove(newBH)
				bk.mu.Unlock()
				return nil, err
			}
		}

		bk.mu.Lock()
		newBH.clearFlag(bhLocked)
		newBH.clearFlag(bhTrash)
		bk.mu.Unlock()

		if mfp.converter != nil {
			_ = mfp.converter.PgIn(pgno, newBH.Data)
		}
		mp.stats.recordMiss()
		return newBH, nil
	}
}

func clearSlice(b []byte) {
	for i := range b {
		b[i] = 0
	}
}

func (p *Pool) readPage(d *DBMpoolFile, bh *BH) error {
	off := int64(bh.pgno) * int64(d.mfp.PageSize)
	n, err := d.file.ReadAt(bh.Data, off)
	if err != nil && n == 0 {
		// A short/empty read past current EOF is treated as a zero page
		// (newly extended, not yet flushed) rather than an error.
		clearSlice(bh.Data)
		return nil
	}
	if err != nil && n < len(bh.Data) {
		clearSlice(bh.Data[n:])
	}
	return nil
}

// Fput implements spec.md §4.2.2: decrement the pin, mark dirty (and bump
// the bucket's dirty counter) if requested, and re-sort the bucket so
// priority ordering reflects this release.
func (p *Pool) Fput(bh *BH, dirty bool) error {
	mp := p.cacheFor(bh.mfID, bh.pgno)
	bk := p.bucketFor(mp, bh.mfID, bh.pgno)

	bk.mu.Lock()
	defer bk.mu.Unlock()

	bh.mu.Lock()
	bh.ref--
	if dirty {
		wasDirty := bh.hasFlag(bhDirty)
		bh.setFlag(bhDirty)
		if !wasDirty {
			bk.dirtyCount++
		}
	}
	bh.mu.Unlock()

	bk.reinsert(bh)
	return nil
}
