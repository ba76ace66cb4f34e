package mpool

import (
	"sort"
	"time"

	"github.com/dbforge/bdbcore/errs"
)

// LogFlusher is the WAL collaborator spec.md §6.1 names: flush(lsn) must
// block until the log is durable to at least that LSN before a dirty page
// carrying it may be written back (spec.md §4.2.4, §5's ordering
// guarantee).
type LogFlusher interface {
	Flush(lsn uint64) error
}

// LSNReader extracts the page LSN from a buffer's bytes at the file's
// recorded LSNOff, so memp_bhwrite knows how far to flush the log before
// writing the page.
type LSNReader func(buf []byte) uint64

// mempBHWrite implements spec.md §4.2.4: write one dirty buffer back to
// disk, honoring DEADFILE short-circuit, extent-open permission, WAL
// ordering, and the pgout/BH_CALLPGIN handshake.
func (p *Pool) mempBHWrite(mp *MPool, bk *bucket, bh *BH, openExtents bool) error {
	mfp, ok := p.fileByID(bh.mfID)
	if !ok {
		return errs.Wrap(errs.ErrNotFound, "mpool: unknown file id %d", bh.mfID)
	}

	if mfp.isDeadFile() {
		bh.mu.Lock()
		bh.clearFlag(bhDirty)
		bh.clearFlag(bhDirtyCreate)
		bh.mu.Unlock()
		bk.mu.Lock()
		if bk.dirtyCount > 0 {
			bk.dirtyCount--
		}
		bk.mu.Unlock()
		return nil
	}

	if mfp.isExtent() && !openExtents {
		return errs.Wrap(errs.ErrPerm, "mpool: trickle thread may not open extent %s", mfp.Path)
	}

	d, err := p.findWritableHandle(mfp)
	if err != nil {
		return err
	}

	if p.logFlusher != nil && mfp.LSNOff >= 0 && p.lsnOf != nil {
		lsn := p.lsnOf(bh.Data)
		if err := p.logFlusher.Flush(lsn); err != nil {
			return errs.Wrap(errs.ErrIO, "mpool: flush log to lsn %d: %v", lsn, err)
		}
	}

	calledPgout := false
	if mfp.converter != nil {
		if err := mfp.converter.PgOut(bh.pgno, bh.Data); err != nil {
			return errs.Wrap(errs.ErrIO, "mpool: pgout page %d: %v", bh.pgno, err)
		}
		calledPgout = true
	}

	off := int64(bh.pgno) * int64(mfp.PageSize)
	if _, err := d.file.WriteAt(bh.Data, off); err != nil {
		return errs.Wrap(errs.ErrIO, "mpool: write page %d of %s: %v", bh.pgno, mfp.Path, err)
	}

	bh.mu.Lock()
	bh.clearFlag(bhDirty)
	bh.clearFlag(bhDirtyCreate)
	bh.refSync = 0
	if calledPgout {
		bh.setFlag(bhCallPgin)
	}
	bh.mu.Unlock()

	bk.mu.Lock()
	if bk.dirtyCount > 0 {
		bk.dirtyCount--
	}
	bk.mu.Unlock()

	mp.stats.recordWrite()
	return nil
}

// SyncOp selects which candidate set sync_int flushes, per spec.md §4.2.5.
type SyncOp int

const (
	SyncCache SyncOp = iota
	SyncFile
	SyncTrickle
	SyncAlloc
)

// SyncOpts parameterizes a sync_int call.
type SyncOpts struct {
	Op  SyncOp
	Max int         // candidate cap; 0 means no cap
	MFP *MPOOLFile  // required for SyncFile
}

type syncCandidate struct {
	bh     *BH
	bk     *bucket
	mfID   uint64
	pgno   uint32
}

// SyncInt implements spec.md §4.2.5's flush algorithm across every cache
// partition: snapshot candidates, sort for sequential I/O, then drain them
// with the bounded ref_sync wait.
func (p *Pool) SyncInt(opts SyncOpts, wrote *int) error {
	var candidates []syncCandidate

	for _, mp := range p.caches {
		for _, bk := range mp.buckets {
			bk.mu.Lock()
			for e := bk.items.Front(); e != nil; e = e.Next() {
				bh := e.Value.(*BH)
				if !matchesSyncOp(opts, bh, p) {
					continue
				}
				candidates = append(candidates, syncCandidate{bh: bh, bk: bk, mfID: bh.mfID, pgno: bh.pgno})
			}
			bk.mu.Unlock()
		}
	}

	sort.Slice(candidates, func(i, j int) bool {
		if candidates[i].mfID != candidates[j].mfID {
			return candidates[i].mfID < candidates[j].mfID
		}
		return candidates[i].pgno < candidates[j].pgno
	})

	if opts.Max > 0 && len(candidates) > opts.Max {
		candidates = candidates[:opts.Max]
	}

	openedForFlush := 0
	for i, c := range candidates {
		bh := c.bh
		c.bk.mu.Lock()
		found := c.bk.find(c.mfID, c.pgno)
		if found != bh {
			c.bk.mu.Unlock()
			continue
		}
		bh.mu.Lock()
		if !bh.hasFlag(bhDirty) && bh.ref == 0 {
			bh.mu.Unlock()
			c.bk.mu.Unlock()
			continue
		}
		bh.refSync = bh.ref
		bh.ref++
		bh.setFlag(bhLocked)
		bh.mu.Unlock()
		c.bk.mu.Unlock()

		drained := waitForRefSync(bh)
		if drained {
			mp := p.cacheFor(bh.mfID, bh.pgno)
			if bh.IsDirty() {
				mfp, _ := p.fileByID(bh.mfID)
				openExtents := opts.Op != SyncTrickle
				if err := p.mempBHWrite(mp, c.bk, bh, openExtents); err == nil {
					*wrote++
				}
				_ = mfp
			}
		}

		bh.mu.Lock()
		bh.clearFlag(bhLocked)
		bh.ref--
		bh.mu.Unlock()
		c.bk.mu.Lock()
		c.bk.reinsert(bh)
		c.bk.mu.Unlock()

		openedForFlush++
		if openedForFlush%64 == 0 {
			time.Sleep(time.Millisecond)
		}
		_ = i
	}

	if opts.Op == SyncCache || opts.Op == SyncFile {
		return p.fsyncDirtyFiles(opts)
	}
	return nil
}

func matchesSyncOp(opts SyncOpts, bh *BH, p *Pool) bool {
	switch opts.Op {
	case SyncCache:
		mfp, ok := p.fileByID(bh.mfID)
		if !ok {
			return false
		}
		return (bh.ref > 0 || bh.IsDirty()) && mfp.flags&mfTemp == 0
	case SyncFile:
		return opts.MFP != nil && bh.mfID == opts.MFP.ID && bh.IsDirty()
	case SyncTrickle, SyncAlloc:
		return bh.IsDirty()
	default:
		return false
	}
}

// waitForRefSync waits up to three 1-second intervals for concurrent
// pinners to drain, per spec.md §4.2.5 step 5 / §5's bounded wait.
func waitForRefSync(bh *BH) bool {
	for i := 0; i < 3; i++ {
		bh.mu.Lock()
		done := bh.refSync <= 1
		bh.mu.Unlock()
		if done {
			return true
		}
		time.Sleep(time.Second)
	}
	return false
}

func (p *Pool) fsyncDirtyFiles(opts SyncOpts) error {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if opts.Op == SyncFile && opts.MFP != nil {
		return syncHandle(p, opts.MFP)
	}
	for _, mfp := range p.files {
		if err := syncHandle(p, mfp); err != nil {
			return err
		}
	}
	return nil
}

func syncHandle(p *Pool, mfp *MPOOLFile) error {
	d, err := p.findWritableHandle(mfp)
	if err != nil {
		return nil // nothing open for writing, nothing to fsync
	}
	if err := d.file.Sync(); err != nil {
		return errs.Wrap(errs.ErrIO, "mpool: fsync %s: %v", mfp.Path, err)
	}
	return nil
}
