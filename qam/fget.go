package qam

import (
	"path/filepath"
	"sync"

	"github.com/dbforge/bdbcore/errs"
	"github.com/dbforge/bdbcore/mpool"
)

// Handle is one open queue database: its two extent arrays, the meta
// page's extent parameters, and the mpool it opens extent files through.
// Grounded on the teacher's ExtentManager's cache-plus-free-list shape
// (manager/extent_manager.go), adapted from InnoDB's fixed-size-extent
// tablespace model to the queue's per-database extent file sequence.
type Handle struct {
	mu sync.Mutex

	dir    string
	dbName string
	meta   Meta
	pool   *mpool.Pool

	array1 *Array
	array2 *Array

	// lowExtent/hiExtent bound the extents currently reachable from
	// array1/array2 combined; the verifier reports any __dbq.name.NN file
	// on disk outside this range as an orphan, spec.md §4.7.
	lowExtent  uint32
	hiExtent   uint32
	haveExtent bool
}

// NewHandle opens a queue database rooted at dir/dbName with the given
// meta parameters.
func NewHandle(pool *mpool.Pool, dir, dbName string, meta Meta) *Handle {
	return &Handle{
		dir:    dir,
		dbName: dbName,
		meta:   meta,
		pool:   pool,
		array1: newArray(),
		array2: newArray(),
	}
}

func (h *Handle) arrayFor(e uint32) (*Array, *Array) {
	// array1 holds the extent range opened first; array2 is used once the
	// queue has grown past array1's low end in the opposite direction,
	// spec.md §4.7's "two arrays allow growing in both directions without
	// shuffling". Once array1 is non-empty and e falls below its low
	// bound, new extents go into array2.
	if !h.array1.hasLow || e >= h.array1.low {
		return h.array1, h.array2
	}
	return h.array2, h.array1
}

func (h *Handle) markSpan(e uint32) {
	if !h.haveExtent || e < h.lowExtent {
		h.lowExtent = e
		h.haveExtent = true
	}
	if !h.haveExtent || e > h.hiExtent {
		h.hiExtent = e
	}
}

// openExtent opens (or creates) extent e's file and registers it in
// whichever array currently owns e's range.
func (h *Handle) openExtent(e uint32, create bool) (*extentHandle, error) {
	primary, _ := h.arrayFor(e)
	if eh, ok := primary.get(e); ok {
		return eh, nil
	}

	path := filepath.Join(h.dir, ExtentFileName(h.dbName, e))
	var (
		dbmf *mpool.DBMpoolFile
		err  error
	)
	if create {
		dbmf, err = h.pool.CreateFile(path, h.meta.PageSize)
	} else {
		dbmf, err = h.pool.OpenFile(path, h.meta.PageSize, 0)
	}
	if err != nil {
		return nil, errs.Wrap(errs.ErrIO, "qam: open extent %d: %v", e, err)
	}

	eh := &extentHandle{extent: e, file: dbmf}
	primary.put(eh)
	h.markSpan(e)
	return eh, nil
}

// Fget implements qam_fget, spec.md §4.7: translate a queue-relative page
// number to its extent file and fetch the page through mpool, opening
// (and for FgetCreate/FgetNew, creating) the extent file on demand.
func (h *Handle) Fget(pgno uint32, flags mpool.FgetFlag) (*mpool.BH, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.meta.PageExt == 0 {
		return nil, errs.Wrap(errs.ErrInvalidArgument, "qam: queue %s is not extent-based", h.dbName)
	}

	e := ExtentOf(pgno, h.meta.PageExt)
	create := flags&(mpool.FgetCreate|mpool.FgetNew) != 0
	eh, err := h.openExtent(e, create)
	if err != nil {
		return nil, err
	}

	local := pgno - FirstPage(e, h.meta.PageExt) + 1
	return h.pool.Fget(eh.file, local, flags)
}

// Fput implements qam_fput: release the page back to mpool through the
// same extent file Fget resolved.
func (h *Handle) Fput(pgno uint32, bh *mpool.BH, dirty bool) error {
	h.mu.Lock()
	e := ExtentOf(pgno, h.meta.PageExt)
	primary, secondary := h.arrayFor(e)
	_, ok := primary.get(e)
	if !ok {
		_, ok = secondary.get(e)
	}
	h.mu.Unlock()
	if !ok {
		return errExtentNotOpen
	}
	return h.pool.Fput(bh, dirty)
}
