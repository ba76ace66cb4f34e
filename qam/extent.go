// Package qam implements the queue access method's extent management and
// verification, spec.md §4.7: queue databases live in a sequence of
// numbered extent files rather than one growing file, each extent holding
// a fixed run of page numbers; this package owns the open-file
// bookkeeping (array1/array2), the qam_fget/qam_fput shim over mpool, the
// rename-to-backup/commit-time-unlink lifecycle, and the verifier's
// cross-checks.
package qam

import (
	"fmt"

	"github.com/dbforge/bdbcore/errs"
	"github.com/dbforge/bdbcore/logging"
	"github.com/dbforge/bdbcore/mpool"
)

var log = logging.Named("qam")

// Meta mirrors the queue meta page fields the verifier and extent
// arithmetic depend on, spec.md §4.7's verifier bullet.
type Meta struct {
	FirstRecno uint32
	CurRecno   uint32
	ReLen      uint32 // fixed record length
	RecPage    uint32 // records per page
	PageExt    uint32 // pages per extent; 0 means "not extent-based"
	PageSize   uint32
}

// ExtentOf returns which extent number holds pgno, given pageExt pages
// per extent. Page 0 is the meta page and is never part of an extent.
func ExtentOf(pgno, pageExt uint32) uint32 {
	if pageExt == 0 || pgno == 0 {
		return 0
	}
	return (pgno - 1) / pageExt
}

// FirstPage and LastPage bound extent e's page numbers, spec.md §4.7:
// "an extent e holds page numbers [e*page_ext+1 .. (e+1)*page_ext]".
func FirstPage(e, pageExt uint32) uint32 { return e*pageExt + 1 }
func LastPage(e, pageExt uint32) uint32  { return (e + 1) * pageExt }

// extentHandle is one open extent file.
type extentHandle struct {
	extent uint32
	file   *mpool.DBMpoolFile
}

// Array holds open extent handles for a contiguous [low, hi] extent
// range. Two Arrays (array1/array2 in the per-handle QUEUE struct) let
// the queue grow in both directions without shuffling already-open
// handles, spec.md §4.7.
type Array struct {
	low     uint32
	hi      uint32
	handles map[uint32]*extentHandle
	hasLow  bool
}

func newArray() *Array {
	return &Array{handles: make(map[uint32]*extentHandle)}
}

func (a *Array) get(extent uint32) (*extentHandle, bool) {
	h, ok := a.handles[extent]
	return h, ok
}

func (a *Array) put(h *extentHandle) {
	a.handles[h.extent] = h
	if !a.hasLow || h.extent < a.low {
		a.low = h.extent
		a.hasLow = true
	}
	if h.extent > a.hi {
		a.hi = h.extent
	}
}

func (a *Array) remove(extent uint32) (*extentHandle, bool) {
	h, ok := a.handles[extent]
	if ok {
		delete(a.handles, extent)
	}
	return h, ok
}

// ExtentFileName builds the on-disk name for extent e of a queue database
// named dbName, spec.md §6.3's "__dbq.name.NN" pattern.
func ExtentFileName(dbName string, e uint32) string {
	return fmt.Sprintf("__dbq.%s.%02d", dbName, e)
}

// BackupFileName builds the rename-to-backup name an in-flight delete
// uses so an abort can restore the extent, spec.md §4.7.
func BackupFileName(dbName string, e uint32) string {
	return ExtentFileName(dbName, e) + ".bak"
}

var errExtentNotOpen = errs.Wrap(errs.ErrNotFound, "qam: extent not open")
