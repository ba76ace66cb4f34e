// Package bt implements the B-tree recovery handlers and recno-aware
// search of spec.md §4.5/§4.6: split/rsplit/adj/cadjust/cdel/repl/root/
// curadj/rcuradj/relink, bt_rsearch, and the child-record-count
// maintenance bt_rsearch's STACK/APPEND actions depend on. Exact on-disk
// page byte layout is explicitly out of scope (spec §1 Non-goal); Page
// models just enough of a B-tree page's shape to drive the handlers'
// redo/undo logic and recno descent faithfully.
package bt

import (
	"github.com/dbforge/bdbcore/logging"
	"github.com/dbforge/bdbcore/txn"
)

var log = logging.Named("bt")

// Entry is one slot of a B-tree page: a leaf's key/data bytes, or an
// internal page's child pointer plus that child's record count (the
// count cadjust/rsearch maintain for recno descent).
type Entry struct {
	Bytes     []byte
	Deleted   bool   // B_DISSET: logically deleted, skipped by recno search
	ChildPgno uint32 // internal pages only
	ChildNRec int32  // internal pages only: count of live records under ChildPgno
}

// Page is one page of a B-tree: a flat slot array (leaf: data entries;
// internal: child pointers + counts), a flag for which kind it is, the
// LSN recovery compares against each record it considers applying, and
// sibling links relink adjusts.
type Page struct {
	Pgno    uint32
	LSN     txn.LSN
	IsLeaf  bool
	Entries []Entry
	Next    uint32 // 0 = none
	Prev    uint32 // 0 = none
	Root    uint32 // meta page only: current root page number
	NRec    int32  // total live record count, meta/root page only
}

// clone returns a deep-enough copy of p for undo pre-images: Entries is
// copied so mutating the live page never retroactively changes a stored
// pre-image.
func (p *Page) clone() *Page {
	cp := *p
	cp.Entries = append([]Entry(nil), p.Entries...)
	return &cp
}

// liveCount returns the number of non-deleted entries, i.e. RE_NREC for a
// leaf recno page.
func (p *Page) liveCount() int32 {
	var n int32
	for _, e := range p.Entries {
		if !e.Deleted {
			n++
		}
	}
	return n
}
