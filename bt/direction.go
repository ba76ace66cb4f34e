package bt

import (
	"github.com/dbforge/bdbcore/logrec"
	"github.com/dbforge/bdbcore/txn"
)

// needsRedo reports whether p's change has not yet been applied: its LSN
// is strictly behind the record's own LSN. Applying the redo then sets
// p.LSN to lsn.
func needsRedo(p *Page, lsn txn.LSN) bool {
	return p.LSN.Less(lsn)
}

// needsUndo reports whether p still reflects this record's effect: its
// LSN is exactly the record's own LSN. Applying the undo then sets p.LSN
// to the record's predecessor LSN.
func needsUndo(p *Page, lsn txn.LSN) bool {
	return p.LSN == lsn
}

// isRedoOp/isUndoOp classify a dispatch op per spec.md §4.5: REDO and
// FORWARD_ROLL both mean "apply the change if not already applied"; UNDO
// and BACKWARD_ROLL both mean "reverse the change if still applied".
func isRedoOp(op logrec.Op) bool {
	return op == logrec.OpRedo || op == logrec.OpForwardRoll
}

func isUndoOp(op logrec.Op) bool {
	return op == logrec.OpUndo || op == logrec.OpBackwardRoll
}

// fetchForApply fetches pgno, optionally creating it (REDO-only, when the
// record describes allocation) if missing, per spec.md §4.5 step 2. ok is
// false when the record should be skipped entirely (page genuinely gone
// and not recreatable, or an UNDO against a page that no longer exists).
func fetchForApply(store PageStore, pgno uint32, op logrec.Op, canCreate bool) (p *Page, ok bool) {
	p, found := store.Fetch(pgno)
	if found {
		return p, true
	}
	if isRedoOp(op) && canCreate {
		p = &Page{Pgno: pgno}
		return p, true
	}
	return nil, false
}
