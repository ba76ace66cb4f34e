package bt

import (
	"fmt"

	"github.com/dbforge/bdbcore/errs"
	"github.com/dbforge/bdbcore/lock"
	"github.com/dbforge/bdbcore/logrec"
	"github.com/dbforge/bdbcore/txn"
)

// SearchAction names the desired outcome of a recno descent, spec.md
// §4.6.
type SearchAction int

const (
	ActionRead SearchAction = iota
	ActionWrite
	ActionStack
	ActionAppend
	ActionPastEOF
	ActionParent
)

func (a SearchAction) stacking() bool {
	return a == ActionStack || a == ActionAppend || a == ActionParent
}

func (a SearchAction) mode() lock.Mode {
	if a == ActionWrite || a.stacking() {
		return lock.ModeWrite
	}
	return lock.ModeRead
}

// StackEntry is one level of the search stack bt_rsearch builds while
// descending, innermost (leaf) last.
type StackEntry struct {
	Pgno  uint32
	Indx  int
	Lock  *lock.Lock
	IsLeaf bool
}

// SearchResult is what bt_rsearch returns: the leaf page and index the
// recno resolved to, plus the stack of pages visited if the caller asked
// to keep one (STACK/APPEND/PARENT).
type SearchResult struct {
	Pgno  uint32
	Indx  int
	Recno uint32
	Stack []StackEntry
}

// Rsearcher holds the collaborators bt_rsearch needs: the page store it
// descends through and, optionally, a lock manager for lock-coupling.
// Locks is nil in tests that don't exercise concurrency.
type Rsearcher struct {
	Store PageStore
	Locks *lock.Manager

	// Append, when set, appends a cadjust record to the transaction log and
	// returns its assigned LSN; nil means record-count maintenance runs
	// in-memory only (e.g. a read-only search with no log to append to).
	Append func(rec logrec.Record) (txn.LSN, error)
}

func pageLockKey(pgno uint32) string {
	return fmt.Sprintf("bt-page-%d", pgno)
}

func (s *Rsearcher) lockPage(lockerID uint32, pgno uint32, mode lock.Mode) (*lock.Lock, error) {
	if s.Locks == nil {
		return nil, nil
	}
	return s.Locks.Get(lockerID, pageLockKey(pgno), mode, 0, 0)
}

func (s *Rsearcher) unlockPage(lk *lock.Lock) {
	if s.Locks == nil || lk == nil {
		return
	}
	_ = s.Locks.Put(lk)
}

// Search implements bt_rsearch, spec.md §4.6: locate the leaf entry for
// record number recno under root, honoring the requested action's
// locking and stacking discipline.
func (s *Rsearcher) Search(lockerID uint32, root uint32, recno uint32, action SearchAction) (*SearchResult, error) {
	mode := action.mode()
	rootLock, err := s.lockPage(lockerID, root, mode)
	if err != nil {
		return nil, err
	}

	page, ok := s.Store.Fetch(root)
	if !ok {
		s.unlockPage(rootLock)
		return nil, errs.Wrap(errs.ErrNotFound, "bt: root page %d not found", root)
	}

	// Tiny-tree upgrade: if the root is itself a leaf (or one level above
	// one) and the caller needs a stack, we already hold it at the right
	// mode since a leaf root never needs a read-then-upgrade dance beyond
	// what mode() already picked.
	stack := []StackEntry{{Pgno: root, Lock: rootLock, IsLeaf: page.IsLeaf}}

	total := page.NRec
	switch action {
	case ActionAppend:
		recno = uint32(total) + 1
	case ActionPastEOF:
		if recno > uint32(total)+1 {
			s.releaseStack(stack)
			return nil, errs.Wrap(errs.ErrNotFound, "bt: recno %d past end of file", recno)
		}
	default:
		if recno > uint32(total) {
			s.releaseStack(stack)
			return nil, errs.Wrap(errs.ErrNotFound, "bt: recno %d not found", recno)
		}
	}

	appending := action == ActionAppend
	cur := page
	curPgno := root
	remaining := recno
	for !cur.IsLeaf {
		child, indx, rest, err := descend(cur, remaining, appending)
		if err != nil {
			s.releaseStack(stack)
			return nil, err
		}
		remaining = rest

		childMode := mode
		childLock, err := s.lockPage(lockerID, child, childMode)
		if err != nil {
			s.releaseStack(stack)
			return nil, err
		}

		if !action.stacking() {
			// Non-stack discipline: couple down, then drop the parent.
			s.unlockPage(stack[len(stack)-1].Lock)
			stack = stack[:len(stack)-1]
		}

		childPage, ok := s.Store.Fetch(child)
		if !ok {
			s.unlockPage(childLock)
			s.releaseStack(stack)
			return nil, errs.Wrap(errs.ErrNotFound, "bt: child page %d not found", child)
		}

		stack = append(stack, StackEntry{Pgno: child, Indx: indx, Lock: childLock, IsLeaf: childPage.IsLeaf})
		cur = childPage
		curPgno = child
	}

	indx, err := leafIndex(cur, remaining, appending)
	if err != nil {
		s.releaseStack(stack)
		return nil, err
	}

	result := &SearchResult{Pgno: curPgno, Indx: indx, Recno: recno}
	if action.stacking() {
		result.Stack = stack
	} else {
		s.releaseStack(stack)
	}
	return result, nil
}

// descend finds the child page covering record offset remaining (0-based
// within cur) by summing child NRec counts left to right, per spec.md
// §4.6 step 5. When appending, there is no recno to locate: the new
// record always lands under the rightmost live child.
func descend(cur *Page, remaining uint32, appending bool) (child uint32, indx int, rest uint32, err error) {
	if appending {
		for i := len(cur.Entries) - 1; i >= 0; i-- {
			if !cur.Entries[i].Deleted {
				return cur.Entries[i].ChildPgno, i, 0, nil
			}
		}
		return 0, 0, 0, errs.Wrap(errs.ErrNotFound, "bt: no live child to append under")
	}
	var seen uint32
	for i, e := range cur.Entries {
		if e.Deleted {
			continue
		}
		n := uint32(e.ChildNRec)
		if remaining < seen+n {
			return e.ChildPgno, i, remaining - seen, nil
		}
		seen += n
	}
	return 0, 0, 0, errs.Wrap(errs.ErrNotFound, "bt: recno offset %d exceeds page total %d", remaining, seen)
}

// leafIndex walks a leaf's entries skipping logically-deleted ones
// (B_DISSET in the original) to find the nth live entry, spec.md §4.6
// step 6. Appending lands one past the last live entry.
func leafIndex(cur *Page, n uint32, appending bool) (int, error) {
	if appending {
		return len(cur.Entries), nil
	}
	var live uint32
	for i, e := range cur.Entries {
		if e.Deleted {
			continue
		}
		if live == n {
			return i, nil
		}
		live++
	}
	return 0, errs.Wrap(errs.ErrNotFound, "bt: live entry %d not found on page %d", n, cur.Pgno)
}

func (s *Rsearcher) releaseStack(stack []StackEntry) {
	for i := len(stack) - 1; i >= 0; i-- {
		s.unlockPage(stack[i].Lock)
	}
}

// Adjust implements __bam_adjust, spec.md §4.6 step 7: walk the search
// stack (root-to-leaf order) applying delta to each internal node's
// child-record-count, emitting a cadjust record per touched page and
// marking CAD_UPDATEROOT on the one whose Pgno equals root.
func (s *Rsearcher) Adjust(txnID uint32, prevLSN txn.LSN, stack []StackEntry, root uint32, delta int32) (txn.LSN, error) {
	last := prevLSN
	for i, entry := range stack {
		if entry.IsLeaf || i+1 >= len(stack) {
			continue
		}
		// The child followed from this page is recorded on the next stack
		// entry, whose Indx is its slot in this page.
		slot := stack[i+1].Indx
		page, ok := s.Store.Fetch(entry.Pgno)
		if !ok {
			continue
		}
		if slot < 0 || slot >= len(page.Entries) {
			continue
		}
		opflags := 0
		rootPgno := uint32(0)
		if entry.Pgno == root {
			opflags = CadUpdateRoot
			rootPgno = root
		}
		rec := &CadjustRecord{
			base:     base{Txn: txnID, Prev: last},
			Pgno:     entry.Pgno,
			Indx:     slot,
			Adjust:   delta,
			Opflags:  opflags,
			RootPgno: rootPgno,
		}
		if s.Append != nil {
			lsn, err := s.Append(rec)
			if err != nil {
				return last, err
			}
			last = lsn
		}
		page.Entries[slot].ChildNRec += delta
		if opflags&CadUpdateRoot != 0 {
			page.NRec += delta
		}
		s.Store.Put(entry.Pgno, page)
	}
	return last, nil
}
