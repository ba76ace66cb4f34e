// Package txn implements the minimal transaction bookkeeping that recovery
// consumes per spec.md §3.5 and §6.1: log sequence numbers, the
// in-memory transaction list a recovery pass builds while scanning the
// log, and a small transaction manager tracking begin/commit/abort state
// for live transactions. It does not implement an access method or a log
// writer; those are separate collaborators (logrec.Cursor, bt, qam).
package txn

import "fmt"

// LSN is DB_LSN from spec.md §3.5: a (file, offset) pair, totally ordered
// lexicographically by file then offset.
type LSN struct {
	File   uint32
	Offset uint32
}

// Zero is the sentinel "no LSN" value; no real log record is ever written
// at (0, 0).
var Zero = LSN{}

// IsZero reports whether l is the unset LSN.
func (l LSN) IsZero() bool { return l.File == 0 && l.Offset == 0 }

// Less reports whether l sorts strictly before other.
func (l LSN) Less(other LSN) bool {
	if l.File != other.File {
		return l.File < other.File
	}
	return l.Offset < other.Offset
}

// Compare returns -1, 0, or 1 as l is less than, equal to, or greater than
// other, matching the C driver's log_compare.
func (l LSN) Compare(other LSN) int {
	switch {
	case l.Less(other):
		return -1
	case other.Less(l):
		return 1
	default:
		return 0
	}
}

func (l LSN) String() string { return fmt.Sprintf("%d/%d", l.File, l.Offset) }
