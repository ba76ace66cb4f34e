package logrec

import "github.com/dbforge/bdbcore/txn"

// Cursor is the "log cursor" external collaborator spec.md §6.1 describes:
// First/Next/Prev/Last/Set position the cursor and return the record found
// there; Flush blocks until the log is durable to lsn (the WAL ordering
// guarantee mpool's write path depends on); VTruncate destructively
// shortens the log, used by recovery's post-pass cleanup.
type Cursor interface {
	First() (txn.LSN, Record, error)
	Next() (txn.LSN, Record, error)
	Prev() (txn.LSN, Record, error)
	Last() (txn.LSN, Record, error)
	Set(lsn txn.LSN) (Record, error)
	Flush(lsn txn.LSN) error
	VTruncate(lsn, ckpLSN, truncLSN txn.LSN) error
}
