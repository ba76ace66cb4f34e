package qam

import (
	"sync"

	"github.com/dbforge/bdbcore/logrec"
	"github.com/dbforge/bdbcore/txn"
)

// ExtentFS is the filesystem collaborator the lifecycle handlers need;
// satisfied by a thin wrapper over os.Rename/os.Remove in a real
// deployment, and by a fake in tests.
type ExtentFS interface {
	Rename(oldPath, newPath string) error
	Remove(path string) error
	Exists(path string) bool
}

// Lifecycle implements spec.md §4.7's rename/remove discipline: iterate
// filelist, unlink each extent under a log record for recoverability; if
// a transaction is active, rename extents to a backup name first so an
// abort can restore them, and unlink the backups on commit via a
// callback rather than a further log record.
type Lifecycle struct {
	FS ExtentFS

	// Append appends a record to the transaction log and returns its
	// assigned LSN, mirroring bt.Rsearcher.Append's shape.
	Append func(rec logrec.Record) (txn.LSN, error)

	mu      sync.Mutex
	pending map[uint32][]string // txnID -> backup paths awaiting commit-time unlink
}

func (l *Lifecycle) append(rec logrec.Record) (txn.LSN, error) {
	if l.Append == nil {
		return txn.LSN{}, nil
	}
	return l.Append(rec)
}

// RemoveExtent implements the remove half of spec.md §4.7. Outside a
// transaction (txnID == 0) the extent is unlinked immediately, logged via
// a DeleteRecord for crash recoverability. Inside a transaction, the
// extent is renamed to a backup name (logged via a RenameRecord an abort
// can undo) and the backup is queued for unlink once the transaction
// commits.
func (l *Lifecycle) RemoveExtent(txnID uint32, prevLSN txn.LSN, dbName string, extent uint32, path string) (txn.LSN, error) {
	if txnID == 0 {
		rec := &DeleteRecord{base: base{Txn: txnID, Prev: prevLSN}, DBName: dbName, Extent: extent, Path: path}
		lsn, err := l.append(rec)
		if err != nil {
			return prevLSN, err
		}
		rec.setLSN(lsn)
		if err := l.FS.Remove(path); err != nil {
			return lsn, err
		}
		return lsn, nil
	}

	backup := BackupFileName(dbName, extent)
	rec := &RenameRecord{base: base{Txn: txnID, Prev: prevLSN}, DBName: dbName, Extent: extent, OldPath: path, NewPath: backup}
	lsn, err := l.append(rec)
	if err != nil {
		return prevLSN, err
	}
	rec.setLSN(lsn)
	if err := l.FS.Rename(path, backup); err != nil {
		return lsn, err
	}

	l.mu.Lock()
	if l.pending == nil {
		l.pending = make(map[uint32][]string)
	}
	l.pending[txnID] = append(l.pending[txnID], backup)
	l.mu.Unlock()

	return lsn, nil
}

// CommitCleanup unlinks every backup a committed transaction's removes
// queued, spec.md §4.7's "unlink the backups on commit via a callback".
// Not itself logged: once the transaction has committed, the backup's
// disappearance is never undone.
func (l *Lifecycle) CommitCleanup(txnID uint32) []error {
	l.mu.Lock()
	backups := l.pending[txnID]
	delete(l.pending, txnID)
	l.mu.Unlock()

	var errs []error
	for _, b := range backups {
		if err := l.FS.Remove(b); err != nil {
			errs = append(errs, err)
		}
	}
	return errs
}

// AbortCleanup drops a transaction's pending backups from bookkeeping
// without touching the filesystem: the RenameRecord's own UNDO
// (RenameHandler) is what actually restores each backup to its original
// name.
func (l *Lifecycle) AbortCleanup(txnID uint32) {
	l.mu.Lock()
	delete(l.pending, txnID)
	l.mu.Unlock()
}

// DeleteHandler implements the qam_delete_log recovery handler: REDO
// ensures path is gone (idempotent if already removed); UNDO is a no-op,
// per DeleteRecord's doc comment.
func DeleteHandler(env interface{}, rec logrec.Record, lsn txn.LSN, op logrec.Op, info interface{}) (txn.LSN, error) {
	r := rec.(*DeleteRecord)
	fs := env.(ExtentFS)

	if isRedoOp(op) && fs.Exists(r.Path) {
		if err := fs.Remove(r.Path); err != nil {
			return r.Prev, err
		}
	}
	return r.Prev, nil
}

// RenameHandler implements the qam_rename_log recovery handler: REDO
// ensures the rename has happened (OldPath gone, NewPath present); UNDO
// reverses it, restoring OldPath from NewPath.
func RenameHandler(env interface{}, rec logrec.Record, lsn txn.LSN, op logrec.Op, info interface{}) (txn.LSN, error) {
	r := rec.(*RenameRecord)
	fs := env.(ExtentFS)

	switch {
	case isRedoOp(op):
		if fs.Exists(r.OldPath) && !fs.Exists(r.NewPath) {
			if err := fs.Rename(r.OldPath, r.NewPath); err != nil {
				return r.Prev, err
			}
		}
	case isUndoOp(op):
		if fs.Exists(r.NewPath) && !fs.Exists(r.OldPath) {
			if err := fs.Rename(r.NewPath, r.OldPath); err != nil {
				return r.Prev, err
			}
		}
	}
	return r.Prev, nil
}

func isRedoOp(op logrec.Op) bool {
	return op == logrec.OpRedo || op == logrec.OpForwardRoll
}

func isUndoOp(op logrec.Op) bool {
	return op == logrec.OpUndo || op == logrec.OpBackwardRoll
}
