package bt

import (
	"github.com/dbforge/bdbcore/logrec"
	"github.com/dbforge/bdbcore/txn"
)

// CursorNotifier is an optional collaborator CdelHandler calls on undo,
// spec.md §4.5: "on undo also notify cursor callbacks". A concrete
// storage engine wires one in to fix up any open cursor positioned on the
// entry being un-deleted; recovery itself has no open cursors, so a nil
// notifier is the common case.
type CursorNotifier interface {
	NotifyUndelete(pgno uint32, indx int)
}

// CdelRecord implements the cdel handler, spec.md §4.5: flip the
// "cursor delete" bit on a leaf entry rather than physically removing it,
// so cursors positioned on the entry can still find it until a later
// reorganization compacts the page.
type CdelRecord struct {
	base
	Pgno    uint32
	Indx    int
	Deleted bool // the bit's value the REDO direction sets
}

func (r *CdelRecord) Type() logrec.RecordType { return RecCdel }

func (r *CdelRecord) Encode() ([]byte, error) {
	var buf []byte
	buf = writeU32(buf, r.Txn)
	buf = writeLSNField(buf, r.Prev)
	buf = writeU32(buf, r.Pgno)
	buf = writeI32(buf, int32(r.Indx))
	buf = writeBool(buf, r.Deleted)
	return buf, nil
}

// DecodeCdelRecord reverses CdelRecord.Encode.
func DecodeCdelRecord(data []byte) (logrec.Record, error) {
	r := &CdelRecord{}
	var err error
	r.Txn, data, err = readU32(data)
	if err != nil {
		return nil, err
	}
	r.Prev, data, err = readLSNField(data)
	if err != nil {
		return nil, err
	}
	r.Pgno, data, err = readU32(data)
	if err != nil {
		return nil, err
	}
	indx, data, err := readI32(data)
	if err != nil {
		return nil, err
	}
	r.Indx = int(indx)
	r.Deleted, _, err = readBool(data)
	if err != nil {
		return nil, err
	}
	return r, nil
}

// CdelHandler implements the cdel recovery handler. notifier may be nil.
func CdelHandler(env interface{}, rec logrec.Record, lsn txn.LSN, op logrec.Op, info interface{}) (txn.LSN, error) {
	r := rec.(*CdelRecord)
	store := env.(PageStore)

	page, ok := fetchForApply(store, r.Pgno, op, false)
	if !ok || r.Indx < 0 || r.Indx >= len(page.Entries) {
		return r.Prev, nil
	}

	switch {
	case isRedoOp(op) && needsRedo(page, lsn):
		page.Entries[r.Indx].Deleted = r.Deleted
		page.LSN = lsn
		store.Put(r.Pgno, page)
	case isUndoOp(op) && needsUndo(page, lsn):
		page.Entries[r.Indx].Deleted = !r.Deleted
		page.LSN = r.Prev
		store.Put(r.Pgno, page)
		if notifier, ok := info.(CursorNotifier); ok && notifier != nil {
			notifier.NotifyUndelete(r.Pgno, r.Indx)
		}
	}
	return r.Prev, nil
}
