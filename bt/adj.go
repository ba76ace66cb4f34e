package bt

import (
	"github.com/dbforge/bdbcore/logrec"
	"github.com/dbforge/bdbcore/txn"
)

// AdjRecord implements the adj handler, spec.md §4.5: insert or remove a
// single index entry at a specific slot, e.g. a non-split leaf insert.
type AdjRecord struct {
	base
	Pgno     uint32
	Indx     int
	IsInsert bool  // true: record describes an insertion; false: a removal
	Entry    Entry // the entry inserted (redo) or removed (undo restores it)
}

func (r *AdjRecord) Type() logrec.RecordType { return RecAdj }

func (r *AdjRecord) Encode() ([]byte, error) {
	var buf []byte
	buf = writeU32(buf, r.Txn)
	buf = writeLSNField(buf, r.Prev)
	buf = writeU32(buf, r.Pgno)
	buf = writeI32(buf, int32(r.Indx))
	buf = writeBool(buf, r.IsInsert)
	buf = writeEntries(buf, []Entry{r.Entry})
	return buf, nil
}

// DecodeAdjRecord reverses AdjRecord.Encode.
func DecodeAdjRecord(data []byte) (logrec.Record, error) {
	r := &AdjRecord{}
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
	r.IsInsert, data, err = readBool(data)
	if err != nil {
		return nil, err
	}
	entries, _, err := readEntries(data)
	if err != nil {
		return nil, err
	}
	if len(entries) == 1 {
		r.Entry = entries[0]
	}
	return r, nil
}

// AdjHandler implements the adj recovery handler.
func AdjHandler(env interface{}, rec logrec.Record, lsn txn.LSN, op logrec.Op, info interface{}) (txn.LSN, error) {
	r := rec.(*AdjRecord)
	store := env.(PageStore)

	page, ok := fetchForApply(store, r.Pgno, op, false)
	if !ok {
		return r.Prev, nil
	}

	switch {
	case isRedoOp(op) && needsRedo(page, lsn):
		if r.IsInsert {
			page.Entries = insertEntry(page.Entries, r.Indx, r.Entry)
		} else {
			page.Entries = removeEntry(page.Entries, r.Indx)
		}
		page.LSN = lsn
		store.Put(r.Pgno, page)
	case isUndoOp(op) && needsUndo(page, lsn):
		if r.IsInsert {
			page.Entries = removeEntry(page.Entries, r.Indx)
		} else {
			page.Entries = insertEntry(page.Entries, r.Indx, r.Entry)
		}
		page.LSN = r.Prev
		store.Put(r.Pgno, page)
	}
	return r.Prev, nil
}
