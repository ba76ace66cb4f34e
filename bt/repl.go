package bt

import (
	"github.com/dbforge/bdbcore/logrec"
	"github.com/dbforge/bdbcore/txn"
)

// ReplRecord implements the repl handler, spec.md §4.5: replace an item's
// bytes using prefix/suffix/orig/repl delta encoding rather than logging
// the whole new value. Prefix bytes at the start and Suffix bytes at the
// end of the original item are unchanged; Orig is the middle bytes being
// replaced (needed for undo) and Repl is what they become (needed for
// redo).
type ReplRecord struct {
	base
	Pgno   uint32
	Indx   int
	Prefix []byte
	Suffix []byte
	Orig   []byte
	Repl   []byte
}

func (r *ReplRecord) Type() logrec.RecordType { return RecRepl }

func (r *ReplRecord) Encode() ([]byte, error) {
	var buf []byte
	buf = writeU32(buf, r.Txn)
	buf = writeLSNField(buf, r.Prev)
	buf = writeU32(buf, r.Pgno)
	buf = writeI32(buf, int32(r.Indx))
	buf = writeBytesField(buf, r.Prefix)
	buf = writeBytesField(buf, r.Suffix)
	buf = writeBytesField(buf, r.Orig)
	buf = writeBytesField(buf, r.Repl)
	return buf, nil
}

// DecodeReplRecord reverses ReplRecord.Encode.
func DecodeReplRecord(data []byte) (logrec.Record, error) {
	r := &ReplRecord{}
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
	r.Prefix, data, err = readBytesField(data)
	if err != nil {
		return nil, err
	}
	r.Suffix, data, err = readBytesField(data)
	if err != nil {
		return nil, err
	}
	r.Orig, data, err = readBytesField(data)
	if err != nil {
		return nil, err
	}
	r.Repl, _, err = readBytesField(data)
	if err != nil {
		return nil, err
	}
	return r, nil
}

func (r *ReplRecord) rebuild(middle []byte) []byte {
	out := make([]byte, 0, len(r.Prefix)+len(middle)+len(r.Suffix))
	out = append(out, r.Prefix...)
	out = append(out, middle...)
	out = append(out, r.Suffix...)
	return out
}

// ReplHandler implements the repl recovery handler.
func ReplHandler(env interface{}, rec logrec.Record, lsn txn.LSN, op logrec.Op, info interface{}) (txn.LSN, error) {
	r := rec.(*ReplRecord)
	store := env.(PageStore)

	page, ok := fetchForApply(store, r.Pgno, op, false)
	if !ok || r.Indx < 0 || r.Indx >= len(page.Entries) {
		return r.Prev, nil
	}

	switch {
	case isRedoOp(op) && needsRedo(page, lsn):
		page.Entries[r.Indx].Bytes = r.rebuild(r.Repl)
		page.LSN = lsn
		store.Put(r.Pgno, page)
	case isUndoOp(op) && needsUndo(page, lsn):
		page.Entries[r.Indx].Bytes = r.rebuild(r.Orig)
		page.LSN = r.Prev
		store.Put(r.Pgno, page)
	}
	return r.Prev, nil
}
