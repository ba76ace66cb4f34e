package bt

import (
	"github.com/dbforge/bdbcore/logrec"
	"github.com/dbforge/bdbcore/txn"
)

// RootRecord implements the root handler, spec.md §4.5: install a new
// root page number into the metadata page, e.g. after a root-split
// allocates a genuinely new root page rather than rewriting the existing
// one in place.
type RootRecord struct {
	base
	MetaPgno uint32
	NewRoot  uint32
	OldRoot  uint32
}

// NewRootRecord builds a root record ready to append, for callers outside
// this package (e.g. a B-tree layer driving a root split).
func NewRootRecord(txnID uint32, prev txn.LSN, metaPgno, newRoot, oldRoot uint32) *RootRecord {
	return &RootRecord{base: base{Txn: txnID, Prev: prev}, MetaPgno: metaPgno, NewRoot: newRoot, OldRoot: oldRoot}
}

func (r *RootRecord) Type() logrec.RecordType { return RecRoot }

func (r *RootRecord) Encode() ([]byte, error) {
	var buf []byte
	buf = writeU32(buf, r.Txn)
	buf = writeLSNField(buf, r.Prev)
	buf = writeU32(buf, r.MetaPgno)
	buf = writeU32(buf, r.NewRoot)
	buf = writeU32(buf, r.OldRoot)
	return buf, nil
}

// DecodeRootRecord reverses RootRecord.Encode.
func DecodeRootRecord(data []byte) (logrec.Record, error) {
	r := &RootRecord{}
	var err error
	r.Txn, data, err = readU32(data)
	if err != nil {
		return nil, err
	}
	r.Prev, data, err = readLSNField(data)
	if err != nil {
		return nil, err
	}
	r.MetaPgno, data, err = readU32(data)
	if err != nil {
		return nil, err
	}
	r.NewRoot, data, err = readU32(data)
	if err != nil {
		return nil, err
	}
	r.OldRoot, _, err = readU32(data)
	if err != nil {
		return nil, err
	}
	return r, nil
}

// RootHandler implements the root recovery handler.
func RootHandler(env interface{}, rec logrec.Record, lsn txn.LSN, op logrec.Op, info interface{}) (txn.LSN, error) {
	r := rec.(*RootRecord)
	store := env.(PageStore)

	meta, ok := fetchForApply(store, r.MetaPgno, op, false)
	if !ok {
		return r.Prev, nil
	}

	switch {
	case isRedoOp(op) && needsRedo(meta, lsn):
		meta.Root = r.NewRoot
		meta.LSN = lsn
		store.Put(r.MetaPgno, meta)
	case isUndoOp(op) && needsUndo(meta, lsn):
		meta.Root = r.OldRoot
		meta.LSN = r.Prev
		store.Put(r.MetaPgno, meta)
	}
	return r.Prev, nil
}
