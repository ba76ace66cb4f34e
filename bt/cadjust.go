package bt

import (
	"github.com/dbforge/bdbcore/logrec"
	"github.com/dbforge/bdbcore/txn"
)

// CadUpdateRoot marks a CadjustRecord as also needing the meta/root
// page's total NRec updated, spec.md §4.5's "update root's nrec if the
// record so marks it".
const CadUpdateRoot = 1

// CadjustRecord implements the cadjust handler, spec.md §4.5: adjust an
// internal node's child-record-count at Indx by Adjust (positive or
// negative), and, when Opflags carries CadUpdateRoot, the same delta
// applied to the tree's root NRec.
type CadjustRecord struct {
	base
	Pgno     uint32
	Indx     int
	Adjust   int32
	Opflags  int
	RootPgno uint32 // only meaningful when Opflags&CadUpdateRoot != 0
}

func (r *CadjustRecord) Type() logrec.RecordType { return RecCadjust }

func (r *CadjustRecord) Encode() ([]byte, error) {
	var buf []byte
	buf = writeU32(buf, r.Txn)
	buf = writeLSNField(buf, r.Prev)
	buf = writeU32(buf, r.Pgno)
	buf = writeI32(buf, int32(r.Indx))
	buf = writeI32(buf, r.Adjust)
	buf = writeI32(buf, int32(r.Opflags))
	buf = writeU32(buf, r.RootPgno)
	return buf, nil
}

// DecodeCadjustRecord reverses CadjustRecord.Encode.
func DecodeCadjustRecord(data []byte) (logrec.Record, error) {
	r := &CadjustRecord{}
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
	r.Adjust, data, err = readI32(data)
	if err != nil {
		return nil, err
	}
	opflags, data, err := readI32(data)
	if err != nil {
		return nil, err
	}
	r.Opflags = int(opflags)
	r.RootPgno, _, err = readU32(data)
	if err != nil {
		return nil, err
	}
	return r, nil
}

// CadjustHandler implements the cadjust recovery handler.
func CadjustHandler(env interface{}, rec logrec.Record, lsn txn.LSN, op logrec.Op, info interface{}) (txn.LSN, error) {
	r := rec.(*CadjustRecord)
	store := env.(PageStore)

	delta := r.Adjust
	if isUndoOp(op) {
		delta = -delta
	}

	if page, ok := fetchForApply(store, r.Pgno, op, false); ok {
		apply := (isRedoOp(op) && needsRedo(page, lsn)) || (isUndoOp(op) && needsUndo(page, lsn))
		if apply && r.Indx >= 0 && r.Indx < len(page.Entries) {
			page.Entries[r.Indx].ChildNRec += delta
			if r.Opflags&CadUpdateRoot != 0 && r.RootPgno == r.Pgno {
				page.NRec += delta
			}
			if isRedoOp(op) {
				page.LSN = lsn
			} else {
				page.LSN = r.Prev
			}
			store.Put(r.Pgno, page)
		}
	}

	if r.Opflags&CadUpdateRoot != 0 && r.RootPgno != r.Pgno {
		if root, ok := fetchForApply(store, r.RootPgno, op, false); ok {
			apply := (isRedoOp(op) && needsRedo(root, lsn)) || (isUndoOp(op) && needsUndo(root, lsn))
			if apply {
				root.NRec += delta
				if isRedoOp(op) {
					root.LSN = lsn
				} else {
					root.LSN = r.Prev
				}
				store.Put(r.RootPgno, root)
			}
		}
	}
	return r.Prev, nil
}
