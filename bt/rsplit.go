package bt

import (
	"github.com/dbforge/bdbcore/logrec"
	"github.com/dbforge/bdbcore/txn"
)

// RsplitRecord is the reverse-split handler record, spec.md §4.5: when a
// root page is left with a single child, that child's contents are
// collapsed back into the root and the child page is freed; undo
// recreates the child and restores the root's pre-collapse contents.
type RsplitRecord struct {
	base
	Pgno      uint32 // root page being collapsed into
	ChildPgno uint32 // child page being freed

	ChildIsLeaf bool
	ChildEntries []Entry // child's contents at collapse time

	PreImage *Page // root's pre-collapse contents, for undo
}

func (r *RsplitRecord) Type() logrec.RecordType { return RecRsplit }

func (r *RsplitRecord) Encode() ([]byte, error) {
	var buf []byte
	buf = writeU32(buf, r.Txn)
	buf = writeLSNField(buf, r.Prev)
	buf = writeU32(buf, r.Pgno)
	buf = writeU32(buf, r.ChildPgno)
	buf = writeBool(buf, r.ChildIsLeaf)
	buf = writeEntries(buf, r.ChildEntries)
	return buf, nil
}

// DecodeRsplitRecord reverses RsplitRecord.Encode; PreImage is supplied
// out of band, same convention as split's.
func DecodeRsplitRecord(data []byte) (logrec.Record, error) {
	r := &RsplitRecord{}
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
	r.ChildPgno, data, err = readU32(data)
	if err != nil {
		return nil, err
	}
	r.ChildIsLeaf, data, err = readBool(data)
	if err != nil {
		return nil, err
	}
	r.ChildEntries, _, err = readEntries(data)
	if err != nil {
		return nil, err
	}
	return r, nil
}

// RsplitHandler implements the reverse-split recovery handler.
func RsplitHandler(env interface{}, rec logrec.Record, lsn txn.LSN, op logrec.Op, info interface{}) (txn.LSN, error) {
	r := rec.(*RsplitRecord)
	store := env.(PageStore)

	switch {
	case isRedoOp(op):
		if root, ok := fetchForApply(store, r.Pgno, op, false); ok && needsRedo(root, lsn) {
			root.IsLeaf = r.ChildIsLeaf
			root.Entries = r.ChildEntries
			root.LSN = lsn
			store.Put(r.Pgno, root)
		}
		store.Delete(r.ChildPgno)
	case isUndoOp(op):
		if root, ok := fetchForApply(store, r.Pgno, op, false); ok && needsUndo(root, lsn) && r.PreImage != nil {
			restorePage(root, r.PreImage, r.Prev)
			store.Put(r.Pgno, root)
		}
		store.Put(r.ChildPgno, &Page{
			Pgno:    r.ChildPgno,
			IsLeaf:  r.ChildIsLeaf,
			Entries: append([]Entry(nil), r.ChildEntries...),
			LSN:     r.Prev,
		})
	}
	return r.Prev, nil
}
