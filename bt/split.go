package bt

import (
	"github.com/dbforge/bdbcore/logrec"
	"github.com/dbforge/bdbcore/txn"
)

// SplitRecord is spec.md §4.5's split handler record, the most intricate
// of the ten: on a root split it materializes two new children and
// rewrites the root as an internal page; on a non-root split it rewrites
// the source page into the left half, writes the right half, and adds an
// index entry to the parent.
type SplitRecord struct {
	base
	Pgno       uint32 // page being split (root split: stays the root's pgno)
	RootSplit  bool
	LeftPgno   uint32 // root split only: newly allocated left child
	RightPgno uint32 // new right-hand page, both cases
	ParentPgno uint32 // non-root split only: parent receiving a new entry
	ParentIndx int    // non-root split only: slot the new entry goes at

	PreImage *Page // whole Pgno page before the split, for undo

	LeftEntries  []Entry
	RightEntries []Entry
	ParentEntry  Entry // non-root split only
}

func (r *SplitRecord) Type() logrec.RecordType { return RecSplit }

func (r *SplitRecord) Encode() ([]byte, error) {
	var buf []byte
	buf = writeU32(buf, r.Txn)
	buf = writeLSNField(buf, r.Prev)
	buf = writeU32(buf, r.Pgno)
	buf = writeBool(buf, r.RootSplit)
	buf = writeU32(buf, r.LeftPgno)
	buf = writeU32(buf, r.RightPgno)
	buf = writeU32(buf, r.ParentPgno)
	buf = writeI32(buf, int32(r.ParentIndx))
	buf = writeEntries(buf, r.LeftEntries)
	buf = writeEntries(buf, r.RightEntries)
	buf = writeEntries(buf, []Entry{r.ParentEntry})
	return buf, nil
}

// DecodeSplitRecord reverses SplitRecord.Encode. PreImage is not
// serialized: it is supplied out of band by whatever logged the record
// (the pre-image lives in the buffer pool at log time), matching the
// teacher's pattern of logging deltas rather than whole-page images where
// avoidable.
func DecodeSplitRecord(data []byte) (logrec.Record, error) {
	r := &SplitRecord{}
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
	r.RootSplit, data, err = readBool(data)
	if err != nil {
		return nil, err
	}
	r.LeftPgno, data, err = readU32(data)
	if err != nil {
		return nil, err
	}
	r.RightPgno, data, err = readU32(data)
	if err != nil {
		return nil, err
	}
	r.ParentPgno, data, err = readU32(data)
	if err != nil {
		return nil, err
	}
	indx, data, err := readI32(data)
	if err != nil {
		return nil, err
	}
	r.ParentIndx = int(indx)
	r.LeftEntries, data, err = readEntries(data)
	if err != nil {
		return nil, err
	}
	r.RightEntries, data, err = readEntries(data)
	if err != nil {
		return nil, err
	}
	parentEntries, _, err := readEntries(data)
	if err != nil {
		return nil, err
	}
	if len(parentEntries) == 1 {
		r.ParentEntry = parentEntries[0]
	}
	return r, nil
}

func sumLive(entries []Entry) int32 {
	var n int32
	for _, e := range entries {
		if !e.Deleted {
			n++
		}
	}
	return n
}

// SplitHandler implements the split recovery handler.
func SplitHandler(env interface{}, rec logrec.Record, lsn txn.LSN, op logrec.Op, info interface{}) (txn.LSN, error) {
	r := rec.(*SplitRecord)
	store := env.(PageStore)

	switch {
	case isRedoOp(op):
		if r.RootSplit {
			if left, ok := fetchForApply(store, r.LeftPgno, op, true); ok && needsRedo(left, lsn) {
				left.IsLeaf = true
				left.Entries = r.LeftEntries
				left.LSN = lsn
				store.Put(r.LeftPgno, left)
			}
			if right, ok := fetchForApply(store, r.RightPgno, op, true); ok && needsRedo(right, lsn) {
				right.IsLeaf = true
				right.Entries = r.RightEntries
				right.LSN = lsn
				store.Put(r.RightPgno, right)
			}
			if root, ok := fetchForApply(store, r.Pgno, op, false); ok && needsRedo(root, lsn) {
				root.IsLeaf = false
				root.Entries = []Entry{
					{ChildPgno: r.LeftPgno, ChildNRec: sumLive(r.LeftEntries)},
					{ChildPgno: r.RightPgno, ChildNRec: sumLive(r.RightEntries)},
				}
				root.LSN = lsn
				store.Put(r.Pgno, root)
			}
		} else {
			if left, ok := fetchForApply(store, r.Pgno, op, false); ok && needsRedo(left, lsn) {
				left.Entries = r.LeftEntries
				left.LSN = lsn
				store.Put(r.Pgno, left)
			}
			if right, ok := fetchForApply(store, r.RightPgno, op, true); ok && needsRedo(right, lsn) {
				right.IsLeaf = true
				right.Entries = r.RightEntries
				right.LSN = lsn
				store.Put(r.RightPgno, right)
			}
			if parent, ok := fetchForApply(store, r.ParentPgno, op, false); ok && needsRedo(parent, lsn) {
				parent.Entries = insertEntry(parent.Entries, r.ParentIndx, r.ParentEntry)
				parent.LSN = lsn
				store.Put(r.ParentPgno, parent)
			}
		}
	case isUndoOp(op):
		if r.RootSplit {
			if root, ok := fetchForApply(store, r.Pgno, op, false); ok && needsUndo(root, lsn) && r.PreImage != nil {
				restorePage(root, r.PreImage, r.Prev)
				store.Put(r.Pgno, root)
			}
			store.Delete(r.LeftPgno)
			store.Delete(r.RightPgno)
		} else {
			if left, ok := fetchForApply(store, r.Pgno, op, false); ok && needsUndo(left, lsn) && r.PreImage != nil {
				restorePage(left, r.PreImage, r.Prev)
				store.Put(r.Pgno, left)
			}
			store.Delete(r.RightPgno)
			if parent, ok := fetchForApply(store, r.ParentPgno, op, false); ok && needsUndo(parent, lsn) {
				parent.Entries = removeEntry(parent.Entries, r.ParentIndx)
				parent.LSN = r.Prev
				store.Put(r.ParentPgno, parent)
			}
		}
	}
	return r.Prev, nil
}

func restorePage(dst, preimage *Page, lsn txn.LSN) {
	*dst = *preimage.clone()
	dst.LSN = lsn
}

func insertEntry(entries []Entry, indx int, e Entry) []Entry {
	if indx < 0 || indx > len(entries) {
		return append(entries, e)
	}
	entries = append(entries, Entry{})
	copy(entries[indx+1:], entries[indx:])
	entries[indx] = e
	return entries
}

func removeEntry(entries []Entry, indx int) []Entry {
	if indx < 0 || indx >= len(entries) {
		return entries
	}
	return append(entries[:indx], entries[indx+1:]...)
}
