package bt

import (
	"github.com/dbforge/bdbcore/logrec"
	"github.com/dbforge/bdbcore/txn"
)

// RelinkRecord implements the relink handler, spec.md §4.5: fix up the
// leaf-level next/prev doubly-linked list when Pgno is spliced into or
// out of the chain. OldPrev/OldNext are Pgno's neighbors before the
// change (their mutual link once Pgno is removed); NewPrev/NewNext are
// its neighbors after (each pointed at Pgno). A zero neighbor pgno means
// "no neighbor on that side" and is skipped.
type RelinkRecord struct {
	base
	Pgno    uint32
	OldPrev uint32
	OldNext uint32
	NewPrev uint32
	NewNext uint32
}

func (r *RelinkRecord) Type() logrec.RecordType { return RecRelink }

func (r *RelinkRecord) Encode() ([]byte, error) {
	var buf []byte
	buf = writeU32(buf, r.Txn)
	buf = writeLSNField(buf, r.Prev)
	buf = writeU32(buf, r.Pgno)
	buf = writeU32(buf, r.OldPrev)
	buf = writeU32(buf, r.OldNext)
	buf = writeU32(buf, r.NewPrev)
	buf = writeU32(buf, r.NewNext)
	return buf, nil
}

// DecodeRelinkRecord reverses RelinkRecord.Encode.
func DecodeRelinkRecord(data []byte) (logrec.Record, error) {
	r := &RelinkRecord{}
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
	r.OldPrev, data, err = readU32(data)
	if err != nil {
		return nil, err
	}
	r.OldNext, data, err = readU32(data)
	if err != nil {
		return nil, err
	}
	r.NewPrev, data, err = readU32(data)
	if err != nil {
		return nil, err
	}
	r.NewNext, _, err = readU32(data)
	if err != nil {
		return nil, err
	}
	return r, nil
}

// RelinkHandler implements the relink recovery handler. It touches Pgno
// itself plus up to two neighbor pages, each fetched independently.
func RelinkHandler(env interface{}, rec logrec.Record, lsn txn.LSN, op logrec.Op, info interface{}) (txn.LSN, error) {
	r := rec.(*RelinkRecord)
	store := env.(PageStore)

	if page, ok := fetchForApply(store, r.Pgno, op, false); ok {
		switch {
		case isRedoOp(op) && needsRedo(page, lsn):
			page.Prev = r.NewPrev
			page.Next = r.NewNext
			page.LSN = lsn
			store.Put(r.Pgno, page)
		case isUndoOp(op) && needsUndo(page, lsn):
			page.Prev = r.OldPrev
			page.Next = r.OldNext
			page.LSN = r.Prev
			store.Put(r.Pgno, page)
		}
	}

	switch {
	case isRedoOp(op):
		if r.NewPrev != 0 {
			setNext(store, r.NewPrev, r.Pgno, lsn)
		}
		if r.NewNext != 0 {
			setPrev(store, r.NewNext, r.Pgno, lsn)
		}
	case isUndoOp(op):
		if r.OldPrev != 0 {
			setNext(store, r.OldPrev, r.OldNext, r.Prev)
		}
		if r.OldNext != 0 {
			setPrev(store, r.OldNext, r.OldPrev, r.Prev)
		}
	}
	return r.Prev, nil
}

func setNext(store PageStore, pgno, next uint32, lsn txn.LSN) {
	if p, ok := store.Fetch(pgno); ok {
		p.Next = next
		p.LSN = lsn
		store.Put(pgno, p)
	}
}

func setPrev(store PageStore, pgno, prev uint32, lsn txn.LSN) {
	if p, ok := store.Fetch(pgno); ok {
		p.Prev = prev
		p.LSN = lsn
		store.Put(pgno, p)
	}
}
