package bt

import (
	"github.com/dbforge/bdbcore/logrec"
	"github.com/dbforge/bdbcore/txn"
)

// CuradjMode names which cursor-adjustment shape a CuradjRecord describes,
// spec.md §4.5.
type CuradjMode int

const (
	CuradjDI     CuradjMode = iota // delete-insert
	CuradjDup                      // duplicate insertion/removal
	CuradjRsplit                   // reverse split collapsed a page
	CuradjSplit                    // split moved entries to a new page
)

// CursorAdjuster is the collaborator CuradjHandler notifies: it owns
// whatever open-cursor table the access method keeps and knows how to
// re-point cursors affected by a subtransaction's abort. Recovery itself
// never has live cursors, so this is only exercised when curadj runs as
// part of an in-flight subtransaction's abort, not during log recovery.
type CursorAdjuster interface {
	AdjustCursor(pgno uint32, indx int, mode CuradjMode, delta int32)
}

// CuradjRecord implements the curadj handler, spec.md §4.5: a
// subtransaction-abort-only record that fixes up cursors for DI
// (delete-insert), DUP, RSPLIT, and SPLIT. It carries no durable page
// mutation of its own; REDO/FORWARD_ROLL/BACKWARD_ROLL ignore it.
type CuradjRecord struct {
	base
	Pgno  uint32
	Indx  int
	Mode  CuradjMode
	Delta int32
}

func (r *CuradjRecord) Type() logrec.RecordType { return RecCuradj }

func (r *CuradjRecord) Encode() ([]byte, error) {
	var buf []byte
	buf = writeU32(buf, r.Txn)
	buf = writeLSNField(buf, r.Prev)
	buf = writeU32(buf, r.Pgno)
	buf = writeI32(buf, int32(r.Indx))
	buf = writeI32(buf, int32(r.Mode))
	buf = writeI32(buf, r.Delta)
	return buf, nil
}

// DecodeCuradjRecord reverses CuradjRecord.Encode.
func DecodeCuradjRecord(data []byte) (logrec.Record, error) {
	r := &CuradjRecord{}
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
	mode, data, err := readI32(data)
	if err != nil {
		return nil, err
	}
	r.Mode = CuradjMode(mode)
	r.Delta, _, err = readI32(data)
	if err != nil {
		return nil, err
	}
	return r, nil
}

// CuradjHandler runs only on ABORT; every other op is a no-op since
// curadj describes a cursor fixup, not a page mutation.
func CuradjHandler(env interface{}, rec logrec.Record, lsn txn.LSN, op logrec.Op, info interface{}) (txn.LSN, error) {
	r := rec.(*CuradjRecord)
	if op == logrec.OpAbort {
		if adjuster, ok := info.(CursorAdjuster); ok && adjuster != nil {
			adjuster.AdjustCursor(r.Pgno, r.Indx, r.Mode, r.Delta)
		}
	}
	return r.Prev, nil
}
