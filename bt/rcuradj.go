package bt

import (
	"github.com/dbforge/bdbcore/logrec"
	"github.com/dbforge/bdbcore/txn"
)

// RecnoCursorAdjuster renumbers open recno cursors after a record is
// inserted or removed partway through a recno tree, spec.md §4.5's
// rcuradj.
type RecnoCursorAdjuster interface {
	AdjustRecnoCursor(root uint32, recno uint32, delta int32)
}

// RcuradjRecord implements the rcuradj handler, spec.md §4.5: the
// recno-specific counterpart of curadj, renumbering any open cursor
// positioned at or after Recno by Delta (+1 on insert, -1 on delete).
// Like curadj it is an abort-time cursor fixup with no durable page
// mutation of its own.
type RcuradjRecord struct {
	base
	Root  uint32
	Recno uint32
	Delta int32
}

func (r *RcuradjRecord) Type() logrec.RecordType { return RecRcuradj }

func (r *RcuradjRecord) Encode() ([]byte, error) {
	var buf []byte
	buf = writeU32(buf, r.Txn)
	buf = writeLSNField(buf, r.Prev)
	buf = writeU32(buf, r.Root)
	buf = writeU32(buf, r.Recno)
	buf = writeI32(buf, r.Delta)
	return buf, nil
}

// DecodeRcuradjRecord reverses RcuradjRecord.Encode.
func DecodeRcuradjRecord(data []byte) (logrec.Record, error) {
	r := &RcuradjRecord{}
	var err error
	r.Txn, data, err = readU32(data)
	if err != nil {
		return nil, err
	}
	r.Prev, data, err = readLSNField(data)
	if err != nil {
		return nil, err
	}
	r.Root, data, err = readU32(data)
	if err != nil {
		return nil, err
	}
	r.Recno, data, err = readU32(data)
	if err != nil {
		return nil, err
	}
	r.Delta, _, err = readI32(data)
	if err != nil {
		return nil, err
	}
	return r, nil
}

// RcuradjHandler runs only on ABORT, mirroring CuradjHandler.
func RcuradjHandler(env interface{}, rec logrec.Record, lsn txn.LSN, op logrec.Op, info interface{}) (txn.LSN, error) {
	r := rec.(*RcuradjRecord)
	if op == logrec.OpAbort {
		if adjuster, ok := info.(RecnoCursorAdjuster); ok && adjuster != nil {
			adjuster.AdjustRecnoCursor(r.Root, r.Recno, r.Delta)
		}
	}
	return r.Prev, nil
}
