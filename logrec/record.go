// Package logrec defines the log record codec and the "log cursor"
// external collaborator spec.md §6.1 describes, plus the handful of
// generic record types (begin/commit/abort/checkpoint) every subsystem
// shares. Access-method-specific records (bt's split/adj/relink/…, qam's
// delete/rename) live in their own packages and register into the same
// RecordType/Handler vocabulary defined here.
package logrec

import (
	"encoding/binary"

	"github.com/dbforge/bdbcore/errs"
	"github.com/dbforge/bdbcore/txn"
)

// RecordType discriminates log record kinds across every subsystem. The
// generic records below occupy the low range; bt and qam pick disjoint
// ranges for their own record types.
type RecordType uint16

const (
	RecBegin RecordType = iota + 1
	RecCommit
	RecAbort
	RecCheckpoint
)

// Op is the dispatch mode a recovery handler runs under, spec.md §4.5.
type Op int

const (
	OpRedo Op = iota
	OpUndo
	OpForwardRoll
	OpBackwardRoll
	OpOpenFiles
	OpPOpenFiles
	OpApply
	OpPrint
	OpAbort
)

func (op Op) String() string {
	switch op {
	case OpRedo:
		return "REDO"
	case OpUndo:
		return "UNDO"
	case OpForwardRoll:
		return "FORWARD_ROLL"
	case OpBackwardRoll:
		return "BACKWARD_ROLL"
	case OpOpenFiles:
		return "OPENFILES"
	case OpPOpenFiles:
		return "POPENFILES"
	case OpApply:
		return "APPLY"
	case OpPrint:
		return "PRINT"
	case OpAbort:
		return "ABORT"
	default:
		return "UNKNOWN"
	}
}

// Record is any decoded log record. TxnID, LSN, and PrevLSN are the fields
// recovery reads regardless of record type; Encode serializes the rest.
type Record interface {
	Type() RecordType
	TxnID() uint32
	LSN() txn.LSN
	PrevLSN() txn.LSN
	Encode() ([]byte, error)
}

// writeLSN/readLSN encode an LSN as two big-endian uint32s, matching the
// teacher's binary.Write(BigEndian, ...) field-at-a-time encoding style.
func writeLSN(buf []byte, l txn.LSN) []byte {
	var tmp [8]byte
	binary.BigEndian.PutUint32(tmp[0:4], l.File)
	binary.BigEndian.PutUint32(tmp[4:8], l.Offset)
	return append(buf, tmp[:]...)
}

func readLSN(data []byte) (txn.LSN, []byte, error) {
	if len(data) < 8 {
		return txn.LSN{}, nil, errs.Wrap(errs.ErrLogCorrupt, "logrec: truncated lsn")
	}
	l := txn.LSN{File: binary.BigEndian.Uint32(data[0:4]), Offset: binary.BigEndian.Uint32(data[4:8])}
	return l, data[8:], nil
}

func writeUint32(buf []byte, v uint32) []byte {
	var tmp [4]byte
	binary.BigEndian.PutUint32(tmp[:], v)
	return append(buf, tmp[:]...)
}

func readUint32(data []byte) (uint32, []byte, error) {
	if len(data) < 4 {
		return 0, nil, errs.Wrap(errs.ErrLogCorrupt, "logrec: truncated uint32")
	}
	return binary.BigEndian.Uint32(data[0:4]), data[4:], nil
}

func putInt64(buf []byte, v int64) {
	binary.BigEndian.PutUint64(buf, uint64(v))
}

func getInt64(buf []byte) int64 {
	return int64(binary.BigEndian.Uint64(buf))
}

func errCorruptTimestamp() error {
	return errs.Wrap(errs.ErrLogCorrupt, "logrec: truncated checkpoint timestamp")
}
