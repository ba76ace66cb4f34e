package qam

import (
	"encoding/binary"

	"github.com/dbforge/bdbcore/errs"
	"github.com/dbforge/bdbcore/logrec"
	"github.com/dbforge/bdbcore/txn"
)

// RecordType values occupy the 3000s, the range bt/records.go already
// reserves for qam so a single logrec.Codec/Table can hold decoders and
// handlers for every subsystem's record types at once.
const (
	RecDelete logrec.RecordType = iota + 3000
	RecRename
)

// base carries the fields every qam record shares, mirroring bt's own
// (unexported to that package, so qam keeps its own copy rather than
// reaching across a package boundary for an implementation detail).
type base struct {
	Txn  uint32
	Prev txn.LSN
	lsn  txn.LSN
}

func (b *base) TxnID() uint32    { return b.Txn }
func (b *base) LSN() txn.LSN     { return b.lsn }
func (b *base) PrevLSN() txn.LSN { return b.Prev }
func (b *base) setLSN(l txn.LSN) { b.lsn = l }

func writeU32(buf []byte, v uint32) []byte {
	var tmp [4]byte
	binary.BigEndian.PutUint32(tmp[:], v)
	return append(buf, tmp[:]...)
}

func readU32(data []byte) (uint32, []byte, error) {
	if len(data) < 4 {
		return 0, nil, errs.Wrap(errs.ErrLogCorrupt, "qam: truncated uint32")
	}
	return binary.BigEndian.Uint32(data[:4]), data[4:], nil
}

func writeLSNField(buf []byte, l txn.LSN) []byte {
	buf = writeU32(buf, l.File)
	return writeU32(buf, l.Offset)
}

func readLSNField(data []byte) (txn.LSN, []byte, error) {
	file, rest, err := readU32(data)
	if err != nil {
		return txn.LSN{}, nil, err
	}
	off, rest, err := readU32(rest)
	if err != nil {
		return txn.LSN{}, nil, err
	}
	return txn.LSN{File: file, Offset: off}, rest, nil
}

func writeStringField(buf []byte, s string) []byte {
	buf = writeU32(buf, uint32(len(s)))
	return append(buf, s...)
}

func readStringField(data []byte) (string, []byte, error) {
	n, rest, err := readU32(data)
	if err != nil {
		return "", nil, err
	}
	if uint32(len(rest)) < n {
		return "", nil, errs.Wrap(errs.ErrLogCorrupt, "qam: truncated string field")
	}
	return string(rest[:n]), rest[n:], nil
}

// DeleteRecord implements qam_delete_log, spec.md §4.7: log an extent
// file's unlink for recoverability, so a crash between the log write and
// the actual unlink still converges to "file gone" on replay. Not
// undoable: by the time a delete is durable, any pre-delete state a
// caller wanted to preserve was already moved aside via a RenameRecord
// (the rename-to-backup step), per spec.md §4.7.
type DeleteRecord struct {
	base
	DBName string
	Extent uint32
	Path   string
}

// NewDeleteRecord builds a delete record ready to append.
func NewDeleteRecord(txnID uint32, prev txn.LSN, dbName string, extent uint32, path string) *DeleteRecord {
	return &DeleteRecord{base: base{Txn: txnID, Prev: prev}, DBName: dbName, Extent: extent, Path: path}
}

func (r *DeleteRecord) Type() logrec.RecordType { return RecDelete }

func (r *DeleteRecord) Encode() ([]byte, error) {
	var buf []byte
	buf = writeU32(buf, r.Txn)
	buf = writeLSNField(buf, r.Prev)
	buf = writeStringField(buf, r.DBName)
	buf = writeU32(buf, r.Extent)
	buf = writeStringField(buf, r.Path)
	return buf, nil
}

// DecodeDeleteRecord reverses DeleteRecord.Encode.
func DecodeDeleteRecord(data []byte) (logrec.Record, error) {
	r := &DeleteRecord{}
	var err error
	r.Txn, data, err = readU32(data)
	if err != nil {
		return nil, err
	}
	r.Prev, data, err = readLSNField(data)
	if err != nil {
		return nil, err
	}
	r.DBName, data, err = readStringField(data)
	if err != nil {
		return nil, err
	}
	r.Extent, data, err = readU32(data)
	if err != nil {
		return nil, err
	}
	r.Path, _, err = readStringField(data)
	if err != nil {
		return nil, err
	}
	return r, nil
}

// RenameRecord implements qam_rename_log, spec.md §4.7: log an extent
// file rename, used both for the rename-to-backup step a transactional
// remove takes (undo restores the original name) and for genuine extent
// renames.
type RenameRecord struct {
	base
	DBName  string
	Extent  uint32
	OldPath string
	NewPath string
}

// NewRenameRecord builds a rename record ready to append.
func NewRenameRecord(txnID uint32, prev txn.LSN, dbName string, extent uint32, oldPath, newPath string) *RenameRecord {
	return &RenameRecord{base: base{Txn: txnID, Prev: prev}, DBName: dbName, Extent: extent, OldPath: oldPath, NewPath: newPath}
}

func (r *RenameRecord) Type() logrec.RecordType { return RecRename }

func (r *RenameRecord) Encode() ([]byte, error) {
	var buf []byte
	buf = writeU32(buf, r.Txn)
	buf = writeLSNField(buf, r.Prev)
	buf = writeStringField(buf, r.DBName)
	buf = writeU32(buf, r.Extent)
	buf = writeStringField(buf, r.OldPath)
	buf = writeStringField(buf, r.NewPath)
	return buf, nil
}

// DecodeRenameRecord reverses RenameRecord.Encode.
func DecodeRenameRecord(data []byte) (logrec.Record, error) {
	r := &RenameRecord{}
	var err error
	r.Txn, data, err = readU32(data)
	if err != nil {
		return nil, err
	}
	r.Prev, data, err = readLSNField(data)
	if err != nil {
		return nil, err
	}
	r.DBName, data, err = readStringField(data)
	if err != nil {
		return nil, err
	}
	r.Extent, data, err = readU32(data)
	if err != nil {
		return nil, err
	}
	r.OldPath, data, err = readStringField(data)
	if err != nil {
		return nil, err
	}
	r.NewPath, _, err = readStringField(data)
	if err != nil {
		return nil, err
	}
	return r, nil
}
