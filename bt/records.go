package bt

import (
	"encoding/binary"

	"github.com/dbforge/bdbcore/errs"
	"github.com/dbforge/bdbcore/logrec"
	"github.com/dbforge/bdbcore/txn"
)

// RecordType values occupy the 2000s, a range disjoint from logrec's
// generic types (1-... ) and qam's (3000s), so a single logrec.Codec can
// hold decoders for every subsystem's record types at once.
const (
	RecSplit logrec.RecordType = iota + 2000
	RecRsplit
	RecAdj
	RecCadjust
	RecCdel
	RecRepl
	RecRoot
	RecCuradj
	RecRcuradj
	RecRelink
)

// base carries the fields every bt record shares: which transaction
// logged it and the chain pointer back to that transaction's previous
// record.
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
		return 0, nil, errs.Wrap(errs.ErrLogCorrupt, "bt: truncated uint32")
	}
	return binary.BigEndian.Uint32(data[:4]), data[4:], nil
}

func writeI32(buf []byte, v int32) []byte { return writeU32(buf, uint32(v)) }

func readI32(data []byte) (int32, []byte, error) {
	v, rest, err := readU32(data)
	return int32(v), rest, err
}

func writeBool(buf []byte, v bool) []byte {
	if v {
		return append(buf, 1)
	}
	return append(buf, 0)
}

func readBool(data []byte) (bool, []byte, error) {
	if len(data) < 1 {
		return false, nil, errs.Wrap(errs.ErrLogCorrupt, "bt: truncated bool")
	}
	return data[0] != 0, data[1:], nil
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

func writeBytesField(buf, b []byte) []byte {
	buf = writeU32(buf, uint32(len(b)))
	return append(buf, b...)
}

func readBytesField(data []byte) ([]byte, []byte, error) {
	n, rest, err := readU32(data)
	if err != nil {
		return nil, nil, err
	}
	if uint32(len(rest)) < n {
		return nil, nil, errs.Wrap(errs.ErrLogCorrupt, "bt: truncated byte field")
	}
	return append([]byte(nil), rest[:n]...), rest[n:], nil
}

// writeEntries/readEntries (de)serialize a []Entry as length-prefixed
// records, used by split/rsplit to carry post-split reconstruction data.
func writeEntries(buf []byte, entries []Entry) []byte {
	buf = writeU32(buf, uint32(len(entries)))
	for _, e := range entries {
		buf = writeBytesField(buf, e.Bytes)
		buf = writeBool(buf, e.Deleted)
		buf = writeU32(buf, e.ChildPgno)
		buf = writeI32(buf, e.ChildNRec)
	}
	return buf
}

func readEntries(data []byte) ([]Entry, []byte, error) {
	n, rest, err := readU32(data)
	if err != nil {
		return nil, nil, err
	}
	entries := make([]Entry, 0, n)
	for i := uint32(0); i < n; i++ {
		var e Entry
		e.Bytes, rest, err = readBytesField(rest)
		if err != nil {
			return nil, nil, err
		}
		e.Deleted, rest, err = readBool(rest)
		if err != nil {
			return nil, nil, err
		}
		e.ChildPgno, rest, err = readU32(rest)
		if err != nil {
			return nil, nil, err
		}
		e.ChildNRec, rest, err = readI32(rest)
		if err != nil {
			return nil, nil, err
		}
		entries = append(entries, e)
	}
	return entries, rest, nil
}
