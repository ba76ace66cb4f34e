package logrec

import (
	"github.com/dbforge/bdbcore/clock"
	"github.com/dbforge/bdbcore/txn"
)

// BeginRecord opens a (possibly nested) transaction.
type BeginRecord struct {
	Txn    uint32
	Parent uint32
	lsn    txn.LSN
}

func (r *BeginRecord) Type() RecordType   { return RecBegin }
func (r *BeginRecord) TxnID() uint32      { return r.Txn }
func (r *BeginRecord) LSN() txn.LSN       { return r.lsn }
func (r *BeginRecord) PrevLSN() txn.LSN   { return txn.Zero }
func (r *BeginRecord) setLSN(l txn.LSN)   { r.lsn = l }
func (r *BeginRecord) Encode() ([]byte, error) {
	buf := writeUint32(nil, r.Txn)
	buf = writeUint32(buf, r.Parent)
	return buf, nil
}

// DecodeBeginRecord reverses BeginRecord.Encode.
func DecodeBeginRecord(data []byte) (Record, error) {
	txnID, rest, err := readUint32(data)
	if err != nil {
		return nil, err
	}
	parent, _, err := readUint32(rest)
	if err != nil {
		return nil, err
	}
	return &BeginRecord{Txn: txnID, Parent: parent}, nil
}

// CommitRecord closes a transaction successfully.
type CommitRecord struct {
	Txn  uint32
	Prev txn.LSN
	lsn  txn.LSN
}

func (r *CommitRecord) Type() RecordType { return RecCommit }
func (r *CommitRecord) TxnID() uint32    { return r.Txn }
func (r *CommitRecord) LSN() txn.LSN     { return r.lsn }
func (r *CommitRecord) PrevLSN() txn.LSN { return r.Prev }
func (r *CommitRecord) setLSN(l txn.LSN) { r.lsn = l }
func (r *CommitRecord) Encode() ([]byte, error) {
	buf := writeUint32(nil, r.Txn)
	buf = writeLSN(buf, r.Prev)
	return buf, nil
}

// DecodeCommitRecord reverses CommitRecord.Encode.
func DecodeCommitRecord(data []byte) (Record, error) {
	txnID, rest, err := readUint32(data)
	if err != nil {
		return nil, err
	}
	prev, _, err := readLSN(rest)
	if err != nil {
		return nil, err
	}
	return &CommitRecord{Txn: txnID, Prev: prev}, nil
}

// AbortRecord closes a transaction by rollback.
type AbortRecord struct {
	Txn  uint32
	Prev txn.LSN
	lsn  txn.LSN
}

func (r *AbortRecord) Type() RecordType { return RecAbort }
func (r *AbortRecord) TxnID() uint32    { return r.Txn }
func (r *AbortRecord) LSN() txn.LSN     { return r.lsn }
func (r *AbortRecord) PrevLSN() txn.LSN { return r.Prev }
func (r *AbortRecord) setLSN(l txn.LSN) { r.lsn = l }
func (r *AbortRecord) Encode() ([]byte, error) {
	buf := writeUint32(nil, r.Txn)
	buf = writeLSN(buf, r.Prev)
	return buf, nil
}

// DecodeAbortRecord reverses AbortRecord.Encode.
func DecodeAbortRecord(data []byte) (Record, error) {
	txnID, rest, err := readUint32(data)
	if err != nil {
		return nil, err
	}
	prev, _, err := readLSN(rest)
	if err != nil {
		return nil, err
	}
	return &AbortRecord{Txn: txnID, Prev: prev}, nil
}

// CheckpointRecord carries spec.md §3.5's checkpoint fields. It belongs to
// no single transaction, so TxnID is always 0.
type CheckpointRecord struct {
	Ckp txn.Checkpoint
	lsn txn.LSN
}

func (r *CheckpointRecord) Type() RecordType { return RecCheckpoint }
func (r *CheckpointRecord) TxnID() uint32    { return 0 }
func (r *CheckpointRecord) LSN() txn.LSN     { return r.lsn }
func (r *CheckpointRecord) PrevLSN() txn.LSN { return r.Ckp.LastCkp }
func (r *CheckpointRecord) setLSN(l txn.LSN) { r.lsn = l }
func (r *CheckpointRecord) Encode() ([]byte, error) {
	buf := writeLSN(nil, r.Ckp.CkpLSN)
	buf = writeLSN(buf, r.Ckp.LastCkp)
	var tmp [16]byte
	putInt64(tmp[0:8], r.Ckp.Timestamp.Sec)
	putInt64(tmp[8:16], r.Ckp.Timestamp.Usec)
	buf = append(buf, tmp[:]...)
	buf = writeUint32(buf, r.Ckp.MaxTxnID)
	return buf, nil
}

// DecodeCheckpointRecord reverses CheckpointRecord.Encode.
func DecodeCheckpointRecord(data []byte) (Record, error) {
	ckpLSN, rest, err := readLSN(data)
	if err != nil {
		return nil, err
	}
	lastCkp, rest, err := readLSN(rest)
	if err != nil {
		return nil, err
	}
	if len(rest) < 16 {
		return nil, errCorruptTimestamp()
	}
	sec := getInt64(rest[0:8])
	usec := getInt64(rest[8:16])
	rest = rest[16:]
	maxTxnID, _, err := readUint32(rest)
	if err != nil {
		return nil, err
	}
	return &CheckpointRecord{Ckp: txn.Checkpoint{
		CkpLSN:    ckpLSN,
		LastCkp:   lastCkp,
		Timestamp: clock.Time{Sec: sec, Usec: usec},
		MaxTxnID:  maxTxnID,
	}}, nil
}
