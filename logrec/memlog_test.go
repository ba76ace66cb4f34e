package logrec

import (
	"testing"

	"github.com/dbforge/bdbcore/clock"
	"github.com/dbforge/bdbcore/txn"
	"github.com/stretchr/testify/require"
)

func TestAppendAssignsIncreasingLSNs(t *testing.T) {
	l := NewMemLog(NewCodec())

	lsn1, err := l.AppendRecord(&BeginRecord{Txn: 1})
	require.NoError(t, err)
	lsn2, err := l.AppendRecord(&CommitRecord{Txn: 1, Prev: lsn1})
	require.NoError(t, err)

	require.True(t, lsn1.Less(lsn2))
}

func TestFirstNextLastPrevWalkInOrder(t *testing.T) {
	l := NewMemLog(NewCodec())
	_, _ = l.AppendRecord(&BeginRecord{Txn: 1})
	_, _ = l.AppendRecord(&BeginRecord{Txn: 2})
	_, _ = l.AppendRecord(&CommitRecord{Txn: 1})

	lsn, rec, err := l.First()
	require.NoError(t, err)
	require.Equal(t, RecBegin, rec.Type())

	lsn2, rec2, err := l.Next()
	require.NoError(t, err)
	require.True(t, lsn.Less(lsn2))
	require.EqualValues(t, 2, rec2.TxnID())

	lastLSN, lastRec, err := l.Last()
	require.NoError(t, err)
	require.Equal(t, RecCommit, lastRec.Type())

	prevLSN, _, err := l.Prev()
	require.NoError(t, err)
	require.True(t, prevLSN.Less(lastLSN))

	_, _, err = l.First()
	require.NoError(t, err)
	_, _, err = l.Prev()
	require.Error(t, err)
}

func TestSetLocatesByLSN(t *testing.T) {
	l := NewMemLog(NewCodec())
	lsn1, _ := l.AppendRecord(&BeginRecord{Txn: 1})
	_, _ = l.AppendRecord(&BeginRecord{Txn: 2})

	rec, err := l.Set(lsn1)
	require.NoError(t, err)
	require.EqualValues(t, 1, rec.TxnID())

	_, err = l.Set(txn.LSN{File: 99, Offset: 99})
	require.Error(t, err)
}

func TestFlushTracksWatermark(t *testing.T) {
	l := NewMemLog(NewCodec())
	lsn, _ := l.AppendRecord(&BeginRecord{Txn: 1})
	require.Zero(t, l.Flushed())
	require.NoError(t, l.Flush(lsn))
	require.Equal(t, lsn.Offset, l.Flushed())
}

func TestVTruncateDiscardsTail(t *testing.T) {
	l := NewMemLog(NewCodec())
	lsn1, _ := l.AppendRecord(&BeginRecord{Txn: 1})
	_, _ = l.AppendRecord(&BeginRecord{Txn: 2})
	_, _ = l.AppendRecord(&BeginRecord{Txn: 3})

	require.NoError(t, l.VTruncate(lsn1, txn.LSN{}, txn.LSN{}))

	_, _, err := l.First()
	require.NoError(t, err)
	_, _, err = l.Next()
	require.Error(t, err) // everything after lsn1 is gone
}

func TestCheckpointRecordRoundTrips(t *testing.T) {
	codec := NewCodec()
	ckp := &CheckpointRecord{Ckp: txn.Checkpoint{
		CkpLSN:    txn.LSN{File: 1, Offset: 10},
		LastCkp:   txn.LSN{File: 1, Offset: 1},
		Timestamp: clock.Time{Sec: 1000, Usec: 500},
		MaxTxnID:  7,
	}}
	payload, err := ckp.Encode()
	require.NoError(t, err)

	decoded, err := codec.Decode(RecCheckpoint, payload)
	require.NoError(t, err)
	got, ok := decoded.(*CheckpointRecord)
	require.True(t, ok)
	require.Equal(t, ckp.Ckp.CkpLSN, got.Ckp.CkpLSN)
	require.Equal(t, ckp.Ckp.LastCkp, got.Ckp.LastCkp)
	require.Equal(t, ckp.Ckp.MaxTxnID, got.Ckp.MaxTxnID)
}

func TestDispatchTableInvokesRegisteredHandler(t *testing.T) {
	table := NewTable()
	var sawOp Op
	table.Register(RecBegin, func(env interface{}, rec Record, lsn txn.LSN, op Op, info interface{}) (txn.LSN, error) {
		sawOp = op
		return rec.PrevLSN(), nil
	})

	rec := &BeginRecord{Txn: 1}
	prev, err := table.Dispatch(nil, rec, txn.LSN{File: 1, Offset: 1}, OpRedo, nil)
	require.NoError(t, err)
	require.Equal(t, OpRedo, sawOp)
	require.Equal(t, txn.Zero, prev)
}

func TestDispatchUnknownTypeIsNoop(t *testing.T) {
	table := NewTable()
	rec := &CommitRecord{Txn: 1, Prev: txn.LSN{File: 1, Offset: 5}}
	prev, err := table.Dispatch(nil, rec, txn.LSN{File: 1, Offset: 10}, OpUndo, nil)
	require.NoError(t, err)
	require.Equal(t, rec.Prev, prev)
}
