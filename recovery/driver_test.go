package recovery

import (
	"encoding/binary"
	"testing"

	"github.com/dbforge/bdbcore/logrec"
	"github.com/dbforge/bdbcore/txn"
	"github.com/stretchr/testify/require"
)

// putRecord is a minimal access-method-style record used only to exercise
// the dispatch machinery: it names the transaction that logged it and an
// opaque key, with no real page semantics.
const recPut logrec.RecordType = 1000

type putRecord struct {
	TxID uint32
	Key  string
	Prev txn.LSN
	lsn  txn.LSN
}

func (r *putRecord) Type() logrec.RecordType { return recPut }
func (r *putRecord) TxnID() uint32           { return r.TxID }
func (r *putRecord) LSN() txn.LSN            { return r.lsn }
func (r *putRecord) PrevLSN() txn.LSN        { return r.Prev }
func (r *putRecord) setLSN(l txn.LSN)        { r.lsn = l }
func (r *putRecord) Encode() ([]byte, error) {
	buf := make([]byte, 4)
	binary.BigEndian.PutUint32(buf, r.TxID)
	buf = append(buf, []byte(r.Key)...)
	return buf, nil
}

func decodePutRecord(data []byte) (logrec.Record, error) {
	txID := binary.BigEndian.Uint32(data[0:4])
	return &putRecord{TxID: txID, Key: string(data[4:])}, nil
}

type fakeEnv struct {
	redone []string
	undone []string
}

func newCodecWithPut() *logrec.Codec {
	c := logrec.NewCodec()
	c.Register(recPut, decodePutRecord)
	return c
}

func buildLog(t *testing.T) (*logrec.MemLog, uint32, uint32) {
	t.Helper()
	memlog := logrec.NewMemLog(newCodecWithPut())

	_, err := memlog.AppendRecord(&logrec.BeginRecord{Txn: 1})
	require.NoError(t, err)
	_, err = memlog.AppendRecord(&putRecord{TxID: 1, Key: "a"})
	require.NoError(t, err)
	commitLSN, err := memlog.AppendRecord(&logrec.CommitRecord{Txn: 1})
	require.NoError(t, err)
	_ = commitLSN

	_, err = memlog.AppendRecord(&logrec.BeginRecord{Txn: 2})
	require.NoError(t, err)
	_, err = memlog.AppendRecord(&putRecord{TxID: 2, Key: "b"})
	require.NoError(t, err)

	return memlog, 1, 2
}

func buildTable(env *fakeEnv) *logrec.Table {
	table := logrec.NewTable()
	table.Register(recPut, func(e interface{}, rec logrec.Record, lsn txn.LSN, op logrec.Op, info interface{}) (txn.LSN, error) {
		fe := e.(*fakeEnv)
		pr := rec.(*putRecord)
		switch op {
		case logrec.OpForwardRoll:
			fe.redone = append(fe.redone, pr.Key)
		case logrec.OpBackwardRoll:
			fe.undone = append(fe.undone, pr.Key)
		}
		return pr.PrevLSN(), nil
	})
	return table
}

func TestRecoveryRedoesCommittedAndUndoesUncommitted(t *testing.T) {
	memlog, _, _ := buildLog(t)
	env := &fakeEnv{}
	table := buildTable(env)

	d := NewDriver(memlog, table)
	d.Env = env

	require.NoError(t, d.Run(Options{Catastrophic: true}))

	require.Contains(t, env.redone, "a")
	require.NotContains(t, env.redone, "b")
	require.Contains(t, env.undone, "b")
	require.NotContains(t, env.undone, "a")

	require.True(t, d.Txns.IsCommitted(1))
	require.False(t, d.Txns.IsCommitted(2))
}

func TestRecoveryFeedbackCoversAllThreePasses(t *testing.T) {
	memlog, _, _ := buildLog(t)
	env := &fakeEnv{}
	table := buildTable(env)

	d := NewDriver(memlog, table)
	d.Env = env
	seenPasses := map[int]bool{}
	d.Feedback = func(pass, percent int) {
		seenPasses[pass] = true
		require.GreaterOrEqual(t, percent, 0)
		require.LessOrEqual(t, percent, 100)
	}

	require.NoError(t, d.Run(Options{Catastrophic: true}))
	require.True(t, seenPasses[PassOpenFiles])
	require.True(t, seenPasses[PassBackwardRoll])
	require.True(t, seenPasses[PassForwardRoll])
}

func TestRecoveryOnEmptyLogIsNoop(t *testing.T) {
	memlog := logrec.NewMemLog(newCodecWithPut())
	table := logrec.NewTable()
	d := NewDriver(memlog, table)
	require.NoError(t, d.Run(Options{}))
}

func TestRecoveryRunsPostPassHooks(t *testing.T) {
	memlog, _, _ := buildLog(t)
	env := &fakeEnv{}
	table := buildTable(env)

	d := NewDriver(memlog, table)
	d.Env = env
	var limboRan, ckpRan, closeRan bool
	d.ProcessLimboPages = func() error { limboRan = true; return nil }
	d.TakeCheckpoint = func() error { ckpRan = true; return nil }
	d.CloseRecoveryFiles = func() error { closeRan = true; return nil }

	require.NoError(t, d.Run(Options{Catastrophic: true}))
	require.True(t, limboRan)
	require.True(t, ckpRan)
	require.True(t, closeRan)
}
