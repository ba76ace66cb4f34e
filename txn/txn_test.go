package txn

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestBeginCommitRemovesFromActive(t *testing.T) {
	m := NewManager()
	tx := m.Begin(0, false, LSN{File: 1, Offset: 100})
	require.Equal(t, StateActive, tx.State)

	_, ok := m.Active(tx.ID)
	require.True(t, ok)

	m.Log(tx, LSN{File: 1, Offset: 200})
	require.Equal(t, LSN{File: 1, Offset: 200}, tx.LastLSN)

	require.NoError(t, m.Commit(tx, LSN{File: 1, Offset: 300}))
	require.Equal(t, StateCommitted, tx.State)
	_, ok = m.Active(tx.ID)
	require.False(t, ok)
}

func TestCommitOnAlreadyCommittedIsInvalidArgument(t *testing.T) {
	m := NewManager()
	tx := m.Begin(0, false, LSN{File: 1, Offset: 1})
	require.NoError(t, m.Commit(tx, LSN{File: 1, Offset: 2}))
	require.Error(t, m.Commit(tx, LSN{File: 1, Offset: 3}))
}

func TestAbortRemovesFromActive(t *testing.T) {
	m := NewManager()
	tx := m.Begin(0, false, LSN{})
	require.NoError(t, m.Abort(tx))
	require.Equal(t, StateAborted, tx.State)
	_, ok := m.Active(tx.ID)
	require.False(t, ok)
}

func TestPrepareThenCommit(t *testing.T) {
	m := NewManager()
	tx := m.Begin(0, false, LSN{})
	require.NoError(t, m.Prepare(tx))
	require.Equal(t, StatePrepared, tx.State)
	require.NoError(t, m.Commit(tx, LSN{File: 1, Offset: 1}))
}

func TestLSNOrdering(t *testing.T) {
	a := LSN{File: 1, Offset: 500}
	b := LSN{File: 2, Offset: 1}
	require.True(t, a.Less(b))
	require.Equal(t, -1, a.Compare(b))
	require.Equal(t, 1, b.Compare(a))
	require.Equal(t, 0, a.Compare(a))
	require.True(t, Zero.IsZero())
}

func TestListTracksCommittedAndAbortedTxns(t *testing.T) {
	l := NewList(LSN{File: 1, Offset: 0})

	l.Observe(5, LSN{File: 1, Offset: 10})
	l.Observe(7, LSN{File: 1, Offset: 20})
	l.MarkCommitted(5, LSN{File: 1, Offset: 30})

	require.True(t, l.IsCommitted(5))
	require.False(t, l.IsCommitted(7))
	require.True(t, l.NeedsUndo(7))
	require.False(t, l.NeedsUndo(5))
	require.EqualValues(t, 7, l.MaxID)
	require.Equal(t, LSN{File: 1, Offset: 30}, l.MaxLSN)

	l.MarkAborted(7, LSN{File: 1, Offset: 40})
	require.True(t, l.NeedsUndo(7))
	require.Equal(t, LSN{File: 1, Offset: 30}, l.MaxCommittedLSN())
}

func TestListNeedsUndoFalseForUnseenTxn(t *testing.T) {
	l := NewList(LSN{})
	require.False(t, l.NeedsUndo(999))
	require.False(t, l.IsCommitted(999))
}
