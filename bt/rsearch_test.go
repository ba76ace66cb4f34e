package bt

import (
	"testing"

	"github.com/dbforge/bdbcore/logrec"
	"github.com/dbforge/bdbcore/txn"
	"github.com/stretchr/testify/require"
)

// buildRecnoTree builds a two-level tree: root -> two leaves, each leaf
// holding 3 live entries plus one logically-deleted one that must be
// skipped by descent/leaf indexing.
func buildRecnoTree(store *MemStore) (root, leftLeaf, rightLeaf uint32) {
	root, leftLeaf, rightLeaf = 1, 2, 3
	store.Put(leftLeaf, &Page{
		Pgno:   leftLeaf,
		IsLeaf: true,
		Entries: []Entry{
			{Bytes: []byte("a0")},
			{Bytes: []byte("deleted"), Deleted: true},
			{Bytes: []byte("a1")},
			{Bytes: []byte("a2")},
		},
	})
	store.Put(rightLeaf, &Page{
		Pgno:   rightLeaf,
		IsLeaf: true,
		Entries: []Entry{
			{Bytes: []byte("b0")},
			{Bytes: []byte("b1")},
		},
	})
	store.Put(root, &Page{
		Pgno:   root,
		IsLeaf: false,
		NRec:   5,
		Entries: []Entry{
			{ChildPgno: leftLeaf, ChildNRec: 3},
			{ChildPgno: rightLeaf, ChildNRec: 2},
		},
	})
	return
}

func TestSearchDescendsToCorrectLeaf(t *testing.T) {
	store := NewMemStore()
	root, left, right := buildRecnoTree(store)
	s := &Rsearcher{Store: store}

	res, err := s.Search(1, root, 0, ActionRead)
	require.NoError(t, err)
	require.Equal(t, left, res.Pgno)
	require.Equal(t, 0, res.Indx)

	res, err = s.Search(1, root, 2, ActionRead)
	require.NoError(t, err)
	require.Equal(t, left, res.Pgno)
	require.Equal(t, 3, res.Indx) // skips the deleted slot at index 1

	res, err = s.Search(1, root, 3, ActionRead)
	require.NoError(t, err)
	require.Equal(t, right, res.Pgno)
	require.Equal(t, 0, res.Indx)

	res, err = s.Search(1, root, 4, ActionRead)
	require.NoError(t, err)
	require.Equal(t, right, res.Pgno)
	require.Equal(t, 1, res.Indx)
}

func TestSearchRecnoPastEndIsNotFound(t *testing.T) {
	store := NewMemStore()
	root, _, _ := buildRecnoTree(store)
	s := &Rsearcher{Store: store}

	_, err := s.Search(1, root, 5, ActionRead)
	require.Error(t, err)
}

func TestSearchAppendSetsRecnoToTotalPlusOne(t *testing.T) {
	store := NewMemStore()
	root, _, _ := buildRecnoTree(store)
	s := &Rsearcher{Store: store}

	res, err := s.Search(1, root, 0, ActionAppend)
	require.NoError(t, err)
	require.EqualValues(t, 6, res.Recno)
}

func TestSearchStackKeepsWholePathAndReleasesOnNonStack(t *testing.T) {
	store := NewMemStore()
	root, left, _ := buildRecnoTree(store)
	s := &Rsearcher{Store: store}

	res, err := s.Search(1, root, 0, ActionStack)
	require.NoError(t, err)
	require.Len(t, res.Stack, 2)
	require.Equal(t, root, res.Stack[0].Pgno)
	require.Equal(t, left, res.Stack[1].Pgno)

	plain, err := s.Search(1, root, 0, ActionRead)
	require.NoError(t, err)
	require.Nil(t, plain.Stack)
}

func TestAdjustAppliesDeltaAndMarksRootOnCadjustRecords(t *testing.T) {
	store := NewMemStore()
	root, left, _ := buildRecnoTree(store)
	s := &Rsearcher{Store: store}

	res, err := s.Search(1, root, 0, ActionStack)
	require.NoError(t, err)

	var appended []*CadjustRecord
	s.Append = func(rec logrec.Record) (txn.LSN, error) {
		cr := rec.(*CadjustRecord)
		newLSN := txn.LSN{File: 1, Offset: uint32(len(appended) + 1)}
		cr.setLSN(newLSN)
		appended = append(appended, cr)
		return newLSN, nil
	}

	_, err = s.Adjust(1, txn.LSN{}, res.Stack, root, 1)
	require.NoError(t, err)
	require.Len(t, appended, 1) // only the internal root level; the leaf is skipped

	rootPage, _ := store.Fetch(root)
	require.EqualValues(t, 4, rootPage.Entries[0].ChildNRec) // 3 + 1
	require.EqualValues(t, 6, rootPage.NRec)                 // 5 + 1
	require.Equal(t, CadUpdateRoot, appended[0].Opflags)
	require.Equal(t, left, res.Stack[1].Pgno)
}
