package bt

import (
	"testing"

	"github.com/dbforge/bdbcore/logrec"
	"github.com/dbforge/bdbcore/txn"
	"github.com/stretchr/testify/require"
)

func lsn(file, off uint32) txn.LSN { return txn.LSN{File: file, Offset: off} }

func TestAdjHandlerRedoInsertsThenUndoRemoves(t *testing.T) {
	store := NewMemStore()
	store.Put(1, &Page{Pgno: 1, IsLeaf: true, LSN: lsn(1, 10), Entries: []Entry{{Bytes: []byte("a")}}})

	rec := &AdjRecord{
		base:     base{Txn: 1, Prev: lsn(1, 10)},
		Pgno:     1,
		Indx:     1,
		IsInsert: true,
		Entry:    Entry{Bytes: []byte("b")},
	}
	rec.setLSN(lsn(1, 20))

	prev, err := AdjHandler(store, rec, lsn(1, 20), logrec.OpRedo, nil)
	require.NoError(t, err)
	require.Equal(t, lsn(1, 10), prev)

	page, ok := store.Fetch(1)
	require.True(t, ok)
	require.Len(t, page.Entries, 2)
	require.Equal(t, "b", string(page.Entries[1].Bytes))
	require.Equal(t, lsn(1, 20), page.LSN)

	// A second redo at the same LSN must be a no-op (page already caught up).
	_, err = AdjHandler(store, rec, lsn(1, 20), logrec.OpRedo, nil)
	require.NoError(t, err)
	page, _ = store.Fetch(1)
	require.Len(t, page.Entries, 2)

	// Undo reverses the insert.
	_, err = AdjHandler(store, rec, lsn(1, 20), logrec.OpUndo, nil)
	require.NoError(t, err)
	page, _ = store.Fetch(1)
	require.Len(t, page.Entries, 1)
	require.Equal(t, "a", string(page.Entries[0].Bytes))
	require.Equal(t, lsn(1, 10), page.LSN)
}

func TestCdelHandlerUndoNotifiesCursor(t *testing.T) {
	store := NewMemStore()
	store.Put(5, &Page{Pgno: 5, IsLeaf: true, LSN: lsn(1, 5), Entries: []Entry{{Bytes: []byte("x")}}})

	rec := &CdelRecord{base: base{Txn: 2, Prev: lsn(1, 5)}, Pgno: 5, Indx: 0, Deleted: true}
	rec.setLSN(lsn(1, 6))

	_, err := CdelHandler(store, rec, lsn(1, 6), logrec.OpRedo, nil)
	require.NoError(t, err)
	page, _ := store.Fetch(5)
	require.True(t, page.Entries[0].Deleted)

	notified := &fakeNotifier{}
	_, err = CdelHandler(store, rec, lsn(1, 6), logrec.OpUndo, notified)
	require.NoError(t, err)
	page, _ = store.Fetch(5)
	require.False(t, page.Entries[0].Deleted)
	require.True(t, notified.called)
}

type fakeNotifier struct{ called bool }

func (f *fakeNotifier) NotifyUndelete(pgno uint32, indx int) { f.called = true }

func TestCadjustHandlerUpdatesChildAndRoot(t *testing.T) {
	store := NewMemStore()
	store.Put(1, &Page{Pgno: 1, LSN: lsn(1, 1), Entries: []Entry{{ChildPgno: 2, ChildNRec: 4}}})
	store.Put(9, &Page{Pgno: 9, LSN: lsn(1, 1), NRec: 10})

	rec := &CadjustRecord{
		base:     base{Txn: 1, Prev: lsn(1, 1)},
		Pgno:     1,
		Indx:     0,
		Adjust:   3,
		Opflags:  CadUpdateRoot,
		RootPgno: 9,
	}
	rec.setLSN(lsn(1, 2))

	_, err := CadjustHandler(store, rec, lsn(1, 2), logrec.OpRedo, nil)
	require.NoError(t, err)

	page, _ := store.Fetch(1)
	require.EqualValues(t, 7, page.Entries[0].ChildNRec)
	root, _ := store.Fetch(9)
	require.EqualValues(t, 13, root.NRec)

	_, err = CadjustHandler(store, rec, lsn(1, 2), logrec.OpUndo, nil)
	require.NoError(t, err)
	page, _ = store.Fetch(1)
	require.EqualValues(t, 4, page.Entries[0].ChildNRec)
	root, _ = store.Fetch(9)
	require.EqualValues(t, 10, root.NRec)
}

func TestReplHandlerRedoUndoRoundTrip(t *testing.T) {
	store := NewMemStore()
	store.Put(1, &Page{Pgno: 1, IsLeaf: true, LSN: lsn(1, 1), Entries: []Entry{{Bytes: []byte("PREold SUF")}}})

	rec := &ReplRecord{
		base:   base{Txn: 1, Prev: lsn(1, 1)},
		Pgno:   1,
		Indx:   0,
		Prefix: []byte("PRE"),
		Suffix: []byte(" SUF"),
		Orig:   []byte("old"),
		Repl:   []byte("NEW"),
	}
	rec.setLSN(lsn(1, 2))

	_, err := ReplHandler(store, rec, lsn(1, 2), logrec.OpRedo, nil)
	require.NoError(t, err)
	page, _ := store.Fetch(1)
	require.Equal(t, "PRENEW SUF", string(page.Entries[0].Bytes))

	_, err = ReplHandler(store, rec, lsn(1, 2), logrec.OpUndo, nil)
	require.NoError(t, err)
	page, _ = store.Fetch(1)
	require.Equal(t, "PREold SUF", string(page.Entries[0].Bytes))
}

func TestRootHandlerRedoUndo(t *testing.T) {
	store := NewMemStore()
	store.Put(1, &Page{Pgno: 1, LSN: lsn(1, 1), Root: 100})

	rec := &RootRecord{base: base{Txn: 1, Prev: lsn(1, 1)}, MetaPgno: 1, NewRoot: 200, OldRoot: 100}
	rec.setLSN(lsn(1, 2))

	_, err := RootHandler(store, rec, lsn(1, 2), logrec.OpRedo, nil)
	require.NoError(t, err)
	meta, _ := store.Fetch(1)
	require.EqualValues(t, 200, meta.Root)

	_, err = RootHandler(store, rec, lsn(1, 2), logrec.OpUndo, nil)
	require.NoError(t, err)
	meta, _ = store.Fetch(1)
	require.EqualValues(t, 100, meta.Root)
}

func TestCuradjHandlerFiresOnlyOnAbort(t *testing.T) {
	rec := &CuradjRecord{base: base{Txn: 1, Prev: lsn(1, 1)}, Pgno: 3, Indx: 2, Mode: CuradjDI, Delta: -1}
	rec.setLSN(lsn(1, 2))

	adj := &fakeCursorAdjuster{}
	_, err := CuradjHandler(nil, rec, lsn(1, 2), logrec.OpRedo, adj)
	require.NoError(t, err)
	require.False(t, adj.called)

	_, err = CuradjHandler(nil, rec, lsn(1, 2), logrec.OpAbort, adj)
	require.NoError(t, err)
	require.True(t, adj.called)
}

type fakeCursorAdjuster struct{ called bool }

func (f *fakeCursorAdjuster) AdjustCursor(pgno uint32, indx int, mode CuradjMode, delta int32) {
	f.called = true
}

func TestRelinkHandlerRedoSplicesInNeighbors(t *testing.T) {
	store := NewMemStore()
	store.Put(1, &Page{Pgno: 1, IsLeaf: true, LSN: lsn(1, 1), Next: 3})
	store.Put(2, &Page{Pgno: 2, IsLeaf: true, LSN: lsn(1, 1)})
	store.Put(3, &Page{Pgno: 3, IsLeaf: true, LSN: lsn(1, 1), Prev: 1})

	rec := &RelinkRecord{
		base:    base{Txn: 1, Prev: lsn(1, 1)},
		Pgno:    2,
		OldPrev: 0,
		OldNext: 0,
		NewPrev: 1,
		NewNext: 3,
	}
	rec.setLSN(lsn(1, 2))

	_, err := RelinkHandler(store, rec, lsn(1, 2), logrec.OpRedo, nil)
	require.NoError(t, err)

	p1, _ := store.Fetch(1)
	p2, _ := store.Fetch(2)
	p3, _ := store.Fetch(3)
	require.EqualValues(t, 2, p1.Next)
	require.EqualValues(t, 1, p2.Prev)
	require.EqualValues(t, 3, p2.Next)
	require.EqualValues(t, 2, p3.Prev)
}

func TestSplitHandlerRootSplitRedoAndUndo(t *testing.T) {
	store := NewMemStore()
	preimage := &Page{Pgno: 1, IsLeaf: true, LSN: lsn(1, 1), Entries: []Entry{{Bytes: []byte("a")}, {Bytes: []byte("b")}}}
	store.Put(1, preimage.clone())

	rec := &SplitRecord{
		base:         base{Txn: 1, Prev: lsn(1, 1)},
		Pgno:         1,
		RootSplit:    true,
		LeftPgno:     2,
		RightPgno:    3,
		PreImage:     preimage,
		LeftEntries:  []Entry{{Bytes: []byte("a")}},
		RightEntries: []Entry{{Bytes: []byte("b")}},
	}
	rec.setLSN(lsn(1, 2))

	_, err := SplitHandler(store, rec, lsn(1, 2), logrec.OpRedo, nil)
	require.NoError(t, err)

	root, _ := store.Fetch(1)
	require.False(t, root.IsLeaf)
	require.Len(t, root.Entries, 2)
	left, ok := store.Fetch(2)
	require.True(t, ok)
	require.True(t, left.IsLeaf)
	right, ok := store.Fetch(3)
	require.True(t, ok)
	require.True(t, right.IsLeaf)

	_, err = SplitHandler(store, rec, lsn(1, 2), logrec.OpUndo, nil)
	require.NoError(t, err)
	root, _ = store.Fetch(1)
	require.True(t, root.IsLeaf)
	require.Len(t, root.Entries, 2)
	_, ok = store.Fetch(2)
	require.False(t, ok)
	_, ok = store.Fetch(3)
	require.False(t, ok)
}

func TestDispatchTableWiresAllTenHandlers(t *testing.T) {
	codec := logrec.NewCodec()
	RegisterDecoders(codec)
	table := logrec.NewTable()
	RegisterHandlers(table)

	types := []logrec.RecordType{
		RecSplit, RecRsplit, RecAdj, RecCadjust, RecCdel,
		RecRepl, RecRoot, RecCuradj, RecRcuradj, RecRelink,
	}
	store := NewMemStore()
	for _, rt := range types {
		switch rt {
		case RecCuradj, RecRcuradj:
			// abort-only handlers: dispatch against nil env is safe.
			var rec logrec.Record
			if rt == RecCuradj {
				rec = &CuradjRecord{base: base{Txn: 1}}
			} else {
				rec = &RcuradjRecord{base: base{Txn: 1}}
			}
			_, err := table.Dispatch(nil, rec, txn.LSN{}, logrec.OpAbort, nil)
			require.NoError(t, err)
		default:
			// every other handler type-asserts env to PageStore; a record
			// referencing a missing page is still a safe, error-free no-op.
			var rec logrec.Record
			switch rt {
			case RecSplit:
				rec = &SplitRecord{base: base{Txn: 1}, Pgno: 99}
			case RecRsplit:
				rec = &RsplitRecord{base: base{Txn: 1}, Pgno: 99}
			case RecAdj:
				rec = &AdjRecord{base: base{Txn: 1}, Pgno: 99}
			case RecCadjust:
				rec = &CadjustRecord{base: base{Txn: 1}, Pgno: 99}
			case RecCdel:
				rec = &CdelRecord{base: base{Txn: 1}, Pgno: 99}
			case RecRepl:
				rec = &ReplRecord{base: base{Txn: 1}, Pgno: 99}
			case RecRoot:
				rec = &RootRecord{base: base{Txn: 1}, MetaPgno: 99}
			case RecRelink:
				rec = &RelinkRecord{base: base{Txn: 1}, Pgno: 99}
			}
			_, err := table.Dispatch(store, rec, txn.LSN{}, logrec.OpRedo, nil)
			require.NoError(t, err)
		}
	}
}
