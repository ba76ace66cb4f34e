package qam

import (
	"path/filepath"
	"testing"

	"github.com/dbforge/bdbcore/logrec"
	"github.com/dbforge/bdbcore/mpool"
	"github.com/dbforge/bdbcore/txn"
	"github.com/stretchr/testify/require"
)

func TestExtentOfAndPageBounds(t *testing.T) {
	require.EqualValues(t, 0, ExtentOf(1, 10))
	require.EqualValues(t, 0, ExtentOf(10, 10))
	require.EqualValues(t, 1, ExtentOf(11, 10))
	require.EqualValues(t, 0, ExtentOf(0, 10)) // meta page

	require.EqualValues(t, 1, FirstPage(0, 10))
	require.EqualValues(t, 10, LastPage(0, 10))
	require.EqualValues(t, 11, FirstPage(1, 10))
	require.EqualValues(t, 20, LastPage(1, 10))
}

func TestHandleFgetFputRoundTripsAcrossExtents(t *testing.T) {
	dir := t.TempDir()
	pool := mpool.NewPool(mpool.Config{PageSize: 512, NumCaches: 1})
	h := NewHandle(pool, dir, "myq", Meta{PageExt: 4, PageSize: 512})

	// Page 3 lives in extent 0 (pages 1-4); page 7 lives in extent 1 (5-8).
	bh, err := h.Fget(3, mpool.FgetCreate)
	require.NoError(t, err)
	bh.Data[0] = 0x11
	require.NoError(t, h.Fput(3, bh, true))

	bh2, err := h.Fget(7, mpool.FgetCreate)
	require.NoError(t, err)
	bh2.Data[0] = 0x22
	require.NoError(t, h.Fput(7, bh2, true))

	require.FileExists(t, filepath.Join(dir, ExtentFileName("myq", 0)))
	require.FileExists(t, filepath.Join(dir, ExtentFileName("myq", 1)))

	back, err := h.Fget(3, 0)
	require.NoError(t, err)
	require.EqualValues(t, 0x11, back.Data[0])
	require.NoError(t, h.Fput(3, back, false))
}

func TestHandleFgetRejectsNonExtentQueue(t *testing.T) {
	pool := mpool.NewPool(mpool.Config{PageSize: 512, NumCaches: 1})
	h := NewHandle(pool, t.TempDir(), "q", Meta{PageSize: 512})
	_, err := h.Fget(1, 0)
	require.Error(t, err)
}

type fakeFS struct {
	existing map[string]bool
}

func newFakeFS(paths ...string) *fakeFS {
	f := &fakeFS{existing: make(map[string]bool)}
	for _, p := range paths {
		f.existing[p] = true
	}
	return f
}

func (f *fakeFS) Rename(oldPath, newPath string) error {
	if !f.existing[oldPath] {
		return nil
	}
	delete(f.existing, oldPath)
	f.existing[newPath] = true
	return nil
}

func (f *fakeFS) Remove(path string) error {
	delete(f.existing, path)
	return nil
}

func (f *fakeFS) Exists(path string) bool { return f.existing[path] }

func TestRemoveExtentNonTransactionalUnlinksImmediately(t *testing.T) {
	fs := newFakeFS("__dbq.q.00")
	var appended []logrec.Record
	lc := &Lifecycle{FS: fs, Append: func(rec logrec.Record) (txn.LSN, error) {
		appended = append(appended, rec)
		return txn.LSN{File: 1, Offset: uint32(len(appended))}, nil
	}}

	_, err := lc.RemoveExtent(0, txn.LSN{}, "q", 0, "__dbq.q.00")
	require.NoError(t, err)
	require.False(t, fs.Exists("__dbq.q.00"))
	require.Len(t, appended, 1)
	_, ok := appended[0].(*DeleteRecord)
	require.True(t, ok)
}

func TestRemoveExtentTransactionalRenamesAndDefersUnlink(t *testing.T) {
	fs := newFakeFS("__dbq.q.00")
	lc := &Lifecycle{FS: fs, Append: func(rec logrec.Record) (txn.LSN, error) {
		return txn.LSN{File: 1, Offset: 1}, nil
	}}

	_, err := lc.RemoveExtent(7, txn.LSN{}, "q", 0, "__dbq.q.00")
	require.NoError(t, err)
	require.False(t, fs.Exists("__dbq.q.00"))
	require.True(t, fs.Exists(BackupFileName("q", 0)))

	errs := lc.CommitCleanup(7)
	require.Empty(t, errs)
	require.False(t, fs.Exists(BackupFileName("q", 0)))
}

func TestRenameHandlerUndoRestoresOriginal(t *testing.T) {
	backup := BackupFileName("q", 0)
	fs := newFakeFS(backup)

	rec := &RenameRecord{
		base:    base{Txn: 1, Prev: txn.LSN{File: 1, Offset: 1}},
		DBName:  "q",
		Extent:  0,
		OldPath: "__dbq.q.00",
		NewPath: backup,
	}
	rec.setLSN(txn.LSN{File: 1, Offset: 2})

	_, err := RenameHandler(fs, rec, txn.LSN{File: 1, Offset: 2}, logrec.OpUndo, nil)
	require.NoError(t, err)
	require.True(t, fs.Exists("__dbq.q.00"))
	require.False(t, fs.Exists(backup))
}

func TestDeleteHandlerRedoIsIdempotent(t *testing.T) {
	fs := newFakeFS("__dbq.q.00")
	rec := &DeleteRecord{base: base{Txn: 0, Prev: txn.LSN{}}, DBName: "q", Extent: 0, Path: "__dbq.q.00"}
	rec.setLSN(txn.LSN{File: 1, Offset: 1})

	_, err := DeleteHandler(fs, rec, txn.LSN{File: 1, Offset: 1}, logrec.OpForwardRoll, nil)
	require.NoError(t, err)
	require.False(t, fs.Exists("__dbq.q.00"))

	// Replaying again against an already-gone file must not error.
	_, err = DeleteHandler(fs, rec, txn.LSN{File: 1, Offset: 1}, logrec.OpForwardRoll, nil)
	require.NoError(t, err)
}

func TestDispatchTableWiresDeleteAndRename(t *testing.T) {
	codec := logrec.NewCodec()
	RegisterDecoders(codec)
	table := logrec.NewTable()
	RegisterHandlers(table)

	fs := newFakeFS()
	rec := &DeleteRecord{base: base{Txn: 1}, Path: "missing"}
	_, err := table.Dispatch(fs, rec, txn.LSN{}, logrec.OpRedo, nil)
	require.NoError(t, err)
}

func TestVerifyMetaFlagsBadRecordSize(t *testing.T) {
	problems := VerifyMeta(Meta{ReLen: 100, RecPage: 10, PageSize: 512})
	require.NotEmpty(t, problems)

	problems = VerifyMeta(Meta{ReLen: 10, RecPage: 10, PageSize: 512, FirstRecno: 1, CurRecno: 5})
	require.Empty(t, problems)
}

func TestVerifyPageFlagsInvalidCombination(t *testing.T) {
	page := DataPage{Pgno: 1, Records: []PageRecord{{Flags: FlagSet}, {Flags: FlagValid | FlagSet}}}
	problems := VerifyPage(page)
	require.Len(t, problems, 1)
}

func TestOrphanExtentsReportsOutOfRangeFiles(t *testing.T) {
	exists := func(path string) bool {
		return path == ExtentFileName("q", 5)
	}
	problems := OrphanExtents("q", 0, 2, []uint32{0, 1, 2, 5}, exists)
	require.Len(t, problems, 1)
}

func TestWalkQueueSkipsUnreachableUnlessSalvaging(t *testing.T) {
	fetch := func(pgno uint32) (DataPage, bool) { return DataPage{Pgno: pgno}, true }
	reachable := func(pgno uint32) bool { return pgno != 2 }

	var visited []uint32
	cb := func(p DataPage) []Problem {
		visited = append(visited, p.Pgno)
		return nil
	}

	WalkQueue(1, 3, false, reachable, fetch, cb)
	require.Equal(t, []uint32{1, 3}, visited)

	visited = nil
	WalkQueue(1, 3, true, reachable, fetch, cb)
	require.Equal(t, []uint32{1, 2, 3}, visited)
}
