package mpool

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestFgetNewFputSyncRoundTrip(t *testing.T) {
	dir := t.TempDir()
	pool := NewPool(Config{PageSize: 4096, NumCaches: 1})

	d, err := pool.CreateFile(filepath.Join(dir, "data.db"), 4096)
	require.NoError(t, err)

	bh, err := pool.Fget(d, 0, FgetNew)
	require.NoError(t, err)
	require.EqualValues(t, 1, bh.ref)
	require.False(t, bh.hasFlag(bhTrash))

	for i := range bh.Data {
		bh.Data[i] = 0xAB
	}
	require.NoError(t, pool.Fput(bh, true))

	wrote, err := pool.Sync()
	require.NoError(t, err)
	require.Equal(t, 1, wrote)

	bh2, err := pool.Fget(d, 0, 0)
	require.NoError(t, err)
	for _, b := range bh2.Data {
		require.EqualValues(t, 0xAB, b)
	}
	require.NoError(t, pool.Fput(bh2, false))
}

func TestFgetPastEOFWithoutCreateIsNotFound(t *testing.T) {
	dir := t.TempDir()
	pool := NewPool(Config{PageSize: 4096, NumCaches: 1})
	d, err := pool.CreateFile(filepath.Join(dir, "data.db"), 4096)
	require.NoError(t, err)

	_, err = pool.Fget(d, 5, 0)
	require.Error(t, err)
}

func TestFgetCreateExtendsExactlyOnePage(t *testing.T) {
	dir := t.TempDir()
	pool := NewPool(Config{PageSize: 4096, NumCaches: 1})
	d, err := pool.CreateFile(filepath.Join(dir, "data.db"), 4096)
	require.NoError(t, err)

	bh, err := pool.Fget(d, 0, FgetCreate)
	require.NoError(t, err)
	require.Equal(t, uint32(0), d.mfp.LastPgno)
	require.NoError(t, pool.Fput(bh, false))

	bh2, err := pool.Fget(d, 1, FgetCreate)
	require.NoError(t, err)
	require.Equal(t, uint32(1), d.mfp.LastPgno)
	for _, b := range bh2.Data {
		require.Zero(t, b)
	}
	require.NoError(t, pool.Fput(bh2, false))
}

func TestEvictionReclaimsUnderPressure(t *testing.T) {
	dir := t.TempDir()
	pool := NewPool(Config{PageSize: 256, NumCaches: 1, MaxPagesPerCache: 4})
	d, err := pool.CreateFile(filepath.Join(dir, "data.db"), 256)
	require.NoError(t, err)

	for i := uint32(0); i < 4; i++ {
		bh, err := pool.Fget(d, i, FgetCreate)
		require.NoError(t, err)
		require.NoError(t, pool.Fput(bh, false))
	}

	// A fifth distinct page forces memp_alloc to evict one of the four
	// unpinned clean pages rather than fail.
	bh, err := pool.Fget(d, 4, FgetCreate)
	require.NoError(t, err)
	require.NoError(t, pool.Fput(bh, false))
}

func TestNameOpRemoveMarksDeadFile(t *testing.T) {
	dir := t.TempDir()
	pool := NewPool(Config{PageSize: 4096, NumCaches: 1})
	path := filepath.Join(dir, "data.db")
	d, err := pool.CreateFile(path, 4096)
	require.NoError(t, err)

	bh, err := pool.Fget(d, 0, FgetNew)
	require.NoError(t, err)
	require.NoError(t, pool.Fput(bh, true))

	require.NoError(t, pool.NameOp(path, "", OpRemove))
	require.True(t, d.mfp.isDeadFile())

	// A dead file's dirty pages are discarded, not written, by sync.
	_, err = pool.Sync()
	require.NoError(t, err)
}

func TestTrickleWritesOnlyEnoughToReachPercentage(t *testing.T) {
	dir := t.TempDir()
	pool := NewPool(Config{PageSize: 256, NumCaches: 1})
	d, err := pool.CreateFile(filepath.Join(dir, "data.db"), 256)
	require.NoError(t, err)

	// 10 buffers, 4 dirty, 6 clean: 60% already clean.
	for i := uint32(0); i < 10; i++ {
		bh, err := pool.Fget(d, i, FgetCreate)
		require.NoError(t, err)
		require.NoError(t, pool.Fput(bh, i < 4))
	}

	// Asking to keep 50% clean is already satisfied: no-op.
	wrote, err := pool.Trickle(50)
	require.NoError(t, err)
	require.Equal(t, 0, wrote)

	// Asking to keep 80% clean needs (10*80/100)-6 = 2 more writes.
	wrote, err = pool.Trickle(80)
	require.NoError(t, err)
	require.Equal(t, 2, wrote)
}

func TestFgetFreeDiscardsDirtyPageWithoutWriteback(t *testing.T) {
	dir := t.TempDir()
	pool := NewPool(Config{PageSize: 256, NumCaches: 1})
	d, err := pool.CreateFile(filepath.Join(dir, "data.db"), 256)
	require.NoError(t, err)

	bh, err := pool.Fget(d, 0, FgetCreate)
	require.NoError(t, err)
	bh.Data[0] = 0xFF
	require.NoError(t, pool.Fput(bh, true))

	// Caller re-pins the page it is about to free, as mp_fget.c's
	// DB_MPOOL_FREE contract requires, then releases its own pin by
	// calling Fget with FgetFree instead of Fput.
	held, err := pool.Fget(d, 0, 0)
	require.NoError(t, err)
	bh2, err := pool.Fget(d, 0, FgetFree)
	require.NoError(t, err)
	require.Nil(t, bh2)
	_ = held

	wrote, err := pool.Sync()
	require.NoError(t, err)
	require.Equal(t, 0, wrote)

	// The page is gone from cache, so re-fetching without CREATE reads a
	// zero-filled page straight back off disk (never flushed), not the
	// freed 0xFF content.
	bh3, err := pool.Fget(d, 0, 0)
	require.NoError(t, err)
	require.Zero(t, bh3.Data[0])
	require.NoError(t, pool.Fput(bh3, false))
}

func TestFgetFreeIsNoopWhenPageNotResident(t *testing.T) {
	dir := t.TempDir()
	pool := NewPool(Config{PageSize: 256, NumCaches: 1})
	d, err := pool.CreateFile(filepath.Join(dir, "data.db"), 256)
	require.NoError(t, err)

	bh, err := pool.Fget(d, 0, FgetFree)
	require.NoError(t, err)
	require.Nil(t, bh)
}

func TestFgetFreeRejectsPageStillReferencedElsewhere(t *testing.T) {
	dir := t.TempDir()
	pool := NewPool(Config{PageSize: 256, NumCaches: 1})
	d, err := pool.CreateFile(filepath.Join(dir, "data.db"), 256)
	require.NoError(t, err)

	bh, err := pool.Fget(d, 0, FgetCreate)
	require.NoError(t, err)

	extra, err := pool.Fget(d, 0, 0)
	require.NoError(t, err)

	_, err = pool.Fget(d, 0, FgetFree)
	require.Error(t, err)

	require.NoError(t, pool.Fput(bh, false))
	require.NoError(t, pool.Fput(extra, false))
}

func TestTrickleRejectsOutOfRangePercentage(t *testing.T) {
	pool := NewPool(Config{PageSize: 256, NumCaches: 1})
	wrote, err := pool.Trickle(0)
	require.NoError(t, err)
	require.Equal(t, 0, wrote)

	wrote, err = pool.Trickle(101)
	require.NoError(t, err)
	require.Equal(t, 0, wrote)
}
