package mpool

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestSnappyConverterRoundTripsThroughPool(t *testing.T) {
	dir := t.TempDir()
	pool := NewPool(Config{PageSize: 4096, NumCaches: 1})
	d, err := pool.CreateFile(filepath.Join(dir, "snappy.db"), 4096)
	require.NoError(t, err)

	const ftype = 1
	require.NoError(t, pool.Register(ftype, SnappyConverter{}))
	require.NoError(t, pool.AttachConverter(d.mfp, ftype))

	bh, err := pool.Fget(d, 0, FgetNew)
	require.NoError(t, err)
	for i := range bh.Data {
		bh.Data[i] = byte(i % 7)
	}
	want := append([]byte(nil), bh.Data...)
	require.NoError(t, pool.Fput(bh, true))

	wrote, err := pool.Sync()
	require.NoError(t, err)
	require.Equal(t, 1, wrote)

	bh2, err := pool.Fget(d, 0, 0)
	require.NoError(t, err)
	require.Equal(t, want, bh2.Data)
	require.NoError(t, pool.Fput(bh2, false))
}

func TestLZ4ConverterRoundTripsThroughPool(t *testing.T) {
	dir := t.TempDir()
	pool := NewPool(Config{PageSize: 4096, NumCaches: 1})
	d, err := pool.CreateFile(filepath.Join(dir, "lz4.db"), 4096)
	require.NoError(t, err)

	const ftype = 2
	require.NoError(t, pool.Register(ftype, LZ4Converter{}))
	require.NoError(t, pool.AttachConverter(d.mfp, ftype))

	bh, err := pool.Fget(d, 0, FgetNew)
	require.NoError(t, err)
	for i := range bh.Data {
		bh.Data[i] = byte((i * 3) % 11)
	}
	want := append([]byte(nil), bh.Data...)
	require.NoError(t, pool.Fput(bh, true))

	_, err = pool.Sync()
	require.NoError(t, err)

	bh2, err := pool.Fget(d, 0, 0)
	require.NoError(t, err)
	require.Equal(t, want, bh2.Data)
	require.NoError(t, pool.Fput(bh2, false))
}

func TestRegisterRejectsDuplicateDBAccessMethodSlot(t *testing.T) {
	pool := NewPool(Config{PageSize: 4096, NumCaches: 1})
	require.NoError(t, pool.Register(pool.dbFtype, SnappyConverter{}))
	require.Error(t, pool.Register(pool.dbFtype, LZ4Converter{}))
}

func TestPgOutErrorsWhenCompressedFormDoesNotFit(t *testing.T) {
	buf := make([]byte, 8)
	for i := range buf {
		buf[i] = byte(i * 37) // no run-length structure, snappy expands tiny input
	}
	err := (SnappyConverter{}).PgOut(1, buf)
	require.Error(t, err)
}
