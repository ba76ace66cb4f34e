package region

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/dbforge/bdbcore/clock"
)

func TestAttachCreateThenJoinPreservesState(t *testing.T) {
	home := filepath.Join(t.TempDir(), "env")
	r := NewRegistry()
	c := clock.System{}

	env1, err := Attach(r, home, 1<<16, c)
	require.NoError(t, err)
	require.NoError(t, env1.GoLive())

	sr, err := env1.AttachSubRegion(TypeMPool, 4096)
	require.NoError(t, err)
	require.Equal(t, TypeMPool, sr.Type)

	env2, err := Attach(r, home, 1<<16, c)
	require.NoError(t, err)
	require.Same(t, env1, env2)

	got, ok := env2.SubRegionByType(TypeMPool)
	require.True(t, ok)
	require.Same(t, sr, got)

	require.NoError(t, env2.Detach(r, false))
	require.NoError(t, env1.Detach(r, true))

	require.Nil(t, r.lookup(home))
}

func TestRemoveBusyWithoutForceFails(t *testing.T) {
	home := filepath.Join(t.TempDir(), "env")
	r := NewRegistry()
	c := clock.System{}

	env1, err := Attach(r, home, 1<<16, c)
	require.NoError(t, err)
	_, err = Attach(r, home, 1<<16, c)
	require.NoError(t, err)

	err = Remove(r, home, false)
	require.Error(t, err)

	require.NoError(t, env1.Detach(r, false))
	require.NoError(t, env1.Detach(r, false))
}

func TestPanickedEnvironmentRejectsSubRegionAttach(t *testing.T) {
	home := filepath.Join(t.TempDir(), "env")
	r := NewRegistry()
	c := clock.System{}

	env, err := Attach(r, home, 1<<16, c)
	require.NoError(t, err)
	env.Panic()

	_, err = env.AttachSubRegion(TypeLock, 4096)
	require.Error(t, err)
	require.True(t, env.Panicked())
}

func TestAllocatorShallocAndFree(t *testing.T) {
	a := NewAllocator(1024)

	p1, err := a.Shalloc(64)
	require.NoError(t, err)
	p2, err := a.Shalloc(64)
	require.NoError(t, err)
	require.NotEqual(t, p1, p2)

	buf := a.Bytes(p1, 64)
	require.Len(t, buf, 64)
	for i := range buf {
		buf[i] = byte(i)
	}

	a.ShallocFree(p1, 64)
	p3, err := a.Shalloc(64)
	require.NoError(t, err)
	require.Equal(t, p1, p3) // reused the just-freed block

	_, err = a.Shalloc(1 << 20)
	require.Error(t, err)
}
