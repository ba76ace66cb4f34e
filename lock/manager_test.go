package lock

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestBasicLockingConflictAndRelease(t *testing.T) {
	m := NewManager(Config{})

	l1, err := m.Get(1, "page:1", ModeRead, 0, GetNoWait)
	require.NoError(t, err)

	l2, err := m.Get(2, "page:1", ModeRead, 0, GetNoWait)
	require.NoError(t, err)

	_, err = m.Get(3, "page:1", ModeWrite, 0, GetNoWait)
	require.Error(t, err)

	require.NoError(t, m.Put(l1))
	require.NoError(t, m.Put(l2))

	l3, err := m.Get(3, "page:1", ModeWrite, 0, GetNoWait)
	require.NoError(t, err)
	require.NoError(t, m.Put(l3))
}

func TestSameLockerSameModeBumpsRefcountNotNLocks(t *testing.T) {
	m := NewManager(Config{})

	l1, err := m.Get(1, "page:1", ModeRead, 0, 0)
	require.NoError(t, err)
	l1Again, err := m.Get(1, "page:1", ModeRead, 0, 0)
	require.NoError(t, err)
	require.Same(t, l1, l1Again)
	require.Equal(t, 1, m.lockers[1].nlocks)

	require.NoError(t, m.Put(l1))
	// One ref remains; the object must still show a holder.
	require.Len(t, m.objects["page:1"].holders, 1)
	require.NoError(t, m.Put(l1Again))

	l2, err := m.Get(2, "page:1", ModeWrite, 0, GetNoWait)
	require.NoError(t, err)
	require.NoError(t, m.Put(l2))
}

func TestUpgradeInPlaceFromReadRequiresNoOtherHolders(t *testing.T) {
	m := NewManager(Config{})

	l1, err := m.Get(1, "page:1", ModeRead, 0, 0)
	require.NoError(t, err)
	require.NoError(t, m.Put(l1))

	l1b, err := m.Get(1, "page:1", ModeRead, 0, 0)
	require.NoError(t, err)

	_, err = m.Get(2, "page:1", ModeRead, 0, GetNoWait)
	require.NoError(t, err)

	_, err = m.Get(1, "page:1", ModeWrite, 0, GetNoWait)
	require.Error(t, err) // locker 2 still holds READ, so upgrade must block

	require.NoError(t, m.Put(l1b))
}

func TestGetModeNGNeverConflicts(t *testing.T) {
	m := NewManager(Config{})

	lx, err := m.Get(1, "page:1", ModeWrite, 0, GetNoWait)
	require.NoError(t, err)

	l2, err := m.Get(2, "page:1", ModeNG, 0, GetNoWait)
	require.NoError(t, err)

	require.NoError(t, m.Put(lx))
	require.NoError(t, m.Put(l2))
}

func TestDowngradeToWWriteAllowsDirtyReaderCoexistence(t *testing.T) {
	m := NewManager(Config{})

	lw, err := m.Get(1, "page:1", ModeWrite, 0, GetNoWait)
	require.NoError(t, err)
	require.NoError(t, m.Downgrade(lw, ModeWWrite))

	ld, err := m.Get(2, "page:1", ModeDirty, 0, GetNoWait)
	require.NoError(t, err)

	require.NoError(t, m.Put(lw))
	require.NoError(t, m.Put(ld))
}

func TestLockIDAllocationWrapsToNonZeroID(t *testing.T) {
	m := NewManager(Config{})
	m.nextLockerID = ^uint32(0) // force the next alloc to wrap

	id1, err := m.LockID()
	require.NoError(t, err)
	require.NoError(t, m.LockIDFree(id1))

	id2, err := m.LockID()
	require.NoError(t, err)
	require.NotZero(t, id2)
}

func TestDeadlockDetectionAbortsOneWaiter(t *testing.T) {
	m := NewManagerWithDefaultDetection(Config{})

	lA, err := m.Get(1, "A", ModeRead, 0, GetNoWait)
	require.NoError(t, err)
	lB, err := m.Get(2, "B", ModeRead, 0, GetNoWait)
	require.NoError(t, err)

	var wg sync.WaitGroup
	wg.Add(2)
	results := make(chan error, 2)

	go func() {
		defer wg.Done()
		_, err := m.Get(1, "B", ModeWrite, 5*time.Second, 0)
		results <- err
	}()
	go func() {
		defer wg.Done()
		_, err := m.Get(2, "A", ModeWrite, 5*time.Second, 0)
		results <- err
	}()

	time.Sleep(50 * time.Millisecond)
	_, found := m.RunDeadlockDetection()
	require.True(t, found)

	// Release the original holds so whichever waiter was NOT aborted can
	// be promoted; the aborted one already woke with ErrDeadlock.
	require.NoError(t, m.Put(lA))
	require.NoError(t, m.Put(lB))

	wg.Wait()
	close(results)

	var deadlocks, oks int
	for err := range results {
		if err != nil {
			deadlocks++
		} else {
			oks++
		}
	}
	require.Equal(t, 1, deadlocks)
	require.Equal(t, 1, oks)
}

func TestVecPutAllReleasesEveryHeldLock(t *testing.T) {
	m := NewManager(Config{})

	res := m.Vec(1, []VecEntry{
		{Op: OpGet, Key: "A", Mode: ModeRead},
		{Op: OpGet, Key: "B", Mode: ModeWrite},
	})
	require.NoError(t, res[0].Err)
	require.NoError(t, res[1].Err)

	res = m.Vec(1, []VecEntry{{Op: OpPutAll}})
	require.NoError(t, res[0].Err)

	l, err := m.Get(2, "B", ModeWrite, 0, GetNoWait)
	require.NoError(t, err)
	require.NoError(t, m.Put(l))
}

func TestVecInheritMergesIntoParent(t *testing.T) {
	m := NewManager(Config{})

	parent, err := m.LockID()
	require.NoError(t, err)
	child, err := m.LockID()
	require.NoError(t, err)

	_, err = m.Get(parent, "A", ModeRead, 0, GetNoWait)
	require.NoError(t, err)
	_, err = m.Get(child, "A", ModeRead, 0, GetNoWait)
	require.NoError(t, err)

	res := m.Vec(child, []VecEntry{{Op: OpInherit, Parent: parent}})
	require.NoError(t, res[0].Err)

	require.Empty(t, m.lockers[child].held)
	require.Len(t, m.lockers[parent].held, 1)
	require.EqualValues(t, 2, m.lockers[parent].held[0].ref)
}

func TestConcurrentReadersAcrossManyResources(t *testing.T) {
	m := NewManager(Config{})
	const numTx = 10
	const numResources = 5

	var wg sync.WaitGroup
	wg.Add(numTx)
	for i := uint32(1); i <= numTx; i++ {
		go func(lockerID uint32) {
			defer wg.Done()
			var held []*Lock
			for j := 0; j < numResources; j++ {
				lk, err := m.Get(lockerID, "resource-"+string(rune('0'+j)), ModeRead, 0, 0)
				if err != nil {
					t.Errorf("locker %d: %v", lockerID, err)
					return
				}
				held = append(held, lk)
			}
			for _, lk := range held {
				_ = m.Put(lk)
			}
		}(i)
	}
	wg.Wait()
}
