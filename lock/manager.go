package lock

import (
	"sync"
	"time"

	"github.com/dbforge/bdbcore/clock"
	"github.com/dbforge/bdbcore/errs"
	"github.com/dbforge/bdbcore/logging"
)

var log = logging.Named("lock")

// GetFlag modifies a single Get call, spec.md §4.3.3/§4.3.6.
type GetFlag uint32

const (
	// GetNoWait fails with ErrNotGranted instead of blocking.
	GetNoWait GetFlag = 1 << iota
)

// Config bounds the manager's resources and supplies its default
// timeouts, spec.md §3.2's DB_LOCKREGION fields.
type Config struct {
	LockTimeout time.Duration // region-wide default, spec.md §4.3.7
	TxnTimeout  time.Duration
	Conflicts   ConflictMatrix // nil selects DefaultConflicts()
	Clock       clock.Clock
	Detector    DeadlockDetector // nil disables automatic detection
}

// Manager is the lock manager, spec.md §4.3's DB_LOCKREGION-equivalent:
// the object table, the locker table, the conflict matrix, and the
// region-wide timeout/deadlock-detection state, all behind one mutex
// playing the role of the region lock.
type Manager struct {
	mu sync.Mutex

	objects map[string]*object
	lockers map[uint32]*Locker

	conflicts ConflictMatrix
	clock     clock.Clock
	detector  DeadlockDetector

	lockTimeout time.Duration
	txnTimeout  time.Duration

	needDD      bool
	nextTimeout clock.Time

	nextLockerID uint32
	nextLockID   uint64
	nextGen      uint64
	waitSeq      uint64
}

// NewManager constructs a lock manager; a zero Config is valid and
// selects DefaultConflicts() with no deadlock detection.
func NewManager(cfg Config) *Manager {
	if cfg.Conflicts == nil {
		cfg.Conflicts = DefaultConflicts()
	}
	if cfg.Clock == nil {
		cfg.Clock = clock.System{}
	}
	return &Manager{
		objects:      make(map[string]*object),
		lockers:      make(map[uint32]*Locker),
		conflicts:    cfg.Conflicts,
		clock:        cfg.Clock,
		detector:     cfg.Detector,
		lockTimeout:  cfg.LockTimeout,
		txnTimeout:   cfg.TxnTimeout,
		nextLockerID: 1,
	}
}

// NewManagerWithDefaultDetection builds a Manager whose deadlock detector
// is an OldestWaiterDetector driven by the manager's own wait-sequence
// ages, matching the teacher's deadlockDetection goroutine's victim
// policy without requiring the caller to wire the self-reference by hand.
func NewManagerWithDefaultDetection(cfg Config) *Manager {
	m := NewManager(cfg)
	m.detector = NewOldestWaiterDetector(m.WaitAge)
	return m
}

// LockID allocates a fresh transactional locker id, spec.md §4.3.1.
func (m *Manager) LockID() (uint32, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	id, err := m.allocLockerID()
	if err != nil {
		return 0, err
	}
	m.lockers[id] = newLocker(id, 0)
	return id, nil
}

// allocLockerID implements the monotonic-with-wrap allocator of spec.md
// §4.3.1: advance a counter; on exhaustion (wrapping into a live id),
// collect every id in use, sort it, and return the first gap.
func (m *Manager) allocLockerID() (uint32, error) {
	for i := 0; i < 2; i++ {
		id := m.nextLockerID
		if id == 0 {
			id = 1
		}
		m.nextLockerID = id + 1
		if _, live := m.lockers[id]; !live {
			return id, nil
		}
		if i == 0 {
			// Collided with a live id: fall through to the gap scan below.
			break
		}
	}
	live := make([]uint32, 0, len(m.lockers))
	for id := range m.lockers {
		live = append(live, id)
	}
	sortUint32(live)
	var want uint32 = 1
	for _, id := range live {
		if id != want {
			return want, nil
		}
		want++
	}
	if want == 0 {
		return 0, errs.Wrap(errs.ErrNoSpace, "lock: locker id space exhausted")
	}
	return want, nil
}

func sortUint32(s []uint32) {
	for i := 1; i < len(s); i++ {
		for j := i; j > 0 && s[j-1] > s[j]; j-- {
			s[j-1], s[j] = s[j], s[j-1]
		}
	}
}

// LockIDFree releases a locker id; spec.md §4.3.1 requires it hold no
// locks.
func (m *Manager) LockIDFree(id uint32) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	locker, ok := m.lockers[id]
	if !ok {
		return errs.Wrap(errs.ErrInvalidArgument, "lock: unknown locker %d", id)
	}
	if len(locker.held) > 0 {
		return errs.Wrap(errs.ErrInvalidArgument, "lock: locker %d still holds %d locks", id, len(locker.held))
	}
	delete(m.lockers, id)
	return nil
}

func (m *Manager) resolveLocker(id uint32) *Locker {
	locker, ok := m.lockers[id]
	if !ok {
		// Family/non-transactional ids are created on demand, spec.md
		// §4.3.3 step 3.
		locker = newLocker(id, 0)
		m.lockers[id] = locker
	}
	return locker
}

func (m *Manager) isAncestor(ancestorID, lockerID uint32) bool {
	if ancestorID == lockerID {
		return false
	}
	cur, ok := m.lockers[lockerID]
	for ok && cur.parentID != 0 {
		if cur.parentID == ancestorID {
			return true
		}
		cur, ok = m.lockers[cur.parentID]
	}
	return false
}

func (m *Manager) resolveObject(key string) *object {
	obj, ok := m.objects[key]
	if !ok {
		obj = newObject(key)
		m.objects[key] = obj
	}
	return obj
}

// Get implements lock_get_internal, spec.md §4.3.3.
func (m *Manager) Get(lockerID uint32, key string, mode Mode, timeout time.Duration, flags GetFlag) (*Lock, error) {
	m.mu.Lock()

	locker := m.resolveLocker(lockerID)
	obj := m.resolveObject(key)

	if existing := obj.findHolder(lockerID); existing != nil {
		existing.mu.Lock()
		if existing.mode == mode {
			existing.ref++
			existing.mu.Unlock()
			m.mu.Unlock()
			return existing, nil
		}
		if existing.mode == ModeWWrite && mode == ModeWrite {
			if blocker := obj.conflictsWithHolders(m, lockerID, mode); blocker == nil {
				existing.mode = mode
				existing.gen = m.newGen()
				locker.nwrites++
				existing.mu.Unlock()
				m.mu.Unlock()
				return existing, nil
			}
		}
		existing.mu.Unlock()
	}

	blocker := obj.conflictsWithHolders(m, lockerID, mode)
	mustWait := blocker != nil
	enqueueSecond := false
	if !mustWait && len(obj.waiters) > 0 {
		if mode == ModeDirty {
			grant, second := obj.dirtyReaderException(lockerID)
			mustWait = !grant
			enqueueSecond = second
		} else {
			mustWait = true
		}
	}

	lk := &Lock{
		id:     m.newLockID(),
		gen:    m.newGen(),
		obj:    obj,
		locker: locker,
		mode:   mode,
		ref:    1,
		wake:   make(chan struct{}, 1),
	}

	if !mustWait {
		lk.status = StatusHeld
		obj.holders = append(obj.holders, lk)
		locker.addHeld(lk)
		locker.nlocks++
		if mode.isWrite() {
			locker.nwrites++
		}
		m.mu.Unlock()
		return lk, nil
	}

	if flags&GetNoWait != 0 {
		m.mu.Unlock()
		return nil, errs.Wrap(errs.ErrNotGranted, "lock: %s on %q would block", mode, key)
	}

	lk.status = StatusWaiting
	m.waitSeq++
	lk.waitSeq = m.waitSeq
	switch {
	case mode == ModeWrite && obj.findHolder(lockerID) != nil:
		// Upgrade request: enqueue at the HEAD, spec.md §4.3.3 step 4.
		obj.waiters = append([]*Lock{lk}, obj.waiters...)
	case enqueueSecond && len(obj.waiters) > 0:
		// DIRTY reader behind a same-identity WRITE upgrade: enqueue
		// SECOND, spec.md §4.3.3 step 4's exception.
		obj.waiters = append(obj.waiters[:1:1], append([]*Lock{lk}, obj.waiters[1:]...)...)
	default:
		obj.waiters = append(obj.waiters, lk)
	}

	now := m.clock.Now()
	if !locker.txExpire.IsZero() && !now.Before(locker.txExpire) {
		lk.status = StatusExpired
		obj.removeWaiter(lk)
		m.mu.Unlock()
		return nil, errs.Wrap(errs.ErrDeadlock, "lock: locker %d transaction already expired", lockerID)
	}

	effTimeout := timeout
	if effTimeout == 0 {
		effTimeout = locker.lockTimeout
	}
	if effTimeout == 0 {
		effTimeout = m.lockTimeout
	}
	var lkExpire clock.Time
	if effTimeout > 0 {
		lkExpire = now.Add(effTimeout)
		if !locker.txExpire.IsZero() && locker.txExpire.Before(lkExpire) {
			lkExpire = locker.txExpire
		}
		locker.lkExpire = lkExpire
		if m.nextTimeout.IsZero() || lkExpire.Before(m.nextTimeout) {
			m.nextTimeout = lkExpire
		}
	}

	if blocker != nil && m.detector != nil {
		m.needDD = true
	}

	wake := lk.wake
	m.mu.Unlock()

	if effTimeout > 0 {
		select {
		case <-wake:
		case <-time.After(effTimeout):
			m.mu.Lock()
			lk.mu.Lock()
			if lk.status == StatusWaiting {
				lk.status = StatusExpired
				obj.removeWaiter(lk)
			}
			finalStatus := lk.status
			lk.mu.Unlock()
			m.mu.Unlock()
			if finalStatus != StatusHeld {
				return nil, errs.Wrap(errs.ErrNotGranted, "lock: %s on %q timed out", mode, key)
			}
		}
	} else {
		<-wake
	}

	lk.mu.Lock()
	status := lk.status
	lk.mu.Unlock()

	switch status {
	case StatusHeld, StatusPending:
		m.mu.Lock()
		if status == StatusPending {
			lk.mu.Lock()
			lk.status = StatusHeld
			lk.mu.Unlock()
		}
		locker.addHeld(lk)
		locker.nlocks++
		if mode.isWrite() {
			locker.nwrites++
		}
		m.mu.Unlock()
		return lk, nil
	case StatusAborted:
		return nil, errs.Wrap(errs.ErrDeadlock, "lock: locker %d aborted by deadlock detector", lockerID)
	case StatusExpired:
		m.mu.Lock()
		txExpired := !locker.txExpire.IsZero() && locker.lkExpire == locker.txExpire
		m.mu.Unlock()
		if txExpired {
			return nil, errs.Wrap(errs.ErrDeadlock, "lock: locker %d transaction timed out", lockerID)
		}
		return nil, errs.Wrap(errs.ErrNotGranted, "lock: %s on %q timed out", mode, key)
	case StatusNotExist:
		return nil, errs.Wrap(errs.ErrNotFound, "lock: object %q removed while waiting", key)
	default:
		return nil, errs.Wrap(errs.ErrPanic, "lock: impossible wait status %d", status)
	}
}

// Put implements lock_put_internal, spec.md §4.3.4.
func (m *Manager) Put(lk *Lock) error {
	m.mu.Lock()

	lk.mu.Lock()
	lk.ref--
	done := lk.ref > 0
	lk.mu.Unlock()
	if done {
		m.mu.Unlock()
		return nil
	}

	obj := lk.obj
	locker := lk.locker
	obj.removeHolder(lk)
	obj.removeWaiter(lk)

	granted := obj.promote(m)

	if obj.empty() {
		delete(m.objects, obj.key)
	}

	locker.removeHeld(lk)
	locker.nlocks--
	if lk.mode.isWrite() {
		locker.nwrites--
	}

	if len(granted) == 0 {
		m.needDD = true
	}

	m.mu.Unlock()

	for _, g := range granted {
		select {
		case g.wake <- struct{}{}:
		default:
		}
	}
	return nil
}

func (m *Manager) newLockID() uint64 {
	m.nextLockID++
	return m.nextLockID
}

func (m *Manager) newGen() uint64 {
	m.nextGen++
	return m.nextGen
}

// Downgrade implements lock_downgrade, spec.md §4.3.5.
func (m *Manager) Downgrade(lk *Lock, newMode Mode) error {
	m.mu.Lock()

	lk.mu.Lock()
	wasWrite := lk.mode.isWrite()
	lk.mode = newMode
	lk.gen = m.newGen()
	lk.mu.Unlock()

	if newMode == ModeWWrite {
		lk.locker.setFlag(lockerDirty)
	}
	if wasWrite && !newMode.isWrite() {
		lk.locker.nwrites--
	}

	granted := lk.obj.promote(m)
	m.mu.Unlock()

	for _, g := range granted {
		select {
		case g.wake <- struct{}{}:
		default:
		}
	}
	return nil
}

// RunDeadlockDetection scans the current waits-for graph with the
// configured detector and aborts one victim, matching the teacher's
// periodic deadlockDetection goroutine generalized behind DeadlockDetector.
func (m *Manager) RunDeadlockDetection() (aborted uint32, found bool) {
	m.mu.Lock()
	if m.detector == nil || !m.needDD {
		m.mu.Unlock()
		return 0, false
	}
	waitsFor := m.buildWaitsFor()
	m.needDD = false
	// Detect runs without m.mu held: the default detector's age function
	// (WaitAge) takes m.mu itself.
	m.mu.Unlock()
	victimID, found := m.detector.Detect(waitsFor)
	if !found {
		return 0, false
	}
	m.mu.Lock()
	woken := m.abortLocker(victimID)
	m.mu.Unlock()

	for _, g := range woken {
		select {
		case g.wake <- struct{}{}:
		default:
		}
	}
	return victimID, true
}

// WaitAge returns the smallest wait-sequence number among lockerID's
// currently waiting requests, suitable as the "age" function
// NewOldestWaiterDetector expects: a smaller value is an older waiter.
func (m *Manager) WaitAge(lockerID uint32) (age uint64, waiting bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, obj := range m.objects {
		for _, w := range obj.waiters {
			if w.locker.id() != lockerID {
				continue
			}
			if !waiting || w.waitSeq < age {
				age, waiting = w.waitSeq, true
			}
		}
	}
	return age, waiting
}

// buildWaitsFor constructs the locker-id waits-for graph: lockerID ->
// the ids of lockers currently blocking one of its waiting requests.
func (m *Manager) buildWaitsFor() map[uint32][]uint32 {
	graph := make(map[uint32][]uint32)
	for _, obj := range m.objects {
		for _, w := range obj.waiters {
			var blockers []uint32
			for _, h := range obj.holders {
				if h.locker.id() != w.locker.id() && !m.isAncestor(h.locker.id(), w.locker.id()) {
					blockers = append(blockers, h.locker.id())
				}
			}
			graph[w.locker.id()] = append(graph[w.locker.id()], blockers...)
		}
	}
	return graph
}

// abortLocker marks every waiting lock of victimID ABORTED and returns
// the corresponding Lock values so the caller can wake their goroutines.
func (m *Manager) abortLocker(victimID uint32) []*Lock {
	var woken []*Lock
	for _, obj := range m.objects {
		for _, w := range obj.waiters {
			if w.locker.id() != victimID {
				continue
			}
			w.mu.Lock()
			w.status = StatusAborted
			w.mu.Unlock()
			woken = append(woken, w)
		}
		obj.waiters = removeLockByLockerWaiting(obj.waiters, victimID)
	}
	return woken
}

func removeLockByLockerWaiting(list []*Lock, lockerID uint32) []*Lock {
	out := list[:0]
	for _, l := range list {
		if l.locker.id() != lockerID {
			out = append(out, l)
		}
	}
	return out
}
