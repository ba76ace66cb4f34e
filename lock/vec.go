package lock

import (
	"time"

	"github.com/dbforge/bdbcore/errs"
)

// VecOp is one entry of a lock_vec call, spec.md §4.3.6.
type VecOp int

const (
	OpGet VecOp = iota
	OpGetTimeout
	OpPut
	OpPutAll
	OpPutRead
	OpUpgradeWrite
	OpPutObj
	OpInherit
	OpTimeout
	OpTrade
)

// VecEntry is one item of the heterogeneous list Vec executes in order.
// Each entry takes and releases the manager's lock on its own, so other
// callers can run between two entries; the list as a whole is not atomic.
type VecEntry struct {
	Op      VecOp
	Key     string // OpGet*, OpPutObj
	Mode    Mode   // OpGet*
	Timeout time.Duration
	Lock    *Lock  // OpPut, OpTrade
	Parent  uint32 // OpInherit
}

// VecResult carries the outcome of one VecEntry.
type VecResult struct {
	Lock *Lock
	Err  error
}

// Vec implements lock_vec, spec.md §4.3.6: executes every entry in
// order, runs the deadlock detector afterward if needed, and returns one
// result per entry.
func (m *Manager) Vec(lockerID uint32, entries []VecEntry) []VecResult {
	results := make([]VecResult, len(entries))
	for i, e := range entries {
		switch e.Op {
		case OpGet:
			lk, err := m.Get(lockerID, e.Key, e.Mode, 0, 0)
			results[i] = VecResult{lk, err}
		case OpGetTimeout:
			lk, err := m.Get(lockerID, e.Key, e.Mode, e.Timeout, 0)
			results[i] = VecResult{lk, err}
		case OpPut:
			results[i] = VecResult{nil, m.Put(e.Lock)}
		case OpPutAll:
			results[i] = VecResult{nil, m.putAll(lockerID, false)}
		case OpPutRead:
			results[i] = VecResult{nil, m.putAll(lockerID, true)}
		case OpUpgradeWrite:
			results[i] = VecResult{nil, m.upgradeWrite(lockerID)}
		case OpPutObj:
			results[i] = VecResult{nil, m.putObj(e.Key)}
		case OpInherit:
			results[i] = VecResult{nil, m.inherit(lockerID, e.Parent)}
		case OpTimeout:
			results[i] = VecResult{nil, m.timeoutNow(lockerID)}
		case OpTrade:
			results[i] = VecResult{nil, m.trade(e.Lock, lockerID)}
		default:
			results[i] = VecResult{nil, errs.Wrap(errs.ErrInvalidArgument, "lock: unknown vec op %d", e.Op)}
		}
	}

	if aborted, found := m.RunDeadlockDetection(); found {
		log.Debugf("lock: deadlock detector aborted locker %d", aborted)
	}
	return results
}

// putAll implements PUT_ALL / PUT_READ: release every (or every
// read-class) lock locker holds. The locker is marked DELETED for the
// duration so concurrent traversals (promote, deadlock detection) abort
// early on it, per spec.md §4.3.6.
func (m *Manager) putAll(lockerID uint32, readOnly bool) error {
	m.mu.Lock()
	locker, ok := m.lockers[lockerID]
	if !ok {
		m.mu.Unlock()
		return errs.Wrap(errs.ErrInvalidArgument, "lock: unknown locker %d", lockerID)
	}
	locker.setFlag(lockerDeleted)
	var toRelease []*Lock
	for _, lk := range locker.held {
		if readOnly && lk.Mode().isWrite() {
			continue
		}
		toRelease = append(toRelease, lk)
	}
	m.mu.Unlock()

	for _, lk := range toRelease {
		if err := m.Put(lk); err != nil {
			return err
		}
	}

	m.mu.Lock()
	locker.clearFlag(lockerDeleted)
	m.mu.Unlock()
	return nil
}

// upgradeWrite implements UPGRADE_WRITE: among locker's DIRTY-reader
// locks on an object it marked dirty (WWRITE), re-acquire WRITE mode.
func (m *Manager) upgradeWrite(lockerID uint32) error {
	m.mu.Lock()
	locker, ok := m.lockers[lockerID]
	if !ok {
		m.mu.Unlock()
		return errs.Wrap(errs.ErrInvalidArgument, "lock: unknown locker %d", lockerID)
	}
	var targets []*Lock
	for _, lk := range locker.held {
		if lk.Mode() == ModeWWrite {
			targets = append(targets, lk)
		}
	}
	m.mu.Unlock()

	for _, lk := range targets {
		if err := m.Downgrade(lk, ModeWrite); err != nil {
			return err
		}
	}
	return nil
}

// putObj implements PUT_OBJ: release every lock, held or waiting, on the
// given object.
func (m *Manager) putObj(key string) error {
	m.mu.Lock()
	obj, ok := m.objects[key]
	if !ok {
		m.mu.Unlock()
		return nil
	}
	all := append(append([]*Lock{}, obj.holders...), obj.waiters...)
	m.mu.Unlock()

	for _, lk := range all {
		lk.mu.Lock()
		lk.ref = 1 // force the next Put to actually release
		lk.mu.Unlock()
		if err := m.Put(lk); err != nil {
			return err
		}
	}
	return nil
}

// inherit implements INHERIT: merge child's locks into parent, spec.md
// §4.3.6. Matching locks (same object, same mode) are merged by summing
// refcounts; others are re-linked onto the parent.
func (m *Manager) inherit(childID, parentID uint32) error {
	m.mu.Lock()
	child, ok := m.lockers[childID]
	if !ok {
		m.mu.Unlock()
		return errs.Wrap(errs.ErrInvalidArgument, "lock: unknown locker %d", childID)
	}
	parent := m.resolveLocker(parentID)
	child.setFlag(lockerDeleted)

	held := append([]*Lock{}, child.held...)
	var toPromote []*object
	for _, lk := range held {
		lk.mu.Lock()
		obj := lk.obj
		mode := lk.mode
		lk.mu.Unlock()

		if existing := obj.findHolder(parentID); existing != nil {
			existing.mu.Lock()
			sameMode := existing.mode == mode
			existing.mu.Unlock()
			if sameMode {
				lk.mu.Lock()
				existing.mu.Lock()
				existing.ref += lk.ref
				existing.mu.Unlock()
				lk.mu.Unlock()
				obj.removeHolder(lk)
				child.removeHeld(lk)
				child.nlocks--
				if mode.isWrite() {
					child.nwrites--
				}
				continue
			}
		}

		lk.mu.Lock()
		lk.locker = parent
		lk.mu.Unlock()
		child.removeHeld(lk)
		parent.addHeld(lk)
		child.nlocks--
		parent.nlocks++
		if mode.isWrite() {
			child.nwrites--
			parent.nwrites++
		}
		toPromote = append(toPromote, obj)
	}

	var granted []*Lock
	for _, obj := range toPromote {
		granted = append(granted, obj.promote(m)...)
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

// timeoutNow implements TIMEOUT: expire locker immediately, forcing any
// lock it is currently waiting on to wake with EXPIRED.
func (m *Manager) timeoutNow(lockerID uint32) error {
	m.mu.Lock()
	locker, ok := m.lockers[lockerID]
	if !ok {
		m.mu.Unlock()
		return errs.Wrap(errs.ErrInvalidArgument, "lock: unknown locker %d", lockerID)
	}
	now := m.clock.Now()
	locker.txExpire = now
	locker.lkExpire = now

	var woken []*Lock
	for _, obj := range m.objects {
		for _, w := range obj.waiters {
			if w.locker.id() != lockerID {
				continue
			}
			w.mu.Lock()
			w.status = StatusExpired
			w.mu.Unlock()
			woken = append(woken, w)
		}
		obj.waiters = removeLockByLockerWaiting(obj.waiters, lockerID)
	}
	m.mu.Unlock()

	for _, w := range woken {
		select {
		case w.wake <- struct{}{}:
		default:
		}
	}
	return nil
}

// trade implements TRADE: reassign a granted lock's holder to a
// different locker, used for handle-lock reassignment.
func (m *Manager) trade(lk *Lock, newLockerID uint32) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	newLocker := m.resolveLocker(newLockerID)
	lk.mu.Lock()
	oldLocker := lk.locker
	mode := lk.mode
	lk.locker = newLocker
	lk.mu.Unlock()

	oldLocker.removeHeld(lk)
	oldLocker.nlocks--
	if mode.isWrite() {
		oldLocker.nwrites--
	}
	newLocker.addHeld(lk)
	newLocker.nlocks++
	if mode.isWrite() {
		newLocker.nwrites++
	}
	return nil
}
