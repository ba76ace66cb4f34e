package lock

// object is the manager's DB_LOCKOBJ: a lockable resource identified by
// an opaque key, with separate holders and waiters lists. Small keys are
// stored inline (a Go string already does this; no shalloc indirection is
// needed in a pure-Go arena-free manager).
type object struct {
	key string

	holders []*Lock
	waiters []*Lock
}

func newObject(key string) *object {
	return &object{key: key}
}

func (o *object) empty() bool {
	return len(o.holders) == 0 && len(o.waiters) == 0
}

// findHolder returns locker's existing held lock on this object, if any.
func (o *object) findHolder(lockerID uint32) *Lock {
	for _, l := range o.holders {
		if l.locker.id() == lockerID {
			return l
		}
	}
	return nil
}

func (o *object) removeHolder(l *Lock) {
	o.holders = removeLock(o.holders, l)
}

func (o *object) removeWaiter(l *Lock) {
	o.waiters = removeLock(o.waiters, l)
}

func removeLock(list []*Lock, target *Lock) []*Lock {
	out := list[:0]
	for _, l := range list {
		if l != target {
			out = append(out, l)
		}
	}
	return out
}

// conflictsWithHolders reports the first holder that conflicts with
// (locker, mode) under the identity/ancestor exemption rules of spec.md
// §4.3.3 step 4: a holder is ignored if it is the same locker or an
// ancestor of it.
func (o *object) conflictsWithHolders(m *Manager, lockerID uint32, mode Mode) *Lock {
	for _, h := range o.holders {
		if h.locker.id() == lockerID || m.isAncestor(h.locker.id(), lockerID) {
			continue
		}
		if m.conflicts.conflicts(h.mode, mode) {
			return h
		}
	}
	return nil
}

// dirtyReaderException implements spec.md §4.3.3 step 4's DIRTY
// exception: a DIRTY request may be granted despite a non-empty waiter
// list as long as every current holder is READ or WWRITE, unless the
// waiter list's head is a same-identity WRITE upgrade (in which case the
// DIRTY reader is enqueued second rather than granted).
func (o *object) dirtyReaderException(lockerID uint32) (grant bool, second bool) {
	for _, h := range o.holders {
		if h.mode != ModeRead && h.mode != ModeWWrite {
			return false, false
		}
	}
	if len(o.waiters) > 0 {
		head := o.waiters[0]
		if head.mode == ModeWrite && o.findHolder(head.locker.id()) != nil {
			return false, true
		}
	}
	return true, false
}

// promote walks the waiters list in FIFO order and grants every waiter
// that is now compatible with the (possibly changed) holders set, per
// spec.md §4.3.4. It returns the newly granted locks so the caller can
// wake them after releasing the manager mutex.
func (o *object) promote(m *Manager) []*Lock {
	var granted []*Lock
	remaining := o.waiters[:0]
	for _, w := range o.waiters {
		blocked := false
		for _, h := range o.holders {
			if h.locker.id() == w.locker.id() || m.isAncestor(h.locker.id(), w.locker.id()) {
				continue
			}
			if m.conflicts.conflicts(h.mode, w.mode) {
				blocked = true
				break
			}
		}
		if blocked {
			remaining = append(remaining, w)
			continue
		}
		w.mu.Lock()
		w.status = StatusPending
		w.mu.Unlock()
		o.holders = append(o.holders, w)
		granted = append(granted, w)
	}
	o.waiters = remaining
	return granted
}
