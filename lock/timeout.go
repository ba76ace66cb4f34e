package lock

import (
	"time"

	"github.com/dbforge/bdbcore/clock"
	"github.com/dbforge/bdbcore/errs"
)

// TimeoutOp selects which timeout lock_set_timeout adjusts, spec.md
// §4.3.7.
type TimeoutOp int

const (
	SetTxnTimeout TimeoutOp = iota
	SetLockTimeout
	SetTxnNow
)

// SetTimeout implements lock_set_timeout.
func (m *Manager) SetTimeout(lockerID uint32, d time.Duration, op TimeoutOp) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	locker, ok := m.lockers[lockerID]
	if !ok {
		return errs.Wrap(errs.ErrInvalidArgument, "lock: unknown locker %d", lockerID)
	}
	switch op {
	case SetTxnTimeout:
		if d == 0 {
			locker.txExpire = clock.Time{}
		} else {
			locker.txExpire = m.clock.Now().Add(d)
		}
	case SetLockTimeout:
		locker.lockTimeout = d
		locker.setFlag(lockerTimeout)
	case SetTxnNow:
		now := m.clock.Now()
		locker.txExpire = now
		locker.lkExpire = now
	default:
		return errs.Wrap(errs.ErrInvalidArgument, "lock: unknown timeout op %d", op)
	}
	return nil
}

// InheritTimeout implements lock_inherit_timeout: copy the parent's
// tx_expire (and lock timeout, if the parent set one) to child.
func (m *Manager) InheritTimeout(parentID, childID uint32) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	parent, ok := m.lockers[parentID]
	if !ok {
		return errs.Wrap(errs.ErrInvalidArgument, "lock: unknown locker %d", parentID)
	}
	child, ok := m.lockers[childID]
	if !ok {
		return errs.Wrap(errs.ErrInvalidArgument, "lock: unknown locker %d", childID)
	}
	if parent.txExpire.IsZero() && parent.lockTimeout == 0 {
		return errs.Wrap(errs.ErrInvalidArgument, "lock: locker %d has no usable timeout to inherit", parentID)
	}
	child.txExpire = parent.txExpire
	if parent.hasFlag(lockerTimeout) {
		child.lockTimeout = parent.lockTimeout
		child.setFlag(lockerTimeout)
	}
	return nil
}

// Expires computes tv = max(now, tv) + timeout with microsecond carry,
// spec.md §4.3.7's lock_expires.
func Expires(now, tv clock.Time, timeout time.Duration) clock.Time {
	base := now
	if now.Before(tv) {
		base = tv
	}
	return base.Add(timeout)
}

// Expired is lock_expired: compares now against tv, treating a zero tv
// as "no deadline" (never expired).
func Expired(now, tv clock.Time) bool {
	if tv.IsZero() {
		return false
	}
	return tv.Before(now) || tv == now
}
