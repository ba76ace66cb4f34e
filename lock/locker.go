package lock

import (
	"time"

	"github.com/dbforge/bdbcore/clock"
)

// lockerFlag mirrors the DB_LOCKER flag bits spec.md §3.2 names.
type lockerFlag uint32

const (
	lockerDeleted lockerFlag = 1 << iota
	lockerDirty
	lockerTimeout
	lockerInAbort
)

// Locker is the manager's DB_LOCKER: per-logical-transaction state.
type Locker struct {
	lockerID uint32
	parentID uint32 // 0 if none
	masterID uint32 // 0 if none; the root of a parent/child family

	children map[uint32]struct{}

	flags lockerFlag

	held []*Lock

	nlocks  int
	nwrites int

	lockTimeout time.Duration
	txExpire    clock.Time
	lkExpire    clock.Time
}

func newLocker(id, parentID uint32) *Locker {
	l := &Locker{
		lockerID: id,
		parentID: parentID,
		children: make(map[uint32]struct{}),
	}
	return l
}

func (l *Locker) id() uint32 { return l.lockerID }

func (l *Locker) hasFlag(f lockerFlag) bool { return l.flags&f != 0 }
func (l *Locker) setFlag(f lockerFlag)      { l.flags |= f }
func (l *Locker) clearFlag(f lockerFlag)    { l.flags &^= f }

func (l *Locker) addHeld(lk *Lock) {
	l.held = append(l.held, lk)
}

func (l *Locker) removeHeld(lk *Lock) {
	l.held = removeLock(l.held, lk)
}
