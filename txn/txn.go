package txn

import (
	"sync"

	"github.com/dbforge/bdbcore/errs"
	"github.com/dbforge/bdbcore/logging"
)

var log = logging.Named("txn")

// State is a transaction's lifecycle position.
type State uint8

const (
	StateActive State = iota
	StatePrepared
	StateCommitted
	StateAborted
)

func (s State) String() string {
	switch s {
	case StateActive:
		return "active"
	case StatePrepared:
		return "prepared"
	case StateCommitted:
		return "committed"
	case StateAborted:
		return "aborted"
	default:
		return "unknown"
	}
}

// Txn is a single transaction as the recovery driver and the lock manager
// see it: an id, a state, and the LSN chain needed to walk its log records
// backward during undo (LastLSN is updated to each record's own LSN as the
// transaction logs more operations, forming prev_lsn links).
type Txn struct {
	ID         uint32
	ParentID   uint32 // 0 for top-level transactions
	State      State
	IsReadOnly bool
	BeginLSN   LSN
	LastLSN    LSN // most recently logged record; next record's prev_lsn
	CommitLSN  LSN
}

// Manager tracks live transactions and hands out ids, grounded on the
// teacher's TransactionManager.Begin/Commit/Rollback shape but keyed on the
// LSN chain rather than an MVCC read view (out of scope here).
type Manager struct {
	mu     sync.Mutex
	nextID uint32
	active map[uint32]*Txn
}

// NewManager returns an empty transaction manager.
func NewManager() *Manager {
	return &Manager{active: make(map[uint32]*Txn)}
}

// Begin starts a new transaction, optionally nested under parent (pass 0
// for a top-level transaction).
func (m *Manager) Begin(parent uint32, readOnly bool, beginLSN LSN) *Txn {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nextID++
	t := &Txn{
		ID:         m.nextID,
		ParentID:   parent,
		State:      StateActive,
		IsReadOnly: readOnly,
		BeginLSN:   beginLSN,
		LastLSN:    beginLSN,
	}
	m.active[t.ID] = t
	return t
}

// Log records that t has written a new log record at lsn, advancing its
// prev_lsn chain.
func (m *Manager) Log(t *Txn, lsn LSN) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t.LastLSN = lsn
}

// Prepare moves t into the two-phase-commit PREPARED state.
func (m *Manager) Prepare(t *Txn) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if t.State != StateActive {
		return errs.Wrap(errs.ErrInvalidArgument, "txn: %d not active", t.ID)
	}
	t.State = StatePrepared
	return nil
}

// Commit marks t committed at commitLSN and removes it from the active set.
func (m *Manager) Commit(t *Txn, commitLSN LSN) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if t.State != StateActive && t.State != StatePrepared {
		return errs.Wrap(errs.ErrInvalidArgument, "txn: %d not active or prepared", t.ID)
	}
	t.State = StateCommitted
	t.CommitLSN = commitLSN
	t.LastLSN = commitLSN
	delete(m.active, t.ID)
	log.Debugf("txn: %d committed at %s", t.ID, commitLSN)
	return nil
}

// Abort marks t aborted and removes it from the active set. The caller is
// responsible for having undone t's effects via the BACKWARD_ROLL walk or
// bt's undo handlers before calling Abort.
func (m *Manager) Abort(t *Txn) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if t.State != StateActive && t.State != StatePrepared {
		return errs.Wrap(errs.ErrInvalidArgument, "txn: %d not active or prepared", t.ID)
	}
	t.State = StateAborted
	delete(m.active, t.ID)
	log.Debugf("txn: %d aborted", t.ID)
	return nil
}

// Active returns the transaction for id if it is still live.
func (m *Manager) Active(id uint32) (*Txn, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.active[id]
	return t, ok
}

// ActiveIDs returns the ids of every transaction still active, used to seed
// a checkpoint record's transaction-list snapshot.
func (m *Manager) ActiveIDs() []uint32 {
	m.mu.Lock()
	defer m.mu.Unlock()
	ids := make([]uint32, 0, len(m.active))
	for id := range m.active {
		ids = append(ids, id)
	}
	return ids
}
