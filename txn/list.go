package txn

// RecState is the per-transaction state a recovery pass tracks for a
// transaction it has seen in the log, distinct from the live Manager's
// State: recovery never cares about PREPARED, only whether it eventually
// saw a commit or abort record for the id.
type RecState uint8

const (
	RecSeen RecState = iota
	RecCommitted
	RecAborted
)

// entry is one transaction-list slot, spec.md §3.5.
type entry struct {
	state    RecState
	beginLSN LSN
	lastLSN  LSN
}

// List is the recovery-time in-memory transaction list spec.md §3.5
// describes: the highest transaction id seen, the checkpoint LSN that
// bounded the scan, the highest LSN seen, and per-txn recovery state. Pass
// 1 (OPENFILES) populates it with every begin-transaction record found;
// pass 2 (BACKWARD_ROLL) consults it to decide whether a given record's
// transaction needs undoing.
type List struct {
	MaxID  uint32
	CkpLSN LSN
	MaxLSN LSN

	txns map[uint32]*entry
}

// NewList returns an empty transaction list anchored at ckpLSN, the
// earliest LSN recovery decided it needs (pass 0's output).
func NewList(ckpLSN LSN) *List {
	return &List{CkpLSN: ckpLSN, txns: make(map[uint32]*entry)}
}

// Observe records that the log contains a record logged by txnID at lsn,
// extending MaxID/MaxLSN and creating a RecSeen slot if this is the first
// record seen for txnID.
func (l *List) Observe(txnID uint32, lsn LSN) {
	if txnID > l.MaxID {
		l.MaxID = txnID
	}
	if l.MaxLSN.Less(lsn) {
		l.MaxLSN = lsn
	}
	e, ok := l.txns[txnID]
	if !ok {
		e = &entry{state: RecSeen, beginLSN: lsn}
		l.txns[txnID] = e
	}
	e.lastLSN = lsn
}

// MarkCommitted records that txnID's commit record was found at lsn.
// Recovery-to-time callers that discover a commit after the target
// timestamp T should instead call MarkAborted, so the transaction is
// undone on pass 2 same as a genuinely uncommitted one.
func (l *List) MarkCommitted(txnID uint32, lsn LSN) {
	l.Observe(txnID, lsn)
	l.txns[txnID].state = RecCommitted
}

// MarkAborted records that txnID's abort record was found, or that it
// should be treated as uncommitted for recovery-to-time purposes.
func (l *List) MarkAborted(txnID uint32, lsn LSN) {
	l.Observe(txnID, lsn)
	l.txns[txnID].state = RecAborted
}

// IsCommitted reports whether txnID is known to have committed. An id
// recovery never observed at all (e.g. one that began and logged nothing
// before the crash) is not committed.
func (l *List) IsCommitted(txnID uint32) bool {
	e, ok := l.txns[txnID]
	return ok && e.state == RecCommitted
}

// NeedsUndo reports whether txnID's operations must be rolled back on
// pass 2: true for a transaction that has been observed and is not known
// committed, false for an id never observed.
func (l *List) NeedsUndo(txnID uint32) bool {
	e, ok := l.txns[txnID]
	if !ok {
		return false
	}
	return e.state != RecCommitted
}

// MaxCommittedLSN returns the highest LSN belonging to a committed
// transaction, used as pass 3's stop_lsn for targeted (recovery-to-time or
// recovery-to-LSN) recovery.
func (l *List) MaxCommittedLSN() LSN {
	var max LSN
	for _, e := range l.txns {
		if e.state == RecCommitted && max.Less(e.lastLSN) {
			max = e.lastLSN
		}
	}
	return max
}
