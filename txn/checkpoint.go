package txn

import "github.com/dbforge/bdbcore/clock"

// Checkpoint is the checkpoint record spec.md §3.5 describes: the earliest
// LSN still needed for recovery, the LSN of the previous checkpoint (for
// walking the checkpoint chain backward when recovering to a max-LSN), a
// wall-clock timestamp (for recovering to a point in time), and the
// highest transaction id alive when the checkpoint was taken.
type Checkpoint struct {
	LSN       LSN // the LSN this checkpoint record is itself logged at
	CkpLSN    LSN // earliest LSN still needed
	LastCkp   LSN // previous checkpoint's LSN, for chain walks
	Timestamp clock.Time
	MaxTxnID  uint32
}
