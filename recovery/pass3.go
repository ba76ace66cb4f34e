package recovery

import (
	"github.com/dbforge/bdbcore/logrec"
	"github.com/dbforge/bdbcore/txn"
)

// passForwardRoll implements spec.md §4.4 pass 3: from firstLSN to
// stopLSN, dispatch FORWARD_ROLL, redoing every committed transaction's
// operations.
func (d *Driver) passForwardRoll(firstLSN, stopLSN txn.LSN) error {
	rec, err := d.Cursor.Set(firstLSN)
	if err != nil {
		return err
	}
	lsn := firstLSN
	for {
		if stopLSN.Less(lsn) {
			break
		}
		switch rec.(type) {
		case *logrec.CheckpointRecord, *logrec.BeginRecord, *logrec.CommitRecord, *logrec.AbortRecord:
			// no page-level effect to redo
		default:
			if txnID := rec.TxnID(); txnID == 0 || d.Txns.IsCommitted(txnID) {
				if _, err := d.Table.Dispatch(d.Env, rec, lsn, logrec.OpForwardRoll, nil); err != nil {
					return err
				}
			}
		}

		d.report(PassForwardRoll, progressPercent(lsn, firstLSN, stopLSN))
		if lsn == stopLSN {
			break
		}
		lsn, rec, err = d.Cursor.Next()
		if err != nil {
			break
		}
	}
	return nil
}
