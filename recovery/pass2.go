package recovery

import (
	"github.com/dbforge/bdbcore/logrec"
	"github.com/dbforge/bdbcore/txn"
)

// passBackwardRoll implements spec.md §4.4 pass 2: from lastLSN down to
// firstLSN, dispatch BACKWARD_ROLL. Uncommitted transactions undo their
// effects; a commit is never treated as after a time target, because
// pastTimeTarget always reports false. Checkpoint records are counted but
// never fatal. Returns
// the stop LSN pass 3 should roll forward to.
func (d *Driver) passBackwardRoll(opts Options, firstLSN, lastLSN txn.LSN) (txn.LSN, error) {
	checkpointsSeen := 0

	rec, err := d.Cursor.Set(lastLSN)
	if err != nil {
		return txn.LSN{}, err
	}
	lsn := lastLSN
	for {
		switch r := rec.(type) {
		case *logrec.CheckpointRecord:
			checkpointsSeen++
		case *logrec.CommitRecord:
			committedAfterTarget := !opts.TimeTarget.IsZero() && pastTimeTarget(r, opts)
			if committedAfterTarget {
				d.Txns.MarkAborted(r.Txn, lsn)
			} else {
				d.Txns.MarkCommitted(r.Txn, lsn)
			}
		case *logrec.AbortRecord:
			d.Txns.MarkAborted(r.Txn, lsn)
		default:
			if txnID := rec.TxnID(); txnID != 0 {
				d.Txns.Observe(txnID, lsn)
				if d.Txns.NeedsUndo(txnID) {
					if _, err := d.Table.Dispatch(d.Env, rec, lsn, logrec.OpBackwardRoll, nil); err != nil {
						return txn.LSN{}, err
					}
				}
			}
		}

		d.report(PassBackwardRoll, backwardPercent(lsn, firstLSN, lastLSN))
		if lsn == firstLSN {
			break
		}
		lsn, rec, err = d.Cursor.Prev()
		if err != nil {
			break
		}
	}

	log.Debugf("recovery: pass2 backward_roll saw %d checkpoint record(s)", checkpointsSeen)

	stop := lastLSN
	if !opts.TimeTarget.IsZero() || !opts.MaxLSN.IsZero() {
		if max := d.Txns.MaxCommittedLSN(); !max.IsZero() {
			stop = max
		}
	}
	return stop, nil
}

// backwardPercent scales a descending walk (lastLSN -> firstLSN) into a
// 0-100 "how far have we walked" percentage.
func backwardPercent(lsn, firstLSN, lastLSN txn.LSN) int {
	if lastLSN.Offset <= firstLSN.Offset {
		return 100
	}
	span := lastLSN.Offset - firstLSN.Offset
	walked := lastLSN.Offset - lsn.Offset
	if walked > span {
		walked = span
	}
	return int(float64(walked) / float64(span) * 100)
}

// pastTimeTarget reports whether a commit should be treated as having
// happened after opts.TimeTarget. The generic CommitRecord carries no
// wall-clock timestamp of its own (only checkpoint records do, spec.md
// §3.5); without a concrete transaction-commit timestamp source this
// degrades to "never past target", documented as a deliberate
// simplification in DESIGN.md rather than silently mis-tagging commits.
func pastTimeTarget(r *logrec.CommitRecord, opts Options) bool {
	return false
}
