package recovery

import (
	"github.com/dbforge/bdbcore/logrec"
	"github.com/dbforge/bdbcore/txn"
)

// checkpointSeen is one checkpoint record found during a pass-0 scan,
// kept alongside the LSN it was logged at and its own chain fields.
type checkpointSeen struct {
	lsn txn.LSN
	ckp txn.Checkpoint
}

// scanCheckpoints walks the whole log forward once, collecting every
// checkpoint record found. Pass 0 is the only place this full scan
// happens; it is cheap relative to passes 1-3 because it only inspects
// checkpoint records, not every record's payload.
func (d *Driver) scanCheckpoints() ([]checkpointSeen, error) {
	var found []checkpointSeen
	lsn, rec, err := d.Cursor.First()
	if err != nil {
		return nil, nil // empty log
	}
	for {
		if ckp, ok := rec.(*logrec.CheckpointRecord); ok {
			found = append(found, checkpointSeen{lsn: lsn, ckp: ckp.Ckp})
		}
		lsn, rec, err = d.Cursor.Next()
		if err != nil {
			break
		}
	}
	return found, nil
}

// findOpenLSN implements spec.md §4.4 pass 0: locate the earliest useful
// LSN to start the OPENFILES pass from.
func (d *Driver) findOpenLSN(opts Options, firstLSN txn.LSN) (txn.LSN, error) {
	open := firstLSN

	if opts.Catastrophic {
		return open, nil
	}

	checkpoints, err := d.scanCheckpoints()
	if err != nil {
		return txn.LSN{}, err
	}
	if len(checkpoints) == 0 {
		return open, nil
	}

	// Default override: the latest checkpoint's ckp_lsn.
	latest := checkpoints[len(checkpoints)-1]
	open = latest.ckp.CkpLSN

	switch {
	case !opts.TimeTarget.IsZero():
		// Earliest checkpoint whose ckp_lsn >= firstLSN and whose
		// timestamp is at or before the target, overriding the above if
		// it is earlier.
		for _, c := range checkpoints {
			if firstLSN.Less(c.ckp.CkpLSN) || firstLSN == c.ckp.CkpLSN {
				if !c.ckp.Timestamp.Before(opts.TimeTarget) && c.ckp.Timestamp != opts.TimeTarget {
					continue
				}
				if c.ckp.CkpLSN.Less(open) {
					open = c.ckp.CkpLSN
				}
			}
		}
	case !opts.MaxLSN.IsZero():
		// Walk the checkpoint chain backward to the latest checkpoint at
		// or before MaxLSN.
		var best *checkpointSeen
		for i := range checkpoints {
			c := &checkpoints[i]
			if c.lsn.Less(opts.MaxLSN) || c.lsn == opts.MaxLSN {
				if best == nil || best.lsn.Less(c.lsn) {
					best = c
				}
			}
		}
		if best != nil {
			open = best.ckp.CkpLSN
		}
	}

	// Reposition the cursor for pass 1; scanCheckpoints left it at the log
	// tail (or past it, having hit an error on the final Next()).
	if _, err := d.Cursor.Set(open); err != nil {
		return txn.LSN{}, err
	}
	return open, nil
}
