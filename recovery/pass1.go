package recovery

import (
	"github.com/dbforge/bdbcore/logrec"
	"github.com/dbforge/bdbcore/txn"
)

// passOpenFiles implements spec.md §4.4 pass 1: from openLSN forward to
// lastLSN, dispatch every record with OPENFILES, building the in-memory
// file registry and collecting begin-transaction records.
func (d *Driver) passOpenFiles(openLSN, lastLSN txn.LSN) error {
	rec, err := d.Cursor.Set(openLSN)
	if err != nil {
		return err
	}
	lsn := openLSN
	for {
		if namer, ok := rec.(FileNamer); ok {
			d.Files[namer.FileID()] = namer.FileName()
		}
		if begin, ok := rec.(*logrec.BeginRecord); ok {
			d.Txns.Observe(begin.Txn, lsn)
		} else if rec.TxnID() != 0 {
			d.Txns.Observe(rec.TxnID(), lsn)
		}

		if _, err := d.Table.Dispatch(d.Env, rec, lsn, logrec.OpOpenFiles, nil); err != nil {
			return err
		}

		d.report(PassOpenFiles, progressPercent(lsn, openLSN, lastLSN))
		if lsn == lastLSN {
			break
		}
		lsn, rec, err = d.Cursor.Next()
		if err != nil {
			break
		}
	}
	return nil
}

// progressPercent scales lsn's position between start and end into a
// pass-local 0-100 percentage (report maps it into the pass's band),
// using offset distance as a proxy for byte distance (spec.md §4.4's "approximate progress by LSN
// distance").
func progressPercent(lsn, start, end txn.LSN) int {
	if end.Offset <= start.Offset {
		return 100
	}
	span := end.Offset - start.Offset
	done := lsn.Offset - start.Offset
	if done > span {
		done = span
	}
	return int(float64(done) / float64(span) * 100)
}
