// Package recovery implements the three-pass ARIES-style recovery driver
// of spec.md §4.4: OPENFILES, BACKWARD_ROLL, FORWARD_ROLL over a
// logrec.Cursor, generalized from the teacher's single-pass
// RedoLogManager.Recover into the pass-structured driver the spec
// requires.
package recovery

import (
	"github.com/dbforge/bdbcore/clock"
	"github.com/dbforge/bdbcore/errs"
	"github.com/dbforge/bdbcore/logging"
	"github.com/dbforge/bdbcore/logrec"
	"github.com/dbforge/bdbcore/txn"
)

var log = logging.Named("recovery")

// Pass numbers, used by FeedbackFunc.
const (
	PassOpenFiles = iota
	PassBackwardRoll
	PassForwardRoll
)

// FeedbackFunc reports approximate progress within a pass, spec.md §4.4:
// "the driver computes approximate progress by LSN distance and calls the
// application's feedback hook with percentages 0-33 / 34-66 / 67-100".
type FeedbackFunc func(pass int, percent int)

// FileNamer is implemented by record types (bt's/qam's file-open/rename
// records) that carry a file id and the name it should be registered
// under during pass 1. Generic records (begin/commit/abort/checkpoint) do
// not implement it and are simply skipped by the file-registry builder.
type FileNamer interface {
	FileID() uint32
	FileName() string
}

// Options controls which portion of the log recovery processes and to
// what target, spec.md §4.4's pass 0 bullets.
type Options struct {
	// Catastrophic disables the latest-checkpoint shortcut, forcing pass 0
	// to start from the very first LSN in the log.
	Catastrophic bool
	// TimeTarget, if non-zero, starts recovery from the latest checkpoint
	// whose timestamp is at or before this wall-clock time. Commit records
	// carry no timestamp, so no committed transaction is treated as
	// uncommitted because of it (see pastTimeTarget).
	TimeTarget clock.Time
	// MaxLSN, if non-zero, recovers only up to this LSN by walking the
	// checkpoint chain backward to the latest checkpoint at or before it.
	MaxLSN txn.LSN
}

// Driver runs the recovery procedure against a log cursor and a dispatch
// table of record handlers. The hooks are optional collaborators the
// concrete storage engine wires in; a nil hook is simply skipped.
type Driver struct {
	Cursor   logrec.Cursor
	Table    *logrec.Table
	Env      interface{} // opaque, passed through to every Handler call
	Feedback FeedbackFunc

	// ProcessLimboPages handles pages allocated but not yet on the free
	// list due to a partial operation interrupted by the crash.
	ProcessLimboPages func() error
	// TakeCheckpoint forces dirty pages out and writes a fresh checkpoint
	// once recovery completes.
	TakeCheckpoint func() error
	// CloseRecoveryFiles closes any file handles opened purely to perform
	// recovery (as opposed to ones the application itself had open).
	CloseRecoveryFiles func() error

	Files map[uint32]string
	Txns  *txn.List
}

// NewDriver wires cursor and table into a ready-to-run Driver.
func NewDriver(cursor logrec.Cursor, table *logrec.Table) *Driver {
	return &Driver{
		Cursor: cursor,
		Table:  table,
		Files:  make(map[uint32]string),
	}
}

// Run executes the full three-pass procedure described in spec.md §4.4
// and the post-pass cleanup (limbo pages, log truncation, checkpoint,
// closing recovery-only files).
func (d *Driver) Run(opts Options) error {
	firstLSN, lastLSN, err := d.logBounds()
	if err != nil {
		return err
	}
	if firstLSN == lastLSN && firstLSN.IsZero() {
		log.Debugf("recovery: empty log, nothing to do")
		return nil
	}

	openLSN, err := d.findOpenLSN(opts, firstLSN)
	if err != nil {
		return err
	}

	d.Txns = txn.NewList(openLSN)

	if err := d.passOpenFiles(openLSN, lastLSN); err != nil {
		return errs.Wrap(errs.ErrLogCorrupt, "recovery: pass1 openfiles: %v", err)
	}
	stopLSN, err := d.passBackwardRoll(opts, firstLSN, lastLSN)
	if err != nil {
		return errs.Wrap(errs.ErrLogCorrupt, "recovery: pass2 backward_roll: %v", err)
	}
	if err := d.passForwardRoll(firstLSN, stopLSN); err != nil {
		return errs.Wrap(errs.ErrLogCorrupt, "recovery: pass3 forward_roll: %v", err)
	}

	if d.ProcessLimboPages != nil {
		if err := d.ProcessLimboPages(); err != nil {
			return err
		}
	}
	if !opts.TimeTarget.IsZero() || !opts.MaxLSN.IsZero() {
		if err := d.Cursor.VTruncate(stopLSN, d.Txns.CkpLSN, stopLSN); err != nil {
			return err
		}
	}
	if d.TakeCheckpoint != nil {
		if err := d.TakeCheckpoint(); err != nil {
			return err
		}
	}
	if d.CloseRecoveryFiles != nil {
		if err := d.CloseRecoveryFiles(); err != nil {
			return err
		}
	}
	return nil
}

// logBounds returns the first and last LSN currently in the log.
func (d *Driver) logBounds() (txn.LSN, txn.LSN, error) {
	firstLSN, _, err := d.Cursor.First()
	if err != nil {
		return txn.LSN{}, txn.LSN{}, nil // empty log is not an error
	}
	lastLSN, _, err := d.Cursor.Last()
	if err != nil {
		return txn.LSN{}, txn.LSN{}, err
	}
	return firstLSN, lastLSN, nil
}

// report rescales a pass-local 0-100 percent into the pass's slice of the
// overall 0-100 range spec.md §4.4 specifies: 0-33 for OPENFILES, 34-66
// for BACKWARD_ROLL, 67-100 for FORWARD_ROLL.
func (d *Driver) report(pass, localPercent int) {
	if d.Feedback == nil {
		return
	}
	var lo, hi int
	switch pass {
	case PassOpenFiles:
		lo, hi = 0, 33
	case PassBackwardRoll:
		lo, hi = 34, 66
	case PassForwardRoll:
		lo, hi = 67, 100
	}
	overall := lo + (hi-lo)*localPercent/100
	d.Feedback(pass, overall)
}
