package logrec

import (
	"sync"

	"github.com/dbforge/bdbcore/errs"
	"github.com/dbforge/bdbcore/logging"
	"github.com/dbforge/bdbcore/txn"
)

var log = logging.Named("logrec")

type slot struct {
	lsn  txn.LSN
	typ  RecordType
	rec  Record
}

// MemLog is an in-memory Cursor implementation, grounded on the teacher's
// RedoLogManager's append-then-flush loop (redo_log_manager.go) but
// simplified to memory only: spec.md §6.3 explicitly treats log files as
// "external, not detailed here", so this is a reference/test
// implementation rather than a durability layer.
type MemLog struct {
	mu       sync.Mutex
	codec    *Codec
	slots    []slot
	nextOff  uint32
	fileNum  uint32
	flushed  uint32 // highest offset known durable
	pos      int    // cursor position into slots, -1 before First
}

// NewMemLog returns an empty log using codec to decode appended records.
func NewMemLog(codec *Codec) *MemLog {
	return &MemLog{codec: codec, fileNum: 1, pos: -1}
}

// Append assigns the next LSN to rec's encoded form, decodes it back
// through codec (so the stored Record is exactly what a real reader would
// see), and appends it. It returns the assigned LSN.
func (l *MemLog) Append(typ RecordType, payload []byte) (txn.LSN, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.nextOff++
	lsn := txn.LSN{File: l.fileNum, Offset: l.nextOff}

	rec, err := l.codec.Decode(typ, payload)
	if err != nil {
		return txn.LSN{}, err
	}
	if setter, ok := rec.(interface{ setLSN(txn.LSN) }); ok {
		setter.setLSN(lsn)
	}
	l.slots = append(l.slots, slot{lsn: lsn, typ: typ, rec: rec})
	log.Debugf("logrec: appended type=%d at %s", typ, lsn)
	return lsn, nil
}

// AppendRecord is a convenience wrapper: encode rec, then Append it.
func (l *MemLog) AppendRecord(rec Record) (txn.LSN, error) {
	payload, err := rec.Encode()
	if err != nil {
		return txn.LSN{}, err
	}
	return l.Append(rec.Type(), payload)
}

func (l *MemLog) First() (txn.LSN, Record, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if len(l.slots) == 0 {
		return txn.LSN{}, nil, errs.Wrap(errs.ErrNotFound, "logrec: log is empty")
	}
	l.pos = 0
	return l.slots[0].lsn, l.slots[0].rec, nil
}

func (l *MemLog) Last() (txn.LSN, Record, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if len(l.slots) == 0 {
		return txn.LSN{}, nil, errs.Wrap(errs.ErrNotFound, "logrec: log is empty")
	}
	l.pos = len(l.slots) - 1
	return l.slots[l.pos].lsn, l.slots[l.pos].rec, nil
}

func (l *MemLog) Next() (txn.LSN, Record, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.pos+1 >= len(l.slots) {
		return txn.LSN{}, nil, errs.Wrap(errs.ErrNotFound, "logrec: no next record")
	}
	l.pos++
	return l.slots[l.pos].lsn, l.slots[l.pos].rec, nil
}

func (l *MemLog) Prev() (txn.LSN, Record, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.pos <= 0 {
		return txn.LSN{}, nil, errs.Wrap(errs.ErrNotFound, "logrec: no previous record")
	}
	l.pos--
	return l.slots[l.pos].lsn, l.slots[l.pos].rec, nil
}

func (l *MemLog) Set(lsn txn.LSN) (Record, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	for i, s := range l.slots {
		if s.lsn == lsn {
			l.pos = i
			return s.rec, nil
		}
	}
	return nil, errs.Wrap(errs.ErrNotFound, "logrec: no record at %s", lsn)
}

// Flush marks every slot up to lsn durable. MemLog has nothing to
// synchronize to disk; this only advances the bookkeeping watermark so
// WAL-ordering assertions in tests can check it.
func (l *MemLog) Flush(lsn txn.LSN) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if lsn.Offset > l.flushed {
		l.flushed = lsn.Offset
	}
	return nil
}

// Flushed reports the highest offset Flush has been called with.
func (l *MemLog) Flushed() uint32 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.flushed
}

// VTruncate destructively discards every record after lsn, as recovery's
// post-pass cleanup does for recovery-to-time / recovery-to-LSN.
func (l *MemLog) VTruncate(lsn, ckpLSN, truncLSN txn.LSN) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	cut := len(l.slots)
	for i, s := range l.slots {
		if lsn.Less(s.lsn) {
			cut = i
			break
		}
	}
	l.slots = l.slots[:cut]
	if l.pos >= cut {
		l.pos = cut - 1
	}
	return nil
}
