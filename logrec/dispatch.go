package logrec

import "github.com/dbforge/bdbcore/txn"

// Handler is the shape every B-tree/queue recovery handler implements,
// spec.md §4.5: decode is already done by the time Handler runs (rec is
// the decoded Record); Handler applies the record's effect (or undoes it)
// against env, and reports the record's prev_lsn so the driver can
// continue walking the transaction's chain.
//
// env is left as an opaque interface{} here so this package does not need
// to import the recovery/bt packages that define what "env" actually is;
// concrete handlers type-assert it to whatever environment type they need.
type Handler func(env interface{}, rec Record, lsn txn.LSN, op Op, info interface{}) (prevLSN txn.LSN, err error)

// Table is a typed dispatch table, map[RecordType]Handler, per DESIGN
// NOTES' direction to keep dispatch table-driven and op an enum rather
// than a chain of type switches.
type Table struct {
	handlers map[RecordType]Handler
}

// NewTable returns an empty dispatch table.
func NewTable() *Table {
	return &Table{handlers: make(map[RecordType]Handler)}
}

// Register binds t to h, overwriting any previous handler for t.
func (t *Table) Register(rt RecordType, h Handler) {
	t.handlers[rt] = h
}

// Dispatch finds rec's registered handler and invokes it. If no handler is
// registered the record is silently skipped (unknown record types are
// expected for forward-compatible logs written by a newer version).
func (t *Table) Dispatch(env interface{}, rec Record, lsn txn.LSN, op Op, info interface{}) (txn.LSN, error) {
	h, ok := t.handlers[rec.Type()]
	if !ok {
		return rec.PrevLSN(), nil
	}
	return h(env, rec, lsn, op, info)
}
