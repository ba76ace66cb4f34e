package logrec

import "github.com/dbforge/bdbcore/errs"

// Decoder turns a record's encoded payload back into a Record. Each
// subsystem (this package, bt, qam) registers one decoder per RecordType
// it owns.
type Decoder func(data []byte) (Record, error)

// Codec maps RecordType to the Decoder that understands it. A single
// Codec instance is shared by every Cursor implementation so that bt/qam
// record types decode the same way recovery sees them.
type Codec struct {
	decoders map[RecordType]Decoder
}

// NewCodec returns a Codec pre-registered with the generic record types
// this package defines.
func NewCodec() *Codec {
	c := &Codec{decoders: make(map[RecordType]Decoder)}
	c.Register(RecBegin, DecodeBeginRecord)
	c.Register(RecCommit, DecodeCommitRecord)
	c.Register(RecAbort, DecodeAbortRecord)
	c.Register(RecCheckpoint, DecodeCheckpointRecord)
	return c
}

// Register adds or replaces the decoder for t.
func (c *Codec) Register(t RecordType, d Decoder) {
	c.decoders[t] = d
}

// Decode looks up t's decoder and applies it to data.
func (c *Codec) Decode(t RecordType, data []byte) (Record, error) {
	d, ok := c.decoders[t]
	if !ok {
		return nil, errs.Wrap(errs.ErrLogCorrupt, "logrec: no decoder registered for record type %d", t)
	}
	return d(data)
}
