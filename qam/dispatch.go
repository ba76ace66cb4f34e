package qam

import "github.com/dbforge/bdbcore/logrec"

// RegisterDecoders adds qam's record decoders to codec.
func RegisterDecoders(codec *logrec.Codec) {
	codec.Register(RecDelete, DecodeDeleteRecord)
	codec.Register(RecRename, DecodeRenameRecord)
}

// RegisterHandlers wires qam's recovery handlers into table.
func RegisterHandlers(table *logrec.Table) {
	table.Register(RecDelete, DeleteHandler)
	table.Register(RecRename, RenameHandler)
}
