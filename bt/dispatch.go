package bt

import "github.com/dbforge/bdbcore/logrec"

// RegisterDecoders adds every bt record type's decoder to codec, so a
// single codec shared with logrec's generic types (and qam's) can decode
// a log containing all of them.
func RegisterDecoders(codec *logrec.Codec) {
	codec.Register(RecSplit, DecodeSplitRecord)
	codec.Register(RecRsplit, DecodeRsplitRecord)
	codec.Register(RecAdj, DecodeAdjRecord)
	codec.Register(RecCadjust, DecodeCadjustRecord)
	codec.Register(RecCdel, DecodeCdelRecord)
	codec.Register(RecRepl, DecodeReplRecord)
	codec.Register(RecRoot, DecodeRootRecord)
	codec.Register(RecCuradj, DecodeCuradjRecord)
	codec.Register(RecRcuradj, DecodeRcuradjRecord)
	codec.Register(RecRelink, DecodeRelinkRecord)
}

// RegisterHandlers wires every bt recovery handler into table, per
// spec.md §4.5's dispatch table.
func RegisterHandlers(table *logrec.Table) {
	table.Register(RecSplit, SplitHandler)
	table.Register(RecRsplit, RsplitHandler)
	table.Register(RecAdj, AdjHandler)
	table.Register(RecCadjust, CadjustHandler)
	table.Register(RecCdel, CdelHandler)
	table.Register(RecRepl, ReplHandler)
	table.Register(RecRoot, RootHandler)
	table.Register(RecCuradj, CuradjHandler)
	table.Register(RecRcuradj, RcuradjHandler)
	table.Register(RecRelink, RelinkHandler)
}
