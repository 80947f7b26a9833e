package request

// OptionFlags is a bitset of the option flags spec.md §3 lists against a
// Request: memory/disk read-write gating, cache-only reads, and the two
// pipeline-stage skips (decompression, the data-loading queue).
type OptionFlags uint16

const (
	OptionDisableMemoryCacheRead OptionFlags = 1 << iota
	OptionDisableMemoryCacheWrite
	OptionDisableDiskCacheRead
	OptionDisableDiskCacheWrite
	OptionReturnCacheDataDontLoad
	OptionSkipDecompression
	OptionSkipDataLoadingQueue
)

func (f OptionFlags) Has(test OptionFlags) bool { return f&test == test }
func (f OptionFlags) Any(test OptionFlags) bool { return f&test != 0 }
func (f OptionFlags) With(add OptionFlags) OptionFlags {
	return f | add
}
func (f OptionFlags) Without(remove OptionFlags) OptionFlags {
	return f &^ remove
}
