// Package clickstore is a trivial persistent click-count map, one
// counter per document id, backed by a single CBOR-encoded file on
// disk. It exists to satisfy the click-through counter referenced by
// spec.md §6 as an out-of-scope external collaborator with a fixed
// interface: open, update, flush, and scan by document id list.
//
// Grounded on original_source's CTRManager (ctr_manager.cc): load the
// whole table into memory on open, bump and persist on every update,
// and answer batched lookups by walking a caller-supplied document id
// list.
package clickstore
