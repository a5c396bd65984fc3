// Package znode implements the typed key/value payload format stored in
// coordination znodes: node advertisements and service server entries
// share this one codec. Prepared write markers and the write queue carry
// writepipeline's own envelope encoding instead.
//
// The payload is a flat string-to-string mapping. Recognized keys mirror
// the original ZooKeeper namespace's data keys (host, ports, replica id,
// node state, request data, ...); unrecognized keys round-trip untouched
// so future fields can be added without breaking old readers.
package znode
