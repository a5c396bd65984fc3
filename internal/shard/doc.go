// Package shard is the per-node runtime for one shard replica: a
// key-value partition backed by a pluggable storage.Store, plus the
// node-state and lifecycle bookkeeping the write pipeline and topology
// watcher need to know whether a shard is safe to route to.
//
// A Shard tracks two independent pieces of state. ShardState describes
// the partition's own lifecycle (active, migrating, deleted). NodeState
// describes this replica's readiness to participate in the write
// protocol (spec.md §3): READY and BUSY are the steady states a shard
// cycles between per request; STARTING, RECOVERING, ELECTING and DOWN
// are the states the topology watcher reacts to for fail-over.
package shard
