// Package coordination defines the Client interface this module uses to
// talk to a hierarchical, ZooKeeper-compatible coordination service:
// ephemeral and sequential znodes, data/children watches, and
// at-least-once notification of session state.
//
// Two implementations are provided. FakeClient is an in-memory
// implementation used by tests -- including the "simulated coordination
// trace" property in spec.md §8 -- and is the reference for the
// semantics every real client must match: sequential names are
// zero-padded decimal suffixes, ephemeral nodes disappear when their
// owning session closes or expires, and every create/delete/set fires a
// watch exactly once per active watcher.
//
// ZKClient adapts github.com/go-zookeeper/zk to the same interface for
// production use.
//
// Per the design notes on "concurrency of coordination callbacks":
// neither implementation ever invokes a caller-supplied watch callback
// directly. Events are delivered on a channel; it is the caller's
// responsibility (cmd/master's dispatcher loop) to drain that channel
// on a single dedicated goroutine so that mutation of topology and
// master state is never concurrent with itself.
package coordination
