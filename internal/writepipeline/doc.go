// Package writepipeline implements the two-phase write-request pipeline
// of spec.md §4.6: clients push_write/push_write_to_shards, the elected
// master dispatches queued entries to shard primaries, each primary and
// its replicas prepare/append/execute/commit (or abort) in lock-step,
// and a sharding change runs the same pipeline through three migration
// phase markers.
//
// Grounded on MasterManagerBase.h's pushWriteReq/popWriteReq/
// prepareWriteReq/endWriteReq/disableNewWrite/enableNewWrite/
// notifyAllShardingBeginMigrate/waitForMigrateReady/
// waitForNewShardingNodes/notifyAllShardingEndMigrate, and on
// internal/reqlog's Prepare/Append/DiscardPrepared for the local half of
// the two-phase handshake every participating node runs.
//
// One Pipeline value plays both roles the original single class plays:
// the client-facing push_write* API, and (when this node is the elected
// master for the service) the queue dispatcher. Both sides are driven
// from the owner's single coordination-event dispatcher goroutine,
// consistent with topology.Watcher and master.Master.
package writepipeline
