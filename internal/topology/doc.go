// Package topology discovers workers advertised under a service's
// coordination subtree and maintains two maps the write pipeline and
// aggregator depend on (spec.md §4.4):
//
//   - workerMap: shard_id -> the node currently primary for that shard
//   - roWorkerMap: shard_id -> replica_id -> read-only replica nodes
//
// A Watcher re-enumerates a service's topology subtree each time its
// owner calls Refresh (it arms no coordination watches), classifies nodes
// by their znode-encoded node_state, and reconciles both maps. Every
// mutation to the maps triggers an AggregatorRouter.Reset so query
// routing stays in step with topology.
//
// Grounded on MasterManagerBase's detectWorkers/detectReadOnlyWorkers/
// failover/recover (workerMap_/readonly_workerMap_) and on the teacher
// repo's ShardRegistry and HealthMonitor, which this package
// generalizes: ShardRegistry's static shard->node assignment becomes
// dynamic discovery over the coordination tree, and HealthMonitor's
// HTTP polling becomes znode state classification on each Refresh.
package topology
