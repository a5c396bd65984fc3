// Package master implements the master state machine of spec.md §4.5:
// INIT -> STARTING -> STARTING_WAIT_ZK / STARTING_WAIT_WORKERS ->
// STARTED, registering this node as the service's elected master via
// internal/registry once both the coordination session is alive and
// every shard has enough live workers.
//
// Grounded on MasterManagerBase.h's MasterStateType enum and its
// process/onNodeCreated/onNodeDeleted/onChildrenChanged/onDataChanged
// callback surface. The original reacts to coordination callbacks
// directly from the coordination client's own callback thread; this
// port instead expects its HandleSessionEvent/HandleTopologyChange
// methods to be called from one dedicated dispatcher goroutine (Design
// Notes: coordination callbacks must never block on further
// coordination calls), the same single-goroutine discipline
// topology.Watcher.Refresh relies on.
//
// resetAggregatorBusyState is supplemented from the original (no
// spec.md analog): once every in-flight write this master knows about
// clears, it re-runs the topology refresh so aggregators pick up
// whatever node states the write pipeline left behind rather than
// continuing to route around shards that finished their write.
package master
