// Package aggregator defines the routing interface a topology.Watcher
// reconciles on every membership change (spec.md §4.4, §6) and an
// in-memory implementation used by tests and single-process
// deployments.
//
// Grounded on the teacher's internal/cluster (PostJSON/GetJSON RPC
// helpers) generalized from "call one known node" into "route by
// shard_id through a table the watcher keeps current", and on
// MasterManagerBase's resetAggregatorConfig/resetReadOnlyAggregatorConfig,
// which push a fresh shard->endpoint table into every registered
// aggregator whenever the worker maps change.
package aggregator
