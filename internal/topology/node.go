package topology

import (
	"strconv"

	"github.com/sf1r-go/coordinator/internal/shard"
	"github.com/sf1r-go/coordinator/internal/znode"
)

// Node is one advertised (replica_id, node_id) pair: a worker serving
// shard node_id within replica replica_id, per spec.md §3.
type Node struct {
	ReplicaID  int
	NodeID     int // also this node's shard_id: shards are numbered identically across replicas
	Host       string
	BasePort   int
	DataPort   int
	WorkerPort int
	MasterPort int
	State      shard.NodeState
	Collection string

	// PrimarySeq is this node's sequence number under its own
	// PrimaryParent election path, or -1 if it has not registered.
	PrimarySeq int
}

// Endpoint is a routable worker address.
type Endpoint struct {
	Host string
	Port int
}

// WorkerEndpoint returns the endpoint an aggregator should route
// queries to for this node.
func (n Node) WorkerEndpoint() Endpoint {
	return Endpoint{Host: n.Host, Port: n.WorkerPort}
}

// nodeFromZNode decodes a node advertisement payload into a Node.
// Missing numeric fields default to 0; an unrecognized or missing
// node_state defaults to shard.NodeStateDown so an unparsed node never
// silently counts as ready.
func nodeFromZNode(replicaID, nodeID int, m znode.Map) Node {
	n := Node{
		ReplicaID:  replicaID,
		NodeID:     nodeID,
		Host:       m[znode.KeyHost],
		Collection: m[znode.KeyCollection],
		State:      shard.NodeStateDown,
		PrimarySeq: -1,
	}
	n.BasePort = atoiOr(m[znode.KeyBasePort], 0)
	n.DataPort = atoiOr(m[znode.KeyDataPort], 0)
	n.WorkerPort = atoiOr(m[znode.KeyWorkerPort], 0)
	n.MasterPort = atoiOr(m[znode.KeyMasterPort], 0)
	if s := m[znode.KeyNodeState]; s != "" {
		n.State = shard.NodeState(s)
	}
	return n
}

func atoiOr(s string, fallback int) int {
	if s == "" {
		return fallback
	}
	v, err := strconv.Atoi(s)
	if err != nil {
		return fallback
	}
	return v
}

// isLive reports whether n should be considered for primary election
// or read-only routing: a node mid-election or already known down
// contributes nothing to either map.
func (n Node) isLive() bool {
	return n.State == shard.NodeStateReady || n.State == shard.NodeStateBusy
}
