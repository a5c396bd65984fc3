package zkns

import "fmt"

// Service names the two roles the original namespace hard-codes. Other
// service names are accepted -- the namespace is not restricted to
// these -- but this module only wires up these two.
type Service string

const (
	Search    Service = "Search"
	Recommend Service = "Recommend"
)

// Namespace builds coordination paths rooted at a single configured
// cluster root, e.g. "/SF1R-mycluster".
type Namespace struct {
	root string
}

// New returns a Namespace rooted at root. root must be a non-empty
// absolute path; it is not validated further here -- the coordination
// client rejects malformed paths on use.
func New(root string) *Namespace {
	return &Namespace{root: root}
}

// Root returns the configured cluster root.
func (n *Namespace) Root() string { return n.root }

// Topology returns "<root>/<Service>Topology".
func (n *Namespace) Topology(svc Service) string {
	return fmt.Sprintf("%s/%sTopology", n.root, svc)
}

// Replica returns "<root>/<Service>Topology/Replica{r}".
func (n *Namespace) Replica(svc Service, replicaID int) string {
	return fmt.Sprintf("%s/Replica%d", n.Topology(svc), replicaID)
}

// Node returns "<root>/<Service>Topology/Replica{r}/Node{n}".
func (n *Namespace) Node(svc Service, replicaID, nodeID int) string {
	return fmt.Sprintf("%s/Node%d", n.Replica(svc, replicaID), nodeID)
}

// PrimaryParent returns the parent under which a node's sequential
// primary-election children are created:
// "<root>/<Service>Topology/Replica{r}/Node{n}/Primary".
func (n *Namespace) PrimaryParent(svc Service, replicaID, nodeID int) string {
	return fmt.Sprintf("%s/Primary", n.Node(svc, replicaID, nodeID))
}

// PrimaryChildPrefix returns the sequential znode name prefix used when
// a node registers for primary election under PrimaryParent, e.g.
// "Node3_".
func PrimaryChildPrefix(nodeID int) string {
	return fmt.Sprintf("Node%d_", nodeID)
}

// Servers returns "<root>/<Service>Servers", the parent for a service's
// master-endpoint sequential ephemerals.
func (n *Namespace) Servers(svc Service) string {
	return fmt.Sprintf("%s/%sServers", n.root, svc)
}

// ServerChildPrefix is the sequential znode name prefix under Servers.
const ServerChildPrefix = "Server_"

// PrimaryNodes returns "<root>/<Service>PrimaryNodes", the per-service
// primary-node mirror path. Nothing in this module writes or reads it;
// topology.Watcher walks the full topology tree.
func (n *Namespace) PrimaryNodes(svc Service) string {
	return fmt.Sprintf("%s/%sPrimaryNodes", n.root, svc)
}

// WriteRequestQueue returns "<root>/<Service>WriteRequestQueue".
func (n *Namespace) WriteRequestQueue(svc Service) string {
	return fmt.Sprintf("%s/%sWriteRequestQueue", n.root, svc)
}

// WriteRequestQueueChildPrefix is the sequential znode name prefix used
// for queued writes under WriteRequestQueue.
const WriteRequestQueueChildPrefix = "WriteRequestSeq_"

// WriteRequestMarker returns the "/WriteRequest" ephemeral marker path
// under a specific node, used to hand the prepared envelope to
// replicas.
func (n *Namespace) WriteRequestMarker(svc Service, replicaID, nodeID int) string {
	return fmt.Sprintf("%s/WriteRequest", n.Node(svc, replicaID, nodeID))
}

// Synchro returns "<root>/Synchro/<name>", an ad-hoc rendezvous point
// used for migration phase markers and similar one-off signals.
func (n *Namespace) Synchro(name string) string {
	return fmt.Sprintf("%s/Synchro/%s", n.root, name)
}
