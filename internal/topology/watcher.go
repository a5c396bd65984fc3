package topology

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sort"
	"strconv"
	"strings"
	"sync"

	"github.com/sf1r-go/coordinator/internal/aggregator"
	"github.com/sf1r-go/coordinator/internal/coordination"
	"github.com/sf1r-go/coordinator/internal/znode"
	"github.com/sf1r-go/coordinator/internal/zkns"
)

// Watcher discovers workers under one service's topology subtree and
// maintains workerMap/roWorkerMap per spec.md §4.4.
//
// Primary election works in two steps, an explicit design decision
// recorded in DESIGN.md since the spec leaves the cross-replica
// mechanics unstated: first an "active replica" is chosen (the replica
// with the most live -- READY or BUSY -- nodes, the lowest replica id
// winning ties), then for each shard the active replica's own node is
// primary if it is live; otherwise fail-over picks, among the other
// replicas, the live node for that shard with the lowest PrimarySeq
// under its own election path (lowest replica id on ties).
type Watcher struct {
	client    coordination.Client
	ns        *zkns.Namespace
	svc       zkns.Service
	numShards int

	aggregator   aggregator.Router
	roAggregator aggregator.Router

	mu            sync.RWMutex
	workerMap     map[int]Node
	roWorkerMap   map[int]map[int]Node
	activeReplica int
}

// NewWatcher returns a Watcher for svc with numShards shards. Both
// aggregators may be nil if the caller does not route through this
// watcher (e.g. tests that only assert on the maps).
func NewWatcher(client coordination.Client, ns *zkns.Namespace, svc zkns.Service, numShards int, agg, roAgg aggregator.Router) *Watcher {
	return &Watcher{
		client:       client,
		ns:           ns,
		svc:          svc,
		numShards:    numShards,
		aggregator:   agg,
		roAggregator: roAgg,
		workerMap:    make(map[int]Node),
		roWorkerMap:  make(map[int]map[int]Node),
	}
}

// PrimaryNode returns the current primary for shardID.
func (w *Watcher) PrimaryNode(shardID int) (Node, bool) {
	w.mu.RLock()
	defer w.mu.RUnlock()
	n, ok := w.workerMap[shardID]
	return n, ok
}

// ReadOnlyNodes returns the read-only replicas known for shardID,
// keyed by replica id.
func (w *Watcher) ReadOnlyNodes(shardID int) map[int]Node {
	w.mu.RLock()
	defer w.mu.RUnlock()
	out := make(map[int]Node, len(w.roWorkerMap[shardID]))
	for k, v := range w.roWorkerMap[shardID] {
		out[k] = v
	}
	return out
}

// ActiveReplica returns the replica id currently selected to serve
// primaries, or 0 if none is selected yet.
func (w *Watcher) ActiveReplica() int {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.activeReplica
}

// NumShards returns the shard count this watcher was constructed with.
func (w *Watcher) NumShards() int {
	return w.numShards
}

// Refresh re-enumerates the service's whole topology subtree and
// recomputes workerMap/roWorkerMap, reconciling both aggregators on
// change. Callers invoke Refresh from the single-threaded event-sink
// consuming coordination.Client.Events(), per spec.md §5's rule that
// coordination callbacks never block on further coordination calls.
func (w *Watcher) Refresh(ctx context.Context) error {
	replicaIDs, err := w.listReplicaIDs(ctx)
	if err != nil {
		return err
	}

	byReplica := make(map[int]map[int]Node, len(replicaIDs))
	for _, r := range replicaIDs {
		nodes, err := w.listNodes(ctx, r)
		if err != nil {
			return fmt.Errorf("topology: list nodes for replica %d: %w", r, err)
		}
		byReplica[r] = nodes
	}

	active := w.chooseActiveReplica(replicaIDs, byReplica)

	workerMap := make(map[int]Node)
	roWorkerMap := make(map[int]map[int]Node)

	for shardID := 0; shardID < w.numShards; shardID++ {
		var primary *Node
		if active != 0 {
			if n, ok := byReplica[active][shardID]; ok && n.isLive() {
				primary = &n
			}
		}
		// Fail-over: the active replica's own node for this shard is
		// down; look for the lowest-sequence live node among the other
		// replicas instead.
		if primary == nil {
			primary = w.electFailover(shardID, replicaIDs, byReplica, active)
		}
		if primary != nil {
			workerMap[shardID] = *primary
		}

		ro := make(map[int]Node)
		for _, r := range replicaIDs {
			if primary != nil && r == primary.ReplicaID {
				continue
			}
			if n, ok := byReplica[r][shardID]; ok && n.isLive() {
				ro[r] = n
			}
		}
		if len(ro) > 0 {
			roWorkerMap[shardID] = ro
		}
	}

	w.mu.Lock()
	w.workerMap = workerMap
	w.roWorkerMap = roWorkerMap
	w.activeReplica = active
	w.mu.Unlock()

	w.reconcileAggregators(workerMap, roWorkerMap)
	return nil
}

// electFailover picks the lowest-PrimarySeq live node for shardID
// across replicas other than preferred, in ascending replica id order
// for determinism when sequence numbers tie (they never should, since
// each node's election path is its own, but ties are still handled
// deterministically rather than left to map iteration order).
func (w *Watcher) electFailover(shardID int, replicaIDs []int, byReplica map[int]map[int]Node, preferred int) *Node {
	var best *Node
	for _, r := range replicaIDs {
		if r == preferred {
			continue
		}
		n, ok := byReplica[r][shardID]
		if !ok || !n.isLive() {
			continue
		}
		candidate := n
		if best == nil || candidate.PrimarySeq < best.PrimarySeq ||
			(candidate.PrimarySeq == best.PrimarySeq && candidate.ReplicaID < best.ReplicaID) {
			best = &candidate
		}
	}
	return best
}

// chooseActiveReplica picks the replica with the most live shards,
// preferring the lowest replica id on ties. Returns 0 if no replica
// has any live shard.
func (w *Watcher) chooseActiveReplica(replicaIDs []int, byReplica map[int]map[int]Node) int {
	best, bestLive := 0, -1
	sorted := append([]int(nil), replicaIDs...)
	sort.Ints(sorted)
	for _, r := range sorted {
		live := 0
		for _, n := range byReplica[r] {
			if n.isLive() {
				live++
			}
		}
		if live > bestLive {
			best, bestLive = r, live
		}
	}
	if bestLive <= 0 {
		return 0
	}
	return best
}

func (w *Watcher) reconcileAggregators(workerMap map[int]Node, roWorkerMap map[int]map[int]Node) {
	if w.aggregator != nil {
		table := make(map[int]aggregator.Endpoint, len(workerMap))
		for shardID, n := range workerMap {
			ep := n.WorkerEndpoint()
			table[shardID] = aggregator.Endpoint{Host: ep.Host, Port: ep.Port}
		}
		w.aggregator.Reset(table)
	}
	if w.roAggregator != nil {
		table := make(map[int]aggregator.Endpoint, len(roWorkerMap))
		for shardID, byReplica := range roWorkerMap {
			for _, n := range byReplica {
				ep := n.WorkerEndpoint()
				table[shardID] = aggregator.Endpoint{Host: ep.Host, Port: ep.Port}
				break
			}
		}
		w.roAggregator.Reset(table)
	}
}

func (w *Watcher) listReplicaIDs(ctx context.Context) ([]int, error) {
	children, err := w.client.Children(ctx, w.ns.Topology(w.svc))
	if err != nil {
		if errors.Is(err, coordination.ErrNoNode) {
			return nil, nil
		}
		return nil, fmt.Errorf("topology: list replicas: %w", err)
	}
	var ids []int
	for _, c := range children {
		id, ok := parseIndexSuffix(c, "Replica")
		if ok {
			ids = append(ids, id)
		}
	}
	slices.Sort(ids)
	return ids, nil
}

func (w *Watcher) listNodes(ctx context.Context, replicaID int) (map[int]Node, error) {
	replicaPath := w.ns.Replica(w.svc, replicaID)
	children, err := w.client.Children(ctx, replicaPath)
	if err != nil {
		if errors.Is(err, coordination.ErrNoNode) {
			return nil, nil
		}
		return nil, err
	}

	nodes := make(map[int]Node)
	for _, c := range children {
		nodeID, ok := parseIndexSuffix(c, "Node")
		if !ok {
			continue
		}
		nodePath := w.ns.Node(w.svc, replicaID, nodeID)
		data, exists, err := w.client.Get(ctx, nodePath)
		if err != nil || !exists {
			continue
		}
		m, err := znode.Decode(data)
		if err != nil {
			continue
		}
		n := nodeFromZNode(replicaID, nodeID, m)
		n.PrimarySeq = w.lowestPrimarySeq(ctx, replicaID, nodeID)
		nodes[nodeID] = n
	}
	return nodes, nil
}

// lowestPrimarySeq returns the lowest sequence number among this
// node's own election children, or -1 if it has not registered.
func (w *Watcher) lowestPrimarySeq(ctx context.Context, replicaID, nodeID int) int {
	children, err := w.client.Children(ctx, w.ns.PrimaryParent(w.svc, replicaID, nodeID))
	if err != nil || len(children) == 0 {
		return -1
	}
	prefix := zkns.PrimaryChildPrefix(nodeID)
	best := -1
	for _, c := range children {
		if !strings.HasPrefix(c, prefix) {
			continue
		}
		seqStr := c[len(prefix):]
		seq, err := strconv.Atoi(seqStr)
		if err != nil {
			continue
		}
		if best == -1 || seq < best {
			best = seq
		}
	}
	return best
}

// parseIndexSuffix extracts the trailing integer from a child name like
// "Replica3" or "Node12" given the expected prefix.
func parseIndexSuffix(name, prefix string) (int, bool) {
	if !strings.HasPrefix(name, prefix) {
		return 0, false
	}
	n, err := strconv.Atoi(name[len(prefix):])
	if err != nil {
		return 0, false
	}
	return n, true
}
