package topology

import (
	"context"
	"strconv"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/sf1r-go/coordinator/internal/aggregator"
	"github.com/sf1r-go/coordinator/internal/coordination"
	"github.com/sf1r-go/coordinator/internal/shard"
	"github.com/sf1r-go/coordinator/internal/zkns"
	"github.com/sf1r-go/coordinator/internal/znode"
)

// ensurePath creates every missing ancestor of path, in root-to-leaf
// order, as a plain persistent node -- FakeCluster.Create requires a
// node's parent to already exist.
func ensurePath(t *testing.T, client coordination.Client, path string) {
	t.Helper()
	ctx := context.Background()
	var parts []string
	for p := path; p != "" && p != "/"; p = parentPath(p) {
		parts = append(parts, p)
	}
	for i := len(parts) - 1; i >= 0; i-- {
		ok, err := client.Exists(ctx, parts[i])
		require.NoError(t, err)
		if ok {
			continue
		}
		_, err = client.Create(ctx, parts[i], nil, false, false)
		require.NoError(t, err)
	}
}

func parentPath(p string) string {
	i := len(p) - 1
	for i >= 0 && p[i] != '/' {
		i--
	}
	if i <= 0 {
		return "/"
	}
	return p[:i]
}

func registerNode(t *testing.T, client coordination.Client, ns *zkns.Namespace, svc zkns.Service, replicaID, nodeID int, host string, workerPort int, state shard.NodeState) {
	t.Helper()
	ctx := context.Background()

	ensurePath(t, client, ns.Replica(svc, replicaID))
	payload, err := znode.Encode(znode.Map{
		znode.KeyHost:       host,
		znode.KeyWorkerPort: strconv.Itoa(workerPort),
		znode.KeyNodeState:  string(state),
	})
	require.NoError(t, err)
	_, err = client.Create(ctx, ns.Node(svc, replicaID, nodeID), payload, true, false)
	require.NoError(t, err)

	ensurePath(t, client, ns.PrimaryParent(svc, replicaID, nodeID))
	_, err = client.Create(ctx, ns.PrimaryParent(svc, replicaID, nodeID)+"/"+zkns.PrimaryChildPrefix(nodeID), nil, true, true)
	require.NoError(t, err)
}

// TestScenarioS6PrimaryElectionAndFailover mirrors spec.md §8's S6:
// two replicas of shard 1 register, the topology watcher reports the
// active replica's node as primary, and losing it promotes the other
// replica's node.
func TestScenarioS6PrimaryElectionAndFailover(t *testing.T) {
	cluster := coordination.NewFakeCluster()
	client := cluster.Connect()
	ns := zkns.New("/SF1R-cluster1")
	ctx := context.Background()

	registerNode(t, client, ns, zkns.Search, 1, 1, "10.0.0.1", 9001, shard.NodeStateReady)
	registerNode(t, client, ns, zkns.Search, 2, 1, "10.0.0.2", 9001, shard.NodeStateReady)

	agg := aggregator.NewFakeRouter()
	w := NewWatcher(client, ns, zkns.Search, 2, agg, nil)

	require.NoError(t, w.Refresh(ctx))

	primary, ok := w.PrimaryNode(1)
	require.True(t, ok)
	require.Equal(t, 1, primary.ReplicaID, "both replicas have one live node, so the lowest id, replica 1, is active")

	ro := w.ReadOnlyNodes(1)
	require.Contains(t, ro, 2)

	table := agg.Table()
	require.Equal(t, aggregator.Endpoint{Host: "10.0.0.1", Port: 9001}, table[1])

	// Fail-over: replica 1's node for shard 1 goes down.
	require.NoError(t, client.Set(ctx, ns.Node(zkns.Search, 1, 1), mustEncode(t, znode.Map{
		znode.KeyHost:       "10.0.0.1",
		znode.KeyWorkerPort: "9001",
		znode.KeyNodeState:  string(shard.NodeStateDown),
	})))
	require.NoError(t, w.Refresh(ctx))

	primary, ok = w.PrimaryNode(1)
	require.True(t, ok)
	require.Equal(t, 2, primary.ReplicaID, "replica 2's node must be promoted once replica 1's goes down")

	table = agg.Table()
	require.Equal(t, aggregator.Endpoint{Host: "10.0.0.2", Port: 9001}, table[1])
}

func mustEncode(t *testing.T, m znode.Map) []byte {
	t.Helper()
	data, err := znode.Encode(m)
	require.NoError(t, err)
	return data
}

func TestUnroutedShardHasNoPrimary(t *testing.T) {
	cluster := coordination.NewFakeCluster()
	client := cluster.Connect()
	ns := zkns.New("/SF1R-cluster1")
	ctx := context.Background()

	registerNode(t, client, ns, zkns.Search, 1, 0, "10.0.0.1", 9000, shard.NodeStateReady)

	w := NewWatcher(client, ns, zkns.Search, 3, nil, nil)
	require.NoError(t, w.Refresh(ctx))

	_, ok := w.PrimaryNode(1)
	require.False(t, ok, "shard 1 has no registered node anywhere")
	_, ok = w.PrimaryNode(0)
	require.True(t, ok)
}
