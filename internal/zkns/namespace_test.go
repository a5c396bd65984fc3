package zkns

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestNamespacePaths(t *testing.T) {
	ns := New("/SF1R-cluster1")

	require.Equal(t, "/SF1R-cluster1/SearchTopology", ns.Topology(Search))
	require.Equal(t, "/SF1R-cluster1/SearchTopology/Replica1", ns.Replica(Search, 1))
	require.Equal(t, "/SF1R-cluster1/SearchTopology/Replica1/Node2", ns.Node(Search, 1, 2))
	require.Equal(t, "/SF1R-cluster1/SearchTopology/Replica1/Node2/Primary", ns.PrimaryParent(Search, 1, 2))
	require.Equal(t, "/SF1R-cluster1/RecommendServers", ns.Servers(Recommend))
	require.Equal(t, "/SF1R-cluster1/RecommendPrimaryNodes", ns.PrimaryNodes(Recommend))
	require.Equal(t, "/SF1R-cluster1/SearchWriteRequestQueue", ns.WriteRequestQueue(Search))
	require.Equal(t, "/SF1R-cluster1/SearchTopology/Replica1/Node2/WriteRequest", ns.WriteRequestMarker(Search, 1, 2))
	require.Equal(t, "/SF1R-cluster1/Synchro/begin_migrate", ns.Synchro("begin_migrate"))
	require.Equal(t, "Node2_", PrimaryChildPrefix(2))
}
