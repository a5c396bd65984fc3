package registry

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/sf1r-go/coordinator/internal/coordination"
	"github.com/sf1r-go/coordinator/internal/zkns"
)

func newTestNamespace(t *testing.T, client coordination.Client, svc zkns.Service) *zkns.Namespace {
	t.Helper()
	ns := zkns.New("/SF1R-cluster1")
	ctx := context.Background()
	_, err := client.Create(ctx, ns.Root(), nil, false, false)
	require.NoError(t, err)
	_, err = client.Create(ctx, ns.Servers(svc), nil, false, false)
	require.NoError(t, err)
	return ns
}

func TestMasterEndpointWithNoCandidatesIsUnknown(t *testing.T) {
	cluster := coordination.NewFakeCluster()
	client := cluster.Connect()
	ns := newTestNamespace(t, client, zkns.Search)

	reg := NewServiceRegistry(client, ns)
	_, ok, err := reg.MasterEndpoint(context.Background(), zkns.Search)
	require.NoError(t, err)
	require.False(t, ok)
}

func TestFirstCandidateIsElected(t *testing.T) {
	cluster := coordination.NewFakeCluster()
	client := cluster.Connect()
	ns := newTestNamespace(t, client, zkns.Search)
	ctx := context.Background()

	c, err := Register(ctx, client, ns, zkns.Search, "10.0.0.1", 9100)
	require.NoError(t, err)

	elected, err := c.IsElected(ctx)
	require.NoError(t, err)
	require.True(t, elected)

	_, hasPred, err := c.WatchPredecessor(ctx)
	require.NoError(t, err)
	require.False(t, hasPred, "the only candidate has no predecessor")

	reg := NewServiceRegistry(client, ns)
	ep, ok, err := reg.MasterEndpoint(ctx, zkns.Search)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, Endpoint{Host: "10.0.0.1", Port: 9100}, ep)
}

// TestSecondCandidateWatchesFirstAndIsPromotedOnDeletion mirrors the
// §4.5 herd-avoidance rule: a losing candidate watches only its
// immediate predecessor, and is promoted once that predecessor is
// deregistered.
func TestSecondCandidateWatchesFirstAndIsPromotedOnDeletion(t *testing.T) {
	cluster := coordination.NewFakeCluster()
	clientA := cluster.Connect()
	clientB := cluster.Connect()
	ns := newTestNamespace(t, clientA, zkns.Search)
	ctx := context.Background()

	a, err := Register(ctx, clientA, ns, zkns.Search, "10.0.0.1", 9100)
	require.NoError(t, err)
	b, err := Register(ctx, clientB, ns, zkns.Search, "10.0.0.2", 9100)
	require.NoError(t, err)

	electedA, err := a.IsElected(ctx)
	require.NoError(t, err)
	require.True(t, electedA)

	electedB, err := b.IsElected(ctx)
	require.NoError(t, err)
	require.False(t, electedB)

	watchCh, hasPred, err := b.WatchPredecessor(ctx)
	require.NoError(t, err)
	require.True(t, hasPred)

	require.NoError(t, a.Deregister(ctx))

	select {
	case ev := <-watchCh:
		require.Equal(t, coordination.NodeDeleted, ev.Type)
	default:
		t.Fatal("expected predecessor deletion event to be pending")
	}

	electedB, err = b.IsElected(ctx)
	require.NoError(t, err)
	require.True(t, electedB, "b must be promoted once a deregisters")
}

func TestDeregisterRemovesCandidate(t *testing.T) {
	cluster := coordination.NewFakeCluster()
	client := cluster.Connect()
	ns := newTestNamespace(t, client, zkns.Search)
	ctx := context.Background()

	c, err := Register(ctx, client, ns, zkns.Search, "10.0.0.1", 9100)
	require.NoError(t, err)
	require.NoError(t, c.Deregister(ctx))

	reg := NewServiceRegistry(client, ns)
	_, ok, err := reg.MasterEndpoint(ctx, zkns.Search)
	require.NoError(t, err)
	require.False(t, ok)
}
