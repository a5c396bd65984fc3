package writepipeline

import (
	"context"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/sf1r-go/coordinator/internal/coordination"
	"github.com/sf1r-go/coordinator/internal/reqlog"
	"github.com/sf1r-go/coordinator/internal/reqtype"
	"github.com/sf1r-go/coordinator/internal/shard"
	"github.com/sf1r-go/coordinator/internal/topology"
	"github.com/sf1r-go/coordinator/internal/zkns"
	"github.com/sf1r-go/coordinator/internal/znode"
)

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

func newTestPipeline(t *testing.T, client coordination.Client, ns *zkns.Namespace, w *topology.Watcher, replicaID, nodeID, numShards int) *Pipeline {
	t.Helper()
	log, err := reqlog.Open(t.TempDir())
	require.NoError(t, err)
	return New(client, ns, zkns.Search, w, log, replicaID, nodeID, numShards)
}

func TestPushWriteRejectsNonWriteType(t *testing.T) {
	cluster := coordination.NewFakeCluster()
	client := cluster.Connect()
	ns := zkns.New("/SF1R-cluster1")
	ensurePath(t, client, ns.WriteRequestQueue(zkns.Search))
	w := topology.NewWatcher(client, ns, zkns.Search, 1, nil, nil)
	p := newTestPipeline(t, client, ns, w, 1, 0, 1)

	_, err := p.PushWrite(context.Background(), reqtype.Type("search_query"), nil)
	require.Error(t, err, "search_query is not in WriteReqSet")
}

func TestPushWriteEnqueuesUnderQueue(t *testing.T) {
	cluster := coordination.NewFakeCluster()
	client := cluster.Connect()
	ns := zkns.New("/SF1R-cluster1")
	ensurePath(t, client, ns.WriteRequestQueue(zkns.Search))
	w := topology.NewWatcher(client, ns, zkns.Search, 1, nil, nil)
	p := newTestPipeline(t, client, ns, w, 1, 0, 1)

	path, err := p.PushWrite(context.Background(), reqtype.DocumentsCreate, []byte("doc-1"))
	require.NoError(t, err)

	children, err := client.Children(context.Background(), ns.WriteRequestQueue(zkns.Search))
	require.NoError(t, err)
	require.Len(t, children, 1)
	require.Contains(t, path, ns.WriteRequestQueue(zkns.Search))
}

func TestOnQueueChangedDispatchesToPrimary(t *testing.T) {
	cluster := coordination.NewFakeCluster()
	client := cluster.Connect()
	ns := zkns.New("/SF1R-cluster1")
	ctx := context.Background()
	ensurePath(t, client, ns.WriteRequestQueue(zkns.Search))

	registerNode(t, client, ns, zkns.Search, 1, 0, "10.0.0.1", 9100, shard.NodeStateReady)
	w := topology.NewWatcher(client, ns, zkns.Search, 1, nil, nil)
	require.NoError(t, w.Refresh(ctx))

	p := newTestPipeline(t, client, ns, w, 1, 0, 1)

	var seen []Envelope
	p.SetOnNewReqAvailable(func(e Envelope) { seen = append(seen, e) })

	_, err := p.PushWriteToShards(ctx, reqtype.DocumentsCreate, []byte("payload"), []int{0}, false, false)
	require.NoError(t, err)
	require.NoError(t, p.OnQueueChanged(ctx))

	require.Len(t, seen, 1)

	marker := ns.WriteRequestMarker(zkns.Search, 1, 0)
	data, exists, err := client.Get(ctx, marker)
	require.NoError(t, err)
	require.True(t, exists, "dispatch must write the primary's WriteRequest marker")
	env, err := decodeEnvelope(data)
	require.NoError(t, err)
	require.Equal(t, []byte("payload"), env.Payload)
}

func TestOnQueueChangedCachesWhileWriteDisabled(t *testing.T) {
	cluster := coordination.NewFakeCluster()
	client := cluster.Connect()
	ns := zkns.New("/SF1R-cluster1")
	ctx := context.Background()
	ensurePath(t, client, ns.WriteRequestQueue(zkns.Search))

	registerNode(t, client, ns, zkns.Search, 1, 0, "10.0.0.1", 9100, shard.NodeStateReady)
	w := topology.NewWatcher(client, ns, zkns.Search, 1, nil, nil)
	require.NoError(t, w.Refresh(ctx))

	p := newTestPipeline(t, client, ns, w, 1, 0, 1)
	p.DisableNewWrite()

	_, err := p.PushWriteToShards(ctx, reqtype.DocumentsCreate, []byte("payload"), []int{0}, false, false)
	require.NoError(t, err)
	require.NoError(t, p.OnQueueChanged(ctx))

	marker := ns.WriteRequestMarker(zkns.Search, 1, 0)
	_, exists, err := client.Get(ctx, marker)
	require.NoError(t, err)
	require.False(t, exists, "must not dispatch while writes are disabled")

	require.NoError(t, p.EnableNewWrite(ctx))
	_, exists, err = client.Get(ctx, marker)
	require.NoError(t, err)
	require.True(t, exists, "EnableNewWrite must drain the cached queue")
}

func TestPrepareWritePrimaryStampsIncIDAndReplicaValidates(t *testing.T) {
	cluster := coordination.NewFakeCluster()
	client := cluster.Connect()
	ns := zkns.New("/SF1R-cluster1")
	ctx := context.Background()
	ensurePath(t, client, ns.WriteRequestQueue(zkns.Search))

	registerNode(t, client, ns, zkns.Search, 1, 0, "10.0.0.1", 9100, shard.NodeStateReady)
	registerNode(t, client, ns, zkns.Search, 2, 0, "10.0.0.2", 9100, shard.NodeStateReady)
	w := topology.NewWatcher(client, ns, zkns.Search, 1, nil, nil)
	require.NoError(t, w.Refresh(ctx))

	primary := newTestPipeline(t, client, ns, w, 1, 0, 1)
	replica := newTestPipeline(t, client, ns, w, 2, 0, 1)

	marker := ns.WriteRequestMarker(zkns.Search, 1, 0)
	env := Envelope{ReqType: reqtype.DocumentsCreate, Payload: []byte("doc")}
	data, err := encodeEnvelope(env)
	require.NoError(t, err)
	_, err = client.Create(ctx, marker, data, true, false)
	require.NoError(t, err)

	req, err := primary.PrepareWrite(ctx, true)
	require.NoError(t, err)
	require.Equal(t, uint32(1), req.IncID)

	updated, exists, err := client.Get(ctx, marker)
	require.NoError(t, err)
	require.True(t, exists)
	updatedEnv, err := decodeEnvelope(updated)
	require.NoError(t, err)
	require.Equal(t, uint32(1), updatedEnv.IncID)

	replicaMarker := ns.WriteRequestMarker(zkns.Search, 2, 0)
	_, err = client.Create(ctx, replicaMarker, updated, true, false)
	require.NoError(t, err)

	replicaReq, err := replica.PrepareWrite(ctx, false)
	require.NoError(t, err)
	require.Equal(t, uint32(1), replicaReq.IncID)
}

func TestPrepareWriteWithNoMarkerReturnsErrNoPendingWrite(t *testing.T) {
	cluster := coordination.NewFakeCluster()
	client := cluster.Connect()
	ns := zkns.New("/SF1R-cluster1")
	ctx := context.Background()
	registerNode(t, client, ns, zkns.Search, 1, 0, "10.0.0.1", 9100, shard.NodeStateReady)
	w := topology.NewWatcher(client, ns, zkns.Search, 1, nil, nil)
	require.NoError(t, w.Refresh(ctx))

	p := newTestPipeline(t, client, ns, w, 1, 0, 1)
	_, err := p.PrepareWrite(ctx, true)
	require.ErrorIs(t, err, ErrNoPendingWrite)
}

func TestAppendPreparedThenEndWriteAdvertisesReady(t *testing.T) {
	cluster := coordination.NewFakeCluster()
	client := cluster.Connect()
	ns := zkns.New("/SF1R-cluster1")
	ctx := context.Background()
	registerNode(t, client, ns, zkns.Search, 1, 0, "10.0.0.1", 9100, shard.NodeStateBusy)
	w := topology.NewWatcher(client, ns, zkns.Search, 1, nil, nil)
	require.NoError(t, w.Refresh(ctx))

	p := newTestPipeline(t, client, ns, w, 1, 0, 1)

	marker := ns.WriteRequestMarker(zkns.Search, 1, 0)
	env := Envelope{ReqType: reqtype.DocumentsCreate, Payload: []byte("doc")}
	data, err := encodeEnvelope(env)
	require.NoError(t, err)
	_, err = client.Create(ctx, marker, data, true, false)
	require.NoError(t, err)

	_, err = p.PrepareWrite(ctx, true)
	require.NoError(t, err)

	head, err := p.AppendPrepared()
	require.NoError(t, err)
	require.Equal(t, uint32(1), head.IncID)

	require.NoError(t, p.EndWrite(ctx))

	nodeData, exists, err := client.Get(ctx, ns.Node(zkns.Search, 1, 0))
	require.NoError(t, err)
	require.True(t, exists)
	m, err := znode.Decode(nodeData)
	require.NoError(t, err)
	require.Equal(t, string(shard.NodeStateReady), m[znode.KeyNodeState])
}

func TestAbortWriteAdvertisesRecovering(t *testing.T) {
	cluster := coordination.NewFakeCluster()
	client := cluster.Connect()
	ns := zkns.New("/SF1R-cluster1")
	ctx := context.Background()
	registerNode(t, client, ns, zkns.Search, 1, 0, "10.0.0.1", 9100, shard.NodeStateBusy)
	w := topology.NewWatcher(client, ns, zkns.Search, 1, nil, nil)
	require.NoError(t, w.Refresh(ctx))

	p := newTestPipeline(t, client, ns, w, 1, 0, 1)

	marker := ns.WriteRequestMarker(zkns.Search, 1, 0)
	env := Envelope{ReqType: reqtype.DocumentsCreate, Payload: []byte("doc")}
	data, err := encodeEnvelope(env)
	require.NoError(t, err)
	_, err = client.Create(ctx, marker, data, true, false)
	require.NoError(t, err)

	_, err = p.PrepareWrite(ctx, true)
	require.NoError(t, err)
	require.NoError(t, p.AbortWrite(ctx))

	nodeData, exists, err := client.Get(ctx, ns.Node(zkns.Search, 1, 0))
	require.NoError(t, err)
	require.True(t, exists)
	m, err := znode.Decode(nodeData)
	require.NoError(t, err)
	require.Equal(t, string(shard.NodeStateRecovering), m[znode.KeyNodeState])
}

func TestCommitDeletesQueueEntry(t *testing.T) {
	cluster := coordination.NewFakeCluster()
	client := cluster.Connect()
	ns := zkns.New("/SF1R-cluster1")
	ctx := context.Background()
	ensurePath(t, client, ns.WriteRequestQueue(zkns.Search))
	w := topology.NewWatcher(client, ns, zkns.Search, 1, nil, nil)
	p := newTestPipeline(t, client, ns, w, 1, 0, 1)

	path, err := p.PushWrite(ctx, reqtype.DocumentsCreate, []byte("doc"))
	require.NoError(t, err)

	require.NoError(t, p.Commit(ctx, Envelope{QueuePath: path}))

	exists, err := client.Exists(ctx, path)
	require.NoError(t, err)
	require.False(t, exists)
}

func TestAbortLeavesReplayableEntryButDeletesNonReplayable(t *testing.T) {
	cluster := coordination.NewFakeCluster()
	client := cluster.Connect()
	ns := zkns.New("/SF1R-cluster1")
	ctx := context.Background()
	ensurePath(t, client, ns.WriteRequestQueue(zkns.Search))
	registerNode(t, client, ns, zkns.Search, 1, 0, "10.0.0.1", 9100, shard.NodeStateReady)
	w := topology.NewWatcher(client, ns, zkns.Search, 1, nil, nil)
	require.NoError(t, w.Refresh(ctx))
	p := newTestPipeline(t, client, ns, w, 1, 0, 1)

	replayablePath, err := p.PushWriteToShards(ctx, reqtype.DocumentsVisit, []byte("doc"), []int{0}, false, false)
	require.NoError(t, err)
	require.NoError(t, p.Abort(ctx, Envelope{QueuePath: replayablePath, ReqType: reqtype.DocumentsVisit}, []int{0}))
	exists, err := client.Exists(ctx, replayablePath)
	require.NoError(t, err)
	require.True(t, exists, "documents_visit is replayable and must be left queued")

	nonReplayablePath, err := p.PushWriteToShards(ctx, reqtype.DocumentsCreate, []byte("doc"), []int{0}, false, false)
	require.NoError(t, err)
	require.NoError(t, p.Abort(ctx, Envelope{QueuePath: nonReplayablePath, ReqType: reqtype.DocumentsCreate}, []int{0}))
	exists, err = client.Exists(ctx, nonReplayablePath)
	require.NoError(t, err)
	require.False(t, exists, "documents_create is not replayable and must be deleted on abort")
}

func TestAbortClearsPrimaryMarkerEvenIfAlreadyGone(t *testing.T) {
	cluster := coordination.NewFakeCluster()
	client := cluster.Connect()
	ns := zkns.New("/SF1R-cluster1")
	ctx := context.Background()
	registerNode(t, client, ns, zkns.Search, 1, 0, "10.0.0.1", 9100, shard.NodeStateReady)
	w := topology.NewWatcher(client, ns, zkns.Search, 1, nil, nil)
	require.NoError(t, w.Refresh(ctx))
	p := newTestPipeline(t, client, ns, w, 1, 0, 1)

	err := p.Abort(ctx, Envelope{ReqType: reqtype.DocumentsVisit}, []int{0})
	require.NoError(t, err, "aborting with no marker present must not be treated as a hard failure")
}

func TestMigrationPhasesRoundTrip(t *testing.T) {
	cluster := coordination.NewFakeCluster()
	client := cluster.Connect()
	ns := zkns.New("/SF1R-cluster1")
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	registerNode(t, client, ns, zkns.Search, 1, 0, "10.0.0.1", 9100, shard.NodeStateReady)
	w := topology.NewWatcher(client, ns, zkns.Search, 1, nil, nil)
	require.NoError(t, w.Refresh(ctx))
	p := newTestPipeline(t, client, ns, w, 1, 0, 1)

	require.NoError(t, p.BeginMigrate(ctx, []int{0}))
	exists, err := client.Exists(ctx, ns.Synchro("BeginMigrate"))
	require.NoError(t, err)
	require.True(t, exists)

	require.NoError(t, p.WaitMigrateReady(ctx, []int{0}))
	require.NoError(t, p.WaitNewSharding(ctx, []int{0}))
	require.NoError(t, p.EndMigrate(ctx))

	for _, name := range []string{"BeginMigrate", "MigrateReady", "NewSharding"} {
		exists, err := client.Exists(ctx, ns.Synchro(name))
		require.NoError(t, err)
		require.False(t, exists, "EndMigrate must clear every phase marker")
	}
}

func TestPushWriteToShardsAndDispatchIgnoreMigratingShards(t *testing.T) {
	cluster := coordination.NewFakeCluster()
	client := cluster.Connect()
	ns := zkns.New("/SF1R-cluster1")
	ctx := context.Background()
	ensurePath(t, client, ns.WriteRequestQueue(zkns.Search))
	registerNode(t, client, ns, zkns.Search, 1, 0, "10.0.0.1", 9100, shard.NodeStateReady)
	w := topology.NewWatcher(client, ns, zkns.Search, 1, nil, nil)
	require.NoError(t, w.Refresh(ctx))
	p := newTestPipeline(t, client, ns, w, 1, 0, 1)

	require.NoError(t, p.BeginMigrate(ctx, []int{0}))

	_, err := p.PushWriteToShards(ctx, reqtype.DocumentsCreate, []byte("doc"), []int{0}, false, false)
	require.NoError(t, err)
	require.NoError(t, p.OnQueueChanged(ctx))

	marker := ns.WriteRequestMarker(zkns.Search, 1, 0)
	_, exists, err := client.Get(ctx, marker)
	require.NoError(t, err)
	require.False(t, exists, "writes must not dispatch to shards under migration")
}

func setNodeState(t *testing.T, client coordination.Client, ns *zkns.Namespace, svc zkns.Service, replicaID, nodeID int, state shard.NodeState) {
	t.Helper()
	ctx := context.Background()
	path := ns.Node(svc, replicaID, nodeID)
	data, exists, err := client.Get(ctx, path)
	require.NoError(t, err)
	require.True(t, exists)
	m, err := znode.Decode(data)
	require.NoError(t, err)
	m[znode.KeyNodeState] = string(state)
	newData, err := znode.Encode(m)
	require.NoError(t, err)
	require.NoError(t, client.Set(ctx, path, newData))
}

func TestTryCommitDeletesQueueEntryOncePrimaryIsReady(t *testing.T) {
	cluster := coordination.NewFakeCluster()
	client := cluster.Connect()
	ns := zkns.New("/SF1R-cluster1")
	ctx := context.Background()
	ensurePath(t, client, ns.WriteRequestQueue(zkns.Search))
	registerNode(t, client, ns, zkns.Search, 1, 0, "10.0.0.1", 9100, shard.NodeStateBusy)
	w := topology.NewWatcher(client, ns, zkns.Search, 1, nil, nil)
	require.NoError(t, w.Refresh(ctx))
	p := newTestPipeline(t, client, ns, w, 1, 0, 1)

	path, err := p.PushWrite(ctx, reqtype.DocumentsCreate, []byte("doc"))
	require.NoError(t, err)
	require.NoError(t, p.OnQueueChanged(ctx))

	handled, err := p.TryCommit(ctx)
	require.NoError(t, err)
	require.False(t, handled, "primary still busy, round not finished")

	setNodeState(t, client, ns, zkns.Search, 1, 0, shard.NodeStateReady)
	require.NoError(t, w.Refresh(ctx))

	handled, err = p.TryCommit(ctx)
	require.NoError(t, err)
	require.True(t, handled)

	exists, err := client.Exists(ctx, path)
	require.NoError(t, err)
	require.False(t, exists, "queue entry must be deleted once the primary is ready")
}

func TestTryCommitAbortsOnRecoveringPrimary(t *testing.T) {
	cluster := coordination.NewFakeCluster()
	client := cluster.Connect()
	ns := zkns.New("/SF1R-cluster1")
	ctx := context.Background()
	ensurePath(t, client, ns.WriteRequestQueue(zkns.Search))
	registerNode(t, client, ns, zkns.Search, 1, 0, "10.0.0.1", 9100, shard.NodeStateBusy)
	w := topology.NewWatcher(client, ns, zkns.Search, 1, nil, nil)
	require.NoError(t, w.Refresh(ctx))
	p := newTestPipeline(t, client, ns, w, 1, 0, 1)

	path, err := p.PushWrite(ctx, reqtype.DocumentsCreate, []byte("doc"))
	require.NoError(t, err)
	require.NoError(t, p.OnQueueChanged(ctx))

	setNodeState(t, client, ns, zkns.Search, 1, 0, shard.NodeStateRecovering)
	require.NoError(t, w.Refresh(ctx))

	handled, err := p.TryCommit(ctx)
	require.NoError(t, err)
	require.True(t, handled)

	exists, err := client.Exists(ctx, path)
	require.NoError(t, err)
	require.False(t, exists, "documents_create is not replayable, abort must delete the queue entry")

	marker := ns.WriteRequestMarker(zkns.Search, 1, 0)
	_, exists, err = client.Get(ctx, marker)
	require.NoError(t, err)
	require.False(t, exists, "abort must clear the primary's marker")
}
