package writepipeline

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/fxamacker/cbor/v2"

	"github.com/sf1r-go/coordinator/internal/coordination"
	"github.com/sf1r-go/coordinator/internal/reqlog"
	"github.com/sf1r-go/coordinator/internal/reqtype"
	"github.com/sf1r-go/coordinator/internal/shard"
	"github.com/sf1r-go/coordinator/internal/topology"
	"github.com/sf1r-go/coordinator/internal/zkns"
	"github.com/sf1r-go/coordinator/internal/znode"
)

// ErrNoPendingWrite is returned by PrepareWrite when this node has no
// WriteRequest marker to pick up.
var ErrNoPendingWrite = errors.New("writepipeline: no pending write for this node")

const migratePollInterval = 100 * time.Millisecond

var synchroMarkers = []string{"BeginMigrate", "MigrateReady", "NewSharding"}

// Pipeline is one node's handle on a service's write-request pipeline:
// the push_write* client API, the per-node prepare/end/abort
// participant API, and -- active only while this node is the elected
// master -- the queue dispatcher.
type Pipeline struct {
	client  coordination.Client
	ns      *zkns.Namespace
	svc     zkns.Service
	watcher *topology.Watcher
	log     *reqlog.Manager

	replicaID, nodeID, numShards int

	mu                sync.Mutex
	writeEnabled      bool
	onNewReqAvailable func(Envelope)
	cachedQueue       []Envelope
	migrating         map[int]bool
}

// New returns a Pipeline for one (replicaID, nodeID) node of svc.
// watcher resolves shard primaries for dispatch; log is this node's own
// Request Log Manager for the local half of prepare/append.
func New(client coordination.Client, ns *zkns.Namespace, svc zkns.Service, watcher *topology.Watcher, log *reqlog.Manager, replicaID, nodeID, numShards int) *Pipeline {
	return &Pipeline{
		client:       client,
		ns:           ns,
		svc:          svc,
		watcher:      watcher,
		log:          log,
		replicaID:    replicaID,
		nodeID:       nodeID,
		numShards:    numShards,
		writeEnabled: true,
		migrating:    make(map[int]bool),
	}
}

// SetOnNewReqAvailable registers the callback invoked whenever a queue
// entry becomes processable (OnQueueChanged observes one), before
// dispatch gating is applied.
func (p *Pipeline) SetOnNewReqAvailable(cb func(Envelope)) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.onNewReqAvailable = cb
}

// PushWrite enqueues payload as a request of type reqType, targeting
// whichever shard(s) the dispatcher later derives from it. Returns the
// enqueued child's full path.
func (p *Pipeline) PushWrite(ctx context.Context, reqType reqtype.Type, payload []byte) (string, error) {
	return p.enqueue(ctx, Envelope{ReqType: reqType, Payload: payload})
}

// PushWriteToShards enqueues payload targeted explicitly at shards,
// used during index sharding changes (forMigrate) or any caller that
// already knows the affected shard set.
func (p *Pipeline) PushWriteToShards(ctx context.Context, reqType reqtype.Type, payload []byte, shards []int, forMigrate, includeSelf bool) (string, error) {
	return p.enqueue(ctx, Envelope{ReqType: reqType, Payload: payload, Shards: shards, ForMigrate: forMigrate, IncludeSelf: includeSelf})
}

func (p *Pipeline) enqueue(ctx context.Context, env Envelope) (string, error) {
	if !reqtype.IsWrite(env.ReqType) {
		return "", fmt.Errorf("writepipeline: %q is not a write request type", env.ReqType)
	}
	data, err := encodeEnvelope(env)
	if err != nil {
		return "", err
	}
	full, err := p.client.Create(ctx, p.ns.WriteRequestQueue(p.svc)+"/"+zkns.WriteRequestQueueChildPrefix, data, false, true)
	if err != nil {
		return "", fmt.Errorf("writepipeline: enqueue %s: %w", env.ReqType, err)
	}
	return full, nil
}

// DisableNewWrite stops OnQueueChanged from dispatching queued entries;
// they accumulate in the cached replay queue instead. Used during
// migration and graceful shutdown.
func (p *Pipeline) DisableNewWrite() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.writeEnabled = false
}

// EnableNewWrite resumes dispatch and drains whatever accumulated in
// the cached replay queue while disabled, in the order it was cached.
func (p *Pipeline) EnableNewWrite(ctx context.Context) error {
	p.mu.Lock()
	p.writeEnabled = true
	cached := p.cachedQueue
	p.cachedQueue = nil
	p.mu.Unlock()

	for _, env := range cached {
		if err := p.dispatchEnvelope(ctx, env); err != nil {
			return err
		}
	}
	return nil
}

// OnQueueChanged is the master-side entry point: call it whenever a
// watch on the service's WriteRequestQueue fires. It peeks the queue
// head, invokes the on_new_req_available callback, and either dispatches
// it or -- while writes are disabled, or while its target shard is
// migrating -- parks it in the cached replay queue.
func (p *Pipeline) OnQueueChanged(ctx context.Context) error {
	env, ok, err := p.headOfQueue(ctx)
	if err != nil || !ok {
		return err
	}

	p.mu.Lock()
	cb := p.onNewReqAvailable
	enabled := p.writeEnabled
	p.mu.Unlock()
	if cb != nil {
		cb(env)
	}
	if !enabled {
		p.mu.Lock()
		p.cachedQueue = append(p.cachedQueue, env)
		p.mu.Unlock()
		return nil
	}
	return p.dispatchEnvelope(ctx, env)
}

func (p *Pipeline) dispatchEnvelope(ctx context.Context, env Envelope) error {
	shards := p.resolveShards(env)
	if !env.ForMigrate && p.anyMigrating(shards) {
		p.mu.Lock()
		p.cachedQueue = append(p.cachedQueue, env)
		p.mu.Unlock()
		return nil
	}

	for _, shardID := range shards {
		node, ok := p.watcher.PrimaryNode(shardID)
		if !ok {
			continue // no live primary yet; the entry stays queued for the next OnQueueChanged
		}
		data, err := encodeEnvelope(env)
		if err != nil {
			return err
		}
		marker := p.ns.WriteRequestMarker(p.svc, node.ReplicaID, node.NodeID)
		if err := p.createOrSet(ctx, marker, data, true); err != nil {
			return fmt.Errorf("writepipeline: notify shard %d primary: %w", shardID, err)
		}
	}
	return nil
}

func (p *Pipeline) resolveShards(env Envelope) []int {
	if len(env.Shards) > 0 {
		return env.Shards
	}
	if reqtype.IsAutoSharded(env.ReqType) {
		shards := make([]int, p.numShards)
		for i := range shards {
			shards[i] = i
		}
		return shards
	}
	return []int{shard.ShardForKey(string(env.Payload), p.numShards)}
}

func (p *Pipeline) anyMigrating(shards []int) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, s := range shards {
		if p.migrating[s] {
			return true
		}
	}
	return false
}

// PrepareWrite picks up this node's pending WriteRequest marker and
// reserves the local RLM's prepared slot for it. isPrimary must be true
// only for the shard's current primary; it stamps the next inc_id and
// re-writes the marker with it so replicas can validate against the
// same id.
func (p *Pipeline) PrepareWrite(ctx context.Context, isPrimary bool) (reqlog.CommonReqData, error) {
	marker := p.ns.WriteRequestMarker(p.svc, p.replicaID, p.nodeID)
	data, exists, err := p.client.Get(ctx, marker)
	if err != nil {
		return reqlog.CommonReqData{}, fmt.Errorf("writepipeline: read marker: %w", err)
	}
	if !exists {
		return reqlog.CommonReqData{}, ErrNoPendingWrite
	}
	env, err := decodeEnvelope(data)
	if err != nil {
		return reqlog.CommonReqData{}, err
	}

	req := reqlog.CommonReqData{ReqType: reqtype.Code(env.ReqType), Payload: env.Payload}
	if !isPrimary {
		req.IncID = env.IncID
	}
	if err := p.log.Prepare(req, isPrimary); err != nil {
		return reqlog.CommonReqData{}, err
	}
	prepared, _ := p.log.GetPrepared()

	if isPrimary {
		env.IncID = prepared.IncID
		newData, err := encodeEnvelope(env)
		if err != nil {
			return reqlog.CommonReqData{}, err
		}
		if err := p.client.Set(ctx, marker, newData); err != nil {
			return reqlog.CommonReqData{}, fmt.Errorf("writepipeline: re-write marker with stamped inc_id: %w", err)
		}
	}
	return prepared, nil
}

// AppendPrepared durably writes the currently prepared request to the
// local log.
func (p *Pipeline) AppendPrepared() (reqlog.Head, error) {
	return p.log.Append(nil)
}

// EndWrite commits local execution: discards the prepared slot and
// advertises node_state = READY.
func (p *Pipeline) EndWrite(ctx context.Context) error {
	p.log.DiscardPrepared()
	return p.advertiseNodeState(ctx, shard.NodeStateReady)
}

// AbortWrite discards the prepared slot and advertises
// node_state = RECOVERING, the mirror of EndWrite on failure.
func (p *Pipeline) AbortWrite(ctx context.Context) error {
	p.log.DiscardPrepared()
	return p.advertiseNodeState(ctx, shard.NodeStateRecovering)
}

// Commit is the master-side half of a successful round: once every
// participant has acked READY, it deletes the queue entry.
func (p *Pipeline) Commit(ctx context.Context, env Envelope) error {
	if env.QueuePath == "" {
		return fmt.Errorf("writepipeline: commit called on an envelope with no queue path")
	}
	if err := p.client.Delete(ctx, env.QueuePath); err != nil {
		return fmt.Errorf("writepipeline: commit: delete queue entry: %w", err)
	}
	return nil
}

// TryCommit is the other master-side dispatcher entry point: call it
// after OnQueueChanged on every tick. It peeks the queue head already
// dispatched by OnQueueChanged and checks whether every targeted
// shard's primary has advertised node_state = READY (commit) or
// RECOVERING (abort). If the round is still in flight for any shard it
// does nothing and reports handled = false so the caller tries again
// next tick.
func (p *Pipeline) TryCommit(ctx context.Context) (handled bool, err error) {
	env, ok, err := p.headOfQueue(ctx)
	if err != nil || !ok {
		return false, err
	}
	shards := p.resolveShards(env)

	aborted := false
	for _, shardID := range shards {
		node, ok := p.watcher.PrimaryNode(shardID)
		if !ok {
			return false, nil
		}
		switch node.State {
		case shard.NodeStateReady:
			// ready to commit, continue checking the rest
		case shard.NodeStateRecovering:
			aborted = true
		default:
			return false, nil
		}
	}
	if aborted {
		return true, p.Abort(ctx, env, shards)
	}
	return true, p.Commit(ctx, env)
}

// Abort is the master-side half of a failed or interrupted round: it
// deletes every named shard's primary's WriteRequest marker (a missing
// marker is not an error), so the primary's write loop finds no pending
// write on its next poll, then leaves the queue entry in place for
// the next elected primary to replay unless the request type is not
// replayable, in which case it is deleted instead since a blind replay
// would not be safe.
func (p *Pipeline) Abort(ctx context.Context, env Envelope, shards []int) error {
	for _, shardID := range shards {
		node, ok := p.watcher.PrimaryNode(shardID)
		if !ok {
			continue
		}
		marker := p.ns.WriteRequestMarker(p.svc, node.ReplicaID, node.NodeID)
		if err := p.client.Delete(ctx, marker); err != nil && !errors.Is(err, coordination.ErrNoNode) {
			return fmt.Errorf("writepipeline: abort: clear marker for shard %d: %w", shardID, err)
		}
	}
	if reqtype.IsReplayable(env.ReqType) {
		return nil
	}
	if env.QueuePath == "" {
		return nil
	}
	if err := p.client.Delete(ctx, env.QueuePath); err != nil && !errors.Is(err, coordination.ErrNoNode) {
		return fmt.Errorf("writepipeline: abort: delete non-replayable queue entry: %w", err)
	}
	return nil
}

// BeginMigrate disables new dispatch and marks shards as migrating:
// writes targeting them are queued but not executed until EndMigrate.
func (p *Pipeline) BeginMigrate(ctx context.Context, shards []int) error {
	p.DisableNewWrite()
	p.mu.Lock()
	for _, s := range shards {
		p.migrating[s] = true
	}
	p.mu.Unlock()

	synchroRoot := strings.TrimSuffix(p.ns.Synchro(""), "/")
	if _, err := p.client.Create(ctx, synchroRoot, nil, false, false); err != nil && !errors.Is(err, coordination.ErrNodeExists) {
		return fmt.Errorf("writepipeline: begin_migrate: create %s: %w", synchroRoot, err)
	}

	data, err := encodeShardList(shards)
	if err != nil {
		return err
	}
	return p.createOrSet(ctx, p.ns.Synchro(synchroMarkers[0]), data, true)
}

// WaitMigrateReady blocks until every shard in shards reports a live,
// READY primary under its new identity, or ctx is done.
func (p *Pipeline) WaitMigrateReady(ctx context.Context, shards []int) error {
	data, err := encodeShardList(shards)
	if err != nil {
		return err
	}
	if err := p.createOrSet(ctx, p.ns.Synchro(synchroMarkers[1]), data, true); err != nil {
		return err
	}
	return p.pollUntil(ctx, func() (bool, error) {
		if err := p.watcher.Refresh(ctx); err != nil {
			return false, err
		}
		for _, s := range shards {
			n, ok := p.watcher.PrimaryNode(s)
			if !ok || n.State != shard.NodeStateReady {
				return false, nil
			}
		}
		return true, nil
	})
}

// WaitNewSharding blocks until every shard in shards has a registered
// node at all (any state), i.e. the new shard set exists, or ctx is
// done.
func (p *Pipeline) WaitNewSharding(ctx context.Context, shards []int) error {
	data, err := encodeShardList(shards)
	if err != nil {
		return err
	}
	if err := p.createOrSet(ctx, p.ns.Synchro(synchroMarkers[2]), data, true); err != nil {
		return err
	}
	return p.pollUntil(ctx, func() (bool, error) {
		if err := p.watcher.Refresh(ctx); err != nil {
			return false, err
		}
		for _, s := range shards {
			if _, ok := p.watcher.PrimaryNode(s); !ok {
				if len(p.watcher.ReadOnlyNodes(s)) == 0 {
					return false, nil
				}
			}
		}
		return true, nil
	})
}

// EndMigrate clears every migration phase marker, un-marks the shards
// as migrating, and resumes dispatch (draining whatever queued up while
// disabled).
func (p *Pipeline) EndMigrate(ctx context.Context) error {
	p.mu.Lock()
	p.migrating = make(map[int]bool)
	p.mu.Unlock()

	for _, name := range synchroMarkers {
		path := p.ns.Synchro(name)
		exists, err := p.client.Exists(ctx, path)
		if err != nil {
			return err
		}
		if exists {
			if err := p.client.Delete(ctx, path); err != nil {
				return fmt.Errorf("writepipeline: end_migrate: clear %s: %w", path, err)
			}
		}
	}
	return p.EnableNewWrite(ctx)
}

func (p *Pipeline) pollUntil(ctx context.Context, done func() (bool, error)) error {
	ticker := time.NewTicker(migratePollInterval)
	defer ticker.Stop()
	for {
		ok, err := done()
		if err != nil {
			return err
		}
		if ok {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

func (p *Pipeline) headOfQueue(ctx context.Context) (Envelope, bool, error) {
	queuePath := p.ns.WriteRequestQueue(p.svc)
	children, err := p.client.Children(ctx, queuePath)
	if err != nil {
		if errors.Is(err, coordination.ErrNoNode) {
			return Envelope{}, false, nil
		}
		return Envelope{}, false, err
	}

	best, bestSeq := "", -1
	for _, name := range children {
		seq, ok := parseQueueSeq(name)
		if !ok {
			continue
		}
		if best == "" || seq < bestSeq {
			best, bestSeq = name, seq
		}
	}
	if best == "" {
		return Envelope{}, false, nil
	}

	full := queuePath + "/" + best
	data, exists, err := p.client.Get(ctx, full)
	if err != nil {
		return Envelope{}, false, err
	}
	if !exists {
		return Envelope{}, false, nil
	}
	env, err := decodeEnvelope(data)
	if err != nil {
		return Envelope{}, false, err
	}
	env.QueuePath = full
	env.Seq = uint64(bestSeq)
	return env, true, nil
}

func (p *Pipeline) createOrSet(ctx context.Context, path string, data []byte, ephemeral bool) error {
	exists, err := p.client.Exists(ctx, path)
	if err != nil {
		return err
	}
	if exists {
		return p.client.Set(ctx, path, data)
	}
	_, err = p.client.Create(ctx, path, data, ephemeral, false)
	return err
}

func (p *Pipeline) advertiseNodeState(ctx context.Context, state shard.NodeState) error {
	path := p.ns.Node(p.svc, p.replicaID, p.nodeID)
	data, exists, err := p.client.Get(ctx, path)
	if err != nil {
		return fmt.Errorf("writepipeline: read own node znode: %w", err)
	}
	m := znode.Map{}
	if exists {
		m, err = znode.Decode(data)
		if err != nil {
			return err
		}
	}
	m[znode.KeyNodeState] = string(state)
	encoded, err := znode.Encode(m)
	if err != nil {
		return err
	}
	return p.client.Set(ctx, path, encoded)
}

func parseQueueSeq(name string) (int, bool) {
	if !strings.HasPrefix(name, zkns.WriteRequestQueueChildPrefix) {
		return 0, false
	}
	seq, err := strconv.Atoi(name[len(zkns.WriteRequestQueueChildPrefix):])
	if err != nil {
		return 0, false
	}
	return seq, true
}

func encodeShardList(shards []int) ([]byte, error) {
	b, err := cbor.Marshal(shards)
	if err != nil {
		return nil, fmt.Errorf("writepipeline: encode shard list: %w", err)
	}
	return b, nil
}
