// Command worker runs one storage node of the cluster: it advertises
// itself under the configured service's topology tree, stands for
// primary election on its own node, serves its shards over HTTP, and
// drives the participant half of the write-request pipeline by
// polling for its own WriteRequest marker.
//
// Was cmd/node in the teacher; generalized from a flat
// coordinator-registered key-value node into a replica/shard-aware
// participant in the coordination-driven topology.
package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"sync"
	"syscall"
	"time"

	"github.com/sf1r-go/coordinator/internal/coordination"
	"github.com/sf1r-go/coordinator/internal/reqlog"
	"github.com/sf1r-go/coordinator/internal/shard"
	"github.com/sf1r-go/coordinator/internal/topology"
	"github.com/sf1r-go/coordinator/internal/writepipeline"
	"github.com/sf1r-go/coordinator/internal/zkns"
	"github.com/sf1r-go/coordinator/internal/znode"
)

// logFatal is overridden in tests to intercept fatal paths, the
// teacher's cmd/node indirection.
var logFatal = log.Fatalf

// worker holds one node's runtime shard set, created on demand the
// same way the teacher's node does: there is no explicit shard
// assignment protocol, the first request (or write) for a shard
// creates it locally.
type worker struct {
	id int

	mu    sync.RWMutex
	shard map[int]*shard.Shard
}

func newWorker(id int) *worker {
	return &worker{id: id, shard: make(map[int]*shard.Shard)}
}

func (w *worker) get(id int) *shard.Shard {
	w.mu.RLock()
	s := w.shard[id]
	w.mu.RUnlock()
	if s != nil {
		return s
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	if s := w.shard[id]; s != nil {
		return s
	}
	s = shard.NewShard(id, true)
	w.shard[id] = s
	return s
}

func main() {
	cfg, err := loadConfig()
	if err != nil {
		logFatal("%v", err)
	}

	client, err := connectCoordination(cfg)
	if err != nil {
		logFatal("connect coordination: %v", err)
	}
	defer client.Close()

	ns := zkns.New(cfg.ClusterRoot)
	ctx := context.Background()

	if err := ensureZNode(ctx, client, ns.Replica(cfg.Service, cfg.ReplicaID)); err != nil {
		logFatal("create replica path: %v", err)
	}
	if err := registerNode(ctx, client, ns, cfg); err != nil {
		logFatal("register node: %v", err)
	}

	rlog, err := reqlog.Open(cfg.ReqLogDir)
	if err != nil {
		logFatal("open request log: %v", err)
	}

	watcher := topology.NewWatcher(client, ns, cfg.Service, cfg.NumShards, nil, nil)
	pipeline := writepipeline.New(client, ns, cfg.Service, watcher, rlog, cfg.ReplicaID, cfg.NodeID, cfg.NumShards)

	wk := newWorker(cfg.NodeID)

	loopCtx, cancelLoop := context.WithCancel(ctx)
	go runWriteLoop(loopCtx, pipeline, cfg.DispatchPollInterval)

	mux := http.NewServeMux()
	mux.HandleFunc("/health", func(rw http.ResponseWriter, _ *http.Request) {
		rw.WriteHeader(http.StatusOK)
	})
	mux.HandleFunc("/shard/", func(rw http.ResponseWriter, r *http.Request) {
		handleShardRequest(wk, rw, r)
	})
	mux.HandleFunc("/info", func(rw http.ResponseWriter, r *http.Request) {
		handleNodeInfo(wk, rw, r)
	})
	registerRPCHandlers(mux, wk)

	srv := &http.Server{
		Addr:              cfg.Listen,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		log.Printf("worker[%d] replica=%d listening on %s (advertised %s:%d)", cfg.NodeID, cfg.ReplicaID, cfg.Listen, cfg.Host, cfg.WorkerPort)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logFatal("listen: %v", err)
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)
	<-stop

	cancelLoop()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Printf("shutdown error: %v", err)
	}
	log.Printf("worker %d stopped", cfg.NodeID)
}

func connectCoordination(cfg Config) (coordination.Client, error) {
	if len(cfg.ZKServers) == 0 {
		return coordination.NewFakeCluster().Connect(), nil
	}
	return coordination.DialZK(cfg.ZKServers, cfg.SessionTTL)
}

func registerNode(ctx context.Context, client coordination.Client, ns *zkns.Namespace, cfg Config) error {
	payload, err := znode.Encode(znode.Map{
		znode.KeyHost:       cfg.Host,
		znode.KeyWorkerPort: strconv.Itoa(cfg.WorkerPort),
		znode.KeyNodeState:  string(shard.NodeStateStarting),
	})
	if err != nil {
		return err
	}
	nodePath := ns.Node(cfg.Service, cfg.ReplicaID, cfg.NodeID)
	if _, err := client.Create(ctx, nodePath, payload, true, false); err != nil {
		return err
	}
	if err := ensureZNode(ctx, client, ns.PrimaryParent(cfg.Service, cfg.ReplicaID, cfg.NodeID)); err != nil {
		return err
	}
	prefix := zkns.PrimaryChildPrefix(cfg.NodeID)
	_, err = client.Create(ctx, ns.PrimaryParent(cfg.Service, cfg.ReplicaID, cfg.NodeID)+"/"+prefix, nil, true, true)
	return err
}

// ensureZNode creates path and every missing ancestor as a plain
// (non-ephemeral, non-sequential) node, mirroring the original
// ZooKeeperNamespace's habit of creating its whole subtree on first
// touch rather than requiring a separate cluster-admin step.
func ensureZNode(ctx context.Context, client coordination.Client, path string) error {
	var chain []string
	for p := path; p != "" && p != "/"; p = parentOf(p) {
		chain = append(chain, p)
	}
	for i := len(chain) - 1; i >= 0; i-- {
		ok, err := client.Exists(ctx, chain[i])
		if err != nil {
			return err
		}
		if ok {
			continue
		}
		if _, err := client.Create(ctx, chain[i], nil, false, false); err != nil && !errors.Is(err, coordination.ErrNodeExists) {
			return err
		}
	}
	return nil
}

func parentOf(p string) string {
	i := len(p) - 1
	for i >= 0 && p[i] != '/' {
		i--
	}
	if i <= 0 {
		return "/"
	}
	return p[:i]
}
