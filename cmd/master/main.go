// Command master runs the Master Manager process for one service: it
// stands for master election, drives the worker/replica topology
// watcher, and dispatches the service's write-request pipeline to
// primaries as the queue changes.
//
// Was cmd/coordinator in the teacher; generalized from a flat
// self-registering node directory into a coordination-driven service
// master with an elected, fail-over-aware dispatcher.
package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sf1r-go/coordinator/internal/aggregator"
	"github.com/sf1r-go/coordinator/internal/coordination"
	"github.com/sf1r-go/coordinator/internal/master"
	"github.com/sf1r-go/coordinator/internal/registry"
	"github.com/sf1r-go/coordinator/internal/reqlog"
	"github.com/sf1r-go/coordinator/internal/topology"
	"github.com/sf1r-go/coordinator/internal/writepipeline"
	"github.com/sf1r-go/coordinator/internal/zkns"
)

// logFatal is overridden in tests to intercept fatal paths, the
// teacher's cmd/node/cmd/coordinator indirection.
var logFatal = log.Fatalf

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

	if err := ensurePaths(ctx, client, ns, cfg); err != nil {
		logFatal("create topology paths: %v", err)
	}

	rlog, err := reqlog.Open(cfg.ReqLogDir)
	if err != nil {
		logFatal("open request log: %v", err)
	}

	readRouter := aggregator.NewHTTPRouter()
	roReadRouter := aggregator.NewHTTPRouter()
	watcher := topology.NewWatcher(client, ns, cfg.Service, cfg.NumShards, readRouter, roReadRouter)

	m := master.New(client, ns, cfg.Service, watcher, master.Config{
		Host:               cfg.Host,
		MasterPort:         cfg.MasterPort,
		NumShards:          cfg.NumShards,
		MinWorkersPerShard: cfg.MinWorkersPerShard,
	})

	pipeline := writepipeline.New(client, ns, cfg.Service, watcher, rlog, cfg.ReplicaID, cfg.NodeID, cfg.NumShards)
	svcRegistry := registry.NewServiceRegistry(client, ns)

	if err := watcher.Refresh(ctx); err != nil {
		logFatal("initial topology refresh: %v", err)
	}
	if err := m.Start(ctx); err != nil {
		logFatal("start master state machine: %v", err)
	}

	d := &dispatcher{
		client:   client,
		watcher:  watcher,
		master:   m,
		pipeline: pipeline,
		ns:       ns,
		svc:      cfg.Service,
	}

	loopCtx, cancelLoop := context.WithCancel(ctx)
	go d.run(loopCtx, cfg.DispatchPollInterval)

	mux := http.NewServeMux()
	registerHTTPHandlers(mux, m, watcher, pipeline, svcRegistry, readRouter, cfg)

	srv := &http.Server{
		Addr:              cfg.Listen,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		log.Printf("master[%s] listening on %s (advertised %s:%d)", cfg.Service, cfg.Listen, cfg.Host, cfg.MasterPort)
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
	if err := m.Stop(shutdownCtx); err != nil {
		log.Printf("stop master: %v", err)
	}
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Printf("shutdown error: %v", err)
	}
	log.Printf("master %s stopped", cfg.Service)
}

func connectCoordination(cfg Config) (coordination.Client, error) {
	if len(cfg.ZKServers) == 0 {
		return coordination.NewFakeCluster().Connect(), nil
	}
	return coordination.DialZK(cfg.ZKServers, cfg.SessionTTL)
}

// ensurePaths creates the handful of subtrees this service needs to
// exist before Refresh/Start can observe anything meaningful: the
// write-request queue and the service's master-candidate directory.
// Per-replica/per-node paths are created by workers themselves.
func ensurePaths(ctx context.Context, client coordination.Client, ns *zkns.Namespace, cfg Config) error {
	if err := ensureZNode(ctx, client, ns.WriteRequestQueue(cfg.Service)); err != nil {
		return err
	}
	return ensureZNode(ctx, client, ns.Servers(cfg.Service))
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
