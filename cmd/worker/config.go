package main

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/sf1r-go/coordinator/internal/zkns"
)

// ConfigError reports a missing or malformed piece of configuration,
// detected at init and preventing start(), per spec.md §7.
type ConfigError struct {
	Field  string
	Reason string
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("config: %s: %s", e.Field, e.Reason)
}

// Config holds everything one worker process needs to register itself
// in the cluster topology and serve its shards.
type Config struct {
	Service     zkns.Service
	ClusterRoot string
	ZKServers   []string // empty selects the in-memory FakeClient for local/dev runs
	SessionTTL  time.Duration

	ReplicaID int
	NodeID    int
	NumShards int

	Host       string // advertised to the coordination service
	WorkerPort int
	Listen     string

	ReqLogDir string

	DispatchPollInterval time.Duration
}

// loadConfig reads WORKER_* environment variables. Required fields
// missing or out of range produce a *ConfigError rather than calling
// into log.Fatal directly, so main can decide how to report it.
func loadConfig() (Config, error) {
	cfg := Config{
		Service:              zkns.Service(getenv("WORKER_SERVICE", string(zkns.Search))),
		ClusterRoot:          getenv("WORKER_CLUSTER_ROOT", "/SF1R-cluster1"),
		SessionTTL:           10 * time.Second,
		Host:                 getenv("WORKER_HOST", "127.0.0.1"),
		Listen:               getenv("WORKER_LISTEN", ":9100"),
		ReqLogDir:            getenv("WORKER_REQLOG_DIR", "./data/reqlog"),
		DispatchPollInterval: 200 * time.Millisecond,
	}

	if v := os.Getenv("WORKER_ZK_SERVERS"); v != "" {
		cfg.ZKServers = strings.Split(v, ",")
	}

	replicaID, err := intEnv("WORKER_REPLICA_ID", 0)
	if err != nil {
		return Config{}, err
	}
	cfg.ReplicaID = replicaID

	nodeID, err := intEnv("WORKER_NODE_ID", -1)
	if err != nil {
		return Config{}, err
	}
	if nodeID < 0 {
		return Config{}, &ConfigError{Field: "WORKER_NODE_ID", Reason: "required"}
	}
	cfg.NodeID = nodeID

	numShards, err := intEnv("WORKER_NUM_SHARDS", 1)
	if err != nil {
		return Config{}, err
	}
	if numShards <= 0 {
		return Config{}, &ConfigError{Field: "WORKER_NUM_SHARDS", Reason: "must be > 0"}
	}
	cfg.NumShards = numShards

	workerPort, err := intEnv("WORKER_PORT", 9100)
	if err != nil {
		return Config{}, err
	}
	cfg.WorkerPort = workerPort

	return cfg, nil
}

func getenv(k, def string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return def
}

func intEnv(k string, def int) (int, error) {
	v := os.Getenv(k)
	if v == "" {
		return def, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, &ConfigError{Field: k, Reason: fmt.Sprintf("not an integer: %q", v)}
	}
	return n, nil
}
