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

// Config holds everything one master process needs to stand for
// election on a service and drive its write-request pipeline.
type Config struct {
	Service     zkns.Service
	ClusterRoot string
	ZKServers   []string // empty selects the in-memory FakeClient for local/dev runs
	SessionTTL  time.Duration

	NumShards          int
	MinWorkersPerShard int

	Host       string
	MasterPort int
	Listen     string

	ReplicaID int
	NodeID    int
	ReqLogDir string

	DispatchPollInterval time.Duration
}

// loadConfig reads MASTER_* environment variables. Required fields
// missing or out of range produce a *ConfigError rather than calling
// into log.Fatal directly, so main can decide how to report it.
func loadConfig() (Config, error) {
	cfg := Config{
		Service:              zkns.Service(getenv("MASTER_SERVICE", string(zkns.Search))),
		ClusterRoot:          getenv("MASTER_CLUSTER_ROOT", "/SF1R-cluster1"),
		SessionTTL:           10 * time.Second,
		MinWorkersPerShard:   1,
		Host:                 getenv("MASTER_HOST", "127.0.0.1"),
		Listen:               getenv("MASTER_LISTEN", ":9000"),
		ReqLogDir:            getenv("MASTER_REQLOG_DIR", "./data/master-reqlog"),
		DispatchPollInterval: 200 * time.Millisecond,
	}

	if v := os.Getenv("MASTER_ZK_SERVERS"); v != "" {
		cfg.ZKServers = strings.Split(v, ",")
	}

	numShards, err := intEnv("MASTER_NUM_SHARDS", 1)
	if err != nil {
		return Config{}, err
	}
	if numShards <= 0 {
		return Config{}, &ConfigError{Field: "MASTER_NUM_SHARDS", Reason: "must be > 0"}
	}
	cfg.NumShards = numShards

	minWorkers, err := intEnv("MASTER_MIN_WORKERS_PER_SHARD", 1)
	if err != nil {
		return Config{}, err
	}
	if minWorkers <= 0 {
		return Config{}, &ConfigError{Field: "MASTER_MIN_WORKERS_PER_SHARD", Reason: "must be > 0"}
	}
	cfg.MinWorkersPerShard = minWorkers

	masterPort, err := intEnv("MASTER_PORT", 9000)
	if err != nil {
		return Config{}, err
	}
	cfg.MasterPort = masterPort

	replicaID, err := intEnv("MASTER_REPLICA_ID", 0)
	if err != nil {
		return Config{}, err
	}
	cfg.ReplicaID = replicaID

	nodeID, err := intEnv("MASTER_NODE_ID", -1)
	if err != nil {
		return Config{}, err
	}
	if nodeID < 0 {
		return Config{}, &ConfigError{Field: "MASTER_NODE_ID", Reason: "required"}
	}
	cfg.NodeID = nodeID

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
