package main

import (
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func clearMasterEnv(t *testing.T) {
	t.Helper()
	for _, k := range []string{
		"MASTER_SERVICE", "MASTER_CLUSTER_ROOT", "MASTER_ZK_SERVERS",
		"MASTER_NUM_SHARDS", "MASTER_MIN_WORKERS_PER_SHARD", "MASTER_PORT",
		"MASTER_REPLICA_ID", "MASTER_NODE_ID", "MASTER_HOST", "MASTER_LISTEN",
		"MASTER_REQLOG_DIR",
	} {
		os.Unsetenv(k)
	}
}

func TestLoadConfigRequiresNodeID(t *testing.T) {
	clearMasterEnv(t)
	_, err := loadConfig()
	require.Error(t, err)
	var cfgErr *ConfigError
	require.ErrorAs(t, err, &cfgErr)
	require.Equal(t, "MASTER_NODE_ID", cfgErr.Field)
}

func TestLoadConfigDefaults(t *testing.T) {
	clearMasterEnv(t)
	os.Setenv("MASTER_NODE_ID", "0")
	defer os.Unsetenv("MASTER_NODE_ID")

	cfg, err := loadConfig()
	require.NoError(t, err)
	require.Equal(t, 1, cfg.NumShards)
	require.Equal(t, 1, cfg.MinWorkersPerShard)
	require.Equal(t, "127.0.0.1", cfg.Host)
	require.Equal(t, ":9000", cfg.Listen)
	require.Equal(t, 9000, cfg.MasterPort)
	require.Nil(t, cfg.ZKServers)
	require.Equal(t, 200*time.Millisecond, cfg.DispatchPollInterval)
}

func TestLoadConfigRejectsZeroMinWorkers(t *testing.T) {
	clearMasterEnv(t)
	os.Setenv("MASTER_NODE_ID", "0")
	os.Setenv("MASTER_MIN_WORKERS_PER_SHARD", "0")
	defer os.Unsetenv("MASTER_NODE_ID")
	defer os.Unsetenv("MASTER_MIN_WORKERS_PER_SHARD")

	_, err := loadConfig()
	require.Error(t, err)
	var cfgErr *ConfigError
	require.ErrorAs(t, err, &cfgErr)
	require.Equal(t, "MASTER_MIN_WORKERS_PER_SHARD", cfgErr.Field)
}

func TestLoadConfigRejectsNonIntegerPort(t *testing.T) {
	clearMasterEnv(t)
	os.Setenv("MASTER_NODE_ID", "0")
	os.Setenv("MASTER_PORT", "not-a-port")
	defer os.Unsetenv("MASTER_NODE_ID")
	defer os.Unsetenv("MASTER_PORT")

	_, err := loadConfig()
	require.Error(t, err)
}

func TestLoadConfigParsesZKServers(t *testing.T) {
	clearMasterEnv(t)
	os.Setenv("MASTER_NODE_ID", "0")
	os.Setenv("MASTER_ZK_SERVERS", "zk1:2181,zk2:2181,zk3:2181")
	defer os.Unsetenv("MASTER_NODE_ID")
	defer os.Unsetenv("MASTER_ZK_SERVERS")

	cfg, err := loadConfig()
	require.NoError(t, err)
	require.Equal(t, []string{"zk1:2181", "zk2:2181", "zk3:2181"}, cfg.ZKServers)
}
