package main

import (
	"bytes"
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"strconv"
	"strings"

	"github.com/sf1r-go/coordinator/internal/shard"
	"github.com/sf1r-go/coordinator/internal/storage"
)

// handleShardRequest routes /shard/{shardID}/store/{key} and
// /shard/{shardID}/stats, the same path shape as the teacher's
// cmd/node, with shards now created on demand under this worker's own
// (replica, node) seat rather than a flat coordinator-assigned id.
func handleShardRequest(w *worker, rw http.ResponseWriter, r *http.Request) {
	rest := strings.TrimPrefix(r.URL.Path, "/shard/")
	slash := strings.Index(rest, "/")
	if slash == -1 {
		http.Error(rw, "invalid path format", http.StatusBadRequest)
		return
	}
	shardID, err := strconv.Atoi(rest[:slash])
	if err != nil {
		http.Error(rw, "invalid shard ID", http.StatusBadRequest)
		return
	}
	s := w.get(shardID)
	remaining := rest[slash+1:]

	switch {
	case remaining == "stats":
		if r.Method == http.MethodGet {
			handleShardStats(s, rw)
			return
		}
	case strings.HasPrefix(remaining, "store"):
		storePath := strings.TrimPrefix(remaining, "store")
		switch {
		case storePath == "" || storePath == "/":
			if r.Method == http.MethodGet {
				handleListKeys(s, rw)
				return
			}
		case strings.HasPrefix(storePath, "/"):
			key := strings.TrimPrefix(storePath, "/")
			switch r.Method {
			case http.MethodGet:
				handleGetKey(s, key, rw)
			case http.MethodPut:
				handlePutKey(s, key, rw, r)
			case http.MethodDelete:
				handleDeleteKey(s, key, rw)
			default:
				http.Error(rw, "method not allowed", http.StatusMethodNotAllowed)
			}
			return
		}
	}
	http.Error(rw, "not found", http.StatusNotFound)
}

func handleGetKey(s *shard.Shard, key string, rw http.ResponseWriter) {
	value, err := s.Get(key)
	if err != nil {
		if errors.Is(err, storage.ErrKeyNotFound) {
			http.Error(rw, "key not found", http.StatusNotFound)
			return
		}
		http.Error(rw, err.Error(), http.StatusInternalServerError)
		return
	}
	rw.Header().Set("Content-Type", "application/octet-stream")
	if _, err := rw.Write(value); err != nil {
		log.Printf("write response: %v", err)
	}
}

func handlePutKey(s *shard.Shard, key string, rw http.ResponseWriter, r *http.Request) {
	var buf bytes.Buffer
	if _, err := buf.ReadFrom(r.Body); err != nil {
		http.Error(rw, "failed to read body", http.StatusBadRequest)
		return
	}
	if err := s.Put(key, buf.Bytes()); err != nil {
		http.Error(rw, err.Error(), http.StatusInternalServerError)
		return
	}
	rw.WriteHeader(http.StatusNoContent)
}

func handleDeleteKey(s *shard.Shard, key string, rw http.ResponseWriter) {
	if err := s.Delete(key); err != nil {
		http.Error(rw, err.Error(), http.StatusInternalServerError)
		return
	}
	rw.WriteHeader(http.StatusNoContent)
}

func handleListKeys(s *shard.Shard, rw http.ResponseWriter) {
	keys := s.ListKeys()
	rw.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(rw).Encode(struct {
		Keys  []string `json:"keys"`
		Count int      `json:"count"`
	}{Keys: keys, Count: len(keys)})
}

func handleShardStats(s *shard.Shard, rw http.ResponseWriter) {
	stats := s.GetStats()
	rw.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(rw).Encode(struct {
		ShardID int                  `json:"shard_id"`
		Ops     shard.OperationStats `json:"operations"`
		Storage storage.StoreStats   `json:"storage"`
	}{ShardID: s.ID, Ops: stats.Ops, Storage: stats.Storage})
}

func handleNodeInfo(w *worker, rw http.ResponseWriter, _ *http.Request) {
	w.mu.RLock()
	infos := make([]shard.ShardInfo, 0, len(w.shard))
	for _, s := range w.shard {
		infos = append(infos, s.Info())
	}
	w.mu.RUnlock()

	rw.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(rw).Encode(struct {
		NodeID int               `json:"node_id"`
		Shards []shard.ShardInfo `json:"shards"`
		Count  int               `json:"shard_count"`
	}{NodeID: w.id, Shards: infos, Count: len(infos)})
}
