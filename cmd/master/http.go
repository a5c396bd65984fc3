package main

import (
	"encoding/json"
	"net/http"

	"github.com/sf1r-go/coordinator/internal/aggregator"
	"github.com/sf1r-go/coordinator/internal/master"
	"github.com/sf1r-go/coordinator/internal/registry"
	"github.com/sf1r-go/coordinator/internal/reqtype"
	"github.com/sf1r-go/coordinator/internal/topology"
	"github.com/sf1r-go/coordinator/internal/writepipeline"
)

// registerHTTPHandlers wires the master's client-facing and
// introspection surface onto mux: /health for liveness, /status and
// /topology for debugging the state machine and worker maps, /write
// for submitting a mutating request into the pipeline, and /call for
// routing a read through the primary aggregator.
func registerHTTPHandlers(mux *http.ServeMux, m *master.Master, w *topology.Watcher, p *writepipeline.Pipeline, svcRegistry *registry.ServiceRegistry, router aggregator.Router, cfg Config) {
	mux.HandleFunc("/health", func(rw http.ResponseWriter, _ *http.Request) {
		rw.WriteHeader(http.StatusOK)
	})

	mux.HandleFunc("/status", func(rw http.ResponseWriter, r *http.Request) {
		handleStatus(m, rw, r)
	})

	mux.HandleFunc("/topology", func(rw http.ResponseWriter, r *http.Request) {
		handleTopology(w, cfg, rw, r)
	})

	mux.HandleFunc("/write", func(rw http.ResponseWriter, r *http.Request) {
		handleWrite(p, rw, r)
	})

	mux.HandleFunc("/call", func(rw http.ResponseWriter, r *http.Request) {
		handleCall(router, rw, r)
	})

	mux.HandleFunc("/master", func(rw http.ResponseWriter, r *http.Request) {
		handleMasterLookup(svcRegistry, cfg, rw, r)
	})
}

func handleStatus(m *master.Master, rw http.ResponseWriter, r *http.Request) {
	elected, err := m.IsElected(r.Context())
	if err != nil {
		http.Error(rw, err.Error(), http.StatusInternalServerError)
		return
	}
	rw.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(rw).Encode(struct {
		State   string `json:"state"`
		Elected bool   `json:"elected"`
	}{State: m.State().String(), Elected: elected})
}

type topologyShard struct {
	ShardID  int            `json:"shard_id"`
	Primary  *topologyNode  `json:"primary,omitempty"`
	ReadOnly []topologyNode `json:"read_only,omitempty"`
}

type topologyNode struct {
	ReplicaID int    `json:"replica_id"`
	NodeID    int    `json:"node_id"`
	Host      string `json:"host"`
	Port      int    `json:"port"`
}

func handleTopology(w *topology.Watcher, cfg Config, rw http.ResponseWriter, _ *http.Request) {
	shards := make([]topologyShard, 0, cfg.NumShards)
	for shardID := 0; shardID < cfg.NumShards; shardID++ {
		ts := topologyShard{ShardID: shardID}
		if n, ok := w.PrimaryNode(shardID); ok {
			ep := n.WorkerEndpoint()
			ts.Primary = &topologyNode{ReplicaID: n.ReplicaID, NodeID: n.NodeID, Host: ep.Host, Port: ep.Port}
		}
		for _, n := range w.ReadOnlyNodes(shardID) {
			ep := n.WorkerEndpoint()
			ts.ReadOnly = append(ts.ReadOnly, topologyNode{ReplicaID: n.ReplicaID, NodeID: n.NodeID, Host: ep.Host, Port: ep.Port})
		}
		shards = append(shards, ts)
	}

	rw.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(rw).Encode(struct {
		ActiveReplica int             `json:"active_replica"`
		Shards        []topologyShard `json:"shards"`
	}{ActiveReplica: w.ActiveReplica(), Shards: shards})
}

type writeRequest struct {
	ReqType string `json:"req_type"`
	Payload []byte `json:"payload"`
	Shards  []int  `json:"shards,omitempty"`
}

func handleWrite(p *writepipeline.Pipeline, rw http.ResponseWriter, r *http.Request) {
	var req writeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(rw, "bad json", http.StatusBadRequest)
		return
	}
	reqType := reqtype.Type(req.ReqType)
	if !reqtype.IsWrite(reqType) {
		http.Error(rw, "not a write request type", http.StatusBadRequest)
		return
	}

	var path string
	var err error
	if len(req.Shards) > 0 {
		path, err = p.PushWriteToShards(r.Context(), reqType, req.Payload, req.Shards, false, false)
	} else {
		path, err = p.PushWrite(r.Context(), reqType, req.Payload)
	}
	if err != nil {
		http.Error(rw, err.Error(), http.StatusInternalServerError)
		return
	}

	rw.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(rw).Encode(struct {
		Path string `json:"path"`
	}{Path: path})
}

type callRequest struct {
	ShardID int    `json:"shard_id"`
	RPC     string `json:"rpc"`
	Args    any    `json:"args"`
}

func handleCall(router aggregator.Router, rw http.ResponseWriter, r *http.Request) {
	if router == nil {
		http.Error(rw, "no read router configured", http.StatusServiceUnavailable)
		return
	}
	var req callRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(rw, "bad json", http.StatusBadRequest)
		return
	}
	body, err := router.Call(r.Context(), req.ShardID, req.RPC, req.Args)
	if err != nil {
		http.Error(rw, err.Error(), http.StatusBadGateway)
		return
	}
	rw.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(rw).Encode(struct {
		Body []byte `json:"body"`
	}{Body: body})
}

func handleMasterLookup(svcRegistry *registry.ServiceRegistry, cfg Config, rw http.ResponseWriter, r *http.Request) {
	ep, ok, err := svcRegistry.MasterEndpoint(r.Context(), cfg.Service)
	if err != nil {
		http.Error(rw, err.Error(), http.StatusInternalServerError)
		return
	}
	if !ok {
		http.Error(rw, "no elected master", http.StatusNotFound)
		return
	}
	rw.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(rw).Encode(ep)
}
