package main

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/sf1r-go/coordinator/internal/storage"
)

// rpcArgs is the payload aggregator.HTTPRouter.Call posts for the
// get/put/delete rpcs this worker exposes: one JSON body per call
// carrying the shard id the caller's routing table resolved, the key,
// and, for put, the value.
type rpcArgs struct {
	Shard int    `json:"shard"`
	Key   string `json:"key"`
	Value []byte `json:"value,omitempty"`
}

type rpcReply struct {
	Body []byte `json:"body,omitempty"`
	Err  string `json:"err,omitempty"`
}

// registerRPCHandlers wires the aggregator-facing RPC surface onto mux,
// satisfying the contract aggregator.HTTPRouter.Call expects: POST a
// JSON body to /<rpc>, get back {"body": [...]}.
func registerRPCHandlers(mux *http.ServeMux, w *worker) {
	mux.HandleFunc("/get", func(rw http.ResponseWriter, r *http.Request) {
		a, err := decodeRPC(r)
		if err != nil {
			http.Error(rw, err.Error(), http.StatusBadRequest)
			return
		}
		body, err := w.get(a.Shard).Get(a.Key)
		writeRPCReply(rw, body, err)
	})

	mux.HandleFunc("/put", func(rw http.ResponseWriter, r *http.Request) {
		a, err := decodeRPC(r)
		if err != nil {
			http.Error(rw, err.Error(), http.StatusBadRequest)
			return
		}
		err = w.get(a.Shard).Put(a.Key, a.Value)
		writeRPCReply(rw, nil, err)
	})

	mux.HandleFunc("/delete", func(rw http.ResponseWriter, r *http.Request) {
		a, err := decodeRPC(r)
		if err != nil {
			http.Error(rw, err.Error(), http.StatusBadRequest)
			return
		}
		err = w.get(a.Shard).Delete(a.Key)
		writeRPCReply(rw, nil, err)
	})
}

func decodeRPC(r *http.Request) (rpcArgs, error) {
	var a rpcArgs
	if err := json.NewDecoder(r.Body).Decode(&a); err != nil {
		return rpcArgs{}, err
	}
	return a, nil
}

func writeRPCReply(rw http.ResponseWriter, body []byte, err error) {
	rw.Header().Set("Content-Type", "application/json")
	if err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, storage.ErrKeyNotFound) {
			status = http.StatusNotFound
		}
		rw.WriteHeader(status)
		_ = json.NewEncoder(rw).Encode(rpcReply{Err: err.Error()})
		return
	}
	_ = json.NewEncoder(rw).Encode(rpcReply{Body: body})
}
