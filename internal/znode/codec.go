package znode

import (
	"fmt"

	"github.com/fxamacker/cbor/v2"
)

// Recognized data keys, mirroring the original ZooKeeperNamespace's ZNode
// key constants. Callers are not restricted to these -- Encode/Decode
// round-trip any string key -- but code elsewhere in this module reads
// and writes payloads using these names.
const (
	KeyUsername           = "username"
	KeyHost               = "host"
	KeyBasePort           = "baport"
	KeyDataPort           = "dataport"
	KeyMasterName         = "mastername"
	KeyMasterPort         = "masterport"
	KeyWorkerPort         = "workerport"
	KeyReplicaID          = "replicaid"
	KeyCollection         = "collection"
	KeyNodeState          = "nodestate"
	KeySelfPrimaryPath    = "self_primary_nodepath"
	KeyMasterServerPath   = "master_server_realpath"
	KeyReqData            = "req_data"
	KeyReqType            = "req_type"
)

// Map is the decoded form of a znode payload: a flat string-to-string
// mapping. Node advertisements and service server entries encode a Map;
// write-request envelopes and migration markers use writepipeline's own
// encoding instead.
type Map map[string]string

var encMode cbor.EncMode

func init() {
	opts := cbor.CanonicalEncOptions()
	m, err := opts.EncMode()
	if err != nil {
		panic(fmt.Sprintf("znode: building canonical CBOR encoder: %v", err))
	}
	encMode = m
}

// Encode serializes m into a stable, self-delimiting byte payload
// suitable for storing in a coordination znode. An empty or nil map
// encodes to a non-nil, zero-length-decoding payload.
//
// Canonical CBOR is used rather than a hand-rolled length-prefixed
// format: map keys are emitted in a deterministic order, so two nodes
// encoding the same logical Map always produce byte-identical output.
func Encode(m Map) ([]byte, error) {
	if m == nil {
		m = Map{}
	}
	b, err := encMode.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("znode: encode: %w", err)
	}
	return b, nil
}

// Decode parses a payload produced by Encode. An empty payload decodes
// to an empty, non-nil Map. Unknown keys are preserved.
func Decode(payload []byte) (Map, error) {
	if len(payload) == 0 {
		return Map{}, nil
	}
	var m Map
	if err := cbor.Unmarshal(payload, &m); err != nil {
		return nil, fmt.Errorf("znode: decode: %w", err)
	}
	if m == nil {
		m = Map{}
	}
	return m, nil
}
