package writepipeline

import (
	"fmt"

	"github.com/fxamacker/cbor/v2"

	"github.com/sf1r-go/coordinator/internal/reqtype"
)

// Envelope is one write request as it travels from the service's
// WriteRequestQueue child through the WriteRequest markers on each
// participating node. Unlike reqlog.CommonReqData it carries the
// routing information (Shards, ForMigrate, IncludeSelf) the dispatcher
// needs and that has no business living in the durable log.
type Envelope struct {
	ReqType reqtype.Type
	Payload []byte

	// Shards is the explicit target set for push_write_to_shards; nil
	// means "derive from the request", via reqtype.IsAutoSharded or a
	// key-derived shard.
	Shards      []int
	ForMigrate  bool
	IncludeSelf bool

	// IncID is set by the primary once RLM.Prepare stamps it, so
	// replicas picking up the re-written marker know what to validate
	// against.
	IncID uint32

	// QueuePath and Seq are filled in by headOfQueue from the coordination
	// child name, not stored in the encoded payload.
	QueuePath string `cbor:"-"`
	Seq       uint64 `cbor:"-"`
}

func encodeEnvelope(e Envelope) ([]byte, error) {
	b, err := cbor.Marshal(e)
	if err != nil {
		return nil, fmt.Errorf("writepipeline: encode envelope: %w", err)
	}
	return b, nil
}

func decodeEnvelope(data []byte) (Envelope, error) {
	var e Envelope
	if err := cbor.Unmarshal(data, &e); err != nil {
		return Envelope{}, fmt.Errorf("writepipeline: decode envelope: %w", err)
	}
	return e, nil
}
