package coordination

import (
	"context"
	"errors"
)

// Sentinel errors returned by Client implementations. Callers upstream
// translate these into the error taxonomy of spec.md §7
// (CoordinationTransient / CoordinationFatal / Timeout).
var (
	ErrNoNode      = errors.New("coordination: node does not exist")
	ErrNodeExists  = errors.New("coordination: node already exists")
	ErrNotEmpty    = errors.New("coordination: node has children")
	ErrClosed      = errors.New("coordination: client closed")
	ErrSessionLost = errors.New("coordination: session expired")
)

// EventType classifies a notification delivered on a Client's event
// channel.
type EventType int

const (
	// NodeCreated fires for a watched path (via ExistsW-style watch)
	// when the node is created.
	NodeCreated EventType = iota
	// NodeDeleted fires for a watched path when the node is deleted.
	NodeDeleted
	// DataChanged fires when a watched node's payload is overwritten.
	DataChanged
	// ChildrenChanged fires when a watched node's child set changes
	// (a child created or deleted).
	ChildrenChanged
	// SessionConnected fires once the client has a live session with
	// the coordination service.
	SessionConnected
	// SessionExpired fires when the session is lost; every ephemeral
	// node owned by this client must be assumed gone, and every
	// outstanding watch must be re-registered once SessionConnected
	// fires again.
	SessionExpired
)

// Event is a single coordination notification.
type Event struct {
	Type EventType
	Path string
}

// Client is the coordination-service handle shared by every component
// that needs cluster-wide agreement: the master state machine, the
// topology watcher, and the write-request pipeline.
//
// Implementations must be safe for concurrent use by multiple
// goroutines; each component holds one shared Client.
type Client interface {
	// Create makes a znode at path with the given payload. If
	// sequential, a monotonically increasing zero-padded decimal
	// suffix is appended to path's last component and the resulting
	// full path is returned. If ephemeral, the node is removed when
	// this client's session closes or expires. Create's parent must
	// already exist; returns ErrNoNode otherwise. Returns ErrNodeExists
	// if a non-sequential path already exists.
	Create(ctx context.Context, path string, data []byte, ephemeral, sequential bool) (string, error)

	// Set overwrites the payload of an existing node. Returns ErrNoNode
	// if path does not exist.
	Set(ctx context.Context, path string, data []byte) error

	// Get returns the current payload of path. ok is false if path does
	// not exist.
	Get(ctx context.Context, path string) (data []byte, ok bool, err error)

	// Children returns the immediate child names of path, in no
	// particular order (callers that need primary-election ordering
	// sort by sequence suffix themselves). Returns ErrNoNode if path
	// does not exist.
	Children(ctx context.Context, path string) ([]string, error)

	// Exists reports whether path currently exists.
	Exists(ctx context.Context, path string) (bool, error)

	// Delete removes path. Returns ErrNoNode if it does not exist, or
	// ErrNotEmpty if it has children.
	Delete(ctx context.Context, path string) error

	// Watch arranges for a NodeCreated/NodeDeleted/DataChanged event to
	// be delivered on the returned channel the next time path's
	// existence or payload changes, and for a ChildrenChanged event the
	// next time its child set changes. The watch fires at most once;
	// callers that want to keep watching re-call Watch after each
	// event. The channel is closed when the client is closed.
	Watch(ctx context.Context, path string) (<-chan Event, error)

	// Events returns the channel on which session-level events
	// (SessionConnected, SessionExpired) are delivered.
	Events() <-chan Event

	// Close releases the session, removing every ephemeral node it
	// owns.
	Close() error
}

// SequenceSuffixLen is the fixed width of the zero-padded decimal
// sequence counter appended to sequential znode names, matching
// ZooKeeper's own convention closely enough for the lowest-sequence-wins
// election rule to be a simple lexicographic comparison.
const SequenceSuffixLen = 10
