package coordination

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
)

// FakeCluster is an in-memory coordination service shared by any number
// of FakeClient sessions. It is the reference implementation of the
// znode semantics every real client must match, and is what
// internal/topology and internal/writepipeline tests drive directly to
// produce the "simulated coordination trace" of spec.md §8 property 7.
type FakeCluster struct {
	mu       sync.Mutex
	nodes    map[string]*fakeNode
	watchers map[string][]chan Event // path -> pending one-shot watchers
	seq      uint64
	sessions map[*FakeClient]struct{}
}

type fakeNode struct {
	data      []byte
	ephemeral bool
	owner     *FakeClient
	children  map[string]struct{}
}

// NewFakeCluster returns an empty cluster with just the root "/" node.
func NewFakeCluster() *FakeCluster {
	c := &FakeCluster{
		nodes:    make(map[string]*fakeNode),
		watchers: make(map[string][]chan Event),
		sessions: make(map[*FakeClient]struct{}),
	}
	c.nodes["/"] = &fakeNode{children: make(map[string]struct{})}
	return c
}

// Connect opens a new session against the cluster. Ephemeral nodes
// created through the returned client are removed when the client is
// closed or when ExpireSession is called for it.
func (c *FakeCluster) Connect() *FakeClient {
	fc := &FakeClient{cluster: c, events: make(chan Event, 64)}
	c.mu.Lock()
	c.sessions[fc] = struct{}{}
	c.mu.Unlock()
	fc.events <- Event{Type: SessionConnected}
	return fc
}

// ExpireSession simulates the coordination service losing a client's
// session: every ephemeral node it owns is removed (firing watches) and
// a SessionExpired event is delivered to it.
func (c *FakeCluster) ExpireSession(fc *FakeClient) {
	c.mu.Lock()
	c.removeSessionEphemerals(fc)
	c.mu.Unlock()
	select {
	case fc.events <- Event{Type: SessionExpired}:
	default:
	}
}

func (c *FakeCluster) removeSessionEphemerals(fc *FakeClient) {
	for path, n := range c.nodes {
		if n.ephemeral && n.owner == fc {
			c.deleteLocked(path)
		}
	}
}

func parentOf(path string) string {
	if path == "/" {
		return "/"
	}
	i := strings.LastIndex(path, "/")
	if i <= 0 {
		return "/"
	}
	return path[:i]
}

func baseOf(path string) string {
	i := strings.LastIndex(path, "/")
	return path[i+1:]
}

func (c *FakeCluster) fireLocked(path string, et EventType) {
	for _, ch := range c.watchers[path] {
		select {
		case ch <- Event{Type: et, Path: path}:
		default:
		}
		close(ch)
	}
	delete(c.watchers, path)
}

func (c *FakeCluster) createLocked(fc *FakeClient, path string, data []byte, ephemeral, sequential bool) (string, error) {
	parent := parentOf(path)
	pnode, ok := c.nodes[parent]
	if !ok {
		return "", fmt.Errorf("%w: parent %q", ErrNoNode, parent)
	}

	full := path
	if sequential {
		c.seq++
		full = fmt.Sprintf("%s%0*d", path, SequenceSuffixLen, c.seq)
	}

	if _, exists := c.nodes[full]; exists {
		return "", fmt.Errorf("%w: %q", ErrNodeExists, full)
	}

	c.nodes[full] = &fakeNode{
		data:      append([]byte(nil), data...),
		ephemeral: ephemeral,
		owner:     fc,
		children:  make(map[string]struct{}),
	}
	pnode.children[baseOf(full)] = struct{}{}

	c.fireLocked(full, NodeCreated)
	c.fireLocked(parent, ChildrenChanged)
	return full, nil
}

func (c *FakeCluster) deleteLocked(path string) error {
	n, ok := c.nodes[path]
	if !ok {
		return fmt.Errorf("%w: %q", ErrNoNode, path)
	}
	if len(n.children) > 0 {
		return fmt.Errorf("%w: %q", ErrNotEmpty, path)
	}
	delete(c.nodes, path)
	if pnode, ok := c.nodes[parentOf(path)]; ok {
		delete(pnode.children, baseOf(path))
	}
	c.fireLocked(path, NodeDeleted)
	c.fireLocked(parentOf(path), ChildrenChanged)
	return nil
}

// FakeClient is one session against a FakeCluster.
type FakeClient struct {
	cluster *FakeCluster
	events  chan Event
	closed  bool
	mu      sync.Mutex
}

var _ Client = (*FakeClient)(nil)

func (fc *FakeClient) Create(_ context.Context, path string, data []byte, ephemeral, sequential bool) (string, error) {
	fc.cluster.mu.Lock()
	defer fc.cluster.mu.Unlock()
	if fc.isClosed() {
		return "", ErrClosed
	}
	return fc.cluster.createLocked(fc, path, data, ephemeral, sequential)
}

func (fc *FakeClient) Set(_ context.Context, path string, data []byte) error {
	fc.cluster.mu.Lock()
	defer fc.cluster.mu.Unlock()
	if fc.isClosed() {
		return ErrClosed
	}
	n, ok := fc.cluster.nodes[path]
	if !ok {
		return fmt.Errorf("%w: %q", ErrNoNode, path)
	}
	n.data = append([]byte(nil), data...)
	fc.cluster.fireLocked(path, DataChanged)
	return nil
}

func (fc *FakeClient) Get(_ context.Context, path string) ([]byte, bool, error) {
	fc.cluster.mu.Lock()
	defer fc.cluster.mu.Unlock()
	if fc.isClosed() {
		return nil, false, ErrClosed
	}
	n, ok := fc.cluster.nodes[path]
	if !ok {
		return nil, false, nil
	}
	return append([]byte(nil), n.data...), true, nil
}

func (fc *FakeClient) Children(_ context.Context, path string) ([]string, error) {
	fc.cluster.mu.Lock()
	defer fc.cluster.mu.Unlock()
	if fc.isClosed() {
		return nil, ErrClosed
	}
	n, ok := fc.cluster.nodes[path]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrNoNode, path)
	}
	out := make([]string, 0, len(n.children))
	for name := range n.children {
		out = append(out, name)
	}
	sort.Strings(out)
	return out, nil
}

func (fc *FakeClient) Exists(_ context.Context, path string) (bool, error) {
	fc.cluster.mu.Lock()
	defer fc.cluster.mu.Unlock()
	if fc.isClosed() {
		return false, ErrClosed
	}
	_, ok := fc.cluster.nodes[path]
	return ok, nil
}

func (fc *FakeClient) Delete(_ context.Context, path string) error {
	fc.cluster.mu.Lock()
	defer fc.cluster.mu.Unlock()
	if fc.isClosed() {
		return ErrClosed
	}
	return fc.cluster.deleteLocked(path)
}

func (fc *FakeClient) Watch(_ context.Context, path string) (<-chan Event, error) {
	fc.cluster.mu.Lock()
	defer fc.cluster.mu.Unlock()
	if fc.isClosed() {
		return nil, ErrClosed
	}
	ch := make(chan Event, 1)
	fc.cluster.watchers[path] = append(fc.cluster.watchers[path], ch)
	return ch, nil
}

func (fc *FakeClient) Events() <-chan Event {
	return fc.events
}

func (fc *FakeClient) Close() error {
	fc.mu.Lock()
	if fc.closed {
		fc.mu.Unlock()
		return nil
	}
	fc.closed = true
	fc.mu.Unlock()

	fc.cluster.mu.Lock()
	fc.cluster.removeSessionEphemerals(fc)
	delete(fc.cluster.sessions, fc)
	fc.cluster.mu.Unlock()

	close(fc.events)
	return nil
}

func (fc *FakeClient) isClosed() bool {
	fc.mu.Lock()
	defer fc.mu.Unlock()
	return fc.closed
}
