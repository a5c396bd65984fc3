package coordination

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/go-zookeeper/zk"
)

// ZKClient adapts a github.com/go-zookeeper/zk connection to the Client
// interface. It is the production implementation; internal/coordination
// tests and every other package's tests run against FakeClient instead,
// since a real ZooKeeper ensemble is not available in this module's test
// environment.
type ZKClient struct {
	conn   *zk.Conn
	events chan Event

	mu     sync.Mutex
	closed bool
}

// DialZK connects to a ZooKeeper ensemble and returns a Client backed by
// it. sessionTimeout bounds how long the ensemble waits before expiring
// this client's session after a network partition.
func DialZK(servers []string, sessionTimeout time.Duration) (*ZKClient, error) {
	conn, zkEvents, err := zk.Connect(servers, sessionTimeout)
	if err != nil {
		return nil, fmt.Errorf("coordination: dial zookeeper: %w", err)
	}

	c := &ZKClient{conn: conn, events: make(chan Event, 64)}
	go c.pumpSessionEvents(zkEvents)
	return c, nil
}

func (c *ZKClient) pumpSessionEvents(src <-chan zk.Event) {
	for ev := range src {
		var out Event
		switch ev.State {
		case zk.StateHasSession:
			out = Event{Type: SessionConnected}
		case zk.StateExpired:
			out = Event{Type: SessionExpired}
		default:
			continue
		}
		select {
		case c.events <- out:
		default:
		}
	}
}

var _ Client = (*ZKClient)(nil)

func (c *ZKClient) Create(_ context.Context, path string, data []byte, ephemeral, sequential bool) (string, error) {
	flags := int32(0)
	if ephemeral {
		flags |= zk.FlagEphemeral
	}
	if sequential {
		flags |= zk.FlagSequence
	}
	full, err := c.conn.Create(path, data, flags, zk.WorldACL(zk.PermAll))
	if err != nil {
		return "", translateZKErr(err, path)
	}
	return full, nil
}

func (c *ZKClient) Set(_ context.Context, path string, data []byte) error {
	_, stat, err := c.conn.Get(path)
	if err != nil {
		return translateZKErr(err, path)
	}
	_, err = c.conn.Set(path, data, stat.Version)
	return translateZKErr(err, path)
}

func (c *ZKClient) Get(_ context.Context, path string) ([]byte, bool, error) {
	data, _, err := c.conn.Get(path)
	if errors.Is(err, zk.ErrNoNode) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, translateZKErr(err, path)
	}
	return data, true, nil
}

func (c *ZKClient) Children(_ context.Context, path string) ([]string, error) {
	children, _, err := c.conn.Children(path)
	if err != nil {
		return nil, translateZKErr(err, path)
	}
	return children, nil
}

func (c *ZKClient) Exists(_ context.Context, path string) (bool, error) {
	ok, _, err := c.conn.Exists(path)
	if err != nil {
		return false, translateZKErr(err, path)
	}
	return ok, nil
}

func (c *ZKClient) Delete(_ context.Context, path string) error {
	_, stat, err := c.conn.Get(path)
	if err != nil {
		return translateZKErr(err, path)
	}
	return translateZKErr(c.conn.Delete(path, stat.Version), path)
}

func (c *ZKClient) Watch(ctx context.Context, path string) (<-chan Event, error) {
	out := make(chan Event, 1)

	ok, _, existsEvCh, err := c.conn.ExistsW(path)
	if err != nil {
		return nil, translateZKErr(err, path)
	}

	if !ok {
		go c.forwardOne(ctx, existsEvCh, path, out)
		return out, nil
	}

	_, _, dataEvCh, err := c.conn.GetW(path)
	if err != nil {
		return nil, translateZKErr(err, path)
	}
	_, _, childEvCh, err := c.conn.ChildrenW(path)
	if err != nil {
		return nil, translateZKErr(err, path)
	}

	go func() {
		select {
		case ev := <-dataEvCh:
			out <- translateZKWatchEvent(ev)
		case ev := <-childEvCh:
			out <- translateZKWatchEvent(ev)
		case <-ctx.Done():
		}
		close(out)
	}()

	return out, nil
}

func (c *ZKClient) forwardOne(ctx context.Context, src <-chan zk.Event, path string, out chan Event) {
	select {
	case ev := <-src:
		out <- translateZKWatchEvent(ev)
	case <-ctx.Done():
	}
	close(out)
}

func translateZKWatchEvent(ev zk.Event) Event {
	switch ev.Type {
	case zk.EventNodeCreated:
		return Event{Type: NodeCreated, Path: ev.Path}
	case zk.EventNodeDeleted:
		return Event{Type: NodeDeleted, Path: ev.Path}
	case zk.EventNodeDataChanged:
		return Event{Type: DataChanged, Path: ev.Path}
	case zk.EventNodeChildrenChanged:
		return Event{Type: ChildrenChanged, Path: ev.Path}
	default:
		return Event{Type: ChildrenChanged, Path: ev.Path}
	}
}

func (c *ZKClient) Events() <-chan Event {
	return c.events
}

func (c *ZKClient) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil
	}
	c.closed = true
	c.conn.Close()
	return nil
}

func translateZKErr(err error, path string) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, zk.ErrNoNode):
		return fmt.Errorf("%w: %q", ErrNoNode, path)
	case errors.Is(err, zk.ErrNodeExists):
		return fmt.Errorf("%w: %q", ErrNodeExists, path)
	case errors.Is(err, zk.ErrNotEmpty):
		return fmt.Errorf("%w: %q", ErrNotEmpty, path)
	case errors.Is(err, zk.ErrSessionExpired):
		return fmt.Errorf("%w: %q", ErrSessionLost, path)
	default:
		return fmt.Errorf("coordination: zookeeper: %w", err)
	}
}
