package registry

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/sf1r-go/coordinator/internal/coordination"
	"github.com/sf1r-go/coordinator/internal/znode"
	"github.com/sf1r-go/coordinator/internal/zkns"
)

// Endpoint is a service's elected master address.
type Endpoint struct {
	Host string
	Port int
}

// ServiceRegistry looks up the currently elected master for a service.
// Read-only; pairs with Candidate for the advertising side.
type ServiceRegistry struct {
	client coordination.Client
	ns     *zkns.Namespace
}

// NewServiceRegistry returns a ServiceRegistry reading through client.
func NewServiceRegistry(client coordination.Client, ns *zkns.Namespace) *ServiceRegistry {
	return &ServiceRegistry{client: client, ns: ns}
}

// MasterEndpoint finds the service's elected master: the lowest-sequence
// child under "<root>/<Service>Servers/". ok is false if no candidate is
// currently registered.
func (r *ServiceRegistry) MasterEndpoint(ctx context.Context, svc zkns.Service) (Endpoint, bool, error) {
	path, ok, err := lowestSequenceChild(ctx, r.client, r.ns.Servers(svc), zkns.ServerChildPrefix)
	if err != nil {
		return Endpoint{}, false, fmt.Errorf("registry: master endpoint for %s: %w", svc, err)
	}
	if !ok {
		return Endpoint{}, false, nil
	}

	data, exists, err := r.client.Get(ctx, path)
	if err != nil {
		return Endpoint{}, false, fmt.Errorf("registry: read %s: %w", path, err)
	}
	if !exists {
		return Endpoint{}, false, nil
	}
	m, err := znode.Decode(data)
	if err != nil {
		return Endpoint{}, false, fmt.Errorf("registry: decode %s: %w", path, err)
	}

	port, _ := strconv.Atoi(m[znode.KeyMasterPort])
	return Endpoint{Host: m[znode.KeyHost], Port: port}, true, nil
}

// Candidate is one node's standing registration as a candidate master
// for a service. Register creates the sequential ephemeral; the caller
// learns whether it currently holds the lowest sequence (i.e. is
// elected) via IsElected, and avoids thundering-herd re-checks by
// watching only its immediate predecessor (WatchPredecessor), per
// spec.md §4.5.
type Candidate struct {
	client coordination.Client
	ns     *zkns.Namespace
	svc    zkns.Service
	path   string
	seq    int
}

// Register creates this node's sequential ephemeral under
// "<root>/<Service>Servers/" advertising (host, masterPort).
func Register(ctx context.Context, client coordination.Client, ns *zkns.Namespace, svc zkns.Service, host string, masterPort int) (*Candidate, error) {
	payload, err := znode.Encode(znode.Map{
		znode.KeyHost:       host,
		znode.KeyMasterPort: strconv.Itoa(masterPort),
	})
	if err != nil {
		return nil, fmt.Errorf("registry: encode candidate payload: %w", err)
	}

	full, err := client.Create(ctx, ns.Servers(svc)+"/"+zkns.ServerChildPrefix, payload, true, true)
	if err != nil {
		return nil, fmt.Errorf("registry: register candidate for %s: %w", svc, err)
	}
	seq, ok := parseSeq(baseName(full), zkns.ServerChildPrefix)
	if !ok {
		return nil, fmt.Errorf("registry: unexpected sequential child name %q", full)
	}
	return &Candidate{client: client, ns: ns, svc: svc, path: full, seq: seq}, nil
}

// Path returns this candidate's own registered znode path.
func (c *Candidate) Path() string { return c.path }

// IsElected reports whether this candidate currently holds the lowest
// sequence number among all registered candidates for its service.
func (c *Candidate) IsElected(ctx context.Context) (bool, error) {
	children, err := c.client.Children(ctx, c.ns.Servers(c.svc))
	if err != nil {
		return false, fmt.Errorf("registry: list candidates for %s: %w", c.svc, err)
	}
	for _, name := range children {
		seq, ok := parseSeq(name, zkns.ServerChildPrefix)
		if ok && seq < c.seq {
			return false, nil
		}
	}
	return true, nil
}

// WatchPredecessor arranges a NodeDeleted event for this candidate's
// immediate predecessor (the next-lower sequence number currently
// registered), so a losing candidate learns when it is promoted
// without polling or waking every other candidate on each change. ok is
// false if this candidate has no predecessor, i.e. it is already
// elected.
func (c *Candidate) WatchPredecessor(ctx context.Context) (ch <-chan coordination.Event, ok bool, err error) {
	children, err := c.client.Children(ctx, c.ns.Servers(c.svc))
	if err != nil {
		return nil, false, fmt.Errorf("registry: list candidates for %s: %w", c.svc, err)
	}

	predSeq, predName := -1, ""
	for _, name := range children {
		seq, parsed := parseSeq(name, zkns.ServerChildPrefix)
		if !parsed || seq >= c.seq {
			continue
		}
		if seq > predSeq {
			predSeq, predName = seq, name
		}
	}
	if predName == "" {
		return nil, false, nil
	}

	predPath := c.ns.Servers(c.svc) + "/" + predName
	watchCh, err := c.client.Watch(ctx, predPath)
	if err != nil {
		return nil, false, fmt.Errorf("registry: watch predecessor %s: %w", predPath, err)
	}
	return watchCh, true, nil
}

// Deregister removes this candidate's registration, forfeiting any
// claim to election. The session's own Close would do the same for
// every ephemeral it owns; this lets a node step down without closing
// its whole coordination session.
func (c *Candidate) Deregister(ctx context.Context) error {
	if err := c.client.Delete(ctx, c.path); err != nil {
		return fmt.Errorf("registry: deregister %s: %w", c.path, err)
	}
	return nil
}

func lowestSequenceChild(ctx context.Context, client coordination.Client, parent, prefix string) (string, bool, error) {
	children, err := client.Children(ctx, parent)
	if err != nil {
		if errors.Is(err, coordination.ErrNoNode) {
			return "", false, nil
		}
		return "", false, err
	}

	best, bestSeq := "", -1
	for _, name := range children {
		seq, ok := parseSeq(name, prefix)
		if !ok {
			continue
		}
		if best == "" || seq < bestSeq {
			best, bestSeq = name, seq
		}
	}
	if best == "" {
		return "", false, nil
	}
	return parent + "/" + best, true, nil
}

func parseSeq(name, prefix string) (int, bool) {
	if !strings.HasPrefix(name, prefix) {
		return 0, false
	}
	seq, err := strconv.Atoi(name[len(prefix):])
	if err != nil {
		return 0, false
	}
	return seq, true
}

func baseName(path string) string {
	i := strings.LastIndex(path, "/")
	return path[i+1:]
}
