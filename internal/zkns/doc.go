// Package zkns is a pure, stateless naming convention over the
// coordination service's hierarchical key space. It knows nothing about
// connections, watches, or payloads -- only how to build and parse the
// paths every other package agrees on.
//
// All paths derive from one configured cluster root, mirroring the
// original ZooKeeperNamespace: a per-service topology tree, a per-service
// primary-node mirror, a per-service server registry, a per-service write
// queue, and a handful of cluster-wide rendezvous points.
package zkns
