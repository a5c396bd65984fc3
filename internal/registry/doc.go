// Package registry advertises and discovers the elected master endpoint
// for a service (search, recommend), per spec.md §4.7 and §2 item 7.
//
// A candidate registers a sequential ephemeral under
// "<root>/<Service>Servers/"; the lowest-sequence child is the elected
// master for that service, the same convention topology uses for
// per-shard primary election. Grounded on MasterManagerBase.h's
// registerDistributeServiceMaster/findServiceMasterAddress, split here
// into a per-service endpoint table (ServiceRegistry) rather than one
// global master address, a supplemented distinction recorded in
// DESIGN.md.
package registry
