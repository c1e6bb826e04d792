// Package pvd implements the Provisioning Domain (PvD) registry.
//
// A PvD is a network attachment context described by key/value metadata
// (DNS suffix, captive portal state, trust flags). The package holds the
// registry of known PvDs and keeps it consistent while address-change
// notifications arrive from the host's address monitor.
//
// Like the other domain packages it contains only standard library code: no
// logging, no persistence and no I/O. Fan-out, storage and observability are
// layered on top by internal/provisioning.
//
// # Entity graph
//
// The ownership graph is a strict tree:
//
//	Registry 1──* Record 1──* Attribute
//
// Records keep their attributes in insertion order; setting an existing key
// replaces its value in place. The registry keeps records in creation order,
// so All and the API report a deterministic sequence.
//
// # Consistency
//
// Every Registry method holds one registry-wide lock for its entire duration.
// Read operations return copies. A Record obtained from Find or Upsert is a
// snapshot: changing it does not change the registry, and it goes stale after
// the next mutating call. Mutations are all-or-nothing per call.
//
// # Address changes
//
// Registry implements AddressChangeHandler. Added events only update the
// address liveness table; the registry never derives an identity from an
// address. A record is evicted on address removal only when an outside
// collaborator has associated that address with the record (see Associate)
// and it was the record's last associated address.
package pvd
