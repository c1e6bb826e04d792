// Package provisioning is the application layer over the PvD registry.
//
// It names PvDs by canonical FQDN, applies declarations from files or the
// HTTP API, associates PvDs with source addresses, and after every change
// persists a snapshot, publishes a ChangeEvent, and records metrics and
// trace spans. The registry itself stays free of I/O.
package provisioning
