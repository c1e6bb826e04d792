// Package monitor produces address-change events for the PvD registry.
//
// Poller diffs the host's interface addresses at a fixed interval.
// LifetimeTracker sits between any event source and a pvd.AddressChangeHandler
// and turns expired valid lifetimes into removal events.
package monitor
