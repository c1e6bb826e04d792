package provisioning

import (
	"github.com/google/uuid"

	"github.com/zjrosen/pvdd/internal/pubsub"
	"github.com/zjrosen/pvdd/internal/pvd"
)

// ChangeEvent describes one committed change to a PvD. The broker event
// type carries the change kind.
type ChangeEvent struct {
	ID         uuid.UUID        `json:"id"`
	Kind       pubsub.EventType `json:"kind"`
	Identity   pvd.Identity     `json:"pvd"`
	Attributes []pvd.Attribute  `json:"attributes,omitempty"`
	Source     string           `json:"source,omitempty"`
}

func newChangeEvent(kind pubsub.EventType, snap Snapshot) ChangeEvent {
	return ChangeEvent{
		ID:         uuid.New(),
		Kind:       kind,
		Identity:   snap.Identity,
		Attributes: snap.Attributes,
		Source:     snap.Source,
	}
}
