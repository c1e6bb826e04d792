package presentation

import (
	"time"

	"github.com/zjrosen/pvdd/internal/provisioning"
	"github.com/zjrosen/pvdd/internal/pvd"
)

// PvDDTO represents a PvD for presentation
type PvDDTO struct {
	ID         string          `json:"id"`
	Source     string          `json:"source"`
	Attributes []pvd.Attribute `json:"attributes"`
	Addresses  []string        `json:"addresses"`
	UpdatedAt  *time.Time      `json:"updated_at,omitempty"`
}

// FromSnapshot converts a provisioning snapshot to a DTO.
func FromSnapshot(snap provisioning.Snapshot) PvDDTO {
	attrs := snap.Attributes
	if attrs == nil {
		attrs = []pvd.Attribute{}
	}
	addrs := make([]string, len(snap.Addresses))
	for i, a := range snap.Addresses {
		addrs[i] = a.String()
	}

	dto := PvDDTO{
		ID:         snap.Identity.String(),
		Source:     snap.Source,
		Attributes: attrs,
		Addresses:  addrs,
	}
	if !snap.UpdatedAt.IsZero() {
		updated := snap.UpdatedAt.UTC()
		dto.UpdatedAt = &updated
	}
	return dto
}

// FromSnapshots converts a list of snapshots, keeping their order.
func FromSnapshots(snaps []provisioning.Snapshot) []PvDDTO {
	out := make([]PvDDTO, 0, len(snaps))
	for _, s := range snaps {
		out = append(out, FromSnapshot(s))
	}
	return out
}

// CheckResultDTO reports the outcome of validating one declaration file.
type CheckResultDTO struct {
	File       string `json:"file"`
	ID         string `json:"id,omitempty"`
	Attributes int    `json:"attributes"`
	Addresses  int    `json:"addresses"`
	Error      string `json:"error,omitempty"`
}
