package sqlite

import (
	"net/netip"
	"slices"
	"time"

	"github.com/zjrosen/pvdd/internal/provisioning"
	"github.com/zjrosen/pvdd/internal/pvd"
)

// PvDModel is a row of the pvds table with its child rows.
// Timestamps are Unix milliseconds.
type PvDModel struct {
	ID         int64
	Identity   string
	Source     string
	CreatedAt  int64
	UpdatedAt  int64
	Attributes []AttributeModel
	Addresses  []string
}

// AttributeModel is a row of pvd_attributes.
type AttributeModel struct {
	Position int
	Key      string
	Value    string
}

func toPvDModel(snap provisioning.Snapshot) *PvDModel {
	m := &PvDModel{
		Identity:  snap.Identity.String(),
		Source:    snap.Source,
		UpdatedAt: snap.UpdatedAt.UnixMilli(),
	}
	if m.Source == "" {
		m.Source = provisioning.SourceAPI
	}
	for i, a := range snap.Attributes {
		m.Attributes = append(m.Attributes, AttributeModel{Position: i, Key: a.Key, Value: a.Value})
	}
	for _, addr := range snap.Addresses {
		m.Addresses = append(m.Addresses, addr.String())
	}
	return m
}

func (m *PvDModel) toSnapshot() (provisioning.Snapshot, error) {
	snap := provisioning.Snapshot{
		Identity:  pvd.Identity(m.Identity),
		Source:    m.Source,
		UpdatedAt: time.UnixMilli(m.UpdatedAt),
	}
	snap.Attributes = make([]pvd.Attribute, 0, len(m.Attributes))
	for _, a := range m.Attributes {
		snap.Attributes = append(snap.Attributes, pvd.Attribute{Key: a.Key, Value: a.Value})
	}
	for _, s := range m.Addresses {
		addr, err := netip.ParseAddr(s)
		if err != nil {
			return provisioning.Snapshot{}, err
		}
		snap.Addresses = append(snap.Addresses, addr)
	}
	slices.SortFunc(snap.Addresses, netip.Addr.Compare)
	return snap, nil
}
