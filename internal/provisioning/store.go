package provisioning

import (
	"context"

	"github.com/zjrosen/pvdd/internal/pvd"
)

// Store persists PvD snapshots so the registry can be restored after a
// restart.
type Store interface {
	Save(ctx context.Context, snap Snapshot) error
	Delete(ctx context.Context, id pvd.Identity) error
	List(ctx context.Context) ([]Snapshot, error)
}
