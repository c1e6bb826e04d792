package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/zjrosen/pvdd/internal/provisioning"
	"github.com/zjrosen/pvdd/internal/pvd"
)

// RecordNotFoundError is returned when no snapshot exists for an identity.
type RecordNotFoundError struct {
	Identity pvd.Identity
}

func (e *RecordNotFoundError) Error() string {
	return fmt.Sprintf("pvd not found: %s", e.Identity)
}

// Is lets errors.Is match pvd.ErrNotFound.
func (e *RecordNotFoundError) Is(target error) bool {
	return target == pvd.ErrNotFound
}

// PvDRepository stores PvD snapshots. Attributes keep their order through a
// position column.
type PvDRepository struct {
	db  *sql.DB
	now func() time.Time
}

func newPvDRepository(db *sql.DB) *PvDRepository {
	return &PvDRepository{db: db, now: time.Now}
}

// Ensure PvDRepository implements provisioning.Store.
var _ provisioning.Store = (*PvDRepository)(nil)

// Save inserts or replaces the snapshot of one PvD.
func (r *PvDRepository) Save(ctx context.Context, snap provisioning.Snapshot) error {
	model := toPvDModel(snap)
	if snap.UpdatedAt.IsZero() {
		model.UpdatedAt = r.now().UnixMilli()
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	err = tx.QueryRowContext(ctx,
		`INSERT INTO pvds (identity, source, created_at, updated_at) VALUES (?, ?, ?, ?)
		ON CONFLICT(identity) DO UPDATE SET source = excluded.source, updated_at = excluded.updated_at
		RETURNING id`,
		model.Identity, model.Source, model.UpdatedAt, model.UpdatedAt,
	).Scan(&model.ID)
	if err != nil {
		return fmt.Errorf("failed to upsert pvd: %w", err)
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM pvd_attributes WHERE pvd_id = ?`, model.ID); err != nil {
		return fmt.Errorf("failed to clear attributes: %w", err)
	}
	for _, a := range model.Attributes {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO pvd_attributes (pvd_id, position, key, value) VALUES (?, ?, ?, ?)`,
			model.ID, a.Position, a.Key, a.Value,
		); err != nil {
			return fmt.Errorf("failed to insert attribute %q: %w", a.Key, err)
		}
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM pvd_addresses WHERE pvd_id = ?`, model.ID); err != nil {
		return fmt.Errorf("failed to clear addresses: %w", err)
	}
	for _, addr := range model.Addresses {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO pvd_addresses (pvd_id, address) VALUES (?, ?)`, model.ID, addr,
		); err != nil {
			return fmt.Errorf("failed to insert address %s: %w", addr, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit pvd: %w", err)
	}
	return nil
}

// Delete removes the snapshot for id. Deleting an unknown id is not an error.
func (r *PvDRepository) Delete(ctx context.Context, id pvd.Identity) error {
	if _, err := r.db.ExecContext(ctx, `DELETE FROM pvds WHERE identity = ?`, id.String()); err != nil {
		return fmt.Errorf("failed to delete pvd: %w", err)
	}
	return nil
}

// FindByIdentity returns the snapshot for id.
// Returns RecordNotFoundError if none is stored.
func (r *PvDRepository) FindByIdentity(ctx context.Context, id pvd.Identity) (provisioning.Snapshot, error) {
	var model PvDModel
	err := r.db.QueryRowContext(ctx,
		`SELECT id, identity, source, created_at, updated_at FROM pvds WHERE identity = ?`, id.String(),
	).Scan(&model.ID, &model.Identity, &model.Source, &model.CreatedAt, &model.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return provisioning.Snapshot{}, &RecordNotFoundError{Identity: id}
	}
	if err != nil {
		return provisioning.Snapshot{}, fmt.Errorf("failed to find pvd: %w", err)
	}

	if err := r.loadChildren(ctx, []*PvDModel{&model}); err != nil {
		return provisioning.Snapshot{}, err
	}
	return model.toSnapshot()
}

// List returns every stored snapshot in the order PvDs were first saved.
func (r *PvDRepository) List(ctx context.Context) ([]provisioning.Snapshot, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT id, identity, source, created_at, updated_at FROM pvds ORDER BY id`,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list pvds: %w", err)
	}

	var models []*PvDModel
	for rows.Next() {
		var m PvDModel
		if err := rows.Scan(&m.ID, &m.Identity, &m.Source, &m.CreatedAt, &m.UpdatedAt); err != nil {
			_ = rows.Close()
			return nil, fmt.Errorf("failed to scan pvd: %w", err)
		}
		models = append(models, &m)
	}
	err = rows.Err()
	_ = rows.Close()
	if err != nil {
		return nil, fmt.Errorf("failed to iterate pvds: %w", err)
	}

	if err := r.loadChildren(ctx, models); err != nil {
		return nil, err
	}

	snaps := make([]provisioning.Snapshot, 0, len(models))
	for _, m := range models {
		snap, err := m.toSnapshot()
		if err != nil {
			return nil, fmt.Errorf("failed to decode pvd %s: %w", m.Identity, err)
		}
		snaps = append(snaps, snap)
	}
	return snaps, nil
}

// loadChildren fills attributes and addresses for models.
func (r *PvDRepository) loadChildren(ctx context.Context, models []*PvDModel) error {
	if len(models) == 0 {
		return nil
	}
	byID := make(map[int64]*PvDModel, len(models))
	for _, m := range models {
		byID[m.ID] = m
	}

	// A single lookup filters by id; listing reads the child tables once.
	where, args := "", []any{}
	if len(models) == 1 {
		where, args = " WHERE pvd_id = ?", []any{models[0].ID}
	}

	rows, err := r.db.QueryContext(ctx,
		`SELECT pvd_id, position, key, value FROM pvd_attributes`+where+` ORDER BY pvd_id, position`, args...,
	)
	if err != nil {
		return fmt.Errorf("failed to load attributes: %w", err)
	}
	for rows.Next() {
		var (
			pvdID int64
			a     AttributeModel
		)
		if err := rows.Scan(&pvdID, &a.Position, &a.Key, &a.Value); err != nil {
			_ = rows.Close()
			return fmt.Errorf("failed to scan attribute: %w", err)
		}
		if m, ok := byID[pvdID]; ok {
			m.Attributes = append(m.Attributes, a)
		}
	}
	err = rows.Err()
	_ = rows.Close()
	if err != nil {
		return fmt.Errorf("failed to iterate attributes: %w", err)
	}

	rows, err = r.db.QueryContext(ctx, `SELECT pvd_id, address FROM pvd_addresses`+where, args...)
	if err != nil {
		return fmt.Errorf("failed to load addresses: %w", err)
	}
	defer func() { _ = rows.Close() }()
	for rows.Next() {
		var (
			pvdID int64
			addr  string
		)
		if err := rows.Scan(&pvdID, &addr); err != nil {
			return fmt.Errorf("failed to scan address: %w", err)
		}
		if m, ok := byID[pvdID]; ok {
			m.Addresses = append(m.Addresses, addr)
		}
	}
	return rows.Err()
}
