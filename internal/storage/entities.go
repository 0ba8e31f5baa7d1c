package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/Carrene/dolphin/internal/model"
)

const entityColumns = `id, kind, title, description, owner_id, room_id, created_at, modified_at`

func scanEntity(row pgx.Row) (model.Entity, error) {
	var e model.Entity
	err := row.Scan(&e.ID, &e.Kind, &e.Title, &e.Description, &e.OwnerID, &e.RoomID, &e.CreatedAt, &e.ModifiedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return model.Entity{}, ErrNotFound
		}
		return model.Entity{}, err
	}
	return e, nil
}

func getEntity(ctx context.Context, q querier, kind model.EntityKind, id uuid.UUID) (model.Entity, error) {
	e, err := scanEntity(q.QueryRow(ctx,
		`SELECT `+entityColumns+` FROM entities WHERE kind = $1 AND id = $2`, kind, id,
	))
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return model.Entity{}, err
		}
		return model.Entity{}, fmt.Errorf("storage: get %s: %w", kind, err)
	}
	return e, nil
}

func getEntityByRoomID(ctx context.Context, q querier, roomID int64) (model.Entity, error) {
	e, err := scanEntity(q.QueryRow(ctx,
		`SELECT `+entityColumns+` FROM entities WHERE room_id = $1`, roomID,
	))
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return model.Entity{}, err
		}
		return model.Entity{}, fmt.Errorf("storage: get entity by room: %w", err)
	}
	return e, nil
}

// GetEntity retrieves an entity of the given kind by id.
func (db *DB) GetEntity(ctx context.Context, kind model.EntityKind, id uuid.UUID) (model.Entity, error) {
	return getEntity(ctx, db.pool, kind, id)
}

// GetEntityByRoomID retrieves the entity backed by a remote room. Used by the
// inbound webhooks, which identify entities only by room id.
func (db *DB) GetEntityByRoomID(ctx context.Context, roomID int64) (model.Entity, error) {
	return getEntityByRoomID(ctx, db.pool, roomID)
}

// InsertEntity persists a new entity row inside the transaction. The row is
// flushed, not committed — the surrounding saga decides its fate.
func (t *Tx) InsertEntity(ctx context.Context, e *model.Entity) error {
	if e.ID == uuid.Nil {
		e.ID = uuid.New()
	}
	now := time.Now().UTC()
	if e.CreatedAt.IsZero() {
		e.CreatedAt = now
	}
	e.ModifiedAt = now

	_, err := t.tx.Exec(ctx,
		`INSERT INTO entities (id, kind, title, description, owner_id, room_id, created_at, modified_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		e.ID, e.Kind, e.Title, e.Description, e.OwnerID, e.RoomID, e.CreatedAt, e.ModifiedAt,
	)
	if err != nil {
		return fmt.Errorf("storage: insert %s: %w", e.Kind, err)
	}
	return nil
}

// SetEntityRoomID records the provisioned room id on the entity row.
func (t *Tx) SetEntityRoomID(ctx context.Context, id uuid.UUID, roomID int64) error {
	tag, err := t.tx.Exec(ctx,
		`UPDATE entities SET room_id = $1 WHERE id = $2`, roomID, id,
	)
	if err != nil {
		return fmt.Errorf("storage: set room id: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("storage: set room id: entity %s: %w", id, ErrNotFound)
	}
	return nil
}

// GetEntityForUpdate locks and returns an entity row within the transaction.
func (t *Tx) GetEntityForUpdate(ctx context.Context, kind model.EntityKind, id uuid.UUID) (model.Entity, error) {
	e, err := scanEntity(t.tx.QueryRow(ctx,
		`SELECT `+entityColumns+` FROM entities WHERE kind = $1 AND id = $2 FOR UPDATE`, kind, id,
	))
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return model.Entity{}, err
		}
		return model.Entity{}, fmt.Errorf("storage: get %s for update: %w", kind, err)
	}
	return e, nil
}

// UpdateEntity updates the mutable fields of an entity and bumps modified_at.
func (t *Tx) UpdateEntity(ctx context.Context, e model.Entity) (model.Entity, error) {
	e.ModifiedAt = time.Now().UTC()
	tag, err := t.tx.Exec(ctx,
		`UPDATE entities SET title = $1, description = $2, modified_at = $3 WHERE id = $4`,
		e.Title, e.Description, e.ModifiedAt, e.ID,
	)
	if err != nil {
		return model.Entity{}, fmt.Errorf("storage: update %s: %w", e.Kind, err)
	}
	if tag.RowsAffected() == 0 {
		return model.Entity{}, fmt.Errorf("storage: update %s %s: %w", e.Kind, e.ID, ErrNotFound)
	}
	return e, nil
}

// TouchEntityActivity bumps the entity's last-activity timestamp. Triggered
// by the sent webhook so list views sort by room activity, not just edits.
func (t *Tx) TouchEntityActivity(ctx context.Context, id uuid.UUID) error {
	tag, err := t.tx.Exec(ctx,
		`UPDATE entities SET modified_at = $1 WHERE id = $2`, time.Now().UTC(), id,
	)
	if err != nil {
		return fmt.Errorf("storage: touch entity activity: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("storage: touch entity %s: %w", id, ErrNotFound)
	}
	return nil
}
