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

const memberColumns = `id, reference_id, name, email, role, api_key_hash, chat_access_token, created_at`

func scanMember(row pgx.Row) (model.Member, error) {
	var m model.Member
	err := row.Scan(&m.ID, &m.ReferenceID, &m.Name, &m.Email, &m.Role, &m.APIKeyHash, &m.ChatAccessToken, &m.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return model.Member{}, ErrNotFound
		}
		return model.Member{}, err
	}
	return m, nil
}

// CreateMember inserts a new member.
func (db *DB) CreateMember(ctx context.Context, m model.Member) (model.Member, error) {
	if m.ID == uuid.Nil {
		m.ID = uuid.New()
	}
	if m.CreatedAt.IsZero() {
		m.CreatedAt = time.Now().UTC()
	}
	if m.Role == "" {
		m.Role = model.RoleMember
	}

	_, err := db.pool.Exec(ctx,
		`INSERT INTO members (id, reference_id, name, email, role, api_key_hash, chat_access_token, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		m.ID, m.ReferenceID, m.Name, m.Email, m.Role, m.APIKeyHash, m.ChatAccessToken, m.CreatedAt,
	)
	if err != nil {
		return model.Member{}, fmt.Errorf("storage: create member: %w", err)
	}
	return m, nil
}

// GetMember retrieves a member by id.
func (db *DB) GetMember(ctx context.Context, id uuid.UUID) (model.Member, error) {
	m, err := scanMember(db.pool.QueryRow(ctx,
		`SELECT `+memberColumns+` FROM members WHERE id = $1`, id,
	))
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return model.Member{}, err
		}
		return model.Member{}, fmt.Errorf("storage: get member: %w", err)
	}
	return m, nil
}

// GetMemberByReferenceID retrieves a member by their chat-service reference id.
// Used both for token issuance and by the inbound webhooks, which identify
// members only by reference id.
func (db *DB) GetMemberByReferenceID(ctx context.Context, referenceID int64) (model.Member, error) {
	m, err := scanMember(db.pool.QueryRow(ctx,
		`SELECT `+memberColumns+` FROM members WHERE reference_id = $1`, referenceID,
	))
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return model.Member{}, err
		}
		return model.Member{}, fmt.Errorf("storage: get member by reference: %w", err)
	}
	return m, nil
}

// GetMemberByReferenceID is the Tx variant, used by the ledger so the webhook
// lookup and the ledger mutation share one snapshot.
func (t *Tx) GetMemberByReferenceID(ctx context.Context, referenceID int64) (model.Member, error) {
	m, err := scanMember(t.tx.QueryRow(ctx,
		`SELECT `+memberColumns+` FROM members WHERE reference_id = $1`, referenceID,
	))
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return model.Member{}, err
		}
		return model.Member{}, fmt.Errorf("storage: get member by reference: %w", err)
	}
	return m, nil
}

// GetEntityByRoomID is the Tx variant of the room-id lookup.
func (t *Tx) GetEntityByRoomID(ctx context.Context, roomID int64) (model.Entity, error) {
	return getEntityByRoomID(ctx, t.tx, roomID)
}
