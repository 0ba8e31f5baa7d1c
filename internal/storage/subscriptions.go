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

const subscriptionColumns = `entity_id, member_id, seen_at, one_shot, created_at`

func scanSubscription(row pgx.Row) (model.Subscription, error) {
	var s model.Subscription
	err := row.Scan(&s.EntityID, &s.MemberID, &s.SeenAt, &s.OneShot, &s.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return model.Subscription{}, ErrNotFound
		}
		return model.Subscription{}, err
	}
	return s, nil
}

// GetSubscription retrieves the subscription row for (entity, member).
func (db *DB) GetSubscription(ctx context.Context, entityID, memberID uuid.UUID) (model.Subscription, error) {
	return getSubscription(ctx, db.pool, entityID, memberID)
}

// GetSubscription is the Tx variant.
func (t *Tx) GetSubscription(ctx context.Context, entityID, memberID uuid.UUID) (model.Subscription, error) {
	return getSubscription(ctx, t.tx, entityID, memberID)
}

func getSubscription(ctx context.Context, q querier, entityID, memberID uuid.UUID) (model.Subscription, error) {
	s, err := scanSubscription(q.QueryRow(ctx,
		`SELECT `+subscriptionColumns+` FROM subscriptions WHERE entity_id = $1 AND member_id = $2`,
		entityID, memberID,
	))
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return model.Subscription{}, err
		}
		return model.Subscription{}, fmt.Errorf("storage: get subscription: %w", err)
	}
	return s, nil
}

// ListSubscriptions returns every subscription row for an entity.
func (db *DB) ListSubscriptions(ctx context.Context, entityID uuid.UUID) ([]model.Subscription, error) {
	rows, err := db.pool.Query(ctx,
		`SELECT `+subscriptionColumns+` FROM subscriptions WHERE entity_id = $1 ORDER BY created_at`,
		entityID,
	)
	if err != nil {
		return nil, fmt.Errorf("storage: list subscriptions: %w", err)
	}
	defer rows.Close()

	var subs []model.Subscription
	for rows.Next() {
		s, err := scanSubscription(rows)
		if err != nil {
			return nil, fmt.Errorf("storage: list subscriptions: %w", err)
		}
		subs = append(subs, s)
	}
	return subs, rows.Err()
}

// InsertSubscription persists a new subscription row inside the transaction.
func (t *Tx) InsertSubscription(ctx context.Context, s model.Subscription) error {
	if s.CreatedAt.IsZero() {
		s.CreatedAt = time.Now().UTC()
	}
	_, err := t.tx.Exec(ctx,
		`INSERT INTO subscriptions (entity_id, member_id, seen_at, one_shot, created_at)
		 VALUES ($1, $2, $3, $4, $5)`,
		s.EntityID, s.MemberID, s.SeenAt, s.OneShot, s.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("storage: insert subscription: %w", err)
	}
	return nil
}

// ActivateSubscription converts a one-shot row into a normal subscription.
func (t *Tx) ActivateSubscription(ctx context.Context, entityID, memberID uuid.UUID) error {
	tag, err := t.tx.Exec(ctx,
		`UPDATE subscriptions SET one_shot = NULL WHERE entity_id = $1 AND member_id = $2`,
		entityID, memberID,
	)
	if err != nil {
		return fmt.Errorf("storage: activate subscription: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("storage: activate subscription: %w", ErrNotFound)
	}
	return nil
}

// DeleteSubscription removes the subscription row inside the transaction.
func (t *Tx) DeleteSubscription(ctx context.Context, entityID, memberID uuid.UUID) error {
	tag, err := t.tx.Exec(ctx,
		`DELETE FROM subscriptions WHERE entity_id = $1 AND member_id = $2`,
		entityID, memberID,
	)
	if err != nil {
		return fmt.Errorf("storage: delete subscription: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("storage: delete subscription: %w", ErrNotFound)
	}
	return nil
}

// MarkSeen stamps the member's subscription on an entity with the current time.
func (t *Tx) MarkSeen(ctx context.Context, entityID, memberID uuid.UUID) error {
	_, err := t.tx.Exec(ctx,
		`UPDATE subscriptions SET seen_at = $1 WHERE entity_id = $2 AND member_id = $3`,
		time.Now().UTC(), entityID, memberID,
	)
	if err != nil {
		return fmt.Errorf("storage: mark seen: %w", err)
	}
	return nil
}

// MarkUnseen clears seen_at for every subscriber of the entity except the
// acting member, flagging unread activity for everyone else. Returns the
// number of rows cleared.
func (t *Tx) MarkUnseen(ctx context.Context, entityID, excludingMemberID uuid.UUID) (int64, error) {
	tag, err := t.tx.Exec(ctx,
		`UPDATE subscriptions SET seen_at = NULL WHERE entity_id = $1 AND member_id <> $2`,
		entityID, excludingMemberID,
	)
	if err != nil {
		return 0, fmt.Errorf("storage: mark unseen: %w", err)
	}
	return tag.RowsAffected(), nil
}

// UpsertMention records a mention: a missing row is created as a one-shot
// subscription with unread activity; an existing row (one-shot or not) just
// has its seen_at cleared.
func (t *Tx) UpsertMention(ctx context.Context, entityID, memberID uuid.UUID) error {
	_, err := t.tx.Exec(ctx,
		`INSERT INTO subscriptions (entity_id, member_id, seen_at, one_shot, created_at)
		 VALUES ($1, $2, NULL, TRUE, $3)
		 ON CONFLICT (entity_id, member_id) DO UPDATE SET seen_at = NULL`,
		entityID, memberID, time.Now().UTC(),
	)
	if err != nil {
		return fmt.Errorf("storage: upsert mention: %w", err)
	}
	return nil
}
