// Package ledger tracks which members have unread activity on which
// entities. Every subscription row carries a seen_at stamp; the ledger
// clears and sets those stamps in response to viewer actions and to the
// sent/mentioned webhooks the chat service fires.
package ledger

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/Carrene/dolphin/internal/model"
	"github.com/Carrene/dolphin/internal/storage"
)

// Webhook transactions touch every subscription row of an entity, so two
// concurrent deliveries for the same room can deadlock; retry those briefly.
const (
	webhookTxRetries   = 2
	webhookTxBaseDelay = 25 * time.Millisecond
)

// Tx is the transactional surface the ledger needs. *storage.Tx implements it.
type Tx interface {
	GetEntityByRoomID(ctx context.Context, roomID int64) (model.Entity, error)
	GetMemberByReferenceID(ctx context.Context, referenceID int64) (model.Member, error)
	MarkSeen(ctx context.Context, entityID, memberID uuid.UUID) error
	MarkUnseen(ctx context.Context, entityID, excludingMemberID uuid.UUID) (int64, error)
	UpsertMention(ctx context.Context, entityID, memberID uuid.UUID) error
	TouchEntityActivity(ctx context.Context, id uuid.UUID) error
	Commit(ctx context.Context) error
	Rollback(ctx context.Context)
}

// Store opens transactions against the local store.
type Store interface {
	Begin(ctx context.Context) (Tx, error)
}

// NewStore adapts *storage.DB to the Store interface.
func NewStore(db *storage.DB) Store {
	return pgStore{db: db}
}

type pgStore struct {
	db *storage.DB
}

func (s pgStore) Begin(ctx context.Context) (Tx, error) {
	return s.db.Begin(ctx)
}

// Ledger applies seen/unseen transitions.
type Ledger struct {
	store  Store
	logger *slog.Logger
}

// New creates a Ledger.
func New(store Store, logger *slog.Logger) *Ledger {
	return &Ledger{store: store, logger: logger}
}

// See stamps the member's subscription on the entity as read. Members
// without a subscription row have nothing to stamp; that is not an error.
func (l *Ledger) See(ctx context.Context, entityID, memberID uuid.UUID) error {
	tx, err := l.store.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	if err := tx.MarkSeen(ctx, entityID, memberID); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

// Unsee clears the read stamp for every subscriber except the acting member.
// Called inside the actor's own mutation transaction so the unread flags
// commit atomically with the change that caused them.
func Unsee(ctx context.Context, tx Tx, entityID, actorMemberID uuid.UUID) error {
	if _, err := tx.MarkUnseen(ctx, entityID, actorMemberID); err != nil {
		return fmt.Errorf("ledger: unsee: %w", err)
	}
	return nil
}

// MessageSent handles the chat service's "message sent" webhook: the sender
// has obviously read the room, everyone else now has unread activity, and
// the entity's activity timestamp moves. The room and sender are identified
// by the chat service's ids; storage.ErrNotFound from either lookup means
// the webhook references something this service doesn't know.
func (l *Ledger) MessageSent(ctx context.Context, roomID, senderReferenceID int64) (model.Entity, model.Member, error) {
	var e model.Entity
	var sender model.Member
	var cleared int64

	err := storage.WithRetry(ctx, webhookTxRetries, webhookTxBaseDelay, func() error {
		tx, err := l.store.Begin(ctx)
		if err != nil {
			return err
		}
		defer tx.Rollback(ctx)

		if e, err = tx.GetEntityByRoomID(ctx, roomID); err != nil {
			return err
		}
		if sender, err = tx.GetMemberByReferenceID(ctx, senderReferenceID); err != nil {
			return err
		}

		if cleared, err = tx.MarkUnseen(ctx, e.ID, sender.ID); err != nil {
			return err
		}
		if err := tx.MarkSeen(ctx, e.ID, sender.ID); err != nil {
			return err
		}
		if err := tx.TouchEntityActivity(ctx, e.ID); err != nil {
			return err
		}
		return tx.Commit(ctx)
	})
	if err != nil {
		return model.Entity{}, model.Member{}, err
	}

	l.logger.Debug("ledger: message sent",
		"kind", e.Kind, "entity_id", e.ID, "room_id", roomID,
		"sender_reference_id", senderReferenceID, "subscribers_flagged", cleared)
	return e, sender, nil
}

// Mentioned handles the chat service's "member mentioned" webhook. A member
// with no subscription gets a one-shot row so the mention shows up in their
// unseen list exactly once; an existing subscriber just gets their read
// stamp cleared. One-shot rows never seat the member in the room.
func (l *Ledger) Mentioned(ctx context.Context, roomID, memberReferenceID int64) (model.Entity, model.Member, error) {
	var e model.Entity
	var mentioned model.Member

	err := storage.WithRetry(ctx, webhookTxRetries, webhookTxBaseDelay, func() error {
		tx, err := l.store.Begin(ctx)
		if err != nil {
			return err
		}
		defer tx.Rollback(ctx)

		if e, err = tx.GetEntityByRoomID(ctx, roomID); err != nil {
			return err
		}
		if mentioned, err = tx.GetMemberByReferenceID(ctx, memberReferenceID); err != nil {
			return err
		}

		if err := tx.UpsertMention(ctx, e.ID, mentioned.ID); err != nil {
			return err
		}
		if err := tx.TouchEntityActivity(ctx, e.ID); err != nil {
			return err
		}
		return tx.Commit(ctx)
	})
	if err != nil {
		return model.Entity{}, model.Member{}, err
	}

	l.logger.Debug("ledger: member mentioned",
		"kind", e.Kind, "entity_id", e.ID, "room_id", roomID,
		"member_reference_id", memberReferenceID)
	return e, mentioned, nil
}
