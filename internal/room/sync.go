package room

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/Carrene/dolphin/internal/chat"
	"github.com/Carrene/dolphin/internal/model"
	"github.com/Carrene/dolphin/internal/storage"
)

// Synchronizer keeps a member's remote room membership in lock-step with
// their local subscription row.
type Synchronizer struct {
	store  Store
	chat   ChatService
	logger *slog.Logger
}

// NewSynchronizer creates a Synchronizer.
func NewSynchronizer(store Store, chatSvc ChatService, logger *slog.Logger) *Synchronizer {
	return &Synchronizer{store: store, chat: chatSvc, logger: logger}
}

// Subscribe adds member to the entity's subscribers and seats them in the
// backing room. A one-shot row left behind by a mention is converted into a
// full subscription instead of conflicting. The remote add happens before
// the local commit; "already present" from the chat service means the remote
// side converged earlier and is treated as success. If the commit then fails
// the member is kicked back out so neither store drifts.
func (s *Synchronizer) Subscribe(ctx context.Context, e model.Entity, member model.Member, cred chat.Credentials, audit *storage.MutationAuditEntry) error {
	if !e.Provisioned() {
		return fmt.Errorf("room: subscribe %s %s: %w", e.Kind, e.ID, ErrNotProvisioned)
	}

	tx, err := s.store.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	existing, err := tx.GetSubscription(ctx, e.ID, member.ID)
	switch {
	case err == nil && !existing.IsOneShot():
		return ErrAlreadySubscribed
	case err == nil:
		if err := tx.ActivateSubscription(ctx, e.ID, member.ID); err != nil {
			return err
		}
	case errors.Is(err, storage.ErrNotFound):
		now := time.Now().UTC()
		if err := tx.InsertSubscription(ctx, model.Subscription{
			EntityID:  e.ID,
			MemberID:  member.ID,
			SeenAt:    &now,
			CreatedAt: now,
		}); err != nil {
			return err
		}
	default:
		return err
	}

	if _, err := s.chat.AddMember(ctx, e.RoomID, member.ReferenceID, cred); err != nil {
		if !errors.Is(err, chat.ErrMemberAlreadyPresent) {
			return err
		}
		s.logger.Debug("room: member already in room, continuing",
			"room_id", e.RoomID, "member_reference_id", member.ReferenceID)
	}

	if audit != nil {
		if err := tx.InsertMutationAudit(ctx, *audit); err != nil {
			return err
		}
	}

	if commitErr := tx.Commit(ctx); commitErr != nil {
		if compErr := s.kick(ctx, e.RoomID, member.ReferenceID, cred); compErr != nil {
			return errors.Join(commitErr,
				fmt.Errorf("room: compensating kick from room %d failed: %w", e.RoomID, compErr))
		}
		s.logger.Warn("room: subscribe commit failed, member kicked back out",
			"kind", e.Kind, "entity_id", e.ID, "member_id", member.ID, "error", commitErr)
		return commitErr
	}

	s.logger.Info("room: member subscribed",
		"kind", e.Kind, "entity_id", e.ID, "member_id", member.ID, "room_id", e.RoomID)
	return nil
}

// Unsubscribe removes member from the entity's subscribers and from the
// backing room. A one-shot row does not count as a subscription: mentions
// seat nobody in the room, so there is nothing to remove. "Member absent"
// from the chat service is success for the same convergence reason "already
// present" is on the subscribe side. A failed commit re-adds the member.
func (s *Synchronizer) Unsubscribe(ctx context.Context, e model.Entity, member model.Member, cred chat.Credentials, audit *storage.MutationAuditEntry) error {
	if !e.Provisioned() {
		return fmt.Errorf("room: unsubscribe %s %s: %w", e.Kind, e.ID, ErrNotProvisioned)
	}

	tx, err := s.store.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	existing, err := tx.GetSubscription(ctx, e.ID, member.ID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return ErrNotSubscribed
		}
		return err
	}
	if existing.IsOneShot() {
		return ErrNotSubscribed
	}

	if err := tx.DeleteSubscription(ctx, e.ID, member.ID); err != nil {
		return err
	}

	if err := s.kick(ctx, e.RoomID, member.ReferenceID, cred); err != nil {
		return err
	}

	if audit != nil {
		if err := tx.InsertMutationAudit(ctx, *audit); err != nil {
			return err
		}
	}

	if commitErr := tx.Commit(ctx); commitErr != nil {
		if _, compErr := s.chat.AddMember(ctx, e.RoomID, member.ReferenceID, cred); compErr != nil && !errors.Is(compErr, chat.ErrMemberAlreadyPresent) {
			return errors.Join(commitErr,
				fmt.Errorf("room: compensating re-add to room %d failed: %w", e.RoomID, compErr))
		}
		s.logger.Warn("room: unsubscribe commit failed, member re-added",
			"kind", e.Kind, "entity_id", e.ID, "member_id", member.ID, "error", commitErr)
		return commitErr
	}

	s.logger.Info("room: member unsubscribed",
		"kind", e.Kind, "entity_id", e.ID, "member_id", member.ID, "room_id", e.RoomID)
	return nil
}

func (s *Synchronizer) kick(ctx context.Context, roomID, memberReferenceID int64, cred chat.Credentials) error {
	err := s.chat.KickMember(ctx, roomID, memberReferenceID, cred)
	if err != nil && !errors.Is(err, chat.ErrMemberAbsent) {
		return err
	}
	if errors.Is(err, chat.ErrMemberAbsent) {
		s.logger.Debug("room: member already absent from room, continuing",
			"room_id", roomID, "member_reference_id", memberReferenceID)
	}
	return nil
}
