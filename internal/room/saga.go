package room

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"time"

	"github.com/Carrene/dolphin/internal/chat"
	"github.com/Carrene/dolphin/internal/model"
	"github.com/Carrene/dolphin/internal/storage"
)

// Provisioner creates an entity together with its backing room. One
// Provisioner serves all four entity kinds; the kind travels on the entity.
type Provisioner struct {
	store  Store
	chat   ChatService
	logger *slog.Logger

	// Room-title conflicts resolve to "not found" until the chat service
	// settles title uniqueness; the create call is retried with backoff up
	// to maxRetries times before the saga gives up.
	maxRetries int
	baseDelay  time.Duration
}

// NewProvisioner creates a Provisioner. maxRetries and baseDelay bound the
// room-creation retry loop; zero values fall back to 3 retries at 100ms.
func NewProvisioner(store Store, chatSvc ChatService, logger *slog.Logger, maxRetries int, baseDelay time.Duration) *Provisioner {
	if maxRetries <= 0 {
		maxRetries = 3
	}
	if baseDelay <= 0 {
		baseDelay = 100 * time.Millisecond
	}
	return &Provisioner{
		store:      store,
		chat:       chatSvc,
		logger:     logger,
		maxRetries: maxRetries,
		baseDelay:  baseDelay,
	}
}

// Provision runs the creation saga for e, owned by owner:
//
//  1. persist e with the pending room sentinel (flushed, not committed)
//  2. create the backing room, retrying bounded on "not found"
//  3. seat the owner in the room ("already present" is success — a prior
//     partial attempt got there first)
//  4. record the room id, subscribe the owner locally, and commit
//
// If the final commit fails the room is deleted as compensation — deleting
// the room also removes the owner's membership from step 3, which is why
// seating the owner before the commit is durable is safe. The commit error,
// not the compensation outcome, is what the caller sees; a failed
// compensation is joined onto it rather than replacing it.
//
// On success e.RoomID carries the committed room id.
func (p *Provisioner) Provision(ctx context.Context, e *model.Entity, owner model.Member, cred chat.Credentials, audit *storage.MutationAuditEntry) error {
	if !e.Kind.Valid() {
		return fmt.Errorf("room: provision: invalid entity kind %q", e.Kind)
	}

	tx, err := p.store.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	e.OwnerID = owner.ID
	e.RoomID = model.PendingRoomID
	if err := tx.InsertEntity(ctx, e); err != nil {
		return err
	}

	newRoom, err := p.createRoom(ctx, e.Title, cred, owner.ReferenceID)
	if err != nil {
		return err
	}

	if _, err := p.chat.AddMember(ctx, newRoom.ID, owner.ReferenceID, cred); err != nil {
		if !errors.Is(err, chat.ErrMemberAlreadyPresent) {
			return err
		}
		p.logger.Debug("room: owner already in room, continuing",
			"room_id", newRoom.ID, "owner_reference_id", owner.ReferenceID)
	}

	if err := tx.SetEntityRoomID(ctx, e.ID, newRoom.ID); err != nil {
		return err
	}

	now := time.Now().UTC()
	if err := tx.InsertSubscription(ctx, model.Subscription{
		EntityID:  e.ID,
		MemberID:  owner.ID,
		SeenAt:    &now,
		CreatedAt: now,
	}); err != nil {
		return err
	}

	if audit != nil {
		audit.ResourceID = e.ID.String()
		if err := tx.InsertMutationAudit(ctx, *audit); err != nil {
			return err
		}
	}

	if commitErr := tx.Commit(ctx); commitErr != nil {
		if compErr := p.chat.DeleteRoom(ctx, newRoom.ID, cred); compErr != nil {
			return errors.Join(commitErr,
				fmt.Errorf("room: compensating delete of room %d failed: %w", newRoom.ID, compErr))
		}
		p.logger.Warn("room: provisioning commit failed, room deleted",
			"kind", e.Kind, "entity_id", e.ID, "room_id", newRoom.ID, "error", commitErr)
		return commitErr
	}

	e.RoomID = newRoom.ID
	p.logger.Info("room: entity provisioned",
		"kind", e.Kind, "entity_id", e.ID, "room_id", newRoom.ID)
	return nil
}

// createRoom calls the adapter with bounded jittered-backoff retry on
// "room not found", which is how an unresolved title conflict surfaces.
// After the bound the failure is reported as a chat internal error.
func (p *Provisioner) createRoom(ctx context.Context, title string, cred chat.Credentials, ownerReferenceID int64) (chat.Room, error) {
	delay := p.baseDelay
	var lastErr error
	for attempt := 0; attempt <= p.maxRetries; attempt++ {
		newRoom, err := p.chat.CreateRoom(ctx, title, cred, ownerReferenceID)
		if err == nil {
			return newRoom, nil
		}
		if !errors.Is(err, chat.ErrRoomNotFound) {
			return chat.Room{}, err
		}
		lastErr = err
		if attempt == p.maxRetries {
			break
		}

		p.logger.Debug("room: create conflict unresolved, retrying",
			"title", title, "attempt", attempt+1, "delay", delay)
		jitter := time.Duration(rand.Int64N(int64(delay))) //nolint:gosec // jitter doesn't need crypto-strength randomness
		select {
		case <-ctx.Done():
			return chat.Room{}, ctx.Err()
		case <-time.After(delay + jitter):
		}
		delay *= 2
	}
	return chat.Room{}, fmt.Errorf("room: create room %q unresolved after %d attempts: %v: %w",
		title, p.maxRetries+1, lastErr, chat.ErrChatInternal)
}
