// Package room keeps local entities and their remote chat rooms consistent.
//
// Two components live here. The Provisioner runs once per entity creation:
// it persists the entity, creates the backing room, seats the owner, and
// deletes the room again if the local commit recording the room id fails.
// The Synchronizer runs on every subscribe/unsubscribe and keeps a member's
// remote room membership in lock-step with their local subscription row.
//
// Neither store spans the other's transaction, so consistency comes from
// ordering and compensation: remote conflicts (member already present,
// member absent) are treated as success because they mean the remote side
// already converged, and a failed local commit triggers an explicit
// reversing call against the chat service.
package room

import (
	"context"
	"errors"

	"github.com/google/uuid"

	"github.com/Carrene/dolphin/internal/chat"
	"github.com/Carrene/dolphin/internal/model"
	"github.com/Carrene/dolphin/internal/storage"
)

var (
	// ErrAlreadySubscribed is returned when the member holds an active
	// non-one-shot subscription on the entity.
	ErrAlreadySubscribed = errors.New("room: already subscribed")

	// ErrNotSubscribed is returned when no active subscription exists to remove.
	ErrNotSubscribed = errors.New("room: not subscribed")

	// ErrNotProvisioned is returned when the entity's room id is still the
	// pending sentinel, which only a crashed provisioning attempt can leave
	// visible.
	ErrNotProvisioned = errors.New("room: entity has no provisioned room")
)

// ChatService is the slice of the chat adapter the saga and synchronizer
// consume. *chat.Client implements it.
type ChatService interface {
	CreateRoom(ctx context.Context, title string, cred chat.Credentials, ownerReferenceID int64) (chat.Room, error)
	DeleteRoom(ctx context.Context, roomID int64, cred chat.Credentials) error
	AddMember(ctx context.Context, roomID, memberReferenceID int64, cred chat.Credentials) (chat.Room, error)
	KickMember(ctx context.Context, roomID, memberReferenceID int64, cred chat.Credentials) error
}

// Tx is the transactional capability surface the saga and synchronizer need
// from the local store. *storage.Tx implements it.
type Tx interface {
	InsertEntity(ctx context.Context, e *model.Entity) error
	SetEntityRoomID(ctx context.Context, id uuid.UUID, roomID int64) error
	GetSubscription(ctx context.Context, entityID, memberID uuid.UUID) (model.Subscription, error)
	InsertSubscription(ctx context.Context, s model.Subscription) error
	ActivateSubscription(ctx context.Context, entityID, memberID uuid.UUID) error
	DeleteSubscription(ctx context.Context, entityID, memberID uuid.UUID) error
	InsertMutationAudit(ctx context.Context, entry storage.MutationAuditEntry) error
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
