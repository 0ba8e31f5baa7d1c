package room

import (
	"context"
	"errors"

	"github.com/google/uuid"

	"github.com/Carrene/dolphin/internal/chat"
	"github.com/Carrene/dolphin/internal/model"
	"github.com/Carrene/dolphin/internal/storage"
)

// fakeTx records mutations without a database. commitErr lets tests force
// the compensation path.
type fakeTx struct {
	subscriptions map[string]model.Subscription
	entities      []*model.Entity
	roomIDs       map[uuid.UUID]int64
	auditEntries  []storage.MutationAuditEntry

	commitErr  error
	committed  bool
	rolledBack bool
}

func newFakeTx() *fakeTx {
	return &fakeTx{
		subscriptions: make(map[string]model.Subscription),
		roomIDs:       make(map[uuid.UUID]int64),
	}
}

func subKey(entityID, memberID uuid.UUID) string {
	return entityID.String() + "/" + memberID.String()
}

func (t *fakeTx) InsertEntity(_ context.Context, e *model.Entity) error {
	if e.ID == uuid.Nil {
		e.ID = uuid.New()
	}
	t.entities = append(t.entities, e)
	return nil
}

func (t *fakeTx) SetEntityRoomID(_ context.Context, id uuid.UUID, roomID int64) error {
	t.roomIDs[id] = roomID
	return nil
}

func (t *fakeTx) GetSubscription(_ context.Context, entityID, memberID uuid.UUID) (model.Subscription, error) {
	s, ok := t.subscriptions[subKey(entityID, memberID)]
	if !ok {
		return model.Subscription{}, storage.ErrNotFound
	}
	return s, nil
}

func (t *fakeTx) InsertSubscription(_ context.Context, s model.Subscription) error {
	key := subKey(s.EntityID, s.MemberID)
	if _, ok := t.subscriptions[key]; ok {
		return errors.New("duplicate subscription")
	}
	t.subscriptions[key] = s
	return nil
}

func (t *fakeTx) ActivateSubscription(_ context.Context, entityID, memberID uuid.UUID) error {
	key := subKey(entityID, memberID)
	s, ok := t.subscriptions[key]
	if !ok {
		return storage.ErrNotFound
	}
	s.OneShot = nil
	t.subscriptions[key] = s
	return nil
}

func (t *fakeTx) DeleteSubscription(_ context.Context, entityID, memberID uuid.UUID) error {
	key := subKey(entityID, memberID)
	if _, ok := t.subscriptions[key]; !ok {
		return storage.ErrNotFound
	}
	delete(t.subscriptions, key)
	return nil
}

func (t *fakeTx) InsertMutationAudit(_ context.Context, entry storage.MutationAuditEntry) error {
	t.auditEntries = append(t.auditEntries, entry)
	return nil
}

func (t *fakeTx) Commit(context.Context) error {
	if t.commitErr != nil {
		return t.commitErr
	}
	t.committed = true
	return nil
}

func (t *fakeTx) Rollback(context.Context) {
	if !t.committed {
		t.rolledBack = true
	}
}

type fakeStore struct {
	tx       *fakeTx
	beginErr error
}

func (s *fakeStore) Begin(context.Context) (Tx, error) {
	if s.beginErr != nil {
		return nil, s.beginErr
	}
	return s.tx, nil
}

// fakeChat counts calls and returns scripted errors. createErrs is consumed
// one element per CreateRoom call; nil entries mean success.
type fakeChat struct {
	nextRoomID int64
	createErrs []error
	addErr     error
	kickErr    error
	deleteErr  error

	createCalls int
	addCalls    int
	kickCalls   int
	deleteCalls int

	deletedRooms []int64
}

func (c *fakeChat) CreateRoom(_ context.Context, title string, _ chat.Credentials, ownerReferenceID int64) (chat.Room, error) {
	call := c.createCalls
	c.createCalls++
	if call < len(c.createErrs) && c.createErrs[call] != nil {
		return chat.Room{}, c.createErrs[call]
	}
	if c.nextRoomID == 0 {
		c.nextRoomID = 1000
	}
	return chat.Room{ID: c.nextRoomID, Title: title, OwnerReferenceID: ownerReferenceID}, nil
}

func (c *fakeChat) DeleteRoom(_ context.Context, roomID int64, _ chat.Credentials) error {
	c.deleteCalls++
	if c.deleteErr != nil {
		return c.deleteErr
	}
	c.deletedRooms = append(c.deletedRooms, roomID)
	return nil
}

func (c *fakeChat) AddMember(_ context.Context, roomID, _ int64, _ chat.Credentials) (chat.Room, error) {
	c.addCalls++
	if c.addErr != nil {
		return chat.Room{}, c.addErr
	}
	return chat.Room{ID: roomID}, nil
}

func (c *fakeChat) KickMember(_ context.Context, _, _ int64, _ chat.Credentials) error {
	c.kickCalls++
	return c.kickErr
}
