package ledger

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Carrene/dolphin/internal/model"
	"github.com/Carrene/dolphin/internal/storage"
)

type fakeTx struct {
	entitiesByRoom map[int64]model.Entity
	membersByRef   map[int64]model.Member
	subscriptions  map[string]model.Subscription
	touched        []uuid.UUID

	committed  bool
	rolledBack bool
}

func newFakeTx() *fakeTx {
	return &fakeTx{
		entitiesByRoom: make(map[int64]model.Entity),
		membersByRef:   make(map[int64]model.Member),
		subscriptions:  make(map[string]model.Subscription),
	}
}

func subKey(entityID, memberID uuid.UUID) string {
	return entityID.String() + "/" + memberID.String()
}

func (t *fakeTx) GetEntityByRoomID(_ context.Context, roomID int64) (model.Entity, error) {
	e, ok := t.entitiesByRoom[roomID]
	if !ok {
		return model.Entity{}, storage.ErrNotFound
	}
	return e, nil
}

func (t *fakeTx) GetMemberByReferenceID(_ context.Context, referenceID int64) (model.Member, error) {
	m, ok := t.membersByRef[referenceID]
	if !ok {
		return model.Member{}, storage.ErrNotFound
	}
	return m, nil
}

func (t *fakeTx) MarkSeen(_ context.Context, entityID, memberID uuid.UUID) error {
	key := subKey(entityID, memberID)
	if s, ok := t.subscriptions[key]; ok {
		now := time.Now().UTC()
		s.SeenAt = &now
		t.subscriptions[key] = s
	}
	return nil
}

func (t *fakeTx) MarkUnseen(_ context.Context, entityID, excludingMemberID uuid.UUID) (int64, error) {
	var n int64
	for key, s := range t.subscriptions {
		if s.EntityID == entityID && s.MemberID != excludingMemberID {
			s.SeenAt = nil
			t.subscriptions[key] = s
			n++
		}
	}
	return n, nil
}

func (t *fakeTx) UpsertMention(_ context.Context, entityID, memberID uuid.UUID) error {
	key := subKey(entityID, memberID)
	if s, ok := t.subscriptions[key]; ok {
		s.SeenAt = nil
		t.subscriptions[key] = s
		return nil
	}
	oneShot := true
	t.subscriptions[key] = model.Subscription{
		EntityID: entityID,
		MemberID: memberID,
		OneShot:  &oneShot,
	}
	return nil
}

func (t *fakeTx) TouchEntityActivity(_ context.Context, id uuid.UUID) error {
	t.touched = append(t.touched, id)
	return nil
}

func (t *fakeTx) Commit(context.Context) error {
	t.committed = true
	return nil
}

func (t *fakeTx) Rollback(context.Context) {
	if !t.committed {
		t.rolledBack = true
	}
}

type fakeStore struct{ tx *fakeTx }

func (s *fakeStore) Begin(context.Context) (Tx, error) { return s.tx, nil }

func testLedger(tx *fakeTx) *Ledger {
	return New(&fakeStore{tx: tx}, slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func subscribed(tx *fakeTx, e model.Entity, m model.Member, seen bool) {
	var seenAt *time.Time
	if seen {
		now := time.Now().UTC()
		seenAt = &now
	}
	tx.subscriptions[subKey(e.ID, m.ID)] = model.Subscription{
		EntityID: e.ID, MemberID: m.ID, SeenAt: seenAt,
	}
}

func TestMessageSentFlagsOtherSubscribers(t *testing.T) {
	tx := newFakeTx()
	entity := model.Entity{ID: uuid.New(), Kind: model.KindProject, RoomID: 7}
	sender := model.Member{ID: uuid.New(), ReferenceID: 1}
	other := model.Member{ID: uuid.New(), ReferenceID: 2}
	tx.entitiesByRoom[7] = entity
	tx.membersByRef[1] = sender
	subscribed(tx, entity, sender, false)
	subscribed(tx, entity, other, true)

	gotEntity, gotSender, err := testLedger(tx).MessageSent(context.Background(), 7, 1)
	require.NoError(t, err)
	assert.Equal(t, entity.ID, gotEntity.ID)
	assert.Equal(t, sender.ID, gotSender.ID)
	assert.True(t, tx.committed)

	assert.Nil(t, tx.subscriptions[subKey(entity.ID, other.ID)].SeenAt,
		"other subscribers must see unread activity")
	assert.NotNil(t, tx.subscriptions[subKey(entity.ID, sender.ID)].SeenAt,
		"the sender has read their own message")
	assert.Equal(t, []uuid.UUID{entity.ID}, tx.touched)
}

func TestMessageSentUnknownRoom(t *testing.T) {
	tx := newFakeTx()
	_, _, err := testLedger(tx).MessageSent(context.Background(), 99, 1)
	require.ErrorIs(t, err, storage.ErrNotFound)
	assert.False(t, tx.committed)
}

func TestMessageSentUnknownSender(t *testing.T) {
	tx := newFakeTx()
	entity := model.Entity{ID: uuid.New(), RoomID: 7}
	tx.entitiesByRoom[7] = entity

	_, _, err := testLedger(tx).MessageSent(context.Background(), 7, 1)
	require.ErrorIs(t, err, storage.ErrNotFound)
}

func TestMentionedCreatesOneShot(t *testing.T) {
	tx := newFakeTx()
	entity := model.Entity{ID: uuid.New(), Kind: model.KindIssue, RoomID: 3}
	member := model.Member{ID: uuid.New(), ReferenceID: 8}
	tx.entitiesByRoom[3] = entity
	tx.membersByRef[8] = member

	gotEntity, gotMember, err := testLedger(tx).Mentioned(context.Background(), 3, 8)
	require.NoError(t, err)
	assert.Equal(t, entity.ID, gotEntity.ID)
	assert.Equal(t, member.ID, gotMember.ID)

	sub, ok := tx.subscriptions[subKey(entity.ID, member.ID)]
	require.True(t, ok)
	assert.True(t, sub.IsOneShot())
	assert.Nil(t, sub.SeenAt)
}

func TestMentionedExistingSubscriberStaysRegular(t *testing.T) {
	tx := newFakeTx()
	entity := model.Entity{ID: uuid.New(), RoomID: 3}
	member := model.Member{ID: uuid.New(), ReferenceID: 8}
	tx.entitiesByRoom[3] = entity
	tx.membersByRef[8] = member
	subscribed(tx, entity, member, true)

	_, _, err := testLedger(tx).Mentioned(context.Background(), 3, 8)
	require.NoError(t, err)

	sub := tx.subscriptions[subKey(entity.ID, member.ID)]
	assert.False(t, sub.IsOneShot(), "an existing subscription must not become one-shot")
	assert.Nil(t, sub.SeenAt, "the mention still flags unread activity")
}

func TestSeeStampsSubscription(t *testing.T) {
	tx := newFakeTx()
	entity := model.Entity{ID: uuid.New()}
	member := model.Member{ID: uuid.New()}
	subscribed(tx, entity, member, false)

	err := testLedger(tx).See(context.Background(), entity.ID, member.ID)
	require.NoError(t, err)
	assert.True(t, tx.committed)
	assert.NotNil(t, tx.subscriptions[subKey(entity.ID, member.ID)].SeenAt)
}

func TestUnseeFlagsEveryoneElse(t *testing.T) {
	tx := newFakeTx()
	entity := model.Entity{ID: uuid.New()}
	actor := model.Member{ID: uuid.New()}
	other := model.Member{ID: uuid.New()}
	subscribed(tx, entity, actor, true)
	subscribed(tx, entity, other, true)

	err := Unsee(context.Background(), tx, entity.ID, actor.ID)
	require.NoError(t, err)
	assert.NotNil(t, tx.subscriptions[subKey(entity.ID, actor.ID)].SeenAt)
	assert.Nil(t, tx.subscriptions[subKey(entity.ID, other.ID)].SeenAt)
}
