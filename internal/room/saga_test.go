package room

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Carrene/dolphin/internal/chat"
	"github.com/Carrene/dolphin/internal/model"
	"github.com/Carrene/dolphin/internal/storage"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testMember() model.Member {
	return model.Member{
		ID:          uuid.New(),
		ReferenceID: 42,
		Name:        "Alice",
		Role:        model.RoleMember,
	}
}

func testCred() chat.Credentials {
	return chat.Credentials{SessionToken: "session", AccessToken: "access"}
}

func newTestProvisioner(tx *fakeTx, chatSvc *fakeChat) *Provisioner {
	return NewProvisioner(&fakeStore{tx: tx}, chatSvc, testLogger(), 3, time.Microsecond)
}

func TestProvisionHappyPath(t *testing.T) {
	tx := newFakeTx()
	chatSvc := &fakeChat{nextRoomID: 77}
	p := newTestProvisioner(tx, chatSvc)
	owner := testMember()

	e := &model.Entity{Kind: model.KindProject, Title: "My Project"}
	audit := &storage.MutationAuditEntry{Operation: "create", ResourceType: "project"}
	err := p.Provision(context.Background(), e, owner, testCred(), audit)
	require.NoError(t, err)

	assert.Equal(t, int64(77), e.RoomID)
	assert.Equal(t, owner.ID, e.OwnerID)
	assert.True(t, tx.committed)
	assert.Equal(t, int64(77), tx.roomIDs[e.ID])
	assert.Equal(t, 1, chatSvc.createCalls)
	assert.Equal(t, 1, chatSvc.addCalls)
	assert.Zero(t, chatSvc.deleteCalls)

	sub, ok := tx.subscriptions[subKey(e.ID, owner.ID)]
	require.True(t, ok, "owner must be subscribed")
	assert.False(t, sub.IsOneShot())
	require.NotNil(t, sub.SeenAt)

	require.Len(t, tx.auditEntries, 1)
	assert.Equal(t, e.ID.String(), tx.auditEntries[0].ResourceID)
}

func TestProvisionInvalidKind(t *testing.T) {
	tx := newFakeTx()
	chatSvc := &fakeChat{}
	p := newTestProvisioner(tx, chatSvc)

	e := &model.Entity{Kind: model.EntityKind("gadget"), Title: "X"}
	err := p.Provision(context.Background(), e, testMember(), testCred(), nil)
	require.Error(t, err)
	assert.Zero(t, chatSvc.createCalls)
}

func TestProvisionRetriesOnRoomNotFound(t *testing.T) {
	tx := newFakeTx()
	chatSvc := &fakeChat{
		nextRoomID: 5,
		createErrs: []error{chat.ErrRoomNotFound, chat.ErrRoomNotFound, nil},
	}
	p := newTestProvisioner(tx, chatSvc)

	e := &model.Entity{Kind: model.KindIssue, Title: "Flaky Title"}
	err := p.Provision(context.Background(), e, testMember(), testCred(), nil)
	require.NoError(t, err)
	assert.Equal(t, 3, chatSvc.createCalls)
	assert.Equal(t, int64(5), e.RoomID)
}

func TestProvisionRetryExhaustion(t *testing.T) {
	tx := newFakeTx()
	chatSvc := &fakeChat{
		createErrs: []error{
			chat.ErrRoomNotFound, chat.ErrRoomNotFound,
			chat.ErrRoomNotFound, chat.ErrRoomNotFound,
			chat.ErrRoomNotFound,
		},
	}
	p := newTestProvisioner(tx, chatSvc)

	e := &model.Entity{Kind: model.KindRelease, Title: "Contested"}
	err := p.Provision(context.Background(), e, testMember(), testCred(), nil)
	require.Error(t, err)
	assert.ErrorIs(t, err, chat.ErrChatInternal)
	assert.Equal(t, 4, chatSvc.createCalls, "initial attempt plus three retries")
	assert.False(t, tx.committed)
	assert.True(t, tx.rolledBack)
}

func TestProvisionFatalCreateErrorNotRetried(t *testing.T) {
	tx := newFakeTx()
	chatSvc := &fakeChat{createErrs: []error{chat.ErrServiceUnavailable}}
	p := newTestProvisioner(tx, chatSvc)

	e := &model.Entity{Kind: model.KindContainer, Title: "X"}
	err := p.Provision(context.Background(), e, testMember(), testCred(), nil)
	require.Error(t, err)
	assert.ErrorIs(t, err, chat.ErrServiceUnavailable)
	assert.Equal(t, 1, chatSvc.createCalls)
	assert.False(t, tx.committed)
}

func TestProvisionOwnerAlreadyPresentIsSuccess(t *testing.T) {
	tx := newFakeTx()
	chatSvc := &fakeChat{nextRoomID: 9, addErr: chat.ErrMemberAlreadyPresent}
	p := newTestProvisioner(tx, chatSvc)

	e := &model.Entity{Kind: model.KindProject, Title: "Rejoin"}
	err := p.Provision(context.Background(), e, testMember(), testCred(), nil)
	require.NoError(t, err)
	assert.True(t, tx.committed)
	assert.Equal(t, int64(9), e.RoomID)
}

func TestProvisionCommitFailureDeletesRoomOnce(t *testing.T) {
	commitErr := errors.New("connection reset during commit")
	tx := newFakeTx()
	tx.commitErr = commitErr
	chatSvc := &fakeChat{nextRoomID: 13}
	p := newTestProvisioner(tx, chatSvc)

	e := &model.Entity{Kind: model.KindProject, Title: "Doomed"}
	err := p.Provision(context.Background(), e, testMember(), testCred(), nil)
	require.Error(t, err)

	// The commit error is what surfaces, and the room is deleted exactly once.
	assert.ErrorIs(t, err, commitErr)
	assert.Equal(t, 1, chatSvc.deleteCalls)
	assert.Equal(t, []int64{13}, chatSvc.deletedRooms)
	assert.Equal(t, model.PendingRoomID, e.RoomID, "entity must not report a room it doesn't own")
}

func TestProvisionCommitAndCompensationFailure(t *testing.T) {
	commitErr := errors.New("commit failed")
	tx := newFakeTx()
	tx.commitErr = commitErr
	chatSvc := &fakeChat{nextRoomID: 13, deleteErr: chat.ErrServiceUnavailable}
	p := newTestProvisioner(tx, chatSvc)

	e := &model.Entity{Kind: model.KindProject, Title: "Doubly Doomed"}
	err := p.Provision(context.Background(), e, testMember(), testCred(), nil)
	require.Error(t, err)

	// Both failures are visible; the original commit error is not masked.
	assert.ErrorIs(t, err, commitErr)
	assert.ErrorIs(t, err, chat.ErrServiceUnavailable)
}

func TestProvisionContextCancelledDuringBackoff(t *testing.T) {
	tx := newFakeTx()
	chatSvc := &fakeChat{createErrs: []error{chat.ErrRoomNotFound, chat.ErrRoomNotFound}}
	p := NewProvisioner(&fakeStore{tx: tx}, chatSvc, testLogger(), 3, time.Hour)

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(10 * time.Millisecond)
		cancel()
	}()

	e := &model.Entity{Kind: model.KindProject, Title: "Slow"}
	err := p.Provision(ctx, e, testMember(), testCred(), nil)
	require.Error(t, err)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 1, chatSvc.createCalls)
}
