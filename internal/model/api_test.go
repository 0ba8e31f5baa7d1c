package model_test

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Carrene/dolphin/internal/model"
)

// ptr is a convenience helper for pointer literals in test cases.
func ptr[T any](v T) *T { return &v }

// ---- CreateEntityRequest -------------------------------------------------

func TestCreateEntityRequest_HappyPath(t *testing.T) {
	r := model.CreateEntityRequest{
		Title:       "migrate billing",
		Description: ptr("split the invoicing job out of the monolith"),
	}
	assert.NoError(t, r.Validate())
}

func TestCreateEntityRequest_BlankTitle(t *testing.T) {
	r := model.CreateEntityRequest{Title: "   "}
	err := r.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "title")
}

func TestCreateEntityRequest_TitleAtExactMax(t *testing.T) {
	r := model.CreateEntityRequest{Title: strings.Repeat("x", model.MaxTitleLen)}
	assert.NoError(t, r.Validate(), "at the limit should pass")
}

func TestCreateEntityRequest_TitleOverMax(t *testing.T) {
	r := model.CreateEntityRequest{Title: strings.Repeat("x", model.MaxTitleLen+1)}
	err := r.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "title")
}

func TestCreateEntityRequest_DescriptionOverMax(t *testing.T) {
	big := strings.Repeat("x", model.MaxDescriptionLen+1)
	r := model.CreateEntityRequest{Title: "ok", Description: &big}
	err := r.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "description")
}

// ---- UpdateEntityRequest -------------------------------------------------

func TestUpdateEntityRequest_RequiresSomeField(t *testing.T) {
	r := model.UpdateEntityRequest{}
	require.Error(t, r.Validate())
}

func TestUpdateEntityRequest_TitleOnly(t *testing.T) {
	r := model.UpdateEntityRequest{Title: ptr("renamed")}
	assert.NoError(t, r.Validate())
}

func TestUpdateEntityRequest_DescriptionOnly(t *testing.T) {
	r := model.UpdateEntityRequest{Description: ptr("new description")}
	assert.NoError(t, r.Validate())
}

func TestUpdateEntityRequest_BlankTitleRejected(t *testing.T) {
	r := model.UpdateEntityRequest{Title: ptr("  ")}
	err := r.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "title")
}

// ---- CreateMemberRequest -------------------------------------------------

func TestCreateMemberRequest_HappyPath(t *testing.T) {
	r := model.CreateMemberRequest{
		ReferenceID:     42,
		Name:            "Sam",
		APIKey:          "secret",
		ChatAccessToken: "token",
	}
	assert.NoError(t, r.Validate())
}

func TestCreateMemberRequest_Invalid(t *testing.T) {
	tests := []struct {
		name string
		req  model.CreateMemberRequest
		want string
	}{
		{"zero reference id", model.CreateMemberRequest{Name: "Sam", APIKey: "k"}, "reference_id"},
		{"negative reference id", model.CreateMemberRequest{ReferenceID: -1, Name: "Sam", APIKey: "k"}, "reference_id"},
		{"blank name", model.CreateMemberRequest{ReferenceID: 1, Name: " ", APIKey: "k"}, "name"},
		{"name over max", model.CreateMemberRequest{ReferenceID: 1, Name: strings.Repeat("x", model.MaxNameLen+1), APIKey: "k"}, "name"},
		{"missing api key", model.CreateMemberRequest{ReferenceID: 1, Name: "Sam"}, "api_key"},
		{"unknown role", model.CreateMemberRequest{ReferenceID: 1, Name: "Sam", APIKey: "k", Role: "owner"}, "role"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.req.Validate()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestCreateMemberRequest_AdminRoleAccepted(t *testing.T) {
	r := model.CreateMemberRequest{ReferenceID: 1, Name: "Sam", APIKey: "k", Role: "admin"}
	assert.NoError(t, r.Validate())
}

// ---- Entity kinds --------------------------------------------------------

func TestKindFromPlural(t *testing.T) {
	for _, k := range model.EntityKinds {
		got, err := model.KindFromPlural(k.Plural())
		require.NoError(t, err)
		assert.Equal(t, k, got)
	}

	_, err := model.KindFromPlural("widgets")
	require.Error(t, err)
}

func TestEntityKindValid(t *testing.T) {
	assert.True(t, model.KindProject.Valid())
	assert.True(t, model.KindRelease.Valid())
	assert.False(t, model.EntityKind("widget").Valid())
	assert.False(t, model.EntityKind("").Valid())
}

func TestEntityProvisioned(t *testing.T) {
	assert.False(t, model.Entity{RoomID: model.PendingRoomID}.Provisioned())
	assert.True(t, model.Entity{RoomID: 13}.Provisioned())
}

// ---- Subscription --------------------------------------------------------

func TestSubscriptionIsOneShot(t *testing.T) {
	assert.False(t, model.Subscription{}.IsOneShot())
	assert.False(t, model.Subscription{OneShot: ptr(false)}.IsOneShot())
	assert.True(t, model.Subscription{OneShot: ptr(true)}.IsOneShot())
}
