package model

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// PendingRoomID is the reserved room id recorded while an entity row exists
// locally but its remote room has not been provisioned yet. The chat service
// never issues 0 as a room id.
const PendingRoomID int64 = 0

// EntityKind identifies which of the room-backed entity types a row is.
type EntityKind string

const (
	KindProject   EntityKind = "project"
	KindIssue     EntityKind = "issue"
	KindContainer EntityKind = "container"
	KindRelease   EntityKind = "release"
)

// EntityKinds lists every room-backed entity kind, in route-registration order.
var EntityKinds = []EntityKind{KindProject, KindIssue, KindContainer, KindRelease}

// Valid reports whether k is a known entity kind.
func (k EntityKind) Valid() bool {
	switch k {
	case KindProject, KindIssue, KindContainer, KindRelease:
		return true
	}
	return false
}

// Plural returns the URL path segment for the kind ("project" → "projects").
func (k EntityKind) Plural() string {
	return string(k) + "s"
}

// KindFromPlural resolves a URL path segment back to an EntityKind.
func KindFromPlural(segment string) (EntityKind, error) {
	for _, k := range EntityKinds {
		if k.Plural() == segment {
			return k, nil
		}
	}
	return "", fmt.Errorf("model: unknown entity kind segment %q", segment)
}

// Entity is a room-backed entity: a project, issue, container, or release.
// Every committed entity references exactly one remote room; RoomID holds
// PendingRoomID only inside the provisioning transaction.
type Entity struct {
	ID          uuid.UUID  `json:"id"`
	Kind        EntityKind `json:"kind"`
	Title       string     `json:"title"`
	Description *string    `json:"description,omitempty"`
	OwnerID     uuid.UUID  `json:"owner_id"`
	RoomID      int64      `json:"room_id"`
	CreatedAt   time.Time  `json:"created_at"`
	ModifiedAt  time.Time  `json:"modified_at"`
}

// Provisioned reports whether the entity's room has been committed.
func (e Entity) Provisioned() bool {
	return e.RoomID != PendingRoomID
}

// MemberRole is the authorization role carried in JWT claims.
type MemberRole string

const (
	RoleMember MemberRole = "member"
	RoleAdmin  MemberRole = "admin"
)

// Member is a user of the tracker. ReferenceID is the member's identity in
// the chat service; ChatAccessToken is the per-member token every remote
// room call must carry alongside the caller's session token.
type Member struct {
	ID              uuid.UUID  `json:"id"`
	ReferenceID     int64      `json:"reference_id"`
	Name            string     `json:"name"`
	Email           *string    `json:"email,omitempty"`
	Role            MemberRole `json:"role"`
	APIKeyHash      *string    `json:"-"`
	ChatAccessToken string     `json:"-"`
	CreatedAt       time.Time  `json:"created_at"`
}
