package model

import (
	"time"

	"github.com/google/uuid"
)

// Subscription is one member's notification ledger row for one entity.
//
// SeenAt is null while the member has unread activity; it is set by the
// member's own "see" action and cleared whenever somebody else mutates the
// entity or posts to its room.
//
// OneShot marks an ephemeral mention-only subscription. A one-shot row is
// never expired or deleted on its own; it is converted to a normal
// subscription the next time its member subscribes explicitly.
type Subscription struct {
	EntityID  uuid.UUID  `json:"entity_id"`
	MemberID  uuid.UUID  `json:"member_id"`
	SeenAt    *time.Time `json:"seen_at"`
	OneShot   *bool      `json:"one_shot,omitempty"`
	CreatedAt time.Time  `json:"created_at"`
}

// IsOneShot reports whether the row is a mention-created ephemeral subscription.
func (s Subscription) IsOneShot() bool {
	return s.OneShot != nil && *s.OneShot
}
