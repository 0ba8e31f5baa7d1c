// Package chat is the adapter for the remote chat service that backs every
// project, issue, container, and release with a conversation room.
//
// The remote API repurposes HTTP status codes as domain outcomes; this
// package maps each response to one of a closed set of sentinel errors so
// call sites branch with errors.Is instead of inspecting status codes.
// Retry policy belongs to callers — the adapter issues exactly one remote
// call per operation (plus the single listing call used to resolve a
// room-title conflict on create).
package chat

import (
	"errors"
	"time"
)

// Fatal outcomes. These abort the caller's local transaction.
var (
	// ErrRoomNotFound maps status 404 and an unresolvable title conflict.
	ErrRoomNotFound = errors.New("chat: room not found")

	// ErrServiceUnavailable maps statuses 502 and 503.
	ErrServiceUnavailable = errors.New("chat: service unavailable")

	// ErrChatInternal maps any other non-2xx status or transport failure.
	ErrChatInternal = errors.New("chat: internal error")
)

// Expected conflict outcomes. Callers treat these as success (membership
// already converged) or resolve them explicitly; they are never hard failures.
var (
	// ErrMemberAlreadyPresent maps status 604 on add.
	ErrMemberAlreadyPresent = errors.New("chat: member already in room")

	// ErrMemberAbsent maps status 611 on kick.
	ErrMemberAbsent = errors.New("chat: member not in room")

	// ErrRoomTitleConflict maps status 615 on create, surfaced only when the
	// list-and-resolve fallback itself is skipped or fails.
	ErrRoomTitleConflict = errors.New("chat: room title already taken")
)

// Remote status codes the chat service repurposes as domain outcomes.
const (
	statusMemberAlreadyPresent = 604
	statusMemberAbsent         = 611
	statusRoomTitleConflict    = 615
)

// Room is the remote conversation object backing one local entity.
type Room struct {
	ID               int64     `json:"id"`
	Title            string    `json:"title"`
	OwnerReferenceID int64     `json:"ownerReferenceId"`
	MemberCount      int       `json:"memberCount"`
	CreatedAt        time.Time `json:"createdAt"`
}

// Credentials are the two tokens every remote call carries: the caller's
// session token and the acting member's chat access token.
type Credentials struct {
	SessionToken string
	AccessToken  string
}
