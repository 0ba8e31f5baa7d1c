package model

import (
	"fmt"
	"strings"
	"time"
)

// Field length limits for entity fields. Room titles are forwarded verbatim
// to the chat service and stored in Postgres TEXT columns; cap them before
// they reach either.
const (
	MaxTitleLen       = 128
	MaxDescriptionLen = 8 * 1024 // 8 KB
	MaxNameLen        = 128
)

// APIResponse is the standard response envelope for all HTTP API responses.
type APIResponse struct {
	Data any          `json:"data,omitempty"`
	Meta ResponseMeta `json:"meta"`
}

// APIError is the standard error response envelope.
type APIError struct {
	Error ErrorDetail  `json:"error"`
	Meta  ResponseMeta `json:"meta"`
}

// ResponseMeta contains request metadata included in every response.
type ResponseMeta struct {
	RequestID string    `json:"request_id"`
	Timestamp time.Time `json:"timestamp"`
}

// ErrorDetail describes an API error.
type ErrorDetail struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// ErrorCode constants for standard API error codes.
const (
	ErrCodeInvalidInput  = "INVALID_INPUT"
	ErrCodeUnauthorized  = "UNAUTHORIZED"
	ErrCodeForbidden     = "FORBIDDEN"
	ErrCodeNotFound      = "NOT_FOUND"
	ErrCodeConflict      = "CONFLICT"
	ErrCodeUnavailable   = "UPSTREAM_UNAVAILABLE"
	ErrCodeInternalError = "INTERNAL_ERROR"
	ErrCodeRateLimited   = "RATE_LIMITED"
)

// AuthTokenRequest is the request body for POST /auth/token.
type AuthTokenRequest struct {
	ReferenceID int64  `json:"reference_id"`
	APIKey      string `json:"api_key"`
}

// AuthTokenResponse is the response for POST /auth/token.
type AuthTokenResponse struct {
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expires_at"`
}

// CreateMemberRequest is the request body for POST /v1/members (admin-only).
type CreateMemberRequest struct {
	ReferenceID     int64   `json:"reference_id"`
	Name            string  `json:"name"`
	Email           *string `json:"email,omitempty"`
	Role            string  `json:"role,omitempty"`
	APIKey          string  `json:"api_key"`
	ChatAccessToken string  `json:"chat_access_token"`
}

// Validate checks a member-provisioning request.
func (r CreateMemberRequest) Validate() error {
	if r.ReferenceID <= 0 {
		return fmt.Errorf("reference_id must be positive")
	}
	if strings.TrimSpace(r.Name) == "" {
		return fmt.Errorf("name is required")
	}
	if len(r.Name) > MaxNameLen {
		return fmt.Errorf("name exceeds maximum length of %d characters", MaxNameLen)
	}
	if r.APIKey == "" {
		return fmt.Errorf("api_key is required")
	}
	if r.Role != "" && r.Role != string(RoleMember) && r.Role != string(RoleAdmin) {
		return fmt.Errorf("role must be %q or %q", RoleMember, RoleAdmin)
	}
	return nil
}

// CreateEntityRequest is the request body for POST /v1/{projects,issues,containers,releases}.
type CreateEntityRequest struct {
	Title       string  `json:"title"`
	Description *string `json:"description,omitempty"`
}

// Validate checks an entity-creation request.
func (r CreateEntityRequest) Validate() error {
	if strings.TrimSpace(r.Title) == "" {
		return fmt.Errorf("title is required")
	}
	if len(r.Title) > MaxTitleLen {
		return fmt.Errorf("title exceeds maximum length of %d characters", MaxTitleLen)
	}
	if r.Description != nil && len(*r.Description) > MaxDescriptionLen {
		return fmt.Errorf("description exceeds maximum length of %d bytes", MaxDescriptionLen)
	}
	return nil
}

// UpdateEntityRequest is the request body for PATCH /v1/{kind}/{id}.
// Nil fields are left unchanged.
type UpdateEntityRequest struct {
	Title       *string `json:"title,omitempty"`
	Description *string `json:"description,omitempty"`
}

// Validate checks an entity-update request.
func (r UpdateEntityRequest) Validate() error {
	if r.Title == nil && r.Description == nil {
		return fmt.Errorf("at least one of title or description is required")
	}
	if r.Title != nil {
		if strings.TrimSpace(*r.Title) == "" {
			return fmt.Errorf("title must not be empty")
		}
		if len(*r.Title) > MaxTitleLen {
			return fmt.Errorf("title exceeds maximum length of %d characters", MaxTitleLen)
		}
	}
	if r.Description != nil && len(*r.Description) > MaxDescriptionLen {
		return fmt.Errorf("description exceeds maximum length of %d bytes", MaxDescriptionLen)
	}
	return nil
}

// HealthResponse is the response for GET /health.
type HealthResponse struct {
	Status   string `json:"status"`
	Version  string `json:"version"`
	Postgres string `json:"postgres"`
	Uptime   int64  `json:"uptime_seconds"`
}
