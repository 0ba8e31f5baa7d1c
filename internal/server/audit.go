package server

import (
	"net/http"

	"github.com/Carrene/dolphin/internal/storage"
)

// buildAuditEntry constructs a MutationAuditEntry from the current HTTP request.
// Used by handlers that pass the entry into transactional saga and storage calls.
func (h *Handlers) buildAuditEntry(
	r *http.Request,
	operation, resourceType, resourceID string,
	metadata map[string]any,
) storage.MutationAuditEntry {
	claims := ClaimsFromContext(r.Context())
	actorID := "unknown"
	actorRole := "unknown"
	if claims != nil {
		actorID = claims.Subject
		actorRole = string(claims.Role)
	}

	return storage.MutationAuditEntry{
		RequestID:     RequestIDFromContext(r.Context()),
		ActorMemberID: actorID,
		ActorRole:     actorRole,
		HTTPMethod:    r.Method,
		Endpoint:      r.URL.Path,
		Operation:     operation,
		ResourceType:  resourceType,
		ResourceID:    resourceID,
		Metadata:      metadata,
	}
}
