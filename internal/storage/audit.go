package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// MutationAuditEntry is one append-only audit record for a mutation. Entries
// are built per request by the HTTP layer and written inside the same
// transaction as the mutation they describe — there is no ambient audit
// context threaded through the call stack.
type MutationAuditEntry struct {
	RequestID     string
	ActorMemberID string
	ActorRole     string
	HTTPMethod    string
	Endpoint      string
	Operation     string
	ResourceType  string
	ResourceID    string
	Metadata      map[string]any
}

// InsertMutationAudit appends an audit entry within the transaction, so the
// entry commits if and only if the mutation does.
func (t *Tx) InsertMutationAudit(ctx context.Context, entry MutationAuditEntry) error {
	return insertMutationAudit(ctx, t.tx, entry)
}

// InsertMutationAudit appends an audit entry outside any transaction. Used
// for events with no accompanying local mutation (e.g. token issuance).
func (db *DB) InsertMutationAudit(ctx context.Context, entry MutationAuditEntry) error {
	return insertMutationAudit(ctx, db.pool, entry)
}

func insertMutationAudit(ctx context.Context, q querier, entry MutationAuditEntry) error {
	var metadata []byte
	if entry.Metadata != nil {
		var err error
		metadata, err = json.Marshal(entry.Metadata)
		if err != nil {
			return fmt.Errorf("storage: marshal audit metadata: %w", err)
		}
	}
	if entry.RequestID == "" {
		entry.RequestID = uuid.New().String()
	}

	_, err := q.Exec(ctx,
		`INSERT INTO mutation_audit (request_id, actor_member_id, actor_role, http_method,
		 endpoint, operation, resource_type, resource_id, metadata, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		entry.RequestID, entry.ActorMemberID, entry.ActorRole, entry.HTTPMethod,
		entry.Endpoint, entry.Operation, entry.ResourceType, entry.ResourceID,
		metadata, time.Now().UTC(),
	)
	if err != nil {
		return fmt.Errorf("storage: insert mutation audit: %w", err)
	}
	return nil
}
