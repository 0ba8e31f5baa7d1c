package server

import (
	"errors"
	"net/http"

	"github.com/google/uuid"

	"github.com/Carrene/dolphin/internal/ledger"
	"github.com/Carrene/dolphin/internal/model"
)

// entityFromRequest resolves the {id} path value against the handler's kind.
func (h *Handlers) entityFromRequest(r *http.Request, kind model.EntityKind) (model.Entity, error) {
	id, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		return model.Entity{}, errInvalidEntityID
	}
	return h.db.GetEntity(r.Context(), kind, id)
}

var errInvalidEntityID = errors.New("server: invalid entity id")

// handleCreateEntity handles POST /v1/{kind}. Runs the full provisioning
// saga: local draft, remote room, owner membership, owner subscription.
func (h *Handlers) handleCreateEntity(kind model.EntityKind) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req model.CreateEntityRequest
		if err := decodeJSON(w, r, &req, h.maxRequestBodyBytes); err != nil {
			handleDecodeError(w, r, err)
			return
		}
		if err := req.Validate(); err != nil {
			writeError(w, r, http.StatusBadRequest, model.ErrCodeInvalidInput, err.Error())
			return
		}

		owner, err := h.requestMember(r)
		if err != nil {
			h.writeInternalError(w, r, "failed to load member", err)
			return
		}

		e := model.Entity{
			Kind:        kind,
			Title:       req.Title,
			Description: req.Description,
		}
		audit := h.buildAuditEntry(r, "create", string(kind), "", map[string]any{
			"title": req.Title,
		})
		if err := h.provisioner.Provision(r.Context(), &e, owner, chatCredentials(r, owner), &audit); err != nil {
			h.writeDomainError(w, r, err)
			return
		}

		writeJSON(w, r, http.StatusCreated, e)
	}
}

// handleGetEntity handles GET /v1/{kind}/{id}.
func (h *Handlers) handleGetEntity(kind model.EntityKind) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		e, err := h.entityFromRequest(r, kind)
		if err != nil {
			h.writeEntityLookupError(w, r, err)
			return
		}
		writeJSON(w, r, http.StatusOK, e)
	}
}

// handleUpdateEntity handles PATCH /v1/{kind}/{id}. The update and the
// unread flags it raises for other subscribers commit in one transaction.
func (h *Handlers) handleUpdateEntity(kind model.EntityKind) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req model.UpdateEntityRequest
		if err := decodeJSON(w, r, &req, h.maxRequestBodyBytes); err != nil {
			handleDecodeError(w, r, err)
			return
		}
		if err := req.Validate(); err != nil {
			writeError(w, r, http.StatusBadRequest, model.ErrCodeInvalidInput, err.Error())
			return
		}

		id, err := uuid.Parse(r.PathValue("id"))
		if err != nil {
			writeError(w, r, http.StatusBadRequest, model.ErrCodeInvalidInput, "invalid entity id")
			return
		}
		actor, err := h.requestMember(r)
		if err != nil {
			h.writeInternalError(w, r, "failed to load member", err)
			return
		}

		tx, err := h.db.Begin(r.Context())
		if err != nil {
			h.writeInternalError(w, r, "failed to begin transaction", err)
			return
		}
		defer tx.Rollback(r.Context())

		e, err := tx.GetEntityForUpdate(r.Context(), kind, id)
		if err != nil {
			h.writeDomainError(w, r, err)
			return
		}
		if req.Title != nil {
			e.Title = *req.Title
		}
		if req.Description != nil {
			e.Description = req.Description
		}

		e, err = tx.UpdateEntity(r.Context(), e)
		if err != nil {
			h.writeDomainError(w, r, err)
			return
		}
		if err := ledger.Unsee(r.Context(), tx, e.ID, actor.ID); err != nil {
			h.writeDomainError(w, r, err)
			return
		}

		audit := h.buildAuditEntry(r, "update", string(kind), e.ID.String(), nil)
		if err := tx.InsertMutationAudit(r.Context(), audit); err != nil {
			h.writeInternalError(w, r, "failed to record audit entry", err)
			return
		}
		if err := tx.Commit(r.Context()); err != nil {
			h.writeInternalError(w, r, "failed to commit update", err)
			return
		}

		writeJSON(w, r, http.StatusOK, e)
	}
}

// handleListSubscriptions handles GET /v1/{kind}/{id}/subscriptions.
func (h *Handlers) handleListSubscriptions(kind model.EntityKind) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		e, err := h.entityFromRequest(r, kind)
		if err != nil {
			h.writeEntityLookupError(w, r, err)
			return
		}
		subs, err := h.db.ListSubscriptions(r.Context(), e.ID)
		if err != nil {
			h.writeInternalError(w, r, "failed to list subscriptions", err)
			return
		}
		if subs == nil {
			subs = []model.Subscription{}
		}
		writeJSON(w, r, http.StatusOK, subs)
	}
}

func (h *Handlers) writeEntityLookupError(w http.ResponseWriter, r *http.Request, err error) {
	if errors.Is(err, errInvalidEntityID) {
		writeError(w, r, http.StatusBadRequest, model.ErrCodeInvalidInput, "invalid entity id")
		return
	}
	h.writeDomainError(w, r, err)
}
