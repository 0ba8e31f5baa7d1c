package server

import (
	"net/http"

	"github.com/Carrene/dolphin/internal/model"
)

// handleSubscribe handles POST /v1/{kind}/{id}/subscribe.
func (h *Handlers) handleSubscribe(kind model.EntityKind) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		e, err := h.entityFromRequest(r, kind)
		if err != nil {
			h.writeEntityLookupError(w, r, err)
			return
		}
		member, err := h.requestMember(r)
		if err != nil {
			h.writeInternalError(w, r, "failed to load member", err)
			return
		}

		audit := h.buildAuditEntry(r, "subscribe", string(kind), e.ID.String(), nil)
		if err := h.sync.Subscribe(r.Context(), e, member, chatCredentials(r, member), &audit); err != nil {
			h.writeDomainError(w, r, err)
			return
		}

		sub, err := h.db.GetSubscription(r.Context(), e.ID, member.ID)
		if err != nil {
			h.writeInternalError(w, r, "failed to load subscription", err)
			return
		}
		writeJSON(w, r, http.StatusOK, sub)
	}
}

// handleUnsubscribe handles POST /v1/{kind}/{id}/unsubscribe.
func (h *Handlers) handleUnsubscribe(kind model.EntityKind) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		e, err := h.entityFromRequest(r, kind)
		if err != nil {
			h.writeEntityLookupError(w, r, err)
			return
		}
		member, err := h.requestMember(r)
		if err != nil {
			h.writeInternalError(w, r, "failed to load member", err)
			return
		}

		audit := h.buildAuditEntry(r, "unsubscribe", string(kind), e.ID.String(), nil)
		if err := h.sync.Unsubscribe(r.Context(), e, member, chatCredentials(r, member), &audit); err != nil {
			h.writeDomainError(w, r, err)
			return
		}

		w.WriteHeader(http.StatusNoContent)
	}
}

// handleSee handles POST /v1/{kind}/{id}/see. Marks the entity read for the
// calling member.
func (h *Handlers) handleSee(kind model.EntityKind) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		e, err := h.entityFromRequest(r, kind)
		if err != nil {
			h.writeEntityLookupError(w, r, err)
			return
		}
		member, err := h.requestMember(r)
		if err != nil {
			h.writeInternalError(w, r, "failed to load member", err)
			return
		}

		if err := h.ledger.See(r.Context(), e.ID, member.ID); err != nil {
			h.writeDomainError(w, r, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}
