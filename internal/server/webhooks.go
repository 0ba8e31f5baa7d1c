package server

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"net/http"
	"strconv"

	"github.com/Carrene/dolphin/internal/model"
	"github.com/Carrene/dolphin/internal/storage"
)

// Inbound webhooks from the chat service. The chat service identifies the
// room and member by its own ids (roomId, memberReferenceId query params)
// and signs the raw query string with HMAC-SHA256 in X-Webhook-Signature.

// verifyWebhookSignature checks the HMAC signature over the raw query string.
// With no secret configured, verification is disabled; the server logs a
// warning at startup in that case, not per request.
func (h *Handlers) verifyWebhookSignature(r *http.Request) bool {
	if h.webhookSecret == "" {
		return true
	}
	sig, err := hex.DecodeString(r.Header.Get("X-Webhook-Signature"))
	if err != nil {
		return false
	}
	mac := hmac.New(sha256.New, []byte(h.webhookSecret))
	mac.Write([]byte(r.URL.RawQuery))
	return hmac.Equal(sig, mac.Sum(nil))
}

// webhookParams extracts and validates roomId and memberReferenceId.
func webhookParams(r *http.Request) (roomID, memberReferenceID int64, ok bool) {
	roomID, err := strconv.ParseInt(r.URL.Query().Get("roomId"), 10, 64)
	if err != nil || roomID <= 0 {
		return 0, 0, false
	}
	memberReferenceID, err = strconv.ParseInt(r.URL.Query().Get("memberReferenceId"), 10, 64)
	if err != nil || memberReferenceID <= 0 {
		return 0, 0, false
	}
	return roomID, memberReferenceID, true
}

// HandleWebhookSent handles POST /webhooks/sent: a message was posted in a
// room. Flags unread activity for every subscriber except the sender.
func (h *Handlers) HandleWebhookSent(w http.ResponseWriter, r *http.Request) {
	h.handleWebhook(w, r, "sent", h.ledger.MessageSent)
}

// HandleWebhookMentioned handles POST /webhooks/mentioned: a member was
// mentioned in a room. Creates a one-shot subscription if they have none.
func (h *Handlers) HandleWebhookMentioned(w http.ResponseWriter, r *http.Request) {
	h.handleWebhook(w, r, "mentioned", h.ledger.Mentioned)
}

func (h *Handlers) handleWebhook(
	w http.ResponseWriter,
	r *http.Request,
	event string,
	apply func(ctx context.Context, roomID, memberReferenceID int64) (model.Entity, model.Member, error),
) {
	if !h.verifyWebhookSignature(r) {
		writeError(w, r, http.StatusUnauthorized, model.ErrCodeUnauthorized, "invalid webhook signature")
		return
	}

	roomID, memberReferenceID, ok := webhookParams(r)
	if !ok {
		writeError(w, r, http.StatusBadRequest, model.ErrCodeInvalidInput,
			"roomId and memberReferenceId query parameters are required")
		return
	}

	e, member, err := apply(r.Context(), roomID, memberReferenceID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			writeError(w, r, http.StatusNotFound, model.ErrCodeNotFound, "unknown room or member")
			return
		}
		h.writeInternalError(w, r, "failed to apply webhook", err)
		return
	}

	h.logger.Info("chat webhook applied",
		"event", event,
		"kind", e.Kind,
		"entity_id", e.ID,
		"room_id", roomID,
		"member_id", member.ID,
		"request_id", RequestIDFromContext(r.Context()),
	)
	w.WriteHeader(http.StatusNoContent)
}
