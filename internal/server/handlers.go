package server

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/Carrene/dolphin/internal/auth"
	"github.com/Carrene/dolphin/internal/chat"
	"github.com/Carrene/dolphin/internal/model"
	"github.com/Carrene/dolphin/internal/room"
	"github.com/Carrene/dolphin/internal/storage"
)

// roomProvisioner runs the entity-creation saga. *room.Provisioner implements it.
type roomProvisioner interface {
	Provision(ctx context.Context, e *model.Entity, owner model.Member, cred chat.Credentials, audit *storage.MutationAuditEntry) error
}

// membershipSync keeps subscriptions and room membership aligned.
// *room.Synchronizer implements it.
type membershipSync interface {
	Subscribe(ctx context.Context, e model.Entity, member model.Member, cred chat.Credentials, audit *storage.MutationAuditEntry) error
	Unsubscribe(ctx context.Context, e model.Entity, member model.Member, cred chat.Credentials, audit *storage.MutationAuditEntry) error
}

// activityLedger applies seen/unseen transitions. *ledger.Ledger implements it.
type activityLedger interface {
	See(ctx context.Context, entityID, memberID uuid.UUID) error
	MessageSent(ctx context.Context, roomID, senderReferenceID int64) (model.Entity, model.Member, error)
	Mentioned(ctx context.Context, roomID, memberReferenceID int64) (model.Entity, model.Member, error)
}

// Handlers holds HTTP handler dependencies.
type Handlers struct {
	db                  *storage.DB
	jwtMgr              *auth.JWTManager
	provisioner         roomProvisioner
	sync                membershipSync
	ledger              activityLedger
	logger              *slog.Logger
	startedAt           time.Time
	version             string
	maxRequestBodyBytes int64
	webhookSecret       string
}

// HandlersDeps holds all dependencies for constructing Handlers.
type HandlersDeps struct {
	DB                  *storage.DB
	JWTMgr              *auth.JWTManager
	Provisioner         roomProvisioner
	Synchronizer        membershipSync
	Ledger              activityLedger
	Logger              *slog.Logger
	Version             string
	MaxRequestBodyBytes int64
	WebhookSecret       string
}

// NewHandlers creates a new Handlers with all dependencies.
func NewHandlers(d HandlersDeps) *Handlers {
	return &Handlers{
		db:                  d.DB,
		jwtMgr:              d.JWTMgr,
		provisioner:         d.Provisioner,
		sync:                d.Synchronizer,
		ledger:              d.Ledger,
		logger:              d.Logger,
		startedAt:           time.Now(),
		version:             d.Version,
		maxRequestBodyBytes: d.MaxRequestBodyBytes,
		webhookSecret:       d.WebhookSecret,
	}
}

// HandleAuthToken handles POST /auth/token. Members authenticate with their
// chat-service reference id and API key.
func (h *Handlers) HandleAuthToken(w http.ResponseWriter, r *http.Request) {
	var req model.AuthTokenRequest
	if err := decodeJSON(w, r, &req, h.maxRequestBodyBytes); err != nil {
		handleDecodeError(w, r, err)
		return
	}

	member, err := h.db.GetMemberByReferenceID(r.Context(), req.ReferenceID)
	if err != nil || member.APIKeyHash == nil {
		// Burn the same hashing cost as a real check so timing doesn't
		// reveal whether the reference id exists.
		auth.DummyVerify()
		writeError(w, r, http.StatusUnauthorized, model.ErrCodeUnauthorized, "invalid credentials")
		return
	}

	valid, err := auth.VerifyAPIKey(req.APIKey, *member.APIKeyHash)
	if err != nil || !valid {
		writeError(w, r, http.StatusUnauthorized, model.ErrCodeUnauthorized, "invalid credentials")
		return
	}

	token, expiresAt, err := h.jwtMgr.IssueToken(member)
	if err != nil {
		h.writeInternalError(w, r, "failed to issue token", err)
		return
	}

	// Best-effort audit: failing to record issuance must not block the token.
	if auditErr := h.db.InsertMutationAudit(r.Context(), storage.MutationAuditEntry{
		RequestID:     RequestIDFromContext(r.Context()),
		ActorMemberID: member.ID.String(),
		ActorRole:     string(member.Role),
		HTTPMethod:    r.Method,
		Endpoint:      r.URL.Path,
		Operation:     "token_issued",
		ResourceType:  "auth_token",
		ResourceID:    member.ID.String(),
		Metadata: map[string]any{
			"ip":         r.RemoteAddr,
			"user_agent": r.UserAgent(),
			"token_exp":  expiresAt,
		},
	}); auditErr != nil {
		h.logger.Error("failed to audit token issuance",
			"member_id", member.ID, "error", auditErr)
	}

	writeJSON(w, r, http.StatusOK, model.AuthTokenResponse{
		Token:     token,
		ExpiresAt: expiresAt,
	})
}

// HandleCreateMember handles POST /v1/members (admin-only). Registers a
// member this service already knows from the chat side, with an API key
// for token issuance and the chat access token used on their behalf.
func (h *Handlers) HandleCreateMember(w http.ResponseWriter, r *http.Request) {
	var req model.CreateMemberRequest
	if err := decodeJSON(w, r, &req, h.maxRequestBodyBytes); err != nil {
		handleDecodeError(w, r, err)
		return
	}
	if err := req.Validate(); err != nil {
		writeError(w, r, http.StatusBadRequest, model.ErrCodeInvalidInput, err.Error())
		return
	}

	if _, err := h.db.GetMemberByReferenceID(r.Context(), req.ReferenceID); err == nil {
		writeError(w, r, http.StatusConflict, model.ErrCodeConflict, "member already registered")
		return
	} else if !errors.Is(err, storage.ErrNotFound) {
		h.writeInternalError(w, r, "failed to check member", err)
		return
	}

	hash, err := auth.HashAPIKey(req.APIKey)
	if err != nil {
		h.writeInternalError(w, r, "failed to hash api key", err)
		return
	}

	role := model.RoleMember
	if req.Role != "" {
		role = model.MemberRole(req.Role)
	}
	member, err := h.db.CreateMember(r.Context(), model.Member{
		ReferenceID:     req.ReferenceID,
		Name:            req.Name,
		Email:           req.Email,
		Role:            role,
		APIKeyHash:      &hash,
		ChatAccessToken: req.ChatAccessToken,
	})
	if err != nil {
		h.writeInternalError(w, r, "failed to create member", err)
		return
	}

	if auditErr := h.db.InsertMutationAudit(r.Context(), h.buildAuditEntry(r,
		"create", "member", member.ID.String(), nil)); auditErr != nil {
		h.logger.Error("failed to audit member creation",
			"member_id", member.ID, "error", auditErr)
	}

	writeJSON(w, r, http.StatusCreated, member)
}

// SeedAdmin provisions the bootstrap admin member on first start. The admin
// authenticates with the configured API key and registers real members
// afterwards. No-op when the key is unset or an admin already exists.
func (h *Handlers) SeedAdmin(ctx context.Context, apiKey string) error {
	if apiKey == "" {
		h.logger.Warn("no admin api key configured, skipping admin seed")
		return nil
	}

	const adminReferenceID = 1
	if _, err := h.db.GetMemberByReferenceID(ctx, adminReferenceID); err == nil {
		return nil
	} else if !errors.Is(err, storage.ErrNotFound) {
		return err
	}

	hash, err := auth.HashAPIKey(apiKey)
	if err != nil {
		return err
	}
	member, err := h.db.CreateMember(ctx, model.Member{
		ReferenceID: adminReferenceID,
		Name:        "admin",
		Role:        model.RoleAdmin,
		APIKeyHash:  &hash,
	})
	if err != nil {
		return err
	}
	h.logger.Info("admin member seeded", "member_id", member.ID)
	return nil
}

// HandleHealth handles GET /health.
func (h *Handlers) HandleHealth(w http.ResponseWriter, r *http.Request) {
	pgStatus := "connected"
	status := "healthy"
	httpStatus := http.StatusOK

	if err := h.db.Ping(r.Context()); err != nil {
		pgStatus = "disconnected"
		status = "unhealthy"
		httpStatus = http.StatusServiceUnavailable
	}

	writeJSON(w, r, httpStatus, model.HealthResponse{
		Status:   status,
		Version:  h.version,
		Postgres: pgStatus,
		Uptime:   int64(time.Since(h.startedAt).Seconds()),
	})
}

// writeInternalError logs the underlying error and writes a generic 500.
func (h *Handlers) writeInternalError(w http.ResponseWriter, r *http.Request, msg string, err error) {
	h.logger.Error(msg,
		"error", err,
		"path", r.URL.Path,
		"request_id", RequestIDFromContext(r.Context()),
	)
	writeError(w, r, http.StatusInternalServerError, model.ErrCodeInternalError, msg)
}

// requestMember loads the authenticated member backing the request's claims.
func (h *Handlers) requestMember(r *http.Request) (model.Member, error) {
	claims := ClaimsFromContext(r.Context())
	if claims == nil {
		return model.Member{}, errors.New("server: no claims in context")
	}
	return h.db.GetMember(r.Context(), claims.MemberID())
}

// chatCredentials builds the credential pair for outbound chat calls: the
// caller's own bearer token as the session, and the member's stored chat
// access token.
func chatCredentials(r *http.Request, member model.Member) chat.Credentials {
	return chat.Credentials{
		SessionToken: bearerToken(r),
		AccessToken:  member.ChatAccessToken,
	}
}

// writeDomainError maps saga, ledger, and chat errors onto API responses.
func (h *Handlers) writeDomainError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, storage.ErrNotFound):
		writeError(w, r, http.StatusNotFound, model.ErrCodeNotFound, "not found")
	case errors.Is(err, room.ErrAlreadySubscribed):
		writeError(w, r, http.StatusConflict, model.ErrCodeConflict, "already subscribed")
	case errors.Is(err, room.ErrNotSubscribed):
		writeError(w, r, http.StatusConflict, model.ErrCodeConflict, "not subscribed")
	case errors.Is(err, room.ErrNotProvisioned):
		writeError(w, r, http.StatusConflict, model.ErrCodeConflict, "entity has no provisioned room")
	case errors.Is(err, chat.ErrServiceUnavailable),
		errors.Is(err, chat.ErrRoomNotFound),
		errors.Is(err, chat.ErrChatInternal):
		h.logger.Error("chat service failure",
			"error", err,
			"path", r.URL.Path,
			"request_id", RequestIDFromContext(r.Context()),
		)
		writeError(w, r, http.StatusBadGateway, model.ErrCodeUnavailable, "chat service unavailable")
	default:
		h.writeInternalError(w, r, "request failed", err)
	}
}
