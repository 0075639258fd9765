package handler

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"visitorid/internal/identity/models"
	dErrors "visitorid/pkg/domain-errors"
	"visitorid/pkg/platform/httputil"
	"visitorid/pkg/requestcontext"
)

const (
	paramFingerprint     = "fingerprint_id"
	paramWeakFingerprint = "weak_fingerprint_id"
	paramTypingPatterns  = "collected_typing_patterns"
)

// Resolver resolves a visitor to an identity id.
type Resolver interface {
	Resolve(ctx context.Context, primaryID, weakID string, samples []string) (int64, error)
}

// AdminService performs operator actions on identities.
type AdminService interface {
	Get(ctx context.Context, id int64) (*models.Identity, error)
	Delete(ctx context.Context, id int64) error
}

// Handler wires identity endpoints to the resolver and admin services.
type Handler struct {
	resolver Resolver
	admin    AdminService
	logger   *slog.Logger
}

func New(resolver Resolver, admin AdminService, logger *slog.Logger) *Handler {
	return &Handler{
		resolver: resolver,
		admin:    admin,
		logger:   logger,
	}
}

// Register mounts the public resolution endpoint.
func (h *Handler) Register(r chi.Router) {
	r.Get("/v1/check", h.HandleCheck)
}

// RegisterAdmin mounts the admin endpoints. Callers guard r with the admin
// token middleware.
func (h *Handler) RegisterAdmin(r chi.Router) {
	r.Get("/admin/identities/{id}", h.HandleGetIdentity)
	r.Delete("/admin/identities/{id}", h.HandleDeleteIdentity)
}

// HandleCheck handles GET /v1/check and responds with the bare identity id.
func (h *Handler) HandleCheck(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requestID := requestcontext.RequestID(ctx)
	start := time.Now()

	query := r.URL.Query()
	primaryID := query.Get(paramFingerprint)
	weakID := query.Get(paramWeakFingerprint)
	samples := nonEmpty(query[paramTypingPatterns])

	if primaryID == "" || weakID == "" {
		httputil.WriteError(w, dErrors.New(dErrors.CodeBadRequest, "fingerprint_id and weak_fingerprint_id are required"))
		return
	}

	id, err := h.resolver.Resolve(ctx, primaryID, weakID, samples)
	if err != nil {
		h.logger.ErrorContext(ctx, "identity resolution failed",
			"request_id", requestID,
			"error", err,
		)
		httputil.WriteError(w, err)
		return
	}

	h.logger.DebugContext(ctx, "identity checked",
		"request_id", requestID,
		"identity_id", id,
		"samples", len(samples),
		"duration_ms", time.Since(start).Milliseconds(),
	)
	httputil.WriteJSON(w, http.StatusOK, id)
}

// HandleGetIdentity handles GET /admin/identities/{id}.
func (h *Handler) HandleGetIdentity(w http.ResponseWriter, r *http.Request) {
	id, ok := parseIdentityID(w, r)
	if !ok {
		return
	}
	identity, err := h.admin.Get(r.Context(), id)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, identity)
}

// HandleDeleteIdentity handles DELETE /admin/identities/{id}.
func (h *Handler) HandleDeleteIdentity(w http.ResponseWriter, r *http.Request) {
	id, ok := parseIdentityID(w, r)
	if !ok {
		return
	}
	if err := h.admin.Delete(r.Context(), id); err != nil {
		httputil.WriteError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func parseIdentityID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || id <= 0 {
		httputil.WriteError(w, dErrors.New(dErrors.CodeBadRequest, "identity id must be a positive integer"))
		return 0, false
	}
	return id, true
}

func nonEmpty(values []string) []string {
	out := values[:0:0]
	for _, v := range values {
		if v != "" {
			out = append(out, v)
		}
	}
	return out
}
