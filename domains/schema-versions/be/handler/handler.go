package handler

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/nivello-hq/nivello-core/domains/schema-versions/be/service"
	"github.com/nivello-hq/nivello-core/platform/go/httpapi"
	"github.com/nivello-hq/nivello-core/platform/go/persistence"
	"github.com/nivello-hq/nivello-core/platform/go/tenant"
)

// Handler exposes the schema version lifecycle over HTTP.
type Handler struct {
	svc    service.Service
	logger *zap.Logger
}

// New constructs a Handler instance.
func New(svc service.Service, logger *zap.Logger) *Handler {
	if svc == nil {
		panic("schema version service is required")
	}
	if logger == nil {
		panic("logger is required")
	}
	return &Handler{svc: svc, logger: logger}
}

// Routes mounts the lifecycle endpoints on a chi router.
func (h *Handler) Routes(r chi.Router) {
	r.Post("/schemas/{entityKey}/drafts", h.createDraft)
	r.Put("/schemas/versions/{versionID}/document", h.updateDraftDocument)
	r.Post("/schemas/versions/{versionID}/publish", h.publish)
	r.Post("/schemas/{entityKey}/rollback", h.rollback)
	r.Post("/schemas/{entityKey}/merge", h.mergeTenantOverride)
	r.Get("/schemas/{entityKey}/resolved", h.resolvePublished)
	r.Get("/schemas/{entityKey}/versions", h.listVersions)
}

type schemaVersionResponse struct {
	ID            uuid.UUID       `json:"id"`
	EntityKey     string          `json:"entityKey"`
	Scope         string          `json:"scope"`
	TenantID      *string         `json:"tenantId,omitempty"`
	BaseVersionID *uuid.UUID      `json:"baseVersionId,omitempty"`
	VersionNumber int             `json:"versionNumber"`
	Document      json.RawMessage `json:"document"`
	Status        string          `json:"status"`
	CreatedAt     time.Time       `json:"createdAt"`
	UpdatedAt     time.Time       `json:"updatedAt"`
}

func toResponse(version persistence.SchemaVersion) schemaVersionResponse {
	return schemaVersionResponse{
		ID:            version.ID,
		EntityKey:     version.EntityKey,
		Scope:         string(version.Scope),
		TenantID:      version.TenantID,
		BaseVersionID: version.BaseVersionID,
		VersionNumber: version.VersionNumber,
		Document:      version.Document,
		Status:        string(version.Status),
		CreatedAt:     version.CreatedAt,
		UpdatedAt:     version.UpdatedAt,
	}
}

type createDraftRequest struct {
	Scope    string          `json:"scope"`
	TenantID *string         `json:"tenantId,omitempty"`
	Document json.RawMessage `json:"document"`
}

func (h *Handler) createDraft(w http.ResponseWriter, r *http.Request) {
	var body createDraftRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		httpapi.WriteProblem(w, h.logger, fmt.Errorf("%w: decode request body: %v", persistence.ErrInvalidArgument, err))
		return
	}

	scope, err := persistence.ParseVersionScope(body.Scope)
	if err != nil {
		httpapi.WriteProblem(w, h.logger, err)
		return
	}

	created, err := h.svc.CreateDraft(r.Context(), service.CreateDraftInput{
		EntityKey: chi.URLParam(r, "entityKey"),
		Scope:     scope,
		TenantID:  body.TenantID,
		Document:  body.Document,
	})
	if err != nil {
		httpapi.WriteProblem(w, h.logger, err)
		return
	}

	w.Header().Set("Location", fmt.Sprintf("/api/v1/schemas/%s/versions?scope=%s", created.EntityKey, created.Scope))
	httpapi.WriteJSON(w, http.StatusCreated, toResponse(created))
}

type updateDocumentRequest struct {
	Document json.RawMessage `json:"document"`
}

func (h *Handler) updateDraftDocument(w http.ResponseWriter, r *http.Request) {
	versionID, err := parseVersionID(r)
	if err != nil {
		httpapi.WriteProblem(w, h.logger, err)
		return
	}

	var body updateDocumentRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		httpapi.WriteProblem(w, h.logger, fmt.Errorf("%w: decode request body: %v", persistence.ErrInvalidArgument, err))
		return
	}

	updated, err := h.svc.UpdateDraftDocument(r.Context(), versionID, body.Document)
	if err != nil {
		httpapi.WriteProblem(w, h.logger, err)
		return
	}

	httpapi.WriteJSON(w, http.StatusOK, toResponse(updated))
}

func (h *Handler) publish(w http.ResponseWriter, r *http.Request) {
	versionID, err := parseVersionID(r)
	if err != nil {
		httpapi.WriteProblem(w, h.logger, err)
		return
	}

	published, err := h.svc.Publish(r.Context(), versionID)
	if err != nil {
		httpapi.WriteProblem(w, h.logger, err)
		return
	}

	httpapi.WriteJSON(w, http.StatusOK, toResponse(published))
}

type rollbackRequest struct {
	TargetVersionID uuid.UUID `json:"targetVersionId"`
	Scope           string    `json:"scope"`
	TenantID        *string   `json:"tenantId,omitempty"`
}

func (h *Handler) rollback(w http.ResponseWriter, r *http.Request) {
	var body rollbackRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		httpapi.WriteProblem(w, h.logger, fmt.Errorf("%w: decode request body: %v", persistence.ErrInvalidArgument, err))
		return
	}

	scope, err := persistence.ParseVersionScope(body.Scope)
	if err != nil {
		httpapi.WriteProblem(w, h.logger, err)
		return
	}

	restored, err := h.svc.Rollback(r.Context(), chi.URLParam(r, "entityKey"), body.TargetVersionID, scope, body.TenantID)
	if err != nil {
		httpapi.WriteProblem(w, h.logger, err)
		return
	}

	httpapi.WriteJSON(w, http.StatusOK, toResponse(restored))
}

type mergeRequest struct {
	TenantID string `json:"tenantId"`
}

func (h *Handler) mergeTenantOverride(w http.ResponseWriter, r *http.Request) {
	var body mergeRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		httpapi.WriteProblem(w, h.logger, fmt.Errorf("%w: decode request body: %v", persistence.ErrInvalidArgument, err))
		return
	}

	created, err := h.svc.MergeTenantOverride(r.Context(), chi.URLParam(r, "entityKey"), body.TenantID)
	if err != nil {
		httpapi.WriteProblem(w, h.logger, err)
		return
	}

	httpapi.WriteJSON(w, http.StatusCreated, toResponse(created))
}

func (h *Handler) resolvePublished(w http.ResponseWriter, r *http.Request) {
	var tenantID *string
	if id, ok := tenant.FromContext(r.Context()); ok {
		tenantID = &id
	}

	resolved, err := h.svc.ResolvePublished(r.Context(), chi.URLParam(r, "entityKey"), tenantID)
	if err != nil {
		httpapi.WriteProblem(w, h.logger, err)
		return
	}

	httpapi.WriteJSON(w, http.StatusOK, toResponse(resolved))
}

func (h *Handler) listVersions(w http.ResponseWriter, r *http.Request) {
	scope, err := persistence.ParseVersionScope(r.URL.Query().Get("scope"))
	if err != nil {
		httpapi.WriteProblem(w, h.logger, err)
		return
	}

	var tenantID *string
	if raw := r.URL.Query().Get("tenantId"); raw != "" {
		tenantID = &raw
	}

	versions, err := h.svc.ListVersions(r.Context(), chi.URLParam(r, "entityKey"), scope, tenantID)
	if err != nil {
		httpapi.WriteProblem(w, h.logger, err)
		return
	}

	items := make([]schemaVersionResponse, 0, len(versions))
	for _, version := range versions {
		items = append(items, toResponse(version))
	}

	httpapi.WriteJSON(w, http.StatusOK, map[string]any{"items": items})
}

func parseVersionID(r *http.Request) (uuid.UUID, error) {
	raw := chi.URLParam(r, "versionID")
	versionID, err := uuid.Parse(raw)
	if err != nil {
		return uuid.Nil, fmt.Errorf("%w: invalid version id %q", persistence.ErrInvalidArgument, raw)
	}
	return versionID, nil
}
