package handler

import (
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/nivello-hq/nivello-core/domains/tenants/be/service"
	"github.com/nivello-hq/nivello-core/platform/go/httpapi"
	"github.com/nivello-hq/nivello-core/platform/go/persistence"
)

// Handler exposes tenant registration over HTTP.
type Handler struct {
	svc    service.Service
	logger *zap.Logger
}

// New constructs a Handler instance.
func New(svc service.Service, logger *zap.Logger) *Handler {
	if svc == nil {
		panic("tenant service is required")
	}
	if logger == nil {
		panic("logger is required")
	}
	return &Handler{svc: svc, logger: logger}
}

// Routes mounts the tenant endpoints on a chi router.
func (h *Handler) Routes(r chi.Router) {
	r.Post("/tenants", h.create)
	r.Get("/tenants", h.list)
	r.Get("/tenants/{tenantID}", h.get)
}

type createRequest struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

func (h *Handler) create(w http.ResponseWriter, r *http.Request) {
	var body createRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		httpapi.WriteProblem(w, h.logger, fmt.Errorf("%w: decode request body: %v", persistence.ErrInvalidArgument, err))
		return
	}

	created, err := h.svc.Create(r.Context(), body.ID, body.Name)
	if err != nil {
		httpapi.WriteProblem(w, h.logger, err)
		return
	}

	w.Header().Set("Location", "/api/v1/tenants/"+created.ID)
	httpapi.WriteJSON(w, http.StatusCreated, created)
}

func (h *Handler) get(w http.ResponseWriter, r *http.Request) {
	tenant, err := h.svc.Get(r.Context(), chi.URLParam(r, "tenantID"))
	if err != nil {
		httpapi.WriteProblem(w, h.logger, err)
		return
	}
	httpapi.WriteJSON(w, http.StatusOK, tenant)
}

func (h *Handler) list(w http.ResponseWriter, r *http.Request) {
	tenants, err := h.svc.List(r.Context())
	if err != nil {
		httpapi.WriteProblem(w, h.logger, err)
		return
	}
	httpapi.WriteJSON(w, http.StatusOK, map[string]any{"items": tenants})
}
