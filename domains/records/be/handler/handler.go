package handler

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/nivello-hq/nivello-core/domains/records/be/service"
	"github.com/nivello-hq/nivello-core/platform/go/httpapi"
	"github.com/nivello-hq/nivello-core/platform/go/persistence"
	"github.com/nivello-hq/nivello-core/platform/go/tenant"
)

// versionField is the body key carrying the expected version on updates.
const versionField = "_version"

// Handler exposes schema-described record CRUD over HTTP. Every route
// requires a tenant, resolved into the context by middleware.
type Handler struct {
	svc    service.Service
	logger *zap.Logger
}

// New constructs a Handler instance.
func New(svc service.Service, logger *zap.Logger) *Handler {
	if svc == nil {
		panic("records service is required")
	}
	if logger == nil {
		panic("logger is required")
	}
	return &Handler{svc: svc, logger: logger}
}

// Routes mounts the record endpoints on a chi router.
func (h *Handler) Routes(r chi.Router) {
	r.Get("/data/{entityKey}", h.list)
	r.Post("/data/{entityKey}", h.create)
	r.Get("/data/{entityKey}/{recordID}", h.getByID)
	r.Put("/data/{entityKey}/{recordID}", h.update)
	r.Delete("/data/{entityKey}/{recordID}", h.remove)
}

type listResponse struct {
	Items  []persistence.Record `json:"items"`
	Total  int64                `json:"total"`
	Offset int                  `json:"offset"`
	Limit  int                  `json:"limit"`
}

func (h *Handler) list(w http.ResponseWriter, r *http.Request) {
	tenantID, ok := tenant.FromContext(r.Context())
	if !ok {
		httpapi.WriteProblem(w, h.logger, fmt.Errorf("%w: tenant id is required", persistence.ErrInvalidArgument))
		return
	}

	result, err := h.svc.List(r.Context(), chi.URLParam(r, "entityKey"), tenantID, r.URL.Query())
	if err != nil {
		httpapi.WriteProblem(w, h.logger, err)
		return
	}

	httpapi.WriteJSON(w, http.StatusOK, listResponse{
		Items:  result.Items,
		Total:  result.Total,
		Offset: result.Offset,
		Limit:  result.Limit,
	})
}

func (h *Handler) getByID(w http.ResponseWriter, r *http.Request) {
	tenantID, ok := tenant.FromContext(r.Context())
	if !ok {
		httpapi.WriteProblem(w, h.logger, fmt.Errorf("%w: tenant id is required", persistence.ErrInvalidArgument))
		return
	}

	record, err := h.svc.GetByID(r.Context(), chi.URLParam(r, "entityKey"), tenantID, chi.URLParam(r, "recordID"))
	if err != nil {
		httpapi.WriteProblem(w, h.logger, err)
		return
	}

	httpapi.WriteJSON(w, http.StatusOK, record)
}

func (h *Handler) create(w http.ResponseWriter, r *http.Request) {
	tenantID, ok := tenant.FromContext(r.Context())
	if !ok {
		httpapi.WriteProblem(w, h.logger, fmt.Errorf("%w: tenant id is required", persistence.ErrInvalidArgument))
		return
	}

	payload, _, err := decodePayload(r)
	if err != nil {
		httpapi.WriteProblem(w, h.logger, err)
		return
	}

	record, err := h.svc.Create(r.Context(), chi.URLParam(r, "entityKey"), tenantID, payload)
	if err != nil {
		httpapi.WriteProblem(w, h.logger, err)
		return
	}

	httpapi.WriteJSON(w, http.StatusCreated, record)
}

func (h *Handler) update(w http.ResponseWriter, r *http.Request) {
	tenantID, ok := tenant.FromContext(r.Context())
	if !ok {
		httpapi.WriteProblem(w, h.logger, fmt.Errorf("%w: tenant id is required", persistence.ErrInvalidArgument))
		return
	}

	payload, expectedVersion, err := decodePayload(r)
	if err != nil {
		httpapi.WriteProblem(w, h.logger, err)
		return
	}

	if expectedVersion == nil {
		if raw := r.URL.Query().Get("expectedVersion"); raw != "" {
			parsed, parseErr := strconv.Atoi(raw)
			if parseErr != nil {
				httpapi.WriteProblem(w, h.logger, fmt.Errorf("%w: invalid expectedVersion %q", persistence.ErrInvalidArgument, raw))
				return
			}
			expectedVersion = &parsed
		}
	}

	record, err := h.svc.Update(r.Context(), chi.URLParam(r, "entityKey"), tenantID, chi.URLParam(r, "recordID"), payload, expectedVersion)
	if err != nil {
		httpapi.WriteProblem(w, h.logger, err)
		return
	}

	httpapi.WriteJSON(w, http.StatusOK, record)
}

func (h *Handler) remove(w http.ResponseWriter, r *http.Request) {
	tenantID, ok := tenant.FromContext(r.Context())
	if !ok {
		httpapi.WriteProblem(w, h.logger, fmt.Errorf("%w: tenant id is required", persistence.ErrInvalidArgument))
		return
	}

	deleted, err := h.svc.Delete(r.Context(), chi.URLParam(r, "entityKey"), tenantID, chi.URLParam(r, "recordID"))
	if err != nil {
		httpapi.WriteProblem(w, h.logger, err)
		return
	}
	if !deleted {
		httpapi.WriteProblem(w, h.logger, fmt.Errorf("%w: record %s", persistence.ErrNotFound, chi.URLParam(r, "recordID")))
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// decodePayload reads the JSON body and pops the _version marker out of the
// field set, when present.
func decodePayload(r *http.Request) (map[string]any, *int, error) {
	var payload map[string]any
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		return nil, nil, fmt.Errorf("%w: decode request body: %v", persistence.ErrInvalidArgument, err)
	}

	var expectedVersion *int
	if raw, ok := payload[versionField]; ok {
		number, isNumber := raw.(float64)
		if !isNumber || number != float64(int(number)) {
			return nil, nil, fmt.Errorf("%w: %s must be an integer", persistence.ErrInvalidArgument, versionField)
		}
		value := int(number)
		expectedVersion = &value
		delete(payload, versionField)
	}

	return payload, expectedVersion, nil
}
