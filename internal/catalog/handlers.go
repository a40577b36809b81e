package catalog

import (
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/noah-isme/quote-configurator/internal/common"
)

// Handler exposes read-only catalog endpoints used to populate selectors.
type Handler struct {
	service *Service
}

// HandlerConfig configures the Handler dependencies.
type HandlerConfig struct {
	Service *Service
}

// NewHandler constructs a Handler.
func NewHandler(cfg HandlerConfig) *Handler {
	return &Handler{service: cfg.Service}
}

// Selector handles GET /api/v1/catalog/selector.
func (h *Handler) Selector(w http.ResponseWriter, r *http.Request) {
	if h.service == nil {
		common.JSONError(w, http.StatusInternalServerError, "INTERNAL", "catalog service not configured", nil)
		return
	}
	snap := h.service.Snapshot(r.Context())
	common.JSON(w, http.StatusOK, map[string]any{"data": snap.SelectorList()})
}

// Groups handles GET /api/v1/catalog/groups.
func (h *Handler) Groups(w http.ResponseWriter, r *http.Request) {
	if h.service == nil {
		common.JSONError(w, http.StatusInternalServerError, "INTERNAL", "catalog service not configured", nil)
		return
	}
	groups := h.service.Definitions().Groups
	if groups == nil {
		groups = []Group{}
	}
	common.JSON(w, http.StatusOK, map[string]any{"data": groups})
}

// OptionGroups handles GET /api/v1/catalog/entries/{entryID}/option-groups.
func (h *Handler) OptionGroups(w http.ResponseWriter, r *http.Request) {
	if h.service == nil {
		common.JSONError(w, http.StatusInternalServerError, "INTERNAL", "catalog service not configured", nil)
		return
	}
	id, err := strconv.ParseInt(chi.URLParam(r, "entryID"), 10, 64)
	if err != nil || id <= 0 {
		common.WriteError(w, common.ValidationError("entryID must be a positive integer", nil))
		return
	}
	groups := h.service.OptionLoader().Load(r.Context(), id)
	common.JSON(w, http.StatusOK, map[string]any{"data": groups})
}
