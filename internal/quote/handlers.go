package quote

import (
	"errors"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	"github.com/noah-isme/quote-configurator/internal/common"
)

// Handler exposes the editing session API.
type Handler struct {
	service  *Service
	validate *validator.Validate
}

// HandlerConfig configures the Handler dependencies.
type HandlerConfig struct {
	Service *Service
}

// NewHandler constructs a Handler.
func NewHandler(cfg HandlerConfig) *Handler {
	return &Handler{service: cfg.Service, validate: validator.New()}
}

type openRequest struct {
	QuotationID        *int64   `json:"quotationId" validate:"omitempty,gt=0"`
	Project            string   `json:"project" validate:"max=200"`
	ClientID           *int64   `json:"clientId" validate:"omitempty,gt=0"`
	GlobalPricePerArea *float64 `json:"globalPricePerArea" validate:"omitempty,gte=0"`
	IncludeTax         bool     `json:"includeTax"`
	Notes              string   `json:"notes"`
	ReferenceImageURL  string   `json:"referenceImageUrl" validate:"omitempty,url"`
}

type headerRequest struct {
	Project                 *string  `json:"project" validate:"omitempty,max=200"`
	ClientID                *int64   `json:"clientId" validate:"omitempty,gt=0"`
	GlobalPricePerArea      *float64 `json:"globalPricePerArea" validate:"omitempty,gte=0"`
	ClearGlobalPricePerArea bool     `json:"clearGlobalPricePerArea"`
	IncludeTax              *bool    `json:"includeTax"`
	Notes                   *string  `json:"notes"`
	ReferenceImageURL       *string  `json:"referenceImageUrl" validate:"omitempty,url"`
}

type typeRequest struct {
	GroupID        string `json:"groupId" validate:"required_without=CatalogEntryID,excluded_with=CatalogEntryID"`
	CatalogEntryID *int64 `json:"catalogEntryId" validate:"omitempty,gt=0"`
}

type valueRequest struct {
	Value string `json:"value"`
}

type itemRequest struct {
	Width                *float64 `json:"width" validate:"omitempty,gte=0"`
	Height               *float64 `json:"height" validate:"omitempty,gte=0"`
	Quantity             *int     `json:"quantity" validate:"omitempty,gte=0"`
	ColorID              *int64   `json:"colorId" validate:"omitempty,gt=0"`
	GlassColorID         *int64   `json:"glassColorId" validate:"omitempty,gt=0"`
	ClearGlassColor      bool     `json:"clearGlassColor"`
	OverridePricePerArea *float64 `json:"overridePricePerArea" validate:"omitempty,gte=0"`
	ClearOverridePrice   bool     `json:"clearOverridePrice"`
	DesignImageURL       *string  `json:"designImageUrl"`
	PendingDesignFile    *string  `json:"pendingDesignFile"`
}

type saveRequest struct {
	Settle bool `json:"settle"`
}

// Open handles POST /api/v1/sessions.
func (h *Handler) Open(w http.ResponseWriter, r *http.Request) {
	if !h.ready(w) {
		return
	}
	var req openRequest
	if r.ContentLength != 0 {
		if !h.decode(w, r, &req) {
			return
		}
	}
	sess, err := h.service.Open(r.Context(), OpenRequest{
		QuotationID: req.QuotationID,
		Header: Header{
			Project:            strings.TrimSpace(req.Project),
			ClientID:           req.ClientID,
			GlobalPricePerArea: req.GlobalPricePerArea,
			IncludeTax:         req.IncludeTax,
			Notes:              req.Notes,
			ReferenceImageURL:  strings.TrimSpace(req.ReferenceImageURL),
		},
	})
	if err != nil {
		common.WriteError(w, err)
		return
	}
	common.JSON(w, http.StatusCreated, map[string]any{"data": sess.View()})
}

// Get handles GET /api/v1/sessions/{sessionID}.
func (h *Handler) Get(w http.ResponseWriter, r *http.Request) {
	sess, ok := h.session(w, r)
	if !ok {
		return
	}
	common.JSON(w, http.StatusOK, map[string]any{"data": sess.View()})
}

// Close handles DELETE /api/v1/sessions/{sessionID}.
func (h *Handler) Close(w http.ResponseWriter, r *http.Request) {
	if !h.ready(w) {
		return
	}
	if err := h.service.Close(chi.URLParam(r, "sessionID")); err != nil {
		common.WriteError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// UpdateHeader handles PATCH /api/v1/sessions/{sessionID}.
func (h *Handler) UpdateHeader(w http.ResponseWriter, r *http.Request) {
	sess, ok := h.session(w, r)
	if !ok {
		return
	}
	var req headerRequest
	if !h.decode(w, r, &req) {
		return
	}
	err := sess.UpdateHeader(HeaderPatch{
		Project:                 req.Project,
		ClientID:                req.ClientID,
		GlobalPricePerArea:      req.GlobalPricePerArea,
		ClearGlobalPricePerArea: req.ClearGlobalPricePerArea,
		IncludeTax:              req.IncludeTax,
		Notes:                   req.Notes,
		ReferenceImageURL:       req.ReferenceImageURL,
	})
	if err != nil {
		writeDomainError(w, err)
		return
	}
	common.JSON(w, http.StatusOK, map[string]any{"data": sess.View()})
}

// AddItem handles POST /api/v1/sessions/{sessionID}/items.
func (h *Handler) AddItem(w http.ResponseWriter, r *http.Request) {
	sess, ok := h.session(w, r)
	if !ok {
		return
	}
	item, err := sess.AddItem()
	if err != nil {
		writeDomainError(w, err)
		return
	}
	common.JSON(w, http.StatusCreated, map[string]any{"data": item})
}

// DuplicateItem handles POST /api/v1/sessions/{sessionID}/items/{itemID}/duplicate.
func (h *Handler) DuplicateItem(w http.ResponseWriter, r *http.Request) {
	sess, itemID, ok := h.item(w, r)
	if !ok {
		return
	}
	item, err := sess.DuplicateItem(itemID)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	common.JSON(w, http.StatusCreated, map[string]any{"data": item})
}

// RemoveItem handles DELETE /api/v1/sessions/{sessionID}/items/{itemID}.
func (h *Handler) RemoveItem(w http.ResponseWriter, r *http.Request) {
	sess, itemID, ok := h.item(w, r)
	if !ok {
		return
	}
	if err := sess.RemoveItem(itemID); err != nil {
		writeDomainError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// SetType handles PUT /api/v1/sessions/{sessionID}/items/{itemID}/type.
func (h *Handler) SetType(w http.ResponseWriter, r *http.Request) {
	sess, itemID, ok := h.item(w, r)
	if !ok {
		return
	}
	var req typeRequest
	if !h.decode(w, r, &req) {
		return
	}
	var (
		item ItemView
		err  error
	)
	if req.CatalogEntryID != nil {
		item, err = sess.SelectSimple(itemID, *req.CatalogEntryID)
	} else {
		item, err = sess.SelectGroup(itemID, strings.TrimSpace(req.GroupID))
	}
	h.respondItem(w, item, err)
}

// SetStep handles PUT /api/v1/sessions/{sessionID}/items/{itemID}/steps/{stepKey}.
func (h *Handler) SetStep(w http.ResponseWriter, r *http.Request) {
	sess, itemID, ok := h.item(w, r)
	if !ok {
		return
	}
	var req valueRequest
	if !h.decode(w, r, &req) {
		return
	}
	item, err := sess.SetStep(itemID, chi.URLParam(r, "stepKey"), req.Value)
	h.respondItem(w, item, err)
}

// SetOption handles PUT /api/v1/sessions/{sessionID}/items/{itemID}/options/{optionKey}.
func (h *Handler) SetOption(w http.ResponseWriter, r *http.Request) {
	sess, itemID, ok := h.item(w, r)
	if !ok {
		return
	}
	var req valueRequest
	if !h.decode(w, r, &req) {
		return
	}
	item, err := sess.SetOption(itemID, chi.URLParam(r, "optionKey"), strings.TrimSpace(req.Value))
	h.respondItem(w, item, err)
}

// UpdateItem handles PATCH /api/v1/sessions/{sessionID}/items/{itemID}.
func (h *Handler) UpdateItem(w http.ResponseWriter, r *http.Request) {
	sess, itemID, ok := h.item(w, r)
	if !ok {
		return
	}
	var req itemRequest
	if !h.decode(w, r, &req) {
		return
	}
	item, err := sess.UpdateItem(itemID, Patch{
		Width:                req.Width,
		Height:               req.Height,
		Quantity:             req.Quantity,
		ColorID:              req.ColorID,
		GlassColorID:         req.GlassColorID,
		ClearGlassColor:      req.ClearGlassColor,
		OverridePricePerArea: req.OverridePricePerArea,
		ClearOverridePrice:   req.ClearOverridePrice,
		DesignImageURL:       req.DesignImageURL,
		PendingDesignFile:    req.PendingDesignFile,
	})
	h.respondItem(w, item, err)
}

// Recalculate handles POST /api/v1/sessions/{sessionID}/items/{itemID}/recalculate.
func (h *Handler) Recalculate(w http.ResponseWriter, r *http.Request) {
	sess, itemID, ok := h.item(w, r)
	if !ok {
		return
	}
	item, err := sess.Recalculate(itemID)
	h.respondItem(w, item, err)
}

// Save handles POST /api/v1/sessions/{sessionID}/save.
func (h *Handler) Save(w http.ResponseWriter, r *http.Request) {
	if !h.ready(w) {
		return
	}
	var req saveRequest
	if r.ContentLength != 0 {
		if !h.decode(w, r, &req) {
			return
		}
	}
	res, err := h.service.Save(r.Context(), chi.URLParam(r, "sessionID"), SaveOptions{Settle: req.Settle})
	if err != nil {
		common.WriteError(w, err)
		return
	}
	common.JSON(w, http.StatusOK, map[string]any{"data": res})
}

func (h *Handler) ready(w http.ResponseWriter) bool {
	if h.service == nil {
		common.JSONError(w, http.StatusInternalServerError, "INTERNAL", "quote service not configured", nil)
		return false
	}
	return true
}

func (h *Handler) session(w http.ResponseWriter, r *http.Request) (*Session, bool) {
	if !h.ready(w) {
		return nil, false
	}
	sess, err := h.service.Get(chi.URLParam(r, "sessionID"))
	if err != nil {
		common.WriteError(w, err)
		return nil, false
	}
	return sess, true
}

func (h *Handler) item(w http.ResponseWriter, r *http.Request) (*Session, uuid.UUID, bool) {
	sess, ok := h.session(w, r)
	if !ok {
		return nil, uuid.Nil, false
	}
	itemID, err := uuid.Parse(chi.URLParam(r, "itemID"))
	if err != nil {
		common.WriteError(w, common.ValidationError("itemID must be a uuid", nil))
		return nil, uuid.Nil, false
	}
	return sess, itemID, true
}

func (h *Handler) decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	if err := common.DecodeJSON(r, dst); err != nil {
		common.WriteError(w, err)
		return false
	}
	if err := h.validate.Struct(dst); err != nil {
		common.WriteError(w, common.ValidationError("invalid request", validationDetails(err)))
		return false
	}
	return true
}

func (h *Handler) respondItem(w http.ResponseWriter, item ItemView, err error) {
	if err != nil {
		writeDomainError(w, err)
		return
	}
	common.JSON(w, http.StatusOK, map[string]any{"data": item})
}

func writeDomainError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, ErrItemNotFound):
		common.WriteError(w, common.NotFound("item not found"))
	case errors.Is(err, ErrSessionClosed):
		common.WriteError(w, common.NotFound("session not found"))
	case errors.Is(err, ErrUnknownGroup),
		errors.Is(err, ErrNotSimpleType),
		errors.Is(err, ErrNoGroup),
		errors.Is(err, ErrUnknownStep),
		errors.Is(err, ErrUnknownOption),
		errors.Is(err, ErrInvalidDimension):
		common.WriteError(w, common.ValidationError(err.Error(), nil))
	default:
		common.WriteError(w, err)
	}
}
