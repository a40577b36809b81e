package quote

import (
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/noah-isme/quote-configurator/internal/catalog"
)

// Header holds the quotation-level fields edited alongside the items.
type Header struct {
	ID                 *int64   `json:"id,omitempty"`
	Project            string   `json:"project"`
	ClientID           *int64   `json:"clientId,omitempty"`
	GlobalPricePerArea *float64 `json:"globalPricePerArea,omitempty"`
	IncludeTax         bool     `json:"includeTax"`
	Notes              string   `json:"notes,omitempty"`
	ReferenceImageURL  string   `json:"referenceImageUrl,omitempty"`
}

// SavePayload is the body handed to the quotation store.
type SavePayload struct {
	ID                 *int64        `json:"id,omitempty"`
	Project            string        `json:"project" validate:"required,max=200"`
	ClientID           int64         `json:"clientId" validate:"required,gt=0"`
	GlobalPricePerArea *float64      `json:"globalPricePerArea,omitempty" validate:"omitempty,gte=0"`
	IncludeTax         bool          `json:"includeTax"`
	TotalPrice         float64       `json:"totalPrice" validate:"gte=0"`
	Notes              string        `json:"notes,omitempty"`
	ReferenceImageURL  string        `json:"referenceImageUrl,omitempty" validate:"omitempty,url"`
	Items              []PayloadItem `json:"items" validate:"required,min=1,dive"`
}

// PayloadItem is one line item of a SavePayload. ID is set only when the
// item was loaded from a persisted quotation.
type PayloadItem struct {
	ID                   *int64            `json:"id,omitempty"`
	DisplayName          string            `json:"displayName" validate:"required"`
	Width                float64           `json:"width" validate:"gt=0"`
	Height               float64           `json:"height" validate:"gt=0"`
	Quantity             int               `json:"quantity" validate:"gt=0"`
	OverridePricePerArea *float64          `json:"overridePricePerArea,omitempty" validate:"omitempty,gte=0"`
	CatalogEntryID       int64             `json:"catalogEntryId" validate:"required,gt=0"`
	ColorID              int64             `json:"colorId" validate:"required,gt=0"`
	GlassColorID         *int64            `json:"glassColorId,omitempty"`
	Options              map[string]string `json:"options"`
	DesignImageURL       string            `json:"designImageUrl,omitempty"`
}

// SavedQuotation is a persisted quotation as returned by the store.
type SavedQuotation struct {
	ID                 int64       `json:"id"`
	Project            string      `json:"project"`
	ClientID           int64       `json:"clientId"`
	GlobalPricePerArea *float64    `json:"globalPricePerArea,omitempty"`
	IncludeTax         bool        `json:"includeTax"`
	TotalPrice         float64     `json:"totalPrice"`
	Notes              string      `json:"notes,omitempty"`
	ReferenceImageURL  string      `json:"referenceImageUrl,omitempty"`
	Items              []SavedItem `json:"items"`
	CreatedAt          time.Time   `json:"createdAt"`
	UpdatedAt          time.Time   `json:"updatedAt"`
}

// SavedItem is a persisted line item. Items are returned in payload order.
type SavedItem struct {
	ID                   int64             `json:"id"`
	Position             int               `json:"position"`
	DisplayName          string            `json:"displayName"`
	Width                float64           `json:"width"`
	Height               float64           `json:"height"`
	Quantity             int               `json:"quantity"`
	OverridePricePerArea *float64          `json:"overridePricePerArea,omitempty"`
	CatalogEntryID       int64             `json:"catalogEntryId"`
	ColorID              int64             `json:"colorId"`
	GlassColorID         *int64            `json:"glassColorId,omitempty"`
	Options              map[string]string `json:"options"`
	DesignImageURL       string            `json:"designImageUrl,omitempty"`
}

// PendingUpload names a design file waiting to be uploaded for a persisted item.
type PendingUpload struct {
	QuotationID int64  `json:"quotationId"`
	ItemID      int64  `json:"itemId"`
	LocalFile   string `json:"localFile"`
}

// SaveResult is returned from a successful save.
type SaveResult struct {
	Quotation      SavedQuotation  `json:"quotation"`
	PendingUploads []PendingUpload `json:"pendingUploads"`
}

// ItemView is a read-only copy of a line item.
type ItemView struct {
	ID                   string                `json:"id"`
	PersistedID          *int64                `json:"persistedId,omitempty"`
	State                string                `json:"state"`
	GroupID              string                `json:"groupId,omitempty"`
	StepValues           map[string]string     `json:"stepValues"`
	CatalogEntryID       *int64                `json:"catalogEntryId,omitempty"`
	DisplayName          string                `json:"displayName"`
	Width                float64               `json:"width"`
	Height               float64               `json:"height"`
	Quantity             int                   `json:"quantity"`
	OverridePricePerArea *float64              `json:"overridePricePerArea,omitempty"`
	ColorID              *int64                `json:"colorId,omitempty"`
	GlassColorID         *int64                `json:"glassColorId,omitempty"`
	Options              map[string]string     `json:"options"`
	OptionGroups         []catalog.OptionGroup `json:"optionGroups"`
	DesignImageURL       string                `json:"designImageUrl,omitempty"`
	PendingDesignFile    string                `json:"pendingDesignFile,omitempty"`
	Cost                 CostState             `json:"cost"`
}

var payloadValidator = validator.New()

// ValidatePayload checks a payload before it reaches the store.
func ValidatePayload(p SavePayload) error {
	return payloadValidator.Struct(p)
}
