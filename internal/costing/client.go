package costing

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/noah-isme/quote-configurator/internal/resilience"
)

// Request is the input of one line item cost computation.
type Request struct {
	CatalogEntryID int64             `json:"catalogEntryId"`
	Width          float64           `json:"width"`
	Height         float64           `json:"height"`
	ColorID        int64             `json:"colorId"`
	GlassColorID   *int64            `json:"glassColorId,omitempty"`
	Options        map[string]string `json:"options"`
	Quantity       int               `json:"quantity"`
}

// Result is the pricing collaborator's answer.
type Result struct {
	TotalCost         float64 `json:"totalCost"`
	SuggestedMinPrice float64 `json:"suggestedMinPrice"`
}

// Service computes material cost for a configured item.
type Service interface {
	ComputeCost(ctx context.Context, req Request) (Result, error)
}

// HTTPClient calls the pricing service JSON API.
type HTTPClient struct {
	BaseURL string
	HTTP    resilience.HTTPClient
}

type resultEnvelope struct {
	Data Result `json:"data"`
}

// ComputeCost handles POST {base}/cost.
func (c HTTPClient) ComputeCost(ctx context.Context, req Request) (Result, error) {
	base := strings.TrimRight(strings.TrimSpace(c.BaseURL), "/")
	if base == "" {
		return Result{}, errors.New("costing: base url not configured")
	}
	var env resultEnvelope
	if err := c.HTTP.DoJSON(ctx, http.MethodPost, base+"/cost", req, &env); err != nil {
		return Result{}, fmt.Errorf("costing: compute cost for entry %d: %w", req.CatalogEntryID, err)
	}
	return env.Data, nil
}
