package pricing

import "math"

// TaxRate is the sales tax applied when a quotation includes tax.
const TaxRate = 0.12

// MaterialShare is the share of the final sale price assumed to be material
// cost; the suggested minimum price is material cost divided by it.
const MaterialShare = 0.40

// CostStatus mirrors the cost computation status of a line item.
type CostStatus string

const (
	CostIdle    CostStatus = "idle"
	CostPending CostStatus = "pending"
	CostReady   CostStatus = "ready"
	CostFailed  CostStatus = "failed"
)

// Item describes a line item used for aggregation.
type Item struct {
	Width                float64
	Height               float64
	Quantity             int
	OverridePricePerArea *float64
	CostStatus           CostStatus
	TotalCost            float64
}

// Summary aggregates computed quotation totals.
type Summary struct {
	Subtotal              float64 `json:"subtotal"`
	Tax                   float64 `json:"tax"`
	Total                 float64 `json:"total"`
	TotalMaterialCost     float64 `json:"totalMaterialCost"`
	SuggestedMinimumPrice float64 `json:"suggestedMinimumPrice"`
	// Calculating is true while any item still has a cost request in flight.
	Calculating bool `json:"calculating"`
	// CostUnavailable is true when no item has a ready cost.
	CostUnavailable bool `json:"costUnavailable"`
}

// NominalPrice returns the per-area price applied to it: its override, else
// the quotation-wide price, else zero.
func NominalPrice(it Item, globalPricePerArea *float64) float64 {
	if it.OverridePricePerArea != nil {
		return *it.OverridePricePerArea
	}
	if globalPricePerArea != nil {
		return *globalPricePerArea
	}
	return 0
}

// LineAmount is the unrounded amount of one line.
func LineAmount(it Item, globalPricePerArea *float64) float64 {
	return it.Width * it.Height * float64(it.Quantity) * NominalPrice(it, globalPricePerArea)
}

// Compute aggregates items. Line amounts are summed unrounded; subtotal, tax
// and total are each rounded to cents from raw values. Material cost and the
// suggested minimum are left unrounded.
func Compute(items []Item, globalPricePerArea *float64, includeTax bool) Summary {
	var subtotalRaw, material float64
	calculating := false
	ready := 0
	for _, it := range items {
		subtotalRaw += LineAmount(it, globalPricePerArea)
		switch it.CostStatus {
		case CostReady:
			material += it.TotalCost
			ready++
		case CostPending:
			calculating = true
		}
	}
	var taxRaw float64
	if includeTax {
		taxRaw = subtotalRaw * TaxRate
	}
	return Summary{
		Subtotal:              Round2(subtotalRaw),
		Tax:                   Round2(taxRaw),
		Total:                 Round2(subtotalRaw + taxRaw),
		TotalMaterialCost:     material,
		SuggestedMinimumPrice: material / MaterialShare,
		Calculating:           calculating,
		CostUnavailable:       ready == 0,
	}
}

// Round2 rounds half away from zero to two decimals.
func Round2(v float64) float64 {
	return math.Round(v*100) / 100
}
