package pricing_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/noah-isme/quote-configurator/internal/pricing"
)

func ptr(v float64) *float64 { return &v }

func TestComputeWithoutTax(t *testing.T) {
	items := []pricing.Item{{Width: 1, Height: 1, Quantity: 1, OverridePricePerArea: ptr(100)}}
	sum := pricing.Compute(items, nil, false)
	require.Equal(t, 100.00, sum.Subtotal)
	require.Equal(t, 0.00, sum.Tax)
	require.Equal(t, 100.00, sum.Total)
}

func TestComputeWithTax(t *testing.T) {
	items := []pricing.Item{{Width: 1, Height: 1, Quantity: 1, OverridePricePerArea: ptr(100)}}
	sum := pricing.Compute(items, nil, true)
	require.Equal(t, 100.00, sum.Subtotal)
	require.Equal(t, 12.00, sum.Tax)
	require.Equal(t, 112.00, sum.Total)
}

func TestNominalPricePrecedence(t *testing.T) {
	global := ptr(50)
	require.Equal(t, 80.0, pricing.NominalPrice(pricing.Item{OverridePricePerArea: ptr(80)}, global))
	require.Equal(t, 50.0, pricing.NominalPrice(pricing.Item{}, global))
	require.Equal(t, 0.0, pricing.NominalPrice(pricing.Item{}, nil))
}

func TestComputeRoundsOnlyAggregates(t *testing.T) {
	// three lines of 0.333 each: per-line rounding would give 0.99
	items := []pricing.Item{
		{Width: 0.333, Height: 1, Quantity: 1},
		{Width: 0.333, Height: 1, Quantity: 1},
		{Width: 0.333, Height: 1, Quantity: 1},
	}
	sum := pricing.Compute(items, ptr(1), false)
	require.Equal(t, 1.00, sum.Subtotal)
}

func TestComputeTaxFromRawSubtotal(t *testing.T) {
	// raw subtotal 10.005 -> tax 1.2006 -> 1.20, total 11.2056 -> 11.21
	items := []pricing.Item{{Width: 1, Height: 1, Quantity: 1}}
	sum := pricing.Compute(items, ptr(10.005), true)
	require.Equal(t, 1.20, sum.Tax)
	require.Equal(t, 11.21, sum.Total)
}

func TestComputeMaterialCost(t *testing.T) {
	items := []pricing.Item{
		{CostStatus: pricing.CostReady, TotalCost: 25},
		{CostStatus: pricing.CostReady, TotalCost: 15},
		{CostStatus: pricing.CostFailed, TotalCost: 99},
		{CostStatus: pricing.CostIdle},
	}
	sum := pricing.Compute(items, nil, false)
	require.Equal(t, 40.00, sum.TotalMaterialCost)
	require.Equal(t, 100.00, sum.SuggestedMinimumPrice)
	require.False(t, sum.Calculating)
	require.False(t, sum.CostUnavailable)
}

func TestComputeKeepsMaterialFiguresExact(t *testing.T) {
	sum := pricing.Compute([]pricing.Item{{CostStatus: pricing.CostReady, TotalCost: 10.005}}, nil, false)
	require.Equal(t, 10.005, sum.TotalMaterialCost)
	require.InDelta(t, 25.0125, sum.SuggestedMinimumPrice, 1e-9)
}

func TestComputeDistinguishesPendingFromUnavailable(t *testing.T) {
	pending := pricing.Compute([]pricing.Item{{CostStatus: pricing.CostPending}}, nil, false)
	require.True(t, pending.Calculating)
	require.True(t, pending.CostUnavailable)

	failed := pricing.Compute([]pricing.Item{{CostStatus: pricing.CostFailed}}, nil, false)
	require.False(t, failed.Calculating)
	require.True(t, failed.CostUnavailable)
	require.Equal(t, 0.0, failed.SuggestedMinimumPrice)
}

func TestComputeEmpty(t *testing.T) {
	sum := pricing.Compute(nil, ptr(10), true)
	require.Equal(t, pricing.Summary{CostUnavailable: true}, sum)
}
