package quote_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/noah-isme/quote-configurator/internal/catalog"
	"github.com/noah-isme/quote-configurator/internal/costing"
	"github.com/noah-isme/quote-configurator/internal/quote"
)

const glassAndPanel int64 = 77

func fixtureSnapshot() *catalog.Snapshot {
	entries := []catalog.Entry{
		{ID: 1, Name: "Sliding 2H 2L"},
		{ID: 2, Name: "Sliding 2H 3L"},
		{ID: 10, Name: "Fixed Window"},
		{ID: 11, Name: "Casement"},
	}
	groups := []catalog.Group{{
		ID:          "sliding",
		DisplayName: "Sliding",
		Steps: []catalog.Step{
			{Key: "frame", Label: "Frame", Options: []catalog.StepOption{{Value: "2h", Label: "2 rails"}, {Value: "3h", Label: "3 rails"}}},
			{Key: "leaves", Label: "Leaves", Options: []catalog.StepOption{{Value: "2", Label: "2"}, {Value: "3", Label: "3"}}},
		},
		ResolveMap: map[string]string{
			"2h|2": "Sliding 2H 2L",
			"2h|3": "Sliding 2H 3L",
			"3h|3": "Sliding 3H 3L",
		},
	}}
	return catalog.NewSnapshot(entries, groups, []string{"Fixed Window"})
}

func windowOptions() []catalog.OptionGroup {
	return []catalog.OptionGroup{
		{Key: "opening", Label: "Opening", Values: []catalog.OptionValue{{Value: "left", Label: "Left"}, {Value: "right", Label: "Right"}}},
		{Key: quote.OptionDesignStyle, Label: "Design", Values: []catalog.OptionValue{{Value: quote.DesignStyleFlat, Label: "Flat"}, {Value: "grid", Label: "Grid"}}},
		{Key: quote.OptionAdditionalGlassType, Label: "Extra glass", Values: []catalog.OptionValue{{Value: "tempered", Label: "Tempered"}}},
	}
}

// mapOptions serves fixed option groups per entry.
type mapOptions struct {
	mu    sync.Mutex
	data  map[int64][]catalog.OptionGroup
	calls map[int64]int
}

func newMapOptions() *mapOptions {
	return &mapOptions{
		data: map[int64][]catalog.OptionGroup{
			1:  windowOptions(),
			2:  windowOptions(),
			10: windowOptions(),
		},
		calls: map[int64]int{},
	}
}

func (m *mapOptions) Load(_ context.Context, id int64) []catalog.OptionGroup {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls[id]++
	return append([]catalog.OptionGroup(nil), m.data[id]...)
}

// pricerFunc adapts a function to costing.Service.
type pricerFunc func(context.Context, costing.Request) (costing.Result, error)

func (f pricerFunc) ComputeCost(ctx context.Context, req costing.Request) (costing.Result, error) {
	return f(ctx, req)
}

// areaPricer prices 100 per square unit per piece.
func areaPricer() costing.Service {
	return pricerFunc(func(_ context.Context, req costing.Request) (costing.Result, error) {
		total := req.Width * req.Height * float64(req.Quantity) * 100
		return costing.Result{TotalCost: total, SuggestedMinPrice: total / 0.4}, nil
	})
}

type pendingCall struct {
	req   costing.Request
	reply chan costing.Result
	fail  chan error
}

// gatedPricer blocks every call until the test answers it.
type gatedPricer struct {
	calls chan pendingCall
}

func newGatedPricer() *gatedPricer {
	return &gatedPricer{calls: make(chan pendingCall, 16)}
}

func (g *gatedPricer) ComputeCost(ctx context.Context, req costing.Request) (costing.Result, error) {
	call := pendingCall{req: req, reply: make(chan costing.Result, 1), fail: make(chan error, 1)}
	g.calls <- call
	select {
	case res := <-call.reply:
		return res, nil
	case err := <-call.fail:
		return costing.Result{}, err
	case <-ctx.Done():
		return costing.Result{}, ctx.Err()
	}
}

func (g *gatedPricer) next(t *testing.T) pendingCall {
	t.Helper()
	select {
	case call := <-g.calls:
		return call
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for cost request")
		return pendingCall{}
	}
}

func newSession(t *testing.T, pricer costing.Service) *quote.Session {
	t.Helper()
	sess := quote.NewSession(quote.SessionConfig{
		Snapshot: fixtureSnapshot(),
		Options:  newMapOptions(),
		Pricer:   pricer,
		Rules:    quote.Rules{GlassAndPanelColorID: glassAndPanel},
	}, quote.Header{Project: "Villa"})
	t.Cleanup(sess.Close)
	return sess
}

func ptrFloat(v float64) *float64 { return &v }
func ptrInt(v int) *int           { return &v }
func ptrInt64(v int64) *int64     { return &v }
func ptrString(v string) *string  { return &v }
