package quote

import (
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/noah-isme/quote-configurator/internal/catalog"
	"github.com/noah-isme/quote-configurator/internal/costing"
	"github.com/noah-isme/quote-configurator/internal/pricing"
)

// Option keys with business rules attached.
const (
	OptionDesignStyle         = "designStyle"
	DesignStyleFlat           = "flat"
	OptionAdditionalGlassType = "additionalGlassType"
)

var (
	// ErrUnknownGroup is returned when selecting a group that is not defined.
	ErrUnknownGroup = errors.New("quote: unknown group")
	// ErrNotSimpleType is returned when selecting an entry that is not on the
	// simple-type allow-list.
	ErrNotSimpleType = errors.New("quote: entry is not a simple type")
	// ErrNoGroup is returned when setting a step on an item without a group.
	ErrNoGroup = errors.New("quote: item has no group selected")
	// ErrUnknownStep is returned for a step key or value the group does not define.
	ErrUnknownStep = errors.New("quote: unknown step or step value")
	// ErrUnknownOption is returned for an option key or value outside the
	// item's option groups.
	ErrUnknownOption = errors.New("quote: unknown option or option value")
	// ErrInvalidDimension is returned for negative sizes or quantities.
	ErrInvalidDimension = errors.New("quote: invalid dimension")
)

// Rules carries the catalog-specific ids that business rules refer to.
type Rules struct {
	// GlassAndPanelColorID is the composite glass color that enables the
	// additionalGlassType option.
	GlassAndPanelColorID int64
}

// Effect tells the session which asynchronous work a transition requires.
type Effect uint8

const (
	// EffectLoadOptions asks for the option groups of the resolved entry.
	EffectLoadOptions Effect = 1 << iota
	// EffectRecost asks for a new cost computation.
	EffectRecost
)

// Has reports whether e includes f.
func (e Effect) Has(f Effect) bool { return e&f != 0 }

// CostResult is the last computed cost of an item.
type CostResult struct {
	TotalCost         float64 `json:"totalCost"`
	SuggestedMinPrice float64 `json:"suggestedMinPrice"`
}

// CostState tracks the cost request lifecycle of one item. Seq is the
// sequence of the latest issued request; only its response may land.
type CostState struct {
	Status pricing.CostStatus `json:"status"`
	Result *CostResult        `json:"result,omitempty"`
	Seq    uint64             `json:"seq"`
}

// LineItem is one configured unit of a quotation.
type LineItem struct {
	ID                   uuid.UUID
	PersistedID          *int64
	GroupID              string
	StepValues           map[string]string
	CatalogEntryID       *int64
	DisplayName          string
	Width                float64
	Height               float64
	Quantity             int
	OverridePricePerArea *float64
	ColorID              *int64
	GlassColorID         *int64
	Options              map[string]string
	OptionGroups         []catalog.OptionGroup
	DesignImageURL       string
	PendingDesignFile    string
	Cost                 CostState

	baseName       string
	optionSeq      uint64
	optionsLoading bool
	// restoredOptions holds persisted options until the entry's option
	// groups are known.
	restoredOptions map[string]string
}

// NewLineItem returns an empty item with a fresh identity.
func NewLineItem() *LineItem {
	return &LineItem{
		ID:         uuid.New(),
		StepValues: map[string]string{},
		Options:    map[string]string{},
		Quantity:   1,
		Cost:       CostState{Status: pricing.CostIdle},
	}
}

// State names the configuration stage of the item.
func (it *LineItem) State() string {
	switch {
	case it.CatalogEntryID == nil && it.GroupID == "":
		return "empty"
	case it.CatalogEntryID == nil:
		return "type_selecting"
	case it.optionsLoading:
		return "type_resolved"
	case it.Cost.Status == pricing.CostPending:
		return "cost_pending"
	case it.Cost.Status == pricing.CostReady:
		return "cost_ready"
	case it.Cost.Status == pricing.CostFailed:
		return "cost_failed"
	default:
		return "options_loaded"
	}
}

// SelectGroup starts a multi-step selection, discarding the resolved entry
// and everything derived from it.
func (it *LineItem) SelectGroup(snap *catalog.Snapshot, groupID string) (Effect, error) {
	if _, ok := snap.Group(groupID); !ok {
		return 0, fmt.Errorf("%w: %s", ErrUnknownGroup, groupID)
	}
	it.GroupID = groupID
	it.StepValues = map[string]string{}
	it.clearResolution()
	return 0, nil
}

// SelectSimple sets an allow-listed entry directly.
func (it *LineItem) SelectSimple(snap *catalog.Snapshot, entryID int64) (Effect, error) {
	entry, ok := snap.Entry(entryID)
	if !ok || !snap.IsSimpleType(entryID) {
		return 0, fmt.Errorf("%w: %d", ErrNotSimpleType, entryID)
	}
	it.GroupID = ""
	it.StepValues = map[string]string{}
	it.clearResolution()
	it.resolveTo(entry)
	return EffectLoadOptions | EffectRecost, nil
}

// SetStep merges one step value and re-resolves the entry. A cleared value
// ("") removes the step.
func (it *LineItem) SetStep(snap *catalog.Snapshot, key, value string) (Effect, error) {
	if it.GroupID == "" {
		return 0, ErrNoGroup
	}
	g, ok := snap.Group(it.GroupID)
	if !ok {
		return 0, fmt.Errorf("%w: %s", ErrUnknownGroup, it.GroupID)
	}
	value = strings.TrimSpace(value)
	if !validStepValue(g, key, value) {
		return 0, fmt.Errorf("%w: %s=%s", ErrUnknownStep, key, value)
	}
	if value == "" {
		delete(it.StepValues, key)
	} else {
		it.StepValues[key] = value
	}

	id, resolved := snap.ResolveEntryID(it.GroupID, it.StepValues)
	if !resolved {
		if it.CatalogEntryID != nil {
			it.clearResolution()
		}
		return 0, nil
	}
	if it.CatalogEntryID != nil && *it.CatalogEntryID == id {
		return 0, nil
	}
	entry, _ := snap.Entry(id)
	it.clearResolution()
	it.resolveTo(entry)
	return EffectLoadOptions | EffectRecost, nil
}

func validStepValue(g catalog.Group, key, value string) bool {
	for _, step := range g.Steps {
		if step.Key != key {
			continue
		}
		if value == "" || len(step.Options) == 0 {
			return true
		}
		for _, opt := range step.Options {
			if opt.Value == value {
				return true
			}
		}
		return false
	}
	return false
}

// SetOption sets one dynamic option; an empty value unsets it. Keys and
// values are checked against the loaded option groups.
func (it *LineItem) SetOption(key, value string) (Effect, error) {
	group, ok := it.optionGroup(key)
	if !ok {
		return 0, fmt.Errorf("%w: %s", ErrUnknownOption, key)
	}
	if value == "" {
		delete(it.Options, key)
	} else {
		if _, ok := group.LabelFor(value); !ok {
			return 0, fmt.Errorf("%w: %s=%s", ErrUnknownOption, key, value)
		}
		it.Options[key] = value
	}
	if key == OptionDesignStyle && value == DesignStyleFlat {
		it.DesignImageURL = ""
		it.PendingDesignFile = ""
	}
	it.refreshName()
	return EffectRecost, nil
}

func (it *LineItem) optionGroup(key string) (catalog.OptionGroup, bool) {
	for _, g := range it.OptionGroups {
		if g.Key == key {
			return g, true
		}
	}
	return catalog.OptionGroup{}, false
}

// Patch lists the directly editable fields of an item. Nil fields are left
// untouched; the Clear flags unset optional values.
type Patch struct {
	Width                *float64
	Height               *float64
	Quantity             *int
	ColorID              *int64
	GlassColorID         *int64
	ClearGlassColor      bool
	OverridePricePerArea *float64
	ClearOverridePrice   bool
	DesignImageURL       *string
	PendingDesignFile    *string
}

// Apply updates the item. Only size, quantity and color changes require a
// new cost computation.
func (it *LineItem) Apply(p Patch, rules Rules) (Effect, error) {
	if (p.Width != nil && *p.Width < 0) || (p.Height != nil && *p.Height < 0) || (p.Quantity != nil && *p.Quantity < 0) {
		return 0, ErrInvalidDimension
	}
	var eff Effect
	if p.Width != nil && *p.Width != it.Width {
		it.Width = *p.Width
		eff |= EffectRecost
	}
	if p.Height != nil && *p.Height != it.Height {
		it.Height = *p.Height
		eff |= EffectRecost
	}
	if p.Quantity != nil && *p.Quantity != it.Quantity {
		it.Quantity = *p.Quantity
		eff |= EffectRecost
	}
	if p.ColorID != nil && !sameID(it.ColorID, p.ColorID) {
		it.ColorID = copyID(p.ColorID)
		eff |= EffectRecost
	}
	if p.ClearGlassColor || p.GlassColorID != nil {
		next := p.GlassColorID
		if p.ClearGlassColor {
			next = nil
		}
		if !sameID(it.GlassColorID, next) {
			it.GlassColorID = copyID(next)
			eff |= EffectRecost
		}
		if next == nil || *next != rules.GlassAndPanelColorID {
			if _, had := it.Options[OptionAdditionalGlassType]; had {
				delete(it.Options, OptionAdditionalGlassType)
				it.refreshName()
				eff |= EffectRecost
			}
		}
	}
	if p.ClearOverridePrice {
		it.OverridePricePerArea = nil
	} else if p.OverridePricePerArea != nil {
		v := *p.OverridePricePerArea
		it.OverridePricePerArea = &v
	}
	if p.DesignImageURL != nil {
		it.DesignImageURL = strings.TrimSpace(*p.DesignImageURL)
	}
	if p.PendingDesignFile != nil {
		it.PendingDesignFile = strings.TrimSpace(*p.PendingDesignFile)
	}
	return eff, nil
}

// CostRequest builds the pricing request, reporting false until the entry,
// both sizes and the color are known.
func (it *LineItem) CostRequest() (costing.Request, bool) {
	if it.CatalogEntryID == nil || it.Width <= 0 || it.Height <= 0 || it.ColorID == nil {
		return costing.Request{}, false
	}
	return costing.Request{
		CatalogEntryID: *it.CatalogEntryID,
		Width:          it.Width,
		Height:         it.Height,
		ColorID:        *it.ColorID,
		GlassColorID:   copyID(it.GlassColorID),
		Options:        copyMap(it.Options),
		Quantity:       it.Quantity,
	}, true
}

// beginCost issues a new cost sequence and marks the item pending. The last
// result is kept so the display stays stable.
func (it *LineItem) beginCost() uint64 {
	it.Cost.Seq++
	it.Cost.Status = pricing.CostPending
	return it.Cost.Seq
}

// completeCost lands a response. Responses of superseded requests are
// rejected and reported false.
func (it *LineItem) completeCost(seq uint64, res costing.Result, err error) bool {
	if seq != it.Cost.Seq || it.Cost.Status != pricing.CostPending {
		return false
	}
	if err != nil {
		it.Cost.Status = pricing.CostFailed
		return true
	}
	it.Cost.Status = pricing.CostReady
	it.Cost.Result = &CostResult{TotalCost: res.TotalCost, SuggestedMinPrice: res.SuggestedMinPrice}
	return true
}

// invalidateCost drops any in-flight cost response and the stale result.
func (it *LineItem) invalidateCost() {
	it.Cost.Seq++
	it.Cost.Status = pricing.CostIdle
	it.Cost.Result = nil
}

func (it *LineItem) beginOptionLoad() uint64 {
	it.optionSeq++
	it.optionsLoading = true
	return it.optionSeq
}

// completeOptionLoad installs option groups loaded for entryID. It reports
// whether the response was current and whether restored options were
// applied.
func (it *LineItem) completeOptionLoad(seq uint64, entryID int64, groups []catalog.OptionGroup) (applied, restored bool) {
	if seq != it.optionSeq || it.CatalogEntryID == nil || *it.CatalogEntryID != entryID {
		return false, false
	}
	it.optionsLoading = false
	it.OptionGroups = groups
	for key, value := range it.Options {
		if g, ok := it.optionGroup(key); !ok {
			delete(it.Options, key)
		} else if _, ok := g.LabelFor(value); !ok {
			delete(it.Options, key)
		}
	}
	if it.restoredOptions != nil {
		for key, value := range it.restoredOptions {
			if g, ok := it.optionGroup(key); ok {
				if _, ok := g.LabelFor(value); ok {
					it.Options[key] = value
				}
			}
		}
		it.restoredOptions = nil
		restored = true
	}
	it.refreshName()
	return true, restored
}

func (it *LineItem) clearResolution() {
	it.CatalogEntryID = nil
	it.baseName = ""
	it.DisplayName = ""
	it.Options = map[string]string{}
	it.OptionGroups = nil
	it.restoredOptions = nil
	it.optionSeq++
	it.optionsLoading = false
	it.invalidateCost()
}

func (it *LineItem) resolveTo(entry catalog.Entry) {
	id := entry.ID
	it.CatalogEntryID = &id
	it.baseName = entry.Name
	it.refreshName()
}

func (it *LineItem) refreshName() {
	it.DisplayName = DeriveName(it.baseName, it.OptionGroups, it.Options)
}

// DeriveName joins the entry name with the labels of the selected option
// values, in option group order.
func DeriveName(base string, groups []catalog.OptionGroup, options map[string]string) string {
	parts := make([]string, 0, len(groups)+1)
	if base = strings.TrimSpace(base); base != "" {
		parts = append(parts, base)
	}
	for _, g := range groups {
		value, ok := options[g.Key]
		if !ok || value == "" {
			continue
		}
		if label, ok := g.LabelFor(value); ok && strings.TrimSpace(label) != "" {
			parts = append(parts, strings.TrimSpace(label))
		}
	}
	return strings.Join(parts, " ")
}

// Duplicate copies the configuration into a new item with a fresh identity
// and an idle cost state.
func (it *LineItem) Duplicate() *LineItem {
	dup := &LineItem{
		ID:                   uuid.New(),
		GroupID:              it.GroupID,
		StepValues:           copyMap(it.StepValues),
		CatalogEntryID:       copyID(it.CatalogEntryID),
		DisplayName:          it.DisplayName,
		Width:                it.Width,
		Height:               it.Height,
		Quantity:             it.Quantity,
		OverridePricePerArea: copyFloat(it.OverridePricePerArea),
		ColorID:              copyID(it.ColorID),
		GlassColorID:         copyID(it.GlassColorID),
		Options:              copyMap(it.Options),
		OptionGroups:         append([]catalog.OptionGroup(nil), it.OptionGroups...),
		DesignImageURL:       it.DesignImageURL,
		PendingDesignFile:    it.PendingDesignFile,
		Cost:                 CostState{Status: pricing.CostIdle},
		baseName:             it.baseName,
	}
	if it.restoredOptions != nil {
		dup.restoredOptions = copyMap(it.restoredOptions)
	}
	return dup
}

// Incomplete lists the missing required fields of the item.
func (it *LineItem) Incomplete() []string {
	var missing []string
	if it.CatalogEntryID == nil {
		missing = append(missing, "catalogEntryId")
	}
	if it.Width <= 0 {
		missing = append(missing, "width")
	}
	if it.Height <= 0 {
		missing = append(missing, "height")
	}
	if it.Quantity <= 0 {
		missing = append(missing, "quantity")
	}
	if it.ColorID == nil {
		missing = append(missing, "colorId")
	}
	return missing
}

func sameID(a, b *int64) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return *a == *b
}

func copyID(v *int64) *int64 {
	if v == nil {
		return nil
	}
	c := *v
	return &c
}

func copyFloat(v *float64) *float64 {
	if v == nil {
		return nil
	}
	c := *v
	return &c
}

func copyMap(m map[string]string) map[string]string {
	out := make(map[string]string, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}
