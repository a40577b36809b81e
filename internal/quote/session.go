package quote

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/noah-isme/quote-configurator/internal/catalog"
	"github.com/noah-isme/quote-configurator/internal/costing"
	"github.com/noah-isme/quote-configurator/internal/obs"
	"github.com/noah-isme/quote-configurator/internal/pricing"
)

var (
	// ErrSessionClosed is returned for operations on a closed session.
	ErrSessionClosed = errors.New("quote: session closed")
	// ErrItemNotFound is returned when an item id is not part of the session.
	ErrItemNotFound = errors.New("quote: item not found")
)

// OptionSource loads the option groups of a catalog entry. It never fails;
// an unavailable collaborator yields an empty set.
type OptionSource interface {
	Load(ctx context.Context, entryID int64) []catalog.OptionGroup
}

// SessionConfig wires a Session to its collaborators.
type SessionConfig struct {
	Snapshot *catalog.Snapshot
	Options  OptionSource
	Pricer   costing.Service
	Rules    Rules
	Logger   zerolog.Logger
	Now      func() time.Time
}

// Session is one quotation being edited. All mutation is serialised behind
// a single mutex; collaborator calls run outside it and re-enter through it.
type Session struct {
	ID string

	snapshot *catalog.Snapshot
	options  OptionSource
	pricer   costing.Service
	rules    Rules
	logger   zerolog.Logger
	now      func() time.Time

	ctx    context.Context
	cancel context.CancelFunc

	// saveMu is held from draft to applySaved so a second save sees the ids
	// assigned by the first.
	saveMu sync.Mutex

	mu       sync.Mutex
	drained  *sync.Cond
	inflight int
	alive    bool
	touched  time.Time
	header   Header
	items    []*LineItem
	index    map[uuid.UUID]*LineItem
}

// NewSession opens an empty session with the given header.
func NewSession(cfg SessionConfig, header Header) *Session {
	snap := cfg.Snapshot
	if snap == nil {
		snap = catalog.NewSnapshot(nil, nil, nil)
	}
	now := cfg.Now
	if now == nil {
		now = time.Now
	}
	id := uuid.NewString()
	ctx, cancel := context.WithCancel(context.Background())
	s := &Session{
		ID:       id,
		snapshot: snap,
		options:  cfg.Options,
		pricer:   cfg.Pricer,
		rules:    cfg.Rules,
		logger:   cfg.Logger.With().Str("session_id", id).Logger(),
		now:      now,
		ctx:      ctx,
		cancel:   cancel,
		alive:    true,
		touched:  now(),
		header:   header,
		index:    make(map[uuid.UUID]*LineItem),
	}
	s.drained = sync.NewCond(&s.mu)
	obs.AddActiveSessions(1)
	return s
}

// RestoreSession opens a session from a persisted quotation. Multi-step
// items get their selector state back through the inverse resolver; their
// options are applied once the entry's option groups have loaded.
func RestoreSession(cfg SessionConfig, saved SavedQuotation) *Session {
	id := saved.ID
	clientID := saved.ClientID
	s := NewSession(cfg, Header{
		ID:                 &id,
		Project:            saved.Project,
		ClientID:           &clientID,
		GlobalPricePerArea: copyFloat(saved.GlobalPricePerArea),
		IncludeTax:         saved.IncludeTax,
		Notes:              saved.Notes,
		ReferenceImageURL:  saved.ReferenceImageURL,
	})

	s.mu.Lock()
	defer s.mu.Unlock()
	for _, row := range saved.Items {
		it := s.restoreItem(row)
		s.items = append(s.items, it)
		s.index[it.ID] = it
		if it.CatalogEntryID != nil {
			s.loadOptions(it)
			s.recost(it)
		}
	}
	return s
}

func (s *Session) restoreItem(row SavedItem) *LineItem {
	it := NewLineItem()
	persisted := row.ID
	it.PersistedID = &persisted
	it.Width = row.Width
	it.Height = row.Height
	it.Quantity = row.Quantity
	it.OverridePricePerArea = copyFloat(row.OverridePricePerArea)
	color := row.ColorID
	it.ColorID = &color
	it.GlassColorID = copyID(row.GlassColorID)
	it.DesignImageURL = row.DesignImageURL
	it.DisplayName = row.DisplayName

	entry, ok := s.snapshot.Entry(row.CatalogEntryID)
	if !ok {
		s.logger.Warn().
			Int64("item_id", row.ID).
			Int64("catalog_entry_id", row.CatalogEntryID).
			Msg("restored_entry_missing")
		return it
	}
	if sel, ok := s.snapshot.InverseResolve(entry.ID); ok {
		it.GroupID = sel.GroupID
		it.StepValues = sel.StepValues
	}
	it.resolveTo(entry)
	it.DisplayName = row.DisplayName
	if len(row.Options) > 0 {
		it.restoredOptions = copyMap(row.Options)
	}
	return it
}

// Header returns the quotation header.
func (s *Session) Header() Header {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.header
}

// HeaderPatch updates quotation-level fields. Nil fields are left untouched.
type HeaderPatch struct {
	Project                 *string
	ClientID                *int64
	GlobalPricePerArea      *float64
	ClearGlobalPricePerArea bool
	IncludeTax              *bool
	Notes                   *string
	ReferenceImageURL       *string
}

// UpdateHeader applies p. Header fields only feed the aggregate, so no cost
// request is issued.
func (s *Session) UpdateHeader(p HeaderPatch) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.touch(); err != nil {
		return err
	}
	if p.Project != nil {
		s.header.Project = *p.Project
	}
	if p.ClientID != nil {
		s.header.ClientID = copyID(p.ClientID)
	}
	if p.ClearGlobalPricePerArea {
		s.header.GlobalPricePerArea = nil
	} else if p.GlobalPricePerArea != nil {
		s.header.GlobalPricePerArea = copyFloat(p.GlobalPricePerArea)
	}
	if p.IncludeTax != nil {
		s.header.IncludeTax = *p.IncludeTax
	}
	if p.Notes != nil {
		s.header.Notes = *p.Notes
	}
	if p.ReferenceImageURL != nil {
		s.header.ReferenceImageURL = *p.ReferenceImageURL
	}
	return nil
}

// AddItem appends an empty item.
func (s *Session) AddItem() (ItemView, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.touch(); err != nil {
		return ItemView{}, err
	}
	it := NewLineItem()
	s.items = append(s.items, it)
	s.index[it.ID] = it
	return viewOf(it), nil
}

// RemoveItem drops an item; in-flight responses for it are discarded.
func (s *Session) RemoveItem(id uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.touch(); err != nil {
		return err
	}
	if _, ok := s.index[id]; !ok {
		return ErrItemNotFound
	}
	delete(s.index, id)
	for i, it := range s.items {
		if it.ID == id {
			s.items = append(s.items[:i], s.items[i+1:]...)
			break
		}
	}
	return nil
}

// DuplicateItem inserts a copy of the item right after it and requests its
// cost.
func (s *Session) DuplicateItem(id uuid.UUID) (ItemView, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.touch(); err != nil {
		return ItemView{}, err
	}
	src, ok := s.index[id]
	if !ok {
		return ItemView{}, ErrItemNotFound
	}
	dup := src.Duplicate()
	for i, it := range s.items {
		if it.ID == id {
			s.items = append(s.items[:i+1], append([]*LineItem{dup}, s.items[i+1:]...)...)
			break
		}
	}
	s.index[dup.ID] = dup
	if src.optionsLoading {
		s.loadOptions(dup)
	}
	s.recost(dup)
	return viewOf(dup), nil
}

// SelectGroup switches the item to a multi-step group.
func (s *Session) SelectGroup(id uuid.UUID, groupID string) (ItemView, error) {
	return s.mutate(id, func(it *LineItem) (Effect, error) {
		return it.SelectGroup(s.snapshot, groupID)
	})
}

// SelectSimple sets an allow-listed entry on the item.
func (s *Session) SelectSimple(id uuid.UUID, entryID int64) (ItemView, error) {
	return s.mutate(id, func(it *LineItem) (Effect, error) {
		return it.SelectSimple(s.snapshot, entryID)
	})
}

// SetStep records a step value and re-resolves the item.
func (s *Session) SetStep(id uuid.UUID, key, value string) (ItemView, error) {
	return s.mutate(id, func(it *LineItem) (Effect, error) {
		before := it.CatalogEntryID
		eff, err := it.SetStep(s.snapshot, key, value)
		if err != nil {
			return 0, err
		}
		if it.CatalogEntryID == nil {
			s.logUnresolved(it, before != nil)
		}
		return eff, nil
	})
}

func (s *Session) logUnresolved(it *LineItem, cleared bool) {
	_, err := s.snapshot.Resolve(it.GroupID, it.StepValues)
	if err == nil || errors.Is(err, catalog.ErrIncompleteSteps) {
		return
	}
	s.logger.Warn().
		Err(err).
		Str("item_id", it.ID.String()).
		Str("group_id", it.GroupID).
		Bool("cleared", cleared).
		Msg("variant_unresolved")
}

// SetOption sets or clears one dynamic option.
func (s *Session) SetOption(id uuid.UUID, key, value string) (ItemView, error) {
	return s.mutate(id, func(it *LineItem) (Effect, error) {
		return it.SetOption(key, value)
	})
}

// UpdateItem applies a field patch.
func (s *Session) UpdateItem(id uuid.UUID, p Patch) (ItemView, error) {
	return s.mutate(id, func(it *LineItem) (Effect, error) {
		return it.Apply(p, s.rules)
	})
}

// Recalculate re-issues the cost request of an item, typically after a
// failure.
func (s *Session) Recalculate(id uuid.UUID) (ItemView, error) {
	return s.mutate(id, func(*LineItem) (Effect, error) {
		return EffectRecost, nil
	})
}

func (s *Session) mutate(id uuid.UUID, fn func(*LineItem) (Effect, error)) (ItemView, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.touch(); err != nil {
		return ItemView{}, err
	}
	it, ok := s.index[id]
	if !ok {
		return ItemView{}, ErrItemNotFound
	}
	eff, err := fn(it)
	if err != nil {
		return ItemView{}, err
	}
	s.dispatch(it, eff)
	return viewOf(it), nil
}

func (s *Session) touch() error {
	if !s.alive {
		return ErrSessionClosed
	}
	s.touched = s.now()
	return nil
}

// dispatch starts the asynchronous work requested by a transition. The
// caller holds s.mu.
func (s *Session) dispatch(it *LineItem, eff Effect) {
	if eff.Has(EffectLoadOptions) {
		s.loadOptions(it)
	}
	if eff.Has(EffectRecost) {
		s.recost(it)
	}
}

func (s *Session) loadOptions(it *LineItem) {
	if it.CatalogEntryID == nil || s.options == nil {
		return
	}
	entryID := *it.CatalogEntryID
	seq := it.beginOptionLoad()
	itemID := it.ID
	s.goTracked(func() {
		groups := s.options.Load(s.ctx, entryID)

		s.mu.Lock()
		defer s.mu.Unlock()
		cur, ok := s.current(itemID)
		if !ok {
			obs.CountOptionLoad("stale")
			return
		}
		applied, restored := cur.completeOptionLoad(seq, entryID, groups)
		if !applied {
			obs.CountOptionLoad("stale")
			return
		}
		if restored {
			s.recost(cur)
		}
	})
}

func (s *Session) recost(it *LineItem) {
	req, ok := it.CostRequest()
	if !ok || s.pricer == nil {
		// a response for the previous inputs must not land
		it.invalidateCost()
		obs.CountCost("skipped")
		return
	}
	seq := it.beginCost()
	itemID := it.ID
	s.goTracked(func() {
		start := time.Now()
		res, err := s.pricer.ComputeCost(s.ctx, req)
		obs.ObserveCostLatency(time.Since(start))

		s.mu.Lock()
		defer s.mu.Unlock()
		cur, ok := s.current(itemID)
		if !ok || !cur.completeCost(seq, res, err) {
			obs.CountCost("stale")
			return
		}
		if err != nil {
			obs.CountCost("failed")
			s.logger.Warn().
				Err(err).
				Str("item_id", itemID.String()).
				Int64("catalog_entry_id", req.CatalogEntryID).
				Msg("cost_request_failed")
			return
		}
		obs.CountCost("ready")
	})
}

// current returns the live item for a completion. The caller holds s.mu.
func (s *Session) current(id uuid.UUID) (*LineItem, bool) {
	if !s.alive {
		return nil, false
	}
	it, ok := s.index[id]
	return it, ok
}

// goTracked runs fn on a goroutine counted by Wait. The caller holds s.mu.
func (s *Session) goTracked(fn func()) {
	s.inflight++
	go func() {
		defer func() {
			s.mu.Lock()
			s.inflight--
			if s.inflight == 0 {
				s.drained.Broadcast()
			}
			s.mu.Unlock()
		}()
		fn()
	}()
}

// Wait blocks until no collaborator call is in flight.
func (s *Session) Wait() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for s.inflight > 0 {
		s.drained.Wait()
	}
}

// Close abandons the session. In-flight calls are cancelled and their late
// responses dropped.
func (s *Session) Close() {
	s.mu.Lock()
	if !s.alive {
		s.mu.Unlock()
		return
	}
	s.alive = false
	s.mu.Unlock()
	s.cancel()
	obs.AddActiveSessions(-1)
}

// Alive reports whether the session is still open.
func (s *Session) Alive() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.alive
}

// IdleSince returns the time of the last mutation.
func (s *Session) IdleSince() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.touched
}

// Item returns a copy of one item.
func (s *Session) Item(id uuid.UUID) (ItemView, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	it, ok := s.index[id]
	if !ok {
		return ItemView{}, ErrItemNotFound
	}
	return viewOf(it), nil
}

// View is a consistent snapshot of a session.
type View struct {
	SessionID string          `json:"sessionId"`
	Header    Header          `json:"quotation"`
	Items     []ItemView      `json:"items"`
	Summary   pricing.Summary `json:"summary"`
}

// View copies the session state and computes the summary from it.
func (s *Session) View() View {
	s.mu.Lock()
	defer s.mu.Unlock()
	items := make([]ItemView, 0, len(s.items))
	for _, it := range s.items {
		items = append(items, viewOf(it))
	}
	return View{
		SessionID: s.ID,
		Header:    s.header,
		Items:     items,
		Summary:   s.summaryLocked(),
	}
}

// Summary aggregates the current items.
func (s *Session) Summary() pricing.Summary {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.summaryLocked()
}

func (s *Session) summaryLocked() pricing.Summary {
	rows := make([]pricing.Item, 0, len(s.items))
	for _, it := range s.items {
		row := pricing.Item{
			Width:                it.Width,
			Height:               it.Height,
			Quantity:             it.Quantity,
			OverridePricePerArea: it.OverridePricePerArea,
			CostStatus:           it.Cost.Status,
		}
		if it.Cost.Status == pricing.CostReady && it.Cost.Result != nil {
			row.TotalCost = it.Cost.Result.TotalCost
		}
		rows = append(rows, row)
	}
	return pricing.Compute(rows, s.header.GlobalPricePerArea, s.header.IncludeTax)
}

func viewOf(it *LineItem) ItemView {
	cost := it.Cost
	if cost.Result != nil {
		r := *cost.Result
		cost.Result = &r
	}
	return ItemView{
		ID:                   it.ID.String(),
		PersistedID:          copyID(it.PersistedID),
		State:                it.State(),
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
		OptionGroups:         append([]catalog.OptionGroup{}, it.OptionGroups...),
		DesignImageURL:       it.DesignImageURL,
		PendingDesignFile:    it.PendingDesignFile,
		Cost:                 cost,
	}
}
