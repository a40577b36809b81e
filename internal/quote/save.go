package quote

import (
	"strings"

	"github.com/google/uuid"
)

// IncompleteItem lists the missing fields of one item blocking a save.
type IncompleteItem struct {
	ItemID  string   `json:"itemId"`
	Missing []string `json:"missing"`
}

type pendingFile struct {
	itemID    uuid.UUID
	localFile string
}

// draft is the state captured from a session for one save call.
type draft struct {
	payload SavePayload
	order   []uuid.UUID
	pending []pendingFile
}

// Validate reports the items that cannot be saved yet, in item order.
func (s *Session) Validate() []IncompleteItem {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.incompleteLocked()
}

func (s *Session) incompleteLocked() []IncompleteItem {
	var out []IncompleteItem
	for _, it := range s.items {
		if missing := it.Incomplete(); len(missing) > 0 {
			out = append(out, IncompleteItem{ItemID: it.ID.String(), Missing: missing})
		}
	}
	return out
}

// draft builds the save payload. It fails with the incomplete items when
// any item is not fully configured.
func (s *Session) draft() (draft, []IncompleteItem, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.alive {
		return draft{}, nil, ErrSessionClosed
	}
	if bad := s.incompleteLocked(); len(bad) > 0 {
		return draft{}, bad, nil
	}
	summary := s.summaryLocked()
	p := SavePayload{
		ID:                 copyID(s.header.ID),
		Project:            strings.TrimSpace(s.header.Project),
		GlobalPricePerArea: copyFloat(s.header.GlobalPricePerArea),
		IncludeTax:         s.header.IncludeTax,
		TotalPrice:         summary.Total,
		Notes:              s.header.Notes,
		ReferenceImageURL:  strings.TrimSpace(s.header.ReferenceImageURL),
		Items:              make([]PayloadItem, 0, len(s.items)),
	}
	if s.header.ClientID != nil {
		p.ClientID = *s.header.ClientID
	}
	d := draft{order: make([]uuid.UUID, 0, len(s.items))}
	for _, it := range s.items {
		p.Items = append(p.Items, PayloadItem{
			ID:                   copyID(it.PersistedID),
			DisplayName:          it.DisplayName,
			Width:                it.Width,
			Height:               it.Height,
			Quantity:             it.Quantity,
			OverridePricePerArea: copyFloat(it.OverridePricePerArea),
			CatalogEntryID:       *it.CatalogEntryID,
			ColorID:              *it.ColorID,
			GlassColorID:         copyID(it.GlassColorID),
			Options:              copyMap(it.Options),
			DesignImageURL:       it.DesignImageURL,
		})
		d.order = append(d.order, it.ID)
		if it.PendingDesignFile != "" {
			d.pending = append(d.pending, pendingFile{itemID: it.ID, localFile: it.PendingDesignFile})
		}
	}
	d.payload = p
	return d, nil, nil
}

// applySaved records the persisted ids returned by the store. Items removed
// while the save was running are skipped.
func (s *Session) applySaved(d draft, saved SavedQuotation) {
	s.mu.Lock()
	defer s.mu.Unlock()
	id := saved.ID
	s.header.ID = &id
	for i, itemID := range d.order {
		if i >= len(saved.Items) {
			break
		}
		it, ok := s.index[itemID]
		if !ok {
			continue
		}
		persisted := saved.Items[i].ID
		it.PersistedID = &persisted
	}
}

// persistedID returns the stored id of an item after a save.
func (s *Session) persistedID(itemID uuid.UUID) (int64, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	it, ok := s.index[itemID]
	if !ok || it.PersistedID == nil {
		return 0, false
	}
	return *it.PersistedID, true
}

// clearPendingFile drops the local file reference once its upload has been
// handed off, unless the item was given another file meanwhile.
func (s *Session) clearPendingFile(itemID uuid.UUID, localFile string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if it, ok := s.index[itemID]; ok && it.PendingDesignFile == localFile {
		it.PendingDesignFile = ""
	}
}
