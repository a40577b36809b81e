package catalog

import "strconv"

// SelectorList flattens the snapshot into the type selector: every group in
// definition order, then every allow-listed entry in catalog order.
func (s *Snapshot) SelectorList() []SelectorItem {
	items := make([]SelectorItem, 0, len(s.groups)+len(s.simpleTypes))
	for _, g := range s.groups {
		items = append(items, SelectorItem{
			ID:          GroupSelectorID(g.ID),
			DisplayName: g.DisplayName,
			IsGroup:     true,
		})
	}
	for _, e := range s.entries {
		if _, ok := s.simpleTypes[e.Name]; !ok {
			continue
		}
		id := e.ID
		items = append(items, SelectorItem{
			ID:             EntrySelectorID(e.ID),
			DisplayName:    e.Name,
			CatalogEntryID: &id,
		})
	}
	return items
}

// GroupSelectorID is the selector id used for a group.
func GroupSelectorID(groupID string) string {
	return "group:" + groupID
}

// EntrySelectorID is the selector id used for a simple entry.
func EntrySelectorID(entryID int64) string {
	return "entry:" + strconv.FormatInt(entryID, 10)
}
