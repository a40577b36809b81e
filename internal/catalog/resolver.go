package catalog

import (
	"errors"
	"sort"
	"strings"
)

// KeySeparator joins step values into a resolve map key.
const KeySeparator = "|"

var (
	// ErrUnknownGroup is returned when a group id is not defined.
	ErrUnknownGroup = errors.New("catalog: unknown group")
	// ErrIncompleteSteps is returned while at least one step has no value.
	ErrIncompleteSteps = errors.New("catalog: step selection incomplete")
	// ErrUnmappedCombination is returned when the group has no resolve map
	// entry for the selected combination.
	ErrUnmappedCombination = errors.New("catalog: combination not mapped")
	// ErrEntryMissing is returned when the mapped entry name does not exist in
	// the loaded catalog.
	ErrEntryMissing = errors.New("catalog: mapped entry not in catalog")
)

// Snapshot is the immutable catalog view of one editing session: entries,
// group definitions and the simple-type allow-list, with lookup indexes built
// once at construction.
type Snapshot struct {
	entries     []Entry
	groups      []Group
	simpleTypes map[string]struct{}

	byID    map[int64]Entry
	byName  map[string]Entry
	groupBy map[string]int
	reverse map[int64]Selection
}

// NewSnapshot indexes entries and groups. Entries with duplicate names keep
// the first occurrence for name lookups.
func NewSnapshot(entries []Entry, groups []Group, simpleTypes []string) *Snapshot {
	s := &Snapshot{
		entries:     append([]Entry(nil), entries...),
		groups:      append([]Group(nil), groups...),
		simpleTypes: make(map[string]struct{}, len(simpleTypes)),
		byID:        make(map[int64]Entry, len(entries)),
		byName:      make(map[string]Entry, len(entries)),
		groupBy:     make(map[string]int, len(groups)),
		reverse:     make(map[int64]Selection),
	}
	for _, name := range simpleTypes {
		if trimmed := strings.TrimSpace(name); trimmed != "" {
			s.simpleTypes[trimmed] = struct{}{}
		}
	}
	for _, e := range s.entries {
		s.byID[e.ID] = e
		if _, ok := s.byName[e.Name]; !ok {
			s.byName[e.Name] = e
		}
	}
	for i, g := range s.groups {
		if _, ok := s.groupBy[g.ID]; !ok {
			s.groupBy[g.ID] = i
		}
	}
	s.buildReverseIndex()
	return s
}

func (s *Snapshot) buildReverseIndex() {
	for _, g := range s.groups {
		keys := make([]string, 0, len(g.ResolveMap))
		for key := range g.ResolveMap {
			keys = append(keys, key)
		}
		sort.Strings(keys)
		for _, key := range keys {
			entry, ok := s.byName[g.ResolveMap[key]]
			if !ok {
				continue
			}
			if _, taken := s.reverse[entry.ID]; taken {
				continue
			}
			values, ok := splitKey(g, key)
			if !ok {
				continue
			}
			s.reverse[entry.ID] = Selection{GroupID: g.ID, StepValues: values}
		}
	}
}

// Entries returns the catalog entries in catalog order.
func (s *Snapshot) Entries() []Entry {
	return append([]Entry(nil), s.entries...)
}

// Groups returns the group definitions in definition order.
func (s *Snapshot) Groups() []Group {
	return append([]Group(nil), s.groups...)
}

// Entry looks up an entry by id.
func (s *Snapshot) Entry(id int64) (Entry, bool) {
	e, ok := s.byID[id]
	return e, ok
}

// Group looks up a group definition by id.
func (s *Snapshot) Group(id string) (Group, bool) {
	idx, ok := s.groupBy[id]
	if !ok {
		return Group{}, false
	}
	return s.groups[idx], true
}

// IsSimpleType reports whether the entry is on the simple-type allow-list.
func (s *Snapshot) IsSimpleType(id int64) bool {
	e, ok := s.byID[id]
	if !ok {
		return false
	}
	_, allowed := s.simpleTypes[e.Name]
	return allowed
}

// StepKey builds the resolve map key for values in the group's step order.
// It reports false while any step is missing a value.
func StepKey(g Group, values map[string]string) (string, bool) {
	if len(g.Steps) == 0 {
		return "", false
	}
	parts := make([]string, 0, len(g.Steps))
	for _, step := range g.Steps {
		v := strings.TrimSpace(values[step.Key])
		if v == "" {
			return "", false
		}
		parts = append(parts, v)
	}
	return strings.Join(parts, KeySeparator), true
}

func splitKey(g Group, key string) (map[string]string, bool) {
	parts := strings.Split(key, KeySeparator)
	if len(parts) != len(g.Steps) {
		return nil, false
	}
	values := make(map[string]string, len(parts))
	for i, step := range g.Steps {
		values[step.Key] = parts[i]
	}
	return values, true
}

// Resolve maps a group and its step values to a catalog entry id. The returned
// error tells why the selection does not resolve.
func (s *Snapshot) Resolve(groupID string, values map[string]string) (int64, error) {
	g, ok := s.Group(groupID)
	if !ok {
		return 0, ErrUnknownGroup
	}
	key, ok := StepKey(g, values)
	if !ok {
		return 0, ErrIncompleteSteps
	}
	name, ok := g.ResolveMap[key]
	if !ok {
		return 0, ErrUnmappedCombination
	}
	entry, ok := s.byName[name]
	if !ok {
		return 0, ErrEntryMissing
	}
	return entry.ID, nil
}

// ResolveEntryID is Resolve without the reason.
func (s *Snapshot) ResolveEntryID(groupID string, values map[string]string) (int64, bool) {
	id, err := s.Resolve(groupID, values)
	if err != nil {
		return 0, false
	}
	return id, true
}

// InverseResolve restores the group and step values that resolve to entryID.
// It reports false for simple types and unknown entries.
func (s *Snapshot) InverseResolve(entryID int64) (Selection, bool) {
	sel, ok := s.reverse[entryID]
	if !ok {
		return Selection{}, false
	}
	values := make(map[string]string, len(sel.StepValues))
	for k, v := range sel.StepValues {
		values[k] = v
	}
	return Selection{GroupID: sel.GroupID, StepValues: values}, true
}
