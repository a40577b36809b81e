package catalog

// Entry is one concrete, orderable configuration offered by the catalog.
type Entry struct {
	ID        int64    `json:"id"`
	Name      string   `json:"name"`
	BasePrice *float64 `json:"basePrice,omitempty"`
}

// StepOption is a single choice inside a step.
type StepOption struct {
	Value string `json:"value" yaml:"value"`
	Label string `json:"label" yaml:"label"`
}

// Step is one cascaded choice of a group definition.
type Step struct {
	Key     string       `json:"key" yaml:"key"`
	Label   string       `json:"label" yaml:"label"`
	Options []StepOption `json:"options" yaml:"options"`
}

// Group narrows a multi-step selection down to one catalog entry. ResolveMap
// maps a step key (see StepKey) to the name of a catalog entry.
type Group struct {
	ID          string            `json:"id" yaml:"id"`
	DisplayName string            `json:"displayName" yaml:"displayName"`
	Steps       []Step            `json:"steps" yaml:"steps"`
	ResolveMap  map[string]string `json:"resolveMap" yaml:"resolveMap"`
}

// HasStep reports whether key names one of the group's steps.
func (g Group) HasStep(key string) bool {
	for _, step := range g.Steps {
		if step.Key == key {
			return true
		}
	}
	return false
}

// SelectorItem is an entry of the flattened type selector.
type SelectorItem struct {
	ID             string `json:"id"`
	DisplayName    string `json:"displayName"`
	IsGroup        bool   `json:"isGroup"`
	CatalogEntryID *int64 `json:"catalogEntryId,omitempty"`
}

// OptionValue is one selectable value of an option group.
type OptionValue struct {
	Value string `json:"value"`
	Label string `json:"label"`
}

// OptionGroup is a dynamic attribute set applicable to a catalog entry, e.g.
// opening direction.
type OptionGroup struct {
	Key    string        `json:"key"`
	Label  string        `json:"label"`
	Values []OptionValue `json:"values"`
}

// LabelFor returns the label of value, or false when the group does not
// offer it.
func (g OptionGroup) LabelFor(value string) (string, bool) {
	for _, v := range g.Values {
		if v.Value == value {
			return v.Label, true
		}
	}
	return "", false
}

// Selection is the group plus step values that resolve to an entry.
type Selection struct {
	GroupID    string            `json:"groupId"`
	StepValues map[string]string `json:"stepValues"`
}
