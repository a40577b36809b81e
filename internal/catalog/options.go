package catalog

import (
	"context"
	"sync"

	"github.com/rs/zerolog"

	"github.com/noah-isme/quote-configurator/internal/obs"
)

// OptionLoader fetches the dynamic option groups of catalog entries. Lookups
// are memoised per loader and shared across loaders through the Redis cache.
type OptionLoader struct {
	source Source
	cache  *Cache
	logger zerolog.Logger

	mu   sync.Mutex
	memo map[int64][]OptionGroup
}

// NewOptionLoader constructs a loader. cache may be nil.
func NewOptionLoader(source Source, cache *Cache, logger zerolog.Logger) *OptionLoader {
	return &OptionLoader{
		source: source,
		cache:  cache,
		logger: logger,
		memo:   make(map[int64][]OptionGroup),
	}
}

// Load returns the option groups of entryID. Invalid ids return an empty set
// without calling the collaborator; collaborator failures also return an
// empty set and are not memoised.
func (l *OptionLoader) Load(ctx context.Context, entryID int64) []OptionGroup {
	if l == nil || l.source == nil || entryID <= 0 {
		return []OptionGroup{}
	}

	l.mu.Lock()
	groups, ok := l.memo[entryID]
	l.mu.Unlock()
	if ok {
		obs.CountOptionLoad("hit")
		return cloneGroups(groups)
	}

	if l.cache != nil {
		var cached []OptionGroup
		found, err := l.cache.GetJSON(ctx, l.cache.optionGroupsKey(entryID), &cached)
		if err == nil && found {
			obs.CountOptionLoad("cached")
			l.remember(entryID, cached)
			return cloneGroups(cached)
		}
	}

	groups, err := l.source.ListOptionGroups(ctx, entryID)
	if err != nil {
		obs.CountOptionLoad("failed")
		l.logger.Warn().Err(err).Int64("catalog_entry_id", entryID).Msg("option_groups_load_failed")
		return []OptionGroup{}
	}
	if groups == nil {
		groups = []OptionGroup{}
	}
	obs.CountOptionLoad("fetched")
	l.remember(entryID, groups)
	if l.cache != nil {
		if err := l.cache.SetJSON(ctx, l.cache.optionGroupsKey(entryID), groups); err != nil {
			l.logger.Debug().Err(err).Msg("option_groups_cache_write_failed")
		}
	}
	return cloneGroups(groups)
}

func (l *OptionLoader) remember(entryID int64, groups []OptionGroup) {
	l.mu.Lock()
	l.memo[entryID] = cloneGroups(groups)
	l.mu.Unlock()
}

func cloneGroups(groups []OptionGroup) []OptionGroup {
	out := make([]OptionGroup, len(groups))
	for i, g := range groups {
		out[i] = OptionGroup{Key: g.Key, Label: g.Label, Values: append([]OptionValue(nil), g.Values...)}
	}
	return out
}
