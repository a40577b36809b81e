package catalog_test

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/noah-isme/quote-configurator/internal/catalog"
)

func fixtureSnapshot(t *testing.T) *catalog.Snapshot {
	t.Helper()
	defs, err := catalog.LoadDefinitions("testdata/groups.yaml")
	require.NoError(t, err)
	entries := []catalog.Entry{
		{ID: 1, Name: "Sliding 2H 2L"},
		{ID: 2, Name: "Sliding 2H 3L"},
		{ID: 10, Name: "Door Panel"},
		{ID: 11, Name: "Casement"},
		{ID: 12, Name: "Fixed Window"},
		{ID: 20, Name: "Folding 4P"},
	}
	return catalog.NewSnapshot(entries, defs.Groups, defs.SimpleTypes)
}

func TestResolveEntryID(t *testing.T) {
	snap := fixtureSnapshot(t)

	id, ok := snap.ResolveEntryID("sliding", map[string]string{"frame": "2h", "leaves": "3"})
	require.True(t, ok)
	require.Equal(t, int64(2), id)

	t.Run("incomplete", func(t *testing.T) {
		_, err := snap.Resolve("sliding", map[string]string{"frame": "2h"})
		require.ErrorIs(t, err, catalog.ErrIncompleteSteps)
		_, err = snap.Resolve("sliding", map[string]string{"frame": "2h", "leaves": "  "})
		require.ErrorIs(t, err, catalog.ErrIncompleteSteps)
	})

	t.Run("unknown group", func(t *testing.T) {
		_, err := snap.Resolve("awning", map[string]string{"frame": "2h"})
		require.ErrorIs(t, err, catalog.ErrUnknownGroup)
	})

	t.Run("unmapped combination", func(t *testing.T) {
		_, err := snap.Resolve("sliding", map[string]string{"frame": "3h", "leaves": "2"})
		require.ErrorIs(t, err, catalog.ErrUnmappedCombination)
	})

	t.Run("mapped name missing from catalog", func(t *testing.T) {
		_, ok := snap.ResolveEntryID("sliding", map[string]string{"frame": "3h", "leaves": "3"})
		require.False(t, ok)
		_, err := snap.Resolve("sliding", map[string]string{"frame": "3h", "leaves": "3"})
		require.ErrorIs(t, err, catalog.ErrEntryMissing)
	})
}

func TestInverseResolveRoundTrip(t *testing.T) {
	snap := fixtureSnapshot(t)
	for _, g := range snap.Groups() {
		for key := range g.ResolveMap {
			values, ok := stepsFromKey(g, key)
			if !ok {
				continue
			}
			id, resolved := snap.ResolveEntryID(g.ID, values)
			if !resolved {
				continue
			}
			got, ok := snap.InverseResolve(id)
			require.True(t, ok)
			require.Equal(t, catalog.Selection{GroupID: g.ID, StepValues: values}, got)
		}
	}
}

func TestInverseResolveSimpleType(t *testing.T) {
	snap := fixtureSnapshot(t)
	_, ok := snap.InverseResolve(12)
	require.False(t, ok)
	_, ok = snap.InverseResolve(999)
	require.False(t, ok)
}

func TestInverseResolveReturnsCopy(t *testing.T) {
	snap := fixtureSnapshot(t)
	sel, ok := snap.InverseResolve(1)
	require.True(t, ok)
	sel.StepValues["frame"] = "mutated"

	again, ok := snap.InverseResolve(1)
	require.True(t, ok)
	require.Equal(t, "2h", again.StepValues["frame"])
}

func TestSelectorList(t *testing.T) {
	snap := fixtureSnapshot(t)
	items := snap.SelectorList()

	// 2 groups + Door Panel + Fixed Window; Skylight is allow-listed but absent.
	require.Len(t, items, 4)
	require.True(t, items[0].IsGroup)
	require.Equal(t, "group:sliding", items[0].ID)
	require.True(t, items[1].IsGroup)
	require.Equal(t, "Folding door", items[1].DisplayName)

	require.False(t, items[2].IsGroup)
	require.Equal(t, "Door Panel", items[2].DisplayName)
	require.Equal(t, int64(10), *items[2].CatalogEntryID)
	require.Equal(t, "Fixed Window", items[3].DisplayName)
	require.Equal(t, "entry:12", items[3].ID)
}

func TestEmptySnapshotIsInert(t *testing.T) {
	snap := catalog.NewSnapshot(nil, nil, nil)
	require.Empty(t, snap.SelectorList())
	_, ok := snap.ResolveEntryID("sliding", map[string]string{"frame": "2h", "leaves": "2"})
	require.False(t, ok)
}

func TestIsSimpleType(t *testing.T) {
	snap := fixtureSnapshot(t)
	require.True(t, snap.IsSimpleType(10))
	require.False(t, snap.IsSimpleType(11))
	require.False(t, snap.IsSimpleType(1))
}

func stepsFromKey(g catalog.Group, key string) (map[string]string, bool) {
	values := map[string]string{}
	parts := strings.Split(key, catalog.KeySeparator)
	if len(parts) != len(g.Steps) {
		return nil, false
	}
	for i, step := range g.Steps {
		values[step.Key] = parts[i]
	}
	return values, true
}
