package catalog_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	redis "github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/quote-configurator/internal/catalog"
)

type stubSource struct {
	mu          sync.Mutex
	entries     []catalog.Entry
	entriesErr  error
	groups      map[int64][]catalog.OptionGroup
	groupsErr   error
	entryCalls  int
	optionCalls map[int64]int
}

func (s *stubSource) ListEntries(context.Context) ([]catalog.Entry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entryCalls++
	return s.entries, s.entriesErr
}

func (s *stubSource) ListOptionGroups(_ context.Context, id int64) ([]catalog.OptionGroup, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.optionCalls == nil {
		s.optionCalls = map[int64]int{}
	}
	s.optionCalls[id]++
	if s.groupsErr != nil {
		return nil, s.groupsErr
	}
	return s.groups[id], nil
}

func openingGroups() []catalog.OptionGroup {
	return []catalog.OptionGroup{{
		Key:   "opening",
		Label: "Opening",
		Values: []catalog.OptionValue{
			{Value: "left", Label: "Left"},
			{Value: "right", Label: "Right"},
		},
	}}
}

func TestOptionLoaderSkipsInvalidID(t *testing.T) {
	src := &stubSource{}
	loader := catalog.NewOptionLoader(src, nil, zerolog.Nop())
	require.Empty(t, loader.Load(context.Background(), 0))
	require.Empty(t, loader.Load(context.Background(), -3))
	require.Empty(t, src.optionCalls)
}

func TestOptionLoaderMemoises(t *testing.T) {
	src := &stubSource{groups: map[int64][]catalog.OptionGroup{7: openingGroups()}}
	loader := catalog.NewOptionLoader(src, nil, zerolog.Nop())

	first := loader.Load(context.Background(), 7)
	require.Equal(t, openingGroups(), first)
	first[0].Values[0].Label = "mutated"

	second := loader.Load(context.Background(), 7)
	require.Equal(t, "Left", second[0].Values[0].Label)
	require.Equal(t, 1, src.optionCalls[7])
}

func TestOptionLoaderSoftFails(t *testing.T) {
	src := &stubSource{groupsErr: errors.New("catalog down")}
	loader := catalog.NewOptionLoader(src, nil, zerolog.Nop())

	require.Empty(t, loader.Load(context.Background(), 7))
	require.Empty(t, loader.Load(context.Background(), 7))
	require.Equal(t, 2, src.optionCalls[7], "failures must not be memoised")
}

func TestOptionLoaderSharesRedisCache(t *testing.T) {
	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	cache := catalog.NewCache(client, "test", time.Minute)
	src := &stubSource{groups: map[int64][]catalog.OptionGroup{7: openingGroups()}}

	require.Equal(t, openingGroups(), catalog.NewOptionLoader(src, cache, zerolog.Nop()).Load(context.Background(), 7))
	require.True(t, mr.Exists("test:option-groups:7"))

	require.Equal(t, openingGroups(), catalog.NewOptionLoader(src, cache, zerolog.Nop()).Load(context.Background(), 7))
	require.Equal(t, 1, src.optionCalls[7])
}

func TestServiceSnapshotSoftFails(t *testing.T) {
	defs, err := catalog.LoadDefinitions("testdata/groups.yaml")
	require.NoError(t, err)
	svc, err := catalog.NewService(catalog.ServiceConfig{
		Source:      &stubSource{entriesErr: errors.New("boom")},
		Definitions: defs,
	})
	require.NoError(t, err)

	snap := svc.Snapshot(context.Background())
	require.Empty(t, snap.SelectorList())
	require.Empty(t, snap.Entries())
}

func TestServiceSnapshotCachesEntries(t *testing.T) {
	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	src := &stubSource{entries: []catalog.Entry{{ID: 12, Name: "Fixed Window"}}}
	defs, err := catalog.LoadDefinitions("testdata/groups.yaml")
	require.NoError(t, err)
	svc, err := catalog.NewService(catalog.ServiceConfig{
		Source:      src,
		Definitions: defs,
		Cache:       catalog.NewCache(client, "test", time.Minute),
	})
	require.NoError(t, err)

	first := svc.Snapshot(context.Background())
	second := svc.Snapshot(context.Background())
	require.Equal(t, first.Entries(), second.Entries())
	require.Equal(t, 1, src.entryCalls)
	require.Len(t, second.SelectorList(), 3)
}

func TestNewServiceRequiresSource(t *testing.T) {
	_, err := catalog.NewService(catalog.ServiceConfig{})
	require.Error(t, err)
}
