package catalog

import (
	"context"
	"errors"

	"github.com/rs/zerolog"
)

// Service loads catalog snapshots and hands out option group loaders.
type Service struct {
	source Source
	defs   Definitions
	cache  *Cache
	logger zerolog.Logger
}

// ServiceConfig groups Service dependencies.
type ServiceConfig struct {
	Source      Source
	Definitions Definitions
	Cache       *Cache
	Logger      *zerolog.Logger
}

// NewService constructs a Service instance.
func NewService(cfg ServiceConfig) (*Service, error) {
	if cfg.Source == nil {
		return nil, errors.New("catalog: source is required")
	}
	logger := zerolog.Nop()
	if cfg.Logger != nil {
		logger = cfg.Logger.With().Str("component", "catalog").Logger()
	}
	return &Service{
		source: cfg.Source,
		defs:   cfg.Definitions,
		cache:  cfg.Cache,
		logger: logger,
	}, nil
}

// Definitions returns the configured group definitions.
func (s *Service) Definitions() Definitions {
	return s.defs
}

// Snapshot loads the catalog for one editing session. A failing source yields
// an empty snapshot: nothing is selectable, but the session still opens.
func (s *Service) Snapshot(ctx context.Context) *Snapshot {
	entries, err := s.entries(ctx)
	if err != nil {
		s.logger.Warn().Err(err).Msg("catalog_load_failed")
		return NewSnapshot(nil, nil, nil)
	}
	return NewSnapshot(entries, s.defs.Groups, s.defs.SimpleTypes)
}

func (s *Service) entries(ctx context.Context) ([]Entry, error) {
	key := ""
	if s.cache != nil {
		key = s.cache.entriesKey()
		var cached []Entry
		ok, err := s.cache.GetJSON(ctx, key, &cached)
		if err == nil && ok {
			return cached, nil
		}
		if err != nil {
			s.logger.Debug().Err(err).Msg("catalog_cache_read_failed")
		}
	}
	entries, err := s.source.ListEntries(ctx)
	if err != nil {
		return nil, err
	}
	if s.cache != nil {
		if err := s.cache.SetJSON(ctx, key, entries); err != nil {
			s.logger.Debug().Err(err).Msg("catalog_cache_write_failed")
		}
	}
	return entries, nil
}

// OptionLoader returns a loader whose memo lives as long as the caller keeps
// it, normally one editing session.
func (s *Service) OptionLoader() *OptionLoader {
	return NewOptionLoader(s.source, s.cache, s.logger)
}
