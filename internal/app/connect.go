package app

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/extra/redisotel/v9"
	redis "github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/noah-isme/quote-configurator/internal/config"
	"github.com/noah-isme/quote-configurator/internal/obs"
)

// ConnectOptions tunes the shared clients of one binary.
type ConnectOptions struct {
	// ApplicationName is reported to Postgres in pg_stat_activity.
	ApplicationName string
	RedisMetrics    bool
}

// Connect opens the Postgres pool and Redis client, instruments both for
// tracing and verifies they answer a ping. Instrumentation failures are
// logged, connection failures are returned.
func Connect(ctx context.Context, cfg *config.Config, opts ConnectOptions, logger zerolog.Logger) (Dependencies, error) {
	poolConfig, err := pgxpool.ParseConfig(cfg.DatabaseURL)
	if err != nil {
		return Dependencies{}, fmt.Errorf("parse database config: %w", err)
	}
	poolConfig.ConnConfig.Tracer = obs.PGXTracer{}
	if poolConfig.ConnConfig.RuntimeParams == nil {
		poolConfig.ConnConfig.RuntimeParams = map[string]string{}
	}
	if opts.ApplicationName != "" {
		poolConfig.ConnConfig.RuntimeParams["application_name"] = opts.ApplicationName
	}
	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return Dependencies{}, fmt.Errorf("connect database: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return Dependencies{}, fmt.Errorf("ping database: %w", err)
	}

	redisOpts, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		pool.Close()
		return Dependencies{}, fmt.Errorf("parse redis url: %w", err)
	}
	client := redis.NewClient(redisOpts)
	if err := redisotel.InstrumentTracing(client); err != nil {
		logger.Error().Err(err).Msg("instrument redis tracing")
	}
	if opts.RedisMetrics {
		if err := redisotel.InstrumentMetrics(client); err != nil {
			logger.Error().Err(err).Msg("instrument redis metrics")
		}
	}
	if err := client.Ping(ctx).Err(); err != nil {
		pool.Close()
		_ = client.Close()
		return Dependencies{}, fmt.Errorf("ping redis: %w", err)
	}
	return Dependencies{DB: pool, Redis: client}, nil
}
