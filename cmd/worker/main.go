package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/noah-isme/quote-configurator/internal/app"
	"github.com/noah-isme/quote-configurator/internal/config"
	"github.com/noah-isme/quote-configurator/internal/obs"
	"github.com/noah-isme/quote-configurator/internal/queue"
	"github.com/noah-isme/quote-configurator/internal/repo"
	"github.com/noah-isme/quote-configurator/internal/uploads"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		panic(err)
	}

	logFormat := envOrDefault("OBS_LOG_FORMAT", "json")
	logLevel := envOrDefault("OBS_LOG_LEVEL", "info")
	logger := obs.NewLogger(logFormat, logLevel).With().Str("component", "worker").Str("env", cfg.AppEnv).Logger()

	metricsNamespace := envOrDefault("OBS_METRICS_NAMESPACE", obs.DefaultNamespace)
	queue.MustRegisterMetrics(metricsNamespace, nil)

	shutdownTracer, err := obs.InitTracer(context.Background(), obs.TracingConfig{
		Enabled:       envBool("OBS_ENABLE_TRACING", false),
		ServiceName:   "quote-configurator-worker",
		Endpoint:      envOrDefault("OBS_OTLP_ENDPOINT", ""),
		Exporter:      envOrDefault("OBS_TRACING_EXPORTER", "otlp"),
		SamplingRatio: envFloat("OBS_TRACING_SAMPLING_RATIO", 1.0),
		Environment:   cfg.AppEnv,
	})
	if err != nil {
		logger.Error().Err(err).Msg("initialise tracing")
	} else {
		defer func() {
			if err := shutdownTracer(context.Background()); err != nil {
				logger.Error().Err(err).Msg("shutdown tracer")
			}
		}()
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	connectCtx, cancelConnect := context.WithTimeout(ctx, 5*time.Second)
	deps, err := app.Connect(connectCtx, cfg, app.ConnectOptions{ApplicationName: "quote-configurator-worker"}, logger)
	cancelConnect()
	if err != nil {
		logger.Fatal().Err(err).Msg("connect dependencies")
	}
	defer deps.Close()

	bus := app.EventBus(cfg, deps.DB, logger)
	processor := uploads.Processor{
		Uploader: uploads.HTTPUploader{
			BaseURL: cfg.UploadBaseURL,
			HTTP:    app.Outbound(cfg, "upload", logger),
		},
		Store:  repo.QuotationStore{DB: deps.DB},
		Events: bus,
		Logger: logger,
	}

	worker := queue.Worker{
		R:                 deps.Redis,
		Prefix:            cfg.QueueRedisPrefix,
		Kind:              uploads.TaskKind,
		Concurrency:       cfg.QueueConcurrency,
		VisibilityTimeout: cfg.QueueVisibilityTimeout,
		RetryBase:         cfg.RetryBaseBackoff,
		RetryJitter:       cfg.RetryJitter,
		Handler:           processor.Handle,
		Logger:            logger,
	}

	if addr := envOrDefault("WORKER_METRICS_ADDR", ""); addr != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.Handler())
		srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
		go func() {
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Error().Err(err).Msg("metrics server stopped")
			}
		}()
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			defer cancel()
			_ = srv.Shutdown(shutdownCtx)
		}()
	}

	if cfg.UploadBaseURL == "" {
		logger.Warn().Msg("UPLOAD_BASE_URL not set; design uploads will fail and be dead-lettered")
	}
	logger.Info().Str("kind", uploads.TaskKind).Int("concurrency", cfg.QueueConcurrency).Msg("worker starting")
	if err := worker.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error().Err(err).Msg("worker stopped with error")
	} else {
		logger.Info().Msg("worker shutdown complete")
	}
}

func envOrDefault(key, fallback string) string {
	if val, ok := os.LookupEnv(key); ok {
		trimmed := strings.TrimSpace(val)
		if trimmed != "" {
			return trimmed
		}
	}
	return fallback
}

func envBool(key string, fallback bool) bool {
	if val, ok := os.LookupEnv(key); ok {
		switch strings.ToLower(strings.TrimSpace(val)) {
		case "1", "t", "true", "yes", "on":
			return true
		case "0", "f", "false", "no", "off":
			return false
		}
	}
	return fallback
}

func envFloat(key string, fallback float64) float64 {
	if val, ok := os.LookupEnv(key); ok {
		if parsed, err := strconv.ParseFloat(strings.TrimSpace(val), 64); err == nil {
			return parsed
		}
	}
	return fallback
}
