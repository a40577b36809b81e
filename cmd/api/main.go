package main

import (
	"context"
	"crypto/subtle"
	"errors"
	"fmt"
	"net/http"
	"net/http/pprof"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/noah-isme/quote-configurator/internal/app"
	"github.com/noah-isme/quote-configurator/internal/catalog"
	"github.com/noah-isme/quote-configurator/internal/common"
	"github.com/noah-isme/quote-configurator/internal/config"
	"github.com/noah-isme/quote-configurator/internal/costing"
	"github.com/noah-isme/quote-configurator/internal/health"
	"github.com/noah-isme/quote-configurator/internal/lock"
	"github.com/noah-isme/quote-configurator/internal/obs"
	"github.com/noah-isme/quote-configurator/internal/queue"
	"github.com/noah-isme/quote-configurator/internal/quote"
	"github.com/noah-isme/quote-configurator/internal/ratelimit"
	"github.com/noah-isme/quote-configurator/internal/repo"
	"github.com/noah-isme/quote-configurator/internal/resilience"
	"github.com/noah-isme/quote-configurator/internal/security"
	"github.com/noah-isme/quote-configurator/internal/uploads"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		panic(err)
	}

	logFormat := envOrDefault("OBS_LOG_FORMAT", "json")
	logLevel := envOrDefault("OBS_LOG_LEVEL", "info")
	logger := obs.NewLogger(logFormat, logLevel).With().Str("env", cfg.AppEnv).Logger()

	metricsNamespace := envOrDefault("OBS_METRICS_NAMESPACE", obs.DefaultNamespace)
	metricsEnabled := envBool("OBS_ENABLE_PROMETHEUS", true)
	obs.MustRegisterDomainMetrics(metricsNamespace, nil)
	queue.MustRegisterMetrics(metricsNamespace, nil)

	tracingEnabled := envBool("OBS_ENABLE_TRACING", false)
	shutdownTracer, err := obs.InitTracer(context.Background(), obs.TracingConfig{
		Enabled:       tracingEnabled,
		ServiceName:   "quote-configurator-api",
		Endpoint:      envOrDefault("OBS_OTLP_ENDPOINT", ""),
		Exporter:      envOrDefault("OBS_TRACING_EXPORTER", "otlp"),
		SamplingRatio: envFloat("OBS_TRACING_SAMPLING_RATIO", 1.0),
		Environment:   cfg.AppEnv,
	})
	if err != nil {
		logger.Error().Err(err).Msg("initialise tracing")
		tracingEnabled = false
	} else {
		defer func() {
			if err := shutdownTracer(context.Background()); err != nil {
				logger.Error().Err(err).Msg("shutdown tracer")
			}
		}()
	}

	if cfg.MigrateOnStart {
		if err := app.RunMigrations(cfg.DatabaseURL, cfg.MigrationsDir); err != nil {
			logger.Fatal().Err(err).Msg("apply migrations")
		}
		logger.Info().Str("dir", cfg.MigrationsDir).Msg("migrations applied")
	}

	connectCtx, cancelConnect := context.WithTimeout(context.Background(), 5*time.Second)
	deps, err := app.Connect(connectCtx, cfg, app.ConnectOptions{
		ApplicationName: "quote-configurator-api",
		RedisMetrics:    metricsEnabled,
	}, logger)
	cancelConnect()
	if err != nil {
		logger.Fatal().Err(err).Msg("connect dependencies")
	}
	defer deps.Close()

	definitions, err := catalog.LoadDefinitions(cfg.CatalogGroupsFile)
	if err != nil {
		logger.Fatal().Err(err).Str("file", cfg.CatalogGroupsFile).Msg("load catalog groups")
	}
	if len(cfg.CatalogSimpleTypes) > 0 {
		definitions.SimpleTypes = cfg.CatalogSimpleTypes
	}
	catalogService, err := catalog.NewService(catalog.ServiceConfig{
		Source: catalog.HTTPSource{
			BaseURL: cfg.CatalogBaseURL,
			HTTP:    app.Outbound(cfg, "catalog", logger),
		},
		Definitions: definitions,
		Cache:       catalog.NewCache(deps.Redis, cfg.CatalogCachePrefix, cfg.CatalogCacheTTL),
		Logger:      &logger,
	})
	if err != nil {
		logger.Fatal().Err(err).Msg("initialise catalog service")
	}
	catalogHandler := catalog.NewHandler(catalog.HandlerConfig{Service: catalogService})

	pricingHTTP := app.Outbound(cfg, "pricing", logger)
	pricer := costing.HTTPClient{BaseURL: cfg.PricingBaseURL, HTTP: pricingHTTP}

	bus := app.EventBus(cfg, deps.DB, logger)
	taskQueue := queue.Enqueuer{
		R:           deps.Redis,
		Prefix:      cfg.QueueRedisPrefix,
		DedupTTL:    cfg.IdempotencyTTL,
		MaxAttempts: cfg.QueueMaxAttempts,
	}

	quoteService, err := quote.NewService(quote.ServiceConfig{
		Catalog: catalogService,
		Pricer:  pricer,
		Store:   repo.QuotationStore{DB: deps.DB},
		Locker:  lock.Locker{R: deps.Redis, MaxWait: cfg.LockMaxWait},
		Uploads: uploads.Scheduler{Queue: taskQueue, MaxAttempts: cfg.QueueMaxAttempts},
		Events:  bus,
		Rules:   quote.Rules{GlassAndPanelColorID: cfg.GlassAndPanelColorID},
		IdleTTL: cfg.SessionIdleTTL,
		LockTTL: cfg.LockTTL,
		Logger:  &logger,
	})
	if err != nil {
		logger.Fatal().Err(err).Msg("initialise quote service")
	}
	quoteHandler := quote.NewHandler(quote.HandlerConfig{Service: quoteService})

	idem := common.Idem{R: deps.Redis, TTL: cfg.IdempotencyTTL}
	limiter, err := ratelimit.New(deps.Redis, cfg.QueueRedisPrefix+":ratelimit", ratelimit.Config{
		Window: cfg.RateLimitWindow,
		Max:    cfg.RateLimitMax,
	})
	if err != nil {
		logger.Fatal().Err(err).Msg("initialise rate limiter")
	}
	limiter.OnError = func(err error) {
		logger.Warn().Err(err).Msg("rate limiter unavailable")
	}

	var httpMetrics *obs.HTTPMetrics
	if metricsEnabled {
		buckets := obs.ParseBucketsCSV(envOrDefault("OBS_METRICS_BUCKETS_MS", ""))
		httpMetrics = obs.NewHTTPMetrics(metricsNamespace, buckets, nil)
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	if tracingEnabled {
		r.Use(obs.TracingMiddleware)
	}
	if httpMetrics != nil {
		r.Use(obs.HTTPObs{Metrics: httpMetrics}.Middleware)
	}
	r.Use(obs.RequestLogger{Logger: logger}.Middleware)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: allowedOrigins(cfg),
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodPatch, http.MethodDelete, http.MethodOptions},
		AllowedHeaders: []string{"Accept", "Content-Type", "Idempotency-Key", "X-Request-Id"},
		ExposedHeaders: []string{"Idempotent-Replayed", "X-RateLimit-Limit", "X-RateLimit-Remaining", "X-RateLimit-Reset"},
		MaxAge:         300,
	}))
	r.Use(security.Headers{Enable: cfg.SecurityHeaders, EnableHSTS: cfg.EnableHSTS}.Middleware)
	r.Use(security.BodyLimit{Max: cfg.BodyLimitBytes}.Middleware)

	if metricsEnabled {
		r.Handle("/metrics", promhttp.Handler())
	}
	if envBool("OBS_ENABLE_PPROF", false) {
		user := envOrDefault("SECURE_PPROF_BASIC_AUTH_USER", "")
		pass := envOrDefault("SECURE_PPROF_BASIC_AUTH_PASS", "")
		r.Mount("/debug/pprof", basicAuth(newPprofMux(), user, pass))
	}

	healthHandler := health.Handler{Probes: []health.Probe{
		{
			Name:    "postgres",
			Timeout: envDurationMillis("HEALTH_READY_DB_TIMEOUT_MS", 500),
			Check:   deps.DB.Ping,
		},
		{
			Name:    "redis",
			Timeout: envDurationMillis("HEALTH_READY_REDIS_TIMEOUT_MS", 300),
			Check:   func(ctx context.Context) error { return deps.Redis.Ping(ctx).Err() },
		},
		{
			Name:     "pricing",
			Optional: true,
			Check:    breakerProbe(pricingHTTP.Breaker),
		},
	}}
	r.Get("/health/live", healthHandler.Live)
	r.Get("/health/ready", healthHandler.Ready)

	r.Route("/api/v1", func(v chi.Router) {
		v.Route("/catalog", func(c chi.Router) {
			c.Get("/selector", catalogHandler.Selector)
			c.Get("/groups", catalogHandler.Groups)
			c.Get("/entries/{entryID}/option-groups", catalogHandler.OptionGroups)
		})

		v.Route("/sessions", func(s chi.Router) {
			s.Use(limiter.Middleware)
			s.Post("/", quoteHandler.Open)
			s.Route("/{sessionID}", func(one chi.Router) {
				one.Get("/", quoteHandler.Get)
				one.Patch("/", quoteHandler.UpdateHeader)
				one.Delete("/", quoteHandler.Close)
				one.With(idem.Middleware).Post("/save", quoteHandler.Save)
				one.Post("/items", quoteHandler.AddItem)
				one.Route("/items/{itemID}", func(it chi.Router) {
					it.Patch("/", quoteHandler.UpdateItem)
					it.Delete("/", quoteHandler.RemoveItem)
					it.Post("/duplicate", quoteHandler.DuplicateItem)
					it.Post("/recalculate", quoteHandler.Recalculate)
					it.Put("/type", quoteHandler.SetType)
					it.Put("/steps/{stepKey}", quoteHandler.SetStep)
					it.Put("/options/{optionKey}", quoteHandler.SetOption)
				})
			})
		})

		if adminUser := envOrDefault("ADMIN_BASIC_AUTH_USER", ""); adminUser != "" {
			queueAdmin := &queue.AdminHandler{
				DLQ:    queue.DeadLetters{R: deps.Redis, Prefix: cfg.QueueRedisPrefix},
				Logger: logger,
			}
			v.Route("/admin", func(admin chi.Router) {
				admin.Use(func(next http.Handler) http.Handler {
					return basicAuth(next, adminUser, envOrDefault("ADMIN_BASIC_AUTH_PASS", ""))
				})
				admin.Get("/queues/{kind}/dead", queueAdmin.ListDead)
				admin.Post("/queues/{kind}/dead/replay", queueAdmin.ReplayDead)
			})
		}
	})

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	go quoteService.RunSweeper(ctx, cfg.SessionSweepInterval)

	srv := &http.Server{
		Addr:              cfg.HTTPAddr(),
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}
	serverErr := make(chan error, 1)
	go func() {
		logger.Info().Str("addr", srv.Addr).Msg("server starting")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
		close(serverErr)
	}()

	select {
	case err := <-serverErr:
		if err != nil {
			logger.Fatal().Err(err).Msg("server exited unexpectedly")
		}
	case <-ctx.Done():
	}

	health.SetReady(false)
	logger.Info().Dur("timeout", cfg.ShutdownTimeout).Msg("server draining")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("http shutdown")
	}
	quoteService.Shutdown()
	logger.Info().Msg("server stopped")
}

func allowedOrigins(cfg *config.Config) []string {
	if len(cfg.CORSAllowedOrigins) == 0 {
		return []string{"*"}
	}
	return cfg.CORSAllowedOrigins
}

// breakerProbe reports an open circuit as a readiness detail.
func breakerProbe(b *resilience.Breaker) func(context.Context) error {
	return func(context.Context) error {
		if b == nil {
			return nil
		}
		if state := b.State(); state == resilience.Open {
			return fmt.Errorf("circuit %s", state)
		}
		return nil
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

func envInt(key string, fallback int) int {
	if val, ok := os.LookupEnv(key); ok {
		if parsed, err := strconv.Atoi(strings.TrimSpace(val)); err == nil {
			return parsed
		}
	}
	return fallback
}

func envDurationMillis(key string, fallback int) time.Duration {
	return time.Duration(envInt(key, fallback)) * time.Millisecond
}

func newPprofMux() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/", pprof.Index)
	mux.HandleFunc("/cmdline", pprof.Cmdline)
	mux.HandleFunc("/profile", pprof.Profile)
	mux.HandleFunc("/symbol", pprof.Symbol)
	mux.HandleFunc("/trace", pprof.Trace)
	mux.Handle("/allocs", pprof.Handler("allocs"))
	mux.Handle("/goroutine", pprof.Handler("goroutine"))
	mux.Handle("/heap", pprof.Handler("heap"))
	mux.Handle("/mutex", pprof.Handler("mutex"))
	return mux
}

// basicAuth guards handler with constant-time credential comparison. An
// empty user leaves the handler open.
func basicAuth(handler http.Handler, user, pass string) http.Handler {
	user = strings.TrimSpace(user)
	pass = strings.TrimSpace(pass)
	if user == "" {
		return handler
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		u, p, ok := r.BasicAuth()
		if !ok || subtle.ConstantTimeCompare([]byte(u), []byte(user)) != 1 || subtle.ConstantTimeCompare([]byte(p), []byte(pass)) != 1 {
			w.Header().Set("WWW-Authenticate", "Basic realm=restricted")
			common.JSONError(w, http.StatusUnauthorized, "UNAUTHORIZED", "credentials required", nil)
			return
		}
		handler.ServeHTTP(w, r)
	})
}
