package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
	"github.com/rs/zerolog"

	"github.com/cdss/cdss/internal/config"
	"github.com/cdss/cdss/internal/domain/cases"
	"github.com/cdss/cdss/internal/domain/cds"
	"github.com/cdss/cdss/internal/platform/auth"
	"github.com/cdss/cdss/internal/platform/db"
	"github.com/cdss/cdss/internal/platform/gemini"
	"github.com/cdss/cdss/internal/platform/middleware"
)

// deps are the collaborators the HTTP server is built from.
type deps struct {
	repo         cases.Repository
	checkers     []db.Checker
	gateway      cds.Gateway
	apiStore     middleware.WindowStore
	analyzeStore middleware.WindowStore
	idempotency  *cases.IdempotencyStore
	trail        *cds.AuditTrail
}

func newLogger(cfg *config.Config) zerolog.Logger {
	logger := zerolog.New(os.Stdout).With().Timestamp().Logger()
	if cfg.IsDev() {
		logger = zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout}).With().Timestamp().Logger()
	}
	level, err := zerolog.ParseLevel(cfg.LogLevel)
	if err != nil || cfg.LogLevel == "" {
		level = zerolog.InfoLevel
	}
	return logger.Level(level)
}

// openStore connects the configured case backend. The returned close func
// releases the connection.
func openStore(ctx context.Context, cfg *config.Config, logger zerolog.Logger) (cases.Repository, []db.Checker, func(), error) {
	switch cfg.StoreBackend {
	case config.BackendPostgres:
		pool, err := db.NewPool(ctx, cfg.DatabaseURL, cfg.DBMaxConns, cfg.DBMinConns)
		if err != nil {
			return nil, nil, nil, err
		}
		applied, err := db.NewMigrator(pool, db.Migrations()).Up(ctx, "public")
		if err != nil {
			pool.Close()
			return nil, nil, nil, fmt.Errorf("migrate: %w", err)
		}
		logger.Info().Int("applied", applied).Msg("connected to postgres")
		return cases.NewPGRepo(pool), []db.Checker{db.PoolChecker{Pool: pool}}, pool.Close, nil

	case config.BackendMongo:
		client, err := db.ConnectMongo(ctx, cfg.MongoURI)
		if err != nil {
			return nil, nil, nil, err
		}
		closeFn := func() { _ = client.Disconnect(context.Background()) }
		repo, err := cases.NewMongoRepo(ctx, client.Database(cfg.MongoDatabase))
		if err != nil {
			closeFn()
			return nil, nil, nil, err
		}
		logger.Info().Str("database", cfg.MongoDatabase).Msg("connected to mongo")
		return repo, []db.Checker{db.MongoChecker{Client: client}}, closeFn, nil

	case config.BackendSQLite:
		conn, err := db.OpenSQLite(ctx, cfg.SQLitePath)
		if err != nil {
			return nil, nil, nil, err
		}
		repo, err := cases.NewSQLiteRepo(ctx, conn)
		if err != nil {
			conn.Close()
			return nil, nil, nil, err
		}
		logger.Info().Str("path", cfg.SQLitePath).Msg("opened sqlite store")
		return repo, []db.Checker{db.SQLChecker{Label: "sqlite", DB: conn}}, func() { conn.Close() }, nil

	default:
		logger.Warn().Msg("cases are kept in memory and lost on restart")
		return cases.NewMemoryRepo(), nil, func() {}, nil
	}
}

// openLimiterStores returns one window store for the API-wide limit and one
// for /api/analyze. Redis is shared between instances; memory stores are
// swept until ctx ends.
func openLimiterStores(ctx context.Context, cfg *config.Config, logger zerolog.Logger) (api, analyze middleware.WindowStore, closeFn func(), err error) {
	if cfg.RedisURL != "" {
		client, err := middleware.NewRedisClient(ctx, cfg.RedisURL)
		if err != nil {
			return nil, nil, nil, err
		}
		logger.Info().Msg("rate limits shared through redis")
		return middleware.NewRedisWindowStore(client, "ratelimit:api:"),
			middleware.NewRedisWindowStore(client, "ratelimit:analyze:"),
			func() { client.Close() }, nil
	}

	apiStore := middleware.NewMemoryWindowStore()
	analyzeStore := middleware.NewMemoryWindowStore()
	go apiStore.StartCleanup(ctx, cfg.RateLimitCleanup)
	go analyzeStore.StartCleanup(ctx, cfg.RateLimitCleanup)
	return apiStore, analyzeStore, func() {}, nil
}

func newGateway(cfg *config.Config, logger zerolog.Logger) *gemini.Client {
	gw := gemini.New(cfg.GeminiAPIKey,
		gemini.WithBaseURL(cfg.GeminiBaseURL),
		gemini.WithModel(cfg.GeminiModel),
		gemini.WithImageModel(cfg.GeminiImageModel),
		gemini.WithTimeout(cfg.AITimeout),
		gemini.WithLogger(logger),
	)
	if !gw.Configured() {
		logger.Warn().Msg("GEMINI_API_KEY is not set; AI routes will report a configuration error")
	}
	return gw
}

// newServer builds the echo instance with the full middleware chain and
// every route.
func newServer(cfg *config.Config, logger zerolog.Logger, d deps) *echo.Echo {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	e.Use(middleware.Recovery(logger))
	e.Use(middleware.RequestID())
	e.Use(middleware.Logger(logger))
	e.Use(middleware.SecurityHeaders())
	e.Use(middleware.BodyLimit(cfg.BodyLimit))
	e.Use(echomw.CORSWithConfig(echomw.CORSConfig{
		AllowOrigins: cfg.CORSOrigins,
		AllowMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowHeaders: []string{"Authorization", "Content-Type", "X-Request-ID", cases.IdempotencyHeader},
	}))
	e.Use(middleware.Sanitize(logger))

	if cfg.AuthSigningKey != "" {
		e.Use(auth.JWTMiddleware(auth.JWTConfig{
			Issuer:     cfg.AuthIssuer,
			SigningKey: []byte(cfg.AuthSigningKey),
			Skipper:    auth.AuthSkipper,
		}))
	} else {
		logger.Warn().Msg("no AUTH_SIGNING_KEY: every request is treated as a local clinician with admin rights")
		e.Use(auth.DevAuthMiddleware())
	}

	var recorders []middleware.AuditRecorder
	if d.trail != nil {
		recorders = append(recorders, d.trail)
	}
	e.Use(middleware.Audit(logger, recorders...))

	e.GET("/health", func(c echo.Context) error {
		return c.JSON(http.StatusOK, map[string]string{"status": "ok"})
	})
	e.GET("/health/db", db.HealthHandler(d.checkers...))

	api := e.Group("/api")
	api.Use(middleware.RateLimit(middleware.NewFixedWindowLimiter(d.apiStore, cfg.APIRateLimit, cfg.APIRateWindow), logger))

	analyzeLimiter := middleware.NewFixedWindowLimiter(d.analyzeStore, cfg.AnalyzeRateLimit, cfg.AnalyzeRateWindow)
	cds.NewHandler(cds.NewService(d.gateway, d.trail, logger), analyzeLimiter, d.trail, logger).RegisterRoutes(api)
	cases.NewHandler(cases.NewService(d.repo, logger), d.idempotency).RegisterRoutes(api)

	return e
}

func runServer(cfg *config.Config) error {
	logger := newLogger(cfg)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	repo, checkers, closeStore, err := openStore(ctx, cfg, logger)
	if err != nil {
		return fmt.Errorf("open case store: %w", err)
	}
	defer closeStore()

	apiStore, analyzeStore, closeLimiter, err := openLimiterStores(ctx, cfg, logger)
	if err != nil {
		return fmt.Errorf("open rate limit store: %w", err)
	}
	defer closeLimiter()

	idemp := cases.NewIdempotencyStore(cfg.IdempotencyTTL)
	go idemp.StartCleanup(ctx, cfg.RateLimitCleanup)

	e := newServer(cfg, logger, deps{
		repo:         repo,
		checkers:     checkers,
		gateway:      newGateway(cfg, logger),
		apiStore:     apiStore,
		analyzeStore: analyzeStore,
		idempotency:  idemp,
		trail:        cds.NewAuditTrail(cds.DefaultAuditCapacity),
	})

	errCh := make(chan error, 1)
	go func() {
		addr := ":" + cfg.Port
		logger.Info().Str("addr", addr).Str("store", cfg.StoreBackend).Msg("starting server")
		if err := e.Start(addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	select {
	case <-quit:
	case err := <-errCh:
		return fmt.Errorf("server error: %w", err)
	}

	logger.Info().Msg("shutting down server")
	shutdownCtx, stop := context.WithTimeout(context.Background(), 10*time.Second)
	defer stop()
	if err := e.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server shutdown failed: %w", err)
	}
	logger.Info().Msg("server stopped")
	return nil
}
