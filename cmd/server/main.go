package main

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-playground/validator/v10"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/Simplici0/ecominsight/internal/auth"
	"github.com/Simplici0/ecominsight/internal/cache"
	"github.com/Simplici0/ecominsight/internal/catalog"
	"github.com/Simplici0/ecominsight/internal/config"
	"github.com/Simplici0/ecominsight/internal/db"
	"github.com/Simplici0/ecominsight/internal/export"
	"github.com/Simplici0/ecominsight/internal/logging"
	"github.com/Simplici0/ecominsight/internal/migrations"
	"github.com/Simplici0/ecominsight/internal/seed"
	"github.com/Simplici0/ecominsight/internal/store"
)

const shutdownTimeout = 10 * time.Second

type server struct {
	store    *store.Store
	catalog  *catalog.Service
	exports  *export.Runner
	tokens   *auth.Tokens
	validate *validator.Validate
	logger   *zap.Logger
}

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "server stopped: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, warnings, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	logger, err := logging.New(logging.Options{Level: cfg.LogLevel, Format: cfg.LogFormat, File: cfg.LogFile})
	if err != nil {
		return fmt.Errorf("init logger: %w", err)
	}
	defer logger.Sync()
	config.LogWarnings(logger, warnings)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	database, err := db.Open(ctx, cfg.DBPath)
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	defer database.Close()

	if cfg.AutoMigrate {
		applied, err := migrations.Up(ctx, database)
		if err != nil {
			return fmt.Errorf("run database migrations: %w", err)
		}
		logger.Info("database migrations applied", zap.Int("count", applied))
	}

	st := store.New(database)
	stats, err := seed.Run(ctx, st, seed.Config{AdminEmail: cfg.AdminEmail, AdminPassword: cfg.AdminPassword})
	if err != nil {
		return fmt.Errorf("run startup seed: %w", err)
	}
	logger.Info("startup seed done", zap.Int("inserts", stats.Inserts))

	listings, err := newCache(ctx, cfg, logger)
	if err != nil {
		return err
	}

	secret := cfg.TokenSecret
	if secret == "" {
		secret = randomSecret()
		logger.Warn("using a random token secret; issued tokens will not survive a restart")
	}
	tokens, err := auth.NewTokens(secret, cfg.TokenTTL)
	if err != nil {
		return err
	}

	srv := &server{
		store:    st,
		catalog:  catalog.NewService(st, listings, logger.Named("catalog")),
		exports:  export.NewRunner(st, cfg.ExportDir, cfg.ExportWorkers, logger.Named("export")),
		tokens:   tokens,
		validate: newValidator(),
		logger:   logger,
	}

	httpServer := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           srv.routes(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	if err := srv.exports.Recover(ctx); err != nil {
		return err
	}

	g, gCtx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return srv.exports.Run(gCtx)
	})
	g.Go(func() error {
		logger.Info("listening", zap.String("addr", httpServer.Addr))
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("serve http: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gCtx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return httpServer.Shutdown(shutdownCtx)
	})

	return g.Wait()
}

func newCache(ctx context.Context, cfg config.Config, logger *zap.Logger) (cache.Cache, error) {
	switch cfg.CacheProvider {
	case "none":
		return cache.Nop{}, nil
	case "redis":
		c, err := cache.NewRedis(ctx, cfg.RedisURL, cfg.CacheTTL, logger.Named("cache"))
		if err != nil {
			return nil, fmt.Errorf("init redis cache: %w", err)
		}
		return c, nil
	default:
		return cache.NewMemory(cfg.CacheSize, cfg.CacheTTL), nil
	}
}

func randomSecret() string {
	b := make([]byte, 32)
	_, _ = rand.Read(b)
	return hex.EncodeToString(b)
}

func (s *server) routes() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(requestLogger(s.logger))
	r.Use(middleware.Recoverer)
	r.Use(metrics)

	r.Get("/healthz", s.handleHealth)
	r.Handle("/metrics", promhttp.Handler())

	r.Route("/api", func(r chi.Router) {
		r.Post("/calculate/", s.handleCalculate)
		r.Post("/users", s.handleRegister)
		r.Post("/token", s.handleToken)

		r.Group(func(r chi.Router) {
			r.Use(s.requireUser)

			r.Get("/items", s.handleItemsList)
			r.Post("/items", s.handleItemCreate)
			r.Get("/items/{id}", s.handleItemDetail)
			r.Put("/items/{id}", s.handleItemUpdate)
			r.Patch("/items/{id}", s.handleItemUpdate)
			r.Delete("/items/{id}", s.handleItemDelete)

			r.Get("/other-fields", s.handleOtherFieldsList)
			r.Get("/other-fields/{id}", s.handleOtherFieldDetail)
			r.Put("/other-fields/{id}", s.handleOtherFieldUpdate)
			r.Patch("/other-fields/{id}", s.handleOtherFieldUpdate)
			r.Delete("/other-fields/{id}", s.handleOtherFieldDelete)

			r.Post("/export/products/csv", s.handleExportSubmit)
			r.Get("/export/products/csv", s.handleExportPoll)
		})
	})

	return r
}

func (s *server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if err := s.store.Ping(r.Context()); err != nil {
		s.logger.Error("health check failed", zap.Error(err))
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
