package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"github.com/fundnet/fundtrack/internal/config"
	"github.com/fundnet/fundtrack/internal/feed"
	"github.com/fundnet/fundtrack/internal/metrics"
	"github.com/fundnet/fundtrack/internal/model"
	"github.com/fundnet/fundtrack/internal/portfolio"
	"github.com/fundnet/fundtrack/internal/refresh"
	"github.com/fundnet/fundtrack/internal/store"
)

func main() {
	level := new(slog.LevelVar)
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)

	cfg, err := config.Load()
	if err != nil {
		slog.Error("invalid configuration", "err", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// --- Initialize store ---
	st, cleanup, err := openStore(ctx, cfg)
	if err != nil {
		slog.Error("store initialization failed", "err", err)
		os.Exit(1)
	}
	defer func() {
		for _, fn := range cleanup {
			fn()
		}
	}()

	if n, err := store.SeedGroups(ctx, st, func() string { return uuid.New().String() }); err != nil {
		slog.Error("seeding default groups failed", "err", err)
		os.Exit(1)
	} else if n > 0 {
		slog.Info("default groups created", "count", n)
	}

	// --- Settings: stored values win over config ---
	settings := model.Settings{RefreshInterval: cfg.App.RefreshInterval, LogLevel: cfg.App.LogLevel}
	if stored, ok, err := st.GetSettings(ctx); err != nil {
		slog.Error("loading settings failed", "err", err)
		os.Exit(1)
	} else if ok {
		settings = stored
	}
	lvl, err := config.ParseLogLevel(settings.LogLevel)
	if err != nil {
		slog.Warn("stored log level invalid, using config", "level", settings.LogLevel)
		settings.LogLevel = cfg.App.LogLevel
		lvl, _ = config.ParseLogLevel(settings.LogLevel)
	}
	level.Set(lvl)

	// --- WebSocket hub ---
	wsHub := portfolio.NewWSHub()
	go wsHub.Run(ctx)

	// --- Portfolio service ---
	svc, err := portfolio.NewService(st, settings, wsHub)
	if err != nil {
		slog.Warn("stored settings invalid, using config", "err", err)
		settings = model.Settings{RefreshInterval: cfg.App.RefreshInterval, LogLevel: cfg.App.LogLevel}
		if svc, err = portfolio.NewService(st, settings, wsHub); err != nil {
			slog.Error("portfolio service failed", "err", err)
			os.Exit(1)
		}
	}
	svc.SetLevelVar(level)

	// --- Price refresh ---
	provider := feed.NewEastMoney(
		feed.WithBaseURL(cfg.Feed.BaseURL),
		feed.WithTimeout(cfg.FeedTimeout()),
		feed.WithRateLimit(cfg.Feed.RequestsPerSecond),
		feed.WithLogger(logger.With("component", "feed")),
	)
	refresher, err := refresh.New(st, provider, svc, settings.RefreshInterval,
		refresh.WithConcurrency(cfg.Feed.Concurrency),
		refresh.WithBroadcaster(wsHub),
		refresh.WithLogger(logger.With("component", "refresh")),
	)
	if err != nil {
		slog.Error("refresher failed", "err", err)
		os.Exit(1)
	}
	svc.SetRefresher(refresher)
	svc.SetFeed(provider)

	if err := refresher.Start(ctx); err != nil {
		slog.Error("refresher start failed", "err", err)
		os.Exit(1)
	}
	defer refresher.Stop()

	// Price everything once at startup instead of waiting a full interval.
	go func() {
		if _, err := refresher.RefreshNow(ctx); err != nil {
			slog.Warn("initial refresh failed", "err", err)
		}
	}()

	// --- HTTP router ---
	r := chi.NewRouter()
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(metrics.Middleware)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: cfg.CORS.AllowedOrigins,
		AllowedMethods: []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders: []string{"Content-Type", "Authorization"},
		MaxAge:         300,
	}))

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]any{
			"status":     "ok",
			"service":    "fundtrack",
			"ws_clients": wsHub.Clients(),
		})
	})

	// Prometheus metrics endpoint.
	r.Handle("/metrics", metrics.Handler())

	r.Route("/api/v1", func(r chi.Router) {
		// WebSocket endpoint for real-time valuations; long-lived, so no timeout.
		r.Get("/ws", wsHub.HandleWS)

		r.Group(func(r chi.Router) {
			r.Use(middleware.Timeout(30 * time.Second))
			svc.Routes(r)
		})
	})

	// --- Server ---
	srv := &http.Server{
		Addr:         cfg.Addr(),
		Handler:      r,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		slog.Info("fundtrack listening", "port", cfg.Server.Port, "refresh_interval", settings.RefreshInterval)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("server error", "err", err)
			os.Exit(1)
		}
	}()

	// Graceful shutdown.
	<-ctx.Done()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	slog.Info("shutting down fundtrack...")
	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("shutdown error", "err", err)
	}
	fmt.Println("fundtrack stopped")
}

// openStore picks Postgres, SQLite or memory, then wraps it with the Redis
// cache when configured.
func openStore(ctx context.Context, cfg *config.Config) (store.Store, []func(), error) {
	var st store.Store
	var cleanup []func()

	switch {
	case cfg.Database.URL != "":
		pool, err := pgxpool.New(ctx, cfg.Database.URL)
		if err != nil {
			return nil, nil, fmt.Errorf("database connection failed: %w", err)
		}
		cleanup = append(cleanup, pool.Close)
		pg := store.NewPostgresStore(pool)
		if err := pg.Migrate(ctx); err != nil {
			pool.Close()
			return nil, nil, err
		}
		st = pg
		slog.Info("connected to PostgreSQL")

	case cfg.Database.SQLitePath != "":
		sq, err := store.OpenSQLite(ctx, cfg.Database.SQLitePath)
		if err != nil {
			return nil, nil, err
		}
		cleanup = append(cleanup, func() { sq.Close() })
		st = sq
		slog.Info("using SQLite store", "path", cfg.Database.SQLitePath)

	default:
		slog.Warn("no database configured, using in-memory store (data will not persist)")
		st = store.NewMemoryStore()
	}

	// Wrap with Redis read-through cache if configured.
	if cfg.Redis.URL != "" {
		opt, err := redis.ParseURL(cfg.Redis.URL)
		if err != nil {
			for _, fn := range cleanup {
				fn()
			}
			return nil, nil, fmt.Errorf("invalid REDIS_URL: %w", err)
		}
		rdb := redis.NewClient(opt)
		cleanup = append(cleanup, func() { rdb.Close() })
		st = store.NewCachedStore(st, rdb, cfg.RedisTTL())
		slog.Info("Redis cache enabled", "ttl", cfg.RedisTTL().String())
	}

	return st, cleanup, nil
}
