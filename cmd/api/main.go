package main

import (
	"context"
	"errors"
	"flag"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/getsentry/sentry-go"
	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"
	"projecttree/backend/internal/auth"
	"projecttree/backend/internal/config"
	"projecttree/backend/internal/database"
	"projecttree/backend/internal/handlers"
	"projecttree/backend/internal/logger"
	"projecttree/backend/internal/objectstore"
	"projecttree/backend/internal/presence"
	"projecttree/backend/internal/store"
	"projecttree/backend/internal/tree"
	"projecttree/backend/internal/ws"
)

func main() {
	migrate := flag.String("migrate", "", "run migrations (up|down) and exit")
	flag.Parse()

	cfg := config.Load()
	logger.Init(cfg.IsDevelopment(), cfg.SentryDSN)
	if cfg.SentryDSN != "" {
		defer sentry.Flush(2 * time.Second)
	}

	if err := run(cfg, *migrate); err != nil {
		slog.Error("server exited", "error", err)
		os.Exit(1)
	}
}

func run(cfg *config.Config, migrate string) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	verifier, err := auth.NewVerifier(cfg.JWTSecret)
	if err != nil {
		return err
	}

	st, err := openStore(ctx, cfg, migrate)
	if err != nil || st == nil {
		return err
	}
	defer st.Close()

	rdb, err := openRedis(ctx, cfg)
	if err != nil {
		return err
	}
	var sessions presence.SessionCounter = presence.NewMemorySessions()
	var relay ws.Relay
	if rdb != nil {
		defer rdb.Close()
		sessions = presence.NewRedisSessions(rdb, redisKeyPrefix)
		relay = ws.NewRedisRelay(rdb, redisKeyPrefix)
		slog.Info("presence sessions and room broadcasts shared through redis")
	}

	var objects objectstore.Store
	if cfg.ExportPublishingEnabled() {
		s3, err := objectstore.New(ctx, cfg)
		if err != nil {
			return err
		}
		objects = s3
	}

	tracker := presence.NewTracker(st, sessions)
	hub := ws.NewHub(st, st, tracker, ws.Options{
		SendBuffer: cfg.WSSendBuffer,
		WriteWait:  cfg.WSWriteWait,
		PongWait:   cfg.WSPongWait,
		Relay:      relay,
	})

	api := &handlers.API{
		Store:    st,
		Presence: tracker,
		Exporter: tree.NewExporter(st, objects, cfg.ExportLinkExpiry),
		Hub:      hub,
		Verifier: verifier,
	}

	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           handlers.NewRouter(api, cfg.CORSOrigins),
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		slog.Info("starting server", "addr", srv.Addr, "env", cfg.AppEnv, "store", cfg.StoreDriver)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		slog.Info("shutting down")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()

		// hijacked websocket connections are not tracked by the server
		if err := hub.Shutdown(shutdownCtx); err != nil {
			slog.Warn("hub shutdown incomplete", "error", err)
		}
		return srv.Shutdown(shutdownCtx)
	})

	return g.Wait()
}

// openStore returns nil, nil when only migrations were requested.
func openStore(ctx context.Context, cfg *config.Config, migrate string) (store.Store, error) {
	if cfg.StoreDriver == "memory" {
		slog.Warn("using in-memory store with open access, data is lost on exit")
		return store.NewMemory(store.WithOpenAccess()), nil
	}

	pool, err := database.Connect(ctx, cfg.DatabaseURL)
	if err != nil {
		return nil, err
	}

	switch migrate {
	case "down":
		defer pool.Close()
		return nil, database.MigrateDown(pool)
	case "up":
		defer pool.Close()
		return nil, database.RunMigrations(pool)
	case "":
	default:
		pool.Close()
		return nil, errors.New("unknown -migrate value, want up or down")
	}

	if err := database.RunMigrations(pool); err != nil {
		pool.Close()
		return nil, err
	}
	return store.NewPostgres(pool), nil
}

const redisKeyPrefix = "projecttree"

// openRedis returns nil when REDIS_URL is unset; the server then runs as a
// single instance.
func openRedis(ctx context.Context, cfg *config.Config) (*redis.Client, error) {
	if cfg.RedisURL == "" {
		return nil, nil
	}

	opts, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		return nil, err
	}
	client := redis.NewClient(opts)
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		client.Close()
		return nil, err
	}

	slog.Info("redis connected", "addr", opts.Addr)
	return client, nil
}
