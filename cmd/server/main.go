// Command server runs the collabtext sync server: documents in PostgreSQL
// (or bbolt or memory), records fanned out to every instance over Redis.
package main

import (
	"context"
	"errors"
	"flag"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"

	"collabtext/internal/bus"
	"collabtext/internal/config"
	"collabtext/internal/server"
	"collabtext/internal/service"
	"collabtext/internal/store"
)

func main() {
	configPath := flag.String("config", "collabtext.toml", "path to the TOML config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("Invalid configuration: %v", err)
	}
	logger := cfg.NewLogger()
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// --- Connect to the store ---
	st, err := store.Open(ctx, cfg.Store, cfg.BoltPath, cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("Unable to open %s store: %v", cfg.Store, err)
	}
	defer st.Close()
	logger.Info("store opened", "kind", cfg.Store)

	// --- Connect to Redis ---
	var b bus.Bus
	if cfg.RedisAddr != "" {
		rdb := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
		if err := rdb.Ping(ctx).Err(); err != nil {
			log.Fatalf("Could not connect to Redis: %v", err)
		}
		logger.Info("connected to redis", "addr", cfg.RedisAddr)
		b = bus.NewRedisBus(rdb, logger)
	} else {
		logger.Warn("no redis address configured, records reach this instance only")
		b = bus.NewLocalBus(logger)
	}
	defer b.Close()

	svc := service.New(st, b, service.OptionsFromConfig(cfg), logger)
	srv := server.New(svc, logger)
	httpServer := &http.Server{
		Addr:              cfg.Addr,
		Handler:           srv.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		srv.Close()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			logger.Error("shutdown", "error", err)
		}
	}()

	logger.Info("collabtext sync server starting", "addr", cfg.Addr)
	if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		log.Fatalf("Failed to start server: %v", err)
	}
	logger.Info("collabtext sync server stopped")
}
