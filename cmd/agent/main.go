// Command agent runs a standalone collabtext peer: documents in a local
// bbolt file, sessions fanned out in process, and the agent advertised and
// its peers discovered over mDNS.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"collabtext/internal/bus"
	"collabtext/internal/config"
	"collabtext/internal/discovery"
	"collabtext/internal/server"
	"collabtext/internal/service"
	"collabtext/internal/store"
)

func main() {
	configPath := flag.String("config", "collabtext-agent.toml", "path to the TOML config file")
	flag.Parse()

	cfg := config.Default()
	cfg.Addr = ":8080"
	cfg.Store = config.StoreBolt
	cfg.Discovery.Enabled = true
	cfg, err := config.LoadWith(cfg, *configPath)
	if err != nil {
		log.Fatalf("Invalid configuration: %v", err)
	}
	logger := cfg.NewLogger()
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	st, err := store.Open(ctx, cfg.Store, cfg.BoltPath, cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("Unable to open %s store: %v", cfg.Store, err)
	}
	defer st.Close()

	b := bus.NewLocalBus(logger)
	defer b.Close()

	svc := service.New(st, b, service.OptionsFromConfig(cfg), logger)
	srv := server.New(svc, logger)

	if cfg.Discovery.Enabled {
		port, err := listenPort(cfg.Addr)
		if err != nil {
			log.Fatalf("Invalid listen address: %v", err)
		}
		instance := cfg.Discovery.Instance
		if instance == "" {
			host, _ := os.Hostname()
			instance = fmt.Sprintf("%s-%s", "CollabText", host)
		}
		peers := discovery.NewRegistry(instance)
		srv.Handle("/peers", peers)

		d := discovery.New(cfg.Discovery.Domain, logger)
		go func() {
			if err := d.Advertise(ctx, instance, cfg.Discovery.Service, port, []string{"txtv=0"}); err != nil {
				logger.Error("mDNS advertise failed", "error", err)
			}
		}()
		go func() {
			if err := d.Browse(ctx, cfg.Discovery.Service, peers.Add); err != nil {
				logger.Error("mDNS browse failed", "error", err)
			}
		}()
	}

	// Registered last so the API routes take precedence.
	if cfg.StaticDir != "" {
		srv.Static(cfg.StaticDir)
		logger.Info("serving static files", "dir", cfg.StaticDir)
	}

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

	logger.Info("collabtext agent is running", "addr", cfg.Addr, "store", cfg.Store)
	if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		log.Fatalf("Failed to start server: %v", err)
	}
}

func listenPort(addr string) (int, error) {
	_, port, err := net.SplitHostPort(addr)
	if err != nil {
		return 0, err
	}
	return strconv.Atoi(port)
}
