package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/t-brandt/kapsel/internal/api"
	"github.com/t-brandt/kapsel/internal/config"
	"github.com/t-brandt/kapsel/internal/docker"
	"github.com/t-brandt/kapsel/internal/registry"
	"github.com/t-brandt/kapsel/internal/sandbox"
)

func main() {
	cfgPath := flag.String("config", "", "path to kapsel.yaml")
	flag.Parse()

	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))

	cfg, err := config.Load(*cfgPath)
	if err != nil {
		logger.Error("load config", "error", err)
		os.Exit(1)
	}

	if cfg.APIKey == "" {
		logger.Warn("no API key configured — running in open access mode")
	}

	dc, err := docker.New(cfg)
	if err != nil {
		logger.Error("docker client", "error", err)
		os.Exit(1)
	}
	defer dc.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	mgr := sandbox.NewManager(cfg, dc, registry.New(), logger)
	if err := mgr.Initialize(ctx); err != nil {
		logger.Error("initialize failed — is Docker running?", "error", err)
		os.Exit(1)
	}
	logger.Info("docker connection OK", "network", cfg.NetworkName)

	rpr := sandbox.NewOrphanReaper(mgr, 30*time.Second, logger)
	go rpr.Run(ctx)

	srv := api.NewServer(cfg, mgr, logger)

	httpServer := &http.Server{
		Addr:         cfg.Listen,
		Handler:      srv.Handler(),
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 10 * time.Minute, // exec streams can be long
		IdleTimeout:  60 * time.Second,
	}

	// Graceful shutdown.
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGTERM, syscall.SIGINT)

	go func() {
		<-sigCh
		logger.Info("shutting down...")
		cancel()

		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer shutdownCancel()
		httpServer.Shutdown(shutdownCtx)
		mgr.Shutdown(shutdownCtx)
	}()

	logger.Info("listening", "addr", cfg.Listen)
	fmt.Fprintf(os.Stderr, "\n  kapsel daemon ready at http://%s\n\n", cfg.Listen)

	if err := httpServer.ListenAndServe(); err != http.ErrServerClosed {
		logger.Error("server error", "error", err)
		os.Exit(1)
	}
}
