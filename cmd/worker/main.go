package main

import (
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"time"

	"github.com/t-brandt/kapsel/internal/worker"
	"github.com/t-brandt/kapsel/internal/worker/executor"
)

func main() {
	port := flag.Int("port", defaultPort(), "listen port")
	flag.Parse()

	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))

	srv := worker.NewServer(executor.New(), logger, os.Stdout)

	httpServer := &http.Server{
		Addr:        fmt.Sprintf(":%d", *port),
		Handler:     srv.Handler(),
		ReadTimeout: 30 * time.Second,
		// No write timeout: exec streams stay open as long as code runs;
		// the controller enforces the execution deadline.
		IdleTimeout: 120 * time.Second,
	}

	logger.Info("worker listening", "addr", httpServer.Addr)
	if err := httpServer.ListenAndServe(); err != http.ErrServerClosed {
		logger.Error("server error", "error", err)
		os.Exit(1)
	}
}

func defaultPort() int {
	if v := os.Getenv("WORKER_PORT"); v != "" {
		var p int
		if _, err := fmt.Sscanf(v, "%d", &p); err == nil && p > 0 {
			return p
		}
	}
	return 9000
}
