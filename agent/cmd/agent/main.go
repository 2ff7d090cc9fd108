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

	"github.com/hostwatch/hostwatch/agent/internal/config"
	"github.com/hostwatch/hostwatch/agent/internal/exporter"
	"github.com/hostwatch/hostwatch/pkg/hostmetrics"
	"github.com/hostwatch/hostwatch/pkg/logging"
)

func main() {
	configPath := flag.String("config", "", "path to config file (defaults apply when empty)")
	listen := flag.String("listen", "", "override agent.listen")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		slog.Error("failed to load config", "err", err)
		os.Exit(1)
	}
	if *listen != "" {
		cfg.Agent.Listen = *listen
	}

	logger, closer, err := logging.New(cfg.Log)
	if err != nil {
		slog.Error("failed to build logger", "err", err)
		os.Exit(1)
	}
	defer closer.Close()
	slog.SetDefault(logger)

	slog.Info("hostwatch-agent starting",
		"config", *configPath,
		"listen", cfg.Agent.Listen,
		"path", cfg.Agent.MetricsPath,
		"collect_timeout", cfg.Agent.CollectTimeout,
		"auth", cfg.Agent.Auth.Mode,
	)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	collector := hostmetrics.New(logger)
	collector.SampleInterval = cfg.Agent.SampleInterval

	mux := http.NewServeMux()
	mux.Handle(cfg.Agent.MetricsPath, exporter.New(collector, cfg.Agent.CollectTimeout, cfg.Agent.Auth, logger))
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok\n"))
	})

	srv := &http.Server{
		Addr:              cfg.Agent.Listen,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
		WriteTimeout:      cfg.Agent.CollectTimeout + 5*time.Second,
	}

	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("http server error", "err", err)
			cancel()
		}
	}()

	<-ctx.Done()
	slog.Info("hostwatch-agent shutting down")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Warn("http server shutdown", "err", err)
	}
}
