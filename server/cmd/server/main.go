package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/hostwatch/hostwatch/pkg/hostmetrics"
	"github.com/hostwatch/hostwatch/pkg/logging"
	"github.com/hostwatch/hostwatch/server/internal/alerts"
	"github.com/hostwatch/hostwatch/server/internal/api"
	"github.com/hostwatch/hostwatch/server/internal/config"
	"github.com/hostwatch/hostwatch/server/internal/notify"
	"github.com/hostwatch/hostwatch/server/internal/scheduler"
	"github.com/hostwatch/hostwatch/server/internal/source"
	"github.com/hostwatch/hostwatch/server/internal/store"
	"github.com/hostwatch/hostwatch/server/internal/ws"
)

func main() {
	configPath := flag.String("config", "config.yaml", "path to config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		slog.Error("failed to load config", "err", err)
		os.Exit(1)
	}
	sc := cfg.Server

	logger, logCloser, err := logging.New(sc.Log)
	if err != nil {
		slog.Error("failed to build logger", "err", err)
		os.Exit(1)
	}
	defer logCloser.Close()
	slog.SetDefault(logger)

	slog.Info("hostwatch-server starting", "config", *configPath)
	slog.Info("config loaded",
		"http_port", sc.HTTPPort,
		"targets", len(sc.Targets),
		"interval", sc.Scheduler.Interval,
		"storage", sc.Storage.Backend,
		"rules", len(sc.Alerts.Rules),
		"channels", len(sc.Alerts.Channels),
	)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	// Persistence with background retention.
	st, err := store.Open(sc.Storage)
	if err != nil {
		slog.Error("failed to open store", "backend", sc.Storage.Backend, "err", err)
		os.Exit(1)
	}
	defer st.Close()
	go store.RunRetention(ctx, st, sc.Storage.Retention)

	// Notification fan-out. The WebSocket hub is re-added on every reload.
	dispatcher := notify.NewDispatcher(logger)
	dispatcher.SetNotifyOnResolve(sc.Alerts.NotifyOnResolve)

	// Alert engine, seeded with unresolved alerts from the previous run.
	engine := alerts.New(
		alerts.WithStore(st),
		alerts.WithNotifier(dispatcher),
		alerts.WithHistorySize(sc.Alerts.HistorySize),
		alerts.WithLogger(logger),
	)
	if err := engine.SyncRules(rulesFromConfig(sc.Alerts)); err != nil {
		slog.Warn("some alert rules were rejected", "err", err)
	}
	restoreAlerts(ctx, st, engine)

	// Metric sources, one per target kind.
	router := source.NewRouter()
	router.Register(scheduler.KindLocal, source.NewLocal(hostmetrics.New(logger)))
	router.Register(scheduler.KindSSH, source.NewSSH(source.SSHOptions{
		ConfigPath:  sc.SSH.ConfigPath,
		KnownHosts:  sc.SSH.KnownHosts,
		DialTimeout: sc.SSH.DialTimeout,
		Logger:      logger,
	}))
	router.Register(scheduler.KindHTTP, source.NewHTTP(logger))

	sched := scheduler.New(router, st, engine, schedulerOptions(sc.Scheduler, logger))
	sched.SetTargets(targetsFromConfig(sc.Targets))
	restoreStatus(ctx, st, sched)

	hub := ws.New(sched, engine, sc.Stream.Interval)
	go hub.Run(ctx)
	setChannels(dispatcher, sc.Alerts.Channels, hub, logger)

	sched.Start(sc.Scheduler.Interval)

	// Hot reload: rules, channels and targets. Listener, storage and
	// scheduler tuning need a restart.
	go func() {
		err := config.Watch(ctx, *configPath, func(updated *config.Config) {
			us := updated.Server
			if err := engine.SyncRules(rulesFromConfig(us.Alerts)); err != nil {
				slog.Warn("config reload: some alert rules were rejected", "err", err)
			}
			dispatcher.SetNotifyOnResolve(us.Alerts.NotifyOnResolve)
			setChannels(dispatcher, us.Alerts.Channels, hub, logger)
			sched.SetTargets(targetsFromConfig(us.Targets))
			slog.Info("config hot-reloaded",
				"targets", len(us.Targets),
				"rules", len(us.Alerts.Rules),
				"channels", len(us.Alerts.Channels),
			)
		})
		if err != nil {
			slog.Error("config watcher stopped", "err", err)
		}
	}()

	// Combined HTTP server: REST API + WebSocket hub on HTTPPort.
	httpMux := http.NewServeMux()
	httpMux.Handle("/api/", api.New(sched, engine, st, logger))
	httpMux.Handle("/ws/stream", hub)

	httpSrv := &http.Server{
		Addr:              fmt.Sprintf(":%d", sc.HTTPPort),
		Handler:           httpMux,
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		slog.Info("HTTP server listening", "port", sc.HTTPPort)
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("HTTP server stopped", "err", err)
			cancel()
		}
	}()

	<-ctx.Done()
	slog.Info("hostwatch-server shutting down")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := httpSrv.Shutdown(shutdownCtx); err != nil {
		slog.Warn("HTTP server shutdown", "err", err)
	}
	sched.Stop()
	if err := router.Close(); err != nil {
		slog.Warn("closing sources", "err", err)
	}
}

func schedulerOptions(c config.SchedulerConfig, logger *slog.Logger) scheduler.Options {
	return scheduler.Options{
		Workers:      c.Workers,
		Timeout:      c.Timeout,
		GracePeriod:  c.GracePeriod,
		OfflineAfter: c.OfflineAfter,
		Ceilings:     c.Ceilings,
		Logger:       logger,
	}
}

func targetsFromConfig(tcs []config.TargetConfig) []scheduler.Target {
	out := make([]scheduler.Target, 0, len(tcs))
	for _, tc := range tcs {
		out = append(out, scheduler.TargetFromConfig(tc))
	}
	return out
}

// rulesFromConfig returns the stock rules (when enabled) followed by the
// configured ones. A configured rule with a stock ID replaces it.
func rulesFromConfig(ac config.AlertsConfig) []alerts.Rule {
	configured := make(map[string]bool, len(ac.Rules))
	for _, rc := range ac.Rules {
		configured[rc.ID] = true
	}
	var out []alerts.Rule
	if ac.DefaultRules {
		for _, r := range alerts.DefaultRules() {
			if !configured[r.ID] {
				out = append(out, r)
			}
		}
	}
	for _, rc := range ac.Rules {
		out = append(out, alerts.RuleFromConfig(rc))
	}
	return out
}

func setChannels(d *notify.Dispatcher, chs []config.ChannelConfig, hub *ws.Hub, logger *slog.Logger) {
	channels, err := notify.FromConfig(chs, logger)
	if err != nil {
		logger.Warn("some notification channels were skipped", "err", err)
	}
	d.SetChannels(append(channels, hub))
}

func restoreAlerts(ctx context.Context, st store.Store, engine *alerts.Engine) {
	active, err := st.ListActiveAlerts(ctx)
	if err != nil {
		slog.Warn("could not load active alerts", "err", err)
		return
	}
	engine.Restore(active)
	if len(active) > 0 {
		slog.Info("restored active alerts", "count", len(active))
	}
}

func restoreStatus(ctx context.Context, st store.Store, sched *scheduler.Scheduler) {
	records, err := st.ListTargets(ctx)
	if err != nil {
		slog.Warn("could not load target status", "err", err)
		return
	}
	for _, rec := range records {
		var last time.Time
		if rec.LastSnapshotAt != nil {
			last = *rec.LastSnapshotAt
		}
		sched.RestoreStatus(rec.ID, rec.Status, last)
	}
}
