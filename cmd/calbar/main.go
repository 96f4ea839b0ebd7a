package main

import (
	"context"
	"errors"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"calbar/internal/bridge"
	"calbar/internal/cache"
	"calbar/internal/config"
	"calbar/internal/eventsource"
	"calbar/internal/extract"
	appLog "calbar/internal/log"
	"calbar/internal/model"
	"calbar/internal/notify"
	"calbar/internal/session"
	calsync "calbar/internal/sync"
	"calbar/internal/web"
)

type flagConfig struct {
	configPath string
	once       bool
	headed     bool
	debug      bool
}

func main() {
	flags := parseFlags()
	if flags.debug {
		appLog.SetLevel(appLog.LevelDebug)
	}

	appLog.Info("calbar starting", "version", "0.1.0")

	conf, err := config.Load(flags.configPath)
	if err != nil {
		appLog.Error("failed to load config", err, "config_path", flags.configPath)
		os.Exit(1)
	}

	appLog.Info("effective config",
		"listen", conf.Listen,
		"notification_minutes_before", conf.NotificationMinutesBefore,
		"fetch_interval_minutes", conf.FetchIntervalMinutes,
		"cache_path", conf.CachePath,
		"headless", conf.Headless && !flags.headed,
		"once", flags.once,
	)

	// Root context with cancellation on SIGINT/SIGTERM.
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		appLog.Info("signal received, shutting down", "signal", sig.String())
		cancel()
	}()

	launcher := &extract.ChromiumLauncher{
		ProfilePath: config.ExpandHome(conf.BrowserProfilePath),
		Headless:    conf.Headless && !flags.headed,
	}
	sessions := session.NewManager(launcher)
	source := &eventsource.Source{}
	store := cache.NewStore(config.ExpandHome(conf.CachePath))
	br := bridge.New()
	reminders := notify.NewScheduler(notify.NewDesktopNotifier())
	engine := calsync.NewEngine(conf, sessions, source, store, br, reminders)

	defer reminders.CancelAll()

	if flags.once {
		outcome := engine.RunOnce(ctx)
		if snap, ok := br.Poll(); ok {
			printSnapshot(snap, conf)
		}
		if outcome == calsync.OutcomeFailedSilent {
			os.Exit(1)
		}
		return
	}

	if err := engine.Start(ctx); err != nil {
		appLog.Error("failed to start sync engine", err)
		os.Exit(1)
	}

	if conf.Listen != "" {
		startStatusServer(ctx, conf, br, engine)
	}

	runForeground(ctx, br, conf)

	appLog.Info("calbar exiting")
}

func parseFlags() flagConfig {
	var cfg flagConfig

	flag.StringVar(&cfg.configPath, "config", "~/.calbar/config.yaml", "Path to config file")
	flag.BoolVar(&cfg.once, "once", false, "Run one fetch cycle, print the schedule and exit")
	flag.BoolVar(&cfg.headed, "headed", false, "Run background fetches with a visible browser")
	flag.BoolVar(&cfg.debug, "debug", false, "Enable debug logging")

	flag.Parse()

	return cfg
}

// startStatusServer runs the local status API until ctx is cancelled.
func startStatusServer(ctx context.Context, conf *config.Config, br *bridge.Bridge, engine *calsync.Engine) {
	server := web.NewServer(conf, br, func(reason string) bool {
		return engine.Trigger(ctx, reason)
	})
	httpServer := &http.Server{Addr: conf.Listen, Handler: server.Handler()}

	go func() {
		appLog.Info("starting status server", "listen", "http://"+conf.Listen)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			appLog.Error("status server failed", err)
		}
	}()
	go func() {
		<-ctx.Done()
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer shutdownCancel()
		_ = httpServer.Shutdown(shutdownCtx)
	}()
}

// runForeground is the single-threaded consumer loop: it polls the state
// bridge on its own cadence and keeps the one-line next-event summary fresh.
// It never blocks on I/O; the bridge is its only view into the background.
func runForeground(ctx context.Context, br *bridge.Bridge, conf *config.Config) {
	pollTicker := time.NewTicker(time.Second)
	defer pollTicker.Stop()
	summaryTicker := time.NewTicker(time.Minute)
	defer summaryTicker.Stop()

	var current *model.Snapshot

	for {
		select {
		case <-ctx.Done():
			return
		case <-pollTicker.C:
			if snap, ok := br.Poll(); ok {
				current = snap
				appLog.Info("schedule updated",
					"freshness", string(snap.Freshness),
					"fetched_at", snap.FetchedAt.Format(time.RFC3339),
					"events", len(snap.Events),
					"next", summaryLine(snap, conf, time.Now()),
				)
			}
		case <-summaryTicker.C:
			if current != nil {
				appLog.Info("next event", "summary", summaryLine(current, conf, time.Now()))
			}
		}
	}
}

func printSnapshot(snap *model.Snapshot, conf *config.Config) {
	appLog.Info("schedule fetched",
		"freshness", string(snap.Freshness),
		"events", len(snap.Events),
		"next", summaryLine(snap, conf, time.Now()),
	)
}
