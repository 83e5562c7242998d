// Scheduleimport mirrors remote conference schedules (Frab XML or iCalendar)
// into volunteer shifts.
//
// Usage:
//
//	scheduleimport init                  # interactive first-run setup
//	scheduleimport source list
//	scheduleimport source save --name Camp --url https://... --shift-type 1 --room "Main Hall"
//	scheduleimport source delete <id>
//	scheduleimport preview <id>          # show what an import would change
//	scheduleimport import <id> | --all   # apply the schedule
//	scheduleimport daemon                # import every source on a cron schedule
//	scheduleimport shift-type list|add
//	scheduleimport location list|add
//	scheduleimport version
package main

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"

	"github.com/poelzi/engelsystem/internal/config"
	"github.com/poelzi/engelsystem/internal/fetch"
	"github.com/poelzi/engelsystem/internal/importer"
	"github.com/poelzi/engelsystem/internal/lock"
	"github.com/poelzi/engelsystem/internal/notify"
	"github.com/poelzi/engelsystem/internal/state"
	"github.com/poelzi/engelsystem/internal/telemetry"
)

// version is set at build time via -ldflags "-X main.version=..."
var version = "dev"

// App holds the wired dependencies shared by all subcommands.
type App struct {
	cfg      *config.Config
	logger   *slog.Logger
	store    *state.Store
	importer *importer.Importer
	webhook  *notify.WebhookSink
	redis    *redis.Client
	shutdown telemetry.ShutdownFunc
}

var (
	cfgPath  string
	database string
	lang     string
	verbose  bool
	app      *App
)

func main() {
	root := &cobra.Command{
		Use:           "scheduleimport",
		Short:         "Import conference schedules as volunteer shifts",
		SilenceErrors: true,
		SilenceUsage:  true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if cmd.Annotations["bare"] == "true" {
				return nil
			}
			return initApp(cmd.Context(), cmd.Flags().Changed("config"))
		},
		PersistentPostRun: func(cmd *cobra.Command, args []string) {
			closeApp()
		},
	}

	defaultCfg, _ := config.DefaultPath()
	root.PersistentFlags().StringVar(&cfgPath, "config", defaultCfg, "path to config.yaml")
	root.PersistentFlags().StringVar(&database, "database", "", "state database DSN (overrides the config file)")
	root.PersistentFlags().StringVar(&lang, "lang", "", "message language: en or de (overrides the config file)")
	root.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable debug logging")

	root.AddCommand(initCmd())
	root.AddCommand(sourceCmd())
	root.AddCommand(previewCmd())
	root.AddCommand(importCmd())
	root.AddCommand(daemonCmd())
	root.AddCommand(shiftTypeCmd())
	root.AddCommand(locationCmd())
	root.AddCommand(versionCmd())

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
	err := root.ExecuteContext(ctx)
	stop()
	if err != nil {
		msg := describeError(language(), err)
		closeApp()
		fmt.Fprintln(os.Stderr, msg)
		os.Exit(1)
	}
}

// initApp wires logger, config, telemetry, store, lock, notification sinks
// and the importer.
func initApp(ctx context.Context, explicitConfig bool) error {
	// --- Logger --------------------------------------------------------------

	logLevel := slog.LevelInfo
	if verbose {
		logLevel = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: logLevel}))
	slog.SetDefault(logger)
	app = &App{logger: logger}

	// --- Config --------------------------------------------------------------

	cfg, err := config.Load(cfgPath)
	switch {
	case err == nil:
		logger.Debug("config loaded", "path", cfgPath)
	case !explicitConfig && errors.Is(err, fs.ErrNotExist):
		cfg = config.Default()
		logger.Debug("no config file, using defaults", "path", cfgPath)
	default:
		return fmt.Errorf("loading config from %q: %w", cfgPath, err)
	}
	if database != "" {
		cfg.Database = database
	}
	app.cfg = cfg

	// --- Telemetry (optional) ------------------------------------------------

	if cfg.Telemetry != nil {
		shutdown, err := telemetry.Setup(ctx, telemetry.Config{
			OTLPEndpoint:   cfg.Telemetry.OTLPEndpoint,
			Insecure:       cfg.Telemetry.Insecure,
			ServiceName:    cfg.Telemetry.ServiceName,
			ServiceVersion: version,
			Headers:        cfg.Telemetry.Headers,
		})
		if err != nil {
			logger.Error("telemetry setup failed, continuing without telemetry", "error", err)
		} else {
			logger.Info("telemetry enabled", "endpoint", cfg.Telemetry.OTLPEndpoint)
			app.shutdown = shutdown
		}
	}

	// --- State DB ------------------------------------------------------------

	dsn := cfg.Database
	if dsn == "" {
		if dsn, err = state.DefaultDBPath(); err != nil {
			return fmt.Errorf("resolving state DB path: %w", err)
		}
	}
	app.store, err = state.Open(dsn)
	if err != nil {
		return fmt.Errorf("opening state DB: %w", err)
	}
	logger.Debug("state DB opened")

	// --- Per-source lock -----------------------------------------------------

	var locker lock.Locker = lock.NewMemory()
	if cfg.Lock.RedisURL != "" {
		app.redis, err = lock.DialRedis(ctx, cfg.Lock.RedisURL)
		if err != nil {
			return fmt.Errorf("connecting to lock server: %w", err)
		}
		locker = lock.NewRedis(app.redis, cfg.Lock.TTL)
		logger.Debug("using redis source lock")
	}

	// --- Notifications -------------------------------------------------------

	bus := notify.NewBus(notify.NewLogSink(logger))
	if cfg.Notifications.WebhookURL != "" {
		app.webhook = notify.NewWebhookSink(cfg.Notifications.WebhookURL, cfg.Notifications.Attempts, logger)
		bus.Subscribe(app.webhook)
	}

	// --- Importer ------------------------------------------------------------

	fetcher := fetch.New(fetch.Options{
		Timeout:   cfg.Fetch.Timeout,
		Attempts:  cfg.Fetch.Attempts,
		UserAgent: cfg.Fetch.UserAgent,
		MaxBytes:  cfg.Fetch.MaxBytes,
	}, logger)
	app.importer = importer.New(app.store, fetcher, locker, bus, importer.Options{
		Location:       cfg.Location(),
		Actor:          cfg.Actor,
		MaxOccurrences: cfg.Fetch.MaxOccurrences,
	}, logger)
	return nil
}

// closeApp flushes pending notifications and telemetry and closes
// connections. It is safe to call more than once.
func closeApp() {
	if app == nil {
		return
	}
	a := app
	app = nil

	if a.webhook != nil {
		a.webhook.Wait()
	}
	if a.store != nil {
		if err := a.store.Close(); err != nil {
			a.logger.Error("closing state DB", "error", err)
		}
	}
	if a.redis != nil {
		_ = a.redis.Close()
	}
	if a.shutdown != nil {
		flushCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := a.shutdown(flushCtx); err != nil {
			a.logger.Error("telemetry shutdown error", "error", err)
		}
	}
}

// language returns the operator message language: --lang, then the config
// file, then English.
func language() string {
	if lang != "" {
		return lang
	}
	if app != nil && app.cfg != nil {
		return app.cfg.Language
	}
	return config.DefaultLanguage
}
