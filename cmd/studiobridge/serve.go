package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/pflag"

	"github.com/mattjoyce/studiobridge/internal/api"
	"github.com/mattjoyce/studiobridge/internal/config"
	"github.com/mattjoyce/studiobridge/internal/dispatch"
	"github.com/mattjoyce/studiobridge/internal/events"
	"github.com/mattjoyce/studiobridge/internal/generate"
	"github.com/mattjoyce/studiobridge/internal/history"
	"github.com/mattjoyce/studiobridge/internal/lock"
	"github.com/mattjoyce/studiobridge/internal/log"
	"github.com/mattjoyce/studiobridge/internal/orchestrator"
	"github.com/mattjoyce/studiobridge/internal/storage"
)

// app is a fully wired server that has not started listening yet.
type app struct {
	cfg        *config.Config
	hub        *events.Hub
	dispatcher *dispatch.Dispatcher
	server     *api.Server
	db         *sql.DB
	pidLock    *lock.PIDLock
	logger     *slog.Logger
}

// newApp builds every component from cfg. httpClient is used for the
// generation API and may be nil.
func newApp(ctx context.Context, cfg *config.Config, httpClient *http.Client) (*app, error) {
	a := &app{cfg: cfg, logger: log.WithComponent("main")}

	var (
		recorder orchestrator.Recorder
		reader   api.HistoryReader
	)
	if cfg.State.HistoryEnabled() {
		pidLockPath := lock.PathFor(cfg.State.Path)
		pidLock, err := lock.AcquirePIDLock(pidLockPath)
		if err != nil {
			return nil, fmt.Errorf("acquire PID lock %s: %w", pidLockPath, err)
		}
		a.pidLock = pidLock
		a.logger.Info("acquired PID lock", "path", pidLockPath)

		db, err := storage.OpenSQLite(ctx, cfg.State.Path)
		if err != nil {
			a.Close()
			return nil, fmt.Errorf("open history database: %w", err)
		}
		a.db = db
		store := history.New(db)
		recorder, reader = store, store
		a.logger.Info("history enabled", "path", cfg.State.Path)
	}

	gen, err := generate.New(cfg.Generator, httpClient)
	if err != nil {
		a.Close()
		return nil, err
	}

	a.hub = events.NewHub(cfg.Server.EventBuffer)
	a.dispatcher = dispatch.New(dispatch.Config{PollTimeout: cfg.Server.PollTimeout}, a.hub, log.WithComponent("dispatch"))

	orch := orchestrator.New(
		gen,
		a.dispatcher,
		generate.EnvCredential(cfg.Generator.APIKeyEnv),
		recorder,
		orchestrator.Options{
			Label:            cfg.Generator.Label,
			CodeFence:        cfg.Generator.CodeFence,
			MaxContinuations: cfg.Generator.MaxContinuations,
		},
		a.hub,
		log.WithComponent("orchestrator"),
	)

	a.server = api.New(api.Config{
		Listen:       cfg.Server.Listen,
		MaxBodyBytes: cfg.Server.MaxBodyBytes,
		Version:      currentVersionInfo().Version,
	}, a.dispatcher, orch, reader, a.hub, log.WithComponent("api"))

	return a, nil
}

// Run serves on ln until ctx ends. The dispatcher and event hub are closed
// as soon as ctx ends so blocked pickups, bridge calls and event streams
// return before the HTTP server waits for in-flight requests.
func (a *app) Run(ctx context.Context, ln net.Listener) error {
	stop := context.AfterFunc(ctx, a.shutdownCore)
	defer stop()

	err := a.server.Serve(ctx, ln)
	a.shutdownCore()
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

func (a *app) shutdownCore() {
	a.dispatcher.Close()
	a.hub.Close()
}

// Close releases the database and PID lock.
func (a *app) Close() {
	if a.db != nil {
		_ = a.db.Close()
		a.db = nil
	}
	if a.pidLock != nil {
		_ = a.pidLock.Release()
		a.pidLock = nil
	}
}

func runServe(args []string) int {
	fs := pflag.NewFlagSet("serve", pflag.ContinueOnError)
	configPath := fs.StringP("config", "c", "", "Path to configuration file")
	listen := fs.String("listen", "", "Override server.listen")
	noHistory := fs.Bool("no-history", false, "Do not record prompts to the history database")
	if err := fs.Parse(args); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return 0
		}
		fmt.Fprintf(os.Stderr, "Flag error: %v\n", err)
		return 1
	}

	cfg, err := config.LoadOrDefault(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		return 1
	}
	if *listen != "" {
		cfg.Server.Listen = *listen
	}
	if *noHistory {
		disabled := false
		cfg.State.History = &disabled
	}

	log.Setup(cfg.Service.LogLevel, cfg.Service.LogFormat)
	logger := log.WithComponent("main")
	source := cfg.SourcePath
	if source == "" {
		source = "(defaults)"
	}
	logger.Info("studiobridge starting", "version", currentVersionInfo().Version, "config", source)

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	a, err := newApp(ctx, cfg, nil)
	if err != nil {
		logger.Error("failed to start", "error", err)
		return 1
	}
	defer a.Close()

	ln, err := net.Listen("tcp", cfg.Server.Listen)
	if err != nil {
		logger.Error("failed to listen", "listen", cfg.Server.Listen, "error", err)
		return 1
	}

	logger.Info("studiobridge running (press Ctrl+C to stop)",
		"listen", ln.Addr().String(),
		"provider", cfg.Generator.Provider,
		"model", cfg.Generator.Model,
	)
	if err := a.Run(ctx, ln); err != nil {
		logger.Error("server failed", "error", err)
		return 1
	}

	logger.Info("studiobridge stopped")
	return 0
}
