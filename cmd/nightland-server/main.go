// Package main is the entry point for the Nightland tick server.
// It only handles dependency injection and server initialization.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"

	"github.com/MRamiBalles/NightlandServer/server/internal/engine"
	"github.com/MRamiBalles/NightlandServer/server/internal/events"
	"github.com/MRamiBalles/NightlandServer/server/internal/infra/storage"
	"github.com/MRamiBalles/NightlandServer/server/internal/network"
	"github.com/MRamiBalles/NightlandServer/server/internal/platform/config"
	"github.com/MRamiBalles/NightlandServer/server/internal/platform/logger"
	"github.com/MRamiBalles/NightlandServer/server/internal/platform/metrics"
)

func main() {
	cfg, err := config.Load(os.Args[1:])
	if errors.Is(err, flag.ErrHelp) {
		os.Exit(0)
	}
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}

	runID := uuid.NewString()
	appLogger := logger.New(logger.Options{
		Output:    os.Stdout,
		Verbosity: cfg.Verbosity,
		JSON:      cfg.LogJSON,
	}).WithField("run", runID)

	if err := run(cfg, runID, appLogger); err != nil {
		appLogger.Error(err.Error())
		os.Exit(1)
	}
	appLogger.Info("Server stopped.")
}

func run(cfg config.Config, runID string, appLogger *logger.Logger) error {
	collector := metrics.Get()

	opts := network.DefaultOptions()
	opts.Address = cfg.Address
	opts.Port = cfg.Port
	opts.MaxClients = cfg.MaxClients
	opts.AcceptBatch = cfg.AcceptBatch
	opts.ReadBufferSize = cfg.ReadBufferSize
	opts.Backlog = cfg.Backlog

	sockets, err := network.New(opts, appLogger)
	if err != nil {
		return fmt.Errorf("could not establish sockets: %w", err)
	}
	defer sockets.Close()
	sockets.SetMetrics(collector)

	world := engine.NewWorld(appLogger, cfg.ExplodeEvery)
	loop := engine.NewLoop(engine.NewTimer(cfg.TickPeriod), world, sockets, appLogger)
	loop.SetMetrics(collector, cfg.SummaryEvery)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var journalRepo storage.JournalRepository
	if cfg.JournalPath != "" {
		appLogger.Info("Initializing SQLite journal '" + cfg.JournalPath + "'...")
		db, err := storage.InitSQLite(cfg.JournalPath)
		if err != nil {
			return fmt.Errorf("failed to initialize journal: %w", err)
		}
		defer db.Close()

		repo := storage.NewSQLiteJournalRepository(db)
		err = repo.StartRun(ctx, storage.Run{
			RunID:      runID,
			Address:    sockets.Addr(),
			MaxClients: cfg.MaxClients,
			TickMillis: int(cfg.TickPeriod / time.Millisecond),
			StartedAt:  time.Now(),
		})
		if err != nil {
			return err
		}
		loop.SetJournal(events.NewJournal(storage.NewJournalPersister(repo, runID)))
		journalRepo = repo
	}

	if cfg.HTTPAddr != "" {
		hub := network.NewHub(appLogger, collector)
		go hub.Run(ctx)
		sockets.SetMirror(hub)

		mux := http.NewServeMux()
		mux.Handle("/metrics", collector.Handler())
		mux.Handle("/metrics/prom", collector.PrometheusHandler())
		mux.HandleFunc("/ws", hub.ServeWS)
		if journalRepo != nil {
			network.NewReplayHandler(journalRepo, appLogger).RegisterRoutes(mux)
		}

		srv := &http.Server{
			Addr:              cfg.HTTPAddr,
			Handler:           mux,
			ReadHeaderTimeout: 5 * time.Second,
		}
		go func() {
			appLogger.Info("HTTP metrics & spectator server listening on " + cfg.HTTPAddr)
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				appLogger.Error("HTTP server failed: " + err.Error())
			}
		}()
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			defer cancel()
			srv.Shutdown(shutdownCtx)
		}()
	}

	appLogger.Info(fmt.Sprintf("Nightland server accepting up to %d clients on %s, tick %s",
		cfg.MaxClients, sockets.Addr(), cfg.TickPeriod))

	err = loop.Run(ctx)
	appLogger.Info(collector.Summary())
	return err
}
