// Package app is the composition root: it assembles the hub, transports,
// journal, metrics and agents from configuration and runs them until the
// context is cancelled.
package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"

	"go.uber.org/zap"

	server "eyefield/server"
	"eyefield/server/internal/agent"
	"eyefield/server/internal/config"
	"eyefield/server/internal/observability"
	"eyefield/server/internal/speech"
	"eyefield/server/internal/transport"
	"eyefield/server/journal"
	"eyefield/server/journal/sinks"
)

// Run starts the server and blocks until ctx is cancelled or the listener
// fails. Everything started here is stopped before Run returns.
func Run(ctx context.Context, cfg config.Config) error {
	logger, err := zap.NewProduction()
	if err != nil {
		return fmt.Errorf("build logger: %w", err)
	}
	defer func() { _ = logger.Sync() }()

	router, closeJournal, err := buildJournal(cfg.Journal)
	if err != nil {
		return err
	}
	defer closeJournal()

	metrics := observability.NewHubMetrics()

	hub := server.NewHubWithConfig(server.HubConfig{
		StaleAfter:    cfg.World.StaleAfter.Std(),
		SweepInterval: cfg.World.SweepInterval.Std(),
		Journal:       router,
		Metrics:       metrics,
		Logger:        logger.Named("hub"),
	})
	hub.SeedBoxes(cfg.World.BoxCount)

	reaperStop := make(chan struct{})
	go hub.RunReaper(reaperStop)
	defer close(reaperStop)

	if cfg.Agents.Enabled && len(cfg.Agents.Profiles) > 0 {
		driver := buildAgents(hub, cfg.Agents, logger)
		driver.Start()
		defer driver.Stop()
	}

	handler := transport.NewHandler(hub, metrics, logger.Named("http"))
	srv := &http.Server{Addr: cfg.Server.Addr, Handler: handler}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("listening", zap.String("addr", cfg.Server.Addr))
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout.Std())
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Warn("shutdown incomplete", zap.Error(err))
	}
	return nil
}

func buildJournal(cfg config.JournalConfig) (*journal.Router, func(), error) {
	named := []journal.NamedSink{
		{Name: "console", Sink: sinks.NewConsoleSink(os.Stdout)},
	}

	var file *os.File
	if cfg.Path != "" {
		f, err := os.OpenFile(cfg.Path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			return nil, nil, fmt.Errorf("open journal file: %w", err)
		}
		file = f
		named = append(named, journal.NamedSink{Name: "jsonl", Sink: sinks.NewJSONL(f, 0)})
	}

	routerCfg := journal.DefaultConfig()
	routerCfg.MinimumSeverity = journal.ParseSeverity(cfg.Severity)
	router := journal.NewRouter(nil, routerCfg, named)

	closeAll := func() {
		_ = router.Close(context.Background())
		if file != nil {
			_ = file.Close()
		}
	}
	return router, closeAll, nil
}

func buildAgents(hub *server.Hub, cfg config.AgentsConfig, logger *zap.Logger) *agent.Driver {
	profiles := make([]agent.Profile, 0, len(cfg.Profiles))
	for _, p := range cfg.Profiles {
		profiles = append(profiles, agent.Profile{ID: p.ID, DisplayName: p.DisplayName})
	}

	var decider agent.Decider
	if cfg.DeciderURL != "" {
		decider = agent.NewHTTPDecider(cfg.DeciderURL, 0)
	}

	var synth speech.Synthesizer = speech.Nop{}
	if cfg.SpeechURL != "" {
		synth = speech.NewClient(cfg.SpeechURL, 0)
	}

	return agent.NewDriver(hub, agent.Options{
		Agents:        profiles,
		MoveInterval:  cfg.MoveInterval.Std(),
		ThinkInterval: cfg.ThinkInterval.Std(),
		Decider:       decider,
		Speech:        synth,
		Logger:        logger.Named("agent"),
	})
}
