// warden-server fronts a long-running agent CLI with a task API:
// submissions are queued, executed by supervised subprocesses, and
// streamed back over SSE or WebSocket.
package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"warden/internal/async"
	"warden/internal/claude"
	"warden/internal/config"
	"warden/internal/logging"
	"warden/internal/scheduler"
	"warden/internal/server/app"
	serverhttp "warden/internal/server/http"
	"warden/internal/session"
)

func main() {
	configPath := flag.String("config", "", "path to a YAML config file")
	flag.Parse()

	if err := run(*configPath); err != nil {
		fmt.Fprintf(os.Stderr, "warden-server: %v\n", err)
		os.Exit(1)
	}
}

func run(configPath string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	logging.SetLevel(logging.ParseLevel(cfg.LogLevel))
	logger := logging.NewComponentLogger("Main")
	logger.Info("starting warden-server on port %d, agent binary %s", cfg.Port, cfg.AgentBinary)

	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	sessions := session.NewMemoryStore(cfg.SessionTimeout, logging.NewComponentLogger("SessionStore"))

	runner := claude.NewRunner(claude.Config{
		BinaryPath:  cfg.AgentBinary,
		APIKey:      cfg.APIKey,
		ConfigDir:   cfg.ConfigDir,
		Model:       cfg.AgentModel,
		GraceWindow: cfg.GraceWindow,
		Env:         cfg.AgentEnv,
	}, logging.NewComponentLogger("Runner"))

	broadcaster, err := app.NewBroadcaster(cfg.HistoryLimit, logging.NewComponentLogger("Broadcaster"))
	if err != nil {
		return fmt.Errorf("create broadcaster: %w", err)
	}

	sched := scheduler.New(scheduler.Config{
		Workers:            cfg.Workers,
		QueueCapacity:      cfg.QueueCapacity,
		DefaultTaskTimeout: cfg.TaskTimeout,
	}, sessions, runner, broadcaster, scheduler.NewMetrics(registry), logging.NewComponentLogger("Scheduler"))

	rootCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	sched.Start(rootCtx)
	defer sched.Stop()

	sweeperLogger := logging.NewComponentLogger("SessionSweeper")
	async.Every(rootCtx, sweeperLogger, "session-sweeper", cfg.SweepInterval, func() {
		if removed := sessions.SweepExpired(); removed > 0 {
			sweeperLogger.Info("removed %d expired sessions", removed)
		}
	})

	health := app.NewHealthChecker()
	health.RegisterProbe(&app.AgentBinaryProbe{Binary: cfg.AgentBinary})
	health.RegisterProbe(&app.QueueProbe{Scheduler: sched})
	health.RegisterProbe(&app.SessionStoreProbe{Store: sessions})

	engine := serverhttp.NewRouter(serverhttp.Deps{
		Scheduler:      sched,
		Sessions:       sessions,
		Broadcaster:    broadcaster,
		Health:         health,
		Gatherer:       registry,
		AllowedOrigins: cfg.AllowedOrigins,
		Logger:         logging.NewComponentLogger("HTTP"),
	})

	server := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Port),
		Handler:           engine,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("listening on %s", server.Addr)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("serve: %w", err)
	case <-rootCtx.Done():
	}

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Warn("http shutdown: %v", err)
	}
	sched.Stop()
	logger.Info("bye")
	return nil
}
