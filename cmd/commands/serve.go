package commands

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/urfave/cli/v3"

	"github.com/dohr-michael/tempus/internal/config"
	"github.com/dohr-michael/tempus/internal/events"
	"github.com/dohr-michael/tempus/internal/gateway"
	"github.com/dohr-michael/tempus/internal/heartbeat"
	"github.com/dohr-michael/tempus/internal/scheduler"
	"github.com/dohr-michael/tempus/internal/storage"
)

// NewServeCommand returns the serve subcommand.
func NewServeCommand() *cli.Command {
	return &cli.Command{
		Name:  "serve",
		Usage: "Run the scheduler daemon and HTTP gateway",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:  "host",
				Usage: "Host to listen on",
			},
			&cli.IntFlag{
				Name:  "port",
				Usage: "Port to listen on",
			},
		},
		Action: runServe,
	}
}

func runServe(ctx context.Context, cmd *cli.Command) error {
	cfg := loadConfig(cmd)

	// CLI flags override config
	if cmd.IsSet("host") {
		cfg.Gateway.Host = cmd.String("host")
	}
	if cmd.IsSet("port") {
		cfg.Gateway.Port = cmd.Int("port")
	}

	// Event bus
	bus := events.NewBus(cfg.Events.BufferSize)
	defer bus.Close()

	// Task registry over the configured backend
	registry, err := openRegistry(cfg)
	if err != nil {
		return fmt.Errorf("open registry: %w", err)
	}

	// Execution history
	history := storage.NewExecutionLog(cfg.History.Path)

	// Scheduler manager
	mgr := scheduler.NewManager(scheduler.ManagerConfig{
		Registry:             registry,
		Bus:                  bus,
		History:              history,
		Disabled:             !cfg.Scheduler.IsEnabled(),
		EnableAutoScheduling: cfg.Scheduler.EnableAutoScheduling,
		SchedulingInterval:   cfg.Scheduler.SchedulingInterval.Duration(),
		MaxConcurrentTasks:   cfg.Scheduler.MaxConcurrentTasks,
		HandlerTimeout:       cfg.Scheduler.HandlerTimeout.Duration(),
		DefaultPriority:      cfg.Scheduler.DefaultPriority,
		PriorityThreshold:    cfg.Scheduler.PriorityThreshold,
		ShutdownGrace:        cfg.Scheduler.ShutdownGrace.Duration(),
	})
	if err := mgr.Initialize(ctx); err != nil {
		return fmt.Errorf("initialize scheduler: %w", err)
	}
	defer mgr.Dispose()

	// The daemon polls by default; a disabled scheduler stays passive
	// and only serves explicit execution requests.
	if cfg.Scheduler.IsEnabled() {
		mgr.Start()
	}

	// Heartbeat
	hb := heartbeat.NewWriter(config.HeartbeatPath(), func() heartbeat.Snapshot {
		snap := heartbeat.Snapshot{Running: mgr.IsRunning()}
		if m, err := mgr.Metrics(context.Background()); err == nil {
			snap.LastTickAt = m.LastTickAt
		}
		return snap
	})
	hb.Start()
	defer hb.Stop()

	// Gateway server
	server := gateway.NewServer(mgr, bus, history, cfg.Gateway.Host, cfg.Gateway.Port)

	errCh := make(chan error, 1)
	go func() {
		errCh <- server.Start()
	}()

	// Wait for signal or error
	select {
	case <-ctx.Done():
		slog.Info("shutting down...")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	case err := <-errCh:
		return err
	}
}
