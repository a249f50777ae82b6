package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/urfave/cli/v3"

	"github.com/desertthunder/auxfm/internal/coordinator"
	"github.com/desertthunder/auxfm/internal/repositories"
	"github.com/desertthunder/auxfm/internal/scheduler"
	"github.com/desertthunder/auxfm/internal/server"
	"github.com/desertthunder/auxfm/internal/services"
	"github.com/desertthunder/auxfm/internal/shared"
)

const shutdownTimeout = 10 * time.Second

// Serve wires the full service and runs it until interrupted: store,
// Spotify client, coordinator, scheduler (with timer recovery), HTTP API.
func (r *Runner) Serve(ctx context.Context, cmd *cli.Command) error {
	config := r.loadConfig(cmd.String("config"))

	db, err := shared.NewDatabase(config.Database.Driver, config.Database.DSN)
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}
	defer db.Close()
	shared.ConfigureDatabase(db, config.Database.MaxOpenConns, config.Database.MaxIdleConns)

	if err := repositories.Migrate(ctx, db); err != nil {
		return fmt.Errorf("failed to migrate: %w", err)
	}

	player, err := services.NewSpotifyService(config.Credentials.Spotify)
	if err != nil {
		return err
	}

	repo := repositories.NewSessionRepository(db)
	guard := coordinator.NewCredentialGuard(player)
	sched := scheduler.New(repo, player, config.Radio, shared.WithLogger(r.logger, "component", "scheduler"))
	coord := coordinator.New(repo, player, guard, sched, shared.WithLogger(r.logger, "component", "coordinator"))
	sched.Bind(coord)

	if err := sched.RecoverAll(ctx); err != nil {
		return fmt.Errorf("failed to recover playback timers: %w", err)
	}

	srv := server.New(config, coord, player, shared.WithLogger(r.logger, "component", "http"))

	errCh := make(chan error, 1)
	go func() { errCh <- srv.Start() }()

	if cmd.Bool("open") {
		url := fmt.Sprintf("http://%s:%d/auth/login", config.Server.Host, config.Server.Port)
		if err := shared.OpenBrowser(url); err != nil {
			r.logger.Warn("failed to open browser", "url", url, "error", err)
		}
	}

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)

	select {
	case err := <-errCh:
		sched.Shutdown()
		return err
	case sig := <-stop:
		r.logger.Info("shutting down", "signal", sig)
	}

	sched.Shutdown()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}
