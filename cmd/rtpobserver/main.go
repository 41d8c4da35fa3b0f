package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"time"

	"github.com/spf13/pflag"
	"golang.org/x/sync/errgroup"

	"github.com/clawinfra/rtpobserver/internal/config"
)

var (
	version   = "0.1.0"
	buildTime = "unknown"
)

const configPollInterval = 5 * time.Second

func main() {
	os.Exit(run(os.Args[1:], os.Stdout))
}

func run(args []string, stdout io.Writer) int {
	fs := pflag.NewFlagSet("rtpobserver", pflag.ContinueOnError)
	configPath := fs.StringP("config", "c", "rtpobserver.json", "Path to config file (.json, .toml, .yaml)")
	logLevel := fs.String("log-level", "", "Override server.logLevel (debug, info, warn, error)")
	showVersion := fs.BoolP("version", "v", false, "Show version")
	if err := fs.Parse(args); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return 0
		}
		fmt.Fprintf(os.Stderr, "Error parsing arguments: %v\n", err)
		return 2
	}

	if *showVersion {
		fmt.Fprintf(stdout, "rtpobserver v%s (built %s)\n", version, buildTime)
		return 0
	}

	app, err := setup(*configPath, *logLevel, stdout)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Setup failed: %v\n", err)
		return 1
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := app.Start(ctx); err != nil {
		app.Logger.Error("failed to start", "error", err)
		app.Shutdown()
		return 1
	}

	if err := serve(ctx, app); err != nil {
		app.Logger.Error("shutdown error", "error", err)
		return 1
	}
	return 0
}

// serve runs the background services until a shutdown signal arrives.
func serve(ctx context.Context, app *App) error {
	g, ctx := errgroup.WithContext(ctx)

	watcher := config.NewWatcher(app.ConfigPath, configPollInterval, app.Logger, app.Reload)
	g.Go(func() error { return watcher.Run(ctx) })

	if app.Retention != nil {
		g.Go(func() error { return app.Retention.Run(ctx) })
	}

	g.Go(func() error { return waitForShutdown(ctx, app) })
	g.Go(func() error { return watchWorker(ctx, app) })

	err := g.Wait()
	app.Shutdown()
	if errors.Is(err, errShutdown) {
		return nil
	}
	return err
}

// waitForShutdown waits for termination signal and returns errShutdown so
// the errgroup cancels the other services.
func waitForShutdown(ctx context.Context, app *App) error {
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, getShutdownSignals()...)
	defer signal.Stop(sigCh)

	for {
		select {
		case <-ctx.Done():
			return nil
		case sig := <-sigCh:
			// Handle platform-specific signals (SIGHUP on Unix)
			if handlePlatformSignal(sig, app) {
				continue
			}
			app.Logger.Info("shutdown signal received", "signal", sig)
			return errShutdown
		}
	}
}

// watchWorker closes the router once the worker channel is gone and
// returns errWorkerClosed so the process exits non-zero.
func watchWorker(ctx context.Context, app *App) error {
	select {
	case <-ctx.Done():
		return nil
	case <-app.Transport.Done():
		app.Logger.Error("worker channel closed", "transport", app.Transport.Name())
		app.Router.WorkerClosed()
		return errWorkerClosed
	}
}

var (
	errShutdown     = errors.New("shutdown requested")
	errWorkerClosed = errors.New("worker channel closed")
)

// parseLogLevel converts string log level to slog.Level
func parseLogLevel(level string) slog.Level {
	switch level {
	case "debug":
		return slog.LevelDebug
	case "info":
		return slog.LevelInfo
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
