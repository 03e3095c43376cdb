package server

import (
	"context"
	"errors"
	"fmt"
	"os/signal"
	"syscall"
	"time"

	xhttp "ProxyTrader/pkg/http"
	"ProxyTrader/pkg/logger"
)

// Runner is the long-running workload of the process: a live session or a
// finite replay.
type Runner interface {
	Run(ctx context.Context) error
}

// App owns the process lifecycle. It runs the workload next to the optional
// HTTP server and stops both on SIGINT/SIGTERM, on a listener failure, or
// when the workload returns.
type App struct {
	runner          Runner
	http            *xhttp.Server
	log             *logger.Logger
	shutdownTimeout time.Duration
}

// New creates an App. httpServer may be nil.
func New(runner Runner, httpServer *xhttp.Server, log *logger.Logger, shutdownTimeout time.Duration) *App {
	if log == nil {
		log = logger.NewNop()
	}
	if shutdownTimeout <= 0 {
		shutdownTimeout = 10 * time.Second
	}
	return &App{
		runner:          runner,
		http:            httpServer,
		log:             log.Component("app"),
		shutdownTimeout: shutdownTimeout,
	}
}

// Run blocks until the workload ends or the process is asked to stop.
func (a *App) Run(ctx context.Context) error {
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var httpErrs <-chan error
	if a.http != nil {
		if err := a.http.Start(); err != nil {
			return fmt.Errorf("start http: %w", err)
		}
		httpErrs = a.http.Errors()
	}

	runErr := make(chan error, 1)
	go func() { runErr <- a.runner.Run(ctx) }()

	var err error
	select {
	case err = <-runErr:
		if err == nil {
			a.log.Info("workload finished")
		}
	case <-ctx.Done():
		a.log.Info("shutdown signal received")
		err = a.wait(runErr)
	case herr := <-httpErrs:
		stop()
		err = errors.Join(fmt.Errorf("http server: %w", herr), a.wait(runErr))
	}

	if a.http != nil {
		sctx, cancel := context.WithTimeout(context.Background(), a.shutdownTimeout)
		if serr := a.http.Stop(sctx); serr != nil {
			a.log.Error("http shutdown", logger.Error(serr))
		}
		cancel()
	}
	if errors.Is(err, context.Canceled) {
		err = nil
	}
	if err != nil {
		a.log.Error("stopped with error", logger.Error(err))
		return err
	}
	a.log.Info("shutdown complete")
	return nil
}

// wait gives the workload the shutdown timeout to unwind after ctx ended.
func (a *App) wait(runErr <-chan error) error {
	t := time.NewTimer(a.shutdownTimeout)
	defer t.Stop()
	select {
	case err := <-runErr:
		return err
	case <-t.C:
		return fmt.Errorf("workload did not stop within %s", a.shutdownTimeout)
	}
}
