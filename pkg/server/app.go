package server

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	xhttp "FinScreen/pkg/http"
	applogger "FinScreen/pkg/logger"

	"golang.org/x/sync/errgroup"
)

// Pipeline is the long-running part of the application.
type Pipeline interface {
	Run(ctx context.Context) error
}

type closer struct {
	name string
	fn   func() error
}

// App encapsulates the entire application lifecycle.
type App struct {
	log        *applogger.Logger
	pipeline   Pipeline
	httpServer *xhttp.Server
	closers    []closer
}

// New creates a new App instance with all dependencies.
func New(log *applogger.Logger, pipeline Pipeline, httpServer *xhttp.Server) *App {
	if log == nil {
		log = applogger.Nop()
	}
	return &App{
		log:        log,
		pipeline:   pipeline,
		httpServer: httpServer,
	}
}

// AddCloser registers a resource released on shutdown. Closers run in
// registration order.
func (a *App) AddCloser(name string, fn func() error) {
	a.closers = append(a.closers, closer{name: name, fn: fn})
}

// Run starts the application and blocks until interrupted.
func (a *App) Run() error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	return a.RunContext(ctx)
}

// RunContext runs the pipeline and the HTTP server until ctx is cancelled or
// either of them fails, then releases every registered resource.
func (a *App) RunContext(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		if err := a.pipeline.Run(gctx); err != nil {
			return fmt.Errorf("pipeline: %w", err)
		}
		return nil
	})
	if a.httpServer != nil {
		g.Go(func() error { return a.httpServer.Run(gctx) })
	}

	err := g.Wait()
	if err != nil && !errors.Is(err, context.Canceled) {
		a.log.Error("application stopped with error", applogger.Error(err))
	} else {
		err = nil
	}

	a.log.Info("shutting down")
	a.shutdown()
	return err
}

func (a *App) shutdown() {
	for _, c := range a.closers {
		if err := c.fn(); err != nil {
			a.log.Warn("close failed", applogger.String("resource", c.name), applogger.Error(err))
		}
	}
	a.log.Info("shutdown complete")
}
