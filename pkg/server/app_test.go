package server

import (
	"context"
	"errors"
	"testing"
	"time"

	applogger "FinScreen/pkg/logger"
)

type pipelineFunc func(ctx context.Context) error

func (f pipelineFunc) Run(ctx context.Context) error { return f(ctx) }

func TestRunContextClosesResourcesInOrder(t *testing.T) {
	ctx, cancel := context.WithCancel(t.Context())
	started := make(chan struct{})
	app := New(applogger.Nop(), pipelineFunc(func(ctx context.Context) error {
		close(started)
		<-ctx.Done()
		return nil
	}), nil)

	var order []string
	app.AddCloser("publisher", func() error { order = append(order, "publisher"); return nil })
	app.AddCloser("archive", func() error { order = append(order, "archive"); return errors.New("boom") })
	app.AddCloser("logger", func() error { order = append(order, "logger"); return nil })

	done := make(chan error, 1)
	go func() { done <- app.RunContext(ctx) }()
	<-started
	cancel()

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("app did not stop")
	}
	if len(order) != 3 || order[0] != "publisher" || order[1] != "archive" || order[2] != "logger" {
		t.Fatalf("unexpected close order: %v", order)
	}
}

func TestRunContextReturnsPipelineFailure(t *testing.T) {
	fatal := errors.New("feed gone")
	app := New(applogger.Nop(), pipelineFunc(func(context.Context) error { return fatal }), nil)
	closed := false
	app.AddCloser("cache", func() error { closed = true; return nil })

	err := app.RunContext(t.Context())
	if !errors.Is(err, fatal) {
		t.Fatalf("expected pipeline error, got %v", err)
	}
	if !closed {
		t.Fatalf("expected closers to run after failure")
	}
}
