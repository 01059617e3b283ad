package main

import (
	"context"
	"errors"
	"io"
	"testing"
	"time"

	"github.com/angelmondragon/notifyhub/pkg/logger"
)

type stubPinger struct{ err error }

func (s stubPinger) Ping(context.Context) error { return s.err }

type stubRunner struct {
	run func(ctx context.Context) error
}

func (s stubRunner) Run(ctx context.Context) error { return s.run(ctx) }

func testLogger() *logger.Logger {
	return logger.New(logger.Options{ServiceName: "worker-test", Output: io.Discard})
}

func TestNewServiceRequiresDependencies(t *testing.T) {
	if _, err := NewService(ServiceParams{Logger: testLogger()}); err == nil {
		t.Fatal("expected error for missing dependencies")
	}
}

func TestRunFailsWhenDependencyDown(t *testing.T) {
	started := false
	svc, err := NewService(ServiceParams{
		Logger: testLogger(),
		DB:     stubPinger{},
		Redis:  stubPinger{err: errors.New("refused")},
		Bus:    stubPinger{},
		Ingestion: stubRunner{run: func(ctx context.Context) error {
			started = true
			return nil
		}},
	})
	if err != nil {
		t.Fatalf("new service: %v", err)
	}
	if err := svc.Run(context.Background()); err == nil {
		t.Fatal("expected readiness failure")
	}
	if started {
		t.Fatal("ingestion must not start before dependencies are ready")
	}
}

func TestRunStopsOnCancel(t *testing.T) {
	svc, err := NewService(ServiceParams{
		Logger:    testLogger(),
		DB:        stubPinger{},
		Redis:     stubPinger{},
		Bus:       stubPinger{},
		Heartbeat: 10 * time.Millisecond,
		Ingestion: stubRunner{run: func(ctx context.Context) error {
			<-ctx.Done()
			return ctx.Err()
		}},
	})
	if err != nil {
		t.Fatalf("new service: %v", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	if err := svc.Run(ctx); !errors.Is(err, context.DeadlineExceeded) && !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context error, got %v", err)
	}
}

func TestRunSurfacesIngestionFailure(t *testing.T) {
	boom := errors.New("subscription deleted")
	svc, _ := NewService(ServiceParams{
		Logger:    testLogger(),
		DB:        stubPinger{},
		Redis:     stubPinger{},
		Bus:       stubPinger{},
		Ingestion: stubRunner{run: func(context.Context) error { return boom }},
	})
	if err := svc.Run(context.Background()); !errors.Is(err, boom) {
		t.Fatalf("expected ingestion error, got %v", err)
	}
}
