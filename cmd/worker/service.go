package main

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/angelmondragon/notifyhub/pkg/logger"
)

const heartbeatInterval = 30 * time.Second

// Pinger is a dependency checked before the worker starts consuming.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Runner is a blocking loop the worker supervises.
type Runner interface {
	Run(ctx context.Context) error
}

type ServiceParams struct {
	Logger    *logger.Logger
	DB        Pinger
	Redis     Pinger
	Bus       Pinger
	Ingestion Runner
	Heartbeat time.Duration
}

// Service runs the ingestion consumers on an instance that holds no live
// connections. Every delivery it decides is either routed or queued offline.
type Service struct {
	logg      *logger.Logger
	deps      []namedPinger
	ingestion Runner
	heartbeat time.Duration
}

type namedPinger struct {
	name   string
	pinger Pinger
}

func NewService(params ServiceParams) (*Service, error) {
	if params.Logger == nil {
		return nil, errors.New("logger is required")
	}
	if params.DB == nil {
		return nil, errors.New("database client is required")
	}
	if params.Redis == nil {
		return nil, errors.New("redis client is required")
	}
	if params.Bus == nil {
		return nil, errors.New("bus is required")
	}
	if params.Ingestion == nil {
		return nil, errors.New("ingestion consumer is required")
	}
	heartbeat := params.Heartbeat
	if heartbeat <= 0 {
		heartbeat = heartbeatInterval
	}
	return &Service{
		logg: params.Logger,
		deps: []namedPinger{
			{name: "database", pinger: params.DB},
			{name: "redis", pinger: params.Redis},
			{name: "bus", pinger: params.Bus},
		},
		ingestion: params.Ingestion,
		heartbeat: heartbeat,
	}, nil
}

func (s *Service) ensureReadiness(ctx context.Context) error {
	for _, dep := range s.deps {
		if err := pingDependency(ctx, s.logg, dep.name, dep.pinger.Ping); err != nil {
			return err
		}
	}
	s.logg.Info(ctx, "all worker dependencies are ready")
	return nil
}

func pingDependency(ctx context.Context, logg *logger.Logger, name string, fn func(context.Context) error) error {
	if err := fn(ctx); err != nil {
		logg.Error(ctx, fmt.Sprintf("%s ping failed", name), err)
		return fmt.Errorf("%s ping failed: %w", name, err)
	}
	return nil
}

func (s *Service) Run(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}

	if err := s.ensureReadiness(ctx); err != nil {
		return err
	}

	ticker := time.NewTicker(s.heartbeat)
	defer ticker.Stop()
	errCh := make(chan error, 1)
	go func() {
		errCh <- s.ingestion.Run(ctx)
	}()

	for {
		select {
		case <-ctx.Done():
			s.logg.Info(ctx, "worker context canceled")
			return ctx.Err()
		case err := <-errCh:
			if err != nil && !errors.Is(err, context.Canceled) {
				s.logg.Error(ctx, "ingestion stopped unexpectedly", err)
				return err
			}
			return err
		case <-ticker.C:
			s.logg.Debug(ctx, "worker.heartbeat")
		}
	}
}
