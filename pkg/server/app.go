package server

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	domrepo "ChartFeed/internal/domain/repository"
	"ChartFeed/internal/usecase"
	"ChartFeed/pkg/config"
	xhttp "ChartFeed/pkg/http"
	"ChartFeed/pkg/http/middleware"
	pkgkafka "ChartFeed/pkg/kafka"
	applogger "ChartFeed/pkg/logger"
)

const (
	limiterSweepEvery = time.Minute
	limiterIdle       = 10 * time.Minute
)

// Option configures App.
type Option func(*App)

// WithReloadConsumer subscribes h to reload notices. A nil consumer disables it.
func WithReloadConsumer(c *pkgkafka.Consumer, h pkgkafka.MessageHandler) Option {
	return func(a *App) {
		a.consumer = c
		a.reloads = h
	}
}

func WithPublisher(p domrepo.InvalidationPublisher) Option {
	return func(a *App) { a.publisher = p }
}

// WithRateLimiter lets the app evict idle rate limiter buckets.
func WithRateLimiter(rl *middleware.RateLimiter) Option {
	return func(a *App) { a.limiter = rl }
}

// App encapsulates the application lifecycle.
type App struct {
	cfg       *config.Config
	l         *applogger.Logger
	datasets  *usecase.DatasetService
	server    *xhttp.Server
	consumer  *pkgkafka.Consumer
	reloads   pkgkafka.MessageHandler
	publisher domrepo.InvalidationPublisher
	limiter   *middleware.RateLimiter
}

func New(cfg *config.Config, l *applogger.Logger, datasets *usecase.DatasetService, srv *xhttp.Server, opts ...Option) *App {
	a := &App{cfg: cfg, l: l, datasets: datasets, server: srv}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Run starts every component and blocks until SIGINT or SIGTERM.
func (a *App) Run() error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := a.Start(ctx); err != nil {
		return err
	}
	<-ctx.Done()
	a.l.Info("app.shutdown signal received")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), a.cfg.Server.ShutdownTimeout)
	defer cancel()
	return a.Shutdown(shutdownCtx)
}

// Start loads datasets and brings up the scheduler, consumer and HTTP server.
// A dataset that fails to load is logged; the rest are still served.
func (a *App) Start(ctx context.Context) error {
	if err := a.datasets.LoadAll(ctx); err != nil {
		a.l.Error("app.datasets partial load", applogger.Error(err))
	}
	if len(a.datasets.List()) == 0 {
		return errors.New("no dataset could be loaded")
	}

	if err := a.datasets.StartSchedule(ctx); err != nil {
		return fmt.Errorf("reload schedule: %w", err)
	}

	if a.consumer != nil && a.reloads != nil {
		a.consumer.RegisterHandler(a.reloads)
		if err := a.consumer.Start(ctx); err != nil {
			return fmt.Errorf("kafka consumer: %w", err)
		}
		a.l.Info("app.reload_consumer started", applogger.String("topic", a.reloads.Topic()))
	}

	if a.limiter != nil {
		go a.sweepLimiter(ctx)
	}

	if err := a.server.Start(); err != nil {
		return fmt.Errorf("http server: %w", err)
	}
	a.l.Info("app.started",
		applogger.Int("port", a.cfg.Server.Port),
		applogger.Int("datasets", len(a.datasets.List())),
	)
	return nil
}

// Shutdown stops intake first, then background work, then outbound clients.
func (a *App) Shutdown(ctx context.Context) error {
	var errs []error
	if err := a.server.Stop(ctx); err != nil {
		errs = append(errs, err)
	}
	a.datasets.StopSchedule()
	if a.consumer != nil {
		if err := a.consumer.Stop(ctx); err != nil {
			errs = append(errs, fmt.Errorf("kafka consumer: %w", err))
		}
	}
	if a.publisher != nil {
		if err := a.publisher.Close(); err != nil {
			errs = append(errs, fmt.Errorf("reload publisher: %w", err))
		}
	}

	err := errors.Join(errs...)
	if err != nil {
		a.l.Error("app.shutdown incomplete", applogger.Error(err))
	} else {
		a.l.Info("app.shutdown complete")
	}
	return err
}

func (a *App) sweepLimiter(ctx context.Context) {
	ticker := time.NewTicker(limiterSweepEvery)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n := a.limiter.Sweep(limiterIdle); n > 0 {
				a.l.Debug("ratelimit.sweep", applogger.Int("evicted", n))
			}
		}
	}
}
