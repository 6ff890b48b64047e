package app

import (
	"context"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/dokzlo13/huebridge/internal/config"
)

// App runs the configured bridges until its context ends.
type App struct {
	cfg      *config.Config
	services *Services

	stopOnce sync.Once
	stopErr  error
}

// New opens storage and builds every bridge. Nothing listens until Run.
func New(cfg *config.Config) (*App, error) {
	services, err := NewServices(cfg)
	if err != nil {
		return nil, err
	}
	return &App{cfg: cfg, services: services}, nil
}

// Run starts the bridges, serves until ctx is cancelled and then shuts down.
// A start failure stops whatever was already running.
func (a *App) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	if err := a.services.Start(ctx); err != nil {
		a.Stop()
		return err
	}

	started := time.Now()
	log.Info().
		Int("bridges", len(a.services.Bridges)).
		Bool("mqtt", a.services.Mirror != nil).
		Bool("history", a.services.Ledger != nil).
		Msg("huebridge started")

	<-ctx.Done()

	log.Info().Dur("uptime", time.Since(started)).Msg("Shutting down bridges")
	return a.Stop()
}

// Stop persists and stops every bridge, then closes storage. Safe to call more than once.
func (a *App) Stop() error {
	a.stopOnce.Do(func() {
		if a.services != nil {
			a.stopErr = a.services.Stop()
		}
	})
	return a.stopErr
}

// SignalContext is cancelled on the first SIGINT or SIGTERM. A second signal
// exits immediately, for bridges stuck in a shutdown timeout.
func SignalContext() context.Context {
	ctx, cancel := context.WithCancel(context.Background())

	sigChan := make(chan os.Signal, 2)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		sig := <-sigChan
		log.Warn().Str("signal", sig.String()).Msg("Received shutdown signal")
		cancel()

		sig = <-sigChan
		log.Error().Str("signal", sig.String()).Msg("Second signal, exiting without graceful shutdown")
		os.Exit(1)
	}()

	return ctx
}
