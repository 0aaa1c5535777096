// Package app wires the service together: store, queue, gateway,
// engine, worker, retention and the HTTP surface.
package app

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/joho/godotenv"

	"formflow/internal/retention"
	"formflow/pkg/auth"
	"formflow/pkg/config"
	"formflow/pkg/engine"
	"formflow/pkg/gateway"
	"formflow/pkg/models"
	"formflow/pkg/progressor"
	"formflow/pkg/queue"
	"formflow/pkg/sensor"
	"formflow/pkg/state"
	"formflow/pkg/store"
	"formflow/pkg/worker"
)

const sensorInterval = 30 * time.Second

// App encapsulates the server components and lifecycle.
type App struct {
	eff       config.EffectiveConfigResult
	version   string
	commit    string
	buildDate string

	q   queue.Queue
	wrk *worker.Worker
	eng *engine.Engine
	sns *sensor.Sensor

	retCancel context.CancelFunc
	srv       *http.Server
}

// New initializes resources that do not require a running context (DB,
// queue, engine, worker). It does not start the worker, retention or
// the HTTP server; call Run to start those and block until shutdown.
func New(eff config.EffectiveConfigResult, version, commit, buildDate string) (*App, error) {
	_ = godotenv.Load(".env")

	if err := validateConfig(eff); err != nil {
		return nil, err
	}
	cfg := eff.Config

	dirs := []string{eff.DBPath}
	if cfg.Queue.Durable {
		dirs = append(dirs, cfg.QueueDir())
	}
	if err := state.EnsureStateDirs(dirs...); err != nil {
		return nil, err
	}

	if err := store.Open(eff.DBPath); err != nil {
		return nil, fmt.Errorf("failed to open pebble at %s: %w", eff.DBPath, err)
	}

	if _, err := progressor.Run(context.Background(), version); err != nil {
		return nil, fmt.Errorf("migration failed: %w", err)
	}

	var q queue.Queue
	if cfg.Queue.Durable {
		pq, err := queue.OpenPebble(cfg.QueueDir())
		if err != nil {
			return nil, fmt.Errorf("failed to open queue at %s: %w", cfg.QueueDir(), err)
		}
		q = pq
	} else {
		q = queue.NewMemory()
	}

	sender := gateway.New(gateway.Options{
		BaseURL:       cfg.WhatsApp.APIURL,
		PhoneNumberID: cfg.WhatsApp.PhoneNumberID,
		Token:         cfg.WhatsApp.AccessToken,
		RatePerSec:    cfg.WhatsApp.SendRPS,
	})
	eng := engine.New(sender, engine.Options{MaxButtons: cfg.WhatsApp.MaxButtons})

	wrk := worker.New(q, func(ctx context.Context, msg *models.QueuedMessage) error {
		return processMessage(ctx, eng, msg)
	}, worker.Options{
		PollInterval:   cfg.Queue.PollInterval.Duration(),
		MaxRetries:     cfg.Queue.MaxRetries,
		RetryDelay:     cfg.Queue.RetryDelay.Duration(),
		ProcessTimeout: cfg.Queue.ProcessTimeout.Duration(),
	})

	return &App{
		eff:       eff,
		version:   version,
		commit:    commit,
		buildDate: buildDate,
		q:         q,
		wrk:       wrk,
		eng:       eng,
		sns:       sensor.NewSensor(sensorInterval),
	}, nil
}

// Run starts the worker, retention and the HTTP server, and blocks
// until ctx is canceled or a fatal server error occurs.
func (a *App) Run(ctx context.Context) error {
	if err := a.wrk.Start(ctx); err != nil {
		return err
	}
	a.sns.Start()

	retCancel, err := retention.Start(ctx, retention.Options{
		Enabled:    a.eff.Config.Retention.Enabled,
		Cron:       a.eff.Config.Retention.Cron,
		IdlePeriod: a.eff.Config.Retention.IdlePeriod.Duration(),
	})
	if err != nil {
		return err
	}
	a.retCancel = retCancel

	a.printBanner()

	errCh := a.startHTTP(ctx)

	select {
	case <-ctx.Done():
		a.shutdown()
		return nil
	case err := <-errCh:
		a.shutdown()
		return err
	}
}

// shutdown stops components in dependency order: no new HTTP intake,
// then the consumer, then storage.
func (a *App) shutdown() {
	if a.srv != nil {
		sctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		_ = a.srv.Shutdown(sctx)
		cancel()
	}
	if a.retCancel != nil {
		a.retCancel()
	}
	a.wrk.Stop()
	a.sns.Stop()
	_ = a.q.Close()
	_ = store.Close()
}

// secConfig builds the auth configuration from the effective config.
func (a *App) secConfig() auth.SecConfig {
	sec := auth.SecConfig{
		RPS:         a.eff.Config.Security.RateLimit.RPS,
		Burst:       a.eff.Config.Security.RateLimit.Burst,
		BackendKeys: map[string]struct{}{},
	}
	for _, k := range a.eff.Config.Security.APIKeys.Backend {
		sec.BackendKeys[k] = struct{}{}
	}
	return sec
}

// validateConfig rejects configurations that cannot serve traffic.
func validateConfig(eff config.EffectiveConfigResult) error {
	if eff.DBPath == "" {
		return fmt.Errorf("db path is required (use --db, storage.db_path or FORMFLOW_DB_PATH)")
	}
	cfg := eff.Config
	if cfg == nil {
		return fmt.Errorf("no configuration resolved")
	}
	if cfg.Queue.MaxRetries < 0 {
		return fmt.Errorf("queue.max_retries must be >= 0")
	}
	if cfg.WhatsApp.MaxButtons > 3 {
		return fmt.Errorf("whatsapp.max_buttons cannot exceed the provider limit of 3")
	}
	return nil
}
