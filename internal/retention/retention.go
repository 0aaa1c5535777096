// Package retention sweeps stale sessions. Respondents who stop
// answering leave in_progress sessions behind; the sweeper marks them
// abandoned once they have been idle past the configured period, which
// also frees the (form, phone) slot for a fresh start.
package retention

import (
	"context"
	"fmt"
	"time"

	"github.com/adhocore/gronx"

	"formflow/pkg/logger"
	"formflow/pkg/models"
	"formflow/pkg/store"
)

// Options configures the sweeper.
type Options struct {
	Enabled bool
	// Cron controls sweep scheduling; empty means every 30 minutes.
	Cron string
	// IdlePeriod is how long an in_progress session may sit without
	// activity before it is abandoned.
	IdlePeriod time.Duration
}

const (
	defaultCron       = "*/30 * * * *"
	defaultIdlePeriod = 24 * time.Hour
)

// Start launches the sweep scheduler if enabled. Returns a cancel func.
func Start(ctx context.Context, opts Options) (context.CancelFunc, error) {
	if !opts.Enabled {
		logger.Info("retention_disabled")
		return func() {}, nil
	}
	cronExpr := opts.Cron
	if cronExpr == "" {
		cronExpr = defaultCron
	}
	if !gronx.IsValid(cronExpr) {
		logger.Error("retention_invalid_cron", "cron", cronExpr)
		return nil, fmt.Errorf("invalid retention cron expression: %s", cronExpr)
	}
	idle := opts.IdlePeriod
	if idle <= 0 {
		idle = defaultIdlePeriod
	}

	logger.Info("retention_enabled", "cron", cronExpr, "idle_period", idle.String())
	ctx2, cancel := context.WithCancel(ctx)
	go runScheduler(ctx2, cronExpr, idle)
	return cancel, nil
}

// runScheduler computes the next cron tick with gronx and sleeps until
// then; full cron syntax is supported.
func runScheduler(ctx context.Context, cronExpr string, idle time.Duration) {
	for {
		select {
		case <-ctx.Done():
			logger.Info("retention_scheduler_stopping")
			return
		default:
		}

		now := time.Now().UTC()
		next, err := gronx.NextTickAfter(cronExpr, now, false)
		if err != nil {
			logger.Error("retention_nexttick_failed", "cron", cronExpr, "error", err)
			select {
			case <-time.After(30 * time.Second):
			case <-ctx.Done():
				return
			}
			continue
		}

		select {
		case <-time.After(time.Until(next)):
			if n, err := SweepOnce(idle, time.Now()); err != nil {
				logger.Error("retention_run_error", "error", err)
			} else if n > 0 {
				logger.Info("retention_swept", "abandoned", n)
			}
		case <-ctx.Done():
			logger.Info("retention_scheduler_stopping")
			return
		}
	}
}

// SweepOnce abandons every in_progress session idle past the period.
// Exported so tests and admin triggers can run a sweep on demand.
func SweepOnce(idle time.Duration, now time.Time) (int, error) {
	sessions, err := store.ListSessions(models.StatusInProgress)
	if err != nil {
		return 0, err
	}
	cutoff := now.Add(-idle).UnixNano()
	swept := 0
	for _, s := range sessions {
		if s.LastActivityTS >= cutoff {
			continue
		}
		if err := store.AbandonSession(s.ID); err != nil {
			logger.Error("retention_abandon_failed", "session", s.ID, "error", err)
			continue
		}
		logger.Info("session_abandoned", "session", s.ID, "form", s.FormKey)
		swept++
	}
	return swept, nil
}
