// Package reminder runs the two proactive tasks: the daily digest and the
// pre-event sweep. They share nothing but the store; the sweep's conditional
// marker write is what keeps reminders exactly-once across ticks and
// restarts.
package reminder

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/basket/minder/internal/notify"
	"github.com/basket/minder/internal/otel"
	"github.com/basket/minder/internal/persistence"
)

// Config tunes the engine.
type Config struct {
	// DigestCron is a 5-field cron expression for the daily digest.
	DigestCron string

	// SweepInterval is the pre-event sweep tick period.
	SweepInterval time.Duration

	// DefaultWindow is the minimum sweep look-ahead when no owner has a
	// larger reminder offset configured.
	DefaultWindow time.Duration
}

// Engine owns the digest and sweep goroutines. Start launches them, Stop
// waits for them to drain. An Engine is single-use.
type Engine struct {
	store    *persistence.Store
	notifier notify.Notifier
	logger   *slog.Logger
	metrics  *otel.Metrics
	cfg      Config

	schedule cron.Schedule

	mu      sync.Mutex
	started bool
	stop    chan struct{}
	wg      sync.WaitGroup

	now func() time.Time
}

func NewEngine(store *persistence.Store, notifier notify.Notifier, logger *slog.Logger, metrics *otel.Metrics, cfg Config) (*Engine, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.DigestCron == "" {
		cfg.DigestCron = "0 8 * * *"
	}
	if cfg.SweepInterval <= 0 {
		cfg.SweepInterval = time.Minute
	}
	if cfg.DefaultWindow <= 0 {
		cfg.DefaultWindow = time.Hour
	}
	schedule, err := cron.ParseStandard(cfg.DigestCron)
	if err != nil {
		return nil, fmt.Errorf("parse digest cron %q: %w", cfg.DigestCron, err)
	}
	return &Engine{
		store:    store,
		notifier: notifier,
		logger:   logger,
		metrics:  metrics,
		cfg:      cfg,
		schedule: schedule,
		stop:     make(chan struct{}),
		now:      time.Now,
	}, nil
}

func (e *Engine) Start(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.started {
		return fmt.Errorf("reminder engine already started")
	}
	e.started = true

	e.wg.Add(2)
	go e.digestLoop(ctx)
	go e.sweepLoop(ctx)
	e.logger.Info("reminder engine started",
		"digest_cron", e.cfg.DigestCron,
		"sweep_interval", e.cfg.SweepInterval.String())
	return nil
}

// Stop signals both loops and blocks until they exit.
func (e *Engine) Stop() {
	e.mu.Lock()
	if !e.started {
		e.mu.Unlock()
		return
	}
	select {
	case <-e.stop:
	default:
		close(e.stop)
	}
	e.mu.Unlock()
	e.wg.Wait()
	e.logger.Info("reminder engine stopped")
}

func (e *Engine) digestLoop(ctx context.Context) {
	defer e.wg.Done()
	for {
		next := e.schedule.Next(e.now())
		timer := time.NewTimer(next.Sub(e.now()))
		select {
		case <-e.stop:
			timer.Stop()
			return
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
			if sent, err := e.RunDigest(ctx, e.now()); err != nil {
				e.logger.Error("digest run failed", "error", err)
			} else if sent > 0 {
				e.logger.Info("digest run complete", "sent", sent)
			}
		}
	}
}

func (e *Engine) sweepLoop(ctx context.Context) {
	defer e.wg.Done()
	ticker := time.NewTicker(e.cfg.SweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-e.stop:
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
			start := e.now()
			sent, err := e.RunSweep(ctx, start)
			if e.metrics != nil {
				e.metrics.SweepDuration.Record(ctx, e.now().Sub(start).Seconds())
			}
			if err != nil {
				e.logger.Error("sweep run failed", "error", err)
			} else if sent > 0 {
				e.logger.Info("sweep run complete", "sent", sent)
			}
		}
	}
}
