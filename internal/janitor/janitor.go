// Copyright 2025 James Ross

// Package janitor runs the periodic maintenance sweeps the rest of the
// system relies on but never drives itself: rate-limiter window eviction
// and event-bus outbox drain. Scheduled with
// robfig/cron/v3, grounded on the teacher's cron.Parser usage in
// internal/calendar-view/validator.go, extended here from parsing-only to
// an actual running scheduler.
package janitor

import (
	"context"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"github.com/fleetctl/workload-controller/internal/ratelimit"
)

// Drainer is the narrow surface the janitor needs from the event bus
// publisher to recover events that failed their immediate publish.
type Drainer interface {
	Drain(ctx context.Context, batch int) (int, error)
}

// Config controls what the janitor sweeps and how often.
type Config struct {
	SweepCron         string
	RateLimiter       *ratelimit.Limiter
	RateLimitMaxTTL   time.Duration
	Drainer           Drainer
	DrainBatch        int
}

// Janitor wraps a cron.Cron instance running the configured sweeps.
type Janitor struct {
	cron *cron.Cron
	log  *zap.Logger
	cfg  Config
}

func New(cfg Config, log *zap.Logger) (*Janitor, error) {
	c := cron.New()
	j := &Janitor{cron: c, log: log, cfg: cfg}
	if _, err := c.AddFunc(cfg.SweepCron, j.sweep); err != nil {
		return nil, err
	}
	return j, nil
}

func (j *Janitor) Start() { j.cron.Start() }

func (j *Janitor) Stop(ctx context.Context) {
	<-j.cron.Stop().Done()
}

// sweep runs one maintenance pass. Rate-limiter eviction is opportunistic
// by design per the rate limiter's own Sweep contract; this just gives it
// a steady cadence instead of relying solely on access-triggered cleanup.
func (j *Janitor) sweep() {
	if j.cfg.RateLimiter != nil && j.cfg.RateLimitMaxTTL > 0 {
		evicted := j.cfg.RateLimiter.Sweep(j.cfg.RateLimitMaxTTL)
		if evicted > 0 {
			j.log.Debug("janitor: swept rate limiter windows", zap.Int("evicted", evicted))
		}
	}
	if j.cfg.Drainer != nil {
		n, err := j.cfg.Drainer.Drain(context.Background(), j.cfg.DrainBatch)
		if err != nil {
			j.log.Warn("janitor: outbox drain failed", zap.Error(err))
		} else if n > 0 {
			j.log.Info("janitor: drained outbox events", zap.Int("count", n))
		}
	}
}
