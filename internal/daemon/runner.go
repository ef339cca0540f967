// Package daemon implements the main-process event loop.
package daemon

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/mizanapps/salahguard/internal/domain"
	"github.com/mizanapps/salahguard/internal/schedule"
	"github.com/mizanapps/salahguard/internal/scheduler"
	"github.com/mizanapps/salahguard/internal/store"
	"github.com/mizanapps/salahguard/internal/unlock"
)

// RunnerConfig holds the main-process loop intervals.
type RunnerConfig struct {
	ReconcileInterval time.Duration // how often request flags are observed and restrictions swept
	HeartbeatInterval time.Duration // how often liveness is recorded
	RefreshInterval   time.Duration // how often day changes and recompute pokes are checked
	ScheduleWait      time.Duration // cold-start bound on waiting for a usable schedule
}

// DefaultRunnerConfig returns the default loop intervals.
func DefaultRunnerConfig() RunnerConfig {
	return RunnerConfig{
		ReconcileInterval: 5 * time.Second,
		HeartbeatInterval: 30 * time.Second,
		RefreshInterval:   time.Minute,
		ScheduleWait:      10 * time.Second,
	}
}

// Runner is the main process. It owns the in-process triggers and the
// restriction authority; every other execution context only writes
// request flags into the shared store and waits for the runner to
// observe them.
type Runner struct {
	config    RunnerConfig
	scheduler *scheduler.Scheduler
	machine   *unlock.Machine
	cache     *schedule.Cache
	location  domain.LocationProvider
	triggers  domain.TriggerScheduler
	authority domain.RestrictionAuthority
	shared    *store.Shared
	pm        domain.ProcessManager
	logger    *zap.Logger
	now       func() time.Time
}

// NewRunner creates the main-process runner.
func NewRunner(
	config RunnerConfig,
	sched *scheduler.Scheduler,
	machine *unlock.Machine,
	cache *schedule.Cache,
	location domain.LocationProvider,
	triggers domain.TriggerScheduler,
	authority domain.RestrictionAuthority,
	shared *store.Shared,
	pm domain.ProcessManager,
	logger *zap.Logger,
) *Runner {
	return &Runner{
		config:    config,
		scheduler: sched,
		machine:   machine,
		cache:     cache,
		location:  location,
		triggers:  triggers,
		authority: authority,
		shared:    shared,
		pm:        pm,
		logger:    logger,
		now:       time.Now,
	}
}

// WithClock overrides the clock (for tests).
func (r *Runner) WithClock(now func() time.Time) *Runner {
	r.now = now
	return r
}

// Run starts the main loop. Blocks until the context is canceled.
func (r *Runner) Run(ctx context.Context) error {
	pid := r.pm.GetCurrentPID()
	if err := r.shared.RecordHeartbeat(pid, r.now()); err != nil {
		r.logger.Error("failed to record initial heartbeat", zap.Error(err))
		return err
	}

	r.logger.Info("main process started",
		zap.Int("pid", pid),
		zap.Bool("authorized", r.authority.Authorized()))

	// Cold start: give the schedule a bounded head start so today's
	// windows can be armed right away, then proceed regardless.
	if loc, err := r.location.Current(ctx); err == nil {
		if _, err := r.cache.WaitForSchedule(ctx, loc, r.config.ScheduleWait); err != nil {
			r.logger.Warn("no schedule available at startup", zap.Error(err))
		}
	}

	if err := r.scheduler.Recompute(ctx, "startup"); err != nil {
		r.logger.Warn("startup recompute incomplete", zap.Error(err))
	}

	// A previous run may have died mid-window.
	if err := r.machine.Reconcile(ctx); err != nil {
		r.logger.Warn("startup reconcile failed", zap.Error(err))
	}

	reconcileTicker := time.NewTicker(r.config.ReconcileInterval)
	heartbeatTicker := time.NewTicker(r.config.HeartbeatInterval)
	refreshTicker := time.NewTicker(r.config.RefreshInterval)
	defer func() {
		reconcileTicker.Stop()
		heartbeatTicker.Stop()
		refreshTicker.Stop()
	}()

	lastDay := r.now()

	for {
		select {
		case <-ctx.Done():
			r.logger.Info("main process stopping")
			return ctx.Err()

		case ev := <-r.triggers.Events():
			r.logger.Debug("trigger fired", zap.String("id", ev.ID), zap.Time("at", ev.At))
			r.scheduler.HandleTrigger(ctx, ev)

		case <-reconcileTicker.C:
			r.reconcile(ctx)

		case <-heartbeatTicker.C:
			if err := r.shared.RecordHeartbeat(pid, r.now()); err != nil {
				r.logger.Warn("failed to record heartbeat", zap.Error(err))
			}

		case <-refreshTicker.C:
			lastDay = r.refresh(ctx, lastDay)
		}
	}
}

// reconcile observes request flags written by the other execution
// contexts and sweeps the active restriction.
func (r *Runner) reconcile(ctx context.Context) {
	if err := r.machine.Reconcile(ctx); err != nil {
		r.logger.Warn("reconcile failed", zap.Error(err))
	}

	// Apps relaunched after the initial kill are swept for as long as a
	// restriction is in force.
	if r.shared.AppsActuallyBlocked() {
		if err := r.authority.Enforce(ctx); err != nil {
			r.logger.Warn("restriction sweep failed", zap.Error(err))
		}
	}
}

// refresh handles the slow-path events: calendar day rollover and
// cross-process recompute requests.
func (r *Runner) refresh(ctx context.Context, lastDay time.Time) time.Time {
	now := r.now()

	if !sameDay(lastDay, now) {
		r.logger.Info("calendar day changed",
			zap.String("from", lastDay.Format("2006-01-02")),
			zap.String("to", now.Format("2006-01-02")))
		if err := r.scheduler.Recompute(ctx, "day changed"); err != nil {
			r.logger.Warn("day-change recompute incomplete", zap.Error(err))
		}
		return now
	}

	if r.shared.RecomputeRequested() {
		if err := r.shared.ClearRecomputeRequested(); err != nil {
			r.logger.Warn("failed to clear recompute request", zap.Error(err))
		}
		if err := r.scheduler.Recompute(ctx, "requested"); err != nil {
			r.logger.Warn("requested recompute incomplete", zap.Error(err))
		}
	}
	return lastDay
}

func sameDay(a, b time.Time) bool {
	ay, am, ad := a.Date()
	by, bm, bd := b.Date()
	return ay == by && am == bm && ad == bd
}
