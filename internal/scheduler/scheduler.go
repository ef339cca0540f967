package scheduler

import (
	"context"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/mizanapps/salahguard/internal/domain"
	"github.com/mizanapps/salahguard/internal/schedule"
	"github.com/mizanapps/salahguard/internal/store"
)

// Trigger ID prefixes. One window arms two triggers.
const (
	startPrefix = "start:"
	endPrefix   = "end:"
)

// WindowLifecycle receives the window start/end transitions. Implemented
// by the early-unlock state machine; the scheduler never touches the
// runtime record directly.
type WindowLifecycle interface {
	OnWindowStart(ctx context.Context, w domain.BlockingWindow) error
	OnWindowEnd(ctx context.Context, w domain.BlockingWindow) error
	OnRecompute(ctx context.Context) error
}

// Scheduler is the control-loop core. Every trigger (location update,
// cache refresh, config change, foreground after a day away) causes a
// total recomputation, never an incremental patch.
type Scheduler struct {
	cache        *schedule.Cache
	shared       *store.Shared
	location     domain.LocationProvider
	triggers     domain.TriggerScheduler
	authority    domain.RestrictionAuthority
	entitlements domain.Entitlements
	lifecycle    WindowLifecycle
	logger       *zap.Logger
	now          func() time.Time

	mu      sync.Mutex
	running bool
	pending bool
}

// New creates the blocking window scheduler.
func New(
	cache *schedule.Cache,
	shared *store.Shared,
	location domain.LocationProvider,
	triggers domain.TriggerScheduler,
	authority domain.RestrictionAuthority,
	entitlements domain.Entitlements,
	lifecycle WindowLifecycle,
	logger *zap.Logger,
) *Scheduler {
	return &Scheduler{
		cache:        cache,
		shared:       shared,
		location:     location,
		triggers:     triggers,
		authority:    authority,
		entitlements: entitlements,
		lifecycle:    lifecycle,
		logger:       logger,
		now:          time.Now,
	}
}

// WithClock overrides the clock (for tests).
func (s *Scheduler) WithClock(now func() time.Time) *Scheduler {
	s.now = now
	return s
}

// Recompute runs a total recomputation. Recomputes are totally ordered:
// one in flight queues a follow-up rather than running concurrently or
// cancelling anything. Safe to invoke repeatedly.
func (s *Scheduler) Recompute(ctx context.Context, reason string) error {
	s.mu.Lock()
	if s.running {
		s.pending = true
		s.mu.Unlock()
		s.logger.Debug("recompute in flight, queued follow-up", zap.String("reason", reason))
		return nil
	}
	s.running = true
	s.mu.Unlock()

	err := s.recompute(ctx, reason)

	s.mu.Lock()
	s.running = false
	rerun := s.pending
	s.pending = false
	s.mu.Unlock()

	if rerun {
		return s.Recompute(ctx, "queued follow-up")
	}
	return err
}

func (s *Scheduler) recompute(ctx context.Context, reason string) error {
	now := s.now()
	s.logger.Info("recomputing blocking windows", zap.String("reason", reason))

	cfg := s.shared.FocusConfig()

	// Data unavailable degrades to an empty window set: stale triggers
	// are unregistered and "no prayer times available" is surfaced, never
	// a guess.
	var windows []domain.BlockingWindow
	var dataErr error
	loc, locErr := s.location.Current(ctx)
	if locErr != nil {
		dataErr = locErr
		s.logger.Warn("location unavailable", zap.Error(locErr))
	} else {
		days, err := s.cache.Get(ctx, loc)
		if err != nil {
			dataErr = err
			s.logger.Warn("no schedule available", zap.Error(err))
		} else {
			windows = DeriveWindows(days, cfg, now)
		}
	}

	canRegister := s.authority.Authorized() && s.entitlements.BlockingUnlocked() && cfg.Enabled()
	if !canRegister {
		// Steps 1-5 still ran so the UI can show "would block at...".
		s.unregisterAll()
		s.logger.Info("registration skipped",
			zap.Bool("authorized", s.authority.Authorized()),
			zap.Bool("entitled", s.entitlements.BlockingUnlocked()),
			zap.Bool("enabled", cfg.Enabled()),
			zap.Int("windows_computed", len(windows)))
		if err := s.lifecycle.OnRecompute(ctx); err != nil {
			s.logger.Warn("lifecycle reset failed", zap.Error(err))
		}
		return dataErr
	}

	s.applyDiff(ctx, windows, now)

	if err := s.lifecycle.OnRecompute(ctx); err != nil {
		s.logger.Warn("lifecycle reset failed", zap.Error(err))
	}
	return dataErr
}

// applyDiff reconciles the new window set against the previously
// registered one by (prayer, windowStart) identity, leaving unchanged
// windows alone to avoid thrashing the trigger capability. The persisted
// set alone is not trusted: triggers live in this process and do not
// survive a relaunch, so a window only counts as registered while its
// end trigger is still armed.
func (s *Scheduler) applyDiff(ctx context.Context, windows []domain.BlockingWindow, now time.Time) {
	prev := s.shared.RegisteredWindows()
	next := make(map[string]domain.BlockingWindow, len(windows))

	armed := make(map[string]bool)
	for _, id := range s.triggers.Armed() {
		armed[id] = true
	}

	for _, w := range windows {
		id := w.ID()
		_, exists := prev[id]
		delete(prev, id)
		if exists && armed[endPrefix+id] {
			// Unchanged and still armed: leave its triggers alone.
			next[id] = w
			continue
		}
		if s.registerWindow(ctx, w, now) {
			next[id] = w
		}
	}

	// Whatever is left in prev is no longer wanted.
	for id := range prev {
		s.cancelTriggers(id)
		s.logger.Debug("unregistered window", zap.String("window", id))
	}

	if err := s.shared.WriteRegisteredWindows(next); err != nil {
		s.logger.Error("failed to persist registered windows", zap.Error(err))
	}

	s.logger.Info("window registration reconciled",
		zap.Int("registered", len(next)),
		zap.Int("unregistered", len(prev)))
}

// registerWindow arms the start/end triggers for one new window. A single
// bad window never aborts the recompute: failures are logged and the
// window skipped.
func (s *Scheduler) registerWindow(ctx context.Context, w domain.BlockingWindow, now time.Time) bool {
	id := w.ID()

	if w.Contains(now) {
		// A closed window never re-activates: if the prayer was already
		// completed (early unlock before the relaunch), drop the window
		// instead of re-applying the remainder.
		for _, done := range s.shared.CompletedToday(now) {
			if done == w.Prayer {
				s.logger.Info("skipping in-progress window, prayer already completed",
					zap.String("window", id))
				return false
			}
		}
		// Window already started (app opened mid-window after being
		// killed): apply the restriction synchronously instead of waiting
		// for a trigger that would never fire.
		s.logger.Info("window already started, applying restriction now",
			zap.String("window", id))
		if err := s.lifecycle.OnWindowStart(ctx, w); err != nil {
			s.logger.Error("synchronous window start failed",
				zap.String("window", id), zap.Error(err))
			return false
		}
	} else {
		if err := s.triggers.Arm(startPrefix+id, w.Start); err != nil {
			s.logger.Warn("failed to arm start trigger, skipping window",
				zap.String("window", id), zap.Error(err))
			return false
		}
	}

	if err := s.triggers.Arm(endPrefix+id, w.End); err != nil {
		s.logger.Warn("failed to arm end trigger, skipping window",
			zap.String("window", id), zap.Error(err))
		s.cancelTriggers(id)
		return false
	}
	return true
}

func (s *Scheduler) cancelTriggers(id string) {
	if err := s.triggers.Cancel(startPrefix + id); err != nil {
		s.logger.Debug("cancel start trigger", zap.String("window", id), zap.Error(err))
	}
	if err := s.triggers.Cancel(endPrefix + id); err != nil {
		s.logger.Debug("cancel end trigger", zap.String("window", id), zap.Error(err))
	}
}

func (s *Scheduler) unregisterAll() {
	prev := s.shared.RegisteredWindows()
	for id := range prev {
		s.cancelTriggers(id)
	}
	if len(prev) > 0 {
		if err := s.shared.WriteRegisteredWindows(map[string]domain.BlockingWindow{}); err != nil {
			s.logger.Error("failed to clear registered windows", zap.Error(err))
		}
	}
}

// HandleTrigger dispatches a fired trigger to the lifecycle. Unknown or
// stale trigger IDs are ignored: the registered set is authoritative.
func (s *Scheduler) HandleTrigger(ctx context.Context, ev domain.TriggerEvent) {
	registered := s.shared.RegisteredWindows()

	switch {
	case strings.HasPrefix(ev.ID, startPrefix):
		id := strings.TrimPrefix(ev.ID, startPrefix)
		w, ok := registered[id]
		if !ok {
			s.logger.Debug("ignoring stale start trigger", zap.String("id", ev.ID))
			return
		}
		if err := s.lifecycle.OnWindowStart(ctx, w); err != nil {
			s.logger.Error("window start failed", zap.String("window", id), zap.Error(err))
		}

	case strings.HasPrefix(ev.ID, endPrefix):
		id := strings.TrimPrefix(ev.ID, endPrefix)
		w, ok := registered[id]
		if !ok {
			s.logger.Debug("ignoring stale end trigger", zap.String("id", ev.ID))
			return
		}
		if err := s.lifecycle.OnWindowEnd(ctx, w); err != nil {
			s.logger.Error("window end failed", zap.String("window", id), zap.Error(err))
		}
		// The window has passed; drop it from the registered set.
		delete(registered, id)
		if err := s.shared.WriteRegisteredWindows(registered); err != nil {
			s.logger.Warn("failed to prune passed window", zap.Error(err))
		}

	default:
		s.logger.Warn("unknown trigger fired", zap.String("id", ev.ID))
	}
}

// TodaysWindows computes today's windows for display. Runs even when
// registration is impossible (no authorization, no entitlement) so the
// UI can show what would be blocked.
func (s *Scheduler) TodaysWindows(ctx context.Context) ([]domain.BlockingWindow, error) {
	loc, err := s.location.Current(ctx)
	if err != nil {
		return nil, err
	}
	days, err := s.cache.Get(ctx, loc)
	if err != nil {
		return nil, err
	}
	now := s.now()
	cfg := s.shared.FocusConfig()

	// Include in-progress and passed windows from today for display.
	all := DeriveWindows(days, cfg, now.Add(-24*time.Hour))
	return TodayOnly(all, now), nil
}
