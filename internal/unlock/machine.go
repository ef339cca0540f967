// Package unlock implements the per-window lifecycle state machine:
// Idle -> Active-Waiting -> Active-Ready -> Closed -> Idle. Only the main
// process runs this code; every other context reads the resulting record
// from the shared store and signals intent through request flags.
package unlock

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/mizanapps/salahguard/internal/domain"
	"github.com/mizanapps/salahguard/internal/store"
)

// Machine drives the currently active window. It is the only component
// allowed to call the restriction authority's Lift.
type Machine struct {
	shared    *store.Shared
	authority domain.RestrictionAuthority
	logger    *zap.Logger
	now       func() time.Time
}

// NewMachine creates the lifecycle state machine.
func NewMachine(shared *store.Shared, authority domain.RestrictionAuthority, logger *zap.Logger) *Machine {
	return &Machine{
		shared:    shared,
		authority: authority,
		logger:    logger,
		now:       time.Now,
	}
}

// WithClock overrides the clock (for tests).
func (m *Machine) WithClock(now func() time.Time) *Machine {
	m.now = now
	return m
}

// State returns the current record with the lazy Waiting -> Ready
// transition resolved against the clock.
func (m *Machine) State() domain.WindowRuntimeState {
	state := m.shared.RuntimeState()
	state.Phase = state.EffectivePhase(m.now())
	return state
}

// OnWindowStart applies the restriction and seeds the runtime record.
// Fired by the windowStart trigger, or synchronously by the scheduler
// when the window already started.
func (m *Machine) OnWindowStart(ctx context.Context, w domain.BlockingWindow) error {
	cfg := m.shared.FocusConfig()

	if err := m.authority.Apply(ctx, cfg.AppSelection); err != nil {
		return err
	}
	if err := m.shared.SetAppsActuallyBlocked(true); err != nil {
		m.logger.Warn("failed to record blocked flag", zap.Error(err))
	}

	state := domain.WindowRuntimeState{
		Phase:         domain.PhaseActiveWaiting,
		CurrentPrayer: w.Prayer,
		PrayerAt:      w.PrayerAt,
		WindowStart:   w.Start,
		EarlyUnlockAt: w.EarlyUnlockAt,
		WindowEnd:     w.End,
		StrictMode:    cfg.StrictMode,
	}
	if err := m.shared.WriteRuntimeState(state); err != nil {
		return err
	}

	m.logger.Info("blocking window started",
		zap.String("prayer", string(w.Prayer)),
		zap.Time("until", w.End),
		zap.Bool("strict", cfg.StrictMode))
	return nil
}

// OnWindowEnd lifts the restriction at full duration regardless of user
// action. Fired by the windowEnd trigger.
func (m *Machine) OnWindowEnd(ctx context.Context, w domain.BlockingWindow) error {
	m.logger.Info("blocking window ended", zap.String("prayer", string(w.Prayer)))
	return m.closeWindow(ctx, false)
}

// closeWindow lifts, clears flags, and walks Closed -> Idle.
// markComplete records the current prayer in today's completed set (the
// early-unlock path does; the full-duration fallback does not assume).
func (m *Machine) closeWindow(ctx context.Context, markComplete bool) error {
	state := m.shared.RuntimeState()

	if err := m.authority.Lift(ctx); err != nil {
		return err
	}
	if err := m.shared.SetAppsActuallyBlocked(false); err != nil {
		m.logger.Warn("failed to clear blocked flag", zap.Error(err))
	}

	if markComplete && state.CurrentPrayer != "" {
		if _, err := m.shared.MarkCompleted(state.CurrentPrayer, m.now()); err != nil {
			m.logger.Warn("failed to mark prayer complete", zap.Error(err))
		}
	}

	// Only the main process ever clears the request flags.
	if err := m.shared.ClearUserRequestedEarlyUnlock(); err != nil {
		m.logger.Warn("failed to clear unlock request", zap.Error(err))
	}
	if err := m.shared.ClearVoiceUnlockRequested(); err != nil {
		m.logger.Warn("failed to clear voice unlock request", zap.Error(err))
	}

	state.Phase = domain.PhaseClosed
	if err := m.shared.WriteRuntimeState(state); err != nil {
		return err
	}
	return m.shared.ResetRuntimeState()
}

// Reconcile observes pending request flags and the clock, and performs
// any transition the main process owes. Runs on a short ticker and at
// every launch; it is the catch-up path for everything the stateless
// contexts could only signal.
func (m *Machine) Reconcile(ctx context.Context) error {
	now := m.now()
	state := m.shared.RuntimeState()

	if !state.Active() {
		// Safety: never leave a restriction applied with no active window.
		if m.shared.AppsActuallyBlocked() {
			m.logger.Warn("restriction applied with no active window, lifting")
			return m.closeWindow(ctx, false)
		}
		// A request that raced the close is a no-op; drop it so it cannot
		// leak into the next window.
		if m.shared.UserRequestedEarlyUnlock() {
			if err := m.shared.ClearUserRequestedEarlyUnlock(); err != nil {
				m.logger.Warn("failed to clear stale unlock request", zap.Error(err))
			}
		}
		return nil
	}

	// Missed end trigger (process was dead at windowEnd): full-duration
	// fallback on catch-up.
	if !now.Before(state.WindowEnd) {
		m.logger.Info("window end passed while away, closing",
			zap.String("prayer", string(state.CurrentPrayer)))
		return m.closeWindow(ctx, false)
	}

	if m.shared.UserRequestedEarlyUnlock() {
		// Strict mode is re-read here, not trusted from the record: the
		// generic path is disabled entirely while strict is on.
		if m.shared.StrictMode() {
			m.logger.Info("ignoring early unlock request in strict mode")
			if err := m.shared.ClearUserRequestedEarlyUnlock(); err != nil {
				m.logger.Warn("failed to clear unlock request", zap.Error(err))
			}
			return nil
		}

		switch state.EffectivePhase(now) {
		case domain.PhaseActiveReady:
			m.logger.Info("early unlock granted",
				zap.String("prayer", string(state.CurrentPrayer)))
			return m.closeWindow(ctx, true)
		case domain.PhaseActiveWaiting:
			// Not ready yet; the request stays pending and is fulfilled
			// once the grace period passes.
			m.logger.Debug("early unlock requested before grace period",
				zap.Time("ready_at", state.EarlyUnlockAt))
		}
	}

	return nil
}

// ConfirmVoiceUnlock is the strict-mode unlock: the stronger in-app
// confirmation only the main process can perform. The verification
// itself (voice/phrase) is an external collaborator; by the time this is
// called it has succeeded.
func (m *Machine) ConfirmVoiceUnlock(ctx context.Context) error {
	state := m.shared.RuntimeState()
	if !state.Active() {
		m.logger.Info("voice unlock confirmation with no active window")
		return m.shared.ClearVoiceUnlockRequested()
	}

	m.logger.Info("strict-mode unlock confirmed",
		zap.String("prayer", string(state.CurrentPrayer)))
	return m.closeWindow(ctx, true)
}

// OnRecompute walks Closed back to Idle after a recompute; active windows
// are left alone (the recompute keeps them registered).
func (m *Machine) OnRecompute(ctx context.Context) error {
	state := m.shared.RuntimeState()
	if state.Phase == domain.PhaseClosed {
		return m.shared.ResetRuntimeState()
	}
	return nil
}
