// Package widget implements the home-screen display/interaction surfaces.
// Read-only renderers plus two user intents, both of which only write
// intent into the shared store; the OS restriction primitive is never
// touched from here.
package widget

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/mizanapps/salahguard/internal/domain"
	"github.com/mizanapps/salahguard/internal/schedule"
	"github.com/mizanapps/salahguard/internal/store"
)

// Entry is one prayer row on the widget.
type Entry struct {
	Prayer    domain.PrayerName `json:"prayer"`
	At        time.Time         `json:"at"`
	Completed bool              `json:"completed"`
	Blocking  bool              `json:"blocking"` // a window is derived around it
}

// View is the widget's render model, refreshed on a ~15 minute timeline
// or after one of the intents below.
type View struct {
	Entries    []Entry            `json:"entries"`
	Runtime    domain.WindowRuntimeState `json:"runtime"`
	StrictMode bool               `json:"strict_mode"`
}

// Surface builds widget views and records the two user intents.
type Surface struct {
	shared *store.Shared
	cache  *schedule.Cache
	loc    domain.LocationProvider
	logger *zap.Logger
	now    func() time.Time
}

// NewSurface creates a widget surface.
func NewSurface(shared *store.Shared, cache *schedule.Cache, loc domain.LocationProvider, logger *zap.Logger) *Surface {
	return &Surface{
		shared: shared,
		cache:  cache,
		loc:    loc,
		logger: logger,
		now:    time.Now,
	}
}

// WithClock overrides the clock (for tests).
func (s *Surface) WithClock(now func() time.Time) *Surface {
	s.now = now
	return s
}

// View renders today's prayer list with completion and blocking markers.
// Degrades to an empty list, never an error, when no schedule exists:
// widgets have nobody to report to.
func (s *Surface) View(ctx context.Context) View {
	now := s.now()
	state := s.shared.RuntimeState()
	state.Phase = state.EffectivePhase(now)

	view := View{
		Runtime:    state,
		StrictMode: s.shared.StrictMode(),
	}

	loc, err := s.loc.Current(ctx)
	if err != nil {
		s.logger.Warn("widget: location unavailable", zap.Error(err))
		return view
	}
	times, err := s.cache.Day(ctx, loc, now)
	if err != nil {
		s.logger.Warn("widget: no schedule for today", zap.Error(err))
		return view
	}

	cfg := s.shared.FocusConfig()
	completed := s.shared.CompletedToday(now)
	done := make(map[domain.PrayerName]bool, len(completed))
	for _, p := range completed {
		done[p] = true
	}

	for _, pt := range times {
		view.Entries = append(view.Entries, Entry{
			Prayer:    pt.Name,
			At:        pt.At,
			Completed: done[pt.Name],
			Blocking:  cfg.Selected(pt.Name),
		})
	}
	return view
}

// MarkPrayerCompleted is the first widget intent: a cooldown-gated append
// to today's completed set. Returns whether the mark was recorded.
func (s *Surface) MarkPrayerCompleted(name domain.PrayerName) bool {
	recorded, err := s.shared.MarkCompleted(name, s.now())
	if err != nil {
		s.logger.Error("widget: failed to mark prayer complete",
			zap.String("prayer", string(name)), zap.Error(err))
		return false
	}
	if recorded {
		s.logger.Info("widget: prayer marked complete", zap.String("prayer", string(name)))
	}
	return recorded
}

// RequestEarlyUnlock is the second widget intent: it sets the same flag
// the state machine observes. The main process fulfills it on its next
// reconcile.
func (s *Surface) RequestEarlyUnlock() {
	if err := s.shared.SetUserRequestedEarlyUnlock(); err != nil {
		s.logger.Error("widget: failed to request early unlock", zap.Error(err))
		return
	}
	s.logger.Info("widget: early unlock requested")
}
