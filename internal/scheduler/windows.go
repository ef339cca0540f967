// Package scheduler derives blocking windows from the prayer schedule and
// focus configuration, and keeps the OS trigger registrations in sync.
package scheduler

import (
	"sort"
	"time"

	"github.com/mizanapps/salahguard/internal/domain"
)

// DeriveWindows is the pure half of a recompute: it maps the schedule and
// configuration to the full upcoming window set. Total, idempotent, no
// side effects. Returns windows sorted by start, truncated to
// MaxFutureWindows.
//
// A window whose end has not yet passed is kept even when its prayer
// instant has: a relaunch mid-window must re-apply the restriction and
// keep the end trigger armed rather than orphan the active block.
func DeriveWindows(days []domain.DaySchedule, cfg domain.FocusConfig, now time.Time) []domain.BlockingWindow {
	if !cfg.Enabled() {
		return nil
	}

	var windows []domain.BlockingWindow
	for _, day := range days {
		for _, pt := range day.Times {
			if !cfg.Selected(pt.Name) {
				continue
			}
			w := domain.NewBlockingWindow(pt, cfg)
			if !w.End.After(now) {
				continue
			}
			windows = append(windows, w)
		}
	}

	sort.Slice(windows, func(i, j int) bool { return windows[i].Start.Before(windows[j].Start) })
	if len(windows) > domain.MaxFutureWindows {
		windows = windows[:domain.MaxFutureWindows]
	}
	return windows
}

// TodayOnly filters a window set to those starting on the calendar day of
// now (for display snapshots).
func TodayOnly(windows []domain.BlockingWindow, now time.Time) []domain.BlockingWindow {
	ny, nm, nd := now.Date()
	var out []domain.BlockingWindow
	for _, w := range windows {
		y, m, d := w.PrayerAt.In(now.Location()).Date()
		if y == ny && m == nm && d == nd {
			out = append(out, w)
		}
	}
	return out
}
