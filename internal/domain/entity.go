// Package domain contains core business entities and interfaces.
// This is the innermost layer in Clean Architecture - no external dependencies.
package domain

import (
	"fmt"
	"math"
	"time"
)

// PrayerName identifies one of the five daily prayers.
type PrayerName string

const (
	Fajr    PrayerName = "Fajr"
	Dhuhr   PrayerName = "Dhuhr"
	Asr     PrayerName = "Asr"
	Maghrib PrayerName = "Maghrib"
	Isha    PrayerName = "Isha"
)

// AllPrayers returns the five prayers in daily order.
func AllPrayers() []PrayerName {
	return []PrayerName{Fajr, Dhuhr, Asr, Maghrib, Isha}
}

// ValidPrayer reports whether name is one of the five prayers.
func ValidPrayer(name PrayerName) bool {
	switch name {
	case Fajr, Dhuhr, Asr, Maghrib, Isha:
		return true
	}
	return false
}

// PrayerTime is a single prayer instant for one calendar day at one location.
// Immutable once computed for a given (day, location) pair.
type PrayerTime struct {
	Name PrayerName `json:"name"`
	At   time.Time  `json:"at"`
}

// Location is a latitude/longitude pair.
type Location struct {
	Lat float64 `json:"lat"`
	Lon float64 `json:"lon"`
}

// LocationToleranceKm is how far the device may drift before the cached
// schedule is considered to be for a different place. Prayer times shift
// by well under a minute across 2km, so refetching closer is wasted I/O.
const LocationToleranceKm = 2.0

// DistanceKm returns the great-circle distance to other in kilometers.
func (l Location) DistanceKm(other Location) float64 {
	const earthRadiusKm = 6371.0
	lat1 := l.Lat * math.Pi / 180
	lat2 := other.Lat * math.Pi / 180
	dLat := (other.Lat - l.Lat) * math.Pi / 180
	dLon := (other.Lon - l.Lon) * math.Pi / 180

	a := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(lat1)*math.Cos(lat2)*math.Sin(dLon/2)*math.Sin(dLon/2)
	return earthRadiusKm * 2 * math.Atan2(math.Sqrt(a), math.Sqrt(1-a))
}

// WithinTolerance reports whether other is close enough to reuse a
// schedule computed for l.
func (l Location) WithinTolerance(other Location) bool {
	return l.DistanceKm(other) <= LocationToleranceKm
}

// DaySchedule holds the five prayer times for one calendar day,
// strictly increasing by instant.
type DaySchedule struct {
	Day   time.Time    `json:"day"` // midnight local
	Times []PrayerTime `json:"times"`
}

// ScheduleCache is a rolling multi-day prayer table for one location.
// Replaced wholesale on staleness or location drift, read-mostly otherwise.
type ScheduleCache struct {
	FetchedAt time.Time     `json:"fetched_at"`
	Location  Location      `json:"location"`
	Days      []DaySchedule `json:"days"`
}

// SameDay reports whether the cache was fetched on the calendar day of now.
func (c *ScheduleCache) SameDay(now time.Time) bool {
	fy, fm, fd := c.FetchedAt.In(now.Location()).Date()
	ny, nm, nd := now.Date()
	return fy == ny && fm == nm && fd == nd
}

// FocusConfig holds the user's blocking preferences.
// Mutated only through explicit settings actions.
type FocusConfig struct {
	SelectedPrayers []PrayerName `json:"selected_prayers"`
	DurationMinutes int          `json:"duration_minutes"`
	BufferMinutes   int          `json:"buffer_minutes"`
	StrictMode      bool         `json:"strict_mode"`
	// AppSelection is the opaque restriction-target set handed to the
	// restriction authority. On this platform: process name patterns.
	AppSelection []string `json:"app_selection"`
}

// DefaultFocusConfig returns the configuration used before the user has
// saved anything. No prayers selected means blocking is disabled.
func DefaultFocusConfig() FocusConfig {
	return FocusConfig{
		DurationMinutes: 30,
		BufferMinutes:   0,
	}
}

// Enabled reports whether blocking is active at all.
func (c FocusConfig) Enabled() bool {
	return len(c.SelectedPrayers) > 0
}

// Selected reports whether a prayer is in the blocking selection.
func (c FocusConfig) Selected(name PrayerName) bool {
	for _, p := range c.SelectedPrayers {
		if p == name {
			return true
		}
	}
	return false
}

// Normalize coerces out-of-range values into the supported grid:
// duration clamped to [15,60] and rounded to the nearest 5, buffer
// snapped to the nearest of {0,5,10,15}. Unknown prayer names are dropped.
func (c FocusConfig) Normalize() FocusConfig {
	d := c.DurationMinutes
	if d < 15 {
		d = 15
	}
	if d > 60 {
		d = 60
	}
	d = ((d + 2) / 5) * 5
	if d < 15 {
		d = 15
	}
	c.DurationMinutes = d

	best, bestDist := 0, math.MaxFloat64
	for _, b := range []int{0, 5, 10, 15} {
		if dist := math.Abs(float64(c.BufferMinutes - b)); dist < bestDist {
			best, bestDist = b, dist
		}
	}
	c.BufferMinutes = best

	valid := c.SelectedPrayers[:0:0]
	for _, p := range c.SelectedPrayers {
		if ValidPrayer(p) {
			valid = append(valid, p)
		}
	}
	c.SelectedPrayers = valid
	return c
}

// EarlyUnlockGrace is how long after the prayer instant the early-unlock
// path opens. Anchored to the prayer time, not the blocking start.
const EarlyUnlockGrace = 5 * time.Minute

// MaxFutureWindows caps how many upcoming windows are retained and
// registered with the trigger scheduler at once.
const MaxFutureWindows = 20

// BlockingWindow is the concrete restriction span derived around one
// prayer instant. Superseded, never mutated, on every recompute.
type BlockingWindow struct {
	Prayer        PrayerName `json:"prayer"`
	PrayerAt      time.Time  `json:"prayer_at"`
	Start         time.Time  `json:"start"`
	EarlyUnlockAt time.Time  `json:"early_unlock_at"`
	End           time.Time  `json:"end"`
}

// NewBlockingWindow derives the window for one prayer instant from the
// configured duration and pre-prayer buffer.
func NewBlockingWindow(pt PrayerTime, cfg FocusConfig) BlockingWindow {
	return BlockingWindow{
		Prayer:        pt.Name,
		PrayerAt:      pt.At,
		Start:         pt.At.Add(-time.Duration(cfg.BufferMinutes) * time.Minute),
		EarlyUnlockAt: pt.At.Add(EarlyUnlockGrace),
		End:           pt.At.Add(time.Duration(cfg.DurationMinutes) * time.Minute),
	}
}

// ID is the registration identity used to diff window sets across
// recomputes: same prayer + same start means same trigger.
func (w BlockingWindow) ID() string {
	return fmt.Sprintf("%s@%d", w.Prayer, w.Start.Unix())
}

// Contains reports whether now falls inside the window span.
func (w BlockingWindow) Contains(now time.Time) bool {
	return !now.Before(w.Start) && now.Before(w.End)
}

// WindowPhase is the lifecycle phase of the currently active window.
type WindowPhase string

const (
	PhaseIdle          WindowPhase = "idle"
	PhaseActiveWaiting WindowPhase = "active_waiting"
	PhaseActiveReady   WindowPhase = "active_ready"
	PhaseClosed        WindowPhase = "closed"
)

// WindowRuntimeState describes the single currently active window.
// Restrictions are never concurrent, so one flat record suffices.
// Lives in the shared state store; every isolated context reads it.
type WindowRuntimeState struct {
	Phase         WindowPhase `json:"phase"`
	CurrentPrayer PrayerName  `json:"current_prayer"`
	PrayerAt      time.Time   `json:"prayer_at"`
	WindowStart   time.Time   `json:"window_start"`
	EarlyUnlockAt time.Time   `json:"early_unlock_at"`
	WindowEnd     time.Time   `json:"window_end"`
	StrictMode    bool        `json:"strict_mode"`
}

// EffectivePhase resolves the Waiting -> Ready transition lazily: nobody
// arms a timer for it, any reader recomputes it against the clock. This
// is what lets a relaunched process observe Ready without a missed
// callback ever having fired.
func (s WindowRuntimeState) EffectivePhase(now time.Time) WindowPhase {
	if s.Phase == PhaseActiveWaiting && !now.Before(s.EarlyUnlockAt) {
		return PhaseActiveReady
	}
	return s.Phase
}

// Active reports whether a restriction should currently be in force.
func (s WindowRuntimeState) Active() bool {
	return s.Phase == PhaseActiveWaiting || s.Phase == PhaseActiveReady
}

// Snapshot is the read-only view exposed to the UI layer.
type Snapshot struct {
	TodaysWindows []BlockingWindow   `json:"todays_windows"`
	Runtime       WindowRuntimeState `json:"runtime"`
	Config        FocusConfig        `json:"config"`
	Completed     []PrayerName       `json:"completed_today"`
	// VoicePending reports a strict-mode unlock waiting for in-app
	// confirmation. The overlay points the user here, so the UI must
	// surface it.
	VoicePending bool `json:"voice_unlock_pending"`
}
