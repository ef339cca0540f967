package store

import (
	"encoding/json"
	"strconv"
	"time"

	"github.com/mizanapps/salahguard/internal/domain"
)

// Namespace prefixes every key so several apps of the same family can
// share one store file without colliding.
const Namespace = "group.salahguard."

// Key contract between the execution contexts. Every key degrades to a
// documented default when absent or malformed: adapters have no caller
// to report errors to.
const (
	keyWindowPhase          = "windowPhase"          // default: idle
	keyCurrentPrayerName    = "currentPrayerName"    // default: ""
	keyCurrentPrayerTime    = "currentPrayerTime"    // default: zero time
	keyBlockingStartTime    = "blockingStartTime"    // default: zero time
	keyBlockingEndTime      = "blockingEndTime"      // default: zero time
	keyEarlyUnlockAt        = "earlyUnlockAvailableAt"
	keyAppsActuallyBlocked  = "appsActuallyBlocked"  // default: false
	keyFocusStrictMode      = "focusStrictMode"      // default: false
	keyUserRequestedUnlock  = "userRequestedEarlyUnlock" // default: false
	keyVoiceUnlockRequested = "voiceUnlockRequested" // default: false
	keyRecomputeRequested   = "recomputeRequested"   // default: false
	keyEntitlementUnlocked  = "entitlementUnlocked"  // default: false
	keyFocusConfig          = "focusConfig"          // JSON, default: DefaultFocusConfig
	keyScheduleCache        = "scheduleCache"        // JSON, default: none
	keyRegisteredWindows    = "registeredWindows"    // JSON, default: empty
	keyMainPID              = "mainPID"              // default: 0
	keyMainHeartbeat        = "mainHeartbeat"        // unix seconds, default: 0
	keyLocationLat          = "location.lat"
	keyLocationLon          = "location.lon"
	prefixCompleted         = "completed_"      // completed_<yyyy-mm-dd>: JSON [PrayerName]
	prefixLastMarked        = "lastMarkedTime_" // lastMarkedTime_<PrayerName>: RFC3339
)

// MarkCooldown rate-limits marking one prayer complete across surfaces,
// absorbing duplicate taps.
const MarkCooldown = 5 * time.Minute

// Shared wraps a raw StateStore with the typed key contract. All cross-
// context reads and writes go through here.
type Shared struct {
	kv domain.StateStore
}

// NewShared wraps a raw state store.
func NewShared(kv domain.StateStore) *Shared {
	return &Shared{kv: kv}
}

func (s *Shared) key(name string) string {
	return Namespace + name
}

// --- primitive typed access, defensive on read ---

func (s *Shared) getString(name, def string) string {
	v, ok, err := s.kv.Get(s.key(name))
	if err != nil || !ok {
		return def
	}
	return v
}

func (s *Shared) setString(name, v string) error {
	return s.kv.Set(s.key(name), v)
}

func (s *Shared) getBool(name string) bool {
	v, ok, err := s.kv.Get(s.key(name))
	if err != nil || !ok {
		return false
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return false
	}
	return b
}

func (s *Shared) setBool(name string, v bool) error {
	return s.kv.Set(s.key(name), strconv.FormatBool(v))
}

func (s *Shared) getTime(name string) time.Time {
	v, ok, err := s.kv.Get(s.key(name))
	if err != nil || !ok {
		return time.Time{}
	}
	t, err := time.Parse(time.RFC3339, v)
	if err != nil {
		return time.Time{}
	}
	return t
}

func (s *Shared) setTime(name string, t time.Time) error {
	return s.kv.Set(s.key(name), t.Format(time.RFC3339))
}

func (s *Shared) getInt(name string) int {
	v, ok, err := s.kv.Get(s.key(name))
	if err != nil || !ok {
		return 0
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0
	}
	return n
}

func (s *Shared) setInt(name string, n int) error {
	return s.kv.Set(s.key(name), strconv.Itoa(n))
}

// --- window runtime state (flat record, last-writer-wins) ---

// RuntimeState assembles the current window record. Missing or malformed
// keys yield the zero/idle record, never an error: a crash in a shield
// renderer is fatal to the restriction UI.
func (s *Shared) RuntimeState() domain.WindowRuntimeState {
	phase := domain.WindowPhase(s.getString(keyWindowPhase, string(domain.PhaseIdle)))
	switch phase {
	case domain.PhaseIdle, domain.PhaseActiveWaiting, domain.PhaseActiveReady, domain.PhaseClosed:
	default:
		phase = domain.PhaseIdle
	}

	return domain.WindowRuntimeState{
		Phase:         phase,
		CurrentPrayer: domain.PrayerName(s.getString(keyCurrentPrayerName, "")),
		PrayerAt:      s.getTime(keyCurrentPrayerTime),
		WindowStart:   s.getTime(keyBlockingStartTime),
		EarlyUnlockAt: s.getTime(keyEarlyUnlockAt),
		WindowEnd:     s.getTime(keyBlockingEndTime),
		StrictMode:    s.getBool(keyFocusStrictMode),
	}
}

// WriteRuntimeState replaces the flat window record. Main process only.
func (s *Shared) WriteRuntimeState(state domain.WindowRuntimeState) error {
	if err := s.setString(keyWindowPhase, string(state.Phase)); err != nil {
		return err
	}
	if err := s.setString(keyCurrentPrayerName, string(state.CurrentPrayer)); err != nil {
		return err
	}
	if err := s.setTime(keyCurrentPrayerTime, state.PrayerAt); err != nil {
		return err
	}
	if err := s.setTime(keyBlockingStartTime, state.WindowStart); err != nil {
		return err
	}
	if err := s.setTime(keyEarlyUnlockAt, state.EarlyUnlockAt); err != nil {
		return err
	}
	return s.setTime(keyBlockingEndTime, state.WindowEnd)
}

// ResetRuntimeState returns the record to idle (next recompute or day
// boundary).
func (s *Shared) ResetRuntimeState() error {
	return s.WriteRuntimeState(domain.WindowRuntimeState{Phase: domain.PhaseIdle})
}

// --- coarse flags ---

// AppsActuallyBlocked reflects whether the authority currently holds a
// restriction. Written by the main process only.
func (s *Shared) AppsActuallyBlocked() bool        { return s.getBool(keyAppsActuallyBlocked) }
func (s *Shared) SetAppsActuallyBlocked(v bool) error { return s.setBool(keyAppsActuallyBlocked, v) }

// StrictMode is mirrored here on every config save so adapters can read
// it without asking the main process.
func (s *Shared) StrictMode() bool             { return s.getBool(keyFocusStrictMode) }
func (s *Shared) SetStrictMode(v bool) error   { return s.setBool(keyFocusStrictMode, v) }

// UserRequestedEarlyUnlock is the generic unlock-request flag. Set by
// adapters and widgets; cleared only by the main process.
func (s *Shared) UserRequestedEarlyUnlock() bool      { return s.getBool(keyUserRequestedUnlock) }
func (s *Shared) SetUserRequestedEarlyUnlock() error  { return s.setBool(keyUserRequestedUnlock, true) }
func (s *Shared) ClearUserRequestedEarlyUnlock() error {
	return s.setBool(keyUserRequestedUnlock, false)
}

// VoiceUnlockRequested is the strict-mode flag: it asks for the stronger
// in-app confirmation that only the main process can perform.
func (s *Shared) VoiceUnlockRequested() bool     { return s.getBool(keyVoiceUnlockRequested) }
func (s *Shared) SetVoiceUnlockRequested() error { return s.setBool(keyVoiceUnlockRequested, true) }
func (s *Shared) ClearVoiceUnlockRequested() error {
	return s.setBool(keyVoiceUnlockRequested, false)
}

// RecomputeRequested is the cross-process poke: a settings write from
// another context asks the next main-process run to recompute.
func (s *Shared) RecomputeRequested() bool      { return s.getBool(keyRecomputeRequested) }
func (s *Shared) SetRecomputeRequested() error  { return s.setBool(keyRecomputeRequested, true) }
func (s *Shared) ClearRecomputeRequested() error {
	return s.setBool(keyRecomputeRequested, false)
}

// EntitlementUnlocked is the boolean "blocking feature unlocked" flag
// written by the purchase collaborator.
func (s *Shared) EntitlementUnlocked() bool           { return s.getBool(keyEntitlementUnlocked) }
func (s *Shared) SetEntitlementUnlocked(v bool) error { return s.setBool(keyEntitlementUnlocked, v) }

// --- focus config ---

// FocusConfig reads the persisted configuration, defaulting when absent
// or unreadable.
func (s *Shared) FocusConfig() domain.FocusConfig {
	raw := s.getString(keyFocusConfig, "")
	if raw == "" {
		return domain.DefaultFocusConfig()
	}
	var cfg domain.FocusConfig
	if err := json.Unmarshal([]byte(raw), &cfg); err != nil {
		return domain.DefaultFocusConfig()
	}
	return cfg.Normalize()
}

// WriteFocusConfig persists the configuration and mirrors strictMode into
// its own key.
func (s *Shared) WriteFocusConfig(cfg domain.FocusConfig) error {
	data, err := json.Marshal(cfg)
	if err != nil {
		return err
	}
	if err := s.setString(keyFocusConfig, string(data)); err != nil {
		return err
	}
	return s.SetStrictMode(cfg.StrictMode)
}

// --- schedule cache ---

// ScheduleCache returns the persisted cache, or nil when absent/corrupt.
func (s *Shared) ScheduleCache() *domain.ScheduleCache {
	raw := s.getString(keyScheduleCache, "")
	if raw == "" {
		return nil
	}
	var c domain.ScheduleCache
	if err := json.Unmarshal([]byte(raw), &c); err != nil {
		return nil
	}
	return &c
}

// WriteScheduleCache replaces the persisted cache wholesale.
func (s *Shared) WriteScheduleCache(c *domain.ScheduleCache) error {
	data, err := json.Marshal(c)
	if err != nil {
		return err
	}
	return s.setString(keyScheduleCache, string(data))
}

// --- registered window set (for diffing across launches) ---

// RegisteredWindows returns the window set the scheduler last registered,
// keyed by window ID.
func (s *Shared) RegisteredWindows() map[string]domain.BlockingWindow {
	raw := s.getString(keyRegisteredWindows, "")
	out := make(map[string]domain.BlockingWindow)
	if raw == "" {
		return out
	}
	if err := json.Unmarshal([]byte(raw), &out); err != nil {
		return make(map[string]domain.BlockingWindow)
	}
	return out
}

// WriteRegisteredWindows replaces the registered window set.
func (s *Shared) WriteRegisteredWindows(windows map[string]domain.BlockingWindow) error {
	data, err := json.Marshal(windows)
	if err != nil {
		return err
	}
	return s.setString(keyRegisteredWindows, string(data))
}

// --- completion tracking ---

func dayKey(day time.Time) string {
	return prefixCompleted + day.Format("2006-01-02")
}

// CompletedToday returns the prayers marked complete for the given day.
func (s *Shared) CompletedToday(day time.Time) []domain.PrayerName {
	raw := s.getString(dayKey(day), "")
	if raw == "" {
		return nil
	}
	var names []domain.PrayerName
	if err := json.Unmarshal([]byte(raw), &names); err != nil {
		return nil
	}
	return names
}

// MarkCompleted appends a prayer to the day's completed set, gated by the
// per-prayer cooldown. Returns true when the mark was recorded, false
// when absorbed (duplicate tap or already complete).
func (s *Shared) MarkCompleted(name domain.PrayerName, now time.Time) (bool, error) {
	if !domain.ValidPrayer(name) {
		return false, nil
	}

	last := s.getTime(prefixLastMarked + string(name))
	if !last.IsZero() && now.Sub(last) < MarkCooldown {
		return false, nil
	}

	completed := s.CompletedToday(now)
	for _, p := range completed {
		if p == name {
			return false, nil
		}
	}
	completed = append(completed, name)

	data, err := json.Marshal(completed)
	if err != nil {
		return false, err
	}
	if err := s.setString(dayKey(now), string(data)); err != nil {
		return false, err
	}
	if err := s.setTime(prefixLastMarked+string(name), now); err != nil {
		return false, err
	}
	return true, nil
}

// --- main process liveness ---

// RecordHeartbeat stores the main process PID and heartbeat timestamp so
// adapters can tell "running, will reconcile shortly" from "applied on
// next launch".
func (s *Shared) RecordHeartbeat(pid int, now time.Time) error {
	if err := s.setInt(keyMainPID, pid); err != nil {
		return err
	}
	return s.setInt(keyMainHeartbeat, int(now.Unix()))
}

// MainPID returns the last recorded main process PID, 0 if none.
func (s *Shared) MainPID() int {
	return s.getInt(keyMainPID)
}

// LastHeartbeat returns the last main-process heartbeat, zero if none.
func (s *Shared) LastHeartbeat() time.Time {
	unix := s.getInt(keyMainHeartbeat)
	if unix == 0 {
		return time.Time{}
	}
	return time.Unix(int64(unix), 0)
}

// --- location override ---

// LocationOverride returns a location written by the companion location
// collaborator, if any.
func (s *Shared) LocationOverride() (domain.Location, bool) {
	latRaw := s.getString(keyLocationLat, "")
	lonRaw := s.getString(keyLocationLon, "")
	if latRaw == "" || lonRaw == "" {
		return domain.Location{}, false
	}
	lat, err1 := strconv.ParseFloat(latRaw, 64)
	lon, err2 := strconv.ParseFloat(lonRaw, 64)
	if err1 != nil || err2 != nil {
		return domain.Location{}, false
	}
	return domain.Location{Lat: lat, Lon: lon}, true
}

// WriteLocationOverride records a location update.
func (s *Shared) WriteLocationOverride(loc domain.Location) error {
	if err := s.setString(keyLocationLat, strconv.FormatFloat(loc.Lat, 'f', -1, 64)); err != nil {
		return err
	}
	return s.setString(keyLocationLon, strconv.FormatFloat(loc.Lon, 'f', -1, 64))
}
