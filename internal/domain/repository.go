package domain

import (
	"context"
	"errors"
	"time"
)

// Sentinel errors surfaced to the UI as explicit states, never retried
// silently.
var (
	// ErrNoSchedule means no cache exists and the calculator is unreachable.
	ErrNoSchedule = errors.New("no prayer times available")

	// ErrNotAuthorized means the restriction authority refused or was
	// never granted.
	ErrNotAuthorized = errors.New("restriction authority not granted")

	// ErrTriggerQuota means the trigger scheduler declined to arm another
	// trigger. Isolated per window, never aborts a recompute.
	ErrTriggerQuota = errors.New("trigger quota exceeded")
)

// StateStore is the durable, process-shared key-value store. It is the
// ONLY channel between the app's isolated execution contexts. Semantics:
// at-least-once, last-writer-wins, no transactions. Values are strings;
// typed access lives in the store package's Shared wrapper.
type StateStore interface {
	// Get returns the value and whether the key was present.
	Get(key string) (string, bool, error)

	// Set writes a value, replacing any previous one.
	Set(key, value string) error

	// Delete removes a key. Deleting an absent key is not an error.
	Delete(key string) error

	// Keys returns all keys with the given prefix.
	Keys(prefix string) ([]string, error)

	// Close releases underlying resources.
	Close() error
}

// ScheduleSource is the external prayer-time calculator: opaque, network
// dependent, returns the five times for one location and day.
type ScheduleSource interface {
	Compute(ctx context.Context, loc Location, day time.Time) ([]PrayerTime, error)
}

// LocationProvider yields the device's current coordinates.
type LocationProvider interface {
	Current(ctx context.Context) (Location, error)
}

// RestrictionAuthority is the OS capability that actually blocks apps.
// Held EXCLUSIVELY by the main process: adapters and widgets only ever
// signal intent through the state store.
type RestrictionAuthority interface {
	// Authorized reports whether the capability has been granted.
	Authorized() bool

	// Apply restricts the given targets. Idempotent, best-effort.
	Apply(ctx context.Context, targets []string) error

	// Lift removes the restriction. Idempotent.
	Lift(ctx context.Context) error

	// Enforce re-applies the current restriction (sweep while a window
	// is active). No-op when nothing is applied.
	Enforce(ctx context.Context) error
}

// TriggerEvent is delivered into the main process when an armed trigger
// fires.
type TriggerEvent struct {
	ID    string
	At    time.Time
	Fired time.Time
}

// TriggerScheduler arms OS-level wall-clock triggers. Cancellation is
// unregistering before the trigger fires.
type TriggerScheduler interface {
	// Arm schedules a trigger. Returns ErrTriggerQuota or
	// ErrNotAuthorized without side effects when it cannot.
	Arm(id string, at time.Time) error

	// Cancel unregisters an armed trigger. Unknown IDs are ignored.
	Cancel(id string) error

	// Armed returns the IDs of currently armed triggers.
	Armed() []string

	// Events is the channel trigger callbacks arrive on.
	Events() <-chan TriggerEvent
}

// Notifier posts a local notification. Best-effort; failures are logged
// and swallowed.
type Notifier interface {
	Notify(title, body string) error
}

// Entitlements answers whether the blocking feature is unlocked.
// Verification itself is an external collaborator.
type Entitlements interface {
	BlockingUnlocked() bool
}

// ProcessManager handles OS process operations.
// Implementation: uses gopsutil for cross-platform support.
type ProcessManager interface {
	// FindByName returns PIDs of processes matching the pattern.
	FindByName(pattern string) ([]int, error)

	// Kill terminates a process by PID (SIGKILL).
	Kill(pid int) error

	// IsRunning checks if a PID exists and is running.
	IsRunning(pid int) bool

	// GetCurrentPID returns the current process PID.
	GetCurrentPID() int
}

// KeyProvider abstracts the source of the state-store encryption key.
type KeyProvider interface {
	// GetKey returns the encryption key bytes.
	GetKey() ([]byte, error)

	// StoreKey persists a new encryption key.
	StoreKey(key []byte) error

	// KeyExists checks if a key has been generated.
	KeyExists() bool
}
