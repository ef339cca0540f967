// Package config holds process environment settings and the user-facing
// focus configuration service.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/kelseyhightower/envconfig"
)

// Env is the process environment, loaded once at startup. These are
// operator knobs, not user settings; user settings live in the shared
// store as FocusConfig.
type Env struct {
	// DataDir holds the encrypted state store and its key file.
	DataDir string `envconfig:"DATA_DIR"`

	// CalculatorURL is the base URL of the prayer-time calculation
	// service.
	CalculatorURL string `envconfig:"CALCULATOR_URL" default:"https://api.aladhan.com"`

	// Timezone the HH:MM prayer strings are interpreted in. Empty means
	// the system zone.
	Timezone string `envconfig:"TIMEZONE"`

	// Fallback coordinates used when no location update has been
	// recorded in the store.
	FallbackLat float64 `envconfig:"FALLBACK_LAT" default:"21.4225"`
	FallbackLon float64 `envconfig:"FALLBACK_LON" default:"39.8262"`

	// ReconcileInterval is how often the main process observes request
	// flags and sweeps the active restriction.
	ReconcileInterval time.Duration `envconfig:"RECONCILE_INTERVAL" default:"5s"`

	// HeartbeatInterval is how often the main process records liveness.
	HeartbeatInterval time.Duration `envconfig:"HEARTBEAT_INTERVAL" default:"30s"`

	// RefreshInterval is how often the main process re-checks for day
	// changes and cross-process recompute pokes.
	RefreshInterval time.Duration `envconfig:"REFRESH_INTERVAL" default:"1m"`

	// ScheduleWait bounds the cold-start wait for a usable schedule.
	ScheduleWait time.Duration `envconfig:"SCHEDULE_WAIT" default:"10s"`

	// LogPath is where daemon roles write structured logs.
	LogPath string `envconfig:"LOG_PATH" default:"/var/tmp/salahguard.log"`
}

// LoadEnv reads SALAHGUARD_* environment variables with defaults.
func LoadEnv() (Env, error) {
	var env Env
	if err := envconfig.Process("salahguard", &env); err != nil {
		return Env{}, fmt.Errorf("failed to load environment: %w", err)
	}

	if env.DataDir == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return Env{}, fmt.Errorf("failed to resolve home directory: %w", err)
		}
		env.DataDir = filepath.Join(home, ".salahguard")
	}
	return env, nil
}

// Location returns the configured timezone, or the system zone.
func (e Env) Location() (*time.Location, error) {
	if e.Timezone == "" {
		return time.Local, nil
	}
	loc, err := time.LoadLocation(e.Timezone)
	if err != nil {
		return nil, fmt.Errorf("bad timezone %q: %w", e.Timezone, err)
	}
	return loc, nil
}
