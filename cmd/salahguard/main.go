// Package main is the CLI entry point for salahguard.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/mizanapps/salahguard/internal/config"
	"github.com/mizanapps/salahguard/internal/daemon"
	"github.com/mizanapps/salahguard/internal/domain"
	"github.com/mizanapps/salahguard/internal/infra"
	"github.com/mizanapps/salahguard/internal/schedule"
	"github.com/mizanapps/salahguard/internal/scheduler"
	"github.com/mizanapps/salahguard/internal/shield"
	"github.com/mizanapps/salahguard/internal/store"
	"github.com/mizanapps/salahguard/internal/unlock"
	"github.com/mizanapps/salahguard/internal/widget"
)

var (
	// Version info (set via ldflags)
	Version   = "0.1.0"
	Commit    = "dev"
	BuildTime = "unknown"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "salahguard",
	Short: "Prayer-time app blocking",
	Long: `salahguard blocks distracting apps around the five daily prayers.
It computes prayer times for your location, derives blocking windows
from your settings, and restricts the selected apps for each window.
Unlock early by confirming you have prayed.`,
	Version: Version,
}

var startCmd = &cobra.Command{
	Use:   "start",
	Short: "Run the main process (owns triggers and restrictions)",
	Long: `Runs the main process in the foreground. It arms the window triggers,
applies and lifts app restrictions, and observes the requests the other
commands record. Exactly one instance should run.`,
	RunE: runStart,
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show current blocking state",
	Long:  `Shows the main process liveness, the active window, and today's plan. Use --json for a machine-readable snapshot.`,
	RunE:  runStatus,
}

var configureCmd = &cobra.Command{
	Use:   "configure",
	Short: "Update blocking settings",
	Long: `Updates the focus configuration: which prayers block, for how long,
how much buffer before the prayer time, strict mode, and which apps are
restricted. Values are validated and snapped to the allowed ranges.
The running main process recomputes its windows on its next check.`,
	RunE: runConfigure,
}

var recomputeCmd = &cobra.Command{
	Use:   "recompute",
	Short: "Ask the main process to recompute its windows",
	RunE:  runRecompute,
}

var shieldCmd = &cobra.Command{
	Use:   "shield",
	Short: "Render the blocking overlay content",
	Long: `Renders what the blocking overlay should currently show, as JSON.
Pure read; safe to call from anywhere at any time.`,
	RunE: runShield,
}

var shieldActionCmd = &cobra.Command{
	Use:   "shield-action",
	Short: "Handle an overlay button tap",
	RunE:  runShieldAction,
}

var widgetCmd = &cobra.Command{
	Use:   "widget",
	Short: "Render the widget view",
	RunE:  runWidget,
}

var widgetMarkCmd = &cobra.Command{
	Use:   "mark <prayer>",
	Short: "Mark a prayer completed for today",
	Args:  cobra.ExactArgs(1),
	RunE:  runWidgetMark,
}

var widgetUnlockCmd = &cobra.Command{
	Use:   "unlock",
	Short: "Request an early unlock of the active window",
	RunE:  runWidgetUnlock,
}

var confirmPrayedCmd = &cobra.Command{
	Use:   "confirm-prayed",
	Short: "Confirm the strict-mode unlock",
	Long: `Completes the strict-mode unlock after the stronger in-app
confirmation has succeeded. Closes the active window and lifts the
restriction.`,
	RunE: runConfirmPrayed,
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run:   runVersion,
}

// Hidden commands modeling the external collaborators: entitlement
// verification and location updates write their results into the store.
var entitleCmd = &cobra.Command{
	Use:    "entitle",
	Hidden: true,
	RunE:   runEntitle,
}

var locateCmd = &cobra.Command{
	Use:    "locate",
	Hidden: true,
	RunE:   runLocate,
}

var (
	cfgPrayers  []string
	cfgDuration int
	cfgBuffer   int
	cfgStrict   bool
	cfgApps     []string

	tapKind string

	entitleUnlocked bool
	locateLat       float64
	locateLon       float64

	jsonOutput bool
	statusJSON bool
)

func init() {
	configureCmd.Flags().StringSliceVar(&cfgPrayers, "prayers", nil,
		"Prayers that block (fajr,dhuhr,asr,maghrib,isha); empty disables blocking")
	configureCmd.Flags().IntVar(&cfgDuration, "duration", 30, "Blocking duration in minutes (15-60)")
	configureCmd.Flags().IntVar(&cfgBuffer, "buffer", 0, "Minutes before the prayer time blocking starts (0/5/10/15)")
	configureCmd.Flags().BoolVar(&cfgStrict, "strict", false, "Require the in-app confirmation to unlock early")
	configureCmd.Flags().StringSliceVar(&cfgApps, "apps", nil, "Process name patterns to restrict")

	shieldActionCmd.Flags().StringVar(&tapKind, "tap", "primary", "Which button was tapped (primary/secondary)")

	entitleCmd.Flags().BoolVar(&entitleUnlocked, "unlocked", true, "Entitlement state")
	locateCmd.Flags().Float64Var(&locateLat, "lat", 0, "Latitude")
	locateCmd.Flags().Float64Var(&locateLon, "lon", 0, "Longitude")

	versionCmd.Flags().BoolVar(&jsonOutput, "json", false, "Output version info as JSON")
	statusCmd.Flags().BoolVar(&statusJSON, "json", false, "Output a JSON snapshot")

	widgetCmd.AddCommand(widgetMarkCmd)
	widgetCmd.AddCommand(widgetUnlockCmd)

	rootCmd.AddCommand(startCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(configureCmd)
	rootCmd.AddCommand(recomputeCmd)
	rootCmd.AddCommand(shieldCmd)
	rootCmd.AddCommand(shieldActionCmd)
	rootCmd.AddCommand(widgetCmd)
	rootCmd.AddCommand(confirmPrayedCmd)
	rootCmd.AddCommand(entitleCmd)
	rootCmd.AddCommand(locateCmd)
	rootCmd.AddCommand(versionCmd)
}

// openShared opens the encrypted shared store every command works
// through. The caller must Close the returned store.
func openShared(env config.Env) (*store.Shared, *store.KV, error) {
	keys := store.NewFileKeyProvider(env.DataDir)
	key, err := store.EnsureKey(keys)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to obtain store key: %w", err)
	}
	kv, err := store.Open(env.DataDir, key)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to open state store: %w", err)
	}
	return store.NewShared(kv), kv, nil
}

func runStart(cmd *cobra.Command, args []string) error {
	env, err := config.LoadEnv()
	if err != nil {
		return err
	}

	logger := createLogger(env)
	defer func() { _ = logger.Sync() }()

	shared, kv, err := openShared(env)
	if err != nil {
		return err
	}
	defer kv.Close()

	tz, err := env.Location()
	if err != nil {
		return err
	}

	pm := infra.NewProcessManager()

	// Refuse to double-run: a live heartbeat from another PID means a main
	// process already owns the triggers.
	if pid := shared.MainPID(); pid != 0 && pid != pm.GetCurrentPID() && pm.IsRunning(pid) {
		if time.Since(shared.LastHeartbeat()) < 2*env.HeartbeatInterval {
			return fmt.Errorf("main process already running (pid %d)", pid)
		}
	}

	client := schedule.NewClient(env.CalculatorURL, tz)
	cache := schedule.NewCache(client, shared, logger)
	location := infra.NewStoreLocationProvider(shared, domain.Location{
		Lat: env.FallbackLat,
		Lon: env.FallbackLon,
	})
	triggers := infra.NewTimerTriggers(logger)
	defer triggers.Close()
	authority := infra.NewProcessAuthority(pm, true, logger)
	entitlements := infra.NewStoreEntitlements(shared)
	machine := unlock.NewMachine(shared, authority, logger)
	sched := scheduler.New(cache, shared, location, triggers, authority,
		entitlements, machine, logger)

	// Settings saved in this process push straight into the scheduler.
	focus := config.NewFocusService(shared, logger)
	focus.OnChange(func(reason string) {
		if err := sched.Recompute(cmd.Context(), reason); err != nil {
			logger.Warn("recompute after config change incomplete", zap.Error(err))
		}
	})

	runner := daemon.NewRunner(daemon.RunnerConfig{
		ReconcileInterval: env.ReconcileInterval,
		HeartbeatInterval: env.HeartbeatInterval,
		RefreshInterval:   env.RefreshInterval,
		ScheduleWait:      env.ScheduleWait,
	}, sched, machine, cache, location, triggers, authority, shared, pm, logger)

	ctx, cancel := context.WithCancel(cmd.Context())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigChan
		logger.Info("received shutdown signal")
		cancel()
	}()

	fmt.Printf("salahguard main process started (pid %d, data %s)\n",
		pm.GetCurrentPID(), env.DataDir)

	if err := runner.Run(ctx); err != nil && err != context.Canceled {
		return err
	}
	return nil
}

func runStatus(cmd *cobra.Command, args []string) error {
	env, err := config.LoadEnv()
	if err != nil {
		return err
	}
	shared, kv, err := openShared(env)
	if err != nil {
		return err
	}
	defer kv.Close()

	pm := infra.NewProcessManager()
	now := time.Now()

	if statusJSON {
		return printSnapshot(cmd.Context(), env, shared, now)
	}

	fmt.Println("\n=== salahguard Status ===")

	pid := shared.MainPID()
	beat := shared.LastHeartbeat()
	switch {
	case pid == 0:
		fmt.Println("Main process: never started")
	case pm.IsRunning(pid) && now.Sub(beat) < 2*env.HeartbeatInterval:
		fmt.Printf("Main process: RUNNING (pid %d, heartbeat %s ago)\n",
			pid, now.Sub(beat).Round(time.Second))
	default:
		fmt.Printf("Main process: DOWN (last pid %d, heartbeat %s ago)\n",
			pid, now.Sub(beat).Round(time.Second))
	}

	state := shared.RuntimeState()
	phase := state.EffectivePhase(now)
	fmt.Printf("Window phase: %s\n", phase)
	if phase == domain.PhaseActiveWaiting || phase == domain.PhaseActiveReady {
		fmt.Printf("  Prayer: %s at %s\n", state.CurrentPrayer, state.PrayerAt.Format("15:04"))
		fmt.Printf("  Blocking until: %s\n", state.WindowEnd.Format("15:04"))
		fmt.Printf("  Early unlock from: %s\n", state.EarlyUnlockAt.Format("15:04"))
	}
	if shared.AppsActuallyBlocked() {
		fmt.Println("  Apps restricted: yes")
	}
	if shared.VoiceUnlockRequested() {
		fmt.Println("  Strict-mode unlock pending: confirm with 'confirm-prayed'")
	}

	cfg := shared.FocusConfig()
	if cfg.Enabled() {
		names := make([]string, 0, len(cfg.SelectedPrayers))
		for _, p := range cfg.SelectedPrayers {
			names = append(names, string(p))
		}
		fmt.Printf("\nBlocking prayers: %s\n", strings.Join(names, ", "))
		fmt.Printf("Duration: %d min, buffer: %d min, strict: %v\n",
			cfg.DurationMinutes, cfg.BufferMinutes, cfg.StrictMode)
		fmt.Printf("Restricted apps: %s\n", strings.Join(cfg.AppSelection, ", "))
	} else {
		fmt.Println("\nBlocking disabled (no prayers selected)")
	}

	if completed := shared.CompletedToday(now); len(completed) > 0 {
		names := make([]string, 0, len(completed))
		for _, p := range completed {
			names = append(names, string(p))
		}
		fmt.Printf("Completed today: %s\n", strings.Join(names, ", "))
	}

	registered := shared.RegisteredWindows()
	fmt.Printf("\nRegistered windows: %d\n", len(registered))

	fmt.Println("=========================")
	return nil
}

// printSnapshot emits the machine-readable status view. Window derivation
// runs regardless of authorization so callers can see what would block.
func printSnapshot(ctx context.Context, env config.Env, shared *store.Shared, now time.Time) error {
	logger := zap.NewNop()
	tz, err := env.Location()
	if err != nil {
		return err
	}
	client := schedule.NewClient(env.CalculatorURL, tz)
	cache := schedule.NewCache(client, shared, logger)
	location := infra.NewStoreLocationProvider(shared, domain.Location{
		Lat: env.FallbackLat,
		Lon: env.FallbackLon,
	})

	state := shared.RuntimeState()
	state.Phase = state.EffectivePhase(now)
	cfg := shared.FocusConfig()

	snap := domain.Snapshot{
		Runtime:      state,
		Config:       cfg,
		Completed:    shared.CompletedToday(now),
		VoicePending: shared.VoiceUnlockRequested(),
	}

	if loc, err := location.Current(ctx); err == nil {
		if days, err := cache.Get(ctx, loc); err == nil {
			all := scheduler.DeriveWindows(days, cfg, now.Add(-24*time.Hour))
			snap.TodaysWindows = scheduler.TodayOnly(all, now)
		}
	}

	out, err := json.MarshalIndent(snap, "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(out))
	return nil
}

func runConfigure(cmd *cobra.Command, args []string) error {
	env, err := config.LoadEnv()
	if err != nil {
		return err
	}
	logger, _ := zap.NewDevelopment()
	defer func() { _ = logger.Sync() }()

	shared, kv, err := openShared(env)
	if err != nil {
		return err
	}
	defer kv.Close()

	var prayers []domain.PrayerName
	for _, raw := range cfgPrayers {
		name, ok := parsePrayer(raw)
		if !ok {
			return fmt.Errorf("unknown prayer %q", raw)
		}
		prayers = append(prayers, name)
	}

	focus := config.NewFocusService(shared, logger)
	saved, err := focus.Update(domain.FocusConfig{
		SelectedPrayers: prayers,
		DurationMinutes: cfgDuration,
		BufferMinutes:   cfgBuffer,
		StrictMode:      cfgStrict,
		AppSelection:    cfgApps,
	})
	if err != nil {
		return err
	}

	fmt.Printf("Saved: %d prayers, %d min duration, %d min buffer, strict=%v\n",
		len(saved.SelectedPrayers), saved.DurationMinutes, saved.BufferMinutes, saved.StrictMode)
	fmt.Println("The main process will pick this up on its next check.")
	return nil
}

func runRecompute(cmd *cobra.Command, args []string) error {
	env, err := config.LoadEnv()
	if err != nil {
		return err
	}
	shared, kv, err := openShared(env)
	if err != nil {
		return err
	}
	defer kv.Close()

	if err := shared.SetRecomputeRequested(); err != nil {
		return err
	}
	fmt.Println("Recompute requested.")
	return nil
}

func runShield(cmd *cobra.Command, args []string) error {
	env, err := config.LoadEnv()
	if err != nil {
		return err
	}
	shared, kv, err := openShared(env)
	if err != nil {
		return err
	}
	defer kv.Close()

	content := shield.Render(shared, time.Now())
	out, err := json.MarshalIndent(content, "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(out))
	return nil
}

func runShieldAction(cmd *cobra.Command, args []string) error {
	env, err := config.LoadEnv()
	if err != nil {
		return err
	}
	logger, _ := zap.NewDevelopment()
	defer func() { _ = logger.Sync() }()

	shared, kv, err := openShared(env)
	if err != nil {
		return err
	}
	defer kv.Close()

	var tap shield.Tap
	switch tapKind {
	case "primary":
		tap = shield.TapPrimary
	case "secondary":
		tap = shield.TapSecondary
	default:
		return fmt.Errorf("unknown tap %q", tapKind)
	}

	handler := shield.NewActionHandler(shared, infra.NewDesktopNotifier(logger), logger)
	decision := handler.Handle(tap, time.Now())
	fmt.Println(string(decision))
	return nil
}

func widgetSurface(env config.Env, shared *store.Shared, logger *zap.Logger) (*widget.Surface, error) {
	tz, err := env.Location()
	if err != nil {
		return nil, err
	}
	client := schedule.NewClient(env.CalculatorURL, tz)
	cache := schedule.NewCache(client, shared, logger)
	location := infra.NewStoreLocationProvider(shared, domain.Location{
		Lat: env.FallbackLat,
		Lon: env.FallbackLon,
	})
	return widget.NewSurface(shared, cache, location, logger), nil
}

func runWidget(cmd *cobra.Command, args []string) error {
	env, err := config.LoadEnv()
	if err != nil {
		return err
	}
	logger, _ := zap.NewDevelopment()
	defer func() { _ = logger.Sync() }()

	shared, kv, err := openShared(env)
	if err != nil {
		return err
	}
	defer kv.Close()

	surface, err := widgetSurface(env, shared, logger)
	if err != nil {
		return err
	}

	view := surface.View(cmd.Context())
	out, err := json.MarshalIndent(view, "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(out))
	return nil
}

func runWidgetMark(cmd *cobra.Command, args []string) error {
	env, err := config.LoadEnv()
	if err != nil {
		return err
	}
	logger, _ := zap.NewDevelopment()
	defer func() { _ = logger.Sync() }()

	shared, kv, err := openShared(env)
	if err != nil {
		return err
	}
	defer kv.Close()

	name, ok := parsePrayer(args[0])
	if !ok {
		return fmt.Errorf("unknown prayer %q", args[0])
	}

	surface, err := widgetSurface(env, shared, logger)
	if err != nil {
		return err
	}
	if surface.MarkPrayerCompleted(name) {
		fmt.Printf("%s marked completed.\n", name)
	} else {
		fmt.Printf("%s not recorded (already marked or within cooldown).\n", name)
	}
	return nil
}

func runWidgetUnlock(cmd *cobra.Command, args []string) error {
	env, err := config.LoadEnv()
	if err != nil {
		return err
	}
	logger, _ := zap.NewDevelopment()
	defer func() { _ = logger.Sync() }()

	shared, kv, err := openShared(env)
	if err != nil {
		return err
	}
	defer kv.Close()

	surface, err := widgetSurface(env, shared, logger)
	if err != nil {
		return err
	}
	surface.RequestEarlyUnlock()
	fmt.Println("Early unlock requested. The main process fulfills it once the grace period has passed.")
	return nil
}

func runConfirmPrayed(cmd *cobra.Command, args []string) error {
	env, err := config.LoadEnv()
	if err != nil {
		return err
	}
	logger, _ := zap.NewDevelopment()
	defer func() { _ = logger.Sync() }()

	shared, kv, err := openShared(env)
	if err != nil {
		return err
	}
	defer kv.Close()

	pm := infra.NewProcessManager()
	authority := infra.NewProcessAuthority(pm, true, logger)
	machine := unlock.NewMachine(shared, authority, logger)

	if err := machine.ConfirmVoiceUnlock(cmd.Context()); err != nil {
		return err
	}
	fmt.Println("Unlock confirmed.")
	return nil
}

func runEntitle(cmd *cobra.Command, args []string) error {
	env, err := config.LoadEnv()
	if err != nil {
		return err
	}
	shared, kv, err := openShared(env)
	if err != nil {
		return err
	}
	defer kv.Close()

	if err := shared.SetEntitlementUnlocked(entitleUnlocked); err != nil {
		return err
	}
	if err := shared.SetRecomputeRequested(); err != nil {
		return err
	}
	fmt.Printf("Entitlement unlocked=%v recorded.\n", entitleUnlocked)
	return nil
}

func runLocate(cmd *cobra.Command, args []string) error {
	env, err := config.LoadEnv()
	if err != nil {
		return err
	}
	shared, kv, err := openShared(env)
	if err != nil {
		return err
	}
	defer kv.Close()

	if err := shared.WriteLocationOverride(domain.Location{Lat: locateLat, Lon: locateLon}); err != nil {
		return err
	}
	if err := shared.SetRecomputeRequested(); err != nil {
		return err
	}
	fmt.Printf("Location %.4f,%.4f recorded.\n", locateLat, locateLon)
	return nil
}

func parsePrayer(raw string) (domain.PrayerName, bool) {
	for _, p := range domain.AllPrayers() {
		if strings.EqualFold(raw, string(p)) {
			return p, true
		}
	}
	return "", false
}

func createLogger(env config.Env) *zap.Logger {
	cfg := zap.NewProductionConfig()
	cfg.OutputPaths = []string{env.LogPath}
	cfg.ErrorOutputPaths = []string{env.LogPath}
	cfg.EncoderConfig.TimeKey = "time"
	cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder

	logger, err := cfg.Build()
	if err != nil {
		// Fallback to stderr if file logging fails
		logger, _ = zap.NewProduction()
	}
	return logger
}

func runVersion(cmd *cobra.Command, args []string) {
	if jsonOutput {
		fmt.Printf(`{"version":"%s","commit":"%s","build_time":"%s"}`+"\n",
			Version, Commit, BuildTime)
	} else {
		fmt.Printf("salahguard %s (commit: %s, built: %s)\n",
			Version, Commit, BuildTime)
	}
}
