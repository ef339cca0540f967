package unlock

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/mizanapps/salahguard/internal/domain"
	"github.com/mizanapps/salahguard/internal/store"
)

// mockAuthority implements domain.RestrictionAuthority for testing.
type mockAuthority struct {
	authorized bool
	applied    bool
	applyCalls int
	liftCalls  int
	applyErr   error
}

func (m *mockAuthority) Authorized() bool { return m.authorized }

func (m *mockAuthority) Apply(ctx context.Context, targets []string) error {
	if m.applyErr != nil {
		return m.applyErr
	}
	m.applied = true
	m.applyCalls++
	return nil
}

func (m *mockAuthority) Lift(ctx context.Context) error {
	m.applied = false
	m.liftCalls++
	return nil
}

func (m *mockAuthority) Enforce(ctx context.Context) error { return nil }

type fixture struct {
	shared    *store.Shared
	authority *mockAuthority
	machine   *Machine
	now       time.Time
}

func newFixture(t *testing.T, strict bool) *fixture {
	t.Helper()

	shared := store.NewShared(store.NewMemory())
	require.NoError(t, shared.WriteFocusConfig(domain.FocusConfig{
		SelectedPrayers: []domain.PrayerName{domain.Fajr},
		DurationMinutes: 30,
		StrictMode:      strict,
		AppSelection:    []string{"distracting-app"},
	}))

	f := &fixture{
		shared:    shared,
		authority: &mockAuthority{authorized: true},
		now:       time.Date(2025, 3, 10, 5, 30, 0, 0, time.UTC),
	}
	f.machine = NewMachine(shared, f.authority, zap.NewNop()).
		WithClock(func() time.Time { return f.now })
	return f
}

func (f *fixture) window() domain.BlockingWindow {
	return domain.NewBlockingWindow(
		domain.PrayerTime{Name: domain.Fajr, At: time.Date(2025, 3, 10, 5, 30, 0, 0, time.UTC)},
		f.shared.FocusConfig(),
	)
}

func TestMachine_WindowStartAppliesAndSeeds(t *testing.T) {
	f := newFixture(t, false)

	require.NoError(t, f.machine.OnWindowStart(context.Background(), f.window()))

	assert.True(t, f.authority.applied)
	assert.True(t, f.shared.AppsActuallyBlocked())

	state := f.shared.RuntimeState()
	assert.Equal(t, domain.PhaseActiveWaiting, state.Phase)
	assert.Equal(t, domain.Fajr, state.CurrentPrayer)
}

func TestMachine_WindowStartPropagatesApplyFailure(t *testing.T) {
	f := newFixture(t, false)
	f.authority.applyErr = errors.New("authority revoked")

	err := f.machine.OnWindowStart(context.Background(), f.window())
	assert.Error(t, err)
	assert.Equal(t, domain.PhaseIdle, f.shared.RuntimeState().Phase)
}

func TestMachine_WindowEndLiftsAtFullDuration(t *testing.T) {
	f := newFixture(t, false)
	w := f.window()
	require.NoError(t, f.machine.OnWindowStart(context.Background(), w))

	f.now = w.End
	require.NoError(t, f.machine.OnWindowEnd(context.Background(), w))

	assert.False(t, f.authority.applied)
	assert.False(t, f.shared.AppsActuallyBlocked())
	assert.Equal(t, domain.PhaseIdle, f.shared.RuntimeState().Phase)
	// Full-duration fallback does not assume the prayer was performed.
	assert.Empty(t, f.shared.CompletedToday(f.now))
}

func TestMachine_EarlyUnlockBeforeGraceStaysPending(t *testing.T) {
	f := newFixture(t, false)
	w := f.window()
	require.NoError(t, f.machine.OnWindowStart(context.Background(), w))

	// Request arrives two minutes in, grace is five.
	f.now = w.PrayerAt.Add(2 * time.Minute)
	require.NoError(t, f.shared.SetUserRequestedEarlyUnlock())
	require.NoError(t, f.machine.Reconcile(context.Background()))

	// Still blocked, request still pending.
	assert.True(t, f.authority.applied)
	assert.True(t, f.shared.UserRequestedEarlyUnlock())

	// Once the grace passes, the pending request is fulfilled.
	f.now = w.EarlyUnlockAt.Add(time.Second)
	require.NoError(t, f.machine.Reconcile(context.Background()))

	assert.False(t, f.authority.applied)
	assert.False(t, f.shared.UserRequestedEarlyUnlock())
	assert.Equal(t, domain.PhaseIdle, f.shared.RuntimeState().Phase)
	assert.Contains(t, f.shared.CompletedToday(f.now), domain.Fajr)
}

func TestMachine_StrictModeIsolation(t *testing.T) {
	f := newFixture(t, true)
	w := f.window()
	require.NoError(t, f.machine.OnWindowStart(context.Background(), w))

	// No sequence of generic unlock requests ever closes the window.
	for _, offset := range []time.Duration{time.Minute, 6 * time.Minute, 20 * time.Minute} {
		f.now = w.PrayerAt.Add(offset)
		require.NoError(t, f.shared.SetUserRequestedEarlyUnlock())
		require.NoError(t, f.machine.Reconcile(context.Background()))

		state := f.shared.RuntimeState()
		assert.True(t, state.Active(), "closed at offset %s", offset)
		assert.True(t, f.authority.applied)
	}

	// Only the dedicated voice-confirmation path closes early.
	require.NoError(t, f.shared.SetVoiceUnlockRequested())
	require.NoError(t, f.machine.ConfirmVoiceUnlock(context.Background()))

	assert.False(t, f.authority.applied)
	assert.Equal(t, domain.PhaseIdle, f.shared.RuntimeState().Phase)
	assert.False(t, f.shared.VoiceUnlockRequested())
	assert.Contains(t, f.shared.CompletedToday(f.now), domain.Fajr)
}

func TestMachine_ReconcileClosesMissedWindowEnd(t *testing.T) {
	f := newFixture(t, false)
	w := f.window()
	require.NoError(t, f.machine.OnWindowStart(context.Background(), w))

	// Process was dead when the end trigger should have fired.
	f.now = w.End.Add(10 * time.Minute)
	require.NoError(t, f.machine.Reconcile(context.Background()))

	assert.False(t, f.authority.applied)
	assert.Equal(t, domain.PhaseIdle, f.shared.RuntimeState().Phase)
}

func TestMachine_ReconcileLiftsOrphanedRestriction(t *testing.T) {
	f := newFixture(t, false)

	// Restriction flag set with no active window (torn state).
	require.NoError(t, f.shared.SetAppsActuallyBlocked(true))
	f.authority.applied = true

	require.NoError(t, f.machine.Reconcile(context.Background()))
	assert.False(t, f.authority.applied)
	assert.False(t, f.shared.AppsActuallyBlocked())
}

func TestMachine_StateResolvesReadyLazily(t *testing.T) {
	f := newFixture(t, false)
	w := f.window()
	require.NoError(t, f.machine.OnWindowStart(context.Background(), w))

	f.now = w.EarlyUnlockAt.Add(time.Second)

	// The stored phase is still Waiting; the resolved one is Ready. This
	// is the relaunch-after-kill scenario: no callback needed.
	assert.Equal(t, domain.PhaseActiveWaiting, f.shared.RuntimeState().Phase)
	assert.Equal(t, domain.PhaseActiveReady, f.machine.State().Phase)
}

func TestMachine_SecondRequestIsNoOpAfterClear(t *testing.T) {
	f := newFixture(t, false)
	w := f.window()
	require.NoError(t, f.machine.OnWindowStart(context.Background(), w))

	f.now = w.EarlyUnlockAt.Add(time.Second)
	require.NoError(t, f.shared.SetUserRequestedEarlyUnlock())
	require.NoError(t, f.machine.Reconcile(context.Background()))
	liftsAfterFirst := f.authority.liftCalls

	// A racing second request lands after the first was observed and
	// cleared: nothing more to do, no second lift.
	require.NoError(t, f.shared.SetUserRequestedEarlyUnlock())
	require.NoError(t, f.machine.Reconcile(context.Background()))
	assert.Equal(t, liftsAfterFirst, f.authority.liftCalls)
	assert.False(t, f.shared.UserRequestedEarlyUnlock())
}

func TestMachine_OnRecomputeResetsClosed(t *testing.T) {
	f := newFixture(t, false)

	state := domain.WindowRuntimeState{Phase: domain.PhaseClosed, CurrentPrayer: domain.Fajr}
	require.NoError(t, f.shared.WriteRuntimeState(state))

	require.NoError(t, f.machine.OnRecompute(context.Background()))
	assert.Equal(t, domain.PhaseIdle, f.shared.RuntimeState().Phase)
}
