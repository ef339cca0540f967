package shield

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/mizanapps/salahguard/internal/domain"
	"github.com/mizanapps/salahguard/internal/store"
)

// mockNotifier implements domain.Notifier for testing.
type mockNotifier struct {
	notifications []string
}

func (m *mockNotifier) Notify(title, body string) error {
	m.notifications = append(m.notifications, title)
	return nil
}

func activeShared(t *testing.T, strict bool) (*store.Shared, domain.WindowRuntimeState) {
	return seedWindow(t, strict)
}

func TestActionHandler_AlwaysKeepsRestricting(t *testing.T) {
	shared, state := activeShared(t, false)
	h := NewActionHandler(shared, &mockNotifier{}, zap.NewNop())

	// Every tap, in every phase, keeps the restriction: only the main
	// process lifts.
	for _, now := range []time.Time{
		state.EarlyUnlockAt.Add(-time.Minute),
		state.EarlyUnlockAt.Add(time.Minute),
	} {
		for _, tap := range []Tap{TapPrimary, TapSecondary} {
			assert.Equal(t, DecisionKeepRestricting, h.Handle(tap, now))
		}
	}
}

func TestActionHandler_PrimarySetsUnlockFlag(t *testing.T) {
	shared, state := activeShared(t, false)
	h := NewActionHandler(shared, &mockNotifier{}, zap.NewNop())

	h.Handle(TapPrimary, state.EarlyUnlockAt.Add(time.Minute))
	assert.True(t, shared.UserRequestedEarlyUnlock())
	assert.False(t, shared.VoiceUnlockRequested())
}

func TestActionHandler_SecondaryIsNoOp(t *testing.T) {
	shared, state := activeShared(t, false)
	h := NewActionHandler(shared, &mockNotifier{}, zap.NewNop())

	h.Handle(TapSecondary, state.EarlyUnlockAt)
	assert.False(t, shared.UserRequestedEarlyUnlock())
}

func TestActionHandler_StrictModeSetsVoiceFlagAndNotifies(t *testing.T) {
	shared, state := activeShared(t, true)
	notifier := &mockNotifier{}
	h := NewActionHandler(shared, notifier, zap.NewNop())

	h.Handle(TapPrimary, state.EarlyUnlockAt.Add(time.Minute))

	assert.True(t, shared.VoiceUnlockRequested())
	assert.False(t, shared.UserRequestedEarlyUnlock())
	assert.Len(t, notifier.notifications, 1)
}

func TestActionHandler_StrictModeReReadBeatsStaleRecord(t *testing.T) {
	shared, state := activeShared(t, false)
	h := NewActionHandler(shared, &mockNotifier{}, zap.NewNop())

	// Strict mode flipped on after the window started; the record still
	// says non-strict but the handler re-reads the mirror.
	require.NoError(t, shared.SetStrictMode(true))

	h.Handle(TapPrimary, state.EarlyUnlockAt)
	assert.True(t, shared.VoiceUnlockRequested())
	assert.False(t, shared.UserRequestedEarlyUnlock())
}

func TestActionHandler_InactiveWindowNoOp(t *testing.T) {
	shared := store.NewShared(store.NewMemory())
	h := NewActionHandler(shared, &mockNotifier{}, zap.NewNop())

	decision := h.Handle(TapPrimary, time.Now())
	assert.Equal(t, DecisionKeepRestricting, decision)
	assert.False(t, shared.UserRequestedEarlyUnlock())
	assert.False(t, shared.VoiceUnlockRequested())
}
