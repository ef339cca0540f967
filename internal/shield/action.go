package shield

import (
	"time"

	"go.uber.org/zap"

	"github.com/mizanapps/salahguard/internal/domain"
	"github.com/mizanapps/salahguard/internal/store"
)

// Tap identifies which overlay button the user pressed.
type Tap string

const (
	TapPrimary   Tap = "primary"
	TapSecondary Tap = "secondary"
)

// Decision is the only thing the handler can tell the OS. It is always
// keep-restricting: lifting happens when the main process next observes
// the request flag. The handler's job is to signal intent durably before
// it is evicted.
type Decision string

const DecisionKeepRestricting Decision = "keep_restricting"

// ActionHandler processes one overlay tap per invocation.
type ActionHandler struct {
	shared   *store.Shared
	notifier domain.Notifier
	logger   *zap.Logger
}

// NewActionHandler creates the tap handler.
func NewActionHandler(shared *store.Shared, notifier domain.Notifier, logger *zap.Logger) *ActionHandler {
	return &ActionHandler{shared: shared, notifier: notifier, logger: logger}
}

// Handle records the user's intent and always returns keep-restricting.
// Errors are swallowed into the decision: there is no caller to report
// to beyond the OS.
func (h *ActionHandler) Handle(tap Tap, now time.Time) Decision {
	state := h.shared.RuntimeState()

	if !state.Active() {
		// Stale overlay for a window that already closed: defer to the
		// main process's next reconcile.
		h.logger.Info("tap on inactive window, no-op", zap.String("tap", string(tap)))
		return DecisionKeepRestricting
	}

	if tap != TapPrimary {
		return DecisionKeepRestricting
	}

	// Strict mode is re-read from the store immediately before choosing
	// which flag to set. The handler cannot know strictness at tap time
	// without racing the main process, so the store's mirror is the
	// authority.
	if h.shared.StrictMode() {
		if err := h.shared.SetVoiceUnlockRequested(); err != nil {
			h.logger.Error("failed to record voice unlock request", zap.Error(err))
			return DecisionKeepRestricting
		}
		if err := h.notifier.Notify(
			"Strict mode",
			"Open the app to confirm you have prayed.",
		); err != nil {
			h.logger.Warn("failed to post strict-mode reminder", zap.Error(err))
		}
		h.logger.Info("voice unlock requested",
			zap.String("prayer", string(state.CurrentPrayer)))
		return DecisionKeepRestricting
	}

	if err := h.shared.SetUserRequestedEarlyUnlock(); err != nil {
		h.logger.Error("failed to record unlock request", zap.Error(err))
		return DecisionKeepRestricting
	}

	if state.EffectivePhase(now) == domain.PhaseActiveWaiting {
		h.logger.Info("unlock requested before grace period, pending",
			zap.Time("ready_at", state.EarlyUnlockAt))
	} else {
		h.logger.Info("unlock requested",
			zap.String("prayer", string(state.CurrentPrayer)))
	}
	return DecisionKeepRestricting
}
