package infra

import (
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/mizanapps/salahguard/internal/domain"
)

// triggerQuota mirrors the OS monitor's registration ceiling: a window
// arms two triggers and at most 20 future windows are retained.
const triggerQuota = 2 * domain.MaxFutureWindows

// TimerTriggers implements domain.TriggerScheduler with wall-clock
// timers firing into an event channel consumed by the main process's
// event loop. Cancellation is unregistering before the timer fires.
type TimerTriggers struct {
	logger *zap.Logger
	events chan domain.TriggerEvent

	mu     sync.Mutex
	armed  map[string]*time.Timer
	closed bool
}

// NewTimerTriggers creates the trigger scheduler.
func NewTimerTriggers(logger *zap.Logger) *TimerTriggers {
	return &TimerTriggers{
		logger: logger,
		events: make(chan domain.TriggerEvent, 16),
		armed:  make(map[string]*time.Timer),
	}
}

// Arm schedules a trigger at the given instant. Re-arming an existing ID
// replaces it. Declines with ErrTriggerQuota when the ceiling is hit.
func (t *TimerTriggers) Arm(id string, at time.Time) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if old, ok := t.armed[id]; ok {
		old.Stop()
		delete(t.armed, id)
	}
	if len(t.armed) >= triggerQuota {
		return domain.ErrTriggerQuota
	}

	delay := time.Until(at)
	if delay < 0 {
		delay = 0
	}

	t.armed[id] = time.AfterFunc(delay, func() {
		t.fire(id, at)
	})
	t.logger.Debug("trigger armed", zap.String("id", id), zap.Time("at", at))
	return nil
}

func (t *TimerTriggers) fire(id string, at time.Time) {
	t.mu.Lock()
	if _, ok := t.armed[id]; !ok {
		// Cancelled between firing and delivery.
		t.mu.Unlock()
		return
	}
	delete(t.armed, id)
	closed := t.closed
	t.mu.Unlock()

	if closed {
		return
	}

	ev := domain.TriggerEvent{ID: id, At: at, Fired: time.Now()}
	select {
	case t.events <- ev:
	default:
		// The event loop is wedged; dropping is safer than blocking a
		// timer goroutine forever. The reconcile ticker catches up.
		t.logger.Warn("trigger event dropped", zap.String("id", id))
	}
}

// Cancel unregisters an armed trigger. Unknown IDs are ignored.
func (t *TimerTriggers) Cancel(id string) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if timer, ok := t.armed[id]; ok {
		timer.Stop()
		delete(t.armed, id)
	}
	return nil
}

// Armed returns the IDs of currently armed triggers.
func (t *TimerTriggers) Armed() []string {
	t.mu.Lock()
	defer t.mu.Unlock()

	ids := make([]string, 0, len(t.armed))
	for id := range t.armed {
		ids = append(ids, id)
	}
	return ids
}

// Events is the channel trigger callbacks arrive on.
func (t *TimerTriggers) Events() <-chan domain.TriggerEvent {
	return t.events
}

// Close stops all timers and stops delivering events.
func (t *TimerTriggers) Close() {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.closed = true
	for id, timer := range t.armed {
		timer.Stop()
		delete(t.armed, id)
	}
}

// Ensure TimerTriggers implements domain.TriggerScheduler.
var _ domain.TriggerScheduler = (*TimerTriggers)(nil)
