//go:build integration

package integration

import (
	"context"
	"os"
	"sync"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"go.uber.org/zap"

	"github.com/mizanapps/salahguard/internal/config"
	"github.com/mizanapps/salahguard/internal/domain"
	"github.com/mizanapps/salahguard/internal/schedule"
	"github.com/mizanapps/salahguard/internal/scheduler"
	"github.com/mizanapps/salahguard/internal/shield"
	"github.com/mizanapps/salahguard/internal/store"
	"github.com/mizanapps/salahguard/internal/unlock"
	"github.com/mizanapps/salahguard/internal/widget"
)

// fixedSource serves the same daily schedule for any requested day.
type fixedSource struct{}

func (fixedSource) Compute(ctx context.Context, loc domain.Location, day time.Time) ([]domain.PrayerTime, error) {
	mk := func(name domain.PrayerName, h, min int) domain.PrayerTime {
		return domain.PrayerTime{
			Name: name,
			At:   time.Date(day.Year(), day.Month(), day.Day(), h, min, 0, 0, day.Location()),
		}
	}
	return []domain.PrayerTime{
		mk(domain.Fajr, 5, 30),
		mk(domain.Dhuhr, 13, 0),
		mk(domain.Asr, 16, 45),
		mk(domain.Maghrib, 19, 20),
		mk(domain.Isha, 20, 50),
	}, nil
}

type fixedLocation struct{}

func (fixedLocation) Current(ctx context.Context) (domain.Location, error) {
	return domain.Location{Lat: 30.04, Lon: 31.24}, nil
}

type recordingTriggers struct {
	mu     sync.Mutex
	armed  map[string]time.Time
	events chan domain.TriggerEvent
}

func newRecordingTriggers() *recordingTriggers {
	return &recordingTriggers{
		armed:  make(map[string]time.Time),
		events: make(chan domain.TriggerEvent, 8),
	}
}

func (r *recordingTriggers) Arm(id string, at time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.armed[id] = at
	return nil
}

func (r *recordingTriggers) Cancel(id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.armed, id)
	return nil
}

func (r *recordingTriggers) Armed() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	ids := make([]string, 0, len(r.armed))
	for id := range r.armed {
		ids = append(ids, id)
	}
	return ids
}

func (r *recordingTriggers) Events() <-chan domain.TriggerEvent { return r.events }

type recordingAuthority struct {
	applied []string
	lifts   int
}

func (r *recordingAuthority) Authorized() bool { return true }

func (r *recordingAuthority) Apply(ctx context.Context, targets []string) error {
	r.applied = targets
	return nil
}

func (r *recordingAuthority) Lift(ctx context.Context) error {
	r.applied = nil
	r.lifts++
	return nil
}

func (r *recordingAuthority) Enforce(ctx context.Context) error { return nil }

type recordingNotifier struct{ posted []string }

func (r *recordingNotifier) Notify(title, body string) error {
	r.posted = append(r.posted, title)
	return nil
}

type alwaysUnlocked struct{}

func (alwaysUnlocked) BlockingUnlocked() bool { return true }

var _ = Describe("Blocking lifecycle across execution contexts", func() {
	var (
		tmpDir string
		ctx    context.Context
		logger *zap.Logger

		// Two independent connections to the same encrypted store, one per
		// simulated execution context.
		mainKV   *store.KV
		otherKV  *store.KV
		mainSide *store.Shared
		appSide  *store.Shared

		clock     time.Time
		clockFn   func() time.Time
		triggers  *recordingTriggers
		authority *recordingAuthority
		machine   *unlock.Machine
		sched     *scheduler.Scheduler
	)

	BeforeEach(func() {
		var err error
		tmpDir, err = os.MkdirTemp("", "salahguard-integration-*")
		Expect(err).NotTo(HaveOccurred())

		ctx = context.Background()
		logger = zap.NewNop()

		keys := store.NewFileKeyProvider(tmpDir)
		key, err := store.EnsureKey(keys)
		Expect(err).NotTo(HaveOccurred())

		mainKV, err = store.Open(tmpDir, key)
		Expect(err).NotTo(HaveOccurred())
		otherKV, err = store.Open(tmpDir, key)
		Expect(err).NotTo(HaveOccurred())

		mainSide = store.NewShared(mainKV)
		appSide = store.NewShared(otherKV)

		// 05:00 on a fixed day; Fajr is at 05:30.
		clock = time.Date(2025, 3, 10, 5, 0, 0, 0, time.UTC)
		clockFn = func() time.Time { return clock }

		triggers = newRecordingTriggers()
		authority = &recordingAuthority{}

		cache := schedule.NewCache(fixedSource{}, mainSide, logger).WithClock(clockFn)
		machine = unlock.NewMachine(mainSide, authority, logger).WithClock(clockFn)
		sched = scheduler.New(cache, mainSide, fixedLocation{}, triggers, authority,
			alwaysUnlocked{}, machine, logger).WithClock(clockFn)

		// The settings screen saves from the app side; the flag path is
		// exercised on purpose (no in-process scheduler there).
		focus := config.NewFocusService(appSide, logger)
		_, err = focus.Update(domain.FocusConfig{
			SelectedPrayers: []domain.PrayerName{domain.Fajr, domain.Dhuhr},
			DurationMinutes: 30,
			BufferMinutes:   5,
			AppSelection:    []string{"distracting-app"},
		})
		Expect(err).NotTo(HaveOccurred())
	})

	AfterEach(func() {
		mainKV.Close()
		otherKV.Close()
		os.RemoveAll(tmpDir)
	})

	fireStart := func(prayer domain.PrayerName) domain.BlockingWindow {
		var window domain.BlockingWindow
		var id string
		for wid, w := range mainSide.RegisteredWindows() {
			if w.Prayer == prayer {
				window, id = w, wid
			}
		}
		Expect(id).NotTo(BeEmpty())
		sched.HandleTrigger(ctx, domain.TriggerEvent{ID: "start:" + id, Fired: clock})
		return window
	}

	Describe("the regular early-unlock path", func() {
		It("blocks at window start, waits out the grace period, then unlocks and marks the prayer", func() {
			Expect(mainSide.RecomputeRequested()).To(BeTrue())
			Expect(mainSide.ClearRecomputeRequested()).To(Succeed())
			Expect(sched.Recompute(ctx, "settings saved")).To(Succeed())
			Expect(triggers.Armed()).NotTo(BeEmpty())

			// Window start: 05:25 (five minute buffer before Fajr).
			clock = time.Date(2025, 3, 10, 5, 25, 0, 0, time.UTC)
			window := fireStart(domain.Fajr)
			Expect(authority.applied).To(Equal([]string{"distracting-app"}))
			Expect(appSide.AppsActuallyBlocked()).To(BeTrue())

			// The overlay in its own context sees the countdown.
			content := shield.Render(appSide, clock)
			Expect(content.Title).To(Equal("Time for Fajr"))
			Expect(content.PrimaryLabel).To(Equal("Please wait"))

			// Tap before the grace period: recorded, not yet fulfilled.
			notifier := &recordingNotifier{}
			handler := shield.NewActionHandler(appSide, notifier, logger)
			Expect(handler.Handle(shield.TapPrimary, clock)).To(Equal(shield.DecisionKeepRestricting))
			Expect(machine.Reconcile(ctx)).To(Succeed())
			Expect(appSide.AppsActuallyBlocked()).To(BeTrue())

			// Past the grace period (prayer time + 5m) the pending request
			// is fulfilled on the next reconcile.
			clock = window.EarlyUnlockAt.Add(time.Second)
			Expect(machine.Reconcile(ctx)).To(Succeed())
			Expect(appSide.AppsActuallyBlocked()).To(BeFalse())
			Expect(authority.lifts).To(Equal(1))

			// Early unlock counts as completion.
			Expect(appSide.CompletedToday(clock)).To(ContainElement(domain.Fajr))

			// The overlay and widget converge on the closed state.
			Expect(shield.Render(appSide, clock).Title).To(Equal("Prayer Time"))
			state := appSide.RuntimeState()
			Expect(state.EffectivePhase(clock)).NotTo(Equal(domain.PhaseActiveReady))
		})
	})

	Describe("strict mode", func() {
		BeforeEach(func() {
			focus := config.NewFocusService(appSide, logger)
			_, err := focus.Update(domain.FocusConfig{
				SelectedPrayers: []domain.PrayerName{domain.Fajr},
				DurationMinutes: 30,
				BufferMinutes:   5,
				StrictMode:      true,
				AppSelection:    []string{"distracting-app"},
			})
			Expect(err).NotTo(HaveOccurred())
			Expect(sched.Recompute(ctx, "strict on")).To(Succeed())
		})

		It("routes the tap to a voice request and only the in-app confirmation unlocks", func() {
			clock = time.Date(2025, 3, 10, 5, 25, 0, 0, time.UTC)
			window := fireStart(domain.Fajr)

			notifier := &recordingNotifier{}
			handler := shield.NewActionHandler(appSide, notifier, logger)

			// Even past the grace period the overlay tap cannot unlock.
			clock = window.EarlyUnlockAt.Add(time.Minute)
			Expect(handler.Handle(shield.TapPrimary, clock)).To(Equal(shield.DecisionKeepRestricting))
			Expect(appSide.VoiceUnlockRequested()).To(BeTrue())
			Expect(notifier.posted).NotTo(BeEmpty())

			// The pending confirmation is visible from every other context;
			// this is what the status surface reports.
			Expect(mainSide.VoiceUnlockRequested()).To(BeTrue())

			Expect(machine.Reconcile(ctx)).To(Succeed())
			Expect(appSide.AppsActuallyBlocked()).To(BeTrue())

			// The stronger in-app confirmation closes the window.
			Expect(machine.ConfirmVoiceUnlock(ctx)).To(Succeed())
			Expect(appSide.AppsActuallyBlocked()).To(BeFalse())
			Expect(appSide.CompletedToday(clock)).To(ContainElement(domain.Fajr))
			Expect(appSide.VoiceUnlockRequested()).To(BeFalse())
		})
	})

	Describe("relaunch mid-window", func() {
		It("re-applies the restriction synchronously from a fresh process", func() {
			Expect(sched.Recompute(ctx, "startup")).To(Succeed())
			clock = time.Date(2025, 3, 10, 5, 25, 0, 0, time.UTC)
			fireStart(domain.Fajr)
			Expect(appSide.AppsActuallyBlocked()).To(BeTrue())

			// The main process dies and comes back ten minutes into the
			// window: fresh components, same store.
			clock = time.Date(2025, 3, 10, 5, 35, 0, 0, time.UTC)
			freshTriggers := newRecordingTriggers()
			freshAuthority := &recordingAuthority{}
			cache := schedule.NewCache(fixedSource{}, mainSide, logger).WithClock(clockFn)
			freshMachine := unlock.NewMachine(mainSide, freshAuthority, logger).WithClock(clockFn)
			fresh := scheduler.New(cache, mainSide, fixedLocation{}, freshTriggers, freshAuthority,
				alwaysUnlocked{}, freshMachine, logger).WithClock(clockFn)

			Expect(fresh.Recompute(ctx, "startup")).To(Succeed())
			Expect(freshAuthority.applied).To(Equal([]string{"distracting-app"}))

			// The end trigger is armed in the new process.
			var hasEnd bool
			for _, id := range freshTriggers.Armed() {
				if len(id) > 4 && id[:4] == "end:" {
					hasEnd = true
				}
			}
			Expect(hasEnd).To(BeTrue())
		})
	})

	Describe("widget context", func() {
		It("renders today's schedule and records completions over the shared store", func() {
			Expect(sched.Recompute(ctx, "startup")).To(Succeed())

			cache := schedule.NewCache(fixedSource{}, appSide, logger).WithClock(clockFn)
			surface := widget.NewSurface(appSide, cache, fixedLocation{}, logger).WithClock(clockFn)

			view := surface.View(ctx)
			Expect(view.Entries).To(HaveLen(5))

			Expect(surface.MarkPrayerCompleted(domain.Fajr)).To(BeTrue())
			// Within the cooldown a second mark is refused.
			Expect(surface.MarkPrayerCompleted(domain.Fajr)).To(BeFalse())

			// The main side observes the completion through the store.
			Expect(mainSide.CompletedToday(clock)).To(ContainElement(domain.Fajr))
		})
	})
})
