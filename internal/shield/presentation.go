// Package shield implements the two stateless adapters the OS invokes
// around a restricted app: the overlay renderer and the tap handler.
// Both run in their own short-lived process, read/write only the shared
// store, and can never lift a restriction themselves.
package shield

import (
	"fmt"
	"time"

	"github.com/mizanapps/salahguard/internal/domain"
	"github.com/mizanapps/salahguard/internal/store"
)

// Content is what the overlay shows. A pure function of the runtime
// record and the clock.
type Content struct {
	Title        string `json:"title"`
	Subtitle     string `json:"subtitle"`
	Icon         string `json:"icon"`
	PrimaryLabel string `json:"primary_label"`
}

// genericContent is the defensive fallback: the OS has no tolerance for
// a crashing overlay, so an unreadable or malformed record renders this
// rather than failing.
func genericContent() Content {
	return Content{
		Title:        "Prayer Time",
		Subtitle:     "This app is paused for prayer.",
		Icon:         "moon",
		PrimaryLabel: "OK",
	}
}

// minutesUntil rounds up so the countdown never shows "0m" while time
// remains.
func minutesUntil(now, at time.Time) int {
	d := at.Sub(now)
	if d <= 0 {
		return 0
	}
	return int((d + time.Minute - 1) / time.Minute)
}

// Render computes the overlay content. No mutation, no error: every
// degenerate input maps to the generic rendering.
func Render(shared *store.Shared, now time.Time) (c Content) {
	defer func() {
		// A panic in here would take down the restriction UI; render the
		// generic content instead.
		if r := recover(); r != nil {
			c = genericContent()
		}
	}()

	state := shared.RuntimeState()

	switch {
	case state.Phase == domain.PhaseIdle || state.Phase == domain.PhaseClosed:
		return genericContent()

	case now.Before(state.WindowStart):
		// Pre-buffer: the overlay can show before the window formally
		// starts.
		return Content{
			Title:        fmt.Sprintf("%s is approaching", state.CurrentPrayer),
			Subtitle:     fmt.Sprintf("Blocking starts in %dm", minutesUntil(now, state.WindowStart)),
			Icon:         "hourglass",
			PrimaryLabel: "OK",
		}
	}

	strict := shared.StrictMode()

	switch state.EffectivePhase(now) {
	case domain.PhaseActiveWaiting:
		if strict {
			return Content{
				Title:        fmt.Sprintf("Time for %s", state.CurrentPrayer),
				Subtitle:     "Strict mode is on. Unlock from the app after praying.",
				Icon:         "lock",
				PrimaryLabel: "Unlock in app",
			}
		}
		return Content{
			Title:        fmt.Sprintf("Time for %s", state.CurrentPrayer),
			Subtitle:     fmt.Sprintf("Early unlock available in %dm", minutesUntil(now, state.EarlyUnlockAt)),
			Icon:         "lock",
			PrimaryLabel: "Please wait",
		}

	case domain.PhaseActiveReady:
		if strict {
			return Content{
				Title:        fmt.Sprintf("Time for %s", state.CurrentPrayer),
				Subtitle:     "Strict mode is on. Unlock from the app after praying.",
				Icon:         "lock",
				PrimaryLabel: "Unlock in app",
			}
		}
		return Content{
			Title:        fmt.Sprintf("Time for %s", state.CurrentPrayer),
			Subtitle:     "Early unlock available now",
			Icon:         "unlock",
			PrimaryLabel: "I have prayed",
		}
	}

	return genericContent()
}
