package infra

import (
	"context"
	"sync"

	"go.uber.org/zap"

	"github.com/mizanapps/salahguard/internal/domain"
)

// ProcessAuthority implements domain.RestrictionAuthority by terminating
// processes matching the restriction targets. On this platform,
// "restricting an app" means keeping its processes dead for the duration
// of the window; Enforce re-sweeps on a ticker while a window is active.
//
// Only the main process constructs one of these. Adapters and widgets
// have no path to it by design.
type ProcessAuthority struct {
	pm     domain.ProcessManager
	logger *zap.Logger

	mu      sync.Mutex
	targets []string
	granted bool
}

// NewProcessAuthority creates the restriction authority. granted models
// the OS-level capability grant; when false every registration attempt
// is declined while computation still proceeds.
func NewProcessAuthority(pm domain.ProcessManager, granted bool, logger *zap.Logger) *ProcessAuthority {
	return &ProcessAuthority{pm: pm, granted: granted, logger: logger}
}

// Authorized reports whether the capability has been granted.
func (a *ProcessAuthority) Authorized() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.granted
}

// Apply restricts the given targets. Idempotent: re-applying replaces
// the target set.
func (a *ProcessAuthority) Apply(ctx context.Context, targets []string) error {
	a.mu.Lock()
	if !a.granted {
		a.mu.Unlock()
		return domain.ErrNotAuthorized
	}
	a.targets = append([]string(nil), targets...)
	a.mu.Unlock()

	return a.Enforce(ctx)
}

// Lift removes the restriction. Idempotent.
func (a *ProcessAuthority) Lift(ctx context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.targets = nil
	return nil
}

// Enforce kills any process matching the current targets. No-op when no
// restriction is applied. Individual kill failures are logged, never
// propagated: one stubborn process must not break the sweep.
func (a *ProcessAuthority) Enforce(ctx context.Context) error {
	a.mu.Lock()
	targets := append([]string(nil), a.targets...)
	a.mu.Unlock()

	if len(targets) == 0 {
		return nil
	}

	for _, pattern := range targets {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		pids, err := a.pm.FindByName(pattern)
		if err != nil {
			a.logger.Warn("failed to find processes",
				zap.String("pattern", pattern), zap.Error(err))
			continue
		}
		for _, pid := range pids {
			if pid == a.pm.GetCurrentPID() {
				continue
			}
			if err := a.pm.Kill(pid); err != nil {
				a.logger.Warn("failed to kill process",
					zap.Int("pid", pid), zap.Error(err))
				continue
			}
			a.logger.Info("killed restricted process",
				zap.String("pattern", pattern), zap.Int("pid", pid))
		}
	}
	return nil
}

// Ensure ProcessAuthority implements domain.RestrictionAuthority.
var _ domain.RestrictionAuthority = (*ProcessAuthority)(nil)
