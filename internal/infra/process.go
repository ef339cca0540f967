// Package infra implements the OS collaborators: restriction authority,
// trigger scheduler, process manager, location, entitlements, notifier.
package infra

import (
	"os"
	"strings"
	"syscall"

	"github.com/shirou/gopsutil/v3/process"

	"github.com/mizanapps/salahguard/internal/domain"
)

// ProcessManagerImpl implements domain.ProcessManager on gopsutil. It
// serves two callers: the restriction authority resolves configured app
// names to PIDs for its kill sweep, and the start command checks the
// recorded main PID to refuse a second daemon.
type ProcessManagerImpl struct{}

// NewProcessManager creates a new process manager.
func NewProcessManager() domain.ProcessManager {
	return &ProcessManagerImpl{}
}

// FindByName resolves a configured app name to the PIDs currently running
// under it. Matching is case-insensitive and accepts substrings, since
// app selections are entered by the user and rarely match the binary name
// exactly.
func (pm *ProcessManagerImpl) FindByName(pattern string) ([]int, error) {
	procs, err := process.Processes()
	if err != nil {
		return nil, err
	}

	var found []int
	patternLower := strings.ToLower(pattern)

	for _, p := range procs {
		name, err := p.Name()
		if err != nil {
			continue // Process may have exited
		}

		if strings.EqualFold(name, pattern) || strings.Contains(strings.ToLower(name), patternLower) {
			found = append(found, int(p.Pid))
		}
	}

	return found, nil
}

// Kill terminates one restricted process. SIGKILL, not SIGTERM: a
// restricted app must not get a chance to ignore the sweep.
func (pm *ProcessManagerImpl) Kill(pid int) error {
	p, err := process.NewProcess(int32(pid))
	if err != nil {
		return err
	}
	return p.Kill()
}

// IsRunning reports whether a PID is alive. Used against the PID recorded
// in the shared store to detect a stale entry from a crashed run.
func (pm *ProcessManagerImpl) IsRunning(pid int) bool {
	// On Unix, FindProcess always succeeds
	proc, err := os.FindProcess(pid)
	if err != nil {
		return false
	}

	// Send signal 0 to check if process exists
	err = proc.Signal(syscall.Signal(0))
	return err == nil
}

// GetCurrentPID returns the current process PID.
func (pm *ProcessManagerImpl) GetCurrentPID() int {
	return os.Getpid()
}

// Ensure ProcessManagerImpl implements domain.ProcessManager.
var _ domain.ProcessManager = (*ProcessManagerImpl)(nil)
