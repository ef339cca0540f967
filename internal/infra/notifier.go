package infra

import (
	"fmt"
	"os/exec"
	"runtime"

	"go.uber.org/zap"

	"github.com/mizanapps/salahguard/internal/domain"
)

// DesktopNotifier posts a local notification via the platform's
// notification tool. Best-effort: a missing tool degrades to a log line.
type DesktopNotifier struct {
	logger *zap.Logger
}

// NewDesktopNotifier creates a notifier.
func NewDesktopNotifier(logger *zap.Logger) *DesktopNotifier {
	return &DesktopNotifier{logger: logger}
}

// Notify posts the notification.
func (n *DesktopNotifier) Notify(title, body string) error {
	var cmd *exec.Cmd
	switch runtime.GOOS {
	case "darwin":
		script := fmt.Sprintf(`display notification %q with title %q`, body, title)
		cmd = exec.Command("osascript", "-e", script)
	case "linux":
		cmd = exec.Command("notify-send", title, body)
	default:
		n.logger.Info("notification", zap.String("title", title), zap.String("body", body))
		return nil
	}

	if err := cmd.Run(); err != nil {
		n.logger.Warn("notification tool failed, logging instead",
			zap.String("title", title), zap.Error(err))
	}
	return nil
}

// Ensure DesktopNotifier implements domain.Notifier.
var _ domain.Notifier = (*DesktopNotifier)(nil)
