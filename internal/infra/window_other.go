//go:build !linux

package infra

import (
	"go.uber.org/zap"

	"github.com/eliteGoblin/focusd/crtsession/internal/domain"
)

// nullWindows never finds a window. Patching and the session lifecycle still
// work; window enforcement is left to the launch wrappers.
type nullWindows struct{}

// NewWindowSystem returns a window system that finds nothing on platforms
// without a native backend.
func NewWindowSystem(logger *zap.Logger) (domain.WindowSystem, func(), error) {
	logger.Warn("no native window backend on this platform, window enforcement disabled")
	return nullWindows{}, func() {}, nil
}

func (nullWindows) Find(domain.WindowQuery) (domain.WindowHandle, bool) { return 0, false }

func (nullWindows) Rect(domain.WindowHandle) (domain.Rect, bool) { return domain.Rect{}, false }

func (nullWindows) Move(domain.WindowHandle, domain.Rect) error { return nil }
