//go:build linux

package infra

import (
	"fmt"

	"github.com/BurntSushi/xgb/xproto"
	"github.com/BurntSushi/xgbutil"
	"github.com/BurntSushi/xgbutil/ewmh"
	"github.com/BurntSushi/xgbutil/icccm"
	"github.com/BurntSushi/xgbutil/xwindow"
	"go.uber.org/zap"

	"github.com/eliteGoblin/focusd/crtsession/internal/domain"
)

// X11Windows implements domain.WindowSystem over an EWMH-compliant window manager.
type X11Windows struct {
	xu     *xgbutil.XUtil
	root   xproto.Window
	logger *zap.Logger
}

// NewWindowSystem connects to the X server named by $DISPLAY.
func NewWindowSystem(logger *zap.Logger) (domain.WindowSystem, func(), error) {
	xu, err := xgbutil.NewConn()
	if err != nil {
		return nil, nil, fmt.Errorf("failed to connect to X server: %w", err)
	}
	w := &X11Windows{xu: xu, root: xu.RootWin(), logger: logger}
	return w, func() { xu.Conn().Close() }, nil
}

// Find implements domain.WindowSystem.
func (w *X11Windows) Find(q domain.WindowQuery) (domain.WindowHandle, bool) {
	if len(q.PIDs) == 0 {
		return 0, false
	}

	clients, err := ewmh.ClientListGet(w.xu)
	if err != nil {
		w.logger.Debug("client list unavailable", zap.Error(err))
		return 0, false
	}

	wanted := make(map[int]bool, len(q.PIDs))
	for _, pid := range q.PIDs {
		wanted[pid] = true
	}

	candidates := make([]windowCandidate, 0, len(clients))
	for _, win := range clients {
		pid, err := ewmh.WmPidGet(w.xu, win)
		if err != nil || !wanted[int(pid)] {
			continue
		}
		if !w.isNormalWindow(win) {
			continue
		}
		rect, ok := w.windowRect(win)
		if !ok {
			continue
		}
		candidates = append(candidates, windowCandidate{
			Handle:    domain.WindowHandle(win),
			PID:       int(pid),
			Class:     w.windowClass(win),
			Title:     w.windowTitle(win),
			Rect:      rect,
			Visible:   w.isViewable(win),
			Minimized: w.isMinimized(win),
		})
	}

	return selectWindow(candidates, q)
}

// Rect implements domain.WindowSystem.
func (w *X11Windows) Rect(h domain.WindowHandle) (domain.Rect, bool) {
	return w.windowRect(xproto.Window(h))
}

// Move implements domain.WindowSystem. Maximized state is dropped first,
// otherwise most window managers ignore the request.
func (w *X11Windows) Move(h domain.WindowHandle, r domain.Rect) error {
	win := xproto.Window(h)
	w.unmaximize(win)

	var err error
	if r.PositionOnly() {
		err = ewmh.MoveWindow(w.xu, win, r.X, r.Y)
	} else {
		err = ewmh.MoveresizeWindow(w.xu, win, r.X, r.Y, r.Width, r.Height)
	}
	if err == nil {
		return nil
	}

	// Fallback to direct window manipulation
	w.logger.Debug("EWMH move rejected, configuring directly", zap.Error(err))
	xw := xwindow.New(w.xu, win)
	if r.PositionOnly() {
		xw.Move(r.X, r.Y)
	} else {
		xw.MoveResize(r.X, r.Y, r.Width, r.Height)
	}
	w.xu.Sync()

	got, ok := w.windowRect(win)
	return checkPlacement(r, got, ok)
}

func (w *X11Windows) windowRect(win xproto.Window) (domain.Rect, bool) {
	geom, err := xproto.GetGeometry(w.xu.Conn(), xproto.Drawable(win)).Reply()
	if err != nil {
		return domain.Rect{}, false
	}
	translate, err := xproto.TranslateCoordinates(w.xu.Conn(), win, w.root, 0, 0).Reply()
	if err != nil {
		return domain.Rect{}, false
	}
	return domain.Rect{
		X:      int(translate.DstX),
		Y:      int(translate.DstY),
		Width:  int(geom.Width),
		Height: int(geom.Height),
	}, true
}

func (w *X11Windows) windowClass(win xproto.Window) string {
	class, err := icccm.WmClassGet(w.xu, win)
	if err != nil || class == nil {
		return ""
	}
	return class.Instance + " " + class.Class
}

func (w *X11Windows) windowTitle(win xproto.Window) string {
	if title, err := ewmh.WmNameGet(w.xu, win); err == nil && title != "" {
		return title
	}
	title, _ := icccm.WmNameGet(w.xu, win)
	return title
}

func (w *X11Windows) isViewable(win xproto.Window) bool {
	attrs, err := xproto.GetWindowAttributes(w.xu.Conn(), win).Reply()
	if err != nil {
		return false
	}
	return attrs.MapState == xproto.MapStateViewable
}

func (w *X11Windows) isMinimized(win xproto.Window) bool {
	if states, err := ewmh.WmStateGet(w.xu, win); err == nil {
		for _, s := range states {
			if s == "_NET_WM_STATE_HIDDEN" {
				return true
			}
		}
	}
	if st, err := icccm.WmStateGet(w.xu, win); err == nil && st.State == icccm.StateIconic {
		return true
	}
	return false
}

func (w *X11Windows) isNormalWindow(win xproto.Window) bool {
	types, err := ewmh.WmWindowTypeGet(w.xu, win)
	if err != nil {
		return true
	}
	for _, t := range types {
		switch t {
		case "_NET_WM_WINDOW_TYPE_DESKTOP", "_NET_WM_WINDOW_TYPE_DOCK",
			"_NET_WM_WINDOW_TYPE_SPLASH", "_NET_WM_WINDOW_TYPE_NOTIFICATION",
			"_NET_WM_WINDOW_TYPE_TOOLTIP", "_NET_WM_WINDOW_TYPE_MENU":
			return false
		}
	}
	return true
}

func (w *X11Windows) unmaximize(win xproto.Window) {
	states, err := ewmh.WmStateGet(w.xu, win)
	if err != nil {
		return
	}
	for _, s := range states {
		switch s {
		case "_NET_WM_STATE_MAXIMIZED_HORZ", "_NET_WM_STATE_MAXIMIZED_VERT", "_NET_WM_STATE_FULLSCREEN":
			_ = ewmh.WmStateReq(w.xu, win, ewmh.StateRemove, s)
		}
	}
}

// Ensure X11Windows implements domain.WindowSystem.
var _ domain.WindowSystem = (*X11Windows)(nil)
