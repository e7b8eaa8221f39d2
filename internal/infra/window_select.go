package infra

import (
	"fmt"
	"strings"

	"github.com/eliteGoblin/focusd/crtsession/internal/domain"
)

// windowCandidate is one top-level window as seen by the window system.
type windowCandidate struct {
	Handle    domain.WindowHandle
	PID       int
	Class     string
	Title     string
	Rect      domain.Rect
	Visible   bool
	Minimized bool
}

// selectWindow picks the largest visible, non-minimized candidate owned by
// one of the query PIDs that passes the class and title filters.
// Ties keep the earlier candidate (stacking order from the window manager).
func selectWindow(candidates []windowCandidate, q domain.WindowQuery) (domain.WindowHandle, bool) {
	pids := make(map[int]bool, len(q.PIDs))
	for _, pid := range q.PIDs {
		pids[pid] = true
	}

	var best *windowCandidate
	for i := range candidates {
		c := &candidates[i]
		if !pids[c.PID] || !c.Visible || c.Minimized {
			continue
		}
		if !containsAny(c.Class, q.ClassContains) || !containsAny(c.Title, q.TitleContains) {
			continue
		}
		if best == nil || c.Rect.Area() > best.Rect.Area() {
			best = c
		}
	}

	if best == nil {
		return 0, false
	}
	return best.Handle, true
}

// containsAny reports whether s contains any needle (case-insensitive).
// An empty needle list accepts everything.
func containsAny(s string, needles []string) bool {
	if len(needles) == 0 {
		return true
	}
	lower := strings.ToLower(s)
	for _, n := range needles {
		if n != "" && strings.Contains(lower, strings.ToLower(n)) {
			return true
		}
	}
	return false
}

// placementTolerance is how far a directly configured window may land from
// the requested rect and still count as moved.
const placementTolerance = 1

// checkPlacement reports an error unless the window, read back after a move,
// sits on want.
func checkPlacement(want, got domain.Rect, readable bool) error {
	if !readable {
		return fmt.Errorf("window geometry unreadable after move to %+v", want)
	}
	if !want.Within(got, placementTolerance) {
		return fmt.Errorf("window at %+v after move to %+v", got, want)
	}
	return nil
}
