package session

import (
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/eliteGoblin/focusd/crtsession/internal/domain"
)

// WatcherConfig holds window enforcement settings.
type WatcherConfig struct {
	Handoff        domain.Rect   // where released windows go
	PollInterval   time.Duration // default per-profile poll interval
	AcquireTimeout time.Duration // how long a profile may stay unseen before it is reported
	Tolerance      int           // allowed drift per edge, in pixels
}

// EventFunc receives notable watcher events for the journal.
type EventFunc func(kind, detail string)

// slot is the enforcement state of one watch profile.
type slot struct {
	profile  domain.WatchProfile
	state    domain.TargetState
	handle   domain.WindowHandle
	pids     []int // process instance the window belongs to
	released bool  // window sits on the handoff rect; hands off until the handle changes
	interval time.Duration
	nextPoll time.Time
	deadline time.Time
	timedOut bool
}

// ReleaseReport lists what happened when windows were sent home.
type ReleaseReport struct {
	Moved   []string
	Missing []string
	Failed  map[string]error
}

// OK reports whether every tracked window made it home.
func (r ReleaseReport) OK() bool {
	return len(r.Missing) == 0 && len(r.Failed) == 0
}

// WindowWatcher enforces window rectangles for a set of watch profiles.
// It is driven by the session loop: nothing here blocks or sleeps.
type WindowWatcher struct {
	config  WatcherConfig
	windows domain.WindowSystem
	procs   domain.ProcessManager
	slots   []*slot
	onEvent EventFunc
	stopped bool
	logger  *zap.Logger
}

// NewWindowWatcher creates a watcher for profiles, in manifest order.
// Acquisition deadlines start at now.
func NewWindowWatcher(
	config WatcherConfig,
	profiles []domain.WatchProfile,
	windows domain.WindowSystem,
	procs domain.ProcessManager,
	now time.Time,
	logger *zap.Logger,
) *WindowWatcher {
	if logger == nil {
		logger = zap.NewNop()
	}
	w := &WindowWatcher{
		config:  config,
		windows: windows,
		procs:   procs,
		onEvent: func(string, string) {},
		logger:  logger,
	}
	for _, p := range profiles {
		interval := p.PollInterval
		if interval <= 0 {
			interval = config.PollInterval
		}
		w.slots = append(w.slots, &slot{
			profile:  p,
			state:    domain.TargetUnseen,
			interval: interval,
			nextPoll: now,
			deadline: now.Add(config.AcquireTimeout),
		})
	}
	return w
}

// OnEvent sets the journal hook.
func (w *WindowWatcher) OnEvent(fn EventFunc) {
	if fn != nil {
		w.onEvent = fn
	}
}

// States returns every profile's state keyed by slug.
func (w *WindowWatcher) States() map[string]domain.TargetState {
	out := make(map[string]domain.TargetState, len(w.slots))
	for _, s := range w.slots {
		out[s.profile.Slug] = s.state
	}
	return out
}

// Tick evaluates every profile whose poll time has come, in manifest order.
func (w *WindowWatcher) Tick(now time.Time) {
	if w.stopped {
		return
	}
	for _, s := range w.slots {
		if now.Before(s.nextPoll) {
			continue
		}
		s.nextPoll = now.Add(s.interval)
		w.evaluate(s, now)
	}
}

// NextWake returns how long the loop may sleep before a profile is due.
func (w *WindowWatcher) NextWake(now time.Time) time.Duration {
	wait := w.config.PollInterval
	for _, s := range w.slots {
		if d := s.nextPoll.Sub(now); d < wait {
			wait = d
		}
	}
	if wait < 0 {
		return 0
	}
	return wait
}

func (w *WindowWatcher) evaluate(s *slot, now time.Time) {
	slug := s.profile.Slug

	pids, err := w.livePIDs(s.profile)
	if err != nil {
		w.logger.Warn("process lookup failed",
			zap.String("profile", slug),
			zap.Error(err))
		return
	}

	if len(pids) == 0 {
		if s.state != domain.TargetUnseen {
			w.logger.Info("process gone, slot free",
				zap.String("profile", slug),
				zap.String("was", string(s.state)))
			w.onEvent("window-lost", slug+": process exited")
			w.reset(s)
		}
		w.checkTimeout(s, now)
		return
	}

	if s.state == domain.TargetPaused {
		if overlaps(pids, s.pids) {
			return
		}
		// A new instance of the process: pausing does not carry over
		w.logger.Info("paused process restarted, resuming",
			zap.String("profile", slug),
			zap.Ints("pids", pids))
		w.reset(s)
	}

	if s.state == domain.TargetUnseen {
		h, ok := w.windows.Find(w.query(s.profile, pids))
		if !ok {
			w.checkTimeout(s, now)
			return
		}
		s.state = domain.TargetTracked
		s.handle = h
		s.pids = pids
		s.released = false
		w.logger.Info("window acquired",
			zap.String("profile", slug),
			zap.Uint32("window", uint32(h)),
			zap.Ints("pids", pids))
		w.onEvent("window-acquired", fmt.Sprintf("%s: window %d", slug, h))
	}

	w.enforce(s, pids)
}

// enforce keeps a tracked window on its target rect.
func (w *WindowWatcher) enforce(s *slot, pids []int) {
	slug := s.profile.Slug

	current, ok := w.windows.Rect(s.handle)
	if !ok {
		h, found := w.windows.Find(w.query(s.profile, pids))
		if !found {
			w.logger.Info("window closed, process still alive",
				zap.String("profile", slug))
			w.onEvent("window-lost", slug+": window closed")
			w.reset(s)
			return
		}
		if h != s.handle {
			s.handle = h
			s.released = false
		}
		if current, ok = w.windows.Rect(h); !ok {
			return
		}
	}
	s.pids = pids

	if s.released {
		return
	}

	target := s.profile.Target
	if w.config.Handoff.Within(current, w.config.Tolerance) && !target.Within(w.config.Handoff, w.config.Tolerance) {
		s.released = true
		w.logger.Info("window on handoff rect, releasing",
			zap.String("profile", slug),
			zap.Uint32("window", uint32(s.handle)))
		w.onEvent("window-released", slug)
		return
	}

	if target.Within(current, w.config.Tolerance) {
		return
	}

	if err := w.windows.Move(s.handle, target); err != nil {
		w.logger.Warn("failed to move window",
			zap.String("profile", slug),
			zap.Uint32("window", uint32(s.handle)),
			zap.Error(err))
		w.onEvent("window-move-failed", fmt.Sprintf("%s: %v", slug, err))
		return
	}
	w.logger.Debug("window moved",
		zap.String("profile", slug),
		zap.Any("from", current),
		zap.Any("to", target))
	w.onEvent("window-moved", fmt.Sprintf("%s: (%d,%d,%d,%d)",
		slug, target.X, target.Y, target.Width, target.Height))
}

func (w *WindowWatcher) checkTimeout(s *slot, now time.Time) {
	if s.timedOut || now.Before(s.deadline) {
		return
	}
	s.timedOut = true
	w.logger.Warn("window not acquired in time, still watching",
		zap.String("profile", s.profile.Slug),
		zap.Duration("timeout", w.config.AcquireTimeout))
	w.onEvent("window-acquire-timeout", s.profile.Slug)
}

// PauseAll moves every tracked window to the handoff rect and pauses it
// until its process restarts. It returns how many windows were moved.
func (w *WindowWatcher) PauseAll() int {
	moved := 0
	for _, s := range w.slots {
		if s.state != domain.TargetTracked {
			continue
		}
		if !s.released {
			if err := w.windows.Move(s.handle, w.config.Handoff); err != nil {
				w.logger.Warn("failed to move window to handoff",
					zap.String("profile", s.profile.Slug),
					zap.Error(err))
				w.onEvent("window-move-failed", fmt.Sprintf("%s: %v", s.profile.Slug, err))
			} else {
				moved++
			}
		}
		s.state = domain.TargetPaused
		w.logger.Info("window paused", zap.String("profile", s.profile.Slug))
		w.onEvent("window-paused", s.profile.Slug)
	}
	return moved
}

// ReleaseAll sends every still-tracked window to the handoff rect.
// Paused and released windows are already there.
func (w *WindowWatcher) ReleaseAll() ReleaseReport {
	report := ReleaseReport{Failed: make(map[string]error)}
	for _, s := range w.slots {
		if s.state != domain.TargetTracked || s.released {
			continue
		}
		slug := s.profile.Slug

		h := s.handle
		if _, ok := w.windows.Rect(h); !ok {
			found := false
			if pids, err := w.livePIDs(s.profile); err == nil && len(pids) > 0 {
				h, found = w.windows.Find(w.query(s.profile, pids))
			}
			if !found {
				report.Missing = append(report.Missing, slug)
				w.logger.Warn("no window to send home", zap.String("profile", slug))
				continue
			}
		}

		if err := w.windows.Move(h, w.config.Handoff); err != nil {
			report.Failed[slug] = err
			w.logger.Warn("failed to send window home",
				zap.String("profile", slug),
				zap.Error(err))
			continue
		}
		s.handle = h
		s.released = true
		report.Moved = append(report.Moved, slug)
	}
	return report
}

// Stop makes further ticks no-ops.
func (w *WindowWatcher) Stop() {
	w.stopped = true
}

func (w *WindowWatcher) reset(s *slot) {
	s.state = domain.TargetUnseen
	s.handle = 0
	s.pids = nil
	s.released = false
}

// livePIDs returns every process matching the profile plus their descendants.
func (w *WindowWatcher) livePIDs(p domain.WatchProfile) ([]int, error) {
	pids, err := w.procs.FindByNames(p.ProcessNames)
	if err != nil {
		return nil, err
	}
	seen := make(map[int]bool, len(pids))
	out := make([]int, 0, len(pids))
	for _, pid := range pids {
		if !seen[pid] {
			seen[pid] = true
			out = append(out, pid)
		}
		for _, child := range w.procs.Descendants(pid) {
			if !seen[child] {
				seen[child] = true
				out = append(out, child)
			}
		}
	}
	return out, nil
}

func (w *WindowWatcher) query(p domain.WatchProfile, pids []int) domain.WindowQuery {
	return domain.WindowQuery{
		PIDs:          pids,
		ClassContains: p.ClassContains,
		TitleContains: p.TitleContains,
	}
}

func overlaps(a, b []int) bool {
	for _, x := range a {
		for _, y := range b {
			if x == y {
				return true
			}
		}
	}
	return false
}
