package fixtures

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/eliteGoblin/focusd/crtsession/internal/domain"
)

// Move is one recorded window move.
type Move struct {
	Handle domain.WindowHandle
	Rect   domain.Rect
}

type fakeWindow struct {
	pid   int
	class string
	title string
	rect  domain.Rect
}

// FakeWindows is an in-memory domain.WindowSystem.
type FakeWindows struct {
	mu       sync.Mutex
	windows  map[domain.WindowHandle]*fakeWindow
	moves    []Move
	failures map[domain.WindowHandle]error
}

// NewFakeWindows creates an empty desktop.
func NewFakeWindows() *FakeWindows {
	return &FakeWindows{
		windows:  make(map[domain.WindowHandle]*fakeWindow),
		failures: make(map[domain.WindowHandle]error),
	}
}

// Open shows a window owned by pid.
func (f *FakeWindows) Open(h domain.WindowHandle, pid int, class, title string, r domain.Rect) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.windows[h] = &fakeWindow{pid: pid, class: class, title: title, rect: r}
}

// Close destroys a window.
func (f *FakeWindows) Close(h domain.WindowHandle) {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.windows, h)
}

// Drag moves a window as the user would, without recording a move.
func (f *FakeWindows) Drag(h domain.WindowHandle, r domain.Rect) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if w, ok := f.windows[h]; ok {
		w.rect = r
	}
}

// FailMoves makes every Move of h fail with err. A nil err clears it.
func (f *FakeWindows) FailMoves(h domain.WindowHandle, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err == nil {
		delete(f.failures, h)
		return
	}
	f.failures[h] = err
}

// RectOf returns a window's rectangle.
func (f *FakeWindows) RectOf(h domain.WindowHandle) domain.Rect {
	f.mu.Lock()
	defer f.mu.Unlock()
	if w, ok := f.windows[h]; ok {
		return w.rect
	}
	return domain.Rect{}
}

// Moves returns every successful move so far.
func (f *FakeWindows) Moves() []Move {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]Move(nil), f.moves...)
}

// Find picks the largest window owned by one of q.PIDs passing the filters.
func (f *FakeWindows) Find(q domain.WindowQuery) (domain.WindowHandle, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()

	var best domain.WindowHandle
	bestArea := -1
	for h, w := range f.windows {
		if !containsPID(q.PIDs, w.pid) {
			continue
		}
		if !matchAny(w.class, q.ClassContains) || !matchAny(w.title, q.TitleContains) {
			continue
		}
		area := w.rect.Area()
		if area > bestArea || (area == bestArea && h < best) {
			best, bestArea = h, area
		}
	}
	return best, bestArea >= 0
}

// Rect returns the window's rectangle.
func (f *FakeWindows) Rect(h domain.WindowHandle) (domain.Rect, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	w, ok := f.windows[h]
	if !ok {
		return domain.Rect{}, false
	}
	return w.rect, true
}

// Move repositions the window.
func (f *FakeWindows) Move(h domain.WindowHandle, r domain.Rect) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.failures[h]; err != nil {
		return err
	}
	w, ok := f.windows[h]
	if !ok {
		return fmt.Errorf("window %d does not exist", h)
	}
	next := r
	if r.PositionOnly() {
		next.Width, next.Height = w.rect.Width, w.rect.Height
	}
	w.rect = next
	f.moves = append(f.moves, Move{Handle: h, Rect: r})
	return nil
}

// FakeProcesses is an in-memory domain.ProcessManager.
type FakeProcesses struct {
	mu       sync.Mutex
	names    map[int]string
	children map[int][]int
	self     int
	err      error
}

// NewFakeProcesses creates a process table whose own PID is self.
func NewFakeProcesses(self int) *FakeProcesses {
	return &FakeProcesses{
		names:    make(map[int]string),
		children: make(map[int][]int),
		self:     self,
	}
}

// Start adds a process.
func (f *FakeProcesses) Start(pid int, name string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.names[pid] = name
}

// StartChild adds a process spawned by parent.
func (f *FakeProcesses) StartChild(parent, pid int, name string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.names[pid] = name
	f.children[parent] = append(f.children[parent], pid)
}

// Stop removes a process.
func (f *FakeProcesses) Stop(pid int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.names, pid)
}

// FailLookups makes FindByNames fail with err. A nil err clears it.
func (f *FakeProcesses) FailLookups(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.err = err
}

// FindByNames returns running PIDs whose name matches, sorted.
func (f *FakeProcesses) FindByNames(names []string) ([]int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	var pids []int
	for pid, name := range f.names {
		for _, n := range names {
			if strings.EqualFold(n, name) {
				pids = append(pids, pid)
				break
			}
		}
	}
	sort.Ints(pids)
	return pids, nil
}

// Descendants returns running transitive children of pid.
func (f *FakeProcesses) Descendants(pid int) []int {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []int
	queue := append([]int(nil), f.children[pid]...)
	for len(queue) > 0 {
		child := queue[0]
		queue = queue[1:]
		if _, ok := f.names[child]; ok {
			out = append(out, child)
		}
		queue = append(queue, f.children[child]...)
	}
	return out
}

// IsRunning reports whether pid is in the table.
func (f *FakeProcesses) IsRunning(pid int) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	_, ok := f.names[pid]
	return ok
}

// GetCurrentPID returns the configured own PID.
func (f *FakeProcesses) GetCurrentPID() int {
	return f.self
}

// FakePrimary is a launched primary whose exit the test controls.
type FakePrimary struct {
	pid    int
	exited chan struct{}
	once   sync.Once
}

func (p *FakePrimary) PID() int { return p.pid }

func (p *FakePrimary) Exited() <-chan struct{} { return p.exited }

// FakeLauncher starts primaries in a FakeProcesses table.
type FakeLauncher struct {
	Procs *FakeProcesses
	PID   int
	Err   error

	// OnLaunch runs after the primary is started, e.g. to open windows.
	OnLaunch func(pid int)

	mu       sync.Mutex
	launched []*FakePrimary
}

// Launch registers the primary's first process name under PID.
func (l *FakeLauncher) Launch(ctx context.Context, p domain.PrimaryProfile) (domain.PrimaryProcess, error) {
	if l.Err != nil {
		return nil, l.Err
	}
	if len(p.ProcessNames) == 0 {
		return nil, errors.New("primary has no process name")
	}
	l.Procs.Start(l.PID, p.ProcessNames[0])
	proc := &FakePrimary{pid: l.PID, exited: make(chan struct{})}

	l.mu.Lock()
	l.launched = append(l.launched, proc)
	l.mu.Unlock()

	if l.OnLaunch != nil {
		l.OnLaunch(l.PID)
	}
	return proc, nil
}

// Launches returns how many times Launch succeeded.
func (l *FakeLauncher) Launches() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.launched)
}

// Exit stops the most recent primary and closes its exit channel.
func (l *FakeLauncher) Exit() {
	l.mu.Lock()
	defer l.mu.Unlock()
	if len(l.launched) == 0 {
		return
	}
	p := l.launched[len(l.launched)-1]
	l.Procs.Stop(p.pid)
	p.once.Do(func() { close(p.exited) })
}

// JournalEvent is one recorded journal event.
type JournalEvent struct {
	Session string
	Kind    string
	Detail  string
}

// RecordingJournal is an in-memory domain.Journal.
type RecordingJournal struct {
	mu       sync.Mutex
	sessions map[string]*domain.SessionRecord
	order    []string
	events   []JournalEvent
	closed   bool
}

// NewRecordingJournal creates an empty journal.
func NewRecordingJournal() *RecordingJournal {
	return &RecordingJournal{sessions: make(map[string]*domain.SessionRecord)}
}

func (j *RecordingJournal) BeginSession(_ context.Context, rec domain.SessionRecord) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.sessions[rec.ID] = &rec
	j.order = append(j.order, rec.ID)
	return nil
}

func (j *RecordingJournal) Event(_ context.Context, sessionID, kind, detail string) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.events = append(j.events, JournalEvent{Session: sessionID, Kind: kind, Detail: detail})
	return nil
}

func (j *RecordingJournal) FinishSession(_ context.Context, sessionID, outcome string, attempt int) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	rec, ok := j.sessions[sessionID]
	if !ok {
		return fmt.Errorf("unknown session %s", sessionID)
	}
	rec.Outcome = outcome
	rec.Attempt = attempt
	return nil
}

func (j *RecordingJournal) Recent(_ context.Context, limit int) ([]domain.SessionRecord, error) {
	j.mu.Lock()
	defer j.mu.Unlock()
	var out []domain.SessionRecord
	for i := len(j.order) - 1; i >= 0 && len(out) < limit; i-- {
		out = append(out, *j.sessions[j.order[i]])
	}
	return out, nil
}

func (j *RecordingJournal) Close() error {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.closed = true
	return nil
}

// Kinds returns the kinds of every recorded event, in order.
func (j *RecordingJournal) Kinds() []string {
	j.mu.Lock()
	defer j.mu.Unlock()
	out := make([]string, 0, len(j.events))
	for _, e := range j.events {
		out = append(out, e.Kind)
	}
	return out
}

// Outcome returns the recorded outcome of a session.
func (j *RecordingJournal) Outcome(sessionID string) string {
	j.mu.Lock()
	defer j.mu.Unlock()
	if rec, ok := j.sessions[sessionID]; ok {
		return rec.Outcome
	}
	return ""
}

// Closed reports whether Close was called.
func (j *RecordingJournal) Closed() bool {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.closed
}

func containsPID(pids []int, pid int) bool {
	for _, p := range pids {
		if p == pid {
			return true
		}
	}
	return false
}

func matchAny(s string, needles []string) bool {
	if len(needles) == 0 {
		return true
	}
	s = strings.ToLower(s)
	for _, n := range needles {
		if strings.Contains(s, strings.ToLower(n)) {
			return true
		}
	}
	return false
}

var (
	_ domain.WindowSystem   = (*FakeWindows)(nil)
	_ domain.ProcessManager = (*FakeProcesses)(nil)
	_ domain.Launcher       = (*FakeLauncher)(nil)
	_ domain.PrimaryProcess = (*FakePrimary)(nil)
	_ domain.Journal        = (*RecordingJournal)(nil)
)
