package domain

import "context"

// ProcessManager handles OS process discovery.
// Implementation: uses gopsutil for cross-platform support.
type ProcessManager interface {
	// FindByNames returns PIDs whose executable name equals any of names
	// (case-insensitive), sorted ascending.
	FindByNames(names []string) ([]int, error)

	// Descendants returns every transitive child of pid.
	Descendants(pid int) []int

	// IsRunning checks if a PID exists and is running.
	IsRunning(pid int) bool

	// GetCurrentPID returns the current process PID.
	GetCurrentPID() int
}

// WindowHandle is a transient reference to a foreign top-level window.
// It is never assumed valid across ticks.
type WindowHandle uint32

// WindowQuery selects candidate windows.
type WindowQuery struct {
	PIDs          []int
	ClassContains []string
	TitleContains []string
}

// WindowSystem is the capability interface over windows we do not own.
type WindowSystem interface {
	// Find returns the largest visible, non-minimized window owned by one of
	// the query PIDs that passes the class/title filters.
	Find(q WindowQuery) (WindowHandle, bool)

	// Rect returns the window's current outer rectangle.
	Rect(h WindowHandle) (Rect, bool)

	// Move repositions (and resizes unless position only) the window.
	Move(h WindowHandle, r Rect) error
}

// BackupStore snapshots and restores patch targets for one session attempt.
type BackupStore interface {
	// Snapshot copies path into the attempt and durably indexes it before returning.
	Snapshot(path string) (BackupRecord, error)

	// RestoreAll copies every snapshot back. One failure never stops the rest.
	RestoreAll(records []BackupRecord) RestoreReport
}

// SessionLock is the single cross-process mutual-exclusion guard.
type SessionLock interface {
	// Acquire creates the lock or returns *LockHeldError. It never waits.
	Acquire(token LockToken) error

	// Release removes the lock only if it still carries token.
	Release(token LockToken) error

	// Holder returns the current token, or nil if unlocked.
	Holder() (*LockToken, error)

	// Path returns the lockfile location.
	Path() string
}

// StopFlag is the marker external wrappers poll to stop enforcing windows.
type StopFlag interface {
	Write() error
	// Clear removes the flag; removed reports whether one existed.
	Clear() (removed bool, err error)
	Exists() bool
	Path() string
}

// PrimaryProcess is a launched or attached primary.
type PrimaryProcess interface {
	PID() int
	// Exited is closed once the spawned process has exited.
	// For attached processes it is never closed.
	Exited() <-chan struct{}
}

// Launcher starts the primary process.
type Launcher interface {
	Launch(ctx context.Context, p PrimaryProfile) (PrimaryProcess, error)
}

// Journal is an append-only history of sessions and notable events.
type Journal interface {
	BeginSession(ctx context.Context, rec SessionRecord) error
	Event(ctx context.Context, sessionID, kind, detail string) error
	FinishSession(ctx context.Context, sessionID, outcome string, attempt int) error
	Recent(ctx context.Context, limit int) ([]SessionRecord, error)
	Close() error
}
