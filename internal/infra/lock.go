package infra

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/eliteGoblin/focusd/crtsession/internal/domain"
)

// FileLock implements domain.SessionLock with an exclusively created JSON file.
// A lock left behind by a crash stays until an operator removes it.
type FileLock struct {
	path string
}

// NewFileLock creates a lock at path.
func NewFileLock(path string) *FileLock {
	return &FileLock{path: path}
}

// Path returns the lockfile location.
func (l *FileLock) Path() string {
	return l.path
}

// Acquire creates the lockfile with O_EXCL. If it already exists the holder
// is read back for the error and nothing is written.
func (l *FileLock) Acquire(token domain.LockToken) error {
	data, err := json.MarshalIndent(token, "", "  ")
	if err != nil {
		return err
	}

	if err := os.MkdirAll(filepath.Dir(l.path), 0700); err != nil {
		return fmt.Errorf("failed to create lock directory: %w", err)
	}

	f, err := os.OpenFile(l.path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0600)
	if err != nil {
		if errors.Is(err, os.ErrExist) {
			holder, _ := l.Holder()
			return &domain.LockHeldError{Path: l.path, Holder: holder}
		}
		return fmt.Errorf("failed to create lockfile: %w", err)
	}

	if _, err := f.Write(data); err != nil {
		f.Close()
		os.Remove(l.path)
		return fmt.Errorf("failed to write lockfile: %w", err)
	}
	if err := f.Sync(); err != nil {
		f.Close()
		os.Remove(l.path)
		return fmt.Errorf("failed to sync lockfile: %w", err)
	}
	return f.Close()
}

// AcquireStale takes the lock from a holder whose process is no longer
// running, as judged by alive. A live holder, or one that cannot be read,
// still yields the same error Acquire would. Only the exact stale token is
// removed, so a session that replaces it in between keeps its lock.
func (l *FileLock) AcquireStale(token domain.LockToken, alive func(pid int) bool) error {
	err := l.Acquire(token)
	var held *domain.LockHeldError
	if !errors.As(err, &held) || held.Holder == nil || alive(held.Holder.PID) {
		return err
	}

	current, rerr := l.Holder()
	if rerr != nil {
		return rerr
	}
	if current != nil && (current.PID != held.Holder.PID || current.SessionID != held.Holder.SessionID) {
		return &domain.LockHeldError{Path: l.path, Holder: current}
	}
	if current != nil {
		if err := os.Remove(l.path); err != nil && !os.IsNotExist(err) {
			return fmt.Errorf("failed to remove stale lockfile: %w", err)
		}
	}
	return l.Acquire(token)
}

// Release removes the lockfile if it still carries token.
func (l *FileLock) Release(token domain.LockToken) error {
	holder, err := l.Holder()
	if err != nil {
		return err
	}
	if holder == nil {
		return nil
	}
	if holder.SessionID != token.SessionID || holder.PID != token.PID {
		return fmt.Errorf("lock %s is held by pid %d (session %s), not releasing",
			l.path, holder.PID, holder.SessionID)
	}
	if err := os.Remove(l.path); err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}

// Holder returns the token stored in the lockfile, or nil when unlocked.
// A lockfile that is not valid JSON is reported with only its raw PID.
func (l *FileLock) Holder() (*domain.LockToken, error) {
	data, err := os.ReadFile(l.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}

	var token domain.LockToken
	if err := json.Unmarshal(data, &token); err != nil {
		var pid int
		if _, scanErr := fmt.Sscanf(string(data), "%d", &pid); scanErr == nil {
			return &domain.LockToken{PID: pid}, nil
		}
		return nil, fmt.Errorf("unreadable lockfile %s: %w", l.path, err)
	}
	return &token, nil
}

// Ensure FileLock implements domain.SessionLock.
var _ domain.SessionLock = (*FileLock)(nil)
