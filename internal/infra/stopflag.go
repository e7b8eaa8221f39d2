package infra

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/eliteGoblin/focusd/crtsession/internal/domain"
)

// FlagFile implements domain.StopFlag. Launch wrappers poll for its presence
// and stop enforcing window positions on their own once it appears.
type FlagFile struct {
	path string
}

// NewFlagFile creates a stop flag at path.
func NewFlagFile(path string) *FlagFile {
	return &FlagFile{path: path}
}

// Path returns the flag location.
func (f *FlagFile) Path() string {
	return f.path
}

// Write creates the flag, recording when it was raised.
func (f *FlagFile) Write() error {
	if err := os.MkdirAll(filepath.Dir(f.path), 0755); err != nil {
		return err
	}
	stamp := []byte(time.Now().Format(time.RFC3339) + "\n")
	return os.WriteFile(f.path, stamp, 0644)
}

// Clear removes the flag.
func (f *FlagFile) Clear() (bool, error) {
	err := os.Remove(f.path)
	if err == nil {
		return true, nil
	}
	if os.IsNotExist(err) {
		return false, nil
	}
	return false, err
}

// Exists reports whether the flag is raised.
func (f *FlagFile) Exists() bool {
	return FileExists(f.path)
}

// Wait blocks until the flag exists or ctx is done.
func (f *FlagFile) Wait(ctx context.Context) error {
	if f.Exists() {
		return nil
	}

	dir := filepath.Dir(f.path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return err
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create watcher: %w", err)
	}
	defer watcher.Close()

	if err := watcher.Add(dir); err != nil {
		return fmt.Errorf("failed to watch %s: %w", dir, err)
	}

	// The flag may have appeared between the first check and Add
	if f.Exists() {
		return nil
	}

	target := filepath.Clean(f.path)
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case event, ok := <-watcher.Events:
			if !ok {
				return fmt.Errorf("watcher closed")
			}
			if filepath.Clean(event.Name) != target {
				continue
			}
			if event.Has(fsnotify.Create) || event.Has(fsnotify.Write) {
				return nil
			}
		case err, ok := <-watcher.Errors:
			if !ok {
				return fmt.Errorf("watcher closed")
			}
			return err
		}
	}
}

// Ensure FlagFile implements domain.StopFlag.
var _ domain.StopFlag = (*FlagFile)(nil)
