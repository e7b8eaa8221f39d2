package infra

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// PathResolver expands ~ and resolves relative paths against a base directory.
type PathResolver struct {
	homeDir string
	baseDir string
}

// NewPathResolver creates a resolver using the current user's home directory.
func NewPathResolver(baseDir string) *PathResolver {
	home, _ := os.UserHomeDir()
	return &PathResolver{homeDir: home, baseDir: baseDir}
}

// NewPathResolverWithHome creates a resolver with a custom home (for testing).
func NewPathResolverWithHome(home, baseDir string) *PathResolver {
	return &PathResolver{homeDir: home, baseDir: baseDir}
}

// ExpandHome expands ~ to the user's home directory.
func (r *PathResolver) ExpandHome(path string) string {
	if strings.HasPrefix(path, "~/") || strings.HasPrefix(path, `~\`) {
		return filepath.Join(r.homeDir, path[2:])
	}
	if path == "~" {
		return r.homeDir
	}
	return path
}

// Resolve expands ~ and makes the path absolute relative to the base directory.
func (r *PathResolver) Resolve(path string) string {
	if path == "" {
		return ""
	}
	expanded := r.ExpandHome(path)
	if !filepath.IsAbs(expanded) && r.baseDir != "" {
		expanded = filepath.Join(r.baseDir, expanded)
	}
	return filepath.Clean(expanded)
}

// CheckWritable verifies path is an existing regular file that can be opened
// for writing. The file is opened in append mode and closed untouched.
func CheckWritable(path string) error {
	info, err := os.Stat(path)
	if err != nil {
		if os.IsNotExist(err) {
			return fmt.Errorf("not found: %s", path)
		}
		return err
	}
	if !info.Mode().IsRegular() {
		return fmt.Errorf("not a regular file: %s", path)
	}

	f, err := os.OpenFile(path, os.O_WRONLY|os.O_APPEND, 0)
	if err != nil {
		if os.IsPermission(err) {
			return fmt.Errorf("not writable (permission denied): %s", path)
		}
		return fmt.Errorf("not writable (locked by another process?): %s: %w", path, err)
	}
	return f.Close()
}

// FileExists reports whether path exists.
func FileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}
