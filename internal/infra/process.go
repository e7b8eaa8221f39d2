// Package infra implements infrastructure concerns (process, filesystem, windows, storage).
package infra

import (
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/shirou/gopsutil/v3/process"

	"github.com/eliteGoblin/focusd/crtsession/internal/domain"
)

// ProcessManagerImpl implements domain.ProcessManager using gopsutil.
type ProcessManagerImpl struct{}

// NewProcessManager creates a new process manager.
func NewProcessManager() domain.ProcessManager {
	return &ProcessManagerImpl{}
}

// FindByNames returns PIDs whose name equals one of names (case-insensitive).
// A name given with an extension also matches a process reported without it,
// so "RetroArch.exe" finds "retroarch" under Wine or Proton.
func (pm *ProcessManagerImpl) FindByNames(names []string) ([]int, error) {
	if len(names) == 0 {
		return nil, nil
	}
	procs, err := process.Processes()
	if err != nil {
		return nil, err
	}

	wanted := make(map[string]bool, len(names)*2)
	for _, n := range names {
		lower := strings.ToLower(n)
		wanted[lower] = true
		wanted[strings.TrimSuffix(lower, filepath.Ext(lower))] = true
	}

	var found []int
	for _, p := range procs {
		name, err := p.Name()
		if err != nil {
			continue // Process may have exited
		}
		if wanted[strings.ToLower(name)] {
			found = append(found, int(p.Pid))
		}
	}

	sort.Ints(found)
	return found, nil
}

// Descendants returns every transitive child of pid.
func (pm *ProcessManagerImpl) Descendants(pid int) []int {
	root, err := process.NewProcess(int32(pid))
	if err != nil {
		return nil
	}

	var out []int
	queue := []*process.Process{root}
	seen := map[int32]bool{root.Pid: true}
	for len(queue) > 0 {
		p := queue[0]
		queue = queue[1:]
		children, err := p.Children()
		if err != nil {
			continue // No children or process gone
		}
		for _, c := range children {
			if seen[c.Pid] {
				continue
			}
			seen[c.Pid] = true
			out = append(out, int(c.Pid))
			queue = append(queue, c)
		}
	}
	return out
}

// IsRunning checks if a PID exists and is running.
func (pm *ProcessManagerImpl) IsRunning(pid int) bool {
	if pid <= 0 {
		return false
	}
	ok, err := process.PidExists(int32(pid))
	return err == nil && ok
}

// GetCurrentPID returns the current process PID.
func (pm *ProcessManagerImpl) GetCurrentPID() int {
	return os.Getpid()
}

// Ensure ProcessManagerImpl implements domain.ProcessManager.
var _ domain.ProcessManager = (*ProcessManagerImpl)(nil)
