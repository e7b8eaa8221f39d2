package infra

import (
	"context"
	"fmt"
	"os/exec"
	"sync"

	"go.uber.org/zap"

	"github.com/eliteGoblin/focusd/crtsession/internal/domain"
)

// ExecLauncher starts the primary as a detached child process.
type ExecLauncher struct {
	logger *zap.Logger
}

// NewLauncher creates a launcher.
func NewLauncher(logger *zap.Logger) *ExecLauncher {
	return &ExecLauncher{logger: logger}
}

// Launch spawns the primary in its own session so a terminal Ctrl+C reaches
// only the session controller. The child outlives ctx on purpose: the
// session never kills its primary.
func (l *ExecLauncher) Launch(ctx context.Context, p domain.PrimaryProfile) (domain.PrimaryProcess, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	cmd := exec.Command(p.Executable, p.Args...)
	cmd.Dir = p.Dir
	configureDetached(cmd)

	// No stdin/stdout/stderr - fully detached
	cmd.Stdin = nil
	cmd.Stdout = nil
	cmd.Stderr = nil

	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("failed to start %s: %w", p.Executable, err)
	}

	sp := &spawnedProcess{pid: cmd.Process.Pid, exited: make(chan struct{})}
	go func() {
		err := cmd.Wait()
		sp.finish(cmd.ProcessState.ExitCode())
		l.logger.Info("primary process exited",
			zap.Int("pid", sp.pid),
			zap.Int("exit_code", sp.ExitCode()),
			zap.Error(err))
	}()

	l.logger.Info("primary launched",
		zap.String("executable", p.Executable),
		zap.Strings("args", p.Args),
		zap.Int("pid", sp.pid))
	return sp, nil
}

type spawnedProcess struct {
	pid    int
	exited chan struct{}

	mu       sync.Mutex
	exitCode int
}

func (s *spawnedProcess) PID() int { return s.pid }

func (s *spawnedProcess) Exited() <-chan struct{} { return s.exited }

// ExitCode is valid once Exited is closed.
func (s *spawnedProcess) ExitCode() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.exitCode
}

func (s *spawnedProcess) finish(code int) {
	s.mu.Lock()
	s.exitCode = code
	s.mu.Unlock()
	close(s.exited)
}

// AttachedProcess is a primary that was already running. Its exit is
// observed by name polling only, so Exited never closes.
type AttachedProcess struct {
	pid int
}

// Attach wraps an existing primary.
func Attach(pid int) *AttachedProcess {
	return &AttachedProcess{pid: pid}
}

func (a *AttachedProcess) PID() int { return a.pid }

func (a *AttachedProcess) Exited() <-chan struct{} { return nil }

// Ensure launcher types implement the domain interfaces.
var (
	_ domain.Launcher       = (*ExecLauncher)(nil)
	_ domain.PrimaryProcess = (*spawnedProcess)(nil)
	_ domain.PrimaryProcess = (*AttachedProcess)(nil)
)
