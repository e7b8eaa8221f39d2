package main

import (
	"errors"
	"fmt"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/eliteGoblin/focusd/crtsession/internal/domain"
)

func TestExitCode(t *testing.T) {
	failed := domain.RestoreReport{Failures: []domain.RestoreFailure{{Original: "/a", Reason: "gone"}}}

	tests := []struct {
		name string
		err  error
		want int
	}{
		{"nil", nil, exitOK},
		{"generic", errors.New("boom"), exitError},
		{"lock held", &domain.LockHeldError{Path: "/x.lock"}, exitLockHeld},
		{"validation", &domain.ValidationError{Path: "m.yaml", Issues: []string{"bad"}}, exitValidation},
		{"wrapped validation", fmt.Errorf("load: %w", &domain.ValidationError{Path: "m.yaml"}), exitValidation},
		{"patch unwound", &domain.PatchApplyError{Index: 1, Type: "keyvalue", Err: errors.New("x")}, exitPatch},
		{"patch unwind incomplete", &domain.PatchApplyError{Index: 1, Type: "keyvalue", Err: errors.New("x"), Restore: failed}, exitRestore},
		{"restore", domain.NewRestoreError(failed), exitRestore},
		{"restore joined with launch failure", errors.Join(errors.New("launch"), domain.NewRestoreError(failed)), exitRestore},
		{"primary running", fmt.Errorf("%w: bigbox", domain.ErrPrimaryRunning), exitError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, exitCode(tt.err))
		})
	}
}

func TestCreateLogger_WritesToFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "logs", "crtsession.log")

	logger := createLogger(path, false)
	logger.Info("hello")
	_ = logger.Sync()

	assert.FileExists(t, path)
}
