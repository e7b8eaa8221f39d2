package usecase

import (
	"errors"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/eliteGoblin/focusd/crtsession/internal/domain"
	"github.com/eliteGoblin/focusd/crtsession/internal/infra"
)

func (f *txFixture) validator() *Validator {
	open := func(sessionID string) (Attempt, error) {
		return f.vault.NewAttempt(sessionID)
	}
	return NewValidator(open, f.reg, infra.FileSHA256, zap.NewNop())
}

func TestValidator_DryRunLeavesFilesIdentical(t *testing.T) {
	f := newTxFixture(t, 2)
	m := &domain.Manifest{Patches: []domain.PatchSpec{f.kv(0), f.kv(1)}}

	report, err := f.validator().DryRun(m, "validate-1", false)
	require.NoError(t, err)
	assert.True(t, report.OK())
	assert.Equal(t, 1, report.Attempt)
	assert.False(t, report.KeptBackup)
	require.Len(t, report.Targets, 2)
	for _, tc := range report.Targets {
		assert.True(t, tc.Identical(), tc.Path)
	}
	for _, path := range f.files {
		assert.Equal(t, f.originals[path], read(t, path))
	}

	_, statErr := os.Stat(report.BackupDir)
	assert.True(t, os.IsNotExist(statErr), "attempt dir should be discarded")
}

func TestValidator_KeepBackup(t *testing.T) {
	f := newTxFixture(t, 1)
	m := &domain.Manifest{Patches: []domain.PatchSpec{f.kv(0)}}

	report, err := f.validator().DryRun(m, "validate-1", true)
	require.NoError(t, err)
	assert.True(t, report.KeptBackup)
	assert.DirExists(t, report.BackupDir)

	pending, err := f.vault.Pending()
	require.NoError(t, err)
	assert.Empty(t, pending, "kept attempt must be marked restored")
}

func TestValidator_PatchFailure(t *testing.T) {
	f := newTxFixture(t, 2)
	m := &domain.Manifest{Patches: []domain.PatchSpec{f.kv(0), f.failing(1)}}

	report, err := f.validator().DryRun(m, "validate-1", false)
	var perr *domain.PatchApplyError
	require.True(t, errors.As(err, &perr))
	require.NotNil(t, report)
	assert.True(t, report.OK(), "unwind must still leave files identical")
	for _, path := range f.files {
		assert.Equal(t, f.originals[path], read(t, path))
	}
}

func TestValidator_ConsecutiveRunsUseFreshAttempts(t *testing.T) {
	f := newTxFixture(t, 1)
	m := &domain.Manifest{Patches: []domain.PatchSpec{f.kv(0)}}
	v := f.validator()

	first, err := v.DryRun(m, "a", true)
	require.NoError(t, err)
	second, err := v.DryRun(m, "b", true)
	require.NoError(t, err)
	assert.NotEqual(t, first.BackupDir, second.BackupDir)
	assert.Equal(t, first.Attempt+1, second.Attempt)
}

func TestValidator_MissingTarget(t *testing.T) {
	f := newTxFixture(t, 1)
	require.NoError(t, os.Remove(f.files[0]))
	m := &domain.Manifest{Patches: []domain.PatchSpec{f.kv(0)}}

	report, err := f.validator().DryRun(m, "a", false)
	assert.Nil(t, report)
	assert.ErrorContains(t, err, "failed to hash")

	attempts, err := f.vault.Attempts()
	require.NoError(t, err)
	assert.Empty(t, attempts, "no attempt is opened before targets are readable")
}

func TestDryRunReport_OK(t *testing.T) {
	r := &DryRunReport{Targets: []TargetCheck{{Path: "a", Before: "x", After: "y"}}}
	assert.False(t, r.OK())

	r = &DryRunReport{Restore: domain.RestoreReport{Failures: []domain.RestoreFailure{{Original: "a"}}}}
	assert.False(t, r.OK())

	r = &DryRunReport{Targets: []TargetCheck{{Path: "a", Before: "x", After: "x"}}}
	assert.True(t, r.OK())
}
