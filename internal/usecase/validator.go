package usecase

import (
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/eliteGoblin/focusd/crtsession/internal/domain"
)

// Attempt is one numbered backup attempt.
// Implementation: infra.BackupAttempt.
type Attempt interface {
	domain.BackupStore
	Number() int
	Dir() string
	MarkRestored() error
	Discard() error
}

// AttemptOpener reserves a fresh attempt for a run.
type AttemptOpener func(sessionID string) (Attempt, error)

// FileHasher returns a content digest of a file.
type FileHasher func(path string) (string, error)

// TargetCheck compares one patch target before and after a dry run.
type TargetCheck struct {
	Path   string
	Before string
	After  string
}

// Identical reports whether the target came back byte-identical.
func (c TargetCheck) Identical() bool {
	return c.Before != "" && c.Before == c.After
}

// DryRunReport is the outcome of a validation run.
type DryRunReport struct {
	Attempt    int
	BackupDir  string
	KeptBackup bool
	Targets    []TargetCheck
	Restore    domain.RestoreReport
}

// OK reports whether every target was restored and is byte-identical.
func (r *DryRunReport) OK() bool {
	if !r.Restore.OK() {
		return false
	}
	for _, t := range r.Targets {
		if !t.Identical() {
			return false
		}
	}
	return true
}

// Validator proves a manifest is safe by running backup, patch and restore
// back to back.
type Validator struct {
	open       AttemptOpener
	dispatcher PatchDispatcher
	hash       FileHasher
	logger     *zap.Logger
}

// NewValidator creates a validator.
func NewValidator(open AttemptOpener, dispatcher PatchDispatcher, hash FileHasher, logger *zap.Logger) *Validator {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Validator{
		open:       open,
		dispatcher: dispatcher,
		hash:       hash,
		logger:     logger,
	}
}

// DryRun applies every patch of m and immediately restores. The attempt
// directory is removed afterwards unless keepBackup is set or the restore
// failed, in which case it is left for manual recovery. A patch failure is
// returned as *domain.PatchApplyError together with the report.
func (v *Validator) DryRun(m *domain.Manifest, sessionID string, keepBackup bool) (*DryRunReport, error) {
	report := &DryRunReport{}

	for _, target := range m.PatchTargets() {
		sum, err := v.hash(target)
		if err != nil {
			return nil, fmt.Errorf("failed to hash %s: %w", target, err)
		}
		report.Targets = append(report.Targets, TargetCheck{Path: target, Before: sum})
	}

	attempt, err := v.open(sessionID)
	if err != nil {
		return nil, fmt.Errorf("failed to open backup attempt: %w", err)
	}
	report.Attempt = attempt.Number()
	report.BackupDir = attempt.Dir()

	engine := NewPatchEngine(attempt, v.dispatcher, v.logger)
	records, applyErr := engine.ApplyAll(m.Patches)
	if applyErr == nil {
		report.Restore = engine.Restore(records)
	} else {
		var perr *domain.PatchApplyError
		if errors.As(applyErr, &perr) {
			report.Restore = perr.Restore
		}
	}

	for i := range report.Targets {
		sum, err := v.hash(report.Targets[i].Path)
		if err != nil {
			v.logger.Error("cannot hash restored target",
				zap.String("path", report.Targets[i].Path),
				zap.Error(err))
			continue
		}
		report.Targets[i].After = sum
	}

	v.finish(attempt, report, keepBackup)
	return report, applyErr
}

func (v *Validator) finish(attempt Attempt, report *DryRunReport, keepBackup bool) {
	if !report.Restore.OK() {
		report.KeptBackup = true
		v.logger.Warn("dry run left files unrestored, keeping backup",
			zap.String("dir", attempt.Dir()))
		return
	}
	if err := attempt.MarkRestored(); err != nil {
		v.logger.Warn("failed to mark attempt restored", zap.Error(err))
	}
	if keepBackup {
		report.KeptBackup = true
		return
	}
	if err := attempt.Discard(); err != nil {
		report.KeptBackup = true
		v.logger.Warn("failed to remove backup attempt",
			zap.String("dir", attempt.Dir()),
			zap.Error(err))
	}
}
