// Package usecase contains the patch transaction and the dry-run validator.
package usecase

import (
	"fmt"

	"go.uber.org/zap"

	"github.com/eliteGoblin/focusd/crtsession/internal/domain"
)

// PatchDispatcher applies one spec with the handler its type tag selects.
// Implementation: patch.Registry.
type PatchDispatcher interface {
	Apply(spec domain.PatchSpec) error
}

// PatchEngine applies patch specs as one transaction over a BackupStore.
// On disk, targets are either all in their pre-session state or all patched.
type PatchEngine struct {
	store      domain.BackupStore
	dispatcher PatchDispatcher
	logger     *zap.Logger
}

// NewPatchEngine creates an engine that snapshots into store.
func NewPatchEngine(store domain.BackupStore, dispatcher PatchDispatcher, logger *zap.Logger) *PatchEngine {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &PatchEngine{
		store:      store,
		dispatcher: dispatcher,
		logger:     logger,
	}
}

// ApplyAll applies specs in order. Every target of a spec is snapshotted
// before its handler runs. If anything fails, every file snapshotted
// so far (the failing spec's included) is restored, later specs are never
// attempted, and a *domain.PatchApplyError is returned.
func (e *PatchEngine) ApplyAll(specs []domain.PatchSpec) ([]domain.BackupRecord, error) {
	var records []domain.BackupRecord
	seen := make(map[string]bool)

	for _, spec := range specs {
		for _, target := range spec.Targets() {
			if seen[target] {
				continue
			}
			rec, err := e.store.Snapshot(target)
			if err != nil {
				return nil, e.unwind(spec, records, fmt.Errorf("backup failed: %w", err))
			}
			seen[target] = true
			records = append(records, rec)
		}

		if err := e.dispatcher.Apply(spec); err != nil {
			return nil, e.unwind(spec, records, err)
		}

		e.logger.Info("patch applied",
			zap.Int("index", spec.Index),
			zap.String("type", spec.Type),
			zap.Strings("targets", spec.Targets()))
	}

	return records, nil
}

// Restore copies every snapshot back. Failures are reported, never fatal.
func (e *PatchEngine) Restore(records []domain.BackupRecord) domain.RestoreReport {
	report := e.store.RestoreAll(records)
	if report.OK() {
		e.logger.Info("all patch targets restored", zap.Int("files", len(report.Restored)))
	} else {
		e.logger.Error("restore incomplete",
			zap.Int("restored", len(report.Restored)),
			zap.Int("failed", len(report.Failures)))
	}
	return report
}

func (e *PatchEngine) unwind(spec domain.PatchSpec, records []domain.BackupRecord, cause error) error {
	e.logger.Error("patch failed, restoring everything applied so far",
		zap.Int("index", spec.Index),
		zap.String("type", spec.Type),
		zap.Strings("targets", spec.Targets()),
		zap.Error(cause))

	return &domain.PatchApplyError{
		Index:   spec.Index,
		Type:    spec.Type,
		Targets: spec.Targets(),
		Err:     cause,
		Restore: e.Restore(records),
	}
}
