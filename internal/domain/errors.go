package domain

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrUnknownPatchType is returned when no handler is registered for a type tag.
	ErrUnknownPatchType = errors.New("unknown patch type")

	// ErrPrimaryRunning is returned when the primary is already running and
	// the session was not started in attach mode.
	ErrPrimaryRunning = errors.New("primary process is already running")

	// ErrNoAttempt is returned when a backup attempt has no index on disk.
	ErrNoAttempt = errors.New("backup attempt not found")
)

// ValidationError collects every manifest problem found in one pass.
type ValidationError struct {
	Path   string
	Issues []string
}

func (e *ValidationError) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "manifest validation failed (%s):", e.Path)
	for _, issue := range e.Issues {
		b.WriteString("\n  - ")
		b.WriteString(issue)
	}
	return b.String()
}

// PatchApplyError names the patch spec that failed mid-mutation.
// Restore carries the outcome of the automatic unwind.
type PatchApplyError struct {
	Index   int
	Type    string
	Targets []string
	Err     error
	Restore RestoreReport
}

func (e *PatchApplyError) Error() string {
	return fmt.Sprintf("patches[%d] (%s) on %s: %v",
		e.Index, e.Type, strings.Join(e.Targets, ", "), e.Err)
}

func (e *PatchApplyError) Unwrap() error { return e.Err }

// RestoreError lists every file that could not be restored.
type RestoreError struct {
	Failures []RestoreFailure
}

// NewRestoreError returns nil when the report has no failures.
func NewRestoreError(report RestoreReport) error {
	if report.OK() {
		return nil
	}
	return &RestoreError{Failures: report.Failures}
}

func (e *RestoreError) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "%d file(s) could not be restored:", len(e.Failures))
	for _, f := range e.Failures {
		fmt.Fprintf(&b, "\n  - %s: %s\n    manual: %s", f.Original, f.Reason, f.ManualHint)
	}
	return b.String()
}

// LockHeldError means another session is active.
type LockHeldError struct {
	Path   string
	Holder *LockToken
}

func (e *LockHeldError) Error() string {
	if e.Holder == nil {
		return fmt.Sprintf("another session is active (lock %s)", e.Path)
	}
	return fmt.Sprintf("another session is active (lock %s, pid %d, session %s, started %s)",
		e.Path, e.Holder.PID, e.Holder.SessionID, e.Holder.StartedAt.Format("2006-01-02 15:04:05"))
}
