// Package domain contains core session entities and interfaces.
// This is the innermost layer in Clean Architecture - no external dependencies.
package domain

import (
	"strings"
	"time"
)

// SchemaVersion is the only manifest schema this engine understands.
const SchemaVersion = 1

// Rect is a screen rectangle in root-window coordinates.
// Width and Height of zero mean "position only" when used as a target.
type Rect struct {
	X      int `json:"x" yaml:"x"`
	Y      int `json:"y" yaml:"y"`
	Width  int `json:"w" yaml:"w"`
	Height int `json:"h" yaml:"h"`
}

// PositionOnly reports whether the rect leaves the window size alone.
func (r Rect) PositionOnly() bool {
	return r.Width == 0 || r.Height == 0
}

// Within reports whether current matches r, every edge within tolerance pixels.
// Size is ignored when r is position only.
func (r Rect) Within(current Rect, tolerance int) bool {
	if abs(r.X-current.X) > tolerance || abs(r.Y-current.Y) > tolerance {
		return false
	}
	if r.PositionOnly() {
		return true
	}
	return abs(r.Width-current.Width) <= tolerance && abs(r.Height-current.Height) <= tolerance
}

// Area returns width*height.
func (r Rect) Area() int {
	return r.Width * r.Height
}

func abs(v int) int {
	if v < 0 {
		return -v
	}
	return v
}

// PrimaryProfile describes the process whose liveness defines session liveness.
// The primary's windows are never moved.
type PrimaryProfile struct {
	Slug         string
	ProfilePath  string
	Executable   string
	Dir          string
	Args         []string
	ProcessNames []string
}

// Claims reports whether the profile lists name (case-insensitive).
func (p PrimaryProfile) Claims(name string) bool {
	return containsFold(p.ProcessNames, name)
}

// WatchProfile is one window-enforcement target.
type WatchProfile struct {
	Slug          string
	ProfilePath   string
	ProcessNames  []string
	ClassContains []string
	TitleContains []string
	Target        Rect
	PollInterval  time.Duration // zero means the engine default
}

// Claims reports whether the profile lists name (case-insensitive).
func (w WatchProfile) Claims(name string) bool {
	return containsFold(w.ProcessNames, name)
}

func containsFold(names []string, name string) bool {
	for _, n := range names {
		if strings.EqualFold(n, name) {
			return true
		}
	}
	return false
}

// PatchPayload is the type-specific body of a PatchSpec.
type PatchPayload interface {
	// Targets returns every file the payload mutates, in mutation order.
	Targets() []string
}

// PatchSpec is one mutation unit, dispatched by its type tag.
type PatchSpec struct {
	Index   int
	Type    string
	Payload PatchPayload
}

// Targets returns the files this spec mutates.
func (p PatchSpec) Targets() []string {
	if p.Payload == nil {
		return nil
	}
	return p.Payload.Targets()
}

// Manifest is the validated root session description.
// It is never mutated after ManifestLoader returns it.
type Manifest struct {
	SchemaVersion int
	Path          string
	Primary       PrimaryProfile
	Watch         []WatchProfile
	Patches       []PatchSpec
}

// PatchTargets returns the de-duplicated list of files touched by all patches,
// in first-touch order.
func (m *Manifest) PatchTargets() []string {
	seen := make(map[string]bool)
	var out []string
	for _, spec := range m.Patches {
		for _, t := range spec.Targets() {
			if !seen[t] {
				seen[t] = true
				out = append(out, t)
			}
		}
	}
	return out
}

// BackupRecord is one snapshot of one target file within an attempt.
type BackupRecord struct {
	Attempt   int       `json:"attempt"`
	Seq       int       `json:"seq"`
	Original  string    `json:"original"`
	Snapshot  string    `json:"snapshot"`
	SHA256    string    `json:"sha256"`
	Mode      uint32    `json:"mode"`
	CreatedAt time.Time `json:"created_at"`
}

// RestoreFailure is a single file that could not be copied back.
type RestoreFailure struct {
	Original   string
	Snapshot   string
	Reason     string
	ManualHint string
}

// RestoreReport is the outcome of a best-effort restore.
type RestoreReport struct {
	Restored []string
	Failures []RestoreFailure
}

// OK reports whether every file was restored.
func (r RestoreReport) OK() bool {
	return len(r.Failures) == 0
}

// Phase is the session lifecycle phase.
type Phase string

const (
	PhaseStarting     Phase = "starting"
	PhaseRunning      Phase = "running"
	PhaseSoftStopped  Phase = "soft-stopped"
	PhaseShuttingDown Phase = "shutting-down"
	PhaseTerminated   Phase = "terminated"
)

// TargetState is the per-watch-profile enforcement state.
type TargetState string

const (
	TargetUnseen  TargetState = "unseen"
	TargetTracked TargetState = "tracked"
	TargetPaused  TargetState = "paused"
)

// LockToken is the identity stored in the session lockfile.
// It exists for human inspection of stale locks and is never auto-expired.
type LockToken struct {
	PID       int       `json:"pid"`
	SessionID string    `json:"session_id"`
	Host      string    `json:"host"`
	Manifest  string    `json:"manifest"`
	StartedAt time.Time `json:"started_at"`
}

// SessionRecord is a journaled session summary.
type SessionRecord struct {
	ID         string
	Manifest   string
	PID        int
	StartedAt  time.Time
	FinishedAt time.Time
	Outcome    string
	Attempt    int
}

// Session outcomes recorded in the journal.
const (
	OutcomeCompleted         = "completed"
	OutcomePatchFailed       = "patch-failed"
	OutcomeRestoreIncomplete = "restore-incomplete"
	OutcomeLaunchFailed      = "launch-failed"
	OutcomeInvalidManifest   = "invalid-manifest"
	OutcomeRefused           = "refused"
)
