package infra

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"sort"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/eliteGoblin/focusd/crtsession/internal/domain"
)

const (
	attemptPrefix = "attempt-"
	indexFileName = "index.json"
)

// backupIndex is the durable record of what must be restored for one attempt.
type backupIndex struct {
	Attempt    int                   `json:"attempt"`
	SessionID  string                `json:"session_id,omitempty"`
	CreatedAt  time.Time             `json:"created_at"`
	RestoredAt *time.Time            `json:"restored_at,omitempty"`
	Records    []domain.BackupRecord `json:"records"`
}

// AttemptInfo summarizes an attempt directory for status and pruning.
type AttemptInfo struct {
	Number     int
	Dir        string
	SessionID  string
	CreatedAt  time.Time
	RestoredAt *time.Time
	Files      int
}

// BackupVault owns the backup root. Every session or validation run gets
// a fresh numbered attempt directory inside it.
type BackupVault struct {
	root   string
	logger *zap.Logger
}

// NewBackupVault creates a vault rooted at root.
func NewBackupVault(root string, logger *zap.Logger) *BackupVault {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &BackupVault{root: root, logger: logger}
}

// Root returns the vault directory.
func (v *BackupVault) Root() string {
	return v.root
}

// NewAttempt reserves the next attempt directory. Reservation uses an
// exclusive mkdir, so two concurrent runs never share a directory.
func (v *BackupVault) NewAttempt(sessionID string) (*BackupAttempt, error) {
	if err := os.MkdirAll(v.root, 0700); err != nil {
		return nil, fmt.Errorf("failed to create backup root: %w", err)
	}

	infos, err := v.Attempts()
	if err != nil {
		return nil, err
	}
	next := 1
	if len(infos) > 0 {
		next = infos[len(infos)-1].Number + 1
	}

	for tries := 0; tries < 1000; tries++ {
		n := next + tries
		dir := filepath.Join(v.root, attemptDirName(n))
		err := os.Mkdir(dir, 0700)
		if errors.Is(err, os.ErrExist) {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("failed to create attempt directory: %w", err)
		}

		a := &BackupAttempt{
			number: n,
			dir:    dir,
			index: backupIndex{
				Attempt:   n,
				SessionID: sessionID,
				CreatedAt: time.Now(),
				Records:   []domain.BackupRecord{},
			},
			bySource: make(map[string]domain.BackupRecord),
			logger:   v.logger,
		}
		// The empty index marks the attempt as in-flight from the start
		if err := a.saveIndex(); err != nil {
			os.RemoveAll(dir)
			return nil, err
		}
		return a, nil
	}
	return nil, fmt.Errorf("no free attempt directory under %s", v.root)
}

// LoadAttempt reopens an attempt from its durable index.
func (v *BackupVault) LoadAttempt(n int) (*BackupAttempt, error) {
	dir := filepath.Join(v.root, attemptDirName(n))
	idx, err := readIndex(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: %d", domain.ErrNoAttempt, n)
		}
		return nil, err
	}

	a := &BackupAttempt{
		number:   n,
		dir:      dir,
		index:    *idx,
		bySource: make(map[string]domain.BackupRecord),
		logger:   v.logger,
	}
	for _, rec := range idx.Records {
		a.bySource[rec.Original] = rec
	}
	return a, nil
}

// Attempts lists every attempt directory that carries an index, oldest first.
func (v *BackupVault) Attempts() ([]AttemptInfo, error) {
	entries, err := os.ReadDir(v.root)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}

	var infos []AttemptInfo
	for _, e := range entries {
		if !e.IsDir() || !strings.HasPrefix(e.Name(), attemptPrefix) {
			continue
		}
		n, err := strconv.Atoi(strings.TrimPrefix(e.Name(), attemptPrefix))
		if err != nil {
			continue
		}
		info := AttemptInfo{Number: n, Dir: filepath.Join(v.root, e.Name())}
		if idx, err := readIndex(info.Dir); err == nil {
			info.SessionID = idx.SessionID
			info.CreatedAt = idx.CreatedAt
			info.RestoredAt = idx.RestoredAt
			info.Files = len(idx.Records)
		}
		infos = append(infos, info)
	}

	sort.Slice(infos, func(i, j int) bool { return infos[i].Number < infos[j].Number })
	return infos, nil
}

// Pending returns attempts with snapshots that were never marked restored.
// These are evidence of a crashed session and need manual attention.
func (v *BackupVault) Pending() ([]AttemptInfo, error) {
	infos, err := v.Attempts()
	if err != nil {
		return nil, err
	}
	var pending []AttemptInfo
	for _, info := range infos {
		if info.RestoredAt == nil && info.Files > 0 {
			pending = append(pending, info)
		}
	}
	return pending, nil
}

// Prune removes restored attempts beyond the newest keep. Pending attempts
// are never pruned.
func (v *BackupVault) Prune(keep int) ([]int, error) {
	infos, err := v.Attempts()
	if err != nil {
		return nil, err
	}

	var removable []AttemptInfo
	for _, info := range infos {
		if info.RestoredAt != nil || info.Files == 0 {
			removable = append(removable, info)
		}
	}
	if len(removable) <= keep {
		return nil, nil
	}

	var removed []int
	for _, info := range removable[:len(removable)-keep] {
		if err := os.RemoveAll(info.Dir); err != nil {
			v.logger.Warn("failed to prune backup attempt",
				zap.Int("attempt", info.Number),
				zap.Error(err))
			continue
		}
		removed = append(removed, info.Number)
	}
	return removed, nil
}

// BackupAttempt implements domain.BackupStore for one numbered attempt.
type BackupAttempt struct {
	number   int
	dir      string
	index    backupIndex
	bySource map[string]domain.BackupRecord
	logger   *zap.Logger
}

// Number returns the attempt number.
func (a *BackupAttempt) Number() int {
	return a.number
}

// Dir returns the attempt directory.
func (a *BackupAttempt) Dir() string {
	return a.dir
}

// Records returns the snapshots taken so far, in order.
func (a *BackupAttempt) Records() []domain.BackupRecord {
	out := make([]domain.BackupRecord, len(a.index.Records))
	copy(out, a.index.Records)
	return out
}

// Snapshot copies path into the attempt. A file already snapshotted in this
// attempt returns its existing record; snapshots are never overwritten.
// The index is on disk before Snapshot returns.
func (a *BackupAttempt) Snapshot(path string) (domain.BackupRecord, error) {
	if rec, ok := a.bySource[path]; ok {
		return rec, nil
	}

	info, err := os.Stat(path)
	if err != nil {
		return domain.BackupRecord{}, fmt.Errorf("failed to stat %s: %w", path, err)
	}
	if !info.Mode().IsRegular() {
		return domain.BackupRecord{}, fmt.Errorf("%s is not a regular file", path)
	}

	seq := len(a.index.Records) + 1
	snapshot := filepath.Join(a.dir, fmt.Sprintf("%04d%s", seq, filepath.Ext(path)))
	if _, err := os.Stat(snapshot); err == nil {
		return domain.BackupRecord{}, fmt.Errorf("snapshot %s already exists", snapshot)
	}

	if err := CopyFileAtomic(path, snapshot, 0600); err != nil {
		return domain.BackupRecord{}, fmt.Errorf("failed to snapshot %s: %w", path, err)
	}

	sum, err := FileSHA256(snapshot)
	if err != nil {
		os.Remove(snapshot)
		return domain.BackupRecord{}, fmt.Errorf("failed to hash snapshot of %s: %w", path, err)
	}

	rec := domain.BackupRecord{
		Attempt:   a.number,
		Seq:       seq,
		Original:  path,
		Snapshot:  snapshot,
		SHA256:    sum,
		Mode:      uint32(info.Mode().Perm()),
		CreatedAt: time.Now(),
	}

	a.index.Records = append(a.index.Records, rec)
	if err := a.saveIndex(); err != nil {
		a.index.Records = a.index.Records[:len(a.index.Records)-1]
		os.Remove(snapshot)
		return domain.BackupRecord{}, fmt.Errorf("failed to persist backup index: %w", err)
	}
	a.bySource[path] = rec

	a.logger.Debug("snapshot taken",
		zap.Int("attempt", a.number),
		zap.String("original", path),
		zap.String("snapshot", snapshot))
	return rec, nil
}

// RestoreAll copies every snapshot back to its original path. Failures are
// collected with a manual recovery hint; the rest are still attempted.
func (a *BackupAttempt) RestoreAll(records []domain.BackupRecord) domain.RestoreReport {
	var report domain.RestoreReport

	for _, rec := range records {
		if err := restoreRecord(rec); err != nil {
			hint := ManualRestoreHint(rec.Snapshot, rec.Original)
			a.logger.Error("restore failed",
				zap.String("original", rec.Original),
				zap.String("snapshot", rec.Snapshot),
				zap.String("manual", hint),
				zap.Error(err))
			report.Failures = append(report.Failures, domain.RestoreFailure{
				Original:   rec.Original,
				Snapshot:   rec.Snapshot,
				Reason:     err.Error(),
				ManualHint: hint,
			})
			continue
		}
		a.logger.Info("restored", zap.String("original", rec.Original))
		report.Restored = append(report.Restored, rec.Original)
	}

	return report
}

// MarkRestored stamps the index so the attempt no longer counts as pending.
func (a *BackupAttempt) MarkRestored() error {
	now := time.Now()
	a.index.RestoredAt = &now
	return a.saveIndex()
}

// Discard removes the attempt directory.
func (a *BackupAttempt) Discard() error {
	return os.RemoveAll(a.dir)
}

func (a *BackupAttempt) saveIndex() error {
	data, err := json.MarshalIndent(a.index, "", "  ")
	if err != nil {
		return err
	}
	if err := WriteFileAtomic(filepath.Join(a.dir, indexFileName), data, 0600); err != nil {
		return err
	}
	_ = syncDir(a.dir)
	return nil
}

func restoreRecord(rec domain.BackupRecord) error {
	if rec.SHA256 != "" {
		sum, err := FileSHA256(rec.Snapshot)
		if err != nil {
			return fmt.Errorf("snapshot unreadable: %w", err)
		}
		if sum != rec.SHA256 {
			return fmt.Errorf("snapshot checksum mismatch")
		}
	}

	mode := os.FileMode(rec.Mode)
	if mode == 0 {
		mode = 0644
	}
	if err := CopyFileAtomic(rec.Snapshot, rec.Original, mode); err != nil {
		return err
	}

	if rec.SHA256 != "" {
		sum, err := FileSHA256(rec.Original)
		if err != nil {
			return fmt.Errorf("restored file unreadable: %w", err)
		}
		if sum != rec.SHA256 {
			return fmt.Errorf("restored file checksum mismatch")
		}
	}
	return nil
}

// ManualRestoreHint returns the shell command an operator can run by hand.
func ManualRestoreHint(snapshot, original string) string {
	if runtime.GOOS == "windows" {
		return fmt.Sprintf(`copy /Y "%s" "%s"`, snapshot, original)
	}
	return fmt.Sprintf(`cp "%s" "%s"`, snapshot, original)
}

func attemptDirName(n int) string {
	return fmt.Sprintf("%s%04d", attemptPrefix, n)
}

func readIndex(dir string) (*backupIndex, error) {
	data, err := os.ReadFile(filepath.Join(dir, indexFileName))
	if err != nil {
		return nil, err
	}
	var idx backupIndex
	if err := json.Unmarshal(data, &idx); err != nil {
		return nil, fmt.Errorf("corrupt backup index in %s: %w", dir, err)
	}
	return &idx, nil
}

// Ensure BackupAttempt implements domain.BackupStore.
var _ domain.BackupStore = (*BackupAttempt)(nil)
