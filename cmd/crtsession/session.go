package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/eliteGoblin/focusd/crtsession/internal/config"
	"github.com/eliteGoblin/focusd/crtsession/internal/domain"
	"github.com/eliteGoblin/focusd/crtsession/internal/infra"
	"github.com/eliteGoblin/focusd/crtsession/internal/manifest"
	"github.com/eliteGoblin/focusd/crtsession/internal/patch"
	"github.com/eliteGoblin/focusd/crtsession/internal/session"
	"github.com/eliteGoblin/focusd/crtsession/internal/usecase"
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run a session from a manifest",
	Long: `Acquires the session lock, validates the manifest, backs up and patches
every target file, launches (or attaches to) the primary front-end and keeps
watched windows on their target rectangles until the session ends.

Files are restored when the primary exits, on a second Ctrl+C within the
grace window, or on SIGTERM.`,
	RunE: runSession,
}

var validateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Dry-run a manifest: backup, patch, restore",
	Long: `Loads the manifest, then backs up, patches and immediately restores every
target file, checking each one comes back byte-identical (SHA-256).
Nothing is launched and no window is touched.`,
	RunE: runValidate,
}

var (
	manifestPath string
	attach       bool
	keepBackup   bool
)

func init() {
	runCmd.Flags().StringVarP(&manifestPath, "manifest", "m", "", "Session manifest (YAML or JSON)")
	runCmd.Flags().BoolVar(&attach, "attach", false, "Attach to an already running primary instead of refusing")
	_ = runCmd.MarkFlagRequired("manifest")

	validateCmd.Flags().StringVarP(&manifestPath, "manifest", "m", "", "Session manifest (YAML or JSON)")
	validateCmd.Flags().BoolVar(&keepBackup, "keep-backup", false, "Keep the backup attempt directory after a clean dry run")
	_ = validateCmd.MarkFlagRequired("manifest")
}

func runSession(cmd *cobra.Command, args []string) error {
	cfg, logger, err := setup()
	if err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()

	path, err := filepath.Abs(manifestPath)
	if err != nil {
		return err
	}

	windows, closeWindows, err := infra.NewWindowSystem(logger)
	if err != nil {
		return fmt.Errorf("window system unavailable: %w", err)
	}
	defer closeWindows()

	latch := session.NewInterruptLatch()
	stopSignals := session.NotifySignals(context.Background(), latch)
	defer stopSignals()

	registry := patch.NewRegistry()
	vault := infra.NewBackupVault(cfg.BackupRoot, logger)
	controller := session.NewController(sessionConfig(cfg), session.Deps{
		Lock:     infra.NewFileLock(cfg.LockPath),
		StopFlag: infra.NewFlagFile(cfg.StopFlagPath),
		Loader:   manifest.NewLoader(registry, logger),
		OpenJournal: func() (domain.Journal, error) {
			j, err := infra.OpenJournal(cfg.JournalPath)
			if err != nil {
				return nil, err
			}
			return j, nil
		},
		OpenAttempt: func(sessionID string) (usecase.Attempt, error) {
			return vault.NewAttempt(sessionID)
		},
		Prune:      vault.Prune,
		Dispatcher: registry,
		Launcher:   infra.NewLauncher(logger),
		Processes:  infra.NewProcessManager(),
		Windows:    windows,
		Latch:      latch,
	}, logger)

	sessionID := uuid.NewString()
	fmt.Printf("\n=== crtsession %s ===\n", sessionID)
	fmt.Printf("Manifest: %s\n", path)
	fmt.Printf("Ctrl+C once: release windows to the main display\n")
	fmt.Printf("Ctrl+C twice within %s: end the session and restore files\n", cfg.GraceWindow)

	res, err := controller.Run(context.Background(), path, sessionID)
	printSessionResult(res, err)
	return err
}

func sessionConfig(cfg config.Config) session.Config {
	return session.Config{
		Watcher: session.WatcherConfig{
			Handoff:        cfg.Handoff,
			PollInterval:   cfg.PollInterval,
			AcquireTimeout: cfg.AcquireTimeout,
			Tolerance:      cfg.DriftTolerance,
		},
		GraceWindow:  cfg.GraceWindow,
		KeepAttempts: cfg.KeepAttempts,
		Attach:       attach,
	}
}

func printSessionResult(res *session.Result, err error) {
	if res == nil {
		return
	}
	if res.Manifest != nil {
		fmt.Printf("Primary: %s (pid %d", res.Manifest.Primary.Slug, res.PrimaryPID)
		if res.Attached {
			fmt.Print(", attached")
		}
		fmt.Println(")")
	}
	if res.Attempt > 0 {
		fmt.Printf("Backup: attempt %d (%s)\n", res.Attempt, res.BackupDir)
	}
	if res.Reason != "" {
		fmt.Printf("Ended: %s\n", res.Reason)
	}
	for _, slug := range res.Release.Missing {
		yellow.Printf("Window for %s was not found to send home\n", slug)
	}

	var perr *domain.PatchApplyError
	if errors.As(err, &perr) {
		printRestoreChecklist(perr.Restore)
	} else {
		printRestoreChecklist(res.Restore)
	}

	if err == nil {
		green.Printf("Restored %d file(s). Session complete.\n", len(res.Restore.Restored))
	}
}

func runValidate(cmd *cobra.Command, args []string) error {
	cfg, logger, err := setup()
	if err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()

	path, err := filepath.Abs(manifestPath)
	if err != nil {
		return err
	}

	// A dry run touches the same files as a session, so it takes the same lock
	lock := infra.NewFileLock(cfg.LockPath)
	token := domain.LockToken{
		PID:       os.Getpid(),
		SessionID: "validate-" + uuid.NewString(),
		Host:      hostname(),
		Manifest:  path,
		StartedAt: time.Now(),
	}
	if err := lock.Acquire(token); err != nil {
		return err
	}
	defer func() {
		if err := lock.Release(token); err != nil {
			logger.Error("failed to release session lock", zap.Error(err))
		}
	}()

	registry := patch.NewRegistry()
	m, err := manifest.NewLoader(registry, logger).Load(path)
	if err != nil {
		return err
	}

	vault := infra.NewBackupVault(cfg.BackupRoot, logger)
	validator := usecase.NewValidator(func(sessionID string) (usecase.Attempt, error) {
		return vault.NewAttempt(sessionID)
	}, registry, infra.FileSHA256, logger)

	fmt.Printf("\n=== Validating %s ===\n", path)
	fmt.Printf("Primary: %s (%s)\n", m.Primary.Slug, m.Primary.Executable)
	fmt.Printf("Watch profiles: %d, patches: %d\n\n", len(m.Watch), len(m.Patches))

	release := holdSignals()
	report, err := validator.DryRun(m, token.SessionID, keepBackup)
	if held := release(); held > 0 {
		yellow.Println("Interrupt received, finished the dry run first")
	}
	if report == nil {
		return err
	}

	for _, t := range report.Targets {
		if t.Identical() {
			green.Print("  PASS ")
		} else {
			red.Print("  FAIL ")
		}
		fmt.Println(t.Path)
	}
	printRestoreChecklist(report.Restore)
	if report.KeptBackup {
		fmt.Printf("\nBackup kept: %s\n", report.BackupDir)
	}

	if err != nil {
		return err
	}
	if rerr := domain.NewRestoreError(report.Restore); rerr != nil {
		return rerr
	}
	if !report.OK() {
		red.Println("\nFAIL: a target changed after restore")
		return errors.New("dry run left a target file changed")
	}
	green.Println("\nPASS: every target restored byte-identical")
	return nil
}

// holdSignals catches SIGINT and SIGTERM while target files sit between
// patch and restore. The returned func stops catching and reports how many
// signals were held back.
func holdSignals() func() int {
	latch := session.NewInterruptLatch()
	stop := session.NotifySignals(context.Background(), latch)
	return func() int {
		stop()
		return len(latch.Drain())
	}
}

func hostname() string {
	h, err := os.Hostname()
	if err != nil {
		return "unknown"
	}
	return h
}
