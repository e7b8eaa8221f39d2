package main

import (
	"context"
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/eliteGoblin/focusd/crtsession/internal/domain"
	"github.com/eliteGoblin/focusd/crtsession/internal/infra"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show the session lock, stop flag and pending backups",
	Long: `Shows whether a session is active (and whether its process is alive),
whether the wrapper stop flag is raised, and any backup attempts that were
never restored, which is what a crashed session leaves behind.`,
	RunE: runStatus,
}

var restoreCmd = &cobra.Command{
	Use:   "restore",
	Short: "Restore files from a backup attempt by hand",
	Long: `Copies every snapshot of a backup attempt back to its original path.
Use after a crash, with the attempt number shown by 'crtsession status'.

A crashed session leaves its lock behind. --force-stale takes that lock over,
but only when the process that holds it is no longer running.`,
	RunE: runRestore,
}

var flagCmd = &cobra.Command{
	Use:   "flag",
	Short: "Inspect, clear or wait for the wrapper stop flag",
	RunE:  runFlag,
}

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "List recent sessions from the journal",
	RunE:  runHistory,
}

var (
	restoreAttempt int
	forceStale     bool
	flagClear      bool
	flagWait       bool
	flagTimeout    time.Duration
	historyLimit   int
	historyEvents  string
)

func init() {
	restoreCmd.Flags().IntVar(&restoreAttempt, "attempt", 0, "Backup attempt number")
	_ = restoreCmd.MarkFlagRequired("attempt")
	restoreCmd.Flags().BoolVar(&forceStale, "force-stale", false, "Take over a lock whose holder is no longer running")

	flagCmd.Flags().BoolVar(&flagClear, "clear", false, "Remove the stop flag")
	flagCmd.Flags().BoolVar(&flagWait, "wait", false, "Block until the stop flag is raised")
	flagCmd.Flags().DurationVar(&flagTimeout, "timeout", 0, "Give up waiting after this long (0 waits forever)")

	historyCmd.Flags().IntVar(&historyLimit, "limit", 20, "Number of sessions to show")
	historyCmd.Flags().StringVar(&historyEvents, "events", "", "Show the events of one session ID")
}

func runStatus(cmd *cobra.Command, args []string) error {
	cfg, logger, err := setup()
	if err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()

	pm := infra.NewProcessManager()
	lock := infra.NewFileLock(cfg.LockPath)
	flag := infra.NewFlagFile(cfg.StopFlagPath)
	vault := infra.NewBackupVault(cfg.BackupRoot, logger)

	fmt.Println("\n=== crtsession Status ===")
	fmt.Printf("Data dir: %s\n", cfg.DataDir)

	holder, err := lock.Holder()
	switch {
	case err != nil:
		red.Printf("Session: lock unreadable (%v)\n", err)
	case holder == nil:
		fmt.Println("Session: none")
	case pm.IsRunning(holder.PID):
		green.Printf("Session: ACTIVE (pid %d, session %s)\n", holder.PID, holder.SessionID)
		fmt.Printf("         manifest %s, started %s\n",
			holder.Manifest, holder.StartedAt.Format("2006-01-02 15:04:05"))
	default:
		yellow.Printf("Session: STALE LOCK (pid %d is not running)\n", holder.PID)
		fmt.Printf("         restore any pending backup with --force-stale, which takes\n")
		fmt.Printf("         over %s while pid %d stays dead\n", lock.Path(), holder.PID)
	}

	if flag.Exists() {
		fmt.Printf("Stop flag: raised (%s)\n", flag.Path())
	} else {
		fmt.Println("Stop flag: clear")
	}

	pending, err := vault.Pending()
	if err != nil {
		return fmt.Errorf("failed to list backups: %w", err)
	}
	if len(pending) == 0 {
		fmt.Println("Pending backups: none")
	} else {
		yellow.Printf("Pending backups: %d\n", len(pending))
		for _, p := range pending {
			fmt.Printf("  - attempt %d: %d file(s), session %s, %s\n",
				p.Number, p.Files, p.SessionID, p.CreatedAt.Format("2006-01-02 15:04:05"))
		}
		switch {
		case holder == nil:
			fmt.Println("\nRun 'crtsession restore --attempt N' to put files back.")
		case !pm.IsRunning(holder.PID):
			fmt.Println("\nRun 'crtsession restore --attempt N --force-stale' to put files back.")
		}
	}

	fmt.Println("=========================")
	return nil
}

func runRestore(cmd *cobra.Command, args []string) error {
	cfg, logger, err := setup()
	if err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()

	lock := infra.NewFileLock(cfg.LockPath)
	token := domain.LockToken{
		PID:       os.Getpid(),
		SessionID: "restore-" + uuid.NewString(),
		Host:      hostname(),
		StartedAt: time.Now(),
	}
	if err := lockForRestore(lock, token, forceStale, infra.NewProcessManager().IsRunning, logger); err != nil {
		return err
	}
	defer func() {
		if err := lock.Release(token); err != nil {
			logger.Error("failed to release session lock", zap.Error(err))
		}
	}()

	vault := infra.NewBackupVault(cfg.BackupRoot, logger)
	attempt, err := vault.LoadAttempt(restoreAttempt)
	if err != nil {
		return err
	}

	records := attempt.Records()
	fmt.Printf("\n=== Restoring attempt %d (%d file(s)) ===\n", attempt.Number(), len(records))
	release := holdSignals()
	report := attempt.RestoreAll(records)
	if held := release(); held > 0 {
		yellow.Println("Interrupt received, finished restoring first")
	}
	for _, path := range report.Restored {
		green.Print("  restored ")
		fmt.Println(path)
	}
	printRestoreChecklist(report)

	if rerr := domain.NewRestoreError(report); rerr != nil {
		return rerr
	}
	if err := attempt.MarkRestored(); err != nil {
		logger.Warn("failed to mark attempt restored", zap.Error(err))
	}
	green.Println("All files restored.")
	return nil
}

// lockForRestore takes the session lock, or with force a lock left by a
// holder that is no longer running.
func lockForRestore(lock *infra.FileLock, token domain.LockToken, force bool, alive func(int) bool, logger *zap.Logger) error {
	if !force {
		return lock.Acquire(token)
	}
	holder, _ := lock.Holder()
	if err := lock.AcquireStale(token, alive); err != nil {
		return err
	}
	if holder != nil {
		logger.Warn("took over stale session lock",
			zap.Int("stale_pid", holder.PID),
			zap.String("stale_session", holder.SessionID))
	}
	return nil
}

func runFlag(cmd *cobra.Command, args []string) error {
	cfg, logger, err := setup()
	if err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()

	flag := infra.NewFlagFile(cfg.StopFlagPath)

	switch {
	case flagClear:
		removed, err := flag.Clear()
		if err != nil {
			return err
		}
		if removed {
			fmt.Println("Stop flag cleared")
		} else {
			fmt.Println("Stop flag was not raised")
		}
		return nil

	case flagWait:
		ctx := context.Background()
		if flagTimeout > 0 {
			var cancel context.CancelFunc
			ctx, cancel = context.WithTimeout(ctx, flagTimeout)
			defer cancel()
		}
		if err := flag.Wait(ctx); err != nil {
			return fmt.Errorf("stop flag not raised: %w", err)
		}
		fmt.Println("Stop flag raised")
		return nil

	default:
		if flag.Exists() {
			fmt.Printf("raised (%s)\n", flag.Path())
		} else {
			fmt.Printf("clear (%s)\n", flag.Path())
		}
		return nil
	}
}

func runHistory(cmd *cobra.Command, args []string) error {
	cfg, logger, err := setup()
	if err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()

	journal, err := infra.OpenJournal(cfg.JournalPath)
	if err != nil {
		return err
	}
	defer journal.Close()

	ctx := context.Background()
	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	defer w.Flush()

	if historyEvents != "" {
		events, err := journal.Events(ctx, historyEvents)
		if err != nil {
			return err
		}
		fmt.Fprintln(w, "TIME\tKIND\tDETAIL")
		for _, e := range events {
			fmt.Fprintf(w, "%s\t%s\t%s\n", e.At.Format("15:04:05"), e.Kind, e.Detail)
		}
		return nil
	}

	records, err := journal.Recent(ctx, historyLimit)
	if err != nil {
		return err
	}
	fmt.Fprintln(w, "STARTED\tDURATION\tOUTCOME\tATTEMPT\tSESSION\tMANIFEST")
	for _, r := range records {
		duration := "-"
		if !r.FinishedAt.IsZero() {
			duration = r.FinishedAt.Sub(r.StartedAt).Round(time.Second).String()
		}
		outcome := r.Outcome
		if outcome == "" {
			outcome = "unfinished"
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%d\t%s\t%s\n",
			r.StartedAt.Format("2006-01-02 15:04"), duration, outcomeColor(outcome),
			r.Attempt, r.ID, r.Manifest)
	}
	return nil
}

func outcomeColor(outcome string) string {
	switch outcome {
	case domain.OutcomeCompleted:
		return green.Sprint(outcome)
	case domain.OutcomeRestoreIncomplete, "unfinished":
		return red.Sprint(outcome)
	default:
		return yellow.Sprint(outcome)
	}
}
