// Package main is the CLI entry point for crtsession.
package main

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/eliteGoblin/focusd/crtsession/internal/config"
	"github.com/eliteGoblin/focusd/crtsession/internal/domain"
)

var (
	// Version info (set via ldflags)
	Version   = "0.1.0"
	Commit    = "dev"
	BuildTime = "unknown"
)

// Exit codes.
const (
	exitOK         = 0
	exitError      = 1
	exitValidation = 2
	exitLockHeld   = 3
	exitPatch      = 4
	exitRestore    = 5
)

var (
	red    = color.New(color.FgRed, color.Bold)
	yellow = color.New(color.FgYellow)
	green  = color.New(color.FgGreen)
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		red.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(exitCode(err))
	}
	os.Exit(exitOK)
}

var rootCmd = &cobra.Command{
	Use:   "crtsession",
	Short: "Run a CRT display session: patch configs, launch, pin windows, restore",
	Long: `crtsession runs one front-end session on a secondary CRT display.

It backs up and patches emulator and front-end config files, launches the
primary front-end, keeps emulator windows pinned to the CRT, and restores
every file when the session ends.

Ctrl+C once releases windows to the main display and keeps the session.
Ctrl+C twice within the grace window ends the session and restores files.`,
	Version:       Version,
	SilenceUsage:  true,
	SilenceErrors: true,
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Long:  `Prints version, commit, and build time. Use --json for machine-readable output.`,
	Run:   runVersion,
}

var (
	configPath string
	debug      bool
	jsonOutput bool
)

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "Config file (default <data dir>/config.yaml)")
	rootCmd.PersistentFlags().BoolVar(&debug, "debug", false, "Debug logging, also to stderr")
	versionCmd.Flags().BoolVar(&jsonOutput, "json", false, "Output version info as JSON")

	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(validateCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(restoreCmd)
	rootCmd.AddCommand(flagCmd)
	rootCmd.AddCommand(historyCmd)
	rootCmd.AddCommand(versionCmd)
}

// exitCode maps an error to the process exit status.
func exitCode(err error) int {
	var (
		lockErr    *domain.LockHeldError
		validErr   *domain.ValidationError
		restoreErr *domain.RestoreError
		patchErr   *domain.PatchApplyError
	)
	switch {
	case err == nil:
		return exitOK
	case errors.As(err, &lockErr):
		return exitLockHeld
	case errors.As(err, &validErr):
		return exitValidation
	case errors.As(err, &restoreErr):
		return exitRestore
	case errors.As(err, &patchErr):
		if !patchErr.Restore.OK() {
			return exitRestore
		}
		return exitPatch
	default:
		return exitError
	}
}

// setup loads configuration and builds the file logger.
func setup() (config.Config, *zap.Logger, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return config.Config{}, nil, err
	}
	return cfg, createLogger(cfg.LogPath, debug), nil
}

func createLogger(path string, debug bool) *zap.Logger {
	cfg := zap.NewProductionConfig()
	cfg.OutputPaths = []string{path}
	cfg.ErrorOutputPaths = []string{path}
	cfg.EncoderConfig.TimeKey = "time"
	cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	if debug {
		cfg.Level = zap.NewAtomicLevelAt(zap.DebugLevel)
		cfg.OutputPaths = append(cfg.OutputPaths, "stderr")
		cfg.ErrorOutputPaths = append(cfg.ErrorOutputPaths, "stderr")
	}

	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		logger, _ := zap.NewProduction()
		return logger
	}
	logger, err := cfg.Build()
	if err != nil {
		// Fallback to stderr if file logging fails
		logger, _ = zap.NewProduction()
	}
	return logger
}

func runVersion(cmd *cobra.Command, args []string) {
	if jsonOutput {
		fmt.Printf(`{"version":"%s","commit":"%s","build_time":"%s"}`+"\n",
			Version, Commit, BuildTime)
	} else {
		fmt.Printf("crtsession %s (commit: %s, built: %s)\n",
			Version, Commit, BuildTime)
	}
}

// printRestoreChecklist prints what an operator must copy back by hand.
func printRestoreChecklist(report domain.RestoreReport) {
	if report.OK() {
		return
	}
	red.Printf("\n%d file(s) could not be restored. Restore them by hand:\n", len(report.Failures))
	for _, f := range report.Failures {
		fmt.Printf("  [ ] %s\n", f.Original)
		yellow.Printf("      reason: %s\n", f.Reason)
		fmt.Printf("      %s\n", f.ManualHint)
	}
}
