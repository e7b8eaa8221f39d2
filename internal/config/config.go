// Package config loads engine configuration: defaults, then an optional YAML
// file, then CRTSESSION_* environment overrides.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/kelseyhightower/envconfig"
	"gopkg.in/yaml.v3"

	"github.com/eliteGoblin/focusd/crtsession/internal/domain"
	"github.com/eliteGoblin/focusd/crtsession/internal/infra"
)

// EnvPrefix is the environment variable prefix for overrides.
const EnvPrefix = "CRTSESSION"

// Config holds engine settings. Zero values are filled from the data dir.
type Config struct {
	DataDir        string        `yaml:"data_dir" split_words:"true"`
	LockPath       string        `yaml:"lock_path" split_words:"true"`
	StopFlagPath   string        `yaml:"stop_flag_path" split_words:"true"`
	BackupRoot     string        `yaml:"backup_root" split_words:"true"`
	JournalPath    string        `yaml:"journal_path" split_words:"true"`
	LogPath        string        `yaml:"log_path" split_words:"true"`
	Handoff        domain.Rect   `yaml:"handoff" split_words:"true"`
	GraceWindow    time.Duration `yaml:"grace_window" split_words:"true"`
	PollInterval   time.Duration `yaml:"poll_interval" split_words:"true"`
	AcquireTimeout time.Duration `yaml:"acquire_timeout" split_words:"true"`
	DriftTolerance int           `yaml:"drift_tolerance" split_words:"true"`
	KeepAttempts   int           `yaml:"keep_attempts" split_words:"true"`
}

// Default returns the built-in configuration for the detected execution mode.
func Default() Config {
	return Config{
		DataDir:        infra.DetectExecMode().DataDir,
		Handoff:        domain.Rect{X: 100, Y: 100, Width: 1280, Height: 720},
		GraceWindow:    5 * time.Second,
		PollInterval:   500 * time.Millisecond,
		AcquireTimeout: 30 * time.Second,
		DriftTolerance: 1,
		KeepAttempts:   10,
	}
}

// Load builds the configuration. path may be empty, in which case
// <data dir>/config.yaml is tried; a missing file is not an error.
func Load(path string) (Config, error) {
	cfg := Default()

	explicit := path != ""
	if !explicit {
		path = filepath.Join(cfg.DataDir, "config.yaml")
	}

	if err := cfg.mergeFile(path); err != nil {
		if explicit || !errors.Is(err, os.ErrNotExist) {
			return Config{}, err
		}
	}

	// Only variables that are set override; envconfig leaves the rest alone
	if err := envconfig.Process(EnvPrefix, &cfg); err != nil {
		return Config{}, fmt.Errorf("invalid %s_* environment: %w", EnvPrefix, err)
	}

	cfg.fillPaths()
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c *Config) mergeFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("failed to parse config %s: %w", path, err)
	}
	return nil
}

// fillPaths derives every unset path from the data dir.
func (c *Config) fillPaths() {
	if c.LockPath == "" {
		c.LockPath = filepath.Join(c.DataDir, ".session.lock")
	}
	if c.StopFlagPath == "" {
		c.StopFlagPath = filepath.Join(c.DataDir, "wrapper_stop_enforce.flag")
	}
	if c.BackupRoot == "" {
		c.BackupRoot = filepath.Join(c.DataDir, "backups")
	}
	if c.JournalPath == "" {
		c.JournalPath = filepath.Join(c.DataDir, "journal.db")
	}
	if c.LogPath == "" {
		c.LogPath = filepath.Join(c.DataDir, "crtsession.log")
	}
}

// Validate rejects settings the engine cannot run with.
func (c Config) Validate() error {
	var issues []string
	if c.DataDir == "" {
		issues = append(issues, "data_dir is empty")
	}
	if c.GraceWindow <= 0 {
		issues = append(issues, "grace_window must be positive")
	}
	if c.PollInterval <= 0 {
		issues = append(issues, "poll_interval must be positive")
	}
	if c.AcquireTimeout <= 0 {
		issues = append(issues, "acquire_timeout must be positive")
	}
	if c.DriftTolerance < 0 {
		issues = append(issues, "drift_tolerance must not be negative")
	}
	if c.KeepAttempts < 0 {
		issues = append(issues, "keep_attempts must not be negative")
	}
	if c.Handoff.Width <= 0 || c.Handoff.Height <= 0 {
		issues = append(issues, "handoff rect needs a positive width and height")
	}
	if len(issues) > 0 {
		return &domain.ValidationError{Path: "config", Issues: issues}
	}
	return nil
}
