// Package config loads the haulmark YAML configuration file.
package config

import (
	"bytes"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Duration wraps time.Duration with YAML decoding from strings like
// "5s" or "200ms".
type Duration time.Duration

// UnmarshalYAML implements yaml.Unmarshaler.
func (d *Duration) UnmarshalYAML(node *yaml.Node) error {
	var raw string
	if err := node.Decode(&raw); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(raw)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", raw, err)
	}
	*d = Duration(parsed)
	return nil
}

// Std returns the wrapped time.Duration.
func (d Duration) Std() time.Duration { return time.Duration(d) }

// Config is the full configuration.
type Config struct {
	// DBPath is the SQLite local store file.
	DBPath string `yaml:"db_path"`

	Ledger    LedgerConfig    `yaml:"ledger"`
	Backup    BackupConfig    `yaml:"backup"`
	Reconcile ReconcileConfig `yaml:"reconcile"`
}

// LedgerConfig configures the anchor ledger connection and the retry
// policy bounding its calls.
type LedgerConfig struct {
	// Path is the embedded dev ledger directory.
	Path string `yaml:"path"`

	CallTimeout    Duration `yaml:"call_timeout"`
	MaxElapsed     Duration `yaml:"max_elapsed"`
	InitialBackoff Duration `yaml:"initial_backoff"`
}

// BackupConfig configures the optional off-chain backup directory.
type BackupConfig struct {
	Enabled bool   `yaml:"enabled"`
	Dir     string `yaml:"dir"`
}

// ReconcileConfig bounds batch reconciliation fan-out.
type ReconcileConfig struct {
	MaxInFlight int64 `yaml:"max_in_flight"`
}

// Default returns the configuration used when no file is given.
func Default() Config {
	return Config{
		DBPath: "haulmark.db",
		Ledger: LedgerConfig{
			Path:           "haulmark-ledger",
			CallTimeout:    Duration(5 * time.Second),
			MaxElapsed:     Duration(30 * time.Second),
			InitialBackoff: Duration(200 * time.Millisecond),
		},
		Reconcile: ReconcileConfig{MaxInFlight: 8},
	}
}

// Load reads a YAML config file, filling unset fields from Default.
// Unknown keys are rejected to catch typos early.
func Load(path string) (Config, error) {
	cfg := Default()

	raw, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("read config: %w", err)
	}

	dec := yaml.NewDecoder(bytes.NewReader(raw))
	dec.KnownFields(true)
	if err := dec.Decode(&cfg); err != nil {
		return Config{}, fmt.Errorf("parse config %s: %w", path, err)
	}

	if cfg.DBPath == "" {
		return Config{}, fmt.Errorf("config %s: db_path is required", path)
	}
	if cfg.Ledger.Path == "" {
		return Config{}, fmt.Errorf("config %s: ledger.path is required", path)
	}
	if cfg.Backup.Enabled && cfg.Backup.Dir == "" {
		return Config{}, fmt.Errorf("config %s: backup.dir is required when backup is enabled", path)
	}
	if cfg.Reconcile.MaxInFlight <= 0 {
		cfg.Reconcile.MaxInFlight = Default().Reconcile.MaxInFlight
	}

	return cfg, nil
}
