// Package config loads engine-wide tunables with viper, using a small
// typed config struct decoded via viper.Unmarshal, and optionally
// live-reloads the mutable subset with fsnotify.
package config

import (
	"fmt"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"github.com/beads-db/kernel/internal/txn"
)

// DatabaseConfig holds the engine tunables named in SPEC_FULL.md's
// ambient-stack config section.
type DatabaseConfig struct {
	DefaultIsolation string `mapstructure:"default_isolation" yaml:"default_isolation"`
	DefaultMode      string `mapstructure:"default_mode" yaml:"default_mode"`

	MaxMemoryRowCount int `mapstructure:"max_memory_row_count" yaml:"max_memory_row_count"`

	LockTimeout      time.Duration `mapstructure:"lock_timeout" yaml:"lock_timeout"`
	StatementTimeout time.Duration `mapstructure:"statement_timeout" yaml:"statement_timeout"`

	TxConflictRollback  bool `mapstructure:"tx_conflict_rollback" yaml:"tx_conflict_rollback"`
	TxInterruptRollback bool `mapstructure:"tx_interrupt_rollback" yaml:"tx_interrupt_rollback"`
	DeadlockCheck       bool `mapstructure:"deadlock_check" yaml:"deadlock_check"`
}

// Defaults returns the configuration an engine starts with absent any
// config file, matching spec.md's stated defaults (strict 2PL, hybrid
// row store promotion threshold, deadlock checking on).
func Defaults() DatabaseConfig {
	return DatabaseConfig{
		DefaultIsolation:    "READ_COMMITTED",
		DefaultMode:         "LOCKS",
		MaxMemoryRowCount:   100_000,
		LockTimeout:         10 * time.Second,
		StatementTimeout:    30 * time.Second,
		TxConflictRollback:  true,
		TxInterruptRollback: true,
		DeadlockCheck:       true,
	}
}

// Mode resolves the configured default transaction-manager mode.
func (c DatabaseConfig) Mode() txn.Mode {
	switch c.DefaultMode {
	case "MV2PL":
		return txn.ModeMV2PL
	case "MVCC":
		return txn.ModeMVCC
	default:
		return txn.ModeLocks
	}
}

// Isolation resolves the configured default isolation level.
func (c DatabaseConfig) Isolation() txn.Isolation {
	switch c.DefaultIsolation {
	case "REPEATABLE_READ":
		return txn.RepeatableRead
	case "SERIALIZABLE":
		return txn.Serializable
	default:
		return txn.ReadCommitted
	}
}

// Dump renders cfg as YAML, the format the loader itself reads, so an
// operator can capture a running engine's effective configuration (after
// defaults and any file overrides are applied) and hand it back as a
// config file verbatim.
func (c DatabaseConfig) Dump() ([]byte, error) {
	return yaml.Marshal(c)
}

// Loader reads DatabaseConfig from a YAML or TOML file via viper,
// accepting either format the way viper resolves by file extension.
type Loader struct {
	v *viper.Viper
}

// NewLoader constructs a Loader seeded with Defaults() so a config file
// only needs to override what it cares about.
func NewLoader(path string) *Loader {
	v := viper.New()
	v.SetConfigFile(path)
	defaults := Defaults()
	v.SetDefault("default_isolation", defaults.DefaultIsolation)
	v.SetDefault("default_mode", defaults.DefaultMode)
	v.SetDefault("max_memory_row_count", defaults.MaxMemoryRowCount)
	v.SetDefault("lock_timeout", defaults.LockTimeout)
	v.SetDefault("statement_timeout", defaults.StatementTimeout)
	v.SetDefault("tx_conflict_rollback", defaults.TxConflictRollback)
	v.SetDefault("tx_interrupt_rollback", defaults.TxInterruptRollback)
	v.SetDefault("deadlock_check", defaults.DeadlockCheck)
	return &Loader{v: v}
}

// Load reads and unmarshals the configured file.
func (l *Loader) Load() (DatabaseConfig, error) {
	var cfg DatabaseConfig
	if err := l.v.ReadInConfig(); err != nil {
		return cfg, fmt.Errorf("config: read %s: %w", l.v.ConfigFileUsed(), err)
	}
	if err := l.v.Unmarshal(&cfg); err != nil {
		return cfg, fmt.Errorf("config: unmarshal: %w", err)
	}
	return cfg, nil
}

// WatchReload live-reloads the mutable tunables (lock/statement timeout,
// deadlock-check toggle) whenever the config file changes on disk, by
// pairing viper with an fsnotify watcher on the config file.
// Structural settings (default mode/isolation) are intentionally not
// hot-reloaded: a running engine's mode switch has its own gated
// SetMode path (spec.md §4.F) rather than silently flipping underfoot.
func (l *Loader) WatchReload(onChange func(DatabaseConfig)) error {
	var current DatabaseConfig
	if err := l.v.Unmarshal(&current); err != nil {
		return fmt.Errorf("config: unmarshal: %w", err)
	}
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("config: start watcher: %w", err)
	}
	if err := watcher.Add(l.v.ConfigFileUsed()); err != nil {
		watcher.Close()
		return fmt.Errorf("config: watch %s: %w", l.v.ConfigFileUsed(), err)
	}
	go func() {
		defer watcher.Close()
		for event := range watcher.Events {
			if event.Op&(fsnotify.Write|fsnotify.Create) == 0 {
				continue
			}
			cfg, err := l.Load()
			if err != nil {
				continue
			}
			current.LockTimeout = cfg.LockTimeout
			current.StatementTimeout = cfg.StatementTimeout
			current.DeadlockCheck = cfg.DeadlockCheck
			onChange(current)
		}
	}()
	return nil
}
