// Package config holds the engine's in-process tunables. Full configuration
// *loading* — resolving a repository's on-disk config, merging env vars and
// CLI flags, per-remote settings — is the out-of-scope external collaborator
// named in spec §1. What the engine still needs is the handful of knobs
// spec §4.1, §4.4, and §5 leave as implementation-defined defaults, loaded
// the same way the teacher loads .pgit/config.toml: github.com/BurntSushi/toml
// decoding into a plain struct with Load/Save methods.
package config

import (
	"os"
	"path/filepath"
	"time"

	"github.com/BurntSushi/toml"
)

// EngineConfig collects the defaults spec §9's Open Questions leave to the
// implementer, plus the thresholds §4.1 and §5 name as defaults to be
// validated by the test suite.
type EngineConfig struct {
	// FuzzyConfidenceFloor is the minimum confidence score (0-100) a fuzzy
	// hunk match must reach to be accepted (§4.1 default: 50).
	FuzzyConfidenceFloor int `toml:"fuzzy_confidence_floor"`

	// FuzzyContextWindow is the maximum number of context lines in a hunk
	// allowed to mismatch during fuzzy matching (§4.1 default: 3).
	FuzzyContextWindow int `toml:"fuzzy_context_window"`

	// ElideEmptyCommits controls whether a rewritten commit whose patch set
	// became empty is dropped from history or kept as an empty commit
	// (§9 Open Question; default: elide).
	ElideEmptyCommits bool `toml:"elide_empty_commits"`

	// BackupRetentionDays is how long backup refs are kept before they
	// become eligible for pruning (§4.4 default: 14 days).
	BackupRetentionDays int `toml:"backup_retention_days"`

	// TransactionTimeoutSeconds is the wall-clock deadline for a single
	// transaction (§5 default: 5 minutes).
	TransactionTimeoutSeconds int `toml:"transaction_timeout_seconds"`
}

// DefaultEngineConfig returns the spec-default configuration.
func DefaultEngineConfig() *EngineConfig {
	return &EngineConfig{
		FuzzyConfidenceFloor:      50,
		FuzzyContextWindow:        3,
		ElideEmptyCommits:         true,
		BackupRetentionDays:       14,
		TransactionTimeoutSeconds: 300,
	}
}

// BackupRetention returns the configured retention window as a Duration.
func (c *EngineConfig) BackupRetention() time.Duration {
	return time.Duration(c.BackupRetentionDays) * 24 * time.Hour
}

// TransactionTimeout returns the configured transaction deadline as a
// Duration.
func (c *EngineConfig) TransactionTimeout() time.Duration {
	return time.Duration(c.TransactionTimeoutSeconds) * time.Second
}

// Load reads an EngineConfig from a TOML file at path. A missing file is not
// an error — it yields the spec defaults, the same tolerant behavior the
// teacher's container/runtime detection uses for an absent local setup.
func Load(path string) (*EngineConfig, error) {
	cfg := DefaultEngineConfig()
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return cfg, nil
	}
	if _, err := toml.DecodeFile(path, cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Save writes the EngineConfig to path as TOML, creating parent directories
// as needed.
func (c *EngineConfig) Save(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return err
	}
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()
	return toml.NewEncoder(f).Encode(c)
}
