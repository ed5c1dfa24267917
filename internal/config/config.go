// Package config loads git-attrib settings.
//
// Precedence (highest first): ATTRIB_* environment variables, the
// config.toml in the attribution cache dir, built-in defaults.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config is the typed view of all settings.
type Config struct {
	Notes       NotesConfig       `mapstructure:"notes"`
	Propagation PropagationConfig `mapstructure:"propagation"`
	Similarity  SimilarityConfig  `mapstructure:"similarity"`
	Ledger      LedgerConfig      `mapstructure:"ledger"`
	CAS         CASConfig         `mapstructure:"cas"`
	Diff        DiffConfig        `mapstructure:"diff"`
	Log         LogConfig         `mapstructure:"log"`
}

type NotesConfig struct {
	Ref            string `mapstructure:"ref"`
	InlineMaxSpans int    `mapstructure:"inline_max_spans"`
	WriteRetries   int    `mapstructure:"write_retries"`
	// Push sends the notes ref along with every git push.
	Push bool `mapstructure:"push"`
}

type PropagationConfig struct {
	// Budget bounds the work spent on a single commit.
	Budget  time.Duration `mapstructure:"budget"`
	Workers int           `mapstructure:"workers"`
}

type SimilarityConfig struct {
	MaxCandidates int `mapstructure:"max_candidates"`
}

type LedgerConfig struct {
	MaxAge      time.Duration `mapstructure:"max_age"`
	LockTimeout time.Duration `mapstructure:"lock_timeout"`
}

type CASConfig struct {
	Compress   bool          `mapstructure:"compress"`
	PruneGrace time.Duration `mapstructure:"prune_grace"`
}

type DiffConfig struct {
	Timeout time.Duration `mapstructure:"timeout"`
}

type LogConfig struct {
	Level string `mapstructure:"level"`
}

// Default returns the built-in configuration.
func Default() Config {
	return Config{
		Notes: NotesConfig{
			Ref:            "refs/notes/attrib",
			InlineMaxSpans: 64,
			WriteRetries:   5,
		},
		Propagation: PropagationConfig{
			Budget:  500 * time.Millisecond,
			Workers: 4,
		},
		Similarity: SimilarityConfig{MaxCandidates: 200},
		Ledger: LedgerConfig{
			MaxAge:      7 * 24 * time.Hour,
			LockTimeout: 2 * time.Second,
		},
		CAS: CASConfig{
			Compress:   true,
			PruneGrace: 24 * time.Hour,
		},
		Diff: DiffConfig{Timeout: time.Second},
		Log:  LogConfig{Level: "info"},
	}
}

// Load reads config.toml from cacheDir (if present) and the environment.
// A missing file is not an error.
func Load(cacheDir string) (Config, error) {
	v, err := newViper(cacheDir)
	if err != nil {
		return Default(), err
	}
	cfg := Default()
	if err := v.Unmarshal(&cfg); err != nil {
		return Default(), fmt.Errorf("decode config: %w", err)
	}
	return cfg.sanitized(), nil
}

// Path returns the config file location inside cacheDir.
func Path(cacheDir string) string {
	return filepath.Join(cacheDir, "config.toml")
}

func newViper(cacheDir string) (*viper.Viper, error) {
	v := viper.New()
	setDefaults(v)

	v.SetConfigName("config")
	v.SetConfigType("toml")
	if cacheDir != "" {
		v.AddConfigPath(cacheDir)
	}
	if err := v.ReadInConfig(); err != nil {
		if !errors.As(err, &viper.ConfigFileNotFoundError{}) {
			return v, fmt.Errorf("reading config: %w", err)
		}
	}

	v.SetEnvPrefix("ATTRIB")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	return v, nil
}

// setDefaults registers Default() under dotted keys so AutomaticEnv can see
// every key during Unmarshal.
func setDefaults(v *viper.Viper) {
	d := Default()
	v.SetDefault("notes.ref", d.Notes.Ref)
	v.SetDefault("notes.inline_max_spans", d.Notes.InlineMaxSpans)
	v.SetDefault("notes.write_retries", d.Notes.WriteRetries)
	v.SetDefault("notes.push", d.Notes.Push)
	v.SetDefault("propagation.budget", d.Propagation.Budget)
	v.SetDefault("propagation.workers", d.Propagation.Workers)
	v.SetDefault("similarity.max_candidates", d.Similarity.MaxCandidates)
	v.SetDefault("ledger.max_age", d.Ledger.MaxAge)
	v.SetDefault("ledger.lock_timeout", d.Ledger.LockTimeout)
	v.SetDefault("cas.compress", d.CAS.Compress)
	v.SetDefault("cas.prune_grace", d.CAS.PruneGrace)
	v.SetDefault("diff.timeout", d.Diff.Timeout)
	v.SetDefault("log.level", d.Log.Level)
}

func (c Config) sanitized() Config {
	d := Default()
	if !strings.HasPrefix(c.Notes.Ref, "refs/notes/") {
		c.Notes.Ref = d.Notes.Ref
	}
	if c.Notes.WriteRetries < 1 {
		c.Notes.WriteRetries = 1
	}
	if c.Notes.InlineMaxSpans < 0 {
		c.Notes.InlineMaxSpans = 0
	}
	if c.Propagation.Workers < 1 {
		c.Propagation.Workers = 1
	}
	if c.Propagation.Budget <= 0 {
		c.Propagation.Budget = d.Propagation.Budget
	}
	if c.Ledger.LockTimeout <= 0 {
		c.Ledger.LockTimeout = d.Ledger.LockTimeout
	}
	return c
}

// WriteDefault writes the built-in configuration to config.toml in cacheDir
// unless the file already exists. It reports whether a file was written.
func WriteDefault(cacheDir string) (bool, error) {
	path := Path(cacheDir)
	if _, err := os.Stat(path); err == nil {
		return false, nil
	}
	d := Default()
	v := viper.New()
	v.Set("notes.ref", d.Notes.Ref)
	v.Set("notes.inline_max_spans", d.Notes.InlineMaxSpans)
	v.Set("notes.write_retries", d.Notes.WriteRetries)
	v.Set("notes.push", d.Notes.Push)
	v.Set("propagation.budget", d.Propagation.Budget.String())
	v.Set("propagation.workers", d.Propagation.Workers)
	v.Set("similarity.max_candidates", d.Similarity.MaxCandidates)
	v.Set("ledger.max_age", d.Ledger.MaxAge.String())
	v.Set("ledger.lock_timeout", d.Ledger.LockTimeout.String())
	v.Set("cas.compress", d.CAS.Compress)
	v.Set("cas.prune_grace", d.CAS.PruneGrace.String())
	v.Set("diff.timeout", d.Diff.Timeout.String())
	v.Set("log.level", d.Log.Level)
	if err := v.SafeWriteConfigAs(path); err != nil {
		return false, fmt.Errorf("write config: %w", err)
	}
	return true, nil
}
