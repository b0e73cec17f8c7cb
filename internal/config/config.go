// Package config loads MCO configuration from mco.json (or a YAML
// variant) and merges CLI overrides on top of file values and defaults.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	yamlv3 "gopkg.in/yaml.v3"

	"github.com/tt-a1i/mco/internal/model"
)

// DefaultPath is probed when no --config flag is given.
const DefaultPath = "mco.json"

type Config struct {
	Providers    []string      `json:"providers,omitempty" yaml:"providers,omitempty"`
	ArtifactBase string        `json:"artifact_base,omitempty" yaml:"artifact_base,omitempty"`
	StateFile    string        `json:"state_file,omitempty" yaml:"state_file,omitempty"`
	Policy       model.Policy  `json:"policy,omitempty" yaml:"policy,omitempty"`
	Logging      LoggingConfig `json:"logging,omitempty" yaml:"logging,omitempty"`
}

type LoggingConfig struct {
	Level string `json:"level,omitempty" yaml:"level,omitempty"`
}

// Default returns the built-in configuration.
func Default() Config {
	return Config{
		Providers:    append([]string(nil), model.KnownProviders...),
		ArtifactBase: "reports/review",
		StateFile:    filepath.Join(".mco", "state.json"),
		Policy:       model.ApplyPolicyDefaults(model.Policy{}),
		Logging:      LoggingConfig{Level: "info"},
	}
}

// Load reads the config file at path and layers it over the defaults.
// An empty path probes DefaultPath and silently falls back to defaults
// when it does not exist; an explicit path must exist.
func Load(path string) (Config, error) {
	cfg := Default()

	explicit := path != ""
	if !explicit {
		path = DefaultPath
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) && !explicit {
			return cfg, nil
		}
		return Config{}, fmt.Errorf("read config %s: %w", path, err)
	}

	var file Config
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		if err := yamlv3.Unmarshal(raw, &file); err != nil {
			return Config{}, fmt.Errorf("parse yaml config %s: %w", path, err)
		}
	default:
		if err := json.Unmarshal(raw, &file); err != nil {
			return Config{}, fmt.Errorf("parse json config %s: %w", path, err)
		}
	}

	cfg = overlay(cfg, file)
	cfg.Policy = model.ApplyPolicyDefaults(cfg.Policy)
	return cfg, nil
}

// overlay copies file values over base, leaving unset fields alone.
func overlay(base, file Config) Config {
	if len(file.Providers) > 0 {
		base.Providers = file.Providers
	}
	if file.ArtifactBase != "" {
		base.ArtifactBase = file.ArtifactBase
	}
	if file.StateFile != "" {
		base.StateFile = file.StateFile
	}
	if file.Logging.Level != "" {
		base.Logging.Level = file.Logging.Level
	}
	base.Policy = overlayPolicy(base.Policy, file.Policy)
	return base
}

func overlayPolicy(base, file model.Policy) model.Policy {
	if file.StallTimeoutSec > 0 {
		base.StallTimeoutSec = file.StallTimeoutSec
	}
	if file.ReviewHardTimeoutSec != 0 {
		base.ReviewHardTimeoutSec = file.ReviewHardTimeoutSec
	}
	if file.MaxProviderParallelism > 0 {
		base.MaxProviderParallelism = file.MaxProviderParallelism
	}
	if file.EnforcementMode != "" {
		base.EnforcementMode = file.EnforcementMode
	}
	if len(file.ProviderTimeouts) > 0 {
		base.ProviderTimeouts = file.ProviderTimeouts
	}
	if len(file.ProviderPermissions) > 0 {
		base.ProviderPermissions = file.ProviderPermissions
	}
	if file.CancelGraceSec > 0 {
		base.CancelGraceSec = file.CancelGraceSec
	}
	// Nonzero includes negative: max_retries: -1 disables retrying.
	if file.MaxRetries != 0 {
		base.MaxRetries = file.MaxRetries
	}
	if file.RetryBaseDelaySec > 0 {
		base.RetryBaseDelaySec = file.RetryBaseDelaySec
	}
	if file.RetryBackoffMultiplier > 0 {
		base.RetryBackoffMultiplier = file.RetryBackoffMultiplier
	}
	return base
}

// Overrides carries CLI flag values. Nil pointers mean "flag not given";
// flags take precedence over config file values.
type Overrides struct {
	Providers       []string
	StallTimeout    *int
	HardTimeout     *int
	MaxParallelism  *int
	EnforcementMode string
	LogLevel        string
}

// Apply layers CLI overrides onto cfg.
func Apply(cfg Config, ov Overrides) Config {
	if len(ov.Providers) > 0 {
		cfg.Providers = ov.Providers
	}
	if ov.StallTimeout != nil {
		cfg.Policy.StallTimeoutSec = *ov.StallTimeout
	}
	if ov.HardTimeout != nil {
		cfg.Policy.ReviewHardTimeoutSec = *ov.HardTimeout
	}
	if ov.MaxParallelism != nil {
		cfg.Policy.MaxProviderParallelism = *ov.MaxParallelism
	}
	if ov.EnforcementMode != "" {
		cfg.Policy.EnforcementMode = model.EnforcementMode(ov.EnforcementMode)
	}
	if ov.LogLevel != "" {
		cfg.Logging.Level = ov.LogLevel
	}
	return cfg
}

// Validate rejects configurations the engine cannot run with.
func Validate(cfg Config) error {
	if cfg.Policy.StallTimeoutSec < 1 {
		return fmt.Errorf("stall_timeout_seconds must be >= 1, got %d", cfg.Policy.StallTimeoutSec)
	}
	if cfg.Policy.ReviewHardTimeoutSec < 0 {
		return fmt.Errorf("review_hard_timeout_seconds must be >= 0, got %d", cfg.Policy.ReviewHardTimeoutSec)
	}
	if cfg.Policy.MaxProviderParallelism < 0 {
		return fmt.Errorf("max_provider_parallelism must be >= 0, got %d", cfg.Policy.MaxProviderParallelism)
	}
	switch cfg.Policy.EnforcementMode {
	case model.EnforcementStrict, model.EnforcementLenient:
	default:
		return fmt.Errorf("enforcement_mode must be strict or lenient, got %q", cfg.Policy.EnforcementMode)
	}
	for _, id := range cfg.Providers {
		if !knownProvider(id) {
			return fmt.Errorf("unknown provider %q", id)
		}
	}
	return nil
}

func knownProvider(id string) bool {
	for _, k := range model.KnownProviders {
		if k == id {
			return true
		}
	}
	return false
}
