// Package config loads opcov's YAML configuration the way the teacher's
// service config loader does: defaults applied first via creasty/defaults,
// then a YAML file unmarshaled over them, then a Validate pass that turns
// missing or contradictory settings into one error instead of letting them
// surface as confusing failures deeper in the pipeline.
package config

import (
	"os"

	"github.com/creasty/defaults"
	"github.com/go-faster/errors"
	"gopkg.in/yaml.v3"
)

// Config is opcov's top-level configuration.
type Config struct {
	LoggingLevel string `yaml:"loggingLevel" default:"info"`

	Targets []string `yaml:"targets"`

	Snapshot SnapshotConfig `yaml:"snapshot"`
	Report   ReportConfig   `yaml:"report"`
	Metrics  MetricsConfig  `yaml:"metrics"`
}

// SnapshotConfig selects and configures a snapshot.Store backing.
type SnapshotConfig struct {
	// Backend is "file" or "bolt". Defaults to "file".
	Backend string `yaml:"backend" default:"file"`
	Path    string `yaml:"path" default:"coverage.opcov"`
}

// ReportConfig controls textual report rendering.
type ReportConfig struct {
	ShowAll bool `yaml:"showAll" default:"false"`
	// Color is a tri-state: nil means "detect from the output stream".
	Color *bool `yaml:"color"`
}

// MetricsConfig controls the Prometheus metrics endpoint.
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled" default:"false"`
	Addr    string `yaml:"addr" default:":9100"`
}

// Validate checks the config for missing or contradictory settings.
func (c *Config) Validate() error {
	switch c.Snapshot.Backend {
	case "file", "bolt":
	default:
		return errors.Errorf("snapshot.backend must be \"file\" or \"bolt\", got %q", c.Snapshot.Backend)
	}
	if c.Snapshot.Path == "" {
		return errors.New("snapshot.path must not be empty")
	}
	if c.Metrics.Enabled && c.Metrics.Addr == "" {
		return errors.New("metrics.addr must not be empty when metrics.enabled is true")
	}
	return nil
}

// Load reads and validates a Config from file, applying defaults first the
// same way the teacher's loadConfig does: defaults.Set, then an in-place
// YAML unmarshal over the defaulted struct (via an unexported alias type so
// yaml.Unmarshal can't recurse back into a custom UnmarshalYAML), then
// Validate.
func Load(file string) (*Config, error) {
	cfg := &Config{}
	if err := defaults.Set(cfg); err != nil {
		return nil, errors.Wrap(err, "apply config defaults")
	}

	raw, err := os.ReadFile(file)
	if err != nil {
		return nil, errors.Wrapf(err, "read config %s", file)
	}

	type plain Config
	if err := yaml.Unmarshal(raw, (*plain)(cfg)); err != nil {
		return nil, errors.Wrapf(err, "parse config %s", file)
	}

	if err := cfg.Validate(); err != nil {
		return nil, errors.Wrap(err, "invalid config")
	}

	return cfg, nil
}
