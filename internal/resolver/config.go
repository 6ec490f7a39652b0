package resolver

import (
	"os"
	"time"

	"github.com/rotisserie/eris"
	"gopkg.in/yaml.v3"

	"github.com/nutriflow/nutrition-core/internal/model"
)

// Config holds the injected resolution knobs: source base priorities, the
// acceptance threshold, and fan-out behavior. Never a package global.
type Config struct {
	// ConfidenceThreshold is the minimum single-source confidence that
	// short-circuits the chain.
	ConfidenceThreshold float64 `yaml:"confidence_threshold" mapstructure:"confidence_threshold"`

	// FanOut is how many sources are attempted concurrently per batch.
	// 1 means strictly sequential.
	FanOut int `yaml:"fan_out" mapstructure:"fan_out"`

	// PerSourceTimeout bounds each individual source attempt.
	PerSourceTimeout time.Duration `yaml:"per_source_timeout" mapstructure:"per_source_timeout"`

	// Priorities are the base priority weights per source variant.
	Priorities map[model.DataSource]float64 `yaml:"priorities" mapstructure:"priorities"`
}

// DefaultConfig returns the standard priority table and threshold.
func DefaultConfig() *Config {
	return &Config{
		ConfidenceThreshold: 0.7,
		FanOut:              1,
		PerSourceTimeout:    5 * time.Second,
		Priorities: map[model.DataSource]float64{
			model.SourceManual:            1.0,
			model.SourceRegionalDatabase:  0.9,
			model.SourceCommunityDatabase: 0.8,
			model.SourceAIEstimate:        0.6,
			model.SourceGeneric:           0.3,
		},
	}
}

// Priority returns the base priority for a source, falling back to the
// generic weight for anything unconfigured.
func (c *Config) Priority(src model.DataSource) float64 {
	if p, ok := c.Priorities[src]; ok {
		return p
	}
	return c.Priorities[model.SourceGeneric]
}

// LoadConfig reads resolver config from a YAML file. Missing knobs fall back
// to the defaults.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, eris.Wrapf(err, "resolver: read config %s", path)
	}

	var wrapper struct {
		Resolver Config `yaml:"resolver"`
	}
	if err := yaml.Unmarshal(data, &wrapper); err != nil {
		return nil, eris.Wrap(err, "resolver: parse config")
	}

	cfg := wrapper.Resolver
	defaults := DefaultConfig()
	if cfg.ConfidenceThreshold == 0 {
		cfg.ConfidenceThreshold = defaults.ConfidenceThreshold
	}
	if cfg.FanOut == 0 {
		cfg.FanOut = defaults.FanOut
	}
	if cfg.PerSourceTimeout == 0 {
		cfg.PerSourceTimeout = defaults.PerSourceTimeout
	}
	if cfg.Priorities == nil {
		cfg.Priorities = defaults.Priorities
	} else {
		for src, p := range defaults.Priorities {
			if _, ok := cfg.Priorities[src]; !ok {
				cfg.Priorities[src] = p
			}
		}
	}
	return &cfg, nil
}
