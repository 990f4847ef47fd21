package config

import (
	"fmt"
	"os"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"github.com/kilnproject/kiln/pkg/telemetry"
)

// Duration wraps time.Duration so YAML files can use human-readable
// values like "250ms" or "1h".
type Duration time.Duration

// UnmarshalYAML parses either a duration string or integer nanoseconds.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err == nil {
		parsed, err := time.ParseDuration(s)
		if err != nil {
			return fmt.Errorf("invalid duration %q: %w", s, err)
		}
		*d = Duration(parsed)
		return nil
	}

	var n int64
	if err := value.Decode(&n); err != nil {
		return fmt.Errorf("invalid duration value %q", value.Value)
	}
	*d = Duration(n)
	return nil
}

// MarshalYAML renders the duration in its string form.
func (d Duration) MarshalYAML() (interface{}, error) {
	return time.Duration(d).String(), nil
}

// Std returns the wrapped time.Duration.
func (d Duration) Std() time.Duration {
	return time.Duration(d)
}

func (d Duration) String() string {
	return time.Duration(d).String()
}

// Config is the root configuration for the Kiln engine.
type Config struct {
	// Engine configures the task runner and scheduler.
	Engine EngineConfig `yaml:"engine"`

	// Store configures state and event persistence.
	Store StoreConfig `yaml:"store"`

	// Telemetry configures logging, metrics, tracing, and events.
	Telemetry *telemetry.Config `yaml:"telemetry"`

	// Resources are the resource definitions to manage.
	Resources []ResourceDefinition `yaml:"resources"`
}

// EngineConfig configures the task runner and scheduler.
type EngineConfig struct {
	// PollInterval is the time between remote status probes.
	PollInterval Duration `yaml:"poll_interval" validate:"min=0"`

	// ActionTimeout bounds the wall-clock duration of a single action.
	ActionTimeout Duration `yaml:"action_timeout" validate:"min=0"`

	// ActionRetryLimit is the number of extra attempts after a
	// transport-level failure. Zero disables retries.
	ActionRetryLimit int `yaml:"action_retry_limit" validate:"min=0"`

	// MaxConcurrentActions bounds the number of actions running at once.
	MaxConcurrentActions int `yaml:"max_concurrent_actions" validate:"min=1"`
}

// StoreConfig configures state and event persistence.
type StoreConfig struct {
	// Path is the SQLite database file path, or ":memory:".
	Path string `yaml:"path" validate:"required"`

	// MaxEventsPerResource caps the retained event history per resource.
	// Zero keeps everything.
	MaxEventsPerResource int `yaml:"max_events_per_resource" validate:"min=0"`

	// EventPurgeBatchSize is the number of events deleted per purge pass.
	EventPurgeBatchSize int `yaml:"event_purge_batch_size" validate:"min=1"`
}

// ResourceDefinition declares one managed resource.
type ResourceDefinition struct {
	// Name is the unique resource name.
	Name string `yaml:"name" validate:"required"`

	// Type is the registered resource type.
	Type string `yaml:"type" validate:"required"`

	// Properties are the desired properties passed to the backend.
	Properties map[string]interface{} `yaml:"properties"`

	// Timeout overrides the engine action timeout for this resource.
	Timeout Duration `yaml:"timeout,omitempty" validate:"min=0"`
}

// Default returns a configuration with sensible defaults.
func Default() *Config {
	return &Config{
		Engine: EngineConfig{
			PollInterval:         Duration(1 * time.Second),
			ActionTimeout:        Duration(60 * time.Minute),
			ActionRetryLimit:     0,
			MaxConcurrentActions: 10,
		},
		Store: StoreConfig{
			Path:                 "kiln.db",
			MaxEventsPerResource: 0,
			EventPurgeBatchSize:  200,
		},
		Telemetry: telemetry.DefaultConfig(),
	}
}

// Load reads a YAML configuration file, applies defaults for unset
// fields, and validates the result.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	return Parse(data)
}

// Parse parses YAML configuration bytes on top of the defaults.
func Parse(data []byte) (*Config, error) {
	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks the configuration for consistency.
func (c *Config) Validate() error {
	v := validator.New()
	if err := v.Struct(c); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	seen := make(map[string]bool, len(c.Resources))
	for _, r := range c.Resources {
		if seen[r.Name] {
			return fmt.Errorf("invalid config: duplicate resource name %s", r.Name)
		}
		seen[r.Name] = true
	}

	if c.Telemetry != nil {
		if err := c.Telemetry.Validate(); err != nil {
			return fmt.Errorf("invalid telemetry config: %w", err)
		}
	}
	return nil
}
