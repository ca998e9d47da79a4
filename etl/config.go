package etl

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
	"gopkg.in/yaml.v3"
)

// EnvPrefix prefixes every environment override, e.g. COURT_ETL_DB_DSN.
const EnvPrefix = "COURT_ETL"

type DatabaseConfig struct {
	Driver        string        `yaml:"driver" envconfig:"DRIVER"`
	DSN           string        `yaml:"dsn" envconfig:"DSN"`
	SlowThreshold time.Duration `yaml:"slow_threshold" envconfig:"SLOW_THRESHOLD"`
}

// InputConfig locates the source files of one kind. Glob may be a plain path.
type InputConfig struct {
	Glob     string `yaml:"glob" envconfig:"GLOB"`
	ErrorDir string `yaml:"error_dir" envconfig:"ERROR_DIR"`
}

// InputsConfig accepts a mapping keyed by kind:
//
//	inputs:
//	  courts: nyc_tennis_courts.csv
//	  availability: {glob: "**/court_availability_*.csv", error_dir: rejected}
//
// or a list of {kind, glob, error_dir} items.
type InputsConfig struct {
	Courts       InputConfig `envconfig:"COURTS"`
	Availability InputConfig `envconfig:"AVAILABILITY"`
}

func (in *InputsConfig) For(kind Kind) InputConfig {
	if kind == KindCourts {
		return in.Courts
	}
	return in.Availability
}

func (in *InputsConfig) set(kind Kind, c InputConfig) {
	target := &in.Availability
	if kind == KindCourts {
		target = &in.Courts
	}
	if g := strings.TrimSpace(c.Glob); g != "" {
		target.Glob = g
	}
	if d := strings.TrimSpace(c.ErrorDir); d != "" {
		target.ErrorDir = d
	}
}

func (in *InputsConfig) UnmarshalYAML(value *yaml.Node) error {
	if value == nil {
		return nil
	}
	switch value.Kind {
	case yaml.MappingNode:
		for i := 0; i+1 < len(value.Content); i += 2 {
			k, v := value.Content[i], value.Content[i+1]
			kind, err := ParseKind(k.Value)
			if err != nil {
				return fmt.Errorf("inputs line %d: %w", k.Line, err)
			}
			switch v.Kind {
			case yaml.ScalarNode:
				in.set(kind, InputConfig{Glob: v.Value})
			case yaml.MappingNode:
				var c InputConfig
				if err := v.Decode(&c); err != nil {
					return err
				}
				in.set(kind, c)
			default:
				return fmt.Errorf("inputs line %d: %s must be a path or a mapping", v.Line, k.Value)
			}
		}
		return nil
	case yaml.SequenceNode:
		var items []struct {
			Kind     string `yaml:"kind"`
			Glob     string `yaml:"glob"`
			ErrorDir string `yaml:"error_dir"`
		}
		if err := value.Decode(&items); err != nil {
			return err
		}
		for _, item := range items {
			kind, err := ParseKind(item.Kind)
			if err != nil {
				return err
			}
			in.set(kind, InputConfig{Glob: item.Glob, ErrorDir: item.ErrorDir})
		}
		return nil
	default:
		return nil
	}
}

type RetentionConfig struct {
	FileDays      int  `yaml:"file_days" envconfig:"FILE_DAYS"`
	IncludeFailed bool `yaml:"include_failed" envconfig:"INCLUDE_FAILED"`
}

type Config struct {
	Database DatabaseConfig `yaml:"database" envconfig:"DB"`

	// Relative input globs and error dirs resolve against DataDir.
	DataDir string       `yaml:"data_dir" envconfig:"DATA_DIR"`
	Inputs  InputsConfig `yaml:"inputs" envconfig:"INPUTS"`
	// Default quarantine dir for inputs that set none. Empty leaves failed files in place.
	ErrorDir string `yaml:"error_dir" envconfig:"ERROR_DIR"`

	TestDataMarker string          `yaml:"test_data_marker" envconfig:"TEST_DATA_MARKER"`
	Retention      RetentionConfig `yaml:"retention" envconfig:"RETENTION"`
	Debug          bool            `yaml:"debug" envconfig:"DEBUG"`
}

func DefaultConfig() Config {
	return Config{
		Database: DatabaseConfig{
			Driver:        DriverSQLite,
			DSN:           "court_etl.db",
			SlowThreshold: 200 * time.Millisecond,
		},
		DataDir: "data",
		Inputs: InputsConfig{
			Courts:       InputConfig{Glob: "nyc_tennis_courts.csv"},
			Availability: InputConfig{Glob: DefaultAvailabilityPattern},
		},
		TestDataMarker: DefaultTestDataMarker,
		Retention:      RetentionConfig{FileDays: DefaultFileRetentionDays},
	}
}

// LoadConfig reads a YAML file over DefaultConfig. An empty path yields the defaults.
func LoadConfig(path string) (*Config, error) {
	cfg := DefaultConfig()
	if path == "" {
		return &cfg, nil
	}
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	if err := yaml.Unmarshal(b, &cfg); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	return &cfg, nil
}

// ApplyEnv overrides cfg with any COURT_ETL_* variables that are set.
func (c *Config) ApplyEnv() error {
	return envconfig.Process(EnvPrefix, c)
}

func (c *Config) Validate() error {
	switch strings.ToLower(c.Database.Driver) {
	case DriverSQLite, DriverPostgres:
	default:
		return fmt.Errorf("database.driver must be %s or %s, got %q", DriverSQLite, DriverPostgres, c.Database.Driver)
	}
	if strings.TrimSpace(c.Database.DSN) == "" {
		return fmt.Errorf("database.dsn is empty")
	}
	if c.Retention.FileDays < 0 {
		return fmt.Errorf("retention.file_days must not be negative: %d", c.Retention.FileDays)
	}
	return nil
}

// ResolvePath joins a relative p onto DataDir.
func (c *Config) ResolvePath(p string) string {
	if p == "" || filepath.IsAbs(p) || c.DataDir == "" {
		return p
	}
	return filepath.Join(c.DataDir, p)
}

// PipelineConfig flattens cfg into resolved paths.
func (c *Config) PipelineConfig() PipelineConfig {
	errDir := func(kind Kind) string {
		if d := c.Inputs.For(kind).ErrorDir; d != "" {
			return c.ResolvePath(d)
		}
		return c.ResolvePath(c.ErrorDir)
	}
	return PipelineConfig{
		CourtsFile:           c.ResolvePath(c.Inputs.Courts.Glob),
		AvailabilityGlob:     c.ResolvePath(c.Inputs.Availability.Glob),
		CourtsErrorDir:       errDir(KindCourts),
		AvailabilityErrorDir: errDir(KindAvailability),
		TestDataMarker:       c.TestDataMarker,
	}
}
