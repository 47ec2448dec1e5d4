package common

import (
	"fmt"
	"os"

	"github.com/pelletier/go-toml/v2"
)

// Config is the runner's TOML configuration. Later files passed via
// multiple -config flags override earlier ones, field by field.
type Config struct {
	Runner  RunnerConfig  `toml:"runner"`
	Logging LoggingConfig `toml:"logging"`
}

// RunnerConfig controls the Module Invoker (C5) and subprocess protocol.
type RunnerConfig struct {
	ModuleRunner string `toml:"module_runner"` // executable invoked for generic modules, default "module-runner"
	Target       string `toml:"target"`        // target host name passed to module-runner, default "localhost"
	TempDir      string `toml:"temp_dir"`       // directory for per-invocation extra-vars files
}

// LoggingConfig controls the ambient logger.
type LoggingConfig struct {
	Level      string `toml:"level"`       // "debug", "info", "warn", "error"
	TimeFormat string `toml:"time_format"` // time.Format layout for console output
}

// DefaultConfig returns the configuration used when no -config flag is given.
func DefaultConfig() *Config {
	return &Config{
		Runner: RunnerConfig{
			ModuleRunner: "module-runner",
			Target:       "localhost",
			TempDir:      os.TempDir(),
		},
		Logging: LoggingConfig{
			Level:      "info",
			TimeFormat: "15:04:05.000",
		},
	}
}

// LoadConfig reads and merges the given TOML files in order, later files
// overriding fields set by earlier ones. Returns DefaultConfig() if paths
// is empty.
func LoadConfig(paths []string) (*Config, error) {
	cfg := DefaultConfig()

	for _, path := range paths {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
		if err := toml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config %s: %w", path, err)
		}
	}

	return cfg, nil
}
