// Package config loads the worker's configuration: the dispatcher
// connection settings plus the pipeline's own tunables, layered as
// defaults -> YAML file -> environment overrides, then validated.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

// Config holds every recognized configuration key.
type Config struct {
	// Dispatcher connection.
	Server    string `yaml:"server"`
	AuthToken string `yaml:"auth_token"`

	// Sandbox and testdata.
	NsjailPath   string `yaml:"nsjail_path"`
	NsjailConfig string `yaml:"nsjail_config"`
	TestdataPath string `yaml:"testdata_path"`

	// Pipeline tunables.
	Pipeline PipelineConfig `yaml:"pipeline"`

	// Logging.
	Logging LoggingConfig `yaml:"logging"`
}

// PipelineConfig holds the numeric caps and scratch paths the judge
// pipeline is parameterised by.
type PipelineConfig struct {
	CompileCommandTemplate string `yaml:"compile_command_template"`
	BuildDir               string `yaml:"build_dir"`
	// RunOutputPath is the scratch directory per-task user-output files
	// are created in (tmpfs recommended); empty means the system temp dir.
	RunOutputPath       string `yaml:"run_output_path"`
	BuildOutputCapBytes int64  `yaml:"build_output_cap_bytes"`
	BuildMemCapBytes    int64  `yaml:"build_mem_cap_bytes"`
	RunOutputCapBytes   int64  `yaml:"run_output_cap_bytes"`
}

// LoggingConfig configures the component logger of internal/logging.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Default returns the built-in defaults; every value can be overridden
// by the YAML file or the IRUKA_* environment.
func Default() *Config {
	return &Config{
		NsjailConfig: "./nsjail-configs/nsjail.cfg",
		Pipeline: PipelineConfig{
			CompileCommandTemplate: "g++ -Wall -O2 -fdiagnostics-color=always {CFLAGS} -o {output} {src}",
			BuildDir:               "/run/shm",
			RunOutputPath:          "/run/shm/judge",
			BuildOutputCapBytes:    128 * 1024,
			BuildMemCapBytes:       256 * 1024 * 1024,
			RunOutputCapBytes:      64 * 1024 * 1024,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "console",
		},
	}
}

// Load reads path (if non-empty and present) as YAML on top of Default(),
// applies IRUKA_* environment overrides, and validates the result. A path
// pointing at a nonexistent file is not an error; callers pass "" when
// there is no configured file.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		if err := cfg.loadFromFile(path); err != nil {
			return nil, fmt.Errorf("config: load file: %w", err)
		}
	}

	cfg.applyEnvironmentOverrides()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config: invalid configuration: %w", err)
	}
	return cfg, nil
}

func (c *Config) loadFromFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	return yaml.Unmarshal(data, c)
}

// applyEnvironmentOverrides lets operators override recognized keys
// without editing the YAML file. pipeline.compile_command_template has no
// environment override; it is set by the YAML file only.
func (c *Config) applyEnvironmentOverrides() {
	if v := os.Getenv("IRUKA_SERVER"); v != "" {
		c.Server = v
	}
	if v := os.Getenv("IRUKA_AUTH_TOKEN"); v != "" {
		c.AuthToken = v
	}
	if v := os.Getenv("IRUKA_NSJAIL_PATH"); v != "" {
		c.NsjailPath = v
	}
	if v := os.Getenv("IRUKA_NSJAIL_CONFIG"); v != "" {
		c.NsjailConfig = v
	}
	if v := os.Getenv("IRUKA_TESTDATA_PATH"); v != "" {
		c.TestdataPath = v
	}
	if v := os.Getenv("IRUKA_BUILD_DIR"); v != "" {
		c.Pipeline.BuildDir = v
	}
	if v := os.Getenv("IRUKA_RUN_OUTPUT_PATH"); v != "" {
		c.Pipeline.RunOutputPath = v
	}
	if v := os.Getenv("IRUKA_BUILD_OUTPUT_CAP_BYTES"); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			c.Pipeline.BuildOutputCapBytes = n
		}
	}
	if v := os.Getenv("IRUKA_BUILD_MEM_CAP_BYTES"); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			c.Pipeline.BuildMemCapBytes = n
		}
	}
	if v := os.Getenv("IRUKA_RUN_OUTPUT_CAP_BYTES"); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			c.Pipeline.RunOutputCapBytes = n
		}
	}
	if v := os.Getenv("IRUKA_LOG_LEVEL"); v != "" {
		c.Logging.Level = v
	}
	if v := os.Getenv("IRUKA_LOG_FORMAT"); v != "" {
		c.Logging.Format = v
	}
}

// Validate rejects a configuration that would make the pipeline
// impossible to run, with actionable messages, before anything is built.
func (c *Config) Validate() error {
	if c.Server == "" {
		return fmt.Errorf("server must not be empty")
	}
	if c.AuthToken == "" {
		return fmt.Errorf("auth_token must not be empty")
	}
	if c.NsjailPath == "" {
		return fmt.Errorf("nsjail_path must not be empty")
	}
	if c.TestdataPath == "" {
		return fmt.Errorf("testdata_path must not be empty")
	}
	if c.Pipeline.CompileCommandTemplate == "" {
		return fmt.Errorf("pipeline.compile_command_template must not be empty")
	}
	if c.Pipeline.BuildOutputCapBytes <= 0 {
		return fmt.Errorf("pipeline.build_output_cap_bytes must be positive")
	}
	if c.Pipeline.BuildMemCapBytes <= 0 {
		return fmt.Errorf("pipeline.build_mem_cap_bytes must be positive")
	}
	if c.Pipeline.RunOutputCapBytes <= 0 {
		return fmt.Errorf("pipeline.run_output_cap_bytes must be positive")
	}

	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[strings.ToLower(c.Logging.Level)] {
		return fmt.Errorf("logging.level %q is not one of debug/info/warn/error", c.Logging.Level)
	}
	validFormats := map[string]bool{"console": true, "json": true}
	if !validFormats[strings.ToLower(c.Logging.Format)] {
		return fmt.Errorf("logging.format %q is not one of console/json", c.Logging.Format)
	}
	return nil
}
