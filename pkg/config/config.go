// Package config provides configuration loading, validation, and management
// for the pipeline coordinator. It handles the project JSON config file and
// default creation on first run.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"copydesk/pkg/pipeline"
)

// Project config constants.
const (
	ProjectConfigDir      = ".copydesk"
	ProjectConfigFilename = "config.json"
	DatabaseFilename      = "copydesk.db"
	SchemaVersion         = "1.0"
)

// Default operational settings.
const (
	DefaultEventLogRotationHours = 24
	DefaultPrometheusURL         = "http://localhost:9090"
)

// Config is the coordinator's configuration.
type Config struct {
	Version               string           `json:"version"`
	Pipeline              pipeline.Routing `json:"pipeline"`
	EventLogRotationHours int              `json:"event_log_rotation_hours"`
	PrometheusURL         string           `json:"prometheus_url"`

	projectDir string
}

// Global config state, loaded once per process.
//
//nolint:gochecknoglobals // Intentional singleton for config access
var (
	globalConfig *Config
	configMu     sync.RWMutex
)

// Default returns a config populated with the built-in pipeline and
// operational defaults.
func Default() *Config {
	return &Config{
		Version:               SchemaVersion,
		Pipeline:              pipeline.Default(),
		EventLogRotationHours: DefaultEventLogRotationHours,
		PrometheusURL:         DefaultPrometheusURL,
	}
}

// LoadConfig reads the project config file, creating it with defaults when
// absent, validates the routing table, and installs the result as the
// process-wide config.
func LoadConfig(projectDir string) error {
	cfg, err := readOrCreate(projectDir)
	if err != nil {
		return err
	}

	if err := cfg.Pipeline.Validate(); err != nil {
		return fmt.Errorf("invalid pipeline configuration: %w", err)
	}

	configMu.Lock()
	defer configMu.Unlock()
	globalConfig = cfg
	return nil
}

// GetConfig returns the loaded config.
func GetConfig() (*Config, error) {
	configMu.RLock()
	defer configMu.RUnlock()

	if globalConfig == nil {
		return nil, fmt.Errorf("config not loaded: call LoadConfig first")
	}
	return globalConfig, nil
}

// Reset clears the loaded config. Test helper.
func Reset() {
	configMu.Lock()
	defer configMu.Unlock()
	globalConfig = nil
}

func readOrCreate(projectDir string) (*Config, error) {
	configPath := filepath.Join(projectDir, ProjectConfigDir, ProjectConfigFilename)

	data, err := os.ReadFile(configPath)
	if os.IsNotExist(err) {
		cfg := Default()
		cfg.projectDir = projectDir
		if writeErr := cfg.write(configPath); writeErr != nil {
			return nil, writeErr
		}
		return cfg, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	cfg := Default()
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config %s: %w", configPath, err)
	}
	cfg.projectDir = projectDir
	return cfg, nil
}

func (c *Config) write(configPath string) error {
	if err := os.MkdirAll(filepath.Dir(configPath), 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode config: %w", err)
	}
	if err := os.WriteFile(configPath, append(data, '\n'), 0644); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}
	return nil
}

// DatabasePath returns the SQLite database path under the project directory.
func (c *Config) DatabasePath() string {
	return filepath.Join(c.projectDir, ProjectConfigDir, DatabaseFilename)
}

// LogDir returns the event log directory under the project directory.
func (c *Config) LogDir() string {
	return filepath.Join(c.projectDir, ProjectConfigDir, "logs")
}
