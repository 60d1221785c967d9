package config

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"copydesk/pkg/pipeline"
)

func TestLoadConfigCreatesDefaults(t *testing.T) {
	t.Cleanup(Reset)
	projectDir := t.TempDir()

	require.NoError(t, LoadConfig(projectDir))

	cfg, err := GetConfig()
	require.NoError(t, err)
	assert.Equal(t, pipeline.Default().Phases, cfg.Pipeline.Phases)
	assert.Equal(t, DefaultEventLogRotationHours, cfg.EventLogRotationHours)

	// Config file was written for future runs.
	_, statErr := os.Stat(filepath.Join(projectDir, ProjectConfigDir, ProjectConfigFilename))
	assert.NoError(t, statErr)
}

func TestLoadConfigReadsExisting(t *testing.T) {
	t.Cleanup(Reset)
	projectDir := t.TempDir()

	custom := Default()
	custom.EventLogRotationHours = 6
	data, err := json.Marshal(custom)
	require.NoError(t, err)

	configDir := filepath.Join(projectDir, ProjectConfigDir)
	require.NoError(t, os.MkdirAll(configDir, 0755))
	require.NoError(t, os.WriteFile(filepath.Join(configDir, ProjectConfigFilename), data, 0644))

	require.NoError(t, LoadConfig(projectDir))
	cfg, err := GetConfig()
	require.NoError(t, err)
	assert.Equal(t, 6, cfg.EventLogRotationHours)
}

func TestLoadConfigRejectsBadRouting(t *testing.T) {
	t.Cleanup(Reset)
	projectDir := t.TempDir()

	bad := Default()
	bad.Pipeline.Phases = append(bad.Pipeline.Phases, "fact_check") // no role assigned
	data, err := json.Marshal(bad)
	require.NoError(t, err)

	configDir := filepath.Join(projectDir, ProjectConfigDir)
	require.NoError(t, os.MkdirAll(configDir, 0755))
	require.NoError(t, os.WriteFile(filepath.Join(configDir, ProjectConfigFilename), data, 0644))

	assert.Error(t, LoadConfig(projectDir))
}

func TestGetConfigBeforeLoad(t *testing.T) {
	t.Cleanup(Reset)
	Reset()

	_, err := GetConfig()
	assert.Error(t, err)
}

func TestPaths(t *testing.T) {
	t.Cleanup(Reset)
	projectDir := t.TempDir()
	require.NoError(t, LoadConfig(projectDir))

	cfg, err := GetConfig()
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(projectDir, ProjectConfigDir, DatabaseFilename), cfg.DatabasePath())
	assert.Equal(t, filepath.Join(projectDir, ProjectConfigDir, "logs"), cfg.LogDir())
}
