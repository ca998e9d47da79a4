package etl

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	p := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(p, []byte(body), 0o644))
	return p
}

func TestLoadConfigDefaults(t *testing.T) {
	cfg, err := LoadConfig("")
	require.NoError(t, err)
	require.NoError(t, cfg.Validate())

	assert.Equal(t, DriverSQLite, cfg.Database.Driver)
	assert.Equal(t, 200*time.Millisecond, cfg.Database.SlowThreshold)
	assert.Equal(t, DefaultTestDataMarker, cfg.TestDataMarker)
	assert.Equal(t, DefaultFileRetentionDays, cfg.Retention.FileDays)

	pc := cfg.PipelineConfig()
	assert.Equal(t, filepath.Join("data", "nyc_tennis_courts.csv"), pc.CourtsFile)
	assert.Equal(t, filepath.Join("data", DefaultAvailabilityPattern), pc.AvailabilityGlob)
	assert.Empty(t, pc.CourtsErrorDir)
	assert.Empty(t, pc.AvailabilityErrorDir)
}

func TestLoadConfigMappingInputs(t *testing.T) {
	path := writeConfig(t, `
database:
  driver: postgres
  dsn: host=localhost user=etl dbname=courts
  slow_threshold: 1s
data_dir: /srv/courts
error_dir: rejected
inputs:
  courts: /etc/courts/parks.csv
  availability:
    glob: "**/court_availability_*.csv"
    error_dir: /srv/courts/bad-availability
test_data_marker: Sandbox
retention:
  file_days: 14
  include_failed: true
`)
	cfg, err := LoadConfig(path)
	require.NoError(t, err)
	require.NoError(t, cfg.Validate())

	assert.Equal(t, DriverPostgres, cfg.Database.Driver)
	assert.Equal(t, time.Second, cfg.Database.SlowThreshold)
	assert.Equal(t, 14, cfg.Retention.FileDays)
	assert.True(t, cfg.Retention.IncludeFailed)

	pc := cfg.PipelineConfig()
	assert.Equal(t, "/etc/courts/parks.csv", pc.CourtsFile)
	assert.Equal(t, "/srv/courts/**/court_availability_*.csv", pc.AvailabilityGlob)
	assert.Equal(t, "/srv/courts/rejected", pc.CourtsErrorDir)
	assert.Equal(t, "/srv/courts/bad-availability", pc.AvailabilityErrorDir)
	assert.Equal(t, "Sandbox", pc.TestDataMarker)
}

func TestLoadConfigListInputs(t *testing.T) {
	path := writeConfig(t, `
inputs:
  - kind: availability
    glob: snapshots/court_availability_*.csv
    error_dir: snapshots/rejected
`)
	cfg, err := LoadConfig(path)
	require.NoError(t, err)

	assert.Equal(t, "nyc_tennis_courts.csv", cfg.Inputs.Courts.Glob, "unlisted kinds keep their default")
	assert.Equal(t, InputConfig{Glob: "snapshots/court_availability_*.csv", ErrorDir: "snapshots/rejected"}, cfg.Inputs.Availability)
}

func TestLoadConfigRejectsUnknownInputKind(t *testing.T) {
	_, err := LoadConfig(writeConfig(t, "inputs:\n  weather: w.csv\n"))
	require.ErrorIs(t, err, ErrInvalidSelector)

	_, err = LoadConfig(writeConfig(t, "inputs:\n  courts: [a, b]\n"))
	require.Error(t, err)
}

func TestLoadConfigMissingFile(t *testing.T) {
	_, err := LoadConfig(filepath.Join(t.TempDir(), "nope.yaml"))
	require.ErrorIs(t, err, os.ErrNotExist)
}

func TestApplyEnvOverridesFile(t *testing.T) {
	t.Setenv("COURT_ETL_DB_DSN", "/tmp/override.db")
	t.Setenv("COURT_ETL_RETENTION_FILE_DAYS", "3")
	t.Setenv("COURT_ETL_INPUTS_AVAILABILITY_ERROR_DIR", "env-rejected")

	cfg, err := LoadConfig(writeConfig(t, "database:\n  dsn: file.db\n"))
	require.NoError(t, err)
	require.NoError(t, cfg.ApplyEnv())

	assert.Equal(t, "/tmp/override.db", cfg.Database.DSN)
	assert.Equal(t, DriverSQLite, cfg.Database.Driver)
	assert.Equal(t, 3, cfg.Retention.FileDays)
	assert.Equal(t, filepath.Join("data", "env-rejected"), cfg.PipelineConfig().AvailabilityErrorDir)
}

func TestConfigValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"driver", func(c *Config) { c.Database.Driver = "mysql" }},
		{"dsn", func(c *Config) { c.Database.DSN = " " }},
		{"file days", func(c *Config) { c.Retention.FileDays = -1 }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(&cfg)
			require.Error(t, cfg.Validate())
		})
	}
}
