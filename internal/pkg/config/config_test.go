package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/V4T54L/hostwatch/internal/detector"
)

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "0.0.0.0", cfg.Host)
	assert.Equal(t, 5000, cfg.Port)
	assert.Equal(t, "sqlite", cfg.StorageDriver)
	assert.Equal(t, "siem_logs.db", cfg.DatabasePath)
	assert.Equal(t, 30*time.Second, cfg.AnalysisEvery())
	assert.Equal(t, 5*time.Second, cfg.AnalysisStopTimeout)
	assert.Equal(t, detector.DefaultThresholds(), cfg.Thresholds())
	assert.Equal(t, []string{"email", "password", "credit_card", "ssn"}, cfg.RedactionFields())
}

func TestLoad_Overrides(t *testing.T) {
	t.Setenv("ERROR_THRESHOLD", "3")
	t.Setenv("ERROR_TIME_WINDOW", "120")
	t.Setenv("HIGH_CPU_THRESHOLD", "75.5")
	t.Setenv("ANALYSIS_INTERVAL", "5")
	t.Setenv("PII_REDACTION_FIELDS", " token , ,secret")

	cfg, err := Load()
	require.NoError(t, err)

	th := cfg.Thresholds()
	assert.Equal(t, 3, th.ErrorThreshold)
	assert.Equal(t, 2*time.Minute, th.ErrorWindow)
	assert.Equal(t, 75.5, th.HighCPU)
	assert.Equal(t, 5*time.Second, cfg.AnalysisEvery())
	assert.Equal(t, []string{"token", "secret"}, cfg.RedactionFields())
}

func TestLoad_InvalidNumber(t *testing.T) {
	t.Setenv("SIEM_PORT", "not-a-port")
	_, err := Load()
	assert.Error(t, err)
}

func TestLoad_RejectsInvalidValues(t *testing.T) {
	tests := []struct {
		name    string
		env     map[string]string
		wantMsg string
	}{
		{name: "zero interval", env: map[string]string{"ANALYSIS_INTERVAL": "0"}, wantMsg: "ANALYSIS_INTERVAL"},
		{name: "zero stop timeout", env: map[string]string{"ANALYSIS_STOP_TIMEOUT": "0s"}, wantMsg: "ANALYSIS_STOP_TIMEOUT"},
		{name: "zero error threshold", env: map[string]string{"ERROR_THRESHOLD": "0"}, wantMsg: "error threshold"},
		{name: "negative cpu threshold", env: map[string]string{"HIGH_CPU_THRESHOLD": "-5"}, wantMsg: "cpu threshold"},
		{name: "zero window", env: map[string]string{"RESOURCE_TIME_WINDOW": "0"}, wantMsg: "resource window"},
		{name: "unknown driver", env: map[string]string{"STORAGE_DRIVER": "mysql"}, wantMsg: "STORAGE_DRIVER"},
		{name: "postgres without url", env: map[string]string{"STORAGE_DRIVER": "postgres"}, wantMsg: "POSTGRES_URL"},
		{name: "spool segment above max", env: map[string]string{"ALERT_SPOOL_SEGMENT_SIZE_BYTES": "10", "ALERT_SPOOL_MAX_DISK_SIZE_BYTES": "5"}, wantMsg: "spool"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			for k, v := range tt.env {
				t.Setenv(k, v)
			}
			_, err := Load()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantMsg)
		})
	}
}

func TestLoad_ReportsEveryInvalidValue(t *testing.T) {
	t.Setenv("ANALYSIS_INTERVAL", "0")
	t.Setenv("ERROR_THRESHOLD", "0")
	t.Setenv("HIGH_CPU_THRESHOLD", "-5")

	_, err := Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "ANALYSIS_INTERVAL")
	assert.Contains(t, err.Error(), "error threshold")
	assert.Contains(t, err.Error(), "cpu threshold")
}
