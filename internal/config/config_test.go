// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"grimm.is/nautscan/internal/errors"
)

func writeConfig(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoad_HCL(t *testing.T) {
	path := writeConfig(t, "nautscan.hcl", `
log_level     = "debug"
database_path = "/var/lib/nautscan/packets.db"
retention     = "72h"

api {
  listen         = "0.0.0.0:9000"
  stats_interval = "500ms"
}

capture {
  interface   = "eth0"
  filter      = "tcp"
  max_packets = 500
}

detection {
  suspicious_ports = [4444, 9001]
  suspicious_flags = ["SYN,RST"]
}
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "debug", cfg.LogLevel)
	assert.Equal(t, "/var/lib/nautscan/packets.db", cfg.DatabasePath)
	assert.Equal(t, "0.0.0.0:9000", cfg.API.Listen)

	retention, err := cfg.RetentionDuration()
	require.NoError(t, err)
	assert.Equal(t, 72*time.Hour, retention)

	stats, err := cfg.StatsInterval()
	require.NoError(t, err)
	assert.Equal(t, 500*time.Millisecond, stats)

	s := cfg.CaptureSettings()
	assert.Equal(t, "eth0", s.Interface)
	assert.Equal(t, "tcp", s.Filter)
	assert.Equal(t, 500, s.MaxPackets)
	// Unset fields keep the built-in defaults.
	assert.True(t, s.Promiscuous)
	assert.True(t, s.SaveToDatabase)

	hc := cfg.HeuristicConfig()
	assert.Equal(t, []int{4444, 9001}, hc.SuspiciousPorts)
	assert.Equal(t, []string{"SYN,RST"}, hc.SuspiciousFlags)
}

func TestLoad_JSON(t *testing.T) {
	path := writeConfig(t, "nautscan.json", `{
  "log_level": "warn",
  "api": {"listen": "127.0.0.1:8080"}
}`)

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "warn", cfg.LogLevel)
	assert.Equal(t, "127.0.0.1:8080", cfg.API.Listen)
	assert.Equal(t, "nautscan.db", cfg.DatabasePath)
}

func TestLoad_Defaults(t *testing.T) {
	cfg := Default()
	require.NoError(t, cfg.Validate())

	assert.Equal(t, "info", cfg.LogLevel)
	assert.Equal(t, "127.0.0.1:8000", cfg.API.Listen)
	assert.True(t, *cfg.API.EnableMetrics)

	retention, err := cfg.RetentionDuration()
	require.NoError(t, err)
	assert.Equal(t, 7*24*time.Hour, retention)

	interval, err := cfg.HousekeepingDuration()
	require.NoError(t, err)
	assert.Equal(t, 24*time.Hour, interval)

	hc := cfg.HeuristicConfig()
	assert.Contains(t, hc.SuspiciousPorts, 31337)
}

func TestLoad_Invalid(t *testing.T) {
	tests := []struct {
		name    string
		content string
	}{
		{"bad log level", `log_level = "trace"`},
		{"bad retention", `retention = "oneweek"`},
		{"negative retention", `retention = "-1h"`},
		{"zero max packets", "capture {\n  max_packets = 0\n}"},
		{"port out of range", "detection {\n  suspicious_ports = [70000]\n}"},
		{"malformed hcl", `log_level = `},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := writeConfig(t, "nautscan.hcl", tt.content)
			_, err := Load(path)
			require.Error(t, err)
			assert.Equal(t, errors.KindValidation, errors.GetKind(err))
		})
	}
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "absent.hcl"))
	require.Error(t, err)
}
