// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

// Package config loads and validates the daemon configuration from HCL
// or JSON files.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/hashicorp/hcl/v2/hclsimple"

	"grimm.is/nautscan/internal/errors"
	"grimm.is/nautscan/internal/event"
	"grimm.is/nautscan/internal/heuristic"
)

// Config is the top-level daemon configuration.
type Config struct {
	// Log level: debug, info, warn or error.
	// @default: "info"
	LogLevel string `hcl:"log_level,optional" json:"log_level,omitempty"`

	// Path to the sqlite database file.
	// @default: "nautscan.db"
	DatabasePath string `hcl:"database_path,optional" json:"database_path,omitempty"`

	// Retention period for non-malicious packets, e.g. "168h".
	// Malicious packets are retained forever regardless.
	// @default: "168h"
	Retention string `hcl:"retention,optional" json:"retention,omitempty"`

	// Interval between expired-packet sweeps, e.g. "24h".
	// @default: "24h"
	HousekeepingInterval string `hcl:"housekeeping_interval,optional" json:"housekeeping_interval,omitempty"`

	API       *APIConfig       `hcl:"api,block" json:"api,omitempty"`
	Capture   *CaptureConfig   `hcl:"capture,block" json:"capture,omitempty"`
	Detection *DetectionConfig `hcl:"detection,block" json:"detection,omitempty"`
}

// APIConfig configures the HTTP listener.
type APIConfig struct {
	// Listen address for the REST and WebSocket API.
	// @default: "127.0.0.1:8000"
	Listen string `hcl:"listen,optional" json:"listen,omitempty"`

	// Expose Prometheus metrics on /metrics.
	// @default: true
	EnableMetrics *bool `hcl:"enable_metrics,optional" json:"enable_metrics,omitempty"`

	// Interval between stats pushes on the stats channel, e.g. "1s".
	// @default: "1s"
	StatsInterval string `hcl:"stats_interval,optional" json:"stats_interval,omitempty"`
}

// CaptureConfig holds the initial capture settings. All of them can be
// changed at runtime through the API.
type CaptureConfig struct {
	// Interface to capture on; empty or "any" captures on all interfaces.
	Interface string `hcl:"interface,optional" json:"interface,omitempty"`

	// BPF filter expression.
	// @default: "tcp or udp"
	Filter *string `hcl:"filter,optional" json:"filter,omitempty"`

	// @default: true
	Promiscuous *bool `hcl:"promiscuous,optional" json:"promiscuous,omitempty"`

	// @default: true
	EnableIPv6 *bool `hcl:"enable_ipv6,optional" json:"enable_ipv6,omitempty"`

	// In-memory ring buffer capacity.
	// @default: 1000
	MaxPackets *int `hcl:"max_packets,optional" json:"max_packets,omitempty"`

	// Retain raw frames and payload excerpts.
	// @default: false
	StoreRawPackets *bool `hcl:"store_raw_packets,optional" json:"store_raw_packets,omitempty"`

	// Persist captured packets to the database.
	// @default: true
	SaveToDatabase *bool `hcl:"save_to_database,optional" json:"save_to_database,omitempty"`
}

// DetectionConfig overrides the built-in suspicious indicators.
type DetectionConfig struct {
	SuspiciousPorts []int    `hcl:"suspicious_ports,optional" json:"suspicious_ports,omitempty"`
	SuspiciousFlags []string `hcl:"suspicious_flags,optional" json:"suspicious_flags,omitempty"`
}

// Default returns the configuration used when no file is given.
func Default() *Config {
	cfg := &Config{}
	cfg.applyDefaults()
	return cfg
}

// Load reads a config file (HCL or JSON by extension), fills defaults and
// validates the result.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrapf(err, errors.KindValidation, "failed to read config file %s", path)
	}

	var cfg Config
	switch strings.ToLower(filepath.Ext(path)) {
	case ".json":
		if err := json.Unmarshal(data, &cfg); err != nil {
			return nil, errors.Wrap(err, errors.KindValidation, "failed to parse JSON config")
		}
	default:
		if err := hclsimple.Decode(path, data, nil, &cfg); err != nil {
			return nil, errors.Wrap(err, errors.KindValidation, "failed to parse HCL config")
		}
	}

	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) applyDefaults() {
	if c.LogLevel == "" {
		c.LogLevel = "info"
	}
	if c.DatabasePath == "" {
		c.DatabasePath = "nautscan.db"
	}
	if c.Retention == "" {
		c.Retention = "168h"
	}
	if c.HousekeepingInterval == "" {
		c.HousekeepingInterval = "24h"
	}
	if c.API == nil {
		c.API = &APIConfig{}
	}
	if c.API.Listen == "" {
		c.API.Listen = "127.0.0.1:8000"
	}
	if c.API.EnableMetrics == nil {
		enabled := true
		c.API.EnableMetrics = &enabled
	}
	if c.API.StatsInterval == "" {
		c.API.StatsInterval = "1s"
	}
	if c.Capture == nil {
		c.Capture = &CaptureConfig{}
	}
	if c.Detection == nil {
		c.Detection = &DetectionConfig{}
	}
}

// Validate checks the configuration for inconsistencies.
func (c *Config) Validate() error {
	switch c.LogLevel {
	case "debug", "info", "warn", "error":
	default:
		return errors.Errorf(errors.KindValidation, "invalid log_level %q", c.LogLevel)
	}

	if _, err := c.RetentionDuration(); err != nil {
		return err
	}
	if _, err := c.HousekeepingDuration(); err != nil {
		return err
	}
	if _, err := c.StatsInterval(); err != nil {
		return err
	}

	if c.Capture.MaxPackets != nil && *c.Capture.MaxPackets < 1 {
		return errors.Errorf(errors.KindValidation, "capture max_packets must be positive, got %d", *c.Capture.MaxPackets)
	}
	for _, p := range c.Detection.SuspiciousPorts {
		if p < 1 || p > 65535 {
			return errors.Errorf(errors.KindValidation, "suspicious port %d out of range", p)
		}
	}
	return nil
}

// RetentionDuration parses the retention period.
func (c *Config) RetentionDuration() (time.Duration, error) {
	return c.parseDuration("retention", c.Retention)
}

// HousekeepingDuration parses the housekeeping interval.
func (c *Config) HousekeepingDuration() (time.Duration, error) {
	return c.parseDuration("housekeeping_interval", c.HousekeepingInterval)
}

// StatsInterval parses the stats push interval.
func (c *Config) StatsInterval() (time.Duration, error) {
	return c.parseDuration("api.stats_interval", c.API.StatsInterval)
}

func (c *Config) parseDuration(field, value string) (time.Duration, error) {
	d, err := time.ParseDuration(value)
	if err != nil {
		return 0, errors.Wrapf(err, errors.KindValidation, "invalid %s %q", field, value)
	}
	if d <= 0 {
		return 0, errors.Errorf(errors.KindValidation, "%s must be positive, got %s", field, value)
	}
	return d, nil
}

// CaptureSettings maps the capture block onto runtime capture settings,
// starting from the built-in defaults.
func (c *Config) CaptureSettings() event.CaptureSettings {
	s := event.DefaultCaptureSettings()
	cc := c.Capture
	if cc == nil {
		return s
	}
	if cc.Interface != "" {
		s.Interface = cc.Interface
	}
	if cc.Filter != nil {
		s.Filter = *cc.Filter
	}
	if cc.Promiscuous != nil {
		s.Promiscuous = *cc.Promiscuous
	}
	if cc.EnableIPv6 != nil {
		s.EnableIPv6 = *cc.EnableIPv6
	}
	if cc.MaxPackets != nil {
		s.MaxPackets = *cc.MaxPackets
	}
	if cc.StoreRawPackets != nil {
		s.StoreRawPackets = *cc.StoreRawPackets
	}
	if cc.SaveToDatabase != nil {
		s.SaveToDatabase = *cc.SaveToDatabase
	}
	return s
}

// HeuristicConfig maps the detection block onto the detector
// configuration, falling back to the built-in indicator sets.
func (c *Config) HeuristicConfig() heuristic.Config {
	hc := heuristic.DefaultConfig()
	if c.Detection == nil {
		return hc
	}
	if len(c.Detection.SuspiciousPorts) > 0 {
		hc.SuspiciousPorts = c.Detection.SuspiciousPorts
	}
	if len(c.Detection.SuspiciousFlags) > 0 {
		hc.SuspiciousFlags = c.Detection.SuspiciousFlags
	}
	return hc
}

// String renders a short summary for startup logging.
func (c *Config) String() string {
	return fmt.Sprintf("listen=%s db=%s retention=%s", c.API.Listen, c.DatabasePath, c.Retention)
}
