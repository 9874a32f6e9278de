// Package config loads entitlementd configuration from defaults, an
// optional YAML or JSON file, and ENTITLEMENTD_* environment variables,
// in that order of increasing precedence.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/rs/zerolog/log"
	"gopkg.in/yaml.v3"

	"github.com/stratushq/entitlements/pkg/entitlement"
)

const (
	envPrefix = "ENTITLEMENTD_"

	DefaultBackendPort = 7656
	DefaultMetricsPort = 7657
)

// Config holds the full runtime configuration of entitlementd.
type Config struct {
	// Server settings
	BackendHost string `yaml:"backendHost" json:"backendHost"`
	BackendPort int    `yaml:"backendPort" json:"backendPort"`
	MetricsPort int    `yaml:"metricsPort" json:"metricsPort"`

	// Security
	APIToken        string   `yaml:"apiToken" json:"apiToken"`
	AllowedOrigins  []string `yaml:"allowedOrigins" json:"allowedOrigins"`
	SnapshotKeyFile string   `yaml:"snapshotKeyFile" json:"snapshotKeyFile"`

	// Resolution policy
	TrialReactivationLimit int `yaml:"trialReactivationLimit" json:"trialReactivationLimit"`

	// Journal
	JournalPath          string `yaml:"journalPath" json:"journalPath"`
	JournalRetentionDays int    `yaml:"journalRetentionDays" json:"journalRetentionDays"`

	// Logging
	LogLevel      string `yaml:"logLevel" json:"logLevel"`
	LogFormat     string `yaml:"logFormat" json:"logFormat"`
	LogFile       string `yaml:"logFile" json:"logFile"`
	LogMaxSizeMB  int    `yaml:"logMaxSizeMB" json:"logMaxSizeMB"`
	LogMaxAgeDays int    `yaml:"logMaxAgeDays" json:"logMaxAgeDays"`
	LogCompress   bool   `yaml:"logCompress" json:"logCompress"`
}

// Defaults returns the built-in configuration.
func Defaults() *Config {
	return &Config{
		BackendHost:            "0.0.0.0",
		BackendPort:            DefaultBackendPort,
		MetricsPort:            DefaultMetricsPort,
		TrialReactivationLimit: entitlement.DefaultTrialReactivationLimit,
		JournalRetentionDays:   30,
		LogLevel:               "info",
		LogFormat:              "auto",
		LogMaxSizeMB:           50,
		LogMaxAgeDays:          14,
		LogCompress:            true,
	}
}

// Load builds the effective configuration. The file path may be empty, in
// which case only defaults and environment variables apply. A missing file
// at an explicitly supplied path is an error; env overrides always apply.
func Load(filePath string) (*Config, error) {
	cfg := Defaults()

	if filePath != "" {
		if err := cfg.applyFile(filePath); err != nil {
			return nil, err
		}
	}

	cfg.applyEnv()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config file %s: %w", path, err)
	}

	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, c); err != nil {
			return fmt.Errorf("parse YAML config %s: %w", path, err)
		}
	case ".json":
		if err := json.Unmarshal(data, c); err != nil {
			return fmt.Errorf("parse JSON config %s: %w", path, err)
		}
	default:
		return fmt.Errorf("unsupported config file extension %q (want .yaml, .yml, or .json)", filepath.Ext(path))
	}

	log.Debug().Str("path", path).Msg("Loaded configuration file")
	return nil
}

func (c *Config) applyEnv() {
	if v := envString("BACKEND_HOST"); v != "" {
		c.BackendHost = v
	}
	if v, ok := envInt("BACKEND_PORT"); ok {
		c.BackendPort = v
	}
	// PORT is the short form used by container deployments.
	if v, ok := envInt("PORT"); ok {
		c.BackendPort = v
	}
	if v, ok := envInt("METRICS_PORT"); ok {
		c.MetricsPort = v
	}
	if v := envString("API_TOKEN"); v != "" {
		c.APIToken = v
	}
	if v := envString("ALLOWED_ORIGINS"); v != "" {
		c.AllowedOrigins = splitList(v)
	}
	if v := envString("SNAPSHOT_KEY_FILE"); v != "" {
		c.SnapshotKeyFile = v
	}
	if v, ok := envInt("TRIAL_REACTIVATION_LIMIT"); ok {
		c.TrialReactivationLimit = v
	}
	if v := envString("JOURNAL_PATH"); v != "" {
		c.JournalPath = v
	}
	if v, ok := envInt("JOURNAL_RETENTION_DAYS"); ok {
		c.JournalRetentionDays = v
	}
	if v := envString("LOG_LEVEL"); v != "" {
		c.LogLevel = v
	}
	if v := envString("LOG_FORMAT"); v != "" {
		c.LogFormat = v
	}
	if v := envString("LOG_FILE"); v != "" {
		c.LogFile = v
	}
	if v, ok := envInt("LOG_MAX_SIZE_MB"); ok {
		c.LogMaxSizeMB = v
	}
	if v, ok := envInt("LOG_MAX_AGE_DAYS"); ok {
		c.LogMaxAgeDays = v
	}
	if v, ok := envBool("LOG_COMPRESS"); ok {
		c.LogCompress = v
	}
}

// Validate rejects configurations that cannot serve.
func (c *Config) Validate() error {
	if c.BackendPort < 1 || c.BackendPort > 65535 {
		return fmt.Errorf("invalid backend port %d", c.BackendPort)
	}
	if c.MetricsPort != 0 {
		if c.MetricsPort < 1 || c.MetricsPort > 65535 {
			return fmt.Errorf("invalid metrics port %d", c.MetricsPort)
		}
		if c.MetricsPort == c.BackendPort {
			return fmt.Errorf("metrics port %d collides with backend port", c.MetricsPort)
		}
	}
	if c.TrialReactivationLimit < 0 {
		return fmt.Errorf("invalid trial reactivation limit %d", c.TrialReactivationLimit)
	}
	if c.JournalRetentionDays < 0 {
		return fmt.Errorf("invalid journal retention %d days", c.JournalRetentionDays)
	}
	return nil
}

// ListenAddr returns the address the API server binds.
func (c *Config) ListenAddr() string {
	return fmt.Sprintf("%s:%d", c.BackendHost, c.BackendPort)
}

// MetricsAddr returns the metrics listener address, or "" when disabled.
func (c *Config) MetricsAddr() string {
	if c.MetricsPort == 0 {
		return ""
	}
	return fmt.Sprintf("%s:%d", c.BackendHost, c.MetricsPort)
}

func envString(key string) string {
	return strings.TrimSpace(os.Getenv(envPrefix + key))
}

func envInt(key string) (int, bool) {
	raw := envString(key)
	if raw == "" {
		return 0, false
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		log.Warn().Str("variable", envPrefix+key).Str("value", raw).Msg("Ignoring non-integer environment override")
		return 0, false
	}
	return v, true
}

func envBool(key string) (bool, bool) {
	raw := envString(key)
	if raw == "" {
		return false, false
	}
	v, err := strconv.ParseBool(raw)
	if err != nil {
		log.Warn().Str("variable", envPrefix+key).Str("value", raw).Msg("Ignoring non-boolean environment override")
		return false, false
	}
	return v, true
}

func splitList(raw string) []string {
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if trimmed := strings.TrimSpace(p); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}
