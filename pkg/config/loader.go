package config

import (
	"fmt"
	"math"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// DefaultEnvPrefix is the prefix of every environment variable read by the loader
const DefaultEnvPrefix = "FAILOVER_CONTROLLER"

// Loader handles loading configuration from various sources
type Loader struct {
	// ConfigFile is the path to the YAML configuration file
	ConfigFile string

	// EnvPrefix is the prefix for environment variables (defaults to "FAILOVER_CONTROLLER")
	EnvPrefix string

	// Warnings collects environment values that were rejected and replaced by
	// their defaults. The logger is not configured yet while loading, so
	// callers report them once it is.
	Warnings []string
}

// NewLoader creates a new configuration loader
func NewLoader() *Loader {
	return &Loader{
		EnvPrefix: DefaultEnvPrefix,
	}
}

// WithConfigFile sets the configuration file path
func (l *Loader) WithConfigFile(path string) *Loader {
	l.ConfigFile = path
	return l
}

// WithEnvPrefix sets the environment variable prefix
func (l *Loader) WithEnvPrefix(prefix string) *Loader {
	l.EnvPrefix = prefix
	return l
}

// Load loads configuration from all sources in priority order:
// 1. Default configuration
// 2. Configuration file (if specified)
// 3. Environment variables
func (l *Loader) Load() (*FailoverConfig, error) {
	config := DefaultConfig()
	l.Warnings = nil

	if l.ConfigFile != "" {
		if err := l.loadFromFile(config); err != nil {
			return nil, fmt.Errorf("failed to load config from file: %w", err)
		}
	}

	l.loadFromEnv(config)

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return config, nil
}

// loadFromFile loads configuration from a YAML file
func (l *Loader) loadFromFile(config *FailoverConfig) error {
	data, err := os.ReadFile(l.ConfigFile)
	if err != nil {
		return fmt.Errorf("failed to read config file %s: %w", l.ConfigFile, err)
	}

	if err := yaml.Unmarshal(data, config); err != nil {
		return fmt.Errorf("failed to parse YAML config file: %w", err)
	}

	return nil
}

// loadFromEnv loads configuration from environment variables
func (l *Loader) loadFromEnv(config *FailoverConfig) {
	// Operator configuration
	if val := l.getEnv("NAMESPACE"); val != "" {
		config.Operator.Namespace = val
	}
	if val := l.getEnv("READ_ONLY_MODE"); val != "" {
		config.Operator.ReadOnlyMode = l.parseBool(val, config.Operator.ReadOnlyMode)
	}

	// Controller configuration
	if val := l.getEnv("UPDATE_INTERVAL"); val != "" {
		if interval, ok := ParseUpdateInterval(val); ok {
			config.Controller.UpdateInterval = interval
		} else {
			l.warnf("%s_UPDATE_INTERVAL=%q is not a valid interval in seconds, using %s",
				l.EnvPrefix, val, config.Controller.UpdateInterval)
		}
	}
	if val := l.getEnv("PATCH_QPS"); val != "" {
		if qps, err := strconv.ParseFloat(val, 64); err == nil {
			config.Controller.PatchQPS = qps
		}
	}
	if val := l.getEnv("PATCH_BURST"); val != "" {
		config.Controller.PatchBurst = l.parseInt(val, config.Controller.PatchBurst)
	}

	// Label keys
	if val := l.getEnv("FAILOVER_LABEL_KEY"); val != "" {
		config.Labels.FailoverLabel = val
	}
	if val := l.getEnv("GROUP_LABEL_KEY"); val != "" {
		config.Labels.Group = val
	}
	if val := l.getEnv("TEMPLATE_HASH_LABEL_KEY"); val != "" {
		config.Labels.TemplateHash = val
	}
	if val := l.getEnv("PRIORITY_LABEL_KEY"); val != "" {
		config.Labels.Priority = val
	}
	if val := l.getEnv("MIN_REPLICAS_LABEL_KEY"); val != "" {
		config.Labels.MinReplicas = val
	}

	// Metrics configuration
	if val := l.getEnv("METRICS_ENABLED"); val != "" {
		config.Observability.Metrics.Enabled = l.parseBool(val, config.Observability.Metrics.Enabled)
	}
	if val := l.getEnv("METRICS_BIND_ADDRESS"); val != "" {
		config.Observability.Metrics.BindAddress = val
	}

	// Logging configuration
	if val := l.getEnv("LOG_LEVEL"); val != "" {
		if ValidLogLevel(val) {
			config.Observability.Logging.Level = strings.ToUpper(val)
		} else {
			l.warnf("%s_LOG_LEVEL=%q is not one of DEBUG, INFO, WARNING, ERROR, using %s",
				l.EnvPrefix, val, config.Observability.Logging.Level)
		}
	}
	if val := l.getEnv("LOG_FORMAT"); val != "" {
		config.Observability.Logging.Format = val
	}

	// Health configuration
	if val := l.getEnv("HEALTH_ENABLED"); val != "" {
		config.Observability.Health.Enabled = l.parseBool(val, config.Observability.Health.Enabled)
	}
	if val := l.getEnv("HEALTH_BIND_ADDRESS"); val != "" {
		config.Observability.Health.BindAddress = val
	}
}

// ParseUpdateInterval parses an interval given in seconds as a float. The sign
// is ignored; zero, NaN and infinite values are rejected.
func ParseUpdateInterval(val string) (time.Duration, bool) {
	seconds, err := strconv.ParseFloat(strings.TrimSpace(val), 64)
	if err != nil {
		return 0, false
	}
	seconds = math.Abs(seconds)
	if seconds == 0 || math.IsNaN(seconds) || math.IsInf(seconds, 0) {
		return 0, false
	}

	interval := time.Duration(seconds * float64(time.Second))
	if interval <= 0 {
		return 0, false
	}
	return interval, true
}

func (l *Loader) warnf(format string, args ...interface{}) {
	l.Warnings = append(l.Warnings, fmt.Sprintf(format, args...))
}

// getEnv gets an environment variable with the configured prefix
func (l *Loader) getEnv(key string) string {
	return os.Getenv(l.EnvPrefix + "_" + key)
}

// parseBool parses a boolean string, returning fallback on error
func (l *Loader) parseBool(val string, fallback bool) bool {
	switch strings.ToLower(val) {
	case "true", "1", "yes", "on":
		return true
	case "false", "0", "no", "off":
		return false
	default:
		return fallback
	}
}

// parseInt parses an integer string, returning fallback on error
func (l *Loader) parseInt(val string, fallback int) int {
	if i, err := strconv.Atoi(val); err == nil {
		return i
	}
	return fallback
}

// Save saves the configuration to a YAML file
func (config *FailoverConfig) Save(filename string) error {
	data, err := yaml.Marshal(config)
	if err != nil {
		return fmt.Errorf("failed to marshal config to YAML: %w", err)
	}

	if err := os.WriteFile(filename, data, 0o600); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}

// LoadFromFile is a convenience function to load configuration from a file
func LoadFromFile(filename string) (*FailoverConfig, error) {
	return NewLoader().WithConfigFile(filename).Load()
}

// LoadFromEnv is a convenience function to load configuration from environment variables only
func LoadFromEnv() (*FailoverConfig, error) {
	return NewLoader().Load()
}
