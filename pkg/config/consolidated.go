// Package config provides consolidated configuration structures and defaults for the failover controller.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/ahoma/failover-controller/internal/podlabels"
)

// FailoverConfig is the root configuration structure for the failover controller
type FailoverConfig struct {
	// Operator contains the core operator configuration
	Operator OperatorConfig `yaml:"operator" json:"operator"`

	// Controller contains the poll loop configuration
	Controller ControllerConfig `yaml:"controller" json:"controller"`

	// Labels overrides the label keys read from Services and pods
	Labels podlabels.Keys `yaml:"labels" json:"labels"`

	// Observability contains metrics, logging, and health check configuration
	Observability ObservabilityConfig `yaml:"observability" json:"observability"`
}

// OperatorConfig contains core operator configuration
type OperatorConfig struct {
	// Namespace is the namespace whose Services are managed. Empty means the
	// namespace the controller runs in.
	Namespace string `yaml:"namespace" json:"namespace"`

	// ReadOnlyMode when true, computes and logs label changes without patching pods
	ReadOnlyMode bool `yaml:"readOnlyMode" json:"readOnlyMode"`

	// KubeAPIQPS and KubeAPIBurst tune the client-side limits of the REST client
	KubeAPIQPS   float32 `yaml:"kubeAPIQPS" json:"kubeAPIQPS"`
	KubeAPIBurst int     `yaml:"kubeAPIBurst" json:"kubeAPIBurst"`
}

// ControllerConfig contains poll loop configuration
type ControllerConfig struct {
	// UpdateInterval is the target period between two reconciliation passes
	UpdateInterval time.Duration `yaml:"updateInterval" json:"updateInterval"`

	// PatchQPS bounds the sustained rate of pod label patches
	PatchQPS float64 `yaml:"patchQPS" json:"patchQPS"`

	// PatchBurst is the number of patches allowed back to back
	PatchBurst int `yaml:"patchBurst" json:"patchBurst"`
}

// ObservabilityConfig contains metrics, logging, and health check configuration
type ObservabilityConfig struct {
	// Metrics configuration
	Metrics MetricsConfig `yaml:"metrics" json:"metrics"`

	// Logging configuration
	Logging LoggingConfig `yaml:"logging" json:"logging"`

	// Health checks configuration
	Health HealthConfig `yaml:"health" json:"health"`
}

// MetricsConfig contains metrics configuration
type MetricsConfig struct {
	// Enabled enables/disables the /metrics endpoint
	Enabled bool `yaml:"enabled" json:"enabled"`

	// BindAddress is the address to bind the metrics server
	BindAddress string `yaml:"bindAddress" json:"bindAddress"`
}

// LoggingConfig contains logging configuration
type LoggingConfig struct {
	// Level is the log level (DEBUG, INFO, WARNING, ERROR)
	Level string `yaml:"level" json:"level"`

	// Format is the log format (json, console)
	Format string `yaml:"format" json:"format"`

	// AddCaller adds caller information to logs
	AddCaller bool `yaml:"addCaller" json:"addCaller"`

	// Development enables development mode (pretty printing, etc.)
	Development bool `yaml:"development" json:"development"`
}

// HealthConfig contains health check configuration
type HealthConfig struct {
	// Enabled enables/disables health checks
	Enabled bool `yaml:"enabled" json:"enabled"`

	// BindAddress is the address to bind the health server
	BindAddress string `yaml:"bindAddress" json:"bindAddress"`
}

// DefaultUpdateInterval is the poll period used when none is configured
const DefaultUpdateInterval = 100 * time.Millisecond

// DefaultConfig returns the default failover controller configuration
func DefaultConfig() *FailoverConfig {
	return &FailoverConfig{
		Operator: OperatorConfig{
			Namespace:    "",
			ReadOnlyMode: false,
			KubeAPIQPS:   50,
			KubeAPIBurst: 100,
		},
		Controller: ControllerConfig{
			UpdateInterval: DefaultUpdateInterval,
			PatchQPS:       20,
			PatchBurst:     50,
		},
		Labels: podlabels.DefaultKeys(),
		Observability: ObservabilityConfig{
			Metrics: MetricsConfig{
				Enabled:     true,
				BindAddress: ":8080",
			},
			Logging: LoggingConfig{
				Level:       "INFO",
				Format:      "json",
				AddCaller:   true,
				Development: false,
			},
			Health: HealthConfig{
				Enabled:     true,
				BindAddress: ":8081",
			},
		},
	}
}

// ValidLogLevel reports whether level is one of the accepted log levels
func ValidLogLevel(level string) bool {
	switch strings.ToUpper(level) {
	case "DEBUG", "INFO", "WARN", "WARNING", "ERROR":
		return true
	default:
		return false
	}
}

// Validate validates the configuration
func (c *FailoverConfig) Validate() error {
	if c.Controller.UpdateInterval <= 0 {
		return fmt.Errorf("controller.updateInterval must be positive")
	}

	if c.Controller.PatchQPS < 0 {
		return fmt.Errorf("controller.patchQPS cannot be negative")
	}

	if c.Controller.PatchQPS > 0 && c.Controller.PatchBurst <= 0 {
		return fmt.Errorf("controller.patchBurst must be positive when patchQPS is set")
	}

	if !ValidLogLevel(c.Observability.Logging.Level) {
		return fmt.Errorf("observability.logging.level %q is not one of DEBUG, INFO, WARNING, ERROR", c.Observability.Logging.Level)
	}

	switch c.Observability.Logging.Format {
	case "json", "console":
	default:
		return fmt.Errorf("observability.logging.format %q must be json or console", c.Observability.Logging.Format)
	}

	if c.Observability.Metrics.Enabled && c.Observability.Metrics.BindAddress == "" {
		return fmt.Errorf("observability.metrics.bindAddress cannot be empty when metrics are enabled")
	}

	if c.Observability.Health.Enabled && c.Observability.Health.BindAddress == "" {
		return fmt.Errorf("observability.health.bindAddress cannot be empty when health checks are enabled")
	}

	return nil
}
