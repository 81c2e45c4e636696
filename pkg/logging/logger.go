// Package logging provides structured logging for the failover controller.
// It integrates with the controller-runtime logging framework and routes
// client-go's klog output through the same sink.
package logging

import (
	"io"
	"os"
	"strings"

	"github.com/go-logr/logr"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"k8s.io/klog/v2"
	ctrl "sigs.k8s.io/controller-runtime"
	ctrlzap "sigs.k8s.io/controller-runtime/pkg/log/zap"
)

// Config defines the logging configuration
type Config struct {
	// Level is the log level (DEBUG, INFO, WARNING, ERROR)
	Level string `yaml:"level" json:"level"`

	// Format is the log format (json, console)
	Format string `yaml:"format" json:"format"`

	// AddCaller adds caller information to logs
	AddCaller bool `yaml:"addCaller" json:"addCaller"`

	// Development enables development mode (stack traces on warnings, etc.)
	Development bool `yaml:"development" json:"development"`

	// Output receives the log lines, os.Stderr when nil
	Output io.Writer `yaml:"-" json:"-"`
}

// Logger wraps the controller-runtime logger with additional functionality
type Logger struct {
	logr.Logger
	config *Config
}

// DefaultConfig returns default logging configuration
func DefaultConfig() *Config {
	return &Config{
		Level:     "INFO",
		Format:    "json",
		AddCaller: true,
	}
}

// NewLogger creates a new structured logger based on the provided configuration
func NewLogger(config *Config) (*Logger, error) {
	if config == nil {
		config = DefaultConfig()
	}

	opts := ctrlzap.Options{
		Development: config.Development,
		DestWriter:  config.Output,
	}
	if opts.DestWriter == nil {
		opts.DestWriter = os.Stderr
	}

	if config.Format == "json" {
		encoderConfig := zap.NewProductionEncoderConfig()
		encoderConfig.TimeKey = "time"
		encoderConfig.LevelKey = "level"
		encoderConfig.MessageKey = "msg"
		encoderConfig.CallerKey = "caller"
		encoderConfig.StacktraceKey = "stacktrace"
		encoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
		encoderConfig.EncodeLevel = zapcore.LowercaseLevelEncoder
		opts.Encoder = zapcore.NewJSONEncoder(encoderConfig)
	} else {
		encoderConfig := zap.NewDevelopmentEncoderConfig()
		encoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
		opts.Encoder = zapcore.NewConsoleEncoder(encoderConfig)
	}

	level := ParseLevel(config.Level)
	opts.Level = level

	if config.AddCaller {
		opts.ZapOpts = append(opts.ZapOpts, zap.AddCaller())
	}

	return &Logger{
		Logger: ctrlzap.New(ctrlzap.UseFlagOptions(&opts)),
		config: config,
	}, nil
}

// ParseLevel converts a level name to a zap level. Names are case-insensitive;
// unknown names map to info.
func ParseLevel(level string) zapcore.Level {
	switch strings.ToLower(level) {
	case "debug":
		return zapcore.DebugLevel
	case "info":
		return zapcore.InfoLevel
	case "warn", "warning":
		return zapcore.WarnLevel
	case "error":
		return zapcore.ErrorLevel
	default:
		return zapcore.InfoLevel
	}
}

// WithName returns a logger with the specified name
func (l *Logger) WithName(name string) *Logger {
	return &Logger{
		Logger: l.Logger.WithName(name),
		config: l.config,
	}
}

// WithValues returns a logger with the specified key-value pairs
func (l *Logger) WithValues(keysAndValues ...interface{}) *Logger {
	return &Logger{
		Logger: l.Logger.WithValues(keysAndValues...),
		config: l.config,
	}
}

// WithController returns a logger configured for controller operations
func (l *Logger) WithController(controllerName string) *Logger {
	return &Logger{
		Logger: l.Logger.WithName(controllerName).WithValues(
			"controller", controllerName,
		),
		config: l.config,
	}
}

// GetConfig returns the logging configuration
func (l *Logger) GetConfig() *Config {
	return l.config
}

// SetGlobalLogger installs the logger for controller-runtime and klog
func SetGlobalLogger(logger *Logger) {
	ctrl.SetLogger(logger.Logger)
	klog.SetLogger(logger.Logger.WithName("klog"))
}
