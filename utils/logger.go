package utils

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/michaelpento.lv/cyclearb/config"
)

var (
	mu  sync.RWMutex
	log *zap.Logger
)

// NewLogger builds a JSON logger at cfg.Level, or debug when debug is set.
// Entries go to stdout and, when cfg.Dir is set, to cfg.File inside it; entries
// at error level and above are also written to cfg.ErrorFile. The directory is
// created on demand.
func NewLogger(cfg config.LogConfig, debug bool) (*zap.Logger, error) {
	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		return nil, fmt.Errorf("invalid log level: %w", err)
	}
	if debug {
		level = zapcore.DebugLevel
	}

	encoderConfig := zap.NewProductionEncoderConfig()
	encoderConfig.TimeKey = "timestamp"
	encoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	encoderConfig.StacktraceKey = "stacktrace"
	encoder := zapcore.NewJSONEncoder(encoderConfig)

	outputs := []string{"stdout"}
	if cfg.Dir != "" {
		if err := os.MkdirAll(cfg.Dir, 0o755); err != nil {
			return nil, fmt.Errorf("failed to create log dir: %w", err)
		}
		outputs = append(outputs, filepath.Join(cfg.Dir, cfg.File))
	}
	out, _, err := zap.Open(outputs...)
	if err != nil {
		return nil, fmt.Errorf("failed to open log outputs: %w", err)
	}
	core := zapcore.NewCore(encoder, out, level)

	if cfg.Dir != "" {
		errOut, _, err := zap.Open(filepath.Join(cfg.Dir, cfg.ErrorFile))
		if err != nil {
			return nil, fmt.Errorf("failed to open error log: %w", err)
		}
		core = zapcore.NewTee(core, zapcore.NewCore(encoder.Clone(), errOut, zapcore.ErrorLevel))
	}

	internal, _, err := zap.Open("stderr")
	if err != nil {
		return nil, err
	}
	return zap.New(core,
		zap.AddCaller(),
		zap.AddStacktrace(zapcore.ErrorLevel),
		zap.ErrorOutput(internal),
	), nil
}

// InitLogger installs a console logger for the time before configuration is
// loaded.
func InitLogger(debug bool) *zap.Logger {
	logger, err := NewLogger(config.LogConfig{Level: "info"}, debug)
	if err != nil {
		panic(err)
	}
	setLogger(logger)
	return logger
}

// ConfigureLogger replaces the global logger with one writing to the
// configured files. The previous logger is flushed first.
func ConfigureLogger(cfg config.LogConfig, debug bool) (*zap.Logger, error) {
	logger, err := NewLogger(cfg, debug)
	if err != nil {
		return nil, err
	}
	setLogger(logger)
	return logger, nil
}

func setLogger(logger *zap.Logger) {
	mu.Lock()
	defer mu.Unlock()
	if log != nil {
		_ = log.Sync()
	}
	log = logger
}

// GetLogger returns the global logger instance
func GetLogger() *zap.Logger {
	mu.RLock()
	l := log
	mu.RUnlock()
	if l == nil {
		return InitLogger(false)
	}
	return l
}

// CleanupLogger flushes any buffered log entries
func CleanupLogger() {
	mu.RLock()
	defer mu.RUnlock()
	if log != nil {
		_ = log.Sync()
	}
}
