// Package logging builds the structured loggers used across the server,
// generalizing the verbosity-level switch the teacher's configureLogging
// used to drive github.com/tliron/commonlog into one that drives
// go.uber.org/zap instead, keyed off the `log`/`error_log` configuration
// directives rather than a single CLI flag.
package logging

import (
	"os"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Config is the process-wide logging configuration sourced from the
// global ConfigBlock's `log`/`error_log`/`log_level` properties.
type Config struct {
	// Level is one of "debug", "info", "warning"/"warn", "error".
	Level string
	// AccessLogPath is where request logs are written; "" means
	// stdout, "-" also means stdout.
	AccessLogPath string
	// ErrorLogPath is where the process logger is written; "" means
	// stderr.
	ErrorLogPath string
}

// New builds the process logger per cfg. Unknown or empty levels default
// to "warning", mirroring the teacher's configureLogging default.
func New(cfg Config) (*zap.Logger, error) {
	level := parseLevel(cfg.Level)

	sink := zapcore.AddSync(os.Stderr)
	if cfg.ErrorLogPath != "" && cfg.ErrorLogPath != "-" {
		f, err := os.OpenFile(cfg.ErrorLogPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			return nil, err
		}
		sink = zapcore.AddSync(f)
	}

	encoderCfg := zap.NewProductionEncoderConfig()
	encoderCfg.TimeKey = "ts"
	encoderCfg.EncodeTime = zapcore.ISO8601TimeEncoder

	core := zapcore.NewCore(zapcore.NewJSONEncoder(encoderCfg), sink, level)
	return zap.New(core, zap.AddCaller(), zap.AddStacktrace(zapcore.ErrorLevel)), nil
}

func parseLevel(level string) zapcore.Level {
	switch level {
	case "debug":
		return zapcore.DebugLevel
	case "info":
		return zapcore.InfoLevel
	case "warning", "warn", "":
		return zapcore.WarnLevel
	case "error":
		return zapcore.ErrorLevel
	default:
		return zapcore.WarnLevel
	}
}

// AccessLogger returns a dedicated logger for per-request access lines,
// separate from the process logger so `log`/`error_log` can target
// different sinks per spec.md §6's "access/error log sinks" collaborator
// boundary — only the structured-event shape is this package's concern,
// not the sink's on-disk rotation policy.
func AccessLogger(cfg Config) (*zap.Logger, error) {
	sink := zapcore.AddSync(os.Stdout)
	if cfg.AccessLogPath != "" && cfg.AccessLogPath != "-" {
		f, err := os.OpenFile(cfg.AccessLogPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			return nil, err
		}
		sink = zapcore.AddSync(f)
	}
	encoderCfg := zap.NewProductionEncoderConfig()
	encoderCfg.TimeKey = "ts"
	encoderCfg.EncodeTime = zapcore.ISO8601TimeEncoder
	core := zapcore.NewCore(zapcore.NewJSONEncoder(encoderCfg), sink, zapcore.InfoLevel)
	return zap.New(core), nil
}
