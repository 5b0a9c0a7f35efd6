package logger

import (
	"os"
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	lumberjack "gopkg.in/natefinch/lumberjack.v2"
)

// Options komt uit config (ENV, LOG_LEVEL, LOG_FILE).
type Options struct {
	Env   string
	Level string
	File  string
}

// maxFieldLength is the cap applied by Truncate to error strings from external systems.
const maxFieldLength = 200

func encoderConfig(levelEncoder zapcore.LevelEncoder, stacktraceKey string) zapcore.EncoderConfig {
	return zapcore.EncoderConfig{
		TimeKey:        "timestamp",
		LevelKey:       "level",
		NameKey:        "logger",
		CallerKey:      "caller",
		FunctionKey:    zapcore.OmitKey,
		MessageKey:     "message",
		StacktraceKey:  stacktraceKey,
		LineEnding:     zapcore.DefaultLineEnding,
		EncodeLevel:    levelEncoder,
		EncodeTime:     zapcore.ISO8601TimeEncoder,
		EncodeDuration: zapcore.MillisDurationEncoder,
		EncodeCaller:   zapcore.ShortCallerEncoder,
	}
}

// ParseLevel maps LOG_LEVEL onto a zap level. Unknown values fall back to info.
func ParseLevel(level string) zapcore.Level {
	switch strings.ToLower(level) {
	case "debug":
		return zapcore.DebugLevel
	case "warn", "warning":
		return zapcore.WarnLevel
	case "error":
		return zapcore.ErrorLevel
	case "fatal":
		return zapcore.FatalLevel
	default:
		return zapcore.InfoLevel
	}
}

// NewLogger creates a new logger based on environment
func NewLogger(opts Options) (*zap.Logger, error) {
	env := strings.ToLower(opts.Env)
	if env == "" {
		env = "development"
	}

	atomicLevel := zap.NewAtomicLevelAt(ParseLevel(opts.Level))

	// Configure outputs
	var cores []zapcore.Core

	// Console output
	var consoleEncoder zapcore.Encoder
	if env == "production" {
		consoleEncoder = zapcore.NewJSONEncoder(encoderConfig(zapcore.LowercaseLevelEncoder, ""))
	} else {
		consoleEncoder = zapcore.NewConsoleEncoder(encoderConfig(zapcore.CapitalColorLevelEncoder, ""))
	}
	cores = append(cores, zapcore.NewCore(consoleEncoder, zapcore.AddSync(os.Stdout), atomicLevel))

	// File output if LOG_FILE is set
	if opts.File != "" {
		// Create lumberjack logger for file rotation
		lumberjackLogger := &lumberjack.Logger{
			Filename:   opts.File,
			MaxSize:    100, // megabytes
			MaxBackups: 3,   // number of backups
			MaxAge:     28,  // days
			Compress:   true,
		}

		fileEncoder := zapcore.NewJSONEncoder(encoderConfig(zapcore.LowercaseLevelEncoder, "stacktrace"))
		cores = append(cores, zapcore.NewCore(fileEncoder, zapcore.AddSync(lumberjackLogger), atomicLevel))
	}

	// Create multi-core logger
	core := zapcore.NewTee(cores...)
	logger := zap.New(core, zap.AddCaller(), zap.AddStacktrace(zapcore.ErrorLevel))

	return logger, nil
}

// WithComponent tags every entry of the returned logger with its component.
func WithComponent(logger *zap.Logger, component string, fields ...zap.Field) *zap.Logger {
	return logger.With(append([]zap.Field{zap.String("component", component)}, fields...)...)
}

// LogDuration performance logging helper
func LogDuration(logger *zap.Logger, operation string, duration int64, fields ...zap.Field) {
	fields = append(fields, zap.String("operation", operation), zap.Int64("duration_ms", duration))
	logger.Info("operation completed", fields...)
}

// Truncate shortens s to 200 characters for log fields.
func Truncate(s string) string {
	r := []rune(s)
	if len(r) <= maxFieldLength {
		return s
	}
	return string(r[:maxFieldLength])
}
