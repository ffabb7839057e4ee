package logger

import (
	"fmt"
	"sync"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

var (
	globalLogger *zap.Logger
	fallback     *zap.Logger
	mu           sync.RWMutex
	fallbackOnce sync.Once
)

// Init builds the process logger.
// debug selects the development config (console encoder, colored levels);
// otherwise the production JSON config is used. level overrides the config's
// default level when non-empty ("debug", "info", "warn", "error").
func Init(debug bool, level string) error {
	var config zap.Config
	if debug {
		config = zap.NewDevelopmentConfig()
		config.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	} else {
		config = zap.NewProductionConfig()
		config.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	}

	if level != "" {
		lvl, err := zapcore.ParseLevel(level)
		if err != nil {
			return fmt.Errorf("invalid log level %q: %w", level, err)
		}
		config.Level = zap.NewAtomicLevelAt(lvl)
	}

	// stdout/stderr only, the service runs in containers
	l, err := config.Build(zap.AddCallerSkip(1))
	if err != nil {
		return err
	}

	mu.Lock()
	globalLogger = l
	mu.Unlock()
	return nil
}

// Set installs l as the process logger. Tests use it with zaptest/observer.
func Set(l *zap.Logger) {
	mu.Lock()
	globalLogger = l
	mu.Unlock()
}

// Get returns the process logger, or a production logger if Init was never
// called.
func Get() *zap.Logger {
	mu.RLock()
	l := globalLogger
	mu.RUnlock()
	if l != nil {
		return l
	}

	fallbackOnce.Do(func() {
		// same skip as Init so Named and the helpers report the right caller
		fallback, _ = zap.NewProduction(zap.AddCallerSkip(1))
		if fallback == nil {
			fallback = zap.NewNop()
		}
	})
	return fallback
}

// Sync flushes any buffered log entries.
func Sync() {
	_ = Get().Sync()
}

// Named returns a component logger. The caller skip added for the package
// level helpers is removed again so caller annotations stay correct.
func Named(name string) *zap.Logger {
	return Get().WithOptions(zap.AddCallerSkip(-1)).Named(name)
}

// Info logs a message at InfoLevel.
func Info(msg string, fields ...zap.Field) {
	Get().Info(msg, fields...)
}

// Error logs a message at ErrorLevel.
func Error(msg string, fields ...zap.Field) {
	Get().Error(msg, fields...)
}

// Debug logs a message at DebugLevel.
func Debug(msg string, fields ...zap.Field) {
	Get().Debug(msg, fields...)
}

// Warn logs a message at WarnLevel.
func Warn(msg string, fields ...zap.Field) {
	Get().Warn(msg, fields...)
}

// Fatal logs a message at FatalLevel.
func Fatal(msg string, fields ...zap.Field) {
	Get().Fatal(msg, fields...)
}
