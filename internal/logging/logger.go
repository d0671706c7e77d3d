// Package logging builds the service-wide zap logger. Subsystems derive
// their own loggers from it with Named.
package logging

import (
	"fmt"
	"os"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// levelEnv overrides the default log level, e.g. CAMSYNC_LOG_LEVEL=debug.
const levelEnv = "CAMSYNC_LOG_LEVEL"

// New builds the root logger. Development mode gets a colored console
// encoder at debug level; production gets JSON at info level with ISO8601
// timestamps and a service field so log aggregation can tell camsync
// instances apart.
func New(development bool) (*zap.Logger, error) {
	var cfg zap.Config
	if development {
		cfg = zap.NewDevelopmentConfig()
		cfg.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	} else {
		cfg = zap.NewProductionConfig()
		cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
		cfg.InitialFields = map[string]any{"service": "camsync"}
	}
	cfg.EncoderConfig.TimeKey = "ts"

	if raw := os.Getenv(levelEnv); raw != "" {
		lvl, err := zapcore.ParseLevel(raw)
		if err != nil {
			return nil, fmt.Errorf("parse %s=%q: %w", levelEnv, raw, err)
		}
		cfg.Level = zap.NewAtomicLevelAt(lvl)
	}

	logger, err := cfg.Build()
	if err != nil {
		return nil, fmt.Errorf("build logger: %w", err)
	}
	return logger.Named("camsync"), nil
}
