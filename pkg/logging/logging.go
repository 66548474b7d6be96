// Package logging backs the ectologger interface with zap.
package logging

import (
	"fmt"
	"strings"

	"github.com/Gobusters/ectologger"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

type Config struct {
	Level   string
	Pretty  bool
	AppName string
	Version string
}

// New builds a zap logger and an ectologger.Logger that writes to it. The
// caller syncs the zap logger on shutdown.
func New(cfg Config) (ectologger.Logger, *zap.Logger, error) {
	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		return nil, nil, fmt.Errorf("invalid log level %q: %w", cfg.Level, err)
	}

	zapCfg := zap.NewProductionConfig()
	if cfg.Pretty {
		zapCfg = zap.NewDevelopmentConfig()
	}
	zapCfg.Level = zap.NewAtomicLevelAt(level)

	zl, err := zapCfg.Build(zap.AddCallerSkip(1))
	if err != nil {
		return nil, nil, err
	}
	if cfg.AppName != "" {
		zl = zl.With(zap.String("app", cfg.AppName), zap.String("version", cfg.Version))
	}

	return FromZap(zl), zl, nil
}

// FromZap adapts zl to ectologger
func FromZap(zl *zap.Logger) ectologger.Logger {
	return ectologger.NewEctoLogger(func(msg ectologger.EctoLogMessage) {
		Write(zl, msg)
	})
}

// Write logs one ectologger message on zl, mapping its level, error and
// fields onto zap
func Write(zl *zap.Logger, msg ectologger.EctoLogMessage) {
	fields := make([]zap.Field, 0, len(msg.Fields)+1)
	if msg.Err != nil {
		fields = append(fields, zap.Error(msg.Err))
	}
	for key, value := range msg.Fields {
		fields = append(fields, zap.Any(key, value))
	}

	switch strings.ToLower(msg.Level) {
	case "debug", "trace":
		zl.Debug(msg.Message, fields...)
	case "warn", "warning":
		zl.Warn(msg.Message, fields...)
	case "error", "fatal", "panic":
		zl.Error(msg.Message, fields...)
	default:
		zl.Info(msg.Message, fields...)
	}
}
