package logging

import (
	"lp-hedge-bot/internal/config"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

func New(cfg config.LoggingConfig) *zap.Logger {
	zapCfg := zap.NewProductionConfig()
	zapCfg.Level = zap.NewAtomicLevelAt(levelFor(cfg.Level))
	zapCfg.EncoderConfig.TimeKey = "ts"
	zapCfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	logger, err := zapCfg.Build()
	if err != nil {
		return zap.NewNop()
	}
	return logger.With(zap.String("service", "lp-hedge-bot"))
}

func levelFor(level string) zapcore.Level {
	switch level {
	case "debug":
		return zapcore.DebugLevel
	case "warn":
		return zapcore.WarnLevel
	case "error":
		return zapcore.ErrorLevel
	default:
		return zapcore.InfoLevel
	}
}

// Cycle returns a logger tagged with a fresh cycle id and the block that
// triggered it, together with the id.
func Cycle(log *zap.Logger, block uint64) (*zap.Logger, string) {
	id := uuid.NewString()
	return log.With(zap.String("cycle_id", id), zap.Uint64("block", block)), id
}

// Phase tags log lines with the decision phase that emitted them.
func Phase(log *zap.Logger, phase string) *zap.Logger {
	return log.With(zap.String("phase", phase))
}
