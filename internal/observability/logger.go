package observability

import (
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// InitLogger constructs the production zap.Logger for the service. The
// returned logger is passed into components; nothing logs through globals.
func InitLogger(level string) (*zap.Logger, error) {
	lvl := zapcore.InfoLevel
	if level != "" {
		parsed, err := zapcore.ParseLevel(level)
		if err == nil {
			lvl = parsed
		}
	}

	cfg := zap.NewProductionConfig()
	cfg.Level = zap.NewAtomicLevelAt(lvl)
	cfg.EncoderConfig.TimeKey = "ts"
	cfg.EncoderConfig.MessageKey = "msg"

	logger, err := cfg.Build()
	if err != nil {
		return nil, err
	}
	return logger.Named("adlens"), nil
}
