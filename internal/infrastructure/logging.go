package infrastructure

import (
	"github.com/marketdesk/livefeed/internal/config"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// NewLogger builds the process logger from the logging section of the
// configuration. An unparseable level falls back to info rather than
// failing startup.
func NewLogger(cfg *config.Config) (*zap.Logger, error) {
	level, err := zapcore.ParseLevel(cfg.Logging.Level)
	if err != nil {
		level = zapcore.InfoLevel
	}

	encoder := zap.NewProductionEncoderConfig()
	encoder.TimeKey = "timestamp"
	encoder.MessageKey = "message"
	encoder.EncodeTime = zapcore.ISO8601TimeEncoder
	if cfg.Logging.Format == "console" {
		encoder.EncodeLevel = zapcore.CapitalLevelEncoder
	}

	return zap.Config{
		Level:            zap.NewAtomicLevelAt(level),
		Encoding:         cfg.Logging.Format,
		EncoderConfig:    encoder,
		OutputPaths:      []string{cfg.Logging.OutputPath},
		ErrorOutputPaths: []string{"stderr"},
	}.Build()
}
