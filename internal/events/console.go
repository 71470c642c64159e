package events

import (
	"os"
	"strings"

	"github.com/cockroachdb/errors"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// NewConsoleLogger builds the operator logger: production JSON for "json",
// a human-readable console encoder otherwise.
func NewConsoleLogger(level string, format string) (*zap.Logger, error) {
	atomicLevel := zap.NewAtomicLevel()
	if strings.TrimSpace(level) != "" {
		if err := atomicLevel.UnmarshalText([]byte(strings.ToLower(level))); err != nil {
			return nil, errors.Wrapf(err, "invalid log level %q", level)
		}
	}

	if strings.EqualFold(strings.TrimSpace(format), "json") {
		config := zap.NewProductionConfig()
		config.Level = atomicLevel
		return config.Build()
	}

	encoderConfig := zap.NewDevelopmentEncoderConfig()
	encoderConfig.EncodeTime = zapcore.TimeEncoderOfLayout("15:04:05")
	encoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	return zap.New(zapcore.NewCore(
		zapcore.NewConsoleEncoder(encoderConfig),
		zapcore.Lock(os.Stderr),
		atomicLevel,
	)), nil
}
