package logging

import (
	"github.com/paul-bdio/zorro/pkg/utils"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// New builds the process logger from LOG_LEVEL, LOG_ENCODING and LOG_OUTPUT (default
// stdout). Every entry carries the service name.
func New(service string) (*zap.Logger, error) {
	return NewWithOutput(service, utils.Env("LOG_OUTPUT", "stdout"))
}

// NewWithOutput is New writing to output, a zap sink such as "stderr" or a file path.
func NewWithOutput(service, output string) (*zap.Logger, error) {
	level := utils.Env("LOG_LEVEL", "info")
	encoding := utils.Env("LOG_ENCODING", "json")
	cfg := zap.NewProductionConfig()
	cfg.Encoding = encoding
	switch level {
	case "debug":
		cfg.Level = zap.NewAtomicLevelAt(zap.DebugLevel)
		cfg.Development = true
	case "info":
		cfg.Level = zap.NewAtomicLevelAt(zap.InfoLevel)
	case "warn":
		cfg.Level = zap.NewAtomicLevelAt(zap.WarnLevel)
	case "error":
		cfg.Level = zap.NewAtomicLevelAt(zap.ErrorLevel)
	default:
		cfg.Level = zap.NewAtomicLevelAt(zap.InfoLevel)
	}

	cfg.OutputPaths = []string{output}
	cfg.ErrorOutputPaths = []string{"stderr"}
	cfg.EncoderConfig.TimeKey = "ts"
	cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	if service != "" {
		cfg.InitialFields = map[string]interface{}{"service": service}
	}
	l, err := cfg.Build()
	if err != nil {
		return nil, err
	}
	return l, nil
}
