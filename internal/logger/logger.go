package logger

import (
	"fmt"
	"io"
	"log"
	"os"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

var (
	Logger      *zap.SugaredLogger
	AtomicLevel = zap.NewAtomicLevelAt(zap.InfoLevel)
)

func init() {
	level, ok := os.LookupEnv("LOG_LEVEL")
	if !ok {
		level = "INFO"
	}
	if err := SetLevel(level); err != nil {
		log.Printf("failed to parse log level, fallback to INFO: %v", err)
	}
	logger, err := build(encoderConfig(), []string{"stderr"})
	if err != nil {
		panic(fmt.Errorf("failed to initialize logger: %w", err))
	}
	Logger = logger.Sugar()
}

// SetLevel changes the level of Logger and of every logger made by New.
func SetLevel(level string) error {
	parsed, err := zap.ParseAtomicLevel(level)
	if err != nil {
		return err
	}
	AtomicLevel.SetLevel(parsed.Level())
	return nil
}

// New builds a logger with the same encoding as Logger that writes into w;
// tests use it to capture output.
func New(w io.Writer) *zap.SugaredLogger {
	core := zapcore.NewCore(zapcore.NewConsoleEncoder(encoderConfig()), zapcore.AddSync(w), AtomicLevel)
	return zap.New(core).Sugar()
}

func encoderConfig() zapcore.EncoderConfig {
	return zapcore.EncoderConfig{
		MessageKey:     "M",
		LevelKey:       "L",
		TimeKey:        "T",
		NameKey:        "N",
		CallerKey:      zapcore.OmitKey,
		FunctionKey:    zapcore.OmitKey,
		LineEnding:     zapcore.DefaultLineEnding,
		EncodeLevel:    zapcore.CapitalLevelEncoder,
		EncodeTime:     zapcore.ISO8601TimeEncoder,
		EncodeDuration: zapcore.StringDurationEncoder,
		EncodeCaller:   zapcore.ShortCallerEncoder,
	}
}

func build(encoder zapcore.EncoderConfig, outputs []string) (*zap.Logger, error) {
	config := zap.Config{
		Level:       AtomicLevel,
		Development: false,
		Sampling: &zap.SamplingConfig{
			Initial:    100,
			Thereafter: 100,
		},
		Encoding:         "console",
		EncoderConfig:    encoder,
		OutputPaths:      outputs,
		ErrorOutputPaths: []string{"stderr"},
	}
	return config.Build()
}
