package logging

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"golang.org/x/term"
)

type ZapLogger struct {
	logger *zap.Logger
}

var _ Logger = (*ZapLogger)(nil)

// NewZapLogger creates a new logger wrapped around zap.Logger.
// Development mode logs debug and above to stdout and a daily file;
// production mode logs info and above as JSON.
func NewZapLogger(config LoggerConfig) (Logger, error) {
	if config.ProcessName == "" {
		return nil, fmt.Errorf("process name is required")
	}
	if config.LogDir == "" {
		config.LogDir = BaseDataDir
	}

	// Create process-specific log directory
	logDir := filepath.Join(config.LogDir, LogsDir, string(config.ProcessName))
	if err := os.MkdirAll(logDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create log directory: %w", err)
	}
	logPath := filepath.Join(logDir, time.Now().UTC().Format(LogFileFormat))

	var zapConfig zap.Config
	if config.IsDevelopment {
		zapConfig = zap.NewDevelopmentConfig()
		if term.IsTerminal(int(os.Stdout.Fd())) {
			zapConfig.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
		}
	} else {
		zapConfig = zap.NewProductionConfig()
	}
	zapConfig.EncoderConfig.EncodeTime = zapcore.TimeEncoderOfLayout(TimeFormat)
	zapConfig.OutputPaths = []string{"stdout", logPath}
	zapConfig.ErrorOutputPaths = []string{"stderr"}

	return NewZapLoggerByConfig(zapConfig, zap.AddCallerSkip(1))
}

// NewZapLoggerByConfig creates a logger from a prepared zap.Config.
// Note if the logger needs to show the caller, pass `zap.AddCallerSkip(1)` as option.
func NewZapLoggerByConfig(config zap.Config, options ...zap.Option) (Logger, error) {
	logger, err := config.Build(options...)
	if err != nil {
		return nil, fmt.Errorf("failed to build zap logger: %w", err)
	}

	return &ZapLogger{
		logger: logger,
	}, nil
}

// NewNoOpLogger returns a logger that discards everything. Meant for tests.
func NewNoOpLogger() Logger {
	return &ZapLogger{logger: zap.NewNop()}
}

func (z *ZapLogger) Debug(msg string, tags ...any) {
	z.logger.Sugar().Debugw(msg, tags...)
}

func (z *ZapLogger) Info(msg string, tags ...any) {
	z.logger.Sugar().Infow(msg, tags...)
}

func (z *ZapLogger) Warn(msg string, tags ...any) {
	z.logger.Sugar().Warnw(msg, tags...)
}

func (z *ZapLogger) Error(msg string, tags ...any) {
	z.logger.Sugar().Errorw(msg, tags...)
}

func (z *ZapLogger) Fatal(msg string, tags ...any) {
	z.logger.Sugar().Fatalw(msg, tags...)
}

func (z *ZapLogger) Debugf(template string, args ...interface{}) {
	z.logger.Sugar().Debugf(template, args...)
}

func (z *ZapLogger) Infof(template string, args ...interface{}) {
	z.logger.Sugar().Infof(template, args...)
}

func (z *ZapLogger) Warnf(template string, args ...interface{}) {
	z.logger.Sugar().Warnf(template, args...)
}

func (z *ZapLogger) Errorf(template string, args ...interface{}) {
	z.logger.Sugar().Errorf(template, args...)
}

func (z *ZapLogger) Fatalf(template string, args ...interface{}) {
	z.logger.Sugar().Fatalf(template, args...)
}

func (z *ZapLogger) With(tags ...any) Logger {
	return &ZapLogger{
		logger: z.logger.Sugar().With(tags...).Desugar(),
	}
}

// Sync flushes buffered log entries. Ignore sync errors on shutdown
// as they are expected for stdout.
func (z *ZapLogger) Sync() error {
	return z.logger.Sync()
}
