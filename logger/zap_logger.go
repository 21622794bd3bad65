package logger

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/pkg/errors"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/saiset-co/vinyl-tracker/types"
)

// NewLogger builds the process logger from config. Missing fields fall back
// to console output on stdout at info level.
func NewLogger(config *types.LoggerConfig) (types.Logger, error) {
	effective := types.LoggerConfig{
		Level:  "info",
		Format: "console",
		Output: "stdout",
	}

	if config != nil {
		if config.Level != "" {
			effective.Level = config.Level
		}
		if config.Format != "" {
			effective.Format = config.Format
		}
		if config.Output != "" {
			effective.Output = config.Output
		}
		effective.File = config.File
	}

	zl, err := buildZapLogger(&effective)
	if err != nil {
		return nil, types.WrapError(err, "failed to create logger")
	}

	l := Wrap(zl)

	l.Info("Logger initialized",
		zap.String("level", effective.Level),
		zap.String("format", effective.Format),
		zap.String("output", effective.Output),
	)

	return l, nil
}

// NewNop discards everything.
func NewNop() types.Logger {
	return Wrap(zap.NewNop())
}

func buildZapLogger(config *types.LoggerConfig) (*zap.Logger, error) {
	var zapConfig zap.Config
	if config.Format == "json" {
		zapConfig = zap.NewProductionConfig()
		zapConfig.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	} else {
		zapConfig = zap.NewDevelopmentConfig()
		zapConfig.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
		zapConfig.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
		zapConfig.EncoderConfig.EncodeCaller = shortCallerEncoder
	}

	zapConfig.DisableStacktrace = true
	zapConfig.Level = zap.NewAtomicLevelAt(parseLogLevel(config.Level))

	switch config.Output {
	case "stderr":
		zapConfig.OutputPaths = []string{"stderr"}
		zapConfig.ErrorOutputPaths = []string{"stderr"}
	case "file":
		if err := ensureLogDir(config.File); err != nil {
			return nil, err
		}
		zapConfig.OutputPaths = []string{config.File}
		zapConfig.ErrorOutputPaths = []string{config.File}
	default:
		zapConfig.OutputPaths = []string{"stdout"}
		zapConfig.ErrorOutputPaths = []string{"stderr"}
	}

	return zapConfig.Build(zap.AddCaller())
}

func shortCallerEncoder(caller zapcore.EntryCaller, enc zapcore.PrimitiveArrayEncoder) {
	enc.AppendString(fmt.Sprintf("%s:%d", filepath.Base(caller.File), caller.Line))
}

func parseLogLevel(level string) zapcore.Level {
	switch strings.ToLower(level) {
	case "debug":
		return zapcore.DebugLevel
	case "warn", "warning":
		return zapcore.WarnLevel
	case "error":
		return zapcore.ErrorLevel
	case "fatal":
		return zapcore.FatalLevel
	default:
		return zapcore.InfoLevel
	}
}

func ensureLogDir(logFile string) error {
	if logFile == "" {
		return types.ErrLogFileIsEmpty
	}

	dir := filepath.Dir(logFile)
	if dir == "." && !strings.ContainsRune(logFile, os.PathSeparator) {
		return types.ErrLogFileWrongFormat
	}

	if err := os.MkdirAll(dir, 0755); err != nil {
		return types.WrapError(err, "access denied to log directory")
	}

	return nil
}

// ZapWrapper adapts *zap.Logger to types.Logger, skipping its own frame so
// callers are reported correctly.
type ZapWrapper struct {
	logger *zap.Logger
}

func Wrap(logger *zap.Logger) *ZapWrapper {
	return &ZapWrapper{logger: logger.WithOptions(zap.AddCallerSkip(1))}
}

func (z *ZapWrapper) Error(msg string, fields ...zap.Field) {
	z.logger.Error(msg, fields...)
}

func (z *ZapWrapper) Warn(msg string, fields ...zap.Field) {
	z.logger.Warn(msg, fields...)
}

func (z *ZapWrapper) Info(msg string, fields ...zap.Field) {
	z.logger.Info(msg, fields...)
}

func (z *ZapWrapper) Debug(msg string, fields ...zap.Field) {
	z.logger.Debug(msg, fields...)
}

func (z *ZapWrapper) Log(lvl zapcore.Level, msg string, fields ...zap.Field) {
	z.logger.Log(lvl, msg, fields...)
}

// ErrorWithErrStack logs the root cause of err and, when err was created with
// pkg/errors, its stack trace as a separate field.
func (z *ZapWrapper) ErrorWithErrStack(msg string, err error, fields ...zap.Field) {
	if err == nil {
		z.logger.Error(msg, fields...)
		return
	}

	all := make([]zap.Field, 0, len(fields)+2)
	all = append(all, zap.String("error", errors.Cause(err).Error()))
	if stack := extractStack(err); stack != "" {
		all = append(all, zap.String("stack", stack))
	}
	all = append(all, fields...)

	z.logger.Error(msg, all...)
}

// Sync flushes buffered entries.
func (z *ZapWrapper) Sync() error {
	return z.logger.Sync()
}

type stackTracer interface {
	StackTrace() errors.StackTrace
}

func extractStack(err error) string {
	if st, ok := errors.Cause(err).(stackTracer); ok {
		return strings.TrimSpace(fmt.Sprintf("%+v", st.StackTrace()))
	}
	if st, ok := err.(stackTracer); ok {
		return strings.TrimSpace(fmt.Sprintf("%+v", st.StackTrace()))
	}
	return ""
}
