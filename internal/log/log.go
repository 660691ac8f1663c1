// Package log holds the process-wide structured logger.
package log

import (
	"os"
	"strings"
	"sync/atomic"

	"github.com/cockroachdb/errors"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"
)

var _globalL atomic.Pointer[zap.Logger]

func init() {
	l, _, err := New(DefaultConfig())
	if err != nil {
		l = zap.NewNop()
	}
	_globalL.Store(l)
}

// New builds a logger from cfg. The returned AtomicLevel can change the
// level at runtime.
func New(cfg Config) (*zap.Logger, zap.AtomicLevel, error) {
	level := zap.NewAtomicLevel()
	if cfg.Level != "" {
		if err := level.UnmarshalText([]byte(strings.ToLower(cfg.Level))); err != nil {
			return nil, level, errors.Wrapf(err, "invalid log level %q", cfg.Level)
		}
	}

	var outputs []zapcore.WriteSyncer
	if cfg.File.Filename != "" {
		outputs = append(outputs, zapcore.AddSync(&lumberjack.Logger{
			Filename:   cfg.File.Filename,
			MaxSize:    cfg.File.MaxSize,
			MaxAge:     cfg.File.MaxDays,
			MaxBackups: cfg.File.MaxBackups,
			LocalTime:  true,
		}))
	}
	if cfg.Stdout || len(outputs) == 0 {
		outputs = append(outputs, zapcore.Lock(os.Stdout))
	}

	encCfg := zap.NewProductionEncoderConfig()
	encCfg.TimeKey = "time"
	encCfg.EncodeTime = zapcore.ISO8601TimeEncoder
	var enc zapcore.Encoder
	switch strings.ToLower(cfg.Format) {
	case "json":
		enc = zapcore.NewJSONEncoder(encCfg)
	case "", "console", "text":
		encCfg.EncodeLevel = zapcore.CapitalLevelEncoder
		enc = zapcore.NewConsoleEncoder(encCfg)
	default:
		return nil, level, errors.Newf("unknown log format %q", cfg.Format)
	}

	core := zapcore.NewCore(enc, zap.CombineWriteSyncers(outputs...), level)
	return zap.New(core, zap.AddCaller(), zap.AddStacktrace(zapcore.ErrorLevel)), level, nil
}

// Init builds a logger from cfg and installs it as the global logger.
func Init(cfg Config) error {
	l, _, err := New(cfg)
	if err != nil {
		return err
	}
	ReplaceGlobals(l)
	return nil
}

// ReplaceGlobals installs l as the global logger and returns a func that
// restores the previous one.
func ReplaceGlobals(l *zap.Logger) func() {
	prev := _globalL.Swap(l)
	return func() { _globalL.Store(prev) }
}

// L returns the global logger.
func L() *zap.Logger {
	return _globalL.Load()
}

// Sync flushes buffered log entries.
func Sync() error {
	return L().Sync()
}

func skip() *zap.Logger {
	return L().WithOptions(zap.AddCallerSkip(1))
}

func Debug(msg string, fields ...zap.Field) { skip().Debug(msg, fields...) }

func Info(msg string, fields ...zap.Field) { skip().Info(msg, fields...) }

func Warn(msg string, fields ...zap.Field) { skip().Warn(msg, fields...) }

func Error(msg string, fields ...zap.Field) { skip().Error(msg, fields...) }

func Fatal(msg string, fields ...zap.Field) { skip().Fatal(msg, fields...) }

// With returns a child of the global logger carrying fields.
func With(fields ...zap.Field) *zap.Logger {
	return L().With(fields...)
}
