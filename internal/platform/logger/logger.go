package logger

import (
	"os"
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

var base *zap.Logger

func init() {
	base = build("info", "json")
}

// Init replaces the process logger. Safe to call once from main before serving traffic.
func Init(level, format string) {
	base = build(level, format)
}

func build(level, format string) *zap.Logger {
	lvl := zapcore.InfoLevel
	if err := lvl.UnmarshalText([]byte(strings.ToLower(level))); err != nil {
		lvl = zapcore.InfoLevel
	}

	encCfg := zap.NewProductionEncoderConfig()
	encCfg.TimeKey = "ts"
	encCfg.EncodeTime = zapcore.ISO8601TimeEncoder

	var enc zapcore.Encoder
	if format == "console" {
		encCfg.EncodeLevel = zapcore.CapitalColorLevelEncoder
		enc = zapcore.NewConsoleEncoder(encCfg)
	} else {
		enc = zapcore.NewJSONEncoder(encCfg)
	}

	core := zapcore.NewCore(enc, zapcore.Lock(os.Stdout), lvl)
	return zap.New(core, zap.AddCaller(), zap.AddCallerSkip(1))
}

// L exposes the underlying zap logger for middleware that wants it directly.
func L() *zap.Logger {
	return base
}

func Debug(msg string, fields ...zap.Field) {
	base.Debug(msg, fields...)
}

func Info(msg string, fields ...zap.Field) {
	base.Info(msg, fields...)
}

func Warn(msg string, fields ...zap.Field) {
	base.Warn(msg, fields...)
}

func Error(msg string, err error, fields ...zap.Field) {
	if err != nil {
		fields = append(fields, zap.Error(err))
	}
	base.Error(msg, fields...)
}

func Sync() {
	_ = base.Sync()
}
