// Package log provides a global logger with configurable logging level. Messages are written to
// stderr through a zap logger so that the engine and the libraries it assembles share one sink.

package log

import (
	"os"
	"strings"
	"sync"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

type Level int

const (
	LevelNone    Level = iota // Disables logging.
	LevelError                // Logs anamolies that are not expected to occur during normal use.
	LevelWarning              // Logs anamolies that are expected to occur occasionally during normal use.
	LevelInfo                 // Logs major events.
	LevelDebug                // Logs detailed IO
)

var globalLogLevel Level
var logMutex sync.Mutex

var (
	base  = newZap(zapcore.Lock(os.Stderr))
	sugar = base.Sugar()
)

func newZap(w zapcore.WriteSyncer) *zap.Logger {
	encoderConfig := zap.NewDevelopmentEncoderConfig()
	encoderConfig.EncodeTime = zapcore.RFC3339TimeEncoder
	encoderConfig.EncodeCaller = nil
	core := zapcore.NewCore(zapcore.NewConsoleEncoder(encoderConfig), w, zapcore.DebugLevel)
	return zap.New(core)
}

func SetLevel(level Level) {
	logMutex.Lock()
	defer logMutex.Unlock()
	globalLogLevel = level
}

// ParseLevel converts a level name ("none", "error", "warning", "info", "debug") into a Level.
func ParseLevel(name string) (Level, bool) {
	switch strings.ToLower(name) {
	case "none", "off":
		return LevelNone, true
	case "error":
		return LevelError, true
	case "warn", "warning":
		return LevelWarning, true
	case "info":
		return LevelInfo, true
	case "debug":
		return LevelDebug, true
	}
	return LevelNone, false
}

// SetOutput redirects log output to w. Intended for tests.
func SetOutput(w zapcore.WriteSyncer) {
	logMutex.Lock()
	defer logMutex.Unlock()
	base = newZap(w)
	sugar = base.Sugar()
}

// Zap returns the logger backing this package.
func Zap() *zap.Logger {
	logMutex.Lock()
	defer logMutex.Unlock()
	return base
}

func current() (Level, *zap.SugaredLogger) {
	logMutex.Lock()
	defer logMutex.Unlock()
	return globalLogLevel, sugar
}

func Debug(format string, a ...interface{}) {
	if level, l := current(); LevelDebug <= level {
		l.Debugf(format, a...)
	}
}

func Info(format string, a ...interface{}) {
	if level, l := current(); LevelInfo <= level {
		l.Infof(format, a...)
	}
}

func Warning(format string, a ...interface{}) {
	if level, l := current(); LevelWarning <= level {
		l.Warnf(format, a...)
	}
}

func Error(format string, a ...interface{}) {
	if level, l := current(); LevelError <= level {
		l.Errorf(format, a...)
	}
}
