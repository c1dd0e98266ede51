package logger

import (
	"strings"

	"go.uber.org/zap"
)

// Level is the severity attached to job log entries.
type Level string

const (
	LevelDebug   Level = "debug"
	LevelInfo    Level = "info"
	LevelWarning Level = "warning"
	LevelError   Level = "error"
)

// ParseLevel maps free-form level names onto Level. Unknown names are info.
func ParseLevel(s string) Level {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug", "trace":
		return LevelDebug
	case "warn", "warning":
		return LevelWarning
	case "error", "err", "critical", "fatal":
		return LevelError
	default:
		return LevelInfo
	}
}

type emitFunc func(l *zap.SugaredLogger, msg string, kv ...interface{})

var emitters = map[Level]emitFunc{
	LevelDebug:   (*zap.SugaredLogger).Debugw,
	LevelInfo:    (*zap.SugaredLogger).Infow,
	LevelWarning: (*zap.SugaredLogger).Warnw,
	LevelError:   (*zap.SugaredLogger).Errorw,
}

// Emit writes msg to l at level. Levels outside the table go to info.
func Emit(l *zap.SugaredLogger, level Level, msg string, kv ...interface{}) {
	fn, ok := emitters[level]
	if !ok {
		fn = emitters[LevelInfo]
	}
	fn(OrNop(l), msg, kv...)
}
