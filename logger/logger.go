// Package logger builds the zap loggers handed to every netpulse component.
//
// There is no package-level logger. The daemon constructs one root logger at
// startup and passes named children to each service it wires.
package logger

import (
	"io"
	"os"
	"strings"

	"github.com/teranos/netpulse/errors"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Options controls logger construction
type Options struct {
	Level  string    // debug, info, warn, error
	JSON   bool      // production JSON encoder instead of console
	Output io.Writer // defaults to stdout
}

// Built is the root logger plus the level handle used for hot reloads.
type Built struct {
	Sugar *zap.SugaredLogger
	Level zap.AtomicLevel
}

// New constructs a root logger from opts.
func New(opts Options) (*Built, error) {
	level := zap.NewAtomicLevel()
	if err := SetLevel(level, opts.Level); err != nil {
		return nil, err
	}

	out := opts.Output
	if out == nil {
		out = os.Stdout
	}

	var encoder zapcore.Encoder
	if opts.JSON {
		encoder = zapcore.NewJSONEncoder(zap.NewProductionEncoderConfig())
	} else {
		cfg := zap.NewDevelopmentEncoderConfig()
		cfg.EncodeTime = zapcore.TimeEncoderOfLayout("15:04:05.000")
		cfg.EncodeLevel = zapcore.CapitalColorLevelEncoder
		encoder = zapcore.NewConsoleEncoder(cfg)
	}

	core := zapcore.NewCore(encoder, zapcore.AddSync(out), level)
	return &Built{
		Sugar: zap.New(core, zap.AddCaller()).Sugar(),
		Level: level,
	}, nil
}

// SetLevel parses name and applies it to level.
// An empty name means info.
func SetLevel(level zap.AtomicLevel, name string) error {
	if strings.TrimSpace(name) == "" {
		level.SetLevel(zap.InfoLevel)
		return nil
	}
	var l zapcore.Level
	if err := l.UnmarshalText([]byte(strings.ToLower(name))); err != nil {
		return errors.Wrapf(err, "invalid log level %q", name)
	}
	level.SetLevel(l)
	return nil
}

// Nop returns a logger that discards everything. Used as the fallback when a
// constructor receives a nil logger.
func Nop() *zap.SugaredLogger {
	return zap.NewNop().Sugar()
}

// OrNop returns l, or a no-op logger when l is nil.
func OrNop(l *zap.SugaredLogger) *zap.SugaredLogger {
	if l == nil {
		return Nop()
	}
	return l
}
