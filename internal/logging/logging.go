// Package logging builds the zap logger shared by every gridvm component.
package logging

import (
	"fmt"
	"os"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Encodings.
const (
	EncodingConsole = "console"
	EncodingJSON    = "json"
)

// Options selects the level, encoding and sinks of a logger.
type Options struct {
	Level    string // debug, info, warn, error
	Encoding string // console or json

	// Out receives entries below error level, Err the rest.
	Out zapcore.WriteSyncer
	Err zapcore.WriteSyncer
}

// New returns a logger writing info-and-below to stdout and errors to
// stderr.
func New(level, encoding string) (*zap.Logger, error) {
	return Build(Options{
		Level:    level,
		Encoding: encoding,
		Out:      zapcore.Lock(os.Stdout),
		Err:      zapcore.Lock(os.Stderr),
	})
}

// Build returns a logger for opts.
func Build(opts Options) (*zap.Logger, error) {
	if opts.Level == "" {
		opts.Level = "info"
	}
	lvl, err := zap.ParseAtomicLevel(opts.Level)
	if err != nil {
		return nil, fmt.Errorf("invalid log level %q: %w", opts.Level, err)
	}

	encCfg := zap.NewProductionEncoderConfig()
	encCfg.EncodeTime = zapcore.ISO8601TimeEncoder

	var encoder zapcore.Encoder
	switch opts.Encoding {
	case EncodingConsole, "":
		encCfg.EncodeLevel = zapcore.CapitalLevelEncoder
		encoder = zapcore.NewConsoleEncoder(encCfg)
	case EncodingJSON:
		encoder = zapcore.NewJSONEncoder(encCfg)
	default:
		return nil, fmt.Errorf("invalid log encoding %q (valid: console, json)", opts.Encoding)
	}

	highPriority := zap.LevelEnablerFunc(func(l zapcore.Level) bool {
		return lvl.Enabled(l) && l >= zapcore.ErrorLevel
	})
	lowPriority := zap.LevelEnablerFunc(func(l zapcore.Level) bool {
		return lvl.Enabled(l) && l < zapcore.ErrorLevel
	})

	core := zapcore.NewTee(
		zapcore.NewCore(encoder, opts.Out, lowPriority),
		zapcore.NewCore(encoder, opts.Err, highPriority),
	)
	return zap.New(core), nil
}
