// Package logger builds the process slog logger: colored console output in
// development, JSON otherwise, optionally mirrored to a rotated log file.
package logger

import (
	"io"
	"log/slog"
	"os"
	"time"

	"github.com/lmittmann/tint"
	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/ekisa-team/beamline/internal/env"
)

type options struct {
	level     slog.Level
	logToFile bool
	logFile   string
	output    io.Writer
}

// Option configures the logger.
type Option func(*options)

// WithLogToFile enables writing logs to a rotated file in addition to stderr.
func WithLogToFile(enabled bool) Option {
	return func(o *options) {
		o.logToFile = enabled
	}
}

// WithLogFile sets the file logs are rotated into.
func WithLogFile(path string) Option {
	return func(o *options) {
		o.logFile = path
	}
}

// WithLevel sets the minimum level.
func WithLevel(level slog.Level) Option {
	return func(o *options) {
		o.level = level
	}
}

// WithOutput replaces stderr as the console destination.
func WithOutput(w io.Writer) Option {
	return func(o *options) {
		o.output = w
	}
}

// New builds a logger for the given environment. Development gets a colored
// tint handler, everything else JSON.
func New(environment env.Environment, opts ...Option) *slog.Logger {
	o := &options{
		level:   slog.LevelInfo,
		logFile: "logs/beamline.log",
		output:  os.Stderr,
	}
	if environment.IsDevelopment() {
		o.level = slog.LevelDebug
	}
	for _, opt := range opts {
		opt(o)
	}

	w := o.output
	if o.logToFile {
		w = io.MultiWriter(o.output, &lumberjack.Logger{
			Filename:   o.logFile,
			MaxSize:    20, // megabytes
			MaxBackups: 5,
			MaxAge:     28, // days
			Compress:   true,
		})
	}

	if environment.IsDevelopment() {
		return slog.New(tint.NewHandler(w, &tint.Options{
			Level:      o.level,
			TimeFormat: time.Kitchen,
			NoColor:    o.logToFile,
		}))
	}

	return slog.New(slog.NewJSONHandler(w, &slog.HandlerOptions{Level: o.level}))
}
