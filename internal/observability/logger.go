// Package observability provides the structured logger, the Prometheus
// metrics and the batch observer that feeds both.
package observability

import (
	"io"
	"os"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/rs/zerolog"
)

// Logger wraps zerolog for structured logging.
type Logger struct {
	logger zerolog.Logger
}

// LoggerOptions configures NewLogger.
type LoggerOptions struct {
	Service string
	Version string
	// Level is debug, info, warn or error. Empty means info.
	Level string
	// Console switches from JSON lines to human-readable output.
	Console bool
}

// NewLogger creates a structured logger writing to output (stderr when nil).
func NewLogger(opts LoggerOptions, output io.Writer) *Logger {
	if output == nil {
		output = os.Stderr
	}
	if opts.Console {
		output = zerolog.ConsoleWriter{Out: output, TimeFormat: time.Kitchen}
	}

	level, err := zerolog.ParseLevel(strings.ToLower(opts.Level))
	if err != nil || opts.Level == "" {
		level = zerolog.InfoLevel
	}

	logger := zerolog.New(output).Level(level).With().
		Timestamp().
		Str("service", opts.Service).
		Str("version", opts.Version).
		Logger()

	return &Logger{logger: logger}
}

// Nop returns a logger that discards everything.
func Nop() *Logger {
	return &Logger{logger: zerolog.Nop()}
}

// WithRequest adds request context to the logger.
func (l *Logger) WithRequest(method, path string) *Logger {
	return &Logger{
		logger: l.logger.With().Str("method", method).Str("path", path).Logger(),
	}
}

// Info logs an info message.
func (l *Logger) Info(msg string) {
	l.logger.Info().Msg(msg)
}

// Error logs an error message.
func (l *Logger) Error(err error, msg string) {
	l.logger.Error().Err(err).Msg(msg)
}

// ServerStarted logs the listener address and upload limit.
func (l *Logger) ServerStarted(addr string, maxUpload int64) {
	l.logger.Info().
		Str("addr", addr).
		Str("max_upload", humanize.Bytes(uint64(maxUpload))).
		Msg("server listening")
}

// ServerStopped logs a clean shutdown.
func (l *Logger) ServerStopped() {
	l.logger.Info().Msg("server stopped")
}

// ItemFixed logs a repaired batch item.
func (l *Logger) ItemFixed(name, kind string) {
	l.logger.Debug().
		Str("item", name).
		Str("item_kind", kind).
		Msg("item fixed")
}

// ItemFailed logs a batch item that could not be repaired.
func (l *Logger) ItemFailed(name, kind, errorKind string, err error) {
	l.logger.Warn().
		Str("item", name).
		Str("item_kind", kind).
		Str("error_kind", errorKind).
		Err(err).
		Msg("item failed")
}

// ItemSkipped logs an ignored batch item.
func (l *Logger) ItemSkipped(name string) {
	l.logger.Debug().
		Str("item", name).
		Msg("item skipped")
}

// BatchCompleted logs batch totals.
func (l *Logger) BatchCompleted(attempted, failed, skipped int, elapsed time.Duration) {
	l.logger.Info().
		Int("attempted", attempted).
		Int("failed", failed).
		Int("skipped", skipped).
		Float64("duration_seconds", elapsed.Seconds()).
		Msg("batch completed")
}

// VolumeSliced logs a volume converted to a series.
func (l *Logger) VolumeSliced(rows, cols, slices int, mode string, outputSize int64) {
	l.logger.Info().
		Int("rows", rows).
		Int("cols", cols).
		Int("slices", slices).
		Str("position_mode", mode).
		Str("output_size", humanize.Bytes(uint64(outputSize))).
		Msg("volume sliced")
}

// RequestFailed logs a request answered with an error. Use it on a logger
// from WithRequest.
func (l *Logger) RequestFailed(status int, errorKind string, err error) {
	event := l.logger.Warn()
	if status >= 500 {
		event = l.logger.Error()
	}
	event.
		Int("status", status).
		Str("error_kind", errorKind).
		Err(err).
		Msg("request failed")
}
