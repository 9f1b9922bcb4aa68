// Package logging builds the process-wide logrus logger that is handed to
// every component as a logrus.FieldLogger.
package logging

import (
	"fmt"
	"io"
	"os"

	"github.com/sirupsen/logrus"
)

// Format selects the log line encoding.
type Format string

const (
	FormatText Format = "text"
	FormatJSON Format = "json"
)

// New creates a logger writing to stderr at the given level.
// stdout is left to command results.
func New(level string, format Format) (*logrus.Logger, error) {
	return NewWithWriter(os.Stderr, level, format)
}

// NewWithWriter is New with an explicit destination.
func NewWithWriter(w io.Writer, level string, format Format) (*logrus.Logger, error) {
	lvl, err := logrus.ParseLevel(level)
	if err != nil {
		return nil, fmt.Errorf("invalid log level %q: %w", level, err)
	}

	logger := logrus.New()
	logger.Out = w
	logger.Level = lvl

	switch format {
	case FormatText, "":
		logger.Formatter = &logrus.TextFormatter{FullTimestamp: true}
	case FormatJSON:
		logger.Formatter = &logrus.JSONFormatter{}
	default:
		return nil, fmt.Errorf("unsupported log format: %s (supported: text, json)", format)
	}

	return logger, nil
}

// Discard returns a logger that drops everything. Components fall back to it
// when constructed without a sink.
func Discard() *logrus.Logger {
	logger := logrus.New()
	logger.Out = io.Discard
	return logger
}

// OrDiscard returns log, or a discarding logger when log is nil.
func OrDiscard(log logrus.FieldLogger) logrus.FieldLogger {
	if log == nil {
		return Discard()
	}
	return log
}
