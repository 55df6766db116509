// Package logging provides the structured logger used across every
// component of the memory store, built on logrus with an output splitter
// that routes error-level records to stderr and everything else to stdout.
package logging

import (
	"bytes"
	"os"
	"time"

	"github.com/sirupsen/logrus"
)

// OutputSplitter routes formatted log lines to stderr when they carry
// "level=error" (text format) or "level":"error" (JSON format) and to
// stdout otherwise, so container log collectors can treat the two streams
// differently.
type OutputSplitter struct{}

func (OutputSplitter) Write(p []byte) (int, error) {
	if bytes.Contains(p, []byte("level=error")) || bytes.Contains(p, []byte(`"level":"error"`)) {
		return os.Stderr.Write(p)
	}
	return os.Stdout.Write(p)
}

// Config controls logger construction.
type Config struct {
	Level   string // debug|info|warn|error
	Format  string // "json" or "text"
	Service string
}

// New builds a logrus.Logger configured per cfg, with the output splitter
// installed and a base "service" field attached.
func New(cfg Config) *logrus.Logger {
	logger := logrus.New()

	level, err := logrus.ParseLevel(cfg.Level)
	if err != nil {
		level = logrus.InfoLevel
	}
	logger.SetLevel(level)

	if cfg.Format == "json" {
		logger.SetFormatter(&logrus.JSONFormatter{TimestampFormat: time.RFC3339})
	} else {
		logger.SetFormatter(&logrus.TextFormatter{TimestampFormat: time.RFC3339, FullTimestamp: true})
	}

	logger.SetOutput(OutputSplitter{})
	return logger
}

// Entry is a logrus entry pre-seeded with the service name; components
// derive further fields (userId, memoryId, component) from it with
// WithField/WithFields.
func Entry(logger *logrus.Logger, service string) *logrus.Entry {
	return logger.WithField("service", service)
}
