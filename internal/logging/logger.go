// ABOUTME: Builds the process logger from the logging config section
// ABOUTME: Logs to the console and optionally to a rotated file via timberjack
package logging

import (
	"io"
	"strings"

	"github.com/DeRuina/timberjack"
	"github.com/sirupsen/logrus"

	"github.com/speechlink/speechlink-go/internal/config"
)

// New creates a logrus.Logger writing to console, plus cfg.File when set.
// The returned close func flushes and closes the rotated file, if any.
func New(cfg config.LoggingConfig, console io.Writer) (*logrus.Logger, func() error, error) {
	logger := logrus.New()

	level := logrus.InfoLevel
	if cfg.Level != "" {
		if lv, err := logrus.ParseLevel(strings.ToLower(cfg.Level)); err == nil {
			level = lv
		}
	}
	logger.SetLevel(level)

	output := console
	closeFn := func() error { return nil }
	if cfg.File != "" {
		fileLogger := &timberjack.Logger{
			Filename:   cfg.File,
			MaxSize:    cfg.MaxSize,
			MaxBackups: cfg.MaxBackups,
			MaxAge:     cfg.MaxAge,
		}
		output = io.MultiWriter(console, fileLogger)
		closeFn = fileLogger.Close
	}
	logger.SetOutput(output)

	switch cfg.Format {
	case "json":
		logger.SetFormatter(&logrus.JSONFormatter{})
	default:
		logger.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	}

	return logger, closeFn, nil
}

// Component returns an entry tagged with the component name
func Component(logger *logrus.Logger, name string) *logrus.Entry {
	return logger.WithField("component", name)
}
