// Package logging configures the process-wide logrus logger.
package logging

import (
	"fmt"
	"io"
	"time"

	"github.com/sirupsen/logrus"

	"pixelgrid/internal/config"
)

// Configure applies level and format to the standard logger and directs
// it to out.
func Configure(cfg *config.LogConfig, out io.Writer) error {
	return configure(logrus.StandardLogger(), cfg, out)
}

func configure(logger *logrus.Logger, cfg *config.LogConfig, out io.Writer) error {
	level, err := logrus.ParseLevel(cfg.Level)
	if err != nil {
		return fmt.Errorf("failed to parse log level: %w", err)
	}

	switch cfg.Format {
	case "json":
		logger.SetFormatter(&logrus.JSONFormatter{TimestampFormat: time.RFC3339Nano})
	case "text", "":
		logger.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	default:
		return fmt.Errorf("unknown log format %q", cfg.Format)
	}

	logger.SetLevel(level)
	logger.SetOutput(out)
	return nil
}
