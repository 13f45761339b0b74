package logging

import (
	"errors"
	"io"
	"log/slog"
	"os"
)

// Name is the name of the application that the logger is for.
type Name string

// Config is the configuration for a logger.
type Config struct {
	// name is the name of the application.
	name string

	// w is the writer that the logger writes to.
	w io.Writer

	// level is the minimum level that the logger will log at.
	level slog.Leveler
}

// NewConfig creates a new logging configuration with the default options.
func NewConfig(name Name) *Config {
	return &Config{
		name:  string(name),
		w:     os.Stdout,
		level: slog.LevelDebug,
	}
}

// CommonLogger creates the common logger for the application. The logger
// writes JSON to stdout and appends the application name to every record.
func CommonLogger(c *Config) (*slog.Logger, error) {
	if c == nil {
		return nil, errors.New("no logging config provided")
	} else if c.name == "" {
		return nil, errors.New("no application name provided")
	}

	h := slog.NewJSONHandler(c.w, &slog.HandlerOptions{
		Level: c.level,
	})

	l := slog.New(h).With(slog.String(KeyAppName, c.name))

	// Set the default logger so that packages without an injected logger
	// still end up in the same stream.
	slog.SetDefault(l)

	return l, nil
}
