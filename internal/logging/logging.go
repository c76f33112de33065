// Package logging provides logging configuration and utility functions.
package logging

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/alecthomas/errors"
	"github.com/lmittmann/tint"
	"gopkg.in/natefinch/lumberjack.v2"
)

type Config struct {
	JSON  bool       `json:"json,omitempty"`
	Level slog.Level `json:"level,omitempty"`

	// Dir, if non-empty, enables a rotating logs/daemon.log under it in
	// addition to the terminal handler.
	Dir string `json:"-"`
}

const (
	logFileMaxSizeMB = 5
	logFileMaxCount  = 5
)

type logKey struct{}

// Configure builds the process logger and attaches it to the context.
//
// Interactive use gets a tinted terminal handler, JSON mode gets a JSON
// handler with attributes flattened into the message text. When a log
// directory is configured, records are additionally written to
// logs/daemon.log rotated at 5 files of 5MiB.
func Configure(ctx context.Context, config Config) (*slog.Logger, context.Context) {
	var handler slog.Handler
	if config.JSON {
		options := &slog.HandlerOptions{Level: config.Level}
		handler = &messageHandler{inner: slog.NewJSONHandler(os.Stdout, options)}
	} else {
		handler = tint.NewHandler(os.Stderr, &tint.Options{
			Level: config.Level,
			ReplaceAttr: func(groups []string, a slog.Attr) slog.Attr {
				if a.Key == slog.TimeKey && len(groups) == 0 {
					return slog.Attr{}
				}
				return a
			},
		})
	}
	if config.Dir != "" {
		rotated := &lumberjack.Logger{
			Filename:   filepath.Join(config.Dir, "logs", "daemon.log"),
			MaxSize:    logFileMaxSizeMB,
			MaxBackups: logFileMaxCount - 1,
		}
		fileHandler := slog.NewJSONHandler(rotated, &slog.HandlerOptions{Level: config.Level})
		handler = &fanoutHandler{handlers: []slog.Handler{handler, fileHandler}}
	}
	logger := slog.New(handler)
	return logger, context.WithValue(ctx, logKey{}, logger)
}

func FromContext(ctx context.Context) *slog.Logger {
	logger, ok := ctx.Value(logKey{}).(*slog.Logger)
	if !ok {
		panic("no logger in context")
	}
	return logger
}

// ContextWithLogger returns a new context with the given logger.
func ContextWithLogger(ctx context.Context, logger *slog.Logger) context.Context {
	return context.WithValue(ctx, logKey{}, logger)
}

// InContext reports whether ctx carries a logger.
func InContext(ctx context.Context) bool {
	_, ok := ctx.Value(logKey{}).(*slog.Logger)
	return ok
}

// fanoutHandler forwards each record to every underlying handler.
type fanoutHandler struct {
	handlers []slog.Handler
}

func (h *fanoutHandler) Enabled(ctx context.Context, level slog.Level) bool {
	for _, inner := range h.handlers {
		if inner.Enabled(ctx, level) {
			return true
		}
	}
	return false
}

func (h *fanoutHandler) Handle(ctx context.Context, r slog.Record) error {
	var err error
	for _, inner := range h.handlers {
		if inner.Enabled(ctx, r.Level) {
			err = errors.Join(err, inner.Handle(ctx, r.Clone()))
		}
	}
	return errors.Wrap(err, "fanout log record")
}

func (h *fanoutHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	handlers := make([]slog.Handler, len(h.handlers))
	for i, inner := range h.handlers {
		handlers[i] = inner.WithAttrs(attrs)
	}
	return &fanoutHandler{handlers: handlers}
}

func (h *fanoutHandler) WithGroup(name string) slog.Handler {
	handlers := make([]slog.Handler, len(h.handlers))
	for i, inner := range h.handlers {
		handlers[i] = inner.WithGroup(name)
	}
	return &fanoutHandler{handlers: handlers}
}
