package logging

import (
	"context"
	"log/slog"
	"strconv"
	"strings"

	"github.com/alecthomas/errors"
)

// messageHandler folds a record's attributes into the message text before
// delegating, so a JSON log line reads as one sentence:
// "Capability granted (origin=http://localhost:5173, capability=deps/install)".
type messageHandler struct {
	inner slog.Handler
}

var _ slog.Handler = (*messageHandler)(nil)

func (h *messageHandler) Enabled(ctx context.Context, level slog.Level) bool {
	return h.inner.Enabled(ctx, level)
}

func (h *messageHandler) Handle(ctx context.Context, r slog.Record) error {
	if suffix := attrSuffix(r); suffix != "" {
		r.Message += " (" + suffix + ")"
	}
	return errors.Wrap(h.inner.Handle(ctx, r), "handle log record")
}

func (h *messageHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return &messageHandler{inner: h.inner.WithAttrs(attrs)}
}

func (h *messageHandler) WithGroup(name string) slog.Handler {
	return &messageHandler{inner: h.inner.WithGroup(name)}
}

func attrSuffix(r slog.Record) string {
	if r.NumAttrs() == 0 {
		return ""
	}
	parts := make([]string, 0, r.NumAttrs())
	r.Attrs(func(a slog.Attr) bool {
		parts = append(parts, a.Key+"="+renderValue(a.Value))
		return true
	})
	return strings.Join(parts, ", ")
}

// renderValue quotes any string that would be ambiguous inside the
// parenthesised, comma-separated suffix.
func renderValue(v slog.Value) string {
	v = v.Resolve()
	if v.Kind() != slog.KindString {
		return v.String()
	}
	s := v.String()
	if s == "" {
		return `""`
	}
	for _, r := range s {
		if r <= ' ' || strings.ContainsRune(`"=,()`, r) {
			return strconv.Quote(s)
		}
	}
	return s
}
