package logging //nolint:testpackage

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"testing"

	"github.com/alecthomas/assert/v2"
)

func newJSONHandler(buf *bytes.Buffer) slog.Handler {
	return slog.NewJSONHandler(buf, &slog.HandlerOptions{
		Level: slog.LevelDebug,
		ReplaceAttr: func(_ []string, a slog.Attr) slog.Attr {
			if a.Key == slog.TimeKey {
				return slog.Attr{}
			}
			return a
		},
	})
}

func TestMessageHandler(t *testing.T) {
	tests := []struct {
		name    string
		msg     string
		args    []any
		wantMsg string
	}{
		{
			name:    "NoAttrs",
			msg:     "simple message",
			wantMsg: "simple message",
		},
		{
			name:    "SingleAttr",
			msg:     "failed",
			args:    []any{"err", "timeout"},
			wantMsg: "failed (err=timeout)",
		},
		{
			name:    "MultipleAttrs",
			msg:     "request handled",
			args:    []any{"request", "/v1/meta", "id", 42},
			wantMsg: "request handled (request=/v1/meta, id=42)",
		},
		{
			name:    "QuotedStringWithSpaces",
			msg:     "failed",
			args:    []any{"err", "connection refused, try again"},
			wantMsg: `failed (err="connection refused, try again")`,
		},
		{
			name:    "EmptyString",
			msg:     "failed",
			args:    []any{"reason", ""},
			wantMsg: `failed (reason="")`,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var buf bytes.Buffer
			logger := slog.New(&messageHandler{inner: newJSONHandler(&buf)})
			logger.Info(tt.msg, tt.args...)

			var entry map[string]any
			assert.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
			assert.Equal(t, tt.wantMsg, entry["msg"].(string))
		})
	}
}

func TestFanoutHandler(t *testing.T) {
	var a, b bytes.Buffer
	handler := &fanoutHandler{handlers: []slog.Handler{newJSONHandler(&a), newJSONHandler(&b)}}
	logger := slog.New(handler).With("origin", "http://localhost:5173")
	logger.InfoContext(context.Background(), "paired")

	for _, buf := range []*bytes.Buffer{&a, &b} {
		var entry map[string]any
		assert.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
		assert.Equal(t, "paired", entry["msg"].(string))
		assert.Equal(t, "http://localhost:5173", entry["origin"].(string))
	}
}
