package jobs_test

import (
	"context"
	"testing"
	"time"

	"github.com/alecthomas/assert/v2"

	"github.com/block/gitbridge/internal/jobs"
	"github.com/block/gitbridge/internal/logging"
)

func TestMarshalEventVariants(t *testing.T) {
	percent := 42.0
	tests := []struct {
		name  string
		event jobs.Event
		want  string
	}{
		{
			name:  "Log",
			event: jobs.LogEvent{Stream: jobs.StreamStdout, Line: "hello"},
			want:  `{"type":"log","stream":"stdout","line":"hello"}`,
		},
		{
			name:  "Progress",
			event: jobs.ProgressEvent{Kind: "git", Percent: &percent, Detail: "Receiving objects"},
			want:  `{"type":"progress","kind":"git","percent":42,"detail":"Receiving objects"}`,
		},
		{
			name:  "ProgressWithoutPercent",
			event: jobs.ProgressEvent{Kind: "git"},
			want:  `{"type":"progress","kind":"git"}`,
		},
		{
			name:  "State",
			event: jobs.StateEvent{State: jobs.StateError, Message: "Timed out"},
			want:  `{"type":"state","state":"error","message":"Timed out"}`,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			data, err := jobs.MarshalEvent(tt.event)
			assert.NoError(t, err)
			assert.Equal(t, tt.want, string(data))
		})
	}
}

func TestProgressEventsReachSubscribers(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	_, ctx = logging.Configure(ctx, logging.Config{})
	manager := jobs.New(ctx, jobs.Config{Timeout: time.Minute})

	job := manager.Enqueue("git.clone", func(ctx context.Context, handle *jobs.Handle) error {
		percent := 10.0
		handle.Progress("git", &percent, "Receiving objects")
		return nil
	})

	replay, live, unsubscribe := job.Subscribe()
	defer unsubscribe()
	events := replay
	for event := range live {
		events = append(events, event)
	}

	var progress []jobs.ProgressEvent
	for _, event := range events {
		if p, ok := event.(jobs.ProgressEvent); ok {
			progress = append(progress, p)
		}
	}
	assert.Equal(t, 1, len(progress))
	assert.Equal(t, "git", progress[0].Kind)
	assert.Equal(t, 10.0, *progress[0].Percent)
	assert.Equal(t, "Receiving objects", progress[0].Detail)
}
