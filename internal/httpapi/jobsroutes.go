package httpapi

import (
	"fmt"
	"net/http"
	"time"

	"github.com/alecthomas/errors"

	"github.com/block/gitbridge/internal/jobs"
)

func (s *Server) jobGet(w http.ResponseWriter, r *http.Request) error {
	job, ok := s.jobs.Get(r.PathValue("id"))
	if !ok {
		return errors.WithStack(jobs.ErrJobNotFound)
	}
	return writeJSON(w, http.StatusOK, job.Snapshot())
}

func (s *Server) jobCancel(w http.ResponseWriter, r *http.Request) error {
	if err := s.jobs.Cancel(r.PathValue("id")); err != nil {
		return errors.WithStack(err)
	}
	return writeJSON(w, http.StatusAccepted, okResponse{OK: true})
}

// jobStream replays a job's event ring and follows it live as SSE data
// frames. The stream ends after the terminal state event or when the
// client disconnects; a disconnect never cancels the job.
func (s *Server) jobStream(w http.ResponseWriter, r *http.Request) error {
	job, ok := s.jobs.Get(r.PathValue("id"))
	if !ok {
		return errors.WithStack(jobs.ErrJobNotFound)
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		return errors.New("streaming unsupported by connection")
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.WriteHeader(http.StatusOK)

	// SSE connections outlive any server write timeout.
	_ = http.NewResponseController(w).SetWriteDeadline(time.Time{}) //nolint:errcheck

	replay, live, unsubscribe := job.Subscribe()
	defer unsubscribe()

	for _, event := range replay {
		if err := writeFrame(w, event); err != nil {
			return errors.WithStack(err)
		}
	}
	flusher.Flush()
	for _, event := range replay {
		if terminal(event) {
			return nil
		}
	}

	for {
		select {
		case <-r.Context().Done():
			return nil
		case event, ok := <-live:
			if !ok {
				return nil
			}
			if err := writeFrame(w, event); err != nil {
				return errors.WithStack(err)
			}
			flusher.Flush()
			if terminal(event) {
				return nil
			}
		}
	}
}

func writeFrame(w http.ResponseWriter, event jobs.Event) error {
	data, err := jobs.MarshalEvent(event)
	if err != nil {
		return errors.WithStack(err)
	}
	_, err = fmt.Fprintf(w, "data: %s\n\n", data)
	return errors.Wrap(err, "write frame")
}

func terminal(event jobs.Event) bool {
	state, ok := event.(jobs.StateEvent)
	return ok && state.State.Terminal()
}
