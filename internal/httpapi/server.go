// Package httpapi is the daemon's HTTP surface: admission filtering,
// bearer auth, the /v1 routes and the SSE job stream.
package httpapi

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/alecthomas/errors"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.opentelemetry.io/otel"

	"github.com/block/gitbridge/internal/approval"
	"github.com/block/gitbridge/internal/config"
	"github.com/block/gitbridge/internal/jobs"
	"github.com/block/gitbridge/internal/jobstore"
	"github.com/block/gitbridge/internal/logging"
	"github.com/block/gitbridge/internal/metrics"
	"github.com/block/gitbridge/internal/pairing"
	"github.com/block/gitbridge/internal/ratelimit"
	"github.com/block/gitbridge/internal/token"
)

type Server struct {
	conf    *config.Store
	tokens  *token.Store
	pairing *pairing.Manager
	policy  *approval.Policy
	jobs    *jobs.Manager
	history *jobstore.Store
	ops     *metrics.Operations

	version     string
	startedAt   time.Time
	globalLimit *ratelimit.PerPeer
	pairLimit   *ratelimit.PerPeer
}

// Options carries the optional collaborators; nil fields disable the
// corresponding feature rather than failing.
type Options struct {
	Version string
	History *jobstore.Store
	Ops     *metrics.Operations
}

func New(conf *config.Store, tokens *token.Store, pairs *pairing.Manager, policy *approval.Policy, manager *jobs.Manager, opts Options) *Server {
	if opts.Version == "" {
		opts.Version = "dev"
	}
	return &Server{
		conf:        conf,
		tokens:      tokens,
		pairing:     pairs,
		policy:      policy,
		jobs:        manager,
		history:     opts.History,
		ops:         opts.Ops,
		version:     opts.Version,
		startedAt:   time.Now(),
		globalLimit: newGlobalLimiter(),
		pairLimit:   newPairLimiter(),
	}
}

func (s *Server) routes() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /v1/meta", s.handle(s.meta))
	mux.HandleFunc("POST /v1/pair", s.handle(s.pair))
	mux.HandleFunc("GET /v1/jobs/{id}", s.authed(s.jobGet))
	mux.HandleFunc("GET /v1/jobs/{id}/stream", s.authed(s.jobStream))
	mux.HandleFunc("POST /v1/jobs/{id}/cancel", s.authed(s.jobCancel))
	mux.HandleFunc("POST /v1/git/clone", s.authed(s.gitClone))
	mux.HandleFunc("POST /v1/git/fetch", s.authed(s.gitFetch))
	mux.HandleFunc("GET /v1/git/status", s.authed(s.gitStatus))
	mux.HandleFunc("POST /v1/os/open", s.authed(s.osOpen))
	mux.HandleFunc("POST /v1/deps/install", s.authed(s.depsInstall))
	mux.HandleFunc("GET /v1/diagnostics", s.authed(s.diagnostics))
	return mux
}

// Handler assembles the middleware chain around the routes. ctx supplies
// the logger every request context inherits.
func (s *Server) Handler(ctx context.Context) http.Handler {
	logger := logging.FromContext(ctx)

	var handler http.Handler = s.admit(s.routes())
	handler = otelhttp.NewMiddleware("gitbridge",
		otelhttp.WithMeterProvider(otel.GetMeterProvider()),
		otelhttp.WithTracerProvider(otel.GetTracerProvider()),
	)(handler)
	handler = requestLogMiddleware(handler)

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// ConnContext may already have attached a per-connection logger.
		ctx := r.Context()
		if !logging.InContext(ctx) {
			ctx = logging.ContextWithLogger(ctx, logger)
		}
		handler.ServeHTTP(w, r.WithContext(ctx))
	})
}

// decode parses a JSON request body, translating the body-size cap into
// the request_too_large code.
func decode[T any](r *http.Request, into *T) error {
	err := json.NewDecoder(r.Body).Decode(into)
	if err == nil {
		return nil
	}
	var maxErr *http.MaxBytesError
	if errors.As(err, &maxErr) {
		return errors.WithStack(Errorf(http.StatusRequestEntityTooLarge, "request_too_large", "request body exceeds %d bytes", maxBodyBytes))
	}
	return errors.WithStack(Errorf(http.StatusBadRequest, "internal_error", "malformed request body"))
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

func (r *statusRecorder) Flush() {
	if flusher, ok := r.ResponseWriter.(http.Flusher); ok {
		flusher.Flush()
	}
}

func (r *statusRecorder) Unwrap() http.ResponseWriter { return r.ResponseWriter }

func requestLogMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		recorder := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(recorder, r)
		logging.FromContext(r.Context()).InfoContext(r.Context(), "Request",
			slog.String("method", r.Method),
			slog.String("path", r.URL.Path),
			slog.Int("status", recorder.status),
			slog.Duration("duration", time.Since(start)),
		)
	})
}
