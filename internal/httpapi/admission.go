package httpapi

import (
	"context"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/block/gitbridge/internal/ratelimit"
)

// Admission windows. The pairing route gets a much tighter budget because
// it is the only route reachable without a bearer token.
const (
	maxBodyBytes = 256 << 10

	globalRateEvents = 300
	globalRateWindow = 5 * time.Minute
	pairRateEvents   = 10
	pairRateWindow   = 10 * time.Minute

	preflightMaxAge = "600"
)

type contextKey int

const originKey contextKey = iota

// Origin returns the request's validated Origin header. Only set after the
// admission filters have accepted the request.
func Origin(ctx context.Context) string {
	origin, _ := ctx.Value(originKey).(string)
	return origin
}

func newGlobalLimiter() *ratelimit.PerPeer { return ratelimit.New(globalRateEvents, globalRateWindow) }
func newPairLimiter() *ratelimit.PerPeer   { return ratelimit.New(pairRateEvents, pairRateWindow) }

// admit applies the ordered admission filters. The first to reject wins,
// and rejections share one error surface so a probing page learns nothing
// about which filter fired beyond the status code.
func (s *Server) admit(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		peer := peerHost(r.RemoteAddr)
		if !peerIsLoopback(peer) {
			s.reject(w, r, errOriginNotAllowed("request did not arrive over loopback"))
			return
		}
		if !hostAllowed(r.Host) {
			s.reject(w, r, errOriginNotAllowed("unexpected Host header"))
			return
		}

		origin := r.Header.Get("Origin")
		if !s.conf.Get().OriginAllowed(origin) {
			s.reject(w, r, errOriginNotAllowed("origin is not in the allowlist"))
			return
		}

		// Echo the specific caller origin, never a wildcard.
		header := w.Header()
		header.Set("Access-Control-Allow-Origin", origin)
		header.Set("Vary", "Origin")
		header.Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		header.Set("Access-Control-Allow-Headers", "Authorization, Content-Type")
		header.Set("Access-Control-Max-Age", preflightMaxAge)

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}

		if !s.globalLimit.Allow(peer) {
			s.reject(w, r, errRateLimited())
			return
		}
		if strings.HasPrefix(r.URL.Path, "/v1/pair") && !s.pairLimit.Allow(peer) {
			s.reject(w, r, errRateLimited())
			return
		}

		r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
		s.ops.RecordAdmission(r.Context(), "allowed")
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), originKey, origin)))
	})
}

func (s *Server) reject(w http.ResponseWriter, r *http.Request, err Error) {
	s.ops.RecordAdmission(r.Context(), err.Code())
	writeError(w, r, err)
}

func peerHost(remoteAddr string) string {
	if host, _, err := net.SplitHostPort(remoteAddr); err == nil {
		return host
	}
	return remoteAddr
}

// peerIsLoopback accepts 127.0.0.0/8, ::1 and the IPv4-mapped loopback.
func peerIsLoopback(host string) bool {
	ip := net.ParseIP(host)
	return ip != nil && ip.IsLoopback()
}

// hostAllowed checks the hostname part of the Host header against the two
// names this daemon answers to.
func hostAllowed(hostHeader string) bool {
	host := hostHeader
	if h, _, err := net.SplitHostPort(hostHeader); err == nil {
		host = h
	}
	return host == "127.0.0.1" || host == "localhost"
}
