package httpapi

import (
	"net/http"
	"strings"

	"github.com/alecthomas/errors"
)

type handlerFunc func(w http.ResponseWriter, r *http.Request) error

// handle adapts an error-returning handler to http.HandlerFunc, funnelling
// every failure through writeError.
func (s *Server) handle(fn handlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := fn(w, r); err != nil {
			writeError(w, r, err)
		}
	}
}

// authed requires a valid bearer token for the request origin. A missing
// header and a bad token are distinct codes so the UI can tell "pair
// first" apart from "re-pair".
func (s *Server) authed(fn handlerFunc) http.HandlerFunc {
	return s.handle(func(w http.ResponseWriter, r *http.Request) error {
		header := r.Header.Get("Authorization")
		if header == "" {
			return errors.WithStack(errAuthRequired())
		}
		presented, ok := strings.CutPrefix(header, "Bearer ")
		if !ok || presented == "" {
			return errors.WithStack(errAuthInvalid())
		}
		if !s.tokens.Verify(Origin(r.Context()), presented) {
			return errors.WithStack(errAuthInvalid())
		}
		return fn(w, r)
	})
}
