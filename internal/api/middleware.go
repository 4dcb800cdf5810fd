package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"studiobook/internal/auth"
	"studiobook/internal/metrics"
	"studiobook/internal/models"
)

var errPanic = errors.New("panic in handler")

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

func (r *statusRecorder) Write(b []byte) (int, error) {
	if r.status == 0 {
		r.status = http.StatusOK
	}
	return r.ResponseWriter.Write(b)
}

func (s *Server) timeoutMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.timeout <= 0 {
			next.ServeHTTP(w, r)
			return
		}
		ctx, cancel := context.WithTimeout(r.Context(), s.timeout)
		defer cancel()
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// accessLogMiddleware logs each request and counts it by route pattern.
func (s *Server) accessLogMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w}

		next.ServeHTTP(rec, r)

		if rec.status == 0 {
			rec.status = http.StatusOK
		}
		route := r.Pattern
		if route == "" {
			route = "unmatched"
		}
		metrics.IncHTTP(route, rec.status)

		ev := s.log.Debug()
		if rec.status >= http.StatusInternalServerError {
			ev = s.log.Warn()
		}
		ev.Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", rec.status).
			Dur("latency", time.Since(start)).
			Str("user_agent", r.Header.Get("User-Agent")).
			Msg("http request")
	})
}

func (s *Server) recoverMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if re := recover(); re != nil {
				err, ok := re.(error)
				if !ok {
					err = fmt.Errorf("%v: %w", re, errPanic)
				}
				s.log.Error().Err(err).Str("path", r.URL.Path).Msg("panic recovered")
				writeError(w, http.StatusInternalServerError, http.StatusText(http.StatusInternalServerError))
			}
		}()
		next.ServeHTTP(w, r)
	})
}

func bearerToken(r *http.Request) string {
	header := r.Header.Get("Authorization")
	if len(header) > 7 && strings.EqualFold(header[:7], "Bearer ") {
		return strings.TrimSpace(header[7:])
	}
	return ""
}

// authed rejects unauthenticated requests with 401 before h runs.
func (s *Server) authed(h func(http.ResponseWriter, *http.Request, models.Identity)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, err := s.gate.Authenticate(bearerToken(r))
		if err != nil {
			s.writeAppError(w, r, err)
			return
		}
		h(w, r, id)
	}
}

// admin additionally rejects non-operator identities with 403.
func (s *Server) admin(h func(http.ResponseWriter, *http.Request, models.Identity)) http.HandlerFunc {
	return s.authed(func(w http.ResponseWriter, r *http.Request, id models.Identity) {
		if err := auth.RequireAdmin(id); err != nil {
			s.writeAppError(w, r, err)
			return
		}
		h(w, r, id)
	})
}

func (s *Server) applyMiddlewares(h http.Handler, middlewares ...func(http.Handler) http.Handler) http.Handler {
	for _, middleware := range middlewares {
		h = middleware(h)
	}
	return h
}
