package middleware

import (
	"log/slog"
	"net/http"
	"time"
)

type statusRecorder struct {
	http.ResponseWriter
	status int
	bytes  int
}

func (s *statusRecorder) WriteHeader(status int) {
	if s.status == 0 {
		s.status = status
	}
	s.ResponseWriter.WriteHeader(status)
}

func (s *statusRecorder) Write(p []byte) (int, error) {
	if s.status == 0 {
		s.status = http.StatusOK
	}
	n, err := s.ResponseWriter.Write(p)
	s.bytes += n
	return n, err
}

// Unwrap keeps http.ResponseController able to flush the underlying writer.
func (s *statusRecorder) Unwrap() http.ResponseWriter {
	return s.ResponseWriter
}

func RequestLogger(logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(
			func(w http.ResponseWriter, r *http.Request) {
				started := time.Now()
				rec := &statusRecorder{ResponseWriter: w}
				defer func() {
					logger.Info(
						"request handled",
						"method", r.Method,
						"path", r.URL.Path,
						"status", rec.status,
						"bytes", rec.bytes,
						"duration", time.Since(started),
					)
				}()
				next.ServeHTTP(rec, r)
			},
		)
	}
}
