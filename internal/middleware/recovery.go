package middleware

import (
	"log/slog"
	"net/http"
	"runtime/debug"

	"github.com/iamvkosarev/llm-chat-relay/internal/httputil"
)

// Recovery turns a handler panic into a 500. http.ErrAbortHandler is passed
// through so the server can drop a half-written stream.
func Recovery(logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(
			func(w http.ResponseWriter, r *http.Request) {
				defer func() {
					err := recover()
					if err == nil {
						return
					}
					if err == http.ErrAbortHandler {
						panic(err)
					}
					logger.Error(
						"panic recovered",
						"error", err,
						"path", r.URL.Path,
						"method", r.Method,
						"stack", string(debug.Stack()),
					)
					httputil.RespondError(w, http.StatusInternalServerError, "internal server error")
				}()

				next.ServeHTTP(w, r)
			},
		)
	}
}
