package middleware

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"runtime/debug"
)

// Recovery turns a panic in a downstream handler into a 500 response. The
// panic value and stack are logged; the client only sees a generic error body.
func Recovery(l *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				if rec := recover(); rec != nil {
					l.ErrorContext(r.Context(), "handler panicked",
						slog.String("method", r.Method),
						slog.String("path", r.URL.Path),
						slog.Any("panic", rec),
						slog.String("stack", string(debug.Stack())),
					)
					writePanicResponse(w, l)
				}
			}()

			next.ServeHTTP(w, r)
		})
	}
}

func writePanicResponse(w http.ResponseWriter, l *slog.Logger) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusInternalServerError)

	body := map[string]string{
		"code":    "INTERNAL_ERROR",
		"message": "an internal error occurred",
	}
	if err := json.NewEncoder(w).Encode(body); err != nil {
		l.Error("failed to encode panic response", slog.String("error", err.Error()))
	}
}
