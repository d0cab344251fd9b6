package middleware

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/segmentpipe/segmentpipe/internal/observability"
)

// statusWriter wraps http.ResponseWriter to capture the status code and
// response size for the access log line written after the handler returns.
type statusWriter struct {
	http.ResponseWriter
	status int
	size   int
	wrote  bool
}

func (sw *statusWriter) WriteHeader(code int) {
	if sw.wrote {
		return
	}
	sw.wrote = true
	sw.status = code
	sw.ResponseWriter.WriteHeader(code)
}

func (sw *statusWriter) Write(b []byte) (int, error) {
	if !sw.wrote {
		sw.WriteHeader(http.StatusOK)
	}
	n, err := sw.ResponseWriter.Write(b)
	sw.size += n
	return n, err
}

func (sw *statusWriter) Unwrap() http.ResponseWriter {
	return sw.ResponseWriter
}

func levelFor(status int) slog.Level {
	switch {
	case status >= 500:
		return slog.LevelError
	case status >= 400:
		return slog.LevelWarn
	default:
		return slog.LevelInfo
	}
}

// AccessLog logs one line per request: method, path, status, size, duration
// and the request id RequestID attached. Request logging is off unless
// observability.SetRequestLogging(true) has been called; while it is off,
// successful requests (status < 400) are skipped and only failures are
// logged.
func AccessLog(logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			sw := &statusWriter{ResponseWriter: w, status: http.StatusOK}

			next.ServeHTTP(sw, r)

			if !observability.IsRequestLoggingEnabled() && sw.status < 400 {
				return
			}

			logger.Log(r.Context(), levelFor(sw.status), "http request",
				slog.String("method", r.Method),
				slog.String("path", r.URL.Path),
				slog.Int("status", sw.status),
				slog.Int("size", sw.size),
				slog.Duration("duration", time.Since(start)),
				slog.String("remote_addr", r.RemoteAddr),
				slog.String("request_id", GetRequestID(r.Context())),
			)
		})
	}
}
