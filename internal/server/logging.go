package server

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/trickstertwo/xlog"
)

type logFieldsKey struct{}

// LoggingMiddleware logs one line per request with method, path, status and
// duration plus any fields handlers attached with AddLogField.
func LoggingMiddleware(logger *xlog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()

			fields := make(map[string]string)
			ctx := context.WithValue(r.Context(), logFieldsKey{}, fields)
			wrapped := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}

			next.ServeHTTP(wrapped, r.WithContext(ctx))

			lg := logger.With(
				xlog.Str("request_id", GetRequestID(r.Context())),
				xlog.Str("method", r.Method),
				xlog.Str("path", r.URL.Path),
				xlog.Str("status", strconv.Itoa(wrapped.statusCode)),
				xlog.Dur("duration", time.Since(start)),
			)
			for k, v := range fields {
				lg = lg.With(xlog.Str(k, v))
			}
			if wrapped.statusCode >= http.StatusInternalServerError {
				lg.Warn().Msg("request failed")
				return
			}
			lg.Info().Msg("request completed")
		})
	}
}

type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

// AddLogField attaches key=value to the request log line. No-op outside
// LoggingMiddleware or for empty values.
func AddLogField(ctx context.Context, key, value string) {
	if value == "" {
		return
	}
	if fields, ok := ctx.Value(logFieldsKey{}).(map[string]string); ok {
		fields[key] = value
	}
}

// AddError attaches err to the request log line.
func AddError(ctx context.Context, err error) {
	if err == nil {
		return
	}
	AddLogField(ctx, "error", err.Error())
}
