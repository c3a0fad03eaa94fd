package httpapi

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5/middleware"

	"kvcache/internal/bootstrap/logging"
)

// requestLogger puts base's logger and a request-scoped attribute set on the
// request context and logs one line per request at debug level.
func requestLogger(base context.Context) func(http.Handler) http.Handler {
	logger := logging.Logger(base)
	baseAttrs := logging.Attrs(base)

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()

			ctx := logging.WithLogger(r.Context(), logger)
			ctx = logging.WithAttrs(ctx, baseAttrs...)
			ctx = logging.WithAttrs(
				ctx,
				slog.String("component", "httpapi"),
				slog.String("request_id", middleware.GetReqID(r.Context())),
				slog.String("method", r.Method),
				slog.String("path", r.URL.Path),
			)

			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			next.ServeHTTP(ww, r.WithContext(ctx))

			logging.Debug(
				ctx,
				"request served",
				slog.Int("status", ww.Status()),
				slog.Int("bytes", ww.BytesWritten()),
				slog.Duration("elapsed", time.Since(start)),
				slog.String("remote", r.RemoteAddr),
			)
		})
	}
}
