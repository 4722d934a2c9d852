package shield

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/hazyhaar/liseuse/idgen"
	"github.com/hazyhaar/liseuse/kit"
)

type loggerKey struct{}

var newRequestID = idgen.Prefixed("req_", idgen.NanoID(8))

// RequestID tags each request with an id (header X-Request-ID, kit context
// key and a per-request logger). An incoming X-Request-ID is kept.
func RequestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get("X-Request-ID")
		if id == "" || len(id) > 64 {
			id = newRequestID()
		}
		w.Header().Set("X-Request-ID", id)

		logger := slog.Default().With(
			"request_id", id,
			"method", r.Method,
			"path", r.URL.Path,
		)
		ctx := kit.WithRequestID(r.Context(), id)
		ctx = context.WithValue(ctx, loggerKey{}, logger)
		logger.Debug("shield: request")

		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// GetLogger returns the per-request logger, or slog.Default().
func GetLogger(ctx context.Context) *slog.Logger {
	if l, ok := ctx.Value(loggerKey{}).(*slog.Logger); ok {
		return l
	}
	return slog.Default()
}
