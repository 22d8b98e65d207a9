package shield

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/hazyhaar/quickcart/idgen"
	"github.com/hazyhaar/quickcart/kit"
)

// RequestIDHeader carries the request ID in and out.
const RequestIDHeader = "X-Request-ID"

var newRequestID = idgen.Prefixed("req_", idgen.Short(10))

// RequestID reuses a well-formed incoming X-Request-ID or generates one,
// stores it with kit.WithRequestID, echoes it in the response and attaches
// a per-request logger.
func RequestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get(RequestIDHeader)
		if !validID(id) {
			id = newRequestID()
		}
		w.Header().Set(RequestIDHeader, id)

		logger := slog.Default().With(
			"request_id", id,
			"method", r.Method,
			"path", r.URL.Path,
		)
		ctx := kit.WithRequestID(r.Context(), id)
		ctx = kit.WithTransport(ctx, "http")
		ctx = context.WithValue(ctx, LoggerKey, logger)
		logger.Debug("shield: request", "remote_addr", r.RemoteAddr)

		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func validID(id string) bool {
	if id == "" || len(id) > 64 {
		return false
	}
	for _, c := range id {
		ok := (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z') || (c >= '0' && c <= '9') || c == '-' || c == '_'
		if !ok {
			return false
		}
	}
	return true
}
