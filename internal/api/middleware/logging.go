package middleware

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"
)

const requestFieldsKey contextKey = "request_fields"

// RequestFields collects per-request log fields that only become known
// inside the handler chain, after the logger has already wrapped the
// request. The auth layer records the player's user ID here.
type RequestFields struct {
	UserID string
}

// FieldsFromContext returns the mutable field holder installed by Logger,
// or nil when the request did not pass through it.
func FieldsFromContext(ctx context.Context) *RequestFields {
	fields, ok := ctx.Value(requestFieldsKey).(*RequestFields)
	if !ok {
		return nil
	}
	return fields
}

// Logger returns a request logging middleware using zerolog. Completion
// turns that stream server-sent events are flagged so their long latencies
// are not mistaken for slow handlers.
func Logger(logger zerolog.Logger) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()

			// Wrap response writer to capture status code and size
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)

			fields := &RequestFields{}
			r = r.WithContext(context.WithValue(r.Context(), requestFieldsKey, fields))

			defer func() {
				evt := logger.Info().
					Str("method", r.Method).
					Str("path", r.URL.Path).
					Int("status", ww.Status()).
					Int("bytes", ww.BytesWritten()).
					Dur("latency", time.Since(start)).
					Str("request_id", middleware.GetReqID(r.Context())).
					Str("remote_addr", r.RemoteAddr)
				if fields.UserID != "" {
					evt = evt.Str("user_id", fields.UserID)
				}
				if strings.HasPrefix(ww.Header().Get("Content-Type"), "text/event-stream") {
					evt = evt.Bool("streamed", true)
				}
				evt.Msg("request completed")
			}()

			next.ServeHTTP(ww, r)
		})
	}
}
