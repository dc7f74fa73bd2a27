package middleware

import (
	"context"
	"net/http"

	"github.com/google/uuid"

	"github.com/promptlens/core/internal/observability"
)

const (
	requestIDHeader = "X-Request-ID"

	// maxRequestIDLen caps client-supplied IDs; anything longer is replaced
	// so log lines stay bounded.
	maxRequestIDLen = 64
)

// RequestID ensures every request carries an X-Request-ID, in context and in
// the response header. A client-supplied ID is propagated; otherwise one is
// generated. Runs first in the chain so every log line has the id.
func RequestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get(requestIDHeader)
		if id == "" || len(id) > maxRequestIDLen {
			id = uuid.Must(uuid.NewV7()).String()
		}

		ctx := context.WithValue(r.Context(), observability.RequestIDKey, id)
		w.Header().Set(requestIDHeader, id)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}
