package middleware

import (
	"context"
	"net/http"

	"github.com/google/uuid"

	"github.com/tabuladb/tabula/pkg/httputil"
)

const RequestIDHeader = "X-Request-Id"

// RequestID assigns each request a unique id, placed both in the context
// (read by the logger middleware) and in the response header so clients
// can quote it when reporting a failure.
func RequestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		reqID, ok := r.Context().Value(httputil.RequestIDCtxKey).(string)
		if !ok || reqID == "" {
			reqID = uuid.New().String()
		}

		ctx := context.WithValue(r.Context(), httputil.RequestIDCtxKey, reqID)
		w.Header().Set(RequestIDHeader, reqID)

		next.ServeHTTP(w, r.WithContext(ctx))
	})
}
