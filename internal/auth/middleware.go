package auth

import (
	"context"
	"net/http"

	"go.uber.org/zap"
)

type contextKey struct{}

// ClientFromContext returns the authenticated client attached by Middleware.
func ClientFromContext(ctx context.Context) (*ClientContext, bool) {
	client, ok := ctx.Value(contextKey{}).(*ClientContext)
	return client, ok
}

// Middleware wraps an HTTP handler with authentication. Failed requests get
// a 401 and never reach the handler.
func Middleware(a Authenticator, logger *zap.Logger) func(http.Handler) http.Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			client, err := a.Authenticate(r)
			if err != nil {
				logger.Debug("rejected unauthenticated request",
					zap.String("path", r.URL.Path),
					zap.String("remote", r.RemoteAddr),
				)
				http.Error(w, "unauthorized", http.StatusUnauthorized)
				return
			}
			ctx := context.WithValue(r.Context(), contextKey{}, client)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}
