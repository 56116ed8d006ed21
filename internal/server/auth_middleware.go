package server

import (
	"log/slog"
	"net/http"
	"strings"

	"learnhub-media/internal/api"
	"learnhub-media/internal/auth"
	"learnhub-media/internal/observability/logging"
)

const mediaPrefix = "/api/media/"

// authenticates reports whether the route looks at bearer tokens at all.
// Streams are public so players can fetch ranges without credentials.
func authenticates(r *http.Request) bool {
	if r.Method == http.MethodOptions || !strings.HasPrefix(r.URL.Path, mediaPrefix) {
		return false
	}
	return !strings.HasPrefix(strings.TrimPrefix(r.URL.Path, mediaPrefix), "stream/")
}

// authMiddleware attaches the bearer token's principal to the request
// context. A missing token passes through and the handler decides whether
// the route needs a principal; a token that fails verification is rejected.
func authMiddleware(verifier *auth.Verifier, logger *slog.Logger, next http.Handler) http.Handler {
	if verifier == nil {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !authenticates(r) {
			next.ServeHTTP(w, r)
			return
		}
		token := auth.ExtractToken(r)
		if token == "" {
			next.ServeHTTP(w, r)
			return
		}
		principal, err := verifier.Verify(token)
		if err != nil {
			logging.FromContext(r.Context(), logger).Debug("rejected bearer token", "error", err)
			api.WriteError(w, http.StatusUnauthorized, auth.ErrInvalidToken)
			return
		}
		ctx := auth.ContextWithPrincipal(r.Context(), principal)
		if principal.UserID > 0 {
			ctx = logging.ContextWithUserID(ctx, principal.UserID)
			if ctxLogger := logging.LoggerFromContext(ctx); ctxLogger != nil {
				ctx = logging.ContextWithLogger(ctx, ctxLogger.With("user_id", principal.UserID))
			}
		}
		publishPrincipal(ctx, principal)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}
