package server

import (
	"context"
	"log/slog"
	"net/http"
	"runtime/debug"
	"strings"

	"gatewayproxy/internal/auth"
)

// recoverMiddleware converts a panic anywhere downstream into a generic 500,
// logging the panic and stack trace against the request's trace id.
func recoverMiddleware(logger *slog.Logger, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if rec := recover(); rec != nil {
				loggerWithRequestContext(r, logger).Error("panic recovered",
					"panic", rec,
					"stack", string(debug.Stack()),
				)
				writeJSONError(w, http.StatusInternalServerError, "Internal Server Error")
			}
		}()
		next.ServeHTTP(w, r)
	})
}

// authMiddleware requires a bearer token on every /api/ request: missing
// entirely is 401, present but unrecognized is 403. The resolved username is
// attached to the request context for the traffic log.
func authMiddleware(verifier auth.Verifier, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		header := r.Header.Get("Authorization")
		if header == "" {
			writeJSONError(w, http.StatusUnauthorized, "missing authorization header")
			return
		}
		token := strings.TrimSpace(strings.TrimPrefix(header, "Bearer"))
		token = strings.TrimPrefix(token, " ")
		if token == "" {
			writeJSONError(w, http.StatusUnauthorized, "missing bearer token")
			return
		}
		username, ok := verifier.Verify(r.Context(), token)
		if !ok {
			writeJSONError(w, http.StatusForbidden, "unrecognized token")
			return
		}
		next.ServeHTTP(w, r.WithContext(contextWithUsername(r.Context(), username)))
	})
}

// rateLimitMiddleware rejects with 429 once the aggregate gateway rate
// budget is exhausted, ahead of any upstream dispatch.
func rateLimitMiddleware(limiter *rateLimiter, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if limiter != nil && !limiter.AllowRequest() {
			writeJSONError(w, http.StatusTooManyRequests, "rate limit exceeded")
			return
		}
		next.ServeHTTP(w, r)
	})
}

type contextKey string

const usernameContextKey contextKey = "gateway_username"

func contextWithUsername(ctx context.Context, username string) context.Context {
	return context.WithValue(ctx, usernameContextKey, username)
}

func usernameFromContext(ctx context.Context) string {
	if s, ok := ctx.Value(usernameContextKey).(string); ok {
		return s
	}
	return ""
}
