package connect

import (
	"context"
	"log/slog"
	"net/http"
	"strings"

	"github.com/alexjbarnes/mail-connect/internal/secrets"
	"github.com/alexjbarnes/mail-connect/internal/state"
)

type contextKey int

const (
	ctxNamespaceID contextKey = iota
	ctxClientID
)

// RequestNamespaceID returns the authenticated namespace id from the
// context, or "".
func RequestNamespaceID(ctx context.Context) string {
	v, _ := ctx.Value(ctxNamespaceID).(string)
	return v
}

// RequestClientID returns the internal client id from the context,
// or "".
func RequestClientID(ctx context.Context) string {
	v, _ := ctx.Value(ctxClientID).(string)
	return v
}

// Middleware returns HTTP middleware that validates bearer tokens.
// The presented token is digested and looked up; the store never
// yields raw tokens, so possession of the raw value is the only way
// through. Authenticated requests carry the token's namespace and
// client ids in the context.
func Middleware(store *state.Store, logger *slog.Logger) func(http.Handler) http.Handler {
	// RFC 6750 Section 3.1: no error attribute when no token was provided.
	const (
		wwwAuthNoToken = `Bearer`
		wwwAuthInvalid = `Bearer error="invalid_token"`
	)

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			authHeader := r.Header.Get("Authorization")
			if authHeader == "" || !strings.HasPrefix(authHeader, "Bearer ") {
				logger.Debug("middleware: no bearer token", slog.String("path", r.URL.Path))
				w.Header().Set("WWW-Authenticate", wwwAuthNoToken)
				w.WriteHeader(http.StatusUnauthorized)

				return
			}

			raw := strings.TrimPrefix(authHeader, "Bearer ")

			token, err := store.TokenByHash(secrets.Hash(raw))
			if err != nil {
				logger.Debug("middleware: invalid bearer token", slog.String("path", r.URL.Path))
				w.Header().Set("WWW-Authenticate", wwwAuthInvalid)
				w.WriteHeader(http.StatusUnauthorized)

				return
			}

			ctx := r.Context()
			ctx = context.WithValue(ctx, ctxNamespaceID, token.NamespaceID)
			ctx = context.WithValue(ctx, ctxClientID, token.ClientID)

			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// HandleNamespace returns the GET /namespace handler. It serves the
// namespace serialization for the authenticated bearer token.
func HandleNamespace(store *state.Store, logger *slog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}

		nsID := RequestNamespaceID(r.Context())

		ns, err := store.NamespaceByID(nsID)
		if err != nil || ns == nil {
			logger.Error("namespace lookup failed", slog.String("namespace_id", nsID))
			writeJSONError(w, http.StatusInternalServerError, "server_error", "internal error")

			return
		}

		account, err := store.AccountByNamespaceID(nsID)
		if err != nil || account == nil {
			logger.Error("account lookup failed", slog.String("namespace_id", nsID))
			writeJSONError(w, http.StatusInternalServerError, "server_error", "internal error")

			return
		}

		writeJSON(w, http.StatusOK, namespacePayload(ns, account))
	}
}
