package server

import (
	"crypto/sha256"
	"crypto/subtle"
	"log/slog"
	"net/http"
	"strings"

	"github.com/54b3r/docrag/internal/logging"
)

// authMiddleware requires "Authorization: Bearer <apiKey>" on next. With an
// empty apiKey it returns next unchanged; New warns about that once at
// startup.
//
// Failures answer 401 with a Bearer challenge. Token values are never logged.
func authMiddleware(apiKey string, next http.Handler) http.Handler {
	if apiKey == "" {
		return next
	}
	want := sha256.Sum256([]byte(apiKey))

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token := bearerToken(r)
		if token == "" {
			logging.FromContext(r.Context()).Warn("auth: missing bearer token")
			w.Header().Set("WWW-Authenticate", `Bearer realm="docrag"`)
			writeError(w, http.StatusUnauthorized, "Not authenticated")
			return
		}

		// Comparing digests keeps the comparison constant-time regardless
		// of the presented token's length.
		got := sha256.Sum256([]byte(token))
		if subtle.ConstantTimeCompare(got[:], want[:]) != 1 {
			logging.FromContext(r.Context()).Warn("auth: invalid token",
				slog.Int("token_len", len(token)))
			w.Header().Set("WWW-Authenticate", `Bearer realm="docrag", error="invalid_token"`)
			writeError(w, http.StatusUnauthorized, "Invalid API key")
			return
		}

		next.ServeHTTP(w, r)
	})
}

// bearerToken returns the token of an "Authorization: Bearer <token>" header
// (scheme matched case-insensitively), or "".
func bearerToken(r *http.Request) string {
	scheme, token, ok := strings.Cut(r.Header.Get("Authorization"), " ")
	if !ok || !strings.EqualFold(scheme, "bearer") {
		return ""
	}
	return strings.TrimSpace(token)
}
