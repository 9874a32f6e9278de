package api

import (
	"net/http"
	"strings"

	"github.com/rs/zerolog/log"

	"github.com/stratushq/entitlements/internal/config"
	"github.com/stratushq/entitlements/pkg/auth"
)

// RequireAuth guards an endpoint with the configured API token. Tokens are
// presented in the X-API-Token header or as an Authorization bearer token.
// An empty configured token disables the check.
func RequireAuth(cfg *config.Config, handler http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if cfg.APIToken == "" {
			handler(w, r)
			return
		}

		presented := strings.TrimSpace(r.Header.Get("X-API-Token"))
		if presented == "" {
			if header := r.Header.Get("Authorization"); strings.HasPrefix(header, "Bearer ") {
				presented = strings.TrimSpace(strings.TrimPrefix(header, "Bearer "))
			}
		}

		if !auth.TokenMatches(cfg.APIToken, presented) {
			log.Warn().
				Str("ip", r.RemoteAddr).
				Str("path", r.URL.Path).
				Msg("Unauthorized API access attempt")
			writeErrorResponse(w, http.StatusUnauthorized, "unauthorized",
				"A valid API token is required", nil)
			return
		}

		handler(w, r)
	}
}
