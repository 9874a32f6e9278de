// Package api exposes the HTTP surface of entitlementd: snapshot
// resolution, the plan and state catalogs, the resolution journal, and
// the live resolution feed.
package api

import (
	"crypto/ed25519"
	"net/http"
	"strings"
	"time"

	"github.com/stratushq/entitlements/internal/config"
	"github.com/stratushq/entitlements/internal/feed"
	"github.com/stratushq/entitlements/internal/journal"
	"github.com/stratushq/entitlements/pkg/entitlement"
)

// VersionInfo carries build identification injected at link time.
type VersionInfo struct {
	Version   string `json:"version"`
	BuildTime string `json:"buildTime"`
	GitCommit string `json:"gitCommit"`
	Runtime   string `json:"runtime"`
}

// Router handles HTTP routing.
type Router struct {
	mux       *http.ServeMux
	config    *config.Config
	handlers  *Handlers
	hub       *feed.Hub
	version   VersionInfo
	startTime time.Time
}

// NewRouter creates the API handler. jrnl and hub may be nil to disable
// the journal endpoints and the live feed respectively; verifyKey may be
// nil when signed snapshots are not accepted.
func NewRouter(cfg *config.Config, resolver *entitlement.Resolver, jrnl *journal.Journal, hub *feed.Hub, verifyKey ed25519.PublicKey, version VersionInfo) http.Handler {
	r := &Router{
		mux:       http.NewServeMux(),
		config:    cfg,
		handlers:  NewHandlers(cfg, resolver, jrnl, hub, verifyKey, version),
		hub:       hub,
		version:   version,
		startTime: time.Now(),
	}

	r.setupRoutes()
	return ErrorHandler(r)
}

func (r *Router) setupRoutes() {
	// Unauthenticated probes.
	r.mux.HandleFunc("/healthz", r.handleHealthz)
	r.mux.HandleFunc("/api/health", r.handleHealthz)
	r.mux.HandleFunc("/api/version", r.handleVersion)

	// Resolution and catalog endpoints.
	r.mux.HandleFunc("/api/resolve", RequireAuth(r.config, r.handlers.HandleResolve))
	r.mux.HandleFunc("/api/plans", RequireAuth(r.config, r.handlers.HandlePlans))
	r.mux.HandleFunc("/api/plans/compare", RequireAuth(r.config, r.handlers.HandlePlanCompare))
	r.mux.HandleFunc("/api/states", RequireAuth(r.config, r.handlers.HandleStates))
	r.mux.HandleFunc("/api/history", RequireAuth(r.config, r.handlers.HandleHistory))
	r.mux.HandleFunc("/api/history/stats", RequireAuth(r.config, r.handlers.HandleHistoryStats))
	r.mux.HandleFunc("/api/report", RequireAuth(r.config, r.handlers.HandleReport))

	// Live resolution feed.
	if r.hub != nil {
		r.mux.HandleFunc("/ws", r.hub.HandleWebSocket)
	}
}

func (r *Router) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	if origin := r.matchOrigin(req.Header.Get("Origin")); origin != "" {
		w.Header().Set("Access-Control-Allow-Origin", origin)
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization, X-API-Token, X-Request-ID")
	}

	if req.Method == http.MethodOptions {
		w.WriteHeader(http.StatusOK)
		return
	}

	if strings.HasPrefix(req.URL.Path, "/api/") || strings.HasPrefix(req.URL.Path, "/ws") {
		addSecurityHeaders(w)
	}

	r.mux.ServeHTTP(w, req)
}

// matchOrigin returns the Access-Control-Allow-Origin value for a request
// origin, or "" when CORS headers should not be sent.
func (r *Router) matchOrigin(origin string) string {
	if origin == "" || len(r.config.AllowedOrigins) == 0 {
		return ""
	}
	for _, allowed := range r.config.AllowedOrigins {
		if allowed == "*" {
			return "*"
		}
		if strings.EqualFold(allowed, origin) {
			return origin
		}
	}
	return ""
}

func addSecurityHeaders(w http.ResponseWriter) {
	w.Header().Set("X-Content-Type-Options", "nosniff")
	w.Header().Set("X-Frame-Options", "DENY")
	w.Header().Set("Referrer-Policy", "strict-origin-when-cross-origin")
}

func (r *Router) handleHealthz(w http.ResponseWriter, req *http.Request) {
	if req.Method != http.MethodGet {
		writeErrorResponse(w, http.StatusMethodNotAllowed, "method_not_allowed", "Use GET", nil)
		return
	}

	writeJSONResponse(w, http.StatusOK, map[string]any{
		"status":    "healthy",
		"timestamp": time.Now().Unix(),
		"uptime":    time.Since(r.startTime).Seconds(),
	})
}

func (r *Router) handleVersion(w http.ResponseWriter, req *http.Request) {
	if req.Method != http.MethodGet {
		writeErrorResponse(w, http.StatusMethodNotAllowed, "method_not_allowed", "Use GET", nil)
		return
	}

	info := r.version
	if info.Runtime == "" {
		info.Runtime = "go"
	}
	writeJSONResponse(w, http.StatusOK, info)
}
