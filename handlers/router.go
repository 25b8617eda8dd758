package handlers

import (
	"net/http"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"dmchat/config"
	"dmchat/middleware"
)

// NewRouter wires every route of the backing service. The hub must be
// running (RunHub) before the router serves writes.
func NewRouter(cfg *config.Server) *mux.Router {
	SessionTTL = cfg.SessionTTL

	project := middleware.RequireProject(cfg.APIKey, cfg.ProjectID)
	limiter := middleware.NewRateLimiter(cfg.AuthRatePerMinute)

	public := func(h http.HandlerFunc) http.Handler {
		return project(limiter.Middleware(h))
	}
	protected := func(h http.HandlerFunc) http.Handler {
		return project(middleware.Auth(h))
	}

	r := mux.NewRouter()

	// Identity
	r.Handle("/api/auth/signup", public(Signup)).Methods(http.MethodPost)
	r.Handle("/api/auth/login", public(Login)).Methods(http.MethodPost)
	r.Handle("/api/auth/logout", protected(Logout)).Methods(http.MethodPost)
	r.Handle("/api/auth/me", protected(Me)).Methods(http.MethodGet)

	// Profiles
	r.Handle("/api/users", protected(GetUsers)).Methods(http.MethodGet)
	r.Handle("/api/users/me", protected(UpdateProfile)).Methods(http.MethodPatch)
	r.Handle("/api/users/me/presence", protected(SetPresence)).Methods(http.MethodPut)

	// Messages
	r.Handle("/api/messages", protected(SendMessage)).Methods(http.MethodPost)
	r.Handle("/api/messages/read", protected(MarkRead)).Methods(http.MethodPost)
	r.Handle("/api/messages/{userId}", protected(GetMessages)).Methods(http.MethodGet)
	r.Handle("/api/messages/{id}", protected(UpdateMessage)).Methods(http.MethodPatch)

	// Live queries
	r.Handle("/ws", protected(HandleWebSocket))

	r.Handle("/metrics", promhttp.Handler())

	return r
}
