package controller

import (
	"net/http"

	"github.com/go-jose/go-jose/v4/json"
	"github.com/gorilla/mux"
	"github.com/paul-bdio/zorro/app/api/types"
	"github.com/paul-bdio/zorro/pkg/metrics"
	"github.com/paul-bdio/zorro/pkg/utils"
)

// User is an operator allowed to log in to the API.
type User struct {
	Username string `json:"username"`
	Hash     []byte `json:"hash"`
	Role     string `json:"role"`
}

type Controller struct {
	App        *types.App
	AdminToken string
	Users      map[string]User
	JWTSecret  []byte
}

// NewController reads ADMIN_TOKEN, ADMIN_USER, ADMIN_PASSWORD (plaintext or bcrypt hash)
// and SESSION_SECRET.
func NewController(app *types.App) *Controller {
	adminUser := utils.Env("ADMIN_USER", "admin")
	phash, _ := utils.HashOrRead(utils.Env("ADMIN_PASSWORD", "admin"))

	return &Controller{
		App:        app,
		AdminToken: utils.Env("ADMIN_TOKEN", "devtoken"),
		Users:      map[string]User{adminUser: {Username: adminUser, Hash: phash, Role: "admin"}},
		JWTSecret:  []byte(utils.Env("SESSION_SECRET", "change-me-please")),
	}
}

// WithCORS is a middleware that adds CORS headers to the response.
func WithCORS(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		origin := r.Header.Get("Origin")
		if origin != "" {
			w.Header().Set("Access-Control-Allow-Origin", origin)
			w.Header().Set("Access-Control-Allow-Credentials", "true")
		} else {
			w.Header().Set("Access-Control-Allow-Origin", "*")
		}
		w.Header().Set("Vary", "Origin")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
		w.Header().Set("Access-Control-Allow-Methods", http.MethodGet+", "+http.MethodPost+", "+http.MethodOptions)

		// Fast-path the preflight
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}

		next.ServeHTTP(w, r)
	})
}

// NewRouter returns a new router with every API route.
func (c *Controller) NewRouter() (*mux.Router, error) {
	r := mux.NewRouter()
	route := func(name string, h http.HandlerFunc) http.Handler { return metrics.Instrument(name, h) }

	r.Handle("/api/health", route("health", c.HandleHealth)).Methods(http.MethodGet)
	r.Handle("/metrics", metrics.Handler()).Methods(http.MethodGet)

	r.Handle("/api/auth/login", route("login", c.HandleLogin)).Methods(http.MethodPost)
	r.Handle("/api/auth/logout", route("logout", c.HandleLogout)).Methods(http.MethodPost)

	// Public reads
	r.Handle("/api/profiles", route("profiles", c.HandleProfilesList)).Methods(http.MethodGet)
	r.Handle("/api/profiles/{id}", route("profile", c.HandleProfile)).Methods(http.MethodGet)
	r.Handle("/api/profiles/{id}/notifications", route("notifications", c.HandleNotifications)).Methods(http.MethodGet)
	r.Handle("/api/verified-external-addresses", route("verified_addresses", c.HandleVerifiedExternalAddresses)).Methods(http.MethodPost)

	// Operator endpoints
	r.Handle("/api/profiles/{id}/sync", c.RequireAuth(route("sync", c.HandleTriggerSync))).Methods(http.MethodPost)
	r.Handle("/api/anomalies", c.RequireAuth(route("anomalies", c.HandleAnomalies))).Methods(http.MethodGet)
	r.Handle("/api/contacts", c.RequireAuth(route("contacts", c.HandlePutContact))).Methods(http.MethodPost)
	r.Handle("/api/connections", c.RequireAuth(route("connections", c.HandlePutConnection))).Methods(http.MethodPost)

	// WebSocket endpoint for live profile updates
	r.HandleFunc("/api/ws", c.HandleWebSocket).Methods(http.MethodGet)

	return r, nil
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, code int, msg string) {
	writeJSON(w, code, map[string]string{"error": msg})
}
