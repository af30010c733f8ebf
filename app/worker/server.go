package worker

import (
	"context"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/paul-bdio/zorro/pkg/metrics"
)

// ReadyCheck reports whether one dependency is usable.
type ReadyCheck func(ctx context.Context) error

// NewOpsRouter serves /healthz, /readyz and /metrics. /readyz fails with 503 when any
// check fails.
func NewOpsRouter(checks map[string]ReadyCheck) *mux.Router {
	r := mux.NewRouter()
	r.Handle("/healthz", http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) { w.WriteHeader(http.StatusOK) })).Methods("GET")
	r.Handle("/readyz", http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		ctx, cancel := context.WithTimeout(req.Context(), 2*time.Second)
		defer cancel()
		for name, check := range checks {
			if err := check(ctx); err != nil {
				http.Error(w, name+": "+err.Error(), http.StatusServiceUnavailable)
				return
			}
		}
		w.WriteHeader(http.StatusOK)
	})).Methods("GET")
	r.Handle("/metrics", metrics.Handler()).Methods("GET")
	return r
}
