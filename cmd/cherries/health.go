package main

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/gorilla/mux"

	"github.com/codeGROOVE-dev/cherries/internal/dispatch"
)

// statusSource reports the most recent cycle.
type statusSource interface {
	Status() dispatch.Status
}

func newRouter(status statusSource) *mux.Router {
	router := mux.NewRouter()
	router.Use(securityHeadersMiddleware)

	router.HandleFunc("/", healthHandler).Methods("GET")
	router.HandleFunc("/health", healthHandler).Methods("GET")
	router.HandleFunc("/healthz", makeHealthzHandler(status)).Methods("GET")
	return router
}

func healthHandler(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain")
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write([]byte("ok\n")); err != nil {
		slog.Debug("health write error", "error", err)
	}
}

// makeHealthzHandler reports the last cycle. A failed cycle is still a healthy
// process, so the status code is always 200.
func makeHealthzHandler(status statusSource) http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		if err := json.NewEncoder(w).Encode(status.Status()); err != nil {
			slog.Debug("healthz write error", "error", err)
		}
	}
}

func securityHeadersMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Content-Type-Options", "nosniff")
		w.Header().Set("X-Frame-Options", "DENY")
		w.Header().Set("Content-Security-Policy", "default-src 'none'")
		next.ServeHTTP(w, r)
	})
}
