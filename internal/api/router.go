package api

import (
	"net/http"
	"time"

	"github.com/gorilla/mux"

	"github.com/smukkama/energy-pipeline/internal/logger"
)

// NewRouter registers the read-only dashboard routes
func NewRouter(store Store, log *logger.Logger) *mux.Router {
	h := &Handlers{Store: store, Log: log, now: time.Now}

	r := mux.NewRouter()
	r.HandleFunc("/health", h.Health).Methods("GET")
	r.HandleFunc("/models", h.Models).Methods("GET")

	b := r.PathPrefix("/buildings/{id}").Subrouter()
	b.Use(h.requireBuilding)
	b.HandleFunc("/features", h.Features).Methods("GET")
	b.HandleFunc("/clusters", h.Clusters).Methods("GET")
	b.HandleFunc("/predictions", h.Predictions).Methods("GET")
	b.HandleFunc("/plans", h.Plans).Methods("GET")
	b.HandleFunc("/decisions", h.Decisions).Methods("GET")
	b.HandleFunc("/anomalies", h.Anomalies).Methods("GET")
	b.HandleFunc("/validation", h.Validation).Methods("GET")
	b.HandleFunc("/progress", h.Progress).Methods("GET")

	r.Use(h.logRequests)
	return r
}

// NewServer wraps the router with the server timeouts
func NewServer(addr string, store Store, log *logger.Logger) *http.Server {
	return &http.Server{
		Addr:              addr,
		Handler:           NewRouter(store, log),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       10 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
}
