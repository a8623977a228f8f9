// Package api serves the operational HTTP surface: health, metrics and
// the recent outcome journal. It is meant for an internal listener,
// not for external clients.
package api

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"
	"github.com/sirupsen/logrus"

	"github.com/kenneth/file-interrogator/internal/audit"
	"github.com/kenneth/file-interrogator/internal/metrics"
	"github.com/kenneth/file-interrogator/internal/middleware"
)

// Handler serves the ops endpoints.
type Handler struct {
	metrics *metrics.Metrics
	journal audit.Journal
	logger  *logrus.Logger
}

// NewHandler creates an ops handler. journal may be nil; the journal
// endpoint then reports an empty list.
func NewHandler(m *metrics.Metrics, journal audit.Journal, logger *logrus.Logger) *Handler {
	return &Handler{metrics: m, journal: journal, logger: logger}
}

// Router builds the ops router with logging and panic recovery applied.
func (h *Handler) Router() http.Handler {
	r := mux.NewRouter()
	r.Handle("/metrics", h.metrics.Handler()).Methods("GET")
	r.HandleFunc("/healthz", h.handleHealth).Methods("GET")
	r.HandleFunc("/journal", h.handleJournal).Methods("GET")

	var handler http.Handler = r
	handler = middleware.LoggingMiddleware(h.logger)(handler)
	handler = middleware.RecoveryMiddleware(h.logger)(handler)
	return handler
}

func (h *Handler) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
}

func (h *Handler) handleJournal(w http.ResponseWriter, r *http.Request) {
	limit := 50
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			http.Error(w, "invalid limit", http.StatusBadRequest)
			return
		}
		limit = n
	}

	events := []*audit.Event{}
	if h.journal != nil {
		events = h.journal.Recent(limit)
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(events); err != nil {
		h.logger.WithError(err).Warn("failed to encode journal response")
	}
}
