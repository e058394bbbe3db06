package api

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"

	"github.com/smukkama/energy-pipeline/internal/database"
	"github.com/smukkama/energy-pipeline/internal/logger"
)

const (
	defaultLimit = 100
	maxLimit     = 1000
	defaultDays  = 7
)

// Store is the read side of the pipeline tables
type Store interface {
	GetBuilding(ctx context.Context, buildingID string) (*database.Building, error)
	FeatureVectorsInRange(ctx context.Context, buildingID string, from, to time.Time) ([]*database.DailyFeatureVector, error)
	ListClusters(ctx context.Context, buildingID string) ([]*database.Cluster, error)
	OpenAssignments(ctx context.Context, buildingID string) ([]*database.ClusterAssignment, error)
	ListPredictions(ctx context.Context, buildingID string, limit int) ([]*database.Prediction, error)
	ListPlans(ctx context.Context, buildingID string, limit int) ([]*database.OptimizationPlan, error)
	ListDecisions(ctx context.Context, buildingID string, limit int) ([]*database.Decision, error)
	ListAnomalies(ctx context.Context, buildingID string, since time.Time, limit int) ([]*database.Anomaly, error)
	ListValidationRecords(ctx context.Context, buildingID string, limit int) ([]*database.ValidationRecord, error)
	ListProgress(ctx context.Context, buildingID string) ([]*database.PipelineProgress, error)
	ListModels(ctx context.Context) ([]*database.ModelRegistryEntry, error)
}

// Handlers bundles dependencies for HTTP endpoints
type Handlers struct {
	Store Store
	Log   *logger.Logger
	now   func() time.Time
}

type buildingKey struct{}

func (h *Handlers) Health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"status": "ok"})
}

func (h *Handlers) Models(w http.ResponseWriter, r *http.Request) {
	models, err := h.Store.ListModels(r.Context())
	h.respond(w, models, err)
}

// Features lists daily feature vectors from..to inclusive (YYYY-MM-DD),
// by default the last seven days.
func (h *Handlers) Features(w http.ResponseWriter, r *http.Request) {
	b := building(r)
	today := database.CalendarDate(h.now(), b.Location())
	from, err := dateParam(r, "from", today.AddDate(0, 0, -defaultDays+1))
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	to, err := dateParam(r, "to", today)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if to.Before(from) {
		writeError(w, http.StatusBadRequest, "'to' must not be before 'from'")
		return
	}
	vectors, err := h.Store.FeatureVectorsInRange(r.Context(), b.BuildingID, from, to)
	h.respond(w, vectors, err)
}

// Clusters returns the building's clusters with the open assignments
func (h *Handlers) Clusters(w http.ResponseWriter, r *http.Request) {
	b := building(r)
	clusters, err := h.Store.ListClusters(r.Context(), b.BuildingID)
	if err != nil {
		h.respond(w, nil, err)
		return
	}
	assignments, err := h.Store.OpenAssignments(r.Context(), b.BuildingID)
	h.respond(w, map[string]any{"clusters": clusters, "assignments": assignments}, err)
}

func (h *Handlers) Predictions(w http.ResponseWriter, r *http.Request) {
	limitedList(h, w, r, h.Store.ListPredictions)
}

func (h *Handlers) Plans(w http.ResponseWriter, r *http.Request) {
	limitedList(h, w, r, h.Store.ListPlans)
}

func (h *Handlers) Decisions(w http.ResponseWriter, r *http.Request) {
	limitedList(h, w, r, h.Store.ListDecisions)
}

func (h *Handlers) Validation(w http.ResponseWriter, r *http.Request) {
	limitedList(h, w, r, h.Store.ListValidationRecords)
}

// Anomalies lists anomalies detected at or after since (RFC3339), by
// default the last seven days.
func (h *Handlers) Anomalies(w http.ResponseWriter, r *http.Request) {
	limit, err := limitParam(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	since := h.now().Add(-defaultDays * 24 * time.Hour)
	if s := r.URL.Query().Get("since"); s != "" {
		since, err = time.Parse(time.RFC3339, s)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid 'since' (use RFC3339)")
			return
		}
	}
	anomalies, err := h.Store.ListAnomalies(r.Context(), building(r).BuildingID, since, limit)
	h.respond(w, anomalies, err)
}

func (h *Handlers) Progress(w http.ResponseWriter, r *http.Request) {
	progress, err := h.Store.ListProgress(r.Context(), building(r).BuildingID)
	h.respond(w, progress, err)
}

// limitedList serves a newest-first listing capped by the limit query parameter
func limitedList[T any](h *Handlers, w http.ResponseWriter, r *http.Request, list func(context.Context, string, int) ([]T, error)) {
	limit, err := limitParam(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	items, err := list(r.Context(), building(r).BuildingID, limit)
	h.respond(w, items, err)
}

func (h *Handlers) respond(w http.ResponseWriter, body any, err error) {
	if err != nil {
		h.Log.Error("Query failed", "error", err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	writeJSON(w, http.StatusOK, body)
}

// requireBuilding resolves {id} and answers 404 for unknown buildings
func (h *Handlers) requireBuilding(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := mux.Vars(r)["id"]
		b, err := h.Store.GetBuilding(r.Context(), id)
		if err != nil {
			h.respond(w, nil, err)
			return
		}
		if b == nil {
			writeError(w, http.StatusNotFound, "building not found")
			return
		}
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), buildingKey{}, b)))
	})
}

func (h *Handlers) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, r)
		h.Log.Debug("HTTP request", "method", r.Method, "path", r.URL.Path, "duration", time.Since(start))
	})
}

func building(r *http.Request) *database.Building {
	return r.Context().Value(buildingKey{}).(*database.Building)
}

func limitParam(r *http.Request) (int, error) {
	s := r.URL.Query().Get("limit")
	if s == "" {
		return defaultLimit, nil
	}
	n, err := strconv.Atoi(s)
	if err != nil || n <= 0 {
		return 0, errInvalidLimit
	}
	if n > maxLimit {
		n = maxLimit
	}
	return n, nil
}

func dateParam(r *http.Request, name string, def time.Time) (time.Time, error) {
	s := r.URL.Query().Get(name)
	if s == "" {
		return def, nil
	}
	d, err := time.Parse("2006-01-02", s)
	if err != nil {
		return time.Time{}, &paramError{name: name, want: "YYYY-MM-DD"}
	}
	return d, nil
}

type paramError struct {
	name, want string
}

func (e *paramError) Error() string {
	return "invalid '" + e.name + "' (use " + e.want + ")"
}

var errInvalidLimit = &paramError{name: "limit", want: "a positive integer"}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
