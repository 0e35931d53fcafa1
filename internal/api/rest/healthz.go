package rest

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/kubilitics/resourcemap/internal/service"
)

// Pinger is the database connectivity check used by readiness.
type Pinger interface {
	Ping(ctx context.Context) error
}

// HealthzHandler handles health check endpoints
type HealthzHandler struct {
	clusters service.ClusterService
	db       Pinger // nil when snapshots are disabled
}

// NewHealthzHandler creates a new healthz handler
func NewHealthzHandler(cs service.ClusterService, db Pinger) *HealthzHandler {
	return &HealthzHandler{clusters: cs, db: db}
}

// Live handles GET /healthz/live - liveness probe (process is alive)
func (h *HealthzHandler) Live(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// Ready handles GET /healthz/ready. The server is ready once at least one
// cluster is registered and the database answers.
func (h *HealthzHandler) Ready(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	if h.db != nil {
		if err := h.db.Ping(ctx); err != nil {
			respondJSON(w, http.StatusServiceUnavailable, map[string]interface{}{
				"status": "unhealthy",
				"reason": "database_unavailable",
				"error":  err.Error(),
			})
			return
		}
	}
	clusters, err := h.clusters.ListClusters(ctx)
	if err != nil || len(clusters) == 0 {
		respondJSON(w, http.StatusServiceUnavailable, map[string]interface{}{
			"status": "unhealthy",
			"reason": "no_clusters",
		})
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(map[string]interface{}{
		"status":   "ok",
		"clusters": len(clusters),
	})
}
