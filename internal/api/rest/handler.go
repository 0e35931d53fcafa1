package rest

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"

	"github.com/kubilitics/resourcemap/internal/config"
	"github.com/kubilitics/resourcemap/internal/pkg/mapexport"
	"github.com/kubilitics/resourcemap/internal/service"
)

const (
	defaultSnapshotLimit = 20
	maxSnapshotLimit     = 100
)

// Handler manages HTTP request handlers
type Handler struct {
	clusterService     service.ClusterService
	resourceMapService service.ResourceMapService
	kubeconfigPath     string
	log                *slog.Logger
}

// NewHandler creates a new HTTP handler
func NewHandler(cs service.ClusterService, rms service.ResourceMapService, cfg *config.Config, log *slog.Logger) *Handler {
	if log == nil {
		log = slog.Default()
	}
	h := &Handler{
		clusterService:     cs,
		resourceMapService: rms,
		log:                log.With("component", "rest"),
	}
	if cfg != nil {
		h.kubeconfigPath = cfg.KubeconfigPath
	}
	return h
}

// SetupRoutes configures API routes
func SetupRoutes(router *mux.Router, h *Handler) {
	// Cluster routes
	router.HandleFunc("/clusters", h.ListClusters).Methods("GET")
	router.HandleFunc("/clusters", h.AddCluster).Methods("POST")
	router.HandleFunc("/clusters/{clusterId}", h.GetCluster).Methods("GET")
	router.HandleFunc("/clusters/{clusterId}", h.RemoveCluster).Methods("DELETE")

	// Resource map routes
	const rm = "/clusters/{clusterId}/resourcemap"
	router.HandleFunc(rm, h.GetResourceMap).Methods("GET")
	router.HandleFunc(rm+"/sources", h.ListSources).Methods("GET")
	router.HandleFunc(rm+"/sources/{sourceId}/toggle", h.ToggleSource).Methods("POST")
	router.HandleFunc(rm+"/search", h.Search).Methods("GET")
	router.HandleFunc(rm+"/nodes/{nodeId}", h.GetNodeDetails).Methods("GET")
	router.HandleFunc(rm+"/export", h.Export).Methods("GET")
	router.HandleFunc(rm+"/snapshots", h.SaveSnapshot).Methods("POST")
	router.HandleFunc(rm+"/snapshots", h.ListSnapshots).Methods("GET")
	router.HandleFunc(rm+"/snapshots/{snapshotId}", h.GetSnapshot).Methods("GET")
}

// ListClusters handles GET /clusters
func (h *Handler) ListClusters(w http.ResponseWriter, r *http.Request) {
	clusters, err := h.clusterService.ListClusters(r.Context())
	if err != nil {
		respondServiceError(w, r, h.log, err)
		return
	}
	respondJSON(w, http.StatusOK, clusters)
}

// GetCluster handles GET /clusters/{clusterId}
func (h *Handler) GetCluster(w http.ResponseWriter, r *http.Request) {
	cluster, err := h.clusterService.GetCluster(r.Context(), mux.Vars(r)["clusterId"])
	if err != nil {
		respondServiceError(w, r, h.log, err)
		return
	}
	respondJSON(w, http.StatusOK, cluster)
}

// AddCluster handles POST /clusters. Only contexts of the server's
// kubeconfig can be added.
func (h *Handler) AddCluster(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Context string `json:"context"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondErrorWithCode(w, r, http.StatusBadRequest, ErrCodeInvalidRequest, "Invalid request body")
		return
	}
	cluster, err := h.clusterService.AddCluster(r.Context(), h.kubeconfigPath, req.Context)
	if err != nil {
		respondServiceError(w, r, h.log, err)
		return
	}
	respondJSON(w, http.StatusCreated, cluster)
}

// RemoveCluster handles DELETE /clusters/{clusterId}
func (h *Handler) RemoveCluster(w http.ResponseWriter, r *http.Request) {
	if err := h.clusterService.RemoveCluster(r.Context(), mux.Vars(r)["clusterId"]); err != nil {
		respondServiceError(w, r, h.log, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]string{"message": "Cluster removed"})
}

// GetResourceMap handles GET /clusters/{clusterId}/resourcemap
func (h *Handler) GetResourceMap(w http.ResponseWriter, r *http.Request) {
	view, err := service.ParseViewState(r.URL.Query())
	if err != nil {
		respondServiceError(w, r, h.log, err)
		return
	}
	m, err := h.resourceMapService.GetMap(r.Context(), mux.Vars(r)["clusterId"], view)
	if err != nil {
		respondServiceError(w, r, h.log, err)
		return
	}
	respondJSON(w, http.StatusOK, m)
}

// ListSources handles GET /clusters/{clusterId}/resourcemap/sources
func (h *Handler) ListSources(w http.ResponseWriter, r *http.Request) {
	tree, err := h.resourceMapService.Sources(r.Context(), mux.Vars(r)["clusterId"])
	if err != nil {
		respondServiceError(w, r, h.log, err)
		return
	}
	respondJSON(w, http.StatusOK, tree)
}

// ToggleSource handles POST /clusters/{clusterId}/resourcemap/sources/{sourceId}/toggle
func (h *Handler) ToggleSource(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	tree, err := h.resourceMapService.ToggleSource(r.Context(), vars["clusterId"], vars["sourceId"])
	if err != nil {
		respondServiceError(w, r, h.log, err)
		return
	}
	respondJSON(w, http.StatusOK, tree)
}

// Search handles GET /clusters/{clusterId}/resourcemap/search?q=
func (h *Handler) Search(w http.ResponseWriter, r *http.Request) {
	results, err := h.resourceMapService.Search(r.Context(), mux.Vars(r)["clusterId"], r.URL.Query().Get("q"))
	if err != nil {
		respondServiceError(w, r, h.log, err)
		return
	}
	respondJSON(w, http.StatusOK, results)
}

// GetNodeDetails handles GET /clusters/{clusterId}/resourcemap/nodes/{nodeId}
func (h *Handler) GetNodeDetails(w http.ResponseWriter, r *http.Request) {
	view, err := service.ParseViewState(r.URL.Query())
	if err != nil {
		respondServiceError(w, r, h.log, err)
		return
	}
	vars := mux.Vars(r)
	details, err := h.resourceMapService.NodeDetails(r.Context(), vars["clusterId"], vars["nodeId"], view)
	if err != nil {
		respondServiceError(w, r, h.log, err)
		return
	}
	respondJSON(w, http.StatusOK, details)
}

// Export handles GET /clusters/{clusterId}/resourcemap/export?format=
func (h *Handler) Export(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	raw := q.Get("format")
	if raw == "" {
		raw = string(mapexport.FormatJSON)
	}
	format, err := mapexport.ParseFormat(raw)
	if err != nil {
		respondServiceError(w, r, h.log, err)
		return
	}
	q.Del("format")
	view, err := service.ParseViewState(q)
	if err != nil {
		respondServiceError(w, r, h.log, err)
		return
	}
	clusterID := mux.Vars(r)["clusterId"]
	data, err := h.resourceMapService.Export(r.Context(), clusterID, view, format)
	if err != nil {
		respondServiceError(w, r, h.log, err)
		return
	}
	w.Header().Set("Content-Type", format.ContentType())
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", "resourcemap-"+clusterID+"."+format.Extension()))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(data)
}

// SaveSnapshot handles POST /clusters/{clusterId}/resourcemap/snapshots
func (h *Handler) SaveSnapshot(w http.ResponseWriter, r *http.Request) {
	view, err := service.ParseViewState(r.URL.Query())
	if err != nil {
		respondServiceError(w, r, h.log, err)
		return
	}
	snap, err := h.resourceMapService.SaveSnapshot(r.Context(), mux.Vars(r)["clusterId"], view)
	if err != nil {
		respondServiceError(w, r, h.log, err)
		return
	}
	respondJSON(w, http.StatusCreated, snap)
}

// ListSnapshots handles GET /clusters/{clusterId}/resourcemap/snapshots?limit=
func (h *Handler) ListSnapshots(w http.ResponseWriter, r *http.Request) {
	limit := defaultSnapshotLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			respondErrorWithCode(w, r, http.StatusBadRequest, ErrCodeInvalidRequest, "limit must be a positive integer")
			return
		}
		limit = min(n, maxSnapshotLimit)
	}
	snaps, err := h.resourceMapService.ListSnapshots(r.Context(), mux.Vars(r)["clusterId"], limit)
	if err != nil {
		respondServiceError(w, r, h.log, err)
		return
	}
	respondJSON(w, http.StatusOK, snaps)
}

// GetSnapshot handles GET /clusters/{clusterId}/resourcemap/snapshots/{snapshotId}
func (h *Handler) GetSnapshot(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	snap, err := h.resourceMapService.GetSnapshot(r.Context(), vars["clusterId"], vars["snapshotId"])
	if err != nil {
		respondServiceError(w, r, h.log, err)
		return
	}
	respondJSON(w, http.StatusOK, snap)
}

func respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}
