// Package rest: HTTP handler tests over a fake clientset; assert status and JSON shape.
package rest

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/mux"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	corev1 "k8s.io/api/core/v1"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/runtime"
	"k8s.io/client-go/kubernetes/fake"

	"github.com/kubilitics/resourcemap/internal/config"
	"github.com/kubilitics/resourcemap/internal/models"
	"github.com/kubilitics/resourcemap/internal/repository"
	"github.com/kubilitics/resourcemap/internal/service"
)

func testObjects() []runtime.Object {
	return []runtime.Object{
		&corev1.Namespace{ObjectMeta: metav1.ObjectMeta{UID: "ns-shop", Name: "shop"}},
		&corev1.Pod{
			ObjectMeta: metav1.ObjectMeta{UID: "pod-1", Namespace: "shop", Name: "web-1"},
			Status: corev1.PodStatus{
				Phase:      corev1.PodRunning,
				Conditions: []corev1.PodCondition{{Type: corev1.PodReady, Status: corev1.ConditionTrue}},
			},
		},
		&corev1.Pod{
			ObjectMeta: metav1.ObjectMeta{UID: "pod-2", Namespace: "shop", Name: "worker-1"},
			Status:     corev1.PodStatus{Phase: corev1.PodFailed},
		},
	}
}

type testServer struct {
	router   *mux.Router
	clusters service.ClusterService
}

// newTestServer serves cluster "prod". A nil repo disables snapshots.
func newTestServer(t *testing.T, repo *repository.SQLRepository) *testServer {
	t.Helper()
	cfg := &config.Config{Sources: []string{"Pod"}, LayoutCacheSize: 8}
	log := slog.New(slog.NewTextHandler(io.Discard, nil))

	cs := service.NewClusterService(cfg, log)
	t.Cleanup(cs.Shutdown)
	var snapshots repository.SnapshotRepository
	if repo != nil {
		snapshots = repo
	}
	rms := service.NewResourceMapService(cs, snapshots, cfg, log)
	_, err := cs.AttachCluster(context.Background(), "prod", "Production", fake.NewSimpleClientset(testObjects()...))
	require.NoError(t, err)

	router := mux.NewRouter()
	SetupRoutes(router.PathPrefix("/api/v1").Subrouter(), NewHandler(cs, rms, cfg, log))
	s := &testServer{router: router, clusters: cs}

	// wait for the informers so maps are complete
	require.Eventually(t, func() bool {
		rec := s.do(http.MethodGet, "/api/v1/clusters/prod/resourcemap")
		if rec.Code != http.StatusOK {
			return false
		}
		var m models.ResourceMap
		return json.Unmarshal(rec.Body.Bytes(), &m) == nil && !m.IsLoading && len(m.Nodes) > 0
	}, 5*time.Second, 10*time.Millisecond)
	return s
}

func (s *testServer) do(method, target string) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, httptest.NewRequest(method, target, nil))
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var out T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out), rec.Body.String())
	return out
}

func TestAPI_Clusters(t *testing.T) {
	s := newTestServer(t, nil)

	rec := s.do(http.MethodGet, "/api/v1/clusters")
	require.Equal(t, http.StatusOK, rec.Code)
	clusters := decode[[]models.Cluster](t, rec)
	require.Len(t, clusters, 1)
	assert.Equal(t, "prod", clusters[0].ID)
	assert.Equal(t, "Production", clusters[0].Name)

	rec = s.do(http.MethodGet, "/api/v1/clusters/prod")
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = s.do(http.MethodGet, "/api/v1/clusters/missing")
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, ErrCodeNotFound, decode[APIError](t, rec).Code)
}

func TestAPI_AddCluster_InvalidBody(t *testing.T) {
	s := newTestServer(t, nil)
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/v1/clusters", strings.NewReader("{")))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestAPI_RemoveCluster(t *testing.T) {
	s := newTestServer(t, nil)

	rec := s.do(http.MethodDelete, "/api/v1/clusters/prod")
	assert.Equal(t, http.StatusOK, rec.Code)
	rec = s.do(http.MethodGet, "/api/v1/clusters/prod/resourcemap")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestAPI_GetResourceMap(t *testing.T) {
	s := newTestServer(t, nil)

	rec := s.do(http.MethodGet, "/api/v1/clusters/prod/resourcemap?group=none")
	require.Equal(t, http.StatusOK, rec.Code)
	m := decode[models.ResourceMap](t, rec)
	assert.Equal(t, "prod", m.ClusterID)
	assert.Equal(t, "group=none", m.View)
	ids := make([]string, 0, len(m.Nodes))
	for _, n := range m.Nodes {
		ids = append(ids, n.ID)
	}
	assert.ElementsMatch(t, []string{"pod-1", "pod-2"}, ids)

	rec = s.do(http.MethodGet, "/api/v1/clusters/prod/resourcemap?group=bogus")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, ErrCodeInvalidRequest, decode[APIError](t, rec).Code)
}

func TestAPI_Sources(t *testing.T) {
	s := newTestServer(t, nil)

	rec := s.do(http.MethodGet, "/api/v1/clusters/prod/resourcemap/sources")
	require.Equal(t, http.StatusOK, rec.Code)
	tree := decode[models.SourceTree](t, rec)
	assert.NotEmpty(t, tree.Sources)

	rec = s.do(http.MethodPost, "/api/v1/clusters/prod/resourcemap/sources/Pod/toggle")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "none", sourceState(decode[models.SourceTree](t, rec).Sources, "Pod"))

	rec = s.do(http.MethodPost, "/api/v1/clusters/prod/resourcemap/sources/Widget/toggle")
	assert.Equal(t, http.StatusNotFound, rec.Code)
	rec = s.do(http.MethodPost, "/api/v1/clusters/prod/resourcemap/sources/bad.id/toggle")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func sourceState(infos []models.SourceInfo, id string) string {
	for _, info := range infos {
		if info.ID == id {
			return info.State
		}
		if state := sourceState(info.Children, id); state != "" {
			return state
		}
	}
	return ""
}

func TestAPI_Search(t *testing.T) {
	s := newTestServer(t, nil)

	rec := s.do(http.MethodGet, "/api/v1/clusters/prod/resourcemap/search?q=web")
	require.Equal(t, http.StatusOK, rec.Code)
	results := decode[[]models.SearchResult](t, rec)
	require.Len(t, results, 1)
	assert.Equal(t, "pod-1", results[0].ID)

	rec = s.do(http.MethodGet, "/api/v1/clusters/prod/resourcemap/search?q=")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestAPI_NodeDetails(t *testing.T) {
	s := newTestServer(t, nil)

	rec := s.do(http.MethodGet, "/api/v1/clusters/prod/resourcemap/nodes/pod-2")
	require.Equal(t, http.StatusOK, rec.Code)
	details := decode[models.NodeDetails](t, rec)
	assert.Equal(t, "worker-1", details.Name)
	assert.Equal(t, "error", details.Status)

	rec = s.do(http.MethodGet, "/api/v1/clusters/prod/resourcemap/nodes/nope")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestAPI_Export(t *testing.T) {
	s := newTestServer(t, nil)

	rec := s.do(http.MethodGet, "/api/v1/clusters/prod/resourcemap/export?format=svg")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "image/svg+xml", rec.Header().Get("Content-Type"))
	assert.Equal(t, `attachment; filename="resourcemap-prod.svg"`, rec.Header().Get("Content-Disposition"))
	assert.Contains(t, rec.Body.String(), "<svg")

	rec = s.do(http.MethodGet, "/api/v1/clusters/prod/resourcemap/export?format=mermaid")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Header().Get("Content-Disposition"), ".mmd")

	rec = s.do(http.MethodGet, "/api/v1/clusters/prod/resourcemap/export?format=png")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestAPI_Snapshots(t *testing.T) {
	repo, err := repository.Open(repository.DriverSQLite, ":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = repo.Close() })
	require.NoError(t, repo.Migrate(context.Background()))
	s := newTestServer(t, repo)

	rec := s.do(http.MethodPost, "/api/v1/clusters/prod/resourcemap/snapshots?group=none")
	require.Equal(t, http.StatusCreated, rec.Code)
	saved := decode[models.ResourceMapSnapshot](t, rec)
	assert.Equal(t, "prod", saved.ClusterID)
	assert.Equal(t, 2, saved.NodeCount)

	rec = s.do(http.MethodGet, "/api/v1/clusters/prod/resourcemap/snapshots?limit=5")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, decode[[]models.ResourceMapSnapshot](t, rec), 1)

	rec = s.do(http.MethodGet, "/api/v1/clusters/prod/resourcemap/snapshots/"+saved.ID)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, saved.ID, decode[models.ResourceMapSnapshot](t, rec).ID)

	rec = s.do(http.MethodGet, "/api/v1/clusters/prod/resourcemap/snapshots/missing")
	assert.Equal(t, http.StatusNotFound, rec.Code)
	rec = s.do(http.MethodGet, "/api/v1/clusters/prod/resourcemap/snapshots?limit=abc")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestAPI_SnapshotsDisabled(t *testing.T) {
	s := newTestServer(t, nil)

	rec := s.do(http.MethodPost, "/api/v1/clusters/prod/resourcemap/snapshots")
	assert.Equal(t, http.StatusNotImplemented, rec.Code)
	assert.Equal(t, ErrCodeNotImplemented, decode[APIError](t, rec).Code)
}

func TestHealthz(t *testing.T) {
	s := newTestServer(t, nil)
	h := NewHealthzHandler(s.clusters, nil)

	rec := httptest.NewRecorder()
	h.Live(rec, httptest.NewRequest(http.MethodGet, "/healthz/live", nil))
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = httptest.NewRecorder()
	h.Ready(rec, httptest.NewRequest(http.MethodGet, "/healthz/ready", nil))
	assert.Equal(t, http.StatusOK, rec.Code)

	require.NoError(t, s.clusters.RemoveCluster(context.Background(), "prod"))
	rec = httptest.NewRecorder()
	h.Ready(rec, httptest.NewRequest(http.MethodGet, "/healthz/ready", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}
