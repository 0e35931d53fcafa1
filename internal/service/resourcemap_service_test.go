package service

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	corev1 "k8s.io/api/core/v1"
	"k8s.io/apimachinery/pkg/runtime"
	"k8s.io/client-go/kubernetes/fake"

	"github.com/kubilitics/resourcemap/internal/graph"
	"github.com/kubilitics/resourcemap/internal/layout"
	"github.com/kubilitics/resourcemap/internal/models"
	"github.com/kubilitics/resourcemap/internal/pkg/mapexport"
	"github.com/kubilitics/resourcemap/internal/repository"
	"github.com/kubilitics/resourcemap/internal/sources"
)

func TestGetMap_GroupsByNamespace(t *testing.T) {
	env := newTestEnv(t, testConfig(), shopObjects()...)
	m := env.loadedMap(t, DefaultViewState())

	nodes := mapNodes(m)
	assert.ElementsMatch(t, []string{"ns-shop", "group-dep-web", "ns-default", "pod-2"}, keys(nodes))

	shop := nodes["ns-shop"]
	assert.Equal(t, "group", shop.Type)
	assert.Equal(t, "shop", shop.Label)
	assert.Equal(t, "Namespace", shop.Kind)
	assert.Equal(t, "success", shop.Status)
	assert.Equal(t, 3, shop.ChildCount)

	web := nodes["group-dep-web"]
	assert.Equal(t, "kubeGroup", web.Type)
	assert.Equal(t, "ns-shop", web.ParentID)
	assert.Equal(t, "web", web.Label)
	assert.True(t, web.Collapsed)
	assert.Equal(t, 3, web.ChildCount)

	def := nodes["ns-default"]
	assert.Equal(t, "error", def.Status)
	assert.Equal(t, 1, def.ErrorCount)
	assert.Equal(t, "ns-default", nodes["pod-2"].ParentID)
	assert.Equal(t, "error", nodes["pod-2"].Status)

	assert.Empty(t, m.Edges, "edges of collapsed groups are hidden")
	assert.Equal(t, []string{graph.RootID}, breadcrumbIDs(m.Breadcrumbs))
	assert.Equal(t, "prod", m.ClusterID)
	assert.Positive(t, m.Width)
	assert.Positive(t, m.Height)
}

func TestGetMap_ExpandAll(t *testing.T) {
	env := newTestEnv(t, testConfig(), shopObjects()...)
	view := DefaultViewState()
	view.ExpandAll = true
	m := env.loadedMap(t, view)

	nodes := mapNodes(m)
	for _, id := range []string{"dep-web", "rs-web", "pod-1"} {
		require.Contains(t, nodes, id)
		assert.Equal(t, "group-dep-web", nodes[id].ParentID)
	}
	assert.False(t, nodes["group-dep-web"].Collapsed)
	assert.Len(t, m.Edges, 2)
	assert.False(t, m.ExpandAllIgnored)
}

func TestGetMap_ExpandAllIgnoredForLargeGraphs(t *testing.T) {
	cfg := testConfig()
	cfg.ExpandAllMaxNodes = 3
	env := newTestEnv(t, cfg, shopObjects()...)
	view := DefaultViewState()
	view.ExpandAll = true
	m := env.loadedMap(t, view)

	assert.True(t, m.ExpandAllIgnored)
	assert.NotContains(t, mapNodes(m), "pod-1")
}

func TestGetMap_SelectedNode(t *testing.T) {
	env := newTestEnv(t, testConfig(), shopObjects()...)
	view := DefaultViewState()
	view.SelectedNodeID = "pod-1"
	m := env.loadedMap(t, view)

	assert.ElementsMatch(t, []string{"ns-shop", "group-dep-web", "dep-web", "rs-web", "pod-1"}, keys(mapNodes(m)))
	assert.Equal(t, []string{graph.RootID, "ns-shop", "group-dep-web", "pod-1"}, breadcrumbIDs(m.Breadcrumbs))
	assert.Equal(t, "web-abc-1", m.Breadcrumbs[3].Label)
}

func TestGetMap_HasErrorsFilter(t *testing.T) {
	env := newTestEnv(t, testConfig(), shopObjects()...)
	view := DefaultViewState()
	view.HasErrors = true
	m := env.loadedMap(t, view)

	assert.ElementsMatch(t, []string{"ns-default", "pod-2"}, keys(mapNodes(m)))
}

func TestGetMap_NamespaceFilterWithoutGrouping(t *testing.T) {
	env := newTestEnv(t, testConfig(), shopObjects()...)
	view := DefaultViewState()
	view.GroupBy = graph.GroupByNone
	view.Namespaces = []string{"shop"}
	m := env.loadedMap(t, view)

	nodes := mapNodes(m)
	assert.ElementsMatch(t, []string{"group-dep-web"}, keys(nodes))
	assert.Empty(t, nodes["group-dep-web"].ParentID)
}

func TestGetMap_Cached(t *testing.T) {
	env := newTestEnv(t, testConfig(), shopObjects()...)
	first := env.loadedMap(t, DefaultViewState())

	again, err := env.maps.GetMap(context.Background(), "prod", DefaultViewState())
	require.NoError(t, err)
	assert.Same(t, first, again)
}

func TestGetMap_UnknownCluster(t *testing.T) {
	env := newTestEnv(t, testConfig())
	_, err := env.maps.GetMap(context.Background(), "staging", DefaultViewState())
	assert.ErrorIs(t, err, ErrClusterNotFound)
}

func TestSources_Toggle(t *testing.T) {
	env := newTestEnv(t, testConfig(), shopObjects()...)
	ctx := context.Background()
	env.loadedMap(t, DefaultViewState())

	tree, err := env.maps.Sources(ctx, "prod")
	require.NoError(t, err)
	workloads := findSource(t, tree.Sources, "workloads")
	assert.Equal(t, "composite", workloads.Kind)
	assert.Equal(t, "partial", workloads.State)
	assert.Equal(t, 4, workloads.Nodes)
	assert.Equal(t, "none", findSource(t, tree.Sources, "network").State)

	tree, err = env.maps.ToggleSource(ctx, "prod", "Pod")
	require.NoError(t, err)
	pods := findSource(t, findSource(t, tree.Sources, "workloads").Children, "Pod")
	assert.Equal(t, "none", pods.State)

	m := env.loadedMap(t, DefaultViewState())
	assert.NotContains(t, mapNodes(m), "pod-2")

	_, err = env.maps.ToggleSource(ctx, "prod", "Gateway")
	assert.ErrorIs(t, err, sources.ErrUnknownSource)
	_, err = env.maps.ToggleSource(ctx, "prod", "not a source")
	assert.ErrorIs(t, err, ErrInvalidSourceID)
}

func findSource(t *testing.T, infos []models.SourceInfo, id string) models.SourceInfo {
	t.Helper()
	for _, info := range infos {
		if info.ID == id {
			return info
		}
	}
	require.Failf(t, "source not found", "%s", id)
	return models.SourceInfo{}
}

func TestSearch(t *testing.T) {
	env := newTestEnv(t, testConfig(), shopObjects()...)
	ctx := context.Background()
	env.loadedMap(t, DefaultViewState())

	results, err := env.maps.Search(ctx, "prod", " web ")
	require.NoError(t, err)
	ids := make([]string, 0, len(results))
	for _, r := range results {
		ids = append(ids, r.ID)
	}
	assert.ElementsMatch(t, []string{"pod-1", "dep-web", "rs-web"}, ids)

	results, err = env.maps.Search(ctx, "prod", "WEB")
	require.NoError(t, err)
	assert.Empty(t, results, "matching is case sensitive")

	_, err = env.maps.Search(ctx, "prod", "   ")
	assert.ErrorIs(t, err, ErrInvalidQuery)
}

func TestSearch_CapsResults(t *testing.T) {
	var objects []runtime.Object
	for i := 0; i < 12; i++ {
		objects = append(objects, &corev1.Pod{ObjectMeta: objectMeta(fmt.Sprintf("pod-%d", i), "shop", fmt.Sprintf("worker-%d", i))})
	}
	env := newTestEnv(t, testConfig(), objects...)
	env.loadedMap(t, DefaultViewState())

	results, err := env.maps.Search(context.Background(), "prod", "worker")
	require.NoError(t, err)
	assert.Len(t, results, SearchMaxResults)
}

func TestNodeDetails(t *testing.T) {
	env := newTestEnv(t, testConfig(), shopObjects()...)
	ctx := context.Background()
	env.loadedMap(t, DefaultViewState())

	d, err := env.maps.NodeDetails(ctx, "prod", "pod-1", DefaultViewState())
	require.NoError(t, err)
	assert.Equal(t, "Pod", d.Kind)
	assert.Equal(t, "web-abc-1", d.Name)
	assert.Equal(t, "shop", d.Namespace)
	assert.Equal(t, "success", d.Status)
	assert.Equal(t, []string{"ReplicaSet"}, d.OwnerKinds)
	assert.Equal(t, []string{graph.RootID, "ns-shop", "group-dep-web", "pod-1"}, breadcrumbIDs(d.GroupPath))
	require.Len(t, d.Outgoing, 1)
	assert.Equal(t, models.EdgeRef{ID: "pod-1-rs-web", NodeID: "rs-web", Kind: "ReplicaSet", Name: "web-abc"}, d.Outgoing[0])
	assert.Empty(t, d.Incoming)

	rs, err := env.maps.NodeDetails(ctx, "prod", "rs-web", DefaultViewState())
	require.NoError(t, err)
	require.Len(t, rs.Incoming, 1)
	assert.Equal(t, "pod-1", rs.Incoming[0].NodeID)

	_, err = env.maps.NodeDetails(ctx, "prod", "missing", DefaultViewState())
	assert.ErrorIs(t, err, ErrNodeNotFound)
}

func TestExport(t *testing.T) {
	env := newTestEnv(t, testConfig(), shopObjects()...)
	env.loadedMap(t, DefaultViewState())

	out, err := env.maps.Export(context.Background(), "prod", DefaultViewState(), mapexport.FormatMermaid)
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(string(out), "flowchart LR"))

	out, err = env.maps.Export(context.Background(), "prod", DefaultViewState(), mapexport.FormatJSON)
	require.NoError(t, err)
	var m models.ResourceMap
	require.NoError(t, json.Unmarshal(out, &m))
	assert.Equal(t, "prod", m.ClusterID)
}

func TestSnapshots(t *testing.T) {
	repo, err := repository.Open(repository.DriverSQLite, ":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { repo.Close() })
	require.NoError(t, repo.Migrate(context.Background()))

	cfg := testConfig()
	cs := NewClusterService(cfg, nil)
	t.Cleanup(cs.Shutdown)
	maps := NewResourceMapService(cs, repo, cfg, nil)
	env := &testEnv{clusters: cs, maps: maps}
	ctx := context.Background()
	_, err = cs.AttachCluster(ctx, "prod", "", fake.NewSimpleClientset(shopObjects()...))
	require.NoError(t, err)
	loaded := env.loadedMap(t, DefaultViewState())

	saved, err := maps.SaveSnapshot(ctx, "prod", DefaultViewState())
	require.NoError(t, err)
	assert.NotEmpty(t, saved.ID)
	assert.Equal(t, len(loaded.Nodes), saved.NodeCount)

	list, err := maps.ListSnapshots(ctx, "prod", 10)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, saved.ID, list[0].ID)

	got, err := maps.GetSnapshot(ctx, "prod", saved.ID)
	require.NoError(t, err)
	var m models.ResourceMap
	require.NoError(t, json.Unmarshal([]byte(got.Data), &m))
	assert.Equal(t, loaded.Generation, m.Generation)

	_, err = maps.GetSnapshot(ctx, "prod", "missing")
	assert.ErrorIs(t, err, repository.ErrSnapshotNotFound)
}

func TestSnapshots_Disabled(t *testing.T) {
	env := newTestEnv(t, testConfig())
	_, err := env.maps.SaveSnapshot(context.Background(), "prod", DefaultViewState())
	assert.ErrorIs(t, err, ErrSnapshotsDisabled)
	_, err = env.maps.ListSnapshots(context.Background(), "prod", 0)
	assert.ErrorIs(t, err, ErrSnapshotsDisabled)
}

func TestWatch_StreamsNewGenerations(t *testing.T) {
	env := newTestEnv(t, testConfig(), shopObjects()...)
	env.loadedMap(t, DefaultViewState())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	updates, err := env.maps.Watch(ctx, "prod", DefaultViewState())
	require.NoError(t, err)

	var first *models.ResourceMap
	select {
	case first = <-updates:
	case <-time.After(5 * time.Second):
		t.Fatal("no initial map")
	}
	assert.False(t, first.IsLoading)

	_, err = env.maps.ToggleSource(context.Background(), "prod", "Pod")
	require.NoError(t, err)

	last := first
	require.Eventually(t, func() bool {
		select {
		case m := <-updates:
			if m.Generation <= last.Generation {
				return false
			}
			last = m
			_, hasPod := mapNodes(m)["pod-2"]
			return !hasPod && !m.IsLoading
		default:
			return false
		}
	}, 5*time.Second, 10*time.Millisecond)
	assert.Greater(t, last.Generation, first.Generation)

	cancel()
	require.Eventually(t, func() bool {
		select {
		case _, ok := <-updates:
			return !ok
		default:
			return false
		}
	}, 5*time.Second, 10*time.Millisecond)
}

// slowEngine delays every layout to outlast the source churn.
type slowEngine struct {
	delay time.Duration
	inner layout.Engine
}

func (e *slowEngine) Layout(ctx context.Context, root *layout.Node) error {
	select {
	case <-time.After(e.delay):
	case <-ctx.Done():
		return ctx.Err()
	}
	return e.inner.Layout(ctx, root)
}

func TestWatch_KeepsStreamingWhenLayoutIsSlowerThanChurn(t *testing.T) {
	cfg := testConfig()
	cfg.ThrottleMs = 100
	env := newTestEnv(t, cfg, shopObjects()...)
	env.maps.(*resourceMapService).engine = &slowEngine{delay: 300 * time.Millisecond, inner: layout.NewEngine()}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	churned := make(chan struct{})
	go func() {
		defer close(churned)
		ticker := time.NewTicker(100 * time.Millisecond)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				_, _ = env.maps.ToggleSource(context.Background(), "prod", "ReplicaSet")
			}
		}
	}()

	view := DefaultViewState()
	view.GroupBy = graph.GroupByNode
	updates, err := env.maps.Watch(ctx, "prod", view)
	require.NoError(t, err)

	var generations []uint64
	deadline := time.After(5 * time.Second)
	for len(generations) < 3 {
		select {
		case m, ok := <-updates:
			require.True(t, ok, "stream closed")
			generations = append(generations, m.Generation)
		case <-deadline:
			t.Fatalf("only %d maps delivered in 5s while generations advance every 100ms", len(generations))
		}
	}
	for i := 1; i < len(generations); i++ {
		assert.Greater(t, generations[i], generations[i-1], "generations never go backwards")
	}

	cancel()
	<-churned
}

func TestWatch_UnknownCluster(t *testing.T) {
	env := newTestEnv(t, testConfig())
	_, err := env.maps.Watch(context.Background(), "staging", DefaultViewState())
	assert.ErrorIs(t, err, ErrClusterNotFound)
}

func keys(nodes map[string]models.MapNode) []string {
	out := make([]string, 0, len(nodes))
	for id := range nodes {
		out = append(out, id)
	}
	return out
}
