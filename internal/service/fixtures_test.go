package service

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	appsv1 "k8s.io/api/apps/v1"
	corev1 "k8s.io/api/core/v1"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/runtime"
	"k8s.io/apimachinery/pkg/types"
	"k8s.io/client-go/kubernetes/fake"
	"k8s.io/utils/ptr"

	"github.com/kubilitics/resourcemap/internal/config"
	"github.com/kubilitics/resourcemap/internal/models"
)

func objectMeta(uid, namespace, name string, owners ...metav1.OwnerReference) metav1.ObjectMeta {
	return metav1.ObjectMeta{
		UID:               types.UID(uid),
		Namespace:         namespace,
		Name:              name,
		OwnerReferences:   owners,
		CreationTimestamp: metav1.NewTime(time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)),
	}
}

func ownedBy(kind, uid, name string) metav1.OwnerReference {
	return metav1.OwnerReference{Kind: kind, UID: types.UID(uid), Name: name}
}

// shopObjects is a healthy web deployment in namespace shop and a failed
// pod in default.
func shopObjects() []runtime.Object {
	return []runtime.Object{
		&corev1.Namespace{ObjectMeta: metav1.ObjectMeta{UID: "ns-shop", Name: "shop"}},
		&corev1.Namespace{ObjectMeta: metav1.ObjectMeta{UID: "ns-default", Name: "default"}},
		&appsv1.Deployment{
			ObjectMeta: objectMeta("dep-web", "shop", "web"),
			Spec:       appsv1.DeploymentSpec{Replicas: ptr.To[int32](1)},
			Status:     appsv1.DeploymentStatus{ReadyReplicas: 1},
		},
		&appsv1.ReplicaSet{
			ObjectMeta: objectMeta("rs-web", "shop", "web-abc", ownedBy("Deployment", "dep-web", "web")),
			Spec:       appsv1.ReplicaSetSpec{Replicas: ptr.To[int32](1)},
			Status:     appsv1.ReplicaSetStatus{ReadyReplicas: 1},
		},
		&corev1.Pod{
			ObjectMeta: objectMeta("pod-1", "shop", "web-abc-1", ownedBy("ReplicaSet", "rs-web", "web-abc")),
			Status: corev1.PodStatus{
				Phase:      corev1.PodRunning,
				Conditions: []corev1.PodCondition{{Type: corev1.PodReady, Status: corev1.ConditionTrue}},
			},
		},
		&corev1.Pod{
			ObjectMeta: objectMeta("pod-2", "default", "broken"),
			Status:     corev1.PodStatus{Phase: corev1.PodFailed},
		},
	}
}

func testConfig() *config.Config {
	return &config.Config{
		MaxClusters:       10,
		ThrottleMs:        0,
		Sources:           []string{"Pod", "Deployment", "ReplicaSet"},
		LayoutCacheSize:   16,
		ExpandAllMaxNodes: 50,
	}
}

type testEnv struct {
	clusters ClusterService
	maps     ResourceMapService
}

// newTestEnv registers cluster "prod" over a fake clientset holding objects.
func newTestEnv(t *testing.T, cfg *config.Config, objects ...runtime.Object) *testEnv {
	t.Helper()
	cs := NewClusterService(cfg, nil)
	t.Cleanup(cs.Shutdown)
	maps := NewResourceMapService(cs, nil, cfg, nil)
	_, err := cs.AttachCluster(context.Background(), "prod", "Production", fake.NewSimpleClientset(objects...))
	require.NoError(t, err)
	return &testEnv{clusters: cs, maps: maps}
}

// loadedMap waits until every selected source has delivered and returns the map for view.
func (e *testEnv) loadedMap(t *testing.T, view ViewState) *models.ResourceMap {
	t.Helper()
	var m *models.ResourceMap
	var err error
	require.Eventually(t, func() bool {
		m, err = e.maps.GetMap(context.Background(), "prod", view)
		return err == nil && !m.IsLoading
	}, 5*time.Second, 10*time.Millisecond)
	require.NoError(t, err)
	return m
}

func mapNodes(m *models.ResourceMap) map[string]models.MapNode {
	out := make(map[string]models.MapNode, len(m.Nodes))
	for _, n := range m.Nodes {
		out[n.ID] = n
	}
	return out
}

func breadcrumbIDs(crumbs []models.Breadcrumb) []string {
	out := make([]string, 0, len(crumbs))
	for _, c := range crumbs {
		out = append(out, c.ID)
	}
	return out
}
