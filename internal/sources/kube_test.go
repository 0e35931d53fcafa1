package sources

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	corev1 "k8s.io/api/core/v1"
	"k8s.io/client-go/kubernetes/fake"

	"github.com/kubilitics/resourcemap/internal/k8s"
)

type recorder struct {
	mu    sync.Mutex
	calls []*Data
}

func (r *recorder) notify(d *Data) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = append(r.calls, d)
}

func (r *recorder) last() (*Data, int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.calls) == 0 {
		return nil, 0
	}
	return r.calls[len(r.calls)-1], len(r.calls)
}

func (r *recorder) first() *Data {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.calls[0]
}

func TestKubeProvider_SnapshotsStore(t *testing.T) {
	cs := fake.NewSimpleClientset(
		&corev1.Pod{ObjectMeta: meta("b", "kube-system", "coredns")},
		&corev1.Pod{ObjectMeta: meta("c", "default", "web-2")},
		&corev1.Pod{ObjectMeta: meta("a", "default", "web-1")},
	)
	im := k8s.NewInformerManager(cs, 0)
	defer im.Stop()

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	rec := &recorder{}
	go func() {
		NewKubeProvider("Pod", im, nil).Run(ctx, rec.notify)
		close(done)
	}()

	require.Eventually(t, func() bool {
		d, _ := rec.last()
		return d != nil
	}, 5*time.Second, 10*time.Millisecond)

	assert.Nil(t, rec.first(), "provider reports loading first")
	d, _ := rec.last()
	assert.Equal(t, []string{"a", "c", "b"}, nodeIDs(d.Nodes))
	assert.Equal(t, "Pod", d.Nodes[0].Kind())
	assert.NotNil(t, d.Edges)

	cancel()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("provider did not return after cancel")
	}
}

func TestKubeProvider_UnsupportedKindStaysLoading(t *testing.T) {
	im := k8s.NewInformerManager(fake.NewSimpleClientset(), 0)
	defer im.Stop()

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	rec := &recorder{}
	NewKubeProvider("Widget", im, nil).Run(ctx, rec.notify)

	d, n := rec.last()
	assert.Nil(t, d)
	assert.Equal(t, 1, n)
}

func TestDefaultSources(t *testing.T) {
	tree := DefaultSources(nil, nil)
	selected := DefaultSelection(tree)

	assert.True(t, selected.Has("Pod"))
	assert.True(t, selected.Has("Service"))
	assert.False(t, selected.Has("Secret"))
	assert.False(t, selected.Has("Role"))

	for _, leaf := range Leaves(tree...) {
		assert.Contains(t, k8s.Kinds(), leaf.ID, "every leaf must have an informer")
	}
}
