package sources

import (
	"context"
	"sync"

	corev1 "k8s.io/api/core/v1"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/types"

	"github.com/kubilitics/resourcemap/internal/graph"
)

func meta(uid, namespace, name string) metav1.ObjectMeta {
	return metav1.ObjectMeta{UID: types.UID(uid), Namespace: namespace, Name: name}
}

func podNode(uid, namespace, name string, labels map[string]string) *graph.Node {
	pod := &corev1.Pod{ObjectMeta: meta(uid, namespace, name)}
	pod.Labels = labels
	return graph.NewKubeObjectNode("Pod", pod)
}

func serviceNode(uid, namespace, name string, selector map[string]string) *graph.Node {
	svc := &corev1.Service{ObjectMeta: meta(uid, namespace, name)}
	svc.Spec.Selector = selector
	return graph.NewKubeObjectNode("Service", svc)
}

func nodeIDs(nodes []*graph.Node) []string {
	out := make([]string, 0, len(nodes))
	for _, n := range nodes {
		out = append(out, n.ID)
	}
	return out
}

func edgeIDs(edges []*graph.Edge) []string {
	out := make([]string, 0, len(edges))
	for _, e := range edges {
		out = append(out, e.ID)
	}
	return out
}

// controlledProvider lets a test push data into a running source.
type controlledProvider struct {
	mu      sync.Mutex
	notify  func(*Data)
	ready   chan struct{}
	once    sync.Once
	stopped chan struct{}
}

func newControlledProvider() *controlledProvider {
	return &controlledProvider{ready: make(chan struct{}), stopped: make(chan struct{}, 8)}
}

func (p *controlledProvider) Run(ctx context.Context, notify func(*Data)) {
	p.mu.Lock()
	p.notify = notify
	p.mu.Unlock()
	p.once.Do(func() { close(p.ready) })
	<-ctx.Done()
	p.stopped <- struct{}{}
}

func (p *controlledProvider) push(d *Data) {
	<-p.ready
	p.mu.Lock()
	notify := p.notify
	p.mu.Unlock()
	notify(d)
}
