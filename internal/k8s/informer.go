package k8s

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	corev1 "k8s.io/api/core/v1"
	"k8s.io/apimachinery/pkg/labels"
	"k8s.io/client-go/informers"
	"k8s.io/client-go/kubernetes"
	"k8s.io/client-go/tools/cache"
)

// DefaultResync is the informer resync period. Informers get real-time watch
// events; the periodic re-list only covers missed events.
const DefaultResync = 5 * time.Minute

var (
	ErrUnsupportedKind  = errors.New("unsupported resource kind")
	ErrInformersStopped = errors.New("informer manager stopped")
)

type informerGetter func(informers.SharedInformerFactory) cache.SharedIndexInformer

var informerGetters = map[string]informerGetter{
	// Core resources
	"Pod":                   func(f informers.SharedInformerFactory) cache.SharedIndexInformer { return f.Core().V1().Pods().Informer() },
	"Service":               func(f informers.SharedInformerFactory) cache.SharedIndexInformer { return f.Core().V1().Services().Informer() },
	"Endpoints":             func(f informers.SharedInformerFactory) cache.SharedIndexInformer { return f.Core().V1().Endpoints().Informer() },
	"ConfigMap":             func(f informers.SharedInformerFactory) cache.SharedIndexInformer { return f.Core().V1().ConfigMaps().Informer() },
	"Secret":                func(f informers.SharedInformerFactory) cache.SharedIndexInformer { return f.Core().V1().Secrets().Informer() },
	"ServiceAccount":        func(f informers.SharedInformerFactory) cache.SharedIndexInformer { return f.Core().V1().ServiceAccounts().Informer() },
	"PersistentVolumeClaim": func(f informers.SharedInformerFactory) cache.SharedIndexInformer { return f.Core().V1().PersistentVolumeClaims().Informer() },
	"Namespace":             func(f informers.SharedInformerFactory) cache.SharedIndexInformer { return f.Core().V1().Namespaces().Informer() },
	"Node":                  func(f informers.SharedInformerFactory) cache.SharedIndexInformer { return f.Core().V1().Nodes().Informer() },

	// Apps resources
	"Deployment":  func(f informers.SharedInformerFactory) cache.SharedIndexInformer { return f.Apps().V1().Deployments().Informer() },
	"ReplicaSet":  func(f informers.SharedInformerFactory) cache.SharedIndexInformer { return f.Apps().V1().ReplicaSets().Informer() },
	"StatefulSet": func(f informers.SharedInformerFactory) cache.SharedIndexInformer { return f.Apps().V1().StatefulSets().Informer() },
	"DaemonSet":   func(f informers.SharedInformerFactory) cache.SharedIndexInformer { return f.Apps().V1().DaemonSets().Informer() },

	// Batch resources
	"Job":     func(f informers.SharedInformerFactory) cache.SharedIndexInformer { return f.Batch().V1().Jobs().Informer() },
	"CronJob": func(f informers.SharedInformerFactory) cache.SharedIndexInformer { return f.Batch().V1().CronJobs().Informer() },

	// Networking resources
	"Ingress":       func(f informers.SharedInformerFactory) cache.SharedIndexInformer { return f.Networking().V1().Ingresses().Informer() },
	"IngressClass":  func(f informers.SharedInformerFactory) cache.SharedIndexInformer { return f.Networking().V1().IngressClasses().Informer() },
	"NetworkPolicy": func(f informers.SharedInformerFactory) cache.SharedIndexInformer { return f.Networking().V1().NetworkPolicies().Informer() },

	// RBAC resources
	"Role":        func(f informers.SharedInformerFactory) cache.SharedIndexInformer { return f.Rbac().V1().Roles().Informer() },
	"RoleBinding": func(f informers.SharedInformerFactory) cache.SharedIndexInformer { return f.Rbac().V1().RoleBindings().Informer() },

	// Admission, autoscaling and policy resources
	"MutatingWebhookConfiguration": func(f informers.SharedInformerFactory) cache.SharedIndexInformer {
		return f.Admissionregistration().V1().MutatingWebhookConfigurations().Informer()
	},
	"ValidatingWebhookConfiguration": func(f informers.SharedInformerFactory) cache.SharedIndexInformer {
		return f.Admissionregistration().V1().ValidatingWebhookConfigurations().Informer()
	},
	"HorizontalPodAutoscaler": func(f informers.SharedInformerFactory) cache.SharedIndexInformer {
		return f.Autoscaling().V2().HorizontalPodAutoscalers().Informer()
	},
	"PodDisruptionBudget": func(f informers.SharedInformerFactory) cache.SharedIndexInformer { return f.Policy().V1().PodDisruptionBudgets().Informer() },
}

// Kinds returns the kinds InformerManager can watch, sorted.
func Kinds() []string {
	kinds := make([]string, 0, len(informerGetters))
	for k := range informerGetters {
		kinds = append(kinds, k)
	}
	sort.Strings(kinds)
	return kinds
}

// InformerManager owns one shared informer factory per cluster. Informers are
// created lazily, the first time a kind is asked for, so a map that only shows
// Pods and Services never lists Secrets.
type InformerManager struct {
	factory informers.SharedInformerFactory
	stopCh  chan struct{}

	mu      sync.Mutex
	started map[string]cache.SharedIndexInformer
	stopped bool
}

// NewInformerManager creates an informer manager; resync <= 0 uses DefaultResync.
func NewInformerManager(clientset kubernetes.Interface, resync time.Duration) *InformerManager {
	if resync <= 0 {
		resync = DefaultResync
	}
	return &InformerManager{
		factory: informers.NewSharedInformerFactory(clientset, resync),
		stopCh:  make(chan struct{}),
		started: make(map[string]cache.SharedIndexInformer),
	}
}

// Informer returns the running shared informer for kind, starting it if needed.
// The informer may not have synced yet.
func (im *InformerManager) Informer(kind string) (cache.SharedIndexInformer, error) {
	get, ok := informerGetters[kind]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedKind, kind)
	}

	im.mu.Lock()
	defer im.mu.Unlock()
	if im.stopped {
		return nil, ErrInformersStopped
	}
	if inf, ok := im.started[kind]; ok {
		return inf, nil
	}
	inf := get(im.factory)
	// Start only launches informers that are not running yet.
	im.factory.Start(im.stopCh)
	im.started[kind] = inf
	return inf, nil
}

// List returns the cached objects of kind once its informer has synced.
func (im *InformerManager) List(ctx context.Context, kind string) ([]interface{}, error) {
	inf, err := im.Informer(kind)
	if err != nil {
		return nil, err
	}
	if !cache.WaitForCacheSync(ctx.Done(), inf.HasSynced) {
		return nil, fmt.Errorf("failed to sync cache for %s: %w", kind, context.Cause(ctx))
	}
	return inf.GetStore().List(), nil
}

// Namespaces lists cached namespaces, used to decorate namespace groups.
func (im *InformerManager) Namespaces(ctx context.Context) ([]*corev1.Namespace, error) {
	if _, err := im.List(ctx, "Namespace"); err != nil {
		return nil, err
	}
	return im.factory.Core().V1().Namespaces().Lister().List(labels.Everything())
}

// Nodes lists cached nodes, used to decorate node groups.
func (im *InformerManager) Nodes(ctx context.Context) ([]*corev1.Node, error) {
	if _, err := im.List(ctx, "Node"); err != nil {
		return nil, err
	}
	return im.factory.Core().V1().Nodes().Lister().List(labels.Everything())
}

// Started returns the kinds whose informers are running, sorted.
func (im *InformerManager) Started() []string {
	im.mu.Lock()
	defer im.mu.Unlock()
	kinds := make([]string, 0, len(im.started))
	for k := range im.started {
		kinds = append(kinds, k)
	}
	sort.Strings(kinds)
	return kinds
}

// Stop stops all informers and waits for their goroutines. Safe to call twice.
func (im *InformerManager) Stop() {
	im.mu.Lock()
	if im.stopped {
		im.mu.Unlock()
		return
	}
	im.stopped = true
	close(im.stopCh)
	im.mu.Unlock()
	im.factory.Shutdown()
}
