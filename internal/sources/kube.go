package sources

import (
	"context"
	"log/slog"
	"sort"

	"k8s.io/client-go/tools/cache"

	"github.com/kubilitics/resourcemap/internal/graph"
)

// Informers hands out started shared informers by kind.
type Informers interface {
	Informer(kind string) (cache.SharedIndexInformer, error)
}

// KubeProvider turns the store of one informer into leaf nodes.
type KubeProvider struct {
	kind      string
	informers Informers
	log       *slog.Logger
}

func NewKubeProvider(kind string, informers Informers, log *slog.Logger) *KubeProvider {
	if log == nil {
		log = slog.Default()
	}
	return &KubeProvider{kind: kind, informers: informers, log: log.With("kind", kind)}
}

func (p *KubeProvider) Run(ctx context.Context, notify func(*Data)) {
	notify(nil)

	inf, err := p.informers.Informer(p.kind)
	if err != nil {
		// stays loading, same as a list that never completes
		p.log.Error("failed to get informer", "error", err)
		<-ctx.Done()
		return
	}

	changed := make(chan struct{}, 1)
	signal := func() {
		select {
		case changed <- struct{}{}:
		default:
		}
	}
	reg, err := inf.AddEventHandler(cache.ResourceEventHandlerFuncs{
		AddFunc:    func(interface{}) { signal() },
		UpdateFunc: func(interface{}, interface{}) { signal() },
		DeleteFunc: func(interface{}) { signal() },
	})
	if err != nil {
		p.log.Error("failed to register event handler", "error", err)
		<-ctx.Done()
		return
	}
	defer func() {
		if err := inf.RemoveEventHandler(reg); err != nil {
			p.log.Warn("failed to remove event handler", "error", err)
		}
	}()

	if !cache.WaitForCacheSync(ctx.Done(), inf.HasSynced, reg.HasSynced) {
		return
	}
	// the initial adds are already part of the first snapshot
	select {
	case <-changed:
	default:
	}
	notify(p.snapshot(inf.GetStore()))

	for {
		select {
		case <-ctx.Done():
			return
		case <-changed:
			notify(p.snapshot(inf.GetStore()))
		}
	}
}

// snapshot lists the store sorted by namespace and name so that repeated
// snapshots of the same objects are identical.
func (p *KubeProvider) snapshot(store cache.Store) *Data {
	items := store.List()
	nodes := make([]*graph.Node, 0, len(items))
	for _, item := range items {
		obj, ok := item.(graph.Object)
		if !ok {
			continue
		}
		nodes = append(nodes, graph.NewKubeObjectNode(p.kind, obj))
	}
	sort.Slice(nodes, func(i, j int) bool {
		a, b := nodes[i].Resource, nodes[j].Resource
		if a.Namespace() != b.Namespace() {
			return a.Namespace() < b.Namespace()
		}
		return a.Name() < b.Name()
	})
	return &Data{Nodes: nodes, Edges: []*graph.Edge{}}
}

// DefaultSources is the source tree shown on the map. Leaf ids are kinds.
func DefaultSources(informers Informers, log *slog.Logger) []*Source {
	leaf := func(kind, label string) *Source {
		return NewLeaf(kind, label, NewKubeProvider(kind, informers, log))
	}
	return []*Source{
		NewComposite("workloads", "Workloads",
			leaf("Pod", "Pods"),
			leaf("Deployment", "Deployments"),
			leaf("StatefulSet", "Stateful Sets"),
			leaf("DaemonSet", "Daemon Sets"),
			leaf("ReplicaSet", "Replica Sets"),
			leaf("Job", "Jobs"),
			leaf("CronJob", "Cron Jobs"),
		),
		NewComposite("storage", "Storage",
			leaf("PersistentVolumeClaim", "Persistent Volume Claims"),
		),
		NewComposite("network", "Network",
			leaf("Service", "Services"),
			leaf("Endpoints", "Endpoints"),
			leaf("Ingress", "Ingresses"),
			leaf("IngressClass", "Ingress Classes"),
			leaf("NetworkPolicy", "Network Policies"),
		),
		NewComposite("security", "Security",
			leaf("ServiceAccount", "Service Accounts"),
			leaf("Role", "Roles"),
			leaf("RoleBinding", "Role Bindings"),
		).Disabled(),
		NewComposite("configuration", "Configuration",
			leaf("ConfigMap", "Config Maps"),
			leaf("Secret", "Secrets"),
			leaf("MutatingWebhookConfiguration", "Mutating Webhook Configurations"),
			leaf("ValidatingWebhookConfiguration", "Validating Webhook Configurations"),
			leaf("HorizontalPodAutoscaler", "Horizontal Pod Autoscalers"),
			leaf("PodDisruptionBudget", "Pod Disruption Budgets"),
		).Disabled(),
	}
}
