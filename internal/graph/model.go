package graph

import (
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/runtime"
)

// NodeType discriminates the variants of Node.
type NodeType string

const (
	// NodeTypeKubeObject is a leaf wrapping exactly one Kubernetes object.
	NodeTypeKubeObject NodeType = "kubeObject"
	// NodeTypeKubeGroup groups kube object leaves that belong to the same workload.
	NodeTypeKubeGroup NodeType = "kubeGroup"
	// NodeTypeGroup groups arbitrary nodes (namespace, node, instance and root).
	NodeTypeGroup NodeType = "group"
)

// RootID is the id of the synthetic root group produced by GroupGraph.
const RootID = "root"

// Object is any typed client-go object.
type Object interface {
	metav1.Object
	runtime.Object
}

// Resource pairs a cluster object with its kind. Objects delivered by
// informers carry an empty TypeMeta, so the kind is kept alongside.
type Resource struct {
	Kind   string
	Object Object
}

func (r *Resource) Name() string {
	if r == nil || r.Object == nil {
		return ""
	}
	return r.Object.GetName()
}

func (r *Resource) Namespace() string {
	if r == nil || r.Object == nil {
		return ""
	}
	return r.Object.GetNamespace()
}

func (r *Resource) UID() string {
	if r == nil || r.Object == nil {
		return ""
	}
	return string(r.Object.GetUID())
}

func (r *Resource) Labels() map[string]string {
	if r == nil || r.Object == nil {
		return nil
	}
	return r.Object.GetLabels()
}

// Node is a vertex of the resource map. Leaves carry a Resource; groups own
// their child Nodes and the Edges between them. Nodes never point back to
// their parent, use GetParentNode to walk up.
type Node struct {
	ID       string
	Type     NodeType
	Label    string
	Subtitle string
	Resource *Resource

	Nodes     []*Node
	Edges     []*Edge
	Collapsed bool
}

// Edge connects two nodes by id.
type Edge struct {
	ID     string
	Source string
	Target string
	Type   string
	Label  string
	Data   map[string]any
}

// NewKubeObjectNode wraps obj in a leaf whose id is the object UID.
func NewKubeObjectNode(kind string, obj Object) *Node {
	return &Node{
		ID:       string(obj.GetUID()),
		Type:     NodeTypeKubeObject,
		Resource: &Resource{Kind: kind, Object: obj},
	}
}

// NewEdge builds an edge with the conventional "<source>-<target>" id.
func NewEdge(source, target string) *Edge {
	return &Edge{
		ID:     source + "-" + target,
		Source: source,
		Target: target,
		Type:   "kubeRelation",
	}
}

// IsGroup reports whether the node may have children.
func (n *Node) IsGroup() bool {
	return n.Type == NodeTypeGroup || n.Type == NodeTypeKubeGroup
}

// Kind returns the resource kind of a leaf or group backed by an object.
func (n *Node) Kind() string {
	if n.Resource == nil {
		return ""
	}
	return n.Resource.Kind
}

// shallowCopy returns a copy of n sharing the Resource and child slices.
func (n *Node) shallowCopy() *Node {
	c := *n
	return &c
}

// ForEachNode visits graph and every descendant depth first, parents before children.
func ForEachNode(graph *Node, fn func(*Node)) {
	if graph == nil {
		return
	}
	fn(graph)
	for _, child := range graph.Nodes {
		ForEachNode(child, fn)
	}
}

// GraphSize returns the number of nodes in graph, graph itself included.
func GraphSize(graph *Node) int {
	size := 0
	ForEachNode(graph, func(*Node) {
		size++
	})
	return size
}
