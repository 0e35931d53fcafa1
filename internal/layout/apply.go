package layout

import (
	"context"
	"fmt"
	"slices"

	"k8s.io/apimachinery/pkg/util/sets"

	"github.com/kubilitics/resourcemap/internal/graph"
)

// partitionLayers orders kinds left to right inside layered containers so
// that owners are drawn before what they own.
var partitionLayers = [][]string{
	{"Deployment"},
	{"ReplicaSet", "ServiceAccount", "CronJob", "DaemonSet", "StatefulSet"},
	{"Job"},
	{"Pod", "RoleBinding"},
	{"Service", "NetworkPolicy", "Role"},
	{"Endpoints"},
}

// PartitionOf returns the layer index of a kube object node, or -1.
func PartitionOf(n *graph.Node) int {
	if n.Type != graph.NodeTypeKubeObject {
		return -1
	}
	kind := n.Kind()
	for i, layer := range partitionLayers {
		if slices.Contains(layer, kind) {
			return i
		}
	}
	return -1
}

// Convert builds the engine input for graph. Recursion stops at collapsed
// groups, which become plain boxes. Edges whose endpoints are not inside
// the group that declares them are dropped.
func Convert(n *graph.Node, aspectRatio float64) *Node {
	ln := &Node{
		ID:        n.ID,
		Width:     NodeWidth,
		Height:    NodeHeight,
		Partition: PartitionOf(n),
		Graph:     n,
	}
	if !n.IsGroup() || n.Collapsed {
		return ln
	}

	inside := sets.New[string]()
	graph.ForEachNode(n, func(child *graph.Node) {
		inside.Insert(child.ID)
	})
	for _, e := range n.Edges {
		if !inside.Has(e.Source) || !inside.Has(e.Target) {
			continue
		}
		ln.Edges = append(ln.Edges, &Edge{
			ID:     e.ID,
			Source: e.Source,
			Target: e.Target,
			Graph:  e,
		})
	}

	if len(ln.Edges) > 0 {
		ln.Options = LayeredOptions()
	} else {
		ln.Options = RectPackingOptions(aspectRatio)
	}
	for _, child := range n.Nodes {
		ln.Children = append(ln.Children, Convert(child, aspectRatio))
	}
	return ln
}

// Flatten turns the nested engine output into absolute boxes. The root
// itself is not emitted; its children have no ParentID.
func Flatten(root *Node) *Result {
	res := &Result{Width: root.Width, Height: root.Height}

	pushEdges := func(n *Node, abs Point) {
		for _, e := range n.Edges {
			fe := &FlatEdge{
				ID:           e.ID,
				Source:       e.Source,
				Target:       e.Target,
				ParentOffset: abs,
				Edge:         e.Graph,
			}
			for _, s := range e.Sections {
				fe.Sections = append(fe.Sections, s.offset(abs))
			}
			res.Edges = append(res.Edges, fe)
		}
	}

	var walk func(n *Node, parentID string, abs Point)
	walk = func(n *Node, parentID string, abs Point) {
		res.Nodes = append(res.Nodes, &FlatNode{
			ID:       n.ID,
			ParentID: parentID,
			X:        abs.X,
			Y:        abs.Y,
			Width:    n.Width,
			Height:   n.Height,
			Node:     n.Graph,
		})
		pushEdges(n, abs)
		for _, c := range n.Children {
			walk(c, n.ID, abs.Add(Point{X: c.X, Y: c.Y}))
		}
	}

	rootAbs := Point{X: root.X, Y: root.Y}
	pushEdges(root, rootAbs)
	for _, c := range root.Children {
		walk(c, "", rootAbs.Add(Point{X: c.X, Y: c.Y}))
	}
	return res
}

// ApplyGraphLayout lays out graph with engine and returns flat, absolutely
// positioned nodes and edges.
func ApplyGraphLayout(ctx context.Context, engine Engine, g *graph.Node, aspectRatio float64) (*Result, error) {
	if g == nil {
		return &Result{}, nil
	}
	root := Convert(g, aspectRatio)
	if err := engine.Layout(ctx, root); err != nil {
		return nil, fmt.Errorf("failed to layout graph %s: %w", g.ID, err)
	}
	return Flatten(root), nil
}
