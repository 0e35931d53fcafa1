package sources

import (
	"k8s.io/apimachinery/pkg/util/sets"

	"github.com/kubilitics/resourcemap/internal/graph"
)

// Relation synthesizes edges between the nodes of two sources. When
// ToSource is empty the predicate is evaluated against every merged node.
type Relation struct {
	FromSource string
	ToSource   string
	Predicate  func(from, to *graph.Node) bool
}

// Merged is the aggregate of all selected sources.
type Merged struct {
	Nodes     []*graph.Node
	Edges     []*graph.Edge
	IsLoading bool
}

// Merge combines the data of the selected leaves, in leaf order, and adds
// the edges produced by relations. data holds the last value reported by
// each source; a missing entry or a nil value means loading.
func Merge(leaves []*Source, selected sets.Set[string], data map[string]*Data, relations []Relation) Merged {
	var out Merged
	bySource := make(map[string][]*graph.Node)
	edgeIDs := sets.New[string]()

	for _, leaf := range leaves {
		if !selected.Has(leaf.ID) {
			continue
		}
		d := data[leaf.ID]
		if d == nil {
			out.IsLoading = true
			continue
		}
		bySource[leaf.ID] = d.Nodes
		out.Nodes = append(out.Nodes, d.Nodes...)
		for _, e := range d.Edges {
			edgeIDs.Insert(e.ID)
			out.Edges = append(out.Edges, e)
		}
	}

	for _, rel := range relations {
		fromNodes, ok := bySource[rel.FromSource]
		if !ok {
			continue
		}
		toNodes := out.Nodes
		if rel.ToSource != "" {
			if toNodes, ok = bySource[rel.ToSource]; !ok {
				continue
			}
		}
		for _, from := range fromNodes {
			for _, to := range toNodes {
				if from.ID == to.ID || !rel.Predicate(from, to) {
					continue
				}
				e := graph.NewEdge(from.ID, to.ID)
				if edgeIDs.Has(e.ID) {
					continue
				}
				edgeIDs.Insert(e.ID)
				out.Edges = append(out.Edges, e)
			}
		}
	}
	return out
}
