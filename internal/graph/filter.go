package graph

import "k8s.io/apimachinery/pkg/util/sets"

// FilterType names a Filter variant.
type FilterType string

const (
	FilterHasErrors FilterType = "hasErrors"
	FilterNamespace FilterType = "namespace"
)

// Filter is a node predicate used to seed FilterGraph.
type Filter struct {
	Type FilterType
	// Namespaces is used by FilterNamespace. An empty set matches every node.
	Namespaces sets.Set[string]
}

// HasErrorsFilter matches resources whose status is not success.
func HasErrorsFilter() Filter {
	return Filter{Type: FilterHasErrors}
}

// NamespaceFilter matches resources in one of namespaces.
func NamespaceFilter(namespaces ...string) Filter {
	return Filter{Type: FilterNamespace, Namespaces: sets.New(namespaces...)}
}

func (f Filter) matches(n *Node) bool {
	switch f.Type {
	case FilterHasErrors:
		return n.Resource != nil && GetStatus(n.Resource) != StatusSuccess
	case FilterNamespace:
		if f.Namespaces.Len() == 0 {
			return true
		}
		ns := n.Resource.Namespace()
		return ns != "" && f.Namespaces.Has(ns)
	}
	return true
}

// FilterGraph keeps every node that passes all filters together with
// everything connected to it, in either direction, through any number of
// edges. Only edges with both endpoints in the result are kept. An empty
// filter list returns the input unchanged.
func FilterGraph(nodes []*Node, edges []*Edge, filters []Filter) ([]*Node, []*Edge) {
	if len(filters) == 0 {
		return nodes, edges
	}

	byID := make(map[string]*Node, len(nodes))
	for _, n := range nodes {
		byID[n.ID] = n
	}
	// incident edges per node, in input edge order
	incident := make(map[string][]*Edge, len(nodes))
	for _, e := range edges {
		incident[e.Source] = append(incident[e.Source], e)
		if e.Target != e.Source {
			incident[e.Target] = append(incident[e.Target], e)
		}
	}

	var (
		outNodes     []*Node
		outEdges     []*Edge
		visitedNodes = sets.New[string]()
		visitedEdges = sets.New[string]()
	)

	var pushRelated func(n *Node)
	pushRelated = func(n *Node) {
		if visitedNodes.Has(n.ID) {
			return
		}
		visitedNodes.Insert(n.ID)
		outNodes = append(outNodes, n)

		for _, e := range incident[n.ID] {
			other := e.Target
			if other == n.ID {
				other = e.Source
			}
			otherNode, ok := byID[other]
			if !ok {
				continue
			}
			pushRelated(otherNode)
			if !visitedEdges.Has(e.ID) {
				visitedEdges.Insert(e.ID)
				outEdges = append(outEdges, e)
			}
		}
	}

	for _, n := range nodes {
		keep := true
		for _, f := range filters {
			if !f.matches(n) {
				keep = false
				break
			}
		}
		if keep {
			pushRelated(n)
		}
	}

	return outNodes, outEdges
}
