package graph

// Lookup indexes a node/edge list for constant time adjacency queries.
type Lookup struct {
	outgoing map[string][]*Edge
	incoming map[string][]*Edge
	nodes    map[string]*Node
}

// MakeLookup builds a Lookup over nodes and edges. Every node starts with
// empty adjacency lists so that "known node without edges" and "unknown id"
// can be told apart. Edge endpoints are indexed even if the node list does
// not contain them.
func MakeLookup(nodes []*Node, edges []*Edge) *Lookup {
	l := &Lookup{
		outgoing: make(map[string][]*Edge, len(nodes)),
		incoming: make(map[string][]*Edge, len(nodes)),
		nodes:    make(map[string]*Node, len(nodes)),
	}
	for _, n := range nodes {
		l.nodes[n.ID] = n
		if _, ok := l.outgoing[n.ID]; !ok {
			l.outgoing[n.ID] = []*Edge{}
		}
		if _, ok := l.incoming[n.ID]; !ok {
			l.incoming[n.ID] = []*Edge{}
		}
	}
	for _, e := range edges {
		l.outgoing[e.Source] = append(l.outgoing[e.Source], e)
		l.incoming[e.Target] = append(l.incoming[e.Target], e)
	}
	return l
}

// OutgoingEdges returns the edges whose source is id.
func (l *Lookup) OutgoingEdges(id string) ([]*Edge, bool) {
	edges, ok := l.outgoing[id]
	return edges, ok
}

// IncomingEdges returns the edges whose target is id.
func (l *Lookup) IncomingEdges(id string) ([]*Edge, bool) {
	edges, ok := l.incoming[id]
	return edges, ok
}

func (l *Lookup) Node(id string) (*Node, bool) {
	n, ok := l.nodes[id]
	return n, ok
}
