package graph

import (
	"sort"

	corev1 "k8s.io/api/core/v1"
	"k8s.io/apimachinery/pkg/util/sets"
)

// GroupBy selects how connected components are gathered into groups.
type GroupBy string

const (
	GroupByNone      GroupBy = ""
	GroupByNamespace GroupBy = "namespace"
	GroupByNode      GroupBy = "node"
	GroupByInstance  GroupBy = "instance"
)

// InstanceLabel is read by GroupByInstance.
const InstanceLabel = "app.kubernetes.io/instance"

// ParseGroupBy maps a URL value onto a GroupBy. Unknown values disable grouping.
func ParseGroupBy(s string) GroupBy {
	switch GroupBy(s) {
	case GroupByNamespace, GroupByNode, GroupByInstance:
		return GroupBy(s)
	}
	return GroupByNone
}

// GroupOptions configures GroupGraph.
type GroupOptions struct {
	GroupBy GroupBy
	// Namespaces and Nodes are cluster objects attached to matching
	// namespace and node groups. Both are optional.
	Namespaces []*corev1.Namespace
	Nodes      []*corev1.Node
}

var mainNodeKinds = []string{"Deployment", "ReplicaSet", "DaemonSet", "StatefulSet", "CronJob", "Job"}

// MainNode picks the node that best represents a workload: the first
// Deployment, else ReplicaSet, DaemonSet, StatefulSet, CronJob, Job, else
// the first node.
func MainNode(nodes []*Node) *Node {
	if len(nodes) == 0 {
		return nil
	}
	for _, kind := range mainNodeKinds {
		for _, n := range nodes {
			if n.Resource != nil && n.Resource.Kind == kind {
				return n
			}
		}
	}
	return nodes[0]
}

// connectedComponents partitions nodes into components. Components with
// more than one member are wrapped in a kubeGroup, singletons are returned
// as is.
func connectedComponents(nodes []*Node, edges []*Edge) []*Node {
	lookup := MakeLookup(nodes, edges)
	visitedNodes := sets.New[string]()
	visitedEdges := sets.New[string]()

	var visit func(n *Node, members *[]*Node, memberEdges *[]*Edge)
	follow := func(e *Edge, next string, members *[]*Node, memberEdges *[]*Edge) {
		if !visitedEdges.Has(e.ID) {
			visitedEdges.Insert(e.ID)
			*memberEdges = append(*memberEdges, e)
		}
		if visitedNodes.Has(next) {
			return
		}
		if nextNode, ok := lookup.Node(next); ok {
			visit(nextNode, members, memberEdges)
		}
	}
	visit = func(n *Node, members *[]*Node, memberEdges *[]*Edge) {
		visitedNodes.Insert(n.ID)
		*members = append(*members, n)

		outgoing, _ := lookup.OutgoingEdges(n.ID)
		for _, e := range outgoing {
			follow(e, e.Target, members, memberEdges)
		}
		incoming, _ := lookup.IncomingEdges(n.ID)
		for _, e := range incoming {
			follow(e, e.Source, members, memberEdges)
		}
	}

	var components []*Node
	for _, n := range nodes {
		if visitedNodes.Has(n.ID) {
			continue
		}
		var members []*Node
		var memberEdges []*Edge
		visit(n, &members, &memberEdges)

		if len(members) == 1 {
			components = append(components, members[0])
			continue
		}
		components = append(components, &Node{
			ID:    "group-" + MainNode(members).ID,
			Type:  NodeTypeKubeGroup,
			Nodes: members,
			Edges: closedEdges(members, memberEdges),
		})
	}
	return components
}

// closedEdges drops edges that point outside members, which happens when
// an edge references a node missing from the input list.
func closedEdges(members []*Node, edges []*Edge) []*Edge {
	ids := make(sets.Set[string], len(members))
	for _, m := range members {
		ids.Insert(m.ID)
	}
	out := make([]*Edge, 0, len(edges))
	for _, e := range edges {
		if ids.Has(e.Source) && ids.Has(e.Target) {
			out = append(out, e)
		}
	}
	return out
}

type propertyGrouping struct {
	label                  string
	allowSingleMemberGroup bool
	accessor               func(component *Node) (string, bool)
}

// groupByProperty gathers components sharing a property value into a group
// with id "<label>-<value>". Groups keep the order in which their value
// first appears. Components without the property are emitted in place of
// their would-be group.
func groupByProperty(components []*Node, g propertyGrouping) []*Node {
	type bucket struct {
		value   string
		missing bool
		members []*Node
	}
	var buckets []*bucket
	index := map[string]*bucket{}
	var missing *bucket

	for _, c := range components {
		value, ok := g.accessor(c)
		if !ok {
			if missing == nil {
				missing = &bucket{missing: true}
				buckets = append(buckets, missing)
			}
			missing.members = append(missing.members, c)
			continue
		}
		b, exists := index[value]
		if !exists {
			b = &bucket{value: value}
			index[value] = b
			buckets = append(buckets, b)
		}
		b.members = append(b.members, c)
	}

	var out []*Node
	for _, b := range buckets {
		if b.missing || (len(b.members) == 1 && !g.allowSingleMemberGroup) {
			out = append(out, b.members...)
			continue
		}
		out = append(out, &Node{
			ID:       g.label + "-" + b.value,
			Type:     NodeTypeGroup,
			Label:    b.value,
			Subtitle: g.label,
			Nodes:    b.members,
			Edges:    []*Edge{},
		})
	}
	return out
}

func firstKubeObject(component *Node) *Node {
	if component.Resource != nil {
		return component
	}
	for _, n := range component.Nodes {
		if n.Resource != nil {
			return n
		}
	}
	return nil
}

func namespaceOf(component *Node) (string, bool) {
	n := firstKubeObject(component)
	if n == nil {
		return "", false
	}
	ns := n.Resource.Namespace()
	return ns, ns != ""
}

func nodeNameOf(component *Node) (string, bool) {
	var pod *corev1.Pod
	if p, ok := component.podObject(); ok {
		pod = p
	} else {
		for _, n := range component.Nodes {
			if p, ok := n.podObject(); ok {
				pod = p
				break
			}
		}
	}
	if pod == nil || pod.Spec.NodeName == "" {
		return "", false
	}
	return pod.Spec.NodeName, true
}

func instanceOf(component *Node) (string, bool) {
	main := component
	if component.IsGroup() {
		var leaves []*Node
		for _, n := range component.Nodes {
			if !n.IsGroup() {
				leaves = append(leaves, n)
			}
		}
		main = MainNode(leaves)
	}
	if main == nil {
		return "", false
	}
	value, ok := main.Resource.Labels()[InstanceLabel]
	return value, ok && value != ""
}

func (n *Node) podObject() (*corev1.Pod, bool) {
	if n.Resource == nil {
		return nil, false
	}
	pod, ok := n.Resource.Object.(*corev1.Pod)
	return pod, ok
}

// GroupGraph builds the display tree: connected components become
// kubeGroups, which are then optionally gathered by namespace, node or
// instance under a root group. Children of every group are sorted so that
// larger groups come first.
func GroupGraph(nodes []*Node, edges []*Edge, opts GroupOptions) *Node {
	root := &Node{
		ID:    RootID,
		Type:  NodeTypeGroup,
		Label: RootID,
		Edges: []*Edge{},
	}

	components := connectedComponents(nodes, edges)

	switch opts.GroupBy {
	case GroupByNamespace:
		components = groupByProperty(components, propertyGrouping{
			label:                  "Namespace",
			allowSingleMemberGroup: true,
			accessor:               namespaceOf,
		})
		byName := make(map[string]*corev1.Namespace, len(opts.Namespaces))
		for _, ns := range opts.Namespaces {
			byName[ns.Name] = ns
		}
		for _, c := range components {
			if c.Resource != nil || c.Type != NodeTypeGroup {
				continue
			}
			if ns, ok := byName[c.Label]; ok {
				c.Resource = &Resource{Kind: "Namespace", Object: ns}
				c.ID = string(ns.UID)
			}
		}
	case GroupByNode:
		components = groupByProperty(components, propertyGrouping{
			label:                  "Node",
			allowSingleMemberGroup: true,
			accessor:               nodeNameOf,
		})
		byName := make(map[string]*corev1.Node, len(opts.Nodes))
		for _, node := range opts.Nodes {
			byName[node.Name] = node
		}
		for _, c := range components {
			if c.Resource != nil || c.Type != NodeTypeGroup {
				continue
			}
			if node, ok := byName[c.Label]; ok {
				c.Resource = &Resource{Kind: "Node", Object: node}
				c.ID = string(node.UID)
			}
		}
	case GroupByInstance:
		components = groupByProperty(components, propertyGrouping{
			label:    "Instance",
			accessor: instanceOf,
		})
	}

	root.Nodes = components

	ForEachNode(root, func(n *Node) {
		if len(n.Nodes) > 1 {
			sort.SliceStable(n.Nodes, func(i, j int) bool {
				return nodeWeight(n.Nodes[i]) > nodeWeight(n.Nodes[j])
			})
		}
	})

	return root
}

// nodeWeight orders siblings: any group outweighs any kubeGroup or leaf.
func nodeWeight(n *Node) int {
	switch n.Type {
	case NodeTypeGroup:
		return 100 + len(n.Nodes)
	case NodeTypeKubeGroup:
		return len(n.Nodes)
	}
	return 1
}

// GetParentNode returns the group whose direct children include id.
func GetParentNode(graph *Node, id string) (*Node, bool) {
	var parent *Node
	ForEachNode(graph, func(n *Node) {
		if parent != nil {
			return
		}
		for _, child := range n.Nodes {
			if child.ID == id {
				parent = n
				return
			}
		}
	})
	return parent, parent != nil
}

// FindGroupContaining returns the group to focus on for id. In non-strict
// mode a group id resolves to the group itself and a leaf id to its
// enclosing group. In strict mode the direct parent is always returned.
func FindGroupContaining(graph *Node, id string, strict bool) (*Node, bool) {
	if graph == nil {
		return nil, false
	}
	if graph.ID == id && !strict {
		return graph, true
	}
	for _, child := range graph.Nodes {
		if child.ID != id {
			continue
		}
		if strict || !child.IsGroup() {
			return graph, true
		}
	}
	for _, child := range graph.Nodes {
		if group, ok := FindGroupContaining(child, id, strict); ok {
			return group, true
		}
	}
	return nil, false
}

// GroupPath returns the chain of groups from graph down to the node with
// the given id, both ends included. It is empty when id is not in graph.
func GroupPath(graph *Node, id string) []*Node {
	if graph == nil {
		return nil
	}
	if graph.ID == id {
		return []*Node{graph}
	}
	for _, child := range graph.Nodes {
		if path := GroupPath(child, id); path != nil {
			return append([]*Node{graph}, path...)
		}
	}
	return nil
}

// CollapseOptions configures CollapseGraph.
type CollapseOptions struct {
	SelectedNodeID string
	ExpandAll      bool
}

// CollapseGraph returns a copy of graph in which every kubeGroup is
// collapsed, except the group holding the selected node or all of them when
// ExpandAll is set. Collapsed groups keep their children (for badges) but
// lose their edges. With a selection the root only shows the chain of
// groups leading to the selected group. graph itself is not modified.
func CollapseGraph(graph *Node, opts CollapseOptions) *Node {
	selected := opts.SelectedNodeID
	if selected == "" {
		selected = RootID
	}

	selectedGroup, _ := FindGroupContaining(graph, selected, false)

	var collapse func(n *Node) *Node
	collapse = func(n *Node) *Node {
		if !n.IsGroup() {
			return n
		}
		c := n.shallowCopy()
		c.Nodes = make([]*Node, len(n.Nodes))
		for i, child := range n.Nodes {
			c.Nodes[i] = collapse(child)
		}
		isSelected := selectedGroup != nil && selectedGroup.ID == n.ID
		c.Collapsed = n.Type == NodeTypeKubeGroup && !opts.ExpandAll && !isSelected
		if c.Collapsed {
			c.Edges = []*Edge{}
		}
		return c
	}

	root := graph.shallowCopy()
	if selectedGroup != nil && selectedGroup.ID != graph.ID {
		root.Nodes = pathChildren(graph, selectedGroup.ID)
	}
	return collapse(root)
}

// pathChildren rebuilds the children of graph so that only the chain of
// groups leading to target remains.
func pathChildren(graph *Node, target string) []*Node {
	path := GroupPath(graph, target)
	if len(path) < 2 {
		return graph.Nodes
	}
	// path[0] is graph, the last element is the target group kept whole
	next := path[len(path)-1]
	for i := len(path) - 2; i >= 1; i-- {
		c := path[i].shallowCopy()
		c.Nodes = []*Node{next}
		c.Edges = []*Edge{}
		next = c
	}
	return []*Node{next}
}
