package service

import (
	"github.com/kubilitics/resourcemap/internal/graph"
	"github.com/kubilitics/resourcemap/internal/layout"
	"github.com/kubilitics/resourcemap/internal/models"
)

// toResourceMap converts a flattened layout into its API model.
func toResourceMap(res *layout.Result) *models.ResourceMap {
	m := &models.ResourceMap{
		Nodes:  make([]models.MapNode, 0, len(res.Nodes)),
		Edges:  make([]models.MapEdge, 0, len(res.Edges)),
		Width:  res.Width,
		Height: res.Height,
	}
	for _, fn := range res.Nodes {
		m.Nodes = append(m.Nodes, toMapNode(fn))
	}
	for _, fe := range res.Edges {
		e := models.MapEdge{
			ID:           fe.ID,
			Source:       fe.Source,
			Target:       fe.Target,
			Sections:     fe.Sections,
			ParentOffset: fe.ParentOffset,
		}
		if fe.Edge != nil {
			e.Type = fe.Edge.Type
			e.Label = fe.Edge.Label
		}
		if e.Sections == nil {
			e.Sections = []layout.Section{}
		}
		m.Edges = append(m.Edges, e)
	}
	return m
}

func toMapNode(fn *layout.FlatNode) models.MapNode {
	n := fn.Node
	mn := models.MapNode{
		ID:        fn.ID,
		Type:      string(n.Type),
		ParentID:  fn.ParentID,
		X:         fn.X,
		Y:         fn.Y,
		Width:     fn.Width,
		Height:    fn.Height,
		Label:     displayLabel(n),
		Subtitle:  n.Subtitle,
		Collapsed: n.Collapsed,
	}
	if n.Resource != nil {
		mn.Kind = n.Resource.Kind
		mn.Name = n.Resource.Name()
		mn.Namespace = n.Resource.Namespace()
		mn.UID = n.Resource.UID()
	}
	if !n.IsGroup() {
		mn.Status = string(graph.GetStatus(n.Resource))
		return mn
	}
	counts := graph.CountStatus(n.Nodes)
	mn.ChildCount = counts[graph.StatusSuccess] + counts[graph.StatusWarning] + counts[graph.StatusError]
	mn.WarningCount = counts[graph.StatusWarning]
	mn.ErrorCount = counts[graph.StatusError]
	mn.Status = string(graph.AggregateStatus(n.Nodes))
	return mn
}

// displayLabel names a node: its own label, else the resource name, else
// the name of the workload a kubeGroup represents.
func displayLabel(n *graph.Node) string {
	if n.Label != "" {
		return n.Label
	}
	if n.Resource != nil {
		return n.Resource.Name()
	}
	if n.Type == graph.NodeTypeKubeGroup {
		if main := graph.MainNode(n.Nodes); main != nil && main.Resource != nil {
			return main.Resource.Name()
		}
	}
	return n.ID
}

// breadcrumbs lists the groups from the root down to the selected node. No
// selection, or one that is not on the map, yields the root alone.
func breadcrumbs(root *graph.Node, selected string) []models.Breadcrumb {
	path := graph.GroupPath(root, selected)
	if selected == "" || len(path) == 0 {
		path = []*graph.Node{root}
	}
	out := make([]models.Breadcrumb, 0, len(path))
	for _, n := range path {
		out = append(out, models.Breadcrumb{ID: n.ID, Label: displayLabel(n), Type: string(n.Type)})
	}
	return out
}
