package layout

import "github.com/kubilitics/resourcemap/internal/graph"

// Fixed box size of every node. Labels are truncated by the renderer, the
// layout never looks at them.
const (
	NodeWidth  = 220.0
	NodeHeight = 70.0
)

// Algorithm selects how a container arranges its children.
type Algorithm string

const (
	AlgorithmLayered     Algorithm = "layered"
	AlgorithmRectPacking Algorithm = "rectpacking"
)

// Options are the per-container layout settings.
type Options struct {
	Algorithm    Algorithm
	NodeSpacing  float64
	LayerSpacing float64
	Padding      float64
	// Partitioning forces children into ordered layers by Node.Partition
	// before edges are considered.
	Partitioning bool
	AspectRatio  float64
}

// LayeredOptions is used for containers with internal edges.
func LayeredOptions() Options {
	return Options{
		Algorithm:    AlgorithmLayered,
		NodeSpacing:  60,
		LayerSpacing: 60,
		Padding:      16,
		Partitioning: true,
	}
}

// RectPackingOptions is used for containers without internal edges.
func RectPackingOptions(aspectRatio float64) Options {
	return Options{
		Algorithm:   AlgorithmRectPacking,
		NodeSpacing: 20,
		Padding:     24,
		AspectRatio: aspectRatio,
	}
}

type Point struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

func (p Point) Add(o Point) Point {
	return Point{X: p.X + o.X, Y: p.Y + o.Y}
}

// Section is one routed piece of an edge.
type Section struct {
	StartPoint Point   `json:"startPoint"`
	EndPoint   Point   `json:"endPoint"`
	BendPoints []Point `json:"bendPoints,omitempty"`
}

func (s Section) offset(by Point) Section {
	out := Section{
		StartPoint: s.StartPoint.Add(by),
		EndPoint:   s.EndPoint.Add(by),
	}
	for _, b := range s.BendPoints {
		out.BendPoints = append(out.BendPoints, b.Add(by))
	}
	return out
}

// Node is the engine's view of a box. X and Y are relative to the parent
// container and are filled in by the engine, as are the sizes of
// containers.
type Node struct {
	ID        string
	X, Y      float64
	Width     float64
	Height    float64
	Partition int
	Options   Options
	Children  []*Node
	Edges     []*Edge

	// Graph is the node this box was built from.
	Graph *graph.Node
}

// Edge is the engine's view of an edge. Sections are relative to the
// container owning the edge.
type Edge struct {
	ID       string
	Source   string
	Target   string
	Sections []Section

	Graph *graph.Edge
}

// FlatNode is a laid out node in absolute coordinates.
type FlatNode struct {
	ID       string
	ParentID string
	X, Y     float64
	Width    float64
	Height   float64
	Node     *graph.Node
}

// FlatEdge is a laid out edge. Sections are absolute; ParentOffset is the
// absolute position of the container the edge was routed in.
type FlatEdge struct {
	ID           string
	Source       string
	Target       string
	Sections     []Section
	ParentOffset Point
	Edge         *graph.Edge
}

// Result is the flattened output of ApplyGraphLayout.
type Result struct {
	Nodes  []*FlatNode
	Edges  []*FlatEdge
	Width  float64
	Height float64
}
