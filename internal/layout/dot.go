package layout

import (
	"bytes"
	"context"
	"fmt"
	"math"
	"slices"
	"strconv"
	"strings"
	"sync"

	"github.com/goccy/go-graphviz"
)

// graphviz sizes are in inches, positions in points
const pointsPerInch = 72.0

// The bindings run on a single wasm module shared by the process, every
// call into it holds graphvizMu.
var (
	graphvizMu   sync.Mutex
	graphvizOnce sync.Once
	graphvizInst *graphviz.Graphviz
	graphvizErr  error
)

func dotRenderer() (*graphviz.Graphviz, error) {
	graphvizOnce.Do(func() {
		graphvizInst, graphvizErr = graphviz.New(context.Background())
		if graphvizErr == nil {
			graphvizInst.SetLayout(graphviz.DOT)
		}
	})
	return graphvizInst, graphvizErr
}

func inches(v float64) string {
	return strconv.FormatFloat(v/pointsPerInch, 'f', 4, 64)
}

type attr struct{ name, value, def string }

type attrSetter interface {
	SafeSet(name, value, def string) error
}

func setAttrs(obj attrSetter, attrs ...attr) error {
	for _, a := range attrs {
		if err := obj.SafeSet(a.name, a.value, a.def); err != nil {
			return fmt.Errorf("set %s: %w", a.name, err)
		}
	}
	return nil
}

// dotLayout positions the direct children of n as fixed size boxes ranked
// left to right. Edges count between the children owning their endpoints.
// With partitioning, children of one partition share a rank, partitions
// follow each other in order and edges between partitioned children do
// not move ranks. It returns the bend points of every routed edge, in the
// coordinates of n.
func dotLayout(ctx context.Context, n *Node, owner map[string]int) (map[string][]Point, error) {
	graphvizMu.Lock()
	defer graphvizMu.Unlock()

	gv, err := dotRenderer()
	if err != nil {
		return nil, fmt.Errorf("layout: graphviz: %w", err)
	}
	g, err := gv.Graph()
	if err != nil {
		return nil, fmt.Errorf("layout: graphviz: %w", err)
	}
	defer g.Close()

	opts := n.Options
	if err := setAttrs(g,
		attr{"rankdir", "LR", "TB"},
		attr{"nodesep", inches(opts.NodeSpacing), "0.25"},
		attr{"ranksep", inches(opts.LayerSpacing), "0.5"},
		attr{"splines", "polyline", ""},
	); err != nil {
		return nil, fmt.Errorf("layout: %s: %w", n.ID, err)
	}

	partitioned := func(c *Node) bool { return opts.Partitioning && c.Partition >= 0 }
	ranks := map[int]*graphviz.Graph{}
	firsts := map[int]*graphviz.Node{}
	nodes := make([]*graphviz.Node, len(n.Children))
	for i, c := range n.Children {
		parent := g
		if partitioned(c) {
			sub, ok := ranks[c.Partition]
			if !ok {
				if sub, err = g.CreateSubGraphByName(fmt.Sprintf("partition_%d", c.Partition)); err != nil {
					return nil, fmt.Errorf("layout: %s: %w", n.ID, err)
				}
				if err := setAttrs(sub, attr{"rank", "same", ""}); err != nil {
					return nil, fmt.Errorf("layout: %s: %w", n.ID, err)
				}
				ranks[c.Partition] = sub
			}
			parent = sub
		}
		gn, err := parent.CreateNodeByName(c.ID)
		if err != nil {
			return nil, fmt.Errorf("layout: node %s: %w", c.ID, err)
		}
		if err := setAttrs(gn,
			attr{"shape", "box", "ellipse"},
			attr{"fixedsize", "true", "false"},
			attr{"width", inches(c.Width), "0.75"},
			attr{"height", inches(c.Height), "0.5"},
			attr{"label", "", `\N`},
		); err != nil {
			return nil, fmt.Errorf("layout: node %s: %w", c.ID, err)
		}
		nodes[i] = gn
		if partitioned(c) {
			if _, ok := firsts[c.Partition]; !ok {
				firsts[c.Partition] = gn
			}
		}
	}

	// invisible edges chain the partitions in order
	order := make([]int, 0, len(firsts))
	for p := range firsts {
		order = append(order, p)
	}
	slices.Sort(order)
	for i := 1; i < len(order); i++ {
		from, to := order[i-1], order[i]
		ge, err := g.CreateEdgeByName(fmt.Sprintf("partition_%d_%d", from, to), firsts[from], firsts[to])
		if err != nil {
			return nil, fmt.Errorf("layout: %s: %w", n.ID, err)
		}
		if err := setAttrs(ge, attr{"style", "invis", ""}); err != nil {
			return nil, fmt.Errorf("layout: %s: %w", n.ID, err)
		}
	}

	for _, e := range n.Edges {
		s, okS := owner[e.Source]
		t, okT := owner[e.Target]
		if !okS || !okT || s == t {
			continue
		}
		ge, err := g.CreateEdgeByName(e.ID, nodes[s], nodes[t])
		if err != nil {
			return nil, fmt.Errorf("layout: edge %s: %w", e.ID, err)
		}
		constraint := "true"
		if partitioned(n.Children[s]) && partitioned(n.Children[t]) {
			constraint = "false"
		}
		if err := setAttrs(ge,
			attr{"id", e.ID, ""},
			attr{"dir", "none", "forward"},
			attr{"constraint", constraint, "true"},
		); err != nil {
			return nil, fmt.Errorf("layout: edge %s: %w", e.ID, err)
		}
	}

	var buf bytes.Buffer
	if err := gv.Render(ctx, g, graphviz.XDOT, &buf); err != nil {
		return nil, fmt.Errorf("layout: %s: dot: %w", n.ID, err)
	}
	out, err := graphviz.ParseBytes(buf.Bytes())
	if err != nil {
		return nil, fmt.Errorf("layout: %s: parse dot output: %w", n.ID, err)
	}
	defer out.Close()

	// dot's y axis points up; boxes are shifted so the top left one sits
	// at the padding.
	minLeft, minTop := math.Inf(1), math.Inf(1)
	centers := make([]Point, len(n.Children))
	for i, c := range n.Children {
		gn, err := out.NodeByName(c.ID)
		if err != nil || gn == nil {
			return nil, fmt.Errorf("layout: %s: node %s missing from dot output", n.ID, c.ID)
		}
		p, ok := parsePoint(gn.GetStr("pos"))
		if !ok {
			return nil, fmt.Errorf("layout: %s: node %s has no position", n.ID, c.ID)
		}
		p.Y = -p.Y
		centers[i] = p
		minLeft = math.Min(minLeft, p.X-c.Width/2)
		minTop = math.Min(minTop, p.Y-c.Height/2)
	}
	toLocal := func(p Point) Point {
		return Point{X: opts.Padding + p.X - minLeft, Y: opts.Padding - p.Y - minTop}
	}

	var right, bottom float64
	for i, c := range n.Children {
		c.X = opts.Padding + centers[i].X - c.Width/2 - minLeft
		c.Y = opts.Padding + centers[i].Y - c.Height/2 - minTop
		right = math.Max(right, c.X+c.Width)
		bottom = math.Max(bottom, c.Y+c.Height)
	}
	n.Width = math.Max(NodeWidth, right+opts.Padding)
	n.Height = math.Max(NodeHeight, bottom+opts.Padding)

	bends := make(map[string][]Point, len(n.Edges))
	for gn, _ := out.FirstNode(); gn != nil; gn, _ = out.NextNode(gn) {
		for ge, _ := out.FirstOut(gn); ge != nil; ge, _ = out.NextOut(ge) {
			id := ge.GetStr("id")
			if id == "" {
				continue
			}
			pts := splinePoints(ge.GetStr("pos"))
			// polyline splines repeat every corner as a bezier control
			// point, corners sit at every third point
			var corners []Point
			for k := 3; k < len(pts)-1; k += 3 {
				corners = append(corners, toLocal(pts[k]))
			}
			bends[id] = corners
		}
	}
	return bends, nil
}

// parsePoint reads "x,y".
func parsePoint(s string) (Point, bool) {
	xs, ys, ok := strings.Cut(strings.TrimSpace(s), ",")
	if !ok {
		return Point{}, false
	}
	// node positions may carry a trailing "!" when pinned
	ys = strings.TrimSuffix(ys, "!")
	x, errX := strconv.ParseFloat(xs, 64)
	y, errY := strconv.ParseFloat(ys, 64)
	if errX != nil || errY != nil {
		return Point{}, false
	}
	return Point{X: x, Y: y}, true
}

// splinePoints reads the control points of the first spline of an edge
// "pos" attribute, skipping arrow end points.
func splinePoints(pos string) []Point {
	first, _, _ := strings.Cut(pos, ";")
	var out []Point
	for _, f := range strings.Fields(first) {
		if strings.HasPrefix(f, "e,") || strings.HasPrefix(f, "s,") {
			continue
		}
		if p, ok := parsePoint(f); ok {
			out = append(out, p)
		}
	}
	return out
}
