package layout

import (
	"context"
	"fmt"
	"math"
)

// Engine positions a tree of boxes. Implementations fill in X, Y of every
// child, Width and Height of every container and the Sections of every
// edge, in place.
type Engine interface {
	Layout(ctx context.Context, root *Node) error
}

// engine is the built-in Engine: graphviz dot for containers with edges
// and row packing for the others.
type engine struct{}

// NewEngine returns the built-in layout engine.
func NewEngine() Engine {
	return engine{}
}

func (e engine) Layout(ctx context.Context, root *Node) error {
	if root == nil {
		return fmt.Errorf("layout: nil root")
	}
	return e.layoutNode(ctx, root)
}

// layoutNode lays out children first so that container sizes are known
// before the parent arranges them.
func (e engine) layoutNode(ctx context.Context, n *Node) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if len(n.Children) == 0 {
		return nil
	}
	for _, child := range n.Children {
		if err := e.layoutNode(ctx, child); err != nil {
			return err
		}
	}
	switch n.Options.Algorithm {
	case AlgorithmLayered:
		return layered(ctx, n)
	default:
		rectPack(n)
	}
	return nil
}

// owners maps every id inside n to the index of the direct child holding it.
func owners(n *Node) map[string]int {
	out := make(map[string]int)
	var walk func(node *Node, idx int)
	walk = func(node *Node, idx int) {
		out[node.ID] = idx
		for _, c := range node.Children {
			walk(c, idx)
		}
	}
	for i, c := range n.Children {
		walk(c, i)
	}
	return out
}

// position returns the box of id relative to n.
func position(n *Node, id string) (x, y, w, h float64, ok bool) {
	for _, c := range n.Children {
		if c.ID == id {
			return c.X, c.Y, c.Width, c.Height, true
		}
		if cx, cy, cw, ch, found := position(c, id); found {
			return c.X + cx, c.Y + cy, cw, ch, true
		}
	}
	return 0, 0, 0, 0, false
}

// layered ranks the children left to right with dot and routes every edge
// from the side of its source facing the target.
func layered(ctx context.Context, n *Node) error {
	owner := owners(n)
	bends, err := dotLayout(ctx, n, owner)
	if err != nil {
		return err
	}
	for _, e := range n.Edges {
		sx, sy, sw, sh, okS := position(n, e.Source)
		tx, ty, tw, th, okT := position(n, e.Target)
		if !okS || !okT {
			continue
		}
		start := Point{X: sx + sw, Y: sy + sh/2}
		end := Point{X: tx, Y: ty + th/2}
		if sx > tx {
			start.X, end.X = sx, tx+tw
		}
		e.Sections = []Section{{StartPoint: start, EndPoint: end, BendPoints: bends[e.ID]}}
	}
	return nil
}

// rectPack places children in rows whose width is chosen so that the
// packed area approaches the requested aspect ratio.
func rectPack(n *Node) {
	opts := n.Options
	ratio := opts.AspectRatio
	if ratio <= 0 {
		ratio = 1
	}

	var area, widest float64
	for _, c := range n.Children {
		area += (c.Width + opts.NodeSpacing) * (c.Height + opts.NodeSpacing)
		widest = math.Max(widest, c.Width)
	}
	rowLimit := math.Max(widest, math.Sqrt(area*ratio))

	var x, y, rowHeight, maxRowWidth float64
	for _, c := range n.Children {
		if x > 0 && x+c.Width > rowLimit {
			y += rowHeight + opts.NodeSpacing
			x, rowHeight = 0, 0
		}
		c.X = opts.Padding + x
		c.Y = opts.Padding + y
		x += c.Width
		maxRowWidth = math.Max(maxRowWidth, x)
		x += opts.NodeSpacing
		rowHeight = math.Max(rowHeight, c.Height)
	}

	n.Width = math.Max(NodeWidth, maxRowWidth+2*opts.Padding)
	n.Height = math.Max(NodeHeight, y+rowHeight+2*opts.Padding)

	for _, e := range n.Edges {
		sx, sy, sw, sh, okS := position(n, e.Source)
		tx, ty, tw, th, okT := position(n, e.Target)
		if !okS || !okT {
			continue
		}
		e.Sections = []Section{{
			StartPoint: Point{X: sx + sw/2, Y: sy + sh/2},
			EndPoint:   Point{X: tx + tw/2, Y: ty + th/2},
		}}
	}
}
