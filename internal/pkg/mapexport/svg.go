package mapexport

import (
	"bytes"
	"fmt"
	"strings"

	"github.com/kubilitics/resourcemap/internal/layout"
	"github.com/kubilitics/resourcemap/internal/models"
)

const svgMargin = 20

var statusFill = map[string]string{
	"success": "#e2e8f0",
	"warning": "#fef3c7",
	"error":   "#fee2e2",
}

// MapToSVG draws the map at its computed positions. Containers are drawn
// before their children so that children stay on top.
func MapToSVG(m *models.ResourceMap) []byte {
	if m == nil || len(m.Nodes) == 0 {
		return []byte(`<svg xmlns="http://www.w3.org/2000/svg" width="400" height="100"><text x="20" y="50" font-size="14">No resources</text></svg>`)
	}
	width := int(m.Width) + 2*svgMargin
	height := int(m.Height) + 2*svgMargin

	var buf bytes.Buffer
	fmt.Fprintf(&buf, `<svg xmlns="http://www.w3.org/2000/svg" width="%d" height="%d" viewBox="0 0 %d %d">`, width, height, width, height)
	buf.WriteString(`<defs><style>.group { fill: none; stroke: #94a3b8; stroke-dasharray: 4 2; } .node { stroke: #64748b; stroke-width: 1; } .edge { stroke: #94a3b8; stroke-width: 2; fill: none; } .label { font: 12px sans-serif; fill: #334155; }</style>`)
	buf.WriteString(`<marker id="arrow" viewBox="0 0 10 10" refX="10" refY="5" markerWidth="6" markerHeight="6" orient="auto-start-reverse"><path d="M 0 0 L 10 5 L 0 10 z" fill="#94a3b8"/></marker></defs>`)
	fmt.Fprintf(&buf, `<g transform="translate(%d %d)">`, svgMargin, svgMargin)

	byParent := children(m)
	var draw func(parent string)
	draw = func(parent string) {
		for _, n := range byParent[parent] {
			if isContainer(n) {
				fmt.Fprintf(&buf, `<rect class="group" x="%.1f" y="%.1f" width="%.1f" height="%.1f" rx="6"/>`, n.X, n.Y, n.Width, n.Height)
				fmt.Fprintf(&buf, `<text class="label" x="%.1f" y="%.1f">%s</text>`, n.X+6, n.Y-4, escapeXML(nodeLabel(n, 40)))
				draw(n.ID)
				continue
			}
			fill := statusFill[n.Status]
			if fill == "" {
				fill = statusFill["success"]
			}
			fmt.Fprintf(&buf, `<rect class="node" x="%.1f" y="%.1f" width="%.1f" height="%.1f" rx="4" fill="%s"/>`, n.X, n.Y, n.Width, n.Height, fill)
			fmt.Fprintf(&buf, `<text class="label" x="%.1f" y="%.1f" text-anchor="middle">%s</text>`, n.X+n.Width/2, n.Y+n.Height/2+4, escapeXML(nodeLabel(n, 30)))
		}
	}
	draw("")

	for _, e := range m.Edges {
		for _, s := range e.Sections {
			fmt.Fprintf(&buf, `<path class="edge" marker-end="url(#arrow)" d="%s"/>`, sectionPath(s))
		}
	}
	buf.WriteString("</g></svg>")
	return buf.Bytes()
}

func sectionPath(s layout.Section) string {
	var b strings.Builder
	fmt.Fprintf(&b, "M %.1f %.1f", s.StartPoint.X, s.StartPoint.Y)
	for _, p := range s.BendPoints {
		fmt.Fprintf(&b, " L %.1f %.1f", p.X, p.Y)
	}
	fmt.Fprintf(&b, " L %.1f %.1f", s.EndPoint.X, s.EndPoint.Y)
	return b.String()
}

func escapeXML(s string) string {
	return strings.NewReplacer("&", "&amp;", "<", "&lt;", ">", "&gt;", "\"", "&quot;").Replace(s)
}
