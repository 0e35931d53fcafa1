package mapexport

import (
	"encoding/xml"
	"strconv"

	"github.com/kubilitics/resourcemap/internal/models"
)

// draw.io mxfile structure (minimal valid export)
type mxfile struct {
	XMLName xml.Name  `xml:"mxfile"`
	Host    string    `xml:"host,attr"`
	Agent   string    `xml:"agent,attr"`
	Diagram mxDiagram `xml:"diagram"`
}

type mxDiagram struct {
	ID           string       `xml:"id,attr"`
	Name         string       `xml:"name,attr"`
	MxGraphModel mxGraphModel `xml:"mxGraphModel"`
}

type mxGraphModel struct {
	DX       int    `xml:"dx,attr"`
	DY       int    `xml:"dy,attr"`
	Grid     int    `xml:"grid,attr"`
	GridSize int    `xml:"gridSize,attr"`
	Root     mxRoot `xml:"root"`
}

type mxRoot struct {
	Cells []mxCell `xml:"mxCell"`
}

type mxCell struct {
	ID       string      `xml:"id,attr"`
	Parent   string      `xml:"parent,attr,omitempty"`
	Value    string      `xml:"value,attr,omitempty"`
	Style    string      `xml:"style,attr,omitempty"`
	Vertex   string      `xml:"vertex,attr,omitempty"`
	Edge     string      `xml:"edge,attr,omitempty"`
	Source   string      `xml:"source,attr,omitempty"`
	Target   string      `xml:"target,attr,omitempty"`
	Geometry *mxGeometry `xml:"mxGeometry,omitempty"`
}

type mxGeometry struct {
	X        string    `xml:"x,attr,omitempty"`
	Y        string    `xml:"y,attr,omitempty"`
	Width    string    `xml:"width,attr,omitempty"`
	Height   string    `xml:"height,attr,omitempty"`
	Relative string    `xml:"relative,attr,omitempty"`
	As       string    `xml:"as,attr,omitempty"`
	Points   *mxPoints `xml:"Array,omitempty"`
}

type mxPoints struct {
	As     string    `xml:"as,attr"`
	Points []mxPoint `xml:"mxPoint"`
}

type mxPoint struct {
	X string `xml:"x,attr"`
	Y string `xml:"y,attr"`
}

const (
	groupStyle = "rounded=1;whiteSpace=wrap;html=1;fillColor=none;dashed=1;strokeColor=#94a3b8;verticalAlign=top;align=left;"
	edgeStyle  = "endArrow=classic;html=1;strokeColor=#94a3b8;"
)

var drawioFill = map[string]string{
	"success": "#e2e8f0",
	"warning": "#fef3c7",
	"error":   "#fee2e2",
}

func ftoa(f float64) string {
	return strconv.FormatFloat(f, 'f', 1, 64)
}

// MapToDrawioXML returns draw.io (diagrams.net) XML. Vertices keep their
// absolute positions on one layer so edge bend points line up without
// per-container offsets.
func MapToDrawioXML(m *models.ResourceMap) ([]byte, error) {
	cells := []mxCell{{ID: "0"}, {ID: "1", Parent: "0"}}
	cellOf := make(map[string]string)
	next := 2
	newID := func() string {
		id := strconv.Itoa(next)
		next++
		return id
	}

	if m != nil {
		byParent := children(m)
		var add func(parent string)
		add = func(parent string) {
			for _, n := range byParent[parent] {
				id := newID()
				cellOf[n.ID] = id
				style := groupStyle
				if !isContainer(n) {
					fill := drawioFill[n.Status]
					if fill == "" {
						fill = drawioFill["success"]
					}
					style = "rounded=1;whiteSpace=wrap;html=1;strokeColor=#64748b;fillColor=" + fill + ";"
				}
				cells = append(cells, mxCell{
					ID:     id,
					Parent: "1",
					Value:  nodeLabel(n, 40),
					Style:  style,
					Vertex: "1",
					Geometry: &mxGeometry{
						X: ftoa(n.X), Y: ftoa(n.Y), Width: ftoa(n.Width), Height: ftoa(n.Height), As: "geometry",
					},
				})
				if isContainer(n) {
					add(n.ID)
				}
			}
		}
		add("")

		for _, e := range m.Edges {
			src, ok1 := cellOf[e.Source]
			dst, ok2 := cellOf[e.Target]
			if !ok1 || !ok2 {
				continue
			}
			geo := &mxGeometry{Relative: "1", As: "geometry"}
			if len(e.Sections) > 0 && len(e.Sections[0].BendPoints) > 0 {
				pts := &mxPoints{As: "points"}
				for _, p := range e.Sections[0].BendPoints {
					pts.Points = append(pts.Points, mxPoint{X: ftoa(p.X), Y: ftoa(p.Y)})
				}
				geo.Points = pts
			}
			cells = append(cells, mxCell{
				ID:       newID(),
				Parent:   "1",
				Value:    e.Label,
				Edge:     "1",
				Source:   src,
				Target:   dst,
				Style:    edgeStyle,
				Geometry: geo,
			})
		}
	}

	name := "Resource map"
	if m != nil && m.ClusterID != "" {
		name = m.ClusterID
	}
	out, err := xml.MarshalIndent(mxfile{
		Host:  "app.diagrams.net",
		Agent: "Kubilitics",
		Diagram: mxDiagram{
			ID:           "resourcemap",
			Name:         name,
			MxGraphModel: mxGraphModel{DX: 1200, DY: 800, Grid: 1, GridSize: 10, Root: mxRoot{Cells: cells}},
		},
	}, "", "  ")
	if err != nil {
		return nil, err
	}
	return append([]byte(xml.Header), out...), nil
}
