package mapexport

import (
	"encoding/json"
	"encoding/xml"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"sigs.k8s.io/yaml"

	"github.com/kubilitics/resourcemap/internal/layout"
	"github.com/kubilitics/resourcemap/internal/models"
)

func sampleMap() *models.ResourceMap {
	return &models.ResourceMap{
		ClusterID:  "prod",
		Generation: 7,
		Width:      600,
		Height:     200,
		Nodes: []models.MapNode{
			{ID: "Namespace-default", Type: "group", X: 0, Y: 0, Width: 600, Height: 200, Label: "default", Status: "warning"},
			{ID: "svc-uid", Type: "kubeObject", ParentID: "Namespace-default", X: 20, Y: 60, Width: 220, Height: 70, Label: "web", Kind: "Service", Status: "success"},
			{ID: "pod-uid", Type: "kubeObject", ParentID: "Namespace-default", X: 340, Y: 60, Width: 220, Height: 70, Label: `web-"1"<x>`, Kind: "Pod", Status: "warning"},
		},
		Edges: []models.MapEdge{{
			ID: "svc-uid-pod-uid", Source: "svc-uid", Target: "pod-uid",
			Sections: []layout.Section{{
				StartPoint: layout.Point{X: 240, Y: 95},
				BendPoints: []layout.Point{{X: 290, Y: 95}},
				EndPoint:   layout.Point{X: 340, Y: 95},
			}},
		}},
	}
}

func TestParseFormat(t *testing.T) {
	for in, want := range map[string]Format{
		"json": FormatJSON, "YAML": FormatYAML, "yml": FormatYAML,
		"svg": FormatSVG, " mermaid ": FormatMermaid, "drawio": FormatDrawio,
	} {
		got, err := ParseFormat(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, got)
	}
	_, err := ParseFormat("png")
	assert.ErrorIs(t, err, ErrUnsupportedFormat)
}

func TestExport_JSONAndYAML(t *testing.T) {
	m := sampleMap()

	data, err := Export(m, FormatJSON)
	require.NoError(t, err)
	var fromJSON models.ResourceMap
	require.NoError(t, json.Unmarshal(data, &fromJSON))
	assert.Equal(t, uint64(7), fromJSON.Generation)
	assert.Len(t, fromJSON.Nodes, 3)

	data, err = Export(m, FormatYAML)
	require.NoError(t, err)
	assert.Contains(t, string(data), "clusterId: prod")
	var fromYAML models.ResourceMap
	require.NoError(t, yaml.Unmarshal(data, &fromYAML))
	assert.Equal(t, fromJSON.Edges, fromYAML.Edges)
}

func TestExport_Nil(t *testing.T) {
	data, err := MapToJSON(nil)
	require.NoError(t, err)
	assert.Equal(t, "null", string(data))
	assert.Contains(t, string(MapToSVG(nil)), "No resources")
	assert.Contains(t, MapToMermaid(nil), "No resources")
	_, err = MapToDrawioXML(nil)
	assert.NoError(t, err)
}

func TestMapToSVG(t *testing.T) {
	svg := string(MapToSVG(sampleMap()))

	assert.True(t, strings.HasPrefix(svg, `<svg xmlns="http://www.w3.org/2000/svg" width="640" height="240"`))
	assert.Contains(t, svg, `class="group"`)
	assert.Contains(t, svg, "Pod: web-&quot;1&quot;&lt;x&gt;")
	assert.Contains(t, svg, `d="M 240.0 95.0 L 290.0 95.0 L 340.0 95.0"`)
	assert.Contains(t, svg, "#fef3c7", "warning status fill")
	assert.Less(t, strings.Index(svg, `class="group"`), strings.Index(svg, "Service: web"), "containers first")
}

func TestMapToMermaid(t *testing.T) {
	out := MapToMermaid(sampleMap())
	lines := strings.Split(out, "\n")

	assert.Equal(t, "flowchart LR", lines[0])
	assert.Equal(t, `  subgraph Namespace_default["default"]`, lines[1])
	assert.Equal(t, `    svc_uid["Service: web"]`, lines[2])
	assert.Equal(t, `    pod_uid["Pod: web-'1'<x>"]`, lines[3])
	assert.Equal(t, "  end", lines[4])
	assert.Equal(t, "  svc_uid --> pod_uid", lines[5])
}

func TestSanitizeID(t *testing.T) {
	assert.Equal(t, "a_b_c", sanitizeID("a--b..c"))
	assert.Equal(t, "node", sanitizeID(""))
	assert.Len(t, sanitizeID(strings.Repeat("x", 80)), 50)
}

func TestMapToMermaid_CollidingIDs(t *testing.T) {
	m := &models.ResourceMap{Nodes: []models.MapNode{
		{ID: "a-b", Type: "kubeObject", Label: "one"},
		{ID: "a.b", Type: "kubeObject", Label: "two"},
	}}
	out := MapToMermaid(m)
	assert.Contains(t, out, `a_b["one"]`)
	assert.Contains(t, out, `a_b_2["two"]`)
}

func TestMapToDrawioXML(t *testing.T) {
	data, err := MapToDrawioXML(sampleMap())
	require.NoError(t, err)

	var parsed mxfile
	require.NoError(t, xml.Unmarshal(data, &parsed))
	cells := parsed.Diagram.MxGraphModel.Root.Cells
	// two root cells, three vertices, one edge
	require.Len(t, cells, 6)
	edge := cells[5]
	assert.Equal(t, "1", edge.Edge)
	assert.Equal(t, cells[3].ID, edge.Source)
	assert.Equal(t, cells[4].ID, edge.Target)
	require.NotNil(t, edge.Geometry.Points)
	assert.Equal(t, "290.0", edge.Geometry.Points.Points[0].X)
	assert.Equal(t, "prod", parsed.Diagram.Name)
}

func TestDrawioURL(t *testing.T) {
	u, err := DrawioURL("")
	require.NoError(t, err)
	assert.Equal(t, drawioBaseURL, u)

	u, err = DrawioURL(MapToMermaid(sampleMap()))
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(u, drawioBaseURL+"?grid=0"))
	assert.Contains(t, u, "#create=")
}

func TestFormatMetadata(t *testing.T) {
	assert.Equal(t, "image/svg+xml", FormatSVG.ContentType())
	assert.Equal(t, "mmd", FormatMermaid.Extension())
	assert.Equal(t, "json", FormatJSON.Extension())
}
