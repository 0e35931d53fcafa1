// Package mapexport renders a laid-out resource map as JSON, YAML, SVG,
// Mermaid or draw.io XML.
package mapexport

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"sigs.k8s.io/yaml"

	"github.com/kubilitics/resourcemap/internal/models"
)

// Format is an export format.
type Format string

const (
	FormatJSON    Format = "json"
	FormatYAML    Format = "yaml"
	FormatSVG     Format = "svg"
	FormatMermaid Format = "mermaid"
	FormatDrawio  Format = "drawio"
)

// ErrUnsupportedFormat is returned by ParseFormat and Export.
var ErrUnsupportedFormat = errors.New("unsupported export format")

// ParseFormat parses a format name, case-insensitively.
func ParseFormat(s string) (Format, error) {
	switch f := Format(strings.ToLower(strings.TrimSpace(s))); f {
	case FormatJSON, FormatYAML, FormatSVG, FormatMermaid, FormatDrawio:
		return f, nil
	case "yml":
		return FormatYAML, nil
	}
	return "", fmt.Errorf("%w: %q", ErrUnsupportedFormat, s)
}

// ContentType returns the HTTP content type of f.
func (f Format) ContentType() string {
	switch f {
	case FormatJSON:
		return "application/json"
	case FormatYAML:
		return "application/yaml"
	case FormatSVG:
		return "image/svg+xml"
	case FormatDrawio:
		return "application/xml"
	}
	return "text/plain; charset=utf-8"
}

// Extension returns the file extension used for downloads.
func (f Format) Extension() string {
	switch f {
	case FormatMermaid:
		return "mmd"
	case FormatDrawio:
		return "drawio"
	}
	return string(f)
}

// Export renders m in format f.
func Export(m *models.ResourceMap, f Format) ([]byte, error) {
	switch f {
	case FormatJSON:
		return MapToJSON(m)
	case FormatYAML:
		return MapToYAML(m)
	case FormatSVG:
		return MapToSVG(m), nil
	case FormatMermaid:
		return []byte(MapToMermaid(m)), nil
	case FormatDrawio:
		return MapToDrawioXML(m)
	}
	return nil, fmt.Errorf("%w: %q", ErrUnsupportedFormat, f)
}

// MapToJSON returns the map as indented JSON.
func MapToJSON(m *models.ResourceMap) ([]byte, error) {
	if m == nil {
		return []byte("null"), nil
	}
	return json.MarshalIndent(m, "", "  ")
}

// MapToYAML returns the map as YAML, using the JSON field names.
func MapToYAML(m *models.ResourceMap) ([]byte, error) {
	if m == nil {
		return []byte("null\n"), nil
	}
	return yaml.Marshal(m)
}

// children indexes nodes by ParentID, keeping map order.
func children(m *models.ResourceMap) map[string][]models.MapNode {
	out := make(map[string][]models.MapNode)
	for _, n := range m.Nodes {
		out[n.ParentID] = append(out[n.ParentID], n)
	}
	return out
}

func isContainer(n models.MapNode) bool {
	return n.Type != "kubeObject" && !n.Collapsed
}

func nodeLabel(n models.MapNode, max int) string {
	label := n.Label
	if n.Type == "kubeObject" && n.Kind != "" {
		label = n.Kind + ": " + label
	}
	if max > 3 && len(label) > max {
		label = label[:max-3] + "..."
	}
	return label
}
