package mapexport

import (
	"bytes"
	"compress/flate"
	"encoding/base64"
	"encoding/json"
	"net/url"
	"regexp"
	"strconv"
	"strings"

	"github.com/kubilitics/resourcemap/internal/models"
)

const drawioBaseURL = "https://app.diagrams.net/"

var (
	unsafeIDChars = regexp.MustCompile(`[^a-zA-Z0-9_]`)
	repeatedUnder = regexp.MustCompile(`_+`)
)

// sanitizeID makes a string safe for Mermaid node IDs.
func sanitizeID(s string) string {
	s = unsafeIDChars.ReplaceAllString(s, "_")
	s = repeatedUnder.ReplaceAllString(s, "_")
	if len(s) > 50 {
		s = s[:50]
	}
	if s == "" {
		s = "node"
	}
	return s
}

// MapToMermaid converts the map to a Mermaid flowchart. Expanded groups
// become subgraphs.
func MapToMermaid(m *models.ResourceMap) string {
	if m == nil || len(m.Nodes) == 0 {
		return "flowchart LR\n  empty[No resources]"
	}

	lines := []string{"flowchart LR"}
	ids := make(map[string]string, len(m.Nodes))
	used := make(map[string]bool, len(m.Nodes))
	for _, n := range m.Nodes {
		id := sanitizeID(n.ID)
		for base, i := id, 2; used[id]; i++ {
			id = base + "_" + strconv.Itoa(i)
		}
		used[id] = true
		ids[n.ID] = id
	}

	byParent := children(m)
	var emit func(parent, indent string)
	emit = func(parent, indent string) {
		for _, n := range byParent[parent] {
			label := strings.ReplaceAll(nodeLabel(n, 40), `"`, "'")
			if isContainer(n) {
				lines = append(lines, indent+"subgraph "+ids[n.ID]+`["`+label+`"]`)
				emit(n.ID, indent+"  ")
				lines = append(lines, indent+"end")
				continue
			}
			lines = append(lines, indent+ids[n.ID]+`["`+label+`"]`)
		}
	}
	emit("", "  ")

	for _, e := range m.Edges {
		from, ok1 := ids[e.Source]
		to, ok2 := ids[e.Target]
		if !ok1 || !ok2 {
			continue
		}
		label := ""
		if e.Label != "" {
			label = "|" + strings.ReplaceAll(e.Label, "|", "/") + "|"
		}
		lines = append(lines, "  "+from+" -->"+label+" "+to)
	}
	return strings.Join(lines, "\n")
}

// createObj is the draw.io JSON structure for the create= hash.
type createObj struct {
	Type       string `json:"type"`
	Compressed bool   `json:"compressed"`
	Data       string `json:"data"`
}

// DrawioURL returns a draw.io URL that opens the editor with the given Mermaid content.
func DrawioURL(mermaid string) (string, error) {
	if mermaid == "" {
		return drawioBaseURL, nil
	}

	var buf bytes.Buffer
	w, err := flate.NewWriter(&buf, flate.BestCompression)
	if err != nil {
		return "", err
	}
	if _, err := w.Write([]byte(url.QueryEscape(mermaid))); err != nil {
		w.Close()
		return "", err
	}
	if err := w.Close(); err != nil {
		return "", err
	}

	obj, err := json.Marshal(createObj{
		Type:       "mermaid",
		Compressed: true,
		Data:       base64.StdEncoding.EncodeToString(buf.Bytes()),
	})
	if err != nil {
		return "", err
	}
	return drawioBaseURL + "?grid=0&pv=0&border=10&edit=_blank#create=" + url.QueryEscape(string(obj)), nil
}
