package service

import (
	"errors"
	"fmt"
	"math"
	"net/url"
	"sort"
	"strconv"
	"strings"

	"k8s.io/apimachinery/pkg/util/sets"

	"github.com/kubilitics/resourcemap/internal/graph"
	"github.com/kubilitics/resourcemap/internal/pkg/validate"
)

const (
	// DefaultAspectRatio is used when the client does not send its viewport ratio.
	DefaultAspectRatio = 16.0 / 9.0
	maxAspectRatio     = 10.0

	groupNone = "none"
)

// ErrInvalidView wraps every query parameter error of ParseViewState.
var ErrInvalidView = errors.New("invalid view")

// ViewState is what the map is looking at: the selected node, the grouping
// and the filters. It round-trips through URL query parameters.
type ViewState struct {
	SelectedNodeID string
	GroupBy        graph.GroupBy
	ExpandAll      bool
	HasErrors      bool
	// Namespaces is sorted and free of duplicates.
	Namespaces  []string
	AspectRatio float64
}

func DefaultViewState() ViewState {
	return ViewState{GroupBy: graph.GroupByNamespace, AspectRatio: DefaultAspectRatio}
}

// ParseViewState reads a view from query parameters. Missing parameters
// keep their defaults; group=none disables grouping and node=root clears
// the selection.
func ParseViewState(q url.Values) (ViewState, error) {
	v := DefaultViewState()

	if node := q.Get("node"); node != "" && node != graph.RootID {
		if !validate.NodeID(node) {
			return v, fmt.Errorf("%w: node %q", ErrInvalidView, node)
		}
		v.SelectedNodeID = node
	}

	if q.Has("group") {
		switch g := q.Get("group"); g {
		case groupNone, "":
			v.GroupBy = graph.GroupByNone
		default:
			v.GroupBy = graph.ParseGroupBy(g)
			if v.GroupBy == graph.GroupByNone {
				return v, fmt.Errorf("%w: group %q", ErrInvalidView, g)
			}
		}
	}

	var err error
	if v.ExpandAll, err = parseBool(q, "expandAll"); err != nil {
		return v, err
	}
	if v.HasErrors, err = parseBool(q, "hasErrors"); err != nil {
		return v, err
	}

	namespaces := sets.New[string]()
	for _, raw := range q["namespace"] {
		for _, ns := range strings.Split(raw, ",") {
			ns = strings.TrimSpace(ns)
			if ns == "" {
				continue
			}
			if !validate.Namespace(ns) {
				return v, fmt.Errorf("%w: namespace %q", ErrInvalidView, ns)
			}
			namespaces.Insert(ns)
		}
	}
	if namespaces.Len() > 0 {
		v.Namespaces = sets.List(namespaces)
	}

	if raw := q.Get("aspectRatio"); raw != "" {
		ratio, err := strconv.ParseFloat(raw, 64)
		if err != nil || math.IsNaN(ratio) || ratio <= 0 || ratio > maxAspectRatio {
			return v, fmt.Errorf("%w: aspectRatio %q", ErrInvalidView, raw)
		}
		v.AspectRatio = ratio
	}
	return v, nil
}

func parseBool(q url.Values, key string) (bool, error) {
	raw := q.Get(key)
	if raw == "" {
		return false, nil
	}
	b, err := strconv.ParseBool(raw)
	if err != nil {
		return false, fmt.Errorf("%w: %s %q", ErrInvalidView, key, raw)
	}
	return b, nil
}

// Values encodes the view, leaving out parameters that hold their default.
func (v ViewState) Values() url.Values {
	q := url.Values{}
	if v.SelectedNodeID != "" {
		q.Set("node", v.SelectedNodeID)
	}
	switch v.GroupBy {
	case graph.GroupByNamespace:
	case graph.GroupByNone:
		q.Set("group", groupNone)
	default:
		q.Set("group", string(v.GroupBy))
	}
	if v.ExpandAll {
		q.Set("expandAll", "true")
	}
	if v.HasErrors {
		q.Set("hasErrors", "true")
	}
	if len(v.Namespaces) > 0 {
		ns := append([]string(nil), v.Namespaces...)
		sort.Strings(ns)
		q.Set("namespace", strings.Join(ns, ","))
	}
	if v.AspectRatio > 0 && v.AspectRatio != DefaultAspectRatio {
		q.Set("aspectRatio", strconv.FormatFloat(v.AspectRatio, 'g', -1, 64))
	}
	return q
}

// Encode returns the canonical query string of the view. Equal views encode
// identically, which makes it usable as a cache key.
func (v ViewState) Encode() string {
	return v.Values().Encode()
}

// Filters returns the node filters the view asks for.
func (v ViewState) Filters() []graph.Filter {
	var filters []graph.Filter
	if v.HasErrors {
		filters = append(filters, graph.HasErrorsFilter())
	}
	if len(v.Namespaces) > 0 {
		filters = append(filters, graph.NamespaceFilter(v.Namespaces...))
	}
	return filters
}

func (v ViewState) aspectRatio() float64 {
	if v.AspectRatio <= 0 {
		return DefaultAspectRatio
	}
	return v.AspectRatio
}
