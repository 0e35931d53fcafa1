package sources

import (
	"context"
	"errors"
	"fmt"

	"k8s.io/apimachinery/pkg/util/sets"

	"github.com/kubilitics/resourcemap/internal/graph"
)

// ErrUnknownSource is returned when a source id is not part of the tree.
var ErrUnknownSource = errors.New("unknown source")

// Data is one snapshot delivered by a provider. A loaded but empty source
// delivers a non-nil Data with no nodes.
type Data struct {
	Nodes []*graph.Node
	Edges []*graph.Edge
}

// Provider produces the nodes and edges of a leaf source. Run blocks until
// ctx is done and calls notify every time the data changes. notify(nil)
// means the source is (again) loading.
type Provider interface {
	Run(ctx context.Context, notify func(*Data))
}

// ProviderFunc adapts a function to Provider.
type ProviderFunc func(ctx context.Context, notify func(*Data))

func (f ProviderFunc) Run(ctx context.Context, notify func(*Data)) {
	f(ctx, notify)
}

// Static returns a provider that delivers data once and then waits.
func Static(data *Data) Provider {
	return ProviderFunc(func(ctx context.Context, notify func(*Data)) {
		notify(data)
		<-ctx.Done()
	})
}

// SourceKind discriminates leaf and composite sources.
type SourceKind int

const (
	SourceLeaf SourceKind = iota
	SourceComposite
)

// Source is a node of the source tree. Leaves carry a Provider, composites
// carry child sources and exist to toggle them together.
type Source struct {
	ID    string
	Label string
	Kind  SourceKind
	// DisabledByDefault removes the source, and everything below it, from
	// the initial selection.
	DisabledByDefault bool

	Provider Provider
	Sources  []*Source
}

func NewLeaf(id, label string, provider Provider) *Source {
	return &Source{ID: id, Label: label, Kind: SourceLeaf, Provider: provider}
}

func NewComposite(id, label string, children ...*Source) *Source {
	return &Source{ID: id, Label: label, Kind: SourceComposite, Sources: children}
}

// Disabled marks s as not selected by default and returns it.
func (s *Source) Disabled() *Source {
	s.DisabledByDefault = true
	return s
}

// Leaves returns the leaf sources of tree in depth first order.
func Leaves(tree ...*Source) []*Source {
	var out []*Source
	for _, s := range tree {
		if s.Kind == SourceLeaf {
			out = append(out, s)
			continue
		}
		out = append(out, Leaves(s.Sources...)...)
	}
	return out
}

// Find returns the source with the given id anywhere in tree.
func Find(tree []*Source, id string) (*Source, bool) {
	for _, s := range tree {
		if s.ID == id {
			return s, true
		}
		if s.Kind == SourceComposite {
			if found, ok := Find(s.Sources, id); ok {
				return found, true
			}
		}
	}
	return nil, false
}

// DefaultSelection selects every leaf whose whole chain of ancestors is
// enabled by default.
func DefaultSelection(tree []*Source) sets.Set[string] {
	selected := sets.New[string]()
	var walk func(list []*Source)
	walk = func(list []*Source) {
		for _, s := range list {
			if s.DisabledByDefault {
				continue
			}
			if s.Kind == SourceLeaf {
				selected.Insert(s.ID)
				continue
			}
			walk(s.Sources)
		}
	}
	walk(tree)
	return selected
}

// Toggle returns a new selection with id toggled. Toggling a composite
// deselects all its leaves when they are all selected and selects them all
// otherwise. selected itself is not modified.
func Toggle(tree []*Source, selected sets.Set[string], id string) (sets.Set[string], error) {
	s, ok := Find(tree, id)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownSource, id)
	}
	next := selected.Clone()
	if s.Kind == SourceLeaf {
		if next.Has(id) {
			next.Delete(id)
		} else {
			next.Insert(id)
		}
		return next, nil
	}

	leafIDs := sets.New[string]()
	for _, leaf := range Leaves(s) {
		leafIDs.Insert(leaf.ID)
	}
	if next.IsSuperset(leafIDs) {
		return next.Difference(leafIDs), nil
	}
	return next.Union(leafIDs), nil
}

// SelectionState describes how much of a source is selected.
type SelectionState string

const (
	SelectionAll     SelectionState = "all"
	SelectionPartial SelectionState = "partial"
	SelectionNone    SelectionState = "none"
)

// StateOf reports whether all, some or none of the leaves under s are selected.
func StateOf(s *Source, selected sets.Set[string]) SelectionState {
	leaves := Leaves(s)
	count := 0
	for _, leaf := range leaves {
		if selected.Has(leaf.ID) {
			count++
		}
	}
	switch {
	case count == 0:
		return SelectionNone
	case count == len(leaves):
		return SelectionAll
	}
	return SelectionPartial
}
