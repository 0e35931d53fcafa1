package sources

import (
	"context"
	"log/slog"
	"maps"
	"sync"
	"time"

	"k8s.io/apimachinery/pkg/util/sets"

	"github.com/kubilitics/resourcemap/internal/graph"
	"github.com/kubilitics/resourcemap/internal/pkg/metrics"
)

// DefaultThrottle is the minimum delay between two recomputations.
const DefaultThrottle = 500 * time.Millisecond

// SourceStatus is the per-leaf part of a Snapshot.
type SourceStatus struct {
	Loading bool
	Nodes   int
	Edges   int
}

// Snapshot is one published state of the merged graph.
type Snapshot struct {
	Generation uint64
	Nodes      []*graph.Node
	Edges      []*graph.Edge
	IsLoading  bool
	Selected   sets.Set[string]
	Sources    map[string]SourceStatus
	UpdatedAt  time.Time
}

type run struct {
	cancel context.CancelFunc
}

// Manager runs the providers of the selected sources and publishes the
// merged graph every time one of them reports.
type Manager struct {
	name      string
	log       *slog.Logger
	tree      []*Source
	leaves    []*Source
	relations []Relation
	interval  time.Duration
	throttle  *throttler

	// serializes recompute so generations are published in order
	recomputeMu sync.Mutex
	wg          sync.WaitGroup

	mu          sync.Mutex
	ctx         context.Context
	selected    sets.Set[string]
	data        map[string]*Data
	runs        map[string]*run
	generation  uint64
	snapshot    *Snapshot
	subscribers map[uint64]chan *Snapshot
	nextSub     uint64
}

// Option configures a Manager.
type Option func(*Manager)

// WithThrottle overrides DefaultThrottle. Zero recomputes on every update.
func WithThrottle(d time.Duration) Option {
	return func(m *Manager) { m.interval = d }
}

func WithLogger(log *slog.Logger) Option {
	return func(m *Manager) { m.log = log }
}

// WithName labels logs and metrics, usually with the cluster id.
func WithName(name string) Option {
	return func(m *Manager) { m.name = name }
}

// WithSelection replaces the default selection.
func WithSelection(ids ...string) Option {
	return func(m *Manager) { m.selected = sets.New(ids...) }
}

// NewManager creates a manager over tree. Providers do not run until Start.
func NewManager(tree []*Source, relations []Relation, opts ...Option) *Manager {
	m := &Manager{
		log:         slog.Default(),
		tree:        tree,
		leaves:      Leaves(tree...),
		relations:   relations,
		interval:    DefaultThrottle,
		data:        make(map[string]*Data),
		runs:        make(map[string]*run),
		subscribers: make(map[uint64]chan *Snapshot),
	}
	for _, opt := range opts {
		opt(m)
	}
	if m.selected == nil {
		m.selected = DefaultSelection(tree)
	}
	m.selected = m.restrict(m.selected)
	m.log = m.log.With("component", "source-manager", "name", m.name)
	m.throttle = newThrottler(m.interval, m.recompute)
	m.snapshot = &Snapshot{
		Selected:  m.selected.Clone(),
		IsLoading: m.selected.Len() > 0,
		Sources:   map[string]SourceStatus{},
	}
	return m
}

// restrict drops ids that are not leaves.
func (m *Manager) restrict(ids sets.Set[string]) sets.Set[string] {
	out := sets.New[string]()
	for _, leaf := range m.leaves {
		if ids.Has(leaf.ID) {
			out.Insert(leaf.ID)
		}
	}
	return out
}

// Start runs the providers of the selected sources until ctx is done or
// Stop is called.
func (m *Manager) Start(ctx context.Context) {
	m.mu.Lock()
	m.ctx = ctx
	m.reconcileLocked()
	m.mu.Unlock()

	m.throttle.Trigger()
}

// Stop cancels every provider and waits for them to return.
func (m *Manager) Stop() {
	m.mu.Lock()
	for id := range m.runs {
		m.stopLocked(id)
	}
	m.ctx = nil
	for id, ch := range m.subscribers {
		close(ch)
		delete(m.subscribers, id)
	}
	m.mu.Unlock()

	m.throttle.Stop()
	m.wg.Wait()
}

func (m *Manager) reconcileLocked() {
	if m.ctx == nil {
		return
	}
	for _, leaf := range m.leaves {
		_, running := m.runs[leaf.ID]
		switch {
		case m.selected.Has(leaf.ID) && !running:
			m.startLocked(leaf)
		case !m.selected.Has(leaf.ID) && running:
			m.stopLocked(leaf.ID)
		}
	}
}

func (m *Manager) startLocked(leaf *Source) {
	ctx, cancel := context.WithCancel(m.ctx)
	r := &run{cancel: cancel}
	m.runs[leaf.ID] = r
	m.data[leaf.ID] = nil

	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		leaf.Provider.Run(ctx, func(d *Data) {
			m.report(leaf.ID, r, d)
		})
	}()
	m.log.Debug("source started", "source", leaf.ID)
}

func (m *Manager) stopLocked(id string) {
	if r, ok := m.runs[id]; ok {
		r.cancel()
		delete(m.runs, id)
	}
	delete(m.data, id)
	m.log.Debug("source stopped", "source", id)
}

// report records data from the run r of source id. Reports from runs that
// have been stopped are ignored.
func (m *Manager) report(id string, r *run, d *Data) {
	m.mu.Lock()
	if m.runs[id] != r {
		m.mu.Unlock()
		return
	}
	m.data[id] = d
	m.mu.Unlock()

	m.throttle.Trigger()
}

// Toggle flips the selection of a leaf or of all leaves under a composite.
func (m *Manager) Toggle(id string) error {
	m.mu.Lock()
	next, err := Toggle(m.tree, m.selected, id)
	m.mu.Unlock()
	if err != nil {
		return err
	}
	m.SetSelected(next)
	return nil
}

// SetSelected replaces the selection, starting and stopping providers.
func (m *Manager) SetSelected(ids sets.Set[string]) {
	m.mu.Lock()
	m.selected = m.restrict(ids)
	m.reconcileLocked()
	m.mu.Unlock()

	m.throttle.Trigger()
}

func (m *Manager) Selected() sets.Set[string] {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.selected.Clone()
}

// Tree returns the source tree the manager was built with.
func (m *Manager) Tree() []*Source {
	return m.tree
}

// Snapshot returns the last published snapshot.
func (m *Manager) Snapshot() *Snapshot {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.snapshot
}

// Generation returns the generation of the last published snapshot.
func (m *Manager) Generation() uint64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.generation
}

// Interval returns the minimum delay between two recomputations.
func (m *Manager) Interval() time.Duration {
	return m.interval
}

// Subscribe returns a channel receiving every new snapshot. A slow reader
// only ever sees the latest one. The channel is closed by cancel or Stop.
func (m *Manager) Subscribe() (<-chan *Snapshot, func()) {
	ch := make(chan *Snapshot, 1)
	m.mu.Lock()
	id := m.nextSub
	m.nextSub++
	m.subscribers[id] = ch
	m.mu.Unlock()

	return ch, func() {
		m.mu.Lock()
		defer m.mu.Unlock()
		if _, ok := m.subscribers[id]; ok {
			delete(m.subscribers, id)
			close(ch)
		}
	}
}

func (m *Manager) recompute() {
	m.recomputeMu.Lock()
	defer m.recomputeMu.Unlock()
	start := time.Now()

	m.mu.Lock()
	selected := m.selected.Clone()
	data := maps.Clone(m.data)
	m.mu.Unlock()

	merged := Merge(m.leaves, selected, data, m.relations)

	status := make(map[string]SourceStatus, selected.Len())
	for id := range selected {
		d := data[id]
		if d == nil {
			status[id] = SourceStatus{Loading: true}
			continue
		}
		status[id] = SourceStatus{Nodes: len(d.Nodes), Edges: len(d.Edges)}
	}

	m.mu.Lock()
	m.generation++
	snap := &Snapshot{
		Generation: m.generation,
		Nodes:      merged.Nodes,
		Edges:      merged.Edges,
		IsLoading:  merged.IsLoading,
		Selected:   selected,
		Sources:    status,
		UpdatedAt:  time.Now(),
	}
	m.snapshot = snap
	// sends happen under mu so cancel never closes a channel mid-send
	for _, ch := range m.subscribers {
		select {
		case <-ch:
		default:
		}
		ch <- snap
	}
	m.mu.Unlock()

	metrics.SourceRecomputeTotal.WithLabelValues(m.name).Inc()
	metrics.SourceRecomputeDurationSeconds.WithLabelValues(m.name).Observe(time.Since(start).Seconds())
	m.log.Debug("sources merged",
		"generation", snap.Generation,
		"nodes", len(snap.Nodes),
		"edges", len(snap.Edges),
		"loading", snap.IsLoading,
	)
}
