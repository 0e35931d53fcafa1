package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"golang.org/x/sync/singleflight"
	corev1 "k8s.io/api/core/v1"
	"k8s.io/apimachinery/pkg/util/sets"

	"github.com/kubilitics/resourcemap/internal/config"
	"github.com/kubilitics/resourcemap/internal/graph"
	"github.com/kubilitics/resourcemap/internal/layout"
	"github.com/kubilitics/resourcemap/internal/models"
	"github.com/kubilitics/resourcemap/internal/pkg/layoutcache"
	"github.com/kubilitics/resourcemap/internal/pkg/mapexport"
	"github.com/kubilitics/resourcemap/internal/pkg/metrics"
	"github.com/kubilitics/resourcemap/internal/pkg/tracing"
	"github.com/kubilitics/resourcemap/internal/pkg/validate"
	"github.com/kubilitics/resourcemap/internal/repository"
	"github.com/kubilitics/resourcemap/internal/sources"
)

const (
	// SearchMaxResults caps the number of search matches.
	SearchMaxResults = 8

	defaultExpandAllMaxNodes = 50
	defaultLayoutTimeout     = 30 * time.Second
	// groupObjectsTimeout bounds the wait for the namespace and node caches
	// that decorate groups; grouping works without them.
	groupObjectsTimeout = 2 * time.Second
	snapshotRetention   = 30 * 24 * time.Hour
)

var (
	ErrNodeNotFound      = errors.New("node not found")
	ErrInvalidQuery      = errors.New("invalid search query")
	ErrSnapshotsDisabled = errors.New("snapshot storage is not configured")
	ErrInvalidSourceID   = errors.New("invalid source id")
)

// ResourceMapService builds laid out resource maps of registered clusters.
type ResourceMapService interface {
	GetMap(ctx context.Context, clusterID string, view ViewState) (*models.ResourceMap, error)
	Sources(ctx context.Context, clusterID string) (*models.SourceTree, error)
	ToggleSource(ctx context.Context, clusterID, sourceID string) (*models.SourceTree, error)
	Search(ctx context.Context, clusterID, query string) ([]models.SearchResult, error)
	NodeDetails(ctx context.Context, clusterID, nodeID string, view ViewState) (*models.NodeDetails, error)
	Export(ctx context.Context, clusterID string, view ViewState, format mapexport.Format) ([]byte, error)
	SaveSnapshot(ctx context.Context, clusterID string, view ViewState) (*models.ResourceMapSnapshot, error)
	ListSnapshots(ctx context.Context, clusterID string, limit int) ([]*models.ResourceMapSnapshot, error)
	GetSnapshot(ctx context.Context, clusterID, id string) (*models.ResourceMapSnapshot, error)
	// Watch streams a map for every new source generation until ctx is
	// done. The current map is sent first. Maps whose generation has been
	// superseded by the time they are built are dropped, unless nothing
	// was sent for a throttle interval. Generations never go backwards.
	Watch(ctx context.Context, clusterID string, view ViewState) (<-chan *models.ResourceMap, error)
}

type resourceMapService struct {
	clusters *clusterService
	repo     repository.SnapshotRepository // nil disables snapshots
	cache    *layoutcache.Cache
	engine   layout.Engine
	group    singleflight.Group
	log      *slog.Logger

	expandAllMaxNodes int
	layoutTimeout     time.Duration
}

func NewResourceMapService(cs ClusterService, repo repository.SnapshotRepository, cfg *config.Config, log *slog.Logger) ResourceMapService {
	if log == nil {
		log = slog.Default()
	}
	s := &resourceMapService{
		clusters:          cs.(*clusterService),
		repo:              repo,
		engine:            layout.NewEngine(),
		log:               log.With("component", "resourcemap"),
		expandAllMaxNodes: defaultExpandAllMaxNodes,
		layoutTimeout:     defaultLayoutTimeout,
	}
	if cfg != nil {
		s.cache = layoutcache.New(cfg.LayoutCacheSize, time.Duration(cfg.LayoutCacheTTLSec)*time.Second)
		if cfg.ExpandAllMaxNodes > 0 {
			s.expandAllMaxNodes = cfg.ExpandAllMaxNodes
		}
		if cfg.LayoutTimeoutSec > 0 {
			s.layoutTimeout = time.Duration(cfg.LayoutTimeoutSec) * time.Second
		}
	}
	s.clusters.onClusterRemoved(s.cache.InvalidateForCluster)
	return s
}

func (s *resourceMapService) GetMap(ctx context.Context, clusterID string, view ViewState) (*models.ResourceMap, error) {
	c, err := s.clusters.lookup(clusterID)
	if err != nil {
		return nil, err
	}
	return s.mapFor(ctx, c, c.manager.Snapshot(), view)
}

// mapFor returns the map of snap for view, from the cache when possible.
// Concurrent requests for the same key share one build.
func (s *resourceMapService) mapFor(ctx context.Context, c *cluster, snap *sources.Snapshot, view ViewState) (*models.ResourceMap, error) {
	encoded := view.Encode()
	key := layoutcache.Key(c.id, snap.Generation, encoded)
	if m, ok := s.cache.Get(key); ok {
		return m, nil
	}
	v, err, _ := s.group.Do(key, func() (any, error) {
		// detached so one cancelled caller does not fail the others
		buildCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.layoutTimeout)
		defer cancel()
		m, err := s.build(buildCtx, c, snap, view)
		if err != nil {
			return nil, err
		}
		s.cache.Set(key, m)
		return m, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*models.ResourceMap), nil
}

// build runs filter, group, collapse and layout over one snapshot.
func (s *resourceMapService) build(ctx context.Context, c *cluster, snap *sources.Snapshot, view ViewState) (*models.ResourceMap, error) {
	encoded := view.Encode()
	ctx, span := tracing.StartSpanWithAttributes(ctx, "resourcemap.build",
		attribute.String("cluster", c.id),
		attribute.Int64("generation", int64(snap.Generation)),
		attribute.String("view", encoded),
	)
	defer span.End()
	start := time.Now()

	root := s.groupedGraph(ctx, c, snap, view)

	expandAll := view.ExpandAll
	ignored := false
	if expandAll && graph.GraphSize(root) > s.expandAllMaxNodes {
		expandAll = false
		ignored = true
	}
	collapsed := graph.CollapseGraph(root, graph.CollapseOptions{
		SelectedNodeID: view.SelectedNodeID,
		ExpandAll:      expandAll,
	})

	layoutCtx, layoutSpan := tracing.StartSpanWithAttributes(ctx, "resourcemap.layout")
	layoutStart := time.Now()
	res, err := layout.ApplyGraphLayout(layoutCtx, s.engine, collapsed, view.aspectRatio())
	metrics.LayoutDurationSeconds.Observe(time.Since(layoutStart).Seconds())
	tracing.RecordError(layoutSpan, err)
	layoutSpan.End()
	if err != nil {
		tracing.RecordError(span, err)
		return nil, err
	}
	metrics.LayoutNodes.Observe(float64(len(res.Nodes)))

	m := toResourceMap(res)
	m.ClusterID = c.id
	m.Generation = snap.Generation
	m.IsLoading = snap.IsLoading
	m.View = encoded
	m.Breadcrumbs = breadcrumbs(root, view.SelectedNodeID)
	m.ExpandAllIgnored = ignored
	m.GeneratedAt = time.Now().UTC()

	metrics.ResourceMapBuildDurationSeconds.WithLabelValues(c.id).Observe(time.Since(start).Seconds())
	s.log.Debug("resource map built",
		"cluster", c.id,
		"generation", snap.Generation,
		"view", encoded,
		"nodes", len(m.Nodes),
		"edges", len(m.Edges),
		"duration", time.Since(start),
	)
	return m, nil
}

// groupedGraph filters snap and groups the result for view.
func (s *resourceMapService) groupedGraph(ctx context.Context, c *cluster, snap *sources.Snapshot, view ViewState) *graph.Node {
	_, span := tracing.StartSpanWithAttributes(ctx, "resourcemap.group",
		attribute.String("groupBy", string(view.GroupBy)),
		attribute.Int("nodes", len(snap.Nodes)),
	)
	defer span.End()

	nodes, edges := graph.FilterGraph(snap.Nodes, snap.Edges, view.Filters())
	opts := graph.GroupOptions{GroupBy: view.GroupBy}
	opts.Namespaces, opts.Nodes = s.groupObjects(ctx, c, view.GroupBy)
	return graph.GroupGraph(nodes, edges, opts)
}

// groupObjects fetches the cluster objects that decorate namespace and node groups.
func (s *resourceMapService) groupObjects(ctx context.Context, c *cluster, by graph.GroupBy) ([]*corev1.Namespace, []*corev1.Node) {
	ctx, cancel := context.WithTimeout(ctx, groupObjectsTimeout)
	defer cancel()
	switch by {
	case graph.GroupByNamespace:
		namespaces, err := c.informers.Namespaces(ctx)
		if err != nil {
			s.log.Warn("namespaces unavailable for grouping", "cluster", c.id, "error", err)
		}
		return namespaces, nil
	case graph.GroupByNode:
		nodes, err := c.informers.Nodes(ctx)
		if err != nil {
			s.log.Warn("nodes unavailable for grouping", "cluster", c.id, "error", err)
		}
		return nil, nodes
	}
	return nil, nil
}

func (s *resourceMapService) Sources(ctx context.Context, clusterID string) (*models.SourceTree, error) {
	c, err := s.clusters.lookup(clusterID)
	if err != nil {
		return nil, err
	}
	return sourceTree(c), nil
}

func (s *resourceMapService) ToggleSource(ctx context.Context, clusterID, sourceID string) (*models.SourceTree, error) {
	if !validate.SourceID(sourceID) {
		return nil, fmt.Errorf("%w: %q", ErrInvalidSourceID, sourceID)
	}
	c, err := s.clusters.lookup(clusterID)
	if err != nil {
		return nil, err
	}
	// a toggle publishes a new generation, cached maps of the old one are never hit again
	if err := c.manager.Toggle(sourceID); err != nil {
		return nil, err
	}
	s.log.Info("source toggled", "cluster", clusterID, "source", sourceID)
	return sourceTree(c), nil
}

func sourceTree(c *cluster) *models.SourceTree {
	snap := c.manager.Snapshot()
	selected := c.manager.Selected()
	return &models.SourceTree{
		ClusterID:  c.id,
		Generation: snap.Generation,
		IsLoading:  snap.IsLoading,
		Sources:    sourceInfos(c.manager.Tree(), selected, snap.Sources),
	}
}

func sourceInfos(tree []*sources.Source, selected sets.Set[string], status map[string]sources.SourceStatus) []models.SourceInfo {
	out := make([]models.SourceInfo, 0, len(tree))
	for _, src := range tree {
		info := models.SourceInfo{
			ID:    src.ID,
			Label: src.Label,
			Kind:  "leaf",
			State: string(sources.StateOf(src, selected)),
		}
		if src.Kind == sources.SourceComposite {
			info.Kind = "composite"
			info.Children = sourceInfos(src.Sources, selected, status)
			for _, child := range info.Children {
				info.Loading = info.Loading || child.Loading
				info.Nodes += child.Nodes
			}
		} else if selected.Has(src.ID) {
			st, reported := status[src.ID]
			info.Loading = !reported || st.Loading
			info.Nodes = st.Nodes
		}
		out = append(out, info)
	}
	return out
}

func (s *resourceMapService) Search(ctx context.Context, clusterID, query string) ([]models.SearchResult, error) {
	q, ok := validate.SearchQuery(query)
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrInvalidQuery, query)
	}
	c, err := s.clusters.lookup(clusterID)
	if err != nil {
		return nil, err
	}
	results := []models.SearchResult{}
	for _, n := range c.manager.Snapshot().Nodes {
		if n.Resource == nil || !strings.Contains(n.Resource.Name(), q) {
			continue
		}
		results = append(results, models.SearchResult{
			ID:        n.ID,
			Kind:      n.Resource.Kind,
			Name:      n.Resource.Name(),
			Namespace: n.Resource.Namespace(),
			Status:    string(graph.GetStatus(n.Resource)),
		})
		if len(results) == SearchMaxResults {
			break
		}
	}
	return results, nil
}

func (s *resourceMapService) NodeDetails(ctx context.Context, clusterID, nodeID string, view ViewState) (*models.NodeDetails, error) {
	c, err := s.clusters.lookup(clusterID)
	if err != nil {
		return nil, err
	}
	snap := c.manager.Snapshot()
	lookup := graph.MakeLookup(snap.Nodes, snap.Edges)
	n, ok := lookup.Node(nodeID)
	if !ok || n.Resource == nil {
		return nil, fmt.Errorf("%w: %s", ErrNodeNotFound, nodeID)
	}

	obj := n.Resource.Object
	d := &models.NodeDetails{
		ID:        n.ID,
		Kind:      n.Resource.Kind,
		Name:      n.Resource.Name(),
		Namespace: n.Resource.Namespace(),
		Status:    string(graph.GetStatus(n.Resource)),
		Labels:    n.Resource.Labels(),
		CreatedAt: obj.GetCreationTimestamp().Time,
		GroupPath: breadcrumbs(s.groupedGraph(ctx, c, snap, view), nodeID),
		Outgoing:  []models.EdgeRef{},
		Incoming:  []models.EdgeRef{},
	}
	outgoing, _ := lookup.OutgoingEdges(nodeID)
	for _, e := range outgoing {
		d.Outgoing = append(d.Outgoing, edgeRef(lookup, e, e.Target))
	}
	incoming, _ := lookup.IncomingEdges(nodeID)
	for _, e := range incoming {
		d.Incoming = append(d.Incoming, edgeRef(lookup, e, e.Source))
	}
	kinds := sets.New[string]()
	for _, ref := range obj.GetOwnerReferences() {
		kinds.Insert(ref.Kind)
	}
	if kinds.Len() > 0 {
		d.OwnerKinds = sets.List(kinds)
	}
	return d, nil
}

func edgeRef(lookup *graph.Lookup, e *graph.Edge, other string) models.EdgeRef {
	ref := models.EdgeRef{ID: e.ID, NodeID: other}
	if n, ok := lookup.Node(other); ok && n.Resource != nil {
		ref.Kind = n.Resource.Kind
		ref.Name = n.Resource.Name()
	}
	return ref
}

func (s *resourceMapService) Export(ctx context.Context, clusterID string, view ViewState, format mapexport.Format) ([]byte, error) {
	m, err := s.GetMap(ctx, clusterID, view)
	if err != nil {
		return nil, err
	}
	return mapexport.Export(m, format)
}

func (s *resourceMapService) SaveSnapshot(ctx context.Context, clusterID string, view ViewState) (*models.ResourceMapSnapshot, error) {
	if s.repo == nil {
		return nil, ErrSnapshotsDisabled
	}
	m, err := s.GetMap(ctx, clusterID, view)
	if err != nil {
		return nil, err
	}
	data, err := json.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("failed to encode resource map: %w", err)
	}
	snap := &models.ResourceMapSnapshot{
		ID:         uuid.NewString(),
		ClusterID:  clusterID,
		View:       m.View,
		Generation: int64(m.Generation),
		NodeCount:  len(m.Nodes),
		EdgeCount:  len(m.Edges),
		Data:       string(data),
		CreatedAt:  time.Now().UTC(),
	}
	if err := s.repo.SaveSnapshot(ctx, snap); err != nil {
		return nil, err
	}
	if n, err := s.repo.DeleteOldSnapshots(ctx, clusterID, snap.CreatedAt.Add(-snapshotRetention)); err != nil {
		s.log.Warn("failed to prune snapshots", "cluster", clusterID, "error", err)
	} else if n > 0 {
		s.log.Info("pruned snapshots", "cluster", clusterID, "count", n)
	}
	return snap, nil
}

func (s *resourceMapService) ListSnapshots(ctx context.Context, clusterID string, limit int) ([]*models.ResourceMapSnapshot, error) {
	if s.repo == nil {
		return nil, ErrSnapshotsDisabled
	}
	if _, err := s.clusters.lookup(clusterID); err != nil {
		return nil, err
	}
	return s.repo.ListSnapshots(ctx, clusterID, limit)
}

func (s *resourceMapService) GetSnapshot(ctx context.Context, clusterID, id string) (*models.ResourceMapSnapshot, error) {
	if s.repo == nil {
		return nil, ErrSnapshotsDisabled
	}
	return s.repo.GetSnapshot(ctx, clusterID, id)
}

func (s *resourceMapService) Watch(ctx context.Context, clusterID string, view ViewState) (<-chan *models.ResourceMap, error) {
	c, err := s.clusters.lookup(clusterID)
	if err != nil {
		return nil, err
	}
	updates, unsubscribe := c.manager.Subscribe()
	out := make(chan *models.ResourceMap, 1)

	go func() {
		defer close(out)
		defer unsubscribe()

		grace := c.manager.Interval()
		if grace <= 0 {
			grace = sources.DefaultThrottle
		}

		var sent uint64
		var sentAt time.Time
		haveSent := false
		publish := func(snap *sources.Snapshot) {
			if haveSent && snap.Generation <= sent {
				return
			}
			m, err := s.mapFor(ctx, c, snap, view)
			if err != nil {
				s.log.Warn("failed to build resource map", "cluster", c.id, "generation", snap.Generation, "error", err)
				return
			}
			// A superseded map is still sent when it is the first one or the
			// stream has been quiet for a throttle interval, so layouts
			// slower than the source churn slow the stream down instead of
			// starving it.
			if latest := c.manager.Generation(); latest > snap.Generation && haveSent && time.Since(sentAt) < grace {
				metrics.StaleMapsDroppedTotal.Inc()
				return
			}
			// latest map wins when the reader is slow
			select {
			case <-out:
			default:
			}
			out <- m
			sent, sentAt, haveSent = snap.Generation, time.Now(), true
		}

		publish(c.manager.Snapshot())
		for {
			select {
			case <-ctx.Done():
				return
			case snap, ok := <-updates:
				if !ok {
					return
				}
				publish(snap)
			}
		}
	}()
	return out, nil
}
