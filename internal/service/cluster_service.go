package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"
	apierrors "k8s.io/apimachinery/pkg/api/errors"
	"k8s.io/client-go/kubernetes"

	"github.com/kubilitics/resourcemap/internal/config"
	"github.com/kubilitics/resourcemap/internal/k8s"
	"github.com/kubilitics/resourcemap/internal/models"
	"github.com/kubilitics/resourcemap/internal/pkg/validate"
	"github.com/kubilitics/resourcemap/internal/sources"
)

const (
	defaultMaxClusters = 100
	// startupConcurrency bounds parallel cluster registration at start-up.
	startupConcurrency = 4
	connectTimeout     = 5 * time.Second
)

var (
	ErrClusterNotFound  = errors.New("cluster not found")
	ErrClusterExists    = errors.New("cluster already registered")
	ErrTooManyClusters  = errors.New("cluster limit reached")
	ErrInvalidClusterID = errors.New("invalid cluster id")
)

// ClusterService manages the clusters resource maps are built for. Every
// registered cluster runs its own informers and source manager.
type ClusterService interface {
	ListClusters(ctx context.Context) ([]*models.Cluster, error)
	GetCluster(ctx context.Context, id string) (*models.Cluster, error)
	// AddCluster connects to a kubeconfig context. The cluster id is the context name.
	AddCluster(ctx context.Context, kubeconfigPath, contextName string) (*models.Cluster, error)
	// AttachCluster registers an existing clientset, e.g. a fake one in tests.
	AttachCluster(ctx context.Context, id, name string, clientset kubernetes.Interface) (*models.Cluster, error)
	// StartClusters adds every context in parallel. An empty list adds the
	// current context. Failing contexts do not prevent the others from
	// being registered; the first error is returned.
	StartClusters(ctx context.Context, kubeconfigPath string, contexts []string) error
	RemoveCluster(ctx context.Context, id string) error
	// Shutdown stops every cluster.
	Shutdown()
}

// K8sClientFactory creates a k8s client from kubeconfig path and context. Used in tests to inject a fake client.
// When nil, AddCluster uses k8s.NewClient.
type K8sClientFactory func(kubeconfigPath, contextName string) (*k8s.Client, error)

// cluster is the running state of one registered cluster.
type cluster struct {
	id        string
	name      string
	context   string
	serverURL string
	version   string
	addedAt   time.Time

	client    *k8s.Client
	informers *k8s.InformerManager
	manager   *sources.Manager
	cancel    context.CancelFunc
}

func (c *cluster) stop() {
	c.cancel()
	c.manager.Stop()
	c.informers.Stop()
}

type clusterService struct {
	log *slog.Logger

	mu       sync.RWMutex
	clusters map[string]*cluster
	onRemove []func(id string)

	maxClusters        int
	k8sTimeout         time.Duration // timeout for outbound K8s API calls; 0 = use request context only
	k8sRateLimitPerSec float64
	k8sRateLimitBurst  int
	resync             time.Duration
	throttle           time.Duration
	selection          []string
	clientFactory      K8sClientFactory // optional; tests only
}

func NewClusterService(cfg *config.Config, log *slog.Logger) ClusterService {
	return newClusterService(cfg, log, nil)
}

// NewClusterServiceWithClientFactory is for tests: injects a client factory so AddCluster does not call real k8s.NewClient.
func NewClusterServiceWithClientFactory(cfg *config.Config, log *slog.Logger, factory K8sClientFactory) ClusterService {
	return newClusterService(cfg, log, factory)
}

func newClusterService(cfg *config.Config, log *slog.Logger, factory K8sClientFactory) *clusterService {
	if log == nil {
		log = slog.Default()
	}
	s := &clusterService{
		log:           log.With("component", "cluster-service"),
		clusters:      make(map[string]*cluster),
		maxClusters:   defaultMaxClusters,
		resync:        k8s.DefaultResync,
		throttle:      sources.DefaultThrottle,
		clientFactory: factory,
	}
	if cfg != nil {
		if cfg.MaxClusters > 0 {
			s.maxClusters = cfg.MaxClusters
		}
		if cfg.K8sTimeoutSec > 0 {
			s.k8sTimeout = time.Duration(cfg.K8sTimeoutSec) * time.Second
		}
		if cfg.K8sRateLimitPerSec > 0 && cfg.K8sRateLimitBurst > 0 {
			s.k8sRateLimitPerSec = cfg.K8sRateLimitPerSec
			s.k8sRateLimitBurst = cfg.K8sRateLimitBurst
		}
		if cfg.InformerResyncSec > 0 {
			s.resync = time.Duration(cfg.InformerResyncSec) * time.Second
		}
		s.throttle = time.Duration(cfg.ThrottleMs) * time.Millisecond
		s.selection = cfg.Sources
	}
	return s
}

func (s *clusterService) AddCluster(ctx context.Context, kubeconfigPath, contextName string) (*models.Cluster, error) {
	if contextName == "" {
		// resolve the current context so the cluster gets a stable id
		if _, current, err := k8s.KubeconfigContexts(kubeconfigPath); err == nil {
			contextName = current
		}
	}

	var client *k8s.Client
	var err error
	if s.clientFactory != nil {
		client, err = s.clientFactory(kubeconfigPath, contextName)
	} else {
		client, err = k8s.NewClient(kubeconfigPath, contextName)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to initialize k8s client: %w", err)
	}

	id := contextName
	if id == "" {
		id = "in-cluster"
	}
	return s.attach(ctx, id, contextName, contextName, client)
}

func (s *clusterService) AttachCluster(ctx context.Context, id, name string, clientset kubernetes.Interface) (*models.Cluster, error) {
	if name == "" {
		name = id
	}
	return s.attach(ctx, id, name, "", k8s.NewClientFromClientset(id, clientset))
}

func (s *clusterService) attach(ctx context.Context, id, name, contextName string, client *k8s.Client) (*models.Cluster, error) {
	if !validate.ClusterID(id) {
		return nil, fmt.Errorf("%w: %q", ErrInvalidClusterID, id)
	}

	client.SetClusterID(id)
	if s.k8sTimeout > 0 {
		client.SetTimeout(s.k8sTimeout)
	}
	if s.k8sRateLimitPerSec > 0 && s.k8sRateLimitBurst > 0 {
		client.SetLimiter(rate.NewLimiter(rate.Limit(s.k8sRateLimitPerSec), s.k8sRateLimitBurst))
	}

	// Connection problems are reported through the cluster status; the
	// informers keep retrying in the background.
	connCtx, cancel := context.WithTimeout(ctx, connectTimeout)
	defer cancel()
	version := ""
	if err := client.TestConnection(connCtx); err != nil {
		s.log.Warn("cluster connection test failed", "cluster", id, "status", clusterStatusFromError(err), "error", err)
	} else if v, err := client.ServerVersion(connCtx); err == nil {
		version = v
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.clusters[id]; exists {
		return nil, fmt.Errorf("%w: %s", ErrClusterExists, id)
	}
	if len(s.clusters) >= s.maxClusters {
		return nil, fmt.Errorf("%w (max %d)", ErrTooManyClusters, s.maxClusters)
	}

	log := s.log.With("cluster", id)
	informers := k8s.NewInformerManager(client.Clientset, s.resync)
	opts := []sources.Option{
		sources.WithName(id),
		sources.WithLogger(log),
		sources.WithThrottle(s.throttle),
	}
	if len(s.selection) > 0 {
		opts = append(opts, sources.WithSelection(s.selection...))
	}
	manager := sources.NewManager(sources.DefaultSources(informers, log), sources.Relations(), opts...)

	runCtx, runCancel := context.WithCancel(context.Background())
	c := &cluster{
		id:        id,
		name:      name,
		context:   contextName,
		version:   version,
		addedAt:   time.Now().UTC(),
		client:    client,
		informers: informers,
		manager:   manager,
		cancel:    runCancel,
	}
	if client.Config != nil {
		c.serverURL = client.Config.Host
	}
	manager.Start(runCtx)
	s.clusters[id] = c

	log.Info("cluster registered", "context", contextName, "version", version)
	return c.model(), nil
}

func (s *clusterService) StartClusters(ctx context.Context, kubeconfigPath string, contexts []string) error {
	if len(contexts) == 0 {
		contexts = []string{""}
	}
	var g errgroup.Group
	g.SetLimit(startupConcurrency)
	for _, name := range contexts {
		g.Go(func() error {
			if _, err := s.AddCluster(ctx, kubeconfigPath, name); err != nil {
				s.log.Error("failed to add cluster", "context", name, "error", err)
				return fmt.Errorf("context %q: %w", name, err)
			}
			return nil
		})
	}
	return g.Wait()
}

func (s *clusterService) ListClusters(ctx context.Context) ([]*models.Cluster, error) {
	s.mu.RLock()
	out := make([]*models.Cluster, 0, len(s.clusters))
	for _, c := range s.clusters {
		out = append(out, c.model())
	}
	s.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *clusterService) GetCluster(ctx context.Context, id string) (*models.Cluster, error) {
	c, err := s.lookup(id)
	if err != nil {
		return nil, err
	}
	return c.model(), nil
}

func (s *clusterService) RemoveCluster(ctx context.Context, id string) error {
	s.mu.Lock()
	c, ok := s.clusters[id]
	delete(s.clusters, id)
	hooks := s.onRemove
	s.mu.Unlock()
	if !ok {
		return fmt.Errorf("%w: %s", ErrClusterNotFound, id)
	}
	c.stop()
	for _, fn := range hooks {
		fn(id)
	}
	s.log.Info("cluster removed", "cluster", id)
	return nil
}

func (s *clusterService) Shutdown() {
	s.mu.Lock()
	clusters := s.clusters
	s.clusters = make(map[string]*cluster)
	s.mu.Unlock()

	var wg sync.WaitGroup
	for _, c := range clusters {
		wg.Add(1)
		go func(c *cluster) {
			defer wg.Done()
			c.stop()
		}(c)
	}
	wg.Wait()
}

func (s *clusterService) lookup(id string) (*cluster, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.clusters[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrClusterNotFound, id)
	}
	return c, nil
}

// onClusterRemoved registers fn to run after a cluster has been removed.
func (s *clusterService) onClusterRemoved(fn func(id string)) {
	s.mu.Lock()
	s.onRemove = append(s.onRemove, fn)
	s.mu.Unlock()
}

func (c *cluster) model() *models.Cluster {
	health := c.client.HealthStatus()
	m := &models.Cluster{
		ID:           c.id,
		Name:         c.name,
		Context:      c.context,
		ServerURL:    c.serverURL,
		Version:      c.version,
		Status:       "connected",
		CircuitState: health.CircuitState.String(),
		LastSuccess:  health.LastSuccess,
		Generation:   c.manager.Generation(),
		Watching:     c.informers.Started(),
		AddedAt:      c.addedAt,
	}
	if health.LastError != nil {
		m.Status = clusterStatusFromError(health.LastError)
		m.LastError = health.LastError.Error()
	} else if !health.Healthy {
		m.Status = "error"
	}
	return m
}

// clusterStatusFromError maps a connection error onto a cluster status.
func clusterStatusFromError(err error) string {
	switch {
	case err == nil:
		return "connected"
	case errors.Is(err, k8s.ErrCircuitOpen):
		return "unavailable"
	case apierrors.IsUnauthorized(err), apierrors.IsForbidden(err):
		return "unauthorized"
	}
	return "error"
}
