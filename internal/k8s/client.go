package k8s

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"golang.org/x/time/rate"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/client-go/kubernetes"
	"k8s.io/client-go/rest"
	"k8s.io/client-go/tools/clientcmd"
)

func defaultKubeconfigPath() string {
	if env := os.Getenv(clientcmd.RecommendedConfigPathEnvVar); env != "" {
		return filepath.SplitList(env)[0]
	}
	homeDir, _ := os.UserHomeDir()
	if homeDir == "" {
		return ""
	}
	return filepath.Join(homeDir, ".kube", "config")
}

// KubeconfigContexts returns all context names (sorted) and the current context from a kubeconfig file.
func KubeconfigContexts(kubeconfigPath string) ([]string, string, error) {
	if kubeconfigPath == "" {
		kubeconfigPath = defaultKubeconfigPath()
	}
	if kubeconfigPath == "" {
		return nil, "", nil
	}
	raw, err := clientcmd.NewNonInteractiveDeferredLoadingClientConfig(
		&clientcmd.ClientConfigLoadingRules{ExplicitPath: kubeconfigPath},
		&clientcmd.ConfigOverrides{},
	).RawConfig()
	if err != nil {
		return nil, "", err
	}
	names := make([]string, 0, len(raw.Contexts))
	for name := range raw.Contexts {
		names = append(names, name)
	}
	sort.Strings(names)
	return names, raw.CurrentContext, nil
}

// Client wraps a client-go clientset with the guards every map build goes through.
type Client struct {
	Clientset kubernetes.Interface
	Config    *rest.Config
	Context   string

	// Timeout for outbound K8s API calls; 0 means no timeout (use request context only).
	Timeout time.Duration
	// limiter optionally rate-limits outbound API calls per cluster. Nil = no limit.
	limiter        *rate.Limiter
	circuitBreaker *CircuitBreaker

	healthMu        sync.RWMutex
	lastSuccessTime time.Time
	lastError       error
}

// NewClient creates a client for the given kubeconfig context. An empty
// kubeconfigPath tries in-cluster config first, then ~/.kube/config.
func NewClient(kubeconfigPath, context string) (*Client, error) {
	var config *rest.Config
	var err error

	if kubeconfigPath == "" && context == "" {
		config, err = rest.InClusterConfig()
		if err != nil {
			config = nil
			kubeconfigPath = defaultKubeconfigPath()
		}
	} else if kubeconfigPath == "" {
		kubeconfigPath = defaultKubeconfigPath()
	}

	if config == nil {
		config, err = clientcmd.NewNonInteractiveDeferredLoadingClientConfig(
			&clientcmd.ClientConfigLoadingRules{ExplicitPath: kubeconfigPath},
			&clientcmd.ConfigOverrides{CurrentContext: context},
		).ClientConfig()
		if err != nil {
			return nil, fmt.Errorf("failed to build config: %w", err)
		}
	}

	clientset, err := kubernetes.NewForConfig(config)
	if err != nil {
		return nil, fmt.Errorf("failed to create clientset: %w", err)
	}

	c := NewClientFromClientset(context, clientset)
	c.Config = config
	c.Context = context
	return c, nil
}

// NewClientFromClientset wraps an existing clientset, e.g. a fake one in tests.
func NewClientFromClientset(clusterID string, clientset kubernetes.Interface) *Client {
	return &Client{
		Clientset:       clientset,
		circuitBreaker:  NewCircuitBreaker(clusterID),
		lastSuccessTime: time.Now(),
	}
}

// SetClusterID sets the cluster ID for circuit breaker metrics labeling.
func (c *Client) SetClusterID(clusterID string) {
	c.circuitBreaker.mu.Lock()
	c.circuitBreaker.clusterID = clusterID
	c.circuitBreaker.mu.Unlock()
}

// SetTimeout sets the timeout for outbound K8s API calls.
func (c *Client) SetTimeout(d time.Duration) {
	c.Timeout = d
}

// SetLimiter sets a token-bucket rate limiter for outbound K8s API calls.
func (c *Client) SetLimiter(l *rate.Limiter) {
	c.limiter = l
}

func (c *Client) waitRateLimit(ctx context.Context) error {
	if c.limiter == nil {
		return nil
	}
	return c.limiter.Wait(ctx)
}

// withTimeout returns ctx with timeout applied if c.Timeout > 0; otherwise returns ctx and a no-op cancel.
func (c *Client) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if c.Timeout > 0 {
		return context.WithTimeout(ctx, c.Timeout)
	}
	return ctx, func() {}
}

// call runs fn behind the rate limiter, the circuit breaker and the retry loop.
func call[T any](ctx context.Context, c *Client, fn func(ctx context.Context) (T, error)) (T, error) {
	var result T
	if err := c.waitRateLimit(ctx); err != nil {
		return result, err
	}
	err := c.circuitBreaker.Execute(ctx, func() error {
		ctx, cancel := c.withTimeout(ctx)
		defer cancel()
		var fnErr error
		result, fnErr = doWithRetryValue(ctx, defaultRetryAttempts, func() (T, error) {
			return fn(ctx)
		})
		return fnErr
	})
	c.updateHealth(err)
	return result, err
}

// TestConnection verifies connectivity to the cluster.
func (c *Client) TestConnection(ctx context.Context) error {
	_, err := call(ctx, c, func(ctx context.Context) (struct{}, error) {
		_, err := c.Clientset.CoreV1().Namespaces().List(ctx, metav1.ListOptions{Limit: 1})
		return struct{}{}, err
	})
	return err
}

// ServerVersion returns the Kubernetes server git version.
func (c *Client) ServerVersion(ctx context.Context) (string, error) {
	return call(ctx, c, func(context.Context) (string, error) {
		v, err := c.Clientset.Discovery().ServerVersion()
		if err != nil {
			return "", err
		}
		return v.GitVersion, nil
	})
}

func (c *Client) updateHealth(err error) {
	c.healthMu.Lock()
	defer c.healthMu.Unlock()
	if err == nil {
		c.lastSuccessTime = time.Now()
		c.lastError = nil
	} else {
		c.lastError = err
	}
}

// Health is a point-in-time view of a cluster connection.
type Health struct {
	Healthy      bool
	LastSuccess  time.Time
	LastError    error
	CircuitState CircuitBreakerState
}

// HealthStatus returns the health status of the cluster connection.
func (c *Client) HealthStatus() Health {
	c.healthMu.RLock()
	defer c.healthMu.RUnlock()

	state := c.circuitBreaker.State()
	return Health{
		Healthy:      state == StateClosed && c.lastError == nil,
		LastSuccess:  c.lastSuccessTime,
		LastError:    c.lastError,
		CircuitState: state,
	}
}
