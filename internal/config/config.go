package config

import (
	"errors"
	"fmt"

	"github.com/spf13/viper"
)

type Config struct {
	Port               int      `mapstructure:"port"`
	LogLevel           string   `mapstructure:"log_level"`
	AllowedOrigins     []string `mapstructure:"allowed_origins"`
	RequestTimeoutSec  int      `mapstructure:"request_timeout_sec"`  // HTTP read/write; 0 = use server default
	ShutdownTimeoutSec int      `mapstructure:"shutdown_timeout_sec"` // Graceful shutdown wait

	KubeconfigPath     string   `mapstructure:"kubeconfig_path"`
	Contexts           []string `mapstructure:"contexts"`             // kubeconfig contexts to serve; empty = current context
	MaxClusters        int      `mapstructure:"max_clusters"`         // Max registered clusters; 0 = no limit
	K8sTimeoutSec      int      `mapstructure:"k8s_timeout_sec"`      // Timeout for outbound K8s API calls; 0 = none
	K8sRateLimitPerSec float64  `mapstructure:"k8s_rate_limit_per_sec"` // Token bucket rate per cluster (req/s); 0 = no limit
	K8sRateLimitBurst  int      `mapstructure:"k8s_rate_limit_burst"`   // Token bucket burst per cluster
	InformerResyncSec  int      `mapstructure:"informer_resync_sec"`

	DatabaseDriver string `mapstructure:"database_driver"` // sqlite or postgres
	DatabasePath   string `mapstructure:"database_path"`   // file path for sqlite, DSN for postgres

	ThrottleMs        int      `mapstructure:"throttle_ms"`          // Min delay between source recomputations
	Sources           []string `mapstructure:"sources"`              // Initially selected leaf sources; empty = defaults
	LayoutCacheSize   int      `mapstructure:"layout_cache_size"`    // Max cached layouts; 0 = cache disabled
	LayoutCacheTTLSec int      `mapstructure:"layout_cache_ttl_sec"` // 0 = entries never expire
	LayoutTimeoutSec  int      `mapstructure:"layout_timeout_sec"`   // Per map build context timeout
	ExpandAllMaxNodes int      `mapstructure:"expand_all_max_nodes"` // expandAll is ignored above this graph size

	TracingEndpoint     string  `mapstructure:"tracing_endpoint"` // OTLP endpoint; empty = tracing disabled
	TracingSamplingRate float64 `mapstructure:"tracing_sampling_rate"`
}

func Load() (*Config, error) {
	v := viper.New()
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath("/etc/kubilitics/")
	v.AddConfigPath("$HOME/.kubilitics")
	v.AddConfigPath(".")

	// Defaults
	v.SetDefault("port", 8080)
	v.SetDefault("log_level", "info")
	v.SetDefault("allowed_origins", []string{"*"})
	v.SetDefault("request_timeout_sec", 30)
	v.SetDefault("shutdown_timeout_sec", 15)
	v.SetDefault("kubeconfig_path", "")
	v.SetDefault("contexts", []string{})
	v.SetDefault("max_clusters", 100)
	v.SetDefault("k8s_timeout_sec", 30)
	v.SetDefault("k8s_rate_limit_per_sec", 0) // 0 = disabled
	v.SetDefault("k8s_rate_limit_burst", 0)
	v.SetDefault("informer_resync_sec", 300)
	v.SetDefault("database_driver", "sqlite")
	v.SetDefault("database_path", "./kubilitics-resourcemap.db")
	v.SetDefault("throttle_ms", 500)
	v.SetDefault("sources", []string{})
	v.SetDefault("layout_cache_size", 256)
	v.SetDefault("layout_cache_ttl_sec", 300)
	v.SetDefault("layout_timeout_sec", 30)
	v.SetDefault("expand_all_max_nodes", 50)
	v.SetDefault("tracing_endpoint", "")
	v.SetDefault("tracing_sampling_rate", 1.0)

	// Environment variables
	v.SetEnvPrefix("KUBILITICS")
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
		// Config file not found; using defaults and env vars
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate rejects settings the server cannot start with.
func (c *Config) Validate() error {
	if c.Port <= 0 || c.Port > 65535 {
		return fmt.Errorf("invalid port %d", c.Port)
	}
	switch c.DatabaseDriver {
	case "sqlite", "postgres":
	default:
		return fmt.Errorf("unsupported database_driver %q (want sqlite or postgres)", c.DatabaseDriver)
	}
	if c.ThrottleMs < 0 {
		return fmt.Errorf("throttle_ms must not be negative")
	}
	if c.TracingSamplingRate < 0 || c.TracingSamplingRate > 1 {
		return fmt.Errorf("tracing_sampling_rate must be within [0, 1]")
	}
	return nil
}
