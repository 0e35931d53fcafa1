package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/cors"

	"github.com/kubilitics/resourcemap/internal/api/middleware"
	"github.com/kubilitics/resourcemap/internal/api/rest"
	"github.com/kubilitics/resourcemap/internal/api/websocket"
	"github.com/kubilitics/resourcemap/internal/config"
	"github.com/kubilitics/resourcemap/internal/pkg/logger"
	"github.com/kubilitics/resourcemap/internal/pkg/tracing"
	"github.com/kubilitics/resourcemap/internal/repository"
	"github.com/kubilitics/resourcemap/internal/service"
)

const serviceName = "kubilitics-resourcemap"

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "%s: %v\n", serviceName, err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	log := logger.StdLogger(cfg.LogLevel)
	slog.SetDefault(log)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	shutdownTracing, err := tracing.Init(ctx, serviceName, cfg.TracingEndpoint, cfg.TracingSamplingRate)
	if err != nil {
		return fmt.Errorf("failed to initialize tracing: %w", err)
	}
	defer shutdownTracing()

	// Snapshot storage is optional
	var snapshots repository.SnapshotRepository
	var db rest.Pinger
	if cfg.DatabasePath != "" {
		repo, err := repository.Open(cfg.DatabaseDriver, cfg.DatabasePath)
		if err != nil {
			return err
		}
		defer repo.Close()
		if err := repo.Migrate(ctx); err != nil {
			return fmt.Errorf("failed to run migrations: %w", err)
		}
		snapshots, db = repo, repo
		log.Info("snapshot storage ready", "driver", cfg.DatabaseDriver)
	} else {
		log.Warn("database_path is empty, snapshots are disabled")
	}

	clusters := service.NewClusterService(cfg, log)
	defer clusters.Shutdown()
	maps := service.NewResourceMapService(clusters, snapshots, cfg, log)

	if err := clusters.StartClusters(ctx, cfg.KubeconfigPath, cfg.Contexts); err != nil {
		registered, _ := clusters.ListClusters(ctx)
		if len(registered) == 0 {
			return err
		}
		// keep serving the clusters that did start
		log.Warn("some clusters failed to start", "error", err, "started", len(registered))
	}

	router := mux.NewRouter()
	router.Use(middleware.RequestID, middleware.StructuredLog, middleware.Recover(log), middleware.Tracing)

	health := rest.NewHealthzHandler(clusters, db)
	router.HandleFunc("/health", health.Live).Methods("GET")
	router.HandleFunc("/healthz/live", health.Live).Methods("GET")
	router.HandleFunc("/healthz/ready", health.Ready).Methods("GET")
	router.Handle("/metrics", promhttp.Handler()).Methods("GET")

	api := router.PathPrefix("/api/v1").Subrouter()
	rest.SetupRoutes(api, rest.NewHandler(clusters, maps, cfg, log))

	hub := websocket.NewHub(ctx)
	go hub.Run()
	defer hub.Stop()
	wsHandler := websocket.NewHandler(ctx, hub, maps, cfg.AllowedOrigins, log)
	router.HandleFunc("/ws/resourcemap", wsHandler.ServeWS).Methods("GET")

	middleware.WarnWildcardCORS(cfg.AllowedOrigins, log)
	c := cors.New(cors.Options{
		AllowedOrigins:   cfg.AllowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Content-Type", "X-Request-ID"},
		ExposedHeaders:   []string{"X-Request-ID", middleware.TraceIDHeader, "Content-Disposition"},
		AllowCredentials: false,
	})

	var handler http.Handler = router
	handler = middleware.MaxBodySize(middleware.DefaultMaxBodyBytes)(handler)
	handler = middleware.RateLimit()(handler)
	handler = middleware.SecureHeaders(handler)
	handler = c.Handler(handler)

	requestTimeout := time.Duration(cfg.RequestTimeoutSec) * time.Second
	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Port),
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       requestTimeout,
		WriteTimeout:      requestTimeout,
		IdleTimeout:       60 * time.Second,
	}

	serveErr := make(chan error, 1)
	go func() {
		log.Info("server listening", "port", cfg.Port, "api", "/api/v1", "websocket", "/ws/resourcemap")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	select {
	case err := <-serveErr:
		if err != nil {
			return fmt.Errorf("server failed: %w", err)
		}
	case <-ctx.Done():
	}

	log.Info("shutting down server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), time.Duration(cfg.ShutdownTimeoutSec)*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Warn("server forced to shutdown", "error", err)
	}
	log.Info("server exited")
	return nil
}
