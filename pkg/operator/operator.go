/*
Copyright 2024 The Failover Controller Authors.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package operator

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"k8s.io/apimachinery/pkg/runtime"
	"k8s.io/client-go/kubernetes"
	clientgoscheme "k8s.io/client-go/kubernetes/scheme"
	ctrl "sigs.k8s.io/controller-runtime"
	"sigs.k8s.io/controller-runtime/pkg/cache"
	"sigs.k8s.io/controller-runtime/pkg/client"
	"sigs.k8s.io/controller-runtime/pkg/manager"
	ctrlmetrics "sigs.k8s.io/controller-runtime/pkg/metrics"
	metricsserver "sigs.k8s.io/controller-runtime/pkg/metrics/server"

	"github.com/ahoma/failover-controller/internal/server"
	"github.com/ahoma/failover-controller/pkg/config"
	"github.com/ahoma/failover-controller/pkg/controllers"
	"github.com/ahoma/failover-controller/pkg/metrics"
	"github.com/ahoma/failover-controller/pkg/utils"
)

// httpShutdownTimeout bounds graceful shutdown of the HTTP listeners
const httpShutdownTimeout = 5 * time.Second

// Operator runs the failover poll loop and its HTTP endpoints on a
// controller-runtime manager
type Operator struct {
	manager.Manager

	config     *config.FailoverConfig
	namespace  string
	clients    *KubernetesClientManager
	kubeClient kubernetes.Interface

	metricsCollector *metrics.Collector
	rateLimiter      *utils.RateLimiter
	reconciler       *controllers.FailoverReconciler

	healthChecker *server.HealthChecker
	metricsServer *server.MetricsServer
	httpServers   []*httpServer

	started atomic.Bool
}

// NewOperator creates the manager and registers the failover runnable and the
// HTTP servers with it. Leader election is disabled: a single instance is
// expected per namespace.
func NewOperator(cfg *config.FailoverConfig, clients *KubernetesClientManager) (*Operator, error) {
	if cfg == nil {
		cfg = config.DefaultConfig()
	}
	if clients == nil {
		return nil, fmt.Errorf("kubernetes clients are required")
	}

	namespace := ResolveNamespace(cfg.Operator.Namespace)

	scheme := runtime.NewScheme()
	if err := clientgoscheme.AddToScheme(scheme); err != nil {
		return nil, fmt.Errorf("failed to add client-go scheme: %w", err)
	}

	mgr, err := ctrl.NewManager(clients.GetRESTConfig(), ctrl.Options{
		Scheme: scheme,
		// gin serves /metrics, /healthz and /readyz; the manager health listener stays off
		Metrics: metricsserver.Options{
			BindAddress: "0",
		},
		LeaderElection: false,
		Cache: cache.Options{
			DefaultNamespaces: map[string]cache.Config{namespace: {}},
		},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create manager: %w", err)
	}

	operator := &Operator{
		Manager:    mgr,
		config:     cfg,
		namespace:  namespace,
		clients:    clients,
		kubeClient: clients.GetKubernetesClient(),
	}

	operator.initializeCoreServices()
	operator.initializeHTTPServers()

	if err := operator.setupRunnables(); err != nil {
		return nil, err
	}
	if err := operator.setupHealthChecks(); err != nil {
		return nil, err
	}

	return operator, nil
}

// Start verifies access to the namespace and runs the manager until ctx is
// cancelled
func (o *Operator) Start(ctx context.Context) error {
	if !o.started.CompareAndSwap(false, true) {
		return fmt.Errorf("operator already started")
	}

	if err := o.preflight(ctx); err != nil {
		return err
	}

	setupLog := ctrl.Log.WithName("setup")
	setupLog.Info("Starting failover controller",
		"namespace", o.namespace,
		"update-interval", o.config.Controller.UpdateInterval.String(),
		"read-only", o.config.Operator.ReadOnlyMode,
		"metrics-enabled", o.config.Observability.Metrics.Enabled,
		"health-enabled", o.config.Observability.Health.Enabled,
		"liveness-window", o.healthChecker.StaleAfter().String(),
	)

	err := o.Manager.Start(ctx)

	setupLog.Info("Failover controller stopped",
		"ticks", o.reconciler.GetTickCount(),
		"failed-ticks", o.reconciler.GetErrorCount(),
		"patches", o.metricsCollector.GetMetricsSnapshot().Patches,
		"patch-throttle", o.rateLimiter.GetMetrics().GetSummary(),
	)
	if lastErr := o.reconciler.GetLastError(); lastErr != nil {
		setupLog.Info("Last failed pass", "error", lastErr.Error())
	}

	return err
}

// preflight logs the cluster version and fails when the controller may not
// list the Services or pods of its namespace
func (o *Operator) preflight(ctx context.Context) error {
	setupLog := ctrl.Log.WithName("setup")

	if o.clients != nil {
		info, err := o.clients.GetClusterInfo()
		if err != nil {
			setupLog.Error(err, "Failed to read cluster version")
		} else {
			setupLog.Info("Connected to cluster", "version", info.Version, "api-server", info.APIServerURL)
		}
	}

	if err := ValidatePermissions(ctx, o.kubeClient, o.namespace); err != nil {
		return fmt.Errorf("preflight check failed: %w", err)
	}
	return nil
}

// IsReady reports whether the operator has started and finished a pass
func (o *Operator) IsReady() bool {
	if !o.started.Load() {
		return false
	}
	return o.healthChecker != nil && !o.healthChecker.LastTick().IsZero()
}

// GetConfig returns the operator configuration
func (o *Operator) GetConfig() *config.FailoverConfig {
	return o.config
}

// GetNamespace returns the managed namespace
func (o *Operator) GetNamespace() string {
	return o.namespace
}

// GetReconciler returns the failover poll loop
func (o *Operator) GetReconciler() *controllers.FailoverReconciler {
	return o.reconciler
}

// GetHealthChecker returns the health checker
func (o *Operator) GetHealthChecker() *server.HealthChecker {
	return o.healthChecker
}

// GetMetricsServer returns the metrics server
func (o *Operator) GetMetricsServer() *server.MetricsServer {
	return o.metricsServer
}

func (o *Operator) initializeCoreServices() {
	o.metricsCollector = metrics.NewCollector()
	o.metricsServer = server.NewMetricsServer(nil)
	o.registerMetrics(ctrlmetrics.Registry)

	o.rateLimiter = utils.NewRateLimiter(&utils.RateLimiterConfig{
		QPS:           o.config.Controller.PatchQPS,
		Burst:         o.config.Controller.PatchBurst,
		EnableMetrics: true,
	})

	o.healthChecker = server.NewHealthChecker(o.kubeClient, o.namespace, o.config.Controller.UpdateInterval)
}

// registerMetrics publishes the failover metrics on registry. On a conflict
// /metrics answers with the reason instead of a partial scrape.
func (o *Operator) registerMetrics(registry prometheus.Registerer) {
	if err := o.metricsCollector.RegisterMetrics(registry); err != nil {
		ctrl.Log.WithName("setup").Error(err, "Failed to register failover metrics")
		o.metricsServer.SetCollectionError(err.Error())
		return
	}
	o.metricsServer.ClearCollectionError()
}

// initializeHTTPServers builds one gin engine per bind address so health and
// metrics may share a listener
func (o *Operator) initializeHTTPServers() {
	gin.SetMode(gin.ReleaseMode)

	engines := make(map[string]*gin.Engine)
	engineFor := func(addr string) *gin.Engine {
		if engine, ok := engines[addr]; ok {
			return engine
		}
		engine := gin.New()
		engine.Use(gin.Recovery())
		engines[addr] = engine
		o.httpServers = append(o.httpServers, newHTTPServer(addr, engine))
		return engine
	}

	health := o.config.Observability.Health
	if health.Enabled {
		engine := engineFor(health.BindAddress)
		engine.GET("/healthz", o.healthChecker.HealthzHandler)
		engine.GET("/readyz", o.healthChecker.ReadyzHandler)
	}

	metricsConfig := o.config.Observability.Metrics
	if metricsConfig.Enabled {
		engine := engineFor(metricsConfig.BindAddress)
		engine.GET("/metrics", o.metricsServer.MetricsHandler)
	}
}

// newReconciler wires the poll loop to the operator's collaborators
func (o *Operator) newReconciler(c client.Client, reader client.Reader) *controllers.FailoverReconciler {
	reconciler := controllers.NewFailoverReconciler(c, reader, o.config, o.namespace)
	reconciler.SetMetricsCollector(o.metricsCollector)
	reconciler.SetHealthRecorder(o.healthChecker)
	reconciler.SetRateLimiter(o.rateLimiter)
	return reconciler
}

func (o *Operator) setupRunnables() error {
	// Lists go through the API reader so every pass sees fresh state
	o.reconciler = o.newReconciler(o.GetClient(), o.GetAPIReader())
	if err := o.Add(o.reconciler); err != nil {
		return fmt.Errorf("failed to add failover controller: %w", err)
	}

	for _, srv := range o.httpServers {
		if err := o.Add(srv); err != nil {
			return fmt.Errorf("failed to add http server %s: %w", srv.server.Addr, err)
		}
	}

	return nil
}

// setupHealthChecks exposes the poll loop state to the manager's checks
func (o *Operator) setupHealthChecks() error {
	if err := o.AddHealthzCheck("poll-loop", o.healthChecker.GetHealthzChecker()); err != nil {
		return fmt.Errorf("failed to add health check: %w", err)
	}
	if err := o.AddReadyzCheck("poll-loop", o.healthChecker.GetReadyzChecker()); err != nil {
		return fmt.Errorf("failed to add ready check: %w", err)
	}
	return nil
}

// httpServer runs a gin engine as a manager.Runnable
type httpServer struct {
	server          *http.Server
	shutdownTimeout time.Duration
}

func newHTTPServer(addr string, handler http.Handler) *httpServer {
	return &httpServer{
		server: &http.Server{
			Addr:              addr,
			Handler:           handler,
			ReadHeaderTimeout: 10 * time.Second,
		},
		shutdownTimeout: httpShutdownTimeout,
	}
}

// Start serves until ctx is cancelled, then shuts the listener down gracefully
func (s *httpServer) Start(ctx context.Context) error {
	log := ctrl.Log.WithName("http").WithValues("address", s.server.Addr)

	errCh := make(chan error, 1)
	go func() {
		log.Info("Starting HTTP server")
		if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("http server on %s failed: %w", s.server.Addr, err)
		}
		return nil
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), s.shutdownTimeout)
	defer cancel()

	log.Info("Shutting down HTTP server")
	if err := s.server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("http server on %s shutdown: %w", s.server.Addr, err)
	}
	return nil
}

// NeedLeaderElection implements manager.LeaderElectionRunnable
func (s *httpServer) NeedLeaderElection() bool {
	return false
}
