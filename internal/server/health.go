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

// Package server provides the HTTP handlers for health checks and metrics
// exposed by the failover controller.
package server

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/client-go/kubernetes"
	"sigs.k8s.io/controller-runtime/pkg/healthz"
)

// MinStaleAfter is the lower bound of the liveness staleness window
const MinStaleAfter = 30 * time.Second

// HealthChecker tracks reconciliation passes and reports liveness and readiness
type HealthChecker struct {
	kubeClient kubernetes.Interface
	startTime  time.Time
	namespace  string
	staleAfter time.Duration
	now        func() time.Time

	mu              sync.RWMutex
	lastTick        time.Time
	unhealthyReason string
	notReadyReason  string
}

// NewHealthChecker creates a new health checker. The poll loop is considered
// stuck once no pass completed for ten update intervals, and never sooner
// than MinStaleAfter.
func NewHealthChecker(kubeClient kubernetes.Interface, namespace string, updateInterval time.Duration) *HealthChecker {
	staleAfter := 10 * updateInterval
	if staleAfter < MinStaleAfter {
		staleAfter = MinStaleAfter
	}

	return &HealthChecker{
		kubeClient: kubeClient,
		startTime:  time.Now(),
		namespace:  namespace,
		staleAfter: staleAfter,
		now:        time.Now,
	}
}

// RecordTick marks a completed reconciliation pass
func (h *HealthChecker) RecordTick(at time.Time) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.lastTick = at
}

// LastTick returns the time of the last completed pass, zero if none
func (h *HealthChecker) LastTick() time.Time {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.lastTick
}

// StaleAfter returns the liveness staleness window
func (h *HealthChecker) StaleAfter() time.Duration {
	return h.staleAfter
}

// HealthzHandler implements the /healthz endpoint
// Returns 200 OK while reconciliation passes keep completing
func (h *HealthChecker) HealthzHandler(c *gin.Context) {
	uptime := h.now().Sub(h.startTime)

	if err := h.checkLiveness(); err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{
			"status": "unhealthy",
			"reason": err.Error(),
			"uptime": uptime.String(),
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"status":    "healthy",
		"uptime":    uptime.String(),
		"last_tick": h.LastTick().Format(time.RFC3339Nano),
	})
}

// ReadyzHandler implements the /readyz endpoint
// Returns 200 OK once a pass completed and the API server is reachable
func (h *HealthChecker) ReadyzHandler(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 10*time.Second)
	defer cancel()

	checks := make(map[string]string)
	healthy := true

	h.mu.RLock()
	notReadyReason := h.notReadyReason
	lastTick := h.lastTick
	h.mu.RUnlock()

	if notReadyReason != "" {
		checks["manual-check"] = fmt.Sprintf("not ready: %s", notReadyReason)
		healthy = false
	}

	if lastTick.IsZero() {
		checks["reconciliation"] = "no pass completed yet"
		healthy = false
	} else {
		checks["reconciliation"] = "ok"
	}

	if err := h.checkKubernetesAPI(ctx); err != nil {
		checks["kubernetes-api"] = fmt.Sprintf("failed: %v", err)
		healthy = false
	} else {
		checks["kubernetes-api"] = "ok"
	}

	if err := h.checkNamespaceAccess(ctx); err != nil {
		checks["namespace-access"] = fmt.Sprintf("failed: %v", err)
		healthy = false
	} else {
		checks["namespace-access"] = "ok"
	}

	status := "ready"
	statusCode := http.StatusOK
	if !healthy {
		status = "not ready"
		statusCode = http.StatusServiceUnavailable
	}

	c.JSON(statusCode, gin.H{
		"status": status,
		"checks": checks,
		"uptime": h.now().Sub(h.startTime).String(),
	})
}

// SetUnhealthy forces liveness to fail
func (h *HealthChecker) SetUnhealthy(reason string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.unhealthyReason = reason
}

// SetNotReady forces readiness to fail
func (h *HealthChecker) SetNotReady(reason string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.notReadyReason = reason
}

// ClearUnhealthy clears the unhealthy state
func (h *HealthChecker) ClearUnhealthy() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.unhealthyReason = ""
}

// ClearNotReady clears the not ready state
func (h *HealthChecker) ClearNotReady() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.notReadyReason = ""
}

// checkLiveness fails when no pass completed within the staleness window,
// measured from the last pass or from startup.
func (h *HealthChecker) checkLiveness() error {
	h.mu.RLock()
	unhealthyReason := h.unhealthyReason
	lastTick := h.lastTick
	h.mu.RUnlock()

	if unhealthyReason != "" {
		return fmt.Errorf("manually set unhealthy: %s", unhealthyReason)
	}

	reference := lastTick
	if reference.IsZero() {
		reference = h.startTime
	}

	if since := h.now().Sub(reference); since > h.staleAfter {
		if lastTick.IsZero() {
			return fmt.Errorf("no reconciliation pass completed within %s of startup", h.staleAfter)
		}
		return fmt.Errorf("last reconciliation pass completed %s ago", since.Round(time.Second))
	}

	return nil
}

// checkKubernetesAPI verifies we can communicate with the Kubernetes API server
func (h *HealthChecker) checkKubernetesAPI(_ context.Context) error {
	if h.kubeClient == nil {
		return fmt.Errorf("kubernetes client not initialized")
	}

	if _, err := h.kubeClient.Discovery().ServerVersion(); err != nil {
		return fmt.Errorf("failed to connect to kubernetes API: %w", err)
	}

	return nil
}

// checkNamespaceAccess verifies we can access the managed namespace
func (h *HealthChecker) checkNamespaceAccess(ctx context.Context) error {
	if h.kubeClient == nil {
		return fmt.Errorf("kubernetes client not initialized")
	}
	if h.namespace == "" {
		return fmt.Errorf("namespace not configured")
	}

	if _, err := h.kubeClient.CoreV1().Namespaces().Get(ctx, h.namespace, metav1.GetOptions{}); err != nil {
		return fmt.Errorf("failed to access namespace %s: %w", h.namespace, err)
	}

	return nil
}

// GetHealthzChecker returns a controller-runtime health checker for integration
func (h *HealthChecker) GetHealthzChecker() healthz.Checker {
	return func(_ *http.Request) error {
		return h.checkLiveness()
	}
}

// GetReadyzChecker returns a controller-runtime readiness checker for integration
func (h *HealthChecker) GetReadyzChecker() healthz.Checker {
	return func(req *http.Request) error {
		ctx, cancel := context.WithTimeout(req.Context(), 10*time.Second)
		defer cancel()

		h.mu.RLock()
		notReadyReason := h.notReadyReason
		lastTick := h.lastTick
		h.mu.RUnlock()

		if notReadyReason != "" {
			return fmt.Errorf("manually set not ready: %s", notReadyReason)
		}

		if lastTick.IsZero() {
			return fmt.Errorf("no reconciliation pass completed yet")
		}

		if err := h.checkKubernetesAPI(ctx); err != nil {
			return fmt.Errorf("kubernetes API check failed: %w", err)
		}

		return nil
	}
}
