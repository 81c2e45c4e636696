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

package server

import (
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"sigs.k8s.io/controller-runtime/pkg/metrics"
)

// MetricsServer serves the Prometheus registry over gin
type MetricsServer struct {
	handler http.Handler

	mu                sync.RWMutex
	collectionError   string
	lastCollection    time.Time
	collectionLatency time.Duration
}

// NewMetricsServer creates a metrics server for gatherer, falling back to the
// controller-runtime registry
func NewMetricsServer(gatherer prometheus.Gatherer) *MetricsServer {
	if gatherer == nil {
		gatherer = metrics.Registry
	}

	return &MetricsServer{
		handler: promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{
			ErrorHandling: promhttp.ContinueOnError,
			Timeout:       30 * time.Second,
		}),
	}
}

// MetricsHandler implements the /metrics endpoint
func (m *MetricsServer) MetricsHandler(c *gin.Context) {
	start := time.Now()
	defer func() {
		m.mu.Lock()
		m.lastCollection = time.Now()
		m.collectionLatency = time.Since(start)
		m.mu.Unlock()
	}()

	m.mu.RLock()
	collectionError := m.collectionError
	m.mu.RUnlock()

	if collectionError != "" {
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":  "metrics collection failed",
			"reason": collectionError,
			"code":   "METRICS_COLLECTION_ERROR",
		})
		return
	}

	gin.WrapH(m.handler)(c)
}

// SetCollectionError makes /metrics fail with reason
func (m *MetricsServer) SetCollectionError(reason string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.collectionError = reason
}

// ClearCollectionError clears the metrics collection error
func (m *MetricsServer) ClearCollectionError() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.collectionError = ""
}

// GetCollectionStatus returns the current collection status
func (m *MetricsServer) GetCollectionStatus() (string, time.Time, time.Duration) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.collectionError, m.lastCollection, m.collectionLatency
}
