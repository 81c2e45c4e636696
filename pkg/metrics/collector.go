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

// Package metrics provides Prometheus metrics collection and recording
// for failover controller ticks, decisions and label patches.
package metrics

import (
	"errors"
	"strconv"
	"sync"
	"time"

	"github.com/ahoma/failover-controller/pkg/apis"
	"github.com/prometheus/client_golang/prometheus"
	"k8s.io/apimachinery/pkg/types"
	"sigs.k8s.io/controller-runtime/pkg/metrics"
)

// Patch results
const (
	PatchResultSuccess  = "success"
	PatchResultError    = "error"
	PatchResultNotFound = "not_found"
	PatchResultSkipped  = "skipped"
)

var (
	// Tick metrics
	ticksTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "failover_controller_ticks_total",
			Help: "Total number of reconciliation passes",
		},
		[]string{"result"},
	)

	tickDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "failover_controller_tick_duration_seconds",
			Help:    "Duration of a reconciliation pass",
			Buckets: []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5},
		},
	)

	missedIntervals = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "failover_controller_missed_intervals_total",
			Help: "Number of passes that took longer than the update interval",
		},
	)

	lastTick = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "failover_controller_last_tick_timestamp_seconds",
			Help: "Timestamp of the last completed reconciliation pass",
		},
	)

	// Service metrics
	labelPatches = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "failover_controller_label_patches_total",
			Help: "Total number of pod label patches by action and result",
		},
		[]string{"namespace", "service", "action", "result"},
	)

	configurationErrors = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "failover_controller_configuration_errors_total",
			Help: "Total number of times a Service was skipped because of incomplete failover wiring",
		},
		[]string{"namespace", "service"},
	)

	labelParseErrors = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "failover_controller_label_parse_errors_total",
			Help: "Total number of malformed priority or min-replicas labels seen on pods",
		},
		[]string{"namespace", "service"},
	)

	activePriority = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "failover_controller_active_priority",
			Help: "Priority of the active endpoint groups of a Service, -1 when none is allowed",
		},
		[]string{"namespace", "service"},
	)

	groupReadyReplicas = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "failover_controller_group_ready_replicas",
			Help: "Number of ready members per endpoint group",
		},
		[]string{"namespace", "service", "group", "priority", "active"},
	)

	apiErrors = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "failover_controller_api_errors_total",
			Help: "Total number of failed Kubernetes API reads",
		},
		[]string{"resource"},
	)
)

// Collector handles metrics collection for the failover controller
type Collector struct {
	mutex      sync.RWMutex
	lastUpdate time.Time
	ticks      int64
	patches    int64
}

// NewCollector creates a new metrics collector
func NewCollector() *Collector {
	initializeMetrics()

	return &Collector{
		lastUpdate: time.Now(),
	}
}

// initializeMetrics makes the unlabelled series visible before the first tick
func initializeMetrics() {
	ticksTotal.WithLabelValues("success").Add(0)
	ticksTotal.WithLabelValues("error").Add(0)
	apiErrors.WithLabelValues("services").Add(0)
	apiErrors.WithLabelValues("pods").Add(0)
}

// RegisterMetrics registers all failover metrics with the provided registry.
// Metrics registered earlier are skipped; conflicting ones are returned.
func (c *Collector) RegisterMetrics(registry prometheus.Registerer) error {
	if registry == nil {
		registry = metrics.Registry
	}

	collectors := []prometheus.Collector{
		ticksTotal,
		tickDuration,
		missedIntervals,
		lastTick,
		labelPatches,
		configurationErrors,
		labelParseErrors,
		activePriority,
		groupReadyReplicas,
		apiErrors,
	}

	var errs []error
	for _, collector := range collectors {
		if err := registry.Register(collector); err != nil {
			var already prometheus.AlreadyRegisteredError
			if errors.As(err, &already) {
				continue
			}
			errs = append(errs, err)
		}
	}

	return errors.Join(errs...)
}

// RecordTick records a completed reconciliation pass
func (c *Collector) RecordTick(duration time.Duration, err error) {
	result := "success"
	if err != nil {
		result = "error"
	}

	ticksTotal.WithLabelValues(result).Inc()
	tickDuration.Observe(duration.Seconds())
	lastTick.SetToCurrentTime()

	c.mutex.Lock()
	c.ticks++
	c.lastUpdate = time.Now()
	c.mutex.Unlock()
}

// RecordMissedInterval records a pass that overran the update interval
func (c *Collector) RecordMissedInterval() {
	missedIntervals.Inc()
}

// RecordPatch records the outcome of one pod label patch
func (c *Collector) RecordPatch(service types.NamespacedName, action apis.PatchAction, result string) {
	labelPatches.WithLabelValues(service.Namespace, service.Name, string(action), result).Inc()

	if result == PatchResultSuccess {
		c.mutex.Lock()
		c.patches++
		c.mutex.Unlock()
	}
}

// RecordConfigurationError records a Service skipped for incomplete wiring
func (c *Collector) RecordConfigurationError(service types.NamespacedName) {
	configurationErrors.WithLabelValues(service.Namespace, service.Name).Inc()
}

// RecordLabelParseErrors records malformed pod labels seen while planning a Service
func (c *Collector) RecordLabelParseErrors(service types.NamespacedName, count int) {
	if count == 0 {
		return
	}
	labelParseErrors.WithLabelValues(service.Namespace, service.Name).Add(float64(count))
}

// RecordAPIError records a failed list call
func (c *Collector) RecordAPIError(resource string) {
	apiErrors.WithLabelValues(resource).Inc()
}

// RecordDecision publishes the evaluated groups and the arbitration result of a Service.
// Series of groups that disappeared since the previous pass are dropped.
func (c *Collector) RecordDecision(service types.NamespacedName, groups *apis.EndpointGroups, decision apis.FailoverDecision) {
	groupReadyReplicas.DeletePartialMatch(prometheus.Labels{
		"namespace": service.Namespace,
		"service":   service.Name,
	})

	for _, group := range groups.List() {
		groupReadyReplicas.WithLabelValues(
			service.Namespace,
			service.Name,
			group.Key.String(),
			strconv.FormatInt(int64(group.Priority), 10),
			strconv.FormatBool(decision.IsActive(group.Key)),
		).Set(float64(group.ReadyCount))
	}

	priority := float64(-1)
	if decision.HasActive() {
		priority = float64(*decision.ActivePriority)
	}
	activePriority.WithLabelValues(service.Namespace, service.Name).Set(priority)
}

// ForgetService drops the per-Service gauges of a Service that is no longer managed
func (c *Collector) ForgetService(service types.NamespacedName) {
	labels := prometheus.Labels{"namespace": service.Namespace, "service": service.Name}
	groupReadyReplicas.DeletePartialMatch(labels)
	activePriority.DeletePartialMatch(labels)
}

// GetMetricsSnapshot returns a snapshot of current metrics values
func (c *Collector) GetMetricsSnapshot() Snapshot {
	c.mutex.RLock()
	defer c.mutex.RUnlock()

	return Snapshot{
		LastUpdate: c.lastUpdate,
		Timestamp:  time.Now(),
		Ticks:      c.ticks,
		Patches:    c.patches,
	}
}

// Snapshot represents a point-in-time snapshot of metrics
type Snapshot struct {
	LastUpdate time.Time `json:"lastUpdate"`
	Timestamp  time.Time `json:"timestamp"`
	Ticks      int64     `json:"ticks"`
	Patches    int64     `json:"patches"`
}
