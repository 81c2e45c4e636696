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

package controllers

import (
	"context"
	"time"

	"github.com/go-logr/logr"
	"github.com/google/uuid"
	"k8s.io/apimachinery/pkg/types"
	"sigs.k8s.io/controller-runtime/pkg/log"
)

// LoggingContext contains structured logging context for one reconciliation pass
type LoggingContext struct {
	Controller string `json:"controller"`
	Namespace  string `json:"namespace"`
	Service    string `json:"service,omitempty"`
	TickID     string `json:"tick_id"`
}

// ControllerLogger provides structured logging for the failover poll loop
type ControllerLogger struct {
	logr.Logger
	Context LoggingContext
}

// NewControllerLogger creates a logger for one pass over a namespace
func NewControllerLogger(ctx context.Context, controllerName, namespace string) *ControllerLogger {
	loggingContext := LoggingContext{
		Controller: controllerName,
		Namespace:  namespace,
		TickID:     uuid.New().String()[:8],
	}

	return &ControllerLogger{
		Logger: log.FromContext(ctx).WithValues(
			"controller", loggingContext.Controller,
			"namespace", loggingContext.Namespace,
			"tick_id", loggingContext.TickID,
		),
		Context: loggingContext,
	}
}

// WithService scopes the logger to one Service
func (cl *ControllerLogger) WithService(name string) *ControllerLogger {
	lc := cl.Context
	lc.Service = name
	return &ControllerLogger{
		Logger:  cl.Logger.WithValues("service", name),
		Context: lc,
	}
}

// WithDuration adds timing information to log entries
func (cl *ControllerLogger) WithDuration(duration time.Duration) *ControllerLogger {
	return &ControllerLogger{
		Logger:  cl.Logger.WithValues("duration_ms", duration.Milliseconds()),
		Context: cl.Context,
	}
}

// TickStarted logs the start of a pass
func (cl *ControllerLogger) TickStarted() {
	cl.Logger.V(1).Info("Starting reconciliation pass", "event", "tick_started")
}

// TickCompleted logs the end of a pass
func (cl *ControllerLogger) TickCompleted(services, patches int) {
	cl.Logger.V(1).Info("Reconciliation pass completed",
		"event", "tick_completed",
		"services", services,
		"patches", patches,
	)
}

// ServiceManaged logs a Service selected for failover management
func (cl *ControllerLogger) ServiceManaged(failoverLabel string, discoverySelector map[string]string) {
	cl.Logger.V(1).Info("Processing service",
		"event", "service_managed",
		"failover_label", failoverLabel,
		"discovery_selector", discoverySelector,
	)
}

// ServiceSkipped logs a Service whose failover wiring is incomplete
func (cl *ControllerLogger) ServiceSkipped(err error) {
	cl.Logger.Error(err, "Service can not be used for automatic priority-based failover",
		"event", "service_skipped",
	)
}

// DecisionMade logs the arbitration result of a Service
func (cl *ControllerLogger) DecisionMade(activePriority *int32, activeGroups []string, groups int) {
	logger := cl.Logger.WithValues(
		"event", "decision_made",
		"groups", groups,
		"active_groups", activeGroups,
	)
	if activePriority != nil {
		logger = logger.WithValues("active_priority", *activePriority)
	}
	logger.V(1).Info("Failover decision made")
}

// LabelAttached logs a pod that received the active status
func (cl *ControllerLogger) LabelAttached(pod types.NamespacedName, label, value string, dryRun bool) {
	cl.Logger.Info("Attaching label to pod",
		"event", "label_attached",
		"pod", pod.Name,
		"label", label,
		"status", value,
		"dry_run", dryRun,
	)
}

// LabelRemoved logs a pod that lost the active status
func (cl *ControllerLogger) LabelRemoved(pod types.NamespacedName, label string, dryRun bool) {
	cl.Logger.Info("Removing label from pod",
		"event", "label_removed",
		"pod", pod.Name,
		"label", label,
		"dry_run", dryRun,
	)
}

// PatchFailed logs a pod label patch that will be retried on the next pass
func (cl *ControllerLogger) PatchFailed(err error, pod types.NamespacedName, action string) {
	cl.Logger.Error(err, "Failed to patch pod labels",
		"event", "patch_failed",
		"pod", pod.Name,
		"action", action,
	)
}

// IntervalViolated logs a pass that took longer than the update interval
func (cl *ControllerLogger) IntervalViolated(elapsed, interval time.Duration) {
	cl.Logger.Info("Update interval violated.",
		"event", "interval_violated",
		"elapsed_ms", elapsed.Milliseconds(),
		"interval_ms", interval.Milliseconds(),
	)
}

// TickFailed logs a pass that could not read the cluster state
func (cl *ControllerLogger) TickFailed(err error, msg string) {
	cl.Logger.Error(err, msg, "event", "tick_failed")
}
