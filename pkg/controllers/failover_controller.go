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
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ahoma/failover-controller/internal/podlabels"
	"github.com/ahoma/failover-controller/pkg/apis"
	pkgconfig "github.com/ahoma/failover-controller/pkg/config"
	"github.com/ahoma/failover-controller/pkg/failover"
	"github.com/ahoma/failover-controller/pkg/metrics"
	"gomodules.xyz/jsonpatch/v2"
	corev1 "k8s.io/api/core/v1"
	apierrors "k8s.io/apimachinery/pkg/api/errors"
	"k8s.io/apimachinery/pkg/types"
	"sigs.k8s.io/controller-runtime/pkg/client"
	"sigs.k8s.io/controller-runtime/pkg/log"
)

// ControllerName identifies the failover poll loop in logs
const ControllerName = "failover-controller"

// MetricsRecorder interface for recording failover metrics
type MetricsRecorder interface {
	RecordTick(duration time.Duration, err error)
	RecordMissedInterval()
	RecordPatch(service types.NamespacedName, action apis.PatchAction, result string)
	RecordConfigurationError(service types.NamespacedName)
	RecordLabelParseErrors(service types.NamespacedName, count int)
	RecordAPIError(resource string)
	RecordDecision(service types.NamespacedName, groups *apis.EndpointGroups, decision apis.FailoverDecision)
	ForgetService(service types.NamespacedName)
}

// HealthReporter feeds the liveness and readiness checks. Passes that cannot
// read the cluster mark the controller not ready; a stopped loop marks it
// unhealthy.
type HealthReporter interface {
	RecordTick(at time.Time)
	SetNotReady(reason string)
	ClearNotReady()
	SetUnhealthy(reason string)
	ClearUnhealthy()
}

// PatchLimiter throttles pod patches
type PatchLimiter interface {
	Wait(ctx context.Context) error
}

// TickResult summarises one reconciliation pass
type TickResult struct {
	// Services is the number of Services with a valid failover wiring
	Services int

	// Skipped is the number of Services rejected with a ConfigurationError
	Skipped int

	// Patches is the number of pod patches applied (or logged in read-only mode)
	Patches int

	// FailedPatches is the number of pod patches that failed and will be retried
	FailedPatches int
}

// FailoverReconciler periodically selects the active endpoint groups of every
// failover-managed Service in a namespace and patches the failover label of
// their pods. It runs as a manager.Runnable without any watches.
type FailoverReconciler struct {
	// Client issues pod patches
	Client client.Client

	// Reader lists Services and pods. Use the manager's API reader so every pass
	// sees the cluster state rather than a cache.
	Reader client.Reader

	Namespace        string
	UpdateInterval   time.Duration
	ReadOnlyMode     bool
	Parser           *podlabels.LabelParser
	Planner          *failover.Planner
	MetricsCollector MetricsRecorder
	HealthRecorder   HealthReporter
	RateLimiter      PatchLimiter

	// managed tracks Services seen on the previous pass so their gauges can be dropped
	managed map[types.NamespacedName]struct{}

	tickCount  atomic.Int64
	errorCount atomic.Int64

	lastError     error
	lastErrorLock sync.RWMutex
}

// NewFailoverReconciler creates a reconciler from the loaded configuration
func NewFailoverReconciler(c client.Client, reader client.Reader, cfg *pkgconfig.FailoverConfig, namespace string) *FailoverReconciler {
	if cfg == nil {
		cfg = pkgconfig.DefaultConfig()
	}
	parser := podlabels.NewLabelParserWithKeys(cfg.Labels)

	return &FailoverReconciler{
		Client:         c,
		Reader:         reader,
		Namespace:      namespace,
		UpdateInterval: cfg.Controller.UpdateInterval,
		ReadOnlyMode:   cfg.Operator.ReadOnlyMode,
		Parser:         parser,
		Planner:        failover.NewPlanner(parser, log.Log.WithName(ControllerName)),
		managed:        make(map[types.NamespacedName]struct{}),
	}
}

// SetMetricsCollector sets the metrics recorder
func (r *FailoverReconciler) SetMetricsCollector(collector MetricsRecorder) {
	r.MetricsCollector = collector
}

// SetHealthRecorder sets the recorder notified after each pass
func (r *FailoverReconciler) SetHealthRecorder(recorder HealthReporter) {
	r.HealthRecorder = recorder
}

// SetRateLimiter sets the patch throttle
func (r *FailoverReconciler) SetRateLimiter(limiter PatchLimiter) {
	r.RateLimiter = limiter
}

//+kubebuilder:rbac:groups="",resources=services,verbs=get;list
//+kubebuilder:rbac:groups="",resources=pods,verbs=get;list;patch

// Start runs the poll loop until ctx is cancelled. Each pass starts
// UpdateInterval after the previous one started; a pass that overruns the
// interval is followed immediately by the next one.
func (r *FailoverReconciler) Start(ctx context.Context) error {
	logger := log.FromContext(ctx).WithName(ControllerName)
	logger.Info("Starting failover poll loop",
		"namespace", r.Namespace,
		"update_interval", r.UpdateInterval.String(),
		"read_only", r.ReadOnlyMode)

	interval := r.UpdateInterval
	if interval <= 0 {
		interval = pkgconfig.DefaultUpdateInterval
	}

	if r.HealthRecorder != nil {
		r.HealthRecorder.ClearUnhealthy()
	}
	defer func() {
		if r.HealthRecorder != nil {
			r.HealthRecorder.SetUnhealthy("failover poll loop stopped")
		}
		logger.Info("Failover poll loop stopped")
	}()

	for {
		if ctx.Err() != nil {
			return nil
		}

		start := time.Now()
		tickLogger := NewControllerLogger(ctx, ControllerName, r.Namespace)
		// Failures are logged and counted by runTick and retried on the next pass
		r.runTick(ctx, tickLogger)

		elapsed := time.Since(start)
		if elapsed > interval {
			tickLogger.IntervalViolated(elapsed, interval)
			if r.MetricsCollector != nil {
				r.MetricsCollector.RecordMissedInterval()
			}
			continue
		}

		select {
		case <-ctx.Done():
			return nil
		case <-time.After(interval - elapsed):
		}
	}
}

// NeedLeaderElection reports that the poll loop runs on every replica
func (r *FailoverReconciler) NeedLeaderElection() bool {
	return false
}

// RunTick performs a single reconciliation pass over the namespace
func (r *FailoverReconciler) RunTick(ctx context.Context) (TickResult, error) {
	return r.runTick(ctx, NewControllerLogger(ctx, ControllerName, r.Namespace))
}

func (r *FailoverReconciler) runTick(ctx context.Context, logger *ControllerLogger) (TickResult, error) {
	r.tickCount.Add(1)
	start := time.Now()
	logger.TickStarted()

	result, err := r.reconcileNamespace(ctx, logger)
	if err != nil {
		r.errorCount.Add(1)
		r.setLastError(err)
		logger.TickFailed(err, "Failed to read cluster state, retrying on the next pass")
	} else {
		logger.WithDuration(time.Since(start)).TickCompleted(result.Services, result.Patches)
	}

	if r.MetricsCollector != nil {
		r.MetricsCollector.RecordTick(time.Since(start), err)
	}
	if r.HealthRecorder != nil {
		if err != nil {
			r.HealthRecorder.SetNotReady(err.Error())
		} else {
			r.HealthRecorder.ClearNotReady()
			r.HealthRecorder.RecordTick(time.Now())
		}
	}

	return result, err
}

func (r *FailoverReconciler) reconcileNamespace(ctx context.Context, logger *ControllerLogger) (TickResult, error) {
	var result TickResult

	var services corev1.ServiceList
	if err := r.Reader.List(ctx, &services, client.InNamespace(r.Namespace)); err != nil {
		r.recordAPIError("services")
		return result, fmt.Errorf("failed to list services: %w", err)
	}

	var pods corev1.PodList
	if err := r.Reader.List(ctx, &pods, client.InNamespace(r.Namespace)); err != nil {
		r.recordAPIError("pods")
		return result, fmt.Errorf("failed to list pods: %w", err)
	}

	seen := make(map[types.NamespacedName]struct{})
	for i := range services.Items {
		svc := &services.Items[i]
		if !r.Parser.IsFailoverManaged(svc) {
			continue
		}

		key := types.NamespacedName{Namespace: svc.Namespace, Name: svc.Name}
		svcLogger := logger.WithService(svc.Name)

		spec, err := r.Parser.ParseServiceSpec(svc)
		if err != nil {
			result.Skipped++
			svcLogger.ServiceSkipped(err)
			if r.MetricsCollector != nil {
				r.MetricsCollector.RecordConfigurationError(key)
			}
			continue
		}

		seen[key] = struct{}{}
		result.Services++

		applied, failed := r.reconcileService(ctx, svcLogger, spec, pods.Items)
		result.Patches += applied
		result.FailedPatches += failed
	}

	r.forgetStale(seen)
	return result, nil
}

// reconcileService plans one Service and applies its patches. Patch failures
// are logged and left for the next pass.
func (r *FailoverReconciler) reconcileService(ctx context.Context, logger *ControllerLogger, spec *apis.ServiceSpec, pods []corev1.Pod) (applied, failed int) {
	key := spec.NamespacedName()
	logger.ServiceManaged(spec.FailoverLabel, spec.DiscoverySelector)

	plan, err := r.Planner.Plan(spec, pods)
	if err != nil {
		logger.ServiceSkipped(err)
		if r.MetricsCollector != nil {
			r.MetricsCollector.RecordConfigurationError(key)
		}
		return 0, 0
	}

	activeGroups := make([]string, 0, len(plan.Decision.ActiveGroups))
	for _, k := range plan.Decision.ActiveGroups {
		activeGroups = append(activeGroups, k.String())
	}
	logger.DecisionMade(plan.Decision.ActivePriority, activeGroups, plan.Groups.Len())

	if r.MetricsCollector != nil {
		r.MetricsCollector.RecordLabelParseErrors(key, len(plan.LabelErrors))
		r.MetricsCollector.RecordDecision(key, plan.Groups, plan.Decision)
	}

	for i := range plan.Patches {
		intent := &plan.Patches[i]

		switch intent.Action {
		case apis.PatchActionSet:
			logger.LabelAttached(intent.Pod, intent.Label, intent.Value, r.ReadOnlyMode)
		case apis.PatchActionClear:
			logger.LabelRemoved(intent.Pod, intent.Label, r.ReadOnlyMode)
		}

		if r.ReadOnlyMode {
			r.recordPatch(key, intent.Action, metrics.PatchResultSkipped)
			applied++
			continue
		}

		outcome, err := r.applyPatch(ctx, intent)
		r.recordPatch(key, intent.Action, outcome)
		if err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				return applied, failed + len(plan.Patches) - i
			}
			logger.PatchFailed(err, intent.Pod, string(intent.Action))
			failed++
			continue
		}
		applied++
	}

	return applied, failed
}

// applyPatch sends an RFC 6902 patch turning the observed labels into the
// desired ones. A pod deleted since it was listed counts as done.
func (r *FailoverReconciler) applyPatch(ctx context.Context, intent *apis.PatchIntent) (string, error) {
	data, err := BuildLabelPatch(intent.ObservedLabels, intent.DesiredLabels)
	if err != nil {
		return metrics.PatchResultError, err
	}

	if r.RateLimiter != nil {
		if err := r.RateLimiter.Wait(ctx); err != nil {
			return metrics.PatchResultError, err
		}
	}

	pod := &corev1.Pod{}
	pod.Namespace = intent.Pod.Namespace
	pod.Name = intent.Pod.Name

	if err := r.Client.Patch(ctx, pod, client.RawPatch(types.JSONPatchType, data)); err != nil {
		if apierrors.IsNotFound(err) {
			return metrics.PatchResultNotFound, nil
		}
		return metrics.PatchResultError, fmt.Errorf("failed to patch pod %s: %w", intent.Pod, err)
	}

	return metrics.PatchResultSuccess, nil
}

type labelsDocument struct {
	Metadata labelsMetadata `json:"metadata"`
}

type labelsMetadata struct {
	Labels map[string]string `json:"labels"`
}

// BuildLabelPatch returns the JSON patch turning observed into desired pod labels
func BuildLabelPatch(observed, desired map[string]string) ([]byte, error) {
	if observed == nil {
		observed = map[string]string{}
	}
	if desired == nil {
		desired = map[string]string{}
	}

	original, err := json.Marshal(labelsDocument{Metadata: labelsMetadata{Labels: observed}})
	if err != nil {
		return nil, err
	}
	modified, err := json.Marshal(labelsDocument{Metadata: labelsMetadata{Labels: desired}})
	if err != nil {
		return nil, err
	}

	ops, err := jsonpatch.CreatePatch(original, modified)
	if err != nil {
		return nil, fmt.Errorf("failed to compute label patch: %w", err)
	}

	return json.Marshal(ops)
}

func (r *FailoverReconciler) forgetStale(seen map[types.NamespacedName]struct{}) {
	for key := range r.managed {
		if _, ok := seen[key]; !ok && r.MetricsCollector != nil {
			r.MetricsCollector.ForgetService(key)
		}
	}
	r.managed = seen
}

func (r *FailoverReconciler) recordPatch(service types.NamespacedName, action apis.PatchAction, result string) {
	if r.MetricsCollector != nil {
		r.MetricsCollector.RecordPatch(service, action, result)
	}
}

func (r *FailoverReconciler) recordAPIError(resource string) {
	if r.MetricsCollector != nil {
		r.MetricsCollector.RecordAPIError(resource)
	}
}

// GetTickCount returns the number of passes run
func (r *FailoverReconciler) GetTickCount() int64 {
	return r.tickCount.Load()
}

// GetErrorCount returns the number of passes that failed to read the cluster
func (r *FailoverReconciler) GetErrorCount() int64 {
	return r.errorCount.Load()
}

// GetLastError returns the last pass error, if any
func (r *FailoverReconciler) GetLastError() error {
	r.lastErrorLock.RLock()
	defer r.lastErrorLock.RUnlock()
	return r.lastError
}

func (r *FailoverReconciler) setLastError(err error) {
	r.lastErrorLock.Lock()
	defer r.lastErrorLock.Unlock()
	r.lastError = err
}
