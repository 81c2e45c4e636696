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

package failover

import (
	"github.com/ahoma/failover-controller/internal/podlabels"
	"github.com/ahoma/failover-controller/pkg/apis"
	"github.com/go-logr/logr"
	corev1 "k8s.io/api/core/v1"
)

// Plan is the outcome of one pipeline run for one Service
type Plan struct {
	Service     *apis.ServiceSpec
	Groups      *apis.EndpointGroups
	Decision    apis.FailoverDecision
	Patches     []apis.PatchIntent
	LabelErrors []error
}

// Planner runs the full pipeline for a Service
type Planner struct {
	builder *Builder
}

// NewPlanner creates a Planner
func NewPlanner(parser *podlabels.LabelParser, logger logr.Logger) *Planner {
	return &Planner{builder: NewBuilder(parser, logger)}
}

// Plan runs match, build, evaluate, decide and reconcile over a pod snapshot.
// It performs no I/O and does not modify the pods.
func (p *Planner) Plan(spec *apis.ServiceSpec, pods []corev1.Pod) (*Plan, error) {
	discovery := spec.DiscoverySelector
	if discovery == nil {
		discovery = DiscoverySelector(spec.LiveSelector, spec.FailoverLabel)
	}

	matcher, err := NewMatcher(discovery)
	if err != nil {
		return nil, &apis.ConfigurationError{
			Namespace: spec.Namespace,
			Service:   spec.Name,
			Reason:    err.Error(),
		}
	}

	groups, labelErrors := p.builder.Build(pods, matcher)
	EvaluateAll(groups)
	decision := Decide(groups)

	return &Plan{
		Service:     spec,
		Groups:      groups,
		Decision:    decision,
		Patches:     Reconcile(groups, decision, spec.FailoverLabel, spec.ActiveValue),
		LabelErrors: labelErrors,
	}, nil
}
