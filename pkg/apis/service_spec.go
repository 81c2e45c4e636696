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

package apis

import (
	"k8s.io/apimachinery/pkg/types"
)

// ServiceSpec is the failover wiring extracted from a Service
type ServiceSpec struct {
	// Namespace and Name identify the Service
	Namespace string `json:"namespace"`
	Name      string `json:"name"`

	// FailoverLabel is the pod label key managed by the controller, named by the
	// Service's own failoverLabel metadata label
	FailoverLabel string `json:"failoverLabel"`

	// ActiveValue is the value the live selector expects on active pods
	ActiveValue string `json:"activeValue"`

	// LiveSelector is the Service's routing selector, including the failover label
	LiveSelector map[string]string `json:"liveSelector"`

	// DiscoverySelector is LiveSelector without the failover label entry, used to
	// enumerate candidate pods regardless of their activation state
	DiscoverySelector map[string]string `json:"discoverySelector"`
}

// NamespacedName returns the Service identity
func (s *ServiceSpec) NamespacedName() types.NamespacedName {
	return types.NamespacedName{Namespace: s.Namespace, Name: s.Name}
}

// FailoverDecision is the arbitration result for one Service
type FailoverDecision struct {
	// ActivePriority is the highest priority among allowed groups, nil when no
	// group is allowed
	ActivePriority *int32 `json:"activePriority,omitempty"`

	// ActiveGroups are the allowed groups at ActivePriority, in discovery order
	ActiveGroups []EndpointGroupKey `json:"activeGroups,omitempty"`
}

// HasActive reports whether any group was selected
func (d *FailoverDecision) HasActive() bool {
	return d.ActivePriority != nil
}

// IsActive reports whether the given group was selected
func (d *FailoverDecision) IsActive(key EndpointGroupKey) bool {
	for _, k := range d.ActiveGroups {
		if k == key {
			return true
		}
	}
	return false
}

// PatchAction is the label mutation applied to a single pod
type PatchAction string

const (
	// PatchActionSet attaches the active status value to the failover label
	PatchActionSet PatchAction = "set"

	// PatchActionClear removes the failover label
	PatchActionClear PatchAction = "clear"
)

// PatchIntent describes one pod label change needed to realise a decision
type PatchIntent struct {
	// Pod identifies the target pod
	Pod types.NamespacedName `json:"pod"`

	// Group is the endpoint group the pod belongs to
	Group EndpointGroupKey `json:"group"`

	// Action is set or clear
	Action PatchAction `json:"action"`

	// Label is the failover label key
	Label string `json:"label"`

	// Value is the active status value for set intents, empty for clear
	Value string `json:"value,omitempty"`

	// ObservedLabels are the labels as fetched. Never mutated.
	ObservedLabels map[string]string `json:"observedLabels,omitempty"`

	// DesiredLabels is a fresh copy of ObservedLabels with the change applied
	DesiredLabels map[string]string `json:"desiredLabels,omitempty"`
}
