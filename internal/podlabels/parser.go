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

// Package podlabels parses the failover labels carried by Services and pods.
package podlabels

import (
	"errors"
	"fmt"
	"math"
	"strconv"

	"github.com/ahoma/failover-controller/pkg/apis"
	corev1 "k8s.io/api/core/v1"
)

const (
	// FailoverLabelKey on a Service names the pod label the controller manages
	FailoverLabelKey = "failoverLabel"

	// GroupLabel assigns a pod to an explicit failover group
	GroupLabel = "failoverGroup"

	// TemplateHashLabel is set by the Deployment controller on ReplicaSet pods
	TemplateHashLabel = "pod-template-hash"

	// PriorityLabel declares the failover priority of a pod (non-negative integer)
	PriorityLabel = "failoverPriority"

	// MinReplicasLabel declares the minimum ready replicas of a pod's group (integer >= 1)
	MinReplicasLabel = "failoverMinReplicas"
)

// Keys holds the label keys the parser reads. Zero values fall back to the defaults above.
type Keys struct {
	FailoverLabel string `yaml:"failoverLabel" json:"failoverLabel"`
	Group         string `yaml:"group" json:"group"`
	TemplateHash  string `yaml:"templateHash" json:"templateHash"`
	Priority      string `yaml:"priority" json:"priority"`
	MinReplicas   string `yaml:"minReplicas" json:"minReplicas"`
}

// DefaultKeys returns the standard label keys
func DefaultKeys() Keys {
	return Keys{
		FailoverLabel: FailoverLabelKey,
		Group:         GroupLabel,
		TemplateHash:  TemplateHashLabel,
		Priority:      PriorityLabel,
		MinReplicas:   MinReplicasLabel,
	}
}

func (k Keys) withDefaults() Keys {
	d := DefaultKeys()
	if k.FailoverLabel == "" {
		k.FailoverLabel = d.FailoverLabel
	}
	if k.Group == "" {
		k.Group = d.Group
	}
	if k.TemplateHash == "" {
		k.TemplateHash = d.TemplateHash
	}
	if k.Priority == "" {
		k.Priority = d.Priority
	}
	if k.MinReplicas == "" {
		k.MinReplicas = d.MinReplicas
	}
	return k
}

// LabelParser extracts failover settings from Service and pod labels
type LabelParser struct {
	keys Keys
}

// NewLabelParser creates a parser using the default label keys
func NewLabelParser() *LabelParser {
	return &LabelParser{keys: DefaultKeys()}
}

// NewLabelParserWithKeys creates a parser using custom label keys
func NewLabelParserWithKeys(keys Keys) *LabelParser {
	return &LabelParser{keys: keys.withDefaults()}
}

// Keys returns the label keys in use
func (p *LabelParser) Keys() Keys {
	return p.keys
}

// IsFailoverManaged reports whether the Service opts into failover management at all
func (p *LabelParser) IsFailoverManaged(svc *corev1.Service) bool {
	if svc.Labels == nil {
		return false
	}
	_, exists := svc.Labels[p.keys.FailoverLabel]
	return exists
}

// ParseServiceSpec extracts the failover wiring of a Service. It returns a
// ConfigurationError when the failover label is named but empty, or when the
// Service selector does not carry a value for it.
func (p *LabelParser) ParseServiceSpec(svc *corev1.Service) (*apis.ServiceSpec, error) {
	failoverLabel := svc.Labels[p.keys.FailoverLabel]
	if failoverLabel == "" {
		return nil, &apis.ConfigurationError{
			Namespace: svc.Namespace,
			Service:   svc.Name,
			Reason:    fmt.Sprintf("label %q has no value", p.keys.FailoverLabel),
		}
	}

	activeValue, exists := svc.Spec.Selector[failoverLabel]
	if !exists || activeValue == "" {
		return nil, &apis.ConfigurationError{
			Namespace: svc.Namespace,
			Service:   svc.Name,
			Reason:    fmt.Sprintf("label %q is missing from the Service selector or has no value", failoverLabel),
		}
	}

	live := make(map[string]string, len(svc.Spec.Selector))
	discovery := make(map[string]string, len(svc.Spec.Selector))
	for k, v := range svc.Spec.Selector {
		live[k] = v
		if k != failoverLabel {
			discovery[k] = v
		}
	}

	return &apis.ServiceSpec{
		Namespace:         svc.Namespace,
		Name:              svc.Name,
		FailoverLabel:     failoverLabel,
		ActiveValue:       activeValue,
		LiveSelector:      live,
		DiscoverySelector: discovery,
	}, nil
}

// EndpointKey derives the group key of a pod: explicit group first, then
// template hash, then the pod name. A label counts when present, even with an
// empty value.
func (p *LabelParser) EndpointKey(pod *corev1.Pod) apis.EndpointGroupKey {
	if group, ok := pod.Labels[p.keys.Group]; ok {
		return apis.GroupKey(group)
	}
	if hash, ok := pod.Labels[p.keys.TemplateHash]; ok {
		return apis.TemplateHashKey(hash)
	}
	return apis.PodNameKey(pod.Name)
}

// ParsePriority returns the declared priority of a pod. A missing label yields
// the default without error; a malformed or negative one yields the default
// together with a LabelParseError.
func (p *LabelParser) ParsePriority(pod *corev1.Pod) (int32, error) {
	value, exists := pod.Labels[p.keys.Priority]
	if !exists {
		return apis.DefaultPriority, nil
	}

	priority, err := parseLabelInt(value)
	if err != nil {
		return apis.DefaultPriority, &apis.LabelParseError{Pod: pod.Name, Label: p.keys.Priority, Value: value, Err: err}
	}
	if priority < 0 {
		return apis.DefaultPriority, &apis.LabelParseError{
			Pod: pod.Name, Label: p.keys.Priority, Value: value,
			Err: fmt.Errorf("must be non-negative, got %d", priority),
		}
	}

	return int32(priority), nil
}

// ParseMinReplicas returns the declared minimum ready replicas of a pod's
// group. A missing label yields the default without error; a malformed value
// or one below 1 yields the default together with a LabelParseError.
func (p *LabelParser) ParseMinReplicas(pod *corev1.Pod) (int32, error) {
	value, exists := pod.Labels[p.keys.MinReplicas]
	if !exists {
		return apis.DefaultMinReplicas, nil
	}

	minReplicas, err := parseLabelInt(value)
	if err != nil {
		return apis.DefaultMinReplicas, &apis.LabelParseError{Pod: pod.Name, Label: p.keys.MinReplicas, Value: value, Err: err}
	}
	if minReplicas < 1 {
		return apis.DefaultMinReplicas, &apis.LabelParseError{
			Pod: pod.Name, Label: p.keys.MinReplicas, Value: value,
			Err: fmt.Errorf("must be at least 1, got %d", minReplicas),
		}
	}

	return int32(minReplicas), nil
}

// parseLabelInt parses a base-10 integer label value. Values above the int32
// range saturate at math.MaxInt32.
func parseLabelInt(value string) (int64, error) {
	n, err := strconv.ParseInt(value, 10, 64)
	if err != nil {
		if !errors.Is(err, strconv.ErrRange) || n < 0 {
			return 0, err
		}
		n = math.MaxInt64
	}
	if n > math.MaxInt32 {
		n = math.MaxInt32
	}
	return n, nil
}
