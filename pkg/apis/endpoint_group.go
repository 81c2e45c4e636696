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

// Package apis defines the core types shared by the failover pipeline, the
// poll-driven controller, and the metrics layer.
package apis

import (
	"fmt"

	corev1 "k8s.io/api/core/v1"
)

// EndpointKeyKind identifies how an endpoint group key was derived from pod labels.
type EndpointKeyKind string

const (
	// EndpointKeyGroup is derived from an explicit failover group label
	EndpointKeyGroup EndpointKeyKind = "group"

	// EndpointKeyTemplateHash is derived from the pod-template-hash label
	EndpointKeyTemplateHash EndpointKeyKind = "template-hash"

	// EndpointKeyPodName is the fallback used when a pod carries neither label
	EndpointKeyPodName EndpointKeyKind = "name"
)

const (
	// DefaultPriority is used when a pod carries no valid priority label
	DefaultPriority int32 = 0

	// DefaultMinReplicas is used when a pod carries no valid min-replicas label
	DefaultMinReplicas int32 = 1
)

// EndpointGroupKey identifies a failover group within a Service. Two pods land in
// the same group only if both Kind and Value are equal, so a group named "abc"
// never collides with a template hash "abc".
type EndpointGroupKey struct {
	Kind  EndpointKeyKind `json:"kind"`
	Value string          `json:"value"`
}

// GroupKey returns the key for an explicit failover group
func GroupKey(name string) EndpointGroupKey {
	return EndpointGroupKey{Kind: EndpointKeyGroup, Value: name}
}

// TemplateHashKey returns the key for a pod-template-hash group
func TemplateHashKey(hash string) EndpointGroupKey {
	return EndpointGroupKey{Kind: EndpointKeyTemplateHash, Value: hash}
}

// PodNameKey returns the key for a single-pod group
func PodNameKey(name string) EndpointGroupKey {
	return EndpointGroupKey{Kind: EndpointKeyPodName, Value: name}
}

// String renders the key as kind/value
func (k EndpointGroupKey) String() string {
	return fmt.Sprintf("%s/%s", k.Kind, k.Value)
}

// EndpointGroup is a set of pods treated as one failover unit
type EndpointGroup struct {
	// Key identifies the group within its Service
	Key EndpointGroupKey `json:"key"`

	// Priority is the maximum priority declared by any member
	Priority int32 `json:"priority"`

	// MinReplicas is the minimum threshold declared by any member
	MinReplicas int32 `json:"minReplicas"`

	// Members are the pods of the group in discovery order. They point into the
	// fetched snapshot and must be treated as read-only.
	Members []*corev1.Pod `json:"-"`

	// ReadyCount is the number of ready members, populated by evaluation
	ReadyCount int32 `json:"readyCount"`

	// Allowed reports whether ReadyCount meets MinReplicas, populated by evaluation
	Allowed bool `json:"allowed"`
}

// NewEndpointGroup creates a group seeded with the values declared by its first member
func NewEndpointGroup(key EndpointGroupKey, priority, minReplicas int32) *EndpointGroup {
	return &EndpointGroup{
		Key:         key,
		Priority:    priority,
		MinReplicas: minReplicas,
	}
}

// AddMember appends a pod and folds its declared settings into the group:
// priority aggregates as max, minReplicas as min.
func (g *EndpointGroup) AddMember(pod *corev1.Pod, priority, minReplicas int32) {
	if len(g.Members) == 0 {
		g.Priority = priority
		g.MinReplicas = minReplicas
	} else {
		g.Priority = max(g.Priority, priority)
		g.MinReplicas = min(g.MinReplicas, minReplicas)
	}
	g.Members = append(g.Members, pod)
}

// Size returns the number of members
func (g *EndpointGroup) Size() int {
	return len(g.Members)
}

// EndpointGroups is an insertion-ordered collection of groups. Iteration order
// follows the order in which the first member of each group was discovered,
// which keeps plans deterministic for a given snapshot.
type EndpointGroups struct {
	order  []EndpointGroupKey
	groups map[EndpointGroupKey]*EndpointGroup
}

// NewEndpointGroups creates an empty collection
func NewEndpointGroups() *EndpointGroups {
	return &EndpointGroups{
		groups: make(map[EndpointGroupKey]*EndpointGroup),
	}
}

// Get returns the group for key, if present
func (e *EndpointGroups) Get(key EndpointGroupKey) (*EndpointGroup, bool) {
	g, ok := e.groups[key]
	return g, ok
}

// GetOrCreate returns the group for key, creating an empty one if needed
func (e *EndpointGroups) GetOrCreate(key EndpointGroupKey) *EndpointGroup {
	if g, ok := e.groups[key]; ok {
		return g
	}
	g := NewEndpointGroup(key, DefaultPriority, DefaultMinReplicas)
	e.groups[key] = g
	e.order = append(e.order, key)
	return g
}

// Len returns the number of groups
func (e *EndpointGroups) Len() int {
	return len(e.order)
}

// Keys returns the group keys in discovery order
func (e *EndpointGroups) Keys() []EndpointGroupKey {
	keys := make([]EndpointGroupKey, len(e.order))
	copy(keys, e.order)
	return keys
}

// List returns the groups in discovery order
func (e *EndpointGroups) List() []*EndpointGroup {
	list := make([]*EndpointGroup, 0, len(e.order))
	for _, key := range e.order {
		list = append(list, e.groups[key])
	}
	return list
}
