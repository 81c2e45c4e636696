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
	"github.com/ahoma/failover-controller/pkg/apis"
	corev1 "k8s.io/api/core/v1"
)

// IsPodReady reports whether every container of the pod has started and is
// ready. A pod reporting no container statuses yet is not ready.
func IsPodReady(pod *corev1.Pod) bool {
	statuses := pod.Status.ContainerStatuses
	if len(statuses) == 0 {
		return false
	}

	for i := range statuses {
		started := statuses[i].Started != nil && *statuses[i].Started
		if !started || !statuses[i].Ready {
			return false
		}
	}

	return true
}

// Evaluate populates ReadyCount and Allowed on a group
func Evaluate(group *apis.EndpointGroup) {
	var ready int32
	for _, pod := range group.Members {
		if IsPodReady(pod) {
			ready++
		}
	}

	group.ReadyCount = ready
	group.Allowed = ready >= group.MinReplicas
}

// EvaluateAll evaluates every group
func EvaluateAll(groups *apis.EndpointGroups) {
	for _, group := range groups.List() {
		Evaluate(group)
	}
}
