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
	"k8s.io/apimachinery/pkg/types"
)

// Reconcile computes the minimal set of label changes realising a decision.
// Members of active groups whose failover label is not the active value get a
// set intent; members of other groups whose failover label equals the active
// value get a clear intent. Pods already in their desired state produce
// nothing.
func Reconcile(groups *apis.EndpointGroups, decision apis.FailoverDecision, failoverLabel, activeValue string) []apis.PatchIntent {
	var intents []apis.PatchIntent

	for _, group := range groups.List() {
		active := decision.IsActive(group.Key)

		for _, pod := range group.Members {
			current, labeled := pod.Labels[failoverLabel]
			isLabeled := labeled && current == activeValue

			switch {
			case active && !isLabeled:
				intents = append(intents, newIntent(pod, group.Key, apis.PatchActionSet, failoverLabel, activeValue))
			case !active && isLabeled:
				intents = append(intents, newIntent(pod, group.Key, apis.PatchActionClear, failoverLabel, ""))
			}
		}
	}

	return intents
}

// newIntent builds an intent with a fresh desired label map. The observed map
// belongs to the snapshot and is never written.
func newIntent(pod *corev1.Pod, key apis.EndpointGroupKey, action apis.PatchAction, label, value string) apis.PatchIntent {
	desired := make(map[string]string, len(pod.Labels)+1)
	for k, v := range pod.Labels {
		desired[k] = v
	}

	switch action {
	case apis.PatchActionSet:
		desired[label] = value
	case apis.PatchActionClear:
		delete(desired, label)
	}

	return apis.PatchIntent{
		Pod:            types.NamespacedName{Namespace: pod.Namespace, Name: pod.Name},
		Group:          key,
		Action:         action,
		Label:          label,
		Value:          value,
		ObservedLabels: pod.Labels,
		DesiredLabels:  desired,
	}
}
