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
)

// Decide selects the highest priority among allowed groups. Every allowed group
// at that priority is active; ties are never broken. With no allowed group the
// decision is empty and all members will be cleared.
func Decide(groups *apis.EndpointGroups) apis.FailoverDecision {
	var active *int32
	for _, group := range groups.List() {
		if !group.Allowed {
			continue
		}
		if active == nil || group.Priority > *active {
			priority := group.Priority
			active = &priority
		}
	}

	decision := apis.FailoverDecision{ActivePriority: active}
	if active == nil {
		return decision
	}

	for _, group := range groups.List() {
		if group.Allowed && group.Priority == *active {
			decision.ActiveGroups = append(decision.ActiveGroups, group.Key)
		}
	}

	return decision
}
