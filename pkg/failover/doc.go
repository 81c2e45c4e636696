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

/*
Package failover implements priority-based failover for groups of pods behind a
Service.

Each reconciliation tick runs a pure pipeline over a freshly fetched pod
snapshot:

	pods ──► Matcher ──► Builder ──► Evaluator ──► Arbiter ──► Reconciler ──► []PatchIntent
	         (discovery   (group by   (ready count  (highest     (minimal label
	          selector)    key, fold   vs min       allowed      diff per pod)
	                       priority)   replicas)    priority)

Pods are grouped by their failoverGroup label, else their pod-template-hash
label, else their own name. Each group declares a priority (max over members)
and a minimum number of ready members (min over members). Among groups that
meet their threshold, every group sharing the highest priority becomes active;
their members receive the Service's failover label set to the active status
value, and the label is removed from everyone else.

The pipeline keeps no state between ticks. Running it twice on the same
snapshot yields the same decision, and once the cluster converges it yields no
patches at all.
*/
package failover
