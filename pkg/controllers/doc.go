/*
Package controllers implements the poll-driven failover loop.

FailoverReconciler is a manager.Runnable rather than a watch-based reconciler.
Every UpdateInterval it:
  - lists the Services and pods of its namespace through an uncached reader
  - parses the failover wiring of each Service carrying a failoverLabel label
  - plans the active endpoint groups with pkg/failover
  - patches the failover label of pods whose state differs from the plan

A pass that overruns the interval logs "Update interval violated." and the next
pass starts immediately. Failed patches are logged and retried on the next
pass, which recomputes the plan from fresh state.

# Service wiring

	apiVersion: v1
	kind: Service
	metadata:
	  name: web
	  labels:
	    failoverLabel: status
	spec:
	  selector:
	    app: web
	    status: active

Pods matching app=web are grouped by failoverGroup, then pod-template-hash,
then pod name. Each group may declare failoverPriority and
failoverMinReplicas. The controller sets status=active on the members of the
highest-priority groups with enough ready pods and removes it from all others.

# Read-only mode

With ReadOnlyMode the planned changes are logged and counted as skipped
patches without touching any pod.

# Logging

ControllerLogger tags every line of a pass with a short tick_id and the
Service name.
*/
package controllers
