/*
Package operator assembles the failover controller process.

Operator embeds a controller-runtime manager and registers two kinds of
runnables with it:

  - the FailoverReconciler poll loop from pkg/controllers
  - one gin HTTP server per bind address serving /healthz, /readyz and /metrics

Leader election is disabled and the manager cache is limited to the managed
namespace. The poll loop lists through the manager's API reader, so the cache
only backs the client used for patches.

# Architecture

	┌─────────────────────────────────────┐
	│          Operator Process           │
	│                                     │
	│  ┌───────────────────────────────┐  │
	│  │     HTTP Servers (gin)        │  │
	│  │  - Metrics     (:8080)        │  │
	│  │  - Health      (:8081)        │  │
	│  └───────────────────────────────┘  │
	│              ↓                      │
	│  ┌───────────────────────────────┐  │
	│  │    Controller Manager         │  │
	│  │  - FailoverReconciler (poll)  │  │
	│  └───────────────────────────────┘  │
	│              ↓                      │
	│  ┌───────────────────────────────┐  │
	│  │    Kubernetes API Server      │  │
	│  └───────────────────────────────┘  │
	└─────────────────────────────────────┘

# Namespace

The managed namespace comes from the configuration. When it is empty the
namespace of the pod's service account is used, and "default" outside a
cluster.

# Usage

Starting the operator with dependency injection:

	app, err := di.NewApplicationBuilder().
		WithConfigFile("/etc/failover-controller/config.yaml").
		Build(ctx)
	if err != nil {
		return err
	}
	return app.Start(ctx)

# Related Packages

  - pkg/controllers: poll loop
  - pkg/failover: endpoint group selection
  - pkg/di: dependency injection
  - pkg/config: configuration management
  - pkg/metrics: metrics collection
*/
package operator
