/*
Package di wires the failover controller together with Uber Dig.

# Core Components

Application provides the process lifecycle:
  - Loads and validates the configuration
  - Installs the structured logger for controller-runtime and klog
  - Resolves and starts the operator

Container wraps the Dig container with panicking registration helpers.

ServiceRegistry registers, in dependency order:
  - *config.Loader and *config.FailoverConfig
  - *logging.Logger
  - *operator.KubernetesConfig and *operator.KubernetesClientManager
  - *operator.Operator

Constructors run lazily: Build only resolves the configuration and the
logger, so a missing cluster configuration surfaces from Start.

# Usage

	app, err := di.NewApplicationBuilder().
		WithConfigFile(configFile).
		WithOverrides(func(cfg *config.FailoverConfig) {
			cfg.Operator.ReadOnlyMode = true
		}).
		Build(ctx)
	if err != nil {
		return err
	}
	return app.Start(ctx)
*/
package di
