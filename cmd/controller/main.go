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

package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/ahoma/failover-controller/pkg/config"
	"github.com/ahoma/failover-controller/pkg/di"
	"github.com/ahoma/failover-controller/pkg/logging"
)

var (
	// Build-time variables
	version   = "dev"
	commit    = "unknown"
	buildDate = "unknown"
)

func main() {
	var (
		configFile     = flag.String("config", "", "Path to the YAML configuration file.")
		namespace      = flag.String("namespace", "", "Namespace whose Services are managed. Defaults to the controller's own namespace.")
		logLevel       = flag.String("log-level", "", "Log level (DEBUG, INFO, WARNING, ERROR).")
		updateInterval = flag.String("update-interval", "", "Seconds between reconciliation passes, e.g. 0.1.")
		readOnlyMode   = flag.Bool("read-only", false, "Log label changes without patching pods.")
		metricsAddr    = flag.String("metrics-bind-address", "", "The address the metrics endpoint binds to.")
		healthAddr     = flag.String("health-bind-address", "", "The address the /healthz and /readyz endpoints bind to.")
		showVersion    = flag.Bool("version", false, "Show version information and exit.")
	)

	flag.Parse()

	if *showVersion {
		fmt.Printf("Failover Controller\n")
		fmt.Printf("Version: %s\n", version)
		fmt.Printf("Commit: %s\n", commit)
		fmt.Printf("Build Date: %s\n", buildDate)
		os.Exit(0)
	}

	setFlags := make(map[string]bool)
	flag.Visit(func(f *flag.Flag) { setFlags[f.Name] = true })

	var overrides []di.ConfigOverride
	if setFlags["namespace"] {
		overrides = append(overrides, func(cfg *config.FailoverConfig) { cfg.Operator.Namespace = *namespace })
	}
	if setFlags["log-level"] {
		overrides = append(overrides, func(cfg *config.FailoverConfig) { cfg.Observability.Logging.Level = *logLevel })
	}
	if setFlags["update-interval"] {
		interval, ok := config.ParseUpdateInterval(*updateInterval)
		if !ok {
			fmt.Fprintf(os.Stderr, "invalid -update-interval %q: expected a non-zero number of seconds\n", *updateInterval)
			os.Exit(2)
		}
		overrides = append(overrides, func(cfg *config.FailoverConfig) { cfg.Controller.UpdateInterval = interval })
	}
	if setFlags["read-only"] {
		overrides = append(overrides, func(cfg *config.FailoverConfig) { cfg.Operator.ReadOnlyMode = *readOnlyMode })
	}
	if setFlags["metrics-bind-address"] {
		overrides = append(overrides, func(cfg *config.FailoverConfig) { cfg.Observability.Metrics.BindAddress = *metricsAddr })
	}
	if setFlags["health-bind-address"] {
		overrides = append(overrides, func(cfg *config.FailoverConfig) { cfg.Observability.Health.BindAddress = *healthAddr })
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	app, err := di.NewApplicationBuilder().
		WithConfigFile(*configFile).
		WithOverrides(overrides...).
		Build(ctx)
	if err != nil {
		// The configured logger is not available yet
		if fallback, logErr := logging.NewLogger(nil); logErr == nil {
			fallback.WithName("setup").Error(err, "failed to build application")
		}
		os.Exit(1)
	}

	setupLog := app.Logger.WithName("setup")
	setupLog.Info("Starting failover controller",
		"version", version,
		"commit", commit,
		"buildDate", buildDate,
	)

	if err := app.Start(ctx); err != nil {
		setupLog.Error(err, "failed to run operator")
		cancel()
		os.Exit(1)
	}

	setupLog.Info("Operator stopped")
}
