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

package di

import (
	"fmt"
	"io"

	"github.com/ahoma/failover-controller/pkg/config"
	"github.com/ahoma/failover-controller/pkg/logging"
	"github.com/ahoma/failover-controller/pkg/operator"
)

// ConfigOverride adjusts the loaded configuration, typically from command
// line flags
type ConfigOverride func(cfg *config.FailoverConfig)

// ServiceRegistry handles registration of all services in the DI container
type ServiceRegistry struct {
	container  *Container
	configFile string
	overrides  []ConfigOverride
	logOutput  io.Writer
}

// NewServiceRegistry creates a new service registry
func NewServiceRegistry(container *Container) *ServiceRegistry {
	return &ServiceRegistry{
		container: container,
	}
}

// WithConfigFile sets the configuration file path
func (r *ServiceRegistry) WithConfigFile(configFile string) *ServiceRegistry {
	r.configFile = configFile
	return r
}

// WithOverrides appends overrides applied after the configuration is loaded
func (r *ServiceRegistry) WithOverrides(overrides ...ConfigOverride) *ServiceRegistry {
	r.overrides = append(r.overrides, overrides...)
	return r
}

// WithLogOutput redirects the logger, mostly for tests
func (r *ServiceRegistry) WithLogOutput(w io.Writer) *ServiceRegistry {
	r.logOutput = w
	return r
}

// RegisterAll registers all services in the correct dependency order
func (r *ServiceRegistry) RegisterAll() error {
	if err := r.RegisterConfiguration(); err != nil {
		return fmt.Errorf("failed to register configuration: %w", err)
	}

	if err := r.RegisterLogger(); err != nil {
		return fmt.Errorf("failed to register logger: %w", err)
	}

	if err := r.RegisterKubernetes(); err != nil {
		return fmt.Errorf("failed to register kubernetes clients: %w", err)
	}

	if err := r.RegisterOperator(); err != nil {
		return fmt.Errorf("failed to register operator: %w", err)
	}

	return nil
}

// RegisterConfiguration registers the loader and the validated configuration
func (r *ServiceRegistry) RegisterConfiguration() error {
	r.container.MustProvide(func() *config.Loader {
		loader := config.NewLoader()
		if r.configFile != "" {
			loader = loader.WithConfigFile(r.configFile)
		}
		return loader
	})

	r.container.MustProvide(func(loader *config.Loader) (*config.FailoverConfig, error) {
		cfg, err := loader.Load()
		if err != nil {
			return nil, err
		}

		if len(r.overrides) == 0 {
			return cfg, nil
		}
		for _, override := range r.overrides {
			override(cfg)
		}
		if err := cfg.Validate(); err != nil {
			return nil, fmt.Errorf("invalid configuration: %w", err)
		}
		return cfg, nil
	})

	return nil
}

// RegisterLogger registers the structured logger
func (r *ServiceRegistry) RegisterLogger() error {
	r.container.MustProvide(func(cfg *config.FailoverConfig) (*logging.Logger, error) {
		logConfig := &logging.Config{
			Level:       cfg.Observability.Logging.Level,
			Format:      cfg.Observability.Logging.Format,
			AddCaller:   cfg.Observability.Logging.AddCaller,
			Development: cfg.Observability.Logging.Development,
			Output:      r.logOutput,
		}

		return logging.NewLogger(logConfig)
	})

	return nil
}

// RegisterKubernetes registers the cluster configuration and clients. They
// are only constructed when the operator is resolved.
func (r *ServiceRegistry) RegisterKubernetes() error {
	r.container.MustProvide(operator.KubernetesConfigFrom)
	r.container.MustProvide(operator.NewKubernetesClientManager)

	return nil
}

// RegisterOperator registers the operator
func (r *ServiceRegistry) RegisterOperator() error {
	r.container.MustProvide(func(cfg *config.FailoverConfig, clients *operator.KubernetesClientManager) (*operator.Operator, error) {
		op, err := operator.NewOperator(cfg, clients)
		if err != nil {
			return nil, fmt.Errorf("failed to create operator: %w", err)
		}

		return op, nil
	})

	return nil
}
