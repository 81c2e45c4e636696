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
	"context"
	"fmt"
	"io"

	"github.com/ahoma/failover-controller/pkg/config"
	"github.com/ahoma/failover-controller/pkg/logging"
	"github.com/ahoma/failover-controller/pkg/operator"
)

// ApplicationBuilder helps build the application with dependency injection
type ApplicationBuilder struct {
	container  *Container
	configFile string
	overrides  []ConfigOverride
	logOutput  io.Writer
}

// NewApplicationBuilder creates a new application builder
func NewApplicationBuilder() *ApplicationBuilder {
	return &ApplicationBuilder{
		container: NewContainer(),
	}
}

// WithConfigFile sets the configuration file path
func (b *ApplicationBuilder) WithConfigFile(path string) *ApplicationBuilder {
	b.configFile = path
	return b
}

// WithOverrides adds configuration overrides applied after loading
func (b *ApplicationBuilder) WithOverrides(overrides ...ConfigOverride) *ApplicationBuilder {
	b.overrides = append(b.overrides, overrides...)
	return b
}

// WithLogOutput redirects log output
func (b *ApplicationBuilder) WithLogOutput(w io.Writer) *ApplicationBuilder {
	b.logOutput = w
	return b
}

// Build registers all services, resolves the configuration and installs the
// logger globally. Cluster clients are created lazily by Start.
func (b *ApplicationBuilder) Build(_ context.Context) (*Application, error) {
	registry := NewServiceRegistry(b.container).
		WithConfigFile(b.configFile).
		WithOverrides(b.overrides...).
		WithLogOutput(b.logOutput)
	if err := registry.RegisterAll(); err != nil {
		return nil, fmt.Errorf("failed to register services: %w", err)
	}

	b.container.MustProvide(func(cfg *config.FailoverConfig, logger *logging.Logger) *Application {
		return &Application{
			Config:    cfg,
			Logger:    logger,
			Container: b.container,
		}
	})

	var app *Application
	if err := b.container.Invoke(func(a *Application) {
		app = a
	}); err != nil {
		return nil, fmt.Errorf("failed to build application: %w", err)
	}

	logging.SetGlobalLogger(app.Logger)

	setupLog := app.Logger.WithName("setup")
	if err := b.container.Invoke(func(loader *config.Loader) {
		for _, warning := range loader.Warnings {
			setupLog.Info(warning)
		}
	}); err != nil {
		return nil, fmt.Errorf("failed to resolve configuration loader: %w", err)
	}

	return app, nil
}

// Application represents the main application with all dependencies
type Application struct {
	Config    *config.FailoverConfig
	Logger    *logging.Logger
	Container *Container
}

// Start resolves the operator and runs it until ctx is cancelled
func (a *Application) Start(ctx context.Context) error {
	var op *operator.Operator
	if err := a.Container.Invoke(func(o *operator.Operator) {
		op = o
	}); err != nil {
		return fmt.Errorf("failed to resolve operator from DI container: %w", err)
	}

	if err := op.Start(ctx); err != nil {
		return fmt.Errorf("failed to start operator: %w", err)
	}

	return nil
}

// GetConfig returns the application configuration
func (a *Application) GetConfig() *config.FailoverConfig {
	return a.Config
}

// NewApplication creates a new application with default configuration
func NewApplication(ctx context.Context) (*Application, error) {
	return NewApplicationBuilder().Build(ctx)
}

// NewApplicationWithConfig creates a new application with the specified config file
func NewApplicationWithConfig(ctx context.Context, configFile string) (*Application, error) {
	return NewApplicationBuilder().WithConfigFile(configFile).Build(ctx)
}
