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

package operator

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/client-go/kubernetes"
	"k8s.io/client-go/rest"
	"k8s.io/client-go/tools/clientcmd"
	ctrl "sigs.k8s.io/controller-runtime"

	"github.com/ahoma/failover-controller/pkg/config"
)

// DefaultNamespace is used when neither the configuration nor the pod
// environment names a namespace
const DefaultNamespace = "default"

// serviceAccountNamespaceFile is mounted into every pod with a service account token
var serviceAccountNamespaceFile = "/var/run/secrets/kubernetes.io/serviceaccount/namespace"

// KubernetesConfig contains Kubernetes client configuration
type KubernetesConfig struct {
	// Kubeconfig overrides the controller-runtime lookup (flag, KUBECONFIG,
	// in-cluster, ~/.kube/config) when set
	Kubeconfig string
	QPS        float32
	Burst      int
	Timeout    time.Duration
	UserAgent  string
}

// DefaultKubernetesConfig returns default Kubernetes client configuration
func DefaultKubernetesConfig() *KubernetesConfig {
	return &KubernetesConfig{
		QPS:       50.0,
		Burst:     100,
		Timeout:   30 * time.Second,
		UserAgent: "failover-controller",
	}
}

// KubernetesConfigFrom derives the client configuration from the operator settings
func KubernetesConfigFrom(cfg *config.FailoverConfig) *KubernetesConfig {
	kubeConfig := DefaultKubernetesConfig()
	if cfg == nil {
		return kubeConfig
	}
	if cfg.Operator.KubeAPIQPS > 0 {
		kubeConfig.QPS = cfg.Operator.KubeAPIQPS
	}
	if cfg.Operator.KubeAPIBurst > 0 {
		kubeConfig.Burst = cfg.Operator.KubeAPIBurst
	}
	return kubeConfig
}

// KubernetesClientManager owns the REST configuration and the typed clientset
type KubernetesClientManager struct {
	config     *KubernetesConfig
	restConfig *rest.Config
	kubeClient kubernetes.Interface
}

// NewKubernetesClientManager loads the cluster configuration and creates clients.
// A missing cluster configuration is a bootstrap failure.
func NewKubernetesClientManager(cfg *KubernetesConfig) (*KubernetesClientManager, error) {
	if cfg == nil {
		cfg = DefaultKubernetesConfig()
	}

	var restConfig *rest.Config
	var err error
	if cfg.Kubeconfig != "" {
		restConfig, err = clientcmd.BuildConfigFromFlags("", cfg.Kubeconfig)
		if err != nil {
			return nil, fmt.Errorf("failed to load kubeconfig from %s: %w", cfg.Kubeconfig, err)
		}
	} else {
		restConfig, err = ctrl.GetConfig()
		if err != nil {
			return nil, fmt.Errorf("failed to get kubernetes config: %w", err)
		}
	}

	return NewKubernetesClientManagerForConfig(restConfig, cfg)
}

// NewKubernetesClientManagerForConfig creates clients for an already loaded REST
// configuration. The configuration is copied before the overrides are applied.
func NewKubernetesClientManagerForConfig(restConfig *rest.Config, cfg *KubernetesConfig) (*KubernetesClientManager, error) {
	if restConfig == nil {
		return nil, fmt.Errorf("rest config is required")
	}
	if cfg == nil {
		cfg = DefaultKubernetesConfig()
	}

	restConfig = rest.CopyConfig(restConfig)
	restConfig.QPS = cfg.QPS
	restConfig.Burst = cfg.Burst
	restConfig.Timeout = cfg.Timeout
	if cfg.UserAgent != "" {
		restConfig.UserAgent = cfg.UserAgent
	}

	kubeClient, err := kubernetes.NewForConfig(restConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create kubernetes client: %w", err)
	}

	return &KubernetesClientManager{
		config:     cfg,
		restConfig: restConfig,
		kubeClient: kubeClient,
	}, nil
}

// GetRESTConfig returns the REST configuration
func (k *KubernetesClientManager) GetRESTConfig() *rest.Config {
	return k.restConfig
}

// GetKubernetesClient returns the Kubernetes client
func (k *KubernetesClientManager) GetKubernetesClient() kubernetes.Interface {
	return k.kubeClient
}

// GetConfig returns the Kubernetes configuration
func (k *KubernetesClientManager) GetConfig() *KubernetesConfig {
	return k.config
}

// ValidatePermissions checks that the controller can list the resources it
// polls in the namespace
func ValidatePermissions(ctx context.Context, kubeClient kubernetes.Interface, namespace string) error {
	if _, err := kubeClient.CoreV1().Services(namespace).List(ctx, metav1.ListOptions{Limit: 1}); err != nil {
		return fmt.Errorf("missing permission to list services in %s: %w", namespace, err)
	}
	if _, err := kubeClient.CoreV1().Pods(namespace).List(ctx, metav1.ListOptions{Limit: 1}); err != nil {
		return fmt.Errorf("missing permission to list pods in %s: %w", namespace, err)
	}
	return nil
}

// ClusterInfo contains information about the Kubernetes cluster
type ClusterInfo struct {
	Version      string
	APIServerURL string
}

// GetClusterInfo returns information about the Kubernetes cluster
func (k *KubernetesClientManager) GetClusterInfo() (*ClusterInfo, error) {
	version, err := k.kubeClient.Discovery().ServerVersion()
	if err != nil {
		return nil, fmt.Errorf("failed to get server version: %w", err)
	}

	return &ClusterInfo{
		Version:      version.String(),
		APIServerURL: k.restConfig.Host,
	}, nil
}

// ResolveNamespace picks the managed namespace: the configured one, else the
// namespace of the controller's own service account, else "default".
func ResolveNamespace(configured string) string {
	if ns := strings.TrimSpace(configured); ns != "" {
		return ns
	}

	data, err := os.ReadFile(serviceAccountNamespaceFile)
	if err == nil {
		if ns := strings.TrimSpace(string(data)); ns != "" {
			return ns
		}
	}

	return DefaultNamespace
}
