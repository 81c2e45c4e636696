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
	"errors"
	"net/http"
	"net/http/httptest"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"github.com/prometheus/client_golang/prometheus"
	corev1 "k8s.io/api/core/v1"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/runtime"
	"k8s.io/apimachinery/pkg/types"
	kubefake "k8s.io/client-go/kubernetes/fake"
	"k8s.io/client-go/rest"
	k8stesting "k8s.io/client-go/testing"
	"k8s.io/utils/ptr"
	"sigs.k8s.io/controller-runtime/pkg/client/fake"

	"github.com/ahoma/failover-controller/pkg/config"
)

var _ = Describe("Operator", func() {
	var (
		cfg       *config.FailoverConfig
		clientset *kubefake.Clientset
		op        *Operator
	)

	newTestOperator := func() *Operator {
		o := &Operator{
			config:     cfg,
			namespace:  "team-a",
			kubeClient: clientset,
		}
		o.initializeCoreServices()
		o.initializeHTTPServers()
		return o
	}

	get := func(srv *httpServer, path string) *httptest.ResponseRecorder {
		recorder := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodGet, path, http.NoBody)
		srv.server.Handler.ServeHTTP(recorder, req)
		return recorder
	}

	BeforeEach(func() {
		cfg = config.DefaultConfig()
		clientset = kubefake.NewSimpleClientset(&corev1.Namespace{ObjectMeta: metav1.ObjectMeta{Name: "team-a"}})
	})

	Describe("HTTP servers", func() {
		It("should serve health and metrics on separate listeners by default", func() {
			op = newTestOperator()
			Expect(op.httpServers).To(HaveLen(2))

			health, metricsSrv := op.httpServers[0], op.httpServers[1]
			Expect(health.server.Addr).To(Equal(":8081"))
			Expect(metricsSrv.server.Addr).To(Equal(":8080"))

			Expect(get(health, "/healthz").Code).To(Equal(http.StatusOK))
			Expect(get(health, "/metrics").Code).To(Equal(http.StatusNotFound))
			Expect(get(metricsSrv, "/healthz").Code).To(Equal(http.StatusNotFound))

			resp := get(metricsSrv, "/metrics")
			Expect(resp.Code).To(Equal(http.StatusOK))
			Expect(resp.Body.String()).To(ContainSubstring("failover_controller_ticks_total"))
		})

		It("should share one listener when the addresses match", func() {
			cfg.Observability.Metrics.BindAddress = ":9000"
			cfg.Observability.Health.BindAddress = ":9000"
			op = newTestOperator()

			Expect(op.httpServers).To(HaveLen(1))
			Expect(get(op.httpServers[0], "/healthz").Code).To(Equal(http.StatusOK))
			Expect(get(op.httpServers[0], "/metrics").Code).To(Equal(http.StatusOK))
		})

		It("should skip disabled endpoints", func() {
			cfg.Observability.Health.Enabled = false
			op = newTestOperator()
			Expect(op.httpServers).To(HaveLen(1))
			Expect(op.httpServers[0].server.Addr).To(Equal(":8080"))

			cfg.Observability.Metrics.Enabled = false
			op = newTestOperator()
			Expect(op.httpServers).To(BeEmpty())
		})

		It("should fail /metrics while the failover metrics cannot be registered", func() {
			op = newTestOperator()
			metricsSrv := op.httpServers[1]

			conflicting := prometheus.NewRegistry()
			conflicting.MustRegister(prometheus.NewGauge(prometheus.GaugeOpts{
				Name: "failover_controller_active_priority",
				Help: "Registered by another component",
			}))
			op.registerMetrics(conflicting)

			resp := get(metricsSrv, "/metrics")
			Expect(resp.Code).To(Equal(http.StatusInternalServerError))
			Expect(resp.Body.String()).To(ContainSubstring("failover_controller_active_priority"))

			op.registerMetrics(prometheus.NewRegistry())
			Expect(get(metricsSrv, "/metrics").Code).To(Equal(http.StatusOK))
		})

		It("should report ready only after a completed pass", func() {
			op = newTestOperator()
			health := op.httpServers[0]

			Expect(get(health, "/readyz").Code).To(Equal(http.StatusServiceUnavailable))

			op.healthChecker.RecordTick(time.Now())
			Expect(get(health, "/readyz").Code).To(Equal(http.StatusOK))
		})
	})

	Describe("newReconciler", func() {
		It("should wire the poll loop to metrics, health and the patch throttle", func() {
			cfg.Controller.UpdateInterval = 250 * time.Millisecond
			cfg.Operator.ReadOnlyMode = true
			op = newTestOperator()

			k8sClient := fake.NewClientBuilder().Build()
			reconciler := op.newReconciler(k8sClient, k8sClient)

			Expect(reconciler.Namespace).To(Equal("team-a"))
			Expect(reconciler.UpdateInterval).To(Equal(250 * time.Millisecond))
			Expect(reconciler.ReadOnlyMode).To(BeTrue())
			Expect(reconciler.MetricsCollector).To(BeIdenticalTo(op.metricsCollector))
			Expect(reconciler.HealthRecorder).To(BeIdenticalTo(op.healthChecker))
			Expect(reconciler.RateLimiter).To(BeIdenticalTo(op.rateLimiter))
		})

		It("should label pods and mark the operator ready after a pass", func() {
			op = newTestOperator()

			service := &corev1.Service{
				ObjectMeta: metav1.ObjectMeta{Name: "web", Namespace: "team-a", Labels: map[string]string{"failoverLabel": "status"}},
				Spec:       corev1.ServiceSpec{Selector: map[string]string{"app": "web", "status": "active"}},
			}
			pod := &corev1.Pod{
				ObjectMeta: metav1.ObjectMeta{Name: "web-1", Namespace: "team-a", Labels: map[string]string{"app": "web"}},
				Status: corev1.PodStatus{
					ContainerStatuses: []corev1.ContainerStatus{{Name: "app", Started: ptr.To(true), Ready: true}},
				},
			}
			k8sClient := fake.NewClientBuilder().WithObjects(service, pod).Build()
			reconciler := op.newReconciler(k8sClient, k8sClient)

			ctx := context.Background()
			result, err := reconciler.RunTick(ctx)
			Expect(err).NotTo(HaveOccurred())
			Expect(result.Patches).To(Equal(1))

			updated := &corev1.Pod{}
			Expect(k8sClient.Get(ctx, types.NamespacedName{Namespace: "team-a", Name: "web-1"}, updated)).To(Succeed())
			Expect(updated.Labels).To(HaveKeyWithValue("status", "active"))

			Expect(op.IsReady()).To(BeFalse())
			op.started.Store(true)
			Expect(op.IsReady()).To(BeTrue())
		})
	})

	Describe("Start", func() {
		It("should refuse to start twice", func() {
			op = newTestOperator()
			op.started.Store(true)
			Expect(op.Start(context.Background())).To(MatchError(ContainSubstring("already started")))
		})

		It("should not start without permission to list pods", func() {
			clientset.PrependReactor("list", "pods", func(k8stesting.Action) (bool, runtime.Object, error) {
				return true, nil, errors.New("pods is forbidden")
			})
			op = newTestOperator()

			err := op.Start(context.Background())
			Expect(err).To(MatchError(ContainSubstring("preflight check failed")))
			Expect(err).To(MatchError(ContainSubstring("missing permission to list pods in team-a")))
		})
	})

	Describe("preflight", func() {
		It("should pass with access to the namespace and read the cluster version", func() {
			op = newTestOperator()
			op.clients = &KubernetesClientManager{
				config:     DefaultKubernetesConfig(),
				restConfig: &rest.Config{Host: "https://10.0.0.1"},
				kubeClient: clientset,
			}

			Expect(op.preflight(context.Background())).To(Succeed())
			Expect(clientset.Actions()).To(ContainElement(Satisfy(func(a k8stesting.Action) bool {
				return a.GetVerb() == "get" && a.GetResource().Resource == "version"
			})))
		})

		It("should tolerate an unreadable cluster version", func() {
			clientset.PrependReactor("get", "version", func(k8stesting.Action) (bool, runtime.Object, error) {
				return true, nil, errors.New("discovery unavailable")
			})
			op = newTestOperator()
			op.clients = &KubernetesClientManager{restConfig: &rest.Config{}, kubeClient: clientset}

			Expect(op.preflight(context.Background())).To(Succeed())
		})
	})

	Describe("NewOperator", func() {
		It("should require kubernetes clients", func() {
			_, err := NewOperator(cfg, nil)
			Expect(err).To(MatchError(ContainSubstring("kubernetes clients are required")))
		})

		It("should register the poll loop on a manager scoped to the namespace", func() {
			cfg.Operator.Namespace = "team-b"
			clients, err := NewKubernetesClientManagerForConfig(&rest.Config{Host: "https://127.0.0.1:6443"}, nil)
			Expect(err).NotTo(HaveOccurred())

			op, err := NewOperator(cfg, clients)
			Expect(err).NotTo(HaveOccurred())

			Expect(op.GetNamespace()).To(Equal("team-b"))
			Expect(op.GetConfig()).To(BeIdenticalTo(cfg))
			Expect(op.GetReconciler()).NotTo(BeNil())
			Expect(op.GetReconciler().Reader).To(BeIdenticalTo(op.GetAPIReader()))
			Expect(op.GetHealthChecker()).NotTo(BeNil())
			Expect(op.GetMetricsServer()).NotTo(BeNil())
			Expect(op.IsReady()).To(BeFalse())
		})
	})
})

var _ = Describe("httpServer", func() {
	It("should stop serving when the context is cancelled", func() {
		srv := newHTTPServer("127.0.0.1:0", http.NotFoundHandler())
		ctx, cancel := context.WithCancel(context.Background())

		done := make(chan error, 1)
		go func() { done <- srv.Start(ctx) }()

		Consistently(done, 100*time.Millisecond).ShouldNot(Receive())
		cancel()
		Eventually(done, 5*time.Second).Should(Receive(BeNil()))
	})

	It("should fail on an unusable address", func() {
		srv := newHTTPServer("127.0.0.1:99999", http.NotFoundHandler())
		Expect(srv.Start(context.Background())).To(MatchError(ContainSubstring("127.0.0.1:99999")))
	})

	It("should not need leader election", func() {
		Expect(newHTTPServer(":0", http.NotFoundHandler()).NeedLeaderElection()).To(BeFalse())
	})
})
