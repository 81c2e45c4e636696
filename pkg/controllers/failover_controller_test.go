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

package controllers

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/ahoma/failover-controller/pkg/apis"
	pkgconfig "github.com/ahoma/failover-controller/pkg/config"
	"github.com/ahoma/failover-controller/pkg/metrics"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	corev1 "k8s.io/api/core/v1"
	apierrors "k8s.io/apimachinery/pkg/api/errors"
	"k8s.io/apimachinery/pkg/runtime/schema"
	"k8s.io/apimachinery/pkg/types"
	"sigs.k8s.io/controller-runtime/pkg/client"
	"sigs.k8s.io/controller-runtime/pkg/client/fake"
	"sigs.k8s.io/controller-runtime/pkg/client/interceptor"
)

var _ = Describe("FailoverReconciler", func() {
	var (
		ctx        context.Context
		cfg        *pkgconfig.FailoverConfig
		recorder   *fakeRecorder
		objects    []client.Object
		funcs      interceptor.Funcs
		k8sClient  client.Client
		reconciler *FailoverReconciler
	)

	webLabels := func(group, priority, minReplicas string) map[string]string {
		labels := map[string]string{"app": "web", "failoverGroup": group, "failoverPriority": priority}
		if minReplicas != "" {
			labels["failoverMinReplicas"] = minReplicas
		}
		return labels
	}

	build := func() {
		k8sClient = fake.NewClientBuilder().
			WithObjects(objects...).
			WithInterceptorFuncs(funcs).
			Build()
		reconciler = NewFailoverReconciler(k8sClient, k8sClient, cfg, "default")
		reconciler.SetMetricsCollector(recorder)
		reconciler.SetHealthRecorder(fakeHealth{recorder: recorder})
	}

	podLabels := func(name string) map[string]string {
		pod := &corev1.Pod{}
		Expect(k8sClient.Get(ctx, types.NamespacedName{Namespace: "default", Name: name}, pod)).To(Succeed())
		return pod.Labels
	}

	setReady := func(name string, ready bool) {
		pod := &corev1.Pod{}
		Expect(k8sClient.Get(ctx, types.NamespacedName{Namespace: "default", Name: name}, pod)).To(Succeed())
		pod.Status.ContainerStatuses[0].Ready = ready
		Expect(k8sClient.Status().Update(ctx, pod)).To(Succeed())
	}

	BeforeEach(func() {
		ctx = context.Background()
		cfg = pkgconfig.DefaultConfig()
		recorder = newFakeRecorder()
		funcs = interceptor.Funcs{}
		objects = []client.Object{
			newService("web", map[string]string{"failoverLabel": "status"}, map[string]string{"app": "web", "status": "active"}),
			newService("plain", nil, map[string]string{"app": "web"}),
			newPod("blue-1", webLabels("blue", "10", "2"), true),
			newPod("blue-2", webLabels("blue", "10", "2"), true),
			newPod("green-1", webLabels("green", "5", ""), true),
			newPod("api-1", map[string]string{"app": "api"}, true),
		}
	})

	Describe("NewFailoverReconciler", func() {
		It("should take its settings from the configuration", func() {
			cfg.Controller.UpdateInterval = 2 * time.Second
			cfg.Operator.ReadOnlyMode = true
			cfg.Labels.Priority = "example.com/priority"
			build()

			Expect(reconciler.UpdateInterval).To(Equal(2 * time.Second))
			Expect(reconciler.ReadOnlyMode).To(BeTrue())
			Expect(reconciler.Namespace).To(Equal("default"))
			Expect(reconciler.Parser.Keys().Priority).To(Equal("example.com/priority"))
			Expect(reconciler.NeedLeaderElection()).To(BeFalse())
		})
	})

	Describe("RunTick", func() {
		It("should label the highest-priority allowed group", func() {
			build()

			result, err := reconciler.RunTick(ctx)
			Expect(err).NotTo(HaveOccurred())
			Expect(result).To(Equal(TickResult{Services: 1, Patches: 2}))

			Expect(podLabels("blue-1")).To(HaveKeyWithValue("status", "active"))
			Expect(podLabels("blue-2")).To(HaveKeyWithValue("status", "active"))
			Expect(podLabels("green-1")).NotTo(HaveKey("status"))
			Expect(podLabels("api-1")).NotTo(HaveKey("status"))

			state := recorder.snapshot()
			Expect(state.ticks).To(Equal(1))
			Expect(state.healthTicks).To(Equal(1))
			Expect(state.patches).To(HaveLen(2))
			Expect(state.patches[0].result).To(Equal(metrics.PatchResultSuccess))
			Expect(*state.decisions[types.NamespacedName{Namespace: "default", Name: "web"}].ActivePriority).To(Equal(int32(10)))
		})

		It("should preserve unrelated labels", func() {
			build()

			_, err := reconciler.RunTick(ctx)
			Expect(err).NotTo(HaveOccurred())
			Expect(podLabels("blue-1")).To(Equal(map[string]string{
				"app": "web", "failoverGroup": "blue", "failoverPriority": "10", "failoverMinReplicas": "2", "status": "active",
			}))
		})

		It("should be idempotent", func() {
			build()

			_, err := reconciler.RunTick(ctx)
			Expect(err).NotTo(HaveOccurred())

			result, err := reconciler.RunTick(ctx)
			Expect(err).NotTo(HaveOccurred())
			Expect(result.Patches).To(BeZero())
		})

		It("should fail over and back as readiness changes", func() {
			build()

			_, err := reconciler.RunTick(ctx)
			Expect(err).NotTo(HaveOccurred())

			setReady("blue-2", false)
			result, err := reconciler.RunTick(ctx)
			Expect(err).NotTo(HaveOccurred())
			Expect(result.Patches).To(Equal(3))
			Expect(podLabels("blue-1")).NotTo(HaveKey("status"))
			Expect(podLabels("blue-2")).NotTo(HaveKey("status"))
			Expect(podLabels("green-1")).To(HaveKeyWithValue("status", "active"))

			setReady("blue-2", true)
			_, err = reconciler.RunTick(ctx)
			Expect(err).NotTo(HaveOccurred())
			Expect(podLabels("blue-1")).To(HaveKeyWithValue("status", "active"))
			Expect(podLabels("green-1")).NotTo(HaveKey("status"))
		})

		It("should skip a Service whose selector lacks the failover label", func() {
			objects[0] = newService("web", map[string]string{"failoverLabel": "status"}, map[string]string{"app": "web"})
			build()

			result, err := reconciler.RunTick(ctx)
			Expect(err).NotTo(HaveOccurred())
			Expect(result).To(Equal(TickResult{Skipped: 1}))
			Expect(podLabels("blue-1")).NotTo(HaveKey("status"))
			Expect(recorder.snapshot().configErrors).To(Equal(1))
		})

		It("should skip a Service whose failover label is empty", func() {
			objects[0] = newService("web", map[string]string{"failoverLabel": ""}, map[string]string{"app": "web", "status": "active"})
			build()

			result, err := reconciler.RunTick(ctx)
			Expect(err).NotTo(HaveOccurred())
			Expect(result.Skipped).To(Equal(1))
		})

		It("should only log intents in read-only mode", func() {
			cfg.Operator.ReadOnlyMode = true
			build()

			result, err := reconciler.RunTick(ctx)
			Expect(err).NotTo(HaveOccurred())
			Expect(result.Patches).To(Equal(2))
			Expect(podLabels("blue-1")).NotTo(HaveKey("status"))

			for _, p := range recorder.snapshot().patches {
				Expect(p.result).To(Equal(metrics.PatchResultSkipped))
			}
		})

		It("should keep going when a patch fails", func() {
			funcs.Patch = func(ctx context.Context, c client.WithWatch, obj client.Object, patch client.Patch, opts ...client.PatchOption) error {
				if obj.GetName() == "blue-1" {
					return errors.New("connection reset")
				}
				return c.Patch(ctx, obj, patch, opts...)
			}
			build()

			result, err := reconciler.RunTick(ctx)
			Expect(err).NotTo(HaveOccurred())
			Expect(result.Patches).To(Equal(1))
			Expect(result.FailedPatches).To(Equal(1))
			Expect(podLabels("blue-2")).To(HaveKeyWithValue("status", "active"))
			Expect(podLabels("blue-1")).NotTo(HaveKey("status"))
		})

		It("should treat a vanished pod as done", func() {
			funcs.Patch = func(ctx context.Context, c client.WithWatch, obj client.Object, patch client.Patch, opts ...client.PatchOption) error {
				return apierrors.NewNotFound(schema.GroupResource{Resource: "pods"}, obj.GetName())
			}
			build()

			result, err := reconciler.RunTick(ctx)
			Expect(err).NotTo(HaveOccurred())
			Expect(result.FailedPatches).To(BeZero())
			for _, p := range recorder.snapshot().patches {
				Expect(p.result).To(Equal(metrics.PatchResultNotFound))
			}
		})

		It("should report list failures without patching", func() {
			failing := true
			funcs.List = func(ctx context.Context, c client.WithWatch, list client.ObjectList, opts ...client.ListOption) error {
				if _, ok := list.(*corev1.PodList); ok && failing {
					return errors.New("apiserver unavailable")
				}
				return c.List(ctx, list, opts...)
			}
			build()

			_, err := reconciler.RunTick(ctx)
			Expect(err).To(MatchError(ContainSubstring("failed to list pods")))
			Expect(reconciler.GetErrorCount()).To(Equal(int64(1)))
			Expect(reconciler.GetLastError()).To(HaveOccurred())

			state := recorder.snapshot()
			Expect(state.tickErrors).To(Equal(1))
			Expect(state.healthTicks).To(BeZero())
			Expect(state.apiErrors).To(Equal([]string{"pods"}))
			Expect(state.notReady).To(ContainSubstring("apiserver unavailable"))

			failing = false
			_, err = reconciler.RunTick(ctx)
			Expect(err).NotTo(HaveOccurred())

			state = recorder.snapshot()
			Expect(state.notReady).To(BeEmpty())
			Expect(state.healthTicks).To(Equal(1))
		})

		It("should throttle patches through the rate limiter", func() {
			build()
			limiter := &countingLimiter{}
			reconciler.SetRateLimiter(limiter)

			_, err := reconciler.RunTick(ctx)
			Expect(err).NotTo(HaveOccurred())
			Expect(limiter.waits).To(Equal(2))
		})

		It("should count malformed labels", func() {
			objects = append(objects, newPod("bad", map[string]string{"app": "web", "failoverPriority": "high"}, false))
			build()

			_, err := reconciler.RunTick(ctx)
			Expect(err).NotTo(HaveOccurred())
			Expect(recorder.snapshot().parseErrors).To(Equal(1))
		})

		It("should forget Services that are no longer managed", func() {
			build()
			_, err := reconciler.RunTick(ctx)
			Expect(err).NotTo(HaveOccurred())

			svc := &corev1.Service{}
			Expect(k8sClient.Get(ctx, types.NamespacedName{Namespace: "default", Name: "web"}, svc)).To(Succeed())
			Expect(k8sClient.Delete(ctx, svc)).To(Succeed())

			_, err = reconciler.RunTick(ctx)
			Expect(err).NotTo(HaveOccurred())
			Expect(recorder.snapshot().forgotten).To(Equal([]types.NamespacedName{{Namespace: "default", Name: "web"}}))
		})
	})

	Describe("Start", func() {
		It("should poll until the context is cancelled", func() {
			cfg.Controller.UpdateInterval = 10 * time.Millisecond
			build()

			runCtx, cancel := context.WithCancel(ctx)
			done := make(chan error)
			go func() { done <- reconciler.Start(runCtx) }()

			Eventually(func() int64 { return reconciler.GetTickCount() }).Should(BeNumerically(">=", 3))
			Expect(recorder.snapshot().unhealthy).To(BeEmpty())
			cancel()
			Eventually(done).Should(Receive(BeNil()))

			state := recorder.snapshot()
			Expect(state.missed).To(BeZero())
			Expect(state.unhealthy).To(Equal("failover poll loop stopped"))
		})

		It("should record passes that overrun the interval", func() {
			cfg.Controller.UpdateInterval = 5 * time.Millisecond
			funcs.List = func(ctx context.Context, c client.WithWatch, list client.ObjectList, opts ...client.ListOption) error {
				time.Sleep(10 * time.Millisecond)
				return c.List(ctx, list, opts...)
			}
			build()

			runCtx, cancel := context.WithCancel(ctx)
			defer cancel()
			done := make(chan error)
			go func() { done <- reconciler.Start(runCtx) }()

			Eventually(func() int { return recorder.snapshot().missed }).Should(BeNumerically(">=", 1))
			cancel()
			Eventually(done).Should(Receive(BeNil()))
		})
	})
})

var _ = Describe("BuildLabelPatch", func() {
	decode := func(data []byte) []map[string]interface{} {
		var ops []map[string]interface{}
		Expect(json.Unmarshal(data, &ops)).To(Succeed())
		return ops
	}

	It("should add a missing label", func() {
		data, err := BuildLabelPatch(map[string]string{"app": "web"}, map[string]string{"app": "web", "status": "active"})
		Expect(err).NotTo(HaveOccurred())
		Expect(decode(data)).To(ConsistOf(map[string]interface{}{
			"op": "add", "path": "/metadata/labels/status", "value": "active",
		}))
	})

	It("should replace a label with a different value", func() {
		data, err := BuildLabelPatch(map[string]string{"status": "standby"}, map[string]string{"status": "active"})
		Expect(err).NotTo(HaveOccurred())
		Expect(decode(data)).To(ConsistOf(map[string]interface{}{
			"op": "replace", "path": "/metadata/labels/status", "value": "active",
		}))
	})

	It("should remove a cleared label", func() {
		data, err := BuildLabelPatch(map[string]string{"app": "web", "status": "active"}, map[string]string{"app": "web"})
		Expect(err).NotTo(HaveOccurred())
		Expect(decode(data)).To(ConsistOf(map[string]interface{}{
			"op": "remove", "path": "/metadata/labels/status",
		}))
	})

	It("should escape label keys containing a slash", func() {
		data, err := BuildLabelPatch(map[string]string{}, map[string]string{"example.com/status": "active"})
		Expect(err).NotTo(HaveOccurred())
		Expect(decode(data)[0]["path"]).To(Equal("/metadata/labels/example.com~1status"))
	})
})

var _ = Describe("ControllerLogger", func() {
	It("should carry a short tick id and the Service", func() {
		logger := NewControllerLogger(context.Background(), ControllerName, "default")
		Expect(logger.Context.TickID).To(HaveLen(8))
		Expect(logger.Context.Namespace).To(Equal("default"))

		scoped := logger.WithService("web")
		Expect(scoped.Context.Service).To(Equal("web"))
		Expect(scoped.Context.TickID).To(Equal(logger.Context.TickID))
		Expect(logger.Context.Service).To(BeEmpty())

		Expect(func() {
			scoped.LabelAttached(types.NamespacedName{Name: "a"}, "status", "active", false)
			scoped.LabelRemoved(types.NamespacedName{Name: "a"}, "status", true)
			scoped.DecisionMade(nil, nil, 0)
			scoped.IntervalViolated(time.Second, time.Millisecond)
			scoped.PatchFailed(errors.New("boom"), types.NamespacedName{Name: "a"}, string(apis.PatchActionSet))
		}).NotTo(Panic())
	})
})
