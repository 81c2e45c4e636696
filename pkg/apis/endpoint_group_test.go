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

package apis

import (
	"errors"
	"strconv"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	corev1 "k8s.io/api/core/v1"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/utils/ptr"
)

func pod(name string) *corev1.Pod {
	return &corev1.Pod{ObjectMeta: metav1.ObjectMeta{Name: name, Namespace: "default"}}
}

var _ = Describe("EndpointGroupKey", func() {
	It("should render kind and value", func() {
		Expect(GroupKey("blue").String()).To(Equal("group/blue"))
		Expect(TemplateHashKey("5d8f").String()).To(Equal("template-hash/5d8f"))
		Expect(PodNameKey("web-0").String()).To(Equal("name/web-0"))
	})

	It("should keep keys of different kinds apart", func() {
		Expect(GroupKey("abc")).NotTo(Equal(TemplateHashKey("abc")))
		Expect(GroupKey("abc")).NotTo(Equal(PodNameKey("abc")))
		Expect(GroupKey("abc")).To(Equal(GroupKey("abc")))
	})
})

var _ = Describe("EndpointGroup", func() {
	It("should take the first member's settings", func() {
		group := NewEndpointGroup(GroupKey("blue"), DefaultPriority, DefaultMinReplicas)
		group.AddMember(pod("a"), 3, 4)

		Expect(group.Priority).To(Equal(int32(3)))
		Expect(group.MinReplicas).To(Equal(int32(4)))
		Expect(group.Size()).To(Equal(1))
	})

	It("should aggregate priority as max and minReplicas as min", func() {
		group := NewEndpointGroup(GroupKey("blue"), DefaultPriority, DefaultMinReplicas)
		group.AddMember(pod("a"), 3, 4)
		group.AddMember(pod("b"), 7, 5)
		group.AddMember(pod("c"), 1, 2)

		Expect(group.Priority).To(Equal(int32(7)))
		Expect(group.MinReplicas).To(Equal(int32(2)))
		Expect(group.Members).To(HaveLen(3))
		Expect(group.Members[0].Name).To(Equal("a"))
		Expect(group.Members[2].Name).To(Equal("c"))
	})
})

var _ = Describe("EndpointGroups", func() {
	It("should preserve discovery order", func() {
		groups := NewEndpointGroups()
		for _, name := range []string{"green", "blue", "canary"} {
			groups.GetOrCreate(GroupKey(name)).AddMember(pod(name+"-0"), 0, 1)
		}
		groups.GetOrCreate(GroupKey("green")).AddMember(pod("green-1"), 0, 1)

		Expect(groups.Len()).To(Equal(3))
		Expect(groups.Keys()).To(Equal([]EndpointGroupKey{GroupKey("green"), GroupKey("blue"), GroupKey("canary")}))

		list := groups.List()
		Expect(list[0].Members).To(HaveLen(2))
		Expect(list[1].Key).To(Equal(GroupKey("blue")))
	})

	It("should return a copy of the keys", func() {
		groups := NewEndpointGroups()
		groups.GetOrCreate(GroupKey("blue"))

		keys := groups.Keys()
		keys[0] = GroupKey("tampered")
		Expect(groups.Keys()[0]).To(Equal(GroupKey("blue")))
	})

	It("should report missing groups", func() {
		groups := NewEndpointGroups()
		_, ok := groups.Get(GroupKey("blue"))
		Expect(ok).To(BeFalse())

		created := groups.GetOrCreate(GroupKey("blue"))
		found, ok := groups.Get(GroupKey("blue"))
		Expect(ok).To(BeTrue())
		Expect(found).To(BeIdenticalTo(created))
		Expect(found.Priority).To(Equal(DefaultPriority))
		Expect(found.MinReplicas).To(Equal(DefaultMinReplicas))
	})
})

var _ = Describe("FailoverDecision", func() {
	It("should have no active group by default", func() {
		decision := FailoverDecision{}
		Expect(decision.HasActive()).To(BeFalse())
		Expect(decision.IsActive(GroupKey("blue"))).To(BeFalse())
	})

	It("should report the active groups", func() {
		decision := FailoverDecision{
			ActivePriority: ptr.To[int32](5),
			ActiveGroups:   []EndpointGroupKey{GroupKey("blue"), TemplateHashKey("abc")},
		}
		Expect(decision.HasActive()).To(BeTrue())
		Expect(decision.IsActive(TemplateHashKey("abc"))).To(BeTrue())
		Expect(decision.IsActive(GroupKey("abc"))).To(BeFalse())
	})
})

var _ = Describe("Errors", func() {
	It("should describe a configuration error", func() {
		err := &ConfigurationError{Namespace: "default", Service: "web", Reason: "selector has no status entry"}
		Expect(err.Error()).To(Equal("service default/web cannot be used for priority-based failover: selector has no status entry"))
	})

	It("should unwrap a label parse error", func() {
		_, cause := strconv.Atoi("high")
		var err error = &LabelParseError{Pod: "web-0", Label: "failoverPriority", Value: "high", Err: cause}

		Expect(err.Error()).To(ContainSubstring(`invalid failoverPriority label "high" on pod web-0`))
		Expect(errors.Is(err, strconv.ErrSyntax)).To(BeTrue())

		var parseErr *LabelParseError
		Expect(errors.As(err, &parseErr)).To(BeTrue())
		Expect(parseErr.Value).To(Equal("high"))
	})
})
