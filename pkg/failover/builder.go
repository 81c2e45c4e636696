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

package failover

import (
	"github.com/ahoma/failover-controller/internal/podlabels"
	"github.com/ahoma/failover-controller/pkg/apis"
	"github.com/go-logr/logr"
	corev1 "k8s.io/api/core/v1"
)

// Builder groups matching pods into endpoint groups
type Builder struct {
	parser *podlabels.LabelParser
	logger logr.Logger
}

// NewBuilder creates a Builder
func NewBuilder(parser *podlabels.LabelParser, logger logr.Logger) *Builder {
	if parser == nil {
		parser = podlabels.NewLabelParser()
	}
	return &Builder{parser: parser, logger: logger}
}

// Build groups the pods matching the discovery selector. Malformed priority or
// min-replicas labels are logged, returned, and replaced by their defaults for
// that pod only; they never stop the build.
func (b *Builder) Build(pods []corev1.Pod, matcher *Matcher) (*apis.EndpointGroups, []error) {
	groups := apis.NewEndpointGroups()
	var labelErrors []error

	for i := range pods {
		pod := &pods[i]
		if !matcher.Matches(pod.Labels) {
			continue
		}

		priority, err := b.parser.ParsePriority(pod)
		if err != nil {
			b.logger.Error(err, "Invalid failover priority label, expected a non-negative integer",
				"pod", pod.Name, "default", apis.DefaultPriority)
			labelErrors = append(labelErrors, err)
		}

		minReplicas, err := b.parser.ParseMinReplicas(pod)
		if err != nil {
			b.logger.Error(err, "Invalid failover min-replicas label, expected an integer of at least 1",
				"pod", pod.Name, "default", apis.DefaultMinReplicas)
			labelErrors = append(labelErrors, err)
		}

		key := b.parser.EndpointKey(pod)
		groups.GetOrCreate(key).AddMember(pod, priority, minReplicas)
	}

	return groups, labelErrors
}
