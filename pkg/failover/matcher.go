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
	"fmt"

	"k8s.io/apimachinery/pkg/labels"
	"k8s.io/apimachinery/pkg/selection"
)

// Wildcard as a selector value matches any value of a label that is present
const Wildcard = "*"

// Matcher decides whether pod labels satisfy a discovery selector. Every
// selector entry is checked; an empty selector matches nothing, since a
// Service selecting on its failover label alone has no candidate pool.
type Matcher struct {
	selector labels.Selector
	empty    bool
}

// NewMatcher compiles a selector map into a Matcher
func NewMatcher(selector map[string]string) (*Matcher, error) {
	if len(selector) == 0 {
		return &Matcher{selector: labels.Nothing(), empty: true}, nil
	}

	compiled := labels.NewSelector()
	for key, value := range selector {
		var (
			req *labels.Requirement
			err error
		)
		if value == Wildcard {
			req, err = labels.NewRequirement(key, selection.Exists, nil)
		} else {
			req, err = labels.NewRequirement(key, selection.Equals, []string{value})
		}
		if err != nil {
			return nil, fmt.Errorf("invalid selector entry %s=%s: %w", key, value, err)
		}
		compiled = compiled.Add(*req)
	}

	return &Matcher{selector: compiled}, nil
}

// Matches reports whether the labels satisfy every selector entry
func (m *Matcher) Matches(podLabels map[string]string) bool {
	if m.empty || podLabels == nil {
		return false
	}
	return m.selector.Matches(labels.Set(podLabels))
}

// String renders the compiled selector
func (m *Matcher) String() string {
	if m.empty {
		return "<none>"
	}
	return m.selector.String()
}

// Matches is a convenience wrapper compiling the selector on each call. An
// invalid selector matches nothing.
func Matches(podLabels, selector map[string]string) bool {
	m, err := NewMatcher(selector)
	if err != nil {
		return false
	}
	return m.Matches(podLabels)
}

// DiscoverySelector strips the failover label from a live Service selector so
// that inactive candidates are enumerated too.
func DiscoverySelector(live map[string]string, failoverLabel string) map[string]string {
	discovery := make(map[string]string, len(live))
	for k, v := range live {
		if k != failoverLabel {
			discovery[k] = v
		}
	}
	return discovery
}
