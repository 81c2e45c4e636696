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
	"fmt"
)

// ConfigurationError reports a Service whose failover wiring is incomplete.
// The Service is skipped for the current tick.
type ConfigurationError struct {
	Namespace string
	Service   string
	Reason    string
}

func (e *ConfigurationError) Error() string {
	return fmt.Sprintf("service %s/%s cannot be used for priority-based failover: %s", e.Namespace, e.Service, e.Reason)
}

// LabelParseError reports a malformed priority or min-replicas label on a pod.
// The offending field falls back to its default.
type LabelParseError struct {
	Pod   string
	Label string
	Value string
	Err   error
}

func (e *LabelParseError) Error() string {
	return fmt.Sprintf("invalid %s label %q on pod %s: %v", e.Label, e.Value, e.Pod, e.Err)
}

func (e *LabelParseError) Unwrap() error {
	return e.Err
}
