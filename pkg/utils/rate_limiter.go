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

// Package utils provides shared helpers used by the failover controller.
package utils

import (
	"context"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// RateLimiterConfig contains configuration for rate limiting
type RateLimiterConfig struct {
	// QPS is the sustained rate. Zero disables limiting.
	QPS float64

	// Burst is the number of requests allowed back to back
	Burst int

	// EnableMetrics records wait statistics
	EnableMetrics bool
}

// DefaultRateLimiterConfig returns default rate limiter configuration
func DefaultRateLimiterConfig() *RateLimiterConfig {
	return &RateLimiterConfig{
		QPS:           20.0,
		Burst:         50,
		EnableMetrics: true,
	}
}

// RateLimiter throttles outgoing API writes
type RateLimiter struct {
	limiter *rate.Limiter
	metrics *RateLimiterMetrics
}

// NewRateLimiter creates a new rate limiter
func NewRateLimiter(config *RateLimiterConfig) *RateLimiter {
	if config == nil {
		config = DefaultRateLimiterConfig()
	}

	rl := &RateLimiter{
		limiter: rate.NewLimiter(limitFor(config.QPS), config.Burst),
	}

	if config.EnableMetrics {
		rl.metrics = NewRateLimiterMetrics()
	}

	return rl
}

func limitFor(qps float64) rate.Limit {
	if qps <= 0 {
		return rate.Inf
	}
	return rate.Limit(qps)
}

// Wait blocks until the limiter allows a request or ctx is done
func (rl *RateLimiter) Wait(ctx context.Context) error {
	start := time.Now()
	err := rl.limiter.Wait(ctx)

	if rl.metrics != nil {
		rl.metrics.RecordWait(time.Since(start), err == nil)
	}

	return err
}

// GetMetrics returns the current rate limiter metrics, nil when disabled
func (rl *RateLimiter) GetMetrics() *RateLimiterMetrics {
	return rl.metrics
}

// RateLimiterMetrics collects statistics for rate limiting
type RateLimiterMetrics struct {
	totalWaits    int64
	failedWaits   int64
	totalWaitTime time.Duration

	mutex sync.RWMutex
}

// NewRateLimiterMetrics creates empty rate limiter metrics
func NewRateLimiterMetrics() *RateLimiterMetrics {
	return &RateLimiterMetrics{}
}

// RecordWait records one Wait call
func (m *RateLimiterMetrics) RecordWait(duration time.Duration, success bool) {
	m.mutex.Lock()
	defer m.mutex.Unlock()

	m.totalWaits++
	m.totalWaitTime += duration
	if !success {
		m.failedWaits++
	}
}

// GetSummary returns the collected statistics
func (m *RateLimiterMetrics) GetSummary() map[string]interface{} {
	m.mutex.RLock()
	defer m.mutex.RUnlock()

	var averageWait time.Duration
	if m.totalWaits > 0 {
		averageWait = m.totalWaitTime / time.Duration(m.totalWaits)
	}

	return map[string]interface{}{
		"total_waits":     m.totalWaits,
		"failed_waits":    m.failedWaits,
		"total_wait_time": m.totalWaitTime,
		"average_wait":    averageWait,
	}
}
