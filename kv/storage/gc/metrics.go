// Copyright 2019 PingCAP, Inc.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// See the License for the specific language governing permissions and
// limitations under the License.

package gc

import "github.com/prometheus/client_golang/prometheus"

var (
	gcTxnCounter = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "tinymvcc",
			Subsystem: "gc",
			Name:      "txns_total",
			Help:      "Number of terminated transactions processed by garbage collection.",
		}, []string{"type"})

	gcDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "tinymvcc",
			Subsystem: "gc",
			Name:      "pass_duration_seconds",
			Help:      "Bucketed histogram of garbage collection pass duration.",
			Buckets:   prometheus.ExponentialBuckets(0.00001, 2, 20),
		})
)

func init() {
	prometheus.MustRegister(gcTxnCounter)
	prometheus.MustRegister(gcDuration)
}
