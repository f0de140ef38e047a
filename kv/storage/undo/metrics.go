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

package undo

import "github.com/prometheus/client_golang/prometheus"

var (
	segmentsInUse = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "tinymvcc",
			Subsystem: "undo",
			Name:      "segments_in_use",
			Help:      "Number of undo buffer segments checked out of the pool.",
		})

	poolExhaustedCounter = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "tinymvcc",
			Subsystem: "undo",
			Name:      "pool_exhausted_total",
			Help:      "Number of segment allocations refused because the pool was exhausted.",
		})
)

func init() {
	prometheus.MustRegister(segmentsInUse)
	prometheus.MustRegister(poolExhaustedCounter)
}
