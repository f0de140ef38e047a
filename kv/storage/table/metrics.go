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

package table

import "github.com/prometheus/client_golang/prometheus"

var (
	writeConflictCounter = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "tinymvcc",
			Subsystem: "table",
			Name:      "write_conflicts_total",
			Help:      "Number of updates and deletes rejected because another writer owned the tuple.",
		})
)

func init() {
	prometheus.MustRegister(writeConflictCounter)
}
