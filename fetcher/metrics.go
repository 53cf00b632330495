//
// Copyright 2016 Gregory Trubetskoy. All Rights Reserved.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package fetcher

import "github.com/prometheus/client_golang/prometheus"

var (
	fetchTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "tgview",
		Subsystem: "fetcher",
		Name:      "fetches_total",
		Help:      "Data source fetches by trigger and result.",
	}, []string{"trigger", "result"})

	fetchDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "tgview",
		Subsystem: "fetcher",
		Name:      "fetch_duration_seconds",
		Help:      "Time spent waiting on the data source.",
		Buckets:   prometheus.DefBuckets,
	}, []string{"trigger"})

	fetchedPoints = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "tgview",
		Subsystem: "fetcher",
		Name:      "points_total",
		Help:      "Points returned by the data source.",
	})
)

func init() {
	prometheus.MustRegister(fetchTotal, fetchDuration, fetchedPoints)
}
