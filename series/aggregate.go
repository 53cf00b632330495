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

package series

import (
	"math"
	"sort"
	"time"
)

// Combine max-aggregates several ordered point lists into one, bucketed
// by width. This is how the "combined" series of a monitored instance
// is derived from its metrics: for each bucket the resulting point
// carries the largest value and the largest anomaly score seen in that
// bucket across all lists. Bucket timestamps are aligned to the Unix
// epoch so that lists fetched separately line up. Unknown (NaN) values
// never win over known ones, whatever the order of the lists.
func Combine(width time.Duration, lists ...[]Point) []Point {
	buckets := make(map[int64]*Point)
	for _, list := range lists {
		for _, p := range list {
			key := bucketStart(p.T, width)
			if b, ok := buckets[key]; ok {
				b.Value = maxKnown(b.Value, p.Value)
				b.Anomaly = maxKnown(b.Anomaly, p.Anomaly)
			} else {
				buckets[key] = &Point{T: time.Unix(0, key), Value: p.Value, Anomaly: p.Anomaly}
			}
		}
	}
	result := make([]Point, 0, len(buckets))
	for _, b := range buckets {
		result = append(result, *b)
	}
	sort.Slice(result, func(i, j int) bool { return result[i].T.Before(result[j].T) })
	return result
}

func maxKnown(a, b float64) float64 {
	if math.IsNaN(a) || b > a {
		return b
	}
	return a
}

// Bucketize turns one series into bars of the given width.
func Bucketize(points []Point, width time.Duration) []Point {
	return Combine(width, points)
}

func bucketStart(t time.Time, width time.Duration) int64 {
	ns := t.UnixNano()
	if width <= 0 {
		return ns
	}
	w := width.Nanoseconds()
	b := ns / w * w
	if ns < 0 && b != ns {
		b -= w
	}
	return b
}
