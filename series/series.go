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

// Package series provides the in-memory time series held by a chart
// row, along with the value types used to describe time windows.
//
// A Series owns an ordered slice of Points and a DataWindow, the range
// for which data has been fetched. The DataWindow only ever grows
// (except on Reload). Points are replaced wholesale under a write lock
// after a successful merge, so readers never observe a partially
// merged state.
package series

import (
	"sort"
	"sync"
	"time"
)

// Point is a single data point. Anomaly is in [0, 1].
type Point struct {
	T       time.Time
	Value   float64
	Anomaly float64
}

type Series struct {
	lock   sync.RWMutex
	id     string
	points []Point
	window TimeRange
	loaded bool
}

func New(id string) *Series {
	return &Series{id: id}
}

func (s *Series) ID() string {
	return s.id
}

// Loaded is false until the initial Reload.
func (s *Series) Loaded() bool {
	s.lock.RLock()
	defer s.lock.RUnlock()
	return s.loaded
}

func (s *Series) DataWindow() TimeRange {
	s.lock.RLock()
	defer s.lock.RUnlock()
	return s.window
}

func (s *Series) Len() int {
	s.lock.RLock()
	defer s.lock.RUnlock()
	return len(s.points)
}

// Points returns a copy of all points.
func (s *Series) Points() []Point {
	s.lock.RLock()
	defer s.lock.RUnlock()
	result := make([]Point, len(s.points))
	copy(result, s.points)
	return result
}

// Last returns the most recent point, ok is false if there are none.
func (s *Series) Last() (p Point, ok bool) {
	s.lock.RLock()
	defer s.lock.RUnlock()
	if len(s.points) == 0 {
		return Point{}, false
	}
	return s.points[len(s.points)-1], true
}

// Slice returns a copy of the points within r, ends included.
func (s *Series) Slice(r TimeRange) []Point {
	s.lock.RLock()
	defer s.lock.RUnlock()
	from := sort.Search(len(s.points), func(i int) bool {
		return !s.points[i].T.Before(r.Start)
	})
	to := sort.Search(len(s.points), func(i int) bool {
		return s.points[i].T.After(r.End)
	})
	if from >= to {
		return nil
	}
	result := make([]Point, to-from)
	copy(result, s.points[from:to])
	return result
}

// Reload replaces all data and the DataWindow. This is the only way the
// DataWindow can shrink.
func (s *Series) Reload(points []Point, window TimeRange) error {
	if _, err := window.Width(); err != nil {
		return err
	}
	if err := checkOrder(points); err != nil {
		return err
	}
	s.lock.Lock()
	defer s.lock.Unlock()
	s.points = points
	s.window = window
	s.loaded = true
	return nil
}

// Prepend merges older data in front of the existing points, existing
// points win on overlap. The DataWindow start moves only as far as the
// earliest point actually returned; an empty fetch leaves it alone. On
// error the series is unchanged.
func (s *Series) Prepend(points []Point) error {
	s.lock.Lock()
	defer s.lock.Unlock()
	merged, err := Merge(points, s.points)
	if err != nil {
		return err
	}
	s.points = merged
	if len(points) > 0 && points[0].T.Before(s.window.Start) {
		s.window.Start = points[0].T
	}
	return nil
}

// Append merges newer data after the existing points, fetched points
// win on overlap. The DataWindow end becomes through, the end of the
// range that was requested, provided it is later than the current end.
func (s *Series) Append(points []Point, through time.Time) error {
	s.lock.Lock()
	defer s.lock.Unlock()
	merged, err := Merge(s.points, points)
	if err != nil {
		return err
	}
	s.points = merged
	if n := len(points); n > 0 && points[n-1].T.After(through) {
		through = points[n-1].T
	}
	if through.After(s.window.End) {
		s.window.End = through
	}
	return nil
}
