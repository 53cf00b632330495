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

package serde

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/tgres/tgview/series"
)

type memSource struct {
	*sync.RWMutex
	points    map[string][]series.Point
	instances map[string][]string
}

// Returns a data source which keeps everything in memory.
func NewMemSource() *memSource {
	return &memSource{
		RWMutex:   &sync.RWMutex{},
		points:    make(map[string][]series.Point),
		instances: make(map[string][]string),
	}
}

// Insert adds points to the series id. A point at a time which is
// already present replaces it.
func (m *memSource) Insert(id string, points ...series.Point) {
	m.Lock()
	defer m.Unlock()
	byTime := make(map[int64]series.Point, len(m.points[id])+len(points))
	for _, p := range m.points[id] {
		byTime[p.T.UnixNano()] = p
	}
	for _, p := range points {
		byTime[p.T.UnixNano()] = p
	}
	result := make([]series.Point, 0, len(byTime))
	for _, p := range byTime {
		result = append(result, p)
	}
	sort.Slice(result, func(i, j int) bool { return result[i].T.Before(result[j].T) })
	m.points[id] = result
}

// AddInstance declares metricIDs as belonging to instance.
func (m *memSource) AddInstance(instance string, metricIDs ...string) error {
	if instance == "" {
		return fmt.Errorf("AddInstance(): empty instance name")
	}
	m.Lock()
	defer m.Unlock()
	m.instances[instance] = append(m.instances[instance], metricIDs...)
	return nil
}

func (m *memSource) FetchPoints(ctx context.Context, id string, from, to time.Time) ([]series.Point, error) {
	m.RLock()
	defer m.RUnlock()
	points := m.points[id]
	i := sort.Search(len(points), func(i int) bool { return !points[i].T.Before(from) })
	j := sort.Search(len(points), func(i int) bool { return points[i].T.After(to) })
	if i >= j {
		return nil, nil
	}
	result := make([]series.Point, j-i)
	copy(result, points[i:j])
	return result, nil
}

func (m *memSource) MetricIDs(ctx context.Context, instance string) ([]string, error) {
	m.RLock()
	defer m.RUnlock()
	return append([]string(nil), m.instances[instance]...), nil
}

// Instances returns the names of all instances, sorted.
func (m *memSource) Instances() []string {
	m.RLock()
	defer m.RUnlock()
	result := make([]string, 0, len(m.instances))
	for name := range m.instances {
		result = append(result, name)
	}
	sort.Strings(result)
	return result
}
