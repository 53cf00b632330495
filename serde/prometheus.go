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
	"log"
	"math"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/api"
	v1 "github.com/prometheus/client_golang/api/prometheus/v1"
	"github.com/prometheus/common/model"
	"github.com/tgres/tgview/series"
)

// DefaultPromStep is the query resolution used when none is given.
const DefaultPromStep = 5 * time.Minute

// Prometheus refuses range queries resolving to more points than this.
const maxPromPoints = 11000

type promSource struct {
	api  v1.API
	step time.Duration
}

// NewPromSource returns a data source which runs range queries against
// the Prometheus server at address. A series id is a PromQL expression;
// if it yields several series they are combined by taking the maximum
// at each step.
func NewPromSource(address string, step time.Duration) (*promSource, error) {
	client, err := api.NewClient(api.Config{
		Address: address,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create prometheus client: %w", err)
	}
	if step <= 0 {
		step = DefaultPromStep
	}
	return &promSource{api: v1.NewAPI(client), step: step}, nil
}

// rangeStep is the configured step, coarsened for long ranges so that
// the query stays under maxPromPoints. It is always a whole second.
func (p *promSource) rangeStep(from, to time.Time) time.Duration {
	step := p.step
	if least := (to.Sub(from) + maxPromPoints - 1) / maxPromPoints; least > step {
		step = least
	}
	if rem := step % time.Second; rem != 0 {
		step += time.Second - rem
	}
	return step
}

func (p *promSource) FetchPoints(ctx context.Context, id string, from, to time.Time) ([]series.Point, error) {
	step := p.rangeStep(from, to)
	result, warnings, err := p.api.QueryRange(ctx, id, v1.Range{Start: from, End: to, Step: step})
	if err != nil {
		return nil, fmt.Errorf("prometheus range query failed: %w", err)
	}
	if len(warnings) > 0 {
		log.Printf("FetchPoints(): prometheus warnings: %v", warnings)
	}
	matrix, ok := result.(model.Matrix)
	if !ok {
		return nil, fmt.Errorf("prometheus range query returned %s, expected matrix", result.Type())
	}

	lists := make([][]series.Point, 0, len(matrix))
	for _, stream := range matrix {
		points := make([]series.Point, 0, len(stream.Values))
		for _, pair := range stream.Values {
			points = append(points, series.Point{T: pair.Timestamp.Time().UTC(), Value: float64(pair.Value)})
		}
		lists = append(lists, points)
	}
	switch len(lists) {
	case 0:
		return nil, nil
	case 1:
		return lists[0], nil
	}
	return series.Combine(step, lists...), nil
}

// MetricIDs returns one PromQL selector per metric name exported by
// the target whose instance label is instance.
func (p *promSource) MetricIDs(ctx context.Context, instance string) ([]string, error) {
	selector := "{instance=" + strconv.Quote(instance) + "}"
	result, warnings, err := p.api.Query(ctx, "count by (__name__) ("+selector+")", time.Now())
	if err != nil {
		return nil, fmt.Errorf("prometheus metric list query failed: %w", err)
	}
	if len(warnings) > 0 {
		log.Printf("MetricIDs(): prometheus warnings: %v", warnings)
	}
	vector, ok := result.(model.Vector)
	if !ok {
		return nil, fmt.Errorf("prometheus metric list query returned %s, expected vector", result.Type())
	}
	var ids []string
	for _, sample := range vector {
		name := string(sample.Metric[model.MetricNameLabel])
		if name == "" || math.IsNaN(float64(sample.Value)) {
			continue
		}
		ids = append(ids, name+selector)
	}
	return ids, nil
}
