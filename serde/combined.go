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
	"errors"
	"sync"
	"time"

	"github.com/tgres/tgview/series"
)

const DefaultCombineBucket = time.Minute

// Combined serves the series of an instance as the max-combination of
// the series of all its metrics. Any other id is passed through to the
// underlying source.
type Combined struct {
	src    DataSource
	lister MetricLister
	bucket time.Duration
}

func NewCombined(src DataSource, lister MetricLister, bucket time.Duration) *Combined {
	if bucket <= 0 {
		bucket = DefaultCombineBucket
	}
	return &Combined{src: src, lister: lister, bucket: bucket}
}

func (c *Combined) FetchPoints(ctx context.Context, id string, from, to time.Time) ([]series.Point, error) {
	ids, err := c.lister.MetricIDs(ctx, id)
	if err != nil {
		return nil, err
	}
	if len(ids) == 0 {
		return c.src.FetchPoints(ctx, id, from, to)
	}

	var (
		wg   sync.WaitGroup
		lock sync.Mutex
		errs []error
	)
	lists := make([][]series.Point, len(ids))
	for i, metric := range ids {
		wg.Add(1)
		go func(i int, metric string) {
			defer wg.Done()
			points, err := c.src.FetchPoints(ctx, metric, from, to)
			if err != nil {
				lock.Lock()
				errs = append(errs, err)
				lock.Unlock()
				return
			}
			lists[i] = points
		}(i, metric)
	}
	wg.Wait()
	if len(errs) > 0 {
		return nil, errors.Join(errs...)
	}
	return series.Combine(c.bucket, lists...), nil
}

func (c *Combined) MetricIDs(ctx context.Context, instance string) ([]string, error) {
	return c.lister.MetricIDs(ctx, instance)
}
