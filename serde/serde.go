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

// Package serde contains the data sources from which chart series are
// fetched. A data source is asked for the points of one series within
// a time range; it may return fewer points than the range could hold
// (sparse data is valid) and must return them in increasing time order.
package serde

import (
	"context"
	"time"

	"github.com/tgres/tgview/series"
)

type DataSource interface {
	// FetchPoints returns the points of the series within [from, to],
	// ordered by time. Fetches are idempotent and side-effect free.
	FetchPoints(ctx context.Context, id string, from, to time.Time) ([]series.Point, error)
}

// MetricLister is implemented by sources that know which metrics belong
// to a monitored instance. An id which is not an instance yields an
// empty list and no error.
type MetricLister interface {
	MetricIDs(ctx context.Context, instance string) ([]string, error)
}

// DataSourceFunc adapts a function to the DataSource interface.
type DataSourceFunc func(ctx context.Context, id string, from, to time.Time) ([]series.Point, error)

func (f DataSourceFunc) FetchPoints(ctx context.Context, id string, from, to time.Time) ([]series.Point, error) {
	return f(ctx, id, from, to)
}
