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

package coordinator

import (
	"context"
	"fmt"
	"strings"

	"github.com/tgres/tgview/series"
)

// Widget is what the coordinator drives. A widget never modifies
// series data, it only redraws from what it is given.
type Widget interface {
	ID() string
	SetWindow(view series.TimeRange)
	SetData(points []series.Point, view series.TimeRange)
}

// Renderer is the sink for redraw instructions. Redraw is fire and
// forget; the coordinator does not wait for rendering to finish.
type Renderer interface {
	Redraw(rowID string, points []series.Point, view series.TimeRange)
}

// Remover may be implemented by a Renderer which wants to know when a
// row goes away.
type Remover interface {
	Remove(rowID string)
}

// Notifier receives errors meant for the user, e.g. a failed fetch.
type Notifier interface {
	Notify(err error)
}

type RowKind int

const (
	InstanceRow RowKind = iota
	MetricRow
	DetailRow
)

func (k RowKind) String() string {
	switch k {
	case InstanceRow:
		return "instance"
	case MetricRow:
		return "metric"
	case DetailRow:
		return "detail"
	}
	return fmt.Sprintf("RowKind(%d)", int(k))
}

func ParseRowKind(s string) (RowKind, error) {
	switch strings.ToLower(s) {
	case "instance", "":
		return InstanceRow, nil
	case "metric":
		return MetricRow, nil
	case "detail":
		return DetailRow, nil
	}
	return InstanceRow, fmt.Errorf("invalid row kind: %q", s)
}

// FormatFunc turns series points into what gets drawn.
type FormatFunc func(points []series.Point, g series.Granularity) []series.Point

// ClickFunc is the behavior of a row when it is clicked.
type ClickFunc func(ctx context.Context, c *Coordinator, r *Row) error

// Row is one chart row. All kinds share this type; what differs is the
// format and click strategy chosen by newRow.
type Row struct {
	kind     RowKind
	id       string
	parent   string
	series   *series.Series
	renderer Renderer
	format   FormatFunc
	click    ClickFunc

	// written only while holding the coordinator's reconciliation gate
	gran     series.Granularity
	expanded bool
}

var _ Widget = (*Row)(nil)

// DetailRowID is the id of the detail row opened for a metric row.
func DetailRowID(metricID string) string {
	return "detail:" + metricID
}

func newRow(kind RowKind, seriesID, parent string, renderer Renderer, g series.Granularity) *Row {
	r := &Row{
		kind:     kind,
		id:       seriesID,
		parent:   parent,
		series:   series.New(seriesID),
		renderer: renderer,
		gran:     g,
	}
	switch kind {
	case InstanceRow:
		r.format = bars
		r.click = toggleMetrics
	case MetricRow:
		r.format = bars
		r.click = toggleDetail
	case DetailRow:
		r.id = DetailRowID(seriesID)
		r.format = raw
	}
	return r
}

func (r *Row) ID() string             { return r.id }
func (r *Row) Kind() RowKind          { return r.kind }
func (r *Row) Parent() string         { return r.parent }
func (r *Row) Series() *series.Series { return r.series }

func (r *Row) SetWindow(view series.TimeRange) {
	r.redraw(r.series.Slice(view), view)
}

func (r *Row) SetData(points []series.Point, view series.TimeRange) {
	r.redraw(points, view)
}

func (r *Row) redraw(points []series.Point, view series.TimeRange) {
	if r.renderer == nil {
		return
	}
	r.renderer.Redraw(r.id, r.format(points, r.gran), view)
}

// Instance and metric rows show the maximum per bar.
func bars(points []series.Point, g series.Granularity) []series.Point {
	return series.Bucketize(points, g.BarWidth())
}

func raw(points []series.Point, _ series.Granularity) []series.Point {
	return points
}

func toggleMetrics(ctx context.Context, c *Coordinator, r *Row) error {
	if c.isExpanded(r) {
		c.collapse(r)
		return nil
	}
	return c.expand(ctx, r)
}

func toggleDetail(ctx context.Context, c *Coordinator, r *Row) error {
	if c.Row(DetailRowID(r.series.ID())) != nil {
		c.removeTree(DetailRowID(r.series.ID()))
		return nil
	}
	_, err := c.insertRows(ctx, r, DetailRow, []string{r.series.ID()})
	return err
}
