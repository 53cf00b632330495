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

// Package term shows the chart rows in a terminal, one sparkline per
// row, and turns key presses into gestures.
package term

import (
	"context"
	"fmt"
	"math"
	"sync"
	"time"

	ui "github.com/gizak/termui/v3"
	"github.com/gizak/termui/v3/widgets"
	"github.com/tgres/tgview/coordinator"
	"github.com/tgres/tgview/series"
)

type termRow struct {
	points []series.Point
	view   series.TimeRange
}

// Viewer is a coordinator Renderer, Remover and Notifier drawing to the
// terminal.
type Viewer struct {
	coord *coordinator.Coordinator

	lock     sync.Mutex
	rows     map[string]*termRow
	selected string
	status   string

	dirty chan struct{}
	// runs gestures, they may block on fetches
	do func(func())
}

func New() *Viewer {
	return &Viewer{
		rows:  make(map[string]*termRow),
		dirty: make(chan struct{}, 1),
		do:    func(f func()) { go f() },
	}
}

func (v *Viewer) Attach(c *coordinator.Coordinator) {
	v.coord = c
}

func (v *Viewer) changed() {
	select {
	case v.dirty <- struct{}{}:
	default:
	}
}

func (v *Viewer) Redraw(rowID string, points []series.Point, view series.TimeRange) {
	v.lock.Lock()
	v.rows[rowID] = &termRow{points: points, view: view}
	v.lock.Unlock()
	v.changed()
}

func (v *Viewer) Remove(rowID string) {
	v.lock.Lock()
	delete(v.rows, rowID)
	v.lock.Unlock()
	v.changed()
}

func (v *Viewer) Notify(err error) {
	v.lock.Lock()
	v.status = err.Error()
	v.lock.Unlock()
	v.changed()
}

// selectedIndex returns the position of the selected row, selecting
// the first row if nothing valid is selected.
func (v *Viewer) selectedIndex(rows []*coordinator.Row) int {
	for i, r := range rows {
		if r.ID() == v.selected {
			return i
		}
	}
	if len(rows) > 0 {
		v.selected = rows[0].ID()
	}
	return 0
}

func (v *Viewer) selectedID() string {
	rows := v.coord.Rows()
	v.lock.Lock()
	defer v.lock.Unlock()
	v.selectedIndex(rows)
	return v.selected
}

func (v *Viewer) moveSelection(n int) {
	rows := v.coord.Rows()
	if len(rows) == 0 {
		return
	}
	v.lock.Lock()
	defer v.lock.Unlock()
	i := v.selectedIndex(rows) + n
	if i < 0 {
		i = 0
	} else if i >= len(rows) {
		i = len(rows) - 1
	}
	v.selected = rows[i].ID()
}

func (v *Viewer) setStatus(s string) {
	v.lock.Lock()
	v.status = s
	v.lock.Unlock()
	v.changed()
}

func (v *Viewer) gesture(name string, f func() error) {
	v.do(func() {
		if err := f(); err != nil {
			v.setStatus(fmt.Sprintf("%s: %v", name, err))
		}
	})
}

// stepGranularity returns the granularity n steps finer (negative) or
// coarser (positive) than g, stopping at either end.
func stepGranularity(g series.Granularity, n int) series.Granularity {
	all := series.Granularities()
	for i, x := range all {
		if x == g {
			i += n
			if i < 0 {
				i = 0
			} else if i >= len(all) {
				i = len(all) - 1
			}
			return all[i]
		}
	}
	return g
}

// handleKey acts on a key press, it returns true to quit.
func (v *Viewer) handleKey(ctx context.Context, key string) bool {
	c := v.coord
	bar := c.Granularity().BarWidth()
	// the terminal has no widget of its own to skip, all rows redraw
	pan := func(d time.Duration) {
		v.gesture("pan", func() error { return c.OnPan(ctx, d, nil) })
	}
	zoom := func(n int) {
		g := stepGranularity(c.Granularity(), n)
		v.gesture("granularity", func() error { return c.OnGranularityChange(ctx, g) })
	}

	switch key {
	case "q", "<C-c>":
		return true
	case "h", "<Left>":
		pan(-bar)
	case "l", "<Right>":
		pan(bar)
	case "H":
		view := c.View()
		pan(-view.End.Sub(view.Start) / 2)
	case "L":
		view := c.View()
		pan(view.End.Sub(view.Start) / 2)
	case "+", "=":
		zoom(-1)
	case "-", "_":
		zoom(1)
	case "j", "<Down>":
		v.moveSelection(1)
		v.changed()
	case "k", "<Up>":
		v.moveSelection(-1)
		v.changed()
	case "<Enter>":
		id := v.selectedID()
		v.gesture("click", func() error { return c.Click(ctx, id) })
	case "r":
		v.gesture("refresh", func() error { return c.Refresh(ctx) })
	}
	return false
}

func values(points []series.Point) []float64 {
	result := make([]float64, len(points))
	for i, p := range points {
		if !math.IsNaN(p.Value) && p.Value > 0 {
			result[i] = p.Value
		}
	}
	return result
}

func maxValue(data ...float64) float64 {
	result := 0.0
	for _, d := range data {
		if d > result {
			result = d
		}
	}
	return result
}

func rowTitle(r *coordinator.Row, tr *termRow) string {
	indent := ""
	switch r.Kind() {
	case coordinator.MetricRow:
		indent = "  "
	case coordinator.DetailRow:
		indent = "    "
	}
	if tr == nil || len(tr.points) == 0 {
		return indent + r.ID()
	}
	last := tr.points[len(tr.points)-1]
	return fmt.Sprintf("%s%s %.4g", indent, r.ID(), last.Value)
}

// widgets builds one sparkline group per row plus a status line,
// stacked to fill width x height.
func (v *Viewer) widgets(width, height int) []ui.Drawable {
	rows := v.coord.Rows()
	view := v.coord.View()

	v.lock.Lock()
	defer v.lock.Unlock()

	status := widgets.NewParagraph()
	status.Border = false
	status.Text = fmt.Sprintf("%s  %v  %s", view, v.coord.Granularity(), v.status)
	status.SetRect(0, height-1, width, height)
	result := []ui.Drawable{status}
	if len(rows) == 0 {
		return result
	}

	sel := v.selectedIndex(rows)
	h := (height - 1) / len(rows)
	if h < 3 {
		h = 3
	}
	for i, r := range rows {
		if (i+1)*h > height-1 {
			break
		}
		tr := v.rows[r.ID()]
		sl := widgets.NewSparkline()
		sl.LineColor = ui.ColorCyan
		if r.Kind() == coordinator.DetailRow {
			sl.LineColor = ui.ColorMagenta
		}
		if tr != nil {
			sl.Data = values(tr.points)
		}
		if maxValue(sl.Data...) <= 0 {
			sl.MaxVal = 1
		}
		group := widgets.NewSparklineGroup(sl)
		group.Title = rowTitle(r, tr)
		if i == sel {
			group.BorderStyle.Fg = ui.ColorYellow
			group.TitleStyle.Fg = ui.ColorYellow
		}
		group.SetRect(0, i*h, width, (i+1)*h)
		result = append(result, group)
	}
	return result
}

func (v *Viewer) render() {
	width, height := ui.TerminalDimensions()
	ui.Clear()
	ui.Render(v.widgets(width, height)...)
}

// Run takes over the terminal until q is pressed or ctx is done.
func (v *Viewer) Run(ctx context.Context) error {
	if v.coord == nil {
		return fmt.Errorf("viewer not attached to a coordinator")
	}
	if err := ui.Init(); err != nil {
		return fmt.Errorf("failed to initialize termui: %v", err)
	}
	defer ui.Close()

	v.render()
	uiEvents := ui.PollEvents()
	for {
		select {
		case <-ctx.Done():
			return nil
		case e := <-uiEvents:
			if e.Type == ui.ResizeEvent {
				v.render()
				continue
			}
			if e.Type != ui.KeyboardEvent {
				continue
			}
			if v.handleKey(ctx, e.ID) {
				return nil
			}
		case <-v.dirty:
			v.render()
		}
	}
}
