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

// Package coordinator keeps a set of stacked chart rows showing the same
// time window.
//
// There is one shared ViewWindow and one Granularity. Pan and
// granularity gestures from any row update the shared state, make sure
// the data needed to draw it is present, and then broadcast the result
// to every row. A broadcast that requires fetching is held back until
// all fetches have completed, so a row never draws a window with a gap
// at its edge.
//
// Only one reconciliation (fetch plus broadcast) runs at a time.
// Gestures which arrive while one is in flight are coalesced: pan
// deltas are summed, the last granularity wins, and they are applied
// once the running reconciliation completes. Structural changes (adding
// rows, drill-down, SetView) wait for their turn instead.
package coordinator

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/tgres/tgview/fetcher"
	"github.com/tgres/tgview/serde"
	"github.com/tgres/tgview/series"
)

const (
	DefaultDisplayBars = 120
	DefaultStickyEdge  = 0.01
)

var (
	ErrNoSuchRow = errors.New("no such row")
	ErrNoLister  = errors.New("data source cannot list instance metrics")
)

type Config struct {
	// Width of the view, in bars.
	DisplayBars int
	Granularity series.Granularity
	// The view never starts before LowerBound, unless it is zero.
	LowerBound time.Time
	// A pan ending within this fraction of the view width from the
	// right edge of the data re-engages auto-scroll.
	StickyEdge float64
}

type Coordinator struct {
	fetcher  *fetcher.Fetcher
	renderer Renderer
	cfg      Config

	// Optional. Receives errors meant for the user.
	Notifier Notifier
	// Optional. Needed to drill down into instance rows.
	Lister serde.MetricLister

	lock         sync.Mutex
	idle         *sync.Cond
	busy         bool
	pendingDelta time.Duration
	pendingGran  *series.Granularity

	rows       []*Row
	view       series.TimeRange
	gran       series.Granularity
	autoScroll bool
}

// New returns a coordinator whose view ends now and spans DisplayBars
// bars of the configured granularity. The fetcher's clock is used as
// the notion of now.
func New(f *fetcher.Fetcher, renderer Renderer, cfg Config) *Coordinator {
	if cfg.DisplayBars <= 0 {
		cfg.DisplayBars = DefaultDisplayBars
	}
	if cfg.StickyEdge <= 0 {
		cfg.StickyEdge = DefaultStickyEdge
	}
	c := &Coordinator{
		fetcher:    f,
		renderer:   renderer,
		cfg:        cfg,
		gran:       cfg.Granularity,
		autoScroll: true,
	}
	c.idle = sync.NewCond(&c.lock)
	now := c.now()
	c.view = c.clamp(series.TimeRange{Start: now.Add(-c.width(c.gran)), End: now})
	return c
}

func (c *Coordinator) now() time.Time {
	return c.fetcher.Now()
}

func (c *Coordinator) width(g series.Granularity) time.Duration {
	return time.Duration(c.cfg.DisplayBars) * g.BarWidth()
}

func (c *Coordinator) View() series.TimeRange {
	c.lock.Lock()
	defer c.lock.Unlock()
	return c.view
}

func (c *Coordinator) Granularity() series.Granularity {
	c.lock.Lock()
	defer c.lock.Unlock()
	return c.gran
}

func (c *Coordinator) AutoScroll() bool {
	c.lock.Lock()
	defer c.lock.Unlock()
	return c.autoScroll
}

// Row returns the row with the given id or nil.
func (c *Coordinator) Row(id string) *Row {
	c.lock.Lock()
	defer c.lock.Unlock()
	return c.findRow(id)
}

func (c *Coordinator) findRow(id string) *Row {
	for _, r := range c.rows {
		if r.id == id {
			return r
		}
	}
	return nil
}

// Rows returns the rows in display order.
func (c *Coordinator) Rows() []*Row {
	c.lock.Lock()
	defer c.lock.Unlock()
	return append([]*Row(nil), c.rows...)
}

// Frame is what one row currently draws.
type Frame struct {
	RowID  string
	Points []series.Point
}

// Snapshot is the whole display at one moment.
type Snapshot struct {
	View        series.TimeRange
	Granularity series.Granularity
	Frames      []Frame
}

// Snapshot passes fn what every row draws for the current view, in
// display order. It waits for a running reconciliation to finish and
// redraws nothing, so it can bring a new display up to date without
// disturbing existing ones. No broadcast happens while fn runs.
// Errors are those of gestures coalesced meanwhile.
func (c *Coordinator) Snapshot(ctx context.Context, fn func(Snapshot)) error {
	c.acquire()
	c.lock.Lock()
	snap := Snapshot{View: c.view, Granularity: c.gran}
	rows := append([]*Row(nil), c.rows...)
	c.lock.Unlock()
	for _, r := range rows {
		snap.Frames = append(snap.Frames, Frame{RowID: r.id, Points: r.format(r.series.Slice(snap.View), r.gran)})
	}
	fn(snap)
	return c.release(ctx)
}

// tryAcquire takes the reconciliation gate if it is free.
func (c *Coordinator) tryAcquire() bool {
	c.lock.Lock()
	defer c.lock.Unlock()
	if c.busy {
		return false
	}
	c.busy = true
	return true
}

// acquire waits for the reconciliation gate.
func (c *Coordinator) acquire() {
	c.lock.Lock()
	defer c.lock.Unlock()
	for c.busy {
		c.idle.Wait()
	}
	c.busy = true
}

// release applies any coalesced gestures, then frees the gate.
func (c *Coordinator) release(ctx context.Context) error {
	var errs []error
	for {
		c.lock.Lock()
		delta, gran := c.pendingDelta, c.pendingGran
		c.pendingDelta, c.pendingGran = 0, nil
		if delta == 0 && gran == nil {
			c.busy = false
			c.idle.Broadcast()
			c.lock.Unlock()
			return errors.Join(errs...)
		}
		c.lock.Unlock()

		if gran != nil {
			errs = append(errs, c.changeGranularity(ctx, *gran))
		}
		if delta != 0 {
			errs = append(errs, c.pan(ctx, delta, nil))
		}
	}
}

func (c *Coordinator) report(err error) {
	if err == nil {
		return
	}
	log.Printf("coordinator: %v", err)
	if c.Notifier != nil {
		c.Notifier.Notify(err)
	}
}

// clamp keeps the view end at or before now and the start at or after
// LowerBound, preserving its width. Lower bound takes precedence.
func (c *Coordinator) clamp(v series.TimeRange) series.TimeRange {
	width := v.End.Sub(v.Start)
	if now := c.now(); v.End.After(now) {
		v = series.TimeRange{Start: now.Add(-width), End: now}
	}
	if lb := c.cfg.LowerBound; !lb.IsZero() && v.Start.Before(lb) {
		v = series.TimeRange{Start: lb, End: lb.Add(width)}
	}
	return v
}

// dataEnd is the right edge of the data held by the rows, or now if
// there is nothing loaded yet.
func dataEnd(rows []*Row, now time.Time) time.Time {
	var end time.Time
	for _, r := range rows {
		if !r.series.Loaded() {
			continue
		}
		if e := r.series.DataWindow().End; e.After(end) {
			end = e
		}
	}
	if end.IsZero() {
		return now
	}
	return end
}

// updateAutoScroll engages auto-scroll if the view ends within
// StickyEdge of the right edge of the data and disengages it otherwise.
// Must be called with the lock held.
func (c *Coordinator) updateAutoScroll() {
	edge := dataEnd(c.rows, c.now())
	slack := time.Duration(float64(c.view.End.Sub(c.view.Start)) * c.cfg.StickyEdge)
	c.autoScroll = !c.view.End.Before(edge.Add(-slack))
}

func loadedSeries(rows []*Row) []*series.Series {
	result := make([]*series.Series, 0, len(rows))
	for _, r := range rows {
		if r.series.Loaded() {
			result = append(result, r.series)
		}
	}
	return result
}

func broadcastData(rows []*Row, view series.TimeRange) {
	for _, r := range rows {
		r.SetData(r.series.Slice(view), view)
	}
}

// OnPan moves the shared view by delta (negative is toward the past).
// source is the widget the gesture came from, it already shows the new
// window and is not sent a redraw unless its data changed. source may
// be nil.
//
// If the pan takes the view start within one bar of the DataWindow
// start of any series, older data is fetched for all such series, back
// to the new view start if the pan went past the DataWindow, and the
// broadcast waits for it. A fetch error is returned and reported to
// the Notifier, the rows keep showing what they have.
func (c *Coordinator) OnPan(ctx context.Context, delta time.Duration, source Widget) error {
	if delta == 0 {
		return nil
	}
	c.lock.Lock()
	if c.busy {
		c.pendingDelta += delta
		c.lock.Unlock()
		return nil
	}
	c.busy = true
	c.lock.Unlock()

	err := c.pan(ctx, delta, source)
	return errors.Join(err, c.release(ctx))
}

func (c *Coordinator) pan(ctx context.Context, delta time.Duration, source Widget) error {
	c.lock.Lock()
	c.view = c.clamp(c.view.Shift(delta))
	c.updateAutoScroll()
	view, gran := c.view, c.gran
	rows := append([]*Row(nil), c.rows...)
	c.lock.Unlock()

	var near []*series.Series
	if delta < 0 {
		for _, s := range loadedSeries(rows) {
			if view.Start.Sub(s.DataWindow().Start) < gran.BarWidth() {
				near = append(near, s)
			}
		}
	}

	if len(near) == 0 {
		for _, r := range rows {
			if source != nil && r.id == source.ID() {
				continue
			}
			r.SetWindow(view)
		}
		return nil
	}

	_, err := fetcher.FetchAll(ctx, near, func(ctx context.Context, s *series.Series) (bool, error) {
		return c.fetcher.FetchOlderTo(ctx, s, gran, view.Start)
	})
	c.report(err)
	broadcastData(rows, view)
	return err
}

// OnGranularityChange switches all rows to g. The view becomes
// DisplayBars bars of g wide, keeping its right edge, or ending now if
// auto-scrolling. Data missing at the start of the new view is fetched
// before anything is redrawn.
func (c *Coordinator) OnGranularityChange(ctx context.Context, g series.Granularity) error {
	c.lock.Lock()
	if c.busy {
		c.pendingGran = &g
		c.lock.Unlock()
		return nil
	}
	c.busy = true
	c.lock.Unlock()

	err := c.changeGranularity(ctx, g)
	return errors.Join(err, c.release(ctx))
}

func (c *Coordinator) changeGranularity(ctx context.Context, g series.Granularity) error {
	c.lock.Lock()
	end := c.view.End
	if c.autoScroll {
		end = c.now()
	}
	c.view = c.clamp(series.TimeRange{Start: end.Add(-c.width(g)), End: end})
	c.gran = g
	for _, r := range c.rows {
		r.gran = g
	}
	view := c.view
	rows := append([]*Row(nil), c.rows...)
	c.lock.Unlock()

	err := c.fillGap(ctx, rows, view)
	broadcastData(rows, view)
	return err
}

func (c *Coordinator) fillGap(ctx context.Context, rows []*Row, view series.TimeRange) error {
	var gap []*series.Series
	for _, s := range loadedSeries(rows) {
		if view.Start.Before(s.DataWindow().Start) {
			gap = append(gap, s)
		}
	}
	if len(gap) == 0 {
		return nil
	}
	_, err := fetcher.FetchAll(ctx, gap, func(ctx context.Context, s *series.Series) (bool, error) {
		return c.fetcher.FetchGap(ctx, s, view.Start)
	})
	c.report(err)
	return err
}

// SetView jumps to an arbitrary view, e.g. one restored from a saved
// dashboard. The width of v is kept even if it does not match the
// granularity.
func (c *Coordinator) SetView(ctx context.Context, v series.TimeRange) error {
	if _, err := v.Width(); err != nil {
		return err
	}
	c.acquire()

	c.lock.Lock()
	c.view = c.clamp(v)
	c.updateAutoScroll()
	view := c.view
	rows := append([]*Row(nil), c.rows...)
	c.lock.Unlock()

	err := c.fillGap(ctx, rows, view)
	broadcastData(rows, view)
	return errors.Join(err, c.release(ctx))
}

// Refresh polls for newer data for every row. If the view was stuck to
// the right edge of the data it slides forward by however much the
// data grew. Rows whose initial load failed are loaded again. A refresh
// requested while another reconciliation is in flight is skipped.
func (c *Coordinator) Refresh(ctx context.Context) error {
	if !c.tryAcquire() {
		return nil
	}

	c.lock.Lock()
	rows := append([]*Row(nil), c.rows...)
	before := dataEnd(rows, c.now())
	aligned := c.autoScroll || !c.view.End.Before(before)
	load := c.loadRange()
	c.lock.Unlock()

	list := make([]*series.Series, len(rows))
	for i, r := range rows {
		list[i] = r.series
	}
	_, err := fetcher.FetchAll(ctx, list, func(ctx context.Context, s *series.Series) (bool, error) {
		if !s.Loaded() {
			return c.fetcher.Load(ctx, s, load)
		}
		return c.fetcher.Refresh(ctx, s)
	})
	c.report(err)

	c.lock.Lock()
	after := dataEnd(rows, c.now())
	if aligned && after.After(c.view.End) {
		c.view = c.view.Shift(after.Sub(c.view.End))
		c.autoScroll = true
	}
	view := c.view
	c.lock.Unlock()

	broadcastData(rows, view)
	return errors.Join(err, c.release(ctx))
}

// Run calls Refresh every interval until ctx is done.
func (c *Coordinator) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.Refresh(ctx)
		}
	}
}

// loadRange is what a new row fetches initially: from the start of the
// view up to now. Must be called with the lock held.
func (c *Coordinator) loadRange() series.TimeRange {
	end := c.now()
	if c.view.End.After(end) {
		end = c.view.End
	}
	return series.TimeRange{Start: c.view.Start, End: end}
}

// AddRow appends a row for the series id, loads it for the current view
// and draws it. The row is added even if loading fails; it is retried
// on the next Refresh.
func (c *Coordinator) AddRow(ctx context.Context, kind RowKind, id string) (*Row, error) {
	c.acquire()
	rows, err := c.insertRows(ctx, nil, kind, []string{id})
	err = errors.Join(err, c.release(ctx))
	if len(rows) == 0 {
		return nil, err
	}
	return rows[0], err
}

// insertRows creates rows of kind for ids right after the row after (at
// the end if nil), initialized with the current view and granularity.
// Must be called holding the gate.
func (c *Coordinator) insertRows(ctx context.Context, after *Row, kind RowKind, ids []string) ([]*Row, error) {
	parent := ""
	if after != nil {
		parent = after.id
	}

	c.lock.Lock()
	var created []*Row
	for _, id := range ids {
		r := newRow(kind, id, parent, c.renderer, c.gran)
		if c.findRow(r.id) != nil {
			c.lock.Unlock()
			return nil, fmt.Errorf("row %q already exists", r.id)
		}
		created = append(created, r)
	}
	load := c.loadRange()
	c.lock.Unlock()

	list := make([]*series.Series, len(created))
	for i, r := range created {
		list[i] = r.series
	}
	_, err := fetcher.FetchAll(ctx, list, func(ctx context.Context, s *series.Series) (bool, error) {
		return c.fetcher.Load(ctx, s, load)
	})
	c.report(err)

	c.lock.Lock()
	pos := len(c.rows)
	if after != nil {
		for i, r := range c.rows {
			if r == after {
				pos = i + 1
				break
			}
		}
	}
	rows := make([]*Row, 0, len(c.rows)+len(created))
	rows = append(rows, c.rows[:pos]...)
	rows = append(rows, created...)
	rows = append(rows, c.rows[pos:]...)
	c.rows = rows
	view := c.view
	c.lock.Unlock()

	broadcastData(created, view)
	return created, err
}

// RemoveRow removes a row together with any rows opened from it. The
// series of removed rows are dropped.
func (c *Coordinator) RemoveRow(ctx context.Context, id string) error {
	c.acquire()
	var err error
	if c.Row(id) == nil {
		err = fmt.Errorf("%w: %q", ErrNoSuchRow, id)
	} else {
		c.removeTree(id)
	}
	return errors.Join(err, c.release(ctx))
}

func (c *Coordinator) removeTree(id string) {
	c.lock.Lock()
	remove := map[string]bool{id: true}
	// Children always follow their parent.
	for _, r := range c.rows {
		if remove[r.parent] {
			remove[r.id] = true
		}
	}
	kept := make([]*Row, 0, len(c.rows))
	var removed []*Row
	for _, r := range c.rows {
		if remove[r.id] {
			removed = append(removed, r)
		} else {
			kept = append(kept, r)
		}
	}
	c.rows = kept
	c.lock.Unlock()

	if rm, ok := c.renderer.(Remover); ok {
		for _, r := range removed {
			rm.Remove(r.id)
		}
	}
}

// Click performs the row's click behavior: instance rows expand into
// or collapse their metric rows, metric rows open or close a detail
// row.
func (c *Coordinator) Click(ctx context.Context, id string) error {
	c.acquire()
	var err error
	if r := c.Row(id); r == nil {
		err = fmt.Errorf("%w: %q", ErrNoSuchRow, id)
	} else if r.click != nil {
		err = r.click(ctx, c, r)
	}
	return errors.Join(err, c.release(ctx))
}

func (c *Coordinator) isExpanded(r *Row) bool {
	c.lock.Lock()
	defer c.lock.Unlock()
	return r.expanded
}

func (c *Coordinator) expand(ctx context.Context, r *Row) error {
	if c.Lister == nil {
		return ErrNoLister
	}
	ids, err := c.Lister.MetricIDs(ctx, r.series.ID())
	if err != nil {
		c.report(err)
		return err
	}
	if len(ids) == 0 {
		return nil
	}
	created, err := c.insertRows(ctx, r, MetricRow, ids)
	if len(created) > 0 {
		c.lock.Lock()
		r.expanded = true
		c.lock.Unlock()
	}
	return err
}

func (c *Coordinator) collapse(r *Row) {
	c.lock.Lock()
	var children []string
	for _, row := range c.rows {
		if row.parent == r.id {
			children = append(children, row.id)
		}
	}
	r.expanded = false
	c.lock.Unlock()

	for _, id := range children {
		c.removeTree(id)
	}
}
