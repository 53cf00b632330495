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

// Package fetcher decides when a series needs more data and reconciles
// whatever the data source returns into the series.
//
// Every series is either idle or fetching. While a fetch for a series
// is in flight any further trigger for that same series is a no-op: it
// is not queued, the caller simply gets started == false. Fetches for
// different series may run concurrently.
//
// A failed fetch leaves the series exactly as it was and clears the
// in-flight flag, so the next trigger retries.
package fetcher

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/tgres/tgview/serde"
	"github.com/tgres/tgview/series"
	"golang.org/x/time/rate"
)

// Maximum number of concurrent fetches issued by FetchAll.
const BATCH_LIMIT = 64

const (
	DefaultTimeout         = 30 * time.Second
	DefaultScrollFetchBars = 2
)

var ErrNotLoaded = errors.New("series has not been loaded")

// FetchError is a data source failure. The series it was meant for was
// not modified.
type FetchError struct {
	SeriesID string
	Range    series.TimeRange
	Err      error
}

func (e *FetchError) Error() string {
	return fmt.Sprintf("fetching %q %v: %v", e.SeriesID, e.Range, e.Err)
}

func (e *FetchError) Unwrap() error {
	return e.Err
}

type Fetcher struct {
	src     serde.DataSource
	limiter *rate.Limiter

	// Returns the current time, replaceable for testing.
	Now func() time.Time
	// A fetch not completed within Timeout fails with
	// context.DeadlineExceeded. Zero means no timeout.
	Timeout time.Duration
	// How many bars of history a scroll toward the past fetches.
	ScrollFetchBars int

	lock     sync.Mutex
	inflight map[*series.Series]bool
}

func New(src serde.DataSource) *Fetcher {
	return &Fetcher{
		src:             src,
		Now:             time.Now,
		Timeout:         DefaultTimeout,
		ScrollFetchBars: DefaultScrollFetchBars,
		inflight:        make(map[*series.Series]bool),
	}
}

// SetRateLimit limits the number of fetches issued per second across
// all series. Zero or less removes the limit.
func (f *Fetcher) SetRateLimit(perSecond int) {
	if perSecond > 0 {
		f.limiter = rate.NewLimiter(rate.Limit(perSecond), perSecond)
	} else {
		f.limiter = nil
	}
}

// Fetching reports whether a fetch for s is in flight.
func (f *Fetcher) Fetching(s *series.Series) bool {
	f.lock.Lock()
	defer f.lock.Unlock()
	return f.inflight[s]
}

func (f *Fetcher) begin(s *series.Series) bool {
	f.lock.Lock()
	defer f.lock.Unlock()
	if f.inflight[s] {
		return false
	}
	f.inflight[s] = true
	return true
}

func (f *Fetcher) end(s *series.Series) {
	f.lock.Lock()
	defer f.lock.Unlock()
	delete(f.inflight, s)
}

type fetchResult struct {
	points []series.Point
	err    error
}

func (f *Fetcher) fetch(ctx context.Context, trigger, id string, r series.TimeRange) ([]series.Point, error) {
	if f.limiter != nil {
		if err := f.limiter.Wait(ctx); err != nil {
			fetchTotal.WithLabelValues(trigger, "error").Inc()
			return nil, &FetchError{SeriesID: id, Range: r, Err: err}
		}
	}
	if f.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, f.Timeout)
		defer cancel()
	}

	start := time.Now()
	// The source may not honor ctx, so the fetch runs separately and an
	// expired ctx abandons it. A late result is dropped.
	ch := make(chan fetchResult, 1)
	go func() {
		points, err := f.src.FetchPoints(ctx, id, r.Start, r.End)
		ch <- fetchResult{points, err}
	}()

	var res fetchResult
	select {
	case res = <-ch:
	case <-ctx.Done():
		res.err = ctx.Err()
	}
	fetchDuration.WithLabelValues(trigger).Observe(time.Since(start).Seconds())

	if res.err != nil {
		fetchTotal.WithLabelValues(trigger, "error").Inc()
		return nil, &FetchError{SeriesID: id, Range: r, Err: res.err}
	}
	fetchTotal.WithLabelValues(trigger, "ok").Inc()
	fetchedPoints.Add(float64(len(res.points)))
	return res.points, nil
}

// Load performs the initial fetch of r and replaces whatever s held.
// The DataWindow of s becomes r.
func (f *Fetcher) Load(ctx context.Context, s *series.Series, r series.TimeRange) (started bool, err error) {
	if _, err := r.Width(); err != nil {
		return false, err
	}
	if !f.begin(s) {
		return false, nil
	}
	defer f.end(s)

	points, err := f.fetch(ctx, "load", s.ID(), r)
	if err != nil {
		return true, err
	}
	if err := s.Reload(points, r); err != nil {
		log.Printf("Load(): %q: discarding fetch: %v", s.ID(), err)
		return true, err
	}
	return true, nil
}

// OlderRange is the range FetchOlder requests for s at granularity g:
// ScrollFetchBars bars ending at the DataWindow start, reaching further
// back to viewStart if that is earlier. A zero viewStart is ignored.
func (f *Fetcher) OlderRange(s *series.Series, g series.Granularity, viewStart time.Time) series.TimeRange {
	end := s.DataWindow().Start
	start := end.Add(-time.Duration(f.ScrollFetchBars) * g.BarWidth())
	if !viewStart.IsZero() && viewStart.Before(start) {
		start = viewStart
	}
	return series.TimeRange{Start: start, End: end}
}

// FetchOlder extends s into the past by ScrollFetchBars bars of g,
// ending at the current DataWindow start.
func (f *Fetcher) FetchOlder(ctx context.Context, s *series.Series, g series.Granularity) (started bool, err error) {
	return f.FetchOlderTo(ctx, s, g, time.Time{})
}

// FetchOlderTo is FetchOlder for a view starting at viewStart. A pan may
// jump many bars past the DataWindow start, in which case everything
// back to viewStart is fetched at once.
func (f *Fetcher) FetchOlderTo(ctx context.Context, s *series.Series, g series.Granularity, viewStart time.Time) (started bool, err error) {
	if !s.Loaded() {
		return false, ErrNotLoaded
	}
	if !f.begin(s) {
		return false, nil
	}
	defer f.end(s)

	r := f.OlderRange(s, g, viewStart)
	return true, f.prepend(ctx, "older", s, r)
}

// FetchGap fetches [from, DataWindow.Start] if from precedes the
// DataWindow. Nothing is fetched otherwise.
func (f *Fetcher) FetchGap(ctx context.Context, s *series.Series, from time.Time) (started bool, err error) {
	if !s.Loaded() {
		return false, ErrNotLoaded
	}
	if !from.Before(s.DataWindow().Start) {
		return false, nil
	}
	if !f.begin(s) {
		return false, nil
	}
	defer f.end(s)

	r := series.TimeRange{Start: from, End: s.DataWindow().Start}
	return true, f.prepend(ctx, "gap", s, r)
}

func (f *Fetcher) prepend(ctx context.Context, trigger string, s *series.Series, r series.TimeRange) error {
	points, err := f.fetch(ctx, trigger, s.ID(), r)
	if err != nil {
		return err
	}
	if err := s.Prepend(points); err != nil {
		log.Printf("prepend(): %q %v: discarding fetch: %v", s.ID(), r, err)
		return err
	}
	return nil
}

// Refresh fetches from the last known point (or the DataWindow end if
// there are no points) up to now, and appends the result.
func (f *Fetcher) Refresh(ctx context.Context, s *series.Series) (started bool, err error) {
	if !s.Loaded() {
		return false, ErrNotLoaded
	}
	if !f.begin(s) {
		return false, nil
	}
	defer f.end(s)

	from := s.DataWindow().End
	if last, ok := s.Last(); ok {
		from = last.T
	}
	now := f.Now()
	if now.Before(from) {
		return true, nil
	}
	r := series.TimeRange{Start: from, End: now}
	points, err := f.fetch(ctx, "refresh", s.ID(), r)
	if err != nil {
		return true, err
	}
	if err := s.Append(points, now); err != nil {
		log.Printf("Refresh(): %q %v: discarding fetch: %v", s.ID(), r, err)
		return true, err
	}
	return true, nil
}

// Trigger is one of the Fetcher methods bound to its arguments except
// for the series.
type Trigger func(ctx context.Context, s *series.Series) (started bool, err error)

// FetchAll runs trigger for every series concurrently and returns once
// all of them completed. The errors of all failed fetches are joined.
func FetchAll(ctx context.Context, list []*series.Series, trigger Trigger) (started int, err error) {
	var (
		wg   sync.WaitGroup
		lock sync.Mutex
		errs []error
	)
	batchSize := 0
	for _, s := range list {
		wg.Add(1)
		batchSize++
		go func(s *series.Series) {
			defer wg.Done()
			ok, err := trigger(ctx, s)
			lock.Lock()
			defer lock.Unlock()
			if ok {
				started++
			}
			if err != nil {
				errs = append(errs, err)
			}
		}(s)
		if batchSize >= BATCH_LIMIT {
			wg.Wait()
			batchSize = 0
		}
	}
	wg.Wait()
	return started, errors.Join(errs...)
}
