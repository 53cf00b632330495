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

// Package http serves the chart rows to browsers: a websocket through
// which redraws are pushed and gestures received, plus a few plain
// JSON endpoints.
package http

import (
	"compress/gzip"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"runtime"
	"strconv"
	"strings"
	"time"

	"github.com/shirou/gopsutil/cpu"
	"github.com/tgres/tgview/coordinator"
	"github.com/tgres/tgview/misc"
	"github.com/tgres/tgview/serde"
	"github.com/tgres/tgview/series"
)

var timeNow = func() time.Time { return time.Now() }

func PingHandler(w http.ResponseWriter, r *http.Request) {
	fmt.Fprintf(w, "OK\n")
}

type jsonRow struct {
	ID     string  `json:"id"`
	Kind   string  `json:"kind"`
	Parent string  `json:"parent,omitempty"`
	Loaded bool    `json:"loaded"`
	Points int     `json:"points"`
	Window *wsView `json:"window,omitempty"`
}

type jsonStatus struct {
	View        *wsView   `json:"view"`
	Granularity string    `json:"granularity"`
	AutoScroll  bool      `json:"auto_scroll"`
	Rows        []jsonRow `json:"rows"`
	CacheHits   int64     `json:"cache_hits"`
	CacheMisses int64     `json:"cache_misses"`
	CpuPercent  float64   `json:"cpu_percent"`
	MemAlloc    uint64    `json:"mem_alloc"`
	Goroutines  int       `json:"goroutines"`
}

func runtimeMemory() uint64 {
	var mem runtime.MemStats
	runtime.ReadMemStats(&mem)
	return mem.Alloc
}

func runtimeCpuPercent() float64 {
	ps, _ := cpu.Percent(0, false)
	if len(ps) > 0 {
		return ps[0]
	}
	return 0
}

// StatusHandler reports the shared view, the rows and some runtime
// stats. cache may be nil.
func StatusHandler(coord *coordinator.Coordinator, cache *serde.Cached) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		status := jsonStatus{
			View:        jsonView(coord.View()),
			Granularity: coord.Granularity().String(),
			AutoScroll:  coord.AutoScroll(),
			Rows:        []jsonRow{},
			CpuPercent:  runtimeCpuPercent(),
			MemAlloc:    runtimeMemory(),
			Goroutines:  runtime.NumGoroutine(),
		}
		for _, row := range coord.Rows() {
			s := row.Series()
			jr := jsonRow{ID: row.ID(), Kind: row.Kind().String(), Parent: row.Parent(), Loaded: s.Loaded(), Points: s.Len()}
			if jr.Loaded {
				jr.Window = jsonView(s.DataWindow())
			}
			status.Rows = append(status.Rows, jr)
		}
		if cache != nil {
			status.CacheHits, status.CacheMisses = cache.Stats()
		}
		w.Header().Set("Content-Type", "application/json")
		if err := json.NewEncoder(w).Encode(&status); err != nil {
			log.Printf("StatusHandler(): %v", err)
		}
	}
}

type jsonSeries struct {
	ID     string    `json:"id"`
	From   int64     `json:"from"`
	Until  int64     `json:"until"`
	Points []wsPoint `json:"points"`
}

// SeriesHandler returns the points of one series, Graphite render
// style: /series?id=foo.bar&from=-1d&until=now. If a row holds the
// whole range it is answered from memory, otherwise from src.
func SeriesHandler(coord *coordinator.Coordinator, src serde.DataSource) http.HandlerFunc {
	return makeGzipHandler(func(w http.ResponseWriter, r *http.Request) {
		id := r.FormValue("id")
		if id == "" {
			http.Error(w, "id parameter required", http.StatusBadRequest)
			return
		}
		from, err := parseTime(r.FormValue("from"))
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		until, err := parseTime(r.FormValue("until"))
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}

		now := timeNow()
		if until == nil {
			until = &now
		}
		if from == nil {
			f := until.Add(-24 * time.Hour)
			from = &f
		}
		tr, err := series.NewTimeRange(*from, *until)
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}

		var points []series.Point
		if row := coord.Row(id); row != nil && row.Series().Loaded() &&
			row.Series().DataWindow().Contains(tr.Start) && row.Series().DataWindow().Contains(tr.End) {
			points = row.Series().Slice(tr)
		} else if points, err = src.FetchPoints(r.Context(), id, tr.Start, tr.End); err != nil {
			log.Printf("SeriesHandler(): %q: %v", id, err)
			http.Error(w, err.Error(), http.StatusBadGateway)
			return
		}

		w.Header().Set("Content-Type", "application/json")
		result := jsonSeries{ID: id, From: tr.Start.Unix(), Until: tr.End.Unix(), Points: jsonPoints(points)}
		if err := json.NewEncoder(w).Encode(&result); err != nil {
			log.Printf("SeriesHandler(): %v", err)
		}
	})
}

// parseTime accepts a Unix time, "now" or a duration relative to now
// such as "-2h" or "-1w". Empty input yields nil.
func parseTime(s string) (*time.Time, error) {

	if len(s) == 0 {
		return nil, nil
	}

	if s[0] == '-' { // relative
		if dur, err := misc.BetterParseDuration(s[1:]); err == nil {
			t := timeNow().Add(-dur)
			return &t, nil
		} else {
			return nil, fmt.Errorf("parseTime(): Error parsing relative time %q: %v", s, err)
		}
	} else { // absolute
		if s == "now" {
			t := timeNow()
			return &t, nil
		} else if i, err := strconv.ParseInt(s, 10, 64); err == nil {
			t := time.Unix(i, 0)
			return &t, nil
		} else {
			return nil, fmt.Errorf("parseTime(): Error parsing absolute time %q: %v", s, err)
		}
	}
}

type gzipResponseWriter struct {
	io.Writer
	http.ResponseWriter
}

func (w gzipResponseWriter) Write(b []byte) (int, error) {
	return w.Writer.Write(b)
}

func makeGzipHandler(fn http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if !strings.Contains(r.Header.Get("Accept-Encoding"), "gzip") {
			fn(w, r)
			return
		}
		w.Header().Set("Content-Encoding", "gzip")
		gz := gzip.NewWriter(w)
		defer gz.Close()
		gzr := gzipResponseWriter{Writer: gz, ResponseWriter: w}
		fn(gzr, r)
	}
}
