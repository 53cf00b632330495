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

package http

import (
	"compress/gzip"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/tgres/tgview/coordinator"
	"github.com/tgres/tgview/fetcher"
	"github.com/tgres/tgview/serde"
	"github.com/tgres/tgview/series"
)

var d0 = time.Date(2016, 6, 1, 0, 0, 0, 0, time.UTC)

// testCoordinator has rows "web1" and "web1.cpu" over 48 hourly points
// ending at d0.
func testCoordinator(t *testing.T, renderer coordinator.Renderer) (*coordinator.Coordinator, *fetcher.Fetcher) {
	src := serde.NewMemSource()
	src.AddInstance("web1", "web1.cpu")
	for i := 0; i <= 48; i++ {
		src.Insert("web1.cpu", series.Point{T: d0.Add(time.Duration(i-48) * time.Hour), Value: float64(i)})
	}
	src.Insert("web1", series.Point{T: d0, Value: 1})
	f := fetcher.New(src)
	f.Now = func() time.Time { return d0 }
	c := coordinator.New(f, renderer, coordinator.Config{DisplayBars: 24, Granularity: series.Hourly})
	c.Lister = src
	ctx := context.Background()
	if _, err := c.AddRow(ctx, coordinator.InstanceRow, "web1"); err != nil {
		t.Fatal(err)
	}
	if _, err := c.AddRow(ctx, coordinator.MetricRow, "web1.cpu"); err != nil {
		t.Fatal(err)
	}
	return c, f
}

func Test_parseTime(t *testing.T) {
	saved := timeNow
	defer func() { timeNow = saved }()
	timeNow = func() time.Time { return d0 }

	if tm, err := parseTime(""); tm != nil || err != nil {
		t.Errorf("parseTime(\"\") = %v, %v", tm, err)
	}
	if tm, _ := parseTime("now"); !tm.Equal(d0) {
		t.Errorf("parseTime(now) = %v", tm)
	}
	if tm, _ := parseTime("-2d"); !tm.Equal(d0.Add(-48 * time.Hour)) {
		t.Errorf("parseTime(-2d) = %v", tm)
	}
	if tm, _ := parseTime("1464739200"); !tm.Equal(d0) {
		t.Errorf("parseTime(1464739200) = %v", tm)
	}
	for _, s := range []string{"-x", "yesterday"} {
		if _, err := parseTime(s); err == nil {
			t.Errorf("parseTime(%q) did not fail", s)
		}
	}
}

func Test_SeriesHandler(t *testing.T) {
	saved := timeNow
	defer func() { timeNow = saved }()
	timeNow = func() time.Time { return d0 }

	c, _ := testCoordinator(t, nil)
	src := serde.NewMemSource()
	src.Insert("other", series.Point{T: d0.Add(-time.Hour), Value: 7})
	h := SeriesHandler(c, src)

	// from memory
	req := httptest.NewRequest("GET", "/series?id=web1.cpu&from=-5h&until=now", nil)
	w := httptest.NewRecorder()
	h(w, req)
	var result jsonSeries
	if err := json.NewDecoder(w.Body).Decode(&result); err != nil {
		t.Fatal(err)
	}
	if len(result.Points) != 6 || result.Points[5].V != 48 {
		t.Errorf("series from memory: %+v", result)
	}

	// from the source, gzipped
	req = httptest.NewRequest("GET", "/series?id=other", nil)
	req.Header.Set("Accept-Encoding", "gzip")
	w = httptest.NewRecorder()
	h(w, req)
	if w.Header().Get("Content-Encoding") != "gzip" {
		t.Fatalf("response not gzipped")
	}
	gz, err := gzip.NewReader(w.Body)
	if err != nil {
		t.Fatal(err)
	}
	result = jsonSeries{}
	if err := json.NewDecoder(gz).Decode(&result); err != nil {
		t.Fatal(err)
	}
	if len(result.Points) != 1 || result.Points[0].V != 7 {
		t.Errorf("series from source: %+v", result)
	}

	for _, q := range []string{"", "?id=x&from=bogus", "?id=x&from=-1h&until=-2h"} {
		w = httptest.NewRecorder()
		h(w, httptest.NewRequest("GET", "/series"+q, nil))
		if w.Code != http.StatusBadRequest {
			t.Errorf("%q: status %d", q, w.Code)
		}
	}
}

func Test_StatusHandler(t *testing.T) {
	c, _ := testCoordinator(t, nil)
	w := httptest.NewRecorder()
	StatusHandler(c, nil)(w, httptest.NewRequest("GET", "/status", nil))

	var status jsonStatus
	if err := json.NewDecoder(w.Body).Decode(&status); err != nil {
		t.Fatal(err)
	}
	if len(status.Rows) != 2 || status.Rows[1].ID != "web1.cpu" || status.Rows[1].Kind != "metric" {
		t.Errorf("rows = %+v", status.Rows)
	}
	if status.Granularity != "hourly" || !status.AutoScroll || status.MemAlloc == 0 {
		t.Errorf("status = %+v", status)
	}
}

func Test_PingHandler(t *testing.T) {
	w := httptest.NewRecorder()
	PingHandler(w, httptest.NewRequest("GET", "/ping", nil))
	if !strings.HasPrefix(w.Body.String(), "OK") {
		t.Errorf("ping: %q", w.Body.String())
	}
}
